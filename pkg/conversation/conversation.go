// Package conversation runs the control-plane loop: the session state
// machine, transport message pumping, watchdogs, and reconnection. It is
// the single owner of all session state; other goroutines observe it only
// through read-only snapshots.
package conversation

import (
	"context"
	"time"

	"github.com/hitony/voicegear/pkg/gateway"
)

// State is the conversation's current phase.
type State int32

// Conversation states.
const (
	StateIdle State = iota
	StateRecording
	StateSpeaking
	StateMusic
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateSpeaking:
		return "speaking"
	case StateMusic:
		return "music"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Session is an immutable snapshot of the conversation, published after
// every state change for observers (status display, metrics).
type Session struct {
	State      State
	ID         string
	Since      time.Time
	Reconnects uint64
	BinDropped uint64
}

// Gateway is the transport surface the loop drives. *gateway.Client
// implements it; tests substitute a fake.
type Gateway interface {
	Dial(ctx context.Context) error
	Close() error
	Connected() bool
	SendJSON(msg gateway.Message) error
	SendBinary(b []byte) error
}

// UpdateGate reports whether a firmware update transfer is in progress.
// A link loss during an update is expected (the device reboots into the
// new image) and must not trigger reconnection.
type UpdateGate interface {
	UpdateInProgress() bool
}

// Hooks are optional callbacks for server-driven device effects.
type Hooks struct {
	// Expression is called when the server requests a display emotion.
	Expression func(expr string, d time.Duration)
	// OTA is called when the server announces a firmware image.
	OTA func(version, url string)
	// Transcript is called with each recognized utterance.
	Transcript func(text string)
}

// Config tunes the control loop.
type Config struct {
	// DeviceID and Firmware identify the device in the session hello.
	DeviceID string
	Firmware string

	// PollInterval paces the loop when no traffic is pending.
	PollInterval time.Duration
	// ReconnectBase and ReconnectCap bound the exponential backoff.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	// RecordingWatchdog caps a recording from the control side.
	RecordingWatchdog time.Duration
	// SpeakingWatchdog aborts a response that stops delivering audio.
	SpeakingWatchdog time.Duration
	// ThinkingWatchdog bounds the wait for the server's first reaction
	// after an utterance is sent.
	ThinkingWatchdog time.Duration

	// DrainPolls is how many consecutive empty playback polls confirm
	// the response has fully played out.
	DrainPolls int
	// MusicFlagTTL clears a music-was-playing marker that never got its
	// resume.
	MusicFlagTTL time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:      10 * time.Millisecond,
		ReconnectBase:     3 * time.Second,
		ReconnectCap:      24 * time.Second,
		RecordingWatchdog: 15 * time.Second,
		SpeakingWatchdog:  8 * time.Second,
		ThinkingWatchdog:  10 * time.Second,
		DrainPolls:        10,
		MusicFlagTTL:      10 * time.Second,
	}
}
