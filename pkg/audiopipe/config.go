package audiopipe

import (
	"fmt"
	"time"
)

// Config tunes the pipeline. DefaultConfig mirrors the shipped appliance
// firmware; fields exist mostly so tests can shrink the time constants.
type Config struct {
	// FrameSamples is the per-channel sample count of one capture frame.
	FrameSamples int
	// PCMRingSize is the primary mic ring capacity in samples.
	PCMRingSize int
	// AuxRingSize is the secondary mic and echo-reference ring capacity.
	AuxRingSize int

	// MaxRecording is the hard cap on one recording.
	MaxRecording time.Duration
	// MinRecording is the shortest utterance worth keeping; anything
	// shorter is treated as a false trigger and discarded.
	MinRecording time.Duration
	// SilenceHold is how long the voice detector must stay quiet before
	// the utterance is considered finished.
	SilenceHold time.Duration
	// ThinkingTimeout bounds the wait for a response after an utterance.
	ThinkingTimeout time.Duration
	// WakeCooldown suppresses wake detections right after playback
	// starts, while echo cancellation is still converging.
	WakeCooldown time.Duration
	// PlaybackWait bounds the blocking pop for the next playback packet.
	PlaybackWait time.Duration

	// ZeroStreakLimit is how many consecutive all-zero front-end outputs
	// during playback indicate the echo canceller is eating the signal,
	// after which it is switched off for the session.
	ZeroStreakLimit int
	// Gain is the software gain applied to recorded samples, clamped to
	// the int16 range.
	Gain float32
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		FrameSamples:    256,
		PCMRingSize:     8192,
		AuxRingSize:     4096,
		MaxRecording:    10 * time.Second,
		MinRecording:    500 * time.Millisecond,
		SilenceHold:     800 * time.Millisecond,
		ThinkingTimeout: 15 * time.Second,
		WakeCooldown:    300 * time.Millisecond,
		PlaybackWait:    20 * time.Millisecond,
		ZeroStreakLimit: 50,
		Gain:            3,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.FrameSamples <= 0:
		return fmt.Errorf("audiopipe: FrameSamples must be positive, got %d", c.FrameSamples)
	case c.PCMRingSize <= c.FrameSamples:
		return fmt.Errorf("audiopipe: PCMRingSize %d must exceed FrameSamples %d", c.PCMRingSize, c.FrameSamples)
	case c.AuxRingSize <= c.FrameSamples:
		return fmt.Errorf("audiopipe: AuxRingSize %d must exceed FrameSamples %d", c.AuxRingSize, c.FrameSamples)
	case c.MaxRecording <= 0:
		return fmt.Errorf("audiopipe: MaxRecording must be positive")
	case c.ZeroStreakLimit <= 0:
		return fmt.Errorf("audiopipe: ZeroStreakLimit must be positive")
	case c.Gain <= 0:
		return fmt.Errorf("audiopipe: Gain must be positive")
	}
	return nil
}
