// Package audiopipe runs the real-time audio pipeline: capture, front-end
// processing, encoding, and playback, in one goroutine with cooperative
// phases. It communicates with the control loop only through bounded
// queues and event flags, so audio-side work never blocks on control-side
// work or the network.
package audiopipe

import (
	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/pipe"
)

// Mode is the pipeline's current activity.
type Mode int32

// Pipeline modes.
const (
	ModeIdle Mode = iota
	ModeRecording
	ModeThinking
	ModePlaying
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecording:
		return "recording"
	case ModeThinking:
		return "thinking"
	case ModePlaying:
		return "playing"
	}
	return "unknown"
}

// Command is a control-loop request to the pipeline.
type Command uint8

// Pipeline commands.
const (
	CmdStartRecording Command = iota
	CmdStopRecording
	CmdStartPlayback
	CmdStopPlayback
)

func (c Command) String() string {
	switch c {
	case CmdStartRecording:
		return "start_recording"
	case CmdStopRecording:
		return "stop_recording"
	case CmdStartPlayback:
		return "start_playback"
	case CmdStopPlayback:
		return "stop_playback"
	}
	return "unknown"
}

// Event flag bits shared between the pipeline and the control loop.
const (
	// EventWake: the front-end detected the wake word.
	EventWake uint32 = 1 << iota
	// EventVoiceEnd: the utterance ended on sustained silence.
	EventVoiceEnd
	// EventRecordingFull: recording hit its hard duration limit.
	EventRecordingFull
	// EventEncodeReady: at least one encoded packet was queued outbound.
	EventEncodeReady
	// EventTouchWake: the user woke the device by touch or button.
	EventTouchWake
)

// Result is one front-end fetch: processed samples plus detector state.
type Result struct {
	// PCM holds processed mono samples. May be empty when the front-end
	// produced only detector updates.
	PCM []int16
	// WakeWord is non-empty when the wake word fired in this window.
	WakeWord string
	// VoiceActive reports whether the detector currently hears speech.
	VoiceActive bool
	// Energy is the window's mean absolute amplitude, for level displays.
	Energy int
}

// Frontend is the acoustic front-end: echo cancellation, wake word, and
// voice activity detection. Feed accepts interleaved frames laid out per
// Channels (2 = mic/mic, 3 = mic/mic/reference); Fetch is non-blocking.
type Frontend interface {
	Feed(pcm []int16) error
	Fetch() (Result, bool)
	SetEchoCancel(on bool)
	SetWakeDetect(on bool)
	Channels() int
}

// Device is the capture/playback hardware. ReadFrame blocks until one
// interleaved stereo capture frame is available; WriteFrame blocks until
// the samples are queued to the output.
type Device interface {
	ReadFrame(dst []int16) (int, error)
	WriteFrame(pcm []int16) error
}

// Codec encodes capture audio and decodes playback packets at a fixed
// negotiated frame size.
type Codec interface {
	// FrameSize is the per-frame sample count the encoder consumes.
	FrameSize() int
	Encode(pcm []int16) ([]byte, error)
	// Decode writes samples into dst and returns the count produced.
	Decode(b []byte, dst []int16) (int, error)
}

// Links are the pipeline's connections to the control loop.
type Links struct {
	// Commands carries control-loop requests in (capacity 4).
	Commands *pipe.Queue[Command]
	// Encoded carries encoded capture packets out (capacity 8).
	Encoded *pipe.Queue[media.Packet]
	// Playback carries decoded-side packets in (capacity 24).
	Playback *pipe.Queue[media.Packet]
	// Events is the shared event flag set.
	Events *pipe.Flags
}
