package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/hitony/voicegear/pkg/jsontime"
)

// Ensure all message types implement Message.
var (
	_ Message = (*Hello)(nil)
	_ Message = (*Listen)(nil)
	_ Message = (*Abort)(nil)
	_ Message = (*TTS)(nil)
	_ Message = (*Music)(nil)
	_ Message = (*MusicCtrl)(nil)
	_ Message = (*ASRText)(nil)
	_ Message = (*Expression)(nil)
	_ Message = (*OTANotify)(nil)
	_ Message = (*ServerError)(nil)
	_ Message = (*Ping)(nil)
	_ Message = (*Pong)(nil)
)

// Message is the interface for session control messages, both directions.
type Message interface {
	isMessage()
	messageType() string
}

// ParseMessage decodes one inbound JSON control message. Unknown types are
// an error; callers typically log and drop them.
func ParseMessage(b []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}

	var msg Message
	switch head.Type {
	case "hello":
		msg = new(Hello)
	case "listen":
		msg = new(Listen)
	case "abort":
		msg = new(Abort)
	case "tts":
		msg = new(TTS)
	case "music":
		msg = new(Music)
	case "music_ctrl":
		msg = new(MusicCtrl)
	case "asr":
		msg = new(ASRText)
	case "expression":
		msg = new(Expression)
	case "ota":
		msg = new(OTANotify)
	case "error":
		msg = new(ServerError)
	case "ping":
		msg = new(Ping)
	case "pong":
		msg = new(Pong)
	default:
		return nil, fmt.Errorf("unknown message type: %s", head.Type)
	}

	if err := json.Unmarshal(b, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Hello opens a session. The device sends one after connecting; the server
// replies with the same type carrying the assigned session ID.
type Hello struct {
	Type      string          `json:"type"`
	Time      jsontime.Milli  `json:"time"`
	DeviceID  string          `json:"device_id,omitempty"`
	Firmware  string          `json:"firmware,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Features  map[string]bool `json:"features,omitempty"`
}

// NewHello creates the device-side session opener.
func NewHello(deviceID, firmware string) *Hello {
	return &Hello{
		Type:     "hello",
		Time:     jsontime.Now(),
		DeviceID: deviceID,
		Firmware: firmware,
	}
}

func (*Hello) isMessage()          {}
func (*Hello) messageType() string { return "hello" }

// Listen states for the Listen message.
const (
	ListenStart  = "start"
	ListenStop   = "stop"
	ListenDetect = "detect"
)

// Listen reports the device's capture state. A "detect" carries the wake
// word that triggered the session.
type Listen struct {
	Type  string         `json:"type"`
	Time  jsontime.Milli `json:"time"`
	State string         `json:"state"`
	Mode  string         `json:"mode,omitempty"`
	Text  string         `json:"text,omitempty"`
}

// NewListen creates a Listen message in the given state.
func NewListen(state string) *Listen {
	return &Listen{Type: "listen", Time: jsontime.Now(), State: state}
}

func (*Listen) isMessage()          {}
func (*Listen) messageType() string { return "listen" }

// Abort asks the peer to stop the current activity. Sent by the device on
// barge-in and on response timeouts.
type Abort struct {
	Type   string         `json:"type"`
	Time   jsontime.Milli `json:"time"`
	Reason string         `json:"reason,omitempty"`
}

// NewAbort creates an Abort with the given reason.
func NewAbort(reason string) *Abort {
	return &Abort{Type: "abort", Time: jsontime.Now(), Reason: reason}
}

func (*Abort) isMessage()          {}
func (*Abort) messageType() string { return "abort" }

// TTS states for the TTS message.
const (
	TTSStart = "start"
	TTSStop  = "stop"
)

// TTS brackets a spoken response: "start" before the first audio packet,
// "stop" after the last. Audio itself travels as binary frames.
type TTS struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Text  string `json:"text,omitempty"`
}

func (*TTS) isMessage()          {}
func (*TTS) messageType() string { return "tts" }

// Music states for the Music message.
const (
	MusicStart  = "start"
	MusicStop   = "stop"
	MusicResume = "resume"
)

// Music brackets long-form playback the same way TTS brackets speech.
type Music struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Title string `json:"title,omitempty"`
}

func (*Music) isMessage()          {}
func (*Music) messageType() string { return "music" }

// MusicCtrl carries a device-initiated playback request such as "pause",
// "resume", or "next".
type MusicCtrl struct {
	Type   string         `json:"type"`
	Time   jsontime.Milli `json:"time"`
	Action string         `json:"action"`
}

// NewMusicCtrl creates a MusicCtrl with the given action.
func NewMusicCtrl(action string) *MusicCtrl {
	return &MusicCtrl{Type: "music_ctrl", Time: jsontime.Now(), Action: action}
}

func (*MusicCtrl) isMessage()          {}
func (*MusicCtrl) messageType() string { return "music_ctrl" }

// ASRText is the server's transcription of the device's captured speech.
type ASRText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (*ASRText) isMessage()          {}
func (*ASRText) messageType() string { return "asr" }

// Expression asks the device to show an emotion on its display.
type Expression struct {
	Type       string `json:"type"`
	Expr       string `json:"expr"`
	DurationMS int    `json:"duration_ms,omitempty"`
}

func (*Expression) isMessage()          {}
func (*Expression) messageType() string { return "expression" }

// OTANotify announces an available firmware image.
type OTANotify struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	URL     string `json:"url"`
}

func (*OTANotify) isMessage()          {}
func (*OTANotify) messageType() string { return "ota" }

// ServerError reports a failure on the server side of the session.
type ServerError struct {
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (*ServerError) isMessage()          {}
func (*ServerError) messageType() string { return "error" }

// Ping is an application-level keepalive probe.
type Ping struct {
	Type string         `json:"type"`
	Time jsontime.Milli `json:"time"`
}

// NewPing creates a keepalive probe.
func NewPing() *Ping {
	return &Ping{Type: "ping", Time: jsontime.Now()}
}

func (*Ping) isMessage()          {}
func (*Ping) messageType() string { return "ping" }

// Pong answers a Ping.
type Pong struct {
	Type string `json:"type"`
}

func (*Pong) isMessage()          {}
func (*Pong) messageType() string { return "pong" }
