package gateway

import (
	"encoding/binary"
	"errors"

	"github.com/hitony/voicegear/pkg/media"
)

// MaxPayload is the largest reassembled binary payload the gateway
// accepts. Anything larger is a protocol violation and is discarded.
const MaxPayload = 4096

// RawMsg kinds.
const (
	RawBinary RawKind = iota
	RawText
	RawConnected
	RawDisconnected
)

// RawKind classifies a RawMsg.
type RawKind uint8

func (k RawKind) String() string {
	switch k {
	case RawBinary:
		return "binary"
	case RawText:
		return "text"
	case RawConnected:
		return "connected"
	case RawDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// RawMsg is one transport event as seen by the control loop: an inbound
// frame with its payload copied into a pool block, or a bare link state
// change. The popper owns Pkt and must release it.
type RawMsg struct {
	Kind RawKind
	Pkt  media.Packet
}

// Release returns the payload block, if any, to its arena.
func (m RawMsg) Release() { m.Pkt.Release() }

// Fragment envelope layout, used when a binary payload exceeds the peer's
// frame limit:
//
//	[0]   magic 0x7F
//	[1]   flags (bit 0: final)
//	[2:4] total payload length, big endian
//	[4:6] chunk offset, big endian
//	[6:]  chunk bytes
//
// The magic byte never starts a valid encoded audio packet, so whole
// frames and fragments share the binary channel without a mode switch.
const (
	fragMagic     = 0x7F
	fragFlagFinal = 0x01
	fragHeaderLen = 6
)

// Fragment is one decoded piece of a split binary payload.
type Fragment struct {
	Final  bool
	Total  int
	Offset int
	Chunk  []byte
}

// ErrNotFragment reports a binary frame that does not carry the fragment
// envelope.
var ErrNotFragment = errors.New("gateway: not a fragment frame")

// IsFragment reports whether a binary frame carries the fragment envelope.
func IsFragment(b []byte) bool {
	return len(b) >= fragHeaderLen && b[0] == fragMagic
}

// ParseFragment decodes the fragment envelope. The returned Chunk aliases b.
func ParseFragment(b []byte) (Fragment, error) {
	if !IsFragment(b) {
		return Fragment{}, ErrNotFragment
	}
	return Fragment{
		Final:  b[1]&fragFlagFinal != 0,
		Total:  int(binary.BigEndian.Uint16(b[2:4])),
		Offset: int(binary.BigEndian.Uint16(b[4:6])),
		Chunk:  b[fragHeaderLen:],
	}, nil
}

// EncodeFragment builds a fragment frame. Used by tests and by the
// simulated server in cmd/voicegear.
func EncodeFragment(f Fragment) []byte {
	out := make([]byte, fragHeaderLen+len(f.Chunk))
	out[0] = fragMagic
	if f.Final {
		out[1] = fragFlagFinal
	}
	binary.BigEndian.PutUint16(out[2:4], uint16(f.Total))
	binary.BigEndian.PutUint16(out[4:6], uint16(f.Offset))
	copy(out[fragHeaderLen:], f.Chunk)
	return out
}
