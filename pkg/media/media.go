// Package media defines the pool-backed messages that move between the
// audio and control contexts: raw PCM frames and encoded audio packets.
//
// Both types hold a mempool block. Ownership transfers exactly once per
// hand-off: the producer allocates and fills a message, pushes it into a
// queue, and the receiver that pops it becomes the sole owner responsible
// for calling Release. A message that fails to enqueue must be released by
// the would-be sender; the queues in pkg/pipe do this through their release
// hooks.
package media

import (
	"time"

	"github.com/hitony/voicegear/pkg/mempool"
)

// Packet is an encoded (or otherwise opaque) byte payload.
type Packet struct {
	arena *mempool.Arena
	block mempool.Block

	// Len is the number of meaningful bytes in the block.
	Len int
	// Stamp records when the packet was produced.
	Stamp time.Time
}

// NewPacket allocates a packet sized for n bytes from the smallest fitting
// class. The payload is uninitialized; fill it through Bytes.
func NewPacket(a *mempool.Arena, n int) (Packet, error) {
	b, err := a.AllocSized(n)
	if err != nil {
		return Packet{}, err
	}
	return Packet{arena: a, block: b, Len: n, Stamp: time.Now()}, nil
}

// PacketFrom allocates a packet and copies data into it.
func PacketFrom(a *mempool.Arena, data []byte) (Packet, error) {
	p, err := NewPacket(a, len(data))
	if err != nil {
		return Packet{}, err
	}
	copy(p.Bytes(), data)
	return p, nil
}

// Bytes returns the meaningful payload slice.
func (p Packet) Bytes() []byte {
	if !p.block.Valid() {
		return nil
	}
	return p.block.Bytes()[:p.Len]
}

// Valid reports whether the packet holds a live block.
func (p Packet) Valid() bool { return p.block.Valid() }

// Release returns the block to the arena. The packet must not be used
// afterwards. Safe on the zero value.
func (p Packet) Release() {
	if p.block.Valid() {
		p.arena.Free(p.block)
	}
}

// Frame is a raw PCM frame: little-endian int16 samples in a pool block,
// plus the shape metadata receivers need to interpret them.
type Frame struct {
	arena *mempool.Arena
	block mempool.Block

	// Samples is the per-channel sample count.
	Samples int
	// Channels is the interleaved channel count.
	Channels int
	// Stamp records when the frame was captured or produced.
	Stamp time.Time
}

// NewFrame allocates a frame for samples x channels int16 values.
func NewFrame(a *mempool.Arena, samples, channels int) (Frame, error) {
	b, err := a.AllocSized(samples * channels * 2)
	if err != nil {
		return Frame{}, err
	}
	return Frame{arena: a, block: b, Samples: samples, Channels: channels, Stamp: time.Now()}, nil
}

// FrameFrom allocates a frame and stores pcm into it.
func FrameFrom(a *mempool.Arena, pcm []int16, channels int) (Frame, error) {
	if channels <= 0 {
		channels = 1
	}
	f, err := NewFrame(a, len(pcm)/channels, channels)
	if err != nil {
		return Frame{}, err
	}
	f.PutPCM(pcm)
	return f, nil
}

// Valid reports whether the frame holds a live block.
func (f Frame) Valid() bool { return f.block.Valid() }

// PutPCM stores samples into the frame, clamped to its capacity.
func (f Frame) PutPCM(pcm []int16) {
	buf := f.block.Bytes()
	n := f.Samples * f.Channels
	if len(pcm) < n {
		n = len(pcm)
	}
	for i := 0; i < n; i++ {
		v := uint16(pcm[i])
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(v >> 8)
	}
}

// PCM copies the frame's samples into dst and returns the count copied.
func (f Frame) PCM(dst []int16) int {
	buf := f.block.Bytes()
	n := f.Samples * f.Channels
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
	}
	return n
}

// Release returns the block to the arena. Safe on the zero value.
func (f Frame) Release() {
	if f.block.Valid() {
		f.arena.Free(f.block)
	}
}
