package gateway

import (
	"log/slog"
	"sync/atomic"

	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/mempool"
	"github.com/hitony/voicegear/pkg/pipe"
)

// Reassembler stitches fragment frames back into one pool-backed payload.
// It is single-stream: fragments of at most one payload are in flight at a
// time, matching a transport that delivers frames in order. A fragment with
// offset zero starts a new payload, discarding any partial one; a whole
// (non-fragment) frame arriving mid-payload also discards the partial,
// since the peer has evidently moved on.
//
// Not safe for concurrent use; the read pump is its only caller.
type Reassembler struct {
	arena *mempool.Arena
	out   *pipe.Queue[RawMsg]
	log   *slog.Logger

	buf    media.Packet
	got    int
	active bool

	aborted atomic.Uint64
}

// NewReassembler creates a Reassembler that emits completed payloads as
// RawBinary messages on out.
func NewReassembler(arena *mempool.Arena, out *pipe.Queue[RawMsg], log *slog.Logger) *Reassembler {
	return &Reassembler{arena: arena, out: out, log: log}
}

// Offer consumes one fragment. Malformed fragments abort the current
// payload; a final fragment that completes it pushes the result downstream.
func (r *Reassembler) Offer(f Fragment) {
	if f.Offset == 0 {
		if r.active {
			r.abort("restarted at offset zero")
		}
		if f.Total <= 0 || f.Total > MaxPayload {
			r.log.Warn("fragment total out of range", "total", f.Total)
			r.aborted.Add(1)
			return
		}
		pkt, err := media.NewPacket(r.arena, f.Total)
		if err != nil {
			r.log.Warn("no pool block for fragment payload", "total", f.Total, "err", err)
			r.aborted.Add(1)
			return
		}
		r.buf = pkt
		r.got = 0
		r.active = true
	}

	if !r.active {
		// Tail of a payload we never started (or already aborted).
		return
	}
	if f.Offset != r.got || f.Offset+len(f.Chunk) > r.buf.Len {
		r.abort("offset mismatch")
		return
	}

	copy(r.buf.Bytes()[f.Offset:], f.Chunk)
	r.got += len(f.Chunk)

	if !f.Final {
		return
	}
	if r.got != r.buf.Len {
		r.abort("final fragment short of declared total")
		return
	}
	msg := RawMsg{Kind: RawBinary, Pkt: r.buf}
	r.buf = media.Packet{}
	r.active = false
	r.out.TryPush(msg)
}

// Interrupt discards any partial payload. Called when a whole frame
// interleaves with fragments or the link drops.
func (r *Reassembler) Interrupt() {
	if r.active {
		r.abort("interrupted")
	}
}

// Aborted returns the number of payloads discarded before completion.
func (r *Reassembler) Aborted() uint64 { return r.aborted.Load() }

func (r *Reassembler) abort(reason string) {
	r.log.Warn("reassembly aborted", "reason", reason, "got", r.got)
	r.buf.Release()
	r.buf = media.Packet{}
	r.active = false
	r.aborted.Add(1)
}
