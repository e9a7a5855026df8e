package mempool

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

// Class identifies one fixed-size block pool inside an Arena.
type Class int

// Default size classes. The split mirrors the message shapes this allocator
// serves: small control payloads, encoded audio packets, and PCM frames.
const (
	S64 Class = iota // 64 B, control structs and tiny payloads
	S128             // 128 B
	S256             // 256 B, typical encoded audio packet
	L2K              // 2 KB, PCM frame buffers
	L4K              // 4 KB, large PCM / reassembled frames
)

// maxBlocks is the hard per-class limit imposed by the single-word bitmap.
const maxBlocks = 32

var (
	// ErrExhausted is returned when a class has no free blocks.
	ErrExhausted = errors.New("mempool: class exhausted")

	// ErrNoFit is returned when no class is large enough for a request.
	ErrNoFit = errors.New("mempool: no class fits requested size")

	// ErrBadFree is returned when a freed handle does not refer to a live
	// block of this arena.
	ErrBadFree = errors.New("mempool: invalid free")
)

// ClassConfig describes one size class.
type ClassConfig struct {
	BlockSize  int
	BlockCount int
}

// DefaultClasses returns the standard five-class layout:
// 64B x32, 128B x32, 256B x32, 2KB x16, 4KB x8.
func DefaultClasses() []ClassConfig {
	return []ClassConfig{
		{BlockSize: 64, BlockCount: 32},
		{BlockSize: 128, BlockCount: 32},
		{BlockSize: 256, BlockCount: 32},
		{BlockSize: 2048, BlockCount: 16},
		{BlockSize: 4096, BlockCount: 8},
	}
}

// Block is an owned handle to one pool block. The zero value is invalid.
type Block struct {
	class Class
	index int
	buf   []byte
	valid bool
}

// Valid reports whether the handle refers to a block.
func (b Block) Valid() bool { return b.valid }

// Class returns the size class this block came from.
func (b Block) Class() Class { return b.class }

// Bytes returns the full block storage (length == class block size).
func (b Block) Bytes() []byte { return b.buf }

// Cap returns the block size in bytes.
func (b Block) Cap() int { return len(b.buf) }

type pool struct {
	mu         sync.Mutex
	blockSize  int
	blockCount int
	free       uint32 // bit set == slot free
	mem        []byte

	allocs    uint64
	frees     uint64
	exhausted uint64
}

// Arena is a set of segregated block pools. All memory is reserved at
// construction; an Arena never grows.
type Arena struct {
	pools []pool
}

// New builds an Arena from the given class table. Classes must be ordered
// by ascending block size; a class with more than 32 blocks is a
// configuration error.
func New(classes []ClassConfig) (*Arena, error) {
	if len(classes) == 0 {
		return nil, errors.New("mempool: no classes configured")
	}
	a := &Arena{pools: make([]pool, len(classes))}
	prev := 0
	for i, c := range classes {
		if c.BlockSize <= 0 || c.BlockCount <= 0 {
			return nil, fmt.Errorf("mempool: class %d: bad config %d x %d", i, c.BlockSize, c.BlockCount)
		}
		if c.BlockCount > maxBlocks {
			return nil, fmt.Errorf("mempool: class %d: %d blocks exceeds bitmap limit %d", i, c.BlockCount, maxBlocks)
		}
		if c.BlockSize <= prev {
			return nil, fmt.Errorf("mempool: class %d: block size %d not ascending", i, c.BlockSize)
		}
		prev = c.BlockSize
		p := &a.pools[i]
		p.blockSize = c.BlockSize
		p.blockCount = c.BlockCount
		p.mem = make([]byte, c.BlockSize*c.BlockCount)
		if c.BlockCount == maxBlocks {
			p.free = ^uint32(0)
		} else {
			p.free = (1 << uint(c.BlockCount)) - 1
		}
	}
	return a, nil
}

// MustNew is New for static class tables known to be valid.
func MustNew(classes []ClassConfig) *Arena {
	a, err := New(classes)
	if err != nil {
		panic(err)
	}
	return a
}

// Classes returns the number of configured classes.
func (a *Arena) Classes() int { return len(a.pools) }

// BlockSize returns the block size of class c, or 0 if out of range.
func (a *Arena) BlockSize(c Class) int {
	if int(c) < 0 || int(c) >= len(a.pools) {
		return 0
	}
	return a.pools[c].blockSize
}

// Alloc takes one free block from class c. It holds the class mutex only
// for the bitmap scan and never waits for a block to become free.
func (a *Arena) Alloc(c Class) (Block, error) {
	if int(c) < 0 || int(c) >= len(a.pools) {
		return Block{}, fmt.Errorf("mempool: unknown class %d", c)
	}
	p := &a.pools[c]
	p.mu.Lock()
	if p.free == 0 {
		p.exhausted++
		p.mu.Unlock()
		return Block{}, ErrExhausted
	}
	idx := bits.TrailingZeros32(p.free)
	p.free &^= 1 << uint(idx)
	p.allocs++
	p.mu.Unlock()

	off := idx * p.blockSize
	return Block{
		class: c,
		index: idx,
		buf:   p.mem[off : off+p.blockSize : off+p.blockSize],
		valid: true,
	}, nil
}

// AllocSized routes to the smallest class whose block size holds n bytes.
func (a *Arena) AllocSized(n int) (Block, error) {
	if n <= 0 {
		return Block{}, fmt.Errorf("mempool: bad size %d", n)
	}
	for i := range a.pools {
		if n <= a.pools[i].blockSize {
			return a.Alloc(Class(i))
		}
	}
	return Block{}, fmt.Errorf("mempool: %w: %d bytes", ErrNoFit, n)
}

// Free returns a block to its class. The slot becomes immediately
// available to the next Alloc. Freeing an invalid or already-free handle
// returns ErrBadFree and leaves the arena untouched.
func (a *Arena) Free(b Block) error {
	if !b.valid || int(b.class) < 0 || int(b.class) >= len(a.pools) {
		return ErrBadFree
	}
	p := &a.pools[b.class]
	if b.index < 0 || b.index >= p.blockCount {
		return fmt.Errorf("mempool: %w: slot %d out of range", ErrBadFree, b.index)
	}
	// The handle must point into this arena's region, not a copy.
	off := b.index * p.blockSize
	if len(b.buf) != p.blockSize || &b.buf[0] != &p.mem[off] {
		return fmt.Errorf("mempool: %w: foreign block", ErrBadFree)
	}
	mask := uint32(1) << uint(b.index)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.free&mask != 0 {
		return fmt.Errorf("mempool: %w: double free of slot %d", ErrBadFree, b.index)
	}
	p.free |= mask
	p.frees++
	return nil
}

// ClassStats is a point-in-time snapshot of one class.
type ClassStats struct {
	BlockSize  int
	BlockCount int
	InUse      int
	Allocs     uint64
	Frees      uint64
	Exhausted  uint64
}

// Stats returns a snapshot for every class.
func (a *Arena) Stats() []ClassStats {
	out := make([]ClassStats, len(a.pools))
	for i := range a.pools {
		p := &a.pools[i]
		p.mu.Lock()
		out[i] = ClassStats{
			BlockSize:  p.blockSize,
			BlockCount: p.blockCount,
			InUse:      p.blockCount - bits.OnesCount32(p.free),
			Allocs:     p.allocs,
			Frees:      p.frees,
			Exhausted:  p.exhausted,
		}
		p.mu.Unlock()
	}
	return out
}
