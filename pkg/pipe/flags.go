package pipe

import "sync/atomic"

// Flags is a set of atomically settable event bits. Events carried this way
// are idempotent state ("wake was detected"), not ordered data, so repeated
// sets before a take collapse into one observation.
type Flags struct {
	bits atomic.Uint32
}

// Set raises every bit in mask.
func (f *Flags) Set(mask uint32) {
	for {
		old := f.bits.Load()
		if old&mask == mask {
			return
		}
		if f.bits.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// Take atomically clears the bits in mask and reports whether any were set.
func (f *Flags) Take(mask uint32) bool {
	for {
		old := f.bits.Load()
		if old&mask == 0 {
			return false
		}
		if f.bits.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

// TakeAll atomically clears and returns the whole bit set.
func (f *Flags) TakeAll() uint32 {
	return f.bits.Swap(0)
}

// Peek returns the current bits without clearing them.
func (f *Flags) Peek() uint32 {
	return f.bits.Load()
}
