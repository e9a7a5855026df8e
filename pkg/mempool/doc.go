// Package mempool provides a segregated fixed-block allocator with bounded,
// predictable memory use.
//
// An Arena owns a small set of size classes. Each class reserves one
// contiguous region at construction time and hands it out in fixed-size
// blocks tracked by a single-word free bitmap, so a class can hold at most
// 32 blocks. Allocation and release are O(1) bitmap operations under a
// per-class mutex; there is no sub-allocation, no resizing, and no growth
// after construction.
//
// Alloc either succeeds immediately or fails immediately with ErrExhausted.
// Callers on latency-critical paths are expected to treat exhaustion as
// backpressure: drop the work item, count it, and continue.
//
// Blocks are returned as Block handles. A handle is owned by exactly one
// holder at a time; ownership moves when the handle is passed on (for
// example through a queue), and the final owner must call Arena.Free.
// Freeing a handle twice or freeing a handle from a different arena is a
// reported caller error, never a crash.
package mempool
