package pipe

import (
	"testing"
	"time"

	"github.com/hitony/voicegear/pkg/mempool"
)

func TestQueue_Backpressure(t *testing.T) {
	released := 0
	q := NewQueue[int](4, WithRelease[int](func(int) { released++ }))

	// Five pushes into a capacity-4 queue: exactly four succeed.
	ok := 0
	for i := 0; i < 5; i++ {
		if q.TryPush(i) {
			ok++
		}
	}
	if ok != 4 {
		t.Fatalf("pushed %d, want 4", ok)
	}
	if q.Len() != 4 {
		t.Fatalf("Len = %d, want 4", q.Len())
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", q.Dropped())
	}
	if released != 1 {
		t.Fatalf("release hook ran %d times, want 1", released)
	}
}

func TestQueue_DropReleasesPoolBlock(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	q := NewQueue[mempool.Block](2, WithRelease[mempool.Block](func(b mempool.Block) {
		if err := arena.Free(b); err != nil {
			t.Errorf("release: %v", err)
		}
	}))

	for i := 0; i < 3; i++ {
		b, err := arena.Alloc(mempool.S64)
		if err != nil {
			t.Fatalf("Alloc error: %v", err)
		}
		q.TryPush(b)
	}

	st := arena.Stats()[mempool.S64]
	if st.InUse != 2 {
		t.Fatalf("InUse = %d, want 2 (dropped block must be freed)", st.InUse)
	}
	if q.Flush() != 2 {
		t.Fatal("Flush did not empty the queue")
	}
	if st := arena.Stats()[mempool.S64]; st.InUse != 0 {
		t.Fatalf("InUse after Flush = %d, want 0", st.InUse)
	}
}

func TestQueue_PopTimeout(t *testing.T) {
	q := NewQueue[int](1)

	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	if ok {
		t.Fatal("Pop on empty queue returned an item")
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("Pop returned after %v, want a bounded wait", elapsed)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.TryPush(42)
	}()
	v, ok := q.Pop(time.Second)
	if !ok || v != 42 {
		t.Fatalf("Pop = (%d, %v), want (42, true)", v, ok)
	}
}

func TestQueue_PushWait(t *testing.T) {
	released := 0
	q := NewQueue[int](1, WithRelease[int](func(int) { released++ }))
	q.TryPush(1)

	if q.PushWait(2, 10*time.Millisecond) {
		t.Fatal("PushWait succeeded on a full queue")
	}
	if released != 1 {
		t.Fatalf("release hook ran %d times, want 1", released)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.TryPop()
	}()
	if !q.PushWait(3, time.Second) {
		t.Fatal("PushWait failed after space opened")
	}
}

func TestQueue_DrainBounded(t *testing.T) {
	q := NewQueue[int](8)
	for i := 0; i < 6; i++ {
		q.TryPush(i)
	}

	var got []int
	n := q.Drain(4, func(v int) { got = append(got, v) })
	if n != 4 || len(got) != 4 {
		t.Fatalf("Drain(4) handled %d items, want 4", n)
	}
	if q.Len() != 2 {
		t.Fatalf("Len after bounded drain = %d, want 2", q.Len())
	}
}

func TestFlags(t *testing.T) {
	var f Flags

	const (
		wake uint32 = 1 << iota
		voiceEnd
	)

	f.Set(wake)
	f.Set(wake) // idempotent
	f.Set(voiceEnd)

	if !f.Take(wake) {
		t.Fatal("Take(wake) = false, want true")
	}
	if f.Take(wake) {
		t.Fatal("second Take(wake) = true, want false")
	}
	if got := f.TakeAll(); got != voiceEnd {
		t.Fatalf("TakeAll = %#x, want %#x", got, voiceEnd)
	}
	if f.Peek() != 0 {
		t.Fatalf("Peek = %#x, want 0", f.Peek())
	}
}
