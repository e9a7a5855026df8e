package mempool

import (
	"errors"
	"sync"
	"testing"
)

func TestArena_AllocFree(t *testing.T) {
	a := MustNew(DefaultClasses())

	b, err := a.Alloc(S256)
	if err != nil {
		t.Fatalf("Alloc error: %v", err)
	}
	if !b.Valid() {
		t.Fatal("Alloc returned invalid handle")
	}
	if b.Cap() != 256 {
		t.Fatalf("Cap() = %d, want 256", b.Cap())
	}

	if err := a.Free(b); err != nil {
		t.Fatalf("Free error: %v", err)
	}

	st := a.Stats()[S256]
	if st.InUse != 0 || st.Allocs != 1 || st.Frees != 1 {
		t.Fatalf("stats = %+v, want InUse=0 Allocs=1 Frees=1", st)
	}
}

func TestArena_NoOverlap(t *testing.T) {
	a := MustNew(DefaultClasses())

	seen := make(map[*byte]bool)
	var live []Block
	for i := 0; i < 16; i++ {
		b, err := a.Alloc(L2K)
		if err != nil {
			t.Fatalf("Alloc #%d error: %v", i, err)
		}
		p := &b.Bytes()[0]
		if seen[p] {
			t.Fatalf("Alloc #%d returned an already-live block", i)
		}
		seen[p] = true
		live = append(live, b)
	}

	// Release one, reallocate, and confirm the freed slot is reused.
	freed := &live[7].Bytes()[0]
	if err := a.Free(live[7]); err != nil {
		t.Fatalf("Free error: %v", err)
	}
	b, err := a.Alloc(L2K)
	if err != nil {
		t.Fatalf("Alloc after Free error: %v", err)
	}
	if &b.Bytes()[0] != freed {
		t.Fatal("freed slot was not immediately reusable")
	}
}

func TestArena_Exhaustion(t *testing.T) {
	a := MustNew(DefaultClasses())

	// L4K holds 8 blocks of 4096 bytes.
	var blocks []Block
	for i := 0; i < 8; i++ {
		b, err := a.Alloc(L4K)
		if err != nil {
			t.Fatalf("Alloc #%d error: %v", i, err)
		}
		blocks = append(blocks, b)
	}

	if _, err := a.Alloc(L4K); !errors.Is(err, ErrExhausted) {
		t.Fatalf("9th Alloc error = %v, want ErrExhausted", err)
	}

	if err := a.Free(blocks[0]); err != nil {
		t.Fatalf("Free error: %v", err)
	}
	if _, err := a.Alloc(L4K); err != nil {
		t.Fatalf("Alloc after release error: %v", err)
	}
}

func TestArena_ConcurrentAlloc(t *testing.T) {
	a := MustNew(DefaultClasses())

	var wg sync.WaitGroup
	got := make([]Block, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = a.Alloc(L4K)
		}(i)
	}
	wg.Wait()

	seen := make(map[*byte]bool)
	for i := 0; i < 8; i++ {
		if errs[i] != nil {
			t.Fatalf("concurrent Alloc #%d error: %v", i, errs[i])
		}
		p := &got[i].Bytes()[0]
		if seen[p] {
			t.Fatal("concurrent allocations overlap")
		}
		seen[p] = true
	}
}

func TestArena_BadFree(t *testing.T) {
	a := MustNew(DefaultClasses())

	if err := a.Free(Block{}); !errors.Is(err, ErrBadFree) {
		t.Fatalf("Free(zero) error = %v, want ErrBadFree", err)
	}

	b, err := a.Alloc(S64)
	if err != nil {
		t.Fatalf("Alloc error: %v", err)
	}
	if err := a.Free(b); err != nil {
		t.Fatalf("Free error: %v", err)
	}
	if err := a.Free(b); !errors.Is(err, ErrBadFree) {
		t.Fatalf("double Free error = %v, want ErrBadFree", err)
	}

	// A handle from a different arena must be rejected.
	other := MustNew(DefaultClasses())
	fb, err := other.Alloc(S64)
	if err != nil {
		t.Fatalf("Alloc error: %v", err)
	}
	if err := a.Free(fb); !errors.Is(err, ErrBadFree) {
		t.Fatalf("foreign Free error = %v, want ErrBadFree", err)
	}
}

func TestArena_AllocSized(t *testing.T) {
	a := MustNew(DefaultClasses())

	tests := []struct {
		n    int
		want int
	}{
		{1, 64},
		{64, 64},
		{65, 128},
		{256, 256},
		{257, 2048},
		{2049, 4096},
		{4096, 4096},
	}
	for _, tt := range tests {
		b, err := a.AllocSized(tt.n)
		if err != nil {
			t.Fatalf("AllocSized(%d) error: %v", tt.n, err)
		}
		if b.Cap() != tt.want {
			t.Fatalf("AllocSized(%d) block size = %d, want %d", tt.n, b.Cap(), tt.want)
		}
		if err := a.Free(b); err != nil {
			t.Fatalf("Free error: %v", err)
		}
	}

	if _, err := a.AllocSized(4097); !errors.Is(err, ErrNoFit) {
		t.Fatalf("AllocSized(4097) error = %v, want ErrNoFit", err)
	}
}

func TestNew_RejectsOversizedClass(t *testing.T) {
	_, err := New([]ClassConfig{{BlockSize: 64, BlockCount: 33}})
	if err == nil {
		t.Fatal("New accepted a 33-block class")
	}
}
