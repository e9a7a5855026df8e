package media

import (
	"bytes"
	"testing"

	"github.com/hitony/voicegear/pkg/mempool"
)

func TestPacket_Lifecycle(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())

	p, err := PacketFrom(arena, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if err != nil {
		t.Fatalf("PacketFrom error: %v", err)
	}
	if !bytes.Equal(p.Bytes(), []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Fatalf("Bytes = %x", p.Bytes())
	}
	if p.Stamp.IsZero() {
		t.Fatal("packet has no timestamp")
	}

	p.Release()
	if st := arena.Stats()[mempool.S64]; st.InUse != 0 {
		t.Fatalf("InUse after Release = %d, want 0", st.InUse)
	}
}

func TestFrame_PCMRoundTrip(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())

	pcm := []int16{0, 1, -1, 32767, -32768, 12345, -12345, 256}
	f, err := FrameFrom(arena, pcm, 2)
	if err != nil {
		t.Fatalf("FrameFrom error: %v", err)
	}
	if f.Samples != 4 || f.Channels != 2 {
		t.Fatalf("shape = %dx%d, want 4x2", f.Samples, f.Channels)
	}

	out := make([]int16, 8)
	if n := f.PCM(out); n != 8 {
		t.Fatalf("PCM = %d, want 8", n)
	}
	for i := range pcm {
		if out[i] != pcm[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], pcm[i])
		}
	}

	f.Release()
	if st := arena.Stats()[mempool.S64]; st.InUse != 0 {
		t.Fatalf("frame block leaked: %+v", st)
	}
}

func TestZeroValue_ReleaseIsSafe(t *testing.T) {
	var p Packet
	var f Frame
	p.Release()
	f.Release()
	if p.Valid() || f.Valid() {
		t.Fatal("zero values must be invalid")
	}
}
