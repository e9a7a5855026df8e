package gateway

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/mempool"
	"github.com/hitony/voicegear/pkg/pipe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRawQueue(capacity int) *pipe.Queue[RawMsg] {
	return pipe.NewQueue[RawMsg](capacity, pipe.WithRelease(RawMsg.Release))
}

func TestParseMessage(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"type":"hello","session_id":"s-1"}`, "hello"},
		{`{"type":"tts","state":"start","text":"hi"}`, "tts"},
		{`{"type":"music","state":"resume"}`, "music"},
		{`{"type":"asr","text":"turn on the light"}`, "asr"},
		{`{"type":"expression","expr":"happy","duration_ms":1200}`, "expression"},
		{`{"type":"ota","version":"1.2.3","url":"https://x/y.bin"}`, "ota"},
		{`{"type":"error","code":500,"message":"boom"}`, "error"},
		{`{"type":"pong"}`, "pong"},
	}
	for _, tc := range cases {
		msg, err := ParseMessage([]byte(tc.in))
		if err != nil {
			t.Fatalf("ParseMessage(%s) error: %v", tc.in, err)
		}
		if got := msg.messageType(); got != tc.want {
			t.Fatalf("ParseMessage(%s) type = %s, want %s", tc.in, got, tc.want)
		}
	}

	if _, err := ParseMessage([]byte(`{"type":"selfdestruct"}`)); err == nil {
		t.Fatal("ParseMessage accepted an unknown type")
	}
}

func TestParseMessage_FieldsSurvive(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"tts","state":"stop","text":"done"}`))
	if err != nil {
		t.Fatalf("ParseMessage error: %v", err)
	}
	tts, ok := msg.(*TTS)
	if !ok {
		t.Fatalf("ParseMessage = %T, want *TTS", msg)
	}
	if tts.State != TTSStop || tts.Text != "done" {
		t.Fatalf("tts = %+v", tts)
	}
}

func TestOutboundMessages_CarryType(t *testing.T) {
	for _, msg := range []Message{
		NewHello("gear-1", "1.0.0"),
		NewListen(ListenStart),
		NewAbort("barge-in"),
		NewMusicCtrl("pause"),
		NewPing(),
	} {
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("Marshal %T error: %v", msg, err)
		}
		back, err := ParseMessage(b)
		if err != nil {
			t.Fatalf("ParseMessage(%s) error: %v", b, err)
		}
		if back.messageType() != msg.messageType() {
			t.Fatalf("round trip type = %s, want %s", back.messageType(), msg.messageType())
		}
	}
}

func TestReassembler_SplitSizes(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	for _, chunk := range []int{1, 7, 100, 999, 1000} {
		out := newRawQueue(4)
		r := NewReassembler(arena, out, testLogger())

		for off := 0; off < len(payload); off += chunk {
			end := off + chunk
			if end > len(payload) {
				end = len(payload)
			}
			r.Offer(Fragment{
				Final:  end == len(payload),
				Total:  len(payload),
				Offset: off,
				Chunk:  payload[off:end],
			})
		}

		msg, ok := out.TryPop()
		if !ok {
			t.Fatalf("chunk %d: no payload emitted", chunk)
		}
		if !bytes.Equal(msg.Pkt.Bytes(), payload) {
			t.Fatalf("chunk %d: payload corrupted", chunk)
		}
		msg.Release()
	}

	for class, st := range arena.Stats() {
		if st.InUse != 0 {
			t.Fatalf("class %v leaked %d blocks", class, st.InUse)
		}
	}
}

func TestReassembler_AbortReleasesBlock(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	out := newRawQueue(4)
	r := NewReassembler(arena, out, testLogger())

	r.Offer(Fragment{Total: 600, Offset: 0, Chunk: make([]byte, 100)})
	r.Interrupt()

	if r.Aborted() != 1 {
		t.Fatalf("Aborted = %d, want 1", r.Aborted())
	}
	if out.Len() != 0 {
		t.Fatal("aborted payload was emitted")
	}
	for class, st := range arena.Stats() {
		if st.InUse != 0 {
			t.Fatalf("class %v leaked %d blocks after abort", class, st.InUse)
		}
	}

	// Offset gaps abort too.
	r.Offer(Fragment{Total: 600, Offset: 0, Chunk: make([]byte, 100)})
	r.Offer(Fragment{Final: true, Total: 600, Offset: 500, Chunk: make([]byte, 100)})
	if out.Len() != 0 {
		t.Fatal("gapped payload was emitted")
	}
	if st := arena.Stats()[mempool.S64]; st.InUse != 0 {
		t.Fatalf("blocks leaked after gap abort: %+v", st)
	}
}

func TestReassembler_RejectsOversizedTotal(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	out := newRawQueue(4)
	r := NewReassembler(arena, out, testLogger())

	r.Offer(Fragment{Total: MaxPayload + 1, Offset: 0, Chunk: make([]byte, 64)})
	r.Offer(Fragment{Final: true, Total: MaxPayload + 1, Offset: 64, Chunk: make([]byte, 64)})

	if out.Len() != 0 {
		t.Fatal("oversized payload was emitted")
	}
	if r.Aborted() == 0 {
		t.Fatal("oversized payload not counted as aborted")
	}
}

func TestFragment_EncodeParse(t *testing.T) {
	orig := Fragment{Final: true, Total: 300, Offset: 128, Chunk: []byte("tail")}
	got, err := ParseFragment(EncodeFragment(orig))
	if err != nil {
		t.Fatalf("ParseFragment error: %v", err)
	}
	if !got.Final || got.Total != 300 || got.Offset != 128 || string(got.Chunk) != "tail" {
		t.Fatalf("round trip = %+v", got)
	}

	if IsFragment([]byte{0x01, 0x02, 0x03}) {
		t.Fatal("plain frame classified as fragment")
	}
}

func TestDecodeBatch(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	out := pipe.NewQueue[media.Packet](8, pipe.WithRelease(media.Packet.Release))

	var batch []byte
	sub := [][]byte{
		[]byte("one"),
		[]byte("twotwo"),
		bytes.Repeat([]byte{0xAB}, 200),
	}
	for _, s := range sub {
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(s)))
		batch = append(batch, hdr[:]...)
		batch = append(batch, s...)
	}

	queued, dropped := DecodeBatch(arena, out, batch, testLogger())
	if queued != 3 || dropped != 0 {
		t.Fatalf("DecodeBatch = %d queued, %d dropped", queued, dropped)
	}
	for i, want := range sub {
		pkt, ok := out.TryPop()
		if !ok {
			t.Fatalf("sub-packet %d missing", i)
		}
		if !bytes.Equal(pkt.Bytes(), want) {
			t.Fatalf("sub-packet %d = %x, want %x", i, pkt.Bytes(), want)
		}
		pkt.Release()
	}
}

func TestDecodeBatch_TruncatedTail(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	out := pipe.NewQueue[media.Packet](8, pipe.WithRelease(media.Packet.Release))

	batch := []byte{0x00, 0x04, 'g', 'o', 'o', 'd', 0x00, 0xFF, 'x'}
	queued, _ := DecodeBatch(arena, out, batch, testLogger())
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}
	pkt, _ := out.TryPop()
	if string(pkt.Bytes()) != "good" {
		t.Fatalf("payload = %q", pkt.Bytes())
	}
	pkt.Release()
}

func TestDecodeBatch_FullQueueDropsIndividually(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	out := pipe.NewQueue[media.Packet](1, pipe.WithRelease(media.Packet.Release))

	batch := []byte{0x00, 0x01, 'a', 0x00, 0x01, 'b', 0x00, 0x01, 'c'}
	queued, dropped := DecodeBatch(arena, out, batch, testLogger())
	if queued != 1 || dropped != 2 {
		t.Fatalf("DecodeBatch = %d queued, %d dropped; want 1, 2", queued, dropped)
	}
	if st := arena.Stats()[mempool.S64]; st.InUse != 1 {
		t.Fatalf("InUse = %d, want 1 (drops must release)", st.InUse)
	}
}

func TestClient_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Echo the device hello back as the server hello, then stream a
		// whole binary frame and a fragmented one.
		_, hello, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, hello)
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03})

		big := bytes.Repeat([]byte{0x5A}, 512)
		conn.WriteMessage(websocket.BinaryMessage, EncodeFragment(Fragment{
			Total: len(big), Offset: 0, Chunk: big[:256],
		}))
		conn.WriteMessage(websocket.BinaryMessage, EncodeFragment(Fragment{
			Final: true, Total: len(big), Offset: 256, Chunk: big[256:],
		}))

		// Hold the link open until the client hangs up.
		conn.ReadMessage()
	}))
	defer srv.Close()

	arena := mempool.MustNew(mempool.DefaultClasses())
	raw := newRawQueue(48)
	client := NewClient(Config{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, arena, raw, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	if err := client.SendJSON(NewHello("gear-1", "1.0.0")); err != nil {
		t.Fatalf("SendJSON error: %v", err)
	}

	pop := func(want RawKind) RawMsg {
		t.Helper()
		msg, ok := raw.Pop(2 * time.Second)
		if !ok {
			t.Fatalf("timed out waiting for %v", want)
		}
		if msg.Kind != want {
			t.Fatalf("Kind = %v, want %v", msg.Kind, want)
		}
		return msg
	}

	pop(RawConnected)

	text := pop(RawText)
	msg, err := ParseMessage(text.Pkt.Bytes())
	if err != nil {
		t.Fatalf("ParseMessage error: %v", err)
	}
	if _, ok := msg.(*Hello); !ok {
		t.Fatalf("echoed message = %T, want *Hello", msg)
	}
	text.Release()

	bin := pop(RawBinary)
	if !bytes.Equal(bin.Pkt.Bytes(), []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("binary payload = %x", bin.Pkt.Bytes())
	}
	bin.Release()

	big := pop(RawBinary)
	if big.Pkt.Len != 512 {
		t.Fatalf("reassembled Len = %d, want 512", big.Pkt.Len)
	}
	big.Release()

	client.Close()
	pop(RawDisconnected)
}

func TestClient_TextInterleaveDiscardsPartial(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// A text frame lands mid-reassembly: the half-built payload must
		// be thrown away, not completed by the trailing fragment.
		first := bytes.Repeat([]byte{0x11}, 512)
		conn.WriteMessage(websocket.BinaryMessage, EncodeFragment(Fragment{
			Total: len(first), Offset: 0, Chunk: first[:256],
		}))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		conn.WriteMessage(websocket.BinaryMessage, EncodeFragment(Fragment{
			Final: true, Total: len(first), Offset: 256, Chunk: first[256:],
		}))

		// A clean sequence afterwards still reassembles.
		second := bytes.Repeat([]byte{0x22}, 512)
		conn.WriteMessage(websocket.BinaryMessage, EncodeFragment(Fragment{
			Total: len(second), Offset: 0, Chunk: second[:256],
		}))
		conn.WriteMessage(websocket.BinaryMessage, EncodeFragment(Fragment{
			Final: true, Total: len(second), Offset: 256, Chunk: second[256:],
		}))

		conn.ReadMessage()
	}))
	defer srv.Close()

	arena := mempool.MustNew(mempool.DefaultClasses())
	raw := newRawQueue(48)
	client := NewClient(Config{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, arena, raw, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	pop := func() RawMsg {
		t.Helper()
		msg, ok := raw.Pop(2 * time.Second)
		if !ok {
			t.Fatal("timed out waiting for a raw message")
		}
		return msg
	}

	if msg := pop(); msg.Kind != RawConnected {
		t.Fatalf("Kind = %v, want RawConnected", msg.Kind)
	}
	text := pop()
	if text.Kind != RawText {
		t.Fatalf("Kind = %v, want RawText", text.Kind)
	}
	text.Release()

	// The only binary out is the second, cleanly fragmented payload.
	bin := pop()
	if bin.Kind != RawBinary {
		t.Fatalf("Kind = %v, want RawBinary", bin.Kind)
	}
	if bin.Pkt.Len != 512 || bin.Pkt.Bytes()[0] != 0x22 {
		t.Fatalf("payload len %d first byte %#x, want the post-interleave payload", bin.Pkt.Len, bin.Pkt.Bytes()[0])
	}
	bin.Release()

	if msg, ok := raw.TryPop(); ok {
		t.Fatalf("unexpected extra message %v, interleaved partial leaked through", msg.Kind)
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	arena := mempool.MustNew(mempool.DefaultClasses())
	client := NewClient(Config{URL: "ws://127.0.0.1:1"}, arena, newRawQueue(4), testLogger())
	if err := client.SendJSON(NewPing()); err != ErrNotConnected {
		t.Fatalf("SendJSON = %v, want ErrNotConnected", err)
	}
}
