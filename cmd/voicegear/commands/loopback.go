package commands

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitony/voicegear/pkg/gateway"
)

// loopbackServer is a minimal session server for development runs: it
// answers the hello, acknowledges listen stops with a short synthetic
// spoken response, and keeps the ping/pong heartbeat alive. The response
// audio goes out fragmented so the whole reassembly path is exercised.
type loopbackServer struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
	addr     string
}

func newLoopbackServer(log *slog.Logger) (*loopbackServer, error) {
	s := &loopbackServer{log: log}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: http.HandlerFunc(s.handle)}
	go s.srv.Serve(ln)
	return s, nil
}

// URL returns the ws endpoint clients should dial.
func (s *loopbackServer) URL() string { return "ws://" + s.addr }

func (s *loopbackServer) Close() error { return s.srv.Close() }

func (s *loopbackServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.log.Info("loopback session opened", "remote", conn.RemoteAddr())

	var mu sync.Mutex
	send := func(kind int, b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(kind, b)
	}
	sendJSON := func(msg gateway.Message) {
		b, err := json.Marshal(msg)
		if err == nil {
			send(websocket.TextMessage, b)
		}
	}

	uploaded := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Info("loopback session closed", "uploaded_frames", uploaded)
			return
		}
		if kind == websocket.BinaryMessage {
			uploaded++
			continue
		}

		msg, err := gateway.ParseMessage(data)
		if err != nil {
			s.log.Warn("loopback: bad message", "err", err)
			continue
		}
		switch m := msg.(type) {
		case *gateway.Hello:
			sendJSON(&gateway.Hello{Type: "hello", SessionID: uuid.NewString()})

		case *gateway.Listen:
			if m.State != gateway.ListenStop {
				continue
			}
			// Speak a canned response: tts start, fragmented batch, tts end.
			go func() {
				sendJSON(&gateway.TTS{Type: "tts", State: gateway.TTSStart, Text: "loopback reply"})
				batch := syntheticBatch()
				for off := 0; off < len(batch); off += 1024 {
					end := off + 1024
					if end > len(batch) {
						end = len(batch)
					}
					send(websocket.BinaryMessage, gateway.EncodeFragment(gateway.Fragment{
						Final:  end == len(batch),
						Total:  len(batch),
						Offset: off,
						Chunk:  batch[off:end],
					}))
				}
				time.Sleep(100 * time.Millisecond)
				sendJSON(&gateway.TTS{Type: "tts", State: gateway.TTSStop})
			}()

		case *gateway.Ping:
			sendJSON(&gateway.Pong{Type: "pong"})

		case *gateway.Abort:
			s.log.Info("loopback: client aborted", "reason", m.Reason)
		}
	}
}

// syntheticBatch packs a few tone-ish codec frames into one batch payload.
func syntheticBatch() []byte {
	const frames = 3
	var out []byte
	for f := 0; f < frames; f++ {
		frame := make([]byte, codecFrame*2)
		for i := 0; i < codecFrame; i++ {
			v := int16((i % 64) * 100)
			binary.LittleEndian.PutUint16(frame[2*i:], uint16(v))
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(frame)))
		out = append(out, hdr[:]...)
		out = append(out, frame...)
	}
	return out
}
