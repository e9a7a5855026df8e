package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitony/voicegear/pkg/media"
	"github.com/hitony/voicegear/pkg/mempool"
	"github.com/hitony/voicegear/pkg/pipe"
)

// Config holds the client's connection parameters.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the session server.
	URL string
	// Header is sent with the handshake (auth token, device ID).
	Header http.Header
	// HandshakeTimeout bounds the dial. Zero means 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound write. Zero means 5s.
	WriteTimeout time.Duration
}

func (c *Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout <= 0 {
		return 10 * time.Second
	}
	return c.HandshakeTimeout
}

func (c *Config) writeTimeout() time.Duration {
	if c.WriteTimeout <= 0 {
		return 5 * time.Second
	}
	return c.WriteTimeout
}

// ErrNotConnected is returned by sends while the link is down.
var ErrNotConnected = errors.New("gateway: not connected")

// Client is the WebSocket session link. Dial connects and starts a read
// pump that feeds the transport-raw queue; sends are serialized by an
// internal mutex so the control and audio contexts may both transmit.
type Client struct {
	cfg   Config
	arena *mempool.Arena
	raw   *pipe.Queue[RawMsg]
	log   *slog.Logger

	mu   sync.Mutex // guards conn and writes on it
	conn *websocket.Conn
	gen  uint64 // bumped per dial so stale pumps can't signal
}

// NewClient creates a Client feeding inbound traffic to raw.
func NewClient(cfg Config, arena *mempool.Arena, raw *pipe.Queue[RawMsg], log *slog.Logger) *Client {
	return &Client{cfg: cfg, arena: arena, raw: raw, log: log}
}

// Dial connects to the session server, emits a RawConnected message, and
// starts the read pump. An existing connection is closed first.
func (c *Client) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.handshakeTimeout()}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("gateway: dial %s: %w (status %s)", c.cfg.URL, err, resp.Status)
		}
		return fmt.Errorf("gateway: dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(MaxPayload + fragHeaderLen)

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.log.Info("session link up", "url", c.cfg.URL)
	c.raw.TryPush(RawMsg{Kind: RawConnected})
	go c.readPump(conn, gen)
	return nil
}

// Close tears down the connection. The read pump notices and emits a
// RawDisconnected message.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether the link is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendJSON marshals msg and sends it as a text frame.
func (c *Client) SendJSON(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.send(websocket.TextMessage, b)
}

// SendBinary sends b as a binary frame. Used for outbound encoded audio.
func (c *Client) SendBinary(b []byte) error {
	return c.send(websocket.BinaryMessage, b)
}

func (c *Client) send(kind int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout()))
	return c.conn.WriteMessage(kind, b)
}

// readPump copies inbound frames into pool blocks and pushes them onto the
// raw queue. It runs until the connection errors, then reports the loss
// once unless a newer dial has already superseded this pump.
func (c *Client) readPump(conn *websocket.Conn, gen uint64) {
	reasm := NewReassembler(c.arena, c.raw, c.log)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			reasm.Interrupt()
			c.mu.Lock()
			stale := c.gen != gen
			if !stale {
				c.conn = nil
			}
			c.mu.Unlock()
			if !stale {
				c.log.Warn("session link down", "err", err)
				c.raw.TryPush(RawMsg{Kind: RawDisconnected})
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			if IsFragment(data) {
				frag, err := ParseFragment(data)
				if err != nil {
					continue
				}
				reasm.Offer(frag)
				continue
			}
			reasm.Interrupt()
			if len(data) == 0 {
				continue
			}
			pkt, err := media.PacketFrom(c.arena, data)
			if err != nil {
				c.log.Warn("inbound binary dropped", "size", len(data), "err", err)
				continue
			}
			c.raw.TryPush(RawMsg{Kind: RawBinary, Pkt: pkt})

		case websocket.TextMessage:
			// Control traffic never arrives mid-payload; a text frame here
			// means the fragment stream was cut short.
			reasm.Interrupt()
			pkt, err := media.PacketFrom(c.arena, data)
			if err != nil {
				c.log.Warn("inbound text dropped", "size", len(data), "err", err)
				continue
			}
			c.raw.TryPush(RawMsg{Kind: RawText, Pkt: pkt})
		}
	}
}
