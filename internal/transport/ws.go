package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	maxEventSize = 4 * 1024 * 1024
)

// envelope is the JSON wire format in both directions
type envelope struct {
	Type       string `json:"type"`
	Model      string `json:"model,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text,omitempty"`
	DataB64    string `json:"data_b64,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Mime       string `json:"mime,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// AgentDialer dials the live agent backend over websocket
type AgentDialer struct {
	URL       string
	APIKey    string
	Model     string
	QueueSize int
	Logger    *slog.Logger
}

// Dial connects and starts the handshake. The returned connection emits
// EventOpened once the agent acknowledges the setup message.
func (d *AgentDialer) Dial(ctx context.Context, sessionID string) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := d.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	header := http.Header{}
	if d.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.APIKey)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: agent rejected credentials (status %d)", ErrEntitlement, resp.StatusCode)
		}
		return nil, fmt.Errorf("agent dial failed: %w", err)
	}
	ws.SetReadLimit(maxEventSize)

	c := &wsConn{
		ws:       ws,
		logger:   logger.With(slog.String("session_id", sessionID)),
		events:   make(chan Event, 32),
		outbound: make(chan envelope, queueSize),
		stop:     make(chan struct{}),
	}

	// Setup goes through the writer so that all websocket writes stay on
	// one goroutine.
	c.outbound <- envelope{Type: "setup", Model: d.Model, SessionID: sessionID}

	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

// wsConn implements Conn over gorilla/websocket. A single writer goroutine
// drains the outbound queue; the read loop is the only reader.
type wsConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	events   chan Event
	outbound chan envelope
	stop     chan struct{}

	// pending holds packets submitted before the agent reported open;
	// they are flushed in submission order on EventOpened.
	pending []envelope
	opened  bool
	closed  bool
	mu      sync.Mutex

	closeOnce sync.Once
}

func (c *wsConn) Events() <-chan Event {
	return c.events
}

// Send enqueues one media packet. Before the handshake completes packets
// are buffered; afterwards they go straight to the writer. A full queue
// drops the packet with ErrQueueFull rather than blocking the caller.
func (c *wsConn) Send(p Packet) error {
	env, err := encodePacket(p)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.opened {
		c.pending = append(c.pending, env)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	select {
	case c.outbound <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

func encodePacket(p Packet) (envelope, error) {
	switch p.Kind {
	case PacketAudio:
		if len(p.Data) == 0 {
			return envelope{}, fmt.Errorf("empty audio packet")
		}
		return envelope{
			Type:       "audio",
			DataB64:    base64.StdEncoding.EncodeToString(p.Data),
			SampleRate: p.SampleRate,
		}, nil
	case PacketFrame:
		if len(p.Data) == 0 {
			return envelope{}, fmt.Errorf("empty frame packet")
		}
		return envelope{
			Type:    "frame",
			DataB64: base64.StdEncoding.EncodeToString(p.Data),
			Mime:    "image/jpeg",
		}, nil
	default:
		return envelope{}, fmt.Errorf("unknown packet kind %d", p.Kind)
	}
}

// markOpened flips the connection open and flushes the pre-open buffer in
// submission order
func (c *wsConn) markOpened() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.opened = true
	c.mu.Unlock()

	for _, env := range pending {
		select {
		case c.outbound <- env:
		case <-c.stop:
			return
		}
	}
}

func (c *wsConn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isStopped() {
				c.emit(Event{Kind: EventClosed})
			} else {
				c.emit(Event{Kind: EventError, Err: fmt.Errorf("connection lost: %w", err)})
				c.emit(Event{Kind: EventClosed})
			}
			c.Close()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Dropping malformed agent message", slog.String("error", err.Error()))
			continue
		}

		switch env.Type {
		case "opened":
			c.markOpened()
			c.emit(Event{Kind: EventOpened})
		case "transcript":
			c.emit(Event{Kind: EventTranscriptDelta, Text: env.Text})
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(env.DataB64)
			if err != nil {
				c.logger.Warn("Dropping audio with bad base64", slog.String("error", err.Error()))
				continue
			}
			c.emit(Event{Kind: EventAudioPacket, Audio: pcm})
		case "interrupted":
			c.emit(Event{Kind: EventInterrupted})
		case "error":
			c.emit(Event{Kind: EventError, Err: classifyAgentError(env.Code, env.Message)})
		case "closed":
			c.emit(Event{Kind: EventClosed})
			c.Close()
			return
		default:
			c.logger.Debug("Ignoring unknown agent message", slog.String("type", env.Type))
		}
	}
}

// classifyAgentError maps agent error codes onto the sentinel taxonomy
func classifyAgentError(code, message string) error {
	switch code {
	case "unauthorized", "forbidden", "entitlement", "model_unavailable", "quota_exceeded":
		return fmt.Errorf("%w: %s (%s)", ErrEntitlement, message, code)
	default:
		return fmt.Errorf("agent error: %s (%s)", message, code)
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case env := <-c.outbound:
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("Failed to encode outbound envelope", slog.String("error", err.Error()))
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("Outbound write failed", slog.String("error", err.Error()))
				c.Close()
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *wsConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

func (c *wsConn) isStopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Close is idempotent. It attempts a clean websocket close and stops both
// loops; events already queued remain readable.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stop)

		deadline := time.Now().Add(time.Second)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.ws.Close()
	})
	return nil
}
