package server

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YingzeHou/kinetiq-media-service/internal/audio"
	"github.com/YingzeHou/kinetiq-media-service/internal/capture"
	"github.com/YingzeHou/kinetiq-media-service/internal/session"
)

const (
	liveWriteTimeout = 10 * time.Second
	liveReadLimit    = 4 * 1024 * 1024
	liveSendQueue    = 256
)

// clientMessage is the JSON envelope exchanged with the browser client.
// Binary payloads travel base64 encoded inside it.
type clientMessage struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id,omitempty"`
	Audio      bool    `json:"audio,omitempty"`
	Video      bool    `json:"video,omitempty"`
	Muted      bool    `json:"muted,omitempty"`
	DataB64    string  `json:"data_b64,omitempty"`
	Format     string  `json:"format,omitempty"` // "pcm16" (default) or "wav"
	SampleRate int     `json:"sample_rate,omitempty"`
	State      string  `json:"state,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	Text       string  `json:"text,omitempty"`
	Level      float64 `json:"level,omitempty"`
}

// LiveHandlerStats represents live connection statistics for monitoring
type LiveHandlerStats struct {
	ConnectionsTotal  uint64 `json:"connections_total"`
	ConnectionsActive int64  `json:"connections_active"`
	MessagesDropped   uint64 `json:"messages_dropped"`
}

// LiveHandler upgrades /live requests and bridges one websocket client to
// one coaching session
type LiveHandler struct {
	sessionMgr *session.Manager
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	connectionsTotal  atomic.Uint64
	connectionsActive atomic.Int64
	messagesDropped   atomic.Uint64
}

// NewLiveHandler creates the live websocket handler
func NewLiveHandler(sessionMgr *session.Manager, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{
		sessionMgr: sessionMgr,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins during
			// local coaching sessions.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// GetStats returns current live connection statistics
func (l *LiveHandler) GetStats() LiveHandlerStats {
	return LiveHandlerStats{
		ConnectionsTotal:  l.connectionsTotal.Load(),
		ConnectionsActive: l.connectionsActive.Load(),
		MessagesDropped:   l.messagesDropped.Load(),
	}
}

// ServeHTTP implements the /live endpoint
func (l *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	ws.SetReadLimit(liveReadLimit)

	l.connectionsTotal.Add(1)
	l.connectionsActive.Add(1)
	defer l.connectionsActive.Add(-1)

	conn := newLiveConn(l, ws)
	conn.run()
}

// liveConn is one upgraded client connection
type liveConn struct {
	handler *LiveHandler
	ws      *websocket.Conn
	logger  *slog.Logger

	media   *capture.RemoteMedia
	session *session.Session

	started time.Time
	send    chan clientMessage
	stop    chan struct{}
	once    sync.Once
}

func newLiveConn(l *LiveHandler, ws *websocket.Conn) *liveConn {
	return &liveConn{
		handler: l,
		ws:      ws,
		logger:  l.logger,
		started: time.Now(),
		send:    make(chan clientMessage, liveSendQueue),
		stop:    make(chan struct{}),
	}
}

func (c *liveConn) run() {
	defer c.teardown()

	// The first message declares which devices the client grants.
	var hello clientMessage
	if err := c.ws.ReadJSON(&hello); err != nil {
		c.logger.Warn("Live client hung up before hello", slog.String("error", err.Error()))
		return
	}
	if hello.Type != "start" {
		c.writeNow(clientMessage{Type: "error", Text: "expected start message"})
		return
	}

	c.media = capture.NewRemoteMedia(hello.Audio, hello.Video)

	sink := &relaySink{conn: c}
	sess, err := c.handler.sessionMgr.CreateSession(session.CreateParams{
		Acquirer: c.media,
		Sink:     sink,
		Clock:    &wallClock{epoch: c.started},
		Callbacks: session.Callbacks{
			OnState: func(state session.State, kind session.ErrorKind) {
				msg := clientMessage{Type: "state", State: state.String()}
				if kind != session.ErrorNone {
					msg.ErrorKind = kind.String()
				}
				c.enqueue(msg)
			},
			OnTranscript: func(text string) {
				c.enqueue(clientMessage{Type: "transcript", Text: text})
			},
			OnLevel: func(level float64) {
				c.enqueue(clientMessage{Type: "level", Level: level})
			},
		},
	})
	if err != nil {
		c.writeNow(clientMessage{Type: "error", Text: err.Error()})
		return
	}
	c.session = sess

	c.logger.Info("Live client connected",
		slog.String("session_id", sess.ID()),
		slog.Bool("audio", hello.Audio),
		slog.Bool("video", hello.Video),
	)

	go c.writeLoop()
	c.enqueue(clientMessage{Type: "session", SessionID: sess.ID()})

	c.readLoop()
}

// readLoop decodes inbound client messages until the connection drops
func (c *liveConn) readLoop() {
	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Live client read error", slog.String("error", err.Error()))
			}
			return
		}

		switch msg.Type {
		case "audio":
			if err := c.pushAudio(msg); err != nil {
				c.logger.Warn("Dropping malformed client audio",
					slog.String("session_id", c.session.ID()),
					slog.String("error", err.Error()))
			}
		case "frame":
			if err := c.pushFrame(msg); err != nil {
				c.logger.Warn("Dropping malformed client frame",
					slog.String("session_id", c.session.ID()),
					slog.String("error", err.Error()))
			}
		case "mute":
			c.session.SetMuted(msg.Muted)
		case "interrupt":
			c.session.Interrupt()
		case "stop":
			return
		default:
			c.logger.Debug("Ignoring unknown client message",
				slog.String("type", msg.Type))
		}
	}
}

func (c *liveConn) pushAudio(msg clientMessage) error {
	data, err := base64.StdEncoding.DecodeString(msg.DataB64)
	if err != nil {
		return fmt.Errorf("invalid base64 audio: %w", err)
	}

	var pcm []int16
	rate := msg.SampleRate
	switch msg.Format {
	case "wav":
		// WAV chunks carry their own sample rate
		pcm, rate, err = audio.DecodeWAV(data)
		if err != nil {
			return err
		}
	case "pcm16", "":
		if rate <= 0 {
			return fmt.Errorf("missing sample rate")
		}
		pcm, err = audio.PCM16Samples(data)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown audio format %q", msg.Format)
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}
	c.media.PushAudio(samples, rate, time.Since(c.started).Seconds())
	return nil
}

func (c *liveConn) pushFrame(msg clientMessage) error {
	data, err := base64.StdEncoding.DecodeString(msg.DataB64)
	if err != nil {
		return fmt.Errorf("invalid base64 frame: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid jpeg frame: %w", err)
	}
	c.media.PushFrame(img)
	return nil
}

// writeLoop is the single websocket writer
func (c *liveConn) writeLoop() {
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Warn("Live client write error", slog.String("error", err.Error()))
				c.close()
				return
			}
		case <-c.stop:
			return
		}
	}
}

// enqueue queues a message for the writer, dropping it when the client
// cannot keep up
func (c *liveConn) enqueue(msg clientMessage) {
	select {
	case c.send <- msg:
	case <-c.stop:
	default:
		c.handler.messagesDropped.Add(1)
	}
}

// writeNow writes directly, for use before the writer goroutine starts
func (c *liveConn) writeNow(msg clientMessage) {
	c.ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	c.ws.WriteJSON(msg)
}

func (c *liveConn) close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *liveConn) teardown() {
	c.close()
	if c.session != nil {
		c.handler.sessionMgr.RemoveSession(c.session.ID())
	}
	if c.media != nil {
		c.media.Close()
	}
	c.ws.Close()
}

// wallClock drives the playback schedule for relayed clients
type wallClock struct {
	epoch time.Time
}

func (w *wallClock) Now() float64 {
	return time.Since(w.epoch).Seconds()
}

// relaySink forwards scheduled playback buffers to the websocket client.
// The client plays them on arrival, so the sink delays each buffer until
// its scheduled start and fires the completion callback after the
// buffer's play time.
type relaySink struct {
	conn *liveConn
}

func (s *relaySink) Play(buf *audio.PlaybackBuffer, startAt float64, done func()) (audio.Handle, error) {
	h := &relayHandle{}

	delay := time.Duration((startAt - time.Since(s.conn.started).Seconds()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	pcm := make([]int16, len(buf.PCM))
	for i, v := range buf.PCM {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		pcm[i] = int16(v * 32767)
	}
	msg := clientMessage{
		Type:       "audio",
		DataB64:    base64.StdEncoding.EncodeToString(audio.PCM16Bytes(pcm)),
		SampleRate: buf.SampleRate,
	}

	h.timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return
		}
		h.doneTimer = time.AfterFunc(time.Duration(buf.Duration()*float64(time.Second)), func() {
			h.mu.Lock()
			cancelled := h.stopped
			h.mu.Unlock()
			if !cancelled {
				done()
			}
		})
		h.mu.Unlock()
		s.conn.enqueue(msg)
	})

	return h, nil
}

// relayHandle cancels a pending relay buffer
type relayHandle struct {
	mu        sync.Mutex
	stopped   bool
	timer     *time.Timer
	doneTimer *time.Timer
}

func (h *relayHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.doneTimer != nil {
		h.doneTimer.Stop()
	}
}
