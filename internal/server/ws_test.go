package server

import (
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YingzeHou/kinetiq-media-service/internal/audio"
	"github.com/YingzeHou/kinetiq-media-service/internal/capture"
	"github.com/YingzeHou/kinetiq-media-service/internal/session"
	"github.com/YingzeHou/kinetiq-media-service/internal/transport"
)

type noopSink struct{}

func (noopSink) Play(buf *audio.PlaybackBuffer, startAt float64, done func()) (audio.Handle, error) {
	go done()
	return noopHandle{}, nil
}

type noopHandle struct{}

func (noopHandle) Stop() {}

type fixedClock struct{}

func (fixedClock) Now() float64 { return 0 }

func videoOnlyMedia() *capture.RemoteMedia {
	return capture.NewRemoteMedia(false, true)
}

func dialLive(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads client messages until one of the wanted type arrives
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) clientMessage {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ws.SetReadDeadline(deadline)
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %q: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %q message before deadline", msgType)
	return clientMessage{}
}

func latestConn(t *testing.T, dialer *stubDialer) *stubConn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dialer.mu.Lock()
		var c *stubConn
		if n := len(dialer.conns); n > 0 {
			c = dialer.conns[n-1]
		}
		dialer.mu.Unlock()
		if c != nil {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("agent connection never dialed")
	return nil
}

func TestLiveSessionLifecycle(t *testing.T) {
	ts, mgr, dialer := newTestServer(t)
	ws := dialLive(t, ts)

	if err := ws.WriteJSON(clientMessage{Type: "start", Audio: true, Video: false}); err != nil {
		t.Fatalf("send start: %v", err)
	}

	created := readUntil(t, ws, "session")
	if created.SessionID == "" {
		t.Fatal("session message missing id")
	}
	if _, exists := mgr.GetSession(created.SessionID); !exists {
		t.Fatal("session not registered with manager")
	}

	// The stub agent accepts immediately, so the session reaches live.
	for {
		msg := readUntil(t, ws, "state")
		if msg.State == session.StateLive.String() {
			break
		}
		if msg.State == session.StateError.String() {
			t.Fatalf("session failed: %s", msg.ErrorKind)
		}
	}

	// Client microphone audio flows through to the agent connection.
	pcm := audio.PCM16Bytes([]int16{1000, -1000, 2000, -2000})
	err := ws.WriteJSON(clientMessage{
		Type:       "audio",
		DataB64:    base64.StdEncoding.EncodeToString(pcm),
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("send audio: %v", err)
	}

	agent := latestConn(t, dialer)
	select {
	case p := <-agent.sent:
		if p.Kind != transport.PacketAudio {
			t.Errorf("expected audio packet, got kind %d", p.Kind)
		}
		if p.SampleRate != 16000 {
			t.Errorf("expected 16000Hz uplink, got %d", p.SampleRate)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("agent never received uplink audio")
	}

	// Agent transcript deltas reach the client.
	agent.emit(transport.Event{Kind: transport.EventTranscriptDelta, Text: "keep your core engaged."})
	if msg := readUntil(t, ws, "transcript"); msg.Text != "keep your core engaged." {
		t.Errorf("unexpected transcript: %q", msg.Text)
	}

	// Agent playback audio is relayed back to the client.
	agent.emit(transport.Event{Kind: transport.EventAudioPacket, Audio: audio.PCM16Bytes([]int16{100, 200, 300, 400})})
	if msg := readUntil(t, ws, "audio"); msg.SampleRate != 24000 {
		t.Errorf("expected playback at 24000Hz, got %d", msg.SampleRate)
	}

	// Dropping the websocket tears the session down.
	ws.Close()
	sess, exists := mgr.GetSession(created.SessionID)
	if exists {
		select {
		case <-sess.Done():
		case <-time.After(3 * time.Second):
			t.Fatal("session survived client disconnect")
		}
	}
}

func TestLiveAcceptsWavAudio(t *testing.T) {
	ts, _, dialer := newTestServer(t)
	ws := dialLive(t, ts)

	if err := ws.WriteJSON(clientMessage{Type: "start", Audio: true}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	readUntil(t, ws, "session")

	wav, err := audio.EncodeWAV([]int16{500, -500, 1500, -1500}, 48000)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	err = ws.WriteJSON(clientMessage{
		Type:    "audio",
		Format:  "wav",
		DataB64: base64.StdEncoding.EncodeToString(wav),
	})
	if err != nil {
		t.Fatalf("send wav audio: %v", err)
	}

	agent := latestConn(t, dialer)
	select {
	case p := <-agent.sent:
		if p.Kind != transport.PacketAudio {
			t.Errorf("expected audio packet, got kind %d", p.Kind)
		}
		// 48kHz input is resampled to the fixed uplink rate
		if p.SampleRate != 16000 {
			t.Errorf("expected 16000Hz uplink, got %d", p.SampleRate)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("agent never received uplink audio")
	}
}

func TestLiveRejectsNonStartHello(t *testing.T) {
	ts, _, _ := newTestServer(t)
	ws := dialLive(t, ts)

	if err := ws.WriteJSON(clientMessage{Type: "audio"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := readUntil(t, ws, "error")
	if !strings.Contains(msg.Text, "start") {
		t.Errorf("unexpected error text: %q", msg.Text)
	}
}

func TestLiveMuteControl(t *testing.T) {
	ts, mgr, _ := newTestServer(t)
	ws := dialLive(t, ts)

	if err := ws.WriteJSON(clientMessage{Type: "start", Audio: true}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	created := readUntil(t, ws, "session")

	sess, exists := mgr.GetSession(created.SessionID)
	if !exists {
		t.Fatal("session not registered")
	}

	if err := ws.WriteJSON(clientMessage{Type: "mute", Muted: true}); err != nil {
		t.Fatalf("send mute: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !sess.Muted() {
		if time.Now().After(deadline) {
			t.Fatal("mute never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ws.WriteJSON(clientMessage{Type: "mute", Muted: false}); err != nil {
		t.Fatalf("send unmute: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for sess.Muted() {
		if time.Now().After(deadline) {
			t.Fatal("unmute never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLiveStats(t *testing.T) {
	ts, _, _ := newTestServer(t)
	ws := dialLive(t, ts)

	if err := ws.WriteJSON(clientMessage{Type: "start", Audio: true}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	readUntil(t, ws, "session")

	var stats map[string]interface{}
	if code := getJSON(t, ts.URL+"/stats", &stats); code != 200 {
		t.Fatalf("stats failed: %d", code)
	}
	live, ok := stats["live"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing live stats: %v", stats)
	}
	if live["connections_total"].(float64) < 1 {
		t.Error("connection not counted")
	}
}
