package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/YingzeHou/kinetiq-media-service/internal/analysis"
	"github.com/YingzeHou/kinetiq-media-service/internal/review"
	"github.com/YingzeHou/kinetiq-media-service/internal/session"
)

// newReviewServer builds a full server but also returns the HTTPServer so
// tests can reach the review monitor's clock hook
func newReviewServer(t *testing.T) (*httptest.Server, *HTTPServer) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()

	mgr := session.NewManager(cfg, &stubDialer{}, nil, logger)
	t.Cleanup(mgr.Stop)

	client, err := analysis.NewClient(analysis.Config{Endpoint: "http://analysis.example", APIKey: "test-key"})
	if err != nil {
		t.Fatalf("analysis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	h := NewHTTPServer(logger, cfg, mgr, client, sharedMetrics())
	ts := httptest.NewServer(h.server.Handler)
	t.Cleanup(ts.Close)

	return ts, h
}

func reviewTimeline() []timelinePoint {
	return []timelinePoint{{
		Timestamp:   1.0,
		DisplayTime: "00:01:000",
		Payload: review.FeedbackPayload{
			Issue: "elbow drops during backswing",
			Cues:  []string{"Elbow up"},
		},
	}}
}

func createReview(t *testing.T, ts *httptest.Server, timeline []timelinePoint) string {
	t.Helper()

	body, _ := json.Marshal(reviewCreateRequest{Timeline: timeline})
	resp, err := http.Post(ts.URL+"/review", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /review: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created struct {
		ReviewID string `json:"review_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ReviewID == "" {
		t.Fatal("create response missing review_id")
	}
	return created.ReviewID
}

func postTick(t *testing.T, ts *httptest.Server, id string, position float64, paused bool) reviewTickResponse {
	t.Helper()

	body, _ := json.Marshal(reviewTickRequest{Position: position, Paused: paused})
	resp, err := http.Post(ts.URL+"/review/"+id+"/tick", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST tick: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tick: expected 200, got %d", resp.StatusCode)
	}

	var tick reviewTickResponse
	if err := json.NewDecoder(resp.Body).Decode(&tick); err != nil {
		t.Fatalf("decode tick response: %v", err)
	}
	return tick
}

func TestReviewCreateRequiresTimeline(t *testing.T) {
	ts, _ := newReviewServer(t)

	resp, err := http.Post(ts.URL+"/review", "application/json", bytes.NewReader([]byte(`{"timeline": []}`)))
	if err != nil {
		t.Fatalf("POST /review: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestReviewTriggersAndRearms(t *testing.T) {
	ts, _ := newReviewServer(t)
	id := createReview(t, ts, reviewTimeline())

	// Normal playback toward the event: no commands yet.
	for _, pos := range []float64{0.4, 0.8} {
		if tick := postTick(t, ts, id, pos, false); len(tick.Commands) != 0 {
			t.Fatalf("unexpected commands at %v: %+v", pos, tick.Commands)
		}
	}

	// Crossing the event pauses and seeks onto the event frame.
	tick := postTick(t, ts, id, 1.2, false)
	if len(tick.Commands) != 2 || tick.Commands[0].Action != "pause" ||
		tick.Commands[1].Action != "seek" || tick.Commands[1].Target != 1.0 {
		t.Fatalf("expected pause+seek commands, got %+v", tick.Commands)
	}
	if tick.Payload == nil || tick.Payload.Issue != "elbow drops during backswing" {
		t.Fatalf("expected feedback payload, got %+v", tick.Payload)
	}

	// The client resumed by hand: no further commands for the same event.
	if tick := postTick(t, ts, id, 1.0, false); len(tick.Commands) != 0 {
		t.Fatalf("unexpected commands after manual resume: %+v", tick.Commands)
	}

	// Seeking back past the event re-arms it.
	postTick(t, ts, id, 0.2, false)
	postTick(t, ts, id, 0.6, false)
	tick = postTick(t, ts, id, 1.1, false)
	if len(tick.Commands) != 2 || tick.Commands[0].Action != "pause" {
		t.Fatalf("expected re-armed event to trigger, got %+v", tick.Commands)
	}

	var detail struct {
		Enabled bool                `json:"enabled"`
		Stats   review.MonitorStats `json:"stats"`
	}
	if code := getJSON(t, ts.URL+"/review/"+id, &detail); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if detail.Stats.Triggers != 2 || detail.Stats.BackwardSeeks != 1 || detail.Stats.ManualResumes != 1 {
		t.Errorf("unexpected stats: %+v", detail.Stats)
	}
}

func TestReviewDwellAutoResume(t *testing.T) {
	ts, h := newReviewServer(t)
	id := createReview(t, ts, reviewTimeline())

	sess, ok := h.reviews.get(id)
	if !ok {
		t.Fatal("review not registered")
	}
	base := time.Now()
	sess.monitor.SetNow(func() time.Time { return base })

	postTick(t, ts, id, 0.4, false)
	postTick(t, ts, id, 0.8, false)
	tick := postTick(t, ts, id, 1.2, false)
	if len(tick.Commands) == 0 {
		t.Fatal("event never triggered")
	}

	// Dwell has not elapsed: the player stays paused on the event.
	tick = postTick(t, ts, id, 1.0, true)
	if len(tick.Commands) != 0 || tick.Payload == nil {
		t.Fatalf("expected payload to stay up during dwell, got %+v", tick)
	}

	// Dwell expiry resumes playback and clears the payload.
	sess.monitor.SetNow(func() time.Time { return base.Add(4 * time.Second) })
	tick = postTick(t, ts, id, 1.0, true)
	if len(tick.Commands) != 1 || tick.Commands[0].Action != "play" {
		t.Fatalf("expected play command after dwell, got %+v", tick.Commands)
	}
	if tick.Payload != nil {
		t.Errorf("payload not cleared after dwell: %+v", tick.Payload)
	}
}

func TestReviewDisableSkipsEvents(t *testing.T) {
	ts, _ := newReviewServer(t)
	id := createReview(t, ts, reviewTimeline())

	body := bytes.NewReader([]byte(`{"enabled": false}`))
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/review/"+id, body)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /review/{id}: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	for _, pos := range []float64{0.4, 0.8, 1.2} {
		tick := postTick(t, ts, id, pos, false)
		if len(tick.Commands) != 0 {
			t.Fatalf("disabled monitor issued commands at %v: %+v", pos, tick.Commands)
		}
		if tick.Enabled {
			t.Fatal("tick response reports enabled after disable")
		}
	}
}

func TestReviewCloseEndpoint(t *testing.T) {
	ts, h := newReviewServer(t)
	id := createReview(t, ts, reviewTimeline())

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/review/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /review/{id}: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	body, _ := json.Marshal(reviewTickRequest{Position: 0.1})
	tickResp, err := http.Post(ts.URL+"/review/"+id+"/tick", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST tick: %v", err)
	}
	tickResp.Body.Close()
	if tickResp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after close, got %d", tickResp.StatusCode)
	}

	if stats := h.reviews.GetStats(); stats.ActiveReviews != 0 || stats.ReviewsClosed == 0 {
		t.Errorf("unexpected handler stats: %+v", stats)
	}
}
