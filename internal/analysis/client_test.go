package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	c, err := NewClient(Config{
		Endpoint:      endpoint,
		APIKey:        "test-key",
		Timeout:       5 * time.Second,
		MaxRetries:    2,
		MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestAnalyzeDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", got)
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("not multipart: %v", err)
		}
		if got := r.FormValue("sport"); got != "tennis" {
			t.Errorf("sport = %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing video file: %v", err)
		} else {
			file.Close()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleResultJSON))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	result, err := c.Analyze(context.Background(), []byte("fake video"), "video/mp4", "tennis", "serve")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if result.OverallScore != 72.5 {
		t.Errorf("overall score = %v", result.OverallScore)
	}

	stats := c.GetStats()
	if stats.SuccessRequests != 1 {
		t.Errorf("expected 1 success, got %d", stats.SuccessRequests)
	}
}

func TestAnalyzeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleResultJSON))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	if _, err := c.Analyze(context.Background(), []byte("v"), "video/mp4", "tennis", "serve"); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if got := c.GetStats().TotalRetries; got != 1 {
		t.Errorf("expected 1 retry, got %d", got)
	}
}

func TestAnalyzeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad video", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	if _, err := c.Analyze(context.Background(), []byte("v"), "video/mp4", "tennis", "serve"); err == nil {
		t.Fatal("expected error")
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("400 must not be retried, got %d attempts", got)
	}
}

func TestCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coordinates" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"coordinates":[
			{"part":"arms","label":"elbow","x":42.5,"y":31.0,"labelSide":"left","status":"fix"}
		]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	coords, err := c.Coordinates(context.Background(), []byte("jpeg"), "tennis", []string{"arms"})
	if err != nil {
		t.Fatalf("Coordinates failed: %v", err)
	}

	if len(coords) != 1 {
		t.Fatalf("expected 1 coordinate, got %d", len(coords))
	}
	if coords[0].Part != "arms" || coords[0].X != 42.5 {
		t.Errorf("coordinate = %+v", coords[0])
	}
}

func TestCoordinatesMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"coordinates": [`},
		{"empty list", `{"coordinates": []}`},
		{"out of range", `{"coordinates":[{"part":"arms","label":"elbow","x":150,"y":10,"labelSide":"left"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := testClient(t, srv.URL)

			_, err := c.Coordinates(context.Background(), []byte("jpeg"), "tennis", []string{"arms"})
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}); err == nil {
		t.Error("expected error for empty endpoint")
	}
	if _, err := NewClient(Config{Endpoint: "http://x"}); err == nil {
		t.Error("expected error for empty API key")
	}
}
