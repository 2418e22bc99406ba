package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YingzeHou/kinetiq-media-service/internal/analysis"
	"github.com/YingzeHou/kinetiq-media-service/internal/config"
	"github.com/YingzeHou/kinetiq-media-service/internal/metrics"
	"github.com/YingzeHou/kinetiq-media-service/internal/review"
	"github.com/YingzeHou/kinetiq-media-service/internal/session"
)

// HTTPServer provides HTTP API endpoints for monitoring and management,
// plus the live coaching websocket endpoint
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	sessionMgr *session.Manager
	analysis   *analysis.Client
	metrics    *metrics.Metrics
	live       *LiveHandler
	reviews    *ReviewHandler

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(logger *slog.Logger, appConfig *config.Config,
	sessionMgr *session.Manager, analysisClient *analysis.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		sessionMgr: sessionMgr,
		analysis:   analysisClient,
		metrics:    m,
		startTime:  time.Now(),
	}
	h.live = NewLiveHandler(sessionMgr, logger)
	h.reviews = NewReviewHandler(appConfig.Review, logger)

	router := mux.NewRouter()
	h.setupRoutes(router)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(router *mux.Router) {
	// Health check endpoint
	router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)

	// Session monitoring endpoints
	router.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions)).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail)).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionClose)).Methods(http.MethodDelete)

	// Live coaching websocket endpoint. The websocket hijacks the
	// connection, so it bypasses the metrics wrapper.
	router.HandleFunc("/live", h.live.ServeHTTP)

	// Recorded session analysis endpoint
	router.HandleFunc("/analyze", h.withMetrics("/analyze", h.handleAnalyze)).Methods(http.MethodPost)

	// Timeline review endpoints: a client creates a review from an
	// analysis timeline, then reports its player position on every poll
	router.HandleFunc("/review", h.withMetrics("/review", h.reviews.HandleCreate)).Methods(http.MethodPost)
	router.HandleFunc("/review/{id}", h.withMetrics("/review/{id}", h.reviews.HandleDetail)).Methods(http.MethodGet)
	router.HandleFunc("/review/{id}", h.withMetrics("/review/{id}", h.reviews.HandleUpdate)).Methods(http.MethodPut)
	router.HandleFunc("/review/{id}", h.withMetrics("/review/{id}", h.reviews.HandleClose)).Methods(http.MethodDelete)
	router.HandleFunc("/review/{id}/tick", h.withMetrics("/review/{id}/tick", h.reviews.HandleTick)).Methods(http.MethodPost)

	// Configuration endpoint
	router.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)

	// Statistics endpoints
	router.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats)).Methods(http.MethodGet)
	router.HandleFunc("/stats/analysis", h.withMetrics("/stats/analysis", h.handleAnalysisStats)).Methods(http.MethodGet)

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Root endpoint with API documentation
	router.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	analysisStats := h.analysis.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "kinetiq-media-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.sessionMgr.GetActiveSessionCount(),
			},
			"analysis": map[string]interface{}{
				"status":          "running",
				"total_requests":  analysisStats.TotalRequests,
				"success_rate":    analysisStats.SuccessRate,
				"active_requests": analysisStats.ActiveRequests,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.sessionMgr.GetAllInfos()

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements GET /sessions/{id}
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	sess, exists := h.sessionMgr.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.GetInfo())
}

// handleSessionClose implements DELETE /sessions/{id}
func (h *HTTPServer) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !h.sessionMgr.RemoveSession(id) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	h.logger.Info("Session closed via API", slog.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// timelinePoint is one feedback moment in the /analyze response, ready
// to drive a client-side review timeline. FrameJPEG carries the rendered
// feedback frame, base64-encoded, when the client uploaded extracted
// frames alongside the video.
type timelinePoint struct {
	Timestamp   float64                `json:"timestamp"`
	DisplayTime string                 `json:"display_time"`
	Payload     review.FeedbackPayload `json:"payload"`
	FrameJPEG   string                 `json:"frame_jpeg,omitempty"`
	Annotated   bool                   `json:"annotated,omitempty"`
}

// handleAnalyze implements POST /analyze: a recorded session upload is
// forwarded to the analysis service and the result comes back with the
// feedback timeline for review playback. Extracted frames uploaded as
// frame_<index> parts are annotated with per-part coordinate markers and
// returned on their timeline points.
func (h *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	sport := r.FormValue("sport")
	action := r.FormValue("action")
	if sport == "" {
		http.Error(w, "sport is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		http.Error(w, "video file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading video file", http.StatusInternalServerError)
		return
	}

	frames, err := extractedFrames(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	h.metrics.RecordAnalysisRequest()

	start := time.Now()
	result, err := h.analysis.Analyze(r.Context(), data, mimeType, sport, action)
	if err != nil {
		h.metrics.RecordAnalysisFailure(time.Since(start).Seconds())
		h.logger.Error("Analysis request failed",
			slog.String("sport", sport),
			slog.String("error", err.Error()))
		http.Error(w, "Analysis failed", http.StatusBadGateway)
		return
	}
	h.metrics.RecordAnalysisSuccess(time.Since(start).Seconds())

	rendered := make(map[float64]analysis.FeedbackFrame)
	if len(frames) > 0 {
		for _, ff := range analysis.RenderFeedbackFrames(r.Context(), h.analysis, sport, result, frames, h.logger) {
			if ff.Annotated {
				h.metrics.RecordAnnotationRender()
			} else {
				h.metrics.RecordAnnotationSkip()
			}
			rendered[ff.Timestamp] = ff
		}
	}

	timeline := make([]timelinePoint, 0, len(result.Timestamps))
	for _, ts := range result.Timestamps {
		point := timelinePoint{
			Timestamp:   ts.Timestamp,
			DisplayTime: ts.DisplayTime,
			Payload: review.FeedbackPayload{
				Issue:    ts.Issue,
				Feedback: ts.Feedback,
				Cues:     ts.Cues,
				Positive: ts.IsPositive,
			},
		}
		if ff, ok := rendered[ts.Timestamp]; ok {
			point.FrameJPEG = base64.StdEncoding.EncodeToString(ff.JPEG)
			point.Annotated = ff.Annotated
		}
		timeline = append(timeline, point)
	}

	h.logger.Info("Analysis completed",
		slog.String("sport", sport),
		slog.String("action", action),
		slog.Int("video_bytes", len(data)),
		slog.Int("frames", len(frames)),
		slog.Float64("overall_score", result.OverallScore),
		slog.Int("feedback_moments", len(timeline)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"result":   result,
		"timeline": timeline,
	})
}

// extractedFrames collects frame_<index> multipart files into a frame
// index to JPEG map
func extractedFrames(r *http.Request) (map[int][]byte, error) {
	frames := make(map[int][]byte)

	for name, headers := range r.MultipartForm.File {
		if !strings.HasPrefix(name, "frame_") || len(headers) == 0 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, "frame_"))
		if err != nil {
			return nil, fmt.Errorf("invalid frame field %q", name)
		}

		f, err := headers[0].Open()
		if err != nil {
			return nil, fmt.Errorf("error reading %s", name)
		}
		jpegData, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading %s", name)
		}
		frames[index] = jpegData
	}

	return frames, nil
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
		},
		"agent": map[string]interface{}{
			"url":               h.config.Agent.URL,
			"model":             h.config.Agent.Model,
			"handshake_timeout": h.config.Agent.HandshakeTimeout,
			"outbound_queue":    h.config.Agent.OutboundQueue,
			// Note: API key is intentionally omitted for security
		},
		"audio": map[string]interface{}{
			"uplink_rate":     h.config.Audio.UplinkRate,
			"playback_rate":   h.config.Audio.PlaybackRate,
			"block_size":      h.config.Audio.BlockSize,
			"voice_threshold": h.config.Audio.VoiceThreshold,
		},
		"video": map[string]interface{}{
			"frame_interval": h.config.Video.FrameInterval,
			"max_width":      h.config.Video.MaxWidth,
			"jpeg_quality":   h.config.Video.JPEGQuality,
		},
		"session": map[string]interface{}{
			"idle_timeout": h.config.Session.IdleTimeout,
			"max_sessions": h.config.Session.MaxSessions,
		},
		"review": map[string]interface{}{
			"dwell_seconds":  h.config.Review.DwellSeconds,
			"seek_threshold": h.config.Review.SeekThreshold,
		},
		"analysis": map[string]interface{}{
			"endpoint":       h.config.Analysis.Endpoint,
			"timeout":        h.config.Analysis.Timeout,
			"max_retries":    h.config.Analysis.MaxRetries,
			"max_concurrent": h.config.Analysis.MaxConcurrent,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.sessionMgr.GetActiveSessionCount(),
		},
		"analysis": h.analysis.GetStats(),
		"live":     h.live.GetStats(),
		"review":   h.reviews.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleAnalysisStats implements the /stats/analysis endpoint
func (h *HTTPServer) handleAnalysisStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.analysis.GetStats())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "KinetiQ Media Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /sessions":            "List all active coaching sessions",
			"GET /sessions/{id}":       "Get detailed session information",
			"DELETE /sessions/{id}":    "Close a coaching session",
			"GET /live":                "Live coaching websocket",
			"POST /analyze":            "Analyze a recorded session video",
			"POST /review":             "Create a timeline review from an analysis timeline",
			"GET /review/{id}":         "Get review state and statistics",
			"PUT /review/{id}":         "Enable or disable a review monitor",
			"DELETE /review/{id}":      "Close a timeline review",
			"POST /review/{id}/tick":   "Report player position and receive commands",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get service statistics",
			"GET /stats/analysis":      "Get analysis client statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
