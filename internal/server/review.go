package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/YingzeHou/kinetiq-media-service/internal/config"
	"github.com/YingzeHou/kinetiq-media-service/internal/review"
)

// playerCommand is one instruction the client-side player executes after a
// tick: pause, play, or seek to a target position.
type playerCommand struct {
	Action string  `json:"action"`
	Target float64 `json:"target,omitempty"`
}

// remotePlayer adapts a client-side video player to the review monitor.
// Position and paused state are whatever the client reported on the last
// tick; control calls are queued as commands and returned in the tick
// response for the client to apply.
type remotePlayer struct {
	position float64
	paused   bool
	cmds     []playerCommand
}

func (p *remotePlayer) Position() float64 { return p.position }
func (p *remotePlayer) Paused() bool      { return p.paused }

func (p *remotePlayer) Pause() {
	p.paused = true
	p.cmds = append(p.cmds, playerCommand{Action: "pause"})
}

func (p *remotePlayer) Play() {
	p.paused = false
	p.cmds = append(p.cmds, playerCommand{Action: "play"})
}

func (p *remotePlayer) Seek(t float64) {
	p.position = t
	p.cmds = append(p.cmds, playerCommand{Action: "seek", Target: t})
}

// takeCommands drains the queued commands
func (p *remotePlayer) takeCommands() []playerCommand {
	cmds := p.cmds
	p.cmds = nil
	return cmds
}

// reviewSession pairs one monitor with the remote player it steers. The
// mutex serializes ticks from concurrent HTTP requests.
type reviewSession struct {
	id      string
	player  *remotePlayer
	monitor *review.Monitor
	created time.Time

	mu sync.Mutex
}

// ReviewHandlerStats represents review handler counters for the HTTP API
type ReviewHandlerStats struct {
	ActiveReviews  int    `json:"active_reviews"`
	ReviewsCreated uint64 `json:"reviews_created"`
	ReviewsClosed  uint64 `json:"reviews_closed"`
}

// ReviewHandler manages timeline review sessions over the HTTP API. A
// client creates a review from an analysis timeline, then posts its player
// position on every poll; the monitor decides when to pause on a feedback
// moment and the response carries the commands the player should apply.
type ReviewHandler struct {
	cfg    config.ReviewConfig
	logger *slog.Logger

	sessions map[string]*reviewSession
	created  uint64
	closed   uint64
	mu       sync.RWMutex
}

// NewReviewHandler creates a review handler using dwell and seek threshold
// from the review configuration
func NewReviewHandler(cfg config.ReviewConfig, logger *slog.Logger) *ReviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewHandler{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*reviewSession),
	}
}

// reviewCreateRequest is the POST /review body
type reviewCreateRequest struct {
	Timeline []timelinePoint `json:"timeline"`
}

// HandleCreate implements POST /review
func (h *ReviewHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req reviewCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request body", http.StatusBadRequest)
		return
	}
	if len(req.Timeline) == 0 {
		http.Error(w, "timeline is required", http.StatusBadRequest)
		return
	}

	events := make([]review.TimelineEvent, 0, len(req.Timeline))
	for _, p := range req.Timeline {
		events = append(events, review.TimelineEvent{
			Timestamp: p.Timestamp,
			Payload:   p.Payload,
		})
	}

	player := &remotePlayer{}
	monitor, err := review.NewMonitor(player, events, h.cfg.GetDwell(), h.cfg.SeekThreshold, h.logger)
	if err != nil {
		http.Error(w, "Error creating review", http.StatusInternalServerError)
		return
	}

	sess := &reviewSession{
		id:      uuid.NewString(),
		player:  player,
		monitor: monitor,
		created: time.Now(),
	}

	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.created++
	h.mu.Unlock()

	h.logger.Info("Review created",
		slog.String("review_id", sess.id),
		slog.Int("events", len(events)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"review_id": sess.id,
		"events":    len(events),
	})
}

// reviewTickRequest is the POST /review/{id}/tick body: the client's
// current player state
type reviewTickRequest struct {
	Position float64 `json:"position"`
	Paused   bool    `json:"paused"`
}

// reviewTickResponse carries the monitor's decisions back to the client
type reviewTickResponse struct {
	Commands []playerCommand         `json:"commands"`
	Payload  *review.FeedbackPayload `json:"payload,omitempty"`
	Enabled  bool                    `json:"enabled"`
}

// HandleTick implements POST /review/{id}/tick
func (h *ReviewHandler) HandleTick(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Review not found", http.StatusNotFound)
		return
	}

	var req reviewTickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request body", http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	sess.player.position = req.Position
	sess.player.paused = req.Paused
	sess.monitor.Tick()
	resp := reviewTickResponse{
		Commands: sess.player.takeCommands(),
		Payload:  sess.monitor.Payload(),
		Enabled:  sess.monitor.Enabled(),
	}
	sess.mu.Unlock()

	if resp.Commands == nil {
		resp.Commands = []playerCommand{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// reviewUpdateRequest is the PUT /review/{id} body
type reviewUpdateRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleUpdate implements PUT /review/{id}: toggles the monitor
func (h *ReviewHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Review not found", http.StatusNotFound)
		return
	}

	var req reviewUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request body", http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	sess.monitor.SetEnabled(req.Enabled)
	sess.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// HandleDetail implements GET /review/{id}
func (h *ReviewHandler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Review not found", http.StatusNotFound)
		return
	}

	sess.mu.Lock()
	detail := map[string]interface{}{
		"review_id": sess.id,
		"created":   sess.created.UTC(),
		"enabled":   sess.monitor.Enabled(),
		"stats":     sess.monitor.GetStats(),
	}
	sess.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// HandleClose implements DELETE /review/{id}
func (h *ReviewHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	h.mu.Lock()
	_, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
		h.closed++
	}
	h.mu.Unlock()

	if !ok {
		http.Error(w, "Review not found", http.StatusNotFound)
		return
	}

	h.logger.Info("Review closed", slog.String("review_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns current review handler statistics
func (h *ReviewHandler) GetStats() ReviewHandlerStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return ReviewHandlerStats{
		ActiveReviews:  len(h.sessions),
		ReviewsCreated: h.created,
		ReviewsClosed:  h.closed,
	}
}

func (h *ReviewHandler) get(id string) (*reviewSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[id]
	return sess, ok
}
