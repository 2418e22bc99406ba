package review

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// FeedbackPayload is what gets presented when playback reaches a timeline
// event
type FeedbackPayload struct {
	Issue    string            `json:"issue"`
	Feedback map[string]string `json:"feedback,omitempty"`
	Cues     []string          `json:"cues,omitempty"`
	Positive bool              `json:"positive"`
}

// TimelineEvent is one feedback moment on the review timeline
type TimelineEvent struct {
	Timestamp float64
	Payload   FeedbackPayload

	consumed bool
}

// Player is the review playback surface the monitor drives
type Player interface {
	Position() float64
	Paused() bool
	Pause()
	Play()
	Seek(t float64)
}

// MonitorStats represents monitor counters for the HTTP API
type MonitorStats struct {
	Triggers      uint64 `json:"triggers"`
	BackwardSeeks uint64 `json:"backward_seeks"`
	ManualResumes uint64 `json:"manual_resumes"`
}

// Monitor walks the playback position across timeline events. It is
// cooperative: all decisions happen inside Tick, which the owner calls on
// its playback poll cadence. When the position crosses an unconsumed event
// the monitor pauses, seeks exactly onto the event frame, presents the
// payload, and arms a dwell deadline; on expiry it clears the payload and
// resumes playback if still enabled and still paused.
//
// A backward seek larger than the threshold re-arms every event past the
// new position. Forward jumps larger than the threshold skip events
// without presenting them.
type Monitor struct {
	player        Player
	events        []TimelineEvent
	dwell         time.Duration
	seekThreshold float64
	logger        *slog.Logger

	now func() time.Time

	enabled  bool
	prev     float64
	payload  *FeedbackPayload
	resumeAt time.Time

	triggers      uint64
	backwardSeeks uint64
	manualResumes uint64

	mu sync.Mutex
}

// NewMonitor creates an enabled monitor over the given events. Events are
// sorted by timestamp; the earliest matching event wins each tick.
func NewMonitor(player Player, events []TimelineEvent, dwell time.Duration, seekThreshold float64, logger *slog.Logger) (*Monitor, error) {
	if player == nil {
		return nil, fmt.Errorf("player cannot be nil")
	}
	if dwell <= 0 {
		return nil, fmt.Errorf("dwell must be positive, got %v", dwell)
	}
	if seekThreshold <= 0 {
		return nil, fmt.Errorf("seek threshold must be positive, got %v", seekThreshold)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sorted := make([]TimelineEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	return &Monitor{
		player:        player,
		events:        sorted,
		dwell:         dwell,
		seekThreshold: seekThreshold,
		logger:        logger,
		now:           time.Now,
		enabled:       true,
		prev:          player.Position(),
	}, nil
}

// SetNow overrides the monitor's clock. Test hook.
func (m *Monitor) SetNow(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetEnabled toggles the monitor. Disabling mid-dwell cancels the pending
// auto-resume and clears the payload immediately; the player is left
// exactly as it was, paused or not.
func (m *Monitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled == enabled {
		return
	}
	m.enabled = enabled

	if !enabled {
		m.resumeAt = time.Time{}
		m.payload = nil
	}

	m.logger.Debug("Review monitor toggled", slog.Bool("enabled", enabled))
}

// Enabled reports whether the monitor is active
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Payload returns the currently presented feedback, or nil
func (m *Monitor) Payload() *FeedbackPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payload
}

// GetStats returns current monitor counters
func (m *Monitor) GetStats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MonitorStats{
		Triggers:      m.triggers,
		BackwardSeeks: m.backwardSeeks,
		ManualResumes: m.manualResumes,
	}
}

// Tick runs one monitor step. The owner calls it on every playback poll;
// at most one event triggers per tick.
func (m *Monitor) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	// A dwell is pending. The user resuming by hand cancels the
	// auto-resume but keeps the payload visible until replaced.
	if !m.resumeAt.IsZero() {
		if !m.player.Paused() {
			m.resumeAt = time.Time{}
			m.manualResumes++
		} else if !now.Before(m.resumeAt) {
			m.resumeAt = time.Time{}
			m.payload = nil
			if m.enabled && m.player.Paused() {
				m.player.Play()
			}
		}
	}

	curr := m.player.Position()
	prev := m.prev
	m.prev = curr

	if !m.enabled {
		return
	}

	// Backward seek: re-arm every event past the new position.
	if prev-curr > m.seekThreshold {
		m.backwardSeeks++
		for i := range m.events {
			if m.events[i].Timestamp > curr {
				m.events[i].consumed = false
			}
		}
		return
	}

	// Forward jump: events inside the jump are skipped, not presented.
	if curr-prev > m.seekThreshold {
		return
	}

	for i := range m.events {
		e := &m.events[i]
		if e.consumed || e.Timestamp < prev {
			continue
		}
		if e.Timestamp > curr {
			break
		}

		e.consumed = true
		m.player.Pause()
		m.player.Seek(e.Timestamp)
		m.prev = e.Timestamp
		m.payload = &e.Payload
		m.resumeAt = now.Add(m.dwell)
		m.triggers++

		m.logger.Debug("Feedback triggered",
			slog.Float64("timestamp", e.Timestamp),
			slog.String("issue", e.Payload.Issue))
		return
	}
}
