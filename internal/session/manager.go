package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YingzeHou/kinetiq-media-service/internal/audio"
	"github.com/YingzeHou/kinetiq-media-service/internal/capture"
	"github.com/YingzeHou/kinetiq-media-service/internal/config"
	"github.com/YingzeHou/kinetiq-media-service/internal/transport"
)

const cleanupInterval = 30 * time.Second

// CreateParams carry the per-session collaborators supplied by the caller.
// The playback sink and clock belong to the client side of the session:
// local sessions use the speaker, remote sessions relay to the websocket.
type CreateParams struct {
	Acquirer       capture.Acquirer
	Sink           audio.Sink
	Clock          audio.Clock
	Callbacks      Callbacks
	OnPlaybackIdle func()
}

// Manager tracks all active sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	cfg      *config.Config
	dialer   transport.Dialer
	recorder Recorder
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine
func NewManager(cfg *config.Config, dialer transport.Dialer, recorder Recorder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		dialer:   dialer,
		recorder: recorder,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go m.startCleanupRoutine()

	return m
}

// CreateSession builds and starts a new session
func (m *Manager) CreateSession(p CreateParams) (*Session, error) {
	if p.Acquirer == nil {
		return nil, fmt.Errorf("acquirer cannot be nil")
	}
	if p.Sink == nil || p.Clock == nil {
		return nil, fmt.Errorf("playback sink and clock cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if max := m.cfg.Session.MaxSessions; max > 0 && len(m.sessions) >= max {
		return nil, fmt.Errorf("session limit reached (%d)", max)
	}

	id := uuid.NewString()

	encoder, err := audio.NewEncoder(
		audio.NewResampler(m.cfg.Audio.UplinkRate), m.cfg.Audio.VoiceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	scheduler, err := audio.NewScheduler(p.Clock, p.Sink, m.cfg.Audio.PlaybackRate, p.OnPlaybackIdle)
	if err != nil {
		return nil, fmt.Errorf("failed to create playback scheduler: %w", err)
	}

	sess, err := New(Config{
		ID:               id,
		Acquirer:         p.Acquirer,
		Dialer:           m.dialer,
		Encoder:          encoder,
		Scheduler:        scheduler,
		HandshakeTimeout: m.cfg.Agent.GetHandshakeTimeout(),
		FrameInterval:    m.cfg.Video.GetFrameInterval(),
		FrameMaxWidth:    m.cfg.Video.MaxWidth,
		FrameQuality:     m.cfg.Video.JPEGQuality,
		Callbacks:        p.Callbacks,
		Recorder:         m.recorder,
		Logger:           m.logger,
	})
	if err != nil {
		return nil, err
	}

	m.sessions[id] = sess
	sess.Start(m.ctx)

	m.logger.Info("Created session",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(m.sessions)))

	return sess, nil
}

// GetSession retrieves a session by id
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[id]
	return sess, exists
}

// GetActiveSessionCount returns the number of tracked sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllInfos returns snapshots of all tracked sessions
func (m *Manager) GetAllInfos() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, sess.GetInfo())
	}
	return infos
}

// RemoveSession closes and forgets a session
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	sess, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	sess.Close()
	<-sess.Done()

	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.String("final_state", sess.State().String()))

	return true
}

// Stop closes all sessions and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	for _, sess := range sessions {
		<-sess.Done()
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("closed_sessions", len(sessions)))
}

func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("idle_timeout", m.cfg.Session.GetIdleTimeout()),
		slog.Duration("check_interval", cleanupInterval))

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return
		case <-ticker.C:
			m.reapSessions()
		}
	}
}

// reapSessions removes sessions that are terminal or idle past the timeout
func (m *Manager) reapSessions() {
	timeout := m.cfg.Session.GetIdleTimeout()
	now := time.Now()

	m.mu.RLock()
	expired := make([]string, 0)
	for id, sess := range m.sessions {
		state := sess.State()
		if state == StateClosed || state == StateError {
			expired = append(expired, id)
			continue
		}
		if timeout > 0 && now.Sub(sess.LastActivity()) > timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Reaping sessions", slog.Int("count", len(expired)))
	for _, id := range expired {
		m.RemoveSession(id)
	}
}
