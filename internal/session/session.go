package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/YingzeHou/kinetiq-media-service/internal/audio"
	"github.com/YingzeHou/kinetiq-media-service/internal/capture"
	"github.com/YingzeHou/kinetiq-media-service/internal/transport"
	"github.com/YingzeHou/kinetiq-media-service/internal/video"
)

// State is the session lifecycle state
type State int32

const (
	StateIdle State = iota
	StateAcquiringDevice
	StateConnecting
	StateLive
	StateInterrupted
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringDevice:
		return "acquiring_device"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateInterrupted:
		return "interrupted"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies why a session entered StateError
type ErrorKind int32

const (
	ErrorNone ErrorKind = iota
	ErrorDeviceUnavailable
	ErrorHandshakeTimeout
	ErrorAuthOrEntitlement
	ErrorTransient
	ErrorDecodeFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorDeviceUnavailable:
		return "device_unavailable"
	case ErrorHandshakeTimeout:
		return "handshake_timeout"
	case ErrorAuthOrEntitlement:
		return "auth_or_entitlement"
	case ErrorTransient:
		return "transient"
	case ErrorDecodeFailure:
		return "decode_failure"
	default:
		return "unknown"
	}
}

// Recorder receives session lifecycle and traffic metrics. All hooks are
// optional.
type Recorder interface {
	RecordSessionCreated()
	RecordSessionClosed(state string, duration time.Duration)
	RecordStateTransition(state string)
	RecordUplinkPacket(kind string)
	RecordTranscriptDelta()
	RecordPlaybackBuffer()
	RecordPlaybackFlush()
	RecordDecodeError()
}

// Callbacks relay session output to the owning client connection. All
// callbacks are optional and invoked from the session's control loop; they
// must not block.
type Callbacks struct {
	OnState      func(state State, kind ErrorKind)
	OnTranscript func(text string)
	OnLevel      func(level float64)
}

// Config assembles one session's collaborators
type Config struct {
	ID               string
	Acquirer         capture.Acquirer
	Dialer           transport.Dialer
	Encoder          *audio.Encoder
	Scheduler        *audio.Scheduler
	HandshakeTimeout time.Duration
	FrameInterval    time.Duration
	FrameMaxWidth    int
	FrameQuality     int
	Callbacks        Callbacks
	Recorder         Recorder
	Logger           *slog.Logger
}

// Session is one live coaching session. All state is mutated by a single
// control-loop goroutine; concurrent callers interact through Close, mute,
// and snapshot accessors only.
type Session struct {
	id        string
	acquirer  capture.Acquirer
	dialer    transport.Dialer
	encoder   *audio.Encoder
	scheduler *audio.Scheduler
	callbacks Callbacks
	recorder  Recorder
	logger    *slog.Logger

	handshakeTimeout time.Duration
	frameInterval    time.Duration
	frameMaxWidth    int
	frameQuality     int

	state          atomic.Int32
	errKind        atomic.Int32
	muted          atomic.Bool
	audioAvailable atomic.Bool
	startTime      time.Time

	transcript Transcript

	lastActivity time.Time
	activityMu   sync.Mutex

	closeReq  chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a session in StateIdle. Start launches the control loop.
func New(cfg Config) (*Session, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if cfg.Acquirer == nil {
		return nil, fmt.Errorf("acquirer cannot be nil")
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("encoder cannot be nil")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	now := time.Now()
	s := &Session{
		id:               cfg.ID,
		acquirer:         cfg.Acquirer,
		dialer:           cfg.Dialer,
		encoder:          cfg.Encoder,
		scheduler:        cfg.Scheduler,
		callbacks:        cfg.Callbacks,
		recorder:         cfg.Recorder,
		logger:           cfg.Logger.With(slog.String("session_id", cfg.ID)),
		handshakeTimeout: cfg.HandshakeTimeout,
		frameInterval:    cfg.FrameInterval,
		frameMaxWidth:    cfg.FrameMaxWidth,
		frameQuality:     cfg.FrameQuality,
		startTime:        now,
		lastActivity:     now,
		closeReq:         make(chan struct{}),
		done:             make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))

	if s.recorder != nil {
		s.recorder.RecordSessionCreated()
	}

	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() State { return State(s.state.Load()) }

// ErrorKind returns the error classification, ErrorNone outside StateError
func (s *Session) ErrorKind() ErrorKind { return ErrorKind(s.errKind.Load()) }

// SetMuted suppresses uplink audio transmission. While muted the reported
// level is zero; the flag is orthogonal to the lifecycle state.
func (s *Session) SetMuted(muted bool) {
	s.muted.Store(muted)
	s.logger.Debug("Mute changed", slog.Bool("muted", muted))
}

// Muted reports the mute flag
func (s *Session) Muted() bool { return s.muted.Load() }

// Interrupt discards all scheduled playback immediately, for when the
// user cuts the coach off before the agent reports the barge-in. The
// lifecycle state is untouched; the agent's own interruption event
// still drives the Live/Interrupted transition.
func (s *Session) Interrupt() {
	s.scheduler.Flush()
	if s.recorder != nil {
		s.recorder.RecordPlaybackFlush()
	}
	s.logger.Debug("Client interrupt", slog.String("session_id", s.id))
}

// Transcript returns the coalesced transcript so far
func (s *Session) Transcript() *Transcript { return &s.transcript }

// Start launches the control loop. The context bounds device acquisition
// and dialing; cancelling it behaves like Close.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

// Close requests shutdown and returns immediately. Idempotent; safe from
// any goroutine and any state.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeReq)
	})
}

// Done is closed when the control loop has fully exited
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}

	s.logger.Info("Session state changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()))

	if s.recorder != nil {
		s.recorder.RecordStateTransition(next.String())
	}
	if s.callbacks.OnState != nil {
		s.callbacks.OnState(next, s.ErrorKind())
	}
}

func (s *Session) touch() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()
}

// LastActivity returns the time of the most recent media or event traffic
func (s *Session) LastActivity() time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.lastActivity
}

// run is the control loop. It is the only goroutine that mutates session
// state.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.setState(StateAcquiringDevice)

	devices, err := capture.AcquireWithFallback(ctx, s.acquirer, s.logger)
	if err != nil {
		s.fail(ErrorDeviceUnavailable, err, nil, nil)
		return
	}
	s.audioAvailable.Store(devices.AudioAvailable)

	s.setState(StateConnecting)

	conn, err := s.dialer.Dial(ctx, s.id)
	if err != nil {
		s.fail(classifyDialError(err), err, devices, nil)
		return
	}

	handshake := time.NewTimer(s.handshakeTimeout)
	defer handshake.Stop()
	handshakeC := handshake.C

	// Media taps stay dark until the agent reports open.
	var audioBlocks <-chan audio.Block
	var frames chan video.Frame
	var tapCancel context.CancelFunc = func() {}
	defer func() { tapCancel() }()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(devices, conn)
			return

		case <-s.closeReq:
			s.shutdown(devices, conn)
			return

		case <-handshakeC:
			s.fail(ErrorHandshakeTimeout,
				fmt.Errorf("agent did not open within %v", s.handshakeTimeout), devices, conn)
			return

		case ev, ok := <-conn.Events():
			if !ok {
				s.fail(ErrorTransient, fmt.Errorf("agent event stream ended"), devices, conn)
				return
			}
			s.touch()

			switch ev.Kind {
			case transport.EventOpened:
				handshake.Stop()
				handshakeC = nil
				s.setState(StateLive)

				var tapCtx context.Context
				tapCtx, tapCancel = context.WithCancel(ctx)
				audioBlocks, frames = s.openTaps(tapCtx, devices)

			case transport.EventTranscriptDelta:
				s.transcript.Append(ev.Text)
				if s.recorder != nil {
					s.recorder.RecordTranscriptDelta()
				}
				if s.callbacks.OnTranscript != nil {
					s.callbacks.OnTranscript(s.transcript.Text())
				}

			case transport.EventAudioPacket:
				if err := s.scheduler.Enqueue(ev.Audio); err != nil {
					if errors.Is(err, audio.ErrDecode) {
						// One bad packet never fails the session.
						s.logger.Warn("Skipping malformed playback packet",
							slog.String("error", err.Error()))
						if s.recorder != nil {
							s.recorder.RecordDecodeError()
						}
					} else {
						s.logger.Error("Playback scheduling failed",
							slog.String("error", err.Error()))
					}
				} else if s.recorder != nil {
					s.recorder.RecordPlaybackBuffer()
				}

			case transport.EventInterrupted:
				s.setState(StateInterrupted)
				s.scheduler.Flush()
				if s.recorder != nil {
					s.recorder.RecordPlaybackFlush()
				}
				s.setState(StateLive)

			case transport.EventError:
				if errors.Is(ev.Err, transport.ErrEntitlement) {
					s.fail(ErrorAuthOrEntitlement, ev.Err, devices, conn)
				} else {
					s.fail(ErrorTransient, ev.Err, devices, conn)
				}
				return

			case transport.EventClosed:
				s.fail(ErrorTransient, fmt.Errorf("agent closed the connection"), devices, conn)
				return
			}

		case block, ok := <-audioBlocks:
			if !ok {
				audioBlocks = nil
				continue
			}
			s.touch()
			s.handleAudioBlock(block, conn)

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.touch()
			if err := conn.Send(transport.Packet{Kind: transport.PacketFrame, Data: frame.JPEG}); err != nil {
				s.logger.Warn("Frame uplink failed", slog.String("error", err.Error()))
			} else if s.recorder != nil {
				s.recorder.RecordUplinkPacket("frame")
			}
		}
	}
}

// openTaps starts the uplink media taps. The audio channel is nil when the
// acquisition fell back to video-only; the select arm stays disabled for
// the session's whole life.
func (s *Session) openTaps(ctx context.Context, devices *capture.Devices) (<-chan audio.Block, chan video.Frame) {
	var audioBlocks <-chan audio.Block
	if devices.AudioAvailable {
		audioBlocks = devices.Audio.Blocks()
	} else {
		s.logger.Info("Audio tap disabled, session is video-only")
	}

	var frames chan video.Frame
	if s.frameInterval > 0 {
		sampler, err := video.NewSampler(devices.Video, s.frameInterval, s.frameMaxWidth, s.frameQuality, s.logger)
		if err != nil {
			s.logger.Error("Frame sampler unavailable", slog.String("error", err.Error()))
		} else {
			frames = make(chan video.Frame, 4)
			go sampler.Run(ctx, frames)
		}
	}

	return audioBlocks, frames
}

// handleAudioBlock meters every block and transmits it unless muted
func (s *Session) handleAudioBlock(block audio.Block, conn transport.Conn) {
	if s.muted.Load() {
		// Internal stats still track the mic so peak levels survive a
		// mute, but the client-facing meter reads zero.
		s.encoder.Meter(block)
		if s.callbacks.OnLevel != nil {
			s.callbacks.OnLevel(0)
		}
		return
	}

	pkt, err := s.encoder.Encode(block)
	if err != nil {
		s.logger.Warn("Block encode failed", slog.String("error", err.Error()))
		return
	}

	if s.callbacks.OnLevel != nil {
		s.callbacks.OnLevel(pkt.Level)
	}

	if err := conn.Send(transport.Packet{
		Kind:       transport.PacketAudio,
		Data:       pkt.Data,
		SampleRate: pkt.SampleRate,
	}); err != nil {
		s.logger.Warn("Audio uplink failed", slog.String("error", err.Error()))
		return
	}

	if s.recorder != nil {
		s.recorder.RecordUplinkPacket("audio")
	}
}

// fail releases resources and parks the session in StateError
func (s *Session) fail(kind ErrorKind, err error, devices *capture.Devices, conn transport.Conn) {
	s.logger.Error("Session failed",
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()))

	s.errKind.Store(int32(kind))
	s.cleanup(devices, conn)
	s.setState(StateError)
	s.recordClose()
}

// shutdown is the graceful close path
func (s *Session) shutdown(devices *capture.Devices, conn transport.Conn) {
	s.logger.Info("Session closing",
		slog.Duration("duration", time.Since(s.startTime)),
		slog.Uint64("transcript_deltas", s.transcript.Deltas()))

	s.cleanup(devices, conn)
	s.setState(StateClosed)
	s.recordClose()
}

func (s *Session) cleanup(devices *capture.Devices, conn transport.Conn) {
	s.scheduler.Flush()
	if devices != nil {
		devices.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

func (s *Session) recordClose() {
	if s.recorder != nil {
		s.recorder.RecordSessionClosed(s.State().String(), time.Since(s.startTime))
	}
}

func classifyDialError(err error) ErrorKind {
	if errors.Is(err, transport.ErrEntitlement) {
		return ErrorAuthOrEntitlement
	}
	return ErrorTransient
}

// Info is a point-in-time session snapshot for the HTTP API
type Info struct {
	ID             string               `json:"id"`
	State          string               `json:"state"`
	ErrorKind      string               `json:"error_kind,omitempty"`
	AudioAvailable bool                 `json:"audio_available"`
	Muted          bool                 `json:"muted"`
	StartTime      time.Time            `json:"start_time"`
	LastActivity   time.Time            `json:"last_activity"`
	Duration       time.Duration        `json:"duration"`
	Transcript     string               `json:"transcript"`
	Encoder        audio.LevelStats     `json:"encoder"`
	Playback       audio.SchedulerStats `json:"playback"`
}

// GetInfo returns a snapshot of the session
func (s *Session) GetInfo() Info {
	info := Info{
		ID:           s.id,
		State:        s.State().String(),
		Muted:        s.Muted(),
		StartTime:    s.startTime,
		LastActivity: s.LastActivity(),
		Duration:     time.Since(s.startTime),
		Transcript:   s.transcript.Text(),
		Encoder:      s.encoder.GetStats(),
		Playback:     s.scheduler.GetStats(),
	}
	if kind := s.ErrorKind(); kind != ErrorNone {
		info.ErrorKind = kind.String()
	}
	info.AudioAvailable = s.audioAvailable.Load()
	return info
}
