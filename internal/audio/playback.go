package audio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDecode reports a malformed inbound audio packet. Callers skip the
// single affected packet; the error is never fatal to a session.
var ErrDecode = errors.New("malformed audio packet")

// Clock is a monotonically increasing playback position in seconds for one
// media timeline, typically backed by the audio output device's clock.
type Clock interface {
	Now() float64
}

// Handle controls one scheduled playback source
type Handle interface {
	// Stop cancels the source immediately. A stopped source must not
	// invoke its completion callback.
	Stop()
}

// Sink starts playback of decoded buffers at scheduled positions on the
// output clock and invokes done exactly once when a buffer finishes
// playing to completion.
type Sink interface {
	Play(buf *PlaybackBuffer, startAt float64, done func()) (Handle, error)
}

// PlaybackBuffer represents one decoded inbound audio buffer
type PlaybackBuffer struct {
	PCM            []float32
	Channels       int
	SampleRate     int
	ScheduledStart float64
}

// Duration returns the buffer's play time in seconds
func (b *PlaybackBuffer) Duration() float64 {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	return float64(len(b.PCM)) / float64(b.SampleRate*b.Channels)
}

// SchedulerStats represents playback scheduler statistics for monitoring
type SchedulerStats struct {
	BuffersScheduled uint64  `json:"buffers_scheduled"`
	BuffersFlushed   uint64  `json:"buffers_flushed"`
	Flushes          uint64  `json:"flushes"`
	DecodeErrors     uint64  `json:"decode_errors"`
	Outstanding      int     `json:"outstanding"`
	NextStart        float64 `json:"next_start"`
}

// Scheduler accepts inbound PCM16 packets in delivery order, decodes each
// into a PlaybackBuffer, and schedules it to start exactly when the
// previously scheduled buffer ends, or immediately if the output clock has
// already passed that point. Buffers are strictly sequential and never
// overlap; when packets arrive late the gap plays out as silence rather
// than being filled or interpolated.
//
// All methods are invoked from a session's control loop (single-writer
// discipline); the mutex only guards against the sink's completion
// callbacks, which may run on the audio device thread.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int
	onIdle     func()

	nextStart   float64
	nextID      uint64
	active      map[uint64]Handle
	outstanding int

	buffersScheduled uint64
	buffersFlushed   uint64
	flushes          uint64
	decodeErrors     uint64

	mu sync.Mutex
}

// NewScheduler creates a playback scheduler for inbound mono PCM16 at the
// given fixed sample rate. onIdle, if non-nil, is invoked whenever the
// outstanding buffer count returns to zero.
func NewScheduler(clock Clock, sink Sink, sampleRate int, onIdle func()) (*Scheduler, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}

	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Scheduler{
		clock:      clock,
		sink:       sink,
		sampleRate: sampleRate,
		onIdle:     onIdle,
		active:     make(map[uint64]Handle),
	}, nil
}

// Enqueue decodes one inbound PCM16 packet and schedules it back-to-back
// after the previously scheduled buffer. Malformed packets return a
// DecodeFailure wrapping ErrDecode and leave the schedule untouched.
func (s *Scheduler) Enqueue(pcm []byte) error {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		return fmt.Errorf("%w: %d bytes", ErrDecode, len(pcm))
	}

	samples, err := PCM16Samples(pcm)
	if err != nil {
		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	pcmF := make([]float32, len(samples))
	for i, v := range samples {
		pcmF[i] = float32(v) / 32768
	}

	s.mu.Lock()

	now := s.clock.Now()
	start := s.nextStart
	if now > start {
		start = now
	}

	buf := &PlaybackBuffer{
		PCM:            pcmF,
		Channels:       1,
		SampleRate:     s.sampleRate,
		ScheduledStart: start,
	}
	s.nextStart = start + buf.Duration()

	id := s.nextID
	s.nextID++
	s.outstanding++
	s.buffersScheduled++
	s.active[id] = nil // placeholder until Play returns a handle
	s.mu.Unlock()

	handle, err := s.sink.Play(buf, start, func() { s.complete(id) })
	if err != nil {
		s.complete(id)
		return fmt.Errorf("sink rejected buffer: %w", err)
	}

	s.mu.Lock()
	// The buffer may have already completed (or been flushed) by the time
	// Play returns; only keep the handle while it is still outstanding.
	_, pending := s.active[id]
	if pending {
		s.active[id] = handle
	}
	s.mu.Unlock()

	// A flush that landed before the handle was registered only saw the
	// placeholder, so it could not stop this source itself.
	if !pending {
		handle.Stop()
	}

	return nil
}

// complete removes one buffer from the outstanding set. Safe against
// duplicate invocation after a flush: flushed ids are already gone.
func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	if _, pending := s.active[id]; !pending {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	s.outstanding--
	idle := s.outstanding == 0
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

// Flush implements barge-in: every buffer not yet finished playing is
// stopped and discarded, the pending schedule is cleared, and the next
// buffer starts at the current clock position rather than queuing behind
// cancelled audio.
func (s *Scheduler) Flush() {
	s.mu.Lock()

	handles := make([]Handle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	flushed := s.outstanding
	s.active = make(map[uint64]Handle)
	s.outstanding = 0
	s.nextStart = s.clock.Now()
	s.buffersFlushed += uint64(flushed)
	s.flushes++
	s.mu.Unlock()

	for _, h := range handles {
		if h != nil {
			h.Stop()
		}
	}

	if flushed > 0 && s.onIdle != nil {
		s.onIdle()
	}
}

// Idle reports whether no buffers are outstanding
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding == 0
}

// Outstanding returns the number of scheduled but unfinished buffers
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SchedulerStats{
		BuffersScheduled: s.buffersScheduled,
		BuffersFlushed:   s.buffersFlushed,
		Flushes:          s.flushes,
		DecodeErrors:     s.decodeErrors,
		Outstanding:      s.outstanding,
		NextStart:        s.nextStart,
	}
}
