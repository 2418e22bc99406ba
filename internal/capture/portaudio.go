package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/YingzeHou/kinetiq-media-service/internal/audio"
)

// MicSource captures mono audio from the default input device and delivers
// it as float blocks. Blocks the consumer fails to drain in time are
// dropped rather than blocking the audio callback.
type MicSource struct {
	stream     *portaudio.Stream
	blocks     chan audio.Block
	sampleRate int
	logger     *slog.Logger

	captured uint64
	dropped  uint64

	closeOnce sync.Once
	mu        sync.Mutex
}

// OpenMicrophone opens the default input device at the given rate and block
// size and starts capturing immediately.
func OpenMicrophone(sampleRate, blockSize int, logger *slog.Logger) (*MicSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: no default input device: %v", ErrNotFound, err)
	}

	logger.Info("Using input device",
		slog.String("device", device.Name),
		slog.Int("sample_rate", sampleRate))

	m := &MicSource{
		blocks:     make(chan audio.Block, 16),
		sampleRate: sampleRate,
		logger:     logger,
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: blockSize,
	}

	stream, err := portaudio.OpenStream(params, m.onInput)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open input stream: %v", ErrBusy, err)
	}
	m.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to start input stream: %v", ErrBusy, err)
	}

	return m, nil
}

func (m *MicSource) onInput(in []int16) {
	samples := make([]float32, len(in))
	for i, s := range in {
		samples[i] = float32(s) / 32768
	}

	m.mu.Lock()
	capturedAt := float64(m.captured) / float64(m.sampleRate)
	m.captured += uint64(len(in))
	m.mu.Unlock()

	block := audio.Block{
		Samples:    samples,
		SourceRate: m.sampleRate,
		CapturedAt: capturedAt,
	}

	select {
	case m.blocks <- block:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

// Blocks returns the capture block channel
func (m *MicSource) Blocks() <-chan audio.Block {
	return m.blocks
}

// Close stops the stream and closes the block channel
func (m *MicSource) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if stopErr := m.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		m.stream.Close()
		portaudio.Terminate()
		close(m.blocks)

		m.mu.Lock()
		dropped := m.dropped
		m.mu.Unlock()
		if dropped > 0 {
			m.logger.Warn("Capture blocks dropped", slog.Uint64("dropped", dropped))
		}
	})
	return err
}

type speakerEntry struct {
	buf       *audio.PlaybackBuffer
	startAt   float64
	done      func()
	offset    int
	cancelled bool
}

type speakerHandle struct {
	speaker *Speaker
	entry   *speakerEntry
}

func (h *speakerHandle) Stop() {
	h.speaker.mu.Lock()
	h.entry.cancelled = true
	h.speaker.mu.Unlock()
}

// Speaker renders scheduled playback buffers on the default output device.
// It implements both the playback sink and the playback clock: positions
// are measured in samples actually emitted to the device, so scheduled
// starts line up with real output time.
type Speaker struct {
	stream     *portaudio.Stream
	sampleRate int

	queue []*speakerEntry
	pos   uint64

	closeOnce sync.Once
	mu        sync.Mutex
}

// OpenSpeaker opens the default output device at the given rate
func OpenSpeaker(sampleRate, blockSize int) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	s := &Speaker{sampleRate: sampleRate}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), blockSize, s.fill)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	return s, nil
}

// Now returns the output clock position in seconds
func (s *Speaker) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.pos) / float64(s.sampleRate)
}

// Play schedules one buffer to start at the given clock position
func (s *Speaker) Play(buf *audio.PlaybackBuffer, startAt float64, done func()) (audio.Handle, error) {
	if buf == nil || len(buf.PCM) == 0 {
		return nil, fmt.Errorf("empty playback buffer")
	}

	entry := &speakerEntry{buf: buf, startAt: startAt, done: done}

	s.mu.Lock()
	s.queue = append(s.queue, entry)
	s.mu.Unlock()

	return &speakerHandle{speaker: s, entry: entry}, nil
}

// fill runs on the audio device thread. Completion callbacks are deferred
// to their own goroutine to keep the callback fast.
func (s *Speaker) fill(out []int16) {
	for i := range out {
		out[i] = 0
	}

	s.mu.Lock()
	blockStart := s.pos
	blockLen := uint64(len(out))

	var finished []func()
	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.cancelled {
			continue
		}

		startSample := uint64(e.startAt * float64(s.sampleRate))
		cur := startSample + uint64(e.offset)

		if cur >= blockStart+blockLen {
			kept = append(kept, e)
			continue
		}

		idx := 0
		if cur > blockStart {
			idx = int(cur - blockStart)
		} else if cur < blockStart {
			// The device clock passed the scheduled start; drop the
			// late samples instead of shifting the timeline.
			e.offset += int(blockStart - cur)
		}

		for idx < len(out) && e.offset < len(e.buf.PCM) {
			v := e.buf.PCM[e.offset] * 32767
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			out[idx] = int16(v)
			idx++
			e.offset++
		}

		if e.offset >= len(e.buf.PCM) {
			if e.done != nil {
				finished = append(finished, e.done)
			}
		} else {
			kept = append(kept, e)
		}
	}
	s.queue = kept
	s.pos += blockLen
	s.mu.Unlock()

	for _, done := range finished {
		go done()
	}
}

// Close stops the output stream. Queued buffers are discarded without
// their completion callbacks.
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		s.stream.Close()
		portaudio.Terminate()

		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
	})
	return err
}
