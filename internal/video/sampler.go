package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"
)

// Source provides frames for sampling. Grab returns the most recent frame
// available; it may block briefly but must not wait for a future frame.
type Source interface {
	Grab() (image.Image, error)
}

// Frame represents one sampled, encoded video frame
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// SamplerStats represents frame sampler statistics for monitoring
type SamplerStats struct {
	FramesSampled uint64 `json:"frames_sampled"`
	FramesSkipped uint64 `json:"frames_skipped"`
	BytesEncoded  uint64 `json:"bytes_encoded"`
}

// Sampler grabs frames from a source on a fixed interval, independent of
// the audio path, downscales each to the bounded width, and JPEG-encodes
// it. A grab or encode failure skips that frame only; the sampling cadence
// is unaffected.
type Sampler struct {
	source   Source
	interval time.Duration
	maxWidth int
	quality  int
	logger   *slog.Logger

	framesSampled uint64
	framesSkipped uint64
	bytesEncoded  uint64

	mu sync.RWMutex
}

// NewSampler creates a frame sampler
func NewSampler(source Source, interval time.Duration, maxWidth, quality int, logger *slog.Logger) (*Sampler, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}

	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}

	if maxWidth <= 0 {
		return nil, fmt.Errorf("max width must be positive, got %d", maxWidth)
	}

	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("quality must be between 1 and 100, got %d", quality)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Sampler{
		source:   source,
		interval: interval,
		maxWidth: maxWidth,
		quality:  quality,
		logger:   logger,
	}, nil
}

// Run samples frames until the context is cancelled, sending each encoded
// frame to out. The channel is not closed on return; the caller owns it.
func (s *Sampler) Run(ctx context.Context, out chan<- Frame) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("Frame sampler started",
		slog.Duration("interval", s.interval),
		slog.Int("max_width", s.maxWidth))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Frame sampler stopped")
			return
		case <-ticker.C:
			frame, err := s.Sample()
			if err != nil {
				s.logger.Warn("Frame skipped", slog.String("error", err.Error()))
				continue
			}

			select {
			case out <- *frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Sample grabs and encodes one frame immediately
func (s *Sampler) Sample() (*Frame, error) {
	img, err := s.source.Grab()
	if err != nil {
		s.recordSkip()
		return nil, fmt.Errorf("frame grab failed: %w", err)
	}

	if img == nil || img.Bounds().Empty() {
		s.recordSkip()
		return nil, fmt.Errorf("frame grab returned empty image")
	}

	scaled := Downscale(img, s.maxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: s.quality}); err != nil {
		s.recordSkip()
		return nil, fmt.Errorf("jpeg encode failed: %w", err)
	}

	bounds := scaled.Bounds()
	frame := &Frame{
		JPEG:       buf.Bytes(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: time.Now(),
	}

	s.mu.Lock()
	s.framesSampled++
	s.bytesEncoded += uint64(len(frame.JPEG))
	s.mu.Unlock()

	return frame, nil
}

// GetStats returns current sampler statistics
func (s *Sampler) GetStats() SamplerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SamplerStats{
		FramesSampled: s.framesSampled,
		FramesSkipped: s.framesSkipped,
		BytesEncoded:  s.bytesEncoded,
	}
}

func (s *Sampler) recordSkip() {
	s.mu.Lock()
	s.framesSkipped++
	s.mu.Unlock()
}

// Downscale resizes img to at most maxWidth pixels wide, preserving aspect
// ratio with nearest-neighbor selection. Images already within the bound
// are copied unscaled.
func Downscale(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	if srcW <= maxWidth {
		out := image.NewRGBA(image.Rect(0, 0, srcW, srcH))
		for y := 0; y < srcH; y++ {
			for x := 0; x < srcW; x++ {
				out.Set(x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
		return out
	}

	dstW := maxWidth
	dstH := srcH * maxWidth / srcW
	if dstH < 1 {
		dstH = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := y * srcH / dstH
		for x := 0; x < dstW; x++ {
			srcX := x * srcW / dstW
			out.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return out
}
