package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
)

// LocalMedia acquires the machine's own devices: the default microphone
// via PortAudio and an optionally injected video source. With no video
// source configured, AcquireVideo falls back to a static frame generator
// so audio-first sessions still satisfy the video-primary pipeline.
type LocalMedia struct {
	SampleRate int
	BlockSize  int
	Video      VideoSource
	Logger     *slog.Logger
}

// AcquireAudio opens the default input device
func (l *LocalMedia) AcquireAudio(ctx context.Context) (AudioSource, error) {
	rate := l.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	size := l.BlockSize
	if size <= 0 {
		size = 1024
	}
	return OpenMicrophone(rate, size, l.Logger)
}

// AcquireVideo returns the injected video source, or a static generator
// when none is configured
func (l *LocalMedia) AcquireVideo(ctx context.Context) (VideoSource, error) {
	if l.Video != nil {
		return l.Video, nil
	}
	return &staticFrameSource{width: 640, height: 360}, nil
}

// staticFrameSource produces a fixed solid frame. It stands in for a
// camera on machines without one so the uplink still carries frames.
type staticFrameSource struct {
	width  int
	height int
	frame  image.Image
}

func (s *staticFrameSource) Grab() (image.Image, error) {
	if s.width <= 0 || s.height <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size", ErrNotFound)
	}
	if s.frame == nil {
		img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
		for i := range img.Pix {
			// dark neutral gray, full alpha
			if i%4 == 3 {
				img.Pix[i] = 0xff
			} else {
				img.Pix[i] = 0x20
			}
		}
		s.frame = img
	}
	return s.frame, nil
}

func (s *staticFrameSource) Close() error { return nil }
