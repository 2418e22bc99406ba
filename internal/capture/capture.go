package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/YingzeHou/kinetiq-media-service/internal/audio"
)

// Acquisition failure sentinels. Callers distinguish them for reporting;
// all three trigger the same video-only fallback for audio devices.
var (
	ErrPermissionDenied = errors.New("device permission denied")
	ErrNotFound         = errors.New("device not found")
	ErrBusy             = errors.New("device busy")
)

// AudioSource delivers captured audio blocks until closed. The channel is
// closed by Close; a receiver draining it sees the closure as end of
// capture.
type AudioSource interface {
	Blocks() <-chan audio.Block
	Close() error
}

// VideoSource provides frames on demand
type VideoSource interface {
	Grab() (image.Image, error)
	Close() error
}

// Devices holds the result of an acquisition. Audio is nil exactly when
// AudioAvailable is false.
type Devices struct {
	Audio          AudioSource
	Video          VideoSource
	AudioAvailable bool
}

// Close releases both devices
func (d *Devices) Close() {
	if d.Audio != nil {
		d.Audio.Close()
	}
	if d.Video != nil {
		d.Video.Close()
	}
}

// Acquirer opens capture devices. Implementations wrap local hardware or a
// remote client's granted media streams.
type Acquirer interface {
	AcquireAudio(ctx context.Context) (AudioSource, error)
	AcquireVideo(ctx context.Context) (VideoSource, error)
}

// AcquireWithFallback requests audio and video together. When the audio
// device cannot be opened the acquisition retries video-only and marks the
// result AudioAvailable=false; a missing microphone alone never fails a
// session. Only a video failure aborts the acquisition.
func AcquireWithFallback(ctx context.Context, acq Acquirer, logger *slog.Logger) (*Devices, error) {
	if logger == nil {
		logger = slog.Default()
	}

	devices := &Devices{}

	audioSrc, err := acq.AcquireAudio(ctx)
	if err != nil {
		logger.Warn("Audio device unavailable, continuing video-only",
			slog.String("error", err.Error()))
	} else {
		devices.Audio = audioSrc
		devices.AudioAvailable = true
	}

	videoSrc, err := acq.AcquireVideo(ctx)
	if err != nil {
		if devices.Audio != nil {
			devices.Audio.Close()
		}
		return nil, fmt.Errorf("video device acquisition failed: %w", err)
	}
	devices.Video = videoSrc

	return devices, nil
}
