package capture

import (
	"context"
	"errors"
	"image"
	"testing"
)

type fakeAcquirer struct {
	audioErr error
	videoErr error

	audioClosed bool
}

func (a *fakeAcquirer) AcquireAudio(ctx context.Context) (AudioSource, error) {
	if a.audioErr != nil {
		return nil, a.audioErr
	}
	return &remoteAudioSource{media: NewRemoteMedia(true, true)}, nil
}

func (a *fakeAcquirer) AcquireVideo(ctx context.Context) (VideoSource, error) {
	if a.videoErr != nil {
		return nil, a.videoErr
	}
	return &remoteVideoSource{media: NewRemoteMedia(true, true)}, nil
}

func TestAcquireBothDevices(t *testing.T) {
	devices, err := AcquireWithFallback(context.Background(), &fakeAcquirer{}, nil)
	if err != nil {
		t.Fatalf("AcquireWithFallback failed: %v", err)
	}
	defer devices.Close()

	if !devices.AudioAvailable {
		t.Error("expected audio available")
	}
	if devices.Audio == nil || devices.Video == nil {
		t.Error("expected both devices present")
	}
}

func TestAcquireFallsBackToVideoOnly(t *testing.T) {
	for _, sentinel := range []error{ErrPermissionDenied, ErrNotFound, ErrBusy} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			acq := &fakeAcquirer{audioErr: sentinel}

			devices, err := AcquireWithFallback(context.Background(), acq, nil)
			if err != nil {
				t.Fatalf("audio failure must not abort acquisition: %v", err)
			}
			defer devices.Close()

			if devices.AudioAvailable {
				t.Error("expected AudioAvailable=false")
			}
			if devices.Audio != nil {
				t.Error("expected nil audio source")
			}
			if devices.Video == nil {
				t.Error("expected video source present")
			}
		})
	}
}

func TestAcquireFailsWhenVideoFails(t *testing.T) {
	acq := &fakeAcquirer{videoErr: ErrPermissionDenied}

	if _, err := AcquireWithFallback(context.Background(), acq, nil); err == nil {
		t.Fatal("expected error when video acquisition fails")
	}
}

func TestRemoteMediaGrants(t *testing.T) {
	media := NewRemoteMedia(false, true)

	_, err := media.AcquireAudio(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}

	if _, err := media.AcquireVideo(context.Background()); err != nil {
		t.Errorf("expected video acquisition to succeed: %v", err)
	}
}

func TestRemoteMediaAudioDelivery(t *testing.T) {
	media := NewRemoteMedia(true, true)

	src, err := media.AcquireAudio(context.Background())
	if err != nil {
		t.Fatalf("AcquireAudio failed: %v", err)
	}

	media.PushAudio([]float32{0.1, 0.2}, 48000, 1.5)

	block := <-src.Blocks()
	if block.SourceRate != 48000 {
		t.Errorf("expected source rate 48000, got %d", block.SourceRate)
	}
	if block.CapturedAt != 1.5 {
		t.Errorf("expected capture position 1.5, got %v", block.CapturedAt)
	}
	if len(block.Samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(block.Samples))
	}

	media.Close()
	if _, ok := <-src.Blocks(); ok {
		t.Error("expected channel closed after Close")
	}

	// Pushes after close are discarded, not a panic.
	media.PushAudio([]float32{0.3}, 48000, 2.0)
}

func TestRemoteMediaDropsWhenFull(t *testing.T) {
	media := NewRemoteMedia(true, true)

	for i := 0; i < 64; i++ {
		media.PushAudio([]float32{0.1}, 48000, float64(i))
	}

	if media.Dropped() == 0 {
		t.Error("expected drops once the buffer filled")
	}
}

func TestRemoteMediaFrames(t *testing.T) {
	media := NewRemoteMedia(true, true)

	src, err := media.AcquireVideo(context.Background())
	if err != nil {
		t.Fatalf("AcquireVideo failed: %v", err)
	}

	if _, err := src.Grab(); err == nil {
		t.Error("expected error before any frame arrives")
	}

	media.PushFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)))

	img, err := src.Grab()
	if err != nil {
		t.Fatalf("Grab failed: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Errorf("unexpected frame bounds: %v", img.Bounds())
	}

	// Grab keeps returning the latest frame until replaced.
	if _, err := src.Grab(); err != nil {
		t.Errorf("repeat grab failed: %v", err)
	}
}

func TestLocalMediaStaticVideoFallback(t *testing.T) {
	media := &LocalMedia{}

	src, err := media.AcquireVideo(context.Background())
	if err != nil {
		t.Fatalf("AcquireVideo failed: %v", err)
	}
	defer src.Close()

	img, err := src.Grab()
	if err != nil {
		t.Fatalf("Grab failed: %v", err)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 360 {
		t.Errorf("unexpected static frame bounds: %v", img.Bounds())
	}

	// Repeated grabs return the same generated frame.
	again, err := src.Grab()
	if err != nil {
		t.Fatalf("repeat grab failed: %v", err)
	}
	if again != img {
		t.Error("static source regenerated its frame")
	}
}
