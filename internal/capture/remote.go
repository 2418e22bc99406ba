package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/YingzeHou/kinetiq-media-service/internal/audio"
)

// RemoteMedia adapts media pushed by a connected client into capture
// sources. Device grants reflect what the client was able to open on its
// side; a client that was denied microphone access produces a video-only
// acquisition here exactly like a missing local device would.
type RemoteMedia struct {
	audioGranted bool
	videoGranted bool

	blocks  chan audio.Block
	dropped uint64

	frame    image.Image
	hasFrame bool
	closed   bool

	mu sync.Mutex
}

// NewRemoteMedia creates a remote media adapter with the client's device
// grant status
func NewRemoteMedia(audioGranted, videoGranted bool) *RemoteMedia {
	return &RemoteMedia{
		audioGranted: audioGranted,
		videoGranted: videoGranted,
		blocks:       make(chan audio.Block, 32),
	}
}

// PushAudio feeds one decoded client audio block. Blocks are dropped when
// the consumer falls behind; audio delivery never blocks the network read
// loop.
func (r *RemoteMedia) PushAudio(samples []float32, sourceRate int, capturedAt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	select {
	case r.blocks <- audio.Block{Samples: samples, SourceRate: sourceRate, CapturedAt: capturedAt}:
	default:
		r.dropped++
	}
}

// PushFrame stores the client's most recent video frame
func (r *RemoteMedia) PushFrame(img image.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || img == nil {
		return
	}
	r.frame = img
	r.hasFrame = true
}

// Dropped returns the number of audio blocks discarded because the
// consumer fell behind
func (r *RemoteMedia) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// AcquireAudio returns the remote audio source, or ErrPermissionDenied
// when the client did not grant microphone access
func (r *RemoteMedia) AcquireAudio(ctx context.Context) (AudioSource, error) {
	if !r.audioGranted {
		return nil, fmt.Errorf("%w: client denied microphone", ErrPermissionDenied)
	}
	return &remoteAudioSource{media: r}, nil
}

// AcquireVideo returns the remote video source, or ErrPermissionDenied
// when the client did not grant camera access
func (r *RemoteMedia) AcquireVideo(ctx context.Context) (VideoSource, error) {
	if !r.videoGranted {
		return nil, fmt.Errorf("%w: client denied camera", ErrPermissionDenied)
	}
	return &remoteVideoSource{media: r}, nil
}

// Close stops accepting pushed media and closes the audio channel
func (r *RemoteMedia) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.blocks)
}

type remoteAudioSource struct {
	media *RemoteMedia
}

func (s *remoteAudioSource) Blocks() <-chan audio.Block {
	return s.media.blocks
}

func (s *remoteAudioSource) Close() error {
	s.media.Close()
	return nil
}

type remoteVideoSource struct {
	media *RemoteMedia
}

func (s *remoteVideoSource) Grab() (image.Image, error) {
	s.media.mu.Lock()
	defer s.media.mu.Unlock()

	if !s.media.hasFrame {
		return nil, fmt.Errorf("no frame received yet")
	}
	return s.media.frame, nil
}

func (s *remoteVideoSource) Close() error {
	return nil
}
