package audio

import (
	"fmt"
	"math"
	"sync"
)

// LevelStats represents encoder signal statistics for monitoring
type LevelStats struct {
	BlocksEncoded uint64  `json:"blocks_encoded"`
	BlocksVoiced  uint64  `json:"blocks_voiced"`
	LastLevel     float64 `json:"last_level"`
	PeakLevel     float64 `json:"peak_level"`
}

// Block represents one captured block of mono float audio handed to the
// uplink encoder. The block is owned exclusively by the producing stage
// until handed over; it is never aliased.
type Block struct {
	Samples    []float32
	SourceRate int
	CapturedAt float64 // capture clock position, seconds
}

// Packet represents an encoded uplink audio packet: little-endian PCM16 at
// the encoder's fixed target rate
type Packet struct {
	Data       []byte
	SampleRate int
	Level      float64
	Voiced     bool
}

// Encoder frames captured float blocks into outbound PCM16 packets. It also
// computes a per-block RMS level used for UI metering and as a
// voice-activity hint.
type Encoder struct {
	resampler      *Resampler
	voiceThreshold float64

	blocksEncoded uint64
	blocksVoiced  uint64
	lastLevel     float64
	peakLevel     float64

	mu sync.RWMutex
}

// NewEncoder creates an uplink encoder targeting the resampler's fixed rate
func NewEncoder(resampler *Resampler, voiceThreshold float64) (*Encoder, error) {
	if resampler == nil {
		return nil, fmt.Errorf("resampler cannot be nil")
	}

	if voiceThreshold < 0 || voiceThreshold > 1 {
		return nil, fmt.Errorf("voice threshold must be between 0 and 1, got %f", voiceThreshold)
	}

	return &Encoder{
		resampler:      resampler,
		voiceThreshold: voiceThreshold,
	}, nil
}

// Encode converts one capture block into an uplink packet. The returned
// packet carries the block's RMS level and a voice-activity hint derived
// from the configured threshold.
func (e *Encoder) Encode(block Block) (*Packet, error) {
	if len(block.Samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty block")
	}

	level := rmsLevel(block.Samples)

	pcm, err := e.resampler.Resample(block.Samples, block.SourceRate)
	if err != nil {
		return nil, fmt.Errorf("resample failed: %w", err)
	}

	voiced := level >= e.voiceThreshold

	e.mu.Lock()
	e.blocksEncoded++
	if voiced {
		e.blocksVoiced++
	}
	e.lastLevel = level
	if level > e.peakLevel {
		e.peakLevel = level
	}
	e.mu.Unlock()

	return &Packet{
		Data:       PCM16Bytes(pcm),
		SampleRate: e.resampler.TargetRate(),
		Level:      level,
		Voiced:     voiced,
	}, nil
}

// Meter computes the level of a block without encoding it. Used while the
// session is muted to keep level statistics current even though nothing is
// transmitted and the client-facing meter reads zero.
func (e *Encoder) Meter(block Block) float64 {
	level := rmsLevel(block.Samples)

	e.mu.Lock()
	e.lastLevel = level
	if level > e.peakLevel {
		e.peakLevel = level
	}
	e.mu.Unlock()

	return level
}

// GetStats returns current encoder statistics
func (e *Encoder) GetStats() LevelStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return LevelStats{
		BlocksEncoded: e.blocksEncoded,
		BlocksVoiced:  e.blocksVoiced,
		LastLevel:     e.lastLevel,
		PeakLevel:     e.peakLevel,
	}
}

// rmsLevel computes the root-mean-square level of a float block
func rmsLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
