package audio

import (
	"fmt"
	"math"
)

// Resampler converts arbitrary-rate mono float samples into fixed-rate
// 16-bit PCM. Conversion uses nearest-neighbor decimation: cheap, O(n) and
// allocation-light, at the cost of fidelity. A higher-quality implementation
// (linear or polyphase interpolation) can replace it without changing the
// external contract, which is fixed-size PCM16 output at the target rate.
type Resampler struct {
	targetRate int
}

// NewResampler creates a resampler producing PCM16 at the given target
// rate. The rate comes from validated config; a non-positive rate is
// reported by Resample instead.
func NewResampler(targetRate int) *Resampler {
	return &Resampler{targetRate: targetRate}
}

// TargetRate returns the fixed output sample rate
func (r *Resampler) TargetRate() int {
	return r.targetRate
}

// Resample converts mono float samples in [-1, 1] at sourceRate into PCM16
// at the target rate. When sourceRate equals the target rate only the
// fixed-point quantization is performed. The last valid source index is
// reused for any computed index past the end, so the conversion never reads
// out of bounds.
func (r *Resampler) Resample(samples []float32, sourceRate int) ([]int16, error) {
	if r.targetRate <= 0 {
		return nil, fmt.Errorf("target rate must be positive, got %d", r.targetRate)
	}

	if sourceRate <= 0 {
		return nil, fmt.Errorf("source rate must be positive, got %d", sourceRate)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot resample empty input")
	}

	if sourceRate == r.targetRate {
		out := make([]int16, len(samples))
		for i, s := range samples {
			out[i] = quantize(s)
		}
		return out, nil
	}

	outLen := int(float64(len(samples)) * float64(r.targetRate) / float64(sourceRate))
	if outLen == 0 {
		outLen = 1
	}

	out := make([]int16, outLen)
	ratio := float64(sourceRate) / float64(r.targetRate)
	last := len(samples) - 1
	for i := 0; i < outLen; i++ {
		src := int(math.Floor(float64(i) * ratio))
		if src > last {
			src = last
		}
		out[i] = quantize(samples[src])
	}

	return out, nil
}

// quantize converts a float sample in [-1, 1] to a clamped int16
func quantize(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// PCM16Bytes serializes samples as little-endian PCM16 wire bytes
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16Samples deserializes little-endian PCM16 wire bytes. The byte count
// must be even.
func PCM16Samples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 data length must be even, got %d bytes", len(data))
	}

	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out, nil
}
