package audio

import (
	"math"
	"testing"
)

func TestResampleEqualRate(t *testing.T) {
	r := NewResampler(16000)

	input := []float32{0.0, 0.5, -0.5, 1.0, -1.0}
	out, err := r.Resample(input, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	if len(out) != len(input) {
		t.Fatalf("expected %d samples, got %d", len(input), len(out))
	}

	for i, s := range input {
		want := quantize(s)
		if out[i] != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, out[i])
		}
	}
}

func TestResampleDownsample(t *testing.T) {
	r := NewResampler(16000)

	// 48kHz to 16kHz is an exact 3:1 ratio, so nearest-neighbor
	// selection must pick every third source sample.
	input := make([]float32, 480)
	for i := range input {
		input[i] = float32(i) / float32(len(input))
	}

	out, err := r.Resample(input, 48000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	wantLen := len(input) * 16000 / 48000
	if len(out) != wantLen {
		t.Fatalf("expected %d samples, got %d", wantLen, len(out))
	}

	for i := range out {
		want := quantize(input[i*3])
		if out[i] != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, out[i])
		}
	}
}

func TestResampleUpsample(t *testing.T) {
	r := NewResampler(16000)

	input := []float32{0.0, 1.0}
	out, err := r.Resample(input, 8000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	if len(out) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out))
	}
}

func TestResampleInvalidInput(t *testing.T) {
	r := NewResampler(16000)

	if _, err := r.Resample(nil, 48000); err == nil {
		t.Error("expected error for empty input")
	}

	if _, err := r.Resample([]float32{0.5}, 0); err == nil {
		t.Error("expected error for zero source rate")
	}

	if _, err := NewResampler(0).Resample([]float32{0.5}, 48000); err == nil {
		t.Error("expected error for zero target rate")
	}
}

func TestQuantizeClamping(t *testing.T) {
	tests := []struct {
		name  string
		input float32
		want  int16
	}{
		{"zero", 0.0, 0},
		{"positive full scale", 1.0, 32767},
		{"negative full scale", -1.0, -32767},
		{"overdriven positive", 1.5, 32767},
		{"overdriven negative", -1.5, -32768},
		{"half scale", 0.5, int16(math.Round(0.5 * 32767))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := quantize(tt.input); got != tt.want {
				t.Errorf("quantize(%v) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}

	data := PCM16Bytes(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", len(samples)*2, len(data))
	}

	back, err := PCM16Samples(data)
	if err != nil {
		t.Fatalf("PCM16Samples failed: %v", err)
	}

	for i, s := range samples {
		if back[i] != s {
			t.Errorf("sample %d: expected %d, got %d", i, s, back[i])
		}
	}
}

func TestPCM16SamplesOddLength(t *testing.T) {
	if _, err := PCM16Samples([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Error("expected error for odd-length data")
	}
}
