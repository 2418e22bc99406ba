package audio

import (
	"bytes"
	"io"
	"testing"

	wav "github.com/youpy/go-wav"
)

func TestEncodeWAVReadableByThirdPartyReader(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	r := wav.NewReader(bytes.NewReader(data))

	format, err := r.Format()
	if err != nil {
		t.Fatalf("failed to read format: %v", err)
	}

	if format.AudioFormat != wav.AudioFormatPCM {
		t.Errorf("expected PCM format, got %d", format.AudioFormat)
	}
	if format.NumChannels != 1 {
		t.Errorf("expected mono, got %d channels", format.NumChannels)
	}
	if format.SampleRate != 16000 {
		t.Errorf("expected 16000Hz, got %d", format.SampleRate)
	}
	if format.BitsPerSample != 16 {
		t.Errorf("expected 16 bits per sample, got %d", format.BitsPerSample)
	}

	var read []int16
	for {
		chunk, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadSamples failed: %v", err)
		}
		for _, s := range chunk {
			read = append(read, int16(r.IntValue(s, 0)))
		}
	}

	if len(read) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(read))
	}
	for i, want := range samples {
		if read[i] != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, read[i])
		}
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := []int16{100, -200, 300, -400, 500}

	data, err := EncodeWAV(samples, 24000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != 24000 {
		t.Errorf("expected rate 24000, got %d", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}
	for i, want := range samples {
		if decoded[i] != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, decoded[i])
		}
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav file")); err == nil {
		t.Error("expected error for short data")
	}

	bad := make([]byte, 64)
	copy(bad, "JUNK")
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("expected error for bad magic")
	}
}
