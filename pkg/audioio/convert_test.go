package audioio

import (
	"errors"
	"math"
	"testing"
)

// pcmTolerance is one quantisation step of the positive half of PCM16.
const pcmTolerance = 1.0/0x7fff + 1e-7

func sineWave(n int, freq, rate float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.8 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return out
}

func TestResample_SameRate(t *testing.T) {
	samples := []float32{0.1, 0.2, -0.3, 0.4, 0.5}

	for _, rate := range []float64{8000, 24000, 44100, 48000} {
		result, err := Resample(samples, rate, rate)
		if err != nil {
			t.Fatalf("Resample(%v, %v) failed: %v", rate, rate, err)
		}
		if len(result) != len(samples) {
			t.Fatalf("Expected %d samples, got %d", len(samples), len(result))
		}
		if &result[0] != &samples[0] {
			t.Errorf("Expected identity to return the input slice for rate %v", rate)
		}
	}
}

func TestResample_Length(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		from, to float64
	}{
		{"48k to 24k", 4096, 48000, 24000},
		{"44.1k to 24k", 4096, 44100, 24000},
		{"16k to 24k", 320, 16000, 24000},
		{"8k to 24k", 1000, 8000, 24000},
		{"22.05k to 24k", 333, 22050, 24000},
		{"96k to 24k", 7, 96000, 24000},
		{"single sample", 1, 48000, 24000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Resample(make([]float32, tt.n), tt.from, tt.to)
			if err != nil {
				t.Fatalf("Resample failed: %v", err)
			}
			want := int(math.Max(1, math.Round(float64(tt.n)*tt.to/tt.from)))
			if len(result) != want {
				t.Errorf("Expected %d samples, got %d", want, len(result))
			}
		})
	}
}

func TestResample_Interpolation(t *testing.T) {
	// 24kHz -> 48kHz doubles the samples; odd positions sit halfway.
	samples := []float32{0, 1, 0, -1}

	result, err := Resample(samples, 24000, 48000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}

	expected := []float32{0, 0.5, 1, 0.5, 0, -0.5, -1, -1}
	if len(result) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(result))
	}
	for i, want := range expected {
		if math.Abs(float64(result[i]-want)) > 1e-6 {
			t.Errorf("Sample %d: expected %v, got %v", i, want, result[i])
		}
	}
}

func TestResample_Empty(t *testing.T) {
	result, err := Resample(nil, 48000, 24000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(result) != 1 || result[0] != 0 {
		t.Errorf("Expected one silent sample for empty input, got %v", result)
	}
}

func TestResample_InvalidRate(t *testing.T) {
	bad := []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)}
	samples := []float32{0.1, 0.2}

	for _, r := range bad {
		if _, err := Resample(samples, r, 24000); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("source rate %v: expected ErrInvalidRate, got %v", r, err)
		}
		if _, err := Resample(samples, 24000, r); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("target rate %v: expected ErrInvalidRate, got %v", r, err)
		}
		if _, err := Resample(samples, r, r); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("equal rates %v: expected ErrInvalidRate, got %v", r, err)
		}
	}
}

func TestFloatToPCM16(t *testing.T) {
	samples := []float32{0, 1, -1, 2, -2, 0.5}
	data := FloatToPCM16(samples)

	if len(data) != 2*len(samples) {
		t.Fatalf("Expected %d bytes, got %d", 2*len(samples), len(data))
	}

	expected := []int16{0, 0x7fff, -0x8000, 0x7fff, -0x8000, 16383}
	for i, want := range expected {
		got := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		if got != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestPCM16ToFloat(t *testing.T) {
	data := []byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00, 0x01}
	samples := PCM16ToFloat(data)

	if len(samples) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(samples))
	}
	if samples[0] != -1 || samples[1] != 1 || samples[2] != 0 {
		t.Errorf("Unexpected samples: %v", samples)
	}
}

func TestPCM16_RoundTrip(t *testing.T) {
	t.Run("arbitrary values", func(t *testing.T) {
		var samples []float32
		for v := -1.0; v <= 1.0; v += 0.001 {
			samples = append(samples, float32(v))
		}
		decoded := PCM16ToFloat(FloatToPCM16(samples))
		for i, s := range samples {
			if d := math.Abs(float64(decoded[i] - s)); d > pcmTolerance {
				t.Fatalf("Sample %d (%v): error %v exceeds %v", i, s, d, pcmTolerance)
			}
		}
	})

	t.Run("values produced by the encoder", func(t *testing.T) {
		grid := make([]byte, 0, 2*2048)
		for v := -32768; v <= 32767; v += 32 {
			grid = append(grid, byte(v), byte(v>>8))
		}
		x := PCM16ToFloat(grid)
		again := PCM16ToFloat(FloatToPCM16(x))
		for i := range x {
			if d := math.Abs(float64(again[i] - x[i])); d > pcmTolerance {
				t.Fatalf("Sample %d (%v): error %v exceeds %v", i, x[i], d, pcmTolerance)
			}
		}
	})
}

func TestEncodeFrame_48kSine(t *testing.T) {
	in := sineWave(4096, 440, 48000)
	frame := Frame{Samples: in, SampleRate: 48000}

	pcm, err := EncodeFrame(frame, TargetSampleRate)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if len(pcm) != 2048*2 {
		t.Fatalf("Expected %d bytes, got %d", 2048*2, len(pcm))
	}

	// An exact 2:1 ratio lands every output on an even source sample.
	decoded := PCM16ToFloat(pcm)
	for i, got := range decoded {
		want := in[2*i]
		if d := math.Abs(float64(got - want)); d > pcmTolerance {
			t.Fatalf("Sample %d: expected %v, got %v (error %v)", i, want, got, d)
		}
	}
}

func TestEncodeFrame_InvalidRate(t *testing.T) {
	_, err := EncodeFrame(Frame{Samples: []float32{0.1}, SampleRate: 0, Seq: 7}, TargetSampleRate)
	if !errors.Is(err, ErrAudioProcessing) {
		t.Errorf("Expected ErrAudioProcessing, got %v", err)
	}
	if !errors.Is(err, ErrInvalidRate) {
		t.Errorf("Expected wrapped ErrInvalidRate, got %v", err)
	}
}

func TestRMS(t *testing.T) {
	if rms := RMS([]float32{0, 0, 0}); rms != 0 {
		t.Errorf("Expected RMS 0 for silence, got %f", rms)
	}

	if rms := RMS([]float32{1, -1, 1}); rms < 0.99 || rms > 1.01 {
		t.Errorf("Expected RMS ~1.0 for full scale, got %f", rms)
	}

	if rms := RMS(nil); rms != 0 {
		t.Errorf("Expected RMS 0 for empty, got %f", rms)
	}
}

// Benchmarks

func BenchmarkResample_48kTo24k(b *testing.B) {
	samples := sineWave(4096, 440, 48000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Resample(samples, 48000, 24000)
	}
}

func BenchmarkFloatToPCM16(b *testing.B) {
	samples := sineWave(2048, 440, 24000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FloatToPCM16(samples)
	}
}
