package audioio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Resample converts audio from one sample rate to another using linear interpolation.
// Equal rates return the input slice itself. Otherwise the output holds
// max(1, round(len(samples)*targetRate/sourceRate)) samples.
func Resample(samples []float32, sourceRate, targetRate float64) ([]float32, error) {
	if !validRate(sourceRate) || !validRate(targetRate) {
		return nil, fmt.Errorf("%w: %v -> %v", ErrInvalidRate, sourceRate, targetRate)
	}
	if sourceRate == targetRate {
		return samples, nil
	}

	ratio := sourceRate / targetRate
	n := int(math.Max(1, math.Round(float64(len(samples))*targetRate/sourceRate)))
	out := make([]float32, n)
	if len(samples) == 0 {
		return out, nil
	}

	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		lo := int(math.Floor(pos))
		if lo > last {
			// Missing samples read as silence.
			continue
		}
		hi := min(lo+1, last)
		s1 := samples[lo]
		s2 := samples[hi]
		out[i] = s1 + (s2-s1)*float32(pos-float64(lo))
	}
	return out, nil
}

func validRate(r float64) bool {
	return !math.IsNaN(r) && !math.IsInf(r, 0) && r > 0
}

// FloatToPCM16 encodes float samples as little-endian signed 16-bit PCM.
// Samples are clamped to [-1, 1]; negative values scale by 0x8000 and
// non-negative values by 0x7fff.
func FloatToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = max(-1, min(1, s))
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7fff)
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// PCM16ToFloat decodes little-endian signed 16-bit PCM into float samples.
// A trailing odd byte is ignored.
func PCM16ToFloat(buf []byte) []float32 {
	out := make([]float32, len(buf)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7fff
		}
	}
	return out
}

// EncodeFrame resamples a captured frame to targetRate and encodes it as PCM16.
func EncodeFrame(frame Frame, targetRate float64) ([]byte, error) {
	resampled, err := Resample(frame.Samples, frame.SampleRate, targetRate)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: %w", ErrAudioProcessing, frame.Seq, err)
	}
	return FloatToPCM16(resampled), nil
}

// RMS calculates the root mean square level of float samples (0.0 to 1.0).
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
