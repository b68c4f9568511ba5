package devserver

import (
	"fmt"
	"math"
	"sort"

	"github.com/teslashibe/voicenote/pkg/audioio"
	"github.com/teslashibe/voicenote/pkg/voice"
)

// samplePayload builds a value matching schema. tick varies strings and
// numbers so successive events differ.
func samplePayload(name string, s *voice.Schema, tick int) any {
	if s == nil {
		return nil
	}
	if len(s.Enum) > 0 {
		return s.Enum[tick%len(s.Enum)]
	}
	switch s.Type {
	case "object":
		out := make(map[string]any, len(s.Properties))
		keys := make([]string, 0, len(s.Properties))
		for k := range s.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = samplePayload(k, s.Properties[k], tick)
		}
		return out
	case "array":
		return []any{samplePayload(name, s.Items, tick)}
	case "number", "integer":
		return tick
	case "boolean":
		return tick%2 == 0
	default:
		return fmt.Sprintf("%s %d", name, tick)
	}
}

// toolPayload is the object sent with a tool event.
func toolPayload(name string, decl voice.ToolDeclaration, tick int) map[string]any {
	schema := decl.Schema
	if schema.Type == "" {
		schema.Type = "object"
	}
	if m, ok := samplePayload(name, &schema, tick).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// chime is a short two-tone PCM16 clip sent as assistant audio.
func chime(d float64) []byte {
	n := int(d * audioio.TargetSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / audioio.TargetSampleRate
		freq := 660.0
		if i > n/2 {
			freq = 880.0
		}
		fade := math.Min(1, math.Min(float64(i), float64(n-i))/240)
		samples[i] = float32(0.2 * fade * math.Sin(2*math.Pi*freq*t))
	}
	return audioio.FloatToPCM16(samples)
}
