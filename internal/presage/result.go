package presage

import (
	"encoding/json"
	"math"
	"strconv"
)

// HeartRateFields are the result keys that carry heart rate, in the order they
// are consulted.
var HeartRateFields = []string{"heart_rate", "pulse_rate", "hr"}

// Result is the ready retrieve-data payload.
type Result map[string]any

// HeartRate returns the first present heart-rate alias, or 0 when none is.
// A present but non-numeric value counts as 0 without consulting later
// aliases.
func (r Result) HeartRate() float64 {
	for _, field := range HeartRateFields {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		return toFloat(v)
	}
	return 0
}

// BPM returns the heart rate rounded to the nearest integer, floored at 0.
func (r Result) BPM() int {
	hr := math.Round(r.HeartRate())
	if hr <= 0 || math.IsNaN(hr) || math.IsInf(hr, 0) {
		return 0
	}
	return int(hr)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	case int:
		return float64(n)
	default:
		return 0
	}
}
