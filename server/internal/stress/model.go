package stress

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Weight constants for the stress index formula.
// They must sum to 1.0.
const (
	WeightPulse       = 0.7
	WeightTemperature = 0.3
)

// Normalisation ranges. Values outside a range saturate at 0 or 1.
const (
	PulseRestBPM = 60.0
	PulseMaxBPM  = 120.0

	TempMinC = 32.0
	TempMaxC = 50.0

	// TempFloorC is the lowest skin temperature taken at face value. Anything
	// colder is sensor noise or a detached sensor.
	TempFloorC = 34.0
)

// Thresholds that map an index to a state. Each is the inclusive lower bound
// of the next bucket.
const (
	ThresholdNormal   = 0.3
	ThresholdStressed = 0.6
)

// State is the discrete classification of a stress index.
type State string

// State constants returned by Classify.
const (
	StateUnknown  State = "Unknown"
	StateRelaxed  State = "Relaxed"
	StateNormal   State = "Normal"
	StateStressed State = "Stressed"
)

// ComputeIndex calculates the stress index from the latest pulse and skin
// temperature.
//
// Formula:
//
//	hr    = clamp((bpm - 60) / 60, 0, 1)
//	temp  = clamp((max(temp_c, 34) - 32) / 18, 0, 1)
//	index = 0.7*hr + 0.3*temp
//
// Returns nil when either reading is missing or not a finite number.
func ComputeIndex(bpm, tempC *float64) *float64 {
	if bpm == nil || tempC == nil || !finite(*bpm) || !finite(*tempC) {
		return nil
	}

	t := *tempC
	if t < TempFloorC {
		t = TempFloorC
	}

	hrNorm := clamp01((*bpm - PulseRestBPM) / (PulseMaxBPM - PulseRestBPM))
	tempNorm := clamp01((t - TempMinC) / (TempMaxC - TempMinC))

	index := WeightPulse*hrNorm + WeightTemperature*tempNorm
	return &index
}

// Classify maps an index to a State. A nil index is Unknown.
func Classify(index *float64) State {
	if index == nil {
		return StateUnknown
	}
	switch v := *index; {
	case v < ThresholdNormal:
		return StateRelaxed
	case v < ThresholdStressed:
		return StateNormal
	default:
		return StateStressed
	}
}

// ParseValue decodes a raw reading value. JSON numbers and numeric strings
// are accepted; anything else, including NaN and ±Inf, is rejected.
func ParseValue(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return 0, false
	}
	return v, true
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
