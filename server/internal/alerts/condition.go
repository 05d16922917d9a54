package alerts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// condition is a parsed rule expression of the form "field op value".
//
// Supported expressions:
//
//	stress_index >= 0.8
//	bpm > 110
//	temp_c > 38
//	pulse_age_s > 120
//	temp_age_s > 120
//	state == Stressed
//
// Age conditions are measured against the evaluation time, so they also
// fire from Engine.Sweep when no reading arrives.
type condition struct {
	field     string
	op        string
	threshold float64
	state     stress.State
}

var numericFields = map[string]bool{
	"stress_index": true,
	"bpm":          true,
	"temp_c":       true,
	"pulse_age_s":  true,
	"temp_age_s":   true,
}

func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("want \"field op value\", got %q", expr)
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "state" {
		if op != "==" && op != "!=" {
			return condition{}, fmt.Errorf("state supports == and !=, got %q", op)
		}
		st := stress.State(rhs)
		switch st {
		case stress.StateUnknown, stress.StateRelaxed, stress.StateNormal, stress.StateStressed:
		default:
			return condition{}, fmt.Errorf("unknown state %q", rhs)
		}
		return condition{field: field, op: op, state: st}, nil
	}

	if !numericFields[field] {
		return condition{}, fmt.Errorf("unknown field %q", field)
	}
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("unknown operator %q", op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("threshold %q: %w", rhs, err)
	}
	return condition{field: field, op: op, threshold: threshold}, nil
}

// eval tests the condition against rec. A numeric condition on a value the
// subject does not have yet never fires. A record without a state counts as
// Unknown.
func (c condition) eval(rec store.Record, now time.Time) (fires bool, value float64) {
	if c.field == "state" {
		st := rec.State
		if st == "" {
			st = stress.StateUnknown
		}
		if c.op == "==" {
			return st == c.state, 0
		}
		return st != c.state, 0
	}
	v, ok := numericField(c.field, rec, now)
	if !ok {
		return false, 0
	}
	return compareFloat(v, c.op, c.threshold), v
}

// numericField maps a field name to its value in the record.
func numericField(field string, rec store.Record, now time.Time) (float64, bool) {
	switch field {
	case "stress_index":
		return deref(rec.StressIndex)
	case "bpm":
		return deref(rec.BPM)
	case "temp_c":
		return deref(rec.TempC)
	case "pulse_age_s":
		return age(rec.PulseAt, now)
	case "temp_age_s":
		return age(rec.TempAt, now)
	default:
		return 0, false
	}
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

func age(at *time.Time, now time.Time) (float64, bool) {
	if at == nil {
		return 0, false
	}
	return now.Sub(*at).Seconds(), true
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
