package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// DiagnosticHint is one human-readable insight about a subject. The UI shows
// these as chips on the subject card; Detail is the full explanation.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip.
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a subject record. Hints are ordered
// critical first, then warnings, then info.
func computeDiagnostics(rec store.Record, now time.Time, staleAfter time.Duration, advisoryFresh bool) []DiagnosticHint {
	var hints []DiagnosticHint

	// Missing sensors.
	if rec.BPM == nil {
		hints = append(hints, DiagnosticHint{
			Key:   "missing_pulse",
			Level: "info",
			Title: "Waiting for pulse",
			Detail: "No pulse reading has arrived for this subject yet. " +
				"The stress index needs both pulse and skin temperature, so the state stays Unknown until one arrives.",
		})
	}
	if rec.TempC == nil {
		hints = append(hints, DiagnosticHint{
			Key:   "missing_temperature",
			Level: "info",
			Title: "Waiting for temperature",
			Detail: "No skin temperature reading has arrived for this subject yet. " +
				"The stress index needs both pulse and skin temperature, so the state stays Unknown until one arrives.",
		})
	}

	// Stale readings.
	if staleAfter > 0 {
		if h, ok := staleHint("stale_pulse", "Pulse", rec.PulseAt, now, staleAfter); ok {
			hints = append(hints, h)
		}
		if h, ok := staleHint("stale_temperature", "Temperature", rec.TempAt, now, staleAfter); ok {
			hints = append(hints, h)
		}
	}

	// Temperature under the model floor.
	if rec.TempC != nil && *rec.TempC < stress.TempFloorC {
		v := *rec.TempC
		hints = append(hints, DiagnosticHint{
			Key:   "temperature_floor",
			Level: "info",
			Title: "Temperature below floor",
			Detail: fmt.Sprintf(
				"The sensor reports %.1f °C, below the %.0f °C floor the stress model uses. "+
					"It is scored as %.0f °C. A reading this low usually means the sensor is not in good skin contact.",
				v, stress.TempFloorC, stress.TempFloorC),
			Value: &v,
		})
	}

	// Stress state.
	if rec.State == stress.StateStressed && rec.StressIndex != nil {
		v := *rec.StressIndex
		level := "warning"
		if v >= 0.8 {
			level = "critical"
		}
		hints = append(hints, DiagnosticHint{
			Key:   "stressed",
			Level: level,
			Title: "Elevated stress",
			Detail: fmt.Sprintf(
				"The stress index is %.2f, at or above the %.1f threshold for Stressed. "+
					"Request a remedy to get a short routine tailored to the current readings.",
				v, stress.ThresholdStressed),
			Value: &v,
		})
	}

	// Advisory freshness.
	if rec.Advisory != nil && !advisoryFresh {
		hints = append(hints, DiagnosticHint{
			Key:   "advisory_stale",
			Level: "info",
			Title: "Remedy out of date",
			Detail: "The last remedy was generated from older readings. " +
				"The next remedy request will generate a new one.",
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "ok",
			Level:  "ok",
			Title:  "All clear",
			Detail: fmt.Sprintf("Both sensors are reporting and the subject is %s.", rec.State),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func staleHint(key, sensor string, at *time.Time, now time.Time, staleAfter time.Duration) (DiagnosticHint, bool) {
	if at == nil {
		return DiagnosticHint{}, false
	}
	age := now.Sub(*at)
	if age <= staleAfter {
		return DiagnosticHint{}, false
	}
	secs := age.Seconds()
	return DiagnosticHint{
		Key:   key,
		Level: "warning",
		Title: sensor + " reading stale",
		Detail: fmt.Sprintf(
			"The last %s reading is %s old. The stress state is still computed from it, "+
				"so it may no longer reflect how the subject is doing. Check the device and its connection.",
			sensor, age.Truncate(time.Second)),
		Value: &secs,
	}, true
}
