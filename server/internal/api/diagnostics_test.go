package api

import (
	"testing"
	"time"

	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/stress"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fp(v float64) *float64 { return &v }

func tp(t time.Time) *time.Time { return &t }

func record(bpm, temp *float64, at time.Time) store.Record {
	rec := store.Record{SubjectID: "s", BPM: bpm, TempC: temp}
	if bpm != nil {
		rec.PulseAt = tp(at)
	}
	if temp != nil {
		rec.TempAt = tp(at)
	}
	rec.StressIndex = stress.ComputeIndex(bpm, temp)
	rec.State = stress.Classify(rec.StressIndex)
	return rec
}

func keys(hints []DiagnosticHint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = h.Key
	}
	return out
}

func TestComputeDiagnostics(t *testing.T) {
	advised := record(fp(70), fp(35), baseTime)
	advised.Advisory = new(string)
	*advised.Advisory = "walk"
	advised.AdvisoryAt = tp(baseTime)

	tests := []struct {
		name  string
		rec   store.Record
		now   time.Time
		fresh bool
		want  []string
	}{
		{"all clear", record(fp(70), fp(35), baseTime), baseTime, false, []string{"ok"}},
		{"no readings", record(nil, nil, baseTime), baseTime, false, []string{"missing_pulse", "missing_temperature"}},
		{"pulse only", record(fp(70), nil, baseTime), baseTime, false, []string{"missing_temperature"}},
		{"stale", record(fp(70), fp(35), baseTime), baseTime.Add(5 * time.Minute), false, []string{"stale_pulse", "stale_temperature"}},
		{"cold sensor", record(fp(70), fp(31), baseTime), baseTime, false, []string{"temperature_floor"}},
		{"stressed", record(fp(110), fp(36), baseTime), baseTime, false, []string{"stressed"}},
		{"critical sorts first", record(fp(125), fp(39), baseTime), baseTime.Add(5 * time.Minute), false,
			[]string{"stressed", "stale_pulse", "stale_temperature"}},
		{"stale advisory", advised, baseTime, false, []string{"advisory_stale"}},
		{"fresh advisory", advised, baseTime, true, []string{"ok"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := keys(computeDiagnostics(tc.rec, tc.now, 2*time.Minute, tc.fresh))
			if len(got) != len(tc.want) {
				t.Fatalf("hints: got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("hints: got %v, want %v", got, tc.want)
					break
				}
			}
		})
	}
}

func TestComputeDiagnostics_StressLevel(t *testing.T) {
	hints := computeDiagnostics(record(fp(125), fp(39), baseTime), baseTime, 0, false)
	if hints[0].Key != "stressed" || hints[0].Level != "critical" {
		t.Errorf("got %+v, want critical stressed hint", hints[0])
	}

	hints = computeDiagnostics(record(fp(110), fp(36), baseTime), baseTime, 0, false)
	if hints[0].Level != "warning" {
		t.Errorf("level: got %q, want warning", hints[0].Level)
	}
}
