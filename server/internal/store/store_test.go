package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func val(v float64) *float64 { return &v }

func TestUpdateReading_CreatesSubjectLazily(t *testing.T) {
	r := New()
	if _, ok := r.Get("user1"); ok {
		t.Fatal("Get on empty registry: expected false, got true")
	}

	state, err := r.UpdateReading("user1", KindPulse, val(80), baseTime)
	if err != nil {
		t.Fatalf("UpdateReading: %v", err)
	}
	if state != stress.StateUnknown {
		t.Errorf("state after one reading: got %q, want Unknown", state)
	}

	rec, ok := r.Get("user1")
	if !ok {
		t.Fatal("Get: expected record after first reading")
	}
	if rec.BPM == nil || *rec.BPM != 80 {
		t.Errorf("BPM: got %v, want 80", rec.BPM)
	}
	if rec.PulseAt == nil || !rec.PulseAt.Equal(baseTime) {
		t.Errorf("PulseAt: got %v, want %v", rec.PulseAt, baseTime)
	}
	if rec.TempC != nil || rec.TempAt != nil {
		t.Error("temperature fields should be empty")
	}
	if rec.StressIndex != nil {
		t.Errorf("StressIndex: got %v, want nil", *rec.StressIndex)
	}
	if rec.Advisory != nil || rec.AdvisoryAt != nil {
		t.Error("advisory fields should be empty")
	}
}

func TestUpdateReading_BothReadingsDeriveState(t *testing.T) {
	r := New()
	if _, err := r.UpdateReading("s", KindTemperature, val(36), baseTime); err != nil {
		t.Fatalf("temperature: %v", err)
	}
	state, err := r.UpdateReading("s", KindPulse, val(110), baseTime.Add(time.Second))
	if err != nil {
		t.Fatalf("pulse: %v", err)
	}
	if state != stress.StateStressed {
		t.Errorf("state: got %q, want Stressed", state)
	}

	rec, _ := r.Get("s")
	if rec.StressIndex == nil {
		t.Fatal("StressIndex: got nil, want value")
	}
	want := stress.ComputeIndex(val(110), val(36))
	if *rec.StressIndex != *want {
		t.Errorf("StressIndex: got %v, want %v", *rec.StressIndex, *want)
	}
	if rec.State != stress.Classify(rec.StressIndex) {
		t.Errorf("State %q inconsistent with index %v", rec.State, *rec.StressIndex)
	}
}

func TestUpdateReading_SecondReadingRecomputes(t *testing.T) {
	r := New()
	r.UpdateReading("s", KindTemperature, val(36), baseTime) //nolint:errcheck
	r.UpdateReading("s", KindPulse, val(110), baseTime)      //nolint:errcheck

	state, err := r.UpdateReading("s", KindPulse, val(62), baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateReading: %v", err)
	}
	if state != stress.StateRelaxed {
		t.Errorf("state after calm pulse: got %q, want Relaxed", state)
	}
}

func TestUpdateReading_Idempotent(t *testing.T) {
	r := New()
	r.UpdateReading("s", KindTemperature, val(36), baseTime) //nolint:errcheck
	first, _ := r.UpdateReading("s", KindPulse, val(90), baseTime)
	before, _ := r.Get("s")

	later := baseTime.Add(30 * time.Second)
	second, err := r.UpdateReading("s", KindPulse, val(90), later)
	if err != nil {
		t.Fatalf("UpdateReading: %v", err)
	}
	after, _ := r.Get("s")

	if first != second {
		t.Errorf("state changed on identical reading: %q → %q", first, second)
	}
	if *before.StressIndex != *after.StressIndex {
		t.Errorf("index changed on identical reading: %v → %v", *before.StressIndex, *after.StressIndex)
	}
	if !after.PulseAt.Equal(later) {
		t.Errorf("PulseAt: got %v, want %v", after.PulseAt, later)
	}
	if !after.TempAt.Equal(*before.TempAt) {
		t.Errorf("TempAt changed on pulse reading: %v → %v", before.TempAt, after.TempAt)
	}
}

func TestUpdateReading_TimestampsNeverMoveBack(t *testing.T) {
	r := New()
	r.UpdateReading("s", KindPulse, val(70), baseTime.Add(time.Minute)) //nolint:errcheck
	r.UpdateReading("s", KindPulse, val(75), baseTime)                  //nolint:errcheck

	rec, _ := r.Get("s")
	if *rec.BPM != 75 {
		t.Errorf("BPM: got %v, want 75 (latest applied value)", *rec.BPM)
	}
	if !rec.PulseAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("PulseAt moved backwards: got %v", rec.PulseAt)
	}
}

func TestUpdateReading_InvalidPayload(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		value *float64
	}{
		{"unknown kind", Kind("temp"), val(36)},
		{"empty kind", Kind(""), val(36)},
		{"missing value", KindPulse, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			_, err := r.UpdateReading("s", tc.kind, tc.value, baseTime)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("err: got %v, want ErrInvalidPayload", err)
			}
			if r.Count() != 0 {
				t.Errorf("rejected reading created a subject: Count = %d", r.Count())
			}
		})
	}
}

func TestApply_ReportsPreviousState(t *testing.T) {
	r := New()
	r.UpdateReading("s", KindTemperature, val(36), baseTime) //nolint:errcheck

	ch, err := r.Apply("s", KindPulse, val(115), baseTime)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if ch.Previous != stress.StateUnknown || ch.Record.State != stress.StateStressed {
		t.Errorf("transition: got %q → %q, want Unknown → Stressed", ch.Previous, ch.Record.State)
	}
	if !ch.StateChanged() {
		t.Error("StateChanged: got false, want true")
	}
	if ch.Kind != KindPulse {
		t.Errorf("Kind: got %q, want pulse", ch.Kind)
	}

	ch, _ = r.Apply("s", KindPulse, val(116), baseTime)
	if ch.StateChanged() {
		t.Error("StateChanged on Stressed → Stressed: got true, want false")
	}
}

func TestSetAdvisory(t *testing.T) {
	r := New()
	if err := r.SetAdvisory("ghost", "breathe", baseTime); !errors.Is(err, ErrUnknownSubject) {
		t.Fatalf("SetAdvisory unknown: got %v, want ErrUnknownSubject", err)
	}

	r.UpdateReading("s", KindPulse, val(70), baseTime) //nolint:errcheck
	if err := r.SetAdvisory("s", "breathe", baseTime.Add(time.Second)); err != nil {
		t.Fatalf("SetAdvisory: %v", err)
	}
	rec, _ := r.Get("s")
	if rec.Advisory == nil || *rec.Advisory != "breathe" {
		t.Errorf("Advisory: got %v, want breathe", rec.Advisory)
	}
	age, ok := rec.AdvisoryAge(baseTime.Add(5 * time.Second))
	if !ok || age != 4*time.Second {
		t.Errorf("AdvisoryAge: got (%v, %v), want (4s, true)", age, ok)
	}
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	r := New()
	r.UpdateReading("s", KindPulse, val(70), baseTime) //nolint:errcheck

	rec, _ := r.Get("s")
	*rec.BPM = 999

	again, _ := r.Get("s")
	if *again.BPM != 70 {
		t.Errorf("mutating a snapshot leaked into the registry: BPM = %v", *again.BPM)
	}
}

func TestList(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		r.UpdateReading(id, KindPulse, val(70), baseTime) //nolint:errcheck
	}
	all := r.List()
	if len(all) != 3 {
		t.Fatalf("List: got %d records, want 3", len(all))
	}
	for id, rec := range all {
		if rec.SubjectID != id {
			t.Errorf("List[%q].SubjectID = %q", id, rec.SubjectID)
		}
	}
}

func TestConcurrentReadingsSameSubject(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			r.UpdateReading("shared", KindPulse, val(float64(60+n%60)), baseTime) //nolint:errcheck
		}(i)
		go func(n int) {
			defer wg.Done()
			r.UpdateReading("shared", KindTemperature, val(float64(33+n%10)), baseTime) //nolint:errcheck
		}(i)
		go func() {
			defer wg.Done()
			rec, ok := r.Get("shared")
			if !ok {
				return
			}
			// Derived fields must always match the readings in the same copy.
			want := stress.ComputeIndex(rec.BPM, rec.TempC)
			switch {
			case want == nil && rec.StressIndex != nil,
				want != nil && (rec.StressIndex == nil || *want != *rec.StressIndex):
				t.Errorf("inconsistent record: bpm=%v temp=%v index=%v", rec.BPM, rec.TempC, rec.StressIndex)
			}
			if rec.State != stress.Classify(rec.StressIndex) {
				t.Errorf("state %q inconsistent with index", rec.State)
			}
		}()
	}
	wg.Wait()

	if r.Count() != 1 {
		t.Errorf("Count after concurrent updates: got %d, want 1", r.Count())
	}
}

func TestConcurrentSubjects(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		id := fmt.Sprintf("subject-%d", i)
		go func() {
			defer wg.Done()
			r.UpdateReading(id, KindPulse, val(80), baseTime) //nolint:errcheck
		}()
		go func() {
			defer wg.Done()
			r.List()
		}()
	}
	wg.Wait()

	if r.Count() != 50 {
		t.Errorf("Count: got %d, want 50", r.Count())
	}
}
