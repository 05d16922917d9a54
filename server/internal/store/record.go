package store

import (
	"time"

	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// Kind identifies which sensor a reading came from.
type Kind string

// Recognised reading kinds.
const (
	KindPulse       Kind = "pulse"
	KindTemperature Kind = "temperature"
)

// Valid reports whether k is one of the recognised kinds.
func (k Kind) Valid() bool {
	return k == KindPulse || k == KindTemperature
}

// Record is a point-in-time copy of one subject's state.
// Nil pointers mark values that have never been received or derived.
type Record struct {
	SubjectID string

	BPM     *float64
	PulseAt *time.Time

	TempC  *float64
	TempAt *time.Time

	// StressIndex is present iff both BPM and TempC are present.
	StressIndex *float64
	State       stress.State

	Advisory   *string
	AdvisoryAt *time.Time
}

// AdvisoryAge returns how long ago the cached advisory was produced, relative
// to now. ok is false when the subject has no advisory yet.
func (r Record) AdvisoryAge(now time.Time) (age time.Duration, ok bool) {
	if r.AdvisoryAt == nil {
		return 0, false
	}
	return now.Sub(*r.AdvisoryAt), true
}

// Change describes the outcome of applying one reading.
type Change struct {
	Record   Record
	Previous stress.State
	Kind     Kind
}

// StateChanged reports whether the reading moved the subject to a new state.
func (c Change) StateChanged() bool {
	return c.Previous != c.Record.State
}

// subject is the mutable, lock-protected form of a Record.
type subject struct {
	bpm, tempC      float64
	hasBPM, hasTemp bool
	pulseAt, tempAt time.Time
	index           *float64
	state           stress.State
	advisory        string
	advisoryAt      time.Time
	hasAdvisory     bool
}

func newSubject() *subject {
	return &subject{state: stress.StateUnknown}
}

// apply stores value under kind and recomputes the derived fields.
// Timestamps never move backwards.
func (s *subject) apply(kind Kind, value float64, now time.Time) {
	switch kind {
	case KindPulse:
		s.bpm, s.hasBPM = value, true
		s.pulseAt = later(s.pulseAt, now)
	case KindTemperature:
		s.tempC, s.hasTemp = value, true
		s.tempAt = later(s.tempAt, now)
	}

	if s.hasBPM && s.hasTemp {
		s.index = stress.ComputeIndex(floatPtr(s.bpm), floatPtr(s.tempC))
	} else {
		s.index = nil
	}
	s.state = stress.Classify(s.index)
}

func (s *subject) setAdvisory(text string, at time.Time) {
	s.advisory = text
	s.advisoryAt = later(s.advisoryAt, at)
	s.hasAdvisory = true
}

// snapshot copies s into a Record. Every pointer in the result is freshly
// allocated so the Record shares nothing with the live subject.
func (s *subject) snapshot(id string) Record {
	r := Record{SubjectID: id, State: s.state}
	if s.hasBPM {
		r.BPM = floatPtr(s.bpm)
		r.PulseAt = timePtr(s.pulseAt)
	}
	if s.hasTemp {
		r.TempC = floatPtr(s.tempC)
		r.TempAt = timePtr(s.tempAt)
	}
	if s.index != nil {
		r.StressIndex = floatPtr(*s.index)
	}
	if s.hasAdvisory {
		text := s.advisory
		r.Advisory = &text
		r.AdvisoryAt = timePtr(s.advisoryAt)
	}
	return r
}

func later(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

func floatPtr(v float64) *float64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }
