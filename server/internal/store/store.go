package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/calmsignal/calmsignal/server/internal/stress"
)

var (
	// ErrInvalidPayload is returned for a reading with an unrecognised kind
	// or without a value. The registry is left untouched.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownSubject is returned when an operation names a subject that
	// has never received a reading.
	ErrUnknownSubject = errors.New("unknown subject")
)

// entry pairs a subject with the lock that guards it.
type entry struct {
	mu sync.Mutex
	s  *subject
}

// Registry is a thread-safe map of subject id to subject state.
//
// The registry-wide RWMutex protects only the map itself. All reads and
// read-modify-write sequences on a subject run under that subject's own
// mutex, so unrelated subjects never block each other.
type Registry struct {
	mu   sync.RWMutex
	data map[string]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{data: make(map[string]*entry)}
}

// UpdateReading stores a reading for id, creating the subject if needed,
// and returns the subject's resulting state.
func (r *Registry) UpdateReading(id string, kind Kind, value *float64, now time.Time) (stress.State, error) {
	ch, err := r.Apply(id, kind, value, now)
	if err != nil {
		return stress.StateUnknown, err
	}
	return ch.Record.State, nil
}

// Apply is UpdateReading returning the full post-update record and the state
// the subject was in before the reading.
func (r *Registry) Apply(id string, kind Kind, value *float64, now time.Time) (Change, error) {
	if !kind.Valid() {
		return Change{}, fmt.Errorf("%w: unknown reading kind %q", ErrInvalidPayload, kind)
	}
	if value == nil {
		return Change{}, fmt.Errorf("%w: missing %s value", ErrInvalidPayload, kind)
	}

	e := r.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.s.state
	e.s.apply(kind, *value, now)
	return Change{Record: e.s.snapshot(id), Previous: prev, Kind: kind}, nil
}

// Get returns a copy of the subject's current record.
func (r *Registry) Get(id string) (Record, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.snapshot(id), true
}

// List returns a copy of every subject's record. Each record is consistent
// on its own; records of different subjects may be taken at slightly
// different instants.
func (r *Registry) List() map[string]Record {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.data))
	for id, e := range r.data {
		entries[id] = e
	}
	r.mu.RUnlock()

	out := make(map[string]Record, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		out[id] = e.s.snapshot(id)
		e.mu.Unlock()
	}
	return out
}

// SetAdvisory replaces the subject's advisory text and its timestamp as a
// single unit.
func (r *Registry) SetAdvisory(id, text string, at time.Time) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSubject, id)
	}
	e.mu.Lock()
	e.s.setAdvisory(text, at)
	e.mu.Unlock()
	return nil
}

// Count returns the number of tracked subjects.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.data[id]
	return e, ok
}

func (r *Registry) getOrCreate(id string) *entry {
	if e, ok := r.lookup(id); ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another writer may have created it between the two locks.
	if e, ok := r.data[id]; ok {
		return e
	}
	e := &entry{s: newSubject()}
	r.data[id] = e
	return e
}
