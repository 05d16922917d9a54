package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calmsignal/calmsignal/pkg/types"
	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// Observer is notified after every accepted reading. Observe runs on the
// accepting goroutine, so implementations must not block for long and handle
// their own failures.
type Observer interface {
	Observe(ctx context.Context, ch store.Change)
}

// RejectionObserver is optionally implemented by observers that also want to
// see readings that were refused.
type RejectionObserver interface {
	Rejected(ctx context.Context, rd types.Reading, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ch store.Change)

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ch store.Change) { f(ctx, ch) }

// Receiver validates incoming readings, applies them to the registry and
// fans the resulting change out to observers.
//
// Receiver is safe for concurrent use; observers are fixed at construction.
type Receiver struct {
	registry       *store.Registry
	defaultSubject string
	observers      []Observer
	now            func() time.Time
}

// New creates a Receiver that writes accepted readings to reg. Readings that
// name no subject are attributed to defaultSubject.
func New(reg *store.Registry, defaultSubject string, observers ...Observer) *Receiver {
	return &Receiver{
		registry:       reg,
		defaultSubject: defaultSubject,
		observers:      observers,
		now:            time.Now,
	}
}

// Accept validates rd and applies it. A missing, null or non-numeric value
// and an unrecognised role all fail with store.ErrInvalidPayload and leave
// the registry untouched.
//
// A value that is present but not a finite number is refused outright. It is
// not stored with the stress index left absent, so the previous reading for
// that role stays current and the caller sees the error.
func (r *Receiver) Accept(ctx context.Context, rd types.Reading) (store.Change, error) {
	ch, err := r.apply(rd)
	if err != nil {
		r.Reject(ctx, rd, err)
		return store.Change{}, err
	}

	slog.Debug("receiver: reading stored",
		"subject", ch.Record.SubjectID,
		"kind", ch.Kind,
		"state", ch.Record.State,
	)
	if ch.StateChanged() {
		slog.Info("receiver: state changed",
			"subject", ch.Record.SubjectID,
			"from", ch.Previous,
			"to", ch.Record.State,
		)
	}

	for _, o := range r.observers {
		o.Observe(ctx, ch)
	}
	return ch, nil
}

// Reject reports a refused reading to every RejectionObserver. Transports
// call it directly when a payload fails to decode before it ever becomes a
// reading; rd is then the zero value.
func (r *Receiver) Reject(ctx context.Context, rd types.Reading, err error) {
	slog.Debug("receiver: reading rejected", "role", rd.Role, "err", err)
	for _, o := range r.observers {
		if ro, ok := o.(RejectionObserver); ok {
			ro.Rejected(ctx, rd, err)
		}
	}
}

func (r *Receiver) apply(rd types.Reading) (store.Change, error) {
	kind := store.Kind(rd.Role)
	if !kind.Valid() {
		return store.Change{}, fmt.Errorf("%w: unknown role %q", store.ErrInvalidPayload, rd.Role)
	}
	raw := rd.Value()
	if raw == nil {
		return store.Change{}, fmt.Errorf("%w: missing %s value", store.ErrInvalidPayload, kind)
	}
	v, ok := stress.ParseValue(raw)
	if !ok {
		return store.Change{}, fmt.Errorf("%w: %s value %s is not a finite number", store.ErrInvalidPayload, kind, raw)
	}
	return r.registry.Apply(rd.Subject(r.defaultSubject), kind, &v, r.now())
}
