package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmsignal/calmsignal/server/internal/store"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func newNotifier(pub Publisher) *Notifier {
	n := NewNotifier(pub, "calmsignal.state")
	n.now = func() time.Time { return baseTime }
	return n
}

func apply(t *testing.T, reg *store.Registry, kind store.Kind, v float64) store.Change {
	t.Helper()
	ch, err := reg.Apply("s1", kind, &v, baseTime)
	require.NoError(t, err)
	return ch
}

func TestNotifier_PublishesTransitionsOnly(t *testing.T) {
	pub := &fakePublisher{}
	n := newNotifier(pub)
	reg := store.New()

	n.Observe(context.Background(), apply(t, reg, store.KindPulse, 70))       // Unknown -> Unknown
	n.Observe(context.Background(), apply(t, reg, store.KindTemperature, 35)) // Unknown -> Relaxed
	n.Observe(context.Background(), apply(t, reg, store.KindPulse, 72))       // Relaxed -> Relaxed
	n.Observe(context.Background(), apply(t, reg, store.KindPulse, 118))      // Relaxed -> Stressed

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "calmsignal.state.s1", pub.msgs[0].subject)

	var first, second Transition
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &first))
	require.NoError(t, json.Unmarshal(pub.msgs[1].data, &second))

	assert.Equal(t, "Unknown", first.From)
	assert.Equal(t, "Relaxed", first.To)
	assert.Equal(t, "Relaxed", second.From)
	assert.Equal(t, "Stressed", second.To)
	require.NotNil(t, second.StressIndex)
	assert.Greater(t, *second.StressIndex, 0.6)
	assert.Equal(t, "2026-03-01T09:00:00Z", second.At)
}

func TestNotifier_PublishErrorIsSwallowed(t *testing.T) {
	n := newNotifier(&fakePublisher{err: errors.New("nats: connection closed")})
	reg := store.New()
	apply(t, reg, store.KindPulse, 70)

	assert.NotPanics(t, func() {
		n.Observe(context.Background(), apply(t, reg, store.KindTemperature, 35))
	})
}

func TestNotifier_Subject(t *testing.T) {
	assert.Equal(t, "calmsignal.state.ward-3", NewNotifier(nil, "calmsignal.state").Subject("ward-3"))
}
