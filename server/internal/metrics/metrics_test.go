package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calmsignal/calmsignal/pkg/types"
	"github.com/calmsignal/calmsignal/server/internal/advisory"
	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// scrape fetches /metrics and parses the text exposition.
func scrape(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	require.NoError(t, err)
	return families
}

// value returns the counter, gauge or histogram-count value of the series in
// family name whose labels match want.
func value(t *testing.T, families map[string]*dto.MetricFamily, name string, want map[string]string) float64 {
	t.Helper()
	mf, ok := families[name]
	require.True(t, ok, "family %s not exposed", name)
	for _, metric := range mf.GetMetric() {
		if !labelsMatch(metric.GetLabel(), want) {
			continue
		}
		switch {
		case metric.Counter != nil:
			return metric.GetCounter().GetValue()
		case metric.Gauge != nil:
			return metric.GetGauge().GetValue()
		case metric.Histogram != nil:
			return float64(metric.GetHistogram().GetSampleCount())
		}
	}
	t.Fatalf("no %s series with labels %v", name, want)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestObserve_ReadingsAndTransitions(t *testing.T) {
	reg := store.New()
	m := New(reg)
	now := time.Now()

	for _, step := range []struct {
		kind store.Kind
		v    float64
	}{
		{store.KindTemperature, 36},
		{store.KindPulse, 115}, // Unknown -> Stressed
		{store.KindPulse, 116}, // Stressed -> Stressed
	} {
		v := step.v
		ch, err := reg.Apply("s", step.kind, &v, now)
		require.NoError(t, err)
		m.Observe(context.Background(), ch)
	}
	m.Rejected(context.Background(), types.Reading{Role: "temp"}, store.ErrInvalidPayload)

	f := scrape(t, m)
	assert.Equal(t, 2.0, value(t, f, "calmsignal_readings_total", map[string]string{"kind": "pulse"}))
	assert.Equal(t, 1.0, value(t, f, "calmsignal_readings_total", map[string]string{"kind": "temperature"}))
	assert.Equal(t, 1.0, value(t, f, "calmsignal_readings_rejected_total", nil))
	assert.Equal(t, 1.0, value(t, f, "calmsignal_state_transitions_total",
		map[string]string{"from": string(stress.StateUnknown), "to": string(stress.StateStressed)}))
	assert.Equal(t, 1.0, value(t, f, "calmsignal_subjects", nil))
}

func TestObserveAdvisory_Outcomes(t *testing.T) {
	m := New(store.New())

	m.ObserveAdvisory(advisory.Result{Text: "x", Cached: true}, nil)
	m.ObserveAdvisory(advisory.Result{Text: "x", Cached: true}, nil)
	m.ObserveAdvisory(advisory.Result{Text: "y"}, nil)
	m.ObserveAdvisory(advisory.Result{}, fmt.Errorf("wrap: %w", advisory.ErrUnknownSubject))
	m.ObserveAdvisory(advisory.Result{}, advisory.ErrGeneratorUnavailable)
	m.ObserveAdvisory(advisory.Result{}, &advisory.GenerationError{SubjectID: "s", Cause: context.DeadlineExceeded})
	m.ObserveAdvisory(advisory.Result{}, context.Canceled)

	f := scrape(t, m)
	for outcome, want := range map[string]float64{
		OutcomeCached:      2,
		OutcomeGenerated:   1,
		OutcomeUnknown:     1,
		OutcomeUnavailable: 1,
		OutcomeFailed:      1,
		OutcomeCanceled:    1,
	} {
		assert.Equal(t, want, value(t, f, "calmsignal_advisory_requests_total", map[string]string{"outcome": outcome}), outcome)
	}
}

type stubGenerator struct{ err error }

func (s stubGenerator) Generate(context.Context, advisory.Request) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "ok", nil
}

func TestInstrumentGenerator(t *testing.T) {
	m := New(store.New())
	assert.Nil(t, m.InstrumentGenerator(nil), "nil generator must stay nil")

	good := m.InstrumentGenerator(stubGenerator{})
	bad := m.InstrumentGenerator(stubGenerator{err: errors.New("503")})

	text, err := good.Generate(context.Background(), advisory.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	_, err = bad.Generate(context.Background(), advisory.Request{})
	require.Error(t, err)

	f := scrape(t, m)
	assert.Equal(t, 1.0, value(t, f, "calmsignal_generator_calls_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, value(t, f, "calmsignal_generator_calls_total", map[string]string{"result": "error"}))
	assert.Equal(t, 2.0, value(t, f, "calmsignal_generator_call_duration_seconds", nil))
}
