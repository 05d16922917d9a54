package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calmsignal/calmsignal/pkg/types"
	"github.com/calmsignal/calmsignal/server/internal/advisory"
	"github.com/calmsignal/calmsignal/server/internal/store"
)

const namespace = "calmsignal"

// Advisory request outcomes, used as the "outcome" label.
const (
	OutcomeCached      = "cached"
	OutcomeGenerated   = "generated"
	OutcomeFailed      = "failed"
	OutcomeUnavailable = "unavailable"
	OutcomeUnknown     = "unknown_subject"
	OutcomeCanceled    = "canceled"
)

// Metrics owns a private Prometheus registry with the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	readings    *prometheus.CounterVec
	rejected    prometheus.Counter
	transitions *prometheus.CounterVec
	advisories  *prometheus.CounterVec
	genCalls    *prometheus.CounterVec
	genLatency  prometheus.Histogram
}

// New creates and registers all collectors. subjects is sampled at scrape
// time for the tracked-subject gauge.
func New(subjects *store.Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Accepted sensor readings by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Readings refused as invalid payloads.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Subject stress state changes.",
		}, []string{"from", "to"}),
		advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_requests_total",
			Help:      "Advisory requests by outcome.",
		}, []string{"outcome"}),
		genCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_calls_total",
			Help:      "Calls to the external advice generator by result.",
		}, []string{"result"}),
		genLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generator_call_duration_seconds",
			Help:      "Latency of external advice generator calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15},
		}),
	}

	m.registry.MustRegister(
		m.readings,
		m.rejected,
		m.transitions,
		m.advisories,
		m.genCalls,
		m.genLatency,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subjects",
			Help:      "Subjects currently tracked.",
		}, func() float64 { return float64(subjects.Count()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe counts an accepted reading and any state transition it caused.
func (m *Metrics) Observe(_ context.Context, ch store.Change) {
	m.readings.WithLabelValues(string(ch.Kind)).Inc()
	if ch.StateChanged() {
		m.transitions.WithLabelValues(string(ch.Previous), string(ch.Record.State)).Inc()
	}
}

// Rejected counts a refused reading.
func (m *Metrics) Rejected(context.Context, types.Reading, error) {
	m.rejected.Inc()
}

// ObserveAdvisory records the outcome of one advisory request.
func (m *Metrics) ObserveAdvisory(res advisory.Result, err error) {
	m.advisories.WithLabelValues(outcome(res, err)).Inc()
}

func outcome(res advisory.Result, err error) string {
	switch {
	case err == nil && res.Cached:
		return OutcomeCached
	case err == nil:
		return OutcomeGenerated
	case errors.Is(err, advisory.ErrUnknownSubject):
		return OutcomeUnknown
	case errors.Is(err, advisory.ErrGeneratorUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, advisory.ErrGenerationFailed):
		return OutcomeFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

// InstrumentGenerator wraps gen so every call is counted and timed. A nil
// gen stays nil so an unconfigured generator is still reported as such.
func (m *Metrics) InstrumentGenerator(gen advisory.Generator) advisory.Generator {
	if gen == nil {
		return nil
	}
	return &instrumented{next: gen, m: m}
}

type instrumented struct {
	next advisory.Generator
	m    *Metrics
}

func (g *instrumented) Generate(ctx context.Context, req advisory.Request) (string, error) {
	start := time.Now()
	text, err := g.next.Generate(ctx, req)
	g.m.genLatency.Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	g.m.genCalls.WithLabelValues(result).Inc()
	return text, err
}
