package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/calmsignal/calmsignal/server/internal/config"
	"github.com/calmsignal/calmsignal/server/internal/store"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	SubjectID  string     `json:"subject_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against subject records and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	client   *resty.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:subjectID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts

	deliveries sync.WaitGroup
}

// New creates an Engine from the server alert configuration. Rules whose
// condition does not parse are logged and skipped. An Engine with no rules
// is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		client: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json"),
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, r := range cfg.Rules {
		cond, err := parseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: cond})
	}
	return e
}

// Observe evaluates the record carried by an accepted reading.
func (e *Engine) Observe(_ context.Context, ch store.Change) {
	e.Evaluate(ch.Record)
}

// Sweep evaluates every record in records. Age conditions such as
// pulse_age_s only change while time passes, so a subject whose device has
// gone silent is caught here rather than on its next reading.
func (e *Engine) Sweep(records map[string]store.Record) {
	for _, rec := range records {
		e.Evaluate(rec)
	}
}

// Run calls Sweep with the output of list every interval until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context, list func() map[string]store.Record, interval time.Duration) {
	if len(e.rules) == 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(list())
		}
	}
}

// Evaluate tests all rules against rec. Alerts that fire are stored and
// webhook delivery is triggered asynchronously. Alerts that were firing but
// whose condition is now false are resolved.
func (e *Engine) Evaluate(rec store.Record) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, r := range e.rules {
		key := r.Name + ":" + rec.SubjectID
		fires, value := r.cond.eval(rec, now)

		e.mu.Lock()
		var notify *Alert
		switch {
		case fires && e.active[key] == nil && now.Sub(e.lastFire[key]) > r.Cooldown:
			a := &Alert{
				ID:        uuid.NewString(),
				RuleName:  r.Name,
				SubjectID: rec.SubjectID,
				Severity:  r.Severity,
				Value:     value,
				Message: fmt.Sprintf("[%s] %s fired for %s: %s (value %.2f)",
					r.Severity, r.Name, rec.SubjectID, r.Condition, value),
				FiredAt: now,
				State:   StateFiring,
			}
			e.active[key] = a
			e.lastFire[key] = now
			cp := *a
			notify = &cp

		case !fires && e.active[key] != nil:
			a := e.active[key]
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			delete(e.active, key)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
		}
		e.mu.Unlock()

		if notify == nil {
			continue
		}
		if notify.State == StateFiring {
			slog.Warn("alerts: fired",
				"rule", r.Name,
				"subject", rec.SubjectID,
				"value", value,
				"severity", r.Severity,
			)
		} else {
			slog.Info("alerts: resolved", "rule", r.Name, "subject", rec.SubjectID)
		}

		e.deliveries.Add(1)
		go func(a *Alert) {
			defer e.deliveries.Done()
			e.deliver(a)
		}(notify)
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight webhook deliveries have finished.
func (e *Engine) Wait() {
	e.deliveries.Wait()
}
