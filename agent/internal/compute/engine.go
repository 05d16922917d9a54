package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/calmsignal/calmsignal/agent/internal/scraper"
	"github.com/calmsignal/calmsignal/pkg/types"
)

// uptimeWindow is the number of recent scrape outcomes tracked for uptime %.
const uptimeWindow = 20

// Result is what one scrape of one device yields for the shipper.
type Result struct {
	SubjectID string
	Endpoint  string
	Timestamp time.Time

	// Readings are the samples worth shipping, pulse first.
	Readings []types.Reading

	// Skipped counts samples dropped as implausible or already shipped.
	Skipped int

	UptimePct    float64
	ErrorMessage string // non-empty when the scrape failed
}

// Engine keeps per-device state across scrape cycles and turns raw scrape
// results into readings.
//
// A sample is shipped when it is plausible and new. A sample is new when it
// carries an exposition timestamp later than the last shipped one for that
// device and role, or when it carries no timestamp at all.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]*deviceState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[string]*deviceState)}
}

// Process ingests a ScrapeResult and returns the readings to ship.
//
// now is passed explicitly so callers (and tests) control the clock.
func (e *Engine) Process(res *scraper.ScrapeResult, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(res.SubjectID + " " + res.Endpoint)
	success := res.Err == nil
	st.recordScrape(success)

	out := &Result{
		SubjectID: res.SubjectID,
		Endpoint:  res.Endpoint,
		Timestamp: now,
		UptimePct: st.uptimePct(),
	}

	if !success {
		out.ErrorMessage = res.Err.Error()
		return out
	}

	for _, c := range []struct {
		role   string
		sample *scraper.Sample
	}{
		{types.RolePulse, res.Pulse},
		{types.RoleTemperature, res.Temperature},
	} {
		if c.sample == nil {
			continue
		}
		if !Plausible(c.role, c.sample.Value) {
			slog.Debug("compute: implausible sample dropped",
				"subject", res.SubjectID, "role", c.role, "value", c.sample.Value)
			out.Skipped++
			continue
		}
		if !st.advance(c.role, c.sample.At) {
			out.Skipped++
			continue
		}
		out.Readings = append(out.Readings, types.NewReading(c.role, res.SubjectID, c.sample.Value))
	}
	return out
}

// deviceState holds per-device sample watermarks and uptime history.
type deviceState struct {
	lastAt  map[string]time.Time // role -> last shipped exposition timestamp
	history []bool               // scrape outcomes, newest last
}

func (e *Engine) stateFor(key string) *deviceState {
	if st, ok := e.states[key]; ok {
		return st
	}
	st := &deviceState{lastAt: make(map[string]time.Time)}
	e.states[key] = st
	return st
}

// advance reports whether a sample stamped at is new for role and, if so,
// records it. Unstamped samples are always new.
func (st *deviceState) advance(role string, at time.Time) bool {
	if at.IsZero() {
		return true
	}
	if prev, ok := st.lastAt[role]; ok && !at.After(prev) {
		return false
	}
	st.lastAt[role] = at
	return true
}

func (st *deviceState) recordScrape(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *deviceState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}
