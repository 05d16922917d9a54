package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/calmsignal/calmsignal/agent/internal/compute"
	"github.com/calmsignal/calmsignal/agent/internal/config"
	"github.com/calmsignal/calmsignal/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMultiplier = 2.0
	dataPath          = "/data"
)

// Stats counts what happened to readings handed to Ship.
type Stats struct {
	Delivered int64
	Rejected  int64
	Evicted   int64
	Buffered  int
}

// Shipper buffers readings and POSTs them to calmsignal-server one at a time.
// Ship() is non-blocking; when the buffer is full the oldest reading is evicted.
// Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg    config.AgentConfig
	client *resty.Client
	buf    chan types.Reading

	initial time.Duration // first retry delay, shortened in tests

	delivered atomic.Int64
	rejected  atomic.Int64
	evicted   atomic.Int64
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.ServerURL, "/")).
		SetTimeout(cfg.ShipTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Shipper{
		cfg:     cfg,
		client:  client,
		buf:     make(chan types.Reading, cfg.BufferSize),
		initial: backoffInitial,
	}
}

// Ship enqueues every reading of res. If the buffer is full the oldest entry
// is evicted to make room.
func (s *Shipper) Ship(res *compute.Result) {
	for _, rd := range res.Readings {
		s.enqueue(rd)
	}
}

func (s *Shipper) enqueue(rd types.Reading) {
	for {
		select {
		case s.buf <- rd:
			return
		default:
		}
		select {
		case old := <-s.buf:
			s.evicted.Add(1)
			slog.Warn("shipper: buffer full, evicted oldest reading",
				"subject", old.SubjectID, "role", old.Role, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Stats returns a point-in-time copy of the delivery counters.
func (s *Shipper) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Rejected:  s.rejected.Load(),
		Evicted:   s.evicted.Load(),
		Buffered:  len(s.buf),
	}
}

// Run drains the buffer, sending readings to the server in order. A reading
// that fails transiently is held and retried with exponential backoff until it
// is delivered or rejected. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff(s.initial, s.cfg.MaxBackoff)

	for {
		var rd types.Reading
		select {
		case <-ctx.Done():
			return
		case rd = <-s.buf:
		}

		for {
			err := s.send(ctx, rd)
			if err == nil {
				s.delivered.Add(1)
				bo.reset()
				slog.Debug("shipper: reading delivered", "subject", rd.SubjectID, "role", rd.Role)
				break
			}
			if ctx.Err() != nil {
				return
			}
			var perm *permanentError
			if errors.As(err, &perm) {
				s.rejected.Add(1)
				slog.Error("shipper: server rejected reading, discarding",
					"subject", rd.SubjectID, "role", rd.Role, "err", err)
				break
			}

			wait := bo.next()
			slog.Warn("shipper: send failed, will retry",
				"server", s.cfg.ServerURL,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// permanentError marks a response that will not succeed on retry.
type permanentError struct {
	status int
	msg    string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", dataPath, e.status, e.msg)
}

type errorBody struct {
	Error string `json:"error"`
}

// send POSTs one reading. Connection failures, timeouts, 429 and 5xx are
// transient; any other 4xx is permanent.
func (s *Shipper) send(ctx context.Context, rd types.Reading) error {
	var eb errorBody
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(rd).
		SetError(&eb).
		Post(dataPath)
	if err != nil {
		return fmt.Errorf("post %s: %w", dataPath, err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := eb.Error
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	code := resp.StatusCode()
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return fmt.Errorf("%s returned %d: %s", dataPath, code, msg)
	}
	return &permanentError{status: code, msg: msg}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	if ceiling < initial {
		ceiling = initial
	}
	return &backoff{initial: initial, max: ceiling, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
