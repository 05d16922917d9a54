package advisory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/calmsignal/calmsignal/server/internal/store"
	"github.com/calmsignal/calmsignal/server/internal/stress"
)

// Default values for the cache.
const (
	DefaultTTL     = 20 * time.Second
	DefaultTimeout = 15 * time.Second
)

var errEmptyAdvisory = errors.New("generator returned empty text")

// Request is what the generator is told about a subject.
// BPM and TempC are nil when that reading has never been received.
type Request struct {
	SubjectID string
	BPM       *float64
	TempC     *float64
	State     stress.State
}

// Generator produces advisory text for a subject.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Result is the advisory served to a caller.
type Result struct {
	Text        string
	Cached      bool
	GeneratedAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.SetTTL(d) }
}

// WithTimeout overrides DefaultTimeout, the bound on a single generator call.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Cache serves advisories from the subject registry and regenerates them
// through a Generator once they are older than the TTL.
//
// Cache is safe for concurrent use.
type Cache struct {
	registry *store.Registry
	gen      Generator
	timeout  time.Duration
	ttl      atomic.Int64 // time.Duration

	flight singleflight.Group
}

// New creates a Cache over reg. gen may be nil, in which case any request
// that needs a new advisory fails with ErrGeneratorUnavailable.
func New(reg *store.Registry, gen Generator, opts ...Option) *Cache {
	c := &Cache{
		registry: reg,
		gen:      gen,
		timeout:  DefaultTimeout,
	}
	c.ttl.Store(int64(DefaultTTL))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the current freshness window.
func (c *Cache) TTL() time.Duration {
	return time.Duration(c.ttl.Load())
}

// SetTTL changes the freshness window. Non-positive values are ignored.
func (c *Cache) SetTTL(d time.Duration) {
	if d > 0 {
		c.ttl.Store(int64(d))
	}
}

// Configured reports whether a generator is available.
func (c *Cache) Configured() bool {
	return c.gen != nil
}

// IsFresh reports whether rec carries an advisory younger than the TTL at now.
func (c *Cache) IsFresh(rec store.Record, now time.Time) bool {
	_, ok := c.fresh(rec, now)
	return ok
}

// GetOrRefresh returns the subject's advisory, generating a new one when the
// cached text is missing or at least TTL old.
//
// Concurrent callers for the same subject share a single generator call. The
// caller that started it gets Cached=false; callers that joined it get the
// same text with Cached=true.
func (c *Cache) GetOrRefresh(ctx context.Context, id string, now time.Time) (Result, error) {
	rec, ok := c.registry.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSubject, id)
	}
	if res, ok := c.fresh(rec, now); ok {
		return res, nil
	}
	if c.gen == nil {
		return Result{}, ErrGeneratorUnavailable
	}

	var initiator bool
	ch := c.flight.DoChan(id, func() (interface{}, error) {
		initiator = true
		return c.refresh(ctx, id, now)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		res := r.Val.(Result)
		if !initiator {
			res.Cached = true
		}
		return res, nil
	}
}

// refresh runs inside the single flight for id.
func (c *Cache) refresh(ctx context.Context, id string, now time.Time) (Result, error) {
	rec, ok := c.registry.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSubject, id)
	}
	// A flight that ended just before this one began may have stored a
	// fresh advisory already.
	if res, ok := c.fresh(rec, now); ok {
		return res, nil
	}

	req := Request{
		SubjectID: id,
		BPM:       rec.BPM,
		TempC:     rec.TempC,
		State:     rec.State,
	}

	start := time.Now()
	text, err := c.generate(ctx, req)
	if err != nil {
		slog.Warn("advisory: generation failed",
			"subject", id,
			"elapsed", time.Since(start),
			"err", err,
		)
		return Result{}, &GenerationError{SubjectID: id, Cause: err}
	}

	if err := c.registry.SetAdvisory(id, text, now); err != nil {
		return Result{}, err
	}

	slog.Info("advisory: generated",
		"subject", id,
		"state", rec.State,
		"elapsed", time.Since(start),
	)
	return Result{Text: text, GeneratedAt: now}, nil
}

// generate calls the generator on a context detached from the caller's
// cancellation and bounded by the cache timeout. The bound holds even if the
// generator ignores its context.
func (c *Cache) generate(ctx context.Context, req Request) (string, error) {
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := c.gen.Generate(genCtx, req)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if r.text == "" {
			return "", errEmptyAdvisory
		}
		return r.text, nil
	case <-genCtx.Done():
		return "", fmt.Errorf("generator call exceeded %s: %w", c.timeout, genCtx.Err())
	}
}

func (c *Cache) fresh(rec store.Record, now time.Time) (Result, bool) {
	age, ok := rec.AdvisoryAge(now)
	if !ok || rec.Advisory == nil || age >= c.TTL() {
		return Result{}, false
	}
	return Result{Text: *rec.Advisory, Cached: true, GeneratedAt: *rec.AdvisoryAt}, true
}
