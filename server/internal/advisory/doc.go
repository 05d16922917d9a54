// Package advisory gates calls to the external advice generator.
//
// Cache.GetOrRefresh serves a subject's cached advisory while it is younger
// than the TTL (20s by default) and otherwise asks the Generator for a new
// one. Regeneration is single-flight per subject: concurrent requests for the
// same stale subject share one generator call and its result. A failed or
// timed-out call leaves the cached advisory untouched and is not retried.
//
// The generator is an interface so it can be faked in tests; a nil generator
// means the service is not configured, which surfaces as
// ErrGeneratorUnavailable only when a generation would actually be needed.
package advisory
