// Package metrics exposes server instrumentation on /metrics.
//
// Metrics is a receiver observer (readings, rejections, state transitions),
// records advisory request outcomes from the API, and wraps the advice
// generator to count and time external calls. Everything is registered on a
// private registry so tests can build as many instances as they like.
package metrics
