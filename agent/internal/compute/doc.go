// Package compute turns raw device scrapes into readings for the shipper.
//
// plausible.go holds the physiological bounds; samples outside them are
// dropped as sensor glitches.
//
// engine.go provides the stateful Engine, which tracks per-device sample
// watermarks so a stamped sample is shipped once, and a rolling scrape uptime
// over the last 20 cycles. Engine.Process takes an explicit time.Time so tests
// are deterministic.
package compute
