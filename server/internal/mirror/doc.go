// Package mirror copies subject records into Redis after every accepted
// reading. Each subject lives under key_prefix + id + ":realtime" as JSON and
// expires after the configured TTL unless refreshed by a new reading.
package mirror
