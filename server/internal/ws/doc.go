// Package ws implements the WebSocket hub for calmsignal-server.
//
// New(snapshot, interval) creates a Hub; Run(ctx) broadcasts
// {"event":"snapshot","data":<GET /api/v1/snapshot body>} to every client each
// interval until ctx is cancelled. A new client gets the current snapshot
// immediately on connect. /ws/stream?subject=<id> narrows every message to
// that subject. Clients whose send buffer fills are dropped.
//
// The server mounts the hub at /ws/stream.
package ws
