// Package api implements the HTTP API for calmsignal-server.
//
// New(registry, receiver, cache, opts...) returns a Handler that serves:
//
//	POST /data                  one sensor reading; 400 {"ok":false,"error":"invalid payload"}
//	GET  /latest_all            every subject keyed by id
//	POST /remedy                cached or generated advisory for a subject
//	GET  /api/v1/health         subject counts per state, firing alert count
//	GET  /api/v1/subjects       all subjects, sorted by id
//	GET  /api/v1/subjects/{id}  single subject; 404 if unknown
//	GET  /api/v1/snapshot       all subjects + generated_at (also the WebSocket payload)
//	GET  /api/v1/alerts         firing and recently resolved alerts
//
// POST /remedy maps advisory errors to 404 (unknown subject), 500 (no
// generator configured) and 502 (generation failed or timed out).
//
// Every response is JSON and carries Access-Control-Allow-Origin: *.
// Subject responses include diagnostics hints computed at request time.
package api
