// Package shipper POSTs readings to calmsignal-server's /data endpoint.
//
// Shipper.Ship() is non-blocking: the readings of a compute.Result are placed
// in an in-memory channel (default capacity 1000). When the buffer is full the
// oldest reading is evicted so the latest vitals are always preserved.
//
// Shipper.Run() drains the buffer one reading at a time, in order. A failed
// send is retried with truncated exponential backoff (1s up to max_backoff,
// ±25% jitter) for connection errors, 408, 429 and 5xx responses. Any other
// 4xx means the server refused the reading itself; it is logged and dropped.
package shipper
