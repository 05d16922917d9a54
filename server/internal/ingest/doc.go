// Package ingest subscribes to an MQTT topic and feeds each message, one
// reading in the POST /data JSON shape, to the receiver.
//
// The subscriber uses a clean session with auto-reconnect and resubscribes on
// every connect. Malformed messages are logged and counted, never retried.
package ingest
