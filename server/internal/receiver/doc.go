// Package receiver is the single entry point for sensor readings, shared by
// the HTTP API and the MQTT subscriber.
//
// Receiver.Accept checks the role, extracts and parses the value for that
// role, attributes the reading to a subject (subject_id, then the legacy
// user_id, then the configured default) and calls store.Registry.Apply. The
// resulting store.Change is then handed to every Observer in order: alert
// evaluation, the Redis mirror, NATS events and metrics all hang off here.
// Observer failures never fail the reading.
package receiver
