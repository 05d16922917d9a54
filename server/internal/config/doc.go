// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort       port for the REST API, /metrics and WebSocket hub (default 5001)
//   - GRPCPort       port for the gRPC health service (default 50051)
//   - DefaultSubject subject used when a request names none (default "user1")
//   - Advisory       advisory cache TTL (20s) and generator timeout (15s)
//   - Generator      external advice service; the API key comes from KeyEnv
//   - Ingest.MQTT    optional MQTT reading subscriber
//   - Mirror.Redis   optional realtime Redis mirror
//   - Events.NATS    optional state-transition publisher
//   - Alerts         threshold rules and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change; the server applies the advisory TTL and log
// level without a restart.
package config
