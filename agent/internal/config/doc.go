// Package config loads the agent configuration file.
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_url, scrape_interval, ship_timeout,
//     max_backoff, buffer_size, log.level, devices []
//   - Device: subject_id, endpoint, metrics {pulse, temperature}, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); Key(), Token() and
//     Password() resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (5s scrape, 5s ship timeout,
// 1000 buffer, the calmsignal_* gauge names), then validates.
package config
