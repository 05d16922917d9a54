// Package security inspects the TLS certificates of https device endpoints.
// Check reports valid, expiring (30 days or less), expired or unreachable so
// the agent can warn before a wearable gateway's certificate lapses.
package security
