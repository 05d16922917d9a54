// Package scraper reads pulse and skin temperature from wearable devices that
// expose a Prometheus text /metrics endpoint.
//
// New(device) builds a Scraper with the device's auth (apikey, bearer, basic
// or mtls) and TLS settings. Scrape returns the newest finite value of each
// configured gauge; by default calmsignal_pulse_bpm and
// calmsignal_skin_temperature_celsius.
package scraper
