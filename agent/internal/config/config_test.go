package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  server_url: "http://localhost:5001"
  scrape_interval: 10s
  buffer_size: 500
  log:
    level: debug
  devices:
    - subject_id: ward-3
      endpoint: "http://10.0.0.7/metrics"
      metrics:
        pulse: hr_bpm
      auth:
        mode: none
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.ServerURL != "http://localhost:5001" {
		t.Errorf("server_url: got %q", cfg.Agent.ServerURL)
	}
	if cfg.Agent.ScrapeInterval != 10*time.Second {
		t.Errorf("scrape_interval: got %v", cfg.Agent.ScrapeInterval)
	}
	if cfg.Agent.BufferSize != 500 {
		t.Errorf("buffer_size: got %d", cfg.Agent.BufferSize)
	}
	if len(cfg.Agent.Devices) != 1 {
		t.Fatalf("devices: got %d, want 1", len(cfg.Agent.Devices))
	}
	d := cfg.Agent.Devices[0]
	if d.SubjectID != "ward-3" {
		t.Errorf("subject_id: got %q", d.SubjectID)
	}
	if d.Metrics.Pulse != "hr_bpm" {
		t.Errorf("pulse metric: got %q", d.Metrics.Pulse)
	}
	if d.Metrics.Temperature != DefaultTemperatureMetric {
		t.Errorf("temperature metric default: got %q", d.Metrics.Temperature)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, `
agent:
  server_url: "http://localhost:5001"
`)

	a := cfg.Agent
	if a.ScrapeInterval != DefaultScrapeInterval {
		t.Errorf("scrape_interval: got %v, want %v", a.ScrapeInterval, DefaultScrapeInterval)
	}
	if a.ShipTimeout != DefaultShipTimeout || a.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("ship_timeout/max_backoff: got %v/%v", a.ShipTimeout, a.MaxBackoff)
	}
	if a.BufferSize != DefaultBufferSize {
		t.Errorf("buffer_size: got %d, want %d", a.BufferSize, DefaultBufferSize)
	}
	if a.Log.Level != DefaultLogLevel {
		t.Errorf("log.level: got %q", a.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing server_url", `
agent:
  devices: []
`, "server_url is required"},
		{"relative server_url", `
agent:
  server_url: "localhost:5001/x"
`, "not an absolute URL"},
		{"zero buffer", `
agent:
  server_url: "http://s"
  buffer_size: 0
`, "buffer_size"},
		{"bad log level", `
agent:
  server_url: "http://s"
  log: {level: loud}
`, "log.level"},
		{"missing subject", `
agent:
  server_url: "http://s"
  devices:
    - endpoint: "http://d/metrics"
`, "subject_id is required"},
		{"missing endpoint", `
agent:
  server_url: "http://s"
  devices:
    - subject_id: a
`, "endpoint is required"},
		{"duplicate device", `
agent:
  server_url: "http://s"
  devices:
    - {subject_id: a, endpoint: "http://d/metrics"}
    - {subject_id: a, endpoint: "http://d/metrics"}
`, "duplicate endpoint"},
		{"unknown auth mode", `
agent:
  server_url: "http://s"
  devices:
    - subject_id: a
      endpoint: "http://d/metrics"
      auth: {mode: magictoken}
`, "unknown auth mode"},
		{"mtls without cert", `
agent:
  server_url: "http://s"
  devices:
    - subject_id: a
      endpoint: "https://d/metrics"
      auth: {mode: mtls}
`, "cert_file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.HasPrefix(err.Error(), "agent config:") || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error: got %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MultipleAuthModes(t *testing.T) {
	for _, mode := range []string{"apikey", "bearer", "basic", "none", ""} {
		t.Run("mode="+mode, func(t *testing.T) {
			cfg := loadFromString(t, `
agent:
  server_url: "http://localhost:5001"
  devices:
    - subject_id: s
      endpoint: "http://localhost:9100/metrics"
      auth:
        mode: `+mode+`
`)
			if got := cfg.Agent.Devices[0].Auth.Mode; got != mode {
				t.Errorf("auth mode: got %q, want %q", got, mode)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_Secrets(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	t.Setenv("TEST_PASSWORD", "hunter2")

	a := AuthConfig{KeyEnv: "TEST_API_KEY", TokenEnv: "TEST_BEARER_TOKEN", PasswordEnv: "TEST_PASSWORD"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q", got)
	}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q", got)
	}
	if got := a.Password(); got != "hunter2" {
		t.Errorf("Password(): got %q", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
