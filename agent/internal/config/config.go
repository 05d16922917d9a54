package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 5 * time.Second
	DefaultBufferSize     = 1000
	DefaultShipTimeout    = 5 * time.Second
	DefaultMaxBackoff     = time.Minute
	DefaultLogLevel       = "info"

	DefaultPulseMetric       = "calmsignal_pulse_bpm"
	DefaultTemperatureMetric = "calmsignal_skin_temperature_celsius"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent settings.
type AgentConfig struct {
	// ServerURL is the base URL of calmsignal-server, e.g. "http://localhost:5001".
	ServerURL string `yaml:"server_url"`

	// ScrapeInterval controls how often each device is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// ShipTimeout bounds a single POST /data.
	ShipTimeout time.Duration `yaml:"ship_timeout"`

	// MaxBackoff caps the retry delay while the server is unreachable.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BufferSize is the maximum number of readings held while the server is
	// unreachable. The oldest reading is dropped when full.
	BufferSize int `yaml:"buffer_size"`

	Log LogConfig `yaml:"log"`

	// Devices are the wearables (or gateways) to scrape.
	Devices []Device `yaml:"devices"`
}

// LogConfig sets the log level: debug | info | warn | error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Device is one scraped /metrics endpoint belonging to a subject.
type Device struct {
	// SubjectID is the subject every reading from this device is attributed to.
	SubjectID string `yaml:"subject_id"`

	// Endpoint is the full URL of the device's Prometheus text endpoint.
	Endpoint string `yaml:"endpoint"`

	Metrics MetricNames `yaml:"metrics"`
	Auth    AuthConfig  `yaml:"auth"`
	TLS     TLSConfig   `yaml:"tls"`
}

// MetricNames are the gauge names the scraper reads from the device.
type MetricNames struct {
	Pulse       string `yaml:"pulse"`
	Temperature string `yaml:"temperature"`
}

// AuthConfig specifies the authentication mode for a device.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header that carries the API key (Mode == "apikey").
	Header string `yaml:"header"`
	// KeyEnv names the environment variable holding the API key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable holding the basic-auth password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

// TLSConfig holds per-device TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}
	for i := range cfg.Agent.Devices {
		d := &cfg.Agent.Devices[i]
		if d.Metrics.Pulse == "" {
			d.Metrics.Pulse = DefaultPulseMetric
		}
		if d.Metrics.Temperature == "" {
			d.Metrics.Temperature = DefaultTemperatureMetric
		}
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			ShipTimeout:    DefaultShipTimeout,
			MaxBackoff:     DefaultMaxBackoff,
			BufferSize:     DefaultBufferSize,
			Log:            LogConfig{Level: DefaultLogLevel},
		},
	}
}

func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if u, err := url.Parse(a.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("agent.server_url %q is not an absolute URL", a.ServerURL)
	}
	if a.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if a.ShipTimeout <= 0 {
		return fmt.Errorf("agent.ship_timeout must be positive")
	}
	if a.MaxBackoff <= 0 {
		return fmt.Errorf("agent.max_backoff must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log.level %q: want debug|info|warn|error", a.Log.Level)
	}

	seen := make(map[string]bool)
	for i, d := range a.Devices {
		if d.SubjectID == "" {
			return fmt.Errorf("devices[%d]: subject_id is required", i)
		}
		if d.Endpoint == "" {
			return fmt.Errorf("devices[%d] %q: endpoint is required", i, d.SubjectID)
		}
		key := d.SubjectID + " " + d.Endpoint
		if seen[key] {
			return fmt.Errorf("devices[%d] %q: duplicate endpoint %q", i, d.SubjectID, d.Endpoint)
		}
		seen[key] = true
		switch d.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("devices[%d] %q: unknown auth mode %q", i, d.SubjectID, d.Auth.Mode)
		}
		if d.Auth.Mode == "mtls" && (d.Auth.CertFile == "" || d.Auth.KeyFile == "") {
			return fmt.Errorf("devices[%d] %q: mtls needs cert_file and key_file", i, d.SubjectID)
		}
	}
	return nil
}
