package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 5001
	DefaultGRPCPort        = 50051
	DefaultSubject         = "user1"
	DefaultLogLevel        = "info"
	DefaultAdvisoryTTL     = 20 * time.Second
	DefaultAdvisoryTimeout = 15 * time.Second

	DefaultProvider    = "openai"
	DefaultBaseURL     = "https://api.openai.com"
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 150
	DefaultTemperature = 0.6
	DefaultKeyEnv      = "OPENAI_API_KEY"

	DefaultBroadcastInterval = 5 * time.Second
	DefaultStaleAfter        = 2 * time.Minute
	DefaultSweepInterval     = 30 * time.Second

	DefaultMQTTTopic       = "calmsignal/readings"
	DefaultMQTTQoS         = 1
	DefaultMQTTClientID    = "calmsignal-server"
	DefaultRedisKeyPrefix  = "calmsignal:subject:"
	DefaultRedisTTL        = 5 * time.Minute
	DefaultNATSSubjectBase = "calmsignal.state"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, /metrics and the WebSocket hub listen on (default 5001).
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port of the gRPC health service (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// DefaultSubject is used for readings and advisory requests that name no subject.
	DefaultSubject string `yaml:"default_subject"`

	// UIDir, when set, is served as static files at /.
	UIDir string `yaml:"ui_dir"`

	Log         LogConfig         `yaml:"log"`
	Advisory    AdvisoryConfig    `yaml:"advisory"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Mirror      MirrorConfig      `yaml:"mirror"`
	Events      EventsConfig      `yaml:"events"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to Info;
// validate rejects them before they get here.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// AdvisoryConfig controls the advisory cache.
type AdvisoryConfig struct {
	// TTL is how long a generated advisory is served before a new one is requested.
	TTL time.Duration `yaml:"ttl"`

	// Timeout bounds a single generator call.
	Timeout time.Duration `yaml:"timeout"`
}

// GeneratorConfig configures the external text-generation service.
type GeneratorConfig struct {
	// Provider is one of: openai | none.
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// KeyEnv is the name of the environment variable that holds the API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
func (g GeneratorConfig) Key() string {
	if g.KeyEnv == "" {
		return ""
	}
	return os.Getenv(g.KeyEnv)
}

// BroadcastConfig controls the WebSocket snapshot push.
type BroadcastConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DiagnosticsConfig controls the hints attached to subject responses.
type DiagnosticsConfig struct {
	// StaleAfter is the reading age past which a sensor is reported as stale.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// IngestConfig holds the optional non-HTTP reading sources.
type IngestConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the MQTT reading subscriber. Disabled when Broker is empty.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker      string `yaml:"broker"`
	Topic       string `yaml:"topic"`
	QoS         int    `yaml:"qos"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// MirrorConfig holds the optional realtime mirrors of subject state.
type MirrorConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis mirror. Disabled when Addr is empty.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	TTL         time.Duration `yaml:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// EventsConfig holds the optional state-transition event sinks.
type EventsConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures state-transition publishing. Disabled when URL is empty.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled reports whether a NATS URL is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// SweepInterval is how often every subject is re-evaluated without a
	// new reading, so age conditions fire for silent devices.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "stress_index >= 0.8", "bpm > 110",
	// "pulse_age_s > 120", "state == Stressed".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. The server
// runs on it when no config file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       DefaultHTTPPort,
			GRPCPort:       DefaultGRPCPort,
			DefaultSubject: DefaultSubject,
			Log:            LogConfig{Level: DefaultLogLevel},
			Advisory: AdvisoryConfig{
				TTL:     DefaultAdvisoryTTL,
				Timeout: DefaultAdvisoryTimeout,
			},
			Generator: GeneratorConfig{
				Provider:    DefaultProvider,
				BaseURL:     DefaultBaseURL,
				Model:       DefaultModel,
				MaxTokens:   DefaultMaxTokens,
				Temperature: DefaultTemperature,
				KeyEnv:      DefaultKeyEnv,
			},
			Broadcast:   BroadcastConfig{Interval: DefaultBroadcastInterval},
			Diagnostics: DiagnosticsConfig{StaleAfter: DefaultStaleAfter},
			Alerts:      AlertsConfig{SweepInterval: DefaultSweepInterval},
			Ingest: IngestConfig{MQTT: MQTTConfig{
				Topic:    DefaultMQTTTopic,
				QoS:      DefaultMQTTQoS,
				ClientID: DefaultMQTTClientID,
			}},
			Mirror: MirrorConfig{Redis: RedisConfig{
				KeyPrefix: DefaultRedisKeyPrefix,
				TTL:       DefaultRedisTTL,
			}},
			Events: EventsConfig{NATS: NATSConfig{
				SubjectPrefix: DefaultNATSSubjectBase,
			}},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if strings.TrimSpace(s.DefaultSubject) == "" {
		return fmt.Errorf("server.default_subject must not be empty")
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	if s.Advisory.TTL <= 0 {
		return fmt.Errorf("server.advisory.ttl must be positive")
	}
	if s.Advisory.Timeout <= 0 {
		return fmt.Errorf("server.advisory.timeout must be positive")
	}

	switch s.Generator.Provider {
	case "openai":
		if s.Generator.BaseURL == "" || s.Generator.Model == "" {
			return fmt.Errorf("server.generator: base_url and model are required for provider openai")
		}
		if s.Generator.MaxTokens <= 0 {
			return fmt.Errorf("server.generator.max_tokens must be positive")
		}
		if s.Generator.Temperature < 0 || s.Generator.Temperature > 2 {
			return fmt.Errorf("server.generator.temperature %v is out of range [0, 2]", s.Generator.Temperature)
		}
	case "none":
	default:
		return fmt.Errorf("server.generator.provider %q unknown: want openai|none", s.Generator.Provider)
	}

	if s.Broadcast.Interval <= 0 {
		return fmt.Errorf("server.broadcast.interval must be positive")
	}
	if s.Diagnostics.StaleAfter < 0 {
		return fmt.Errorf("server.diagnostics.stale_after must not be negative")
	}
	if m := s.Ingest.MQTT; m.Enabled() {
		if m.Topic == "" {
			return fmt.Errorf("server.ingest.mqtt.topic is required when broker is set")
		}
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("server.ingest.mqtt.qos %d is out of range [0, 2]", m.QoS)
		}
	}
	if r := s.Mirror.Redis; r.Enabled() && r.TTL <= 0 {
		return fmt.Errorf("server.mirror.redis.ttl must be positive")
	}
	if n := s.Events.NATS; n.Enabled() && n.SubjectPrefix == "" {
		return fmt.Errorf("server.events.nats.subject_prefix is required when url is set")
	}

	if s.Alerts.SweepInterval <= 0 {
		return fmt.Errorf("server.alerts.sweep_interval must be positive")
	}
	for i, rule := range s.Alerts.Rules {
		if rule.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		switch rule.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d] %q: severity %q unknown", i, rule.Name, rule.Severity)
		}
	}
	for i, wh := range s.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, wh.Type)
		}
	}
	return nil
}
