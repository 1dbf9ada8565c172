// Package mqttconfig provides mqttpipe's configuration surface: defaults,
// environment variable overrides, and functional options, layered the way
// core/config.go layers gomind's Config (defaults -> env -> options ->
// validate). File-based overrides use YAML rather than JSON, since nothing
// else in this module carries a YAML dependency to anchor it otherwise.
package mqttconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nodalcore/mqttpipe/mqtterr"
)

// Config holds the options that shape how a pipeline is assembled: the
// broker endpoint, reconnect tuning, and which backend wires the adapter.
type Config struct {
	Host          string        `yaml:"host" env:"MQTTPIPE_HOST"`
	Port          int           `yaml:"port" env:"MQTTPIPE_PORT" default:"8883"`
	ClientID      string        `yaml:"client_id" env:"MQTTPIPE_CLIENT_ID"`
	Username      string        `yaml:"username" env:"MQTTPIPE_USERNAME"`
	Password      string        `yaml:"password" env:"MQTTPIPE_PASSWORD"`
	KeepAliveSecs int           `yaml:"keep_alive_secs" env:"MQTTPIPE_KEEPALIVE" default:"60"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Backend   BackendConfig   `yaml:"backend"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ReconnectConfig tunes reconnectpolicy's backoff schedule.
type ReconnectConfig struct {
	Enabled         bool          `yaml:"enabled" env:"MQTTPIPE_RECONNECT_ENABLED" default:"true"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"MQTTPIPE_RECONNECT_INITIAL" default:"1s"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MQTTPIPE_RECONNECT_MAX" default:"30s"`
	Multiplier      float64       `yaml:"multiplier" env:"MQTTPIPE_RECONNECT_MULTIPLIER" default:"2.0"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" env:"MQTTPIPE_RECONNECT_MAX_ELAPSED" default:"0"`
}

// BackendConfig selects and configures the Backend implementation the
// adapter policy is wired against.
type BackendConfig struct {
	Provider string `yaml:"provider" env:"MQTTPIPE_BACKEND_PROVIDER" default:"redis"`
	RedisURL string `yaml:"redis_url" env:"MQTTPIPE_REDIS_URL,REDIS_URL" default:"redis://localhost:6379/0"`
}

// LoggingConfig mirrors gomind's LoggingConfig shape, trimmed to what
// mqttlog.SimpleLogger actually honors.
type LoggingConfig struct {
	Level string `yaml:"level" env:"MQTTPIPE_LOG_LEVEL" default:"info"`
}

// Option is a functional configuration option, applied after defaults and
// environment overrides (highest priority), matching core/config.go's
// three-layer precedence.
type Option func(*Config) error

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Port:          8883,
		KeepAliveSecs: 60,
		Reconnect: ReconnectConfig{
			Enabled:         true,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
		Backend: BackendConfig{
			Provider: "redis",
			RedisURL: "redis://localhost:6379/0",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadFromEnv overlays recognized environment variables onto c.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MQTTPIPE_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("MQTTPIPE_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return mqtterr.New("config.LoadFromEnv", "config", mqtterr.ErrInvalidConfiguration).WithID("MQTTPIPE_PORT")
		}
		c.Port = p
	}
	if v := os.Getenv("MQTTPIPE_CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv("MQTTPIPE_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("MQTTPIPE_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("MQTTPIPE_KEEPALIVE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return mqtterr.New("config.LoadFromEnv", "config", mqtterr.ErrInvalidConfiguration).WithID("MQTTPIPE_KEEPALIVE")
		}
		c.KeepAliveSecs = n
	}

	if v := os.Getenv("MQTTPIPE_RECONNECT_ENABLED"); v != "" {
		c.Reconnect.Enabled = parseBool(v)
	}
	if v := os.Getenv("MQTTPIPE_RECONNECT_INITIAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return mqtterr.New("config.LoadFromEnv", "config", mqtterr.ErrInvalidConfiguration).WithID("MQTTPIPE_RECONNECT_INITIAL")
		}
		c.Reconnect.InitialInterval = d
	}
	if v := os.Getenv("MQTTPIPE_RECONNECT_MAX"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return mqtterr.New("config.LoadFromEnv", "config", mqtterr.ErrInvalidConfiguration).WithID("MQTTPIPE_RECONNECT_MAX")
		}
		c.Reconnect.MaxInterval = d
	}
	if v := os.Getenv("MQTTPIPE_RECONNECT_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return mqtterr.New("config.LoadFromEnv", "config", mqtterr.ErrInvalidConfiguration).WithID("MQTTPIPE_RECONNECT_MULTIPLIER")
		}
		c.Reconnect.Multiplier = f
	}
	if v := os.Getenv("MQTTPIPE_RECONNECT_MAX_ELAPSED"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return mqtterr.New("config.LoadFromEnv", "config", mqtterr.ErrInvalidConfiguration).WithID("MQTTPIPE_RECONNECT_MAX_ELAPSED")
		}
		c.Reconnect.MaxElapsedTime = d
	}

	if v := os.Getenv("MQTTPIPE_BACKEND_PROVIDER"); v != "" {
		c.Backend.Provider = v
	}
	if v := os.Getenv("MQTTPIPE_REDIS_URL"); v != "" {
		c.Backend.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Backend.RedisURL = v
	}

	if v := os.Getenv("MQTTPIPE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return c.Validate()
}

// LoadFromFile overlays a YAML document at path onto c.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return mqtterr.New("config.LoadFromFile", "config", mqtterr.ErrInvalidConfiguration).WithID(err.Error())
	}
	return nil
}

// Validate checks invariants that must hold before a pipeline is built from
// this config.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return mqtterr.New("config.Validate", "config", mqtterr.ErrInvalidConfiguration).WithID(fmt.Sprintf("port %d", c.Port))
	}
	if c.Reconnect.Enabled && c.Reconnect.InitialInterval <= 0 {
		return mqtterr.New("config.Validate", "config", mqtterr.ErrInvalidConfiguration).WithID("reconnect.initial_interval must be positive")
	}
	if c.Backend.Provider == "redis" && c.Backend.RedisURL == "" {
		return mqtterr.New("config.Validate", "config", mqtterr.ErrInvalidConfiguration).WithID("backend.redis_url required for redis provider")
	}
	return nil
}

// New builds a Config from defaults, environment, then opts, validating the
// result — the same precedence order as core/config.go's NewConfig.
func New(opts ...Option) (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WithHost sets the broker host.
func WithHost(host string) Option {
	return func(c *Config) error { c.Host = host; return nil }
}

// WithPort sets the broker port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port < 1 || port > 65535 {
			return mqtterr.New("WithPort", "config", mqtterr.ErrInvalidConfiguration)
		}
		c.Port = port
		return nil
	}
}

// WithClientID pins the MQTT client id instead of letting the adapter
// generate one.
func WithClientID(id string) Option {
	return func(c *Config) error { c.ClientID = id; return nil }
}

// WithCredentials sets the username/password used on connect.
func WithCredentials(username, password string) Option {
	return func(c *Config) error {
		c.Username = username
		c.Password = password
		return nil
	}
}

// WithReconnect configures the reconnect backoff schedule.
func WithReconnect(initial, max time.Duration, multiplier float64) Option {
	return func(c *Config) error {
		c.Reconnect.Enabled = true
		c.Reconnect.InitialInterval = initial
		c.Reconnect.MaxInterval = max
		c.Reconnect.Multiplier = multiplier
		return nil
	}
}

// WithRedisBackend selects the Redis-backed Backend implementation.
func WithRedisBackend(url string) Option {
	return func(c *Config) error {
		c.Backend.Provider = "redis"
		c.Backend.RedisURL = url
		return nil
	}
}

// WithConfigFile loads a YAML file before remaining options are applied.
func WithConfigFile(path string) Option {
	return func(c *Config) error { return c.LoadFromFile(path) }
}

// WithLogLevel sets the minimum logging level string consumed by
// mqttlog.SimpleLogger.SetLevel callers.
func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = level; return nil }
}
