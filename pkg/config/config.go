// Package config loads memoir settings from an optional YAML file and MEMOIR_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "MEMOIR"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Session     SessionConfig     `mapstructure:"session"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Gate        GateConfig        `mapstructure:"gate"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Store       StoreConfig       `mapstructure:"store"`
	Handoff     HandoffConfig     `mapstructure:"handoff"`
	Tools       ToolsConfig       `mapstructure:"tools"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	StaticDir         string        `mapstructure:"static_dir"` // SPA build served with index.html fallback; empty disables
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
}

type SessionConfig struct {
	UserID         string        `mapstructure:"user_id"`
	AgentID        string        `mapstructure:"agent_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	OutputVolume   float64       `mapstructure:"output_volume"`
}

type RetryConfig struct {
	EarlyDisconnect time.Duration `mapstructure:"early_disconnect"`
	StableSession   time.Duration `mapstructure:"stable_session"`
	BackoffStep     time.Duration `mapstructure:"backoff_step"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

type GateConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type CredentialsConfig struct {
	Mode     string        `mapstructure:"mode"`     // backend | upstream
	Endpoint string        `mapstructure:"endpoint"` // backend issuer URL
	Token    string        `mapstructure:"token"`    // bearer token for the backend issuer
	BaseURL  string        `mapstructure:"base_url"` // upstream API base
	APIKey   string        `mapstructure:"api_key"`  // upstream API key
	Timeout  time.Duration `mapstructure:"timeout"`
}

type TransportConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory | sqlite | postgres
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type HandoffConfig struct {
	Delay    time.Duration `mapstructure:"delay"`
	RedisURL string        `mapstructure:"redis_url"` // empty keeps handoffs in-process
	Channel  string        `mapstructure:"channel"`
}

type ToolsConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

const (
	CredentialsBackend  = "backend"
	CredentialsUpstream = "upstream"

	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("session.user_id", "")
	v.SetDefault("session.agent_id", "")
	v.SetDefault("session.connect_timeout", 20*time.Second)
	v.SetDefault("session.output_volume", 0.8)

	v.SetDefault("retry.early_disconnect", 3000*time.Millisecond)
	v.SetDefault("retry.stable_session", 8000*time.Millisecond)
	v.SetDefault("retry.backoff_step", 400*time.Millisecond)
	v.SetDefault("retry.max_retries", 3)

	v.SetDefault("gate.debounce", 700*time.Millisecond)
	v.SetDefault("gate.cooldown", 400*time.Millisecond)

	v.SetDefault("credentials.mode", CredentialsBackend)
	v.SetDefault("credentials.endpoint", "")
	v.SetDefault("credentials.token", "")
	v.SetDefault("credentials.base_url", "https://api.elevenlabs.io")
	v.SetDefault("credentials.api_key", "")
	v.SetDefault("credentials.timeout", 10*time.Second)

	v.SetDefault("transport.handshake_timeout", 15*time.Second)
	v.SetDefault("transport.write_timeout", 5*time.Second)

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.sqlite_path", "memoir.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("handoff.delay", 2*time.Second)
	v.SetDefault("handoff.redis_url", "")
	v.SetDefault("handoff.channel", "memoir:handoff")

	v.SetDefault("tools.rate_per_second", 5.0)
	v.SetDefault("tools.burst", 10)
}

// Load reads path (optional) and the environment. MEMOIR_SESSION_USER_ID maps to
// session.user_id.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Credentials.Mode = strings.ToLower(strings.TrimSpace(c.Credentials.Mode))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Session.UserID = strings.TrimSpace(c.Session.UserID)
	c.Session.AgentID = strings.TrimSpace(c.Session.AgentID)
}

// Validate checks ranges and enumerations. Settings only needed by a running
// session are checked by ValidateSession.
func (c Config) Validate() error {
	var errs []error
	positive := func(key string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	positive("server.read_header_timeout", c.Server.ReadHeaderTimeout)
	positive("server.shutdown_timeout", c.Server.ShutdownTimeout)
	positive("session.connect_timeout", c.Session.ConnectTimeout)
	positive("retry.early_disconnect", c.Retry.EarlyDisconnect)
	positive("retry.stable_session", c.Retry.StableSession)
	positive("retry.backoff_step", c.Retry.BackoffStep)
	positive("gate.debounce", c.Gate.Debounce)
	positive("gate.cooldown", c.Gate.Cooldown)
	positive("credentials.timeout", c.Credentials.Timeout)
	positive("transport.handshake_timeout", c.Transport.HandshakeTimeout)
	positive("transport.write_timeout", c.Transport.WriteTimeout)
	positive("handoff.delay", c.Handoff.Delay)

	if c.Retry.StableSession < c.Retry.EarlyDisconnect {
		errs = append(errs, errors.New("retry.stable_session must be >= retry.early_disconnect"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must be >= 0"))
	}
	if c.Session.OutputVolume <= 0 || c.Session.OutputVolume > 1 {
		errs = append(errs, errors.New("session.output_volume must be within (0, 1]"))
	}
	if c.Tools.RatePerSecond <= 0 {
		errs = append(errs, errors.New("tools.rate_per_second must be > 0"))
	}
	if c.Tools.Burst <= 0 {
		errs = append(errs, errors.New("tools.burst must be > 0"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug|info|warn|error"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be one of text|json"))
	}
	switch c.Credentials.Mode {
	case CredentialsBackend, CredentialsUpstream:
	default:
		errs = append(errs, fmt.Errorf("credentials.mode must be one of backend|upstream"))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case StorePostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of memory|sqlite|postgres"))
	}
	return errors.Join(errs...)
}

// ValidateSession checks what a live session needs on top of Validate.
func (c Config) ValidateSession() error {
	var errs []error
	if c.Session.UserID == "" {
		errs = append(errs, errors.New("session.user_id is required"))
	}
	if c.Session.AgentID == "" {
		errs = append(errs, errors.New("session.agent_id is required"))
	}
	switch c.Credentials.Mode {
	case CredentialsBackend:
		if strings.TrimSpace(c.Credentials.Endpoint) == "" {
			errs = append(errs, errors.New("credentials.endpoint is required in backend mode"))
		}
	case CredentialsUpstream:
		if strings.TrimSpace(c.Credentials.APIKey) == "" {
			errs = append(errs, errors.New("credentials.api_key is required in upstream mode"))
		}
	}
	return errors.Join(errs...)
}
