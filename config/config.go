// Package config loads offsyncd settings: defaults, then an optional TOML
// file, then OFFSYNC_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable, e.g. OFFSYNC_STORE_DIR.
const EnvPrefix = "OFFSYNC_"

// Config is the full daemon configuration.
type Config struct {
	Store        StoreConfig        `toml:"store" envPrefix:"STORE_"`
	Bridge       BridgeConfig       `toml:"bridge" envPrefix:"BRIDGE_"`
	Replay       ReplayConfig       `toml:"replay" envPrefix:"REPLAY_"`
	Connectivity ConnectivityConfig `toml:"connectivity" envPrefix:"CONNECTIVITY_"`
	Log          LogConfig          `toml:"log" envPrefix:"LOG_"`
}

type StoreConfig struct {
	// Backend is one of "sqlite", "redis", "bigcache", "memory".
	Backend   string `toml:"backend" env:"BACKEND"`
	Dir       string `toml:"dir" env:"DIR"`
	DBName    string `toml:"db_name" env:"DB_NAME"`
	StoreName string `toml:"store_name" env:"STORE_NAME"`
	// ReadCache puts a ristretto read-through cache in front of the backend.
	ReadCache   bool   `toml:"read_cache" env:"READ_CACHE"`
	RedisAddr   string `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPrefix string `toml:"redis_prefix" env:"REDIS_PREFIX"`
	// Policy is the conflict policy: "last-applied" or "newest-version".
	Policy string `toml:"policy" env:"POLICY"`
}

type BridgeConfig struct {
	Listen      string `toml:"listen" env:"LISTEN"`
	Path        string `toml:"path" env:"PATH"`
	BusCapacity int    `toml:"bus_capacity" env:"BUS_CAPACITY"`
}

type ReplayConfig struct {
	QueueName   string   `toml:"queue_name" env:"QUEUE_NAME"`
	Retention   Duration `toml:"retention" env:"RETENTION"`
	Interval    Duration `toml:"interval" env:"INTERVAL"`
	MaxInterval Duration `toml:"max_interval" env:"MAX_INTERVAL"`
	// ProxyListen serves the capture proxy; empty disables it.
	ProxyListen string `toml:"proxy_listen" env:"PROXY_LISTEN"`
	// Upstream is the origin the capture proxy forwards to.
	Upstream  string `toml:"upstream" env:"UPSTREAM"`
	FailOn5xx bool   `toml:"fail_on_5xx" env:"FAIL_ON_5XX"`
}

type ConnectivityConfig struct {
	// ProbeAddr is dialed every ProbeInterval; empty trusts InitialOnline forever.
	ProbeAddr     string   `toml:"probe_addr" env:"PROBE_ADDR"`
	ProbeInterval Duration `toml:"probe_interval" env:"PROBE_INTERVAL"`
	ProbeTimeout  Duration `toml:"probe_timeout" env:"PROBE_TIMEOUT"`
	InitialOnline bool     `toml:"initial_online" env:"INITIAL_ONLINE"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"` // "json" or "console"
}

func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend:     "sqlite",
			Dir:         "./data",
			DBName:      "app-cache-db",
			StoreName:   "cache-store",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "offsync",
			Policy:      "last-applied",
		},
		Bridge: BridgeConfig{
			Listen:      "127.0.0.1:8765",
			Path:        "/sync",
			BusCapacity: 1024,
		},
		Replay: ReplayConfig{
			QueueName: "replay",
			Retention: Duration{24 * time.Hour},
			Interval:  Duration{30 * time.Second},
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: Duration{10 * time.Second},
			ProbeTimeout:  Duration{3 * time.Second},
			InitialOnline: true,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (optional) over the defaults, applies the process
// environment and validates the result.
func Load(path string) (Config, error) {
	return LoadEnviron(path, nil)
}

// LoadEnviron is Load with an explicit environment; nil means os.Environ.
func LoadEnviron(path string, environ map[string]string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeTOML(data, &cfg); err != nil {
			return cfg, err
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func decodeTOML(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var sm *toml.StrictMissingError
		if errors.As(err, &sm) {
			return fmt.Errorf("parse config: %s", sm.String())
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Marshal renders cfg as TOML.
func Marshal(cfg Config) ([]byte, error) { return toml.Marshal(cfg) }

var storeName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validate returns the first invalid field as *Error.
func (c Config) Validate() error {
	backends := []string{"sqlite", "redis", "bigcache", "memory"}
	if !slices.Contains(backends, c.Store.Backend) {
		return &Error{Field: "Store.Backend", Message: fmt.Sprintf("must be one of %v", backends)}
	}
	if c.Store.Backend == "sqlite" && c.Store.Dir == "" {
		return &Error{Field: "Store.Dir", Message: "required for the sqlite backend"}
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return &Error{Field: "Store.RedisAddr", Message: "required for the redis backend"}
	}
	if c.Store.DBName == "" {
		return &Error{Field: "Store.DBName", Message: "required"}
	}
	if !storeName.MatchString(c.Store.StoreName) {
		return &Error{Field: "Store.StoreName", Message: "must match [A-Za-z0-9_-]{1,64}"}
	}
	if c.Store.Policy != "last-applied" && c.Store.Policy != "newest-version" {
		return &Error{Field: "Store.Policy", Message: `must be "last-applied" or "newest-version"`}
	}
	if c.Bridge.Listen == "" {
		return &Error{Field: "Bridge.Listen", Message: "required"}
	}
	if c.Bridge.BusCapacity < 0 {
		return &Error{Field: "Bridge.BusCapacity", Message: "must be non-negative"}
	}
	if c.Replay.Retention.Duration <= 0 {
		return &Error{Field: "Replay.Retention", Message: "must be positive"}
	}
	if c.Replay.Interval.Duration < 0 {
		return &Error{Field: "Replay.Interval", Message: "must be non-negative"}
	}
	if c.Replay.MaxInterval.Duration < 0 {
		return &Error{Field: "Replay.MaxInterval", Message: "must be non-negative"}
	}
	if c.Replay.ProxyListen != "" && c.Replay.Upstream == "" {
		return &Error{Field: "Replay.Upstream", Message: "required when the capture proxy is enabled"}
	}
	if c.Connectivity.ProbeAddr != "" && c.Connectivity.ProbeInterval.Duration <= 0 {
		return &Error{Field: "Connectivity.ProbeInterval", Message: "must be positive when probing"}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return &Error{Field: "Log.Format", Message: `must be "json" or "console"`}
	}
	return nil
}

// Error represents a configuration validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Duration is a time.Duration written as text ("30s", "24h") in TOML and env.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
