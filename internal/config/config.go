package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Events  EventsConfig  `koanf:"events"`
	HITL    HITLConfig    `koanf:"hitl"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Port            string   `koanf:"port"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
	APIKeys         []string `koanf:"api_keys"`
	CORSOrigins     []string `koanf:"cors_origins"`
	RateLimitPerMin int      `koanf:"rate_limit_per_min"`
}

type StorageConfig struct {
	Driver         string `koanf:"driver"` // sqlite or postgres
	SQLitePath     string `koanf:"sqlite_path"`
	SQLitePoolSize int    `koanf:"sqlite_pool_size"`
	PostgresDSN    string `koanf:"postgres_dsn"`
}

type EventsConfig struct {
	RecentDefault int `koanf:"recent_default"`
	RecentMax     int `koanf:"recent_max"`
	StreamBacklog int `koanf:"stream_backlog"`
	QueueMaxSize  int `koanf:"queue_max_size"`
	BatchMaxSize  int `koanf:"batch_max_size"`
}

type HITLConfig struct {
	CallbackTimeout time.Duration `koanf:"callback_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ConfigPathEnvVar names a YAML file layered between defaults and env.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            "4000",
			MaxBodyBytes:    1 << 20,
			RateLimitPerMin: 600,
		},
		Storage: StorageConfig{
			Driver:         DriverSQLite,
			SQLitePath:     "agentwatch.db",
			SQLitePoolSize: 4,
		},
		Events: EventsConfig{
			RecentDefault: 100,
			RecentMax:     1000,
			StreamBacklog: 300,
			QueueMaxSize:  10_000,
			BatchMaxSize:  500,
		},
		HITL:    HITLConfig{CallbackTimeout: 5 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// envMappings maps environment variables to config keys. Anything not
// listed here is ignored.
var envMappings = map[string]string{
	"port":                  "server.port",
	"max_body_bytes":        "server.max_body_bytes",
	"api_keys":              "server.api_keys",
	"cors_origins":          "server.cors_origins",
	"rate_limit_per_min":    "server.rate_limit_per_min",
	"storage_driver":        "storage.driver",
	"sqlite_path":           "storage.sqlite_path",
	"sqlite_pool_size":      "storage.sqlite_pool_size",
	"postgres_dsn":          "storage.postgres_dsn",
	"recent_default_limit":  "events.recent_default",
	"recent_max_limit":      "events.recent_max",
	"stream_backlog":        "events.stream_backlog",
	"queue_max_size":        "events.queue_max_size",
	"batch_max_size":        "events.batch_max_size",
	"hitl_callback_timeout": "hitl.callback_timeout",
	"log_level":             "logging.level",
	"log_format":            "logging.format",
}

var sliceKeys = []string{"server.api_keys", "server.cors_origins"}

func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load layers defaults, an optional YAML file and environment variables,
// in that order of precedence, then validates the result. path may be
// empty; CONFIG_PATH is consulted in that case.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// splitSlices turns comma-separated env values into lists.
func splitSlices(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		s, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := []string{}
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string
	if c.Server.Port == "" {
		problems = append(problems, "server.port is required")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			problems = append(problems, "storage.sqlite_path is required for sqlite")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage.postgres_dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q must be sqlite or postgres", c.Storage.Driver))
	}
	if c.Events.RecentDefault <= 0 || c.Events.RecentMax < c.Events.RecentDefault {
		problems = append(problems, "events.recent_default must be positive and not exceed events.recent_max")
	}
	if c.Events.StreamBacklog <= 0 {
		problems = append(problems, "events.stream_backlog must be positive")
	}
	if c.Events.QueueMaxSize <= 0 || c.Events.BatchMaxSize <= 0 {
		problems = append(problems, "events.queue_max_size and events.batch_max_size must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// APIKeySet returns the configured keys as a set. An empty set disables
// key checks.
func (c Config) APIKeySet() map[string]struct{} {
	m := make(map[string]struct{}, len(c.Server.APIKeys))
	for _, k := range c.Server.APIKeys {
		m[k] = struct{}{}
	}
	return m
}
