// Package config loads the proxy configuration from defaults, an optional
// YAML file, a .env file and BOTDASH_* environment variables, in that
// order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/botdash-proxy/pkg/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. BOTDASH_CACHE_VERSION.
const EnvPrefix = "BOTDASH"

// Cache backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the full proxy configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Origin OriginConfig `mapstructure:"origin"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Worker WorkerConfig `mapstructure:"worker"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// OriginConfig points at the dashboard origin.
type OriginConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the versioned stores.
type CacheConfig struct {
	Version   string        `mapstructure:"version"`
	Backend   string        `mapstructure:"backend"`
	Namespace string        `mapstructure:"namespace"`
	APITTL    time.Duration `mapstructure:"api_ttl"`
	Precache  []string      `mapstructure:"precache"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig configures the registration.
type WorkerConfig struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Loader reads configuration through its own viper instance.
type Loader struct {
	v       *viper.Viper
	envFile string
}

// NewLoader creates a loader with every default set. The config file
// botdash-proxy.yaml is searched in paths, or in the working directory and
// /etc/botdash-proxy when none are given.
func NewLoader(paths ...string) *Loader {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("origin.url", "http://localhost:5173")
	v.SetDefault("origin.timeout", 30*time.Second)
	v.SetDefault("cache.version", "v1.0.0")
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.namespace", "botdash:cache")
	v.SetDefault("cache.api_ttl", 30*time.Second)
	v.SetDefault("cache.precache", []string{"/", "/index.html", "/manifest.json"})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("worker.update_interval", 60*time.Second)
	v.SetDefault("worker.user_agent", "botdash-proxy/1.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetConfigName("botdash-proxy")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "/etc/botdash-proxy"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, envFile: ".env"}
}

// Viper exposes the underlying instance, e.g. for binding flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// SetConfigFile uses an explicit config file instead of the search paths.
func (l *Loader) SetConfigFile(path string) {
	l.v.SetConfigFile(path)
}

// SetEnvFile sets the .env file to load (empty disables it).
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load reads and validates the configuration. A missing config file or
// .env file is not an error.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", l.envFile, err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Debug().Msg("No config file found, using defaults and environment")
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with the reloaded configuration whenever the config
// file changes. Invalid configurations are logged and skipped.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		log.Info().Str("file", e.Name).Msg("Config reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks the configuration for values the proxy cannot run with.
func (c *Config) Validate() error {
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if c.Origin.Timeout < 0 {
		return fmt.Errorf("origin.timeout must be >= 0 (got %s)", c.Origin.Timeout)
	}
	if c.Cache.Version == "" {
		return errors.New("cache.version must not be empty")
	}
	switch c.Cache.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("cache.backend must be %q or %q (got %q)", BackendRedis, BackendMemory, c.Cache.Backend)
	}
	if c.Cache.APITTL <= 0 {
		return fmt.Errorf("cache.api_ttl must be > 0 (got %s)", c.Cache.APITTL)
	}
	if c.Worker.UpdateInterval <= 0 {
		return fmt.Errorf("worker.update_interval must be > 0 (got %s)", c.Worker.UpdateInterval)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// OriginURL parses the origin URL. Only absolute http and https URLs are valid.
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin.URL)
	if err != nil {
		return nil, fmt.Errorf("origin.url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("origin.url must be an absolute http(s) URL (got %q)", c.Origin.URL)
	}
	return u, nil
}
