package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "dicebastion/internal/log"
)

// Source kinds understood by the loader.
const (
	KindJSON = "json"
	KindICS  = "ics"
)

// SourceConfig describes one upstream feed of event configuration.
type SourceConfig struct {
	// ID is an internal identifier used in event keys and logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the endpoint returning the event list.
	URL string `yaml:"url" json:"url"`
	// Kind is "json" (event-management API) or "ics" (calendar feed).
	Kind string `yaml:"kind" json:"kind"`
}

// RedisConfig enables a shared Redis snapshot store when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	Key      string        `yaml:"key" json:"key"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone event datetimes are interpreted and
	// resolved in (e.g. "Europe/London").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-reading the sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// UpcomingCount is the default number of occurrences listed per event.
	UpcomingCount int `yaml:"upcoming_count" json:"upcoming_count"`

	// CacheDir holds the per-source HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LogLevel is DEBUG, INFO or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Sources is the list of upstream event feeds.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "Europe/London",
		RefreshCron:   "*/15 * * * *",
		UpcomingCount: 3,
		CacheDir:      "/var/lib/dicebastion/cache",
		LogLevel:      "INFO",
		Sources:       []SourceConfig{},
		Redis:         nil,
		BasicAuth:     nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.UpcomingCount <= 0 {
		c.UpcomingCount = def.UpcomingCount
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "DEBUG", "INFO", "ERROR":
		// ok
	default:
		c.LogLevel = def.LogLevel
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Kind != KindICS {
			s.Kind = KindJSON
		}
		if s.ID == "" {
			if s.Name != "" {
				s.ID = s.Name
			} else {
				s.ID = s.URL
			}
		}
	}
	if c.Redis != nil {
		if c.Redis.Key == "" {
			c.Redis.Key = "dicebastion:events"
		}
		if c.Redis.TTL <= 0 {
			c.Redis.TTL = 24 * time.Hour
		}
	}
}

// Location resolves Timezone, falling back to UTC. The fallback is logged:
// it shifts every occurrence by the zone offset.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("unknown timezone, using UTC", err, "timezone", c.Timezone)
		return time.UTC
	}
	return loc
}

// ApplyEnv overrides file settings from the environment. Call after the
// .env file has been loaded.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DICEBASTION_LISTEN"); v != "" {
		c.Listen = v
	}
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.Addr = addr
		if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
			c.Redis.Password = pw
		}
		if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
			c.Redis.DB = db
		}
	}
	c.Normalize()
}

// Load reads and normalizes the YAML config at path. On first run it writes
// the defaults there instead.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration atomically (temp file + rename) with
// 0600 permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".dicebastion-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
