// Package config loads agent settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Persistence backends.
const (
	BackendPostgrest = "postgrest"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

// Local storage backends.
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	Persistence struct {
		Backend string        `yaml:"backend"`
		RestURL string        `yaml:"rest_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"persistence"`

	Polling struct {
		Interval       time.Duration `yaml:"interval"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"polling"`

	Answers struct {
		TypingWindow   time.Duration `yaml:"typing_window"`
		Debounce       time.Duration `yaml:"debounce"`
		BackupInterval time.Duration `yaml:"backup_interval"`
	} `yaml:"answers"`

	Powerups struct {
		Cost              int           `yaml:"cost"`
		InjectionInterval time.Duration `yaml:"injection_interval"`
		InjectionLength   int           `yaml:"injection_length"`
		EarlyLockLead     time.Duration `yaml:"early_lock_lead"`
		Enabled           []string      `yaml:"enabled"`
	} `yaml:"powerups"`

	Storage struct {
		Backend       string `yaml:"backend"`
		Dir           string `yaml:"dir"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		RedisPrefix   string `yaml:"redis_prefix"`
	} `yaml:"storage"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"nats"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	var c Config
	c.Persistence.Backend = BackendMemory
	c.Persistence.Timeout = 5 * time.Second
	c.Polling.Interval = 2 * time.Second
	c.Polling.RequestTimeout = 3 * time.Second
	c.Answers.TypingWindow = 5 * time.Second
	c.Answers.Debounce = 500 * time.Millisecond
	c.Answers.BackupInterval = 3 * time.Second
	c.Powerups.Cost = 3
	c.Powerups.InjectionInterval = 10 * time.Second
	c.Powerups.InjectionLength = 3
	c.Powerups.EarlyLockLead = 30 * time.Second
	c.Storage.Backend = StorageFile
	c.Storage.Dir = ".classroom"
	c.Storage.RedisAddr = "localhost:6379"
	c.Storage.RedisPrefix = "classroom"
	c.NATS.URL = "nats://127.0.0.1:4222"
	c.NATS.Prefix = "classroom"
	c.Server.Addr = ":8090"
	c.Log.Level = "info"
	return c
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Persistence.Backend = getEnv("CLASSROOM_PERSISTENCE", c.Persistence.Backend)
	c.Persistence.RestURL = getEnv("SUPABASE_URL", c.Persistence.RestURL)
	c.Persistence.APIKey = getEnv("SUPABASE_ANON_KEY", c.Persistence.APIKey)
	c.Polling.Interval = getEnvAsDuration("POLL_INTERVAL", c.Polling.Interval)
	c.Polling.RequestTimeout = getEnvAsDuration("POLL_REQUEST_TIMEOUT", c.Polling.RequestTimeout)
	c.Powerups.Cost = getEnvAsInt("POWERUP_COST", c.Powerups.Cost)
	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Dir = getEnv("STORAGE_DIR", c.Storage.Dir)
	c.Storage.RedisAddr = getEnv("REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.RedisPassword = getEnv("REDIS_PASSWORD", c.Storage.RedisPassword)
	c.Storage.RedisDB = getEnvAsInt("REDIS_DB", c.Storage.RedisDB)
	c.NATS.Enabled = getEnvAsBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	var errs []error
	switch c.Persistence.Backend {
	case BackendPostgrest:
		if c.Persistence.RestURL == "" || c.Persistence.APIKey == "" {
			errs = append(errs, errors.New("postgrest backend needs rest_url and api_key"))
		}
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend))
	}
	switch c.Storage.Backend {
	case StorageFile, StorageRedis, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Polling.Interval <= 0 {
		errs = append(errs, errors.New("polling interval must be positive"))
	}
	if c.Powerups.Cost < 0 {
		errs = append(errs, errors.New("powerup cost cannot be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return defaultValue
}
