package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when fields are absent from the config file.
const (
	DefaultListen        = ":3336"
	DefaultCapacity      = 500
	DefaultSeenCapacity  = 10
	DefaultMaxLimit      = 500
	DefaultLogLevel      = "info"
	DefaultStatsInterval = 30 * time.Second
)

// Config is read from a JSON or YAML file. JSON files keep working since
// YAML is a superset of it.
type Config struct {
	Relays      []string `yaml:"relays"`
	WriteRelays []string `yaml:"writeRelays"`
	RelayName   string   `yaml:"relayName"`
	NSec        string   `yaml:"nSec"`
	Listen      string   `yaml:"listen"`

	// Capacity is how many events the relay keeps in memory.
	Capacity int `yaml:"capacity"`
	// SeenCapacity is how many recently forwarded event ids are remembered
	// to avoid publishing the same event twice to the write relays.
	SeenCapacity int `yaml:"seenCapacity"`
	// MaxLimit caps the number of events returned by a single query.
	MaxLimit int `yaml:"maxLimit"`

	LogLevel      string        `yaml:"logLevel"`
	StatsInterval time.Duration `yaml:"statsInterval"`
}

// env overrides, applied after the file is parsed
const (
	envRelayName    = "RELAY_NAME"
	envNSec         = "RELAY_NSEC"
	envListen       = "RELAY_LISTEN"
	envCapacity     = "RELAY_CAPACITY"
	envSeenCapacity = "RELAY_SEEN_CAPACITY"
	envLogLevel     = "RELAY_LOG_LEVEL"
)

// loadDotEnv loads a .env file into the environment if there is one.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func readConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Listen:        DefaultListen,
		Capacity:      DefaultCapacity,
		SeenCapacity:  DefaultSeenCapacity,
		MaxLimit:      DefaultMaxLimit,
		LogLevel:      DefaultLogLevel,
		StatsInterval: DefaultStatsInterval,
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(envRelayName); v != "" {
		cfg.RelayName = v
	}
	if v := os.Getenv(envNSec); v != "" {
		cfg.NSec = v
	}
	if v := os.Getenv(envListen); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
	for name, dst := range map[string]*int{
		envCapacity:     &cfg.Capacity,
		envSeenCapacity: &cfg.SeenCapacity,
	} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.NSec == "" {
		return fmt.Errorf("nSec is required")
	}
	if cfg.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if cfg.SeenCapacity <= 0 {
		return fmt.Errorf("seenCapacity must be positive")
	}
	if cfg.MaxLimit <= 0 {
		return fmt.Errorf("maxLimit must be positive")
	}
	if cfg.StatsInterval <= 0 {
		return fmt.Errorf("statsInterval must be positive")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
