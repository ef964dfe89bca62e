package directory

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

// Config holds the tuning knobs of the directory engine.
type Config struct {
	MaxVisible       int           `yaml:"max_visible"`
	RotateCount      int           `yaml:"rotate_count"`
	RotateInterval   time.Duration `yaml:"rotate_interval"`
	RecencyHighWater int           `yaml:"recency_high_water"`
	RecencyTrim      int           `yaml:"recency_trim"`
	PresenceFanIn    int           `yaml:"presence_fan_in"`
	PoolLimit        int           `yaml:"pool_limit"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	Collection       string        `yaml:"collection"`
	DefaultAvatar    string        `yaml:"default_avatar"`
	DefaultLocale    string        `yaml:"default_locale"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	EventBuffer      int           `yaml:"event_buffer"`
	NormalizeWorkers int           `yaml:"normalize_workers"`
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		MaxVisible:       20,
		RotateCount:      8,
		RotateInterval:   30 * time.Second,
		RecencyHighWater: 40,
		RecencyTrim:      20,
		PresenceFanIn:    30,
		PoolLimit:        100,
		FetchTimeout:     8 * time.Second,
		Collection:       "sos_profiles",
		DefaultAvatar:    entity.DefaultAvatar,
		DefaultLocale:    "fr",
		SessionTTL:       10 * time.Minute,
		EventBuffer:      64,
		NormalizeWorkers: 8,
	}
}

// ConfigFromEnv starts from DefaultConfig, overlays the YAML file named by
// DIRECTORY_CONFIG if set, then individual DIRECTORY_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("DIRECTORY_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	envInt("DIRECTORY_MAX_VISIBLE", &cfg.MaxVisible)
	envInt("DIRECTORY_ROTATE_COUNT", &cfg.RotateCount)
	envDuration("DIRECTORY_ROTATE_INTERVAL", &cfg.RotateInterval)
	envInt("DIRECTORY_PRESENCE_FAN_IN", &cfg.PresenceFanIn)
	envInt("DIRECTORY_POOL_LIMIT", &cfg.PoolLimit)
	envDuration("DIRECTORY_FETCH_TIMEOUT", &cfg.FetchTimeout)
	envDuration("DIRECTORY_SESSION_TTL", &cfg.SessionTTL)
	if v := os.Getenv("DIRECTORY_COLLECTION"); v != "" {
		cfg.Collection = v
	}
	if v := os.Getenv("DIRECTORY_DEFAULT_LOCALE"); v != "" {
		cfg.DefaultLocale = v
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read directory config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse directory config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"max_visible":        c.MaxVisible,
		"rotate_count":       c.RotateCount,
		"recency_high_water": c.RecencyHighWater,
		"recency_trim":       c.RecencyTrim,
		"presence_fan_in":    c.PresenceFanIn,
		"pool_limit":         c.PoolLimit,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.RecencyTrim > c.RecencyHighWater {
		errs = append(errs, fmt.Errorf("recency_trim (%d) exceeds recency_high_water (%d)", c.RecencyTrim, c.RecencyHighWater))
	}
	if c.RotateInterval <= 0 {
		errs = append(errs, errors.New("rotate_interval must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.Collection == "" {
		errs = append(errs, errors.New("collection is required"))
	}
	return errors.Join(errs...)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
