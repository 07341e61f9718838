package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageBadger = "badger"
	StorageMemory = "memory"
)

// Remote backends.
const RemoteMemory = "memory"

// Config represents the global ~/.ventchat/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	UserID         string  `toml:"user_id"`
	MetricsAddr    string  `toml:"metrics_addr"`
	Storage        Storage `toml:"storage"`
	Remote         Remote  `toml:"remote"`
	Sync           Sync    `toml:"sync"`
}

// Storage selects the persisted key-value backend.
type Storage struct {
	Backend string `toml:"backend"`
}

// Remote selects the document store and its circuit breaker.
type Remote struct {
	Backend          string   `toml:"backend"`
	FailureThreshold uint32   `toml:"failure_threshold"`
	BreakerTimeout   Duration `toml:"breaker_timeout"`
}

// Sync holds the intervals of the background loops.
type Sync struct {
	CheckpointInterval Duration `toml:"checkpoint_interval"`
	FlushInterval      Duration `toml:"flush_interval"`
	TypingIdle         Duration `toml:"typing_idle"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Storage: Storage{Backend: StorageSQLite},
		Remote: Remote{
			Backend:          RemoteMemory,
			FailureThreshold: 5,
			BreakerTimeout:   Duration{10 * time.Second},
		},
		Sync: Sync{
			CheckpointInterval: Duration{30 * time.Second},
			FlushInterval:      Duration{5 * time.Second},
			TypingIdle:         Duration{2 * time.Second},
		},
	}
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case StorageSQLite, StorageBadger, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Remote.Backend != RemoteMemory {
		errs = append(errs, fmt.Errorf("unknown remote backend %q", c.Remote.Backend))
	}
	for name, d := range map[string]Duration{
		"sync.checkpoint_interval": c.Sync.CheckpointInterval,
		"sync.flush_interval":      c.Sync.FlushInterval,
		"sync.typing_idle":         c.Sync.TypingIdle,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Load reads config from the given path on top of Default. Returns nil and
// an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
