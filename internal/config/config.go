// Package config loads host configuration from TOML and watches it for
// live reload. Changed configuration is pushed to running guests as a
// CONFIG_UPDATE, so plugins can react without a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Validation errors.
var (
	ErrBadLogLevel  = errors.New("unknown log level")
	ErrBadBudget    = errors.New("scheduler budget must not be negative")
	ErrBadPending   = errors.New("scheduler max_pending must be positive")
	ErrBadBatchSize = errors.New("receiver max_batch_size must be positive")
	ErrBadTimeout   = errors.New("promise timeout must not be negative")
)

// Config is the full host configuration.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Receiver  ReceiverConfig  `toml:"receiver"`
	Promise   PromiseConfig   `toml:"promise"`
	Plugin    PluginConfig    `toml:"plugin"`
}

// LogConfig controls the host logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Prefix string `toml:"prefix"`
}

// SchedulerConfig controls guest-side batch throttling.
type SchedulerConfig struct {
	BudgetMs   int  `toml:"budget_ms"`
	MaxPending int  `toml:"max_pending"`
	Merge      bool `toml:"merge"`
}

// Budget returns the flush budget as a duration.
func (c SchedulerConfig) Budget() time.Duration {
	return time.Duration(c.BudgetMs) * time.Millisecond
}

// ReceiverConfig controls host-side batch application.
type ReceiverConfig struct {
	MaxBatchSize int  `toml:"max_batch_size"`
	Strict       bool `toml:"strict"`
	TopTypes     int  `toml:"top_types"`
}

// PromiseConfig controls cross-boundary async results.
type PromiseConfig struct {
	TimeoutMs int `toml:"timeout_ms"`
}

// Timeout returns the async result timeout as a duration.
func (c PromiseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PluginConfig names what to run and carries the free-form table pushed to
// guests on config updates.
type PluginConfig struct {
	Dir      string         `toml:"dir"`
	Entry    string         `toml:"entry"`
	Settings map[string]any `toml:"settings"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Prefix: "weft"},
		Scheduler: SchedulerConfig{
			BudgetMs:   16,
			MaxPending: 512,
			Merge:      true,
		},
		Receiver: ReceiverConfig{
			MaxBatchSize: 256,
			TopTypes:     5,
		},
		Promise: PromiseConfig{TimeoutMs: 30_000},
		Plugin:  PluginConfig{Entry: "init.lua"},
	}
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrBadLogLevel, c.Log.Level)
	}
	if c.Scheduler.BudgetMs < 0 {
		return ErrBadBudget
	}
	if c.Scheduler.MaxPending <= 0 {
		return ErrBadPending
	}
	if c.Receiver.MaxBatchSize <= 0 {
		return ErrBadBatchSize
	}
	if c.Promise.TimeoutMs < 0 {
		return ErrBadTimeout
	}
	return nil
}

// GuestTable is the table pushed to guests on config updates: the plugin
// settings plus the knobs guests may care about.
func (c Config) GuestTable() map[string]any {
	out := make(map[string]any, len(c.Plugin.Settings)+2)
	for k, v := range c.Plugin.Settings {
		out[k] = v
	}
	out["scheduler_budget_ms"] = int64(c.Scheduler.BudgetMs)
	out["receiver_max_batch"] = int64(c.Receiver.MaxBatchSize)
	return out
}
