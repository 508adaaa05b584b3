package config

import (
	"fmt"
	"time"

	"github.com/loykin/procsentry/internal/logger"
	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Cache     CacheConfig     `toml:"cache" mapstructure:"cache"`
	Monitor   MonitorConfig   `toml:"monitor" mapstructure:"monitor"`
	Terminate TerminateConfig `toml:"terminate" mapstructure:"terminate"`
	Behavior  BehaviorConfig  `toml:"behavior" mapstructure:"behavior"`
	Health    HealthConfig    `toml:"health" mapstructure:"health"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
}

type CacheConfig struct {
	MaxEntries int           `toml:"max_entries" mapstructure:"max_entries"`
	MaxBytes   int           `toml:"max_bytes" mapstructure:"max_bytes"`
	TTL        time.Duration `toml:"ttl" mapstructure:"ttl"`
	HighWater  float64       `toml:"high_water" mapstructure:"high_water"`
	LowWater   float64       `toml:"low_water" mapstructure:"low_water"`
}

type MonitorConfig struct {
	Interval        time.Duration `toml:"interval" mapstructure:"interval"`
	MemoryDeltaKB   int           `toml:"memory_delta_kb" mapstructure:"memory_delta_kb"`
	CPUDeltaPercent float64       `toml:"cpu_delta_percent" mapstructure:"cpu_delta_percent"`
}

type TerminateConfig struct {
	GracefulTimeout time.Duration `toml:"graceful_timeout" mapstructure:"graceful_timeout"`
	ForcefulTimeout time.Duration `toml:"forceful_timeout" mapstructure:"forceful_timeout"`
	RestartDelay    time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	MaxConcurrent   int           `toml:"max_concurrent" mapstructure:"max_concurrent"`
	ResultHistory   int           `toml:"result_history" mapstructure:"result_history"`
}

type BehaviorConfig struct {
	Store         string        `toml:"store" mapstructure:"store"` // sqlite|postgres|memory|none
	Path          string        `toml:"path" mapstructure:"path"`   // sqlite file path
	DSN           string        `toml:"dsn" mapstructure:"dsn"`     // postgres DSN
	MaxIdentities int           `toml:"max_identities" mapstructure:"max_identities"`
	SaveDebounce  time.Duration `toml:"save_debounce" mapstructure:"save_debounce"`
}

type HealthConfig struct {
	Enabled           bool          `toml:"enabled" mapstructure:"enabled"`
	Interval          time.Duration `toml:"interval" mapstructure:"interval"`
	WarnThreshold     float64       `toml:"warn_threshold" mapstructure:"warn_threshold"`
	CriticalThreshold float64       `toml:"critical_threshold" mapstructure:"critical_threshold"`
}

type HistoryConfig struct {
	Sink  string `toml:"sink" mapstructure:"sink"`   // none|clickhouse|postgres
	Addr  string `toml:"addr" mapstructure:"addr"`   // clickhouse host:port
	DSN   string `toml:"dsn" mapstructure:"dsn"`     // postgres DSN
	Table string `toml:"table" mapstructure:"table"` // default termination_events
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`       // e.g. 127.0.0.1:8080
	BasePath string `toml:"base_path" mapstructure:"base_path"` // default /api
	Metrics  bool   `toml:"metrics" mapstructure:"metrics"`     // expose /metrics
}

// Load parses a TOML config file and validates it.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate rejects values the engine cannot run with. Zero values are
// allowed everywhere and resolved to defaults by the consuming packages.
func (fc *FileConfig) Validate() error {
	if fc.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be >= 0")
	}
	if fc.Cache.HighWater < 0 || fc.Cache.HighWater > 1 {
		return fmt.Errorf("cache.high_water must be within [0,1]")
	}
	if fc.Cache.LowWater < 0 || fc.Cache.LowWater > 1 {
		return fmt.Errorf("cache.low_water must be within [0,1]")
	}
	if fc.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval must be >= 0")
	}
	if fc.Monitor.CPUDeltaPercent < 0 || fc.Monitor.CPUDeltaPercent > 100 {
		return fmt.Errorf("monitor.cpu_delta_percent must be within [0,100]")
	}
	if fc.Terminate.MaxConcurrent < 0 {
		return fmt.Errorf("terminate.max_concurrent must be >= 0")
	}
	switch fc.Behavior.Store {
	case "", "sqlite", "postgres", "memory", "none":
	default:
		return fmt.Errorf("unknown behavior store %q", fc.Behavior.Store)
	}
	if fc.Behavior.Store == "sqlite" && fc.Behavior.Path == "" {
		return fmt.Errorf("behavior store sqlite requires path")
	}
	if fc.Behavior.Store == "postgres" && fc.Behavior.DSN == "" {
		return fmt.Errorf("behavior store postgres requires dsn")
	}
	switch fc.History.Sink {
	case "", "none", "clickhouse", "postgres":
	default:
		return fmt.Errorf("unknown history sink %q", fc.History.Sink)
	}
	if fc.History.Sink == "clickhouse" && fc.History.Addr == "" {
		return fmt.Errorf("history sink clickhouse requires addr")
	}
	if fc.History.Sink == "postgres" && fc.History.DSN == "" {
		return fmt.Errorf("history sink postgres requires dsn")
	}
	if fc.Health.WarnThreshold < 0 || fc.Health.WarnThreshold > 1 {
		return fmt.Errorf("health.warn_threshold must be within [0,1]")
	}
	if fc.Health.CriticalThreshold < 0 || fc.Health.CriticalThreshold > 1 {
		return fmt.Errorf("health.critical_threshold must be within [0,1]")
	}
	if fc.Health.CriticalThreshold > 0 && fc.Health.WarnThreshold > 0 &&
		fc.Health.CriticalThreshold >= fc.Health.WarnThreshold {
		return fmt.Errorf("health.critical_threshold must be below warn_threshold")
	}
	return nil
}

// HistoryTable returns the configured events table, defaulted.
func (fc *FileConfig) HistoryTable() string {
	if fc.History.Table == "" {
		return "termination_events"
	}
	return fc.History.Table
}
