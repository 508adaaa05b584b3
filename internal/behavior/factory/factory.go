// Package factory builds behavior stores from configuration.
package factory

import (
	"fmt"

	"github.com/loykin/procsentry/internal/behavior"
)

// Config selects and parameterizes a behavior store backend.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite", "postgres", "memory"
	Path string `toml:"path" mapstructure:"path"` // sqlite file path
	DSN  string `toml:"dsn" mapstructure:"dsn"`   // postgres DSN
}

// New returns the store for cfg. An empty type means no persistence.
func New(cfg Config) (behavior.Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return behavior.NewMemoryStore(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("behavior store sqlite requires path")
		}
		return behavior.NewSQLiteStore(cfg.Path)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("behavior store postgres requires dsn")
		}
		return behavior.NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown behavior store type %q", cfg.Type)
	}
}
