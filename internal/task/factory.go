package task

import "fmt"

// Config selects and configures a Store implementation (modeled on
// internal/store's Config/Factory pair, trimmed to the two drivers this
// domain wires up).
type Config struct {
	Driver string `toml:"driver" yaml:"driver" json:"driver"` // "sqlite" or "postgres"
	Path   string `toml:"path,omitempty" yaml:"path,omitempty" json:"path,omitempty"`
	DSN    string `toml:"dsn,omitempty" yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// NewStore builds a Store for cfg.Driver.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres", "postgresql":
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("task: unsupported store driver %q", cfg.Driver)
	}
}
