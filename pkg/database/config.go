package database

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds database configuration.
type Config struct {
	// Path to the database file. ":memory:" opens an in-memory database
	// (used by tests).
	Path string

	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig returns the built-in database defaults.
func DefaultConfig() Config {
	return Config{
		Path:         "remedy.db",
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}
}

// DSN builds the driver DSN with WAL journaling and a busy timeout so
// concurrent session workers do not fail on short lock contention.
// _time_format=sqlite makes time.Time round-trip as sortable text.
func (c Config) DSN() string {
	if c.Path == ":memory:" {
		// A shared cache keeps every pooled connection on the same
		// in-memory database.
		return "file::memory:?cache=shared&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	return fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_time_format=sqlite",
		c.Path,
	)
}

// LoadConfigFromEnv reads database configuration from the environment,
// falling back to defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("REMEDY_DB_PATH"); path != "" {
		cfg.Path = path
	}
	if v := os.Getenv("REMEDY_DB_MAX_OPEN_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid REMEDY_DB_MAX_OPEN_CONNS %q", v)
		}
		cfg.MaxOpenConns = n
	}
	if v := os.Getenv("REMEDY_DB_MAX_IDLE_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid REMEDY_DB_MAX_IDLE_CONNS %q", v)
		}
		cfg.MaxIdleConns = n
	}
	return cfg, nil
}
