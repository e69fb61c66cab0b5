package config

import "fmt"

// DatabaseConfig configures the single sqlite database file backing the
// episode/segment store. No postgres/mysql variants are supported: the
// pipeline assumes single-machine operation with one writer, which is
// exactly sqlite's WAL model.
type DatabaseConfig struct {
	// Path is the sqlite file path, or ":memory:" for tests.
	Path string `yaml:"path" json:"path"`

	// BusyTimeoutMS bounds how long a writer waits on the single-writer lock
	// before failing with errs.Busy.
	BusyTimeoutMS int `yaml:"busy_timeout_ms,omitempty" json:"busy_timeout_ms,omitempty"`
}

// SetDefaults applies defaults.
func (c *DatabaseConfig) SetDefaults() {
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 10000
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("config: database path is required")
	}
	return nil
}

// DSN returns the sql.Open data source name for mattn/go-sqlite3.
func (c *DatabaseConfig) DSN() string {
	return c.Path
}
