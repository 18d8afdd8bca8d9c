// Package sqlite registers the SQLite dialector.
package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database"
	gormadapter "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg database.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		if cfg.Database != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory for SQLite database '%s': %w", cfg.Database, err)
			}
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the DSN of cfg. The busy timeout lets concurrent
// checkpoint writers wait for the file lock instead of failing.
func ConnectionString(cfg database.DatabaseConfig) string {
	return cfg.Database + "?_busy_timeout=5000"
}
