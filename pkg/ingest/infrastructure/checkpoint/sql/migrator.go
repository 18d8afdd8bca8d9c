package sql

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database"
	gormadapter "github.com/tigerroll/surfin-stream/pkg/ingest/adapter/database/gorm"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

// MigrationsTable records the applied checkpoint schema version.
const MigrationsTable = "stream_checkpoint_migrations"

//go:embed migrations
var migrationFS embed.FS

// Migrate applies pending checkpoint migrations for cfg.Type. It opens its own
// connection because closing a migrate instance closes the database handle.
func Migrate(cfg database.DatabaseConfig) error {
	db, err := gormadapter.Open(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	var driver migratedb.Driver
	switch cfg.Type {
	case "postgres":
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		driver, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: MigrationsTable})
	default:
		_ = sqlDB.Close()
		return fmt.Errorf("unsupported database type for migration: %s", cfg.Type)
	}
	if err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	path := "migrations/" + cfg.Type
	src, err := iofs.New(migrationFS, path)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, cfg.Type, driver)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, verr := m.Version(); verr == nil {
			logger.Errorf("Checkpoint migration stopped at version %d (dirty=%t).", version, dirty)
		}
		return fmt.Errorf("checkpoint migration failed (DB: %s, Path: %s): %w", cfg.Type, path, err)
	}
	logger.Infof("Checkpoint schema is up to date (%s).", cfg.Type)
	return nil
}
