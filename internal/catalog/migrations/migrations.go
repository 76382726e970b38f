// Package migrations embeds the catalog schema and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Dialect selects the migration set.
type Dialect string

// Supported dialects.
const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Up applies every pending migration for dialect through driver. When release
// is set the driver, and the *sql.DB it wraps, is closed afterwards.
func Up(dialect Dialect, driverName string, driver database.Driver, release bool, logger *zap.Logger) error {
	src, err := iofs.New(files, string(dialect))
	if err != nil {
		return fmt.Errorf("migration: open embedded %s source: %w", dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		return fmt.Errorf("migration: initialize: %w", err)
	}
	m.Log = &migrateLogger{logger: logger.Named("migrate")}
	if release {
		defer func() {
			srcErr, dbErr := m.Close()
			if srcErr != nil {
				logger.Warn("close migration source", zap.Error(srcErr))
			}
			if dbErr != nil {
				logger.Warn("close migration database", zap.Error(dbErr))
			}
		}()
	}

	currentVersion, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migration: read current version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migration: database is dirty at version %d (manual intervention required)", currentVersion)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("catalog schema up to date", zap.Uint("version", currentVersion))
			return nil
		}
		return fmt.Errorf("migration: up: %w", err)
	}
	newVersion, _, _ := m.Version()
	logger.Info("catalog schema migrated",
		zap.String("dialect", string(dialect)),
		zap.Uint("from_version", currentVersion),
		zap.Uint("to_version", newVersion),
	)
	return nil
}

// migrateLogger adapts golang-migrate's logger interface to zap.
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
