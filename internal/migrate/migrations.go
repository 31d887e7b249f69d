package migrate

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

// Migrate applies embedded migrations for the connection's dialect.
// The migrate instance is not closed because that would close conn.
func Migrate(conn *sqlx.DB) error {
	var (
		driver database.Driver
		dir    string
		err    error
	)
	switch conn.DriverName() {
	case "sqlite":
		dir = "sql/sqlite"
		driver, err = sqlite.WithInstance(conn.DB, &sqlite.Config{})
	case "postgres":
		dir = "sql/postgres"
		driver, err = postgres.WithInstance(conn.DB, &postgres.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", conn.DriverName())
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, conn.DriverName(), driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func Version(conn *sqlx.DB) (uint, bool, error) {
	var v uint
	var dirty bool
	err := conn.QueryRowx(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&v, &dirty)
	if err != nil {
		return 0, false, err
	}
	return v, dirty, nil
}
