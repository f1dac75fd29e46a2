package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

const (
	migrationsDir  = "sql"
	migrationTable = "schema_migrations_referrals"
)

// State is the schema version recorded by golang-migrate.
type State struct {
	Version uint
	Dirty   bool
}

// RunMigrations applies every pending embedded migration and reports the
// resulting version.
func RunMigrations(db *sql.DB) (State, error) {
	m, err := newMigrator(db)
	if err != nil {
		return State{}, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return State{}, fmt.Errorf("apply migrations: %w", err)
	}
	return currentState(m)
}

// CurrentState reads the applied version without migrating.
func CurrentState(db *sql.DB) (State, error) {
	m, err := newMigrator(db)
	if err != nil {
		return State{}, err
	}
	return currentState(m)
}

// newMigrator wraps db without owning it; closing the migrator would close
// the shared pool, so callers never do.
func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migration database handle is required")
	}
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}
	return m, nil
}

func currentState(m *migrate.Migrate) (State, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read migration version: %w", err)
	}
	return State{Version: version, Dirty: dirty}, nil
}
