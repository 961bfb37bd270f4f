package db

import (
	"embed"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

const (
	controlDir = "migrations/control"
	tenantDir  = "migrations/tenant"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Connect opens a Postgres pool and verifies it with a ping.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// MigrateControl applies the control-plane migrations (the tenants table).
func MigrateControl(db *sqlx.DB) error {
	return migrate(db, controlDir)
}

// MigrateTenant applies the chat tables to the schema the pool is scoped to.
func MigrateTenant(db *sqlx.DB) error {
	return migrate(db, tenantDir)
}

func migrate(db *sqlx.DB, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db.DB, dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	return nil
}
