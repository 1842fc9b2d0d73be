package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"

	"github.com/dataview-sh/dataview/db/migrator"
	"github.com/dataview-sh/dataview/db/types"
)

//go:embed migrations/cache/*.sql migrations/queue/*.sql migrations/metrics/*.sql migrations/catalog/*.sql
var migrationsFS embed.FS

// Store is one of the logical datastores dataview persists data in.
type Store string

// The logical stores. Each one is a separate SQLite database with its own
// migration history.
const (
	StoreCache   Store = "cache"
	StoreQueue   Store = "queue"
	StoreMetrics Store = "metrics"
	StoreCatalog Store = "catalog"
)

// DB wraps sql.DB with additional context and migration functionality.
type DB struct {
	*sql.DB
	ctx        context.Context
	timeNow    func() time.Time
	path       string
	store      Store
	migrations []*migrator.Migration
}

var _ types.Querier = (*DB)(nil)

// Open creates and configures a new SQLite database connection for one
// logical store, with migrations support.
func Open(ctx context.Context, store Store, path string, timeNow func() time.Time) (*DB, error) {
	var d *DB
	if strings.Contains(path, "mode=memory") || strings.Contains(path, ":memory:") {
		defer func() {
			if d != nil {
				// See https://github.com/mattn/go-sqlite3#faq
				d.SetMaxIdleConns(10)
				d.SetConnMaxLifetime(time.Duration(math.Inf(1)))
			}
		}()
	}

	sqliteDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	d = &DB{DB: sqliteDB, ctx: ctx, path: path, store: store, timeNow: timeNow}

	// Enable foreign key enforcement
	_, err = d.Exec(`PRAGMA foreign_keys = ON;`)
	if err != nil {
		return nil, fmt.Errorf("failed enabling foreign key enforcement: %w", err)
	}

	migrationsDir, err := fs.Sub(migrationsFS, fmt.Sprintf("migrations/%s", store))
	if err != nil {
		return nil, fmt.Errorf("failed getting migrations directory: %w", err)
	}
	migrations, err := migrator.LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	d.migrations = migrations

	return d, nil
}

// Migrate runs the migration plan for this store in the given direction, up to
// the target migration name, or all of them if target is "all".
func (d *DB) Migrate(direction migrator.Direction, target string, logger *slog.Logger) error {
	// Verify connectivity before running anything, so a dead store aborts the
	// run with zero migrations executed.
	if err := d.PingContext(d.NewContext()); err != nil {
		return fmt.Errorf("failed connecting to %s store: %w", d.store, err)
	}

	return migrator.RunMigrations(d, d.migrations, direction, target, logger.With("store", string(d.store)))
}

// Migrations returns the registered migrations for this store, sorted
// ascending by name.
func (d *DB) Migrations() []*migrator.Migration {
	return d.migrations
}

// Store returns the logical store this database belongs to.
func (d *DB) Store() Store {
	return d.store
}

// NewContext returns a new child context of the main database context.
func (d *DB) NewContext() context.Context {
	ctx, _ := context.WithCancel(d.ctx) //nolint:govet // The parent context handles cancellation.
	return ctx
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}
