package migrator

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dataview-sh/dataview/db/types"
)

// Direction determines whether migrations are applied or rolled back.
type Direction int

const (
	// MigrationUp applies pending migrations.
	MigrationUp Direction = iota
	// MigrationDown rolls back applied migrations.
	MigrationDown
)

// TargetAll applies or rolls back all known migrations.
const TargetAll = "all"

// Migration is a single versioned change to a database. Its name is unique and
// sortable, so the set of all migrations has a total order.
type Migration struct {
	ID   uint64
	Name string
	Up   string
	Down string
}

// Record is one applied migration, as stored in the history table.
type Record struct {
	Name      string
	AppliedAt time.Time
}

var migrationFileRx = regexp.MustCompile(`^(\d+)-([\w-]+)\.(up|down)\.sql$`)

// LoadMigrations reads migration files from the given filesystem. Files must
// be named '{id}-{name}.up.sql', optionally paired with a matching
// '.down.sql'. The result is sorted ascending by name.
func LoadMigrations(fsys fs.FS) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory: %w", err)
	}

	byName := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationFileRx.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration file name: '%s'", entry.Name())
		}

		id, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid migration ID in '%s': %w", entry.Name(), err)
		}

		name := fmt.Sprintf("%s-%s", m[1], m[2])
		contents, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed reading migration file '%s': %w", entry.Name(), err)
		}

		mig, ok := byName[name]
		if !ok {
			mig = &Migration{ID: id, Name: name}
			byName[name] = mig
		}
		switch m[3] {
		case "up":
			mig.Up = string(contents)
		case "down":
			mig.Down = string(contents)
		}
	}

	migrations := make([]*Migration, 0, len(byName))
	for _, mig := range byName {
		if strings.TrimSpace(mig.Up) == "" {
			return nil, fmt.Errorf("migration '%s' has no up file", mig.Name)
		}
		migrations = append(migrations, mig)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})

	for i, mig := range migrations {
		if i > 0 && migrations[i-1].ID == mig.ID {
			return nil, fmt.Errorf("duplicate migration ID %d", mig.ID)
		}
	}

	return migrations, nil
}

// RunMigrations executes a migration plan in the given direction, up to and
// including the target migration name, or all of them if target is "all".
//
// Each migration runs in its own transaction, and its history record is
// written in that same transaction. The run stops at the first failure: prior
// migrations remain recorded as applied, and the failed one is not recorded.
// Running the same plan twice with no new migrations is a no-op.
func RunMigrations(
	d types.Querier, migrations []*Migration, direction Direction,
	target string, logger *slog.Logger,
) error {
	ctx := d.NewContext()
	if err := ensureHistoryTable(d); err != nil {
		return err
	}

	applied, err := appliedNames(d)
	if err != nil {
		return err
	}

	plan, err := planMigrations(migrations, applied, direction, target)
	if err != nil {
		return err
	}

	mlogger := logger.With("component", "migrator")
	for _, mig := range plan {
		tx, err := d.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed starting transaction for migration '%s': %w", mig.Name, err)
		}

		var stmt, record string
		var recordArgs []any
		if direction == MigrationUp {
			stmt = mig.Up
			record = `INSERT INTO _migrations (name, applied_at) VALUES (?, ?)`
			recordArgs = []any{mig.Name, d.TimeNow().UTC()}
		} else {
			if strings.TrimSpace(mig.Down) == "" {
				_ = tx.Rollback()
				return fmt.Errorf("migration '%s' has no down file", mig.Name)
			}
			stmt = mig.Down
			record = `DELETE FROM _migrations WHERE name = ?`
			recordArgs = []any{mig.Name}
		}

		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration '%s' failed: %w", mig.Name, err)
		}
		if _, err = tx.ExecContext(ctx, record, recordArgs...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed recording migration '%s': %w", mig.Name, err)
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed committing migration '%s': %w", mig.Name, err)
		}

		mlogger.Debug("ran migration", "name", mig.Name, "direction", directionName(direction))
	}

	return nil
}

// AppliedMigrations returns the migration history in chronological order.
func AppliedMigrations(d types.Querier) ([]Record, error) {
	if err := ensureHistoryTable(d); err != nil {
		return nil, err
	}

	rows, err := d.QueryContext(d.NewContext(),
		`SELECT name, applied_at FROM _migrations ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed querying migration history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err = rows.Scan(&rec.Name, &rec.AppliedAt); err != nil {
			return nil, types.ScanError{ModelName: "migration", Err: err}
		}
		records = append(records, rec)
	}

	//nolint:wrapcheck // This is fine.
	return records, rows.Err()
}

// planMigrations selects the subset of migrations to run and orders it:
// ascending for up, descending for down. For the up direction only migrations
// whose name is not already recorded are considered, so a recorded migration
// is never re-applied.
func planMigrations(
	migrations []*Migration, applied map[string]struct{},
	direction Direction, target string,
) ([]*Migration, error) {
	if target == "" {
		target = TargetAll
	}

	if target != TargetAll {
		found := false
		for _, mig := range migrations {
			if mig.Name == target {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown target migration '%s'", target)
		}
	}

	var plan []*Migration
	if direction == MigrationUp {
		for _, mig := range migrations {
			if target != TargetAll && mig.Name > target {
				break
			}
			if _, ok := applied[mig.Name]; ok {
				continue
			}
			plan = append(plan, mig)
		}
	} else {
		for i := len(migrations) - 1; i >= 0; i-- {
			mig := migrations[i]
			if target != TargetAll && mig.Name < target {
				break
			}
			if _, ok := applied[mig.Name]; !ok {
				continue
			}
			plan = append(plan, mig)
		}
	}

	return plan, nil
}

func appliedNames(d types.Querier) (map[string]struct{}, error) {
	records, err := AppliedMigrations(d)
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(records))
	for _, rec := range records {
		names[rec.Name] = struct{}{}
	}

	return names, nil
}

func ensureHistoryTable(d types.Querier) error {
	_, err := d.ExecContext(d.NewContext(), `CREATE TABLE IF NOT EXISTS _migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return fmt.Errorf("lost database connection: %w", err)
		}
		return fmt.Errorf("failed creating migration history table: %w", err)
	}

	return nil
}

func directionName(d Direction) string {
	if d == MigrationDown {
		return "down"
	}
	return "up"
}
