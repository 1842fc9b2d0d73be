package cli

import (
	"time"

	actx "github.com/dataview-sh/dataview/app/context"
	"github.com/dataview-sh/dataview/db/migrator"
)

// Migrate manages datastore schema migrations.
type Migrate struct {
	Up     MigrateUp     `kong:"cmd,help='Apply pending migrations.'"`
	Down   MigrateDown   `kong:"cmd,help='Roll back applied migrations.'"`
	Status MigrateStatus `kong:"cmd,help='Show the migration status of each store.'"`
}

// MigrateUp applies pending migrations.
type MigrateUp struct {
	Store  string `default:"all" enum:"all,cache,queue,metrics,catalog" help:"The store to migrate. Valid values: ${enum}"`
	Target string `default:"all" help:"The migration name to stop after, or 'all'."`
}

// Run the migrate up command.
func (c *MigrateUp) Run(appCtx *actx.Context) error {
	return runMigrations(appCtx, c.Store, migrator.MigrationUp, c.Target)
}

// MigrateDown rolls back applied migrations.
type MigrateDown struct {
	Store  string `default:"all" enum:"all,cache,queue,metrics,catalog" help:"The store to roll back. Valid values: ${enum}"`
	Target string `default:"all" help:"The migration name to stop after, or 'all'."`
}

// Run the migrate down command.
func (c *MigrateDown) Run(appCtx *actx.Context) error {
	return runMigrations(appCtx, c.Store, migrator.MigrationDown, c.Target)
}

func runMigrations(appCtx *actx.Context, store string, direction migrator.Direction, target string) error {
	if err := appCtx.OpenStores(); err != nil {
		return err
	}

	stores, err := storesFor(appCtx, store)
	if err != nil {
		return err
	}
	for _, d := range stores {
		if err := d.Migrate(direction, target, appCtx.Logger); err != nil {
			return err
		}
	}

	return nil
}

// MigrateStatus shows the migration status of each store.
type MigrateStatus struct {
	Store string `default:"all" enum:"all,cache,queue,metrics,catalog" help:"The store to inspect. Valid values: ${enum}"`
}

// Run the migrate status command.
func (c *MigrateStatus) Run(appCtx *actx.Context) error {
	if err := appCtx.OpenStores(); err != nil {
		return err
	}

	stores, err := storesFor(appCtx, c.Store)
	if err != nil {
		return err
	}

	data := [][]string{}
	for _, d := range stores {
		applied, err := migrator.AppliedMigrations(d)
		if err != nil {
			return err
		}
		appliedAt := make(map[string]time.Time, len(applied))
		for _, rec := range applied {
			appliedAt[rec.Name] = rec.AppliedAt
		}

		for _, m := range d.Migrations() {
			status, at := "pending", ""
			if t, ok := appliedAt[m.Name]; ok {
				status, at = "applied", t.Format(time.RFC3339)
			}
			data = append(data, []string{string(d.Store()), m.Name, status, at})
		}
	}

	return renderTable([]string{"STORE", "MIGRATION", "STATUS", "APPLIED AT"}, data, appCtx.Stdout)
}
