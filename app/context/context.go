package context

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"github.com/dataview-sh/dataview/app/config"
	"github.com/dataview-sh/dataview/db"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx     context.Context // global context
	FS      vfs.FileSystem  // filesystem
	Env     Environment     // process environment
	Logger  *slog.Logger    // global logger
	TimeNow func() time.Time
	Config  *config.Config
	Stores  Stores

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Metadata
	Version *VersionInfo
}

// Stores holds the open handles to the logical datastores.
type Stores struct {
	Cache   *db.DB
	Queue   *db.DB
	Metrics *db.DB
	Catalog *db.DB
}

// All returns the open stores in a stable order.
func (s Stores) All() []*db.DB {
	return []*db.DB{s.Cache, s.Queue, s.Metrics, s.Catalog}
}

// OpenStores opens all four logical datastores at the locations set in the
// configuration.
func (c *Context) OpenStores() error {
	var err error
	if c.Stores.Cache, err = db.Open(c.Ctx, db.StoreCache, c.Config.CacheDatabaseURL, c.TimeNow); err != nil {
		return err
	}
	if c.Stores.Queue, err = db.Open(c.Ctx, db.StoreQueue, c.Config.QueueDatabaseURL, c.TimeNow); err != nil {
		return err
	}
	if c.Stores.Metrics, err = db.Open(c.Ctx, db.StoreMetrics, c.Config.MetricsDatabaseURL, c.TimeNow); err != nil {
		return err
	}
	if c.Stores.Catalog, err = db.Open(c.Ctx, db.StoreCatalog, c.Config.CatalogDatabaseURL, c.TimeNow); err != nil {
		return err
	}

	return nil
}
