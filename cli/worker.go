package cli

import (
	"os/signal"
	"syscall"
	"time"

	actx "github.com/dataview-sh/dataview/app/context"
	"github.com/dataview-sh/dataview/worker"
)

// Worker processes queued jobs and fills the cache store.
type Worker struct {
	PollInterval time.Duration `default:"2s" help:"How long to wait for new jobs when the queue is empty."`
	Once         bool          `help:"Drain the queue and exit instead of polling for new jobs."`
	Backfill     bool          `default:"true" negatable:"" help:"Enqueue missing jobs for all cataloged datasets before processing."`
}

// Run the worker command.
func (c *Worker) Run(appCtx *actx.Context) error {
	if err := openStores(appCtx); err != nil {
		return err
	}

	w := worker.New(
		appCtx.Stores.Cache, appCtx.Stores.Queue, appCtx.Stores.Metrics, appCtx.Stores.Catalog,
		newSigner(appCtx), appCtx.Logger.With("component", "worker"),
	)

	ctx, stop := signal.NotifyContext(appCtx.Ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Backfill {
		enqueued, err := w.Backfill(ctx)
		if err != nil {
			return err
		}
		appCtx.Logger.Info("backfill finished", "enqueued_jobs", enqueued)
	}

	interval := c.PollInterval
	if c.Once {
		interval = 0
	}

	return w.Run(ctx, interval)
}
