// Package worker processes queued jobs: it computes responses for every cache
// kind and stores them as cache entries, which the HTTP API then serves.
// Dataset-level kinds aggregate the cached config-level responses, recording
// which configs are still pending or have failed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dataview-sh/dataview/assets"
	"github.com/dataview-sh/dataview/catalog"
	"github.com/dataview-sh/dataview/db/types"
	"github.com/dataview-sh/dataview/store/cache"
	"github.com/dataview-sh/dataview/store/metrics"
	"github.com/dataview-sh/dataview/store/queue"
)

// Job priorities: upstream kinds run before the kinds that read their cached
// output.
const (
	priorityConfigNames = 20
	priorityConfigLevel = 10
	priorityDatasetAggr = 0
)

// Worker drains the job queue. Each job computes one response and upserts it
// into the cache store, then the metrics store is refreshed.
type Worker struct {
	cacheDB   types.Querier
	queueDB   types.Querier
	metricsDB types.Querier
	catalogDB types.Querier
	signer    *assets.Signer
	logger    *slog.Logger
}

// New creates a Worker over the four stores.
func New(
	cacheDB, queueDB, metricsDB, catalogDB types.Querier,
	signer *assets.Signer, logger *slog.Logger,
) *Worker {
	return &Worker{
		cacheDB:   cacheDB,
		queueDB:   queueDB,
		metricsDB: metricsDB,
		catalogDB: catalogDB,
		signer:    signer,
		logger:    logger,
	}
}

// Run processes jobs until the context is canceled. When the queue is empty it
// sleeps for pollInterval before checking again; with a zero interval it
// returns once the queue is drained.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) error {
	for {
		err := w.ProcessNext(ctx)
		var noResult types.NoResultError
		switch {
		case errors.As(err, &noResult):
			if pollInterval <= 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
		case err != nil:
			return err
		}
	}
}

// ProcessNext claims the next waiting job, runs it, and stores the result as a
// cache entry. It returns a NoResultError when the queue is empty.
func (w *Worker) ProcessNext(ctx context.Context) error {
	job, err := queue.StartNext(ctx, w.queueDB)
	if err != nil {
		return err
	}
	w.logger.Info("processing job", "id", job.ID, "type", job.Type,
		"dataset", job.Dataset, "config", job.Config, "split", job.Split)

	entry := &cache.Entry{
		Kind:    job.Type,
		Dataset: job.Dataset,
		Config:  job.Config,
		Split:   job.Split,
	}
	jobStatus := queue.StatusSuccess

	result, err := w.run(ctx, job)
	if err != nil {
		jobStatus = queue.StatusError
		status, code := errorStatusCode(err)
		entry.HTTPStatus = status
		entry.ErrorCode = code
		entry.Content, _ = json.Marshal(map[string]string{"error": err.Error()})
		w.logger.Warn("job failed", "id", job.ID, "type", job.Type,
			"dataset", job.Dataset, "error_code", code, "error", err)
	} else {
		entry.HTTPStatus = http.StatusOK
		entry.Progress = result.progress
		entry.Partial = result.partial
		entry.Content, err = json.Marshal(result.content)
		if err != nil {
			return fmt.Errorf("failed encoding content of job '%s': %w", job.ID, err)
		}
	}

	if err := entry.Upsert(ctx, w.cacheDB); err != nil {
		return err
	}
	if err := job.Finish(ctx, w.queueDB, jobStatus); err != nil {
		return err
	}

	return metrics.Collect(ctx, w.metricsDB, w.cacheDB, w.queueDB)
}

// result is what a successful runner produces: the response content and its
// completeness markers.
type result struct {
	content  any
	progress float64
	partial  bool
}

func (w *Worker) run(ctx context.Context, job *queue.Job) (*result, error) {
	switch job.Type {
	case KindDatasetConfigNames:
		return w.runConfigNames(ctx, job)
	case KindConfigSplitNames:
		return w.runSplitNames(ctx, job)
	case KindConfigParquet:
		return w.runConfigParquet(ctx, job)
	case KindConfigSize:
		return w.runConfigSize(ctx, job)
	case KindSplitFirstRows:
		return w.runFirstRows(ctx, job)
	case KindSplitIndex:
		return w.runSplitIndex(ctx, job)
	case KindSplitStatistics:
		return w.runSplitStatistics(ctx, job)
	case KindDatasetSplitNames:
		return w.runDatasetSplitNames(ctx, job)
	case KindDatasetParquet:
		return w.runDatasetParquet(ctx, job)
	case KindDatasetSize:
		return w.runDatasetSize(ctx, job)
	}

	return nil, &runError{
		status: http.StatusNotImplemented,
		code:   "JobRunnerNotFound",
		msg:    fmt.Sprintf("no runner for job type '%s'", job.Type),
	}
}

// Backfill enqueues every job needed to fill the cache for all cataloged
// datasets, skipping kinds that already have a cache entry.
func (w *Worker) Backfill(ctx context.Context) (int, error) {
	datasets, err := catalog.Datasets(ctx, w.catalogDB, nil)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, ds := range datasets {
		n, err := w.BackfillDataset(ctx, ds.Name)
		if err != nil {
			return enqueued, err
		}
		enqueued += n
	}

	return enqueued, nil
}

// BackfillDataset enqueues the missing jobs for one dataset: the config names
// job first, then the config- and split-level jobs, and the dataset-level
// aggregations last.
func (w *Worker) BackfillDataset(ctx context.Context, dataset string) (int, error) {
	ds := catalog.Dataset{Name: dataset}
	if err := ds.Load(ctx, w.catalogDB); err != nil {
		return 0, err
	}

	enqueued := 0
	enqueue := func(kind, config, split string, priority int) error {
		entry := cache.Entry{Kind: kind, Dataset: dataset, Config: config, Split: split}
		err := entry.Load(ctx, w.cacheDB)
		if err == nil {
			return nil
		}
		var noResult types.NoResultError
		if !errors.As(err, &noResult) {
			return err
		}

		job := queue.Job{Type: kind, Dataset: dataset, Config: config, Split: split, Priority: priority}
		if err := job.Enqueue(ctx, w.queueDB); err != nil {
			return err
		}
		enqueued++

		return nil
	}

	if err := enqueue(KindDatasetConfigNames, "", "", priorityConfigNames); err != nil {
		return enqueued, err
	}

	configs, err := ds.Configs(ctx, w.catalogDB)
	if err != nil {
		return enqueued, err
	}
	for _, cfg := range configs {
		for _, kind := range []string{KindConfigSplitNames, KindConfigParquet, KindConfigSize} {
			if err := enqueue(kind, cfg.Name, "", priorityConfigLevel); err != nil {
				return enqueued, err
			}
		}

		splits, err := cfg.Splits(ctx, w.catalogDB)
		if err != nil {
			return enqueued, err
		}
		for _, split := range splits {
			for _, kind := range []string{KindSplitFirstRows, KindSplitIndex, KindSplitStatistics} {
				if err := enqueue(kind, cfg.Name, split.Name, priorityConfigLevel); err != nil {
					return enqueued, err
				}
			}
		}
	}

	for _, kind := range []string{KindDatasetSplitNames, KindDatasetParquet, KindDatasetSize} {
		if err := enqueue(kind, "", "", priorityDatasetAggr); err != nil {
			return enqueued, err
		}
	}

	return enqueued, nil
}

// runError is a runner failure with the HTTP status and machine-readable error
// code to record on the cache entry.
type runError struct {
	status int
	code   string
	msg    string
}

func (e *runError) Error() string {
	return e.msg
}

// errorStatusCode maps a runner error to the HTTP status and error code stored
// on the failed cache entry.
func errorStatusCode(err error) (int, string) {
	var re *runError
	if errors.As(err, &re) {
		return re.status, re.code
	}
	var noResult types.NoResultError
	if errors.As(err, &noResult) {
		return http.StatusNotFound, "NotFoundError"
	}
	var invalid types.InvalidInputError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, "InvalidInputError"
	}

	return http.StatusInternalServerError, "UnexpectedError"
}
