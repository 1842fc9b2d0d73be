// Package metrics stores count snapshots of the cache and queue stores, so
// operational state can be inspected without scanning the primary stores.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/dataview-sh/dataview/db/types"
	"github.com/dataview-sh/dataview/store/cache"
	"github.com/dataview-sh/dataview/store/queue"
)

// CacheCount is a snapshot of the number of cache entries per kind and HTTP
// status.
type CacheCount struct {
	Kind        string
	HTTPStatus  int
	Count       int
	CollectedAt time.Time
}

// QueueCount is a snapshot of the number of jobs per type and status.
type QueueCount struct {
	Type        string
	Status      string
	Count       int
	CollectedAt time.Time
}

// Collect snapshots the current cache and queue counts into the metrics
// store. Counts that dropped to zero since the last collection are removed.
func Collect(ctx context.Context, metricsDB, cacheDB, queueDB types.Querier) error {
	timeNow := metricsDB.TimeNow().UTC()

	cacheCounts, err := cache.CountByKindStatus(ctx, cacheDB)
	if err != nil {
		return err
	}
	queueCounts, err := queue.CountByTypeStatus(ctx, queueDB)
	if err != nil {
		return err
	}

	tx, err := metricsDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting metrics transaction: %w", err)
	}
	//nolint:errcheck // The rollback is a no-op after commit.
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_counts`); err != nil {
		return fmt.Errorf("failed clearing cache counts: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM queue_counts`); err != nil {
		return fmt.Errorf("failed clearing queue counts: %w", err)
	}

	for _, c := range cacheCounts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO cache_counts (kind, http_status, count, collected_at)
			 VALUES (?, ?, ?, ?)`,
			c.Kind, c.HTTPStatus, c.Count, timeNow)
		if err != nil {
			return fmt.Errorf("failed storing cache count: %w", err)
		}
	}
	for _, c := range queueCounts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO queue_counts (type, status, count, collected_at)
			 VALUES (?, ?, ?, ?)`,
			c.Type, c.Status, c.Count, timeNow)
		if err != nil {
			return fmt.Errorf("failed storing queue count: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed committing metrics collection: %w", err)
	}

	return nil
}

// CacheCounts returns the stored cache count snapshots.
func CacheCounts(ctx context.Context, d types.Querier) ([]CacheCount, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT kind, http_status, count, collected_at
		 FROM cache_counts ORDER BY kind, http_status`)
	if err != nil {
		return nil, fmt.Errorf("failed querying cache counts: %w", err)
	}
	defer rows.Close()

	var counts []CacheCount
	for rows.Next() {
		var c CacheCount
		if err = rows.Scan(&c.Kind, &c.HTTPStatus, &c.Count, &c.CollectedAt); err != nil {
			return nil, types.ScanError{ModelName: "cache count", Err: err}
		}
		counts = append(counts, c)
	}

	//nolint:wrapcheck // This is fine.
	return counts, rows.Err()
}

// QueueCounts returns the stored queue count snapshots.
func QueueCounts(ctx context.Context, d types.Querier) ([]QueueCount, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT type, status, count, collected_at
		 FROM queue_counts ORDER BY type, status`)
	if err != nil {
		return nil, fmt.Errorf("failed querying queue counts: %w", err)
	}
	defer rows.Close()

	var counts []QueueCount
	for rows.Next() {
		var c QueueCount
		if err = rows.Scan(&c.Type, &c.Status, &c.Count, &c.CollectedAt); err != nil {
			return nil, types.ScanError{ModelName: "queue count", Err: err}
		}
		counts = append(counts, c)
	}

	//nolint:wrapcheck // This is fine.
	return counts, rows.Err()
}
