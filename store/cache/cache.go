// Package cache stores computed responses, keyed by the kind of computation
// and the dataset/config/split it was computed for. The HTTP API serves most
// of its endpoints straight from these records.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dataview-sh/dataview/db/types"
)

// Entry is one cached response.
type Entry struct {
	ID         uint64
	Kind       string
	Dataset    string
	Config     string
	Split      string
	HTTPStatus int
	ErrorCode  string
	Content    json.RawMessage
	Progress   float64
	Partial    bool
	UpdatedAt  time.Time
}

// OK reports whether the entry holds a successful response.
func (e *Entry) OK() bool {
	return e.HTTPStatus == http.StatusOK
}

// Upsert stores the entry, replacing any previous response of the same kind
// for the same dataset/config/split.
func (e *Entry) Upsert(ctx context.Context, d types.Querier) error {
	timeNow := d.TimeNow().UTC()
	if e.Content == nil {
		e.Content = json.RawMessage(`{}`)
	}

	stmt := `INSERT INTO cache_entries
		(kind, dataset, config, split, http_status, error_code, content, progress, partial, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, dataset, config, split) DO UPDATE SET
			http_status = excluded.http_status,
			error_code  = excluded.error_code,
			content     = excluded.content,
			progress    = excluded.progress,
			partial     = excluded.partial,
			updated_at  = excluded.updated_at`
	_, err := d.ExecContext(ctx, stmt,
		e.Kind, e.Dataset, e.Config, e.Split, e.HTTPStatus, nullable(e.ErrorCode),
		string(e.Content), e.Progress, e.Partial, timeNow)
	if err != nil {
		return types.Err("cache entry", e.key(), err)
	}
	e.UpdatedAt = timeNow

	return nil
}

// Load reads the entry matching its Kind/Dataset/Config/Split key.
func (e *Entry) Load(ctx context.Context, d types.Querier) error {
	if e.Kind == "" || e.Dataset == "" {
		return types.InvalidInputError{Msg: "both entry kind and dataset must be set"}
	}

	filter := types.NewFilter(
		"kind = ? AND dataset = ? AND config = ? AND split = ?",
		[]any{e.Kind, e.Dataset, e.Config, e.Split})
	entries, err := Entries(ctx, d, filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return types.NoResultError{ModelName: "cache entry", ID: e.key()}
	}
	*e = *entries[0]

	return nil
}

// Entries returns cache entries matching the optional filter, ordered by kind
// and key.
func Entries(ctx context.Context, d types.Querier, filter *types.Filter) ([]*Entry, error) {
	where := "1=1"
	var args []any
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query := fmt.Sprintf(`SELECT id, kind, dataset, config, split, http_status,
			COALESCE(error_code, ''), content, progress, partial, updated_at
		FROM cache_entries
		WHERE %s
		ORDER BY kind, dataset, config, split`, where)
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed querying cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e       Entry
			content string
		)
		err = rows.Scan(&e.ID, &e.Kind, &e.Dataset, &e.Config, &e.Split,
			&e.HTTPStatus, &e.ErrorCode, &content, &e.Progress, &e.Partial, &e.UpdatedAt)
		if err != nil {
			return nil, types.ScanError{ModelName: "cache entry", Err: err}
		}
		e.Content = json.RawMessage(content)
		entries = append(entries, &e)
	}

	//nolint:wrapcheck // This is fine.
	return entries, rows.Err()
}

// HasSuccess reports whether any successful response of the given kind exists
// for the dataset.
func HasSuccess(ctx context.Context, d types.Querier, kind, dataset string) (bool, error) {
	var count int
	err := d.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries
		 WHERE kind = ? AND dataset = ? AND http_status = ?`,
		kind, dataset, http.StatusOK).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed counting cache entries: %w", err)
	}

	return count > 0, nil
}

// Count is the number of cache entries of one kind with one HTTP status.
type Count struct {
	Kind       string
	HTTPStatus int
	Count      int
}

// CountByKindStatus aggregates cache entries per (kind, http_status). It feeds
// the metrics store.
func CountByKindStatus(ctx context.Context, d types.Querier) ([]Count, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT kind, http_status, COUNT(*) FROM cache_entries
		 GROUP BY kind, http_status ORDER BY kind, http_status`)
	if err != nil {
		return nil, fmt.Errorf("failed counting cache entries: %w", err)
	}
	defer rows.Close()

	var counts []Count
	for rows.Next() {
		var c Count
		if err = rows.Scan(&c.Kind, &c.HTTPStatus, &c.Count); err != nil {
			return nil, types.ScanError{ModelName: "cache count", Err: err}
		}
		counts = append(counts, c)
	}

	//nolint:wrapcheck // This is fine.
	return counts, rows.Err()
}

func (e *Entry) key() string {
	return fmt.Sprintf("kind '%s' for '%s/%s/%s'", e.Kind, e.Dataset, e.Config, e.Split)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
