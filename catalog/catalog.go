// Package catalog stores ingested datasets: their configs, splits, column
// schemas and parquet export records, plus one SQL table per split holding
// the actual rows.
package catalog

import (
	"context"
	"crypto/sha1" //nolint:gosec // Not used for security, only for short unique names.
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dataview-sh/dataview/db/types"
)

// ColumnType is the declared type of one dataset column.
type ColumnType string

// The column types a split schema can declare.
const (
	ColumnString     ColumnType = "string"
	ColumnInt        ColumnType = "int"
	ColumnFloat      ColumnType = "float"
	ColumnBool       ColumnType = "bool"
	ColumnClassLabel ColumnType = "class_label"
)

// Dataset is a named collection of data, divided into configs and splits.
// Gated datasets require an authorized token to access.
type Dataset struct {
	ID        uint64
	Name      string
	Gated     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config is a named variant of a dataset.
type Config struct {
	ID        uint64
	DatasetID uint64
	Name      string
}

// Split is a named partition of a config. TableName is the SQL table in the
// catalog store holding its rows. Partial marks splits truncated at ingest.
type Split struct {
	ID               uint64
	ConfigID         uint64
	Name             string
	TableName        string
	NumRows          int64
	NumBytesOriginal int64
	NumBytesMemory   int64
	Partial          bool
}

// Column is one column of a split schema. ClassNames is set only for
// class_label columns.
type Column struct {
	ID         uint64
	SplitID    uint64
	Ord        int
	Name       string
	Type       ColumnType
	ClassNames []string
}

// ParquetFile is one file of a split's parquet export.
type ParquetFile struct {
	ID       uint64
	SplitID  uint64
	Filename string
	Size     int64
}

// Save stores the dataset record.
func (ds *Dataset) Save(ctx context.Context, d types.Querier, update bool) error {
	timeNow := d.TimeNow().UTC()
	if update {
		if ds.ID == 0 {
			return types.InvalidInputError{Msg: "dataset ID must be set for an update"}
		}
		res, err := d.ExecContext(ctx,
			`UPDATE datasets SET updated_at = ?, gated = ? WHERE id = ?`,
			timeNow, ds.Gated, ds.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed getting affected rows: %w", err)
		}
		if n == 0 {
			return types.NoResultError{ModelName: "dataset", ID: fmt.Sprintf("ID %d", ds.ID)}
		}
		ds.UpdatedAt = timeNow
		return nil
	}

	res, err := d.ExecContext(ctx,
		`INSERT INTO datasets (id, name, gated, created_at, updated_at)
		 VALUES (NULL, ?, ?, ?, ?)`,
		ds.Name, ds.Gated, timeNow, timeNow)
	if err != nil {
		return types.Err("dataset", fmt.Sprintf("name '%s'", ds.Name), err)
	}

	ds.ID, err = lastInsertID(res)
	if err != nil {
		return err
	}
	ds.CreatedAt = timeNow
	ds.UpdatedAt = timeNow

	return nil
}

// Load the dataset data from the database. Either the dataset ID or Name must
// be set for the lookup.
func (ds *Dataset) Load(ctx context.Context, d types.Querier) error {
	if ds.ID == 0 && ds.Name == "" {
		return types.InvalidInputError{Msg: "either dataset ID or Name must be set"}
	}

	var filter *types.Filter
	var filterStr string
	if ds.ID != 0 {
		filter = &types.Filter{Where: "id = ?", Args: []any{ds.ID}}
		filterStr = fmt.Sprintf("ID %d", ds.ID)
	} else {
		filter = &types.Filter{Where: "name = ?", Args: []any{ds.Name}}
		filterStr = fmt.Sprintf("name '%s'", ds.Name)
	}

	datasets, err := Datasets(ctx, d, filter)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		return types.NoResultError{ModelName: "dataset", ID: filterStr}
	}
	*ds = *datasets[0]

	return nil
}

// Datasets returns datasets matching the optional filter, ordered by name.
func Datasets(ctx context.Context, d types.Querier, filter *types.Filter) ([]*Dataset, error) {
	where := "1=1"
	var args []any
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query := fmt.Sprintf(`SELECT id, name, gated, created_at, updated_at
		FROM datasets WHERE %s ORDER BY name`, where)
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed querying datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*Dataset
	for rows.Next() {
		var ds Dataset
		err = rows.Scan(&ds.ID, &ds.Name, &ds.Gated, &ds.CreatedAt, &ds.UpdatedAt)
		if err != nil {
			return nil, types.ScanError{ModelName: "dataset", Err: err}
		}
		datasets = append(datasets, &ds)
	}

	//nolint:wrapcheck // This is fine.
	return datasets, rows.Err()
}

// Configs returns the dataset's configs, ordered by name.
func (ds *Dataset) Configs(ctx context.Context, d types.Querier) ([]*Config, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT id, dataset_id, name FROM configs WHERE dataset_id = ? ORDER BY name`, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("failed querying configs: %w", err)
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		var cfg Config
		if err = rows.Scan(&cfg.ID, &cfg.DatasetID, &cfg.Name); err != nil {
			return nil, types.ScanError{ModelName: "config", Err: err}
		}
		configs = append(configs, &cfg)
	}

	//nolint:wrapcheck // This is fine.
	return configs, rows.Err()
}

// Splits returns the config's splits, ordered by name.
func (c *Config) Splits(ctx context.Context, d types.Querier) ([]*Split, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT id, config_id, name, table_name, num_rows, num_bytes_original,
			num_bytes_memory, partial
		 FROM splits WHERE config_id = ? ORDER BY name`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed querying splits: %w", err)
	}
	defer rows.Close()

	var splits []*Split
	for rows.Next() {
		var s Split
		err = rows.Scan(&s.ID, &s.ConfigID, &s.Name, &s.TableName, &s.NumRows,
			&s.NumBytesOriginal, &s.NumBytesMemory, &s.Partial)
		if err != nil {
			return nil, types.ScanError{ModelName: "split", Err: err}
		}
		splits = append(splits, &s)
	}

	//nolint:wrapcheck // This is fine.
	return splits, rows.Err()
}

// LoadSplit finds one split by the dataset, config and split names.
func LoadSplit(ctx context.Context, d types.Querier, dataset, config, split string) (*Split, error) {
	var s Split
	err := d.QueryRowContext(ctx,
		`SELECT s.id, s.config_id, s.name, s.table_name, s.num_rows,
			s.num_bytes_original, s.num_bytes_memory, s.partial
		 FROM splits s
		 JOIN configs c ON c.id = s.config_id
		 JOIN datasets ds ON ds.id = c.dataset_id
		 WHERE ds.name = ? AND c.name = ? AND s.name = ?`,
		dataset, config, split).
		Scan(&s.ID, &s.ConfigID, &s.Name, &s.TableName, &s.NumRows,
			&s.NumBytesOriginal, &s.NumBytesMemory, &s.Partial)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NoResultError{
			ModelName: "split",
			ID:        fmt.Sprintf("name '%s/%s/%s'", dataset, config, split),
		}
	}
	if err != nil {
		return nil, types.ScanError{ModelName: "split", Err: err}
	}

	return &s, nil
}

// Columns returns the split's column schema in declaration order.
func (s *Split) Columns(ctx context.Context, d types.Querier) ([]*Column, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT id, split_id, ord, name, type, class_names
		 FROM columns WHERE split_id = ? ORDER BY ord`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed querying columns: %w", err)
	}
	defer rows.Close()

	var columns []*Column
	for rows.Next() {
		var (
			col        Column
			classNames []byte
		)
		if err = rows.Scan(&col.ID, &col.SplitID, &col.Ord, &col.Name, &col.Type, &classNames); err != nil {
			return nil, types.ScanError{ModelName: "column", Err: err}
		}
		if len(classNames) > 0 {
			if err = json.Unmarshal(classNames, &col.ClassNames); err != nil {
				return nil, types.ScanError{ModelName: "column", Err: err}
			}
		}
		columns = append(columns, &col)
	}

	//nolint:wrapcheck // This is fine.
	return columns, rows.Err()
}

// ParquetFiles returns the split's parquet export records.
func (s *Split) ParquetFiles(ctx context.Context, d types.Querier) ([]*ParquetFile, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT id, split_id, filename, size
		 FROM parquet_files WHERE split_id = ? ORDER BY filename`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed querying parquet files: %w", err)
	}
	defer rows.Close()

	var files []*ParquetFile
	for rows.Next() {
		var pf ParquetFile
		if err = rows.Scan(&pf.ID, &pf.SplitID, &pf.Filename, &pf.Size); err != nil {
			return nil, types.ScanError{ModelName: "parquet file", Err: err}
		}
		files = append(files, &pf)
	}

	//nolint:wrapcheck // This is fine.
	return files, rows.Err()
}

func lastInsertID(result sql.Result) (uint64, error) {
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	if id < 0 {
		return 0, fmt.Errorf("invalid negative ID from database: %d", id)
	}

	return uint64(id), nil
}

var nonWordRx = regexp.MustCompile(`[^\w-]`)

// splitTableName builds a unique, filesystem- and SQL-safe table name for a
// split's rows. The hash suffix disambiguates names that sanitize to the same
// string.
func splitTableName(dataset, config, split string) string {
	payload := fmt.Sprintf("%s/%s/%s", dataset, config, split)
	sum := sha1.Sum([]byte(payload)) //nolint:gosec // Name uniqueness only.
	sanitized := nonWordRx.ReplaceAllString(strings.Join([]string{dataset, config, split}, "-"), "-")

	return fmt.Sprintf("rows_%s_%s", sanitized, hex.EncodeToString(sum[:])[:8])
}
