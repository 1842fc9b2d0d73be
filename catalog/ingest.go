package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dataview-sh/dataview/db/types"
)

// DatasetFile is the on-disk format accepted by the ingest command: a whole
// dataset with its configs, splits, schemas and rows.
type DatasetFile struct {
	Dataset string       `json:"dataset"`
	Gated   bool         `json:"gated"`
	Configs []ConfigFile `json:"configs"`
}

// ConfigFile is one config of an ingested dataset.
type ConfigFile struct {
	Config string      `json:"config"`
	Splits []SplitFile `json:"splits"`
}

// SplitFile is one split of an ingested config.
type SplitFile struct {
	Split    string           `json:"split"`
	Features []FeatureFile    `json:"features"`
	Rows     []map[string]any `json:"rows"`
}

// FeatureFile declares one column of an ingested split.
type FeatureFile struct {
	Name  string     `json:"name"`
	Type  ColumnType `json:"type"`
	Names []string   `json:"names,omitempty"`
}

// Ingest stores a whole dataset in the catalog: the registry records, one SQL
// table per split holding the rows, and one parquet export record per split.
// Splits larger than maxRows are truncated and marked partial. Re-ingesting an
// existing dataset replaces it.
func Ingest(ctx context.Context, d types.Querier, file *DatasetFile, maxRows int64) (*Dataset, error) {
	if file.Dataset == "" {
		return nil, types.InvalidInputError{Msg: "dataset name must be set"}
	}
	if len(file.Configs) == 0 {
		return nil, types.InvalidInputError{Msg: fmt.Sprintf("dataset '%s' has no configs", file.Dataset)}
	}

	if err := dropDataset(ctx, d, file.Dataset); err != nil {
		return nil, err
	}

	ds := &Dataset{Name: file.Dataset, Gated: file.Gated}
	if err := ds.Save(ctx, d, false); err != nil {
		return nil, err
	}

	for _, cfgFile := range file.Configs {
		cfg, err := createConfig(ctx, d, ds.ID, cfgFile.Config)
		if err != nil {
			return nil, err
		}
		for i := range cfgFile.Splits {
			if err := ingestSplit(ctx, d, file.Dataset, cfgFile.Config, cfg.ID, &cfgFile.Splits[i], maxRows); err != nil {
				return nil, err
			}
		}
	}

	return ds, nil
}

func createConfig(ctx context.Context, d types.Querier, datasetID uint64, name string) (*Config, error) {
	if name == "" {
		name = "default"
	}
	res, err := d.ExecContext(ctx,
		`INSERT INTO configs (id, dataset_id, name) VALUES (NULL, ?, ?)`, datasetID, name)
	if err != nil {
		return nil, types.Err("config", fmt.Sprintf("name '%s'", name), err)
	}
	id, err := lastInsertID(res)
	if err != nil {
		return nil, err
	}

	return &Config{ID: id, DatasetID: datasetID, Name: name}, nil
}

//nolint:cyclop // The ingest sequence is long but linear.
func ingestSplit(
	ctx context.Context, d types.Querier,
	dataset, config string, configID uint64, file *SplitFile, maxRows int64,
) error {
	if file.Split == "" {
		return types.InvalidInputError{Msg: fmt.Sprintf("a split of '%s/%s' has no name", dataset, config)}
	}
	if len(file.Features) == 0 {
		return types.InvalidInputError{
			Msg: fmt.Sprintf("split '%s/%s/%s' declares no features", dataset, config, file.Split),
		}
	}
	for _, feat := range file.Features {
		switch feat.Type {
		case ColumnString, ColumnInt, ColumnFloat, ColumnBool:
		case ColumnClassLabel:
			if len(feat.Names) == 0 {
				return types.InvalidInputError{
					Msg: fmt.Sprintf("class_label column '%s' declares no class names", feat.Name),
				}
			}
		default:
			return types.InvalidInputError{
				Msg: fmt.Sprintf("unknown column type '%s' for column '%s'", feat.Type, feat.Name),
			}
		}
	}

	rows := file.Rows
	partial := false
	if maxRows > 0 && int64(len(rows)) > maxRows {
		rows = rows[:maxRows]
		partial = true
	}

	tableName := splitTableName(dataset, config, file.Split)
	if err := createSplitTable(ctx, d, tableName, file.Features); err != nil {
		return err
	}

	numBytes, err := insertRows(ctx, d, tableName, file.Features, rows)
	if err != nil {
		return err
	}

	res, err := d.ExecContext(ctx,
		`INSERT INTO splits
			(id, config_id, name, table_name, num_rows, num_bytes_original, num_bytes_memory, partial)
		 VALUES (NULL, ?, ?, ?, ?, ?, ?, ?)`,
		configID, file.Split, tableName, len(rows), numBytes, numBytes, partial)
	if err != nil {
		return types.Err("split", fmt.Sprintf("name '%s'", file.Split), err)
	}
	splitID, err := lastInsertID(res)
	if err != nil {
		return err
	}

	for ord, feat := range file.Features {
		var classNames any
		if len(feat.Names) > 0 {
			namesJSON, merr := json.Marshal(feat.Names)
			if merr != nil {
				return fmt.Errorf("failed serializing class names: %w", merr)
			}
			classNames = string(namesJSON)
		}
		_, err = d.ExecContext(ctx,
			`INSERT INTO columns (id, split_id, ord, name, type, class_names)
			 VALUES (NULL, ?, ?, ?, ?, ?)`,
			splitID, ord, feat.Name, feat.Type, classNames)
		if err != nil {
			return types.Err("column", fmt.Sprintf("name '%s'", feat.Name), err)
		}
	}

	// One export file per split; its size approximates the serialized rows.
	_, err = d.ExecContext(ctx,
		`INSERT INTO parquet_files (id, split_id, filename, size) VALUES (NULL, ?, ?, ?)`,
		splitID, fmt.Sprintf("%s/0000.parquet", file.Split), numBytes)
	if err != nil {
		return types.Err("parquet file", fmt.Sprintf("split '%s'", file.Split), err)
	}

	return nil
}

func createSplitTable(ctx context.Context, d types.Querier, tableName string, features []FeatureFile) error {
	defs := make([]string, 0, len(features)+1)
	defs = append(defs, `_row_idx INTEGER PRIMARY KEY`)
	for _, feat := range features {
		defs = append(defs, fmt.Sprintf(`%s %s`, quoteIdent(feat.Name), sqlType(feat.Type)))
	}

	stmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(tableName), strings.Join(defs, ", "))
	if _, err := d.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed creating split table '%s': %w", tableName, err)
	}

	return nil
}

func insertRows(
	ctx context.Context, d types.Querier,
	tableName string, features []FeatureFile, rows []map[string]any,
) (int64, error) {
	names := make([]string, 0, len(features)+1)
	placeholders := make([]string, 0, len(features)+1)
	names = append(names, "_row_idx")
	placeholders = append(placeholders, "?")
	for _, feat := range features {
		names = append(names, quoteIdent(feat.Name))
		placeholders = append(placeholders, "?")
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(tableName), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	var numBytes int64
	for i, row := range rows {
		args := make([]any, 0, len(features)+1)
		args = append(args, i)
		for _, feat := range features {
			val, err := cellValue(feat, row[feat.Name])
			if err != nil {
				return 0, fmt.Errorf("row %d: %w", i, err)
			}
			args = append(args, val)
		}
		if _, err := d.ExecContext(ctx, stmt, args...); err != nil {
			return 0, fmt.Errorf("failed inserting row %d into '%s': %w", i, tableName, err)
		}

		rowJSON, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("failed serializing row %d: %w", i, err)
		}
		numBytes += int64(len(rowJSON))
	}

	return numBytes, nil
}

// cellValue converts an ingested JSON value to its SQL representation,
// validating it against the declared column type. JSON numbers arrive as
// float64.
func cellValue(feat FeatureFile, val any) (any, error) {
	if val == nil {
		return nil, nil
	}

	switch feat.Type {
	case ColumnString:
		s, ok := val.(string)
		if !ok {
			return nil, typeMismatch(feat, val)
		}
		return s, nil
	case ColumnInt:
		f, ok := val.(float64)
		if !ok || f != float64(int64(f)) {
			return nil, typeMismatch(feat, val)
		}
		return int64(f), nil
	case ColumnFloat:
		f, ok := val.(float64)
		if !ok {
			return nil, typeMismatch(feat, val)
		}
		return f, nil
	case ColumnBool:
		b, ok := val.(bool)
		if !ok {
			return nil, typeMismatch(feat, val)
		}
		return b, nil
	case ColumnClassLabel:
		f, ok := val.(float64)
		if !ok || f != float64(int64(f)) {
			return nil, typeMismatch(feat, val)
		}
		id := int64(f)
		if id < -1 || id >= int64(len(feat.Names)) {
			return nil, types.InvalidInputError{
				Msg: fmt.Sprintf("class id %d out of range for column '%s'", id, feat.Name),
			}
		}
		return id, nil
	}

	return nil, types.InvalidInputError{Msg: fmt.Sprintf("unknown column type '%s'", feat.Type)}
}

func typeMismatch(feat FeatureFile, val any) error {
	return types.InvalidInputError{
		Msg: fmt.Sprintf("value %v doesn't match type '%s' of column '%s'", val, feat.Type, feat.Name),
	}
}

func sqlType(ct ColumnType) string {
	switch ct {
	case ColumnInt, ColumnBool, ColumnClassLabel:
		return "INTEGER"
	case ColumnFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// dropDataset removes a previously ingested dataset, including its split
// tables.
func dropDataset(ctx context.Context, d types.Querier, name string) error {
	ds := &Dataset{Name: name}
	err := ds.Load(ctx, d)
	if err != nil {
		var noResult types.NoResultError
		if errors.As(err, &noResult) {
			return nil
		}
		return err
	}

	configs, err := ds.Configs(ctx, d)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		splits, err := cfg.Splits(ctx, d)
		if err != nil {
			return err
		}
		for _, s := range splits {
			stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(s.TableName))
			if _, err = d.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed dropping split table '%s': %w", s.TableName, err)
			}
		}
	}

	// The registry rows cascade from the dataset record.
	if _, err = d.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, ds.ID); err != nil {
		return fmt.Errorf("failed deleting dataset '%s': %w", name, err)
	}

	return nil
}
