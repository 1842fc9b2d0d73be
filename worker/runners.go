package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dataview-sh/dataview/catalog"
	"github.com/dataview-sh/dataview/db/types"
	"github.com/dataview-sh/dataview/store/cache"
	"github.com/dataview-sh/dataview/store/queue"
)

func (w *Worker) runConfigNames(ctx context.Context, job *queue.Job) (*result, error) {
	ds, err := w.loadDataset(ctx, job.Dataset)
	if err != nil {
		return nil, err
	}

	configs, err := ds.Configs(ctx, w.catalogDB)
	if err != nil {
		return nil, err
	}

	items := make([]ConfigItem, len(configs))
	for i, cfg := range configs {
		items[i] = ConfigItem{Dataset: job.Dataset, Config: cfg.Name}
	}

	return &result{content: ConfigNamesResponse{ConfigNames: items}, progress: 1}, nil
}

func (w *Worker) runSplitNames(ctx context.Context, job *queue.Job) (*result, error) {
	cfg, err := w.loadConfig(ctx, job.Dataset, job.Config)
	if err != nil {
		return nil, err
	}

	splits, err := cfg.Splits(ctx, w.catalogDB)
	if err != nil {
		return nil, err
	}

	items := make([]SplitItem, len(splits))
	for i, split := range splits {
		items[i] = SplitItem{Dataset: job.Dataset, Config: job.Config, Split: split.Name}
	}

	return &result{content: SplitNamesResponse{Splits: items}, progress: 1}, nil
}

func (w *Worker) runConfigParquet(ctx context.Context, job *queue.Job) (*result, error) {
	cfg, err := w.loadConfig(ctx, job.Dataset, job.Config)
	if err != nil {
		return nil, err
	}

	splits, err := cfg.Splits(ctx, w.catalogDB)
	if err != nil {
		return nil, err
	}

	files := []ParquetFileItem{}
	partial := false
	for _, split := range splits {
		partial = partial || split.Partial
		pfs, err := split.ParquetFiles(ctx, w.catalogDB)
		if err != nil {
			return nil, err
		}
		for _, pf := range pfs {
			files = append(files, ParquetFileItem{
				Dataset:  job.Dataset,
				Config:   job.Config,
				Split:    split.Name,
				URL:      w.signer.SignURL(fmt.Sprintf("%s/%s/%s", job.Dataset, job.Config, pf.Filename)),
				Filename: pf.Filename,
				Size:     pf.Size,
			})
		}
	}

	return &result{
		content:  ConfigParquetResponse{ParquetFiles: files, Partial: partial},
		progress: 1,
		partial:  partial,
	}, nil
}

func (w *Worker) runConfigSize(ctx context.Context, job *queue.Job) (*result, error) {
	cfg, err := w.loadConfig(ctx, job.Dataset, job.Config)
	if err != nil {
		return nil, err
	}

	splits, err := cfg.Splits(ctx, w.catalogDB)
	if err != nil {
		return nil, err
	}

	configSize := ConfigSize{Dataset: job.Dataset, Config: job.Config}
	splitSizes := []SplitSize{}
	partial := false
	for _, split := range splits {
		partial = partial || split.Partial

		columns, err := split.Columns(ctx, w.catalogDB)
		if err != nil {
			return nil, err
		}
		parquetBytes, err := splitParquetBytes(ctx, w.catalogDB, split)
		if err != nil {
			return nil, err
		}

		ss := SplitSize{
			Dataset:              job.Dataset,
			Config:               job.Config,
			Split:                split.Name,
			NumBytesParquetFiles: parquetBytes,
			NumBytesMemory:       split.NumBytesMemory,
			NumRows:              split.NumRows,
			NumColumns:           int64(len(columns)),
		}
		splitSizes = append(splitSizes, ss)

		configSize.NumBytesOriginalFiles += split.NumBytesOriginal
		configSize.NumBytesParquetFiles += parquetBytes
		configSize.NumBytesMemory += split.NumBytesMemory
		configSize.NumRows += split.NumRows
		if ss.NumColumns > configSize.NumColumns {
			configSize.NumColumns = ss.NumColumns
		}
	}

	return &result{
		content:  ConfigSizeResponse{Size: ConfigSizeContent{Config: configSize, Splits: splitSizes}, Partial: partial},
		progress: 1,
		partial:  partial,
	}, nil
}

func (w *Worker) runFirstRows(ctx context.Context, job *queue.Job) (*result, error) {
	split, columns, err := w.loadSplit(ctx, job.Dataset, job.Config, job.Split)
	if err != nil {
		return nil, err
	}

	page, err := split.Page(ctx, w.catalogDB, columns, 0, catalog.RowsPerPage)
	if err != nil {
		return nil, err
	}

	rows := make([]RowItem, len(page.Rows))
	for i, row := range page.Rows {
		rows[i] = RowItem{RowIdx: row.Idx, Row: row.Cells, TruncatedCells: []string{}}
	}

	return &result{
		content: FirstRowsResponse{
			Dataset:  job.Dataset,
			Config:   job.Config,
			Split:    job.Split,
			Features: catalog.Features(columns),
			Rows:     rows,
		},
		progress: 1,
		partial:  split.Partial,
	}, nil
}

func (w *Worker) runSplitIndex(ctx context.Context, job *queue.Job) (*result, error) {
	split, columns, err := w.loadSplit(ctx, job.Dataset, job.Config, job.Split)
	if err != nil {
		return nil, err
	}

	searchable := false
	for _, col := range columns {
		if col.Type == catalog.ColumnString {
			searchable = true
			break
		}
	}

	return &result{
		content: SplitIndexResponse{
			Searchable: searchable,
			Filterable: true,
			NumRows:    split.NumRows,
		},
		progress: 1,
		partial:  split.Partial,
	}, nil
}

func (w *Worker) runSplitStatistics(ctx context.Context, job *queue.Job) (*result, error) {
	split, columns, err := w.loadSplit(ctx, job.Dataset, job.Config, job.Split)
	if err != nil {
		return nil, err
	}

	stats, err := split.ComputeStatistics(ctx, w.catalogDB, columns)
	if err != nil {
		return nil, err
	}

	return &result{
		content: StatisticsResponse{
			NumExamples: split.NumRows,
			Statistics:  stats,
			Partial:     split.Partial,
		},
		progress: 1,
		partial:  split.Partial,
	}, nil
}

func (w *Worker) runDatasetSplitNames(ctx context.Context, job *queue.Job) (*result, error) {
	configs, err := w.cachedConfigNames(ctx, job.Dataset)
	if err != nil {
		return nil, err
	}

	splits := []SplitItem{}
	pending := []ConfigItem{}
	failed := []FailedConfigItem{}
	for _, cfg := range configs {
		entry, ok, err := w.loadEntry(ctx, KindConfigSplitNames, job.Dataset, cfg.Config, "")
		if err != nil {
			return nil, err
		}
		switch {
		case !ok:
			pending = append(pending, cfg)
		case !entry.OK():
			failed = append(failed, FailedConfigItem{
				Dataset: job.Dataset, Config: cfg.Config, Error: entry.Content,
			})
		default:
			var resp SplitNamesResponse
			if err := json.Unmarshal(entry.Content, &resp); err != nil {
				return nil, &runError{
					status: http.StatusInternalServerError,
					code:   "PreviousStepFormatError",
					msg:    fmt.Sprintf("malformed split names for config '%s': %v", cfg.Config, err),
				}
			}
			splits = append(splits, resp.Splits...)
		}
	}

	return &result{
		content:  DatasetSplitNamesResponse{Splits: splits, Pending: pending, Failed: failed},
		progress: aggregateProgress(len(configs), len(pending)),
	}, nil
}

func (w *Worker) runDatasetParquet(ctx context.Context, job *queue.Job) (*result, error) {
	configs, err := w.cachedConfigNames(ctx, job.Dataset)
	if err != nil {
		return nil, err
	}

	files := []ParquetFileItem{}
	pending := []PreviousJob{}
	failed := []PreviousJob{}
	partial := false
	for _, cfg := range configs {
		entry, ok, err := w.loadEntry(ctx, KindConfigParquet, job.Dataset, cfg.Config, "")
		if err != nil {
			return nil, err
		}
		prev := PreviousJob{Kind: KindConfigParquet, Dataset: job.Dataset, Config: cfg.Config}
		switch {
		case !ok:
			pending = append(pending, prev)
		case !entry.OK():
			failed = append(failed, prev)
		default:
			var resp ConfigParquetResponse
			if err := json.Unmarshal(entry.Content, &resp); err != nil {
				return nil, &runError{
					status: http.StatusInternalServerError,
					code:   "PreviousStepFormatError",
					msg:    fmt.Sprintf("malformed parquet listing for config '%s': %v", cfg.Config, err),
				}
			}
			files = append(files, resp.ParquetFiles...)
			partial = partial || resp.Partial
		}
	}

	return &result{
		content: DatasetParquetResponse{
			ParquetFiles: files,
			Pending:      pending,
			Failed:       failed,
			Partial:      partial,
		},
		progress: aggregateProgress(len(configs), len(pending)),
		partial:  partial,
	}, nil
}

func (w *Worker) runDatasetSize(ctx context.Context, job *queue.Job) (*result, error) {
	configs, err := w.cachedConfigNames(ctx, job.Dataset)
	if err != nil {
		return nil, err
	}

	datasetSize := DatasetSize{Dataset: job.Dataset}
	configSizes := []ConfigSize{}
	splitSizes := []SplitSize{}
	pending := []PreviousJob{}
	failed := []PreviousJob{}
	partial := false
	var originalBytes int64
	originalKnown := true

	for _, cfg := range configs {
		entry, ok, err := w.loadEntry(ctx, KindConfigSize, job.Dataset, cfg.Config, "")
		if err != nil {
			return nil, err
		}
		prev := PreviousJob{Kind: KindConfigSize, Dataset: job.Dataset, Config: cfg.Config}
		switch {
		case !ok:
			pending = append(pending, prev)
			originalKnown = false
		case !entry.OK():
			failed = append(failed, prev)
			originalKnown = false
		default:
			var resp ConfigSizeResponse
			if err := json.Unmarshal(entry.Content, &resp); err != nil {
				return nil, &runError{
					status: http.StatusInternalServerError,
					code:   "PreviousStepFormatError",
					msg:    fmt.Sprintf("malformed size for config '%s': %v", cfg.Config, err),
				}
			}
			configSizes = append(configSizes, resp.Size.Config)
			splitSizes = append(splitSizes, resp.Size.Splits...)
			partial = partial || resp.Partial

			originalBytes += resp.Size.Config.NumBytesOriginalFiles
			datasetSize.NumBytesParquetFiles += resp.Size.Config.NumBytesParquetFiles
			datasetSize.NumBytesMemory += resp.Size.Config.NumBytesMemory
			datasetSize.NumRows += resp.Size.Config.NumRows
		}
	}
	if originalKnown {
		datasetSize.NumBytesOriginalFiles = &originalBytes
	}

	return &result{
		content: DatasetSizeResponse{
			Size: DatasetSizeContent{
				Dataset: datasetSize,
				Configs: configSizes,
				Splits:  splitSizes,
			},
			Pending: pending,
			Failed:  failed,
			Partial: partial,
		},
		progress: aggregateProgress(len(configs), len(pending)),
		partial:  partial,
	}, nil
}

// cachedConfigNames reads the dataset's config list from the cached
// dataset-config-names entry. Dataset-level aggregations depend on it, so a
// missing or failed entry is a hard error.
func (w *Worker) cachedConfigNames(ctx context.Context, dataset string) ([]ConfigItem, error) {
	entry, ok, err := w.loadEntry(ctx, KindDatasetConfigNames, dataset, "", "")
	if err != nil {
		return nil, err
	}
	if !ok || !entry.OK() {
		return nil, &runError{
			status: http.StatusInternalServerError,
			code:   "PreviousStepError",
			msg:    fmt.Sprintf("config names for dataset '%s' have not been computed successfully", dataset),
		}
	}

	var resp ConfigNamesResponse
	if err := json.Unmarshal(entry.Content, &resp); err != nil {
		return nil, &runError{
			status: http.StatusInternalServerError,
			code:   "PreviousStepFormatError",
			msg:    fmt.Sprintf("malformed config names for dataset '%s': %v", dataset, err),
		}
	}

	return resp.ConfigNames, nil
}

// loadEntry reads one cache entry, reporting a missing entry as ok=false
// instead of an error.
func (w *Worker) loadEntry(
	ctx context.Context, kind, dataset, config, split string,
) (*cache.Entry, bool, error) {
	entry := &cache.Entry{Kind: kind, Dataset: dataset, Config: config, Split: split}
	err := entry.Load(ctx, w.cacheDB)
	var noResult types.NoResultError
	if errors.As(err, &noResult) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return entry, true, nil
}

func (w *Worker) loadDataset(ctx context.Context, dataset string) (*catalog.Dataset, error) {
	ds := &catalog.Dataset{Name: dataset}
	err := ds.Load(ctx, w.catalogDB)
	var noResult types.NoResultError
	if errors.As(err, &noResult) {
		return nil, &runError{
			status: http.StatusNotFound,
			code:   "DatasetNotFoundError",
			msg:    fmt.Sprintf("dataset '%s' does not exist", dataset),
		}
	}
	if err != nil {
		return nil, err
	}

	return ds, nil
}

func (w *Worker) loadConfig(ctx context.Context, dataset, config string) (*catalog.Config, error) {
	ds, err := w.loadDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}

	configs, err := ds.Configs(ctx, w.catalogDB)
	if err != nil {
		return nil, err
	}
	for _, cfg := range configs {
		if cfg.Name == config {
			return cfg, nil
		}
	}

	return nil, &runError{
		status: http.StatusNotFound,
		code:   "ConfigNotFoundError",
		msg:    fmt.Sprintf("config '%s' does not exist in dataset '%s'", config, dataset),
	}
}

func (w *Worker) loadSplit(
	ctx context.Context, dataset, config, split string,
) (*catalog.Split, []*catalog.Column, error) {
	s, err := catalog.LoadSplit(ctx, w.catalogDB, dataset, config, split)
	var noResult types.NoResultError
	if errors.As(err, &noResult) {
		return nil, nil, &runError{
			status: http.StatusNotFound,
			code:   "SplitNotFoundError",
			msg:    fmt.Sprintf("split '%s/%s/%s' does not exist", dataset, config, split),
		}
	}
	if err != nil {
		return nil, nil, err
	}

	columns, err := s.Columns(ctx, w.catalogDB)
	if err != nil {
		return nil, nil, err
	}

	return s, columns, nil
}

func splitParquetBytes(ctx context.Context, d types.Querier, split *catalog.Split) (int64, error) {
	files, err := split.ParquetFiles(ctx, d)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, pf := range files {
		total += pf.Size
	}

	return total, nil
}

// aggregateProgress is the share of upstream computations that have finished,
// successfully or not.
func aggregateProgress(total, pending int) float64 {
	if total == 0 {
		return 1
	}

	return float64(total-pending) / float64(total)
}
