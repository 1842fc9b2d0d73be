package worker

import (
	"encoding/json"

	"github.com/dataview-sh/dataview/catalog"
)

// The cache kinds, which double as the queue job types. Dataset-level kinds
// aggregate the config-level entries below them.
const (
	KindDatasetConfigNames = "dataset-config-names"
	KindConfigSplitNames   = "config-split-names"
	KindConfigParquet      = "config-parquet"
	KindConfigSize         = "config-size"
	KindSplitFirstRows     = "split-first-rows"
	KindSplitIndex         = "split-index"
	KindSplitStatistics    = "split-statistics"
	KindDatasetSplitNames  = "dataset-split-names"
	KindDatasetParquet     = "dataset-parquet"
	KindDatasetSize        = "dataset-size"
)

// ConfigItem identifies one config of a dataset.
type ConfigItem struct {
	Dataset string `json:"dataset"`
	Config  string `json:"config"`
}

// SplitItem identifies one split of a config.
type SplitItem struct {
	Dataset string `json:"dataset"`
	Config  string `json:"config"`
	Split   string `json:"split"`
}

// FailedConfigItem is a config whose upstream computation failed, with the
// cached error content.
type FailedConfigItem struct {
	Dataset string          `json:"dataset"`
	Config  string          `json:"config"`
	Error   json.RawMessage `json:"error"`
}

// PreviousJob identifies an upstream computation a dataset-level aggregation
// is still waiting for, or that failed.
type PreviousJob struct {
	Kind    string  `json:"kind"`
	Dataset string  `json:"dataset"`
	Config  string  `json:"config"`
	Split   *string `json:"split"`
}

// ConfigNamesResponse is the content of a dataset-config-names entry.
type ConfigNamesResponse struct {
	ConfigNames []ConfigItem `json:"config_names"`
}

// SplitNamesResponse is the content of a config-split-names entry.
type SplitNamesResponse struct {
	Splits []SplitItem `json:"splits"`
}

// ParquetFileItem is one file of a parquet export.
type ParquetFileItem struct {
	Dataset  string `json:"dataset"`
	Config   string `json:"config"`
	Split    string `json:"split"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// ConfigParquetResponse is the content of a config-parquet entry.
type ConfigParquetResponse struct {
	ParquetFiles []ParquetFileItem `json:"parquet_files"`
	Partial      bool              `json:"partial"`
}

// ConfigSize describes the size of one config.
type ConfigSize struct {
	Dataset               string `json:"dataset"`
	Config                string `json:"config"`
	NumBytesOriginalFiles int64  `json:"num_bytes_original_files"`
	NumBytesParquetFiles  int64  `json:"num_bytes_parquet_files"`
	NumBytesMemory        int64  `json:"num_bytes_memory"`
	NumRows               int64  `json:"num_rows"`
	NumColumns            int64  `json:"num_columns"`
}

// SplitSize describes the size of one split.
type SplitSize struct {
	Dataset              string `json:"dataset"`
	Config               string `json:"config"`
	Split                string `json:"split"`
	NumBytesParquetFiles int64  `json:"num_bytes_parquet_files"`
	NumBytesMemory       int64  `json:"num_bytes_memory"`
	NumRows              int64  `json:"num_rows"`
	NumColumns           int64  `json:"num_columns"`
}

// ConfigSizeContent groups the size of a config and its splits.
type ConfigSizeContent struct {
	Config ConfigSize  `json:"config"`
	Splits []SplitSize `json:"splits"`
}

// ConfigSizeResponse is the content of a config-size entry.
type ConfigSizeResponse struct {
	Size    ConfigSizeContent `json:"size"`
	Partial bool              `json:"partial"`
}

// RowItem is one row of a split preview page.
type RowItem struct {
	RowIdx         int64          `json:"row_idx"`
	Row            map[string]any `json:"row"`
	TruncatedCells []string       `json:"truncated_cells"`
}

// FirstRowsResponse is the content of a split-first-rows entry.
type FirstRowsResponse struct {
	Dataset  string            `json:"dataset"`
	Config   string            `json:"config"`
	Split    string            `json:"split"`
	Features []catalog.Feature `json:"features"`
	Rows     []RowItem         `json:"rows"`
}

// SplitIndexResponse is the content of a split-index entry: whether the split
// can be searched and filtered.
type SplitIndexResponse struct {
	Searchable bool  `json:"searchable"`
	Filterable bool  `json:"filterable"`
	NumRows    int64 `json:"num_rows"`
}

// StatisticsResponse is the content of a split-statistics entry.
type StatisticsResponse struct {
	NumExamples int64                      `json:"num_examples"`
	Statistics  []catalog.ColumnStatistics `json:"statistics"`
	Partial     bool                       `json:"partial"`
}

// DatasetSplitNamesResponse is the content of a dataset-split-names entry.
type DatasetSplitNamesResponse struct {
	Splits  []SplitItem        `json:"splits"`
	Pending []ConfigItem       `json:"pending"`
	Failed  []FailedConfigItem `json:"failed"`
}

// DatasetParquetResponse is the content of a dataset-parquet entry.
type DatasetParquetResponse struct {
	ParquetFiles []ParquetFileItem `json:"parquet_files"`
	Pending      []PreviousJob     `json:"pending"`
	Failed       []PreviousJob     `json:"failed"`
	Partial      bool              `json:"partial"`
}

// DatasetSize describes the size of a whole dataset. The original file byte
// count is unknown (null) if any config failed to report it.
type DatasetSize struct {
	Dataset               string `json:"dataset"`
	NumBytesOriginalFiles *int64 `json:"num_bytes_original_files"`
	NumBytesParquetFiles  int64  `json:"num_bytes_parquet_files"`
	NumBytesMemory        int64  `json:"num_bytes_memory"`
	NumRows               int64  `json:"num_rows"`
}

// DatasetSizeContent groups the dataset, config and split sizes.
type DatasetSizeContent struct {
	Dataset DatasetSize  `json:"dataset"`
	Configs []ConfigSize `json:"configs"`
	Splits  []SplitSize  `json:"splits"`
}

// DatasetSizeResponse is the content of a dataset-size entry.
type DatasetSizeResponse struct {
	Size    DatasetSizeContent `json:"size"`
	Pending []PreviousJob      `json:"pending"`
	Failed  []PreviousJob      `json:"failed"`
	Partial bool               `json:"partial"`
}
