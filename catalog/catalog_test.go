package catalog_test

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataview-sh/dataview/catalog"
	"github.com/dataview-sh/dataview/db"
	"github.com/dataview-sh/dataview/db/migrator"
	"github.com/dataview-sh/dataview/db/types"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := db.Open(t.Context(), db.StoreCatalog,
		fmt.Sprintf("file:catalog-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	err = d.Migrate(migrator.MigrationUp, migrator.TargetAll, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return d
}

// reviewsFixture is a small dataset with two configs and all column types.
// Numbers are float64, matching how JSON input decodes.
func reviewsFixture() *catalog.DatasetFile {
	return &catalog.DatasetFile{
		Dataset: "reviews",
		Configs: []catalog.ConfigFile{
			{
				Config: "plain_text",
				Splits: []catalog.SplitFile{
					{
						Split: "train",
						Features: []catalog.FeatureFile{
							{Name: "text", Type: catalog.ColumnString},
							{Name: "label", Type: catalog.ColumnClassLabel, Names: []string{"neg", "pos"}},
							{Name: "score", Type: catalog.ColumnFloat},
							{Name: "length", Type: catalog.ColumnInt},
							{Name: "flagged", Type: catalog.ColumnBool},
						},
						Rows: []map[string]any{
							{"text": "Great movie", "label": 1.0, "score": 0.9, "length": 11.0, "flagged": false},
							{"text": "Terrible plot", "label": 0.0, "score": 0.1, "length": 13.0, "flagged": true},
							{"text": "it was great", "label": 1.0, "score": 0.8, "length": 12.0, "flagged": false},
							{"text": nil, "label": -1.0, "score": nil, "length": 0.0, "flagged": false},
						},
					},
					{
						Split: "test",
						Features: []catalog.FeatureFile{
							{Name: "text", Type: catalog.ColumnString},
						},
						Rows: []map[string]any{
							{"text": "held out"},
						},
					},
				},
			},
			{
				Config: "tiny",
				Splits: []catalog.SplitFile{
					{
						Split: "train",
						Features: []catalog.FeatureFile{
							{Name: "n", Type: catalog.ColumnInt},
						},
						Rows: []map[string]any{
							{"n": 1.0}, {"n": 2.0},
						},
					},
				},
			},
		},
	}
}

func bigFixture(numRows int) *catalog.DatasetFile {
	rows := make([]map[string]any, numRows)
	for i := range rows {
		rows[i] = map[string]any{"n": float64(i)}
	}

	return &catalog.DatasetFile{
		Dataset: "numbers",
		Configs: []catalog.ConfigFile{{
			Config: "default",
			Splits: []catalog.SplitFile{{
				Split:    "train",
				Features: []catalog.FeatureFile{{Name: "n", Type: catalog.ColumnInt}},
				Rows:     rows,
			}},
		}},
	}
}

func TestIngest(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	ds, err := catalog.Ingest(ctx, d, reviewsFixture(), 0)
	require.NoError(t, err)
	assert.NotZero(t, ds.ID)
	assert.Equal(t, "reviews", ds.Name)
	assert.False(t, ds.Gated)

	configs, err := ds.Configs(ctx, d)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, "plain_text", configs[0].Name)
	assert.Equal(t, "tiny", configs[1].Name)

	split, err := catalog.LoadSplit(ctx, d, "reviews", "plain_text", "train")
	require.NoError(t, err)
	assert.Equal(t, int64(4), split.NumRows)
	assert.False(t, split.Partial)
	assert.True(t, strings.HasPrefix(split.TableName, "rows_reviews-plain_text-train_"))
	assert.Positive(t, split.NumBytesMemory)

	columns, err := split.Columns(ctx, d)
	require.NoError(t, err)
	require.Len(t, columns, 5)
	assert.Equal(t, "text", columns[0].Name)
	assert.Equal(t, catalog.ColumnClassLabel, columns[1].Type)
	assert.Equal(t, []string{"neg", "pos"}, columns[1].ClassNames)

	files, err := split.ParquetFiles(ctx, d)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "train/0000.parquet", files[0].Filename)
	assert.Equal(t, split.NumBytesMemory, files[0].Size)
}

func TestIngest_ReplacesExistingDataset(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	_, err := catalog.Ingest(ctx, d, reviewsFixture(), 0)
	require.NoError(t, err)

	// Re-ingest with a single config.
	file := reviewsFixture()
	file.Configs = file.Configs[1:]
	file.Gated = true
	ds, err := catalog.Ingest(ctx, d, file, 0)
	require.NoError(t, err)
	assert.True(t, ds.Gated)

	datasets, err := catalog.Datasets(ctx, d, nil)
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	configs, err := ds.Configs(ctx, d)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "tiny", configs[0].Name)

	// The split tables of the replaced dataset are gone.
	_, err = catalog.LoadSplit(ctx, d, "reviews", "plain_text", "train")
	var noResult types.NoResultError
	require.ErrorAs(t, err, &noResult)
}

func TestIngest_Truncation(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	_, err := catalog.Ingest(ctx, d, bigFixture(10), 3)
	require.NoError(t, err)

	split, err := catalog.LoadSplit(ctx, d, "numbers", "default", "train")
	require.NoError(t, err)
	assert.Equal(t, int64(3), split.NumRows)
	assert.True(t, split.Partial)
}

func TestIngest_InvalidInput(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	tests := []struct {
		name   string
		mutate func(*catalog.DatasetFile)
		expErr string
	}{
		{
			name:   "err/no_dataset_name",
			mutate: func(f *catalog.DatasetFile) { f.Dataset = "" },
			expErr: "dataset name must be set",
		},
		{
			name:   "err/no_configs",
			mutate: func(f *catalog.DatasetFile) { f.Configs = nil },
			expErr: "has no configs",
		},
		{
			name: "err/type_mismatch",
			mutate: func(f *catalog.DatasetFile) {
				f.Configs[0].Splits[0].Rows[0]["length"] = "not a number"
			},
			expErr: "doesn't match type",
		},
		{
			name: "err/class_id_out_of_range",
			mutate: func(f *catalog.DatasetFile) {
				f.Configs[0].Splits[0].Rows[0]["label"] = 7.0
			},
			expErr: "out of range",
		},
		{
			name: "err/class_label_without_names",
			mutate: func(f *catalog.DatasetFile) {
				f.Configs[0].Splits[0].Features[1].Names = nil
			},
			expErr: "declares no class names",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := reviewsFixture()
			tt.mutate(file)

			_, err := catalog.Ingest(ctx, d, file, 0)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expErr)
		})
	}
}

func TestSplit_Page(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	_, err := catalog.Ingest(ctx, d, bigFixture(120), 0)
	require.NoError(t, err)
	split, err := catalog.LoadSplit(ctx, d, "numbers", "default", "train")
	require.NoError(t, err)
	columns, err := split.Columns(ctx, d)
	require.NoError(t, err)

	// The page length is capped regardless of the requested length.
	page, err := split.Page(ctx, d, columns, 0, 500)
	require.NoError(t, err)
	assert.Len(t, page.Rows, catalog.RowsPerPage)
	assert.Equal(t, int64(120), page.NumRowsTotal)
	assert.Equal(t, int64(0), page.Rows[0].Idx)
	assert.Equal(t, int64(99), page.Rows[99].Idx)
	assert.Equal(t, int64(42), page.Rows[42].Cells["n"])

	page, err = split.Page(ctx, d, columns, 100, 100)
	require.NoError(t, err)
	assert.Len(t, page.Rows, 20)
	assert.Equal(t, int64(100), page.Rows[0].Idx)

	page, err = split.Page(ctx, d, columns, 500, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Equal(t, int64(120), page.NumRowsTotal)

	var invalid types.InvalidInputError
	_, err = split.Page(ctx, d, columns, -1, 10)
	require.ErrorAs(t, err, &invalid)
}

func TestSplit_Page_CellTypes(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	_, err := catalog.Ingest(ctx, d, reviewsFixture(), 0)
	require.NoError(t, err)
	split, err := catalog.LoadSplit(ctx, d, "reviews", "plain_text", "train")
	require.NoError(t, err)
	columns, err := split.Columns(ctx, d)
	require.NoError(t, err)

	page, err := split.Page(ctx, d, columns, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Rows, 4)

	first := page.Rows[0].Cells
	assert.Equal(t, "Great movie", first["text"])
	assert.Equal(t, int64(1), first["label"])
	assert.Equal(t, 0.9, first["score"])
	assert.Equal(t, int64(11), first["length"])
	assert.Equal(t, false, first["flagged"])

	last := page.Rows[3].Cells
	assert.Nil(t, last["text"])
	assert.Nil(t, last["score"])
	assert.Equal(t, int64(-1), last["label"])
	assert.Equal(t, true, page.Rows[1].Cells["flagged"])
}

func TestSplit_SearchPage(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	_, err := catalog.Ingest(ctx, d, reviewsFixture(), 0)
	require.NoError(t, err)
	split, err := catalog.LoadSplit(ctx, d, "reviews", "plain_text", "train")
	require.NoError(t, err)
	columns, err := split.Columns(ctx, d)
	require.NoError(t, err)

	// Case-insensitive match over string columns.
	page, err := split.SearchPage(ctx, d, columns, "GREAT", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, int64(2), page.NumRowsTotal)
	assert.Equal(t, int64(0), page.Rows[0].Idx)
	assert.Equal(t, int64(2), page.Rows[1].Idx)

	page, err = split.SearchPage(ctx, d, columns, "no such text", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Equal(t, int64(0), page.NumRowsTotal)

	// A split without string columns matches nothing.
	tiny, err := catalog.LoadSplit(ctx, d, "reviews", "tiny", "train")
	require.NoError(t, err)
	tinyColumns, err := tiny.Columns(ctx, d)
	require.NoError(t, err)

	page, err = tiny.SearchPage(ctx, d, tinyColumns, "1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
}

func TestSplit_ComputeStatistics(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	_, err := catalog.Ingest(ctx, d, reviewsFixture(), 0)
	require.NoError(t, err)
	split, err := catalog.LoadSplit(ctx, d, "reviews", "plain_text", "train")
	require.NoError(t, err)
	columns, err := split.Columns(ctx, d)
	require.NoError(t, err)

	stats, err := split.ComputeStatistics(ctx, d, columns)
	require.NoError(t, err)
	require.Len(t, stats, 5)

	// text: three distinct values plus one null, low cardinality.
	assert.Equal(t, "text", stats[0].ColumnName)
	assert.Equal(t, catalog.StatsStringLabel, stats[0].ColumnType)
	text, ok := stats[0].Statistics.(*catalog.CategoricalStatistics)
	require.True(t, ok)
	assert.Equal(t, int64(1), text.NanCount)
	assert.Equal(t, 0.25, text.NanProportion)
	assert.Equal(t, 3, text.NUnique)

	// label: two pos, one neg, one unlabeled.
	assert.Equal(t, catalog.StatsClassLabel, stats[1].ColumnType)
	label, ok := stats[1].Statistics.(*catalog.CategoricalStatistics)
	require.True(t, ok)
	assert.Equal(t, int64(1), label.NoLabelCount)
	assert.Equal(t, 0.25, label.NoLabelProportion)
	assert.Equal(t, map[string]int64{"neg": 1, "pos": 2}, label.Frequencies)

	// score: [0.9, 0.1, 0.8] plus one null.
	assert.Equal(t, catalog.StatsFloat, stats[2].ColumnType)
	score, ok := stats[2].Statistics.(*catalog.NumericalStatistics)
	require.True(t, ok)
	assert.Equal(t, int64(1), score.NanCount)
	assert.Equal(t, 0.1, score.Min)
	assert.Equal(t, 0.9, score.Max)
	assert.Equal(t, 0.6, score.Mean)
	assert.Equal(t, 0.8, score.Median)
	assert.Equal(t, 0.436, score.Std)

	// length: [11, 13, 12, 0].
	assert.Equal(t, catalog.StatsInt, stats[3].ColumnType)
	length, ok := stats[3].Statistics.(*catalog.NumericalStatistics)
	require.True(t, ok)
	assert.Equal(t, int64(0), length.Min)
	assert.Equal(t, int64(13), length.Max)
	assert.Equal(t, 9.0, length.Mean)
	assert.Equal(t, 11.5, length.Median)
	assert.Equal(t, []int64{1, 0, 0, 0, 0, 1, 2}, length.Histogram.Hist)

	// flagged: one true, three false.
	assert.Equal(t, catalog.StatsBool, stats[4].ColumnType)
	flagged, ok := stats[4].Statistics.(*catalog.BoolStatistics)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"true": 1, "false": 3}, flagged.Frequencies)
}

func TestSplit_FilterPage(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	_, err := catalog.Ingest(ctx, d, reviewsFixture(), 0)
	require.NoError(t, err)
	split, err := catalog.LoadSplit(ctx, d, "reviews", "plain_text", "train")
	require.NoError(t, err)
	columns, err := split.Columns(ctx, d)
	require.NoError(t, err)

	tests := []struct {
		name    string
		where   string
		expIdxs []int64
		expErr  string
	}{
		{
			name:    "ok/comparison_and_boolean",
			where:   "label = 1 and score >= 0.5",
			expIdxs: []int64{0, 2},
		},
		{
			name:    "ok/like",
			where:   "text like 'Great%'",
			expIdxs: []int64{0},
		},
		{
			name:    "ok/is_null",
			where:   "text is null",
			expIdxs: []int64{3},
		},
		{
			name:    "ok/quoted_column_and_parens",
			where:   `("length" > 11 and flagged = false) or label = -1`,
			expIdxs: []int64{2, 3},
		},
		{
			name:   "err/unknown_column",
			where:  "rating > 3",
			expErr: "unknown column",
		},
		{
			name:   "err/statement_injection",
			where:  "label = 1; DROP TABLE datasets",
			expErr: "unexpected character",
		},
		{
			name:   "err/unbalanced_parens",
			where:  "(label = 1",
			expErr: "unbalanced parentheses",
		},
		{
			name:   "err/empty",
			where:  "   ",
			expErr: "empty filter expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			page, err := split.FilterPage(ctx, d, columns, tt.where, 0, 10)

			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				var invalid types.InvalidInputError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)

			idxs := make([]int64, len(page.Rows))
			for i, row := range page.Rows {
				idxs[i] = row.Idx
			}
			assert.Equal(t, tt.expIdxs, idxs)
		})
	}
}
