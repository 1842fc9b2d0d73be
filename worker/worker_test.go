package worker_test

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataview-sh/dataview/assets"
	"github.com/dataview-sh/dataview/catalog"
	"github.com/dataview-sh/dataview/db"
	"github.com/dataview-sh/dataview/db/migrator"
	"github.com/dataview-sh/dataview/db/types"
	"github.com/dataview-sh/dataview/store/cache"
	"github.com/dataview-sh/dataview/store/metrics"
	"github.com/dataview-sh/dataview/store/queue"
	"github.com/dataview-sh/dataview/worker"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

func newTestStore(t *testing.T, store db.Store) *db.DB {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := db.Open(t.Context(), store,
		fmt.Sprintf("file:%s-%x?mode=memory&cache=shared", store, rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	err = d.Migrate(migrator.MigrationUp, migrator.TargetAll, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return d
}

type testStores struct {
	cache, queue, metrics, catalog *db.DB
}

func newTestWorker(t *testing.T) (*worker.Worker, testStores) {
	t.Helper()

	stores := testStores{
		cache:   newTestStore(t, db.StoreCache),
		queue:   newTestStore(t, db.StoreQueue),
		metrics: newTestStore(t, db.StoreMetrics),
		catalog: newTestStore(t, db.StoreCatalog),
	}
	signer := assets.NewSigner("http://localhost:8080/assets", nil)
	w := worker.New(stores.cache, stores.queue, stores.metrics, stores.catalog,
		signer, slog.New(slog.DiscardHandler))

	return w, stores
}

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
						},
						Rows: []map[string]any{
							{"text": "Great movie", "label": 1.0},
							{"text": "Terrible plot", "label": 0.0},
							{"text": "it was great", "label": 1.0},
							{"text": nil, "label": -1.0},
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

func loadEntry(t *testing.T, d *db.DB, kind, dataset, config, split string) *cache.Entry {
	t.Helper()
	entry := &cache.Entry{Kind: kind, Dataset: dataset, Config: config, Split: split}
	require.NoError(t, entry.Load(d.NewContext(), d))

	return entry
}

func TestWorker_DrainQueue(t *testing.T) {
	t.Parallel()
	w, stores := newTestWorker(t)
	ctx := t.Context()

	_, err := catalog.Ingest(ctx, stores.catalog, reviewsFixture(), 0)
	require.NoError(t, err)

	// One config names job, three config-level jobs per config, three
	// split-level jobs per split, three dataset aggregations.
	enqueued, err := w.BackfillDataset(ctx, "reviews")
	require.NoError(t, err)
	assert.Equal(t, 19, enqueued)

	// A second backfill finds nothing missing.
	again, err := w.BackfillDataset(ctx, "reviews")
	require.NoError(t, err)
	assert.Zero(t, again)

	require.NoError(t, w.Run(ctx, 0))

	// Every job produced a successful cache entry.
	entries, err := cache.Entries(ctx, stores.cache, nil)
	require.NoError(t, err)
	require.Len(t, entries, 19)
	for _, entry := range entries {
		assert.True(t, entry.OK(), "entry %s %s/%s/%s", entry.Kind, entry.Dataset, entry.Config, entry.Split)
	}

	var configNames worker.ConfigNamesResponse
	entry := loadEntry(t, stores.cache, worker.KindDatasetConfigNames, "reviews", "", "")
	require.NoError(t, json.Unmarshal(entry.Content, &configNames))
	assert.Equal(t, []worker.ConfigItem{
		{Dataset: "reviews", Config: "plain_text"},
		{Dataset: "reviews", Config: "tiny"},
	}, configNames.ConfigNames)

	var configSize worker.ConfigSizeResponse
	entry = loadEntry(t, stores.cache, worker.KindConfigSize, "reviews", "plain_text", "")
	require.NoError(t, json.Unmarshal(entry.Content, &configSize))
	assert.Equal(t, int64(5), configSize.Size.Config.NumRows)
	assert.Equal(t, int64(2), configSize.Size.Config.NumColumns)
	assert.Len(t, configSize.Size.Splits, 2)
	assert.Positive(t, configSize.Size.Config.NumBytesParquetFiles)

	var firstRows worker.FirstRowsResponse
	entry = loadEntry(t, stores.cache, worker.KindSplitFirstRows, "reviews", "plain_text", "train")
	require.NoError(t, json.Unmarshal(entry.Content, &firstRows))
	require.Len(t, firstRows.Rows, 4)
	assert.Equal(t, int64(0), firstRows.Rows[0].RowIdx)
	assert.Equal(t, "Great movie", firstRows.Rows[0].Row["text"])
	assert.Len(t, firstRows.Features, 2)

	var index worker.SplitIndexResponse
	entry = loadEntry(t, stores.cache, worker.KindSplitIndex, "reviews", "tiny", "train")
	require.NoError(t, json.Unmarshal(entry.Content, &index))
	assert.False(t, index.Searchable)
	assert.True(t, index.Filterable)
	assert.Equal(t, int64(2), index.NumRows)

	var splitNames worker.DatasetSplitNamesResponse
	entry = loadEntry(t, stores.cache, worker.KindDatasetSplitNames, "reviews", "", "")
	require.NoError(t, json.Unmarshal(entry.Content, &splitNames))
	assert.Len(t, splitNames.Splits, 3)
	assert.Empty(t, splitNames.Pending)
	assert.Empty(t, splitNames.Failed)
	assert.Equal(t, 1.0, entry.Progress)

	var parquet worker.DatasetParquetResponse
	entry = loadEntry(t, stores.cache, worker.KindDatasetParquet, "reviews", "", "")
	require.NoError(t, json.Unmarshal(entry.Content, &parquet))
	require.Len(t, parquet.ParquetFiles, 3)
	// Splits are listed in name order within each config.
	assert.Contains(t, parquet.ParquetFiles[0].URL, "reviews/plain_text/test/0000.parquet")
	assert.Contains(t, parquet.ParquetFiles[1].URL, "reviews/plain_text/train/0000.parquet")

	var size worker.DatasetSizeResponse
	entry = loadEntry(t, stores.cache, worker.KindDatasetSize, "reviews", "", "")
	require.NoError(t, json.Unmarshal(entry.Content, &size))
	assert.Empty(t, size.Pending)
	assert.Empty(t, size.Failed)
	assert.Equal(t, int64(7), size.Size.Dataset.NumRows)
	require.NotNil(t, size.Size.Dataset.NumBytesOriginalFiles)
	assert.Positive(t, *size.Size.Dataset.NumBytesOriginalFiles)
	assert.Len(t, size.Size.Configs, 2)

	// The metrics store was refreshed along the way.
	cacheCounts, err := metrics.CacheCounts(ctx, stores.metrics)
	require.NoError(t, err)
	total := 0
	for _, c := range cacheCounts {
		assert.Equal(t, http.StatusOK, c.HTTPStatus)
		total += c.Count
	}
	assert.Equal(t, 19, total)

	queueCounts, err := metrics.QueueCounts(ctx, stores.metrics)
	require.NoError(t, err)
	require.NotEmpty(t, queueCounts)
	for _, c := range queueCounts {
		assert.Equal(t, queue.StatusSuccess, c.Status)
	}
}

func TestProcessNext_EmptyQueue(t *testing.T) {
	t.Parallel()
	w, _ := newTestWorker(t)

	var noResult types.NoResultError
	err := w.ProcessNext(t.Context())
	require.ErrorAs(t, err, &noResult)
}

func TestProcessNext_DatasetNotFound(t *testing.T) {
	t.Parallel()
	w, stores := newTestWorker(t)
	ctx := t.Context()

	job := &queue.Job{Type: worker.KindDatasetConfigNames, Dataset: "ghost"}
	require.NoError(t, job.Enqueue(ctx, stores.queue))

	// The runner failure is recorded on the cache entry, not returned.
	require.NoError(t, w.ProcessNext(ctx))

	entry := loadEntry(t, stores.cache, worker.KindDatasetConfigNames, "ghost", "", "")
	assert.Equal(t, http.StatusNotFound, entry.HTTPStatus)
	assert.Equal(t, "DatasetNotFoundError", entry.ErrorCode)
	assert.Contains(t, string(entry.Content), "does not exist")

	jobs, err := queue.Jobs(ctx, stores.queue, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.StatusError, jobs[0].Status)
}

func TestDatasetAggregation_MissingConfigNames(t *testing.T) {
	t.Parallel()
	w, stores := newTestWorker(t)
	ctx := t.Context()

	job := &queue.Job{Type: worker.KindDatasetSize, Dataset: "reviews"}
	require.NoError(t, job.Enqueue(ctx, stores.queue))
	require.NoError(t, w.ProcessNext(ctx))

	entry := loadEntry(t, stores.cache, worker.KindDatasetSize, "reviews", "", "")
	assert.Equal(t, http.StatusInternalServerError, entry.HTTPStatus)
	assert.Equal(t, "PreviousStepError", entry.ErrorCode)
}

func TestDatasetAggregation_PendingAndFailed(t *testing.T) {
	t.Parallel()
	w, stores := newTestWorker(t)
	ctx := t.Context()

	// Seed the upstream entries by hand: a config list of three, of which one
	// has a size, one failed and one was never computed.
	configNames, err := json.Marshal(worker.ConfigNamesResponse{ConfigNames: []worker.ConfigItem{
		{Dataset: "reviews", Config: "done"},
		{Dataset: "reviews", Config: "failed"},
		{Dataset: "reviews", Config: "pending"},
	}})
	require.NoError(t, err)
	seed := []*cache.Entry{
		{
			Kind: worker.KindDatasetConfigNames, Dataset: "reviews",
			HTTPStatus: http.StatusOK, Content: configNames, Progress: 1,
		},
		{
			Kind: worker.KindConfigSize, Dataset: "reviews", Config: "done",
			HTTPStatus: http.StatusOK,
			Content: mustMarshal(t, worker.ConfigSizeResponse{
				Size: worker.ConfigSizeContent{
					Config: worker.ConfigSize{
						Dataset: "reviews", Config: "done",
						NumBytesOriginalFiles: 100, NumRows: 10, NumColumns: 2,
					},
				},
			}),
			Progress: 1,
		},
		{
			Kind: worker.KindConfigSize, Dataset: "reviews", Config: "failed",
			HTTPStatus: http.StatusInternalServerError, ErrorCode: "UnexpectedError",
			Content: json.RawMessage(`{"error":"boom"}`),
		},
	}
	for _, e := range seed {
		require.NoError(t, e.Upsert(ctx, stores.cache))
	}

	job := &queue.Job{Type: worker.KindDatasetSize, Dataset: "reviews"}
	require.NoError(t, job.Enqueue(ctx, stores.queue))
	require.NoError(t, w.ProcessNext(ctx))

	entry := loadEntry(t, stores.cache, worker.KindDatasetSize, "reviews", "", "")
	require.True(t, entry.OK())
	assert.InDelta(t, 2.0/3.0, entry.Progress, 1e-9)

	var size worker.DatasetSizeResponse
	require.NoError(t, json.Unmarshal(entry.Content, &size))
	require.Len(t, size.Pending, 1)
	assert.Equal(t, "pending", size.Pending[0].Config)
	require.Len(t, size.Failed, 1)
	assert.Equal(t, "failed", size.Failed[0].Config)
	assert.Equal(t, int64(10), size.Size.Dataset.NumRows)
	// Incomplete upstream sizes leave the original byte count unknown.
	assert.Nil(t, size.Size.Dataset.NumBytesOriginalFiles)
}

func TestBackfillDataset_UnknownDataset(t *testing.T) {
	t.Parallel()
	w, _ := newTestWorker(t)

	var noResult types.NoResultError
	_, err := w.BackfillDataset(t.Context(), "ghost")
	require.ErrorAs(t, err, &noResult)
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}
