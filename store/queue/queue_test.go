package queue_test

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataview-sh/dataview/db"
	"github.com/dataview-sh/dataview/db/migrator"
	"github.com/dataview-sh/dataview/db/types"
	"github.com/dataview-sh/dataview/store/queue"
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

	d, err := db.Open(t.Context(), db.StoreQueue,
		fmt.Sprintf("file:queue-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	err = d.Migrate(migrator.MigrationUp, migrator.TargetAll, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return d
}

func TestJob_Enqueue(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	job := &queue.Job{Type: "config-size", Dataset: "glue", Config: "cola"}
	require.NoError(t, job.Enqueue(ctx, d))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.StatusWaiting, job.Status)

	// An identical waiting job is deduplicated without an error.
	dup := &queue.Job{Type: "config-size", Dataset: "glue", Config: "cola"}
	require.NoError(t, dup.Enqueue(ctx, d))

	jobs, err := queue.Jobs(ctx, d, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// Once the job started, an identical one may be enqueued again.
	started, err := queue.StartNext(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, job.ID, started.ID)

	again := &queue.Job{Type: "config-size", Dataset: "glue", Config: "cola"}
	require.NoError(t, again.Enqueue(ctx, d))

	jobs, err = queue.Jobs(ctx, d, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestJob_Enqueue_InvalidInput(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	var invalid types.InvalidInputError
	err := (&queue.Job{Dataset: "glue"}).Enqueue(ctx, d)
	require.ErrorAs(t, err, &invalid)
	err = (&queue.Job{Type: "config-size"}).Enqueue(ctx, d)
	require.ErrorAs(t, err, &invalid)
}

func TestStartNext_Order(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	jobs := []*queue.Job{
		{Type: "dataset-size", Dataset: "glue", Priority: 0},
		{Type: "dataset-config-names", Dataset: "glue", Priority: 20},
		{Type: "config-size", Dataset: "glue", Config: "cola", Priority: 10},
		{Type: "config-size", Dataset: "glue", Config: "mnli", Priority: 10},
	}
	for _, j := range jobs {
		require.NoError(t, j.Enqueue(ctx, d))
	}

	// Highest priority first, then insertion order.
	expTypes := []string{"dataset-config-names", "config-size", "config-size", "dataset-size"}
	for i, expType := range expTypes {
		j, err := queue.StartNext(ctx, d)
		require.NoError(t, err, "job %d", i)
		assert.Equal(t, expType, j.Type, "job %d", i)
		assert.Equal(t, queue.StatusStarted, j.Status)
		assert.True(t, j.StartedAt.Valid)
	}

	// The queue is drained.
	var noResult types.NoResultError
	_, err := queue.StartNext(ctx, d)
	require.ErrorAs(t, err, &noResult)
}

func TestJob_Finish(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	job := &queue.Job{Type: "config-size", Dataset: "glue"}
	require.NoError(t, job.Enqueue(ctx, d))

	var invalid types.InvalidInputError
	err := job.Finish(ctx, d, queue.StatusWaiting)
	require.ErrorAs(t, err, &invalid)

	started, err := queue.StartNext(ctx, d)
	require.NoError(t, err)
	require.NoError(t, started.Finish(ctx, d, queue.StatusSuccess))
	assert.Equal(t, queue.StatusSuccess, started.Status)
	assert.True(t, started.FinishedAt.Valid)

	var noResult types.NoResultError
	missing := &queue.Job{ID: "does-not-exist"}
	err = missing.Finish(ctx, d, queue.StatusError)
	require.ErrorAs(t, err, &noResult)
}

func TestCountByTypeStatus(t *testing.T) {
	t.Parallel()
	d := newTestDB(t)
	ctx := d.NewContext()

	jobs := []*queue.Job{
		{Type: "config-size", Dataset: "glue", Config: "cola", Priority: 10},
		{Type: "config-size", Dataset: "glue", Config: "mnli"},
		{Type: "dataset-size", Dataset: "glue"},
	}
	for _, j := range jobs {
		require.NoError(t, j.Enqueue(ctx, d))
	}

	started, err := queue.StartNext(ctx, d)
	require.NoError(t, err)
	require.NoError(t, started.Finish(ctx, d, queue.StatusError))

	counts, err := queue.CountByTypeStatus(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, []queue.Count{
		{Type: "config-size", Status: queue.StatusError, Count: 1},
		{Type: "config-size", Status: queue.StatusWaiting, Count: 1},
		{Type: "dataset-size", Status: queue.StatusWaiting, Count: 1},
	}, counts)
}
