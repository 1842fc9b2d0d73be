package cli

import (
	"fmt"
	"strconv"

	actx "github.com/dataview-sh/dataview/app/context"
	"github.com/dataview-sh/dataview/store/metrics"
)

// Metrics shows the latest cache and queue count snapshots.
type Metrics struct{}

// Run the metrics command.
func (c *Metrics) Run(appCtx *actx.Context) error {
	if err := appCtx.OpenStores(); err != nil {
		return err
	}

	metricsDB := appCtx.Stores.Metrics
	ctx := metricsDB.NewContext()

	cacheCounts, err := metrics.CacheCounts(ctx, metricsDB)
	if err != nil {
		return err
	}
	queueCounts, err := metrics.QueueCounts(ctx, metricsDB)
	if err != nil {
		return err
	}

	fmt.Fprintln(appCtx.Stdout, "Cache entries:")
	data := [][]string{}
	for _, c := range cacheCounts {
		data = append(data, []string{c.Kind, strconv.Itoa(c.HTTPStatus), strconv.Itoa(c.Count)})
	}
	if err = renderTable([]string{"KIND", "HTTP STATUS", "COUNT"}, data, appCtx.Stdout); err != nil {
		return err
	}

	fmt.Fprintln(appCtx.Stdout, "\nQueue jobs:")
	data = [][]string{}
	for _, c := range queueCounts {
		data = append(data, []string{c.Type, c.Status, strconv.Itoa(c.Count)})
	}

	return renderTable([]string{"TYPE", "STATUS", "COUNT"}, data, appCtx.Stdout)
}
