package cli

import (
	"encoding/json"
	"fmt"

	"github.com/mandelsoft/vfs/pkg/vfs"

	actx "github.com/dataview-sh/dataview/app/context"
	"github.com/dataview-sh/dataview/catalog"
	"github.com/dataview-sh/dataview/worker"
)

// Ingest stores a dataset file in the catalog and enqueues its processing
// jobs.
type Ingest struct {
	Path    string `arg:"" help:"Path to the dataset JSON file."`
	Enqueue bool   `default:"true" negatable:"" help:"Enqueue processing jobs for the ingested dataset."`
}

// Run the ingest command.
func (c *Ingest) Run(appCtx *actx.Context) error {
	if err := openStores(appCtx); err != nil {
		return err
	}

	data, err := vfs.ReadFile(appCtx.FS, c.Path)
	if err != nil {
		return fmt.Errorf("failed reading dataset file: %w", err)
	}
	var file catalog.DatasetFile
	if err = json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed parsing dataset file: %w", err)
	}

	catalogDB := appCtx.Stores.Catalog
	ds, err := catalog.Ingest(catalogDB.NewContext(), catalogDB, &file, appCtx.Config.MaxRowsPerSplit)
	if err != nil {
		return err
	}
	appCtx.Logger.Info("ingested dataset", "dataset", ds.Name, "gated", ds.Gated)

	if !c.Enqueue {
		return nil
	}

	w := worker.New(
		appCtx.Stores.Cache, appCtx.Stores.Queue, appCtx.Stores.Metrics, catalogDB,
		newSigner(appCtx), appCtx.Logger.With("component", "worker"),
	)
	enqueued, err := w.BackfillDataset(appCtx.Ctx, ds.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(appCtx.Stdout, "Ingested dataset '%s' and enqueued %d jobs.\n", ds.Name, enqueued)

	return nil
}
