package cli

import (
	"fmt"

	actx "github.com/dataview-sh/dataview/app/context"
	"github.com/dataview-sh/dataview/assets"
	"github.com/dataview-sh/dataview/db"
	"github.com/dataview-sh/dataview/db/migrator"
)

// openStores opens all four logical datastores and brings their schemas up to
// date.
func openStores(appCtx *actx.Context) error {
	if err := appCtx.OpenStores(); err != nil {
		return err
	}

	for _, d := range appCtx.Stores.All() {
		if err := d.Migrate(migrator.MigrationUp, migrator.TargetAll, appCtx.Logger); err != nil {
			return err
		}
	}

	return nil
}

// storesFor returns the stores selected by name, or all of them for "all".
func storesFor(appCtx *actx.Context, name string) ([]*db.DB, error) {
	if name == "all" {
		return appCtx.Stores.All(), nil
	}

	for _, d := range appCtx.Stores.All() {
		if string(d.Store()) == name {
			return []*db.DB{d}, nil
		}
	}

	return nil, fmt.Errorf("unknown store '%s'", name)
}

// newSigner builds the asset URL signer from the configuration.
func newSigner(appCtx *actx.Context) *assets.Signer {
	return assets.NewSigner(appCtx.Config.AssetsBaseURL, []byte(appCtx.Config.AssetsSigningKey))
}
