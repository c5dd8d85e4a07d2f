package cli

import (
	"time"

	"github.com/yeseh/cortex/internal/config"
	"github.com/yeseh/cortex/internal/cortex"
	"github.com/yeseh/cortex/internal/store"
)

// App bundles the per-invocation dependencies every command shares:
// the loaded config, the effective working directory, and flag overrides.
// Commands capture it by closure, mirroring how config flows in the rest
// of the codebase.
type App struct {
	Manager   *config.Manager
	Cwd       string
	StoreFlag string // --store override
	Format    string // --format override
	Clock     func() time.Time
}

// OpenStore resolves the target store, opens a scoped adapter, and builds
// the domain context. The caller must invoke the returned closer.
func (a *App) OpenStore() (*store.Adapter, *cortex.Context, func(), error) {
	resolved, resolveErr := a.Manager.Resolve(a.StoreFlag, a.Cwd)
	if resolveErr != nil {
		return nil, nil, nil, resolveErr
	}

	sctx, sctxErr := resolved.StoreContextFor()
	if sctxErr != nil {
		return nil, nil, nil, sctxErr
	}

	adapter, openErr := store.Open(resolved.Root, store.Options{Layout: resolved.Layout})
	if openErr != nil {
		return nil, nil, nil, &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "cannot open store",
			Store:   resolved.Name,
			Cause:   openErr,
		}
	}

	materializeErr := config.MaterializeDeclaredCategories(adapter, &sctx)
	if materializeErr != nil {
		_ = adapter.Close()

		return nil, nil, nil, materializeErr
	}

	ctx := &cortex.Context{
		Clock: a.Clock,
		Store: sctx,
	}

	closer := func() { _ = adapter.Close() }

	return adapter, ctx, closer, nil
}

// OutputFormat returns the effective output format: flag, then settings,
// then yaml.
func (a *App) OutputFormat() string {
	if a.Format != "" {
		return a.Format
	}

	if configured := a.Manager.Settings().OutputFormat; configured != "" {
		return configured
	}

	return formatYAML
}
