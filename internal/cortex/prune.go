package cortex

import (
	"github.com/yeseh/cortex/internal/memory"
	"github.com/yeseh/cortex/internal/store"
)

// PruneOptions configures PruneExpiredMemories.
type PruneOptions struct {
	DryRun bool
}

// PruneError records one memory that could not be pruned.
type PruneError struct {
	Path   memory.MemoryPath
	Reason string
}

// PruneResult lists what was (or would be) pruned.
type PruneResult struct {
	Pruned []memory.MemoryPath
	Errors []PruneError
}

// PruneExpiredMemories removes every memory whose expiry has passed. A dry
// run only reports. After real removals a full reindex guarantees the index
// is faithful even if any surgical cleanup was incomplete.
func PruneExpiredMemories(adapter *store.Adapter, ctx *Context, opts PruneOptions) (PruneResult, error) {
	entries, queryErr := adapter.Index.Query(store.Filter{
		IncludeExpired: true,
		SortBy:         store.SortByPath,
		SortOrder:      store.SortAsc,
		Now:            ctx.now(),
	})
	if queryErr != nil {
		return PruneResult{}, storageError("querying index", queryErr).withStore(ctx.Store.Name)
	}

	now := ctx.now()

	var result PruneResult

	for _, entry := range entries {
		if entry.ExpiresAt == nil || entry.ExpiresAt.After(now) {
			continue
		}

		result.Pruned = append(result.Pruned, entry.Path)
	}

	if opts.DryRun {
		return result, nil
	}

	pruned := result.Pruned[:0]

	for _, path := range result.Pruned {
		removeErr := RemoveMemory(adapter, ctx, path)
		if removeErr != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Reason: removeErr.Error()})

			continue
		}

		pruned = append(pruned, path)
	}

	result.Pruned = pruned

	_, reindexErr := adapter.Index.Reindex(memory.RootCategory())
	if reindexErr != nil {
		return result, storageError("reindexing after prune", reindexErr).withStore(ctx.Store.Name)
	}

	return result, nil
}
