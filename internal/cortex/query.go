package cortex

import (
	"errors"
	"time"

	"github.com/yeseh/cortex/internal/memory"
	"github.com/yeseh/cortex/internal/store"
)

// DefaultRecentLimit is the default number of memories getRecent returns.
const DefaultRecentLimit = 5

// QueryInput is the caller-facing filter. Fields are conjunctive; see the
// store filter for exact semantics.
type QueryInput struct {
	Category       *memory.CategoryPath
	Tags           []string
	UpdatedAfter   *time.Time
	UpdatedBefore  *time.Time
	IncludeExpired bool
	SortBy         store.SortField
	SortOrder      store.SortOrder
	Limit          int
	Offset         int
}

// Query returns index entries matching the filter, ordered stably with
// ties broken on path ascending.
func Query(adapter *store.Adapter, ctx *Context, input QueryInput) ([]store.IndexEntry, error) {
	entries, queryErr := adapter.Index.Query(store.Filter{
		Category:       input.Category,
		Tags:           input.Tags,
		UpdatedAfter:   input.UpdatedAfter,
		UpdatedBefore:  input.UpdatedBefore,
		IncludeExpired: input.IncludeExpired,
		SortBy:         input.SortBy,
		SortOrder:      input.SortOrder,
		Limit:          input.Limit,
		Offset:         input.Offset,
		Now:            ctx.now(),
	})
	if queryErr != nil {
		return nil, storageError("querying index", queryErr).withStore(ctx.Store.Name)
	}

	return entries, nil
}

// ListOptions configures ListMemories.
type ListOptions struct {
	IncludeExpired bool
}

// ListResult is the projection of one category: its direct memories and
// direct subcategories.
type ListResult struct {
	Memories      []store.IndexEntry
	Subcategories []store.SubcategoryEntry
}

// ListMemories reads the index projection for category. Expired entries
// are excluded unless asked for. An empty store lists empty, not an error.
func ListMemories(adapter *store.Adapter, ctx *Context, category memory.CategoryPath, opts ListOptions) (ListResult, error) {
	index, loadErr := adapter.Index.Load(category)
	if loadErr != nil {
		return ListResult{}, storageError("loading index", loadErr).withPath(category.String())
	}

	now := ctx.now()
	memories := make([]store.IndexEntry, 0, len(index.Memories))

	for _, entry := range index.Memories {
		if !opts.IncludeExpired && entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
			continue
		}

		memories = append(memories, entry)
	}

	return ListResult{
		Memories:      memories,
		Subcategories: index.Subcategories,
	}, nil
}

// RecentOptions configures GetRecentMemories.
type RecentOptions struct {
	Category       *memory.CategoryPath
	Limit          int
	IncludeExpired bool
}

// RecentMemory pairs a path with its fully loaded memory.
type RecentMemory struct {
	Path   memory.MemoryPath
	Memory memory.Memory
}

// GetRecentMemories returns the most recently updated memories with full
// content loaded. Entries missing updatedAt sort last (stale index rows).
// Rows whose file vanished since indexing are skipped.
func GetRecentMemories(adapter *store.Adapter, ctx *Context, opts RecentOptions) ([]RecentMemory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	entries, queryErr := Query(adapter, ctx, QueryInput{
		Category:       opts.Category,
		IncludeExpired: opts.IncludeExpired,
		SortBy:         store.SortByUpdatedAt,
		SortOrder:      store.SortDesc,
		Limit:          limit,
	})
	if queryErr != nil {
		return nil, queryErr
	}

	out := make([]RecentMemory, 0, len(entries))

	for _, entry := range entries {
		loaded, loadErr := adapter.Memories.Load(entry.Path)
		if loadErr != nil {
			if errors.Is(loadErr, store.ErrMemoryNotFound) {
				continue // stale index row; reindex reconciles
			}

			return nil, storageError("reading memory", loadErr).withPath(entry.Path.String())
		}

		out = append(out, RecentMemory{Path: entry.Path, Memory: loaded})
	}

	return out, nil
}

// Reindex rebuilds the derived index under scope from the filesystem.
func Reindex(adapter *store.Adapter, ctx *Context, scope memory.CategoryPath) (store.ReindexResult, error) {
	result, reindexErr := adapter.Index.Reindex(scope)
	if reindexErr != nil {
		return store.ReindexResult{}, storageError("reindexing", reindexErr).
			withPath(scope.String()).withStore(ctx.Store.Name)
	}

	return result, nil
}
