// Package store provides the durable I/O ports for a single memory store
// root: memory files, category directories, and the derived index in either
// of its two physical layouts (SQLite aggregate or legacy YAML-per-category).
//
// Ports carry no business policy. Domain rules (category modes, protection,
// prune semantics) live in internal/cortex; this package only guarantees
// durability, atomicity, and faithful projection of the filesystem. The
// filesystem is the source of truth; every index is rebuildable.
package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/yeseh/cortex/internal/memory"
)

// Port-level sentinel errors. The domain layer wraps these into coded errors.
var (
	ErrMemoryExists     = errors.New("memory file already exists")
	ErrMemoryNotFound   = errors.New("memory not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryNotEmpty = errors.New("category is not empty")
	ErrIndexCorrupt     = errors.New("index is corrupt")
)

// MemoryStore is the durable port for memory files.
type MemoryStore interface {
	// Load reads and parses the memory at path.
	Load(path memory.MemoryPath) (memory.Memory, error)

	// Add writes a new memory. Fails with ErrMemoryExists if the
	// destination is already present.
	Add(path memory.MemoryPath, m *memory.Memory) error

	// Save upserts the memory at path.
	Save(path memory.MemoryPath, m *memory.Memory) error

	// Remove deletes the memory file. Removing an absent path is a no-op.
	Remove(path memory.MemoryPath) error

	// Move relocates a memory. Rename where possible, otherwise
	// copy+delete with rollback on failure.
	Move(src, dst memory.MemoryPath) error

	// Exists reports whether a memory file is present at path.
	Exists(path memory.MemoryPath) (bool, error)
}

// IndexEntry is the per-memory row cached in the derived index.
type IndexEntry struct {
	Path          memory.MemoryPath
	Tags          []string
	TokenEstimate int
	Source        string
	Summary       string
	CreatedAt     time.Time
	UpdatedAt     time.Time // zero when the index predates updated_at tracking
	ExpiresAt     *time.Time
}

// SubcategoryEntry summarizes a child category in its parent's index.
type SubcategoryEntry struct {
	Path        memory.CategoryPath
	MemoryCount int // memories in the subtree, transitive
	Description string
}

// CategoryIndex is the per-category index projection.
type CategoryIndex struct {
	Memories      []IndexEntry
	Subcategories []SubcategoryEntry
}

// ReindexResult reports what a reindex run did.
type ReindexResult struct {
	Indexed  int
	Warnings []string
}

// UpdateOptions configures surgical index updates after a memory write.
type UpdateOptions struct {
	// CreateWhenMissing upserts ancestor subcategory entries that are not
	// yet present in their parent's projection.
	CreateWhenMissing bool
}

// SortField selects the query sort key.
type SortField string

// SortOrder selects ascending or descending order.
type SortOrder string

// Query sort fields and orders.
const (
	SortByUpdatedAt SortField = "updatedAt"
	SortByCreatedAt SortField = "createdAt"
	SortByPath      SortField = "path"

	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Filter is the composable query predicate. All fields are optional and
// conjunctive. Now anchors expiry checks; domain operations always set it.
type Filter struct {
	Category       *memory.CategoryPath // restrict to category and descendants
	Tags           []string             // OR-match against any
	UpdatedAfter   *time.Time           // half-open: UpdatedAt >= UpdatedAfter
	UpdatedBefore  *time.Time           // half-open: UpdatedAt < UpdatedBefore
	IncludeExpired bool
	SortBy         SortField // default SortByUpdatedAt
	SortOrder      SortOrder // default SortDesc
	Limit          int       // 0 = no limit
	Offset         int
	Now            time.Time
}

// IndexStore is the derived-state port. Both physical layouts implement it
// and share one contract test suite.
type IndexStore interface {
	// Load reads the projection for one category. A category with no
	// projection yields an empty index, not an error.
	Load(category memory.CategoryPath) (CategoryIndex, error)

	// Write replaces the projection for one category.
	Write(category memory.CategoryPath, index CategoryIndex) error

	// Reindex rebuilds the projection under scope from the filesystem.
	// Idempotent; the only operation that deletes derived state wholesale.
	Reindex(scope memory.CategoryPath) (ReindexResult, error)

	// UpdateAfterMemoryWrite upserts the memory's row and, when
	// opts.CreateWhenMissing is set, ensures each ancestor category has a
	// subcategory entry in its parent. It never modifies descriptions.
	UpdateAfterMemoryWrite(path memory.MemoryPath, m *memory.Memory, opts UpdateOptions) error

	// RemoveEntry deletes the memory's row. If its category is left with
	// zero memories and zero subcategories, the subcategory entry is
	// removed from the parent, recursively up to the root. Directories
	// are untouched.
	RemoveEntry(path memory.MemoryPath) error

	// RemoveCategory drops the projection for category and its subtree,
	// including the parent's subcategory entry.
	RemoveCategory(category memory.CategoryPath) error

	// EnsureCategory emits subcategory entries for category and its
	// ancestors in their parents' projections. Existing entries,
	// including descriptions, are untouched.
	EnsureCategory(category memory.CategoryPath) error

	// SetDescription stores category's description in its parent's
	// projection, creating the subcategory entry if absent.
	SetDescription(category memory.CategoryPath, description string) error

	// Query returns entries matching filter, ordered per the filter with
	// ties broken on path ascending.
	Query(filter Filter) ([]IndexEntry, error)

	// Close releases index resources (database handles).
	Close() error
}

// CategoryStore is the durable port for category directories. Description
// and subcategory-entry maintenance delegate to the index layout, since
// both physical layouts keep those in index structures.
type CategoryStore interface {
	// Exists reports whether the category directory is present.
	// The root always exists.
	Exists(path memory.CategoryPath) (bool, error)

	// Ensure creates the category directory and ancestors. Idempotent.
	Ensure(path memory.CategoryPath) error

	// Delete removes the category directory. A non-empty category fails
	// with ErrCategoryNotEmpty unless recursive is set.
	Delete(path memory.CategoryPath, recursive bool) error

	// UpdateSubcategoryDescription stores child's description in parent's
	// projection.
	UpdateSubcategoryDescription(parent memory.CategoryPath, child memory.Slug, description string) error

	// RemoveSubcategoryEntry drops child's entry from parent's projection.
	RemoveSubcategoryEntry(parent memory.CategoryPath, child memory.Slug) error
}

// IndexLayout selects the physical index representation for a store.
type IndexLayout string

// Index layouts. SQLite is the forward target; YAML is kept for stores
// written by earlier versions.
const (
	IndexSQLite IndexLayout = "sqlite"
	IndexYAML   IndexLayout = "yaml"
)

// ParseIndexLayout validates a config-supplied layout name.
func ParseIndexLayout(s string) (IndexLayout, error) {
	switch s {
	case "", string(IndexSQLite):
		return IndexSQLite, nil
	case string(IndexYAML):
		return IndexYAML, nil
	default:
		return "", errors.New("unknown index layout: " + s)
	}
}

// Options configures Open.
type Options struct {
	// Layout selects the index representation. Defaults to IndexSQLite.
	Layout IndexLayout
}

// Adapter bundles all ports bound to one store root. It owns the index
// resources for the duration of a request; domain operations take it by
// reference and never retain it.
type Adapter struct {
	Root       string
	Memories   MemoryStore
	Index      IndexStore
	Categories CategoryStore
}

// Open binds all ports to the store rooted at root. The root directory is
// created if absent.
func Open(root string, opts Options) (*Adapter, error) {
	layout := opts.Layout
	if layout == "" {
		layout = IndexSQLite
	}

	mkdirErr := os.MkdirAll(root, dirPerms)
	if mkdirErr != nil {
		return nil, fmt.Errorf("open store: %w", mkdirErr)
	}

	var (
		index IndexStore
		err   error
	)

	switch layout {
	case IndexSQLite:
		index, err = openSQLiteIndex(root)
	case IndexYAML:
		index = newYAMLIndex(root)
	default:
		return nil, errors.New("unknown index layout: " + string(layout))
	}

	if err != nil {
		return nil, err
	}

	return &Adapter{
		Root:       root,
		Memories:   newFSMemoryStore(root),
		Index:      index,
		Categories: newFSCategoryStore(root, index),
	}, nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.Index.Close()
}

// applyFilter is the single implementation of query semantics shared by
// both index layouts: conjunctive predicates, stable ordering with path
// tiebreak, then offset/limit.
func applyFilter(entries []IndexEntry, filter Filter) []IndexEntry {
	matched := make([]IndexEntry, 0, len(entries))

	for _, entry := range entries {
		if filter.Category != nil && !entry.Path.InCategory(*filter.Category) {
			continue
		}

		if !memory.HasAnyTag(entry.Tags, filter.Tags) {
			continue
		}

		if filter.UpdatedAfter != nil && entry.UpdatedAt.Before(*filter.UpdatedAfter) {
			continue
		}

		if filter.UpdatedBefore != nil && !entry.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}

		if !filter.IncludeExpired && entry.ExpiresAt != nil && !entry.ExpiresAt.After(filter.Now) {
			continue
		}

		matched = append(matched, entry)
	}

	sortEntries(matched, filter.SortBy, filter.SortOrder)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []IndexEntry{}
		}

		matched = matched[filter.Offset:]
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched
}

// sortEntries orders entries per the filter. Entries missing updatedAt sort
// last regardless of direction (stale index rows). Ties break on path
// ascending.
func sortEntries(entries []IndexEntry, field SortField, order SortOrder) {
	if field == "" {
		field = SortByUpdatedAt
	}

	if order == "" {
		order = SortDesc
	}

	desc := order == SortDesc

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]

		switch field {
		case SortByPath:
			if desc {
				return a.Path.String() > b.Path.String()
			}

			return a.Path.String() < b.Path.String()
		case SortByCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				if desc {
					return a.CreatedAt.After(b.CreatedAt)
				}

				return a.CreatedAt.Before(b.CreatedAt)
			}
		default: // SortByUpdatedAt
			aZero, bZero := a.UpdatedAt.IsZero(), b.UpdatedAt.IsZero()
			if aZero != bZero {
				return bZero // missing updatedAt sorts last
			}

			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				if desc {
					return a.UpdatedAt.After(b.UpdatedAt)
				}

				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		}

		return a.Path.String() < b.Path.String()
	})
}

// entryFromMemory projects a memory into its index row.
func entryFromMemory(path memory.MemoryPath, m *memory.Memory) IndexEntry {
	return IndexEntry{
		Path:          path,
		Tags:          append([]string(nil), m.Metadata.Tags...),
		TokenEstimate: memory.TokenEstimate(m.Content),
		Source:        m.Metadata.Source,
		Summary:       summarize(m.Content),
		CreatedAt:     m.Metadata.CreatedAt,
		UpdatedAt:     m.Metadata.UpdatedAt,
		ExpiresAt:     m.Metadata.ExpiresAt,
	}
}

// summarize derives the index summary for a memory body: the first
// non-empty, non-heading-marker line, truncated.
func summarize(content string) string {
	const maxSummary = 120

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(line, "# "))
		if trimmed == "" {
			continue
		}

		if len(trimmed) > maxSummary {
			return trimmed[:maxSummary]
		}

		return trimmed
	}

	return ""
}
