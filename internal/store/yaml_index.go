package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/yeseh/cortex/internal/memory"
)

// yamlIndex is the legacy layout: one index.yaml per indexed category plus
// the root. It has no inter-process coordination beyond a store-wide flock
// around writers; concurrent writers from separate processes can still race
// between lock acquisitions, which is a known trade-off of this layout.
// Reindex is the recovery path.
type yamlIndex struct {
	root string
}

func newYAMLIndex(root string) *yamlIndex {
	return &yamlIndex{root: root}
}

// yamlIndexFile is the on-disk shape of index.yaml.
type yamlIndexFile struct {
	Memories      []yamlMemoryEntry      `yaml:"memories"`
	Subcategories []yamlSubcategoryEntry `yaml:"subcategories,omitempty"`
}

type yamlMemoryEntry struct {
	Path          string   `yaml:"path"`
	TokenEstimate int      `yaml:"token_estimate"`
	Source        string   `yaml:"source,omitempty"`
	Summary       string   `yaml:"summary,omitempty"`
	Tags          []string `yaml:"tags"`
	CreatedAt     string   `yaml:"created_at,omitempty"`
	UpdatedAt     string   `yaml:"updated_at,omitempty"`
	ExpiresAt     string   `yaml:"expires_at,omitempty"`
}

type yamlSubcategoryEntry struct {
	Path        string `yaml:"path"`
	MemoryCount int    `yaml:"memory_count"`
	Description string `yaml:"description,omitempty"`
}

// Close is a no-op; the YAML layout holds no resources between calls.
func (y *yamlIndex) Close() error { return nil }

// Load reads the projection for one category. Missing files yield an empty
// index.
func (y *yamlIndex) Load(category memory.CategoryPath) (CategoryIndex, error) {
	raw, readErr := os.ReadFile(categoryIndexPath(y.root, category))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return CategoryIndex{}, nil
		}

		return CategoryIndex{}, fmt.Errorf("load index %s: %w", category, readErr)
	}

	var file yamlIndexFile

	unmarshalErr := yaml.Unmarshal(raw, &file)
	if unmarshalErr != nil {
		return CategoryIndex{}, fmt.Errorf("%w: index %s: %v", ErrIndexCorrupt, category, unmarshalErr)
	}

	return indexFromYAML(file)
}

// Write replaces the projection for one category. Empty projections remove
// the file instead of leaving a stale husk behind.
func (y *yamlIndex) Write(category memory.CategoryPath, index CategoryIndex) error {
	return withLock(y.root, "index", func() error {
		return y.writeLocked(category, index)
	})
}

func (y *yamlIndex) writeLocked(category memory.CategoryPath, index CategoryIndex) error {
	path := categoryIndexPath(y.root, category)

	if len(index.Memories) == 0 && len(index.Subcategories) == 0 {
		removeErr := os.Remove(path)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("write index %s: %w", category, removeErr)
		}

		return nil
	}

	mkdirErr := os.MkdirAll(filepath.Dir(path), dirPerms)
	if mkdirErr != nil {
		return fmt.Errorf("write index %s: %w", category, mkdirErr)
	}

	encoded, marshalErr := yaml.Marshal(indexToYAML(index))
	if marshalErr != nil {
		return fmt.Errorf("write index %s: %w", category, marshalErr)
	}

	writeErr := atomic.WriteFile(path, bytes.NewReader(encoded))
	if writeErr != nil {
		return fmt.Errorf("write index %s: %w", category, writeErr)
	}

	return nil
}

// UpdateAfterMemoryWrite upserts the memory's row in its category index and
// walks the ancestor chain maintaining subcategory entries and transitive
// counts. Existing descriptions are carried over untouched.
func (y *yamlIndex) UpdateAfterMemoryWrite(path memory.MemoryPath, m *memory.Memory, opts UpdateOptions) error {
	return withLock(y.root, "index", func() error {
		category := path.Category()

		index, loadErr := y.Load(category)
		if loadErr != nil {
			return loadErr
		}

		isNew := upsertMemoryEntry(&index, entryFromMemory(path, m))

		writeErr := y.writeLocked(category, index)
		if writeErr != nil {
			return writeErr
		}

		if !opts.CreateWhenMissing && !isNew {
			return nil
		}

		return y.ensureAncestorEntries(category, isNew, opts.CreateWhenMissing)
	})
}

// ensureAncestorEntries walks from category to the root, upserting the
// subcategory entry in each parent and bumping counts when a new memory
// was added. Missing entries are only created when createMissing is set.
func (y *yamlIndex) ensureAncestorEntries(category memory.CategoryPath, countDelta, createMissing bool) error {
	for link := category; !link.IsRoot(); link = link.Parent() {
		parent := link.Parent()

		parentIndex, loadErr := y.Load(parent)
		if loadErr != nil {
			return loadErr
		}

		found := false

		for i := range parentIndex.Subcategories {
			if parentIndex.Subcategories[i].Path.Equal(link) {
				if countDelta {
					parentIndex.Subcategories[i].MemoryCount++
				}

				found = true

				break
			}
		}

		if !found {
			if !createMissing {
				continue
			}

			count := 0
			if countDelta {
				count = 1
			}

			parentIndex.Subcategories = append(parentIndex.Subcategories, SubcategoryEntry{
				Path:        link,
				MemoryCount: count,
			})
		}

		writeErr := y.writeLocked(parent, parentIndex)
		if writeErr != nil {
			return writeErr
		}
	}

	return nil
}

// RemoveEntry drops the memory's row and unwinds empty subcategory entries
// toward the root, decrementing transitive counts along the way.
func (y *yamlIndex) RemoveEntry(path memory.MemoryPath) error {
	return withLock(y.root, "index", func() error {
		category := path.Category()

		index, loadErr := y.Load(category)
		if loadErr != nil {
			return loadErr
		}

		removed := removeMemoryEntry(&index, path)

		writeErr := y.writeLocked(category, index)
		if writeErr != nil {
			return writeErr
		}

		if !removed {
			return nil
		}

		// Walk up the chain: each parent's entry for the child loses one
		// from its transitive count, or disappears entirely once the
		// child's projection is empty.
		dropChildEntry := len(index.Memories) == 0 && len(index.Subcategories) == 0

		for link := category; !link.IsRoot(); link = link.Parent() {
			parent := link.Parent()

			parentIndex, parentErr := y.Load(parent)
			if parentErr != nil {
				return parentErr
			}

			for i := range parentIndex.Subcategories {
				if !parentIndex.Subcategories[i].Path.Equal(link) {
					continue
				}

				if dropChildEntry {
					parentIndex.Subcategories = append(
						parentIndex.Subcategories[:i], parentIndex.Subcategories[i+1:]...)
				} else if parentIndex.Subcategories[i].MemoryCount > 0 {
					parentIndex.Subcategories[i].MemoryCount--
				}

				break
			}

			parentWriteErr := y.writeLocked(parent, parentIndex)
			if parentWriteErr != nil {
				return parentWriteErr
			}

			dropChildEntry = len(parentIndex.Memories) == 0 && len(parentIndex.Subcategories) == 0
		}

		return nil
	})
}

// RemoveCategory drops index files for category's subtree and the entry in
// its parent chain.
func (y *yamlIndex) RemoveCategory(category memory.CategoryPath) error {
	if category.IsRoot() {
		return errors.New("remove category: refusing to drop the root projection")
	}

	return withLock(y.root, "index", func() error {
		// Count the memories the subtree contributed before dropping it,
		// so ancestor counts stay consistent.
		removedCount, countErr := y.subtreeMemoryCount(category)
		if countErr != nil {
			return countErr
		}

		dir := categoryDirPath(y.root, category)

		walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}

				return err
			}

			if !d.IsDir() && d.Name() == indexFileName {
				return os.Remove(path)
			}

			return nil
		})
		if walkErr != nil && !os.IsNotExist(walkErr) {
			return fmt.Errorf("remove category %s: %w", category, walkErr)
		}

		for link := category; !link.IsRoot(); link = link.Parent() {
			parent := link.Parent()

			parentIndex, loadErr := y.Load(parent)
			if loadErr != nil {
				return loadErr
			}

			changed := false

			for i := range parentIndex.Subcategories {
				if !parentIndex.Subcategories[i].Path.Equal(link) {
					continue
				}

				if link.Equal(category) {
					parentIndex.Subcategories = append(
						parentIndex.Subcategories[:i], parentIndex.Subcategories[i+1:]...)
				} else {
					parentIndex.Subcategories[i].MemoryCount -= removedCount
					if parentIndex.Subcategories[i].MemoryCount < 0 {
						parentIndex.Subcategories[i].MemoryCount = 0
					}
				}

				changed = true

				break
			}

			if changed {
				writeErr := y.writeLocked(parent, parentIndex)
				if writeErr != nil {
					return writeErr
				}
			}
		}

		return nil
	})
}

func (y *yamlIndex) subtreeMemoryCount(category memory.CategoryPath) (int, error) {
	entries, collectErr := y.collectEntries()
	if collectErr != nil {
		return 0, collectErr
	}

	count := 0

	for _, entry := range entries {
		if entry.Path.InCategory(category) {
			count++
		}
	}

	return count, nil
}

// EnsureCategory emits subcategory entries for category and its ancestors,
// leaving existing entries untouched.
func (y *yamlIndex) EnsureCategory(category memory.CategoryPath) error {
	if category.IsRoot() {
		return nil
	}

	return withLock(y.root, "index", func() error {
		return y.ensureAncestorEntries(category, false, true)
	})
}

// SetDescription stores the description on the subcategory entry in the
// parent's index, creating the entry if needed.
func (y *yamlIndex) SetDescription(category memory.CategoryPath, description string) error {
	if category.IsRoot() {
		return errors.New("set description: the root category has no parent entry")
	}

	return withLock(y.root, "index", func() error {
		parent := category.Parent()

		parentIndex, loadErr := y.Load(parent)
		if loadErr != nil {
			return loadErr
		}

		for i := range parentIndex.Subcategories {
			if parentIndex.Subcategories[i].Path.Equal(category) {
				parentIndex.Subcategories[i].Description = description

				return y.writeLocked(parent, parentIndex)
			}
		}

		parentIndex.Subcategories = append(parentIndex.Subcategories, SubcategoryEntry{
			Path:        category,
			Description: description,
		})

		return y.writeLocked(parent, parentIndex)
	})
}

// Query collects entries from every index file and applies the shared
// filter semantics.
func (y *yamlIndex) Query(filter Filter) ([]IndexEntry, error) {
	entries, collectErr := y.collectEntries()
	if collectErr != nil {
		return nil, collectErr
	}

	return applyFilter(entries, filter), nil
}

func (y *yamlIndex) collectEntries() ([]IndexEntry, error) {
	var entries []IndexEntry

	walkErr := filepath.WalkDir(y.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			if d.Name() == locksDirName {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Name() != indexFileName {
			return nil
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}

		var file yamlIndexFile

		unmarshalErr := yaml.Unmarshal(raw, &file)
		if unmarshalErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrIndexCorrupt, path, unmarshalErr)
		}

		index, convertErr := indexFromYAML(file)
		if convertErr != nil {
			return fmt.Errorf("%s: %w", path, convertErr)
		}

		entries = append(entries, index.Memories...)

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("query index: %w", walkErr)
	}

	return entries, nil
}

// Reindex rebuilds every index file under scope from the filesystem and
// removes files that no longer correspond to any memory. Descriptions of
// surviving categories carry over.
func (y *yamlIndex) Reindex(scope memory.CategoryPath) (ReindexResult, error) {
	var result ReindexResult

	lockErr := withLock(y.root, "index", func() error {
		scanned, scanErr := scanMemories(y.root, scope)
		if scanErr != nil {
			return scanErr
		}

		result.Warnings = scanned.warnings

		tree := buildTree(scanned.memories)

		descriptions, descErr := y.descriptionsUnder(scope)
		if descErr != nil {
			return descErr
		}

		// Remove stale index files first so vanished categories lose their
		// projection even if their directories linger.
		staleErr := y.removeStaleIndexFiles(scope, tree)
		if staleErr != nil {
			return staleErr
		}

		for key, index := range tree.indexes {
			categoryPath, parseErr := memory.ParseCategoryPath(key)
			if parseErr != nil {
				return parseErr
			}

			if !inScope(categoryPath, scope) {
				continue
			}

			for i := range index.Subcategories {
				if desc, ok := descriptions[index.Subcategories[i].Path.String()]; ok {
					index.Subcategories[i].Description = desc
				}
			}

			result.Indexed += len(index.Memories)

			writeErr := y.writeLocked(categoryPath, *index)
			if writeErr != nil {
				return writeErr
			}
		}

		if scope.IsRoot() {
			return nil
		}

		// A scoped rebuild only touches the subtree; refresh the scope's
		// entry in its direct parent so the count and presence stay honest
		// without rewriting sibling projections.
		return y.refreshParentEntry(scope, tree.counts[scope.String()])
	})
	if lockErr != nil {
		return ReindexResult{}, fmt.Errorf("reindex: %w", lockErr)
	}

	return result, nil
}

// refreshParentEntry upserts or removes the subcategory entry for category
// in its direct parent after a scoped rebuild. Descriptions carry over.
func (y *yamlIndex) refreshParentEntry(category memory.CategoryPath, count int) error {
	parent := category.Parent()

	parentIndex, loadErr := y.Load(parent)
	if loadErr != nil {
		return loadErr
	}

	scopeIndex, scopeErr := y.Load(category)
	if scopeErr != nil {
		return scopeErr
	}

	keep := count > 0 || len(scopeIndex.Subcategories) > 0

	found := false

	for i := range parentIndex.Subcategories {
		if !parentIndex.Subcategories[i].Path.Equal(category) {
			continue
		}

		if keep {
			parentIndex.Subcategories[i].MemoryCount = count
		} else {
			parentIndex.Subcategories = append(
				parentIndex.Subcategories[:i], parentIndex.Subcategories[i+1:]...)
		}

		found = true

		break
	}

	if !found && keep {
		parentIndex.Subcategories = append(parentIndex.Subcategories, SubcategoryEntry{
			Path:        category,
			MemoryCount: count,
		})
	}

	return y.writeLocked(parent, parentIndex)
}

// descriptionsUnder gathers existing subcategory descriptions so a rebuild
// does not erase them for categories that still exist.
func (y *yamlIndex) descriptionsUnder(scope memory.CategoryPath) (map[string]string, error) {
	out := make(map[string]string)

	walkErr := filepath.WalkDir(categoryDirPath(y.root, scope), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			if d.Name() == locksDirName {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Name() != indexFileName {
			return nil
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}

		var file yamlIndexFile

		// Corrupt files are about to be rebuilt; skip quietly.
		if yaml.Unmarshal(raw, &file) != nil {
			return nil
		}

		for _, sub := range file.Subcategories {
			if sub.Description != "" {
				out[sub.Path] = sub.Description
			}
		}

		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return out, nil
}

// removeStaleIndexFiles deletes index.yaml files for categories absent from
// the fresh projection (fixes stale subcategory entries).
func (y *yamlIndex) removeStaleIndexFiles(scope memory.CategoryPath, tree categoryTree) error {
	return filepath.WalkDir(categoryDirPath(y.root, scope), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if d.IsDir() {
			if d.Name() == locksDirName {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Name() != indexFileName {
			return nil
		}

		rel, relErr := filepath.Rel(y.root, filepath.Dir(path))
		if relErr != nil {
			return relErr
		}

		key := filepath.ToSlash(rel)
		if key == "." {
			key = rootKey
		}

		if _, keep := tree.indexes[key]; !keep {
			return os.Remove(path)
		}

		return nil
	})
}

func upsertMemoryEntry(index *CategoryIndex, entry IndexEntry) (isNew bool) {
	for i := range index.Memories {
		if index.Memories[i].Path.Equal(entry.Path) {
			index.Memories[i] = entry

			return false
		}
	}

	index.Memories = append(index.Memories, entry)

	return true
}

func removeMemoryEntry(index *CategoryIndex, path memory.MemoryPath) bool {
	for i := range index.Memories {
		if index.Memories[i].Path.Equal(path) {
			index.Memories = append(index.Memories[:i], index.Memories[i+1:]...)

			return true
		}
	}

	return false
}

func indexToYAML(index CategoryIndex) yamlIndexFile {
	file := yamlIndexFile{
		Memories: make([]yamlMemoryEntry, 0, len(index.Memories)),
	}

	for _, entry := range index.Memories {
		tags := entry.Tags
		if tags == nil {
			tags = []string{}
		}

		file.Memories = append(file.Memories, yamlMemoryEntry{
			Path:          entry.Path.String(),
			TokenEstimate: entry.TokenEstimate,
			Source:        entry.Source,
			Summary:       entry.Summary,
			Tags:          tags,
			CreatedAt:     formatTimeYAML(entry.CreatedAt),
			UpdatedAt:     formatTimeYAML(entry.UpdatedAt),
			ExpiresAt:     formatTimePtrYAML(entry.ExpiresAt),
		})
	}

	for _, sub := range index.Subcategories {
		file.Subcategories = append(file.Subcategories, yamlSubcategoryEntry{
			Path:        sub.Path.String(),
			MemoryCount: sub.MemoryCount,
			Description: sub.Description,
		})
	}

	return file
}

func indexFromYAML(file yamlIndexFile) (CategoryIndex, error) {
	var index CategoryIndex

	for _, raw := range file.Memories {
		path, parseErr := memory.ParseMemoryPath(raw.Path)
		if parseErr != nil {
			return CategoryIndex{}, fmt.Errorf("%w: memory entry %q: %v", ErrIndexCorrupt, raw.Path, parseErr)
		}

		createdAt, createdErr := parseTimeYAML(raw.CreatedAt)
		if createdErr != nil {
			return CategoryIndex{}, fmt.Errorf("%w: entry %q: %v", ErrIndexCorrupt, raw.Path, createdErr)
		}

		updatedAt, updatedErr := parseTimeYAML(raw.UpdatedAt)
		if updatedErr != nil {
			return CategoryIndex{}, fmt.Errorf("%w: entry %q: %v", ErrIndexCorrupt, raw.Path, updatedErr)
		}

		expiresAt, expiresErr := parseTimePtrYAML(raw.ExpiresAt)
		if expiresErr != nil {
			return CategoryIndex{}, fmt.Errorf("%w: entry %q: %v", ErrIndexCorrupt, raw.Path, expiresErr)
		}

		index.Memories = append(index.Memories, IndexEntry{
			Path:          path,
			Tags:          raw.Tags,
			TokenEstimate: raw.TokenEstimate,
			Source:        raw.Source,
			Summary:       raw.Summary,
			CreatedAt:     createdAt,
			UpdatedAt:     updatedAt,
			ExpiresAt:     expiresAt,
		})
	}

	for _, raw := range file.Subcategories {
		path, parseErr := memory.ParseCategoryPath(raw.Path)
		if parseErr != nil {
			return CategoryIndex{}, fmt.Errorf("%w: subcategory entry %q: %v", ErrIndexCorrupt, raw.Path, parseErr)
		}

		index.Subcategories = append(index.Subcategories, SubcategoryEntry{
			Path:        path,
			MemoryCount: raw.MemoryCount,
			Description: raw.Description,
		})
	}

	return index, nil
}

func formatTimeYAML(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

func formatTimePtrYAML(t *time.Time) string {
	if t == nil {
		return ""
	}

	return formatTimeYAML(*t)
}

func parseTimeYAML(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	parsed, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if parseErr != nil {
		return time.Time{}, parseErr
	}

	return parsed.UTC(), nil
}

func parseTimePtrYAML(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	parsed, parseErr := parseTimeYAML(s)
	if parseErr != nil {
		return nil, parseErr
	}

	return &parsed, nil
}
