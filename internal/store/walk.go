package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/yeseh/cortex/internal/memory"
)

// scannedMemory is one memory file discovered by the reindex walk.
type scannedMemory struct {
	path  memory.MemoryPath
	file  string
	entry IndexEntry
}

// scanResult is what the walk hands to the index layouts.
type scanResult struct {
	memories []scannedMemory
	warnings []string
}

const scanWorkers = 16

// scanMemories walks the store subtree under scope and derives the canonical
// index rows from ground truth. Files whose slug path normalizes to nothing
// are skipped with a warning; slug collisions are disambiguated with -2, -3,
// … suffixes on the leaf; frontmatter parse failures degrade to best-effort
// rows. This is the projection reindex persists.
func scanMemories(root string, scope memory.CategoryPath) (scanResult, error) {
	scopeDir := categoryDirPath(root, scope)

	_, statErr := os.Stat(scopeDir)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return scanResult{}, nil
		}

		return scanResult{}, fmt.Errorf("stat scope %s: %w", scope, statErr)
	}

	var (
		result scanResult
		files  []string // absolute paths, sorted for deterministic suffixes
	)

	walkErr := filepath.WalkDir(scopeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()

		if d.IsDir() {
			if name == locksDirName || (strings.HasPrefix(name, ".") && path != scopeDir) {
				return filepath.SkipDir
			}

			return nil
		}

		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, memoryFileExt) {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if walkErr != nil {
		return scanResult{}, fmt.Errorf("walking store: %w", walkErr)
	}

	sort.Strings(files)

	// Normalize paths and resolve collisions before parsing, so suffix
	// assignment does not depend on parse outcomes.
	taken := make(map[string]struct{}, len(files))
	kept := make([]scannedMemory, 0, len(files))

	for _, file := range files {
		slugPath, normWarn := normalizeFilePath(root, file)
		if normWarn != "" {
			result.warnings = append(result.warnings, normWarn)

			continue
		}

		if _, collision := taken[slugPath.String()]; collision {
			original := slugPath

			for suffix := 2; ; suffix++ {
				category, leaf := original.Split()

				candidate, slugErr := memory.ParseSlug(leaf.String() + "-" + strconv.Itoa(suffix))
				if slugErr != nil {
					break
				}

				slugPath = category.Memory(candidate)
				if _, exists := taken[slugPath.String()]; !exists {
					break
				}
			}

			result.warnings = append(result.warnings,
				fmt.Sprintf("%s: slug path %s already taken, indexed as %s", file, original, slugPath))
		}

		taken[slugPath.String()] = struct{}{}
		kept = append(kept, scannedMemory{path: slugPath, file: file, entry: IndexEntry{Path: slugPath}})
	}

	// Parse frontmatter in parallel; failures degrade to best-effort rows.
	type parseJob struct {
		idx  int
		file string
	}

	jobs := make(chan parseJob, scanWorkers)
	warnings := make([]string, len(kept))

	var waitGroup sync.WaitGroup

	workerCount := min(len(kept), scanWorkers)

	worker := func() {
		defer waitGroup.Done()

		for job := range jobs {
			raw, readErr := os.ReadFile(job.file)
			if readErr != nil {
				warnings[job.idx] = fmt.Sprintf("%s: %v", job.file, readErr)

				continue
			}

			parsed, parseErr := memory.Parse(raw)
			if parseErr != nil {
				warnings[job.idx] = fmt.Sprintf("%s: %v", job.file, parseErr)

				// Best-effort row: token estimate from the raw bytes,
				// no timestamps or tags.
				kept[job.idx].entry.TokenEstimate = memory.TokenEstimate(string(raw))
				kept[job.idx].entry.Summary = summarize(string(raw))

				continue
			}

			kept[job.idx].entry = entryFromMemory(kept[job.idx].path, &parsed)
		}
	}

	waitGroup.Add(workerCount)

	for range workerCount {
		go worker()
	}

	for idx := range kept {
		jobs <- parseJob{idx: idx, file: kept[idx].file}
	}

	close(jobs)
	waitGroup.Wait()

	for _, warning := range warnings {
		if warning != "" {
			result.warnings = append(result.warnings, warning)
		}
	}

	result.memories = kept

	return result, nil
}

// normalizeFilePath derives the canonical slug path for a memory file,
// normalizing each path segment. Returns a warning message when any segment
// normalizes to nothing.
func normalizeFilePath(root, file string) (memory.MemoryPath, string) {
	rel, relErr := filepath.Rel(root, file)
	if relErr != nil {
		return memory.MemoryPath{}, fmt.Sprintf("%s: %v", file, relErr)
	}

	rel = strings.TrimSuffix(filepath.ToSlash(rel), memoryFileExt)
	segments := strings.Split(rel, "/")

	normalized := make([]memory.Slug, 0, len(segments))

	for _, segment := range segments {
		slug, normErr := memory.NormalizeSlug(segment)
		if normErr != nil {
			return memory.MemoryPath{}, fmt.Sprintf("%s: segment %q: %v", file, segment, normErr)
		}

		normalized = append(normalized, slug)
	}

	category := memory.RootCategory()
	for _, slug := range normalized[:len(normalized)-1] {
		category = category.Join(slug)
	}

	return category.Memory(normalized[len(normalized)-1]), ""
}

// categoryTree aggregates scanned memories into per-category projections.
// Only memory-bearing categories (transitively) appear; reindex drops
// entries for categories whose subtree holds no memories.
type categoryTree struct {
	// indexes maps category path string ("" = root) to its projection.
	indexes map[string]*CategoryIndex
	// counts maps category path string to its transitive memory count.
	counts map[string]int
}

// buildTree groups scanned memories into per-category indexes with
// subcategory aggregates along each memory's ancestor chain up to the root.
func buildTree(scanned []scannedMemory) categoryTree {
	tree := categoryTree{
		indexes: map[string]*CategoryIndex{"": {}},
		counts:  map[string]int{},
	}

	ensure := func(key string) *CategoryIndex {
		index, ok := tree.indexes[key]
		if !ok {
			index = &CategoryIndex{}
			tree.indexes[key] = index
		}

		return index
	}

	for _, item := range scanned {
		category := item.path.Category()

		index := ensure(category.String())
		index.Memories = append(index.Memories, item.entry)

		// Transitive counts for the category and every ancestor.
		tree.counts[category.String()]++

		for _, ancestor := range category.Ancestors() {
			tree.counts[ancestor.String()]++
		}

		if !category.IsRoot() {
			tree.counts[rootKey]++ // tracked for completeness; root has no entry
		}
	}

	// Materialize the subcategory chains.
	for _, item := range scanned {
		category := item.path.Category()
		if category.IsRoot() {
			continue
		}

		chain := append(category.Ancestors(), category)

		for _, link := range chain {
			parent := link.Parent()
			parentIndex := ensure(parent.String())

			if !hasSubcategory(parentIndex, link) {
				parentIndex.Subcategories = append(parentIndex.Subcategories, SubcategoryEntry{
					Path:        link,
					MemoryCount: tree.counts[link.String()],
				})
			}

			ensure(link.String())
		}
	}

	for _, index := range tree.indexes {
		sort.Slice(index.Memories, func(i, j int) bool {
			return index.Memories[i].Path.String() < index.Memories[j].Path.String()
		})
		sort.Slice(index.Subcategories, func(i, j int) bool {
			return index.Subcategories[i].Path.String() < index.Subcategories[j].Path.String()
		})
	}

	return tree
}

const rootKey = ""

func hasSubcategory(index *CategoryIndex, path memory.CategoryPath) bool {
	for _, sub := range index.Subcategories {
		if sub.Path.Equal(path) {
			return true
		}
	}

	return false
}
