package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/yeseh/cortex/internal/memory"
)

// The two index layouts satisfy one contract; every test here runs against
// both.

type indexFixture struct {
	name string
	open func(t *testing.T) (IndexStore, string)
}

func indexFixtures() []indexFixture {
	return []indexFixture{
		{
			name: "sqlite",
			open: func(t *testing.T) (IndexStore, string) {
				t.Helper()

				root := t.TempDir()

				index, err := openSQLiteIndex(root)
				require.NoError(t, err)
				t.Cleanup(func() { _ = index.Close() })

				return index, root
			},
		},
		{
			name: "yaml",
			open: func(t *testing.T) (IndexStore, string) {
				t.Helper()

				root := t.TempDir()

				return newYAMLIndex(root), root
			},
		},
	}
}

func fixedTime(t *testing.T, value string) time.Time {
	t.Helper()

	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return parsed.UTC()
}

func indexedMemory(t *testing.T, updatedAt string, tags ...string) memory.Memory {
	t.Helper()

	ts := fixedTime(t, updatedAt)

	return memory.Memory{
		Metadata: memory.Metadata{
			CreatedAt: ts,
			UpdatedAt: ts,
			Tags:      tags,
			Source:    "user",
		},
		Content: "indexed content\n",
	}
}

// writeOnDisk also writes the memory file so reindex sees ground truth.
func writeOnDisk(t *testing.T, root string, path memory.MemoryPath, m *memory.Memory) {
	t.Helper()

	mustMkdir(t, categoryDirPath(root, path.Category()))
	require.NoError(t, newFSMemoryStore(root).Save(path, m))
}

func TestIndexUpdateAndLoad(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			path := memory.MustMemoryPath("project/cortex/notes")
			record := indexedMemory(t, "2026-03-01T10:00:00Z", "a", "b")

			require.NoError(t, index.UpdateAfterMemoryWrite(path, &record, UpdateOptions{CreateWhenMissing: true}))

			loaded, err := index.Load(memory.MustCategoryPath("project/cortex"))
			require.NoError(t, err)
			require.Len(t, loaded.Memories, 1)

			entry := loaded.Memories[0]
			require.Equal(t, "project/cortex/notes", entry.Path.String())
			require.Equal(t, []string{"a", "b"}, entry.Tags)
			require.Equal(t, memory.TokenEstimate(record.Content), entry.TokenEstimate)
			require.Equal(t, "user", entry.Source)
			require.Equal(t, fixedTime(t, "2026-03-01T10:00:00Z"), entry.UpdatedAt)

			// Ancestor chain: root lists project, project lists cortex.
			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 1)
			require.Equal(t, "project", rootIndex.Subcategories[0].Path.String())
			require.Equal(t, 1, rootIndex.Subcategories[0].MemoryCount)

			projectIndex, err := index.Load(memory.MustCategoryPath("project"))
			require.NoError(t, err)
			require.Len(t, projectIndex.Subcategories, 1)
			require.Equal(t, "project/cortex", projectIndex.Subcategories[0].Path.String())
		})
	}
}

func TestIndexUpsertDoesNotDuplicate(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			path := memory.MustMemoryPath("project/notes")
			record := indexedMemory(t, "2026-03-01T10:00:00Z")

			require.NoError(t, index.UpdateAfterMemoryWrite(path, &record, UpdateOptions{CreateWhenMissing: true}))

			record.Metadata.UpdatedAt = fixedTime(t, "2026-03-02T10:00:00Z")
			require.NoError(t, index.UpdateAfterMemoryWrite(path, &record, UpdateOptions{CreateWhenMissing: true}))

			loaded, err := index.Load(memory.MustCategoryPath("project"))
			require.NoError(t, err)
			require.Len(t, loaded.Memories, 1)
			require.Equal(t, fixedTime(t, "2026-03-02T10:00:00Z"), loaded.Memories[0].UpdatedAt)

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 1)
			require.Equal(t, 1, rootIndex.Subcategories[0].MemoryCount)
		})
	}
}

func TestIndexRemoveEntryCleansOrphans(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			deep := memory.MustMemoryPath("a/b/c/leaf")
			other := memory.MustMemoryPath("a/other")

			recordDeep := indexedMemory(t, "2026-03-01T10:00:00Z")
			recordOther := indexedMemory(t, "2026-03-01T11:00:00Z")

			require.NoError(t, index.UpdateAfterMemoryWrite(deep, &recordDeep, UpdateOptions{CreateWhenMissing: true}))
			require.NoError(t, index.UpdateAfterMemoryWrite(other, &recordOther, UpdateOptions{CreateWhenMissing: true}))

			require.NoError(t, index.RemoveEntry(deep))

			// a/b and a/b/c are empty now; their entries must be gone, while
			// a survives because a/other is still indexed.
			aIndex, err := index.Load(memory.MustCategoryPath("a"))
			require.NoError(t, err)
			require.Len(t, aIndex.Memories, 1)
			require.Empty(t, aIndex.Subcategories, "a/b should no longer be listed")

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 1)
			require.Equal(t, "a", rootIndex.Subcategories[0].Path.String())
		})
	}
}

func TestIndexRemoveLastEntryClearsRoot(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			path := memory.MustMemoryPath("only/one")
			record := indexedMemory(t, "2026-03-01T10:00:00Z")

			require.NoError(t, index.UpdateAfterMemoryWrite(path, &record, UpdateOptions{CreateWhenMissing: true}))
			require.NoError(t, index.RemoveEntry(path))

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Empty(t, rootIndex.Memories)
			require.Empty(t, rootIndex.Subcategories)
		})
	}
}

func TestIndexDescriptionsSurviveMemoryWrites(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			category := memory.MustCategoryPath("project")
			require.NoError(t, index.EnsureCategory(category))
			require.NoError(t, index.SetDescription(category, "long-term project context"))

			record := indexedMemory(t, "2026-03-01T10:00:00Z")
			path := memory.MustMemoryPath("project/notes")
			require.NoError(t, index.UpdateAfterMemoryWrite(path, &record, UpdateOptions{CreateWhenMissing: true}))

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 1)
			require.Equal(t, "long-term project context", rootIndex.Subcategories[0].Description,
				"memory writes must not modify descriptions")
		})
	}
}

func TestIndexQuerySemantics(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			// Three memories, tags {a}, {a,b}, {c}, updated T1 < T2 < T3.
			seed := []struct {
				path    string
				updated string
				tags    []string
			}{
				{"work/first", "2026-01-01T00:00:00Z", []string{"a"}},
				{"work/second", "2026-02-01T00:00:00Z", []string{"a", "b"}},
				{"play/third", "2026-03-01T00:00:00Z", []string{"c"}},
			}

			for _, item := range seed {
				record := indexedMemory(t, item.updated, item.tags...)
				require.NoError(t, index.UpdateAfterMemoryWrite(
					memory.MustMemoryPath(item.path), &record, UpdateOptions{CreateWhenMissing: true}))
			}

			now := fixedTime(t, "2026-06-01T00:00:00Z")

			// Tag OR-match, newest first.
			entries, err := index.Query(Filter{
				Tags:      []string{"a"},
				SortBy:    SortByUpdatedAt,
				SortOrder: SortDesc,
				Now:       now,
			})
			require.NoError(t, err)
			require.Len(t, entries, 2)
			require.Equal(t, "work/second", entries[0].Path.String())
			require.Equal(t, "work/first", entries[1].Path.String())

			// Category restriction covers descendants.
			workCategory := memory.MustCategoryPath("work")
			entries, err = index.Query(Filter{Category: &workCategory, Now: now})
			require.NoError(t, err)
			require.Len(t, entries, 2)

			// Half-open updated range.
			after := fixedTime(t, "2026-02-01T00:00:00Z")
			before := fixedTime(t, "2026-03-01T00:00:00Z")
			entries, err = index.Query(Filter{UpdatedAfter: &after, UpdatedBefore: &before, Now: now})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, "work/second", entries[0].Path.String())

			// Path sort ascending with limit/offset pagination.
			entries, err = index.Query(Filter{SortBy: SortByPath, SortOrder: SortAsc, Limit: 2, Now: now})
			require.NoError(t, err)
			require.Len(t, entries, 2)
			require.Equal(t, "play/third", entries[0].Path.String())
			require.Equal(t, "work/first", entries[1].Path.String())

			entries, err = index.Query(Filter{SortBy: SortByPath, SortOrder: SortAsc, Limit: 2, Offset: 2, Now: now})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, "work/second", entries[0].Path.String())
		})
	}
}

func TestIndexQueryExcludesExpiredByDefault(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			expired := indexedMemory(t, "2026-01-01T00:00:00Z")
			expiry := fixedTime(t, "2026-02-01T00:00:00Z")
			expired.Metadata.ExpiresAt = &expiry

			fresh := indexedMemory(t, "2026-01-01T00:00:00Z")

			require.NoError(t, index.UpdateAfterMemoryWrite(
				memory.MustMemoryPath("history/old"), &expired, UpdateOptions{CreateWhenMissing: true}))
			require.NoError(t, index.UpdateAfterMemoryWrite(
				memory.MustMemoryPath("history/new"), &fresh, UpdateOptions{CreateWhenMissing: true}))

			now := fixedTime(t, "2030-01-01T00:00:00Z")

			entries, err := index.Query(Filter{Now: now})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, "history/new", entries[0].Path.String())

			entries, err = index.Query(Filter{IncludeExpired: true, Now: now})
			require.NoError(t, err)
			require.Len(t, entries, 2)
		})
	}
}

func TestIndexQueryTieBreaksOnPath(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			same := "2026-04-01T00:00:00Z"

			for _, pathText := range []string{"b/two", "a/one", "c/three"} {
				record := indexedMemory(t, same)
				require.NoError(t, index.UpdateAfterMemoryWrite(
					memory.MustMemoryPath(pathText), &record, UpdateOptions{CreateWhenMissing: true}))
			}

			entries, err := index.Query(Filter{
				SortBy:    SortByUpdatedAt,
				SortOrder: SortDesc,
				Now:       fixedTime(t, "2026-06-01T00:00:00Z"),
			})
			require.NoError(t, err)
			require.Len(t, entries, 3)
			require.Equal(t, "a/one", entries[0].Path.String())
			require.Equal(t, "b/two", entries[1].Path.String())
			require.Equal(t, "c/three", entries[2].Path.String())
		})
	}
}

func TestIndexRemoveCategoryDropsSubtree(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, _ := fixture.open(t)

			for _, pathText := range []string{"zone/a/one", "zone/a/deep/two", "zone/b/three"} {
				record := indexedMemory(t, "2026-03-01T00:00:00Z")
				require.NoError(t, index.UpdateAfterMemoryWrite(
					memory.MustMemoryPath(pathText), &record, UpdateOptions{CreateWhenMissing: true}))
			}

			require.NoError(t, index.RemoveCategory(memory.MustCategoryPath("zone/a")))

			entries, err := index.Query(Filter{
				IncludeExpired: true,
				Now:            fixedTime(t, "2026-06-01T00:00:00Z"),
			})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, "zone/b/three", entries[0].Path.String())

			zoneIndex, err := index.Load(memory.MustCategoryPath("zone"))
			require.NoError(t, err)
			require.Len(t, zoneIndex.Subcategories, 1)
			require.Equal(t, "zone/b", zoneIndex.Subcategories[0].Path.String())
		})
	}
}

func TestReindexProjectsFilesystem(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			recordA := indexedMemory(t, "2026-03-01T00:00:00Z", "x")
			recordB := indexedMemory(t, "2026-03-02T00:00:00Z")

			writeOnDisk(t, root, memory.MustMemoryPath("alpha/a"), &recordA)
			writeOnDisk(t, root, memory.MustMemoryPath("beta/b"), &recordB)

			result, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)
			require.Equal(t, 2, result.Indexed)
			require.Empty(t, result.Warnings)

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 2)

			alphaIndex, err := index.Load(memory.MustCategoryPath("alpha"))
			require.NoError(t, err)
			require.Len(t, alphaIndex.Memories, 1)
			require.Equal(t, []string{"x"}, alphaIndex.Memories[0].Tags)
		})
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			for _, pathText := range []string{"a/one", "a/b/two", "c/three"} {
				record := indexedMemory(t, "2026-03-01T00:00:00Z", "t")
				writeOnDisk(t, root, memory.MustMemoryPath(pathText), &record)
			}

			_, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)

			first := dumpIndex(t, index)

			_, err = index.Reindex(memory.RootCategory())
			require.NoError(t, err)

			second := dumpIndex(t, index)

			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("reindex is not idempotent (-first +second):\n%s", diff)
			}
		})
	}
}

func TestReindexCleansStaleSubcategory(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			recordA := indexedMemory(t, "2026-03-01T00:00:00Z")
			recordB := indexedMemory(t, "2026-03-02T00:00:00Z")

			writeOnDisk(t, root, memory.MustMemoryPath("alpha/a"), &recordA)
			writeOnDisk(t, root, memory.MustMemoryPath("beta/b"), &recordB)

			_, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)

			// Remove beta/b.md directly on disk, bypassing the index.
			require.NoError(t, newFSMemoryStore(root).Remove(memory.MustMemoryPath("beta/b")))

			_, err = index.Reindex(memory.RootCategory())
			require.NoError(t, err)

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 1)
			require.Equal(t, "alpha", rootIndex.Subcategories[0].Path.String())
		})
	}
}

func TestReindexNormalizesUppercaseSlug(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			record := indexedMemory(t, "2026-03-01T00:00:00Z")
			serialized, err := memory.Serialize(&record)
			require.NoError(t, err)

			mustMkdir(t, categoryDirPath(root, memory.MustCategoryPath("docs")))
			writeRawFile(t, root, "docs/Readme Notes.md", serialized)

			result, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)
			require.Equal(t, 1, result.Indexed)

			docsIndex, err := index.Load(memory.MustCategoryPath("docs"))
			require.NoError(t, err)
			require.Len(t, docsIndex.Memories, 1)
			require.Equal(t, "docs/readme-notes", docsIndex.Memories[0].Path.String())
		})
	}
}

func TestReindexDisambiguatesCollisions(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			record := indexedMemory(t, "2026-03-01T00:00:00Z")
			serialized, err := memory.Serialize(&record)
			require.NoError(t, err)

			mustMkdir(t, categoryDirPath(root, memory.MustCategoryPath("docs")))
			// Both normalize to docs/notes.
			writeRawFile(t, root, "docs/Notes.md", serialized)
			writeRawFile(t, root, "docs/notes.md", serialized)

			result, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)
			require.Equal(t, 2, result.Indexed)
			require.NotEmpty(t, result.Warnings)

			docsIndex, err := index.Load(memory.MustCategoryPath("docs"))
			require.NoError(t, err)
			require.Len(t, docsIndex.Memories, 2)

			paths := []string{docsIndex.Memories[0].Path.String(), docsIndex.Memories[1].Path.String()}
			require.ElementsMatch(t, []string{"docs/notes", "docs/notes-2"}, paths)
		})
	}
}

func TestReindexKeepsUnparseableFilesWithWarning(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			mustMkdir(t, categoryDirPath(root, memory.MustCategoryPath("docs")))
			writeRawFile(t, root, "docs/broken.md", []byte("no frontmatter here\n"))

			result, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)
			require.Equal(t, 1, result.Indexed, "parse failures are indexed best-effort")
			require.NotEmpty(t, result.Warnings)

			docsIndex, err := index.Load(memory.MustCategoryPath("docs"))
			require.NoError(t, err)
			require.Len(t, docsIndex.Memories, 1)
			require.True(t, docsIndex.Memories[0].UpdatedAt.IsZero())
		})
	}
}

func TestReindexPreservesDescriptions(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			record := indexedMemory(t, "2026-03-01T00:00:00Z")
			writeOnDisk(t, root, memory.MustMemoryPath("project/notes"), &record)

			_, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)

			require.NoError(t, index.SetDescription(memory.MustCategoryPath("project"), "kept"))

			_, err = index.Reindex(memory.RootCategory())
			require.NoError(t, err)

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 1)
			require.Equal(t, "kept", rootIndex.Subcategories[0].Description)
		})
	}
}

func TestScopedReindexPreservesSiblings(t *testing.T) {
	t.Parallel()

	for _, fixture := range indexFixtures() {
		t.Run(fixture.name, func(t *testing.T) {
			t.Parallel()

			index, root := fixture.open(t)

			recordA := indexedMemory(t, "2026-03-01T00:00:00Z")
			recordB := indexedMemory(t, "2026-03-02T00:00:00Z")

			writeOnDisk(t, root, memory.MustMemoryPath("alpha/a"), &recordA)
			writeOnDisk(t, root, memory.MustMemoryPath("beta/b"), &recordB)

			_, err := index.Reindex(memory.RootCategory())
			require.NoError(t, err)

			// Add one more memory under alpha, then reindex only alpha.
			recordC := indexedMemory(t, "2026-03-03T00:00:00Z")
			writeOnDisk(t, root, memory.MustMemoryPath("alpha/c"), &recordC)

			result, err := index.Reindex(memory.MustCategoryPath("alpha"))
			require.NoError(t, err)
			require.Equal(t, 2, result.Indexed)

			rootIndex, err := index.Load(memory.RootCategory())
			require.NoError(t, err)
			require.Len(t, rootIndex.Subcategories, 2, "beta must survive a scoped reindex of alpha")

			for _, sub := range rootIndex.Subcategories {
				if sub.Path.String() == "alpha" {
					require.Equal(t, 2, sub.MemoryCount)
				}
			}
		})
	}
}

// dumpIndex snapshots all queryable state for idempotence comparisons.
func dumpIndex(t *testing.T, index IndexStore) []IndexEntry {
	t.Helper()

	entries, err := index.Query(Filter{
		IncludeExpired: true,
		SortBy:         SortByPath,
		SortOrder:      SortAsc,
		Now:            fixedTime(t, "2026-06-01T00:00:00Z"),
	})
	require.NoError(t, err)

	return entries
}

func writeRawFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), content, filePerms))
}
