package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yeseh/cortex/internal/memory"
)

func testMemory(t *testing.T, content string) memory.Memory {
	t.Helper()

	created, err := time.Parse(time.RFC3339, "2026-01-02T03:04:05Z")
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}

	return memory.Memory{
		Metadata: memory.Metadata{
			CreatedAt: created,
			UpdatedAt: created,
			Tags:      []string{"test"},
			Source:    "user",
		},
		Content: content,
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(path, dirPerms); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func TestMemoryStoreAddAndLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "project"))

	memories := newFSMemoryStore(root)
	path := memory.MustMemoryPath("project/notes")
	record := testMemory(t, "hello\n")

	if err := memories.Add(path, &record); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "project", "notes.md")); err != nil {
		t.Fatalf("memory file missing: %v", err)
	}

	loaded, err := memories.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Content != "hello\n" {
		t.Errorf("content = %q", loaded.Content)
	}
}

func TestMemoryStoreAddRefusesDuplicate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "project"))

	memories := newFSMemoryStore(root)
	path := memory.MustMemoryPath("project/notes")
	record := testMemory(t, "first\n")

	if err := memories.Add(path, &record); err != nil {
		t.Fatalf("add: %v", err)
	}

	err := memories.Add(path, &record)
	if !errors.Is(err, ErrMemoryExists) {
		t.Errorf("second add = %v, want ErrMemoryExists", err)
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	t.Parallel()

	memories := newFSMemoryStore(t.TempDir())

	_, err := memories.Load(memory.MustMemoryPath("absent/memory"))
	if !errors.Is(err, ErrMemoryNotFound) {
		t.Errorf("load missing = %v, want ErrMemoryNotFound", err)
	}
}

func TestMemoryStoreRemoveIsNoOpOnAbsent(t *testing.T) {
	t.Parallel()

	memories := newFSMemoryStore(t.TempDir())

	if err := memories.Remove(memory.MustMemoryPath("absent/memory")); err != nil {
		t.Errorf("remove absent = %v, want nil", err)
	}
}

func TestMemoryStoreSaveUpserts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "project"))

	memories := newFSMemoryStore(root)
	path := memory.MustMemoryPath("project/notes")

	record := testMemory(t, "v1\n")
	if err := memories.Save(path, &record); err != nil {
		t.Fatalf("save new: %v", err)
	}

	record.Content = "v2\n"
	if err := memories.Save(path, &record); err != nil {
		t.Fatalf("save existing: %v", err)
	}

	loaded, err := memories.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Content != "v2\n" {
		t.Errorf("content = %q, want v2", loaded.Content)
	}
}

func TestMemoryStoreMove(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "work"))
	mustMkdir(t, filepath.Join(root, "work", "done"))

	memories := newFSMemoryStore(root)
	src := memory.MustMemoryPath("work/task")
	dst := memory.MustMemoryPath("work/done/task")

	record := testMemory(t, "task body\n")
	if err := memories.Add(src, &record); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := memories.Move(src, dst); err != nil {
		t.Fatalf("move: %v", err)
	}

	if exists, _ := memories.Exists(src); exists {
		t.Error("source should be gone after move")
	}

	loaded, err := memories.Load(dst)
	if err != nil {
		t.Fatalf("load moved: %v", err)
	}

	if loaded.Content != "task body\n" {
		t.Errorf("moved content = %q", loaded.Content)
	}
}

func TestMemoryStoreMoveErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "a"))
	mustMkdir(t, filepath.Join(root, "b"))

	memories := newFSMemoryStore(root)
	record := testMemory(t, "x\n")

	if err := memories.Add(memory.MustMemoryPath("a/one"), &record); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := memories.Add(memory.MustMemoryPath("b/two"), &record); err != nil {
		t.Fatalf("add: %v", err)
	}

	err := memories.Move(memory.MustMemoryPath("a/absent"), memory.MustMemoryPath("b/three"))
	if !errors.Is(err, ErrMemoryNotFound) {
		t.Errorf("move missing src = %v, want ErrMemoryNotFound", err)
	}

	err = memories.Move(memory.MustMemoryPath("a/one"), memory.MustMemoryPath("b/two"))
	if !errors.Is(err, ErrMemoryExists) {
		t.Errorf("move onto existing dst = %v, want ErrMemoryExists", err)
	}
}

func TestMemoryStoreWriteIsAtomic(t *testing.T) {
	t.Parallel()

	// The write path goes through a temp file + rename; no partially
	// written file should ever be visible under the final name.
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "project"))

	memories := newFSMemoryStore(root)
	path := memory.MustMemoryPath("project/big")

	record := testMemory(t, strings.Repeat("line of text\n", 10000))
	if err := memories.Save(path, &record); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(root, "project", "big.md"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	if !strings.HasPrefix(string(raw), "---\n") {
		t.Error("file should start with the frontmatter delimiter")
	}

	if !strings.HasSuffix(string(raw), "line of text\n") {
		t.Error("file should end with the full body")
	}
}
