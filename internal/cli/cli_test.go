package cli

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestInitCreatesLocalStore(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)

	out := r.MustRun("init")
	if !strings.Contains(out, "Initialized local store") {
		t.Errorf("init output = %q", out)
	}

	// Idempotent.
	out = r.MustRun("init")
	if !strings.Contains(out, "already exists") {
		t.Errorf("second init output = %q", out)
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")
	r.MustRun("category", "create", "project")

	out := r.MustRun("create", "project/notes", "-c", "hello world", "-t", "a", "-t", "b")
	if !strings.Contains(out, "path: project/notes") {
		t.Errorf("create output = %q", out)
	}

	if !r.MemoryFileExists("project/notes") {
		t.Error("memory file should exist on disk")
	}

	raw := r.ReadMemoryFile("project/notes")
	if !strings.HasPrefix(raw, "---\n") {
		t.Errorf("on-disk file should start with frontmatter:\n%s", raw)
	}

	if !strings.Contains(raw, "source: user") {
		t.Errorf("default source missing:\n%s", raw)
	}

	out = r.MustRun("get", "project/notes")
	if !strings.Contains(out, "hello world") {
		t.Errorf("get output = %q", out)
	}
}

func TestCreateWithoutCategoryFails(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")

	stderr := r.MustFail("create", "missing/notes", "-c", "x")
	if !strings.Contains(stderr, "CATEGORY_NOT_FOUND") {
		t.Errorf("stderr = %q, want CATEGORY_NOT_FOUND", stderr)
	}
}

func TestInvalidPathShowsUsageHelp(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")

	stderr := r.MustFail("create", "Not A Path", "-c", "x")
	if !strings.Contains(stderr, "INVALID_") {
		t.Errorf("stderr = %q, want a validation code", stderr)
	}

	if !strings.Contains(stderr, "Usage: cortex") {
		t.Errorf("validation errors should print usage help, got %q", stderr)
	}
}

func TestJSONOutput(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")
	r.MustRun("category", "create", "project")
	r.MustRun("create", "project/notes", "-c", "body")

	out := r.MustRun("--format", "json", "get", "project/notes")

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}

	if decoded["path"] != "project/notes" {
		t.Errorf("path = %v", decoded["path"])
	}

	if decoded["content"] != "body" {
		t.Errorf("content = %v", decoded["content"])
	}
}

func TestRemoveAndExitCodes(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")
	r.MustRun("category", "create", "project")
	r.MustRun("create", "project/notes", "-c", "x")

	r.MustRun("rm", "project/notes")

	if r.MemoryFileExists("project/notes") {
		t.Error("file should be gone after rm")
	}

	stderr := r.MustFail("rm", "project/notes")
	if !strings.Contains(stderr, "MEMORY_NOT_FOUND") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestLsAndReindex(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")
	r.MustRun("category", "create", "alpha")
	r.MustRun("create", "alpha/one", "-c", "first")

	out := r.MustRun("ls")
	if !strings.Contains(out, "alpha") {
		t.Errorf("root listing should include alpha:\n%s", out)
	}

	out = r.MustRun("ls", "alpha")
	if !strings.Contains(out, "alpha/one") {
		t.Errorf("category listing should include alpha/one:\n%s", out)
	}

	out = r.MustRun("reindex")
	if !strings.Contains(out, "Indexed 1 memories") {
		t.Errorf("reindex output = %q", out)
	}
}

func TestMoveCommand(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")
	r.MustRun("category", "create", "work")
	r.MustRun("category", "create", "work/done")
	r.MustRun("create", "work/task", "-c", "the task")

	out := r.MustRun("mv", "work/task", "work/done/task")
	if !strings.Contains(out, "path: work/done/task") {
		t.Errorf("mv output = %q", out)
	}

	if r.MemoryFileExists("work/task") {
		t.Error("source file should be gone")
	}

	if !r.MemoryFileExists("work/done/task") {
		t.Error("destination file should exist")
	}
}

func TestPruneCommand(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)
	r.MustRun("init")
	r.MustRun("category", "create", "history")
	r.MustRun("create", "history/old", "-c", "stale", "--expires", "2001-01-01T00:00:00Z")
	r.MustRun("create", "history/new", "-c", "fresh")

	out := r.MustRun("prune", "--dry-run")
	if !strings.Contains(out, "history/old") {
		t.Errorf("dry run should list history/old:\n%s", out)
	}

	if !r.MemoryFileExists("history/old") {
		t.Error("dry run must not delete files")
	}

	out = r.MustRun("prune")
	if !strings.Contains(out, "history/old") {
		t.Errorf("prune should report history/old:\n%s", out)
	}

	if r.MemoryFileExists("history/old") {
		t.Error("expired memory should be removed")
	}

	if !r.MemoryFileExists("history/new") {
		t.Error("unexpired memory must remain")
	}
}

func TestStoreRegistryCommands(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)

	storeDir := r.Dir + "/stores/work"

	r.MustRun("store", "add", "work", "--path", storeDir)

	out := r.MustRun("store", "ls")
	if !strings.Contains(out, "name: work") {
		t.Errorf("store ls = %q", out)
	}

	stderr := r.MustFail("store", "add", "work", "--path", storeDir)
	if !strings.Contains(stderr, "STORE_ALREADY_EXISTS") {
		t.Errorf("duplicate add stderr = %q", stderr)
	}

	r.MustRun("store", "default", "work")

	// With a default store set and no local store, commands resolve to it.
	r.MustRun("category", "create", "project")
	r.MustRun("create", "project/notes", "-c", "in the registry store")

	out = r.MustRun("get", "project/notes")
	if !strings.Contains(out, "in the registry store") {
		t.Errorf("get from registry store = %q", out)
	}

	r.MustRun("store", "rm", "work")

	stderr = r.MustFail("get", "project/notes")
	if !strings.Contains(stderr, "GLOBAL_STORE_MISSING") {
		t.Errorf("stderr after rm = %q", stderr)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)

	_, stderr, code := r.Run("frobnicate")
	if code == 0 {
		t.Error("unknown command should fail")
	}

	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestHelpOutput(t *testing.T) {
	t.Parallel()

	r := NewCLI(t)

	out := r.MustRun("--help")
	for _, want := range []string{"Usage: cortex", "create", "prune", "reindex", "store"} {
		if !strings.Contains(out, want) {
			t.Errorf("help should mention %q:\n%s", want, out)
		}
	}
}
