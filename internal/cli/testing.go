package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// CLI provides a clean interface for running CLI commands in tests.
// It manages a temp directory and environment variables.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI creates a new test CLI with a temp directory. The config directory
// lives inside the temp dir so tests never touch the user's config.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	dir := t.TempDir()

	return &CLI{
		t:   t,
		Dir: dir,
		Env: map[string]string{
			"HOME":              dir,
			"CORTEX_CONFIG_DIR": filepath.Join(dir, "config"),
		},
	}
}

// Run executes the CLI with the given args and returns stdout, stderr, and
// exit code. Args should not include "cortex" or "--cwd" - those are added
// automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"cortex", "--cwd", r.Dir}, args...)
	code := Run(&outBuf, &errBuf, fullArgs, r.Env)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns
// non-zero. Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// LocalStoreDir returns the path of the project-local store.
func (r *CLI) LocalStoreDir() string {
	return filepath.Join(r.Dir, ".cortex", "memory")
}

// ReadMemoryFile reads the raw on-disk content of a memory in the local
// store.
func (r *CLI) ReadMemoryFile(slugPath string) string {
	r.t.Helper()

	path := filepath.Join(r.LocalStoreDir(), filepath.FromSlash(slugPath)+".md")

	content, err := os.ReadFile(path)
	if err != nil {
		r.t.Fatalf("failed to read memory file %s: %v", path, err)
	}

	return string(content)
}

// MemoryFileExists reports whether a memory file exists in the local store.
func (r *CLI) MemoryFileExists(slugPath string) bool {
	path := filepath.Join(r.LocalStoreDir(), filepath.FromSlash(slugPath)+".md")

	_, err := os.Stat(path)

	return err == nil
}
