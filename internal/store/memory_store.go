package store

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/yeseh/cortex/internal/memory"
)

// fsMemoryStore stores memories as frontmatter markdown files under root.
type fsMemoryStore struct {
	root string
}

func newFSMemoryStore(root string) *fsMemoryStore {
	return &fsMemoryStore{root: root}
}

// Load reads and parses the memory at path.
func (s *fsMemoryStore) Load(path memory.MemoryPath) (memory.Memory, error) {
	raw, readErr := os.ReadFile(memoryFilePath(s.root, path))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return memory.Memory{}, fmt.Errorf("%w: %s", ErrMemoryNotFound, path)
		}

		return memory.Memory{}, fmt.Errorf("reading memory %s: %w", path, readErr)
	}

	parsed, parseErr := memory.Parse(raw)
	if parseErr != nil {
		return memory.Memory{}, fmt.Errorf("memory %s: %w", path, parseErr)
	}

	return parsed, nil
}

// Add writes a new memory, failing if the destination already exists.
func (s *fsMemoryStore) Add(path memory.MemoryPath, m *memory.Memory) error {
	filePath := memoryFilePath(s.root, path)

	_, statErr := os.Stat(filePath)
	if statErr == nil {
		return fmt.Errorf("%w: %s", ErrMemoryExists, path)
	}

	return s.write(path, m)
}

// Save upserts the memory at path.
func (s *fsMemoryStore) Save(path memory.MemoryPath, m *memory.Memory) error {
	return s.write(path, m)
}

func (s *fsMemoryStore) write(path memory.MemoryPath, m *memory.Memory) error {
	serialized, serializeErr := memory.Serialize(m)
	if serializeErr != nil {
		return fmt.Errorf("memory %s: %w", path, serializeErr)
	}

	filePath := memoryFilePath(s.root, path)

	writeErr := atomic.WriteFile(filePath, bytes.NewReader(serialized))
	if writeErr != nil {
		return fmt.Errorf("writing memory %s: %w", path, writeErr)
	}

	// atomic.WriteFile does not set permissions for new files.
	chmodErr := os.Chmod(filePath, filePerms)
	if chmodErr != nil {
		return fmt.Errorf("setting memory permissions %s: %w", path, chmodErr)
	}

	return nil
}

// Remove deletes the memory file. Absent files are a no-op.
func (s *fsMemoryStore) Remove(path memory.MemoryPath) error {
	removeErr := os.Remove(memoryFilePath(s.root, path))
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("removing memory %s: %w", path, removeErr)
	}

	return nil
}

// Move relocates a memory file. Rename first; on cross-device failure fall
// back to copy+delete, rolling back the copy if the delete fails.
func (s *fsMemoryStore) Move(src, dst memory.MemoryPath) error {
	srcPath := memoryFilePath(s.root, src)
	dstPath := memoryFilePath(s.root, dst)

	_, statErr := os.Stat(srcPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return fmt.Errorf("%w: %s", ErrMemoryNotFound, src)
		}

		return fmt.Errorf("stat memory %s: %w", src, statErr)
	}

	_, dstStatErr := os.Stat(dstPath)
	if dstStatErr == nil {
		return fmt.Errorf("%w: %s", ErrMemoryExists, dst)
	}

	renameErr := os.Rename(srcPath, dstPath)
	if renameErr == nil {
		return nil
	}

	// Copy+delete fallback for cross-filesystem moves.
	raw, readErr := os.ReadFile(srcPath)
	if readErr != nil {
		return fmt.Errorf("moving memory %s: %w", src, readErr)
	}

	writeErr := atomic.WriteFile(dstPath, bytes.NewReader(raw))
	if writeErr != nil {
		return fmt.Errorf("moving memory %s -> %s: %w", src, dst, writeErr)
	}

	removeErr := os.Remove(srcPath)
	if removeErr != nil {
		// Roll back the copy so the move stays all-or-nothing.
		_ = os.Remove(dstPath)

		return fmt.Errorf("moving memory %s -> %s: %w", src, dst, removeErr)
	}

	return nil
}

// Exists reports whether a memory file is present at path.
func (s *fsMemoryStore) Exists(path memory.MemoryPath) (bool, error) {
	_, statErr := os.Stat(memoryFilePath(s.root, path))
	if statErr == nil {
		return true, nil
	}

	if os.IsNotExist(statErr) {
		return false, nil
	}

	return false, fmt.Errorf("stat memory %s: %w", path, statErr)
}
