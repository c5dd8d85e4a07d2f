package store

import (
	"fmt"
	"os"
	"strings"

	"github.com/yeseh/cortex/internal/memory"
)

// fsCategoryStore manages category directories. Subcategory descriptions and
// entries live in the index projection, so those operations delegate to the
// store's index layout.
type fsCategoryStore struct {
	root  string
	index IndexStore
}

func newFSCategoryStore(root string, index IndexStore) *fsCategoryStore {
	return &fsCategoryStore{root: root, index: index}
}

// Exists reports whether the category directory is present. The root always
// exists once the store does.
func (s *fsCategoryStore) Exists(path memory.CategoryPath) (bool, error) {
	if path.IsRoot() {
		return true, nil
	}

	info, statErr := os.Stat(categoryDirPath(s.root, path))
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, nil
		}

		return false, fmt.Errorf("stat category %s: %w", path, statErr)
	}

	return info.IsDir(), nil
}

// Ensure creates the category directory and ancestors. Idempotent.
func (s *fsCategoryStore) Ensure(path memory.CategoryPath) error {
	mkdirErr := os.MkdirAll(categoryDirPath(s.root, path), dirPerms)
	if mkdirErr != nil {
		return fmt.Errorf("creating category %s: %w", path, mkdirErr)
	}

	return nil
}

// Delete removes the category directory. Non-empty categories fail unless
// recursive is set. Index bookkeeping files do not count as content.
func (s *fsCategoryStore) Delete(path memory.CategoryPath, recursive bool) error {
	if path.IsRoot() {
		return fmt.Errorf("%w: cannot delete the root category", ErrCategoryNotEmpty)
	}

	dir := categoryDirPath(s.root, path)

	_, statErr := os.Stat(dir)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return fmt.Errorf("%w: %s", ErrCategoryNotFound, path)
		}

		return fmt.Errorf("stat category %s: %w", path, statErr)
	}

	if !recursive {
		empty, emptyErr := s.dirIsEmpty(dir)
		if emptyErr != nil {
			return emptyErr
		}

		if !empty {
			return fmt.Errorf("%w: %s (pass recursive to delete the subtree)", ErrCategoryNotEmpty, path)
		}
	}

	removeErr := os.RemoveAll(dir)
	if removeErr != nil {
		return fmt.Errorf("deleting category %s: %w", path, removeErr)
	}

	return nil
}

// dirIsEmpty treats only memory files and subdirectories as content;
// a lingering index.yaml does not keep a category alive.
func (s *fsCategoryStore) dirIsEmpty(dir string) (bool, error) {
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		return false, fmt.Errorf("reading category dir: %w", readErr)
	}

	for _, entry := range entries {
		name := entry.Name()

		if entry.IsDir() {
			if name == locksDirName {
				continue
			}

			return false, nil
		}

		if name == indexFileName || strings.HasPrefix(name, ".") {
			continue
		}

		return false, nil
	}

	return true, nil
}

// UpdateSubcategoryDescription stores child's description in parent's
// projection.
func (s *fsCategoryStore) UpdateSubcategoryDescription(parent memory.CategoryPath, child memory.Slug, description string) error {
	return s.index.SetDescription(parent.Join(child), description)
}

// RemoveSubcategoryEntry drops child's projection subtree and its entry in
// parent's index.
func (s *fsCategoryStore) RemoveSubcategoryEntry(parent memory.CategoryPath, child memory.Slug) error {
	return s.index.RemoveCategory(parent.Join(child))
}
