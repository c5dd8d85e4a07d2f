package store

import (
	"path/filepath"

	"github.com/yeseh/cortex/internal/memory"
)

// On-disk names inside a store root.
const (
	memoryFileExt = ".md"
	sqliteDBName  = "cortex.db"
	indexFileName = "index.yaml"
	locksDirName  = ".locks"
)

const (
	dirPerms  = 0o750
	filePerms = 0o600
)

// memoryFilePath maps a memory path to its absolute file path.
func memoryFilePath(root string, path memory.MemoryPath) string {
	category, leaf := path.Split()

	return filepath.Join(categoryDirPath(root, category), leaf.String()+memoryFileExt)
}

// categoryDirPath maps a category path to its absolute directory path.
func categoryDirPath(root string, category memory.CategoryPath) string {
	if category.IsRoot() {
		return root
	}

	return filepath.Join(append([]string{root}, category.Segments()...)...)
}

// categoryIndexPath maps a category to its legacy index.yaml path.
func categoryIndexPath(root string, category memory.CategoryPath) string {
	return filepath.Join(categoryDirPath(root, category), indexFileName)
}
