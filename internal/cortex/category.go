package cortex

import (
	"errors"
	"strings"

	"github.com/yeseh/cortex/internal/memory"
	"github.com/yeseh/cortex/internal/store"
)

// maxDescriptionLength bounds subcategory descriptions.
const maxDescriptionLength = 500

// CreateCategoryResult reports whether the category was newly created.
type CreateCategoryResult struct {
	Path    memory.CategoryPath
	Created bool
}

// CreateCategory creates a category directory and emits subcategory entries
// in every ancestor's index. Idempotent: creating an existing category
// succeeds with Created=false. Mode policy is enforced at entry.
func CreateCategory(adapter *store.Adapter, ctx *Context, path memory.CategoryPath) (CreateCategoryResult, error) {
	if path.IsRoot() {
		return CreateCategoryResult{}, newError(CodeInvalidPath,
			"the root category always exists and cannot be created").withStore(ctx.Store.Name)
	}

	policyErr := enforceCreatePolicy(adapter, ctx, path)
	if policyErr != nil {
		return CreateCategoryResult{}, policyErr
	}

	exists, existsErr := adapter.Categories.Exists(path)
	if existsErr != nil {
		return CreateCategoryResult{}, storageError("checking category", existsErr).withPath(path.String())
	}

	if !exists {
		ensureErr := adapter.Categories.Ensure(path)
		if ensureErr != nil {
			return CreateCategoryResult{}, storageError("creating category", ensureErr).withPath(path.String())
		}
	}

	indexErr := adapter.Index.EnsureCategory(path)
	if indexErr != nil {
		return CreateCategoryResult{}, storageError("indexing category", indexErr).withPath(path.String())
	}

	return CreateCategoryResult{Path: path, Created: !exists}, nil
}

func enforceCreatePolicy(adapter *store.Adapter, ctx *Context, path memory.CategoryPath) error {
	switch ctx.Store.Mode {
	case ModeFree:
		return nil
	case ModeStrict:
		return newError(CodeCategoryModeForbidsCreate,
			"store %q is in strict mode; categories are declared in config only",
			ctx.Store.Name).withPath(path.String()).withStore(ctx.Store.Name)
	case ModeSubcategories:
		rootSegment := path.Segments()[0]

		if ctx.Store.DeclaredRoots()[rootSegment] {
			return nil
		}

		rootPath, parseErr := memory.ParseCategoryPath(rootSegment)
		if parseErr != nil {
			return newError(CodeInvalidPath, "invalid root segment %q", rootSegment).withCause(parseErr)
		}

		onDisk, existsErr := adapter.Categories.Exists(rootPath)
		if existsErr != nil {
			return storageError("checking category", existsErr).withPath(rootPath.String())
		}

		if onDisk {
			return nil
		}

		return newError(CodeCategoryModeForbidsCreate,
			"store %q only allows subcategories; root category %q is neither declared nor present (create it in config first)",
			ctx.Store.Name, rootSegment).withPath(path.String()).withStore(ctx.Store.Name)
	default:
		return newError(CodeConfigInvalid, "unknown category mode %q", ctx.Store.Mode)
	}
}

// DeleteCategory removes a category subtree and its index projection.
// Config-protected categories and strict-mode stores refuse.
func DeleteCategory(adapter *store.Adapter, ctx *Context, path memory.CategoryPath, recursive bool) error {
	if path.IsRoot() {
		return newError(CodeCategoryProtected, "the root category cannot be deleted").withStore(ctx.Store.Name)
	}

	if ctx.Store.IsProtected(path) {
		return newError(CodeCategoryProtected,
			"category %q is declared in config and cannot be deleted (remove it from config first)",
			path).withPath(path.String()).withStore(ctx.Store.Name)
	}

	if ctx.Store.Mode == ModeStrict {
		return newError(CodeCategoryModeForbidsDelete,
			"store %q is in strict mode; categories cannot be deleted at runtime",
			ctx.Store.Name).withPath(path.String()).withStore(ctx.Store.Name)
	}

	deleteErr := adapter.Categories.Delete(path, recursive)
	if deleteErr != nil {
		switch {
		case errors.Is(deleteErr, store.ErrCategoryNotFound):
			return newError(CodeCategoryNotFound, "category %q does not exist", path).
				withPath(path.String()).withCause(deleteErr)
		case errors.Is(deleteErr, store.ErrCategoryNotEmpty):
			return newError(CodeCategoryNotEmpty,
				"category %q is not empty (pass recursive to delete its contents)", path).
				withPath(path.String()).withCause(deleteErr)
		default:
			return storageError("deleting category", deleteErr).withPath(path.String())
		}
	}

	indexErr := adapter.Index.RemoveCategory(path)
	if indexErr != nil {
		return storageError("removing category index", indexErr).withPath(path.String())
	}

	return nil
}

// SetCategoryDescription stores a description on the parent's subcategory
// entry. Protected categories refuse; descriptions are trimmed, must be
// non-empty, and are capped at 500 characters.
func SetCategoryDescription(adapter *store.Adapter, ctx *Context, path memory.CategoryPath, description string) error {
	if path.IsRoot() {
		return newError(CodeInvalidPath, "the root category has no description").withStore(ctx.Store.Name)
	}

	if ctx.Store.IsProtected(path) {
		return newError(CodeCategoryProtected,
			"category %q is declared in config; edit its description in config instead",
			path).withPath(path.String()).withStore(ctx.Store.Name)
	}

	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return newError(CodeInvalidInput, "description cannot be empty").withPath(path.String())
	}

	if len(trimmed) > maxDescriptionLength {
		return newError(CodeDescriptionTooLong,
			"description is %d characters; the maximum is %d",
			len(trimmed), maxDescriptionLength).withPath(path.String())
	}

	exists, existsErr := adapter.Categories.Exists(path)
	if existsErr != nil {
		return storageError("checking category", existsErr).withPath(path.String())
	}

	if !exists {
		return newError(CodeCategoryNotFound, "category %q does not exist", path).withPath(path.String())
	}

	setErr := adapter.Index.SetDescription(path, trimmed)
	if setErr != nil {
		return storageError("writing description", setErr).withPath(path.String())
	}

	return nil
}
