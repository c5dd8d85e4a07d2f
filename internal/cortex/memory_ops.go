package cortex

import (
	"errors"
	"time"

	"github.com/yeseh/cortex/internal/memory"
	"github.com/yeseh/cortex/internal/store"
)

// CreateMemoryInput is the caller-supplied content of a new memory.
type CreateMemoryInput struct {
	Content   string
	Tags      []string
	Source    string
	ExpiresAt *time.Time
	Citations []string
}

// CreateMemory writes a new memory at path. All ancestor categories must
// already exist on disk; they are never auto-created. Tags are de-duplicated
// preserving first-occurrence order.
func CreateMemory(adapter *store.Adapter, ctx *Context, path memory.MemoryPath, input CreateMemoryInput) (memory.Memory, error) {
	if input.Source == "" {
		return memory.Memory{}, newError(CodeInvalidInput,
			"source cannot be empty (identify the origin, e.g. user or mcp)").withPath(path.String())
	}

	validationErr := validateCitations(input.Citations, path)
	if validationErr != nil {
		return memory.Memory{}, validationErr
	}

	category := path.Category()

	exists, existsErr := adapter.Categories.Exists(category)
	if existsErr != nil {
		return memory.Memory{}, storageError("checking category", existsErr).withPath(path.String())
	}

	if !exists {
		return memory.Memory{}, newError(CodeCategoryNotFound,
			"category %q does not exist (create it before adding memories)",
			category).withPath(path.String()).withStore(ctx.Store.Name)
	}

	now := ctx.now()

	record := memory.Memory{
		Metadata: memory.Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			Tags:      memory.DedupeTags(input.Tags),
			Source:    input.Source,
			ExpiresAt: normalizeExpiry(input.ExpiresAt),
			Citations: input.Citations,
		},
		Content: input.Content,
	}

	addErr := adapter.Memories.Add(path, &record)
	if addErr != nil {
		if errors.Is(addErr, store.ErrMemoryExists) {
			return memory.Memory{}, newError(CodeMemoryAlreadyExists,
				"a memory already exists at %q (use update or pick another slug)",
				path).withPath(path.String()).withCause(addErr)
		}

		return memory.Memory{}, storageError("writing memory", addErr).withPath(path.String())
	}

	indexErr := adapter.Index.UpdateAfterMemoryWrite(path, &record, store.UpdateOptions{CreateWhenMissing: true})
	if indexErr != nil {
		return memory.Memory{}, storageError("updating index", indexErr).withPath(path.String())
	}

	return record, nil
}

// GetMemory loads the memory at path.
func GetMemory(adapter *store.Adapter, ctx *Context, path memory.MemoryPath) (memory.Memory, error) {
	loaded, loadErr := adapter.Memories.Load(path)
	if loadErr != nil {
		if errors.Is(loadErr, store.ErrMemoryNotFound) {
			return memory.Memory{}, newError(CodeMemoryNotFound,
				"no memory at %q", path).withPath(path.String()).withStore(ctx.Store.Name).withCause(loadErr)
		}

		return memory.Memory{}, storageError("reading memory", loadErr).withPath(path.String())
	}

	return loaded, nil
}

// ExpiryPatch is the tri-state expiry update: absent preserves, nil clears,
// a timestamp sets.
type ExpiryPatch struct {
	Set   bool
	Value *time.Time
}

// ClearExpiry returns a patch that removes the expiry.
func ClearExpiry() ExpiryPatch { return ExpiryPatch{Set: true} }

// SetExpiry returns a patch that sets the expiry to ts.
func SetExpiry(ts time.Time) ExpiryPatch { return ExpiryPatch{Set: true, Value: &ts} }

// UpdateMemoryPatch merges over an existing memory. Nil slices preserve the
// existing value; empty non-nil slices clear it. Content and Source replace
// when non-nil.
type UpdateMemoryPatch struct {
	Content   *string
	Tags      []string
	Citations []string
	ExpiresAt ExpiryPatch
	Source    *string
}

// UpdateMemory loads, merges, and rewrites the memory at path, bumping
// updatedAt. createdAt never changes.
func UpdateMemory(adapter *store.Adapter, ctx *Context, path memory.MemoryPath, patch UpdateMemoryPatch) (memory.Memory, error) {
	record, getErr := GetMemory(adapter, ctx, path)
	if getErr != nil {
		return memory.Memory{}, getErr
	}

	if patch.Content != nil {
		record.Content = *patch.Content
	}

	if patch.Tags != nil {
		record.Metadata.Tags = memory.DedupeTags(patch.Tags)
	}

	if patch.Citations != nil {
		citationsErr := validateCitations(patch.Citations, path)
		if citationsErr != nil {
			return memory.Memory{}, citationsErr
		}

		if len(patch.Citations) == 0 {
			record.Metadata.Citations = nil
		} else {
			record.Metadata.Citations = patch.Citations
		}
	}

	if patch.ExpiresAt.Set {
		record.Metadata.ExpiresAt = normalizeExpiry(patch.ExpiresAt.Value)
	}

	if patch.Source != nil {
		if *patch.Source == "" {
			return memory.Memory{}, newError(CodeInvalidInput, "source cannot be empty").withPath(path.String())
		}

		record.Metadata.Source = *patch.Source
	}

	record.Metadata.UpdatedAt = ctx.now()

	saveErr := adapter.Memories.Save(path, &record)
	if saveErr != nil {
		return memory.Memory{}, storageError("writing memory", saveErr).withPath(path.String())
	}

	indexErr := adapter.Index.UpdateAfterMemoryWrite(path, &record, store.UpdateOptions{CreateWhenMissing: true})
	if indexErr != nil {
		return memory.Memory{}, storageError("updating index", indexErr).withPath(path.String())
	}

	return record, nil
}

// RemoveMemory deletes the memory and its index row. Removing an absent
// memory is a user error, not a silent success.
func RemoveMemory(adapter *store.Adapter, ctx *Context, path memory.MemoryPath) error {
	exists, existsErr := adapter.Memories.Exists(path)
	if existsErr != nil {
		return storageError("checking memory", existsErr).withPath(path.String())
	}

	if !exists {
		return newError(CodeMemoryNotFound,
			"no memory at %q", path).withPath(path.String()).withStore(ctx.Store.Name)
	}

	removeErr := adapter.Memories.Remove(path)
	if removeErr != nil {
		return storageError("removing memory", removeErr).withPath(path.String())
	}

	indexErr := adapter.Index.RemoveEntry(path)
	if indexErr != nil {
		return storageError("updating index", indexErr).withPath(path.String())
	}

	return nil
}

// MoveMemory relocates a memory. Content, tags, citations, and createdAt
// are unchanged; updatedAt is set to now.
func MoveMemory(adapter *store.Adapter, ctx *Context, src, dst memory.MemoryPath) (memory.Memory, error) {
	if src.Equal(dst) {
		return memory.Memory{}, newError(CodeInvalidPath,
			"source and destination are both %q", src).withPath(src.String())
	}

	dstExists, dstErr := adapter.Memories.Exists(dst)
	if dstErr != nil {
		return memory.Memory{}, storageError("checking destination", dstErr).withPath(dst.String())
	}

	if dstExists {
		return memory.Memory{}, newError(CodeMemoryAlreadyExists,
			"a memory already exists at %q", dst).withPath(dst.String()).withStore(ctx.Store.Name)
	}

	dstCategory := dst.Category()

	categoryExists, categoryErr := adapter.Categories.Exists(dstCategory)
	if categoryErr != nil {
		return memory.Memory{}, storageError("checking category", categoryErr).withPath(dst.String())
	}

	if !categoryExists {
		return memory.Memory{}, newError(CodeCategoryNotFound,
			"category %q does not exist (create it before moving memories into it)",
			dstCategory).withPath(dst.String()).withStore(ctx.Store.Name)
	}

	moveErr := adapter.Memories.Move(src, dst)
	if moveErr != nil {
		switch {
		case errors.Is(moveErr, store.ErrMemoryNotFound):
			return memory.Memory{}, newError(CodeMemoryNotFound,
				"no memory at %q", src).withPath(src.String()).withCause(moveErr)
		case errors.Is(moveErr, store.ErrMemoryExists):
			return memory.Memory{}, newError(CodeMemoryAlreadyExists,
				"a memory already exists at %q", dst).withPath(dst.String()).withCause(moveErr)
		default:
			return memory.Memory{}, storageError("moving memory", moveErr).withPath(src.String())
		}
	}

	record, loadErr := adapter.Memories.Load(dst)
	if loadErr != nil {
		return memory.Memory{}, storageError("reading moved memory", loadErr).withPath(dst.String())
	}

	record.Metadata.UpdatedAt = ctx.now()

	saveErr := adapter.Memories.Save(dst, &record)
	if saveErr != nil {
		return memory.Memory{}, storageError("writing moved memory", saveErr).withPath(dst.String())
	}

	removeIndexErr := adapter.Index.RemoveEntry(src)
	if removeIndexErr != nil {
		return memory.Memory{}, storageError("updating index", removeIndexErr).withPath(src.String())
	}

	indexErr := adapter.Index.UpdateAfterMemoryWrite(dst, &record, store.UpdateOptions{CreateWhenMissing: true})
	if indexErr != nil {
		return memory.Memory{}, storageError("updating index", indexErr).withPath(dst.String())
	}

	return record, nil
}

func validateCitations(citations []string, path memory.MemoryPath) error {
	for _, citation := range citations {
		if citation == "" {
			return newError(CodeInvalidInput,
				"citations cannot contain empty entries").withPath(path.String())
		}
	}

	return nil
}

// normalizeExpiry keeps stored expiries in UTC.
func normalizeExpiry(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}

	utc := ts.UTC()

	return &utc
}
