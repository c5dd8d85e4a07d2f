package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/yeseh/cortex/internal/cortex"
	"github.com/yeseh/cortex/internal/memory"
)

var (
	errPathRequired   = errors.New("a memory path is required (e.g. project/notes)")
	errSrcDstRequired = errors.New("source and destination paths are required")
)

// parseMemoryPathArg parses a positional memory path into a typed path,
// wrapping failures in the domain taxonomy so the CLI renders usage help.
func parseMemoryPathArg(raw string) (memory.MemoryPath, error) {
	path, parseErr := memory.ParseMemoryPath(raw)
	if parseErr != nil {
		return memory.MemoryPath{}, &cortex.Error{
			Code:    cortex.CodeInvalidPath,
			Message: parseErr.Error(),
			Path:    raw,
			Cause:   parseErr,
		}
	}

	return path, nil
}

// parseCategoryPathArg parses a positional category path. The empty string
// is the root.
func parseCategoryPathArg(raw string) (memory.CategoryPath, error) {
	path, parseErr := memory.ParseCategoryPath(raw)
	if parseErr != nil {
		return memory.CategoryPath{}, &cortex.Error{
			Code:    cortex.CodeInvalidPath,
			Message: parseErr.Error(),
			Path:    raw,
			Cause:   parseErr,
		}
	}

	return path, nil
}

// parseTimestampFlag parses an RFC3339 flag value.
func parseTimestampFlag(name, raw string) (time.Time, error) {
	ts, parseErr := time.Parse(time.RFC3339, raw)
	if parseErr != nil {
		return time.Time{}, &cortex.Error{
			Code:    cortex.CodeInvalidTimestamp,
			Message: fmt.Sprintf("--%s %q is not an RFC3339 timestamp (e.g. 2030-01-01T00:00:00Z)", name, raw),
			Field:   name,
			Cause:   parseErr,
		}
	}

	return ts.UTC(), nil
}
