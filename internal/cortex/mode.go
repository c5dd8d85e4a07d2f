package cortex

import "fmt"

// Mode is the category-mode policy of a store. It is the sole source of
// policy for runtime category creation and deletion; storage ports never
// see it.
type Mode string

// Category modes.
const (
	// ModeFree allows creating and deleting categories at runtime.
	ModeFree Mode = "free"

	// ModeSubcategories allows new subcategories only under roots that are
	// config-declared or already on disk; new root categories are refused.
	ModeSubcategories Mode = "subcategories"

	// ModeStrict forbids all runtime category creation and deletion; the
	// config-declared set is the whole universe.
	ModeStrict Mode = "strict"
)

// ParseMode validates a config-supplied mode. Empty means ModeFree.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeFree):
		return ModeFree, nil
	case string(ModeSubcategories):
		return ModeSubcategories, nil
	case string(ModeStrict):
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown category mode %q (expected free, subcategories, strict)", s)
	}
}

// Tool names exposed over the MCP surface.
const (
	ToolCreateMemory   = "cortex_create_memory"
	ToolGetMemory      = "cortex_get_memory"
	ToolUpdateMemory   = "cortex_update_memory"
	ToolRemoveMemory   = "cortex_remove_memory"
	ToolMoveMemory     = "cortex_move_memory"
	ToolListMemories   = "cortex_list_memories"
	ToolRecentMemories = "cortex_recent_memories"
	ToolQueryMemories  = "cortex_query_memories"
	ToolPruneMemories  = "cortex_prune_memories"
	ToolReindex        = "cortex_reindex"
	ToolCreateCategory = "cortex_create_category"
	ToolDeleteCategory = "cortex_delete_category"
	ToolSetDescription = "cortex_set_category_description"
)

// ToolSet returns the tools to register for a store. In strict mode the
// category-mutation tools are omitted entirely rather than registered and
// rejected.
func ToolSet(mode Mode) []string {
	tools := []string{
		ToolCreateMemory,
		ToolGetMemory,
		ToolUpdateMemory,
		ToolRemoveMemory,
		ToolMoveMemory,
		ToolListMemories,
		ToolRecentMemories,
		ToolQueryMemories,
		ToolPruneMemories,
		ToolReindex,
	}

	if mode != ModeStrict {
		tools = append(tools,
			ToolCreateCategory,
			ToolDeleteCategory,
			ToolSetDescription,
		)
	}

	return tools
}
