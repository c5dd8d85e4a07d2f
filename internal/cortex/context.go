package cortex

import (
	"time"

	"github.com/yeseh/cortex/internal/memory"
)

// CategoryDecl is one config-declared category. Declared categories are
// protected: they cannot be deleted or have their descriptions changed
// through normal operations.
type CategoryDecl struct {
	Path          memory.CategoryPath
	Description   string
	Subcategories []CategoryDecl
}

// StoreContext is the resolved policy view of one store, built from config
// by the resolver. Domain operations read mode and protection from here;
// there is no process-global state.
type StoreContext struct {
	Name       string
	Mode       Mode
	Categories []CategoryDecl
}

// Context carries the per-request dependencies of a domain operation.
type Context struct {
	// Clock supplies the operation's notion of now. Defaults to time.Now.
	Clock func() time.Time

	// Store is the resolved store policy.
	Store StoreContext
}

func (c *Context) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}

	return c.Clock().UTC()
}

// IsProtected reports whether path is config-declared (I4).
func (s *StoreContext) IsProtected(path memory.CategoryPath) bool {
	return declTreeContains(s.Categories, path)
}

// DeclaredRoots returns the root segments of all declared categories, used
// by subcategories-mode enforcement.
func (s *StoreContext) DeclaredRoots() map[string]bool {
	roots := make(map[string]bool, len(s.Categories))

	var visit func(decls []CategoryDecl)

	visit = func(decls []CategoryDecl) {
		for _, decl := range decls {
			segments := decl.Path.Segments()
			if len(segments) > 0 {
				roots[segments[0]] = true
			}

			visit(decl.Subcategories)
		}
	}

	visit(s.Categories)

	return roots
}

// WalkDeclared visits every declared category depth-first.
func (s *StoreContext) WalkDeclared(visit func(CategoryDecl)) {
	var walk func(decls []CategoryDecl)

	walk = func(decls []CategoryDecl) {
		for _, decl := range decls {
			visit(decl)
			walk(decl.Subcategories)
		}
	}

	walk(s.Categories)
}

func declTreeContains(decls []CategoryDecl, path memory.CategoryPath) bool {
	for _, decl := range decls {
		if decl.Path.Equal(path) {
			return true
		}

		if declTreeContains(decl.Subcategories, path) {
			return true
		}
	}

	return false
}
