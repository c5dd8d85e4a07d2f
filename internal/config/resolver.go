package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yeseh/cortex/internal/cortex"
	"github.com/yeseh/cortex/internal/store"
)

// Scope labels where a resolved store came from.
type Scope string

// Resolution scopes.
const (
	ScopeStore  Scope = "store"  // explicitly named registry store
	ScopeLocal  Scope = "local"  // <cwd>/.cortex/memory
	ScopeGlobal Scope = "global" // the configured default store
)

// LocalStoreDir is the project-local store location relative to the cwd.
var LocalStoreDir = filepath.Join(".cortex", "memory")

// Resolved names the store a request operates on.
type Resolved struct {
	Name   string // registry name, or "local" for a project-local store
	Root   string // absolute, canonicalized store root
	Scope  Scope
	Def    StoreDef
	Layout store.IndexLayout
}

// Resolve picks the store for a request:
//
//  1. An explicit name wins; unregistered names are an error.
//  2. Otherwise a local .cortex/memory under cwd.
//  3. Otherwise strict_local fails rather than silently using the global.
//  4. Otherwise the configured default store.
func (m *Manager) Resolve(explicitName, cwd string) (Resolved, error) {
	if explicitName != "" {
		def, lookupErr := m.Store(explicitName)
		if lookupErr != nil {
			return Resolved{}, lookupErr
		}

		return m.resolved(explicitName, def, ScopeStore)
	}

	localRoot := filepath.Join(cwd, LocalStoreDir)

	info, statErr := os.Stat(localRoot)
	if statErr == nil && info.IsDir() {
		abs, absErr := canonicalize(localRoot)
		if absErr != nil {
			return Resolved{}, absErr
		}

		return Resolved{
			Name:   "local",
			Root:   abs,
			Scope:  ScopeLocal,
			Layout: store.IndexSQLite,
		}, nil
	}

	if m.config.Settings.StrictLocal {
		return Resolved{}, &cortex.Error{
			Code: cortex.CodeLocalStoreMissing,
			Message: fmt.Sprintf(
				"no local store at %s and strict_local is set (run init, or unset strict_local)",
				localRoot),
			Path: localRoot,
		}
	}

	defaultName := m.config.Settings.DefaultStore
	if defaultName == "" {
		return Resolved{}, &cortex.Error{
			Code:    cortex.CodeGlobalStoreMissing,
			Message: "no default store configured (set settings.default_store or pass --store)",
		}
	}

	def, lookupErr := m.Store(defaultName)
	if lookupErr != nil {
		return Resolved{}, &cortex.Error{
			Code: cortex.CodeGlobalStoreMissing,
			Message: fmt.Sprintf(
				"default store %q is not registered (fix settings.default_store)", defaultName),
			Store: defaultName,
			Cause: lookupErr,
		}
	}

	return m.resolved(defaultName, def, ScopeGlobal)
}

func (m *Manager) resolved(name string, def StoreDef, scope Scope) (Resolved, error) {
	abs, absErr := canonicalize(def.Path)
	if absErr != nil {
		return Resolved{}, absErr
	}

	layout, layoutErr := store.ParseIndexLayout(def.Index)
	if layoutErr != nil {
		return Resolved{}, &cortex.Error{
			Code:    cortex.CodeConfigInvalid,
			Message: layoutErr.Error(),
			Store:   name,
		}
	}

	return Resolved{
		Name:   name,
		Root:   abs,
		Scope:  scope,
		Def:    def,
		Layout: layout,
	}, nil
}

func canonicalize(path string) (string, error) {
	abs, absErr := filepath.Abs(path)
	if absErr != nil {
		return "", &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: fmt.Sprintf("cannot resolve path %q", path),
			Path:    path,
			Cause:   absErr,
		}
	}

	return filepath.Clean(abs), nil
}

// StoreContextFor builds the domain policy view for a resolved store.
// Local stores carry no config declarations and default to free mode.
func (r Resolved) StoreContextFor() (cortex.StoreContext, error) {
	if r.Scope == ScopeLocal {
		return cortex.StoreContext{Name: r.Name, Mode: cortex.ModeFree}, nil
	}

	return StoreContext(r.Name, r.Def)
}

// MaterializeDeclaredCategories creates the config-declared category
// directories and index entries for a store, applying their descriptions.
// Called on store open so declared categories exist before first use.
func MaterializeDeclaredCategories(adapter *store.Adapter, sctx *cortex.StoreContext) error {
	var firstErr error

	sctx.WalkDeclared(func(decl cortex.CategoryDecl) {
		if firstErr != nil {
			return
		}

		ensureErr := adapter.Categories.Ensure(decl.Path)
		if ensureErr != nil {
			firstErr = ensureErr

			return
		}

		indexErr := adapter.Index.EnsureCategory(decl.Path)
		if indexErr != nil {
			firstErr = indexErr

			return
		}

		if decl.Description != "" {
			descErr := adapter.Index.SetDescription(decl.Path, decl.Description)
			if descErr != nil {
				firstErr = descErr
			}
		}
	})

	if firstErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "cannot materialize declared categories",
			Store:   sctx.Name,
			Cause:   firstErr,
		}
	}

	return nil
}
