// Package config loads and persists the Cortex configuration: settings and
// the store registry, kept in a single config.yaml under the user's config
// directory. It also resolves which store a request should use.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/yeseh/cortex/internal/cortex"
	"github.com/yeseh/cortex/internal/memory"
	"github.com/yeseh/cortex/internal/store"
)

// Environment variables honored by the loader. The core never reads the
// process environment directly; callers pass an env map (teacher pattern).
const (
	EnvConfigDir    = "CORTEX_CONFIG_DIR"
	EnvDefaultStore = "CORTEX_DEFAULT_STORE"
)

// ConfigFileName is the registry file inside the config directory.
const ConfigFileName = "config.yaml"

const (
	dirPerms  = 0o750
	filePerms = 0o600
)

// Settings are the global options.
type Settings struct {
	OutputFormat string `yaml:"output_format,omitempty"`
	DefaultStore string `yaml:"default_store,omitempty"`
	StrictLocal  bool   `yaml:"strict_local,omitempty"`
}

// CategoryDef is a config-declared (protected) category.
type CategoryDef struct {
	Path          string        `yaml:"path"`
	Description   string        `yaml:"description,omitempty"`
	Subcategories []CategoryDef `yaml:"subcategories,omitempty"`
}

// StoreDef is one registered store.
type StoreDef struct {
	Path         string        `yaml:"path"`
	Index        string        `yaml:"index,omitempty"`         // sqlite (default) or yaml
	CategoryMode string        `yaml:"category_mode,omitempty"` // free (default), subcategories, strict
	Categories   []CategoryDef `yaml:"categories,omitempty"`
}

// Config is the full configuration document.
type Config struct {
	Settings Settings            `yaml:"settings"`
	Stores   map[string]StoreDef `yaml:"stores,omitempty"`
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	ConfigDirOverride string            // --config-dir flag; wins over env and defaults
	Env               map[string]string // environment variables
}

// Manager owns the loaded config and its location. It satisfies the
// ConfigStore and StoreRegistry contracts: immutable snapshots out,
// registry mutations persisted atomically.
type Manager struct {
	dir    string
	config Config
}

// Load reads the config file, normalizing legacy keys. A missing file
// yields defaults; Initialize writes it out.
func Load(input LoadInput) (*Manager, error) {
	dir, dirErr := configDir(input)
	if dirErr != nil {
		return nil, dirErr
	}

	manager := &Manager{dir: dir, config: Config{Stores: map[string]StoreDef{}}}

	raw, readErr := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return nil, &cortex.Error{
				Code:    cortex.CodeConfigNotFound,
				Message: "cannot read config file",
				Cause:   readErr,
			}
		}
	} else {
		parsed, parseErr := parseConfig(raw)
		if parseErr != nil {
			return nil, parseErr
		}

		manager.config = parsed
	}

	if defaultStore := input.Env[EnvDefaultStore]; defaultStore != "" {
		manager.config.Settings.DefaultStore = defaultStore
	}

	validateErr := validate(&manager.config)
	if validateErr != nil {
		return nil, validateErr
	}

	return manager, nil
}

// configDir resolves the config directory: explicit flag, then
// CORTEX_CONFIG_DIR, then XDG_CONFIG_HOME/cortex, then ~/.config/cortex.
func configDir(input LoadInput) (string, error) {
	if input.ConfigDirOverride != "" {
		return input.ConfigDirOverride, nil
	}

	if fromEnv := input.Env[EnvConfigDir]; fromEnv != "" {
		return fromEnv, nil
	}

	if xdg := input.Env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "cortex"), nil
	}

	if home := input.Env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "cortex"), nil
	}

	return "", &cortex.Error{
		Code:    cortex.CodeConfigNotFound,
		Message: "cannot determine config directory (set HOME or " + EnvConfigDir + ")",
	}
}

// parseConfig decodes the YAML document, folding the legacy strictLocal
// spelling into the canonical strict_local key.
func parseConfig(raw []byte) (Config, error) {
	var document struct {
		Settings struct {
			OutputFormat      string `yaml:"output_format"`
			DefaultStore      string `yaml:"default_store"`
			StrictLocal       *bool  `yaml:"strict_local"`
			StrictLocalLegacy *bool  `yaml:"strictLocal"`
		} `yaml:"settings"`
		Stores map[string]StoreDef `yaml:"stores"`
	}

	unmarshalErr := yaml.Unmarshal(raw, &document)
	if unmarshalErr != nil {
		return Config{}, &cortex.Error{
			Code:    cortex.CodeConfigParseFailed,
			Message: "config file is not valid YAML",
			Cause:   unmarshalErr,
		}
	}

	cfg := Config{
		Settings: Settings{
			OutputFormat: document.Settings.OutputFormat,
			DefaultStore: document.Settings.DefaultStore,
		},
		Stores: document.Stores,
	}

	switch {
	case document.Settings.StrictLocal != nil:
		cfg.Settings.StrictLocal = *document.Settings.StrictLocal
	case document.Settings.StrictLocalLegacy != nil:
		cfg.Settings.StrictLocal = *document.Settings.StrictLocalLegacy
	}

	if cfg.Stores == nil {
		cfg.Stores = map[string]StoreDef{}
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	for name, def := range cfg.Stores {
		_, slugErr := memory.ParseSlug(name)
		if slugErr != nil {
			return &cortex.Error{
				Code:    cortex.CodeConfigInvalid,
				Message: fmt.Sprintf("store name %q is not a valid slug", name),
				Store:   name,
				Cause:   slugErr,
			}
		}

		if def.Path == "" {
			return &cortex.Error{
				Code:    cortex.CodeConfigInvalid,
				Message: fmt.Sprintf("store %q has no path", name),
				Store:   name,
			}
		}

		_, modeErr := cortex.ParseMode(def.CategoryMode)
		if modeErr != nil {
			return &cortex.Error{
				Code:    cortex.CodeConfigInvalid,
				Message: fmt.Sprintf("store %q: %v", name, modeErr),
				Store:   name,
			}
		}

		_, layoutErr := store.ParseIndexLayout(def.Index)
		if layoutErr != nil {
			return &cortex.Error{
				Code:    cortex.CodeConfigInvalid,
				Message: fmt.Sprintf("store %q: %v", name, layoutErr),
				Store:   name,
			}
		}

		categoriesErr := validateCategoryDefs(name, def.Categories)
		if categoriesErr != nil {
			return categoriesErr
		}
	}

	return nil
}

func validateCategoryDefs(storeName string, defs []CategoryDef) error {
	for _, def := range defs {
		_, pathErr := memory.ParseCategoryPath(def.Path)
		if pathErr != nil {
			return &cortex.Error{
				Code:    cortex.CodeConfigInvalid,
				Message: fmt.Sprintf("store %q declares invalid category path %q", storeName, def.Path),
				Store:   storeName,
				Cause:   pathErr,
			}
		}

		if len(def.Description) > 500 {
			return &cortex.Error{
				Code:    cortex.CodeDescriptionTooLong,
				Message: fmt.Sprintf("store %q: description for %q exceeds 500 characters", storeName, def.Path),
				Store:   storeName,
			}
		}

		nestedErr := validateCategoryDefs(storeName, def.Subcategories)
		if nestedErr != nil {
			return nestedErr
		}
	}

	return nil
}

// Dir returns the resolved config directory.
func (m *Manager) Dir() string { return m.dir }

// Settings returns the settings snapshot.
func (m *Manager) Settings() Settings { return m.config.Settings }

// Stores returns the registry snapshot, copied so callers cannot mutate
// the manager's state.
func (m *Manager) Stores() map[string]StoreDef {
	out := make(map[string]StoreDef, len(m.config.Stores))
	for name, def := range m.config.Stores {
		out[name] = def
	}

	return out
}

// StoreNames returns registered store names, sorted.
func (m *Manager) StoreNames() []string {
	names := make([]string, 0, len(m.config.Stores))
	for name := range m.config.Stores {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Store looks up one store definition.
func (m *Manager) Store(name string) (StoreDef, error) {
	def, ok := m.config.Stores[name]
	if !ok {
		return StoreDef{}, &cortex.Error{
			Code:    cortex.CodeStoreNotFound,
			Message: fmt.Sprintf("store %q is not registered (run store add, or check store ls)", name),
			Store:   name,
		}
	}

	return def, nil
}

// AddStore registers a new store and persists the config. Duplicate names
// refuse.
func (m *Manager) AddStore(name string, def StoreDef) error {
	_, slugErr := memory.ParseSlug(name)
	if slugErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeInvalidSlug,
			Message: fmt.Sprintf("store name %q is not a valid slug", name),
			Store:   name,
			Cause:   slugErr,
		}
	}

	if _, exists := m.config.Stores[name]; exists {
		return &cortex.Error{
			Code:    cortex.CodeStoreAlreadyExists,
			Message: fmt.Sprintf("store %q is already registered", name),
			Store:   name,
		}
	}

	if def.Path == "" {
		return &cortex.Error{
			Code:    cortex.CodeConfigInvalid,
			Message: "store path cannot be empty",
			Store:   name,
		}
	}

	m.config.Stores[name] = def

	return m.persist()
}

// SaveStore upserts a store definition and persists the config.
func (m *Manager) SaveStore(name string, def StoreDef) error {
	if _, exists := m.config.Stores[name]; !exists {
		return m.AddStore(name, def)
	}

	m.config.Stores[name] = def

	return m.persist()
}

// RemoveStore unregisters a store and persists the config. The store's
// files on disk are left alone.
func (m *Manager) RemoveStore(name string) error {
	if _, exists := m.config.Stores[name]; !exists {
		return &cortex.Error{
			Code:    cortex.CodeStoreNotFound,
			Message: fmt.Sprintf("store %q is not registered", name),
			Store:   name,
		}
	}

	delete(m.config.Stores, name)

	if m.config.Settings.DefaultStore == name {
		m.config.Settings.DefaultStore = ""
	}

	return m.persist()
}

// SetDefaultStore records the default store name and persists the config.
func (m *Manager) SetDefaultStore(name string) error {
	_, lookupErr := m.Store(name)
	if lookupErr != nil {
		return lookupErr
	}

	m.config.Settings.DefaultStore = name

	return m.persist()
}

// Initialize writes the config file if it does not exist yet. Idempotent.
func (m *Manager) Initialize() error {
	path := filepath.Join(m.dir, ConfigFileName)

	_, statErr := os.Stat(path)
	if statErr == nil {
		return nil
	}

	if !os.IsNotExist(statErr) {
		return &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "cannot stat config file",
			Cause:   statErr,
		}
	}

	return m.persist()
}

func (m *Manager) persist() error {
	mkdirErr := os.MkdirAll(m.dir, dirPerms)
	if mkdirErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "cannot create config directory",
			Cause:   mkdirErr,
		}
	}

	encoded, marshalErr := yaml.Marshal(m.config)
	if marshalErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "cannot encode config",
			Cause:   marshalErr,
		}
	}

	path := filepath.Join(m.dir, ConfigFileName)

	writeErr := atomic.WriteFile(path, bytes.NewReader(encoded))
	if writeErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "cannot write config file",
			Cause:   writeErr,
		}
	}

	chmodErr := os.Chmod(path, filePerms)
	if chmodErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "cannot set config permissions",
			Cause:   chmodErr,
		}
	}

	return nil
}

// StoreContext builds the domain policy view for a store definition.
func StoreContext(name string, def StoreDef) (cortex.StoreContext, error) {
	mode, modeErr := cortex.ParseMode(def.CategoryMode)
	if modeErr != nil {
		return cortex.StoreContext{}, &cortex.Error{
			Code:    cortex.CodeConfigInvalid,
			Message: modeErr.Error(),
			Store:   name,
		}
	}

	decls, declsErr := categoryDecls(def.Categories)
	if declsErr != nil {
		return cortex.StoreContext{}, declsErr
	}

	return cortex.StoreContext{
		Name:       name,
		Mode:       mode,
		Categories: decls,
	}, nil
}

func categoryDecls(defs []CategoryDef) ([]cortex.CategoryDecl, error) {
	if len(defs) == 0 {
		return nil, nil
	}

	out := make([]cortex.CategoryDecl, 0, len(defs))

	for _, def := range defs {
		path, pathErr := memory.ParseCategoryPath(def.Path)
		if pathErr != nil {
			return nil, &cortex.Error{
				Code:    cortex.CodeConfigInvalid,
				Message: fmt.Sprintf("declared category path %q is invalid", def.Path),
				Cause:   pathErr,
			}
		}

		nested, nestedErr := categoryDecls(def.Subcategories)
		if nestedErr != nil {
			return nil, nestedErr
		}

		out = append(out, cortex.CategoryDecl{
			Path:          path,
			Description:   def.Description,
			Subcategories: nested,
		})
	}

	return out, nil
}
