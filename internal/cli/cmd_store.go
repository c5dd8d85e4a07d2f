package cli

import (
	"errors"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/yeseh/cortex/internal/config"
	"github.com/yeseh/cortex/internal/cortex"
	"github.com/yeseh/cortex/internal/store"
)

var (
	errStoreNameRequired   = errors.New("a store name is required")
	errStoreSubcmdRequired = errors.New("a subcommand is required: add, rm, ls, default")
	errStorePathRequired   = errors.New("a store path is required (--path)")
)

// StoreCmd returns the store command with its registry subcommands.
func StoreCmd(app *App) *Command {
	fs := flag.NewFlagSet("store", flag.ContinueOnError)
	fs.String("path", "", "Store root directory (add)")
	fs.String("index", "", "Index layout: sqlite or yaml (add)")
	fs.String("mode", "", "Category mode: free, subcategories, strict (add)")

	return &Command{
		Flags: fs,
		Usage: "store <add|rm|ls|default> [name] [flags]",
		Short: "Manage the store registry",
		Long: `Manage registered stores in the config file.

  store add <name> --path <dir>   Register a store
  store rm <name>                 Unregister a store (files are kept)
  store ls                        List registered stores
  store default <name>            Set the default store`,
		Exec: func(o *IO, args []string) error {
			if len(args) == 0 {
				return errStoreSubcmdRequired
			}

			sub := args[0]
			rest := args[1:]

			switch sub {
			case "add":
				return execStoreAdd(o, app, fs, rest)
			case "rm":
				return execStoreRemove(o, app, rest)
			case "ls":
				return execStoreList(o, app)
			case "default":
				return execStoreDefault(o, app, rest)
			default:
				return errStoreSubcmdRequired
			}
		},
	}
}

func execStoreAdd(o *IO, app *App, fs *flag.FlagSet, args []string) error {
	if len(args) == 0 {
		return errStoreNameRequired
	}

	name := args[0]

	path, _ := fs.GetString("path")
	if path == "" {
		return errStorePathRequired
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(app.Cwd, path)
	}

	index, _ := fs.GetString("index")
	mode, _ := fs.GetString("mode")

	layout, layoutErr := store.ParseIndexLayout(index)
	if layoutErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeInvalidInput,
			Message: layoutErr.Error(),
			Field:   "index",
		}
	}

	if _, modeErr := cortex.ParseMode(mode); modeErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeInvalidInput,
			Message: modeErr.Error(),
			Field:   "mode",
		}
	}

	def := config.StoreDef{
		Path:         path,
		Index:        index,
		CategoryMode: mode,
	}

	addErr := app.Manager.AddStore(name, def)
	if addErr != nil {
		return addErr
	}

	// Open once so the root and index exist before first use.

	adapter, openErr := store.Open(path, store.Options{Layout: layout})
	if openErr != nil {
		return &cortex.Error{
			Code:    cortex.CodeStorageError,
			Message: "store registered but cannot be opened",
			Store:   name,
			Cause:   openErr,
		}
	}

	defer func() { _ = adapter.Close() }()

	o.Println("Added store", name, "at", path)

	return nil
}

func execStoreRemove(o *IO, app *App, args []string) error {
	if len(args) == 0 {
		return errStoreNameRequired
	}

	name := args[0]

	removeErr := app.Manager.RemoveStore(name)
	if removeErr != nil {
		return removeErr
	}

	o.Println("Removed store", name, "(files on disk were kept)")

	return nil
}

func execStoreList(o *IO, app *App) error {
	type storeView struct {
		Name    string `yaml:"name" json:"name"`
		Path    string `yaml:"path" json:"path"`
		Index   string `yaml:"index,omitempty" json:"index,omitempty"`
		Mode    string `yaml:"category_mode,omitempty" json:"category_mode,omitempty"`
		Default bool   `yaml:"default,omitempty" json:"default,omitempty"`
	}

	defaultStore := app.Manager.Settings().DefaultStore
	stores := app.Manager.Stores()

	views := make([]storeView, 0, len(stores))

	for _, name := range app.Manager.StoreNames() {
		def := stores[name]

		views = append(views, storeView{
			Name:    name,
			Path:    def.Path,
			Index:   def.Index,
			Mode:    def.CategoryMode,
			Default: name == defaultStore,
		})
	}

	return render(o, app.OutputFormat(), views)
}

func execStoreDefault(o *IO, app *App, args []string) error {
	if len(args) == 0 {
		return errStoreNameRequired
	}

	name := args[0]

	setErr := app.Manager.SetDefaultStore(name)
	if setErr != nil {
		return setErr
	}

	o.Println("Default store is now", name)

	return nil
}

// InitCmd returns the init command.
func InitCmd(app *App) *Command {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.Bool("global", false, "Initialize the config file instead of a local store")

	return &Command{
		Flags: fs,
		Usage: "init [flags]",
		Short: "Initialize a local store",
		Long: `Create a project-local store at .cortex/memory in the working
directory, or initialize the global config file with --global.`,
		Exec: func(o *IO, args []string) error {
			global, _ := fs.GetBool("global")

			if global {
				initErr := app.Manager.Initialize()
				if initErr != nil {
					return initErr
				}

				o.Println("Config initialized at", filepath.Join(app.Manager.Dir(), config.ConfigFileName))

				return nil
			}

			localRoot := filepath.Join(app.Cwd, config.LocalStoreDir)

			_, statErr := os.Stat(localRoot)
			if statErr == nil {
				o.Println("Local store already exists at", localRoot)

				return nil
			}

			adapter, openErr := store.Open(localRoot, store.Options{})
			if openErr != nil {
				return &cortex.Error{
					Code:    cortex.CodeStorageError,
					Message: "cannot create local store",
					Path:    localRoot,
					Cause:   openErr,
				}
			}

			defer func() { _ = adapter.Close() }()

			o.Println("Initialized local store at", localRoot)

			return nil
		},
	}
}

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(app *App, env map[string]string) *Command {
	fs := flag.NewFlagSet("print-config", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "print-config",
		Short: "Show the effective configuration",
		Exec: func(o *IO, args []string) error {
			view := struct {
				ConfigDir    string                      `yaml:"config_dir" json:"config_dir"`
				Settings     config.Settings             `yaml:"settings" json:"settings"`
				Stores       map[string]config.StoreDef  `yaml:"stores" json:"stores"`
				EnvOverrides map[string]string           `yaml:"env_overrides,omitempty" json:"env_overrides,omitempty"`
			}{
				ConfigDir: app.Manager.Dir(),
				Settings:  app.Manager.Settings(),
				Stores:    app.Manager.Stores(),
			}

			overrides := map[string]string{}

			for _, key := range []string{config.EnvConfigDir, config.EnvDefaultStore} {
				if value := env[key]; value != "" {
					overrides[key] = value
				}
			}

			if len(overrides) > 0 {
				view.EnvOverrides = overrides
			}

			return render(o, app.OutputFormat(), view)
		},
	}
}
