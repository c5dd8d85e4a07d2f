package cli

import (
	"errors"

	flag "github.com/spf13/pflag"

	"github.com/yeseh/cortex/internal/cortex"
)

var (
	errCategoryRequired    = errors.New("a category path is required (e.g. project/notes)")
	errSubcommandRequired  = errors.New("a subcommand is required: create, rm, describe")
	errDescriptionRequired = errors.New("a description is required")
)

// CategoryCmd returns the category command with its subcommands.
func CategoryCmd(app *App) *Command {
	fs := flag.NewFlagSet("category", flag.ContinueOnError)
	fs.BoolP("recursive", "r", false, "Delete non-empty categories (rm)")

	return &Command{
		Flags: fs,
		Usage: "category <create|rm|describe> <path> [description]",
		Short: "Manage categories",
		Long: `Manage the category hierarchy.

  category create <path>                Create a category
  category rm <path> [-r]               Delete a category
  category describe <path> <text>       Set a subcategory description

Creation and deletion honor the store's category mode; config-declared
categories are protected.`,
		Exec: func(o *IO, args []string) error {
			if len(args) == 0 {
				return errSubcommandRequired
			}

			sub := args[0]
			rest := args[1:]

			switch sub {
			case "create":
				return execCategoryCreate(o, app, rest)
			case "rm":
				recursive, _ := fs.GetBool("recursive")

				return execCategoryRemove(o, app, rest, recursive)
			case "describe":
				return execCategoryDescribe(o, app, rest)
			default:
				return errSubcommandRequired
			}
		},
	}
}

func execCategoryCreate(o *IO, app *App, args []string) error {
	if len(args) == 0 {
		return errCategoryRequired
	}

	path, pathErr := parseCategoryPathArg(args[0])
	if pathErr != nil {
		return pathErr
	}

	adapter, ctx, closer, openErr := app.OpenStore()
	if openErr != nil {
		return openErr
	}

	defer closer()

	result, createErr := cortex.CreateCategory(adapter, ctx, path)
	if createErr != nil {
		return createErr
	}

	if result.Created {
		o.Println("Created", path.String())
	} else {
		o.Println(path.String(), "already exists")
	}

	return nil
}

func execCategoryRemove(o *IO, app *App, args []string, recursive bool) error {
	if len(args) == 0 {
		return errCategoryRequired
	}

	path, pathErr := parseCategoryPathArg(args[0])
	if pathErr != nil {
		return pathErr
	}

	adapter, ctx, closer, openErr := app.OpenStore()
	if openErr != nil {
		return openErr
	}

	defer closer()

	deleteErr := cortex.DeleteCategory(adapter, ctx, path, recursive)
	if deleteErr != nil {
		return deleteErr
	}

	o.Println("Removed", path.String())

	return nil
}

func execCategoryDescribe(o *IO, app *App, args []string) error {
	if len(args) == 0 {
		return errCategoryRequired
	}

	if len(args) < 2 {
		return errDescriptionRequired
	}

	path, pathErr := parseCategoryPathArg(args[0])
	if pathErr != nil {
		return pathErr
	}

	adapter, ctx, closer, openErr := app.OpenStore()
	if openErr != nil {
		return openErr
	}

	defer closer()

	describeErr := cortex.SetCategoryDescription(adapter, ctx, path, args[1])
	if describeErr != nil {
		return describeErr
	}

	o.Println("Described", path.String())

	return nil
}
