package cli

import (
	flag "github.com/spf13/pflag"

	"github.com/yeseh/cortex/internal/cortex"
)

// CreateCmd returns the create command.
func CreateCmd(app *App) *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.StringP("content", "c", "", "Memory body (markdown)")
	fs.StringArrayP("tag", "t", nil, "Tag (repeatable)")
	fs.String("source", "user", "Origin label")
	fs.String("expires", "", "Expiry timestamp (RFC3339)")
	fs.StringArray("cite", nil, "Citation URL or file reference (repeatable)")

	return &Command{
		Flags: fs,
		Usage: "create <path> [flags]",
		Short: "Create a memory",
		Long: `Create a new memory at the given slug path.

All ancestor categories must already exist; use 'cortex category create'
first. Fails if a memory already exists at the path.`,
		Exec: func(o *IO, args []string) error {
			if len(args) == 0 {
				return errPathRequired
			}

			path, pathErr := parseMemoryPathArg(args[0])
			if pathErr != nil {
				return pathErr
			}

			content, _ := fs.GetString("content")
			tags, _ := fs.GetStringArray("tag")
			source, _ := fs.GetString("source")
			expiresRaw, _ := fs.GetString("expires")
			citations, _ := fs.GetStringArray("cite")

			input := cortex.CreateMemoryInput{
				Content:   content,
				Tags:      tags,
				Source:    source,
				Citations: citations,
			}

			if expiresRaw != "" {
				expires, expiresErr := parseTimestampFlag("expires", expiresRaw)
				if expiresErr != nil {
					return expiresErr
				}

				input.ExpiresAt = &expires
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			record, createErr := cortex.CreateMemory(adapter, ctx, path, input)
			if createErr != nil {
				return createErr
			}

			return render(o, app.OutputFormat(), viewOfMemory(path, &record))
		},
	}
}

// GetCmd returns the get command.
func GetCmd(app *App) *Command {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "get <path>",
		Short: "Show a memory",
		Exec: func(o *IO, args []string) error {
			if len(args) == 0 {
				return errPathRequired
			}

			path, pathErr := parseMemoryPathArg(args[0])
			if pathErr != nil {
				return pathErr
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			record, getErr := cortex.GetMemory(adapter, ctx, path)
			if getErr != nil {
				return getErr
			}

			return render(o, app.OutputFormat(), viewOfMemory(path, &record))
		},
	}
}

// UpdateCmd returns the update command.
func UpdateCmd(app *App) *Command {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.StringP("content", "c", "", "Replace the body")
	fs.StringArrayP("tag", "t", nil, "Replace tags (repeatable; none set preserves)")
	fs.Bool("clear-tags", false, "Remove all tags")
	fs.StringArray("cite", nil, "Replace citations (repeatable)")
	fs.Bool("clear-citations", false, "Remove all citations")
	fs.String("expires", "", "Set expiry timestamp (RFC3339)")
	fs.Bool("clear-expires", false, "Remove the expiry")
	fs.String("source", "", "Replace the source label")

	return &Command{
		Flags: fs,
		Usage: "update <path> [flags]",
		Short: "Update a memory",
		Long: `Merge changes into an existing memory.

Flags that are not set preserve the current value. Tags and citations
replace wholesale when given; use the clear flags to empty them.
updated_at is bumped; created_at never changes.`,
		Exec: func(o *IO, args []string) error {
			if len(args) == 0 {
				return errPathRequired
			}

			path, pathErr := parseMemoryPathArg(args[0])
			if pathErr != nil {
				return pathErr
			}

			var patch cortex.UpdateMemoryPatch

			if fs.Changed("content") {
				content, _ := fs.GetString("content")
				patch.Content = &content
			}

			clearTags, _ := fs.GetBool("clear-tags")
			if clearTags {
				patch.Tags = []string{}
			} else if fs.Changed("tag") {
				patch.Tags, _ = fs.GetStringArray("tag")
			}

			clearCitations, _ := fs.GetBool("clear-citations")
			if clearCitations {
				patch.Citations = []string{}
			} else if fs.Changed("cite") {
				patch.Citations, _ = fs.GetStringArray("cite")
			}

			clearExpires, _ := fs.GetBool("clear-expires")

			switch {
			case clearExpires:
				patch.ExpiresAt = cortex.ClearExpiry()
			case fs.Changed("expires"):
				expiresRaw, _ := fs.GetString("expires")

				expires, expiresErr := parseTimestampFlag("expires", expiresRaw)
				if expiresErr != nil {
					return expiresErr
				}

				patch.ExpiresAt = cortex.SetExpiry(expires)
			}

			if fs.Changed("source") {
				source, _ := fs.GetString("source")
				patch.Source = &source
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			record, updateErr := cortex.UpdateMemory(adapter, ctx, path, patch)
			if updateErr != nil {
				return updateErr
			}

			return render(o, app.OutputFormat(), viewOfMemory(path, &record))
		},
	}
}

// RemoveCmd returns the rm command.
func RemoveCmd(app *App) *Command {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "rm <path>",
		Short: "Remove a memory",
		Exec: func(o *IO, args []string) error {
			if len(args) == 0 {
				return errPathRequired
			}

			path, pathErr := parseMemoryPathArg(args[0])
			if pathErr != nil {
				return pathErr
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			removeErr := cortex.RemoveMemory(adapter, ctx, path)
			if removeErr != nil {
				return removeErr
			}

			o.Println("Removed", path.String())

			return nil
		},
	}
}

// MoveCmd returns the mv command.
func MoveCmd(app *App) *Command {
	fs := flag.NewFlagSet("mv", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "mv <src> <dst>",
		Short: "Move a memory",
		Long: `Move a memory to a new slug path.

The destination category must exist and the destination path must be
free. created_at is preserved; updated_at is bumped.`,
		Exec: func(o *IO, args []string) error {
			if len(args) < 2 {
				return errSrcDstRequired
			}

			src, srcErr := parseMemoryPathArg(args[0])
			if srcErr != nil {
				return srcErr
			}

			dst, dstErr := parseMemoryPathArg(args[1])
			if dstErr != nil {
				return dstErr
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			record, moveErr := cortex.MoveMemory(adapter, ctx, src, dst)
			if moveErr != nil {
				return moveErr
			}

			return render(o, app.OutputFormat(), viewOfMemory(dst, &record))
		},
	}
}
