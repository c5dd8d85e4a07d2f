package cli

import (
	flag "github.com/spf13/pflag"

	"github.com/yeseh/cortex/internal/cortex"
	"github.com/yeseh/cortex/internal/memory"
	"github.com/yeseh/cortex/internal/store"
)

// LsCmd returns the ls command.
func LsCmd(app *App) *Command {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.Bool("include-expired", false, "Include expired memories")

	return &Command{
		Flags: fs,
		Usage: "ls [category] [flags]",
		Short: "List a category",
		Long: `List the memories and subcategories of a category.

Without an argument, lists the root: top-level subcategories plus any
root-level memories. Expired memories are hidden by default.`,
		Exec: func(o *IO, args []string) error {
			category := memory.RootCategory()

			if len(args) > 0 {
				var categoryErr error

				category, categoryErr = parseCategoryPathArg(args[0])
				if categoryErr != nil {
					return categoryErr
				}
			}

			includeExpired, _ := fs.GetBool("include-expired")

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			result, listErr := cortex.ListMemories(adapter, ctx, category, cortex.ListOptions{
				IncludeExpired: includeExpired,
			})
			if listErr != nil {
				return listErr
			}

			return render(o, app.OutputFormat(), listView{
				Memories:      viewOfEntries(result.Memories),
				Subcategories: viewOfSubcategories(result.Subcategories),
			})
		},
	}
}

// RecentCmd returns the recent command.
func RecentCmd(app *App) *Command {
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	fs.IntP("limit", "n", cortex.DefaultRecentLimit, "Maximum memories to return")
	fs.String("category", "", "Restrict to a category subtree")
	fs.Bool("include-expired", false, "Include expired memories")

	return &Command{
		Flags: fs,
		Usage: "recent [flags]",
		Short: "Show recently updated memories",
		Long: `Show the most recently updated memories with full content.

Restrict with --category; entries with no recorded update time sort last.`,
		Exec: func(o *IO, args []string) error {
			limit, _ := fs.GetInt("limit")
			includeExpired, _ := fs.GetBool("include-expired")
			categoryRaw, _ := fs.GetString("category")

			opts := cortex.RecentOptions{
				Limit:          limit,
				IncludeExpired: includeExpired,
			}

			if categoryRaw != "" {
				category, categoryErr := parseCategoryPathArg(categoryRaw)
				if categoryErr != nil {
					return categoryErr
				}

				opts.Category = &category
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			recent, recentErr := cortex.GetRecentMemories(adapter, ctx, opts)
			if recentErr != nil {
				return recentErr
			}

			views := make([]memoryView, 0, len(recent))
			for i := range recent {
				views = append(views, viewOfMemory(recent[i].Path, &recent[i].Memory))
			}

			return render(o, app.OutputFormat(), views)
		},
	}
}

// QueryCmd returns the query command.
func QueryCmd(app *App) *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.String("category", "", "Restrict to a category subtree")
	fs.StringArrayP("tag", "t", nil, "Match any of these tags (repeatable)")
	fs.String("updated-after", "", "Only memories updated at or after (RFC3339)")
	fs.String("updated-before", "", "Only memories updated before (RFC3339)")
	fs.Bool("include-expired", false, "Include expired memories")
	fs.String("sort", string(store.SortByUpdatedAt), "Sort field (updatedAt|createdAt|path)")
	fs.String("order", string(store.SortDesc), "Sort order (asc|desc)")
	fs.Int("limit", 0, "Maximum entries to return (0 = all)")
	fs.Int("offset", 0, "Entries to skip")

	return &Command{
		Flags: fs,
		Usage: "query [flags]",
		Short: "Query the index",
		Long: `Query index entries with composable filters.

Filters combine conjunctively; tags match if the memory carries at least
one. Ordering is stable with ties broken on path ascending.`,
		Exec: func(o *IO, args []string) error {
			input, inputErr := queryInputFromFlags(fs)
			if inputErr != nil {
				return inputErr
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			entries, queryErr := cortex.Query(adapter, ctx, input)
			if queryErr != nil {
				return queryErr
			}

			return render(o, app.OutputFormat(), viewOfEntries(entries))
		},
	}
}

func queryInputFromFlags(fs *flag.FlagSet) (cortex.QueryInput, error) {
	var input cortex.QueryInput

	categoryRaw, _ := fs.GetString("category")
	if categoryRaw != "" {
		category, categoryErr := parseCategoryPathArg(categoryRaw)
		if categoryErr != nil {
			return cortex.QueryInput{}, categoryErr
		}

		input.Category = &category
	}

	input.Tags, _ = fs.GetStringArray("tag")
	input.IncludeExpired, _ = fs.GetBool("include-expired")
	input.Limit, _ = fs.GetInt("limit")
	input.Offset, _ = fs.GetInt("offset")

	afterRaw, _ := fs.GetString("updated-after")
	if afterRaw != "" {
		after, afterErr := parseTimestampFlag("updated-after", afterRaw)
		if afterErr != nil {
			return cortex.QueryInput{}, afterErr
		}

		input.UpdatedAfter = &after
	}

	beforeRaw, _ := fs.GetString("updated-before")
	if beforeRaw != "" {
		before, beforeErr := parseTimestampFlag("updated-before", beforeRaw)
		if beforeErr != nil {
			return cortex.QueryInput{}, beforeErr
		}

		input.UpdatedBefore = &before
	}

	sortRaw, _ := fs.GetString("sort")

	switch store.SortField(sortRaw) {
	case store.SortByUpdatedAt, store.SortByCreatedAt, store.SortByPath:
		input.SortBy = store.SortField(sortRaw)
	default:
		return cortex.QueryInput{}, &cortex.Error{
			Code:    cortex.CodeInvalidInput,
			Message: "unknown sort field " + sortRaw + " (expected updatedAt, createdAt, path)",
			Field:   "sort",
		}
	}

	orderRaw, _ := fs.GetString("order")

	switch store.SortOrder(orderRaw) {
	case store.SortAsc, store.SortDesc:
		input.SortOrder = store.SortOrder(orderRaw)
	default:
		return cortex.QueryInput{}, &cortex.Error{
			Code:    cortex.CodeInvalidInput,
			Message: "unknown sort order " + orderRaw + " (expected asc, desc)",
			Field:   "order",
		}
	}

	return input, nil
}

// PruneCmd returns the prune command.
func PruneCmd(app *App) *Command {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.Bool("dry-run", false, "Report expired memories without removing them")

	return &Command{
		Flags: fs,
		Usage: "prune [flags]",
		Short: "Remove expired memories",
		Long: `Remove every memory whose expiry has passed.

A dry run lists what would be removed. A real run removes the files and
then reindexes the store to keep the index faithful.`,
		Exec: func(o *IO, args []string) error {
			dryRun, _ := fs.GetBool("dry-run")

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			result, pruneErr := cortex.PruneExpiredMemories(adapter, ctx, cortex.PruneOptions{DryRun: dryRun})
			if pruneErr != nil {
				return pruneErr
			}

			for _, failure := range result.Errors {
				o.Warn(failure.Path.String()+": "+failure.Reason, "remove the file by hand and reindex")
			}

			pruned := make([]string, 0, len(result.Pruned))
			for _, path := range result.Pruned {
				pruned = append(pruned, path.String())
			}

			view := struct {
				DryRun bool     `yaml:"dry_run" json:"dry_run"`
				Pruned []string `yaml:"pruned" json:"pruned"`
			}{DryRun: dryRun, Pruned: pruned}

			return render(o, app.OutputFormat(), view)
		},
	}
}

// ReindexCmd returns the reindex command.
func ReindexCmd(app *App) *Command {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "reindex [category]",
		Short: "Rebuild the index from disk",
		Long: `Rebuild the derived index from the memory files on disk.

The files are the source of truth; reindex repairs any stale or missing
index state. Scope the rebuild by passing a category.`,
		Exec: func(o *IO, args []string) error {
			scope := memory.RootCategory()

			if len(args) > 0 {
				var scopeErr error

				scope, scopeErr = parseCategoryPathArg(args[0])
				if scopeErr != nil {
					return scopeErr
				}
			}

			adapter, ctx, closer, openErr := app.OpenStore()
			if openErr != nil {
				return openErr
			}

			defer closer()

			result, reindexErr := cortex.Reindex(adapter, ctx, scope)
			if reindexErr != nil {
				return reindexErr
			}

			for _, warning := range result.Warnings {
				o.Warn(warning, "fix the file or remove it, then reindex again")
			}

			o.Println("Indexed", result.Indexed, "memories")

			return nil
		},
	}
}
