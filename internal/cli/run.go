package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/yeseh/cortex/internal/config"
)

// Run is the main entry point. Returns exit code.
func Run(out io.Writer, errOut io.Writer, args []string, env map[string]string) int {
	globalFlags := flag.NewFlagSet("cortex", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})
	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfigDir := globalFlags.String("config-dir", "", "Use specified config `directory`")
	flagStore := globalFlags.StringP("store", "s", "", "Use the named registry `store`")
	flagFormat := globalFlags.StringP("format", "f", "", "Output format (yaml|json)")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	cwd := *flagCwd
	if cwd == "" {
		var cwdErr error

		cwd, cwdErr = os.Getwd()
		if cwdErr != nil {
			fprintln(errOut, "error: cannot get working directory:", cwdErr)

			return 1
		}
	}

	manager, loadErr := config.Load(config.LoadInput{
		ConfigDirOverride: *flagConfigDir,
		Env:               env,
	})
	if loadErr != nil {
		fprintln(errOut, "error:", loadErr)
		printGlobalOptions(errOut)

		return 1
	}

	app := &App{
		Manager:   manager,
		Cwd:       cwd,
		StoreFlag: *flagStore,
		Format:    *flagFormat,
		Clock:     func() time.Time { return time.Now().UTC() },
	}

	commands := allCommands(app, env)

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	// Show help: explicit --help or bare `cortex` with no args
	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)

		return 0
	}

	// Flags provided but no command: `cortex --store work`
	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)

		return 1
	}

	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	cmdIO := NewIO(out, errOut)

	exitCode := cmd.Run(cmdIO, commandAndArgs[1:])
	if exitCode != 0 {
		return exitCode
	}

	return cmdIO.Finish()
}

// allCommands returns all commands in display order.
// Dependencies are captured via closures in each command constructor.
func allCommands(app *App, env map[string]string) []*Command {
	return []*Command{
		InitCmd(app),
		CreateCmd(app),
		GetCmd(app),
		UpdateCmd(app),
		RemoveCmd(app),
		MoveCmd(app),
		LsCmd(app),
		RecentCmd(app),
		QueryCmd(app),
		PruneCmd(app),
		CategoryCmd(app),
		ReindexCmd(app),
		StoreCmd(app),
		PrintConfigCmd(app, env),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help             Show help
  -C, --cwd <dir>        Run as if started in <dir>
  --config-dir <dir>     Use specified config directory
  -s, --store <name>     Use the named registry store
  -f, --format <format>  Output format (yaml|json)`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: cortex [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'cortex --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "cortex - hierarchical memory store for coding agents")
	fprintln(w)
	fprintln(w, "Usage: cortex [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
