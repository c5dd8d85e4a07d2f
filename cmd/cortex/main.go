// Package main provides cortex, a hierarchical filesystem-backed memory
// store for AI coding agents.
package main

import (
	"os"
	"strings"

	"github.com/yeseh/cortex/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	exitCode := cli.Run(os.Stdout, os.Stderr, os.Args, env)

	os.Exit(exitCode)
}
