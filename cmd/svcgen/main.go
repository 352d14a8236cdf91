package main

import (
	"os"

	"github.com/conduit-lang/svcgen/internal/cli/commands"
	generr "github.com/conduit-lang/svcgen/internal/errors"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(generr.ExitCode(err))
	}
}
