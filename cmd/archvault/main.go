package main

import (
	"context"
	"os"

	"github.com/Legendarykuga/archVault/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		command.PrintError(os.Stderr, err)
		os.Exit(command.ExitCode(err))
	}
}
