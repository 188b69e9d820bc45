package command

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/infra/buildinfo"
)

// Exit codes returned by ExitCode.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// runtimeKey is the App.Metadata key holding the *Runtime.
const runtimeKey = "runtime"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "archvault",
		Usage:                "Time-locked vault ledger",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		EnableBashCompletion: true,
		Metadata:             map[string]any{},
		Commands: []*cli.Command{
			DepositCommand(),
			WithdrawCommand(),
			EmergencyWithdrawCommand(),
			ViewCommand(),
			SummaryCommand(),
			UsersCommand(),
			SnapshotCommand(),
			ConfigCommand(),
			ShellCommand(),
		},
		Before: func(c *cli.Context) error {
			rt, err := loadRuntime(c)
			if err != nil {
				return err
			}
			c.App.Metadata[runtimeKey] = rt
			return nil
		},
	}
}

// globalFlags returns the global CLI flags. They carry no defaults of
// their own; an unset flag leaves the configured value in place.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Configuration file (YAML)",
			EnvVars: []string{"ARCHVAULT_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Directory holding the persisted ledger",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "Persistence backend: file, badger",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
	}
}

// flagKeys maps global flags to configuration keys.
var flagKeys = map[string]string{
	"data-dir":  "storage.data_dir",
	"backend":   "storage.backend",
	"output":    "cli.output",
	"log-level": "log.level",
}

// getRuntime retrieves the runtime installed by App.Before.
func getRuntime(c *cli.Context) (*Runtime, error) {
	if rt, ok := c.App.Metadata[runtimeKey].(*Runtime); ok {
		return rt, nil
	}
	return nil, errors.New("archvault: runtime not initialised")
}

// ExitCode maps an error returned by App.Run to a process exit code.
// Argument errors exit with ExitUsage; everything else, persistence
// failures included, exits with ExitError.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrMissingArgument):
		return ExitUsage
	default:
		return ExitError
	}
}

// PrintError prints an error message to w.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}
