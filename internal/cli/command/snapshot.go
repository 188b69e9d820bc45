package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/Legendarykuga/archVault/internal/cli/output"
	"github.com/Legendarykuga/archVault/internal/config"
	"github.com/Legendarykuga/archVault/internal/storage"
	"github.com/Legendarykuga/archVault/internal/telemetry/metric"
)

// SnapshotCommand returns the snapshot command.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Save the ledger now, regardless of persist mode",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Also print metrics in Prometheus text format",
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := getRuntime(c)
			if err != nil {
				return err
			}
			return rt.WithEngine(func(ctx context.Context, eng *storage.Engine) error {
				info, err := eng.TriggerSnapshot(ctx)
				if err != nil {
					return err
				}
				if err := rt.Render(output.NewSnapshotView(eng.BackendName(), info)); err != nil {
					return err
				}
				if !c.Bool("metrics") {
					return nil
				}
				text, err := metric.Dump(rt.Metrics.Gatherer())
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(rt.Out, text)
				return err
			})
		},
	}
}

// ConfigCommand returns the config command group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration commands",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration with secrets masked",
				Action: func(c *cli.Context) error {
					rt, err := getRuntime(c)
					if err != nil {
						return err
					}
					sanitized := config.Sanitize(rt.Config)
					if rt.Format == output.FormatTable {
						// Nested sections have no tabular form.
						return (&output.YAMLFormatter{}).Format(rt.Out, sanitized)
					}
					return rt.Render(sanitized)
				},
			},
		},
	}
}
