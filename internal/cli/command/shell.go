package command

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Legendarykuga/archVault/internal/cli/output"
	"github.com/Legendarykuga/archVault/internal/cli/repl"
	"github.com/Legendarykuga/archVault/internal/config"
	"github.com/Legendarykuga/archVault/internal/infra/confloader"
	"github.com/Legendarykuga/archVault/internal/infra/shutdown"
	"github.com/Legendarykuga/archVault/internal/telemetry/logger"
	"github.com/Legendarykuga/archVault/internal/telemetry/metric"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Start the interactive vault menu",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Skip the user prompt",
			},
		},
		Action: runShell,
	}
}

func runShell(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}
	log := logger.L(rt.ctx)

	h := shutdown.NewHandler(shutdown.DefaultTimeout, shutdown.WithLogger(log.Slog()))
	ctx, stop := h.Notify(rt.ctx)
	defer stop()

	eng, err := rt.OpenEngine(ctx)
	if err != nil {
		return err
	}
	h.OnShutdown("engine", eng.Close)

	histFile := rt.Config.CLI.HistoryFile
	if histFile == "" {
		histFile = repl.DefaultHistoryFile()
	}
	history := repl.NewHistory(histFile, repl.DefaultHistorySize)
	if err := history.Load(); err != nil {
		log.Warn("history not loaded", "file", histFile, "error", err)
	}
	h.OnShutdown("history", func(context.Context) error { return history.Save() })

	if path := rt.Loader.FilePath(); fileExists(path) && !c.IsSet("log-level") {
		if w, err := watchLogLevel(rt, path); err != nil {
			log.Warn("configuration watch disabled", "file", path, "error", err)
		} else {
			h.OnShutdown("watcher", func(context.Context) error { return w.Stop() })
		}
	}

	shell := repl.New(eng,
		repl.WithInput(c.App.Reader),
		repl.WithOutput(rt.Out),
		repl.WithHistory(history),
		repl.WithFormatter(output.NewFormatter(rt.Format, rt.Wide)),
		repl.WithClock(eng.Ledger().Now),
		repl.WithFeePercent(rt.Config.Vault.EmergencyFeePercent),
		repl.WithUser(c.String("user")),
		repl.WithLogger(log.Slog()),
	)
	runErr := shell.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Info("shell interrupted")
		runErr = nil
	}
	deposits, _ := metric.Sum(rt.Metrics.Gatherer(), "archvault_ledger_deposits_total")
	withdrawals, _ := metric.Sum(rt.Metrics.Gatherer(), "archvault_ledger_withdrawals_total")
	log.Info("shell finished", "deposits", deposits, "withdrawals", withdrawals)
	return errors.Join(runErr, h.Shutdown())
}

// watchLogLevel applies log.level edits in path while the shell runs.
func watchLogLevel(rt *Runtime, path string) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(rt.Logger.Slog()))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(file string) {
		cfg := config.Default()
		if err := confloader.NewLoader(confloader.WithConfigFile(file)).Load(cfg); err != nil {
			rt.Logger.Warn("configuration reload failed", "file", file, "error", err)
			return
		}
		if !logger.ValidLevel(cfg.Log.Level) || cfg.Log.Level == logger.GetLevel() {
			return
		}
		logger.SetLevel(cfg.Log.Level)
		rt.Logger.Info("log level changed", "level", cfg.Log.Level)
	})
	w.StartAsync()
	return w, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
