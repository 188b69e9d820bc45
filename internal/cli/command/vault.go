package command

import (
	"context"

	"github.com/urfave/cli/v2"
	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/cli/output"
	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
	"github.com/Legendarykuga/archVault/internal/storage"
	"github.com/Legendarykuga/archVault/internal/telemetry/logger"
)

// DepositCommand returns the deposit command.
func DepositCommand() *cli.Command {
	return &cli.Command{
		Name:      "deposit",
		Usage:     "Lock funds for a user",
		ArgsUsage: "<user> <amount>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"t"},
				Usage:   "Token: BTC, RUNES, ETH (default from vault.default_token)",
			},
			&cli.StringFlag{
				Name:    "lock",
				Aliases: []string{"l"},
				Usage:   "Lock period as seconds or a duration such as 90s or 2h (default from vault.default_lock)",
			},
			&cli.BoolFlag{
				Name:  "base-units",
				Usage: "Interpret amount as integer base units instead of a decimal token amount",
			},
		},
		Action: runDeposit,
	}
}

func runDeposit(c *cli.Context) error {
	rt, err := getRuntime(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return domain.ErrMissingArgument.WithDetails("usage: deposit <user> <amount>")
	}
	user, rawAmount := c.Args().Get(0), c.Args().Get(1)

	tokenArg := rt.Config.Vault.DefaultToken
	if c.IsSet("token") {
		tokenArg = c.String("token")
	}
	token, err := domain.ParseToken(tokenArg)
	if err != nil {
		return err
	}

	lockArg := rt.Config.Vault.DefaultLock
	if c.IsSet("lock") {
		lockArg = c.String("lock")
	}
	lock, err := domain.ParseLockPeriod(lockArg)
	if err != nil {
		return err
	}

	var amt uint128.Uint128
	if c.Bool("base-units") {
		amt, err = domain.ParseAmount(rawAmount)
	} else {
		amt, err = domain.ParseTokenAmount(rawAmount, token)
	}
	if err != nil {
		return err
	}

	return rt.WithEngine(func(ctx context.Context, eng *storage.Engine) error {
		d, err := eng.Deposit(ctx, &service.DepositRequest{User: user, Token: token, Amount: amt, Lock: lock})
		if err != nil {
			return err
		}
		logger.L(ctx).Info("deposit created", "user", user, "deposit_id", d.ID, "token", d.Token)

		deps, err := eng.ViewDeposits(ctx, user)
		if err != nil {
			return err
		}
		return rt.Render(output.NewDepositView(len(deps)-1, d, eng.Ledger().Now()))
	})
}

// WithdrawCommand returns the withdraw command.
func WithdrawCommand() *cli.Command {
	return &cli.Command{
		Name:      "withdraw",
		Usage:     "Withdraw every unlocked deposit of a user, or one with --index",
		ArgsUsage: "<user>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "Withdraw only the deposit at this position (see view)",
			},
		},
		Action: runWithdraw,
	}
}

func runWithdraw(c *cli.Context) error {
	rt, user, err := userArg(c)
	if err != nil {
		return err
	}

	return rt.WithEngine(func(ctx context.Context, eng *storage.Engine) error {
		var res *service.WithdrawalResult
		if c.IsSet("index") {
			res, err = eng.WithdrawOne(ctx, user, c.Int("index"))
		} else {
			res, err = eng.Withdraw(ctx, user)
		}
		if err != nil {
			return err
		}
		logger.L(ctx).Info("withdrawal", "user", user, "deposits", res.Count, "total", res.Total.String())
		return rt.Render(output.NewWithdrawalView(res))
	})
}

// EmergencyWithdrawCommand returns the emergency-withdraw command.
func EmergencyWithdrawCommand() *cli.Command {
	return &cli.Command{
		Name:      "emergency-withdraw",
		Aliases:   []string{"emergency"},
		Usage:     "Withdraw locked deposits early, forfeiting a penalty",
		ArgsUsage: "<user>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "fee",
				Aliases: []string{"f"},
				Usage:   "Penalty percentage 0-100 (default from vault.emergency_fee_percent)",
			},
			&cli.IntFlag{
				Name:    "index",
				Aliases: []string{"i"},
				Usage:   "Withdraw only the deposit at this position",
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Withdraw only the deposit with this ID",
			},
		},
		Action: runEmergencyWithdraw,
	}
}

func runEmergencyWithdraw(c *cli.Context) error {
	rt, user, err := userArg(c)
	if err != nil {
		return err
	}
	if c.IsSet("index") && c.IsSet("id") {
		return domain.ErrInvalidInput.WithDetails("--index and --id are mutually exclusive")
	}

	fee := rt.Config.Vault.EmergencyFeePercent
	if c.IsSet("fee") {
		if fee, err = domain.ParseFeePercent(c.String("fee")); err != nil {
			return err
		}
	}

	return rt.WithEngine(func(ctx context.Context, eng *storage.Engine) error {
		var res *service.WithdrawalResult
		switch {
		case c.IsSet("index"):
			res, err = eng.EmergencyWithdrawOne(ctx, user, c.Int("index"), fee)
		case c.IsSet("id"):
			res, err = eng.EmergencyWithdrawByID(ctx, user, c.String("id"), fee)
		default:
			res, err = eng.EmergencyWithdrawAll(ctx, user, fee)
		}
		if err != nil {
			return err
		}
		logger.L(ctx).Info("emergency withdrawal",
			"user", user, "deposits", res.Count, "fee_percent", fee, "penalty", res.Penalty.String())
		return rt.Render(output.NewWithdrawalView(res))
	})
}

// ViewCommand returns the view command.
func ViewCommand() *cli.Command {
	return &cli.Command{
		Name:      "view",
		Aliases:   []string{"ls"},
		Usage:     "List a user's deposits",
		ArgsUsage: "<user>",
		Action: func(c *cli.Context) error {
			rt, user, err := userArg(c)
			if err != nil {
				return err
			}
			return rt.WithEngine(func(ctx context.Context, eng *storage.Engine) error {
				deps, err := eng.ViewDeposits(ctx, user)
				if err != nil {
					return err
				}
				return rt.Render(output.NewDepositViews(deps, eng.Ledger().Now()))
			})
		},
	}
}

// SummaryCommand returns the summary command.
func SummaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "Show a user's totals by token and status",
		ArgsUsage: "<user>",
		Action: func(c *cli.Context) error {
			rt, user, err := userArg(c)
			if err != nil {
				return err
			}
			return rt.WithEngine(func(ctx context.Context, eng *storage.Engine) error {
				s, err := eng.Summary(ctx, user)
				if err != nil {
					return err
				}
				return rt.Render(output.NewSummaryView(s))
			})
		},
	}
}

// UsersCommand returns the users command.
func UsersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "List users with deposits",
		Action: func(c *cli.Context) error {
			rt, err := getRuntime(c)
			if err != nil {
				return err
			}
			return rt.WithEngine(func(ctx context.Context, eng *storage.Engine) error {
				return rt.Render(&output.UsersView{Users: eng.Users(ctx)})
			})
		},
	}
}

// userArg returns the runtime and the required <user> argument.
func userArg(c *cli.Context) (*Runtime, string, error) {
	rt, err := getRuntime(c)
	if err != nil {
		return nil, "", err
	}
	if c.NArg() < 1 {
		return nil, "", domain.ErrMissingArgument.WithDetailsf("usage: %s <user>", c.Command.Name)
	}
	return rt, c.Args().First(), nil
}
