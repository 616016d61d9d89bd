package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/meridianlabs/stakepool/internal/lib/pool"
)

func GetAccountCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "account",
		Aliases: []string{"a"},
		Usage:   "Configure swept accounts - processing mode, slippage, reinvest routes",
		Before:  checkConfigured,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List configured accounts",
				Action:  AccountsList,
			},
			{
				Name:   "mode",
				Usage:  "Set an account's reward processing policy",
				Action: AccountSetMode,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "mode",
						Usage:    "compound or reinvest",
						Required: true,
					},
				},
			},
			{
				Name:   "slippage",
				Usage:  "Set an account's swap slippage tolerance.  0 defers to the protocol default",
				Action: AccountSetSlippage,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "bps",
						Usage:    "Tolerance in basis points",
						Required: true,
					},
				},
			},
			{
				Name:   "route",
				Usage:  "Set an account's reinvest destination for one reward token",
				Action: AccountSetRoute,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Reward token identifier",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "satellite",
						Usage:    "Satellite strategy address owned by this account",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "swappool",
						Usage: "Swap pool used when this token is compounded instead",
					},
				},
			},
		},
	}
}

func AccountsList(ctx context.Context, command *cli.Command) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Address\tMode\tSlippage (bps)\tRoutes")
	for _, acct := range info.Accounts {
		mode, err := pool.ParseMode(acct.Mode)
		if err != nil {
			return fmt.Errorf("account %s: %w", acct.Address, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", acct.Address, mode, acct.SlippageBps, len(acct.Routes))
	}
	return tw.Flush()
}

func AccountSetMode(ctx context.Context, command *cli.Command) error {
	mode, err := pool.ParseMode(command.String("mode"))
	if err != nil {
		return err
	}
	return updateAccount(command.String("address"), func(acct *AccountInfo) error {
		acct.Mode = mode.String()
		return nil
	})
}

func AccountSetSlippage(ctx context.Context, command *cli.Command) error {
	bps := command.Uint("bps")
	if bps > pool.MaxSlippageBps {
		return fmt.Errorf("slippage %d bps exceeds the %d bps protocol ceiling", bps, pool.MaxSlippageBps)
	}
	return updateAccount(command.String("address"), func(acct *AccountInfo) error {
		acct.SlippageBps = bps
		return nil
	})
}

func AccountSetRoute(ctx context.Context, command *cli.Command) error {
	token := command.String("token")
	satellite := command.String("satellite")
	if satellite == "" {
		return fmt.Errorf("satellite address must not be empty")
	}
	return updateAccount(command.String("address"), func(acct *AccountInfo) error {
		route := RouteInfo{Token: token, Satellite: satellite, SwapPool: command.String("swappool")}
		idx := slices.IndexFunc(acct.Routes, func(r RouteInfo) bool { return r.Token == token })
		if idx >= 0 {
			acct.Routes[idx] = route
		} else {
			acct.Routes = append(acct.Routes, route)
		}
		return nil
	})
}

// updateAccount applies fn to the named account (creating it on first use)
// and saves the config.
func updateAccount(address string, fn func(acct *AccountInfo) error) error {
	if address == "" {
		return fmt.Errorf("account address must not be empty")
	}
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(info.Accounts, func(a AccountInfo) bool { return a.Address == address })
	if idx == -1 {
		info.Accounts = append(info.Accounts, AccountInfo{Address: address})
		idx = len(info.Accounts) - 1
	}
	if err := fn(&info.Accounts[idx]); err != nil {
		return err
	}
	return SaveProtocolInfo(info)
}
