package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
	"github.com/meridianlabs/stakepool/internal/lib/pool"
)

func GetStakeCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "stake",
		Aliases: []string{"s"},
		Usage:   "Manage the seeded stake of configured accounts.  Applied when the daemon builds its runtime",
		Before:  checkConfigured,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List seeded stakes",
				Action:  StakesList,
			},
			{
				Name:    "add",
				Aliases: []string{"a"},
				Usage:   "Add to an account's seeded stake",
				Action:  StakeAdd,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Amount in whole staking tokens",
						Required: true,
					},
				},
			},
			{
				Name:   "withdraw",
				Usage:  "Withdraw part of an account's seeded stake",
				Action: StakeWithdraw,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Amount in whole staking tokens",
						Required: true,
					},
				},
			},
			{
				Name:   "exit",
				Usage:  "Withdraw an account's entire seeded stake",
				Action: StakeExit,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "address",
						Usage:    "Account address",
						Required: true,
					},
				},
			},
		},
	}
}

func StakesList(ctx context.Context, command *cli.Command) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Address\tSeeded stake")
	for _, acct := range info.Accounts {
		stake := acct.InitialStake
		if stake == "" {
			stake = "0"
		}
		fmt.Fprintf(tw, "%s\t%s %s\n", acct.Address, stake, info.StakingToken)
	}
	return tw.Flush()
}

func StakeAdd(ctx context.Context, command *cli.Command) error {
	return addStake(command.String("address"), command.String("amount"))
}

func StakeWithdraw(ctx context.Context, command *cli.Command) error {
	return withdrawStake(command.String("address"), command.String("amount"))
}

func StakeExit(ctx context.Context, command *cli.Command) error {
	address := command.String("address")
	_, err := (&promptui.Prompt{
		Label:     fmt.Sprintf("Withdraw the entire seeded stake of %s.  Are you sure", address),
		IsConfirm: true,
	}).Run()
	if err != nil {
		return nil // declined
	}
	return exitStake(address)
}

func addStake(address, amountStr string) error {
	return updateStake(address, func(current *big.Int, decimals uint8) (*big.Int, error) {
		amount, err := pool.ParseTokenAmount(amountStr, decimals)
		if err != nil {
			return nil, err
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("stake amount must be greater than zero")
		}
		return current.Add(current, amount), nil
	})
}

func withdrawStake(address, amountStr string) error {
	return updateStake(address, func(current *big.Int, decimals uint8) (*big.Int, error) {
		amount, err := pool.ParseTokenAmount(amountStr, decimals)
		if err != nil {
			return nil, err
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("withdraw amount must be greater than zero")
		}
		if amount.Cmp(current) > 0 {
			return nil, fmt.Errorf("withdraw of %s exceeds the seeded stake of %s",
				amountStr, pool.FormattedTokenAmount(current, decimals))
		}
		return current.Sub(current, amount), nil
	})
}

func exitStake(address string) error {
	return updateStake(address, func(current *big.Int, decimals uint8) (*big.Int, error) {
		if current.Sign() == 0 {
			return nil, fmt.Errorf("account %s has nothing staked", address)
		}
		return new(big.Int), nil
	})
}

// updateStake applies fn to the account's seeded stake (creating the account
// entry on first use) and saves the config. Like every account setting, the
// daemon applies seeded stakes when building its runtime.
func updateStake(address string, fn func(current *big.Int, decimals uint8) (*big.Int, error)) error {
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
	acct := &info.Accounts[idx]
	current := new(big.Int)
	if acct.InitialStake != "" {
		current, err = pool.ParseTokenAmount(acct.InitialStake, info.StakingDecimals)
		if err != nil {
			return fmt.Errorf("seeded stake for %s: %w", address, err)
		}
	}
	next, err := fn(current, info.StakingDecimals)
	if err != nil {
		return err
	}
	acct.InitialStake = pool.FormattedTokenAmount(next, info.StakingDecimals)
	if err := SaveProtocolInfo(info); err != nil {
		return err
	}
	misc.Infof(App.logger, "seeded stake for %s now %s %s", address, acct.InitialStake, info.StakingToken)
	return nil
}
