package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v3"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
	"github.com/meridianlabs/stakepool/internal/lib/pool"
)

func GetSimulateCmdOpts() *cli.Command {
	return &cli.Command{
		Name:   "simulate",
		Usage:  "Dry-run the configured protocol on a fake clock: fund emissions, fast-forward, sweep, and report balances",
		Before: checkConfigured,
		Action: RunSimulation,
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "hours",
				Usage: "Simulated time span in hours",
				Value: 168,
			},
			&cli.UintFlag{
				Name:  "sweeps",
				Usage: "Number of processing sweeps spread across the span",
				Value: 4,
			},
		},
	}
}

// RunSimulation builds the full runtime from the protocol config on a fake
// clock and walks it through one emission span, sweeping along the way. No
// persistent state is touched - this is a pure what-if for operators.
func RunSimulation(ctx context.Context, command *cli.Command) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	hours := command.Uint("hours")
	sweeps := command.Uint("sweeps")
	if sweeps == 0 {
		sweeps = 1
	}

	d := &Daemon{
		logger:     App.logger,
		clock:      clockwork.NewFakeClockAt(time.Now()),
		info:       info,
		lastFunded: map[string]time.Time{},
	}
	if err := d.buildRuntime(info); err != nil {
		return err
	}
	d.runFundingPass()

	fake := d.clock.(*clockwork.FakeClock)
	step := time.Duration(hours) * time.Hour / time.Duration(sweeps)
	for i := uint64(0); i < sweeps; i++ {
		fake.Advance(step)
		d.sweepAccounts(ctx)
	}
	misc.Infof(App.logger, "simulated %d hours with %d sweeps", hours, sweeps)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Account\tMode\tStaked\tWallet balances")
	for _, acct := range info.Accounts {
		pos, _ := d.engine.Position(acct.Address)
		balances := ""
		for _, rt := range info.RewardTokens {
			bal := d.bank.BalanceOf(pool.Token(rt.Token), acct.Address)
			if bal.Sign() == 0 {
				continue
			}
			balances += fmt.Sprintf("%s %s  ", pool.FormattedTokenAmount(bal, rt.Decimals), rt.Token)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", acct.Address, pos.Mode,
			pool.FormattedTokenAmount(d.engine.StakedBalance(acct.Address), info.StakingDecimals), balances)
	}
	return tw.Flush()
}
