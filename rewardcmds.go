package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
)

func GetRewardCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "reward",
		Aliases: []string{"r"},
		Usage:   "Manage the reward token registry and emission funding",
		Before:  checkConfigured,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List registered reward tokens",
				Action:  RewardsList,
			},
			{
				Name:    "add",
				Aliases: []string{"a"},
				Usage:   "Register a new reward token",
				Action:  RewardAdd,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Reward token identifier",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "decimals",
						Usage:    "Token decimal count (1-18)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "distributor",
						Usage:    "Address allowed to fund this token's emissions",
						Required: true,
					},
					&cli.UintFlag{
						Name:     "duration",
						Usage:    "Emission window length in hours",
						Required: true,
					},
				},
			},
			{
				Name:   "remove",
				Usage:  "Deregister a reward token.  Refused by the daemon while its emission window is still active",
				Action: RewardRemove,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Reward token identifier",
						Required: true,
					},
				},
			},
			{
				Name:   "notify",
				Usage:  "Schedule a one-shot emission funding from the token's distributor",
				Action: RewardNotify,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Reward token identifier",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "amount",
						Usage:    "Amount to distribute over the token's emission window, in whole tokens",
						Required: true,
					},
				},
			},
			{
				Name:   "pause",
				Usage:  "Pause deposits.  Withdrawals and harvests stay available",
				Action: func(ctx context.Context, cmd *cli.Command) error { return setPaused(true) },
			},
			{
				Name:   "unpause",
				Usage:  "Resume deposits",
				Action: func(ctx context.Context, cmd *cli.Command) error { return setPaused(false) },
			},
		},
	}
}

func RewardsList(ctx context.Context, command *cli.Command) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Token\tDecimals\tDistributor\tWindow (hours)")
	for _, rt := range info.RewardTokens {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", rt.Token, rt.Decimals, rt.Distributor, rt.DurationHours)
	}
	return tw.Flush()
}

func RewardAdd(ctx context.Context, command *cli.Command) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	token := command.String("token")
	if slices.ContainsFunc(info.RewardTokens, func(rt RewardTokenInfo) bool { return rt.Token == token }) {
		return fmt.Errorf("reward token %s already registered", token)
	}
	decimals := command.Uint("decimals")
	if decimals < 1 || decimals > 18 {
		return fmt.Errorf("decimals must be within 1-18, got %d", decimals)
	}
	info.RewardTokens = append(info.RewardTokens, RewardTokenInfo{
		Token:         token,
		Decimals:      uint8(decimals),
		Distributor:   command.String("distributor"),
		DurationHours: int(command.Uint("duration")),
	})
	if err := SaveProtocolInfo(info); err != nil {
		return err
	}
	misc.Infof(App.logger, "reward token %s added, the daemon will register it on its next sweep", token)
	return nil
}

func RewardRemove(ctx context.Context, command *cli.Command) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	token := command.String("token")
	idx := slices.IndexFunc(info.RewardTokens, func(rt RewardTokenInfo) bool { return rt.Token == token })
	if idx == -1 {
		return fmt.Errorf("reward token %s not registered", token)
	}
	_, err = (&promptui.Prompt{
		Label:     fmt.Sprintf("Remove reward token %s.  Unclaimed settled rewards for it will be stranded.  Are you sure", token),
		IsConfirm: true,
	}).Run()
	if err != nil {
		return nil // declined
	}
	info.RewardTokens = slices.Delete(info.RewardTokens, idx, idx+1)
	info.Funding = slices.DeleteFunc(info.Funding, func(f FundingInfo) bool { return f.Token == token })
	if err := SaveProtocolInfo(info); err != nil {
		return err
	}
	misc.Infof(App.logger, "reward token %s dropped from config, daemon removes it once its window lapses", token)
	return nil
}

func RewardNotify(ctx context.Context, command *cli.Command) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	token := command.String("token")
	if !slices.ContainsFunc(info.RewardTokens, func(rt RewardTokenInfo) bool { return rt.Token == token }) {
		return fmt.Errorf("reward token %s not registered", token)
	}
	// EveryXHours 0 means one-shot - the daemon funds it once on its next pass.
	// A fresh ID per entry lets repeated notifies for the same token each fire.
	info.Funding = append(info.Funding, FundingInfo{
		ID:     uuid.NewString(),
		Token:  token,
		Amount: command.String("amount"),
	})
	return SaveProtocolInfo(info)
}

func setPaused(paused bool) error {
	info, err := LoadProtocolInfo()
	if err != nil {
		return err
	}
	info.Paused = paused
	return SaveProtocolInfo(info)
}
