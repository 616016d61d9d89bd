package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
)

var logLevel = new(slog.LevelVar) // Info by default

func initApp() *StakeApp {
	log.SetFlags(0)
	var logger *slog.Logger
	if term.IsTerminal(int(os.Stdout.Fd())) {
		// Output is a tty - we're being run as CLI vs as a daemon
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		}))
	} else {
		// not on console - output as json, but change json key names to be more compatible w/ what google logging
		// expects
		opts := &slog.HandlerOptions{
			AddSource: true,
			Level:     logLevel,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.MessageKey {
					a.Key = "message"
				} else if a.Key == slog.LevelKey && len(groups) == 0 {
					a.Key = "severity"
				}
				return a
			},
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)
	if os.Getenv("DEBUG") == "1" {
		logLevel.Set(slog.LevelDebug)
	}

	misc.LoadEnvSettings(logger)

	appConfig := &StakeApp{logger: logger}

	appConfig.cliCmd = &cli.Command{
		Name:    "stakepool node manager",
		Usage:   "Configuration tool and background daemon for the staking pool reward processor",
		Version: getVersionInfo(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "envfile",
				Usage:   "env file to load",
				Sources: cli.EnvVars("STAKEPOOL_ENVFILE"),
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:    "deployment",
				Usage:   "deployment name, loads .env.{deployment} overrides",
				Sources: cli.EnvVars("STAKEPOOL_DEPLOYMENT"),
				Aliases: []string{"d"},
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) error {
			if envfile := cmd.String("envfile"); envfile != "" {
				misc.Infof(appConfig.logger, "loading env file:%s", envfile)
				if err := godotenv.Load(envfile); err != nil {
					return err
				}
			}
			if deployment := cmd.String("deployment"); deployment != "" {
				misc.LoadEnvForDeployment(appConfig.logger, deployment)
			}
			return nil
		},
		Commands: []*cli.Command{
			GetDaemonCmdOpts(),
			GetRewardCmdOpts(),
			GetAccountCmdOpts(),
			GetStakeCmdOpts(),
			GetSimulateCmdOpts(),
		},
	}
	return appConfig
}

type StakeApp struct {
	cliCmd *cli.Command
	logger *slog.Logger
}

func checkConfigured(ctx context.Context, command *cli.Command) error {
	if _, err := LoadProtocolInfo(); err != nil {
		return fmt.Errorf("protocol not configured: %w", err)
	}
	return nil
}

// Version is replaced at build time during docker builds w/ 'release' version
// If not defined, we just return the git rev.
var Version string

func getVersionInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "The version information could not be determined"
	}
	var vcsRev = "(unknown)"
	if fnd := slices.IndexFunc(info.Settings, func(v debug.BuildSetting) bool { return v.Key == "vcs.revision" }); fnd != -1 {
		vcsRev = info.Settings[fnd].Value[0:7]
	}
	if Version != "" {
		return fmt.Sprintf("%s [%s]", Version, vcsRev)
	}
	return vcsRev
}
