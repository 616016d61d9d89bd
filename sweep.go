package main

import (
	"context"

	"github.com/mailgun/holster/v4/syncutil"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
	"github.com/meridianlabs/stakepool/internal/lib/pool"
)

// sweepAccounts runs the reward processor for every configured account,
// fanning the calls out across a bounded worker set. Each call is atomic and
// the processor serializes them internally - the fan-out overlaps the
// per-account route validation and result handling, not the state mutation.
func (d *Daemon) sweepAccounts(ctx context.Context) {
	info := d.Info()

	var (
		fanOut    = syncutil.NewFanOut(8)
		resultsCh = make(chan *pool.ProcessResult, 2)
	)
	for _, acct := range info.Accounts {
		account := acct
		fanOut.Run(func(val any) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return d.processAccount(account, resultsCh)
		}, account.Address)
	}
	var errs []error
	go func() {
		errs = fanOut.Wait()
		close(resultsCh)
	}()
	var processed, harvested int
	for res := range resultsCh {
		processed++
		harvested += len(res.Harvested)
	}
	for _, err := range errs {
		misc.Errorf(d.logger, "sweep error:%v", err)
	}
	d.engine.UpdatePoolMetrics(info.StakingDecimals)
	misc.Infof(d.logger, "sweep complete: %d/%d accounts processed, %d harvests, total staked:%s",
		processed, len(info.Accounts), harvested,
		pool.FormattedTokenAmount(d.engine.TotalStaked(), info.StakingDecimals))
}

func (d *Daemon) processAccount(acct AccountInfo, resultsCh chan<- *pool.ProcessResult) error {
	satellites, ok := d.satellitesFor(acct)
	if !ok {
		misc.Warnf(d.logger, "skipping account:%s, reinvest routes incomplete", acct.Address)
		return nil
	}
	res, err := d.processor.ProcessRewards(d.backend, acct.Address, satellites)
	if err != nil {
		return err
	}
	if len(res.Harvested) > 0 {
		misc.Infof(d.logger, "account:%s mode:%s restaked:%s tokens:%d",
			res.Account, res.Mode, res.Restaked, len(res.Harvested))
	}
	resultsCh <- res
	return nil
}

// satellitesFor builds the caller-supplied strategies array the processor
// expects: one destination per registered non-staking reward token, in
// registry order. Returns ok=false for a reinvest account missing any route.
func (d *Daemon) satellitesFor(acct AccountInfo) ([]string, bool) {
	pos, _ := d.engine.Position(acct.Address)
	if pos.Mode != pool.ModeReinvest {
		return nil, true
	}
	tokens := d.engine.NonStakingRewardTokens()
	satellites := make([]string, 0, len(tokens))
	for _, token := range tokens {
		route, ok := d.engine.SatelliteRouteFor(acct.Address, token)
		if !ok {
			return nil, false
		}
		satellites = append(satellites, route.Satellite)
	}
	return satellites, true
}
