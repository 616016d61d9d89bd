package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ssgreg/repeat"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
	"github.com/meridianlabs/stakepool/internal/lib/pool"
)

// Daemon owns the in-process engine and sweeps every configured account
// through the reward processor on the configured cadence. Protocol
// configuration is refetched from the config file each pass so operator
// edits are picked up without a restart.
type Daemon struct {
	logger    *slog.Logger
	clock     clockwork.Clock
	bank      *pool.Bank
	engine    *pool.Engine
	gateway   *pool.SwapGateway
	oracle    *pool.FixedRateOracle
	registry  *pool.LocalStrategyRegistry
	processor *pool.Processor

	admin   pool.Caller
	backend pool.Caller

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	info       *ProtocolInfo
	lastFunded map[string]time.Time // keyed per funding entry, see fundingKey
}

func newDaemon() *Daemon {
	info, err := LoadProtocolInfo()
	if err != nil {
		log.Fatalf("Failed to load protocol info: %v", err)
	}
	d := &Daemon{
		logger:     App.logger,
		clock:      clockwork.NewRealClock(),
		info:       info,
		lastFunded: map[string]time.Time{},
	}
	if err := d.buildRuntime(info); err != nil {
		log.Fatalf("Failed to initialize engine from protocol info: %v", err)
	}
	return d
}

func (d *Daemon) Info() *ProtocolInfo {
	d.RLock()
	defer d.RUnlock()
	return d.info
}

func (d *Daemon) setInfo(info *ProtocolInfo) {
	d.Lock()
	defer d.Unlock()
	d.info = info
}

// buildRuntime constructs bank, oracle, venue, engine and processor from the
// protocol definition and seeds initial state: price feeds, reward registry,
// account policies, routes and initial stakes.
func (d *Daemon) buildRuntime(info *ProtocolInfo) error {
	d.bank = pool.NewBank()
	d.oracle = pool.NewFixedRateOracle()
	d.registry = pool.NewStrategyRegistry()
	d.admin = pool.Caller{Addr: info.AdminAddress, Roles: pool.RoleAdmin}
	d.backend = pool.Caller{Addr: info.BackendAddress, Roles: pool.RoleBackend}

	for _, feed := range info.PriceFeeds {
		priceE18, err := pool.ParseTokenAmount(feed.Price, 18)
		if err != nil {
			return fmt.Errorf("price feed for %s: %w", feed.Token, err)
		}
		d.oracle.SetFeed(pool.Token(feed.Token), priceE18, feed.Decimals)
	}

	venue := pool.NewBankVenue(d.bank, d.oracle, info.VenueAddress, info.SwapFeeBps)
	// seed the reference venue with deep inventory on every priced token
	for _, feed := range info.PriceFeeds {
		inventory, _ := pool.ParseTokenAmount("1000000000", feed.Decimals)
		d.bank.Mint(pool.Token(feed.Token), info.VenueAddress, inventory)
	}

	engine, err := pool.New(pool.Config{
		Logger:             d.logger,
		Clock:              d.clock,
		Bank:               d.bank,
		StakingToken:       pool.Token(info.StakingToken),
		PoolAddr:           info.PoolAddress,
		DefaultSlippageBps: info.DefaultSlippageBps,
	})
	if err != nil {
		return err
	}
	d.engine = engine
	d.gateway = pool.NewSwapGateway(d.logger, d.oracle, venue)
	d.processor = pool.NewProcessor(d.logger, d.engine, d.bank, d.gateway, d.registry)

	for _, feed := range info.PriceFeeds {
		if err := d.gateway.ApproveToken(d.admin, pool.Token(feed.Token)); err != nil {
			return err
		}
	}
	if err := d.ensureRewardTokens(info); err != nil {
		return err
	}
	if err := d.applyAccounts(info); err != nil {
		return err
	}
	if info.Paused {
		if err := d.engine.SetPaused(d.admin, true); err != nil {
			return err
		}
	}
	return nil
}

// ensureRewardTokens registers any reward token present in the config but
// not yet in the engine. Existing registrations are left untouched.
func (d *Daemon) ensureRewardTokens(info *ProtocolInfo) error {
	registered := map[pool.Token]bool{}
	for _, token := range d.engine.RewardTokens() {
		registered[token] = true
	}
	for _, rt := range info.RewardTokens {
		if registered[pool.Token(rt.Token)] {
			continue
		}
		duration := time.Duration(rt.DurationHours) * time.Hour
		err := d.engine.AddReward(d.admin, pool.Token(rt.Token), rt.Decimals, rt.Distributor, duration)
		if err != nil {
			return fmt.Errorf("registering reward token %s: %w", rt.Token, err)
		}
	}
	return nil
}

// applyAccounts seeds per-account policy, routes, satellites and the
// configured initial stakes.
func (d *Daemon) applyAccounts(info *ProtocolInfo) error {
	for _, acct := range info.Accounts {
		caller := pool.Caller{Addr: acct.Address}
		mode, err := pool.ParseMode(acct.Mode)
		if err != nil {
			return fmt.Errorf("account %s: %w", acct.Address, err)
		}
		if err := d.engine.SetMode(caller, mode); err != nil {
			return err
		}
		if acct.SlippageBps != 0 {
			if err := d.engine.SetAccountSlippage(caller, acct.SlippageBps); err != nil {
				return fmt.Errorf("account %s: %w", acct.Address, err)
			}
		}
		for _, route := range acct.Routes {
			err := d.engine.SetSatelliteRoute(caller, pool.Token(route.Token), pool.SatelliteRoute{
				Satellite: route.Satellite,
				SwapPool:  route.SwapPool,
			})
			if err != nil {
				return fmt.Errorf("route %s for account %s: %w", route.Token, acct.Address, err)
			}
			if _, ok := d.registry.Strategy(route.Satellite); !ok {
				d.registry.Register(route.Satellite, pool.NewLocalSatellite(acct.Address))
			}
		}
		if acct.InitialStake != "" {
			amount, err := pool.ParseTokenAmount(acct.InitialStake, info.StakingDecimals)
			if err != nil {
				return fmt.Errorf("initial stake for %s: %w", acct.Address, err)
			}
			if amount.Sign() > 0 {
				d.bank.Mint(pool.Token(info.StakingToken), acct.Address, amount)
				if err := d.engine.Stake(caller, amount); err != nil {
					return fmt.Errorf("seeding stake for %s: %w", acct.Address, err)
				}
			}
		}
	}
	return nil
}

func (d *Daemon) start(ctx context.Context, wg *sync.WaitGroup) {
	d.logger.Info("Starting stakepool daemon")

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.SweepWatcher(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.FundingWatcher(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.serveMetrics(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.logger.Info("exiting daemon start function")
		<-ctx.Done()
	}()
}

// SweepWatcher processes every configured account at each sweep boundary,
// refetching the protocol config first in case the operator updated it.
func (d *Daemon) SweepWatcher(ctx context.Context) {
	defer d.logger.Info("Exiting SweepWatcher")
	d.logger.Info("Starting SweepWatcher")

	d.sweepAccounts(ctx)
	for {
		info := d.Info()
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(durationToNextSweep(d.clock.Now(), info.SweepEveryXMinutes)):
			if err := d.refetchConfig(); err != nil {
				// try again next sweep boundary
				misc.Warnf(d.logger, "skipping sweep, config refetch failed:%v", err)
				continue
			}
			d.sweepAccounts(ctx)
		}
	}
}

// FundingWatcher emulates the external timelocked funding module: once a
// funding entry's interval elapses, the distributor is topped up and
// notifies the engine like any ordinary distributor would.
func (d *Daemon) FundingWatcher(ctx context.Context) {
	defer d.logger.Info("Exiting FundingWatcher")
	d.logger.Info("Starting FundingWatcher")

	d.runFundingPass()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(1 * time.Minute):
			d.runFundingPass()
		}
	}
}

func (d *Daemon) runFundingPass() {
	info := d.Info()
	now := d.clock.Now()
	for _, funding := range info.Funding {
		key := fundingKey(funding)
		interval := time.Duration(funding.EveryXHours) * time.Hour
		d.RLock()
		last, funded := d.lastFunded[key]
		d.RUnlock()
		// an entry without an interval is a one-shot: funded once, then held
		if funded && (interval <= 0 || now.Sub(last) < interval) {
			continue
		}
		if err := d.fundRewardToken(info, funding); err != nil {
			misc.Errorf(d.logger, "funding %s failed:%v", funding.Token, err)
			continue
		}
		d.Lock()
		d.lastFunded[key] = now
		d.Unlock()
	}
}

// fundingKey identifies a funding entry for dedupe. Entries carrying an ID
// (one-shot notifies appended by the CLI) each fire once on their own; legacy
// entries without one fall back to the token.
func fundingKey(funding FundingInfo) string {
	if funding.ID != "" {
		return funding.ID
	}
	return funding.Token
}

func (d *Daemon) fundRewardToken(info *ProtocolInfo, funding FundingInfo) error {
	var distributor string
	var decimals uint8
	for _, rt := range info.RewardTokens {
		if rt.Token == funding.Token {
			distributor = rt.Distributor
			decimals = rt.Decimals
		}
	}
	if distributor == "" {
		return fmt.Errorf("funding entry for unregistered reward token %s", funding.Token)
	}
	amount, err := pool.ParseTokenAmount(funding.Amount, decimals)
	if err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return nil
	}
	d.bank.Mint(pool.Token(funding.Token), distributor, amount)
	return d.engine.NotifyRewardAmount(pool.Caller{Addr: distributor}, pool.Token(funding.Token), amount)
}

// refetchConfig reloads the protocol file with retry/backoff and applies the
// updatable pieces: pause flag and any newly added reward tokens. New
// accounts are picked up by the next sweep automatically.
func (d *Daemon) refetchConfig() error {
	var err error
	err = repeat.Repeat(
		repeat.Fn(func() error {
			info, err := LoadProtocolInfo()
			if err != nil {
				return repeat.HintTemporary(err)
			}
			d.setInfo(info)
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(10),
		repeat.FnOnError(func(err error) error {
			d.logger.Warn("retrying fetch of protocol info", "error", err.Error())
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 5 * time.Second,
				MaxDelay:  10 * time.Second,
			}).Set(),
		),
	)
	if err != nil {
		return err
	}
	info := d.Info()
	if err := d.ensureRewardTokens(info); err != nil {
		return err
	}
	d.removeUnlistedRewardTokens(info)
	if info.Paused != d.engine.Paused() {
		if err := d.engine.SetPaused(d.admin, info.Paused); err != nil {
			return err
		}
	}
	return nil
}

// removeUnlistedRewardTokens deregisters tokens the operator dropped from
// the config. The engine refuses removal while an emission window is still
// active, so a premature drop just retries on a later sweep.
func (d *Daemon) removeUnlistedRewardTokens(info *ProtocolInfo) {
	listed := map[pool.Token]bool{}
	for _, rt := range info.RewardTokens {
		listed[pool.Token(rt.Token)] = true
	}
	for _, token := range d.engine.RewardTokens() {
		if listed[token] || token == pool.Token(info.StakingToken) {
			continue
		}
		if err := d.engine.RemoveReward(d.admin, token); err != nil {
			misc.Warnf(d.logger, "cannot remove reward token %s yet:%v", token, err)
		}
	}
}

func (d *Daemon) serveMetrics(ctx context.Context) {
	addr := os.Getenv("STAKEPOOL_METRICS_ADDR")
	if addr == "" {
		addr = ":9836"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	misc.Infof(d.logger, "metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		misc.Errorf(d.logger, "metrics server error:%v", err)
	}
}

// durationToNextSweep returns the wait until the next wall-clock boundary of
// the sweep interval, so all nodes sweeping the same protocol align.
func durationToNextSweep(now time.Time, sweepMinutes int) time.Duration {
	interval := time.Duration(sweepMinutes) * time.Minute
	return now.Truncate(interval).Add(interval).Sub(now)
}
