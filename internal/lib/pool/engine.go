package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
)

// MaxSlippageBps is the protocol ceiling for any slippage tolerance.
const MaxSlippageBps = 3000

// Config carries the dependencies and initial settings of an Engine.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Bank   *Bank

	// StakingToken is the governance token accounts stake and earn.
	StakingToken Token
	// PoolAddr is the escrow address holding all staked funds and all reward
	// balances awaiting distribution.
	PoolAddr string
	// DefaultSlippageBps applies to accounts that never set their own tolerance.
	DefaultSlippageBps uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank ledger is required")
	}
	if cfg.StakingToken == "" || cfg.PoolAddr == "" {
		return errors.New("staking token and pool address are required")
	}
	if cfg.DefaultSlippageBps > MaxSlippageBps {
		return ErrSlippageTooHigh
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Engine maintains the shared stake pool and, per reward token, the
// reward-per-token-staked accumulator that lets any account's entitlement be
// computed without iterating over all accounts.
//
// Every balance-affecting operation settles the global accumulator and the
// affected account's snapshot first, so a balance change can never
// retroactively alter rewards accrued at the old balance.
type Engine struct {
	logger *slog.Logger
	clock  clockwork.Clock
	bank   *Bank

	stakingToken Token
	poolAddr     string

	// embed mutex for locking state for members below the mutex
	sync.RWMutex
	paused             bool
	defaultSlippageBps uint64
	totalSupply        *big.Int
	positions          map[string]*StakePosition
	rewardCfgs         []*RewardTokenConfig // dense arena, swap-remove on removal
	rewardIdx          map[Token]int
	states             map[Token]map[string]*userRewardState
	routes             map[string]map[Token]SatelliteRoute
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		logger:             cfg.Logger,
		clock:              cfg.Clock,
		bank:               cfg.Bank,
		stakingToken:       cfg.StakingToken,
		poolAddr:           cfg.PoolAddr,
		defaultSlippageBps: cfg.DefaultSlippageBps,
		totalSupply:        new(big.Int),
		positions:          map[string]*StakePosition{},
		rewardIdx:          map[Token]int{},
		states:             map[Token]map[string]*userRewardState{},
		routes:             map[string]map[Token]SatelliteRoute{},
	}
	misc.Infof(e.logger, "engine initialized, staking token:%s, pool address:%s", e.stakingToken, e.poolAddr)
	return e, nil
}

func (e *Engine) StakingToken() Token { return e.stakingToken }
func (e *Engine) PoolAddr() string    { return e.poolAddr }

// Stake pulls amount of the staking token from the caller into the pool and
// credits their position. Blocked while deposits are paused - withdrawals
// never are.
func (e *Engine) Stake(caller Caller, amount *big.Int) error {
	return e.stakeFrom(caller.Addr, amount)
}

// StakeFor lets the backend restake harvested value on behalf of an account.
// Funds are still pulled from the account's own balance.
func (e *Engine) StakeFor(caller Caller, account string, amount *big.Int) error {
	if !caller.Has(RoleBackend) {
		return ErrNotBackend
	}
	return e.stakeFrom(account, amount)
}

func (e *Engine) stakeFrom(account string, amount *big.Int) error {
	if account == "" {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	e.Lock()
	defer e.Unlock()
	if e.paused {
		return ErrStakingPaused
	}
	e.settleLocked(account)
	if err := e.bank.Transfer(e.stakingToken, account, e.poolAddr, amount); err != nil {
		return fmt.Errorf("staking %s: %w", amount, err)
	}
	pos := e.positionLocked(account)
	pos.Staked.Add(pos.Staked, amount)
	e.totalSupply.Add(e.totalSupply, amount)
	misc.Debugf(e.logger, "account:%s staked:%s, total supply now:%s", account, amount, e.totalSupply)
	return nil
}

// Withdraw returns amount of the staking token to the caller. Deliberately
// callable while deposits are paused - exits cannot be halted.
func (e *Engine) Withdraw(caller Caller, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	e.Lock()
	defer e.Unlock()
	return e.withdrawLocked(caller.Addr, amount)
}

func (e *Engine) withdrawLocked(account string, amount *big.Int) error {
	pos, ok := e.positions[account]
	if !ok || pos.Staked.Cmp(amount) < 0 {
		return ErrWithdrawExceedsStake
	}
	e.settleLocked(account)
	pos.Staked.Sub(pos.Staked, amount)
	e.totalSupply.Sub(e.totalSupply, amount)
	if err := e.bank.Transfer(e.stakingToken, e.poolAddr, account, amount); err != nil {
		// pool escrow always covers totalSupply, so this is an internal fault
		return fmt.Errorf("withdrawing %s for %s: %w", amount, account, err)
	}
	misc.Debugf(e.logger, "account:%s withdrew:%s, total supply now:%s", account, amount, e.totalSupply)
	return nil
}

// GetReward settles and pays out every registered reward token's accrued
// amount to the caller. Tokens with nothing accrued are skipped - calling
// twice in a row is a harmless no-op.
func (e *Engine) GetReward(caller Caller) ([]Payout, error) {
	e.Lock()
	defer e.Unlock()
	return e.harvestLocked(caller.Addr)
}

// HarvestFor is the backend's entry point for harvesting on behalf of an
// account during scheduled processing.
func (e *Engine) HarvestFor(caller Caller, account string) ([]Payout, error) {
	if !caller.Has(RoleBackend) {
		return nil, ErrNotBackend
	}
	e.Lock()
	defer e.Unlock()
	return e.harvestLocked(account)
}

func (e *Engine) harvestLocked(account string) ([]Payout, error) {
	e.settleLocked(account)
	var payouts []Payout
	for _, cfg := range e.rewardCfgs {
		st := e.stateLocked(cfg.Token, account)
		// convert settled normalized units to token base units, keeping the
		// sub-unit remainder accruing for next time
		amount := new(big.Int).Div(st.rewards, cfg.scale)
		if amount.Sign() == 0 {
			continue
		}
		st.rewards.Mod(st.rewards, cfg.scale)
		if err := e.bank.Transfer(cfg.Token, e.poolAddr, account, amount); err != nil {
			return nil, fmt.Errorf("paying %s %s to %s: %w", amount, cfg.Token, account, err)
		}
		promRewardsPaid.WithLabelValues(string(cfg.Token)).Add(tokenAmountFloat(amount, cfg.Decimals))
		payouts = append(payouts, Payout{Token: cfg.Token, Amount: amount})
		misc.Debugf(e.logger, "account:%s claimed %s of %s", account, amount, cfg.Token)
	}
	return payouts, nil
}

// Exit withdraws the full staked balance and harvests all rewards as one
// atomic unit.
func (e *Engine) Exit(caller Caller) ([]Payout, error) {
	e.Lock()
	defer e.Unlock()
	pos, ok := e.positions[caller.Addr]
	if !ok || pos.Staked.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	if err := e.withdrawLocked(caller.Addr, new(big.Int).Set(pos.Staked)); err != nil {
		return nil, err
	}
	return e.harvestLocked(caller.Addr)
}

// Earned returns the account's claimable amount of token, in token base
// units, without mutating any state.
func (e *Engine) Earned(account string, token Token) (*big.Int, error) {
	e.RLock()
	defer e.RUnlock()
	idx, ok := e.rewardIdx[token]
	if !ok {
		return nil, ErrRewardNotFound
	}
	cfg := e.rewardCfgs[idx]
	norm := e.earnedNormLocked(cfg, account, e.rewardPerTokenLocked(cfg))
	return norm.Div(norm, cfg.scale), nil
}

// settleLocked folds elapsed emissions into every token's accumulator and,
// when account is non-empty, refreshes that account's settlement snapshot.
// Runs in registry order before any balance mutation.
func (e *Engine) settleLocked(account string) {
	for _, cfg := range e.rewardCfgs {
		rpt := e.rewardPerTokenLocked(cfg)
		cfg.rewardPerTokenStored = rpt
		cfg.LastUpdateTime = e.lastTimeApplicable(cfg)
		if account == "" {
			continue
		}
		st := e.stateLocked(cfg.Token, account)
		st.rewards = e.earnedNormLocked(cfg, account, rpt)
		st.userRewardPerTokenPaid = new(big.Int).Set(rpt)
	}
}

// lastTimeApplicable is min(now, periodFinish) - accrual stops at the end of
// the emission window.
func (e *Engine) lastTimeApplicable(cfg *RewardTokenConfig) time.Time {
	now := e.clock.Now()
	if now.After(cfg.PeriodFinish) {
		return cfg.PeriodFinish
	}
	return now
}

// rewardPerTokenLocked extends the stored accumulator by the emissions since
// the last update, divided across the current total stake. Non-decreasing by
// construction.
func (e *Engine) rewardPerTokenLocked(cfg *RewardTokenConfig) *big.Int {
	stored := new(big.Int).Set(cfg.rewardPerTokenStored)
	if e.totalSupply.Sign() == 0 {
		return stored
	}
	elapsed := int64(e.lastTimeApplicable(cfg).Sub(cfg.LastUpdateTime) / time.Second)
	if elapsed <= 0 {
		return stored
	}
	delta := new(big.Int).SetInt64(elapsed)
	delta.Mul(delta, cfg.rewardRate)
	delta.Mul(delta, accumPrecision)
	delta.Div(delta, e.totalSupply)
	return stored.Add(stored, delta)
}

// earnedNormLocked applies the settlement formula without mutating state:
// settled rewards plus balance * (accumulator - paid snapshot).
func (e *Engine) earnedNormLocked(cfg *RewardTokenConfig, account string, rpt *big.Int) *big.Int {
	var (
		paid    = new(big.Int)
		settled = new(big.Int)
	)
	if st, ok := e.states[cfg.Token][account]; ok {
		paid.Set(st.userRewardPerTokenPaid)
		settled.Set(st.rewards)
	}
	pos, ok := e.positions[account]
	if !ok || pos.Staked.Sign() == 0 {
		return settled
	}
	diff := new(big.Int).Sub(rpt, paid)
	if diff.Sign() <= 0 {
		return settled
	}
	diff.Mul(diff, pos.Staked)
	diff.Div(diff, accumPrecision)
	return settled.Add(settled, diff)
}

func (e *Engine) positionLocked(account string) *StakePosition {
	pos, ok := e.positions[account]
	if !ok {
		pos = &StakePosition{Owner: account, Staked: new(big.Int)}
		e.positions[account] = pos
	}
	return pos
}

func (e *Engine) stateLocked(token Token, account string) *userRewardState {
	accounts, ok := e.states[token]
	if !ok {
		accounts = map[string]*userRewardState{}
		e.states[token] = accounts
	}
	st, ok := accounts[account]
	if !ok {
		st = &userRewardState{userRewardPerTokenPaid: new(big.Int), rewards: new(big.Int)}
		accounts[account] = st
	}
	return st
}

// TotalStaked returns the pool-wide staked amount.
func (e *Engine) TotalStaked() *big.Int {
	e.RLock()
	defer e.RUnlock()
	return new(big.Int).Set(e.totalSupply)
}

// StakedBalance returns account's staked amount.
func (e *Engine) StakedBalance(account string) *big.Int {
	e.RLock()
	defer e.RUnlock()
	if pos, ok := e.positions[account]; ok {
		return new(big.Int).Set(pos.Staked)
	}
	return new(big.Int)
}

// Position returns a copy of the account's stake position.
func (e *Engine) Position(account string) (StakePosition, bool) {
	e.RLock()
	defer e.RUnlock()
	pos, ok := e.positions[account]
	if !ok {
		return StakePosition{}, false
	}
	dup := *pos
	dup.Staked = new(big.Int).Set(pos.Staked)
	return dup, true
}

// StakerCount returns the number of positions with a nonzero balance.
func (e *Engine) StakerCount() int {
	e.RLock()
	defer e.RUnlock()
	var n int
	for _, pos := range e.positions {
		if pos.Staked.Sign() > 0 {
			n++
		}
	}
	return n
}

func (e *Engine) Paused() bool {
	e.RLock()
	defer e.RUnlock()
	return e.paused
}

// SetPaused halts or resumes deposits. Only the deposit path consults the
// flag - withdraw and harvest ignore it.
func (e *Engine) SetPaused(caller Caller, paused bool) error {
	if !caller.Has(RoleAdmin) {
		return ErrNotAdmin
	}
	e.Lock()
	defer e.Unlock()
	e.paused = paused
	misc.Infof(e.logger, "deposits paused:%v", paused)
	return nil
}

// SetMode sets the caller's own reward processing policy.
func (e *Engine) SetMode(caller Caller, mode Mode) error {
	if mode != ModeCompound && mode != ModeReinvest {
		return ErrUnknownMode
	}
	e.Lock()
	defer e.Unlock()
	e.positionLocked(caller.Addr).Mode = mode
	return nil
}

// SetSatelliteRoute configures the caller's reinvest destination (and swap
// pool) for one non-staking reward token.
func (e *Engine) SetSatelliteRoute(caller Caller, token Token, route SatelliteRoute) error {
	if route.Satellite == "" {
		return ErrZeroAddress
	}
	e.Lock()
	defer e.Unlock()
	if _, ok := e.rewardIdx[token]; !ok {
		return ErrRewardNotFound
	}
	if token == e.stakingToken {
		return ErrRouteStakingToken
	}
	byToken, ok := e.routes[caller.Addr]
	if !ok {
		byToken = map[Token]SatelliteRoute{}
		e.routes[caller.Addr] = byToken
	}
	byToken[token] = route
	return nil
}

// SatelliteRouteFor returns the configured route for (account, token).
func (e *Engine) SatelliteRouteFor(account string, token Token) (SatelliteRoute, bool) {
	e.RLock()
	defer e.RUnlock()
	route, ok := e.routes[account][token]
	return route, ok
}

// engineSnapshot captures all mutable engine state for atomic multi-step
// operations. The processor takes one before harvesting and restores it if
// any later step fails.
type engineSnapshot struct {
	paused             bool
	defaultSlippageBps uint64
	totalSupply        *big.Int
	positions          map[string]*StakePosition
	rewardCfgs         []*RewardTokenConfig
	rewardIdx          map[Token]int
	states             map[Token]map[string]*userRewardState
}

func (e *Engine) Snapshot() *engineSnapshot {
	e.RLock()
	defer e.RUnlock()
	snap := &engineSnapshot{
		paused:             e.paused,
		defaultSlippageBps: e.defaultSlippageBps,
		totalSupply:        new(big.Int).Set(e.totalSupply),
		positions:          make(map[string]*StakePosition, len(e.positions)),
		rewardCfgs:         make([]*RewardTokenConfig, len(e.rewardCfgs)),
		rewardIdx:          make(map[Token]int, len(e.rewardIdx)),
		states:             make(map[Token]map[string]*userRewardState, len(e.states)),
	}
	for addr, pos := range e.positions {
		dup := *pos
		dup.Staked = new(big.Int).Set(pos.Staked)
		snap.positions[addr] = &dup
	}
	for i, cfg := range e.rewardCfgs {
		snap.rewardCfgs[i] = cfg.clone()
	}
	for token, idx := range e.rewardIdx {
		snap.rewardIdx[token] = idx
	}
	for token, accounts := range e.states {
		dup := make(map[string]*userRewardState, len(accounts))
		for addr, st := range accounts {
			dup[addr] = st.clone()
		}
		snap.states[token] = dup
	}
	return snap
}

func (e *Engine) Restore(snap *engineSnapshot) {
	e.Lock()
	defer e.Unlock()
	e.paused = snap.paused
	e.defaultSlippageBps = snap.defaultSlippageBps
	e.totalSupply = snap.totalSupply
	e.positions = snap.positions
	e.rewardCfgs = snap.rewardCfgs
	e.rewardIdx = snap.rewardIdx
	e.states = snap.states
}
