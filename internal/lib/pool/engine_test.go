package pool

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokSTK  = Token("STK")
	tokUSDC = Token("USDC")
	tokRWD  = Token("RWD")

	week = 7 * 24 * time.Hour
)

var (
	adminCaller   = Caller{Addr: "admin", Roles: RoleAdmin}
	backendCaller = Caller{Addr: "backend", Roles: RoleBackend}
)

type testEnv struct {
	logger *slog.Logger
	clock  *clockwork.FakeClock
	bank   *Bank
	engine *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		bank:   NewBank(),
	}
	engine, err := New(Config{
		Logger:             env.logger,
		Clock:              env.clock,
		Bank:               env.bank,
		StakingToken:       tokSTK,
		PoolAddr:           "pool",
		DefaultSlippageBps: 100,
	})
	require.NoError(t, err)
	env.engine = engine
	return env
}

// stake mints the staking token to the account and stakes it.
func (env *testEnv) stake(t *testing.T, account string, amount *big.Int) {
	t.Helper()
	env.bank.Mint(tokSTK, account, amount)
	require.NoError(t, env.engine.Stake(Caller{Addr: account}, amount))
}

// fundReward mints amount to the token's distributor and notifies the emission.
func (env *testEnv) fundReward(t *testing.T, token Token, distributor string, amount *big.Int) {
	t.Helper()
	env.bank.Mint(token, distributor, amount)
	require.NoError(t, env.engine.NotifyRewardAmount(Caller{Addr: distributor}, token, amount))
}

// baseUnits returns whole * 10^decimals.
func baseUnits(whole int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), pow10(decimals))
}

// assertApprox asserts |want - got| <= tolerance, all in base units.
func assertApprox(t *testing.T, want, got *big.Int, tolerance int64, msgAndArgs ...any) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	diff.Abs(diff)
	assert.LessOrEqual(t, diff.Int64(), tolerance, msgAndArgs...)
}

func TestSingleStakerFullWindow(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", week))
	env.stake(t, "alice", baseUnits(1000, 18))
	env.fundReward(t, tokRWD, "distrib", baseUnits(1000, 18))

	// halfway through the window roughly half the emission has accrued
	env.clock.Advance(week / 2)
	earned, err := env.engine.Earned("alice", tokRWD)
	require.NoError(t, err)
	assertApprox(t, baseUnits(500, 18), earned, 10_000_000, "half-window accrual")

	payouts, err := env.engine.GetReward(Caller{Addr: "alice"})
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, tokRWD, payouts[0].Token)
	assert.Equal(t, 0, earned.Cmp(payouts[0].Amount), "payout matches the earned view")

	// the rest of the window pays out the remainder, never exceeding the funding
	env.clock.Advance(week/2 + time.Hour)
	more, err := env.engine.GetReward(Caller{Addr: "alice"})
	require.NoError(t, err)
	require.Len(t, more, 1)

	claimed := new(big.Int).Add(payouts[0].Amount, more[0].Amount)
	assert.True(t, claimed.Cmp(baseUnits(1000, 18)) <= 0, "claimed %s must not exceed funded 1000", claimed)
	assertApprox(t, baseUnits(1000, 18), claimed, 10_000_000, "full window pays out almost exactly the funding")
	assert.Equal(t, 0, env.bank.BalanceOf(tokRWD, "alice").Cmp(claimed))
}

func TestProportionalAccrualAcrossDecimals(t *testing.T) {
	// equal stakes earn identical amounts regardless of the reward token's
	// precision - 6, 8 and 18 decimal tokens all accrue at 18-decimal resolution
	testCases := []struct {
		name      string
		decimals  uint8
		tolerance int64
	}{
		{"usdc-6", 6, 2},
		{"wbtc-8", 8, 10},
		{"native-18", 18, 1_000_000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, tc.decimals, "distrib", week))
			env.stake(t, "alice", baseUnits(500, 18))
			env.stake(t, "bob", baseUnits(500, 18))
			env.fundReward(t, tokRWD, "distrib", baseUnits(1000, tc.decimals))

			env.clock.Advance(week + time.Hour)
			earnedA, err := env.engine.Earned("alice", tokRWD)
			require.NoError(t, err)
			earnedB, err := env.engine.Earned("bob", tokRWD)
			require.NoError(t, err)

			assert.Equal(t, 0, earnedA.Cmp(earnedB), "equal stakes must earn exactly equal amounts")
			assertApprox(t, baseUnits(500, tc.decimals), earnedA, tc.tolerance)
		})
	}
}

func TestLateStakerAccruesFromEntry(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", week))
	env.stake(t, "alice", baseUnits(1000, 18))
	env.fundReward(t, tokRWD, "distrib", baseUnits(1000, 18))

	// bob joins halfway - he splits only the second half's emission
	env.clock.Advance(week / 2)
	env.stake(t, "bob", baseUnits(1000, 18))
	env.clock.Advance(week / 2)

	earnedA, err := env.engine.Earned("alice", tokRWD)
	require.NoError(t, err)
	earnedB, err := env.engine.Earned("bob", tokRWD)
	require.NoError(t, err)
	assertApprox(t, baseUnits(750, 18), earnedA, 10_000_000)
	assertApprox(t, baseUnits(250, 18), earnedB, 10_000_000)
}

func TestTwoTokensIndependentSchedules(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokUSDC, 6, "distrib", week))
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", 2*week))
	env.stake(t, "alice", baseUnits(1000, 18))
	env.fundReward(t, tokUSDC, "distrib", baseUnits(1000, 6))
	env.fundReward(t, tokRWD, "distrib", baseUnits(1000, 18))

	env.clock.Advance(week)

	// USDC window is fully elapsed, RWD is only halfway through its own
	earnedUSDC, err := env.engine.Earned("alice", tokUSDC)
	require.NoError(t, err)
	earnedRWD, err := env.engine.Earned("alice", tokRWD)
	require.NoError(t, err)
	assertApprox(t, baseUnits(1000, 6), earnedUSDC, 2)
	assertApprox(t, baseUnits(500, 18), earnedRWD, 10_000_000)
}

func TestAccumulatorMonotonic(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", week))
	env.stake(t, "alice", baseUnits(100, 18))
	env.fundReward(t, tokRWD, "distrib", baseUnits(500, 18))

	last := env.engine.RewardConfigs()[0].RewardPerTokenStored()
	step := func(name string, fn func()) {
		fn()
		rpt := env.engine.RewardConfigs()[0].RewardPerTokenStored()
		assert.True(t, rpt.Cmp(last) >= 0, "%s: accumulator went backwards, %s -> %s", name, last, rpt)
		last = rpt
	}

	step("stake more", func() {
		env.clock.Advance(time.Hour)
		env.stake(t, "alice", baseUnits(100, 18))
	})
	step("withdraw", func() {
		env.clock.Advance(time.Hour)
		require.NoError(t, env.engine.Withdraw(Caller{Addr: "alice"}, baseUnits(50, 18)))
	})
	step("harvest", func() {
		env.clock.Advance(time.Hour)
		_, err := env.engine.GetReward(Caller{Addr: "alice"})
		require.NoError(t, err)
	})
	step("refund mid-window", func() {
		env.clock.Advance(time.Hour)
		env.fundReward(t, tokRWD, "distrib", baseUnits(500, 18))
	})
	step("window lapse", func() {
		env.clock.Advance(2 * week)
		_, err := env.engine.GetReward(Caller{Addr: "alice"})
		require.NoError(t, err)
	})
}

func TestHarvestIdempotent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", week))
	env.stake(t, "alice", baseUnits(100, 18))
	env.fundReward(t, tokRWD, "distrib", baseUnits(100, 18))
	env.clock.Advance(week)

	payouts, err := env.engine.GetReward(Caller{Addr: "alice"})
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	balance := env.bank.BalanceOf(tokRWD, "alice")

	// a second harvest with nothing newly accrued pays nothing
	again, err := env.engine.GetReward(Caller{Addr: "alice"})
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 0, balance.Cmp(env.bank.BalanceOf(tokRWD, "alice")))
}

func TestPauseGatesDepositsOnly(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", week))
	env.stake(t, "alice", baseUnits(100, 18))
	env.fundReward(t, tokRWD, "distrib", baseUnits(100, 18))
	env.clock.Advance(week / 2)

	assert.ErrorIs(t, env.engine.SetPaused(Caller{Addr: "alice"}, true), ErrNotAdmin)
	require.NoError(t, env.engine.SetPaused(adminCaller, true))
	assert.True(t, env.engine.Paused())

	env.bank.Mint(tokSTK, "alice", baseUnits(10, 18))
	assert.ErrorIs(t, env.engine.Stake(Caller{Addr: "alice"}, baseUnits(10, 18)), ErrStakingPaused)
	assert.ErrorIs(t, env.engine.StakeFor(backendCaller, "alice", baseUnits(10, 18)), ErrStakingPaused)

	// exits and harvests must keep working while paused
	require.NoError(t, env.engine.Withdraw(Caller{Addr: "alice"}, baseUnits(50, 18)))
	payouts, err := env.engine.GetReward(Caller{Addr: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, payouts)

	require.NoError(t, env.engine.SetPaused(adminCaller, false))
	assert.NoError(t, env.engine.Stake(Caller{Addr: "alice"}, baseUnits(10, 18)))
}

func TestExit(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", week))

	_, err := env.engine.Exit(Caller{Addr: "nobody"})
	assert.ErrorIs(t, err, ErrNothingToWithdraw)

	env.stake(t, "alice", baseUnits(100, 18))
	env.fundReward(t, tokRWD, "distrib", baseUnits(100, 18))
	env.clock.Advance(week)

	payouts, err := env.engine.Exit(Caller{Addr: "alice"})
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, 0, env.engine.StakedBalance("alice").Sign())
	assert.Equal(t, 0, env.engine.TotalStaked().Sign())
	assert.Equal(t, 0, env.bank.BalanceOf(tokSTK, "alice").Cmp(baseUnits(100, 18)))

	_, err = env.engine.Exit(Caller{Addr: "alice"})
	assert.ErrorIs(t, err, ErrNothingToWithdraw)
}

func TestStakeValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := Caller{Addr: "alice"}

	assert.ErrorIs(t, env.engine.Stake(alice, big.NewInt(0)), ErrZeroAmount)
	assert.ErrorIs(t, env.engine.Stake(alice, nil), ErrZeroAmount)
	assert.ErrorIs(t, env.engine.Stake(alice, big.NewInt(-5)), ErrZeroAmount)
	assert.ErrorIs(t, env.engine.Stake(alice, baseUnits(10, 18)), ErrInsufficientFunds)
	assert.ErrorIs(t, env.engine.StakeFor(alice, "bob", baseUnits(1, 18)), ErrNotBackend)

	env.stake(t, "alice", baseUnits(10, 18))
	assert.ErrorIs(t, env.engine.Withdraw(alice, baseUnits(11, 18)), ErrWithdrawExceedsStake)
	assert.ErrorIs(t, env.engine.Withdraw(Caller{Addr: "bob"}, baseUnits(1, 18)), ErrWithdrawExceedsStake)
}

func TestEarnedUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Earned("alice", Token("unregistered"))
	assert.ErrorIs(t, err, ErrRewardNotFound)
}

func TestHarvestForRequiresBackend(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.HarvestFor(adminCaller, "alice")
	assert.ErrorIs(t, err, ErrNotBackend)
}

func TestSetMode(t *testing.T) {
	env := newTestEnv(t)
	alice := Caller{Addr: "alice"}

	assert.ErrorIs(t, env.engine.SetMode(alice, Mode(7)), ErrUnknownMode)
	require.NoError(t, env.engine.SetMode(alice, ModeReinvest))
	pos, ok := env.engine.Position("alice")
	require.True(t, ok)
	assert.Equal(t, ModeReinvest, pos.Mode)

	// the zero value is compound - accounts that never chose a policy compound
	env.stake(t, "bob", baseUnits(1, 18))
	pos, ok = env.engine.Position("bob")
	require.True(t, ok)
	assert.Equal(t, ModeCompound, pos.Mode)
}

func TestSatelliteRoutes(t *testing.T) {
	env := newTestEnv(t)
	alice := Caller{Addr: "alice"}
	route := SatelliteRoute{Satellite: "sat-1", SwapPool: "pool-1"}

	err := env.engine.SetSatelliteRoute(alice, tokUSDC, route)
	assert.ErrorIs(t, err, ErrRewardNotFound, "route requires a registered reward token")

	require.NoError(t, env.engine.AddReward(adminCaller, tokSTK, 18, "distrib", week))
	require.NoError(t, env.engine.AddReward(adminCaller, tokUSDC, 6, "distrib", week))

	err = env.engine.SetSatelliteRoute(alice, tokSTK, route)
	assert.ErrorIs(t, err, ErrRouteStakingToken, "staking token payouts restake directly, never route")

	err = env.engine.SetSatelliteRoute(alice, tokUSDC, SatelliteRoute{})
	assert.ErrorIs(t, err, ErrZeroAddress)

	require.NoError(t, env.engine.SetSatelliteRoute(alice, tokUSDC, route))
	got, ok := env.engine.SatelliteRouteFor("alice", tokUSDC)
	require.True(t, ok)
	assert.Equal(t, route, got)

	_, ok = env.engine.SatelliteRouteFor("bob", tokUSDC)
	assert.False(t, ok)
}

func TestSnapshotRestore(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.AddReward(adminCaller, tokRWD, 18, "distrib", week))
	env.stake(t, "alice", baseUnits(100, 18))
	env.fundReward(t, tokRWD, "distrib", baseUnits(100, 18))
	env.clock.Advance(week / 2)

	earnedBefore, err := env.engine.Earned("alice", tokRWD)
	require.NoError(t, err)
	snap := env.engine.Snapshot()

	// mutate heavily, then roll back
	_, err = env.engine.GetReward(Caller{Addr: "alice"})
	require.NoError(t, err)
	require.NoError(t, env.engine.Withdraw(Caller{Addr: "alice"}, baseUnits(40, 18)))
	env.engine.Restore(snap)

	earnedAfter, err := env.engine.Earned("alice", tokRWD)
	require.NoError(t, err)
	assert.Equal(t, 0, earnedBefore.Cmp(earnedAfter))
	assert.Equal(t, 0, env.engine.StakedBalance("alice").Cmp(baseUnits(100, 18)))
}

func TestStakerCount(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, 0, env.engine.StakerCount())
	env.stake(t, "alice", baseUnits(10, 18))
	env.stake(t, "bob", baseUnits(10, 18))
	assert.Equal(t, 2, env.engine.StakerCount())
	require.NoError(t, env.engine.Withdraw(Caller{Addr: "bob"}, baseUnits(10, 18)))
	assert.Equal(t, 1, env.engine.StakerCount(), "zeroed positions drop out of the count")
}

func TestConfigValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bank := NewBank()

	_, err := New(Config{Bank: bank, StakingToken: tokSTK, PoolAddr: "pool"})
	assert.Error(t, err, "logger is required")

	_, err = New(Config{Logger: logger, StakingToken: tokSTK, PoolAddr: "pool"})
	assert.Error(t, err, "bank is required")

	_, err = New(Config{Logger: logger, Bank: bank, PoolAddr: "pool"})
	assert.Error(t, err, "staking token is required")

	_, err = New(Config{Logger: logger, Bank: bank, StakingToken: tokSTK, PoolAddr: "pool",
		DefaultSlippageBps: MaxSlippageBps + 1})
	assert.True(t, errors.Is(err, ErrSlippageTooHigh))

	engine, err := New(Config{Logger: logger, Bank: bank, StakingToken: tokSTK, PoolAddr: "pool"})
	require.NoError(t, err)
	assert.NotNil(t, engine, "clock defaults to the real clock")
}
