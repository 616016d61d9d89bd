package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/stakepool/internal/lib/pool"
)

func TestRunFundingPassDedupe(t *testing.T) {
	info := &ProtocolInfo{
		StakingToken:       "STK",
		StakingDecimals:    18,
		PoolAddress:        "pool",
		AdminAddress:       "admin",
		BackendAddress:     "backend",
		VenueAddress:       "venue",
		SweepEveryXMinutes: 60,
		RewardTokens: []RewardTokenInfo{
			{Token: "USDC", Decimals: 6, Distributor: "distrib", DurationHours: 168},
		},
		Funding: []FundingInfo{
			// two one-shot notifies for the same token, each with its own ID,
			// plus an hourly recurring entry without one
			{ID: "notify-1", Token: "USDC", Amount: "100"},
			{ID: "notify-2", Token: "USDC", Amount: "100"},
			{Token: "USDC", Amount: "50", EveryXHours: 1},
		},
	}
	fake := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	d := &Daemon{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:      fake,
		info:       info,
		lastFunded: map[string]time.Time{},
	}
	require.NoError(t, d.buildRuntime(info))

	poolUSDC := func() int64 { return d.bank.BalanceOf(pool.Token("USDC"), "pool").Int64() }

	// first pass fires all three entries
	d.runFundingPass()
	assert.EqualValues(t, 250_000_000, poolUSDC())

	// a second pass funds nothing: one-shots are consumed, the recurring
	// entry's interval has not elapsed
	d.runFundingPass()
	assert.EqualValues(t, 250_000_000, poolUSDC())

	// after the interval only the recurring entry fires again
	fake.Advance(61 * time.Minute)
	d.runFundingPass()
	assert.EqualValues(t, 300_000_000, poolUSDC())
}

func TestDurationToNextSweep(t *testing.T) {
	testCases := []struct {
		name           string
		sweepMinutes   int
		currentTime    time.Time
		expectedDurMin float64
	}{
		{"11:10:15->12:00:00", 60, time.Date(2026, 1, 1, 11, 10, 15, 0, time.UTC), 49.75},
		{"11:55:15->12:00:00", 60, time.Date(2026, 1, 1, 11, 55, 15, 0, time.UTC), 4.75},
		{"00:00:00->00:15:00", 15, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 15.0},
		{"00:07:30->00:15:00", 15, time.Date(2026, 1, 1, 0, 7, 30, 0, time.UTC), 7.5},
		{"00:15:30->00:30:00", 15, time.Date(2026, 1, 1, 0, 15, 30, 0, time.UTC), 14.5},
		{"00:45:00->01:00:00", 15, time.Date(2026, 1, 1, 0, 45, 0, 0, time.UTC), 15.0},
		{"00:15:00->00:30:00", 30, time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC), 15.0},
		{"12:00:00->00:00:00", 24 * 60, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), 12 * 60.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actualDur := durationToNextSweep(tc.currentTime, tc.sweepMinutes)

			assert.InDelta(t, tc.expectedDurMin, actualDur.Minutes(), 0.01,
				"case: %s, expected duration of around %f minutes, but got duration of %v", tc.name, tc.expectedDurMin, actualDur)
		})
	}
}
