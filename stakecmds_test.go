package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestConfig(t *testing.T) {
	t.Helper()
	t.Setenv("STAKEPOOL_CONFIG", filepath.Join(t.TempDir(), "stakepool.json"))
	App = &StakeApp{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	info := &ProtocolInfo{
		StakingToken:       "STK",
		StakingDecimals:    6,
		PoolAddress:        "pool",
		AdminAddress:       "admin",
		BackendAddress:     "backend",
		SweepEveryXMinutes: 60,
	}
	require.NoError(t, SaveProtocolInfo(info))
}

func seededStake(t *testing.T, address string) string {
	t.Helper()
	info, err := LoadProtocolInfo()
	require.NoError(t, err)
	for _, acct := range info.Accounts {
		if acct.Address == address {
			return acct.InitialStake
		}
	}
	return ""
}

func TestStakeAddWithdrawExit(t *testing.T) {
	setupTestConfig(t)

	// first add creates the account entry
	require.NoError(t, addStake("alice", "1000.5"))
	assert.Equal(t, "1000.5", seededStake(t, "alice"))

	require.NoError(t, addStake("alice", "500"))
	assert.Equal(t, "1500.5", seededStake(t, "alice"))

	require.NoError(t, withdrawStake("alice", "500.5"))
	assert.Equal(t, "1000", seededStake(t, "alice"))

	require.NoError(t, exitStake("alice"))
	assert.Equal(t, "0", seededStake(t, "alice"))
}

func TestStakeValidationGuards(t *testing.T) {
	setupTestConfig(t)
	require.NoError(t, addStake("alice", "100"))

	assert.Error(t, addStake("alice", "0"))
	assert.Error(t, addStake("alice", "-5"))
	assert.Error(t, addStake("alice", "not-a-number"))
	assert.Error(t, addStake("", "100"))

	assert.Error(t, withdrawStake("alice", "100.000001"), "withdraw must not exceed the seeded stake")
	assert.Error(t, withdrawStake("bob", "1"), "a fresh account has nothing to withdraw")
	assert.Error(t, exitStake("carol"), "exit with nothing staked is refused")

	// the failed calls must not have disturbed the stake
	assert.Equal(t, "100", seededStake(t, "alice"))
}
