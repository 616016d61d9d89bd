package pool

import (
	"math/big"
	"time"
)

// Token identifies an asset handled by the pool and its bank ledger.
type Token string

// Mode is the per-account reward processing policy.
// The zero value is ModeCompound - accounts that never chose a policy compound.
type Mode uint8

const (
	ModeCompound Mode = iota
	ModeReinvest
)

func (m Mode) String() string {
	switch m {
	case ModeCompound:
		return "compound"
	case ModeReinvest:
		return "reinvest"
	}
	return "unknown"
}

// ParseMode maps the config/CLI representation to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "compound":
		return ModeCompound, nil
	case "reinvest":
		return ModeReinvest, nil
	}
	return 0, ErrUnknownMode
}

// Roles is a bitmask of capabilities granted to a Caller.
type Roles uint8

const (
	// RoleAdmin may change protocol level configuration - pause, default slippage,
	// reward token lifecycle.
	RoleAdmin Roles = 1 << iota
	// RoleBackend may trigger reward processing for any account.
	RoleBackend
)

// Caller carries the identity and granted roles of whoever invokes an operation.
// Role checks are explicit per call rather than baked into the engine.
type Caller struct {
	Addr  string
	Roles Roles
}

func (c Caller) Has(r Roles) bool {
	return c.Roles&r == r
}

// StakePosition tracks one account's stake and its processing policy.
// Positions are created on first stake and never deleted - the balance can
// simply return to zero.
type StakePosition struct {
	Owner       string
	Staked      *big.Int
	Mode        Mode
	SlippageBps uint64 // 0 means 'use the pool default'
}

// RewardTokenConfig is the per reward token emission state.
// Amount bookkeeping is done in 'normalized' units - the token's base units
// scaled up by 10^(18-decimals) - so tokens of any precision accrue with equal
// resolution.
type RewardTokenConfig struct {
	Token       Token
	Decimals    uint8
	Distributor string
	Duration    time.Duration

	PeriodFinish   time.Time
	LastUpdateTime time.Time

	rewardRate           *big.Int // normalized units per second
	rewardPerTokenStored *big.Int // normalized units per staked unit, 1e18 fixed point
	scale                *big.Int // 10^(18-Decimals)
}

// RewardRate returns the current emission rate in normalized units per second.
func (c *RewardTokenConfig) RewardRate() *big.Int {
	return new(big.Int).Set(c.rewardRate)
}

// RewardPerTokenStored returns the settled accumulator value.
func (c *RewardTokenConfig) RewardPerTokenStored() *big.Int {
	return new(big.Int).Set(c.rewardPerTokenStored)
}

func (c *RewardTokenConfig) clone() *RewardTokenConfig {
	dup := *c
	dup.rewardRate = new(big.Int).Set(c.rewardRate)
	dup.rewardPerTokenStored = new(big.Int).Set(c.rewardPerTokenStored)
	dup.scale = new(big.Int).Set(c.scale)
	return &dup
}

// userRewardState is the per (account, reward token) settlement snapshot.
type userRewardState struct {
	userRewardPerTokenPaid *big.Int // accumulator value at last settlement
	rewards                *big.Int // settled but unclaimed, normalized units
}

func (s *userRewardState) clone() *userRewardState {
	return &userRewardState{
		userRewardPerTokenPaid: new(big.Int).Set(s.userRewardPerTokenPaid),
		rewards:                new(big.Int).Set(s.rewards),
	}
}

// Payout is one reward token amount paid to an account, in token base units.
type Payout struct {
	Token  Token
	Amount *big.Int
}

// SatelliteRoute is the reinvest destination configured for one reward token:
// the satellite strategy receiving the harvest and the swap pool used when the
// same token is compounded instead.
type SatelliteRoute struct {
	Satellite string
	SwapPool  string
}

// accumPrecision is the fixed point base of the reward-per-token accumulator.
var accumPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// pow10 returns 10^n.
func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
