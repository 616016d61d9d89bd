package pool

import (
	"errors"
)

var (
	// input validation
	ErrZeroAmount      = errors.New("amount must be greater than zero")
	ErrZeroAddress     = errors.New("address must not be empty")
	ErrZeroDuration    = errors.New("reward duration must be greater than zero")
	ErrBadDecimals     = errors.New("reward token decimals outside supported range (1-18)")
	ErrSlippageTooHigh = errors.New("slippage tolerance exceeds protocol ceiling")
	ErrUnknownMode     = errors.New("unknown reward processing mode")

	// authorization
	ErrNotAdmin       = errors.New("caller does not hold the admin role")
	ErrNotBackend     = errors.New("caller does not hold the backend role")
	ErrNotDistributor = errors.New("caller is not the reward token's distributor")

	// solvency / preconditions
	ErrNothingToWithdraw    = errors.New("nothing to withdraw")
	ErrWithdrawExceedsStake = errors.New("withdraw amount exceeds staked balance")
	ErrInsufficientFunds    = errors.New("insufficient token balance")
	ErrSatelliteNotOwned    = errors.New("satellite strategy is not owned by the account owner")
	ErrSatelliteLength      = errors.New("satellite strategy count does not match registered reward tokens")
	ErrSatelliteUnknown     = errors.New("satellite strategy not found in strategy registry")
	ErrRouteStakingToken    = errors.New("the staking token is restaked directly and cannot have a satellite route")

	// external dependencies
	ErrPriceCheckFailed = errors.New("proposed swap output below oracle-implied minimum")
	ErrNoPriceFeed      = errors.New("token has no configured price feed")
	ErrTokenNotApproved = errors.New("token not approved for swap routing")

	// lifecycle
	ErrStakingPaused      = errors.New("staking is paused")
	ErrRewardExists       = errors.New("reward token already registered")
	ErrRewardNotFound     = errors.New("reward token not registered")
	ErrRewardPeriodActive = errors.New("reward emission window still active")
)
