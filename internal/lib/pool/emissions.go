package pool

import (
	"fmt"
	"math/big"
	"time"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
)

// AddReward registers a new reward token with a zero emission rate. The
// distributor is the only caller allowed to fund it later.
func (e *Engine) AddReward(caller Caller, token Token, decimals uint8, distributor string, duration time.Duration) error {
	if !caller.Has(RoleAdmin) {
		return ErrNotAdmin
	}
	if token == "" || distributor == "" {
		return ErrZeroAddress
	}
	if duration < time.Second {
		return ErrZeroDuration
	}
	if decimals < 1 || decimals > 18 {
		return ErrBadDecimals
	}
	e.Lock()
	defer e.Unlock()
	if _, ok := e.rewardIdx[token]; ok {
		return ErrRewardExists
	}
	cfg := &RewardTokenConfig{
		Token:                token,
		Decimals:             decimals,
		Distributor:          distributor,
		Duration:             duration,
		LastUpdateTime:       e.clock.Now(),
		rewardRate:           new(big.Int),
		rewardPerTokenStored: new(big.Int),
		scale:                pow10(18 - decimals),
	}
	e.rewardCfgs = append(e.rewardCfgs, cfg)
	e.rewardIdx[token] = len(e.rewardCfgs) - 1
	promRewardTokens.Set(float64(len(e.rewardCfgs)))
	misc.Infof(e.logger, "reward token added:%s, decimals:%d, distributor:%s, duration:%v",
		token, decimals, distributor, duration)
	return nil
}

// RemoveReward deregisters a reward token once its emission window has fully
// lapsed. An active window may not be torn down mid-flight - that would
// strand undistributed rewards. Swap-remove keeps every other config intact.
func (e *Engine) RemoveReward(caller Caller, token Token) error {
	if !caller.Has(RoleAdmin) {
		return ErrNotAdmin
	}
	e.Lock()
	defer e.Unlock()
	idx, ok := e.rewardIdx[token]
	if !ok {
		return ErrRewardNotFound
	}
	if !e.clock.Now().After(e.rewardCfgs[idx].PeriodFinish) {
		return ErrRewardPeriodActive
	}
	last := len(e.rewardCfgs) - 1
	if idx != last {
		e.rewardCfgs[idx] = e.rewardCfgs[last]
		e.rewardIdx[e.rewardCfgs[idx].Token] = idx
	}
	e.rewardCfgs = e.rewardCfgs[:last]
	delete(e.rewardIdx, token)
	delete(e.states, token)
	promRewardTokens.Set(float64(len(e.rewardCfgs)))
	misc.Infof(e.logger, "reward token removed:%s", token)
	return nil
}

// NotifyRewardAmount is the distributor's funding call. The freshly
// transferred amount - plus whatever remains unconsumed of the current window
// - is spread linearly over a fresh duration starting now.
//
// The rate is floor-divided, so rate*duration never exceeds the funds the
// pool actually holds: the emission is solvent purely from this transfer and
// the rolled-over remainder.
func (e *Engine) NotifyRewardAmount(caller Caller, token Token, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	e.Lock()
	defer e.Unlock()
	idx, ok := e.rewardIdx[token]
	if !ok {
		return ErrRewardNotFound
	}
	cfg := e.rewardCfgs[idx]
	if caller.Addr != cfg.Distributor {
		return ErrNotDistributor
	}
	// settle the global accumulator at the old rate before changing it
	e.settleLocked("")
	if err := e.bank.Transfer(token, caller.Addr, e.poolAddr, amount); err != nil {
		return fmt.Errorf("funding %s of %s: %w", amount, token, err)
	}

	now := e.clock.Now()
	durationSecs := new(big.Int).SetInt64(int64(cfg.Duration / time.Second))
	normalized := new(big.Int).Mul(amount, cfg.scale)
	if now.Before(cfg.PeriodFinish) {
		// mid-window top-up: unconsumed emission rolls forward
		secsLeft := new(big.Int).SetInt64(int64(cfg.PeriodFinish.Sub(now) / time.Second))
		remaining := new(big.Int).Mul(secsLeft, cfg.rewardRate)
		normalized.Add(normalized, remaining)
	}
	cfg.rewardRate = normalized.Div(normalized, durationSecs)
	cfg.LastUpdateTime = now
	cfg.PeriodFinish = now.Add(cfg.Duration)
	promRewardsNotified.WithLabelValues(string(token)).Add(tokenAmountFloat(amount, cfg.Decimals))
	misc.Infof(e.logger, "reward notified:%s of %s, rate now:%s/sec (normalized), window ends:%v",
		amount, token, cfg.rewardRate, cfg.PeriodFinish)
	return nil
}

// RewardConfigs returns copies of all registered reward token configs, in
// registry order.
func (e *Engine) RewardConfigs() []RewardTokenConfig {
	e.RLock()
	defer e.RUnlock()
	cfgs := make([]RewardTokenConfig, 0, len(e.rewardCfgs))
	for _, cfg := range e.rewardCfgs {
		cfgs = append(cfgs, *cfg.clone())
	}
	return cfgs
}

// RewardTokens returns the registered reward tokens in registry order.
func (e *Engine) RewardTokens() []Token {
	e.RLock()
	defer e.RUnlock()
	tokens := make([]Token, 0, len(e.rewardCfgs))
	for _, cfg := range e.rewardCfgs {
		tokens = append(tokens, cfg.Token)
	}
	return tokens
}

// NonStakingRewardTokens returns the registered reward tokens excluding the
// staking token itself, in registry order. Reinvest-mode callers must supply
// one satellite strategy per entry of this list.
func (e *Engine) NonStakingRewardTokens() []Token {
	e.RLock()
	defer e.RUnlock()
	var tokens []Token
	for _, cfg := range e.rewardCfgs {
		if cfg.Token != e.stakingToken {
			tokens = append(tokens, cfg.Token)
		}
	}
	return tokens
}
