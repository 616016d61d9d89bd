package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promTotalStaked = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "staked_total",
	})
	promStakerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "staker_count",
	})
	promRewardTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "stakepool",
		Name:      "reward_token_count",
	})
	promAccountsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "accounts_processed_total",
	})
	promProcessingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "processing_errors_total",
	})
	promRewardsNotified = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "rewards_notified_total",
	}, []string{"token"})
	promRewardsPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "stakepool",
		Name:      "rewards_paid_total",
	}, []string{"token"})
)

// UpdatePoolMetrics refreshes the pool-level gauges. Called by the daemon
// after each sweep.
func (e *Engine) UpdatePoolMetrics(stakingDecimals uint8) {
	promTotalStaked.Set(tokenAmountFloat(e.TotalStaked(), stakingDecimals))
	promStakerCount.Set(float64(e.StakerCount()))
	promRewardTokens.Set(float64(len(e.RewardTokens())))
}
