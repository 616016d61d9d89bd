package pool

import (
	"github.com/meridianlabs/stakepool/internal/lib/misc"
)

// SetDefaultSlippage sets the pool-wide slippage tolerance used by accounts
// that never configured their own.
func (e *Engine) SetDefaultSlippage(caller Caller, bps uint64) error {
	if !caller.Has(RoleAdmin) {
		return ErrNotAdmin
	}
	if bps > MaxSlippageBps {
		return ErrSlippageTooHigh
	}
	e.Lock()
	defer e.Unlock()
	e.defaultSlippageBps = bps
	misc.Infof(e.logger, "default slippage set to %d bps", bps)
	return nil
}

// SetAccountSlippage sets the caller's own tolerance. Zero defers back to the
// pool default.
func (e *Engine) SetAccountSlippage(caller Caller, bps uint64) error {
	if bps > MaxSlippageBps {
		return ErrSlippageTooHigh
	}
	e.Lock()
	defer e.Unlock()
	e.positionLocked(caller.Addr).SlippageBps = bps
	return nil
}

// AccountSlippage returns the effective tolerance for an account - its own
// setting when nonzero, else the pool default.
func (e *Engine) AccountSlippage(account string) uint64 {
	e.RLock()
	defer e.RUnlock()
	if pos, ok := e.positions[account]; ok && pos.SlippageBps != 0 {
		return pos.SlippageBps
	}
	return e.defaultSlippageBps
}
