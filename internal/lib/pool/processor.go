package pool

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
)

// SatelliteStrategy is an independent yield position owned by an end user,
// usable as the reinvest destination for one reward token.
type SatelliteStrategy interface {
	Owner() string
	Deposit(token Token, amount *big.Int) error
}

// StrategyRegistry is the external account/strategy address book. The
// processor only reads it to validate ownership before reinvest deposits.
type StrategyRegistry interface {
	Strategy(addr string) (SatelliteStrategy, bool)
	IsUserStrategy(owner, addr string) bool
}

// Processor runs the scheduled harvest -> policy -> route sequence for one
// account per call. A call either fully commits or leaves engine and ledger
// untouched - partial reinvestment of some tokens is never persisted.
type Processor struct {
	logger   *slog.Logger
	engine   *Engine
	bank     *Bank
	gateway  *SwapGateway
	registry StrategyRegistry

	// mu serializes the snapshot -> process -> restore window. The rollback
	// rewinds the whole engine and ledger, so a failing call running alongside
	// a committing one would erase the other call's work.
	mu sync.Mutex
}

func NewProcessor(logger *slog.Logger, engine *Engine, bank *Bank, gateway *SwapGateway, registry StrategyRegistry) *Processor {
	return &Processor{
		logger:   logger,
		engine:   engine,
		bank:     bank,
		gateway:  gateway,
		registry: registry,
	}
}

// ProcessResult reports what a processing call did.
type ProcessResult struct {
	Account    string
	Mode       Mode
	Harvested  []Payout
	Restaked   *big.Int
	Reinvested map[Token]*big.Int
}

// ProcessRewards harvests all accrued rewards for account and applies its
// configured policy. In reinvest mode the caller supplies one satellite
// strategy per registered non-staking reward token, in registry order.
// Backend role only - owners configure policy but processing is scheduled
// externally.
func (p *Processor) ProcessRewards(caller Caller, account string, satellites []string) (*ProcessResult, error) {
	if !caller.Has(RoleBackend) {
		return nil, ErrNotBackend
	}
	if account == "" {
		return nil, ErrZeroAddress
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	engSnap := p.engine.Snapshot()
	bankSnap := p.bank.Snapshot()
	res, err := p.process(caller, account, satellites)
	if err != nil {
		p.engine.Restore(engSnap)
		p.bank.Restore(bankSnap)
		promProcessingErrors.Inc()
		return nil, fmt.Errorf("processing rewards for %s: %w", account, err)
	}
	promAccountsProcessed.Inc()
	return res, nil
}

func (p *Processor) process(caller Caller, account string, satellites []string) (*ProcessResult, error) {
	pos, _ := p.engine.Position(account)
	res := &ProcessResult{
		Account:    account,
		Mode:       pos.Mode,
		Restaked:   new(big.Int),
		Reinvested: map[Token]*big.Int{},
	}

	// validate the full reinvest routing before any funds move
	var destinations map[Token]satelliteDest
	if pos.Mode == ModeReinvest {
		var err error
		destinations, err = p.resolveSatellites(account, satellites)
		if err != nil {
			return nil, err
		}
	}

	harvested, err := p.engine.HarvestFor(caller, account)
	if err != nil {
		return nil, err
	}
	res.Harvested = harvested
	if len(harvested) == 0 {
		// nothing accrued anywhere - succeed without moving anything
		return res, nil
	}

	switch pos.Mode {
	case ModeCompound:
		err = p.compound(caller, account, harvested, res)
	case ModeReinvest:
		err = p.reinvest(caller, account, harvested, destinations, res)
	default:
		err = ErrUnknownMode
	}
	if err != nil {
		return nil, err
	}
	misc.Infof(p.logger, "processed account:%s mode:%s, restaked:%s, tokens harvested:%d",
		account, pos.Mode, res.Restaked, len(harvested))
	return res, nil
}

// compound converts every non-staking payout into the staking token under
// the account's effective slippage bound and restakes the whole sum.
func (p *Processor) compound(caller Caller, account string, harvested []Payout, res *ProcessResult) error {
	slippage := p.engine.AccountSlippage(account)
	staking := p.engine.StakingToken()
	total := new(big.Int)
	for _, payout := range harvested {
		if payout.Token == staking {
			total.Add(total, payout.Amount)
			continue
		}
		route, _ := p.engine.SatelliteRouteFor(account, payout.Token)
		out, err := p.gateway.Swap(account, payout.Amount, payout.Token, staking, slippage, route.SwapPool)
		if err != nil {
			return err
		}
		total.Add(total, out)
	}
	if total.Sign() == 0 {
		return nil
	}
	res.Restaked.Set(total)
	return p.engine.StakeFor(caller, account, total)
}

// reinvest restakes only the staking-token payout and forwards every other
// harvested token to its pre-validated satellite strategy.
func (p *Processor) reinvest(caller Caller, account string, harvested []Payout, destinations map[Token]satelliteDest, res *ProcessResult) error {
	staking := p.engine.StakingToken()
	for _, payout := range harvested {
		if payout.Token == staking {
			res.Restaked.Set(payout.Amount)
			if err := p.engine.StakeFor(caller, account, payout.Amount); err != nil {
				return err
			}
			continue
		}
		dest := destinations[payout.Token]
		if err := p.depositToSatellite(account, dest, payout); err != nil {
			return err
		}
		res.Reinvested[payout.Token] = new(big.Int).Set(payout.Amount)
	}
	return nil
}

// resolveSatellites maps each registered non-staking reward token, in
// registry order, to the caller-supplied strategy at the same index and
// verifies every strategy belongs to the account owner.
func (p *Processor) resolveSatellites(account string, satellites []string) (map[Token]satelliteDest, error) {
	tokens := p.engine.NonStakingRewardTokens()
	if len(satellites) != len(tokens) {
		return nil, fmt.Errorf("%d strategies supplied for %d reward tokens: %w",
			len(satellites), len(tokens), ErrSatelliteLength)
	}
	destinations := make(map[Token]satelliteDest, len(tokens))
	for i, token := range tokens {
		addr := satellites[i]
		strategy, ok := p.registry.Strategy(addr)
		if !ok {
			return nil, fmt.Errorf("%s: %w", addr, ErrSatelliteUnknown)
		}
		if strategy.Owner() != account || !p.registry.IsUserStrategy(account, addr) {
			return nil, fmt.Errorf("%s owned by %s, not %s: %w", addr, strategy.Owner(), account, ErrSatelliteNotOwned)
		}
		destinations[token] = satelliteDest{addr: addr, strategy: strategy}
	}
	return destinations, nil
}

// satelliteDest pairs a validated strategy with its ledger address.
type satelliteDest struct {
	addr     string
	strategy SatelliteStrategy
}

func (p *Processor) depositToSatellite(account string, dest satelliteDest, payout Payout) error {
	if err := p.bank.Transfer(payout.Token, account, dest.addr, payout.Amount); err != nil {
		return err
	}
	if err := dest.strategy.Deposit(payout.Token, payout.Amount); err != nil {
		return fmt.Errorf("satellite deposit of %s %s: %w", payout.Amount, payout.Token, err)
	}
	misc.Debugf(p.logger, "reinvested %s of %s for account:%s", payout.Amount, payout.Token, account)
	return nil
}
