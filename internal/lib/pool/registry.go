package pool

import (
	"math/big"
	"sync"
)

// LocalSatellite is a minimal in-process satellite strategy: it records
// deposits against its owner. The reference implementation for the daemon
// and tests - real satellite strategies live behind the same interface.
type LocalSatellite struct {
	owner string

	sync.Mutex
	deposits map[Token]*big.Int
}

func NewLocalSatellite(owner string) *LocalSatellite {
	return &LocalSatellite{owner: owner, deposits: map[Token]*big.Int{}}
}

func (s *LocalSatellite) Owner() string { return s.owner }

func (s *LocalSatellite) Deposit(token Token, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	s.Lock()
	defer s.Unlock()
	total, ok := s.deposits[token]
	if !ok {
		total = new(big.Int)
		s.deposits[token] = total
	}
	total.Add(total, amount)
	return nil
}

// Deposited returns the cumulative amount of token deposited so far.
func (s *LocalSatellite) Deposited(token Token) *big.Int {
	s.Lock()
	defer s.Unlock()
	if total, ok := s.deposits[token]; ok {
		return new(big.Int).Set(total)
	}
	return new(big.Int)
}

// LocalStrategyRegistry is the in-process StrategyRegistry backing the
// daemon's configured satellites.
type LocalStrategyRegistry struct {
	sync.RWMutex
	strategies map[string]SatelliteStrategy
}

func NewStrategyRegistry() *LocalStrategyRegistry {
	return &LocalStrategyRegistry{strategies: map[string]SatelliteStrategy{}}
}

func (r *LocalStrategyRegistry) Register(addr string, strategy SatelliteStrategy) {
	r.Lock()
	defer r.Unlock()
	r.strategies[addr] = strategy
}

func (r *LocalStrategyRegistry) Strategy(addr string) (SatelliteStrategy, bool) {
	r.RLock()
	defer r.RUnlock()
	strategy, ok := r.strategies[addr]
	return strategy, ok
}

func (r *LocalStrategyRegistry) IsUserStrategy(owner, addr string) bool {
	r.RLock()
	defer r.RUnlock()
	strategy, ok := r.strategies[addr]
	return ok && strategy.Owner() == owner
}
