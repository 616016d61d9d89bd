package pool

import (
	"fmt"
	"math/big"
	"sync"
)

// Bank is the in-memory token ledger the engine and processor move funds
// through. It stands in for the token transfer substrate - every stake,
// payout, swap and satellite deposit is a Transfer between two addresses.
type Bank struct {
	sync.RWMutex
	balances map[Token]map[string]*big.Int
}

func NewBank() *Bank {
	return &Bank{
		balances: map[Token]map[string]*big.Int{},
	}
}

// Mint credits newly issued units to addr. Used to seed distributor and
// staker balances - transfers between existing holders go through Transfer.
func (b *Bank) Mint(token Token, addr string, amount *big.Int) {
	b.Lock()
	defer b.Unlock()
	b.credit(token, addr, amount)
}

func (b *Bank) BalanceOf(token Token, addr string) *big.Int {
	b.RLock()
	defer b.RUnlock()
	if bal, ok := b.balances[token][addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transfer moves amount of token from one address to another. A zero amount
// is a no-op so callers never emit zero-value transfers.
func (b *Bank) Transfer(token Token, from, to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.Lock()
	defer b.Unlock()
	bal, ok := b.balances[token][from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer of %s %s from %s: %w", amount, token, from, ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	b.credit(token, to, amount)
	return nil
}

func (b *Bank) credit(token Token, addr string, amount *big.Int) {
	holders, ok := b.balances[token]
	if !ok {
		holders = map[string]*big.Int{}
		b.balances[token] = holders
	}
	bal, ok := holders[addr]
	if !ok {
		bal = new(big.Int)
		holders[addr] = bal
	}
	bal.Add(bal, amount)
}

// Snapshot deep-copies the ledger so a multi-step operation can be rolled
// back wholesale if a later step fails.
func (b *Bank) Snapshot() map[Token]map[string]*big.Int {
	b.RLock()
	defer b.RUnlock()
	snap := make(map[Token]map[string]*big.Int, len(b.balances))
	for token, holders := range b.balances {
		dup := make(map[string]*big.Int, len(holders))
		for addr, bal := range holders {
			dup[addr] = new(big.Int).Set(bal)
		}
		snap[token] = dup
	}
	return snap
}

// Restore replaces the ledger with a previously taken Snapshot.
func (b *Bank) Restore(snap map[Token]map[string]*big.Int) {
	b.Lock()
	defer b.Unlock()
	b.balances = snap
}
