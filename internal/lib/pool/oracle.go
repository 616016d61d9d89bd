package pool

import (
	"fmt"
	"math/big"
	"sync"
)

// Feed is one fixed price entry: the token's reference price in 1e18 fixed
// point per whole token, plus its decimal count for unit conversion.
type Feed struct {
	PriceE18 *big.Int
	Decimals uint8
}

// FixedRateOracle quotes from a static price table. It is the reference
// PriceOracle used by the daemon and tests - production deployments plug in
// a real feed behind the same interface.
type FixedRateOracle struct {
	sync.RWMutex
	feeds map[Token]Feed
}

func NewFixedRateOracle() *FixedRateOracle {
	return &FixedRateOracle{feeds: map[Token]Feed{}}
}

func (o *FixedRateOracle) SetFeed(token Token, priceE18 *big.Int, decimals uint8) {
	o.Lock()
	defer o.Unlock()
	o.feeds[token] = Feed{PriceE18: new(big.Int).Set(priceE18), Decimals: decimals}
}

func (o *FixedRateOracle) HasFeed(token Token) bool {
	o.RLock()
	defer o.RUnlock()
	_, ok := o.feeds[token]
	return ok
}

// Quote converts amountIn through the two reference prices, adjusting for the
// tokens' differing decimal precision:
//
//	out = in * priceIn * 10^decOut / (priceOut * 10^decIn)
func (o *FixedRateOracle) Quote(amountIn *big.Int, tokenIn, tokenOut Token) (*big.Int, error) {
	o.RLock()
	defer o.RUnlock()
	in, ok := o.feeds[tokenIn]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tokenIn, ErrNoPriceFeed)
	}
	out, ok := o.feeds[tokenOut]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tokenOut, ErrNoPriceFeed)
	}
	quote := new(big.Int).Mul(amountIn, in.PriceE18)
	quote.Mul(quote, pow10(out.Decimals))
	quote.Div(quote, out.PriceE18)
	quote.Div(quote, pow10(in.Decimals))
	return quote, nil
}

// CheckPrice accepts a proposed output when it is no worse than the fair
// quote shaved by the slippage tolerance.
func (o *FixedRateOracle) CheckPrice(amountIn *big.Int, tokenIn, tokenOut Token, amountOutProposed *big.Int, slippageBps uint64) (bool, error) {
	quote, err := o.Quote(amountIn, tokenIn, tokenOut)
	if err != nil {
		return false, err
	}
	floor := quote.Mul(quote, big.NewInt(bpsDenominator-int64(slippageBps)))
	floor.Div(floor, big.NewInt(bpsDenominator))
	return amountOutProposed.Cmp(floor) >= 0, nil
}

// BankVenue settles sell orders against the shared bank ledger: it takes the
// input from the account, prices the output via the oracle with a fee
// haircut, and pays from its own inventory. The reference SwapVenue for the
// daemon and tests.
type BankVenue struct {
	bank   *Bank
	oracle PriceOracle
	addr   string
	feeBps uint64
}

func NewBankVenue(bank *Bank, oracle PriceOracle, addr string, feeBps uint64) *BankVenue {
	return &BankVenue{bank: bank, oracle: oracle, addr: addr, feeBps: feeBps}
}

func (v *BankVenue) ExecuteOrder(order SellOrder) (*big.Int, error) {
	quote, err := v.oracle.Quote(order.AmountIn, order.TokenIn, order.TokenOut)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(quote, big.NewInt(bpsDenominator-int64(v.feeBps)))
	out.Div(out, big.NewInt(bpsDenominator))
	if out.Cmp(order.MinAmountOut) < 0 {
		return nil, fmt.Errorf("fill %s below order floor %s: %w", out, order.MinAmountOut, ErrPriceCheckFailed)
	}
	if err := v.bank.Transfer(order.TokenIn, order.Account, v.addr, order.AmountIn); err != nil {
		return nil, err
	}
	if err := v.bank.Transfer(order.TokenOut, v.addr, order.Account, out); err != nil {
		return nil, err
	}
	return out, nil
}
