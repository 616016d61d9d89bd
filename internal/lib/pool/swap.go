package pool

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/meridianlabs/stakepool/internal/lib/misc"
)

const bpsDenominator = 10_000

// PriceOracle is the external price-quote capability. The engine never does
// its own price discovery - it only bounds proposed outputs against this.
type PriceOracle interface {
	// HasFeed reports whether a price feed is configured for the token.
	HasFeed(token Token) bool
	// Quote returns the oracle-implied fair output of selling amountIn of
	// tokenIn for tokenOut, in tokenOut base units.
	Quote(amountIn *big.Int, tokenIn, tokenOut Token) (*big.Int, error)
	// CheckPrice reports whether amountOutProposed is at least the
	// oracle-implied minimum at the given slippage tolerance.
	CheckPrice(amountIn *big.Int, tokenIn, tokenOut Token, amountOutProposed *big.Int, slippageBps uint64) (bool, error)
}

// SellOrder is a pre-validated order handed to the swap venue. The price
// check has already passed by the time a venue sees one.
type SellOrder struct {
	ID           string
	Account      string
	TokenIn      Token
	TokenOut     Token
	AmountIn     *big.Int
	MinAmountOut *big.Int
	SwapPool     string
}

// SwapVenue executes sell orders. Settlement is external - only the realized
// output amount is observed.
type SwapVenue interface {
	ExecuteOrder(order SellOrder) (*big.Int, error)
}

// SwapGateway wraps the oracle and venue behind the slippage contract: no
// order reaches the venue unless its minimum output passed the price check,
// and no token is routed unless it was explicitly approved (which in turn
// requires a configured price feed).
type SwapGateway struct {
	logger *slog.Logger
	oracle PriceOracle
	venue  SwapVenue

	sync.RWMutex
	approved map[Token]bool
}

func NewSwapGateway(logger *slog.Logger, oracle PriceOracle, venue SwapVenue) *SwapGateway {
	return &SwapGateway{
		logger:   logger,
		oracle:   oracle,
		venue:    venue,
		approved: map[Token]bool{},
	}
}

// ApproveToken allow-lists a token for swap routing. Fails when the oracle
// has no feed for it - un-priceable tokens must never reach the venue.
func (g *SwapGateway) ApproveToken(caller Caller, token Token) error {
	if !caller.Has(RoleAdmin) {
		return ErrNotAdmin
	}
	if !g.oracle.HasFeed(token) {
		return fmt.Errorf("approving %s: %w", token, ErrNoPriceFeed)
	}
	g.Lock()
	defer g.Unlock()
	g.approved[token] = true
	misc.Infof(g.logger, "token approved for swap routing:%s", token)
	return nil
}

func (g *SwapGateway) Approved(token Token) bool {
	g.RLock()
	defer g.RUnlock()
	return g.approved[token]
}

// QuoteAndCheck validates a proposed output against the oracle at the given
// tolerance. Must pass before any order is considered valid.
func (g *SwapGateway) QuoteAndCheck(amountIn *big.Int, tokenIn, tokenOut Token, amountOutProposed *big.Int, slippageBps uint64) error {
	ok, err := g.oracle.CheckPrice(amountIn, tokenIn, tokenOut, amountOutProposed, slippageBps)
	if err != nil {
		return fmt.Errorf("price check %s->%s: %w", tokenIn, tokenOut, err)
	}
	if !ok {
		return fmt.Errorf("selling %s of %s for %s: %w", amountIn, tokenIn, tokenOut, ErrPriceCheckFailed)
	}
	return nil
}

// MinOut derives the minimum acceptable output for amountIn at the tolerance:
// the oracle quote shaved by slippageBps.
func (g *SwapGateway) MinOut(amountIn *big.Int, tokenIn, tokenOut Token, slippageBps uint64) (*big.Int, error) {
	quote, err := g.oracle.Quote(amountIn, tokenIn, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("quoting %s->%s: %w", tokenIn, tokenOut, err)
	}
	minOut := new(big.Int).Mul(quote, big.NewInt(bpsDenominator-int64(slippageBps)))
	return minOut.Div(minOut, big.NewInt(bpsDenominator)), nil
}

// Swap sells amountIn of tokenIn for tokenOut on behalf of account, bounded
// by slippageBps. Zero input is skipped without touching the venue.
func (g *SwapGateway) Swap(account string, amountIn *big.Int, tokenIn, tokenOut Token, slippageBps uint64, swapPool string) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() == 0 {
		return new(big.Int), nil
	}
	if !g.Approved(tokenIn) {
		return nil, fmt.Errorf("%s: %w", tokenIn, ErrTokenNotApproved)
	}
	if !g.Approved(tokenOut) {
		return nil, fmt.Errorf("%s: %w", tokenOut, ErrTokenNotApproved)
	}
	minOut, err := g.MinOut(amountIn, tokenIn, tokenOut, slippageBps)
	if err != nil {
		return nil, err
	}
	// the gate runs before the order is authorized, not after settlement
	if err := g.QuoteAndCheck(amountIn, tokenIn, tokenOut, minOut, slippageBps); err != nil {
		return nil, err
	}
	order := SellOrder{
		ID:           uuid.NewString(),
		Account:      account,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     new(big.Int).Set(amountIn),
		MinAmountOut: minOut,
		SwapPool:     swapPool,
	}
	out, err := g.venue.ExecuteOrder(order)
	if err != nil {
		return nil, fmt.Errorf("order %s (%s->%s): %w", order.ID, tokenIn, tokenOut, err)
	}
	if out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("order %s realized %s, floor was %s: %w", order.ID, out, minOut, ErrPriceCheckFailed)
	}
	misc.Debugf(g.logger, "order %s filled: %s %s -> %s %s", order.ID, amountIn, tokenIn, out, tokenOut)
	return out, nil
}
