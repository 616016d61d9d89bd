package pool

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormattedTokenAmount renders base units as a whole-token decimal string,
// with trailing zeros chopped.
func FormattedTokenAmount(amount *big.Int, decimals uint8) string {
	formatted := decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(int32(decimals))
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	if formatted == "" {
		return "0"
	}
	return formatted
}

// ParseTokenAmount converts a whole-token decimal string to base units.
func ParseTokenAmount(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// tokenAmountFloat is the lossy float form used only for metrics.
func tokenAmountFloat(amount *big.Int, decimals uint8) float64 {
	f, _ := decimal.NewFromBigInt(amount, -int32(decimals)).Float64()
	return f
}
