// Package domain holds the client's core value types. Raw on-chain integers
// stay *big.Int at the transport boundary; everything above it works in
// decimal amounts scaled by the token's precision.
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OraclePriceDecimals is the oracle's fixed-point precision for USD prices.
const OraclePriceDecimals = 8

// Token is an immutable asset descriptor. Never mutated after construction.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals int32
	Name     string
}

// AmountFromRaw scales a raw on-chain integer into the token's decimal amount.
func (t Token) AmountFromRaw(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -t.Decimals)
}

// AmountToRaw scales a decimal amount back into the token's raw integer units.
func (t Token) AmountToRaw(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).BigInt()
}

// PriceQuote is one oracle read: token → USD price with a staleness flag.
// Quotes are produced fresh per read and never cached by the client.
type PriceQuote struct {
	Token Token
	USD   decimal.Decimal
	Fresh bool
}

// PriceQuoteFromRaw converts the oracle's fixed-point price.
func PriceQuoteFromRaw(token Token, raw *big.Int, fresh bool) PriceQuote {
	return PriceQuote{
		Token: token,
		USD:   decimal.NewFromBigInt(raw, -OraclePriceDecimals),
		Fresh: fresh,
	}
}

// Usable reports whether the quote may feed risk-critical math. A stale or
// non-positive price must disable projection, never default to parity.
func (q PriceQuote) Usable() bool {
	return q.Fresh && q.USD.IsPositive()
}
