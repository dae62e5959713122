package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const bpsDenominator = 10000

// BpsToDecimal converts a basis-point figure into a fraction.
func BpsToDecimal(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(bpsDenominator))
}

// TokenRiskConfig mirrors the per-token risk parameters stored on the ledger.
// The ledger guarantees LtvBps <= LiquidationThresholdBps < 10000; this client
// reads the values but does not re-enforce the relation.
type TokenRiskConfig struct {
	LtvBps                  int64
	LiquidationThresholdBps int64
}

// CollateralEntry is one deposited asset backing a position.
type CollateralEntry struct {
	Token      Token
	Deposited  decimal.Decimal
	RiskConfig TokenRiskConfig
}

// ValueUSD returns the entry's USD value at the given price.
func (c CollateralEntry) ValueUSD(price decimal.Decimal) decimal.Decimal {
	return c.Deposited.Mul(price)
}

// DebtPosition is the user's outstanding loan as reported by the ledger.
// AccruedInterest is ledger-computed and authoritative.
type DebtPosition struct {
	Token           Token
	Principal       decimal.Decimal
	AccruedInterest decimal.Decimal
	AnnualRateBps   int64
	OriginationTime time.Time
	Duration        time.Duration
	Active          bool
}

// Outstanding returns principal plus accrued interest.
func (d DebtPosition) Outstanding() decimal.Decimal {
	return d.Principal.Add(d.AccruedInterest)
}

// OptimisticInterest estimates interest accrued since the last ledger read.
// Display-only: it bridges the gap between a submitted repay and the next
// authoritative re-fetch, and must never feed risk gating.
func (d DebtPosition) OptimisticInterest(now time.Time) decimal.Decimal {
	if !d.Active || now.Before(d.OriginationTime) {
		return decimal.Zero
	}
	elapsed := decimal.NewFromFloat(now.Sub(d.OriginationTime).Seconds())
	yearSeconds := decimal.NewFromInt(int64(365 * 24 * time.Hour / time.Second))
	return d.Principal.Mul(BpsToDecimal(d.AnnualRateBps)).Mul(elapsed).Div(yearSeconds)
}

// PositionSnapshot is a point-in-time view of one user's position.
// Snapshots are rebuilt from the ledger on demand and never mutated in place.
type PositionSnapshot struct {
	Owner              common.Address
	Collateral         []CollateralEntry
	Debt               DebtPosition
	Prices             map[common.Address]PriceQuote
	CollateralValueUSD decimal.Decimal
	DebtValueUSD       decimal.Decimal
	HealthFactor       decimal.Decimal
	TakenAt            time.Time
}

// Price returns the snapshot's quote for the given token.
func (s *PositionSnapshot) Price(token Token) (PriceQuote, bool) {
	q, ok := s.Prices[token.Address]
	return q, ok
}

// CollateralOf returns the deposited amount of the given token.
func (s *PositionSnapshot) CollateralOf(token Token) decimal.Decimal {
	for _, entry := range s.Collateral {
		if entry.Token.Address == token.Address {
			return entry.Deposited
		}
	}
	return decimal.Zero
}
