package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RiskTier classifies a position's safety margin.
type RiskTier int

const (
	RiskSafe RiskTier = iota
	RiskWarning
	RiskLiquidatable
)

func (r RiskTier) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskWarning:
		return "warning"
	case RiskLiquidatable:
		return "liquidatable"
	default:
		return "unknown"
	}
}

// Fixed policy constants, not protocol parameters.
var (
	// SentinelHealthFactor stands in for "no debt, effectively infinite
	// safety". A fixed large value keeps arithmetic and display well-defined.
	SentinelHealthFactor = decimal.NewFromInt(999)

	// LiquidatableBelow: health factor strictly under this is liquidatable.
	LiquidatableBelow = decimal.NewFromInt(1)

	// WarningBelow: health factor in [LiquidatableBelow, WarningBelow) is a warning.
	WarningBelow = decimal.NewFromFloat(1.2)
)

// ClassifyHealthFactor maps a health factor onto a risk tier.
// Liquidatable iff hf < 1.0; Warning iff 1.0 <= hf < 1.2; Safe otherwise,
// sentinel included.
func ClassifyHealthFactor(hf decimal.Decimal) RiskTier {
	if hf.LessThan(LiquidatableBelow) {
		return RiskLiquidatable
	}
	if hf.LessThan(WarningBelow) {
		return RiskWarning
	}
	return RiskSafe
}

// RiskEvent records one classification of a watched address.
type RiskEvent struct {
	Index        uint64          `json:"index"`
	Address      common.Address  `json:"address"`
	Tier         RiskTier        `json:"tier"`
	HealthFactor decimal.Decimal `json:"health_factor"`
	ObservedAt   time.Time       `json:"observed_at"`
}
