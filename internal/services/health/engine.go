// Package health computes a position's safety margin and projects how a
// pending action would change it. All functions are pure: they never mutate
// their inputs and hold no state beyond the configured fallback threshold,
// so they are safe to call from any number of concurrent flows.
package health

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/collatfi/collat/internal/domain"
)

// ErrPriceUnavailable means the action token has no usable price. Projection
// must be disabled rather than computed from a fabricated price.
var ErrPriceUnavailable = errors.New("no usable price for token")

// Engine evaluates health factors. The zero threshold cases fall back to
// defaultThreshold, a configured blended liquidation threshold.
type Engine struct {
	defaultThreshold decimal.Decimal
}

// NewEngine returns an engine with the given fallback liquidation threshold
// expressed in basis points (e.g. 8000 for 80%).
func NewEngine(defaultThresholdBps int64) *Engine {
	return &Engine{defaultThreshold: domain.BpsToDecimal(defaultThresholdBps)}
}

// HealthFactor computes collateralValueUSD * weightedThreshold / debtValueUSD.
// No debt yields the sentinel; zero collateral with debt present yields zero.
func (e *Engine) HealthFactor(collateralValueUSD, debtValueUSD, weightedThreshold decimal.Decimal) decimal.Decimal {
	if !debtValueUSD.IsPositive() {
		return domain.SentinelHealthFactor
	}
	if !collateralValueUSD.IsPositive() {
		return decimal.Zero
	}
	return collateralValueUSD.Mul(weightedThreshold).Div(debtValueUSD)
}

// WeightedThreshold derives the blended liquidation threshold in force for
// the snapshot's collateral mix, weighting each entry's own threshold by its
// USD value. Entries without a usable price contribute nothing.
func (e *Engine) WeightedThreshold(s *domain.PositionSnapshot) decimal.Decimal {
	totalValue := decimal.Zero
	weighted := decimal.Zero
	for _, entry := range s.Collateral {
		quote, ok := s.Prices[entry.Token.Address]
		if !ok || !quote.Usable() {
			continue
		}
		value := entry.ValueUSD(quote.USD)
		totalValue = totalValue.Add(value)
		weighted = weighted.Add(value.Mul(domain.BpsToDecimal(entry.RiskConfig.LiquidationThresholdBps)))
	}
	if totalValue.IsPositive() {
		return weighted.Div(totalValue)
	}
	return e.defaultThreshold
}

// BackSolvedThreshold recovers the blended threshold actually in force from a
// ledger-reported health factor. It is an approximation kept for positions
// whose per-token thresholds are not readable; the value-weighted formula in
// WeightedThreshold is preferred whenever entry thresholds are available.
func (e *Engine) BackSolvedThreshold(ledgerHealthFactor, collateralValueUSD, debtValueUSD decimal.Decimal) decimal.Decimal {
	if !collateralValueUSD.IsPositive() || !debtValueUSD.IsPositive() || !ledgerHealthFactor.IsPositive() {
		return e.defaultThreshold
	}
	return ledgerHealthFactor.Mul(debtValueUSD).Div(collateralValueUSD)
}

// Assess computes the snapshot's current health factor and risk tier.
func (e *Engine) Assess(s *domain.PositionSnapshot) (decimal.Decimal, domain.RiskTier) {
	hf := e.HealthFactor(s.CollateralValueUSD, s.DebtValueUSD, e.WeightedThreshold(s))
	return hf, domain.ClassifyHealthFactor(hf)
}

// Projection is the result of applying a hypothetical action to a snapshot.
type Projection struct {
	CollateralValueUSD decimal.Decimal
	DebtValueUSD       decimal.Decimal
	HealthFactor       decimal.Decimal
	Tier               domain.RiskTier
}

// Project applies the pending action's USD delta to the snapshot and
// recomputes the health factor. Callers must Validate the action first; the
// engine assumes the delta does not exceed available balances. A missing or
// stale price for the action token disables projection entirely.
func (e *Engine) Project(s *domain.PositionSnapshot, action domain.PendingAction) (Projection, error) {
	quote, ok := s.Prices[action.Token.Address]
	if !ok || !quote.Usable() {
		return Projection{}, errors.Wrapf(ErrPriceUnavailable, "token %s", action.Token.Symbol)
	}

	deltaUSD := action.Amount.Mul(quote.USD)
	collateral := s.CollateralValueUSD
	debt := s.DebtValueUSD

	switch action.Kind {
	case domain.ActionDeposit:
		collateral = collateral.Add(deltaUSD)
	case domain.ActionWithdraw:
		collateral = collateral.Sub(deltaUSD)
	case domain.ActionBorrow:
		debt = debt.Add(deltaUSD)
	case domain.ActionRepay:
		debt = debt.Sub(deltaUSD)
	case domain.ActionRepayAll:
		debt = decimal.Zero
	case domain.ActionLiquidate:
		// repaying another account's debt does not change the caller's own position
	}

	// floor both sides at zero
	if collateral.IsNegative() {
		collateral = decimal.Zero
	}
	if debt.IsNegative() {
		debt = decimal.Zero
	}

	hf := e.HealthFactor(collateral, debt, e.WeightedThreshold(s))
	return Projection{
		CollateralValueUSD: collateral,
		DebtValueUSD:       debt,
		HealthFactor:       hf,
		Tier:               domain.ClassifyHealthFactor(hf),
	}, nil
}

// MaxSafeWithdraw returns the largest amount of token that can be withdrawn
// while keeping the projected health factor at or above 1.0. With no debt the
// full deposit is withdrawable.
func (e *Engine) MaxSafeWithdraw(s *domain.PositionSnapshot, token domain.Token) (decimal.Decimal, error) {
	deposited := s.CollateralOf(token)
	if !s.DebtValueUSD.IsPositive() {
		return deposited, nil
	}

	quote, ok := s.Prices[token.Address]
	if !ok || !quote.Usable() {
		return decimal.Zero, errors.Wrapf(ErrPriceUnavailable, "token %s", token.Symbol)
	}

	threshold := e.WeightedThreshold(s)
	if !threshold.IsPositive() {
		return decimal.Zero, nil
	}

	// smallest collateral value keeping hf >= 1.0
	requiredCollateralUSD := s.DebtValueUSD.Div(threshold)
	headroomUSD := s.CollateralValueUSD.Sub(requiredCollateralUSD)
	if !headroomUSD.IsPositive() {
		return decimal.Zero, nil
	}

	amount := headroomUSD.Div(quote.USD)
	if amount.GreaterThan(deposited) {
		amount = deposited
	}
	return amount, nil
}

// MaxSafeBorrow returns the largest additional USD-valued debt that keeps the
// projected health factor at or above 1.0.
func (e *Engine) MaxSafeBorrow(s *domain.PositionSnapshot) decimal.Decimal {
	threshold := e.WeightedThreshold(s)
	capacity := s.CollateralValueUSD.Mul(threshold).Sub(s.DebtValueUSD)
	if capacity.IsNegative() {
		return decimal.Zero
	}
	return capacity
}
