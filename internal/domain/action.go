package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ActionKind enumerates the mutating operations a user can request.
type ActionKind int

const (
	ActionDeposit ActionKind = iota
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionRepayAll
	ActionLiquidate
)

func (a ActionKind) String() string {
	switch a {
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionRepayAll:
		return "repayAll"
	case ActionLiquidate:
		return "liquidate"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(a))
	}
}

// PendingAction is a hypothetical, not-yet-submitted change used only to
// compute a projected snapshot. It is discarded after use.
type PendingAction struct {
	Kind   ActionKind
	Token  Token
	Amount decimal.Decimal
}

func (p PendingAction) String() string {
	return fmt.Sprintf("%s %s %s", p.Kind, p.Amount.String(), p.Token.Symbol)
}

// Validation errors raised before any network call is made.
var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrExceedsCollateral = errors.New("amount exceeds deposited collateral")
	ErrExceedsDebt       = errors.New("amount exceeds outstanding debt")
)

// Validate checks the action against known balances. Rejected actions never
// reach the projection engine or the orchestrator.
func (p PendingAction) Validate(s *PositionSnapshot) error {
	if !p.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	switch p.Kind {
	case ActionWithdraw:
		if p.Amount.GreaterThan(s.CollateralOf(p.Token)) {
			return ErrExceedsCollateral
		}
	case ActionRepay:
		if p.Amount.GreaterThan(s.Debt.Outstanding()) {
			return ErrExceedsDebt
		}
	}
	return nil
}
