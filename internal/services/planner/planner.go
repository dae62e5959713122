// Package planner turns a validated user action into a transaction job. It
// decides whether an approval step is needed by checking the live allowance,
// and blocks actions whose projected health factor would drop below 1.0.
package planner

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
	"github.com/collatfi/collat/internal/services/health"
	"github.com/collatfi/collat/internal/services/orchestrator"
)

// ErrUnsafeAction means the action would push the position below the
// liquidation boundary; it is blocked client-side before any signature.
var ErrUnsafeAction = errors.New("action would make the position liquidatable")

type allowanceReader interface {
	ReadAllowance(ctx context.Context, owner common.Address, token domain.Token) (decimal.Decimal, error)
}

type callBuilder interface {
	ApproveCall(token domain.Token, amount decimal.Decimal) (domain.Call, error)
	ActionCall(kind domain.ActionKind, token domain.Token, amount decimal.Decimal) (domain.Call, error)
}

type riskProjector interface {
	Project(s *domain.PositionSnapshot, action domain.PendingAction) (health.Projection, error)
}

// Planner builds transaction jobs from pending actions.
type Planner struct {
	reader allowanceReader
	calls  callBuilder
	engine riskProjector
	l      *zap.Logger
}

func New(reader allowanceReader, calls callBuilder, engine riskProjector, l *zap.Logger) *Planner {
	return &Planner{reader: reader, calls: calls, engine: engine, l: l}
}

// Plan validates the action against the snapshot, gates it on the projected
// health factor and assembles the job. An approve step is added only when the
// pool moves tokens out of the user's wallet and the existing allowance does
// not already cover the amount, so a retry after a failed act step skips the
// redundant approval.
func (p *Planner) Plan(ctx context.Context, s *domain.PositionSnapshot, action domain.PendingAction) (domain.TransactionJob, error) {
	if err := action.Validate(s); err != nil {
		return domain.TransactionJob{}, err
	}

	switch action.Kind {
	case domain.ActionWithdraw, domain.ActionBorrow:
		projected, err := p.engine.Project(s, action)
		if err != nil {
			return domain.TransactionJob{}, errors.Wrapf(err, "cannot project %s", action.Kind)
		}
		if projected.Tier == domain.RiskLiquidatable {
			return domain.TransactionJob{}, errors.Wrapf(ErrUnsafeAction,
				"projected health factor %s", projected.HealthFactor.StringFixed(4))
		}
	}

	var steps []domain.Step

	if spendAmount, spends := p.spendingAmount(s, action); spends {
		allowance, err := p.reader.ReadAllowance(ctx, s.Owner, action.Token)
		if err != nil {
			return domain.TransactionJob{}, errors.Wrap(err, "failed to read allowance")
		}
		if allowance.LessThan(spendAmount) {
			approve, err := p.calls.ApproveCall(action.Token, spendAmount)
			if err != nil {
				return domain.TransactionJob{}, err
			}
			steps = append(steps, domain.Step{Kind: domain.StepApprove, Call: approve, Label: "approve " + action.Token.Symbol})
		} else {
			p.l.Debug("sufficient allowance, skipping approve",
				zap.String("token", action.Token.Symbol),
				zap.String("allowance", allowance.String()))
		}
	}

	act, err := p.calls.ActionCall(action.Kind, action.Token, action.Amount)
	if err != nil {
		return domain.TransactionJob{}, err
	}
	steps = append(steps, domain.Step{Kind: domain.StepAct, Call: act, Label: action.String()})

	return orchestrator.NewJob(steps...), nil
}

// spendingAmount reports whether the action pulls tokens from the user's
// wallet and, if so, how much allowance the pool needs.
func (p *Planner) spendingAmount(s *domain.PositionSnapshot, action domain.PendingAction) (decimal.Decimal, bool) {
	switch action.Kind {
	case domain.ActionDeposit, domain.ActionRepay:
		return action.Amount, true
	case domain.ActionRepayAll:
		return s.Debt.Outstanding(), true
	default:
		return decimal.Zero, false
	}
}
