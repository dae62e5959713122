// Package snapshot assembles a user's collateral, debt and price reads into a
// fresh PositionSnapshot. Every Build produces a new snapshot; nothing is
// cached or mutated in place.
package snapshot

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
	"github.com/collatfi/collat/pkg/retrier"
)

type ledgerReader interface {
	ReadPrice(ctx context.Context, token domain.Token) (domain.PriceQuote, error)
	ReadCollateral(ctx context.Context, user common.Address, token domain.Token) (decimal.Decimal, error)
	ReadDebt(ctx context.Context, user common.Address) (domain.DebtPosition, error)
	ReadOutstandingDebt(ctx context.Context, user common.Address) (decimal.Decimal, error)
	ReadTokenRiskConfig(ctx context.Context, token domain.Token) (domain.TokenRiskConfig, error)
}

type healthEngine interface {
	HealthFactor(collateralValueUSD, debtValueUSD, weightedThreshold decimal.Decimal) decimal.Decimal
	WeightedThreshold(s *domain.PositionSnapshot) decimal.Decimal
}

// Builder constructs position snapshots from ledger reads.
type Builder struct {
	reader  ledgerReader
	engine  healthEngine
	tokens  []domain.Token
	retrier *retrier.Retrier
	l       *zap.Logger
}

// NewBuilder returns a builder over the protocol's token set.
func NewBuilder(reader ledgerReader, engine healthEngine, tokens []domain.Token, l *zap.Logger) *Builder {
	return &Builder{
		reader: reader,
		engine: engine,
		tokens: tokens,
		retrier: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(200*time.Millisecond),
		),
		l: l,
	}
}

// Build fetches the user's current state and derives the health factor.
// The returned snapshot is owned by the caller and never updated afterwards.
func (b *Builder) Build(ctx context.Context, user common.Address) (*domain.PositionSnapshot, error) {
	s := &domain.PositionSnapshot{
		Owner:   user,
		Prices:  make(map[common.Address]domain.PriceQuote, len(b.tokens)),
		TakenAt: time.Now(),
	}

	collateralValue := decimal.Zero
	for _, token := range b.tokens {
		quote, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (domain.PriceQuote, error) {
			q, err := b.reader.ReadPrice(ctx, token)
			return q, permanentIfReverted(err)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read price for %s", token.Symbol)
		}
		s.Prices[token.Address] = quote
		if !quote.Usable() {
			b.l.Warn("stale or zero oracle price, token excluded from collateral value",
				zap.String("token", token.Symbol),
				zap.String("price", quote.USD.String()))
		}

		deposited, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (decimal.Decimal, error) {
			d, err := b.reader.ReadCollateral(ctx, user, token)
			return d, permanentIfReverted(err)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s collateral", token.Symbol)
		}
		if deposited.IsZero() {
			continue
		}

		riskCfg, err := b.reader.ReadTokenRiskConfig(ctx, token)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s risk config", token.Symbol)
		}

		entry := domain.CollateralEntry{Token: token, Deposited: deposited, RiskConfig: riskCfg}
		s.Collateral = append(s.Collateral, entry)
		if quote.Usable() {
			collateralValue = collateralValue.Add(entry.ValueUSD(quote.USD))
		}
	}
	s.CollateralValueUSD = collateralValue

	debt, err := retrier.DoWithData(b.retrier, ctx, func(ctx context.Context) (domain.DebtPosition, error) {
		d, err := b.reader.ReadDebt(ctx, user)
		return d, permanentIfReverted(err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read debt position")
	}
	s.Debt = debt

	if debt.Active {
		outstanding, err := b.reader.ReadOutstandingDebt(ctx, user)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read outstanding debt")
		}

		debtQuote, ok := s.Prices[debt.Token.Address]
		if !ok {
			debtQuote, err = b.reader.ReadPrice(ctx, debt.Token)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read price for debt token %s", debt.Token.Symbol)
			}
			s.Prices[debt.Token.Address] = debtQuote
		}
		if !debtQuote.Usable() {
			return nil, errors.Errorf("no usable price for debt token %s", debt.Token.Symbol)
		}
		s.DebtValueUSD = outstanding.Mul(debtQuote.USD)
	} else {
		s.DebtValueUSD = decimal.Zero
	}

	s.HealthFactor = b.engine.HealthFactor(s.CollateralValueUSD, s.DebtValueUSD, b.engine.WeightedThreshold(s))
	return s, nil
}

// permanentIfReverted stops the retry budget being burned on reverted calls:
// an eth_call revert is deterministic, only transport errors are transient.
func permanentIfReverted(err error) error {
	if err != nil && strings.Contains(err.Error(), "revert") {
		return retrier.Permanent(err)
	}
	return err
}
