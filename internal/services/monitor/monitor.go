// Package monitor maintains the set of watched borrower addresses, classifies
// each one's risk tier and hands eligible positions to the orchestrator for
// liquidation.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
)

// Source records who added an address to the watch-set. Ledger-sourced
// entries are authoritative membership and cannot be removed by users.
type Source int

const (
	SourceLedger Source = iota
	SourceUser
)

var (
	ErrAlreadyWatched  = errors.New("address is already watched")
	ErrNotWatched      = errors.New("address is not watched")
	ErrLedgerSourced   = errors.New("ledger-sourced addresses cannot be removed")
	ErrNotLiquidatable = errors.New("position is not liquidatable")
)

type snapshotBuilder interface {
	Build(ctx context.Context, user common.Address) (*domain.PositionSnapshot, error)
}

type riskEngine interface {
	Assess(s *domain.PositionSnapshot) (decimal.Decimal, domain.RiskTier)
}

type jobSubmitter interface {
	Submit(ctx context.Context, job domain.TransactionJob) (<-chan domain.JobEvent, error)
}

// callBuilder encodes the approve and liquidate calls for the ledger.
type callBuilder interface {
	ApproveCall(token domain.Token, amount decimal.Decimal) (domain.Call, error)
	LiquidateCall(borrower common.Address, repayToken domain.Token, repayAmount decimal.Decimal, seizeToken domain.Token) (domain.Call, error)
}

const eventHistoryLimit = 1024

// Monitor owns the watch-set. It is the only writer of the set; concurrent
// readers go through the mutex.
type Monitor struct {
	builder snapshotBuilder
	engine  riskEngine
	jobs    jobSubmitter
	calls   callBuilder
	l       *zap.Logger

	mu        sync.Mutex
	watched   map[common.Address]Source
	events    []domain.RiskEvent
	nextIndex uint64
}

// New returns an empty monitor.
func New(builder snapshotBuilder, engine riskEngine, jobs jobSubmitter, calls callBuilder, l *zap.Logger) *Monitor {
	return &Monitor{
		builder: builder,
		engine:  engine,
		jobs:    jobs,
		calls:   calls,
		l:       l,
		watched: make(map[common.Address]Source),
	}
}

// Add registers an address. Address comparison is case-insensitive: parsing
// into common.Address collapses differently-cased strings of the same account
// onto one entry. Re-adding a ledger-sourced address as a user entry keeps
// the ledger provenance.
func (m *Monitor) Add(addr common.Address, source Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.watched[addr]; ok {
		if existing == SourceUser && source == SourceLedger {
			// the ledger now reports this borrower; upgrade provenance
			m.watched[addr] = SourceLedger
			return nil
		}
		return errors.Wrapf(ErrAlreadyWatched, "%s", addr.Hex())
	}
	m.watched[addr] = source
	m.l.Info("watching address", zap.String("address", addr.Hex()), zap.Int("source", int(source)))
	return nil
}

// AddHex parses and registers a hex address string.
func (m *Monitor) AddHex(hexAddr string, source Source) error {
	if !common.IsHexAddress(hexAddr) {
		return errors.Errorf("invalid address %q", hexAddr)
	}
	return m.Add(common.HexToAddress(hexAddr), source)
}

// Remove unregisters a user-added address. Ledger-sourced addresses are
// rejected at this boundary, not silently kept.
func (m *Monitor) Remove(addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, ok := m.watched[addr]
	if !ok {
		return errors.Wrapf(ErrNotWatched, "%s", addr.Hex())
	}
	if source == SourceLedger {
		return errors.Wrapf(ErrLedgerSourced, "%s", addr.Hex())
	}
	delete(m.watched, addr)
	m.l.Info("stopped watching address", zap.String("address", addr.Hex()))
	return nil
}

// Watched returns a copy of the current watch-set.
func (m *Monitor) Watched() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]common.Address, 0, len(m.watched))
	for addr := range m.watched {
		out = append(out, addr)
	}
	return out
}

// Classify builds a fresh snapshot for the address and maps it onto a risk
// tier. Addresses with no exploitable debt are Safe by definition.
func (m *Monitor) Classify(ctx context.Context, addr common.Address) (domain.RiskTier, decimal.Decimal, error) {
	s, err := m.builder.Build(ctx, addr)
	if err != nil {
		return domain.RiskSafe, decimal.Zero, errors.Wrapf(err, "failed to snapshot %s", addr.Hex())
	}

	hf, tier := m.engine.Assess(s)
	if hf.Equal(domain.SentinelHealthFactor) {
		return domain.RiskSafe, hf, nil
	}
	if hf.IsZero() && !s.DebtValueUSD.IsPositive() {
		return domain.RiskSafe, hf, nil
	}
	return tier, hf, nil
}

// Liquidate re-checks eligibility and submits an approve+liquidate job.
// The sweep classification may be seconds stale, so eligibility is verified
// immediately before the job is built.
func (m *Monitor) Liquidate(ctx context.Context, borrower common.Address, repayToken domain.Token, repayAmount decimal.Decimal, seizeToken domain.Token) (<-chan domain.JobEvent, error) {
	if !repayAmount.IsPositive() {
		return nil, domain.ErrNonPositiveAmount
	}

	tier, hf, err := m.Classify(ctx, borrower)
	if err != nil {
		return nil, err
	}
	if tier != domain.RiskLiquidatable {
		return nil, errors.Wrapf(ErrNotLiquidatable, "%s health factor %s", borrower.Hex(), hf.String())
	}

	approve, err := m.calls.ApproveCall(repayToken, repayAmount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode approve call")
	}
	liquidate, err := m.calls.LiquidateCall(borrower, repayToken, repayAmount, seizeToken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode liquidate call")
	}

	job := domain.TransactionJob{
		ID: uuid.New().String(),
		Steps: []domain.Step{
			{Kind: domain.StepApprove, Call: approve, Label: "approve " + repayToken.Symbol},
			{Kind: domain.StepAct, Call: liquidate, Label: "liquidate " + borrower.Hex()},
		},
	}

	m.l.Info("submitting liquidation",
		zap.String("borrower", borrower.Hex()),
		zap.String("repay_token", repayToken.Symbol),
		zap.String("repay_amount", repayAmount.String()),
		zap.String("seize_token", seizeToken.Symbol),
		zap.String("health_factor", hf.String()))

	return m.jobs.Submit(ctx, job)
}

// record appends a risk event to the bounded in-memory history.
func (m *Monitor) record(addr common.Address, tier domain.RiskTier, hf decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextIndex++
	m.events = append(m.events, domain.RiskEvent{
		Index:        m.nextIndex,
		Address:      addr,
		Tier:         tier,
		HealthFactor: hf,
		ObservedAt:   time.Now(),
	})
	if len(m.events) > eventHistoryLimit {
		m.events = m.events[len(m.events)-eventHistoryLimit:]
	}
}

// EventsAfter returns risk events with an index greater than the given one.
func (m *Monitor) EventsAfter(index uint64) []domain.RiskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.RiskEvent, 0)
	for _, ev := range m.events {
		if ev.Index > index {
			out = append(out, ev)
		}
	}
	return out
}

// Sweep classifies every watched address once.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, addr := range m.Watched() {
		tier, hf, err := m.Classify(ctx, addr)
		if err != nil {
			m.l.Error("classification failed", zap.String("address", addr.Hex()), zap.Error(err))
			continue
		}
		m.record(addr, tier, hf)

		switch tier {
		case domain.RiskLiquidatable:
			m.l.Warn("position is liquidatable",
				zap.String("address", addr.Hex()),
				zap.String("health_factor", hf.String()))
		case domain.RiskWarning:
			m.l.Info("position approaching liquidation",
				zap.String("address", addr.Hex()),
				zap.String("health_factor", hf.String()))
		}
	}
}

// Run sweeps the watch-set on the given interval until the context ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.l.Info("starting liquidation monitor", zap.Duration("interval", interval))
	m.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			m.l.Info("stopping liquidation monitor")
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
