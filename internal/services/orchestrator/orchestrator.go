// Package orchestrator drives one mutating user action end-to-end: an
// optional approval, the action itself, receipt confirmation and a single
// terminal event. The same pipeline runs against either signing backend.
package orchestrator

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
)

// defaultSettleDelay absorbs the ledger's read-after-write propagation lag
// before dependent reads are refreshed. It is a pragmatic compromise, not a
// consistency guarantee: callers that need strict consistency must re-read.
const defaultSettleDelay = 2 * time.Second

const eventBuffer = 8

// Orchestrator executes transaction jobs against one signing backend.
type Orchestrator struct {
	backend SigningBackend
	chainID *big.Int
	l       *zap.Logger

	// settleDelay can be overridden for testing.
	settleDelay time.Duration
}

// New returns an orchestrator bound to the given backend and network.
func New(backend SigningBackend, chainID *big.Int, l *zap.Logger) *Orchestrator {
	return &Orchestrator{
		backend:     backend,
		chainID:     chainID,
		l:           l,
		settleDelay: defaultSettleDelay,
	}
}

// SetSettleDelay overrides the pause between the final confirmed receipt and
// the terminal success event.
func (o *Orchestrator) SetSettleDelay(d time.Duration) {
	o.settleDelay = d
}

// NewJob builds a job from the given steps, assigning it a fresh ID.
func NewJob(steps ...domain.Step) domain.TransactionJob {
	return domain.TransactionJob{ID: uuid.New().String(), Steps: steps}
}

// Submit starts the job and returns its event stream. The stream carries
// status transitions and terminates with exactly one Succeeded or Failed
// event, after which the channel is closed.
func (o *Orchestrator) Submit(ctx context.Context, job domain.TransactionJob) (<-chan domain.JobEvent, error) {
	if len(job.Steps) == 0 || len(job.Steps) > 2 {
		return nil, errors.Errorf("job must have 1 or 2 steps, got %d", len(job.Steps))
	}
	if len(job.Steps) == 2 && (job.Steps[0].Kind != domain.StepApprove || job.Steps[1].Kind != domain.StepAct) {
		return nil, errors.New("a two-step job must be approve then act")
	}
	if len(job.Steps) == 1 && job.Steps[0].Kind != domain.StepAct {
		return nil, errors.New("a single-step job must be an act step")
	}

	events := make(chan domain.JobEvent, eventBuffer)
	go o.run(ctx, job, events)
	return events, nil
}

func (o *Orchestrator) run(ctx context.Context, job domain.TransactionJob, events chan<- domain.JobEvent) {
	defer close(events)

	// one-shot terminal guard: both backends can independently reach a
	// terminal trigger, but subscribers see at most one terminal event.
	announced := false

	emit := func(ev domain.JobEvent) {
		if ev.Terminal() {
			if announced {
				o.l.Warn("suppressing duplicate terminal event",
					zap.String("job", job.ID),
					zap.String("status", ev.Status.String()))
				return
			}
			announced = true
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	fail := func(kind domain.FailureKind, err error) {
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		o.l.Error("job failed",
			zap.String("job", job.ID),
			zap.String("kind", kind.String()),
			zap.Error(err))
		emit(domain.JobEvent{
			JobID:   job.ID,
			Status:  domain.JobFailed,
			Failure: &domain.JobFailure{Kind: kind, Reason: reason},
		})
	}

	// network precondition comes before any signature request
	if err := o.backend.RequestSwitch(ctx, o.chainID); err != nil {
		fail(domain.FailureNetworkSwitch, err)
		return
	}

	var lastHash common.Hash
	for _, step := range job.Steps {
		sendStatus, waitStatus := stepStatuses(step.Kind)

		emit(domain.JobEvent{JobID: job.ID, Status: sendStatus})
		o.l.Info("submitting step",
			zap.String("job", job.ID),
			zap.String("step", step.Kind.String()),
			zap.String("label", step.Label))

		hash, err := o.backend.Send(ctx, step.Call)
		if err != nil {
			fail(classifyFailure(err), err)
			return
		}
		lastHash = hash
		emit(domain.JobEvent{JobID: job.ID, Status: waitStatus, TxHash: hash})

		receipt, err := o.backend.Wait(ctx, hash)
		if err != nil {
			fail(classifyFailure(err), err)
			return
		}
		if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
			fail(domain.FailureReverted, errors.Errorf("transaction %s reverted", hash.Hex()))
			return
		}
		o.l.Info("step confirmed",
			zap.String("job", job.ID),
			zap.String("step", step.Kind.String()),
			zap.String("tx", hash.Hex()))
	}

	if o.settleDelay > 0 {
		select {
		case <-time.After(o.settleDelay):
		case <-ctx.Done():
		}
	}

	emit(domain.JobEvent{JobID: job.ID, Status: domain.JobSucceeded, TxHash: lastHash})
}

func stepStatuses(kind domain.StepKind) (domain.JobStatus, domain.JobStatus) {
	if kind == domain.StepApprove {
		return domain.JobApproving, domain.JobAwaitingApprovalReceipt
	}
	return domain.JobActing, domain.JobAwaitingActionReceipt
}
