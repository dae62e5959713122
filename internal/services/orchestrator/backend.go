package orchestrator

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/collatfi/collat/internal/domain"
)

// SigningBackend is the capability a signing path must provide. Two
// implementations exist: a subscription-backed wallet and a poll-backed
// delegated provider. The orchestrator depends only on this interface and
// never branches on which backend it is driving.
type SigningBackend interface {
	// RequestSwitch asks the backend to move to the protocol's designated
	// network. It is called before any signature is requested; failure
	// aborts the job.
	RequestSwitch(ctx context.Context, chainID *big.Int) error

	// Send signs and submits one call, returning its transaction hash.
	Send(ctx context.Context, call domain.Call) (common.Hash, error)

	// Wait blocks until the transaction is confirmed or the backend's own
	// timeout elapses.
	Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Sentinel errors backends use to signal well-known failure modes.
var (
	ErrUserRejected   = errors.New("signature request rejected")
	ErrReceiptTimeout = errors.New("receipt polling exhausted")
	ErrWrongNetwork   = errors.New("backend is on the wrong network")
)

// classifyFailure maps a backend error onto the typed failure taxonomy.
func classifyFailure(err error) domain.FailureKind {
	switch {
	case errors.Is(err, ErrUserRejected):
		return domain.FailureUserRejected
	case errors.Is(err, ErrReceiptTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.FailureConfirmationTimeout
	case errors.Is(err, ErrWrongNetwork):
		return domain.FailureNetworkSwitch
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient allowance"):
		return domain.FailureInsufficientAllowance
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "reverted"):
		return domain.FailureReverted
	case strings.Contains(msg, "user denied"), strings.Contains(msg, "rejected"):
		return domain.FailureUserRejected
	default:
		return domain.FailureUnknown
	}
}
