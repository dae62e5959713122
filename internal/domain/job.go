package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call is one pre-encoded contract invocation ready for a signing backend.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// StepKind distinguishes the allowance grant from the action itself.
type StepKind int

const (
	StepApprove StepKind = iota
	StepAct
)

func (s StepKind) String() string {
	if s == StepApprove {
		return "approve"
	}
	return "act"
}

// Step is a single transaction within a job.
type Step struct {
	Kind StepKind
	Call Call
	// Label names the step in logs and events, e.g. "approve USDC" or "borrow".
	Label string
}

// TransactionJob is the orchestrator's unit of work: one or two steps executed
// strictly in order against a single signing backend. A job is owned by one
// in-flight user action and is garbage once terminal.
type TransactionJob struct {
	ID    string
	Steps []Step
}

// JobStatus tracks a job through the submit/confirm pipeline.
type JobStatus int

const (
	JobIdle JobStatus = iota
	JobApproving
	JobAwaitingApprovalReceipt
	JobActing
	JobAwaitingActionReceipt
	JobSucceeded
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobApproving:
		return "approving"
	case JobAwaitingApprovalReceipt:
		return "awaiting_approval_receipt"
	case JobActing:
		return "acting"
	case JobAwaitingActionReceipt:
		return "awaiting_action_receipt"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
}

// Terminal reports whether the status ends the job.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// FailureKind is the typed failure taxonomy surfaced to callers.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureUserRejected
	FailureInsufficientAllowance
	FailureReverted
	FailureConfirmationTimeout
	FailureNetworkSwitch
)

// Message returns the human-readable terminal message for the failure kind.
func (f FailureKind) Message() string {
	switch f {
	case FailureUserRejected:
		return "signature request was rejected"
	case FailureInsufficientAllowance:
		return "token allowance is insufficient for this action"
	case FailureReverted:
		return "transaction was reverted by the ledger"
	case FailureConfirmationTimeout:
		return "transaction confirmation timed out"
	case FailureNetworkSwitch:
		return "failed to switch to the protocol network"
	default:
		return "transaction failed"
	}
}

func (f FailureKind) String() string {
	switch f {
	case FailureUserRejected:
		return "user_rejected"
	case FailureInsufficientAllowance:
		return "insufficient_allowance"
	case FailureReverted:
		return "reverted"
	case FailureConfirmationTimeout:
		return "confirmation_timeout"
	case FailureNetworkSwitch:
		return "network_switch_failed"
	default:
		return "unknown"
	}
}

// JobFailure carries the typed reason on a failed terminal event.
type JobFailure struct {
	Kind   FailureKind
	Reason string
}

func (f JobFailure) Error() string {
	if f.Reason == "" {
		return f.Kind.Message()
	}
	return fmt.Sprintf("%s: %s", f.Kind.Message(), f.Reason)
}

// JobEvent is one lifecycle transition of a job. Terminal events carry either
// the action transaction hash (success) or a typed failure, never both.
type JobEvent struct {
	JobID   string
	Status  JobStatus
	TxHash  common.Hash
	Failure *JobFailure
}

// Terminal reports whether the event ends the job's event stream.
func (e JobEvent) Terminal() bool {
	return e.Status.Terminal()
}
