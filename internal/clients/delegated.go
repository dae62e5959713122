package clients

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
	"github.com/collatfi/collat/internal/services/orchestrator"
)

const (
	receiptPollInterval    = 1 * time.Second
	receiptPollMaxAttempts = 30
	delegatedGasLimit      = 500_000
)

// nodeClient is the slice of an RPC node the delegated provider needs.
// *ethclient.Client satisfies it.
type nodeClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DelegatedProvider is the raw delegated-signing backend: it encodes, signs
// with its own key, sends, and confirms by polling for the receipt on a fixed
// cadence. Exhausting the attempt budget is a timeout failure, never a silent
// stall.
type DelegatedProvider struct {
	node nodeClient
	key  *ecdsa.PrivateKey
	from common.Address
	l    *zap.Logger

	// poll cadence and budget, overridable for testing
	pollInterval time.Duration
	maxAttempts  int
}

// NewDelegatedProvider builds the provider from a hex-encoded private key.
func NewDelegatedProvider(node nodeClient, privateKeyHex string, l *zap.Logger) (*DelegatedProvider, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid delegated signer key")
	}

	return &DelegatedProvider{
		node:         node,
		key:          privateKey,
		from:         crypto.PubkeyToAddress(privateKey.PublicKey),
		l:            l,
		pollInterval: receiptPollInterval,
		maxAttempts:  receiptPollMaxAttempts,
	}, nil
}

// From returns the provider's signing address.
func (p *DelegatedProvider) From() common.Address {
	return p.from
}

// RequestSwitch verifies the node is on the designated network. The provider
// cannot move a remote endpoint between chains, so a mismatch aborts the job
// before any signature is produced.
func (p *DelegatedProvider) RequestSwitch(ctx context.Context, chainID *big.Int) error {
	actual, err := p.node.ChainID(ctx)
	if err != nil {
		return errors.Wrap(orchestrator.ErrWrongNetwork, err.Error())
	}
	if actual.Cmp(chainID) != 0 {
		return errors.Wrapf(orchestrator.ErrWrongNetwork, "connected to chain %s, want %s", actual, chainID)
	}
	return nil
}

// Send signs and submits the call, returning its transaction hash.
func (p *DelegatedProvider) Send(ctx context.Context, call domain.Call) (common.Hash, error) {
	nonce, err := p.node.PendingNonceAt(ctx, p.from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch nonce")
	}
	gasPrice, err := p.node.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch gas price")
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	chainID, err := p.node.ChainID(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch chain id")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.To,
		Value:    value,
		Gas:      delegatedGasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to sign transaction")
	}

	if err := p.node.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to send transaction")
	}

	p.l.Debug("delegated send",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("to", call.To.Hex()))
	return signed.Hash(), nil
}

// Wait polls for the receipt once per interval up to the attempt budget.
func (p *DelegatedProvider) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.pollInterval):
			}
		}

		receipt, err := p.node.TransactionReceipt(ctx, txHash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				continue
			}
			return nil, errors.Wrap(err, "receipt lookup failed")
		}
		if receipt != nil {
			return receipt, nil
		}
	}

	return nil, errors.Wrapf(orchestrator.ErrReceiptTimeout,
		"no receipt for %s after %d attempts", txHash.Hex(), p.maxAttempts)
}
