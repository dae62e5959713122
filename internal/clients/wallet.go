package clients

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
	"github.com/collatfi/collat/internal/services/orchestrator"
)

// SignerFunc asks the connected wallet to sign a prepared transaction.
// A declined prompt returns an error, which the orchestrator surfaces as a
// user rejection.
type SignerFunc func(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)

// subscribingNode extends the node contract with the reactive head
// subscription the standard wallet path confirms through. *ethclient.Client
// satisfies it.
type subscribingNode interface {
	nodeClient
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// WalletBackend is the standard connected-wallet signing path. Submission is
// signed through the wallet's own prompt and confirmation rides the node's
// new-head subscription rather than a fixed polling loop; subscription
// lifetime and timeouts belong to the underlying connection.
type WalletBackend struct {
	node    subscribingNode
	signer  SignerFunc
	account common.Address
	l       *zap.Logger
}

// NewWalletBackend wraps a wallet connection.
func NewWalletBackend(node subscribingNode, account common.Address, signer SignerFunc, l *zap.Logger) *WalletBackend {
	return &WalletBackend{node: node, signer: signer, account: account, l: l}
}

// RequestSwitch asks the wallet to move to the designated network.
func (w *WalletBackend) RequestSwitch(ctx context.Context, chainID *big.Int) error {
	actual, err := w.node.ChainID(ctx)
	if err != nil {
		return errors.Wrap(orchestrator.ErrWrongNetwork, err.Error())
	}
	if actual.Cmp(chainID) != 0 {
		return errors.Wrapf(orchestrator.ErrWrongNetwork, "wallet is on chain %s, want %s", actual, chainID)
	}
	return nil
}

// Send prepares the transaction, requests a signature from the wallet and
// broadcasts the result.
func (w *WalletBackend) Send(ctx context.Context, call domain.Call) (common.Hash, error) {
	nonce, err := w.node.PendingNonceAt(ctx, w.account)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch nonce")
	}
	gasPrice, err := w.node.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch gas price")
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &call.To,
		Value:    value,
		Gas:      delegatedGasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	signed, err := w.signer(ctx, tx)
	if err != nil {
		return common.Hash{}, errors.Wrap(orchestrator.ErrUserRejected, err.Error())
	}

	if err := w.node.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to broadcast transaction")
	}

	w.l.Debug("wallet send", zap.String("tx", signed.Hash().Hex()))
	return signed.Hash(), nil
}

// Wait confirms the transaction by checking for its receipt on every new
// head. The subscription's own error channel and the context are the only
// exits; there is no attempt budget on this path.
func (w *WalletBackend) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	// the transaction may already be mined
	if receipt, err := w.node.TransactionReceipt(ctx, txHash); err == nil && receipt != nil {
		return receipt, nil
	}

	heads := make(chan *types.Header, 1)
	sub, err := w.node.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to new heads")
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-sub.Err():
			return nil, errors.Wrap(err, "head subscription failed")
		case <-heads:
			receipt, err := w.node.TransactionReceipt(ctx, txHash)
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
	}
}
