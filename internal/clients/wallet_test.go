package clients

import (
	"context"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
	"github.com/collatfi/collat/internal/services/orchestrator"
)

type fakeSub struct {
	errs chan error
}

func (s *fakeSub) Unsubscribe()      {}
func (s *fakeSub) Err() <-chan error { return s.errs }

type fakeSubNode struct {
	*fakeNode
	heads  chan *types.Header
	subErr error
}

func newFakeSubNode(chainID int64) *fakeSubNode {
	return &fakeSubNode{fakeNode: newFakeNode(chainID), heads: make(chan *types.Header, 4)}
}

func (f *fakeSubNode) SubscribeNewHead(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	go func() {
		for h := range f.heads {
			ch <- h
		}
	}()
	return &fakeSub{errs: make(chan error)}, nil
}

func passthroughSigner(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func TestWallet_DeclinedPromptIsUserRejection(t *testing.T) {
	node := newFakeSubNode(31337)
	declined := func(_ context.Context, _ *types.Transaction) (*types.Transaction, error) {
		return nil, errors.New("user closed the prompt")
	}
	w := NewWalletBackend(node, common.Address{}, declined, zap.NewNop())

	_, err := w.Send(context.Background(), domain.Call{To: common.HexToAddress("0x0000000000000000000000000000000000000c01")})
	require.ErrorIs(t, err, orchestrator.ErrUserRejected)
	require.Empty(t, node.sent, "a declined prompt must not broadcast anything")
}

func TestWallet_WaitReturnsReceiptOnNewHead(t *testing.T) {
	node := newFakeSubNode(31337)
	hash := common.Hash{0xaa}
	node.receiptAfter = 2

	w := NewWalletBackend(node, common.Address{}, passthroughSigner, zap.NewNop())

	go func() {
		for i := 0; i < 3; i++ {
			node.heads <- &types.Header{}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	// receipt only appears once heads have arrived
	node.mu.Lock()
	node.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}
	node.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receipt, err := w.Wait(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}

func TestWallet_WaitShortCircuitsOnMinedTransaction(t *testing.T) {
	node := newFakeSubNode(31337)
	node.subErr = errors.New("subscription must not be opened")
	hash := common.Hash{0xbb}
	node.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}

	w := NewWalletBackend(node, common.Address{}, passthroughSigner, zap.NewNop())

	receipt, err := w.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, hash, receipt.TxHash)
}

func TestWallet_WaitHonorsContext(t *testing.T) {
	node := newFakeSubNode(31337)
	w := NewWalletBackend(node, common.Address{}, passthroughSigner, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Wait(ctx, common.Hash{0xcc})
	require.ErrorIs(t, err, context.Canceled)
}
