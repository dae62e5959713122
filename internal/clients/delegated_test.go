package clients

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/collatfi/collat/internal/domain"
	"github.com/collatfi/collat/internal/services/orchestrator"
)

// test key, never used anywhere real
const testKeyHex = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type fakeNode struct {
	mu           sync.Mutex
	chainID      *big.Int
	chainIDErr   error
	sent         []*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	receiptAfter int // number of lookups returning not-found before the receipt appears
	lookups      int
}

func newFakeNode(chainID int64) *fakeNode {
	return &fakeNode{
		chainID:  big.NewInt(chainID),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeNode) ChainID(_ context.Context) (*big.Int, error) {
	if f.chainIDErr != nil {
		return nil, f.chainIDErr
	}
	return f.chainID, nil
}

func (f *fakeNode) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeNode) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeNode) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lookups++
	if f.lookups <= f.receiptAfter {
		return nil, ethereum.NotFound
	}
	if receipt, ok := f.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

func newTestProvider(t *testing.T, node nodeClient) *DelegatedProvider {
	t.Helper()

	p, err := NewDelegatedProvider(node, testKeyHex, zap.NewNop())
	require.NoError(t, err)
	p.pollInterval = time.Millisecond
	p.maxAttempts = 5
	return p
}

func TestDelegated_RequestSwitch(t *testing.T) {
	node := newFakeNode(31337)
	p := newTestProvider(t, node)

	require.NoError(t, p.RequestSwitch(context.Background(), big.NewInt(31337)))

	err := p.RequestSwitch(context.Background(), big.NewInt(1))
	require.ErrorIs(t, err, orchestrator.ErrWrongNetwork)
}

func TestDelegated_SendSignsAndBroadcasts(t *testing.T) {
	node := newFakeNode(31337)
	p := newTestProvider(t, node)

	to := common.HexToAddress("0x0000000000000000000000000000000000000c01")
	hash, err := p.Send(context.Background(), domain.Call{To: to, Data: []byte{0x01, 0x02}})
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, hash)
	require.Len(t, node.sent, 1)

	tx := node.sent[0]
	require.Equal(t, to, *tx.To())
	require.Equal(t, uint64(7), tx.Nonce())

	signer := types.LatestSignerForChainID(big.NewInt(31337))
	from, err := types.Sender(signer, tx)
	require.NoError(t, err)

	key, _ := crypto.HexToECDSA(testKeyHex[2:])
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), from)
}

func TestDelegated_WaitFindsReceiptAfterPolling(t *testing.T) {
	node := newFakeNode(31337)
	hash := common.Hash{0xaa}
	node.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}
	node.receiptAfter = 3

	p := newTestProvider(t, node)

	receipt, err := p.Wait(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, 4, node.lookups)
}

func TestDelegated_WaitTimesOut(t *testing.T) {
	node := newFakeNode(31337)
	p := newTestProvider(t, node)

	_, err := p.Wait(context.Background(), common.Hash{0xbb})
	require.ErrorIs(t, err, orchestrator.ErrReceiptTimeout)
	require.Equal(t, p.maxAttempts, node.lookups, "polling must stop at the attempt budget")
}

func TestDelegated_WaitHonorsContext(t *testing.T) {
	node := newFakeNode(31337)
	p := newTestProvider(t, node)
	p.pollInterval = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx, common.Hash{0xcc})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelegated_RejectsBadKey(t *testing.T) {
	_, err := NewDelegatedProvider(newFakeNode(1), "zz", zap.NewNop())
	require.Error(t, err)
}

func TestDelegated_NodeErrorIsNotSwallowed(t *testing.T) {
	node := newFakeNode(31337)
	node.chainIDErr = errors.New("connection refused")
	p := newTestProvider(t, node)

	err := p.RequestSwitch(context.Background(), big.NewInt(31337))
	require.ErrorIs(t, err, orchestrator.ErrWrongNetwork)
}
