package blockchain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
)

var (
	gameWorldAddr = common.HexToAddress("0x2000000000000000000000000000000000000001")
	signerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type fakeBackend struct {
	mu       sync.Mutex
	chainID  int64
	block    uint64
	mined    int
	calls    []ethereum.CallMsg
	callAt   []*big.Int
	callOut  []byte
	callErr  error
	sent     []*types.Transaction
	receipts map[common.Hash][]*types.Receipt
	logs     []types.Log
	query    ethereum.FilterQuery
}

func (f *fakeBackend) ChainID() int64          { return f.chainID }
func (f *fakeBackend) Address() common.Address { return signerAddr }
func (f *fakeBackend) IsLocalChain() bool      { return f.chainID == LocalChainID }

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	f.callAt = append(f.callAt, block)
	return f.callOut, f.callErr
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.receipts[h]
	if len(queue) == 0 {
		return nil, ErrTxNotFound
	}
	r := queue[0]
	f.receipts[h] = queue[1:]
	if r == nil {
		return nil, ErrTxNotFound
	}
	return r, nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.query = q
	return f.logs, nil
}

func (f *fakeBackend) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func (f *fakeBackend) Mine(ctx context.Context, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mined += n
	f.block += uint64(n)
	return nil
}

type fakeFees struct {
	quote *contract.FeeQuote
	gas   uint64
	err   error
}

func (f *fakeFees) Quote(ctx context.Context) (*contract.FeeQuote, error) { return f.quote, nil }
func (f *fakeFees) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.gas, f.err
}

type fakeNonces struct {
	next  uint64
	mined []common.Hash
}

func (f *fakeNonces) WithNonce(ctx context.Context, send func(uint64) (common.Hash, error)) (common.Hash, error) {
	h, err := send(f.next)
	if err == nil {
		f.next++
	}
	return h, err
}

func (f *fakeNonces) OnTxMined(ctx context.Context, h common.Hash) error {
	f.mined = append(f.mined, h)
	return nil
}

func newTestChain(t *testing.T, backend *fakeBackend, fees FeeSource, nonces NonceAllocator) *GameChain {
	t.Helper()
	registry, err := contract.NewRegistry(map[contract.Name]common.Address{contract.GameWorld: gameWorldAddr})
	require.NoError(t, err)
	return NewGameChain(backend, registry, fees, nonces, GameChainConfig{
		Confirmations:  2,
		ReceiptTimeout: 200 * time.Millisecond,
		ReceiptPoll:    time.Millisecond,
		BlockPoll:      time.Millisecond,
	})
}

func TestGameChain_SafeHead(t *testing.T) {
	backend := &fakeBackend{chainID: 1, block: 1}
	g := newTestChain(t, backend, nil, nil)

	head, err := g.SafeHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head)

	backend.block = 10
	head, err = g.SafeHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), head)
}

func TestGameChain_ReadContract(t *testing.T) {
	backend := &fakeBackend{chainID: 1}
	g := newTestChain(t, backend, nil, nil)

	parsed, err := g.Registry().ABI(contract.GameWorld)
	require.NoError(t, err)
	backend.callOut, err = parsed.Methods["ownerOfCharacter"].Outputs.Pack(signerAddr)
	require.NoError(t, err)

	out, err := g.ReadContract(context.Background(), contract.GameWorld, "ownerOfCharacter", big.NewInt(1))
	require.NoError(t, err)
	owner, ok := contract.AsAddress(out[0])
	require.True(t, ok)
	assert.Equal(t, signerAddr, owner)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, gameWorldAddr, *backend.calls[0].To)

	_, err = g.ReadContract(context.Background(), contract.Items, "balanceOf", signerAddr)
	assert.ErrorIs(t, err, contract.ErrUnboundContract)
}

func TestGameChain_WriteContract(t *testing.T) {
	backend := &fakeBackend{chainID: 1}
	fees := &fakeFees{gas: 21000, quote: &contract.FeeQuote{GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(10)}}
	nonces := &fakeNonces{next: 7}
	g := newTestChain(t, backend, fees, nonces)

	h, err := g.WriteContract(context.Background(), contract.GameWorld, "claimFreeLootbox", nil, big.NewInt(3))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, h, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, uint64(8), nonces.next)

	fees.quote = &contract.FeeQuote{GasPrice: big.NewInt(5)}
	_, err = g.WriteContract(context.Background(), contract.GameWorld, "commitFee", big.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, uint8(types.LegacyTxType), backend.sent[1].Type())
	assert.Equal(t, int64(9), backend.sent[1].Value().Int64())
}

func TestGameChain_WriteContract_EstimateRevert(t *testing.T) {
	backend := &fakeBackend{chainID: 1}
	fees := &fakeFees{err: errors.New("execution reverted: RunNotActive")}
	g := newTestChain(t, backend, fees, &fakeNonces{})

	_, err := g.WriteContract(context.Background(), contract.GameWorld, "claimFreeLootbox", nil, big.NewInt(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RunNotActive")
	assert.Empty(t, backend.sent)
}

func TestGameChain_WriteContract_ReadOnly(t *testing.T) {
	g := newTestChain(t, &fakeBackend{chainID: 1}, nil, nil)
	_, err := g.WriteContract(context.Background(), contract.GameWorld, "claimFreeLootbox", nil, big.NewInt(3))
	assert.ErrorIs(t, err, ErrWriteUnavailable)
}

func TestGameChain_WaitForReceipt(t *testing.T) {
	h := common.HexToHash("0x01")
	registry, err := contract.NewRegistry(map[contract.Name]common.Address{contract.GameWorld: gameWorldAddr})
	require.NoError(t, err)
	topic, err := registry.EventID(contract.GameWorld, "ItemEquipped")
	require.NoError(t, err)

	equipped := &types.Log{
		Address: gameWorldAddr,
		Topics:  []common.Hash{topic, common.BigToHash(big.NewInt(1)), common.BigToHash(big.NewInt(77)), common.BigToHash(big.NewInt(2))},
		TxHash:  h,
	}
	foreign := &types.Log{Address: signerAddr, Topics: []common.Hash{topic}}

	backend := &fakeBackend{chainID: 1, receipts: map[common.Hash][]*types.Receipt{
		h: {nil, {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12), TxHash: h, Logs: []*types.Log{equipped, foreign}}},
	}}
	nonces := &fakeNonces{}
	g := newTestChain(t, backend, nil, nonces)

	receipt, err := g.WaitForReceipt(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), receipt.BlockNumber)
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, "ItemEquipped", receipt.Logs[0].EventName)
	assert.Equal(t, []common.Hash{h}, nonces.mined)
}

func TestGameChain_WaitForReceipt_RevertedAndTimeout(t *testing.T) {
	h := common.HexToHash("0x02")
	backend := &fakeBackend{chainID: 1, receipts: map[common.Hash][]*types.Receipt{
		h: {{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(3), TxHash: h}},
	}}
	g := newTestChain(t, backend, nil, nil)

	receipt, err := g.WaitForReceipt(context.Background(), h)
	assert.ErrorIs(t, err, ErrTxReverted)
	require.NotNil(t, receipt)

	_, err = g.WaitForReceipt(context.Background(), common.HexToHash("0x03"))
	assert.ErrorIs(t, err, ErrReceiptTimeout)
}

// revertDataError 节点返回的带 revert data 的错误
type revertDataError struct{ data string }

func (e *revertDataError) Error() string          { return "execution reverted" }
func (e *revertDataError) ErrorData() interface{} { return e.data }

func TestGameChain_WaitForReceipt_RevertReplaysCall(t *testing.T) {
	backend := &fakeBackend{chainID: 1, receipts: map[common.Hash][]*types.Receipt{}}
	fees := &fakeFees{gas: 50000, quote: &contract.FeeQuote{GasPrice: big.NewInt(5)}}
	g := newTestChain(t, backend, fees, &fakeNonces{})

	h, err := g.WriteContract(context.Background(), contract.GameWorld, "claimFreeLootbox", nil, big.NewInt(3))
	require.NoError(t, err)
	backend.receipts[h] = []*types.Receipt{{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(12), TxHash: h}}
	backend.callErr = &revertDataError{data: hexutil.Encode(crypto.Keccak256([]byte("RevealTooEarly()"))[:4])}

	receipt, err := g.WaitForReceipt(context.Background(), h)
	require.NotNil(t, receipt)
	assert.ErrorIs(t, err, ErrTxReverted)
	assert.True(t, strings.HasPrefix(err.Error(), "RevealTooEarly: "), err.Error())

	require.Len(t, backend.calls, 1)
	assert.Equal(t, gameWorldAddr, *backend.calls[0].To)
	assert.Equal(t, backend.sent[0].Data(), backend.calls[0].Data)
	assert.Equal(t, int64(11), backend.callAt[0].Int64())
}

func TestGameChain_WaitForReceipt_RevertReplaySucceeds(t *testing.T) {
	backend := &fakeBackend{chainID: 1, receipts: map[common.Hash][]*types.Receipt{}}
	fees := &fakeFees{gas: 50000, quote: &contract.FeeQuote{GasPrice: big.NewInt(5)}}
	g := newTestChain(t, backend, fees, &fakeNonces{})

	h, err := g.WriteContract(context.Background(), contract.GameWorld, "claimFreeLootbox", nil, big.NewInt(3))
	require.NoError(t, err)
	backend.receipts[h] = []*types.Receipt{{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(12), TxHash: h}}

	_, err = g.WaitForReceipt(context.Background(), h)
	assert.ErrorIs(t, err, ErrTxReverted)
	assert.Equal(t, "transaction reverted: "+h.Hex(), err.Error())
	assert.Len(t, backend.calls, 1)
}

func TestGameChain_GetLogs(t *testing.T) {
	backend := &fakeBackend{chainID: 1}
	g := newTestChain(t, backend, nil, nil)

	_, err := g.GetLogs(context.Background(), 5, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(5), backend.query.FromBlock.Int64())
	assert.Equal(t, int64(9), backend.query.ToBlock.Int64())
	assert.Equal(t, []common.Address{gameWorldAddr}, backend.query.Addresses)
}

func TestGameChain_WaitForBlock(t *testing.T) {
	t.Run("local chain mines the gap", func(t *testing.T) {
		backend := &fakeBackend{chainID: LocalChainID, block: 10}
		g := newTestChain(t, backend, nil, nil)
		require.NoError(t, g.WaitForBlock(context.Background(), 12, time.Second))
		assert.Equal(t, 2, backend.mined)
	})

	t.Run("local chain target too far", func(t *testing.T) {
		backend := &fakeBackend{chainID: LocalChainID, block: 10}
		g := newTestChain(t, backend, nil, nil)
		err := g.WaitForBlock(context.Background(), 30, time.Second)
		assert.ErrorIs(t, err, ErrWaitBlockTooFar)
		assert.Equal(t, 0, backend.mined)
	})

	t.Run("remote chain already reached", func(t *testing.T) {
		backend := &fakeBackend{chainID: 1, block: 50}
		g := newTestChain(t, backend, nil, nil)
		require.NoError(t, g.WaitForBlock(context.Background(), 50, time.Second))
	})

	t.Run("remote chain timeout", func(t *testing.T) {
		backend := &fakeBackend{chainID: 1, block: 50}
		g := newTestChain(t, backend, nil, nil)
		err := g.WaitForBlock(context.Background(), 52, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrWaitBlockTimeout)
	})
}

func TestGameChain_MineBlocks(t *testing.T) {
	remote := &fakeBackend{chainID: 1}
	require.NoError(t, newTestChain(t, remote, nil, nil).MineBlocks(context.Background(), 2))
	assert.Equal(t, 0, remote.mined)

	local := &fakeBackend{chainID: LocalChainID}
	require.NoError(t, newTestChain(t, local, nil, nil).MineBlocks(context.Background(), 2))
	assert.Equal(t, 2, local.mined)
}
