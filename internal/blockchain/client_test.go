package blockchain

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
)

// fakeRPC 最小 JSON-RPC 节点
type fakeRPC struct {
	mu      sync.Mutex
	chainID string
	block   uint64
	calls   map[string]int
	// 依次返回的回执, nil 表示尚未上链 (result 为 null)
	receipts []*types.Receipt
	// 为 true 时以 502 应答
	down bool
}

func newFakeRPC(chainID string) *fakeRPC {
	return &fakeRPC{chainID: chainID, calls: make(map[string]int)}
}

func (f *fakeRPC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[req.Method]++
	if f.down {
		f.mu.Unlock()
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	var result interface{}
	switch req.Method {
	case "eth_chainId":
		result = f.chainID
	case "eth_blockNumber":
		result = hexUint(f.block)
	case "evm_mine":
		f.block++
		result = "0x0"
	case "eth_getTransactionReceipt":
		if len(f.receipts) > 0 {
			if r := f.receipts[0]; r != nil {
				result = r
			}
			f.receipts = f.receipts[1:]
		}
	default:
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]interface{}{"code": -32601, "message": "method not found"},
		})
		return
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (f *fakeRPC) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeRPC) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func hexUint(n uint64) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0x0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%16]}, buf...)
		n /= 16
	}
	return "0x" + string(buf)
}

func TestClientConfig_Validation(t *testing.T) {
	t.Run("empty RPC URLs", func(t *testing.T) {
		_, err := newClient(&ClientConfig{ChainID: 31337})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "at least one RPC URL is required")
	})

	t.Run("invalid private key", func(t *testing.T) {
		_, err := newClient(&ClientConfig{
			ChainID:    31337,
			PrivateKey: "invalid-key",
			RPCURLs:    []string{"http://localhost:8545"},
		})
		assert.Error(t, err)
	})

	t.Run("private key with 0x prefix", func(t *testing.T) {
		c, err := newClient(&ClientConfig{
			ChainID:    31337,
			PrivateKey: "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			RPCURLs:    []string{"http://localhost:8545"},
		})
		require.NoError(t, err)
		assert.True(t, c.HasSigner())
		assert.NotEqual(t, "0x0000000000000000000000000000000000000000", c.Address().Hex())
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := newClient(&ClientConfig{RPCURLs: []string{"http://localhost:8545"}})
		require.NoError(t, err)
		assert.Equal(t, 3, c.maxRetries)
		assert.Equal(t, time.Second, c.retryInterval)
		assert.Equal(t, 30*time.Second, c.healthCheckFreq)
		assert.False(t, c.HasSigner())
	})
}

func TestClient_ConnectAndBlockNumber(t *testing.T) {
	node := newFakeRPC("0x7a69")
	node.block = 42
	srv := httptest.NewServer(node)
	defer srv.Close()

	c, err := NewClient(context.Background(), &ClientConfig{ChainID: 31337, RPCURLs: []string{srv.URL}})
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.IsLocalChain())
	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
	assert.Len(t, c.GetHealthyEndpoints(), 1)
}

func TestClient_ChainIDMismatch(t *testing.T) {
	srv := httptest.NewServer(newFakeRPC("0x1"))
	defer srv.Close()

	_, err := NewClient(context.Background(), &ClientConfig{ChainID: 31337, RPCURLs: []string{srv.URL}})
	assert.ErrorIs(t, err, ErrChainIDMismatch)
}

func TestClient_FailoverToBackup(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer dead.Close()
	node := newFakeRPC("0x7a69")
	live := httptest.NewServer(node)
	defer live.Close()

	c, err := NewClient(context.Background(), &ClientConfig{
		ChainID:       31337,
		RPCURLs:       []string{dead.URL, live.URL},
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Len(t, c.GetHealthyEndpoints(), 1)
	assert.Equal(t, 1, node.count("eth_chainId"))
}

func TestClient_Mine(t *testing.T) {
	node := newFakeRPC("0x7a69")
	srv := httptest.NewServer(node)
	defer srv.Close()

	c, err := NewClient(context.Background(), &ClientConfig{ChainID: 31337, RPCURLs: []string{srv.URL}})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Mine(context.Background(), 2))
	assert.Equal(t, 2, node.count("evm_mine"))

	remote := &Client{chainID: 1}
	assert.ErrorIs(t, remote.Mine(context.Background(), 1), ErrNotLocalChain)
}

func TestClient_RPCErrorNotRetried(t *testing.T) {
	node := newFakeRPC("0x7a69")
	srv := httptest.NewServer(node)
	defer srv.Close()

	c, err := NewClient(context.Background(), &ClientConfig{ChainID: 31337, RPCURLs: []string{srv.URL}, RetryInterval: time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SuggestGasTipCap(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, node.count("eth_maxPriorityFeePerGas"))
	assert.Len(t, c.GetHealthyEndpoints(), 1)
}

func TestSignTransaction_NoKey(t *testing.T) {
	c := &Client{chainID: 31337}
	_, err := c.SignTransaction(nil)
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestClient_ReceiptPendingDoesNotMarkEndpointUnhealthy(t *testing.T) {
	txHash := common.HexToHash("0xabc1")
	node := newFakeRPC("0x7a69")
	node.receipts = []*types.Receipt{nil, nil, {
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(5),
		GasUsed:     21000,
		Logs:        []*types.Log{},
	}}
	srv := httptest.NewServer(node)
	defer srv.Close()

	c, err := NewClient(context.Background(), &ClientConfig{ChainID: 31337, RPCURLs: []string{srv.URL}, RetryInterval: time.Millisecond})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.TransactionReceipt(context.Background(), txHash)
	assert.ErrorIs(t, err, ErrTxNotFound)
	assert.Equal(t, 1, node.count("eth_getTransactionReceipt"), "pending receipt is not a transport failure")
	assert.Len(t, c.GetHealthyEndpoints(), 1)

	registry, err := contract.NewRegistry(map[contract.Name]common.Address{contract.GameWorld: gameWorldAddr})
	require.NoError(t, err)
	chain := NewGameChain(c, registry, nil, nil, GameChainConfig{
		ReceiptPoll:    time.Millisecond,
		ReceiptTimeout: 5 * time.Second,
	})
	receipt, err := chain.WaitForReceipt(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), receipt.BlockNumber)
	assert.Equal(t, uint64(21000), receipt.GasUsed)
	assert.Equal(t, 3, node.count("eth_getTransactionReceipt"))
	assert.Len(t, c.GetHealthyEndpoints(), 1)
	// 连接只建立过一次
	assert.Equal(t, 1, node.count("eth_chainId"))
}

func TestClient_FailoverAfterPrimaryGoesDown(t *testing.T) {
	primary := newFakeRPC("0x7a69")
	primary.block = 10
	backup := newFakeRPC("0x7a69")
	backup.block = 11
	p := httptest.NewServer(primary)
	defer p.Close()
	b := httptest.NewServer(backup)
	defer b.Close()

	c, err := NewClient(context.Background(), &ClientConfig{
		ChainID:       31337,
		RPCURLs:       []string{p.URL, b.URL},
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	defer c.Close()

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
	assert.Equal(t, 0, backup.count("eth_chainId"))

	primary.setDown(true)
	n, err = c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(11), n)

	healthy := c.GetHealthyEndpoints()
	require.Len(t, healthy, 1)
	assert.Equal(t, b.URL, healthy[0].URL)
}

func TestIsTransportError(t *testing.T) {
	assert.False(t, isTransportError(nil))
	assert.False(t, isTransportError(ErrTxNotFound))
	assert.False(t, isTransportError(context.DeadlineExceeded))
	assert.False(t, isTransportError(rpc.HTTPError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, isTransportError(rpc.HTTPError{StatusCode: http.StatusBadGateway}))
	assert.True(t, isTransportError(errors.New("dial tcp: connection refused")))
}
