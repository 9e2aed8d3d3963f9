package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

var (
	ErrNoHealthyRPC    = errors.New("no healthy RPC endpoint available")
	ErrTxNotFound      = errors.New("transaction not found")
	ErrNoSigner        = errors.New("private key not configured")
	ErrNotLocalChain   = errors.New("block mining is only available on the local chain")
	ErrChainIDMismatch = errors.New("rpc chain id does not match configuration")
)

// LocalChainID 本地开发链 (anvil/hardhat)
const LocalChainID int64 = 31337

// RPCEndpoint RPC 端点信息
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// Client 区块链客户端: 多端点故障切换 + 请求限流
type Client struct {
	chainID    int64
	privateKey *ecdsa.PrivateKey
	address    common.Address

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex

	rpc    *rpc.Client
	client *ethclient.Client

	limiter *rate.Limiter

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	PrivateKey      string
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
	// RateLimit 每秒请求数, 0 表示不限流
	RateLimit float64
	Burst     int
}

// NewClient 创建区块链客户端
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// newClient 解析配置, 不建立连接
func newClient(cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	var privateKey *ecdsa.PrivateKey
	var address common.Address
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(trimHexPrefix(cfg.PrivateKey))
		if err != nil {
			return nil, err
		}
		privateKey = key
		address = crypto.PubkeyToAddress(key.PublicKey)
	}

	endpoints := make([]*RPCEndpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		endpoints[i] = &RPCEndpoint{URL: url, IsHealthy: true}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = time.Second
	}
	healthCheckFreq := cfg.HealthCheckFreq
	if healthCheckFreq == 0 {
		healthCheckFreq = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		chainID:         cfg.ChainID,
		privateKey:      privateKey,
		address:         address,
		endpoints:       endpoints,
		limiter:         limiter,
		maxRetries:      maxRetries,
		retryInterval:   retryInterval,
		healthCheckFreq: healthCheckFreq,
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// connect 连接到可用的 RPC
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		rpcClient, err := rpc.DialContext(ctx, ep.URL)
		if err != nil {
			c.markUnhealthyLocked(ep)
			continue
		}
		client := ethclient.NewClient(rpcClient)

		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			c.markUnhealthyLocked(ep)
			continue
		}
		if c.chainID != 0 && chainID.Int64() != c.chainID {
			client.Close()
			return ErrChainIDMismatch
		}
		if c.chainID == 0 {
			c.chainID = chainID.Int64()
		}

		if c.client != nil {
			c.client.Close()
		}
		c.client = client
		c.rpc = rpcClient
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		return nil
	}

	return ErrNoHealthyRPC
}

func (c *Client) markUnhealthyLocked(ep *RPCEndpoint) {
	ep.IsHealthy = false
	ep.ErrorCount++
	ep.LastCheck = time.Now()
}

// getClient 获取客户端，如果不可用则尝试重连
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, *rpc.Client, error) {
	c.mu.RLock()
	client, raw := c.client, c.rpc
	c.mu.RUnlock()
	if client != nil {
		return client, raw, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, c.rpc, nil
}

// withRetry 带重试的操作.
// 节点返回的 JSON-RPC 错误 (revert, nonce, 限流) 直接透传给调用方分类, 只有传输错误触发端点切换.
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client, *rpc.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		client, raw, err := c.getClient(ctx)
		if err != nil {
			lastErr = err
			if sleepErr := sleepCtx(ctx, c.retryInterval); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		err = fn(client, raw)
		if err == nil {
			return nil
		}
		if !isTransportError(err) {
			return err
		}
		lastErr = err

		c.mu.Lock()
		if c.currentIdx < len(c.endpoints) {
			c.markUnhealthyLocked(c.endpoints[c.currentIdx])
		}
		if c.client != nil {
			c.client.Close()
			c.client, c.rpc = nil, nil
		}
		c.mu.Unlock()

		if i < c.maxRetries-1 {
			if sleepErr := sleepCtx(ctx, c.retryInterval); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return lastErr
}

// isTransportError 判断是否为连接层错误 (非节点业务错误)
func isTransportError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		// 429 交给上层退避, 5xx 切换端点
		return httpErr.StatusCode >= 500
	}
	// 节点正常应答的空结果
	return !errors.Is(err, ethereum.NotFound) && !errors.Is(err, ErrTxNotFound)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Address 返回签名账户地址
func (c *Client) Address() common.Address {
	return c.address
}

// HasSigner 是否配置了私钥
func (c *Client) HasSigner() bool {
	return c.privateKey != nil
}

// ChainID 返回链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// IsLocalChain 是否本地开发链
func (c *Client) IsLocalChain() bool {
	return c.chainID == LocalChainID
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		blockNum, err = client.BlockNumber(ctx)
		return err
	})
	return blockNum, err
}

// HeaderByNumber 获取区块头, number 为 nil 时取最新
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// TransactionReceipt 获取交易回执, 未上链返回 ErrTxNotFound
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTxNotFound
	}
	return receipt, err
}

// PendingNonceAt 获取待处理 Nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice 获取建议 Gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	})
	return gasPrice, err
}

// SuggestGasTipCap 获取建议 Gas Tip (EIP-1559)
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var gasTip *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		gasTip, err = client.SuggestGasTipCap(ctx)
		return err
	})
	return gasTip, err
}

// EstimateGas 估算 Gas
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction 发送交易
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		return client.SendTransaction(ctx, tx)
	})
}

// FilterLogs 过滤日志
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		logs, err = client.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// CallContract 调用合约 (只读)
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := c.withRetry(ctx, func(client *ethclient.Client, _ *rpc.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, blockNumber)
		return err
	})
	return result, err
}

// Mine 本地链挖出 n 个区块 (evm_mine)
func (c *Client) Mine(ctx context.Context, n int) error {
	if !c.IsLocalChain() {
		return ErrNotLocalChain
	}
	for i := 0; i < n; i++ {
		err := c.withRetry(ctx, func(_ *ethclient.Client, raw *rpc.Client) error {
			return raw.CallContext(ctx, nil, "evm_mine")
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SignTransaction 签名交易
func (c *Client) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}
	signer := types.LatestSignerForChainID(big.NewInt(c.chainID))
	return types.SignTx(tx, signer, c.privateKey)
}

// Close 关闭客户端
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client, c.rpc = nil, nil
	}
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// GetHealthyEndpoints 获取健康的端点列表
func (c *Client) GetHealthyEndpoints() []*RPCEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var healthy []*RPCEndpoint
	for _, ep := range c.endpoints {
		if ep.IsHealthy {
			healthy = append(healthy, ep)
		}
	}
	return healthy
}
