package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

var (
	ErrTxReverted       = errors.New("transaction reverted")
	ErrReceiptTimeout   = errors.New("receipt_timeout")
	ErrWaitBlockTimeout = errors.New("wait_block_timeout")
	ErrWaitBlockTooFar  = errors.New("wait_block_target_too_far")
	ErrWriteUnavailable = errors.New("chain writes disabled: no signer configured")
)

// 本地链一次最多补挖的区块数
const maxLocalMineGap = 16

// Backend GameChain 依赖的节点能力, *Client 实现该接口
type Backend interface {
	ChainID() int64
	Address() common.Address
	IsLocalChain() bool
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	Mine(ctx context.Context, n int) error
}

// FeeSource 交易 gas/fee 估算
type FeeSource interface {
	Quote(ctx context.Context) (*contract.FeeQuote, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// NonceAllocator 签名账户 nonce 分配
type NonceAllocator interface {
	WithNonce(ctx context.Context, send func(nonce uint64) (common.Hash, error)) (common.Hash, error)
	OnTxMined(ctx context.Context, txHash common.Hash) error
}

// Receipt 交易回执 (日志已按合约 ABI 解码, 未知日志被忽略)
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
	Logs        []*contract.DecodedLog
}

// GameChainConfig 配置
type GameChainConfig struct {
	Confirmations  uint64
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	BlockPoll      time.Duration
}

// GameChain ChainMMO 合约读写适配层
type GameChain struct {
	backend  Backend
	registry *contract.Registry
	fees     FeeSource
	nonces   NonceAllocator

	confirmations  uint64
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	blockPoll      time.Duration

	// 已发送未确认的交易: txHash -> sentTx
	inflight sync.Map
}

type sentTx struct {
	method string
	msg    ethereum.CallMsg
	sentAt time.Time
}

// NewGameChain 创建链适配层. nonces 为 nil 时只读.
func NewGameChain(backend Backend, registry *contract.Registry, fees FeeSource, nonces NonceAllocator, cfg GameChainConfig) *GameChain {
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if cfg.ReceiptPoll == 0 {
		cfg.ReceiptPoll = 500 * time.Millisecond
	}
	if cfg.BlockPoll == 0 {
		cfg.BlockPoll = 350 * time.Millisecond
	}
	return &GameChain{
		backend:        backend,
		registry:       registry,
		fees:           fees,
		nonces:         nonces,
		confirmations:  cfg.Confirmations,
		receiptTimeout: cfg.ReceiptTimeout,
		receiptPoll:    cfg.ReceiptPoll,
		blockPoll:      cfg.BlockPoll,
	}
}

// Signer 签名账户
func (g *GameChain) Signer() common.Address {
	return g.backend.Address()
}

// ChainID 链 ID
func (g *GameChain) ChainID() int64 {
	return g.backend.ChainID()
}

// IsLocalChain 是否本地开发链
func (g *GameChain) IsLocalChain() bool {
	return g.backend.IsLocalChain()
}

// Registry 合约注册表
func (g *GameChain) Registry() *contract.Registry {
	return g.registry
}

// ContractAddress 合约地址
func (g *GameChain) ContractAddress(target contract.Name) (common.Address, error) {
	return g.registry.Address(target)
}

// ReadContract 只读调用, 返回 ABI 解码后的输出
func (g *GameChain) ReadContract(ctx context.Context, target contract.Name, method string, args ...interface{}) ([]interface{}, error) {
	to, err := g.registry.Address(target)
	if err != nil {
		return nil, err
	}
	data, err := g.registry.Pack(target, method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := g.backend.CallContract(ctx, ethereum.CallMsg{From: g.backend.Address(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, withRevertName(fmt.Errorf("%s.%s: %w", target, method, err))
	}
	return g.registry.Unpack(target, method, raw)
}

// WriteContract 估算 gas, 签名并发送交易, 返回交易哈希 (不等待回执)
func (g *GameChain) WriteContract(ctx context.Context, target contract.Name, method string, value *big.Int, args ...interface{}) (common.Hash, error) {
	if g.nonces == nil {
		return common.Hash{}, ErrWriteUnavailable
	}
	to, err := g.registry.Address(target)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := g.registry.Pack(target, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	if value == nil {
		value = new(big.Int)
	}

	gas, err := g.fees.EstimateGas(ctx, ethereum.CallMsg{From: g.backend.Address(), To: &to, Data: data, Value: value})
	if err != nil {
		return common.Hash{}, withRevertName(fmt.Errorf("%s.%s: %w", target, method, err))
	}
	quote, err := g.fees.Quote(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	chainID := big.NewInt(g.backend.ChainID())

	txHash, err := g.nonces.WithNonce(ctx, func(nonce uint64) (common.Hash, error) {
		var txData types.TxData
		if quote.IsEIP1559() {
			txData = &types.DynamicFeeTx{
				ChainID:   chainID,
				Nonce:     nonce,
				GasTipCap: quote.GasTipCap,
				GasFeeCap: quote.GasFeeCap,
				Gas:       gas,
				To:        &to,
				Value:     value,
				Data:      data,
			}
		} else {
			txData = &types.LegacyTx{
				Nonce:    nonce,
				GasPrice: quote.GasPrice,
				Gas:      gas,
				To:       &to,
				Value:    value,
				Data:     data,
			}
		}
		signed, err := g.backend.SignTransaction(types.NewTx(txData))
		if err != nil {
			return common.Hash{}, err
		}
		if err := g.backend.SendTransaction(ctx, signed); err != nil {
			return common.Hash{}, withRevertName(fmt.Errorf("send %s.%s: %w", target, method, err))
		}
		logger.Debug("transaction sent",
			zap.String("contract", string(target)),
			zap.String("method", method),
			zap.Uint64("nonce", nonce),
			zap.String("tx_hash", signed.Hash().Hex()))
		return signed.Hash(), nil
	})
	if err != nil {
		metrics.RecordBlockchainTx(method, "failed", 0, 0)
		return txHash, err
	}
	g.inflight.Store(txHash, sentTx{
		method: method,
		msg:    ethereum.CallMsg{From: g.backend.Address(), To: &to, Gas: gas, Value: value, Data: data},
		sentAt: time.Now(),
	})
	return txHash, nil
}

// recordMined 记录交易确认耗时与 gas, 只统计本进程发送的交易
func (g *GameChain) recordMined(txHash common.Hash, status string, gasUsed uint64) {
	v, ok := g.inflight.LoadAndDelete(txHash)
	if !ok {
		return
	}
	sent := v.(sentTx)
	metrics.RecordBlockchainTx(sent.method, status, time.Since(sent.sentAt), gasUsed)
}

// WaitForReceipt 轮询回执直到上链或超时; status=0 返回 ErrTxReverted (附带回执).
// 本进程发送的交易 revert 时在父区块重放调用, 错误中带上合约自定义错误名.
func (g *GameChain) WaitForReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()

	for {
		raw, err := g.backend.TransactionReceipt(ctx, txHash)
		if err == nil && raw != nil {
			if g.nonces != nil {
				_ = g.nonces.OnTxMined(ctx, txHash)
			}
			receipt := g.decodeReceipt(raw)
			if raw.Status != types.ReceiptStatusSuccessful {
				revertErr := g.replayRevert(ctx, txHash, raw.BlockNumber)
				g.recordMined(txHash, "reverted", raw.GasUsed)
				if revertErr != nil {
					return receipt, withRevertName(fmt.Errorf("%w: %s: %w", ErrTxReverted, txHash.Hex(), revertErr))
				}
				return receipt, fmt.Errorf("%w: %s", ErrTxReverted, txHash.Hex())
			}
			g.recordMined(txHash, "success", raw.GasUsed)
			return receipt, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash.Hex())
		}
		if err != nil && !errors.Is(err, ErrTxNotFound) {
			return nil, err
		}
		if sleepErr := sleepCtx(ctx, g.receiptPoll); sleepErr != nil {
			if errors.Is(sleepErr, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash.Hex())
			}
			return nil, sleepErr
		}
	}
}

// replayRevert 以原交易参数在上链区块之前的状态重放 eth_call, 返回节点给出的 revert 错误.
// 交易不是本进程发送的, 或重放未 revert (状态已被同区块前序交易改变) 时返回 nil
func (g *GameChain) replayRevert(ctx context.Context, txHash common.Hash, block *big.Int) error {
	v, ok := g.inflight.Load(txHash)
	if !ok {
		return nil
	}
	var at *big.Int
	if block != nil && block.Sign() > 0 {
		at = new(big.Int).Sub(block, big.NewInt(1))
	}
	_, err := g.backend.CallContract(ctx, v.(sentTx).msg, at)
	return err
}

func (g *GameChain) decodeReceipt(raw *types.Receipt) *Receipt {
	receipt := &Receipt{
		TxHash:  raw.TxHash,
		Status:  raw.Status,
		GasUsed: raw.GasUsed,
	}
	if raw.BlockNumber != nil {
		receipt.BlockNumber = raw.BlockNumber.Uint64()
	}
	for _, l := range raw.Logs {
		if l == nil {
			continue
		}
		if decoded, ok := g.registry.Decode(*l); ok {
			receipt.Logs = append(receipt.Logs, decoded)
		}
	}
	return receipt
}

// GetLogs 拉取游戏合约在 [fromBlock, toBlock] 的日志
func (g *GameChain) GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	return g.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: g.registry.LogAddresses(),
	})
}

// DecodeLog 按合约 ABI 解码日志
func (g *GameChain) DecodeLog(l types.Log) (*contract.DecodedLog, bool) {
	return g.registry.Decode(l)
}

// BlockNumber 最新区块号
func (g *GameChain) BlockNumber(ctx context.Context) (uint64, error) {
	return g.backend.BlockNumber(ctx)
}

// SafeHead 扣除确认数后的安全高度
func (g *GameChain) SafeHead(ctx context.Context) (uint64, error) {
	head, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < g.confirmations {
		return 0, nil
	}
	return head - g.confirmations, nil
}

// MineBlocks 本地链挖块; 非本地链为空操作
func (g *GameChain) MineBlocks(ctx context.Context, n int) error {
	if !g.backend.IsLocalChain() || n <= 0 {
		return nil
	}
	return g.backend.Mine(ctx, n)
}

// WaitForBlock 等待链高度达到 target.
// 本地链直接补挖缺失区块 (差距超过 16 块视为错误); 其他链按 blockPoll 轮询直到超时.
func (g *GameChain) WaitForBlock(ctx context.Context, target uint64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		current, err := g.backend.BlockNumber(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: target=%d", ErrWaitBlockTimeout, target)
			}
			return err
		}
		if current >= target {
			return nil
		}
		if g.backend.IsLocalChain() {
			remaining := target - current
			if remaining > maxLocalMineGap {
				return fmt.Errorf("%w: current=%d target=%d", ErrWaitBlockTooFar, current, target)
			}
			if err := g.backend.Mine(ctx, int(remaining)); err != nil {
				return err
			}
			continue
		}
		if err := sleepCtx(ctx, g.blockPoll); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: current=%d target=%d", ErrWaitBlockTimeout, current, target)
			}
			return err
		}
	}
}

// withRevertName 在错误前附加合约自定义错误名, 便于按名称分类
func withRevertName(err error) error {
	if name := contract.RevertName(err); name != "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return err
}
