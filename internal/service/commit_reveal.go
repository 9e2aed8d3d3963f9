package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/blockchain"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// commit-reveal 阶段名, 同时作为指标标签
const (
	stageCommitSubmit = "commit_submit"
	stageMineWait     = "mine_wait"
	stageRevealSubmit = "reveal_submit"
)

var errRevealExpired = NewClassifiedError("CHAIN_REVEAL_EXPIRED", "RevealExpired", false)

type commitRevealParams struct {
	characterID  *big.Int
	varianceMode uint8
	actionType   uint8
	// hash 调用合约的 pure 哈希函数计算 commitHash
	hash func(ctx context.Context, secret [32]byte, nonce uint64) ([32]byte, error)
	// reveal 提交 reveal 交易
	reveal func(ctx context.Context, commitID *big.Int, secret [32]byte) (common.Hash, error)
}

type stageLatency struct {
	commitSubmit time.Duration
	mineWait     time.Duration
	revealSubmit time.Duration
}

func (l stageLatency) toMap() map[string]int64 {
	return map[string]int64{
		"commitSubmit": l.commitSubmit.Milliseconds(),
		"mineWait":     l.mineWait.Milliseconds(),
		"revealSubmit": l.revealSubmit.Milliseconds(),
	}
}

type commitRevealResult struct {
	commitTx common.Hash
	revealTx common.Hash
	commitID *big.Int
	receipts []*blockchain.Receipt
	latency  stageLatency
}

// commitReveal 两阶段执行:
// 1. 生成随机 nonce 与 secret, 提交 commitHash 并附带 commitFee
// 2. 等待 reveal 窗口 [commitBlock+2, commitBlock+256] 打开
// 3. 提交 reveal, RevealTooEarly 时推进一个区块重试, 最多 RevealAttempts 次;
//    RevealExpired 时尝试 cancelExpired 后返回错误
func (e *Engine) commitReveal(ctx context.Context, p commitRevealParams) (*commitRevealResult, error) {
	nonce, secret, err := e.randomCommitInputs()
	if err != nil {
		return nil, err
	}
	commitHash, err := p.hash(ctx, secret, nonce)
	if err != nil {
		return nil, err
	}
	commitFee, err := readBigInt(ctx, e.chain, contract.GameWorld, "commitFee")
	if err != nil {
		return nil, err
	}

	res := &commitRevealResult{}
	start := time.Now()
	res.commitTx, err = e.chain.WriteContract(ctx, contract.GameWorld, "commitActionWithVariance", commitFee,
		p.characterID, p.actionType, commitHash, nonce, p.varianceMode)
	if err != nil {
		return nil, err
	}
	res.latency.commitSubmit = time.Since(start)
	metrics.RecordActionStage(stageCommitSubmit, res.latency.commitSubmit)

	commitReceipt, err := e.chain.WaitForReceipt(ctx, res.commitTx)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", res.commitTx.Hex(), err)
	}
	commitBlock := commitReceipt.BlockNumber

	res.commitID, err = e.resolveCommitID(ctx, commitReceipt)
	if err != nil {
		return nil, err
	}

	latest, err := e.chain.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if latest > commitBlock+contract.RevealExpiryBlocks-1 {
		return nil, errRevealExpired
	}

	start = time.Now()
	if err := e.advanceBlocks(ctx, commitBlock+contract.RevealDelayBlocks, int(contract.RevealDelayBlocks)); err != nil {
		return nil, err
	}
	res.latency.mineWait = time.Since(start)
	metrics.RecordActionStage(stageMineWait, res.latency.mineWait)

	var revealReceipt *blockchain.Receipt
	var lastErr error
	for attempt := 0; attempt < e.cfg.RevealAttempts; attempt++ {
		if attempt > 0 {
			current, err := e.chain.BlockNumber(ctx)
			if err != nil {
				return nil, err
			}
			if current > commitBlock+contract.RevealExpiryBlocks-1 {
				e.cancelExpired(ctx, res.commitID)
				return nil, errRevealExpired
			}
		}

		start = time.Now()
		txHash, err := p.reveal(ctx, res.commitID, secret)
		if err == nil {
			res.latency.revealSubmit = time.Since(start)
			res.revealTx = txHash
			revealReceipt, err = e.chain.WaitForReceipt(ctx, txHash)
		}
		if err == nil {
			metrics.RecordActionStage(stageRevealSubmit, res.latency.revealSubmit)
			break
		}

		lastErr = err
		switch {
		case containsFold(err, "RevealTooEarly"):
			logger.Warn("reveal too early, advancing one block",
				zap.String("commit_id", res.commitID.String()),
				zap.Int("attempt", attempt+1))
			current, berr := e.chain.BlockNumber(ctx)
			if berr != nil {
				return nil, berr
			}
			if aerr := e.advanceBlocks(ctx, current+1, 1); aerr != nil {
				return nil, aerr
			}
			continue
		case containsFold(err, "RevealExpired"):
			e.cancelExpired(ctx, res.commitID)
		}
		return nil, err
	}

	if revealReceipt == nil {
		if lastErr == nil {
			lastErr = errors.New("reveal failed without error")
		}
		return nil, lastErr
	}

	res.receipts = []*blockchain.Receipt{commitReceipt, revealReceipt}
	logger.Info("commit-reveal completed",
		zap.String("commit_id", res.commitID.String()),
		zap.Uint64("commit_block", commitBlock),
		zap.Uint64("reveal_block", revealReceipt.BlockNumber),
		zap.Int64("commit_submit_ms", res.latency.commitSubmit.Milliseconds()),
		zap.Int64("mine_wait_ms", res.latency.mineWait.Milliseconds()),
		zap.Int64("reveal_submit_ms", res.latency.revealSubmit.Milliseconds()))
	return res, nil
}

// resolveCommitID 优先从 ActionCommitted 事件读取, 否则用 nextCommitId-1
func (e *Engine) resolveCommitID(ctx context.Context, receipt *blockchain.Receipt) (*big.Int, error) {
	if id, ok := findLogBigInt([]*blockchain.Receipt{receipt}, "ActionCommitted", "commitId"); ok {
		return id, nil
	}
	next, err := readBigInt(ctx, e.chain, contract.GameWorld, "nextCommitId")
	if err != nil {
		return nil, err
	}
	return next.Sub(next, big.NewInt(1)), nil
}

// advanceBlocks 本地链直接出块, 其他链轮询等待到 target
func (e *Engine) advanceBlocks(ctx context.Context, target uint64, mine int) error {
	if e.chain.IsLocalChain() {
		return e.chain.MineBlocks(ctx, mine)
	}
	return e.chain.WaitForBlock(ctx, target, e.cfg.BlockWaitTimeout)
}

// cancelExpired 尽力取消已过期的 commit, 失败只记录日志
func (e *Engine) cancelExpired(ctx context.Context, commitID *big.Int) {
	txHash, err := e.chain.WriteContract(ctx, contract.GameWorld, "cancelExpired", nil, commitID)
	if err != nil {
		logger.Warn("cancel expired commit failed",
			zap.String("commit_id", commitID.String()),
			zap.Error(err))
		return
	}
	logger.Info("cancel expired commit submitted",
		zap.String("commit_id", commitID.String()),
		zap.String("tx_hash", txHash.Hex()))
}

func (e *Engine) randomCommitInputs() (uint64, [32]byte, error) {
	var buf [8]byte
	var secret [32]byte
	if _, err := io.ReadFull(e.random, buf[:]); err != nil {
		return 0, secret, fmt.Errorf("generate nonce: %w", err)
	}
	if _, err := io.ReadFull(e.random, secret[:]); err != nil {
		return 0, secret, fmt.Errorf("generate secret: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), secret, nil
}
