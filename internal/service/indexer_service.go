// ========================================
// IndexerService 链上索引服务
// ========================================
//
// ## 功能概述
// 按固定间隔轮询 ChainMMO 合约日志, 维护物化表与事件增量账本.
// 所有物化表都可以从链上重建, 通过 `indexer reset` 整体清空后重新索引.
//
// ## 单次 tick
// 1. 读取游标 (首次运行为 start_block-1)
// 2. effectiveHead = min(safeHead, cursor + maxBlocksPerTick), 不超过游标则跳过
// 3. 按 chunk 拉取日志:
//    - 区间过大: chunk 减半后重试同一区间
//    - 限流: 线性退避重试, 超过次数后中止本次 tick
//    - 其他错误: 中止, 下次 tick 从未推进的游标继续
// 4. 日志按 (blockNumber, logIndex) 排序后逐条处理:
//    去重标记 -> 读取链上补充状态 -> 事务内 upsert + 写增量
//    (死锁/序列化冲突时事务整体重试), 处理失败时撤销标记并中止 tick
// 5. 每个 chunk 处理完后推进游标到 chunk 末尾
//
// ## 消息输出 (Kafka Producer)
// - Topic: chainmmo-event-deltas
// - 每条新写入的增量记录发布一次, 发布失败不影响索引
//
// ## 安全高度落后于游标
// 节点短暂落后 (切换到较慢的 RPC 端点) 或本地开发链重新部署都会出现 safeHead < cursor.
// tick 不做任何写入, 只记录日志等待节点追上; 链确实重启时由运维执行
// `indexer reset` 清空派生表并把游标回退到 safeHead.
//
// ========================================
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/contract"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// 单条日志写入事务遇到死锁或序列化冲突的最多尝试次数
const applyTxAttempts = 3

var (
	ErrIndexerAlreadyRunning = errors.New("indexer already running")
	ErrIndexerNotRunning     = errors.New("indexer not running")
)

// IndexerChain 索引器依赖的链访问能力, *blockchain.GameChain 实现该接口
type IndexerChain interface {
	ChainID() int64
	BlockNumber(ctx context.Context) (uint64, error)
	SafeHead(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	DecodeLog(l types.Log) (*contract.DecodedLog, bool)
	ReadContract(ctx context.Context, target contract.Name, method string, args ...interface{}) ([]interface{}, error)
}

// DeltaPublisher 发布事件增量
type DeltaPublisher interface {
	PublishEventDelta(ctx context.Context, delta *model.CompactEventDelta) error
}

// IndexerServiceConfig 配置
type IndexerServiceConfig struct {
	CursorName        string
	StartBlock        uint64
	PollInterval      time.Duration
	BlockChunk        uint64
	MaxBlocksPerTick  uint64
	RateLimitRetryMax int
	RateLimitBackoff  time.Duration
}

// IndexerService 链上索引服务
type IndexerService struct {
	chain     IndexerChain
	repo      repository.IndexerRepository
	publisher DeltaPublisher
	cfg       IndexerServiceConfig

	// 运行状态
	mu            sync.RWMutex
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	chunk         uint64
	lastTickAt    time.Time
	lastTickError string

	// 同一时刻只允许一个 tick
	tickMu sync.Mutex
}

// NewIndexerService 创建索引服务, publisher 可为 nil
func NewIndexerService(chain IndexerChain, repo repository.IndexerRepository, publisher DeltaPublisher, cfg *IndexerServiceConfig) *IndexerService {
	c := *cfg
	if c.CursorName == "" {
		c.CursorName = "chainmmo_main"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 1500 * time.Millisecond
	}
	if c.BlockChunk == 0 {
		c.BlockChunk = 200
	}
	if c.MaxBlocksPerTick == 0 {
		c.MaxBlocksPerTick = 2000
	}
	if c.RateLimitRetryMax == 0 {
		c.RateLimitRetryMax = 4
	}
	if c.RateLimitBackoff == 0 {
		c.RateLimitBackoff = 500 * time.Millisecond
	}
	return &IndexerService{
		chain:     chain,
		repo:      repo,
		publisher: publisher,
		cfg:       c,
		chunk:     c.BlockChunk,
	}
}

// Start 启动索引服务
func (s *IndexerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrIndexerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	logger.Info("indexer starting",
		zap.Int64("chain_id", s.chain.ChainID()),
		zap.String("cursor", s.cfg.CursorName),
		zap.Uint64("start_block", s.cfg.StartBlock))

	go s.runLoop(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop 停止索引服务, 等待当前 tick 结束
func (s *IndexerService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrIndexerNotRunning
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	<-done
	logger.Info("indexer stopped", zap.Int64("chain_id", s.chain.ChainID()))
	return nil
}

// IsRunning 检查是否运行中
func (s *IndexerService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// runLoop 主循环, tick 失败只记录日志, 下一轮从游标继续
func (s *IndexerService) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("indexer tick failed", zap.Error(err))
		}
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

// defaultCursorBlock 首次运行的游标位置
func (s *IndexerService) defaultCursorBlock() int64 {
	if s.cfg.StartBlock == 0 {
		return 0
	}
	return int64(s.cfg.StartBlock) - 1
}

// Tick 执行一次索引
func (s *IndexerService) Tick(ctx context.Context) (err error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.RecordIndexerTick(time.Since(start))
		s.mu.Lock()
		s.lastTickAt = time.Now()
		s.lastTickError = ""
		if err != nil {
			s.lastTickError = err.Error()
		}
		s.mu.Unlock()
	}()

	cursor, err := s.repo.GetCursor(ctx, s.cfg.CursorName, s.defaultCursorBlock())
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}
	safeHead, err := s.chain.SafeHead(ctx)
	if err != nil {
		metrics.RecordIndexerError("fetch")
		return fmt.Errorf("get safe head: %w", err)
	}

	last := uint64(max(cursor.LastProcessedBlock, 0))
	if safeHead < last {
		logger.Warn("safe head behind cursor, waiting for node to catch up",
			zap.Uint64("cursor", last),
			zap.Uint64("safe_head", safeHead))
	}

	effectiveHead := min(safeHead, last+s.cfg.MaxBlocksPerTick)
	if effectiveHead <= last {
		metrics.RecordBlocksIndexed(0, last, safeHead)
		return nil
	}

	from := last + 1
	for from <= effectiveHead {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := s.currentChunk()
		to := min(from+chunk-1, effectiveHead)

		logs, err := s.fetchLogs(ctx, from, to)
		if err != nil {
			if chunk > 1 && IsRangeLimitError(err) {
				s.shrinkChunk(chunk)
				metrics.RecordIndexerError("range_too_large")
				logger.Warn("log range too large, shrinking chunk",
					zap.Uint64("from", from),
					zap.Uint64("to", to),
					zap.Uint64("chunk", s.currentChunk()))
				continue
			}
			metrics.RecordIndexerError("fetch")
			return fmt.Errorf("get logs [%d,%d]: %w", from, to, err)
		}

		sortLogs(logs)
		for _, l := range logs {
			if err := s.processLog(ctx, l); err != nil {
				return err
			}
		}

		if err := s.repo.SetCursor(ctx, s.cfg.CursorName, int64(to), -1); err != nil {
			return fmt.Errorf("set cursor %d: %w", to, err)
		}
		metrics.RecordBlocksIndexed(to-from+1, to, safeHead)
		from = to + 1
	}

	logger.Debug("indexer tick completed",
		zap.Uint64("from", last+1),
		zap.Uint64("to", effectiveHead),
		zap.Uint64("safe_head", safeHead))
	return nil
}

// linearBackOff 第 n 次重试等待 n*step
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// fetchLogs 拉取日志, 只对限流错误做线性退避重试
func (s *IndexerService) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: s.cfg.RateLimitBackoff}, uint64(s.cfg.RateLimitRetryMax)),
		ctx,
	)
	return backoff.RetryWithData(func() ([]types.Log, error) {
		logs, err := s.chain.GetLogs(ctx, from, to)
		if err == nil {
			return logs, nil
		}
		if IsRateLimitError(err) {
			metrics.RecordIndexerError("rate_limited")
			logger.Warn("log fetch rate limited", zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, policy)
}

func sortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

// processLog 去重后处理单条日志, 失败时撤销去重标记
func (s *IndexerService) processLog(ctx context.Context, l types.Log) error {
	decoded, ok := s.chain.DecodeLog(l)
	if !ok {
		return nil
	}

	marker := &model.ProcessedLog{
		ChainID:     s.chain.ChainID(),
		TxHash:      decoded.TxHash.Hex(),
		LogIndex:    int(decoded.LogIndex),
		BlockNumber: int64(decoded.BlockNumber),
		BlockHash:   decoded.BlockHash.Hex(),
		Address:     decoded.Address.Hex(),
	}
	if len(l.Topics) > 0 {
		marker.Topic0 = l.Topics[0].Hex()
	}

	fresh, err := s.repo.MarkProcessed(ctx, marker)
	if err != nil {
		return fmt.Errorf("mark processed %s:%d: %w", marker.TxHash, marker.LogIndex, err)
	}
	if !fresh {
		return nil
	}

	delta, err := s.applyLog(ctx, decoded)
	if err != nil {
		metrics.RecordIndexerError("handler")
		if uerr := s.repo.UnmarkProcessed(context.WithoutCancel(ctx), marker.ChainID, marker.TxHash, marker.LogIndex); uerr != nil {
			logger.Error("unmark processed log failed",
				zap.String("tx_hash", marker.TxHash),
				zap.Int("log_index", marker.LogIndex),
				zap.Error(uerr))
		}
		return fmt.Errorf("handle %s at %s:%d: %w", decoded.EventName, marker.TxHash, marker.LogIndex, err)
	}

	metrics.RecordEvent(decoded.EventName)
	s.publish(ctx, delta)
	return nil
}

// applyLog 先读取链上补充状态, 再在同一事务中写物化表与增量
func (s *IndexerService) applyLog(ctx context.Context, decoded *contract.DecodedLog) (*model.CompactEventDelta, error) {
	update, err := s.prepareUpdate(ctx, decoded)
	if err != nil {
		return nil, err
	}
	delta, err := s.buildDelta(decoded, update.characterID)
	if err != nil {
		return nil, err
	}

	err = s.repo.TransactionWithRetry(ctx, applyTxAttempts, func(txCtx context.Context) error {
		if update.apply != nil {
			if err := update.apply(txCtx, s.repo); err != nil {
				return err
			}
		}
		return s.repo.InsertDelta(txCtx, delta)
	})
	if err != nil {
		return nil, err
	}
	return delta, nil
}

func (s *IndexerService) publish(ctx context.Context, delta *model.CompactEventDelta) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEventDelta(ctx, delta); err != nil {
		logger.Warn("publish event delta failed",
			zap.String("kind", delta.Kind),
			zap.String("tx_hash", delta.TxHash),
			zap.Error(err))
	}
}

func (s *IndexerService) currentChunk() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunk
}

func (s *IndexerService) shrinkChunk(from uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunk = max(from/2, 1)
}

// resetForRestart 清空派生表, 下次 tick 从 safeHead 之后重新索引
func (s *IndexerService) resetForRestart(ctx context.Context, cursor int64, safeHead uint64) error {
	logger.Warn("chain restart detected, resetting derived state",
		zap.Int64("cursor", cursor),
		zap.Uint64("safe_head", safeHead))
	if err := s.repo.ResetForChainRestart(ctx, s.cfg.CursorName, int64(safeHead)); err != nil {
		return fmt.Errorf("reset for chain restart: %w", err)
	}
	metrics.RecordIndexerReset()
	return nil
}

// Reset 手动重置 (运维命令), 游标回退到当前安全高度
func (s *IndexerService) Reset(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	safeHead, err := s.chain.SafeHead(ctx)
	if err != nil {
		return err
	}
	cursor, err := s.repo.GetCursor(ctx, s.cfg.CursorName, s.defaultCursorBlock())
	if err != nil {
		return err
	}
	return s.resetForRestart(ctx, cursor.LastProcessedBlock, safeHead)
}

// ListDeltas 按 (block, logIndex) 顺序分页读取 fromBlock 之后 (含) 的事件增量
func (s *IndexerService) ListDeltas(ctx context.Context, fromBlock int64, page *repository.Pagination) ([]*model.CompactEventDelta, error) {
	return s.repo.ListDeltasSince(ctx, fromBlock, page)
}

// Status 索引器状态
func (s *IndexerService) Status(ctx context.Context) (*model.IndexerStatus, error) {
	status := &model.IndexerStatus{
		ChainID:    s.chain.ChainID(),
		CursorName: s.cfg.CursorName,
	}

	cursor, err := s.repo.FindCursor(ctx, s.cfg.CursorName)
	switch {
	case err == nil:
		status.CursorBlock = cursor.LastProcessedBlock
		status.CursorUpdatedAt = cursor.UpdatedAt
	case errors.Is(err, repository.ErrCursorNotFound):
		status.CursorBlock = s.defaultCursorBlock()
	default:
		return nil, err
	}

	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	safeHead, err := s.chain.SafeHead(ctx)
	if err != nil {
		return nil, err
	}
	status.ChainHead = int64(head)
	status.SafeHead = int64(safeHead)
	status.LagBlocks = max(status.SafeHead-status.CursorBlock, 0)

	s.mu.RLock()
	status.Running = s.running
	status.CurrentChunkBlocks = s.chunk
	status.LastTickError = s.lastTickError
	if !s.lastTickAt.IsZero() {
		status.LastTickAt = s.lastTickAt.UnixMilli()
	}
	s.mu.RUnlock()

	return status, nil
}
