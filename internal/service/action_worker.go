package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/model"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/repository"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

var (
	ErrWorkerAlreadyRunning = errors.New("action worker already running")
	ErrWorkerNotRunning     = errors.New("action worker not running")
)

// 队列统计刷新间隔
const queueStatsInterval = 15 * time.Second

// ResultPublisher 动作进入终态后发布结果
type ResultPublisher interface {
	PublishActionResult(ctx context.Context, result *model.ActionResult) error
}

// ActionWorkerConfig 动作 worker 配置
type ActionWorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	RetryMax     int
	RetryBackoff time.Duration
}

// workOutcome 单次处理的结果
type workOutcome struct {
	claimed bool
	retry   bool
	attempt int
}

// ActionWorker 固定数量的消费者并发领取动作并交给引擎执行.
// 同一 actionId 不会被两个消费者同时执行: 领取由数据库原子完成.
type ActionWorker struct {
	repo      repository.ActionRepository
	executor  ActionExecutor
	publisher ResultPublisher
	cfg       ActionWorkerConfig

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// NewActionWorker 创建 worker, publisher 可为 nil
func NewActionWorker(repo repository.ActionRepository, executor ActionExecutor, publisher ResultPublisher, cfg ActionWorkerConfig) *ActionWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	return &ActionWorker{
		repo:      repo,
		executor:  executor,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start 启动消费者
func (w *ActionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrWorkerAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		consumer := i
		g.Go(func() error {
			w.consume(gctx, consumer)
			return nil
		})
	}
	g.Go(func() error {
		w.reportQueue(gctx)
		return nil
	})

	go func() {
		_ = g.Wait()
		close(w.done)
	}()

	logger.Info("action worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("retry_max", w.cfg.RetryMax))
	return nil
}

// Stop 停止所有消费者并等待退出
func (w *ActionWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return ErrWorkerNotRunning
	}
	w.cancel()
	done := w.done
	w.running = false
	w.mu.Unlock()

	<-done
	logger.Info("action worker stopped")
	return nil
}

// IsRunning 是否运行中
func (w *ActionWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *ActionWorker) consume(ctx context.Context, consumer int) {
	for ctx.Err() == nil {
		out, err := w.processNext(ctx)
		switch {
		case err != nil:
			logger.Error("action worker claim failed", zap.Int("consumer", consumer), zap.Error(err))
			sleepContext(ctx, w.cfg.PollInterval)
		case !out.claimed:
			sleepContext(ctx, w.cfg.PollInterval)
		case out.retry:
			sleepContext(ctx, w.cfg.RetryBackoff*time.Duration(out.attempt))
		}
	}
}

// ProcessNext 领取并执行一条动作, 没有可领取的动作时返回 false
func (w *ActionWorker) ProcessNext(ctx context.Context) (bool, error) {
	out, err := w.processNext(ctx)
	return out.claimed, err
}

func (w *ActionWorker) processNext(ctx context.Context) (workOutcome, error) {
	sub, err := w.repo.ClaimNext(ctx)
	if err != nil {
		return workOutcome{}, err
	}
	if sub == nil {
		return workOutcome{}, nil
	}
	retry := w.handle(ctx, sub)
	return workOutcome{claimed: true, retry: retry, attempt: sub.Attempts}, nil
}

// handle 执行并记录结果, 返回是否进入 retry
func (w *ActionWorker) handle(ctx context.Context, sub *model.ActionSubmission) bool {
	// 关闭过程中也要把状态写回
	storeCtx := context.WithoutCancel(ctx)
	start := w.now()

	fields := []zap.Field{
		zap.String("action_id", sub.ActionID),
		zap.String("action_type", sub.ActionType),
		zap.Int("attempts", sub.Attempts),
	}

	action, err := ParseActionOfType(ActionType(sub.ActionType), []byte(sub.RequestJSON))
	if err != nil {
		w.fail(storeCtx, sub, ClassifyError(err), start, fields)
		return false
	}

	result, err := w.executor.Execute(ctx, action)
	if err == nil {
		w.succeed(storeCtx, sub, result, start, fields)
		return false
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		c := ClassifiedError{Code: CodeTransient, Message: "worker shutting down: " + err.Error(), Retryable: true}
		w.retry(storeCtx, sub, c, start, fields)
		return true
	}

	c := ClassifyError(err)
	if c.Retryable && sub.Attempts < w.cfg.RetryMax {
		w.retry(storeCtx, sub, c, start, fields)
		return true
	}
	w.fail(storeCtx, sub, c, start, fields)
	return false
}

func (w *ActionWorker) succeed(ctx context.Context, sub *model.ActionSubmission, result *EngineResult, start time.Time, fields []zap.Field) {
	payload, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, sub, ClassifiedError{Code: CodeInternal, Message: err.Error()}, start, fields)
		return
	}
	if err := w.repo.MarkSucceeded(ctx, sub.ActionID, string(payload), result.TxHashes); err != nil {
		logger.Error("mark action succeeded failed", append(fields, zap.Error(err))...)
		return
	}

	metrics.RecordActionOutcome(sub.ActionType, string(model.ActionStatusSucceeded), result.Code, w.now().Sub(start))
	logger.Info("action succeeded", append(fields, zap.String("code", result.Code), zap.Strings("tx_hashes", result.TxHashes))...)

	sub.Status = model.ActionStatusSucceeded
	sub.ResultJSON = string(payload)
	sub.ErrorCode, sub.ErrorMessage = "", ""
	_ = sub.SetTxHashList(result.TxHashes)
	sub.UpdatedAt = w.now().UnixMilli()
	w.publish(ctx, sub)
}

func (w *ActionWorker) retry(ctx context.Context, sub *model.ActionSubmission, c ClassifiedError, start time.Time, fields []zap.Field) {
	notBefore := w.now().Add(w.cfg.RetryBackoff * time.Duration(sub.Attempts)).UnixMilli()
	if err := w.repo.MarkRetry(ctx, sub.ActionID, c.Code, c.Message, notBefore); err != nil {
		logger.Error("mark action retry failed", append(fields, zap.Error(err))...)
		return
	}
	metrics.RecordActionOutcome(sub.ActionType, string(model.ActionStatusRetry), c.Code, w.now().Sub(start))
	logger.Warn("action scheduled for retry", append(fields, zap.String("code", c.Code), zap.String("error", c.Message))...)
}

func (w *ActionWorker) fail(ctx context.Context, sub *model.ActionSubmission, c ClassifiedError, start time.Time, fields []zap.Field) {
	if err := w.repo.MarkFailed(ctx, sub.ActionID, c.Code, c.Message); err != nil {
		logger.Error("mark action failed failed", append(fields, zap.Error(err))...)
		return
	}
	metrics.RecordActionOutcome(sub.ActionType, string(model.ActionStatusFailed), c.Code, w.now().Sub(start))
	logger.Error("action failed", append(fields, zap.String("code", c.Code), zap.String("error", c.Message))...)

	sub.Status = model.ActionStatusFailed
	sub.ErrorCode, sub.ErrorMessage = c.Code, c.Message
	sub.UpdatedAt = w.now().UnixMilli()
	w.publish(ctx, sub)
}

func (w *ActionWorker) publish(ctx context.Context, sub *model.ActionSubmission) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishActionResult(ctx, sub.ToResult()); err != nil {
		logger.Warn("publish action result failed", zap.String("action_id", sub.ActionID), zap.Error(err))
	}
}

func (w *ActionWorker) reportQueue(ctx context.Context) {
	ticker := time.NewTicker(queueStatsInterval)
	defer ticker.Stop()
	for {
		counts, err := w.repo.CountByStatus(ctx)
		if err == nil {
			byStatus := make(map[string]int64, len(counts))
			for status, n := range counts {
				byStatus[string(status)] = n
			}
			metrics.UpdateActionQueue(byStatus)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sleepContext 可被取消的等待
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
