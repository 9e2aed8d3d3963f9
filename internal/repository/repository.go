package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// retryablePgCodes 事务整体重试可以恢复的 PostgreSQL 错误码
// (https://www.postgresql.org/docs/current/errcodes-appendix.html).
// 磁盘满, 内存不足, 管理员关闭等需要人工处理, 不在此列
var retryablePgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"08000": true, // connection_exception
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08006": true, // connection_failure
	"53000": true, // insufficient_resources
	"53300": true, // too_many_connections
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
	"57P03": true, // cannot_connect_now
}

// 首次重试前的等待, 之后指数增长
var txRetryInterval = 50 * time.Millisecond

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// txKey 事务上下文键
type txKey struct{}

// DB 返回数据库连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// TransactionWithRetry 执行事务, 遇到可重试的数据库错误时回滚后整体重做, 最多 maxAttempts 次.
// fn 可能被执行多次, 不能在其中产生事务外的副作用
func (r *Repository) TransactionWithRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = txRetryInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := r.Transaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("transaction conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts-1)), ctx))
}

// nowMilli 当前毫秒时间戳
func nowMilli() int64 {
	return time.Now().UnixMilli()
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retryablePgCodes[pgErr.Code]
}

// Pagination 分页参数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Offset 计算偏移量
func (p *Pagination) Offset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return (p.Page - 1) * p.PageSize
}

// Limit 返回限制数量
func (p *Pagination) Limit() int {
	if p.PageSize <= 0 {
		p.PageSize = 100
	}
	if p.PageSize > 1000 {
		p.PageSize = 1000
	}
	return p.PageSize
}
