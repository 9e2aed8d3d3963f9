package blockchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/metrics"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/lock"
)

var (
	ErrNonceLockFailed = errors.New("failed to acquire nonce lock")
)

// NonceSource 链上 nonce 来源
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager Nonce 管理器
// 同一签名账户的 签名+发送 在 Redis 锁内串行执行, 多个 worker 或多个实例共享同一 nonce 序列.
type NonceManager struct {
	source      NonceSource
	redis       redis.UniversalClient
	locker      *lock.Locker
	wallet      common.Address
	chainID     int64
	lockTimeout time.Duration

	mu           sync.RWMutex
	lastSyncTime time.Time
	syncInterval time.Duration
}

// NonceManagerConfig 配置
type NonceManagerConfig struct {
	Wallet       common.Address
	ChainID      int64
	LockTimeout  time.Duration
	LockRetry    time.Duration
	SyncInterval time.Duration
}

// NewNonceManager 创建 Nonce 管理器
func NewNonceManager(source NonceSource, rdb redis.UniversalClient, cfg *NonceManagerConfig) *NonceManager {
	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 30 * time.Second
	}
	lockRetry := cfg.LockRetry
	if lockRetry == 0 {
		lockRetry = 25 * time.Millisecond
	}
	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 5 * time.Minute
	}

	return &NonceManager{
		source:       source,
		redis:        rdb,
		locker:       lock.NewLocker(rdb, "chainmmo:lock:", lockTimeout, lockRetry),
		wallet:       cfg.Wallet,
		chainID:      cfg.ChainID,
		lockTimeout:  lockTimeout,
		syncInterval: syncInterval,
	}
}

// nonceKey 生成 Redis key
func (m *NonceManager) nonceKey() string {
	return fmt.Sprintf("chainmmo:nonce:%s:%d", strings.ToLower(m.wallet.Hex()), m.chainID)
}

// lockName 生成锁名
func (m *NonceManager) lockName() string {
	return fmt.Sprintf("nonce:%s:%d", strings.ToLower(m.wallet.Hex()), m.chainID)
}

// pendingKey 已发送未确认交易 (score 为发送时间)
func (m *NonceManager) pendingKey() string {
	return fmt.Sprintf("chainmmo:nonce:pending:%s:%d", strings.ToLower(m.wallet.Hex()), m.chainID)
}

// WithNonce 在签名账户锁内分配 nonce 并执行 send.
// send 成功后 nonce 前移并记录待确认交易; 节点返回 nonce 相关错误时从链上重新同步, 错误原样返回由调用方分类重试.
func (m *NonceManager) WithNonce(ctx context.Context, send func(nonce uint64) (common.Hash, error)) (common.Hash, error) {
	var txHash common.Hash
	err := m.withLock(ctx, func() error {
		if m.needsSync() {
			if err := m.syncFromChain(ctx); err != nil {
				return err
			}
		}

		nonce, err := m.getCurrentNonce(ctx)
		if err != nil {
			return err
		}

		hash, err := send(nonce)
		if err != nil {
			if IsNonceError(err) {
				if syncErr := m.syncFromChain(ctx); syncErr != nil {
					return errors.Join(err, syncErr)
				}
			}
			return err
		}
		txHash = hash

		if err := m.setCurrentNonce(ctx, nonce+1); err != nil {
			return err
		}
		return m.redis.ZAdd(ctx, m.pendingKey(), redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: hash.Hex(),
		}).Err()
	})
	return txHash, err
}

// withLock 持有签名账户锁执行 fn, 等锁最长 lockTimeout
func (m *NonceManager) withLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	err := m.locker.WithLock(lockCtx, m.lockName(), fn)
	if errors.Is(err, lock.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrNonceLockFailed, err)
	}
	return err
}

// OnTxMined 交易上链 (成功或 revert 都消耗 nonce)
func (m *NonceManager) OnTxMined(ctx context.Context, txHash common.Hash) error {
	return m.redis.ZRem(ctx, m.pendingKey(), txHash.Hex()).Err()
}

// IsNonceError 节点拒绝 nonce 的错误
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

// SyncFromChain 从链上同步 Nonce
func (m *NonceManager) SyncFromChain(ctx context.Context) error {
	return m.withLock(ctx, func() error { return m.syncFromChain(ctx) })
}

// syncFromChain 内部同步方法 (需要已持有锁)
func (m *NonceManager) syncFromChain(ctx context.Context) error {
	chainNonce, err := m.source.PendingNonceAt(ctx, m.wallet)
	if err != nil {
		return err
	}
	if err := m.setCurrentNonce(ctx, chainNonce); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSyncTime = time.Now()
	m.mu.Unlock()
	return nil
}

// getCurrentNonce 获取当前 nonce
func (m *NonceManager) getCurrentNonce(ctx context.Context) (uint64, error) {
	val, err := m.redis.Get(ctx, m.nonceKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		// 首次使用，从链上获取
		return m.source.PendingNonceAt(ctx, m.wallet)
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// setCurrentNonce 设置当前 nonce
func (m *NonceManager) setCurrentNonce(ctx context.Context, nonce uint64) error {
	if err := m.redis.Set(ctx, m.nonceKey(), nonce, 0).Err(); err != nil {
		return err
	}
	metrics.UpdateNonce(nonce)
	return nil
}

// needsSync 检查是否需要同步
func (m *NonceManager) needsSync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.lastSyncTime) > m.syncInterval
}
