// Package lock Redis 互斥锁, 用于跨进程串行化同一签名账户的 nonce 分配
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotHeld 释放时锁已过期或已被他人持有
	ErrNotHeld = errors.New("lock not held")
	// ErrTimeout 等待锁超时
	ErrTimeout = errors.New("lock wait timeout")
)

// 仅当值仍为本次 token 时删除
var unlockScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`)

// Locker 按名字加锁, 键为 prefix+name
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewLocker ttl 为锁自动过期时间, retry 为等待锁时的轮询间隔
func NewLocker(client redis.UniversalClient, prefix string, ttl, retry time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, retry: retry}
}

// TryLock 非阻塞加锁. ok 为 false 表示锁被占用, 此时 unlock 为 nil
func (l *Locker) TryLock(ctx context.Context, name string) (unlock func(context.Context) error, ok bool, err error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int64()
		if err != nil {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}

// WithLock 等待加锁后执行 fn, ctx 结束仍未拿到锁返回 ErrTimeout.
// fn 返回后释放锁, 释放使用脱离取消的 ctx.
func (l *Locker) WithLock(ctx context.Context, name string, fn func() error) error {
	var unlock func(context.Context) error
	acquire := func() error {
		u, ok, err := l.TryLock(ctx, name)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errBusy
		}
		unlock = u
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(backoff.NewConstantBackOff(l.retry), ctx)); err != nil {
		if errors.Is(err, errBusy) || ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrTimeout, name)
		}
		return err
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx)) }()
	return fn()
}

var errBusy = errors.New("lock busy")
