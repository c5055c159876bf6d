package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 结算和取消都会修改同一笔订单，二者必须互斥：
//
//	结算：检查 PENDING -> 调用网关 -> 写流水 -> 订单 COMPLETED
//	取消：检查状态     -> 退积分   -> 订单 CANCELLED
//
// 没有锁时，取消可能在结算调用网关的过程中把订单改成 CANCELLED，
// 网关已经扣款但订单已取消。按订单维度加锁后，两个流程串行执行。
//
// 加锁：SET key value NX EX timeout
// 释放：Lua 脚本校验 value 后删除，防止误删别人的锁
//
// 这把锁只是订单级的互斥，不是数据库行锁；网关调用期间不会持有任何数据库锁。
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只有持有者才能删除
func (l *DistributedLock) Unlock(ctx context.Context) error {
	_, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 订单锁：结算与取消共用
// ============================================================================

// OrderLocker 按订单号加锁
type OrderLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewOrderLocker(client *redis.Client, ttl time.Duration) *OrderLocker {
	return &OrderLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 100 * time.Millisecond,
		maxRetries:    30,
	}
}

// WithRetry 调整重试策略
func (o *OrderLocker) WithRetry(interval time.Duration, maxRetries int) *OrderLocker {
	o.retryInterval = interval
	o.maxRetries = maxRetries
	return o
}

// OrderLockKey 订单锁的 key
func OrderLockKey(orderID string) string {
	return fmt.Sprintf("settle:lock:order:%s", orderID)
}

// Acquire 获取订单锁，返回的 release 函数可以安全地多次调用
func (o *OrderLocker) Acquire(ctx context.Context, orderID, owner string) (func(), error) {
	l := NewDistributedLock(o.client, OrderLockKey(orderID), owner, o.ttl)
	if err := l.Lock(ctx, o.retryInterval, o.maxRetries); err != nil {
		return nil, errors.Wrapf(err, "lock order %s", orderID)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// 请求 ctx 可能已经取消，释放锁用独立的 ctx
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx)
	}, nil
}
