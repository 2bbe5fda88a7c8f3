package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "OpenRoute-Chain/internal/errors"
)

// Lease 表示对一条路由执行槽的持有。
type Lease interface {
	// Refresh 延长持有时间，槽已被他人占用时返回 EXECUTION_SLOT_UNAVAILABLE。
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker 保证同一路由同一时刻只有一个执行者。
type Locker interface {
	Acquire(ctx context.Context, routeID string, ttl time.Duration) (Lease, error)
}

func slotUnavailable(routeID string) error {
	return xerrors.New(xerrors.CodeExecutionSlotUnavailable, "route is already being executed",
		xerrors.WithMetadata("route_id", routeID))
}

// MemoryLocker 是进程内的执行槽实现，忽略 ttl。
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]string
}

// NewMemoryLocker 创建进程内执行槽。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]string)}
}

// Acquire 占用执行槽。
func (l *MemoryLocker) Acquire(_ context.Context, routeID string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.slots[routeID]; held {
		return nil, slotUnavailable(routeID)
	}
	token := uuid.NewString()
	l.slots[routeID] = token
	return &memoryLease{locker: l, routeID: routeID, token: token}, nil
}

type memoryLease struct {
	locker  *MemoryLocker
	routeID string
	token   string
}

func (l *memoryLease) Refresh(context.Context, time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.slots[l.routeID] != l.token {
		return slotUnavailable(l.routeID)
	}
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.slots[l.routeID] == l.token {
		delete(l.locker.slots, l.routeID)
	}
	return nil
}

const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	refreshScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

// RedisLocker 通过 SET NX PX 在多个实例之间共享执行槽。
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker 创建基于 Redis 的执行槽。
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "openroute:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire 占用执行槽，ttl 到期后自动释放。
func (l *RedisLocker) Acquire(ctx context.Context, routeID string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	key := l.prefix + "lock:" + routeID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "占用执行槽失败")
	}
	if !ok {
		return nil, slotUnavailable(routeID)
	}
	return &redisLease{client: l.client, key: key, routeID: routeID, token: token}, nil
}

type redisLease struct {
	client  redis.Cmdable
	key     string
	routeID string
	token   string
}

func (l *redisLease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "续期执行槽失败")
	}
	if n == 0 {
		return slotUnavailable(l.routeID)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "释放执行槽失败")
	}
	return nil
}
