package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的参数。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现路由队列。
type RedisQueue struct {
	client redis.Cmdable
	queue  string
	wait   time.Duration
}

// NewRedisQueue 基于已有客户端创建 Redis 队列。
func NewRedisQueue(client redis.Cmdable, cfg RedisQueueConfig) *RedisQueue {
	queue := cfg.Queue
	if queue == "" {
		queue = "openroute:queue"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}
}

// Publish 将路由投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, routeID string) error {
	if err := q.client.LPush(ctx, q.queue, routeID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布路由失败")
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取路由，处理失败时重新投递。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取路由失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				routeID := values[1]
				if handlerErr := handler(ctx, routeID); handlerErr != nil {
					logger.L().Warn("路由处理失败，重新投递", slog.String("route_id", routeID), slog.Any("error", handlerErr))
					_ = q.client.RPush(ctx, q.queue, routeID).Err()
				}
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if closer, ok := q.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
