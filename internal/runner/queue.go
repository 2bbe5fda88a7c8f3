// Package runner 负责路由的提交、排队与后台执行。
package runner

import (
	"context"
)

// Handler 处理来自消息队列的路由 ID。
type Handler func(ctx context.Context, routeID string) error

// Producer 负责向队列投递路由。
type Producer interface {
	Publish(ctx context.Context, routeID string) error
	Close() error
}

// Consumer 负责从队列中消费路由。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
