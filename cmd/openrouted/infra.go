package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"OpenRoute-Chain/internal/config"
	"OpenRoute-Chain/internal/ledger"
	"OpenRoute-Chain/internal/observability/alerting"
	"OpenRoute-Chain/internal/observability/events"
	"OpenRoute-Chain/internal/runner"
	"OpenRoute-Chain/pkg/logger"
)

// infrastructure 汇总存储、执行槽、队列与事件发布等外部依赖。
type infrastructure struct {
	redis  *redis.Client
	store  ledger.Store
	locker ledger.Locker
	queue  runner.Queue
	events *events.Broadcaster
}

func openInfrastructure(ctx context.Context, cfg *config.Config) (_ *infrastructure, err error) {
	infra := &infrastructure{}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	// 各组件共享同一个 Redis 客户端，包装后组件无法自行关闭它
	var shared redis.Cmdable
	if cfg.UsesRedis() {
		client, err := ledger.DialRedis(ctx, ledger.RedisConfig{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		infra.redis = client
		shared = struct{ redis.Cmdable }{client}
	}

	switch cfg.Storage.Driver {
	case "memory":
		infra.store = ledger.NewMemoryStore()
		infra.locker = ledger.NewMemoryLocker()
	case "mysql":
		store, err := ledger.OpenMySQLStore(ctx, ledger.MySQLConfig{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		infra.store = store
	case "redis":
		infra.store = ledger.NewRedisStore(shared, cfg.Storage.Redis.Prefix)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	if infra.locker == nil {
		if shared != nil {
			infra.locker = ledger.NewRedisLocker(shared, cfg.Storage.Redis.Prefix)
		} else {
			// 未配置 Redis 时执行槽仅在本进程内有效
			infra.locker = ledger.NewMemoryLocker()
		}
	}

	switch cfg.Queue.Driver {
	case "memory":
		infra.queue = runner.NewMemoryQueue(cfg.Queue.Size)
	case "redis":
		infra.queue = runner.NewRedisQueue(shared, runner.RedisQueueConfig{
			Queue: cfg.Storage.Redis.Prefix + "queue",
		})
	case "rabbitmq":
		queue, err := runner.NewRabbitMQQueue(runner.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.Name,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return nil, err
		}
		infra.queue = queue
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}

	var sinks []events.Sink
	if cfg.Events.Redis.Enabled {
		sinks = append(sinks, events.NewRedisSink(shared, cfg.Events.Redis.Channel))
	}
	if cfg.Events.NATS.Enabled {
		sink, err := events.DialNATS(events.NATSConfig{
			URL:           cfg.Events.NATS.URL,
			SubjectPrefix: cfg.Events.NATS.SubjectPrefix,
			Timeout:       cfg.Events.PublishTimeout,
		})
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.Events.RabbitMQ.Enabled {
		sink, err := events.DialRabbitMQ(events.RabbitMQConfig{
			URL:      cfg.Events.RabbitMQ.URL,
			Exchange: cfg.Events.RabbitMQ.Exchange,
		})
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	infra.events = events.NewBroadcaster(cfg.Events.PublishTimeout, sinks...)
	return infra, nil
}

func closeSinks(sinks []events.Sink) {
	for _, sink := range sinks {
		_ = sink.Close()
	}
}

// Close 按依赖的逆序释放资源。
func (i *infrastructure) Close() {
	if i.events != nil {
		logClose("事件发布器", i.events.Close())
	}
	if i.queue != nil {
		logClose("路由队列", i.queue.Close())
	}
	if i.store != nil {
		logClose("路由存储", i.store.Close())
	}
	if i.redis != nil {
		logClose("Redis 客户端", i.redis.Close())
	}
}

func logClose(name string, err error) {
	if err != nil {
		logger.L().Warn("关闭资源失败", slog.String("resource", name), slog.Any("error", err))
	}
}

func buildAlerting(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	for _, hook := range cfg.Webhooks {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     hook.URL,
			Kind:    alerting.Channel(strings.ToLower(strings.TrimSpace(hook.Kind))),
			Timeout: hook.Timeout,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
