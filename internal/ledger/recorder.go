package ledger

import (
	"context"
	"log/slog"
	"time"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/pkg/logger"
)

// Recorder 将每次状态变更后的路由快照写回存储，实现 status.Observer。
type Recorder struct {
	store   Store
	timeout time.Duration
	log     *slog.Logger
}

// NewRecorder 创建快照记录器。timeout 为单次写入的超时时间。
func NewRecorder(store Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{store: store, timeout: timeout, log: logger.Named("ledger")}
}

// RouteUpdated 持久化快照，失败只记录日志，不影响执行。
func (r *Recorder) RouteUpdated(snapshot route.Route) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.SaveRoute(ctx, snapshot); err != nil {
		r.log.Error("persist route snapshot", "route_id", snapshot.ID, "status", snapshot.Status(), "error", err)
	}
}
