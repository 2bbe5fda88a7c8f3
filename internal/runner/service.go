package runner

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/ledger"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/pkg/logger"
)

// SubmitRequest 描述一次路由提交。
type SubmitRequest struct {
	Route   route.Route
	Account string
	// Interactive 为 false 时路由在需要用户操作处暂停，直到 SetInteraction 或 Resume。
	Interactive *bool
}

// Service 负责路由的创建、查询与恢复。
type Service struct {
	store    ledger.Store
	producer Producer
	sessions *Sessions
}

// NewService 构造路由服务。sessions 应与 Processor 共享。
func NewService(store ledger.Store, producer Producer, sessions *Sessions) *Service {
	if sessions == nil {
		sessions = NewSessions()
	}
	return &Service{store: store, producer: producer, sessions: sessions}
}

// Submit 保存路由并推送到队列。重复提交同一 ID 返回已有记录。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*ledger.Record, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "路由服务未初始化")
	}
	if err := validateSubmission(req); err != nil {
		return nil, err
	}

	r := req.Route.Clone()
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	} else if existing, err := s.store.Get(ctx, r.ID); err == nil {
		return existing, nil
	} else if !stdErrors.Is(err, ledger.ErrRouteNotFound) {
		return nil, err
	}
	for i := range r.Steps {
		if strings.TrimSpace(r.Steps[i].ID) == "" {
			r.Steps[i].ID = fmt.Sprintf("%s-%d", r.ID, i)
		}
	}

	record := ledger.NewRecord(r, strings.TrimSpace(req.Account))
	if err := s.store.Create(ctx, record); err != nil {
		if stdErrors.Is(err, ledger.ErrRouteConflict) {
			existing, getErr := s.store.Get(ctx, r.ID)
			if getErr == nil {
				return existing, nil
			}
			return nil, getErr
		}
		return nil, err
	}
	if req.Interactive != nil {
		s.sessions.Set(r.ID, *req.Interactive)
	}
	if err := s.producer.Publish(ctx, r.ID); err != nil {
		logger.L().Error("路由入队失败", slog.Any("error", err), slog.String("route_id", r.ID))
		wrapped := xerrors.Wrap(xerrors.CodeQueueFailure, err, "发布路由到队列失败")
		_ = s.store.MarkFailed(ctx, r.ID, xerrors.CodeQueueFailure, wrapped.Error())
		return nil, wrapped
	}
	logger.Audit().Info("路由入队成功",
		slog.String("route_id", r.ID),
		slog.String("account", record.Account),
		slog.Uint64("from_chain_id", r.FromChainID),
		slog.Uint64("to_chain_id", r.ToChainID),
		slog.Int("steps", len(r.Steps)),
	)
	return record, nil
}

func validateSubmission(req SubmitRequest) error {
	if strings.TrimSpace(req.Account) == "" {
		return xerrors.New(xerrors.CodeValidation, "执行账户不能为空")
	}
	if len(req.Route.Steps) == 0 {
		return xerrors.New(xerrors.CodeValidation, "路由至少需要一个步骤")
	}
	seen := make(map[string]struct{}, len(req.Route.Steps))
	for i, step := range req.Route.Steps {
		if step.Action.FromChainID == 0 || step.Action.ToChainID == 0 {
			return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("第 %d 个步骤缺少链 ID", i))
		}
		if step.ID == "" {
			continue
		}
		if _, dup := seen[step.ID]; dup {
			return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("步骤 ID %s 重复", step.ID))
		}
		seen[step.ID] = struct{}{}
	}
	return nil
}

// Get 返回指定路由的记录。
func (s *Service) Get(ctx context.Context, id string) (*ledger.Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "路由存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的路由列表。
func (s *Service) List(ctx context.Context, opts ...ledger.ListOption) ([]*ledger.Record, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "路由存储未初始化")
	}
	return s.store.List(ctx, ledger.BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的路由统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ledger.ListOption) (ledger.Stats, error) {
	if s.store == nil {
		return ledger.Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "路由存储未初始化")
	}
	return s.store.Stats(ctx, ledger.BuildListOptions(opts...))
}

// Resume 允许交互并重新投递路由。已完成的路由原样返回。
func (s *Service) Resume(ctx context.Context, id string) (*ledger.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == route.StatusDone {
		return rec, nil
	}
	s.sessions.Set(id, true)
	if s.sessions.Running(id) {
		return rec, nil
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "重新投递路由失败")
	}
	logger.Audit().Info("路由恢复执行", slog.String("route_id", id), slog.String("status", string(rec.Status)))
	return rec, nil
}

// SetInteraction 切换路由是否允许向用户请求操作，对执行中的路由立即生效。
func (s *Service) SetInteraction(ctx context.Context, id string, allowed bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	s.sessions.Set(id, allowed)
	return nil
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// Waiting 判断路由是否停在需要外部操作的状态。
func Waiting(st route.Status) bool {
	switch st {
	case route.StatusActionRequired, route.StatusChainSwitchRequired, route.StatusMultisigPending:
		return true
	default:
		return false
	}
}

// WaitUntilSettled 轮询直到路由结束或等待用户操作。
func (s *Service) WaitUntilSettled(ctx context.Context, id string, interval time.Duration) (*ledger.Record, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Settled() || (Waiting(rec.Status) && !s.sessions.Running(id)) {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
