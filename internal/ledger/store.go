package ledger

import (
	"context"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// Store 抽象了路由执行记录的持久化。
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// SaveRoute 写入最新的路由文档，并按文档重新计算状态。
	SaveRoute(ctx context.Context, r route.Route) error
	// BeginAttempt 记录一次新的执行尝试并清空上次的错误。
	BeginAttempt(ctx context.Context, id string) (*Record, error)
	MarkFailed(ctx context.Context, id string, code xerrors.Code, message string) error
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了路由状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int                  `json:"total"`
	ByStatus        map[route.Status]int `json:"by_status"`
	OldestUpdatedAt int64                `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64                `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(r *Record) {
	if s.ByStatus == nil {
		s.ByStatus = make(map[route.Status]int)
	}
	s.Total++
	s.ByStatus[r.Status]++
	if s.OldestUpdatedAt == 0 || r.UpdatedAt < s.OldestUpdatedAt {
		s.OldestUpdatedAt = r.UpdatedAt
	}
	if r.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = r.UpdatedAt
	}
}
