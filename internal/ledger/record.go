// Package ledger 持久化路由执行记录，并为每条路由提供互斥的执行槽。
package ledger

import (
	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// Record 是一条路由在存储中的形态：完整的路由文档加上调度信息。
type Record struct {
	ID        string       `json:"id"`
	Route     route.Route  `json:"route"`
	Status    route.Status `json:"status"`
	Account   string       `json:"account,omitempty"`
	Attempts  int          `json:"attempts"`
	ErrorCode string       `json:"error_code,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	CreatedAt int64        `json:"created_at"`
	UpdatedAt int64        `json:"updated_at"`
}

// NewRecord 以路由当前状态构造记录。
func NewRecord(r route.Route, account string) *Record {
	return &Record{
		ID:      r.ID,
		Route:   r.Clone(),
		Status:  r.Status(),
		Account: account,
	}
}

// Clone 返回记录的深拷贝。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Route = r.Route.Clone()
	return &out
}

// Settled 判断路由是否已经不会再推进。
func (r *Record) Settled() bool {
	return r != nil && r.Status.IsTerminal()
}

var (
	// ErrRouteNotFound 表示路由不存在。
	ErrRouteNotFound = xerrors.New(xerrors.CodeNotFound, "route not found")
	// ErrRouteConflict 表示同 ID 的路由已经存在。
	ErrRouteConflict = xerrors.New(xerrors.CodeConflict, "route already exists")
)
