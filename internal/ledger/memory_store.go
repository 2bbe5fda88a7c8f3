package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// MemoryStore 是线程安全的内存实现，适用于单进程部署与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Create 写入新记录，ID 重复时返回冲突错误。
func (s *MemoryStore) Create(_ context.Context, record *Record) error {
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "route id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return ErrRouteConflict
	}
	now := s.now().Unix()
	stored := record.Clone()
	stored.Status = stored.Route.Status()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[record.ID] = stored
	*record = *stored.Clone()
	return nil
}

// Get 返回记录副本。
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRouteNotFound
	}
	return rec.Clone(), nil
}

// SaveRoute 覆盖路由文档。
func (s *MemoryStore) SaveRoute(_ context.Context, r route.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[r.ID]
	if !ok {
		return ErrRouteNotFound
	}
	rec.Route = r.Clone()
	rec.Status = rec.Route.Status()
	rec.UpdatedAt = s.now().Unix()
	return nil
}

// BeginAttempt 增加尝试次数并清空错误信息。
func (s *MemoryStore) BeginAttempt(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRouteNotFound
	}
	rec.Attempts++
	rec.ErrorCode = ""
	rec.LastError = ""
	rec.UpdatedAt = s.now().Unix()
	return rec.Clone(), nil
}

// MarkFailed 记录失败原因并将状态标记为 FAILED。
func (s *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrRouteNotFound
	}
	rec.Status = route.StatusFailed
	rec.ErrorCode = string(code)
	rec.LastError = message
	rec.UpdatedAt = s.now().Unix()
	return nil
}

// List 按过滤条件返回记录。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()
	s.mu.RLock()
	matched := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if opts.matches(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	s.mu.RUnlock()
	return paginate(sortRecords(matched, opts.Order), opts), nil
}

// Stats 统计满足过滤条件的记录。分页参数会被忽略。
func (s *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	stats := Stats{ByStatus: make(map[route.Status]int)}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if opts.matches(rec) {
			stats.add(rec)
		}
	}
	return stats, nil
}

// Close 对内存实现无副作用。
func (s *MemoryStore) Close() error { return nil }

func sortRecords(records []*Record, order SortOrder) []*Record {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.UpdatedAt == b.UpdatedAt {
			if order == SortByUpdatedAsc {
				return a.ID < b.ID
			}
			return a.ID > b.ID
		}
		if order == SortByUpdatedAsc {
			return a.UpdatedAt < b.UpdatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})
	return records
}

func paginate(records []*Record, opts ListOptions) []*Record {
	if opts.Offset >= len(records) {
		return []*Record{}
	}
	end := opts.Offset + opts.Limit
	if end > len(records) {
		end = len(records)
	}
	return records[opts.Offset:end]
}
