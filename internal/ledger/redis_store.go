package ledger

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// RedisConfig 描述 Redis 的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// DialRedis 建立 Redis 连接并执行一次 PING。
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return client, nil
}

const redisScanBatch = 200

// RedisStore 将路由记录保存为 JSON 字符串，并用有序集合按更新时间建立索引。
// 同一路由的写入由执行槽串行化，因此读改写无需事务。
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore 基于已有客户端创建存储。
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "openroute:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(id string) string { return s.prefix + "route:" + id }

func (s *RedisStore) index() string { return s.prefix + "routes" }

// Create 写入新记录。
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "路由 ID 不能为空")
	}
	stored := record.Clone()
	now := s.now().Unix()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Status = stored.Route.Status()

	data, err := json.Marshal(stored)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "编码路由记录失败")
	}
	ok, err := s.client.SetNX(ctx, s.key(stored.ID), data, 0).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入路由失败")
	}
	if !ok {
		return ErrRouteConflict
	}
	if err := s.touch(ctx, stored); err != nil {
		return err
	}
	*record = *stored
	return nil
}

// Get 读取指定路由。
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return nil, ErrRouteNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取路由失败")
	}
	return decodeRecord(data)
}

// SaveRoute 覆盖路由文档。
func (s *RedisStore) SaveRoute(ctx context.Context, r route.Route) error {
	_, err := s.update(ctx, r.ID, func(rec *Record) {
		rec.Route = r.Clone()
		rec.Status = rec.Route.Status()
	})
	return err
}

// BeginAttempt 增加尝试次数并清空上次错误。
func (s *RedisStore) BeginAttempt(ctx context.Context, id string) (*Record, error) {
	return s.update(ctx, id, func(rec *Record) {
		rec.Attempts++
		rec.ErrorCode = ""
		rec.LastError = ""
	})
}

// MarkFailed 记录失败原因。
func (s *RedisStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, message string) error {
	_, err := s.update(ctx, id, func(rec *Record) {
		rec.Status = route.StatusFailed
		rec.ErrorCode = string(code)
		rec.LastError = message
	})
	return err
}

func (s *RedisStore) update(ctx context.Context, id string, mutate func(*Record)) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(rec)
	rec.UpdatedAt = s.now().Unix()
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "编码路由记录失败")
	}
	ok, err := s.client.SetXX(ctx, s.key(id), data, 0).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入路由失败")
	}
	if !ok {
		return nil, ErrRouteNotFound
	}
	if err := s.touch(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) touch(ctx context.Context, rec *Record) error {
	member := redis.Z{Score: float64(rec.UpdatedAt), Member: rec.ID}
	if err := s.client.ZAdd(ctx, s.index(), member).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新路由索引失败")
	}
	return nil
}

// List 遍历索引并在客户端过滤。
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()
	records, err := s.scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	return paginate(sortRecords(records, opts.Order), opts), nil
}

// Stats 统计满足过滤条件的记录。
func (s *RedisStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	records, err := s.scan(ctx, opts)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByStatus: make(map[route.Status]int)}
	for _, rec := range records {
		stats.add(rec)
	}
	return stats, nil
}

func (s *RedisStore) scan(ctx context.Context, opts ListOptions) ([]*Record, error) {
	ids, err := s.client.ZRevRange(ctx, s.index(), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取路由索引失败")
	}
	var records []*Record
	for start := 0; start < len(ids); start += redisScanBatch {
		end := start + redisScanBatch
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.key(id))
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取路由失败")
		}
		for _, value := range values {
			raw, ok := value.(string)
			if !ok {
				// 索引中残留的已删除路由
				continue
			}
			rec, err := decodeRecord([]byte(raw))
			if err != nil {
				return nil, err
			}
			if opts.matches(rec) {
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

// Close 关闭底层客户端。
func (s *RedisStore) Close() error {
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析路由记录失败")
	}
	return &rec, nil
}

var _ Store = (*RedisStore)(nil)
