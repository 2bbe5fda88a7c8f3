package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

// fakeRedis 只实现存储与执行槽用到的命令。
type fakeRedis struct {
	redis.Cmdable

	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	zsets  map[string]map[string]float64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		zsets:  make(map[string]map[string]float64),
	}
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = asString(value)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) SetXX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = asString(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.zsets[key]
	if !ok {
		set = make(map[string]float64)
		f.zsets[key] = set
	}
	var added int64
	for _, m := range members {
		member := asString(m.Member)
		if _, exists := set[member]; !exists {
			added++
		}
		set[member] = m.Score
	}
	return redis.NewIntResult(added, nil)
}

func (f *fakeRedis) ZRevRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.zsets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if set[members[i]] == set[members[j]] {
			return members[i] > members[j]
		}
		return set[members[i]] > set[members[j]]
	})
	if stop < 0 || stop >= int64(len(members)) {
		stop = int64(len(members)) - 1
	}
	if start > stop {
		return redis.NewStringSliceResult(nil, nil)
	}
	return redis.NewStringSliceResult(members[start:stop+1], nil)
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.values[k]; ok {
			out[i] = v
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(keys) != 1 || len(args) == 0 || f.values[keys[0]] != asString(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case releaseScript:
		delete(f.values, keys[0])
		delete(f.ttls, keys[0])
	case refreshScript:
		f.ttls[keys[0]] = time.Duration(args[1].(int64)) * time.Millisecond
	default:
		return redis.NewCmdResult(nil, errors.New("unknown script"))
	}
	return redis.NewCmdResult(int64(1), nil)
}

func TestRedisStoreLifecycle(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	clock := &stepClock{t: 100}
	store := NewRedisStore(rdb, "test:")
	store.now = clock.now
	ctx := context.Background()

	if err := store.Create(ctx, NewRecord(sampleRoute("r1", ""), "0x1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.Create(ctx, NewRecord(sampleRoute("r1", ""), "0x1")); !errors.Is(err, ErrRouteConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, ok := rdb.values["test:route:r1"]; !ok {
		t.Fatalf("record not stored under prefixed key: %v", rdb.values)
	}

	if _, err := store.BeginAttempt(ctx, "r1"); err != nil {
		t.Fatalf("begin attempt: %v", err)
	}
	if err := store.SaveRoute(ctx, sampleRoute("r1", route.StatusPending)); err != nil {
		t.Fatalf("save route: %v", err)
	}
	if err := store.MarkFailed(ctx, "r1", xerrors.CodeChainSwitchFailed, "user rejected"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	rec, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Attempts != 1 || rec.Status != route.StatusFailed || rec.LastError != "user rejected" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Route.Steps[0].Execution == nil {
		t.Fatalf("route document not saved")
	}
	if score := rdb.zsets["test:routes"]["r1"]; score != float64(rec.UpdatedAt) {
		t.Fatalf("index not refreshed: %v vs %d", score, rec.UpdatedAt)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.SaveRoute(ctx, sampleRoute("missing", "")); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected not found on save, got %v", err)
	}
}

func TestRedisStoreListAndStats(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	clock := &stepClock{t: 100}
	store := NewRedisStore(rdb, "")
	store.now = clock.now
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		status := route.StatusDone
		if id == "b" {
			status = route.StatusMultisigPending
		}
		if err := store.Create(ctx, NewRecord(sampleRoute(id, status), "0x1")); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	// 索引中残留的键会被跳过
	rdb.zsets["openroute:routes"]["ghost"] = 1

	list, err := store.List(ctx, BuildListOptions(WithLimit(2)))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if got := ids(list); len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Fatalf("unexpected list: %v", got)
	}

	stats, err := store.Stats(ctx, BuildListOptions(WithStatuses(route.StatusDone)))
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 || stats.ByStatus[route.StatusDone] != 2 || stats.OldestUpdatedAt != 101 || stats.NewestUpdatedAt != 103 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
