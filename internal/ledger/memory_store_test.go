package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/route"
)

func sampleRoute(id string, status route.Status) route.Route {
	r := route.Route{
		ID:          id,
		FromChainID: 1,
		ToChainID:   10,
		FromAmount:  "1000000",
		Steps: []route.Step{{
			ID:   id + "-step",
			Type: route.StepTypeCross,
			Tool: "stargate",
			Action: route.Action{
				FromChainID: 1,
				ToChainID:   10,
				FromAmount:  "1000000",
			},
		}},
	}
	if status != "" {
		r.Steps[0].Execution = &route.Execution{Status: status}
	}
	return r
}

type stepClock struct{ t int64 }

func (c *stepClock) now() time.Time {
	c.t++
	return time.Unix(c.t, 0)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	rec := NewRecord(sampleRoute("r1", ""), "0xabc")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if rec.CreatedAt == 0 || rec.Status != route.StatusPending {
		t.Fatalf("unexpected created record: %+v", rec)
	}
	if err := store.Create(ctx, NewRecord(sampleRoute("r1", ""), "")); !errors.Is(err, ErrRouteConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	attempt, err := store.BeginAttempt(ctx, "r1")
	if err != nil {
		t.Fatalf("begin attempt failed: %v", err)
	}
	if attempt.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempt.Attempts)
	}

	if err := store.MarkFailed(ctx, "r1", xerrors.CodeBalanceTooLow, "balance too low"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != route.StatusFailed || got.ErrorCode != string(xerrors.CodeBalanceTooLow) {
		t.Fatalf("unexpected failed record: %+v", got)
	}

	if _, err := store.BeginAttempt(ctx, "r1"); err != nil {
		t.Fatalf("second attempt failed: %v", err)
	}
	if err := store.SaveRoute(ctx, sampleRoute("r1", route.StatusDone)); err != nil {
		t.Fatalf("save route failed: %v", err)
	}
	got, _ = store.Get(ctx, "r1")
	if got.Status != route.StatusDone || got.LastError != "" || got.Attempts != 2 {
		t.Fatalf("unexpected settled record: %+v", got)
	}
	if !got.Settled() {
		t.Fatalf("expected record to be settled")
	}

	// 返回值是副本
	got.Route.Steps[0].Execution.Status = route.StatusFailed
	again, _ := store.Get(ctx, "r1")
	if again.Route.Steps[0].Execution.Status != route.StatusDone {
		t.Fatalf("store leaked internal state")
	}
}

func TestMemoryStoreMissingRoute(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Get(ctx, "nope"); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.SaveRoute(ctx, sampleRoute("nope", "")); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("expected not found on save, got %v", err)
	}
	if err := store.Create(ctx, &Record{}); !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	t.Parallel()

	clock := &stepClock{t: 1000}
	store := NewMemoryStore()
	store.now = clock.now
	ctx := context.Background()

	for _, r := range []struct {
		id      string
		status  route.Status
		account string
	}{
		{"a", route.StatusDone, "0x1"},
		{"b", route.StatusPending, "0x2"},
		{"c", route.StatusFailed, "0x1"},
		{"d", route.StatusActionRequired, "0x1"},
	} {
		if err := store.Create(ctx, NewRecord(sampleRoute(r.id, r.status), r.account)); err != nil {
			t.Fatalf("create %s: %v", r.id, err)
		}
	}

	all, err := store.List(ctx, BuildListOptions())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 4 || all[0].ID != "d" || all[3].ID != "a" {
		t.Fatalf("unexpected default order: %v", ids(all))
	}

	asc, _ := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc), WithLimit(2), WithOffset(1)))
	if len(asc) != 2 || asc[0].ID != "b" || asc[1].ID != "c" {
		t.Fatalf("unexpected page: %v", ids(asc))
	}

	mine, _ := store.List(ctx, BuildListOptions(WithAccount("0X1"), WithStatuses(route.StatusFailed, route.StatusDone, "bogus")))
	if len(mine) != 2 {
		t.Fatalf("unexpected filtered list: %v", ids(mine))
	}

	byTool, _ := store.List(ctx, BuildListOptions(WithQuery("STARGATE")))
	if len(byTool) != 4 {
		t.Fatalf("expected tool query to match all, got %v", ids(byTool))
	}

	windowed, _ := store.List(ctx, BuildListOptions(WithUpdatedSince(time.Unix(1002, 0)), WithUpdatedUntil(time.Unix(1003, 0))))
	if len(windowed) != 2 {
		t.Fatalf("unexpected window: %v", ids(windowed))
	}

	stats, err := store.Stats(ctx, BuildListOptions(WithAccount("0x1")))
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[route.StatusDone] != 1 || stats.OldestUpdatedAt != 1001 || stats.NewestUpdatedAt != 1004 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBuildListOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := BuildListOptions(WithLimit(1000), WithOffset(-3), WithQuery("  x "))
	if opts.Limit != 100 || opts.Offset != 0 || opts.Query != "x" || opts.Order != SortByUpdatedDesc {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if got := BuildListOptions(WithStatuses("nope")); got.Statuses != nil {
		t.Fatalf("expected invalid statuses to be dropped, got %v", got.Statuses)
	}
}

func ids(records []*Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
