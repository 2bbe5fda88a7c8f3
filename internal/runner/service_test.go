package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "OpenRoute-Chain/internal/errors"
	"OpenRoute-Chain/internal/ledger"
	"OpenRoute-Chain/internal/route"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestServiceSubmitAssignsIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, nil)

	r := testRoute("", 2)
	for i := range r.Steps {
		r.Steps[i].ID = ""
	}
	rec, err := service.Submit(ctx, SubmitRequest{Route: r, Account: r.FromAddress})
	if err != nil {
		t.Fatalf("提交路由失败: %v", err)
	}
	if rec.ID == "" || rec.Route.ID != rec.ID {
		t.Fatalf("应自动分配路由 ID: %+v", rec)
	}
	if rec.Route.Steps[0].ID != rec.ID+"-0" || rec.Route.Steps[1].ID != rec.ID+"-1" {
		t.Fatalf("应自动分配步骤 ID: %s %s", rec.Route.Steps[0].ID, rec.Route.Steps[1].ID)
	}
	if rec.Status != route.StatusPending {
		t.Fatalf("期望 PENDING，实际 %s", rec.Status)
	}

	select {
	case id := <-queue.ch:
		if id != rec.ID {
			t.Fatalf("队列中的路由不匹配: %s", id)
		}
	default:
		t.Fatalf("路由未入队")
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service := NewService(ledger.NewMemoryStore(), NewMemoryQueue(4), nil)

	r := testRoute("dup", 1)
	first, err := service.Submit(ctx, SubmitRequest{Route: r, Account: r.FromAddress})
	if err != nil {
		t.Fatalf("提交路由失败: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{Route: r, Account: r.FromAddress})
	if err != nil {
		t.Fatalf("重复提交失败: %v", err)
	}
	if first.ID != second.ID || second.Attempts != 0 {
		t.Fatalf("重复提交应返回已有记录: %+v", second)
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(ledger.NewMemoryStore(), NewMemoryQueue(4), nil)
	cases := map[string]SubmitRequest{
		"no account": {Route: testRoute("a", 1)},
		"no steps":   {Route: route.Route{ID: "b"}, Account: "0x1"},
		"dup steps": func() SubmitRequest {
			r := testRoute("c", 2)
			r.Steps[1].ID = r.Steps[0].ID
			return SubmitRequest{Route: r, Account: "0x1"}
		}(),
	}
	for name, req := range cases {
		if _, err := service.Submit(context.Background(), req); !xerrors.HasCode(err, xerrors.CodeValidation) {
			t.Fatalf("%s: 期望 VALIDATION，实际 %v", name, err)
		}
	}
}

func TestServiceSubmitMarksQueueFailure(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	service := NewService(store, failingProducer{}, nil)

	r := testRoute("queue-fail", 1)
	if _, err := service.Submit(ctx, SubmitRequest{Route: r, Account: r.FromAddress}); !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("期望 QUEUE_FAILURE，实际 %v", err)
	}
	rec, err := store.Get(ctx, "queue-fail")
	if err != nil {
		t.Fatalf("读取路由失败: %v", err)
	}
	if rec.Status != route.StatusFailed || rec.ErrorCode != string(xerrors.CodeQueueFailure) {
		t.Fatalf("入队失败应记录错误: %s/%s", rec.Status, rec.ErrorCode)
	}
}

func TestServiceResumeAndInteraction(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	queue := NewMemoryQueue(4)
	sessions := NewSessions()
	service := NewService(store, queue, sessions)

	if err := service.SetInteraction(ctx, "missing", false); !errors.Is(err, ledger.ErrRouteNotFound) {
		t.Fatalf("期望 NOT_FOUND，实际 %v", err)
	}

	interactive := false
	r := testRoute("resume", 1)
	if _, err := service.Submit(ctx, SubmitRequest{Route: r, Account: r.FromAddress, Interactive: &interactive}); err != nil {
		t.Fatalf("提交路由失败: %v", err)
	}
	<-queue.ch
	if sessions.Interaction("resume").Allowed() {
		t.Fatalf("非交互提交应禁用交互")
	}

	if _, err := service.Resume(ctx, "resume"); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if !sessions.Interaction("resume").Allowed() {
		t.Fatalf("恢复后应允许交互")
	}
	select {
	case <-queue.ch:
	default:
		t.Fatalf("恢复后路由应重新入队")
	}

	if err := service.SetInteraction(ctx, "resume", false); err != nil {
		t.Fatalf("切换交互失败: %v", err)
	}
	if sessions.Interaction("resume").Allowed() {
		t.Fatalf("交互应被禁用")
	}
}

func TestServiceWaitUntilSettled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := ledger.NewMemoryStore()
	queue := NewMemoryQueue(4)
	sessions := NewSessions()
	service := NewService(store, queue, sessions)
	processor := NewProcessor(&fakeExecutor{}, store, fakeWallets{}, queue, WithSessions(sessions))
	go func() { _ = processor.Start(ctx) }()

	r := testRoute("wait", 3)
	if _, err := service.Submit(ctx, SubmitRequest{Route: r, Account: r.FromAddress}); err != nil {
		t.Fatalf("提交路由失败: %v", err)
	}
	rec, err := service.WaitUntilSettled(ctx, "wait", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待失败: %v", err)
	}
	if rec.Status != route.StatusDone {
		t.Fatalf("期望 DONE，实际 %s", rec.Status)
	}

	list, err := service.List(ctx, ledger.WithStatuses(route.StatusDone))
	if err != nil || len(list) != 1 {
		t.Fatalf("列表结果不正确: %v %d", err, len(list))
	}
}
