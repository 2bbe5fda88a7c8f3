package ledger

import (
	"context"
	"testing"
	"time"

	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/internal/status"
)

func TestRecorderPersistsSnapshots(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	r := sampleRoute("r1", "")
	if err := store.Create(ctx, NewRecord(r, "")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	m := status.NewManager(r, status.WithObservers(NewRecorder(store, time.Second)))
	stepID := r.Steps[0].ID
	if _, err := m.InitExecution(stepID); err != nil {
		t.Fatalf("init execution: %v", err)
	}
	if _, err := m.FindOrCreateProcess(stepID, route.ProcessTokenAllowance); err != nil {
		t.Fatalf("create process: %v", err)
	}
	if _, err := m.UpdateProcess(stepID, route.ProcessTokenAllowance, route.StatusActionRequired); err != nil {
		t.Fatalf("update process: %v", err)
	}

	rec, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Status != route.StatusActionRequired {
		t.Fatalf("unexpected persisted status %s", rec.Status)
	}
	exec := rec.Route.Steps[0].Execution
	if exec == nil || len(exec.Process) != 1 || exec.Process[0].Type != route.ProcessTokenAllowance {
		t.Fatalf("unexpected persisted execution: %+v", exec)
	}
}

func TestRecorderToleratesMissingRoute(t *testing.T) {
	t.Parallel()

	rec := NewRecorder(NewMemoryStore(), 0)
	rec.RouteUpdated(sampleRoute("ghost", route.StatusDone))
}
