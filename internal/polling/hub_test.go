package polling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestObserveDeduplicatesByKey(t *testing.T) {
	hub := NewHub[int](5 * time.Millisecond)

	var polls atomic.Int64
	poll := func(ctx context.Context, emit Emitter[int]) error {
		emit.Emit(int(polls.Add(1)))
		return nil
	}

	var a, b atomic.Int64
	stopA := hub.Observe("k", Handlers[int]{OnData: func(int) { a.Add(1) }}, poll)
	stopB := hub.Observe("k", Handlers[int]{OnData: func(int) { b.Add(1) }}, poll)
	defer stopB()

	if hub.Active() != 1 {
		t.Fatalf("expected one poll loop, got %d", hub.Active())
	}
	waitFor(t, time.Second, func() bool { return a.Load() >= 3 && b.Load() >= 3 })

	stopA()
	stopA()
	if hub.Active() != 1 {
		t.Fatalf("loop must survive while handlers remain attached")
	}
	seen := a.Load()
	waitFor(t, time.Second, func() bool { return b.Load() >= seen+3 })
	if a.Load() != seen {
		t.Fatalf("detached handlers received %d extra events", a.Load()-seen)
	}
}

func TestStopLastObserverEndsLoop(t *testing.T) {
	hub := NewHub[int](2 * time.Millisecond)

	var polls atomic.Int64
	stop := hub.Observe("k", Handlers[int]{OnData: func(int) {}}, func(ctx context.Context, emit Emitter[int]) error {
		polls.Add(1)
		emit.Emit(1)
		return nil
	}, WithEmitOnBegin())

	waitFor(t, time.Second, func() bool { return polls.Load() >= 2 })
	stop()
	if hub.Active() != 0 {
		t.Fatalf("expected no active loops, got %d", hub.Active())
	}
	time.Sleep(10 * time.Millisecond)
	after := polls.Load()
	time.Sleep(20 * time.Millisecond)
	if polls.Load() != after {
		t.Fatalf("poll function still invoked after stop")
	}
}

func TestErrorsRouteToOnError(t *testing.T) {
	hub := NewHub[int](2 * time.Millisecond)
	boom := errors.New("rpc down")

	var mu sync.Mutex
	var got []error
	stop := hub.Observe("err", Handlers[int]{OnError: func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}}, func(ctx context.Context, emit Emitter[int]) error {
		return boom
	})
	defer stop()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	})
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(got[0], boom) {
		t.Fatalf("unexpected error %v", got[0])
	}
}

func TestErrorsWithoutHandlerKeepPolling(t *testing.T) {
	hub := NewHub[int](2 * time.Millisecond)

	var polls atomic.Int64
	stop := hub.Observe("swallow", Handlers[int]{}, func(ctx context.Context, emit Emitter[int]) error {
		polls.Add(1)
		return errors.New("transient")
	})
	defer stop()

	waitFor(t, time.Second, func() bool { return polls.Load() >= 3 })
}

type fakeHeights struct {
	mu      sync.Mutex
	heights []uint64
}

func (f *fakeHeights) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.heights) == 0 {
		return 0, errors.New("no more heights")
	}
	h := f.heights[0]
	if len(f.heights) > 1 {
		f.heights = f.heights[1:]
	}
	return h, nil
}

func collectBlocks(t *testing.T, reader *fakeHeights, opts BlockWatchOptions, want int) []Block {
	t.Helper()
	hub := NewHub[Block](2 * time.Millisecond)

	var mu sync.Mutex
	var blocks []Block
	stop := WatchBlockNumber(hub, reader, opts, func(b Block) {
		mu.Lock()
		blocks = append(blocks, b)
		mu.Unlock()
	}, nil)
	defer stop()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(blocks) >= want
	})
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	return append([]Block(nil), blocks...)
}

func TestWatchBlockNumberSkipsStaleHeights(t *testing.T) {
	reader := &fakeHeights{heights: []uint64{10, 10, 9, 12}}
	blocks := collectBlocks(t, reader, BlockWatchOptions{EmitOnBegin: true}, 2)

	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %+v", blocks)
	}
	if blocks[0].Number != 10 || blocks[0].HasPrevious {
		t.Fatalf("unexpected first block %+v", blocks[0])
	}
	if blocks[1].Number != 12 || blocks[1].Previous != 10 {
		t.Fatalf("unexpected second block %+v", blocks[1])
	}
}

func TestWatchBlockNumberEmitsMissed(t *testing.T) {
	reader := &fakeHeights{heights: []uint64{5, 8}}
	blocks := collectBlocks(t, reader, BlockWatchOptions{EmitOnBegin: true, EmitMissed: true}, 4)

	want := []uint64{5, 6, 7, 8}
	if len(blocks) != len(want) {
		t.Fatalf("expected %v, got %+v", want, blocks)
	}
	for i, b := range blocks {
		if b.Number != want[i] {
			t.Fatalf("block %d = %d, want %d", i, b.Number, want[i])
		}
		if i > 0 && b.Previous != want[i-1] {
			t.Fatalf("block %d previous = %d, want %d", i, b.Previous, want[i-1])
		}
	}
}

func TestAwaitReturnsFirstMatchingValue(t *testing.T) {
	hub := NewHub[int](2 * time.Millisecond)

	var n atomic.Int64
	var seen []int
	var mu sync.Mutex
	v, err := Await(context.Background(), hub, "await", func(ctx context.Context, emit Emitter[int]) error {
		emit.Emit(int(n.Add(1)))
		return nil
	}, func(v int) bool { return v >= 3 }, func(v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 || seen[0] != 1 {
		t.Fatalf("progress not reported: %v", seen)
	}
	waitFor(t, time.Second, func() bool { return hub.Active() == 0 })
}

func TestAwaitStopsOnPermanentError(t *testing.T) {
	hub := NewHub[int](2 * time.Millisecond)
	boom := errors.New("reverted")

	var calls atomic.Int64
	_, err := Await(context.Background(), hub, "await-err", func(ctx context.Context, emit Emitter[int]) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		return Permanent(boom)
	}, nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	hub := NewHub[int](2 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Await(ctx, hub, "never", func(ctx context.Context, emit Emitter[int]) error {
		return nil
	}, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
