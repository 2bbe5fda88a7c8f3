// Package polling turns "check a condition periodically" into an event
// stream. Observers sharing a key share a single poll loop.
package polling

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"OpenRoute-Chain/pkg/logger"
)

// DefaultInterval is used when a hub is created without an interval.
const DefaultInterval = 4 * time.Second

// Handlers receive the events of one observer.
type Handlers[T any] struct {
	OnData  func(T)
	OnError func(error)
}

// Emitter fans events out to every handler set attached to a loop.
type Emitter[T any] interface {
	Emit(v T)
	Error(err error)
}

// PollFunc is invoked once per tick. A returned error is routed like
// Emitter.Error.
type PollFunc[T any] func(ctx context.Context, emit Emitter[T]) error

// ObserveOption tunes the poll loop created by the first observer of a key.
type ObserveOption func(*observeOptions)

type observeOptions struct {
	emitOnBegin bool
	interval    time.Duration
}

// WithEmitOnBegin polls once immediately instead of waiting for the first tick.
func WithEmitOnBegin() ObserveOption {
	return func(o *observeOptions) { o.emitOnBegin = true }
}

// WithInterval overrides the hub interval for a key.
func WithInterval(d time.Duration) ObserveOption {
	return func(o *observeOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// Hub owns the poll loops for one event type.
type Hub[T any] struct {
	mu       sync.Mutex
	interval time.Duration
	loops    map[string]*loop[T]
	log      *slog.Logger
}

type subscriber[T any] struct {
	handlers Handlers[T]
	alive    atomic.Bool
}

type loop[T any] struct {
	hub    *Hub[T]
	key    string
	cancel context.CancelFunc
	subs   []*subscriber[T]
}

// NewHub creates a hub polling at interval unless overridden per key.
func NewHub[T any](interval time.Duration) *Hub[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Hub[T]{
		interval: interval,
		loops:    make(map[string]*loop[T]),
		log:      logger.Named("polling"),
	}
}

// Observe attaches handlers to the loop for key, starting it when absent.
// The returned stop detaches these handlers and may be called repeatedly;
// the loop ends when its last handler set detaches.
func (h *Hub[T]) Observe(key string, handlers Handlers[T], poll PollFunc[T], opts ...ObserveOption) (stop func()) {
	sub := &subscriber[T]{handlers: handlers}
	sub.alive.Store(true)

	h.mu.Lock()
	l, ok := h.loops[key]
	if ok {
		l.subs = append(l.subs, sub)
		h.mu.Unlock()
	} else {
		options := observeOptions{interval: h.interval}
		for _, opt := range opts {
			if opt != nil {
				opt(&options)
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		l = &loop[T]{hub: h, key: key, cancel: cancel, subs: []*subscriber[T]{sub}}
		h.loops[key] = l
		h.mu.Unlock()
		go l.run(ctx, poll, options)
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.detach(l, sub) })
	}
}

// Active reports the number of running poll loops.
func (h *Hub[T]) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.loops)
}

func (h *Hub[T]) detach(l *loop[T], sub *subscriber[T]) {
	sub.alive.Store(false)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range l.subs {
		if s == sub {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			break
		}
	}
	if len(l.subs) == 0 {
		l.cancel()
		if h.loops[l.key] == l {
			delete(h.loops, l.key)
		}
	}
}

func (l *loop[T]) run(ctx context.Context, poll PollFunc[T], options observeOptions) {
	if options.emitOnBegin {
		l.tick(ctx, poll)
	}
	ticker := time.NewTicker(options.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, poll)
		}
	}
}

func (l *loop[T]) tick(ctx context.Context, poll PollFunc[T]) {
	if ctx.Err() != nil {
		return
	}
	if err := poll(ctx, l); err != nil && ctx.Err() == nil {
		l.Error(err)
	}
}

func (l *loop[T]) live() []*subscriber[T] {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	return append([]*subscriber[T](nil), l.subs...)
}

// Emit delivers v to every handler set still attached.
func (l *loop[T]) Emit(v T) {
	for _, s := range l.live() {
		if s.alive.Load() && s.handlers.OnData != nil {
			s.handlers.OnData(v)
		}
	}
}

// Error delivers err to the attached error handlers. Without any, the error
// is logged and the loop keeps polling.
func (l *loop[T]) Error(err error) {
	if err == nil {
		return
	}
	delivered := false
	for _, s := range l.live() {
		if s.alive.Load() && s.handlers.OnError != nil {
			s.handlers.OnError(err)
			delivered = true
		}
	}
	if !delivered {
		l.hub.log.Debug("poll error swallowed", "key", l.key, "error", err)
	}
}
