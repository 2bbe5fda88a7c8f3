package polling

import (
	"context"
	"errors"
)

// permanentError stops an Await instead of being retried on the next tick.
type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as terminal for Await.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Await observes key until poll emits a value that satisfies done, poll
// returns a permanent error or ctx ends. Every emitted value, final or not,
// is passed to progress when it is non-nil. Transient errors keep polling.
func Await[T any](ctx context.Context, hub *Hub[T], key string, poll PollFunc[T], done func(T) bool, progress func(T), opts ...ObserveOption) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	result := make(chan outcome, 1)
	deliver := func(o outcome) {
		select {
		case result <- o:
		default:
		}
	}

	stop := hub.Observe(key, Handlers[T]{
		OnData: func(v T) {
			if progress != nil {
				progress(v)
			}
			if done == nil || done(v) {
				deliver(outcome{v: v})
			}
		},
		OnError: func(err error) {
			var p permanentError
			if errors.As(err, &p) {
				deliver(outcome{err: p.err})
				return
			}
			hub.log.Debug("await poll failed", "key", key, "error", err)
		},
	}, poll, append([]ObserveOption{WithEmitOnBegin()}, opts...)...)
	defer stop()

	select {
	case o := <-result:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
