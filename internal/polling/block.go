package polling

import (
	"context"
	"fmt"
	"time"
)

// BlockNumberReader reports the latest block height of a chain.
type BlockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Block is a newly observed height together with the previously emitted one.
type Block struct {
	Number      uint64
	Previous    uint64
	HasPrevious bool
}

// BlockWatchOptions configures WatchBlockNumber.
type BlockWatchOptions struct {
	// EmitMissed backfills every height skipped between two ticks.
	EmitMissed  bool
	EmitOnBegin bool
	Interval    time.Duration
}

// WatchBlockNumber emits new block heights read from reader. Heights equal
// to or lower than the last emitted one are dropped.
func WatchBlockNumber(hub *Hub[Block], reader BlockNumberReader, opts BlockWatchOptions, onBlock func(Block), onError func(error)) (stop func()) {
	key := fmt.Sprintf("watchBlockNumber:%T:%p:%t:%t:%s", reader, reader, opts.EmitOnBegin, opts.EmitMissed, opts.Interval)

	var (
		prev    uint64
		hasPrev bool
	)
	poll := func(ctx context.Context, emit Emitter[Block]) error {
		height, err := reader.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if hasPrev {
			if height <= prev {
				return nil
			}
			if opts.EmitMissed && height-prev > 1 {
				for n := prev + 1; n < height; n++ {
					emit.Emit(Block{Number: n, Previous: prev, HasPrevious: true})
					prev = n
				}
			}
		}
		emit.Emit(Block{Number: height, Previous: prev, HasPrevious: hasPrev})
		prev, hasPrev = height, true
		return nil
	}

	options := []ObserveOption{WithInterval(opts.Interval)}
	if opts.EmitOnBegin {
		options = append(options, WithEmitOnBegin())
	}
	return hub.Observe(key, Handlers[Block]{OnData: onBlock, OnError: onError}, poll, options...)
}
