// Package events publishes route snapshots to message brokers so that
// external consumers can follow an execution without polling the API.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"OpenRoute-Chain/internal/observability/metrics"
	"OpenRoute-Chain/internal/route"
	"OpenRoute-Chain/pkg/logger"
)

// TypeRouteUpdated is the event type of every snapshot.
const TypeRouteUpdated = "route.updated"

// RouteEvent is the wire payload published to every sink.
type RouteEvent struct {
	Type       string       `json:"type"`
	RouteID    string       `json:"routeId"`
	Status     route.Status `json:"status"`
	Route      route.Route  `json:"route"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Sink delivers encoded events to one broker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, routeID string, payload []byte) error
	Close() error
}

// Broadcaster is a status observer that fans every snapshot out to its sinks.
// Delivery is synchronous and bounded by timeout so events keep mutation
// order; a failing sink is logged and never blocks execution beyond timeout.
type Broadcaster struct {
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewBroadcaster builds a Broadcaster over the non-nil sinks.
func NewBroadcaster(timeout time.Duration, sinks ...Sink) *Broadcaster {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	b := &Broadcaster{timeout: timeout, now: time.Now, log: logger.Named("events")}
	for _, s := range sinks {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
	return b
}

// Len reports the number of configured sinks.
func (b *Broadcaster) Len() int { return len(b.sinks) }

// RouteUpdated encodes the snapshot and publishes it to every sink.
func (b *Broadcaster) RouteUpdated(r route.Route) {
	if len(b.sinks) == 0 {
		return
	}
	payload, err := json.Marshal(RouteEvent{
		Type:       TypeRouteUpdated,
		RouteID:    r.ID,
		Status:     r.Status(),
		Route:      r,
		OccurredAt: b.now().UTC(),
	})
	if err != nil {
		b.log.Error("encode route event", "route_id", r.ID, "error", err)
		return
	}
	for _, sink := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		err := sink.Publish(ctx, r.ID, payload)
		cancel()
		if err != nil {
			metrics.EventsPublished.WithLabelValues(sink.Name(), "error").Inc()
			b.log.Warn("publish route event", "sink", sink.Name(), "route_id", r.ID, "error", err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(sink.Name(), "ok").Inc()
	}
}

// Close closes every sink and returns the first error.
func (b *Broadcaster) Close() error {
	var first error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
