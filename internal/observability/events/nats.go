package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"OpenRoute-Chain/internal/observability/metrics"
	"OpenRoute-Chain/pkg/logger"
)

// NATSConfig describes the NATS connection.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
}

type natsConn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSSink publishes events on "<prefix>.<routeID>".
type NATSSink struct {
	conn   natsConn
	prefix string
}

// DialNATS connects to NATS and returns a sink.
func DialNATS(cfg NATSConfig) (*NATSSink, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := logger.Named("events")
	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
			metrics.EventsPublished.WithLabelValues("nats", "disconnect").Inc()
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSSink(conn, cfg.SubjectPrefix), nil
}

func newNATSSink(conn natsConn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "openroute.routes"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(ctx context.Context, routeID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.Publish(s.prefix+"."+routeID, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
