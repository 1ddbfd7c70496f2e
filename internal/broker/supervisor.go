package broker

import (
	"context"
	"time"

	"github.com/inferflow/inferflow/internal/logging"
	"github.com/inferflow/inferflow/internal/metrics"
)

// InitFunc re-runs the full initialization sequence: connect, declare the
// queue topology, re-attach consumers. It must be safe to call repeatedly.
type InitFunc func(ctx context.Context) error

// Supervisor watches the connection for close signals and re-runs the
// initialization sequence after a fixed delay. In-memory registry state is
// deliberately not replayed from the broker: chunks that were mid-flight
// during the outage are lost from the caller's point of view.
type Supervisor struct {
	conn   *Connection
	delay  time.Duration
	logger logging.ServiceLogger
	reinit InitFunc
}

func NewSupervisor(conn *Connection, delay time.Duration, logger logging.ServiceLogger, reinit InitFunc) *Supervisor {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &Supervisor{
		conn:   conn,
		delay:  delay,
		logger: logger,
		reinit: reinit,
	}
}

// Run blocks until the context is cancelled, recovering the connection every
// time it drops.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.conn.NotifyClose():
			s.logger.Warn("Broker connection lost, scheduling re-initialization", logging.LogFields{
				"error": err,
				"delay": s.delay.String(),
			})
			if !s.recover(ctx) {
				return
			}
		}
	}
}

// recover retries the init sequence with the fixed delay until it succeeds
// or the context is cancelled.
func (s *Supervisor) recover(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.delay):
		}

		if err := s.reinit(ctx); err != nil {
			s.logger.Error("Broker re-initialization failed, retrying", err, logging.LogFields{
				"delay": s.delay.String(),
			})
			continue
		}

		metrics.Reconnects.Inc()
		s.logger.Info("Broker connection re-established", nil)
		return true
	}
}
