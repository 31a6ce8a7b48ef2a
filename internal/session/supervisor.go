package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"traderd/internal/gateway"
	"traderd/internal/util"
)

// State is the connection state owned by the Supervisor. All other
// components read it; none mutate it.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Supervisor drives the gateway link through its lifecycle: it establishes
// the connection under a bounded backoff, re-runs the reconciler's full
// re-establishment sequence on every connect, and re-invokes the same
// connect contract once per reported disconnect so the session self-heals
// from transient gateway restarts.
type Supervisor struct {
	gw      gateway.Gateway
	rec     *Reconciler
	log     *slog.Logger
	backoff util.Backoff

	state      atomic.Int32
	reconciles atomic.Int64 // completed re-establishment passes
}

// NewSupervisor creates a supervisor. Only errors classified as transient
// connection refusals are retried; everything else surfaces immediately.
func NewSupervisor(gw gateway.Gateway, rec *Reconciler, backoff util.Backoff, log *slog.Logger) *Supervisor {
	backoff.Retryable = gateway.Transient
	return &Supervisor{
		gw:      gw,
		rec:     rec,
		log:     log.With("component", "supervisor"),
		backoff: backoff,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Reconciles returns how many re-establishment passes have completed.
func (s *Supervisor) Reconciles() int64 {
	return s.reconciles.Load()
}

// connect performs one Disconnected → Connecting → Connected transition,
// retrying transient refusals under the backoff budget. Exhausting the
// budget is fatal and propagates to the caller.
func (s *Supervisor) connect(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))
	err := s.backoff.Retry(ctx, func() error {
		return s.gw.Connect(ctx)
	})
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	return nil
}

// Run connects and then supervises the link until ctx is cancelled or the
// connect budget is exhausted. The Connected state is entered when the
// link's own lifecycle event arrives; the session counts as ready only once
// the reconciler's full sequence has completed for that connect.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	lifecycle := s.gw.Lifecycle()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-lifecycle:
			if !ok {
				return errors.New("gateway lifecycle stream closed")
			}
			switch ev {
			case gateway.EventConnected:
				s.state.Store(int32(StateConnected))
				s.log.Info("gateway connected")
				if err := s.rec.Establish(ctx); err != nil {
					// Mid-session data errors are reported, not retried as
					// reconnects.
					s.log.Error("subscription re-establishment failed", "error", err)
					continue
				}
				s.reconciles.Add(1)
				s.log.Info("session ready",
					"subscriptions", s.rec.SubscriptionCount(),
					"orders", s.rec.book.Len())

			case gateway.EventDisconnected:
				s.state.Store(int32(StateDisconnected))
				s.rec.Reset()
				s.log.Warn("gateway disconnected, reconnecting")
				if err := s.connect(ctx); err != nil {
					return err
				}
			}
		}
	}
}
