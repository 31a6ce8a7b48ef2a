// Package session is the live state layer of the trading client: it owns
// the gateway link, keeps the order book, portfolio, instrument catalog, and
// market-data subscriptions consistent across disconnect/reconnect cycles,
// and exposes the place/cancel/status command surface to strategy code.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"traderd/internal/barstore"
	"traderd/internal/catalog"
	"traderd/internal/gateway"
	"traderd/internal/util"
)

// Options configures a session.
type Options struct {
	Account     string
	LiveData    bool          // false selects delayed market data
	HistoryDays int           // trailing backfill window for new holdings
	BarSize     time.Duration // bar size for market-data subscriptions
	Backoff     util.Backoff  // connect retry bounds
}

// Session is one explicitly constructed trading session with injected
// dependencies. Multiple independent sessions can coexist in a process;
// each gets its own client id, book, and portfolio.
type Session struct {
	id        string
	gw        gateway.Gateway
	universes catalog.Accessor
	bars      barstore.Store
	book      *Book
	portfolio *Portfolio
	rec       *Reconciler
	sup       *Supervisor
	log       *slog.Logger
}

// Status is the minimal health read exposed upward.
type Status struct {
	GatewayConnected bool `json:"gateway_connected"`
	StoreConnected   bool `json:"store_connected"`
}

// New creates a session over the given gateway and stores. Nothing connects
// until Run is called.
func New(gw gateway.Gateway, universes catalog.Accessor, bars barstore.Store, opts Options, log *slog.Logger) *Session {
	if opts.HistoryDays == 0 {
		opts.HistoryDays = 30
	}
	if opts.BarSize == 0 {
		opts.BarSize = time.Minute
	}

	mode := gateway.ModeDelayed
	if opts.LiveData {
		mode = gateway.ModeLive
	}

	id := uuid.NewString()
	log = log.With("session", id[:8])

	book := NewBook(log)
	portfolio := NewPortfolio()
	rec := NewReconciler(gw, universes, bars, book, portfolio,
		opts.HistoryDays, opts.BarSize, mode, log)
	sup := NewSupervisor(gw, rec, opts.Backoff, log)

	return &Session{
		id:        id,
		gw:        gw,
		universes: universes,
		bars:      bars,
		book:      book,
		portfolio: portfolio,
		rec:       rec,
		sup:       sup,
		log:       log,
	}
}

// ID returns the session's owning client id.
func (s *Session) ID() string { return s.id }

// Book returns the session's order ledger.
func (s *Session) Book() *Book { return s.book }

// Portfolio returns the session's holdings ledger.
func (s *Session) Portfolio() *Portfolio { return s.portfolio }

// Run clears the reserved portfolio universe (plain startup, not reconnect)
// and then supervises the link until ctx is cancelled or the connect budget
// is exhausted. Budget exhaustion propagates to the caller.
func (s *Session) Run(ctx context.Context) error {
	if err := s.rec.ClearPortfolioUniverse(ctx); err != nil {
		return err
	}
	return s.sup.Run(ctx)
}

// Reconnect forces a reconnect by dropping the link; the resulting
// disconnect event drives the supervisor's normal reconnect path.
func (s *Session) Reconnect() error {
	return s.gw.Close()
}

// IsConnected reports current gateway link health.
func (s *Session) IsConnected() bool {
	return s.gw.IsConnected()
}

// ConnectionState returns the supervisor's connection state.
func (s *Session) ConnectionState() State {
	return s.sup.State()
}

// Status returns the minimal health read: gateway link health and a
// writability check on the bar store.
func (s *Session) Status(ctx context.Context) Status {
	return Status{
		GatewayConnected: s.gw.IsConnected(),
		StoreConnected:   s.bars != nil && s.bars.Ping(ctx) == nil,
	}
}

// GlobalCancel cancels every open order on the gateway, regardless of owner.
func (s *Session) GlobalCancel(ctx context.Context) error {
	s.log.Warn("global cancel requested")
	return s.gw.GlobalCancel(ctx)
}

// Universes returns all persisted instrument universes.
func (s *Session) Universes(ctx context.Context) ([]*catalog.Universe, error) {
	return s.universes.List(ctx)
}
