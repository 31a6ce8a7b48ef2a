// Package gateway defines the event/command surface of the remote brokerage
// gateway. The session core depends only on this interface, never on a wire
// protocol or SDK directly.
package gateway

import (
	"context"
	"errors"
	"time"

	"traderd/internal/domain"
	"traderd/internal/observer"
)

// Event is a connection lifecycle notification raised by the gateway link.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// MarketDataMode selects live or delayed market data.
type MarketDataMode int

const (
	ModeDelayed MarketDataMode = iota
	ModeLive
)

// OrderEvent is one order lifecycle transition streamed by the gateway.
// RawStatus preserves the gateway's own status string so unknown transitions
// can be logged without being discarded.
type OrderEvent struct {
	Order     domain.Order
	RawStatus string
	Fill      *domain.Fill
	Time      time.Time
}

// ErrConnectionRefused marks a transient connection failure (refused/reset).
// The supervisor retries these under its backoff budget; any other connect
// error is fatal.
var ErrConnectionRefused = errors.New("gateway: connection refused")

// ErrNotConnected is returned by stream and command calls made while the
// link is down.
var ErrNotConnected = errors.New("gateway: not connected")

// Transient reports whether err should be retried as a connection failure.
func Transient(err error) bool {
	return errors.Is(err, ErrConnectionRefused)
}

// Gateway is the full brokerage surface: lifecycle, event streams, snapshot
// queries, and commands.
//
// Stream channels are closed when the subscription ends; element types that
// can fail mid-stream are wrapped in observer.Item so upstream errors reach
// consumers in-band.
type Gateway interface {
	// Connect establishes the physical link. A refused/reset attempt returns
	// an error matching ErrConnectionRefused.
	Connect(ctx context.Context) error

	// Close drops the link. A Disconnected lifecycle event follows.
	Close() error

	// IsConnected reports current link health.
	IsConnected() bool

	// Lifecycle returns the stream of connected/disconnected events. The
	// channel is owned by the gateway and shared by all callers.
	Lifecycle() <-chan Event

	// SubscribePositions streams position batches for the session's account.
	SubscribePositions(ctx context.Context) (<-chan []domain.Position, error)

	// SubscribePortfolio streams portfolio item updates.
	SubscribePortfolio(ctx context.Context) (<-chan domain.PortfolioItem, error)

	// SubscribeOrderEvents streams order lifecycle transitions.
	SubscribeOrderEvents(ctx context.Context) (<-chan OrderEvent, error)

	// SubscribeQuotes streams quote ticks for one symbol.
	SubscribeQuotes(ctx context.Context, symbol string) (<-chan observer.Item[domain.Quote], error)

	// SubscribeBars streams bars for one instrument: a historical backfill
	// from start at the given bar size, then live bars as they form.
	SubscribeBars(ctx context.Context, inst domain.Instrument, start time.Time, barSize time.Duration) (<-chan observer.Item[domain.Bar], error)

	// PortfolioSnapshot returns the gateway's current synchronous view of
	// all portfolio items.
	PortfolioSnapshot(ctx context.Context) ([]domain.PortfolioItem, error)

	// OpenOrders returns the gateway's authoritative list of open orders.
	OpenOrders(ctx context.Context) ([]domain.Order, error)

	// ResolveInstrument resolves full instrument details for a stable key or
	// symbol against the gateway's reference data.
	ResolveInstrument(ctx context.Context, keyOrSymbol string) (domain.Instrument, error)

	// SetMarketDataMode selects live vs delayed market data for the link.
	SetMarketDataMode(ctx context.Context, mode MarketDataMode) error

	// PlaceOrder submits an order and returns the stream of trade updates
	// for it. Events and snapshots for an order placed through the gateway
	// carry the caller's order id and client id, whatever ids the upstream
	// broker assigns internally.
	PlaceOrder(ctx context.Context, order domain.Order) (<-chan observer.Item[domain.Trade], error)

	// CancelOrder requests cancellation of an open order by the order id
	// it was placed under.
	CancelOrder(ctx context.Context, orderID string) error

	// GlobalCancel cancels every open order on the link, regardless of
	// owning session.
	GlobalCancel(ctx context.Context) error
}
