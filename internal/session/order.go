package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"traderd/internal/domain"
	"traderd/internal/observer"
)

// ErrUnknownOrder is returned by CancelOrder for an order id the book has
// never seen.
var ErrUnknownOrder = errors.New("session: unknown order")

// ErrNotOwner is returned by CancelOrder when the order belongs to a
// different session. No gateway call is made.
var ErrNotOwner = errors.New("session: order owned by another session")

// OrderRequest describes a notional-sized order: spend (or raise) roughly
// Notional at the next observed price.
type OrderRequest struct {
	Instrument domain.Instrument
	Side       domain.Side
	Notional   decimal.Decimal

	// Debug nudges the limit price 10% away from the observed price (down
	// for buys, up for sells) so paper experiments never execute.
	Debug bool
}

var one = decimal.NewFromInt(1)

// notionalQty computes an order quantity from notional/price, rounded to
// whole units. A computed quantity strictly between 0 and 1 is floored to
// one unit so a small notional still produces a tradable order.
func notionalQty(notional, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	qty := notional.Div(price)
	if qty.IsPositive() && qty.LessThan(one) {
		return one, nil
	}
	return qty.Round(0), nil
}

// debugLimit moves the limit price 10% against execution and rounds to
// cents.
func debugLimit(price decimal.Decimal, side domain.Side) decimal.Decimal {
	factor := decimal.NewFromFloat(1.1)
	if side == domain.SideBuy {
		factor = decimal.NewFromFloat(0.9)
	}
	return price.Mul(factor).Round(2)
}

// PlaceNotionalOrder fetches exactly one price snapshot for the instrument,
// sizes a limit order from the request's notional amount at the observed
// bid, submits it, and returns a CachedObserver bound to the order's
// trade-result stream. Callers await the result with WaitValue.
func (s *Session) PlaceNotionalOrder(ctx context.Context, req OrderRequest) (*observer.Cached[domain.Trade], error) {
	quotes, err := s.gw.SubscribeQuotes(ctx, req.Instrument.Symbol)
	if err != nil {
		return nil, fmt.Errorf("subscribing to quotes for %s: %w", req.Instrument.Symbol, err)
	}

	// Bounded to exactly one observed value.
	quote, err := observer.First(ctx, quotes)
	if err != nil {
		return nil, fmt.Errorf("awaiting price snapshot for %s: %w", req.Instrument.Symbol, err)
	}

	price := decimal.NewFromFloat(quote.Bid)
	qty, err := notionalQty(req.Notional, price)
	if err != nil {
		return nil, fmt.Errorf("sizing order for %s: %w", req.Instrument.Symbol, err)
	}

	limit := price
	if req.Debug {
		limit = debugLimit(price, req.Side)
	}

	now := time.Now()
	order := domain.Order{
		ID:            newOrderID(),
		ClientID:      s.id,
		InstrumentKey: req.Instrument.Key,
		Symbol:        req.Instrument.Symbol,
		Side:          req.Side,
		Type:          domain.OrderTypeLimit,
		Qty:           qty,
		LimitPrice:    limit,
		Status:        domain.OrderStatusSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.log.Debug("placing notional order",
		"symbol", order.Symbol, "side", order.Side,
		"qty", qty.String(), "limit", limit.String(), "bid", quote.Bid)

	trades, err := s.gw.PlaceOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("placing order for %s: %w", req.Instrument.Symbol, err)
	}
	s.book.Add(order)

	result := observer.NewCached[domain.Trade]()
	result.Subscribe(trades)
	return result, nil
}

// CancelOrder requests cancellation of an order placed by this session. A
// cancel for an order owned by a different client id is rejected without
// any gateway call.
func (s *Session) CancelOrder(ctx context.Context, orderID string) error {
	order, ok := s.book.Order(orderID)
	if !ok {
		return fmt.Errorf("cancelling %s: %w", orderID, ErrUnknownOrder)
	}
	if order.ClientID != s.id {
		s.log.Error("cancel rejected: client id mismatch",
			"order_id", orderID, "owner", order.ClientID)
		return fmt.Errorf("cancelling %s (owner %s): %w", orderID, order.ClientID, ErrNotOwner)
	}
	s.log.Info("cancelling order", "order_id", orderID, "symbol", order.Symbol)
	return s.gw.CancelOrder(ctx, orderID)
}

var (
	orderIDMu    sync.Mutex
	orderEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newOrderID returns a time-sortable client order id. The monotonic entropy
// source is not safe for concurrent use, hence the lock.
func newOrderID() string {
	orderIDMu.Lock()
	defer orderIDMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), orderEntropy).String()
}
