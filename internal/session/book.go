package session

import (
	"log/slog"
	"sync"

	"traderd/internal/domain"
	"traderd/internal/gateway"
)

// Book is the mutable order/trade ledger for one session. It is populated on
// each (re)connect from the gateway's authoritative open-orders snapshot and
// kept current by streamed order lifecycle events. Updates are additive and
// idempotent; an order is never silently dropped.
type Book struct {
	mu     sync.RWMutex
	log    *slog.Logger
	orders map[string]domain.Order
	fills  map[string][]domain.Fill
}

// NewBook creates an empty book.
func NewBook(log *slog.Logger) *Book {
	return &Book{
		log:    log.With("component", "book"),
		orders: make(map[string]domain.Order),
		fills:  make(map[string][]domain.Fill),
	}
}

// ApplySnapshot upserts every order from an authoritative gateway snapshot.
// Replaying the same snapshot twice leaves the book unchanged.
func (b *Book) ApplySnapshot(orders []domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		b.orders[o.ID] = o
	}
}

// Add records an order this session just placed, before any gateway event
// for it arrives.
func (b *Book) Add(order domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[order.ID] = order
}

// ApplyEvent folds one streamed order lifecycle event into the book. An
// event carrying a status the session does not recognise is logged and the
// previously known status retained — the order itself is never discarded.
func (b *Book) ApplyEvent(ev gateway.OrderEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order := ev.Order
	if !knownStatus(order.Status) {
		b.log.Warn("unknown order status transition",
			"order_id", order.ID, "raw_status", ev.RawStatus)
		if prev, ok := b.orders[order.ID]; ok {
			order.Status = prev.Status
		} else {
			order.Status = domain.OrderStatusSubmitted
		}
	}
	b.orders[order.ID] = order

	if ev.Fill != nil {
		b.fills[order.ID] = append(b.fills[order.ID], *ev.Fill)
	}
}

// Order returns the order with the given id.
func (b *Book) Order(id string) (domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// Trade returns the order with its fills so far.
func (b *Book) Trade(id string) (domain.Trade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return domain.Trade{}, false
	}
	return domain.Trade{
		Order: o,
		Fills: append([]domain.Fill(nil), b.fills[id]...),
	}, true
}

// OpenOrders returns all orders not yet in a terminal state.
func (b *Book) OpenOrders() []domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.Order
	for _, o := range b.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// Len returns the number of orders known to the book.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

func knownStatus(s domain.OrderStatus) bool {
	switch s {
	case domain.OrderStatusSubmitted, domain.OrderStatusOpen,
		domain.OrderStatusFilled, domain.OrderStatusCancelled,
		domain.OrderStatusRejected:
		return true
	}
	return false
}
