package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"traderd/internal/barstore"
	"traderd/internal/catalog"
	"traderd/internal/domain"
	"traderd/internal/gateway"
)

// Reconciler re-establishes the session's subscriptions on every (re)connect
// and keeps the reserved "portfolio" universe and the set of market-data
// subscriptions consistent with the holdings the gateway reports.
//
// The whole sequence is idempotent: running it again on an already-consistent
// state adds no duplicate universe entries and no duplicate subscriptions,
// because every membership check goes through the instrument's stable key.
type Reconciler struct {
	gw        gateway.Gateway
	universes catalog.Accessor
	bars      barstore.Store
	book      *Book
	portfolio *Portfolio
	log       *slog.Logger

	historyDays int
	barSize     time.Duration
	mode        gateway.MarketDataMode

	// mu guards subs and serializes per-item reconciliation, so concurrent
	// portfolio events for the same instrument cannot both pass the
	// membership check.
	mu   sync.Mutex
	subs map[string]*barstore.Stream // instrument key → live bar stream
}

// NewReconciler wires a reconciler against the given gateway and stores.
func NewReconciler(
	gw gateway.Gateway,
	universes catalog.Accessor,
	bars barstore.Store,
	book *Book,
	portfolio *Portfolio,
	historyDays int,
	barSize time.Duration,
	mode gateway.MarketDataMode,
	log *slog.Logger,
) *Reconciler {
	return &Reconciler{
		gw:          gw,
		universes:   universes,
		bars:        bars,
		book:        book,
		portfolio:   portfolio,
		historyDays: historyDays,
		barSize:     barSize,
		mode:        mode,
		log:         log.With("component", "reconciler"),
		subs:        make(map[string]*barstore.Stream),
	}
}

// ClearPortfolioUniverse empties the reserved "portfolio" universe. Called
// once on plain (non-reconnect) startup so entries from a previous session
// do not linger.
func (r *Reconciler) ClearPortfolioUniverse(ctx context.Context) error {
	r.log.Debug("clearing portfolio universe")
	u, err := r.universes.Get(ctx, catalog.PortfolioUniverse)
	if err != nil {
		return fmt.Errorf("loading portfolio universe: %w", err)
	}
	u.Clear()
	if err := r.universes.Update(ctx, u); err != nil {
		return fmt.Errorf("clearing portfolio universe: %w", err)
	}
	return nil
}

// Establish runs the full re-establishment sequence against a freshly
// connected link:
//
//  1. attach the order-event stream to the book
//  2. attach the position stream to the portfolio
//  3. attach the portfolio-item stream, then replay the synchronous
//     portfolio snapshot through the same path (the stream alone misses
//     state that existed before subscribing)
//  4. select the desired market-data mode
//  5. replay the gateway's authoritative open orders into the book — after
//     step 1, so no order transition can slip into the gap
//
// Per-item reconciliation failures are reported and skipped; a failure of
// one of the numbered steps aborts and is returned to the supervisor, which
// reports it without treating it as a connection failure.
func (r *Reconciler) Establish(ctx context.Context) error {
	orderCh, err := r.gw.SubscribeOrderEvents(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to order events: %w", err)
	}
	go func() {
		for ev := range orderCh {
			r.book.ApplyEvent(ev)
		}
	}()

	posCh, err := r.gw.SubscribePositions(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to positions: %w", err)
	}
	go func() {
		for batch := range posCh {
			r.portfolio.UpdatePositions(batch)
		}
	}()

	pfCh, err := r.gw.SubscribePortfolio(ctx)
	if err != nil {
		return fmt.Errorf("subscribing to portfolio: %w", err)
	}
	go func() {
		for item := range pfCh {
			r.applyPortfolioItem(ctx, item)
		}
	}()

	snapshot, err := r.gw.PortfolioSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetching portfolio snapshot: %w", err)
	}
	for _, item := range snapshot {
		r.applyPortfolioItem(ctx, item)
	}

	if err := r.gw.SetMarketDataMode(ctx, r.mode); err != nil {
		return fmt.Errorf("setting market data mode: %w", err)
	}

	orders, err := r.gw.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetching open orders: %w", err)
	}
	r.book.ApplySnapshot(orders)

	return nil
}

// applyPortfolioItem routes one portfolio item into the ledger and the
// universe/subscription reconciliation step. Reconciliation errors are
// reported with the offending instrument and never abort the batch.
func (r *Reconciler) applyPortfolioItem(ctx context.Context, item domain.PortfolioItem) {
	r.portfolio.UpdateItem(item)
	if err := r.reconcileItem(ctx, item); err != nil {
		r.log.Error("reconciling portfolio item",
			"instrument", item.Instrument.Key,
			"symbol", item.Instrument.Symbol,
			"error", err)
	}
}

// reconcileItem brings the "portfolio" universe and the market-data
// subscription set in line with one observed holding. Both checks match by
// stable key, never by object identity.
func (r *Reconciler) reconcileItem(ctx context.Context, item domain.PortfolioItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := item.Instrument.Key
	u, err := r.universes.Get(ctx, catalog.PortfolioUniverse)
	if err != nil {
		return fmt.Errorf("loading portfolio universe: %w", err)
	}

	inst, member := u.Find(key)
	if !member {
		inst, err = r.gw.ResolveInstrument(ctx, key)
		if err != nil {
			return fmt.Errorf("resolving instrument details: %w", err)
		}
		u.Append(inst)
		if err := r.universes.Update(ctx, u); err != nil {
			return fmt.Errorf("persisting portfolio universe: %w", err)
		}
		r.log.Debug("added instrument to portfolio universe", "symbol", inst.Symbol, "key", key)
	}

	if _, open := r.subs[key]; open {
		return nil
	}

	// Trailing history window ending at "now" in the exchange's local zone.
	end := time.Now().In(inst.Location())
	start := startOfDay(end.AddDate(0, 0, -r.historyDays))

	barCh, err := r.gw.SubscribeBars(ctx, inst, start, r.barSize)
	if err != nil {
		return fmt.Errorf("subscribing to market data: %w", err)
	}

	stream := barstore.NewStream(inst, r.bars, r.log)
	r.subs[key] = stream
	r.log.Debug("opened market data subscription", "symbol", inst.Symbol, "start", start)

	go func() {
		if err := stream.Run(ctx, barCh); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("market data stream ended", "symbol", inst.Symbol, "error", err)
		}
		// The stream is gone (disconnect or upstream failure); drop it so the
		// next reconciliation pass reopens it.
		r.dropSub(key, stream)
	}()

	return nil
}

// Reset clears the subscription set. Called when the link drops, before the
// next establishment pass runs: the old streams end on their own once their
// channels close, but a stream still draining its closed channel must not
// satisfy the membership check and mask the reopen.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) > 0 {
		r.log.Debug("dropping market data subscriptions", "count", len(r.subs))
	}
	r.subs = make(map[string]*barstore.Stream)
}

// dropSub removes the subscription entry if it still refers to the given
// stream. A newer stream opened for the same key is left in place.
func (r *Reconciler) dropSub(key string, stream *barstore.Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[key] == stream {
		delete(r.subs, key)
	}
}

// Subscription returns the live market-data stream for an instrument key.
func (r *Reconciler) Subscription(key string) (*barstore.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[key]
	return s, ok
}

// SubscriptionCount returns the number of live market-data subscriptions.
func (r *Reconciler) SubscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
