// Package sim provides an in-memory scripted Gateway used by session tests
// and paper experiments. Tests preload reference data, portfolio snapshots,
// and open orders, then drive the event streams by hand.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"traderd/internal/domain"
	"traderd/internal/gateway"
	"traderd/internal/observer"
)

// Compile-time interface check.
var _ gateway.Gateway = (*Gateway)(nil)

// Gateway is a scripted in-memory gateway.
type Gateway struct {
	mu sync.Mutex

	connected bool
	refuses   int // connect attempts left to refuse

	lifecycle chan gateway.Event

	instruments map[string]domain.Instrument // by key and by symbol
	portfolio   []domain.PortfolioItem
	openOrders  []domain.Order
	quotes      map[string]domain.Quote
	history     map[string][]domain.Bar // symbol → scripted historical bars

	positionSubs  []chan []domain.Position
	portfolioSubs []chan domain.PortfolioItem
	orderSubs     []chan gateway.OrderEvent
	quoteSubs     map[string][]chan observer.Item[domain.Quote]
	barSubs       map[string][]chan observer.Item[domain.Bar] // by instrument key

	trades map[string]chan observer.Item[domain.Trade] // order id → trade stream

	mode        gateway.MarketDataMode
	nextOrderID int

	callLog     []string
	cancelCalls int
}

// New creates an empty simulated gateway.
func New() *Gateway {
	return &Gateway{
		lifecycle:   make(chan gateway.Event, 16),
		instruments: make(map[string]domain.Instrument),
		quotes:      make(map[string]domain.Quote),
		history:     make(map[string][]domain.Bar),
		quoteSubs:   make(map[string][]chan observer.Item[domain.Quote]),
		barSubs:     make(map[string][]chan observer.Item[domain.Bar]),
		trades:      make(map[string]chan observer.Item[domain.Trade]),
	}
}

// ---------------------------------------------------------------------------
// Scripting surface (test-side)
// ---------------------------------------------------------------------------

// RefuseConnects makes the next n Connect calls fail with
// gateway.ErrConnectionRefused.
func (g *Gateway) RefuseConnects(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refuses = n
}

// AddInstrument registers reference data resolvable by key or symbol.
func (g *Gateway) AddInstrument(inst domain.Instrument) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instruments[inst.Key] = inst
	g.instruments[inst.Symbol] = inst
}

// SetPortfolio sets the synchronous portfolio snapshot.
func (g *Gateway) SetPortfolio(items ...domain.PortfolioItem) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.portfolio = items
}

// SetOpenOrders sets the authoritative open-orders snapshot.
func (g *Gateway) SetOpenOrders(orders ...domain.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openOrders = orders
}

// SetQuote scripts the quote delivered to new quote subscriptions.
func (g *Gateway) SetQuote(q domain.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[q.Symbol] = q
}

// SetHistory scripts the historical bars replayed by SubscribeBars.
func (g *Gateway) SetHistory(symbol string, bars []domain.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history[symbol] = bars
}

// EmitPositions pushes a position batch to all position subscribers.
func (g *Gateway) EmitPositions(batch []domain.Position) {
	g.mu.Lock()
	subs := append([]chan []domain.Position(nil), g.positionSubs...)
	g.mu.Unlock()
	for _, ch := range subs {
		ch <- batch
	}
}

// EmitPortfolioItem pushes one portfolio item to all portfolio subscribers.
func (g *Gateway) EmitPortfolioItem(item domain.PortfolioItem) {
	g.mu.Lock()
	subs := append([]chan domain.PortfolioItem(nil), g.portfolioSubs...)
	g.mu.Unlock()
	for _, ch := range subs {
		ch <- item
	}
}

// EmitOrderEvent pushes one order event to all order subscribers.
func (g *Gateway) EmitOrderEvent(ev gateway.OrderEvent) {
	g.mu.Lock()
	subs := append([]chan gateway.OrderEvent(nil), g.orderSubs...)
	g.mu.Unlock()
	for _, ch := range subs {
		ch <- ev
	}
}

// EmitTrade pushes a trade update onto the stream returned by PlaceOrder.
func (g *Gateway) EmitTrade(orderID string, item observer.Item[domain.Trade]) {
	g.mu.Lock()
	ch := g.trades[orderID]
	g.mu.Unlock()
	if ch != nil {
		ch <- item
	}
}

// DropLink simulates a gateway restart: the link goes down, every open
// stream ends, and a Disconnected lifecycle event is raised.
func (g *Gateway) DropLink() {
	g.mu.Lock()
	g.connected = false
	g.closeStreamsLocked()
	g.mu.Unlock()
	g.lifecycle <- gateway.EventDisconnected
}

// closeStreamsLocked ends every subscription stream. Callers hold g.mu.
func (g *Gateway) closeStreamsLocked() {
	for _, ch := range g.positionSubs {
		close(ch)
	}
	g.positionSubs = nil
	for _, ch := range g.portfolioSubs {
		close(ch)
	}
	g.portfolioSubs = nil
	for _, ch := range g.orderSubs {
		close(ch)
	}
	g.orderSubs = nil
	for sym, subs := range g.quoteSubs {
		for _, ch := range subs {
			close(ch)
		}
		delete(g.quoteSubs, sym)
	}
	for key, subs := range g.barSubs {
		for _, ch := range subs {
			close(ch)
		}
		delete(g.barSubs, key)
	}
}

// CallLog returns the ordered list of gateway calls made so far.
func (g *Gateway) CallLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.callLog...)
}

// CancelCalls returns how many CancelOrder calls reached the gateway.
func (g *Gateway) CancelCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelCalls
}

// BarSubscriptions returns the number of live bar streams per instrument key.
func (g *Gateway) BarSubscriptions() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.barSubs))
	for key, subs := range g.barSubs {
		out[key] = len(subs)
	}
	return out
}

// Mode returns the currently selected market-data mode.
func (g *Gateway) Mode() gateway.MarketDataMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

func (g *Gateway) logCall(name string) {
	g.callLog = append(g.callLog, name)
}

// ---------------------------------------------------------------------------
// gateway.Gateway implementation
// ---------------------------------------------------------------------------

// Connect establishes the simulated link, refusing while scripted to do so.
func (g *Gateway) Connect(_ context.Context) error {
	g.mu.Lock()
	g.logCall("connect")
	if g.refuses > 0 {
		g.refuses--
		g.mu.Unlock()
		return fmt.Errorf("dialing sim gateway: %w", gateway.ErrConnectionRefused)
	}
	g.connected = true
	g.mu.Unlock()
	g.lifecycle <- gateway.EventConnected
	return nil
}

// Close drops the link without scripting a reconnect.
func (g *Gateway) Close() error {
	g.DropLink()
	return nil
}

// IsConnected reports the simulated link state.
func (g *Gateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Lifecycle returns the lifecycle event stream.
func (g *Gateway) Lifecycle() <-chan gateway.Event {
	return g.lifecycle
}

// SubscribePositions opens a position stream.
func (g *Gateway) SubscribePositions(_ context.Context) (<-chan []domain.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	g.logCall("subscribe_positions")
	ch := make(chan []domain.Position, 16)
	g.positionSubs = append(g.positionSubs, ch)
	return ch, nil
}

// SubscribePortfolio opens a portfolio item stream.
func (g *Gateway) SubscribePortfolio(_ context.Context) (<-chan domain.PortfolioItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	g.logCall("subscribe_portfolio")
	ch := make(chan domain.PortfolioItem, 16)
	g.portfolioSubs = append(g.portfolioSubs, ch)
	return ch, nil
}

// SubscribeOrderEvents opens an order lifecycle stream.
func (g *Gateway) SubscribeOrderEvents(_ context.Context) (<-chan gateway.OrderEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	g.logCall("subscribe_orders")
	ch := make(chan gateway.OrderEvent, 16)
	g.orderSubs = append(g.orderSubs, ch)
	return ch, nil
}

// SubscribeQuotes opens a quote stream primed with the scripted quote.
func (g *Gateway) SubscribeQuotes(_ context.Context, symbol string) (<-chan observer.Item[domain.Quote], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	g.logCall("subscribe_quotes:" + symbol)
	ch := make(chan observer.Item[domain.Quote], 16)
	if q, ok := g.quotes[symbol]; ok {
		ch <- observer.Item[domain.Quote]{Value: q}
	}
	g.quoteSubs[symbol] = append(g.quoteSubs[symbol], ch)
	return ch, nil
}

// SubscribeBars replays scripted history, then stays open for live bars.
func (g *Gateway) SubscribeBars(_ context.Context, inst domain.Instrument, start time.Time, _ time.Duration) (<-chan observer.Item[domain.Bar], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	g.logCall("subscribe_bars:" + inst.Symbol)
	history := g.history[inst.Symbol]
	ch := make(chan observer.Item[domain.Bar], len(history)+16)
	for _, b := range history {
		if b.Timestamp.Before(start) {
			continue
		}
		ch <- observer.Item[domain.Bar]{Value: b}
	}
	g.barSubs[inst.Key] = append(g.barSubs[inst.Key], ch)
	return ch, nil
}

// PortfolioSnapshot returns the scripted portfolio.
func (g *Gateway) PortfolioSnapshot(_ context.Context) ([]domain.PortfolioItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	g.logCall("portfolio_snapshot")
	return append([]domain.PortfolioItem(nil), g.portfolio...), nil
}

// OpenOrders returns the scripted open-orders snapshot.
func (g *Gateway) OpenOrders(_ context.Context) ([]domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	g.logCall("open_orders")
	return append([]domain.Order(nil), g.openOrders...), nil
}

// ResolveInstrument looks up scripted reference data by key or symbol.
func (g *Gateway) ResolveInstrument(_ context.Context, keyOrSymbol string) (domain.Instrument, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logCall("resolve:" + keyOrSymbol)
	inst, ok := g.instruments[keyOrSymbol]
	if !ok {
		return domain.Instrument{}, fmt.Errorf("resolving %q: unknown instrument", keyOrSymbol)
	}
	return inst, nil
}

// SetMarketDataMode records the requested mode.
func (g *Gateway) SetMarketDataMode(_ context.Context, mode gateway.MarketDataMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return gateway.ErrNotConnected
	}
	g.logCall("set_market_data_mode")
	g.mode = mode
	return nil
}

// PlaceOrder accepts the order and returns its trade-update stream. Tests
// complete the trade via EmitTrade.
func (g *Gateway) PlaceOrder(_ context.Context, order domain.Order) (<-chan observer.Item[domain.Trade], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return nil, gateway.ErrNotConnected
	}
	if order.ID == "" {
		g.nextOrderID++
		order.ID = fmt.Sprintf("sim-%d", g.nextOrderID)
	}
	g.logCall("place_order:" + order.ID)
	order.Status = domain.OrderStatusSubmitted
	g.openOrders = append(g.openOrders, order)

	ch := make(chan observer.Item[domain.Trade], 16)
	ch <- observer.Item[domain.Trade]{Value: domain.Trade{Order: order}}
	g.trades[order.ID] = ch
	return ch, nil
}

// CancelOrder records the cancellation request.
func (g *Gateway) CancelOrder(_ context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return gateway.ErrNotConnected
	}
	g.logCall("cancel_order:" + orderID)
	g.cancelCalls++
	return nil
}

// GlobalCancel cancels all scripted open orders.
func (g *Gateway) GlobalCancel(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return gateway.ErrNotConnected
	}
	g.logCall("global_cancel")
	g.openOrders = nil
	return nil
}
