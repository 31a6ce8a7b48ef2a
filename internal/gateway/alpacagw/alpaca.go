// Package alpacagw implements the brokerage gateway over the Alpaca API:
// the trading client for orders, positions, and reference data, the
// trade-update stream for order events, the market-data client for quote
// snapshots and historical bars, and the stocks stream client for live bars.
package alpacagw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	mdstream "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"

	"traderd/internal/domain"
	"traderd/internal/gateway"
	"traderd/internal/observer"
	"traderd/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gateway.Gateway = (*Gateway)(nil)

// positionPollInterval is how often the position stream re-reads the
// positions endpoint. Alpaca has no push stream for positions.
const positionPollInterval = 15 * time.Second

// Options configures the Alpaca gateway.
type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API
	DataURL   string // market-data API
	Feed      string // live market-data feed ("sip" or "iex")
	Account   string
	RateLimit *util.RateLimiter
}

// Gateway is the Alpaca-backed implementation of gateway.Gateway. One
// Gateway owns one physical link: the trade-update stream plus the stocks
// market-data stream. Snapshot and reference calls go over plain HTTP and
// are paced by the rate limiter.
type Gateway struct {
	opts    Options
	trading *alpaca.Client
	md      *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger

	lifecycle chan gateway.Event
	connected atomic.Bool
	mode      atomic.Int32

	mu        sync.Mutex
	cancelRun context.CancelFunc
	stocks    *mdstream.StocksClient
	orderSubs []chan gateway.OrderEvent
	posSubs   []chan []domain.Position
	itemSubs  []chan domain.PortfolioItem
	barSubs   map[string][]chan observer.Item[domain.Bar] // by symbol
	tradeSubs map[string]chan observer.Item[domain.Trade] // by session order id
	placed    map[string]*placedOrder                     // by session order id
}

// placedOrder records the identity of an order placed through this gateway:
// the owning session and the id Alpaca assigned. The session's own order id
// travels as Alpaca's client order id and keys this map, so trade updates
// and snapshots can be rewritten back onto the session's ids.
type placedOrder struct {
	owner    string
	brokerID string
}

// New creates a disconnected Gateway. Call Connect to bring the link up.
func New(opts Options) *Gateway {
	limiter := opts.RateLimit
	if limiter == nil {
		limiter = util.NewRateLimiter(200)
	}
	return &Gateway{
		opts: opts,
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		md: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.DataURL,
		}),
		limiter:   limiter,
		log:       slog.Default().With("gateway", "alpaca"),
		lifecycle: make(chan gateway.Event, 8),
		barSubs:   make(map[string][]chan observer.Item[domain.Bar]),
		tradeSubs: make(map[string]chan observer.Item[domain.Trade]),
		placed:    make(map[string]*placedOrder),
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect dials the stocks market-data stream and starts the trade-update
// stream. Refused or reset dials are reported as transient so the
// supervisor retries them.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.connected.Load() {
		g.mu.Unlock()
		return nil
	}

	stocks := mdstream.NewStocksClient(
		g.feed(),
		mdstream.WithCredentials(g.opts.APIKey, g.opts.APISecret),
	)
	if err := stocks.Connect(ctx); err != nil {
		g.mu.Unlock()
		return wrapDialError(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.stocks = stocks
	g.cancelRun = cancel
	g.connected.Store(true)
	g.mu.Unlock()

	go g.runTradeUpdates(runCtx)
	go g.watchTermination(runCtx, stocks)

	g.emit(gateway.EventConnected)
	g.log.Info("link established", "feed", g.feed())
	return nil
}

// Close drops the link and closes every open stream.
func (g *Gateway) Close() error {
	g.dropLink()
	return nil
}

// IsConnected reports current link health.
func (g *Gateway) IsConnected() bool { return g.connected.Load() }

// Lifecycle returns the shared stream of connection events.
func (g *Gateway) Lifecycle() <-chan gateway.Event { return g.lifecycle }

func (g *Gateway) emit(ev gateway.Event) {
	select {
	case g.lifecycle <- ev:
	default:
		g.log.Warn("lifecycle event dropped", "event", ev)
	}
}

// dropLink tears down the streams, closes all subscriber channels, and
// emits a Disconnected event. Idempotent.
func (g *Gateway) dropLink() {
	g.mu.Lock()
	if !g.connected.Load() {
		g.mu.Unlock()
		return
	}
	g.connected.Store(false)
	if g.cancelRun != nil {
		g.cancelRun()
		g.cancelRun = nil
	}
	g.stocks = nil

	for _, ch := range g.orderSubs {
		close(ch)
	}
	g.orderSubs = nil
	for _, ch := range g.posSubs {
		close(ch)
	}
	g.posSubs = nil
	for _, ch := range g.itemSubs {
		close(ch)
	}
	g.itemSubs = nil
	for _, subs := range g.barSubs {
		for _, ch := range subs {
			close(ch)
		}
	}
	g.barSubs = make(map[string][]chan observer.Item[domain.Bar])
	for _, ch := range g.tradeSubs {
		close(ch)
	}
	g.tradeSubs = make(map[string]chan observer.Item[domain.Trade])
	g.mu.Unlock()

	g.emit(gateway.EventDisconnected)
	g.log.Info("link dropped")
}

// watchTermination waits for the stocks stream to terminate and drops the
// link when it does.
func (g *Gateway) watchTermination(ctx context.Context, stocks *mdstream.StocksClient) {
	select {
	case <-ctx.Done():
	case err := <-stocks.Terminated():
		if err != nil {
			g.log.Error("market data stream terminated", "error", err)
		}
		g.dropLink()
	}
}

// wrapDialError classifies a connect failure. Refused and reset dials are
// transient; anything else is fatal.
func wrapDialError(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %v", gateway.ErrConnectionRefused, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", gateway.ErrConnectionRefused, err)
	}
	return fmt.Errorf("connecting to alpaca: %w", err)
}

// ---------------------------------------------------------------------------
// Order events
// ---------------------------------------------------------------------------

// runTradeUpdates consumes the Alpaca trade-update stream and fans events
// out to order-event subscribers and per-order trade channels.
func (g *Gateway) runTradeUpdates(ctx context.Context) {
	err := g.trading.StreamTradeUpdates(ctx, func(tu alpaca.TradeUpdate) {
		g.dispatchTradeUpdate(tu)
	}, alpaca.StreamTradeUpdatesRequest{})
	if err != nil && ctx.Err() == nil {
		g.log.Error("trade update stream failed", "error", err)
		g.dropLink()
	}
}

func (g *Gateway) dispatchTradeUpdate(tu alpaca.TradeUpdate) {
	ev := gateway.OrderEvent{
		Order:     g.normalize(convertOrder(tu.Order)),
		RawStatus: tu.Event,
		Time:      tu.At,
	}
	if tu.Price != nil && tu.Qty != nil {
		ev.Fill = &domain.Fill{Time: tu.At, Qty: *tu.Qty, Price: *tu.Price}
	}

	g.mu.Lock()
	subs := make([]chan gateway.OrderEvent, len(g.orderSubs))
	copy(subs, g.orderSubs)
	tradeCh := g.tradeSubs[ev.Order.ID]
	g.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			g.log.Warn("order event dropped, slow subscriber", "order_id", ev.Order.ID)
		}
	}
	if tradeCh != nil {
		trade := domain.Trade{Order: ev.Order}
		if ev.Fill != nil {
			trade.Fills = append(trade.Fills, *ev.Fill)
		}
		select {
		case tradeCh <- observer.Item[domain.Trade]{Value: trade}:
		default:
		}
		if ev.Order.Status.Terminal() {
			g.mu.Lock()
			delete(g.tradeSubs, ev.Order.ID)
			g.mu.Unlock()
			close(tradeCh)
		}
	}
}

// SubscribeOrderEvents streams order lifecycle transitions from the
// trade-update stream.
func (g *Gateway) SubscribeOrderEvents(ctx context.Context) (<-chan gateway.OrderEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected.Load() {
		return nil, gateway.ErrNotConnected
	}
	ch := make(chan gateway.OrderEvent, 64)
	g.orderSubs = append(g.orderSubs, ch)
	return ch, nil
}

// ---------------------------------------------------------------------------
// Positions and portfolio
// ---------------------------------------------------------------------------

// SubscribePositions polls the positions endpoint and streams full batches.
// The first batch is fetched immediately so subscribers see the current
// state without waiting a poll interval.
func (g *Gateway) SubscribePositions(ctx context.Context) (<-chan []domain.Position, error) {
	if !g.connected.Load() {
		return nil, gateway.ErrNotConnected
	}
	ch := make(chan []domain.Position, 4)
	g.mu.Lock()
	g.posSubs = append(g.posSubs, ch)
	g.mu.Unlock()

	go g.pollPositions(ctx, ch)
	return ch, nil
}

func (g *Gateway) pollPositions(ctx context.Context, ch chan []domain.Position) {
	ticker := time.NewTicker(positionPollInterval)
	defer ticker.Stop()
	for {
		positions, err := g.fetchPositions(ctx)
		if err != nil {
			if ctx.Err() != nil || !g.connected.Load() {
				return
			}
			g.log.Warn("position poll failed", "error", err)
		} else {
			select {
			case ch <- positions:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) fetchPositions(ctx context.Context) ([]domain.Position, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := g.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	out := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, domain.Position{
			Account:       g.opts.Account,
			InstrumentKey: p.AssetID,
			Symbol:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			AvgCost:       p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

// SubscribePortfolio streams portfolio item updates, derived from the same
// position poll with the broker's current valuation attached.
func (g *Gateway) SubscribePortfolio(ctx context.Context) (<-chan domain.PortfolioItem, error) {
	if !g.connected.Load() {
		return nil, gateway.ErrNotConnected
	}
	ch := make(chan domain.PortfolioItem, 16)
	g.mu.Lock()
	g.itemSubs = append(g.itemSubs, ch)
	g.mu.Unlock()

	go func() {
		ticker := time.NewTicker(positionPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			items, err := g.PortfolioSnapshot(ctx)
			if err != nil {
				if ctx.Err() != nil || !g.connected.Load() {
					return
				}
				g.log.Warn("portfolio poll failed", "error", err)
				continue
			}
			for _, item := range items {
				select {
				case ch <- item:
				default:
				}
			}
		}
	}()
	return ch, nil
}

// PortfolioSnapshot returns the broker's current view of every holding.
func (g *Gateway) PortfolioSnapshot(ctx context.Context) ([]domain.PortfolioItem, error) {
	if !g.connected.Load() {
		return nil, gateway.ErrNotConnected
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := g.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching portfolio: %w", err)
	}
	out := make([]domain.PortfolioItem, 0, len(raw))
	for _, p := range raw {
		item := domain.PortfolioItem{
			Account: g.opts.Account,
			Instrument: domain.Instrument{
				Key:      p.AssetID,
				Symbol:   p.Symbol,
				Exchange: string(p.Exchange),
				Type:     domain.InstrumentEquity,
				Currency: "USD",
				TimeZone: "America/New_York",
			},
			Qty:     p.Qty.InexactFloat64(),
			AvgCost: p.AvgEntryPrice.InexactFloat64(),
		}
		if p.CurrentPrice != nil {
			item.MarketPrice = p.CurrentPrice.InexactFloat64()
		}
		if p.MarketValue != nil {
			item.MarketValue = p.MarketValue.InexactFloat64()
		}
		if p.UnrealizedPL != nil {
			item.UnrealizedPNL = p.UnrealizedPL.InexactFloat64()
		}
		out = append(out, item)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// SubscribeQuotes streams quote snapshots for one symbol. The first quote
// is fetched immediately; afterwards the endpoint is re-polled on the
// position poll cadence.
func (g *Gateway) SubscribeQuotes(ctx context.Context, symbol string) (<-chan observer.Item[domain.Quote], error) {
	if !g.connected.Load() {
		return nil, gateway.ErrNotConnected
	}
	ch := make(chan observer.Item[domain.Quote], 4)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(positionPollInterval)
		defer ticker.Stop()
		for {
			q, err := g.latestQuote(ctx, symbol)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case ch <- observer.Item[domain.Quote]{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- observer.Item[domain.Quote]{Value: q}:
			default:
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch, nil
}

func (g *Gateway) latestQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, err
	}
	q, err := g.md.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{Feed: g.feed()})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}
	return domain.Quote{
		Symbol:  symbol,
		Bid:     q.BidPrice,
		Ask:     q.AskPrice,
		BidSize: int64(q.BidSize),
		AskSize: int64(q.AskSize),
		Time:    q.Timestamp,
	}, nil
}

// SubscribeBars streams bars for one instrument: the historical backfill
// from start first, then live bars from the stocks stream as they form.
func (g *Gateway) SubscribeBars(ctx context.Context, inst domain.Instrument, start time.Time, barSize time.Duration) (<-chan observer.Item[domain.Bar], error) {
	g.mu.Lock()
	if !g.connected.Load() {
		g.mu.Unlock()
		return nil, gateway.ErrNotConnected
	}
	stocks := g.stocks
	ch := make(chan observer.Item[domain.Bar], 256)
	g.barSubs[inst.Symbol] = append(g.barSubs[inst.Symbol], ch)
	first := len(g.barSubs[inst.Symbol]) == 1
	g.mu.Unlock()

	if first {
		err := stocks.SubscribeToBars(func(b mdstream.Bar) {
			g.dispatchBar(domain.Bar{
				Symbol:     b.Symbol,
				Timestamp:  b.Timestamp,
				Open:       b.Open,
				High:       b.High,
				Low:        b.Low,
				Close:      b.Close,
				Volume:     int64(b.Volume),
				TradeCount: int64(b.TradeCount),
				VWAP:       b.VWAP,
			})
		}, inst.Symbol)
		if err != nil {
			g.mu.Lock()
			g.barSubs[inst.Symbol] = nil
			g.mu.Unlock()
			return nil, fmt.Errorf("subscribing to bars for %s: %w", inst.Symbol, err)
		}
	}

	go func() {
		bars, err := g.historicalBars(ctx, inst.Symbol, start, barSize)
		if err != nil {
			g.log.Warn("bar backfill failed", "symbol", inst.Symbol, "error", err)
			select {
			case ch <- observer.Item[domain.Bar]{Err: err}:
			default:
			}
			return
		}
		for _, b := range bars {
			select {
			case ch <- observer.Item[domain.Bar]{Value: b}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (g *Gateway) dispatchBar(bar domain.Bar) {
	g.mu.Lock()
	subs := make([]chan observer.Item[domain.Bar], len(g.barSubs[bar.Symbol]))
	copy(subs, g.barSubs[bar.Symbol])
	g.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- observer.Item[domain.Bar]{Value: bar}:
		default:
		}
	}
}

func (g *Gateway) historicalBars(ctx context.Context, symbol string, start time.Time, barSize time.Duration) ([]domain.Bar, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := g.md.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: timeFrame(barSize),
		Start:     start,
		End:       time.Now(),
		Feed:      g.feed(),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}
	out := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		out = append(out, domain.Bar{
			Symbol:     symbol,
			Timestamp:  b.Timestamp,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     int64(b.Volume),
			TradeCount: int64(b.TradeCount),
			VWAP:       b.VWAP,
		})
	}
	return out, nil
}

func timeFrame(barSize time.Duration) marketdata.TimeFrame {
	if barSize >= 24*time.Hour {
		return marketdata.OneDay
	}
	if barSize >= time.Hour {
		return marketdata.NewTimeFrame(int(barSize/time.Hour), marketdata.Hour)
	}
	minutes := int(barSize / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return marketdata.NewTimeFrame(minutes, marketdata.Min)
}

// SetMarketDataMode selects live vs delayed data. Delayed mode forces the
// free IEX feed; live mode uses the configured feed.
func (g *Gateway) SetMarketDataMode(ctx context.Context, mode gateway.MarketDataMode) error {
	g.mode.Store(int32(mode))
	g.log.Info("market data mode set", "mode", mode)
	return nil
}

func (g *Gateway) feed() marketdata.Feed {
	if gateway.MarketDataMode(g.mode.Load()) == gateway.ModeLive && g.opts.Feed != "" {
		return marketdata.Feed(g.opts.Feed)
	}
	return marketdata.IEX
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

// ResolveInstrument resolves a stable asset id or ticker symbol against the
// assets endpoint.
func (g *Gateway) ResolveInstrument(ctx context.Context, keyOrSymbol string) (domain.Instrument, error) {
	if !g.connected.Load() {
		return domain.Instrument{}, gateway.ErrNotConnected
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.Instrument{}, err
	}
	asset, err := g.trading.GetAsset(keyOrSymbol)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("resolving %q: %w", keyOrSymbol, err)
	}
	return domain.Instrument{
		Key:      asset.ID,
		Symbol:   asset.Symbol,
		Exchange: asset.Exchange,
		Type:     domain.InstrumentEquity,
		Currency: "USD",
		TimeZone: "America/New_York",
	}, nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OpenOrders returns the broker's authoritative list of open orders.
func (g *Gateway) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	if !g.connected.Load() {
		return nil, gateway.ErrNotConnected
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	raw, err := g.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}
	out := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		out = append(out, g.normalize(convertOrder(o)))
	}
	return out, nil
}

// PlaceOrder submits the order and returns the stream of trade updates for
// it, fed by the trade-update stream until the order reaches a terminal
// state.
func (g *Gateway) PlaceOrder(ctx context.Context, order domain.Order) (<-chan observer.Item[domain.Trade], error) {
	if !g.connected.Load() {
		return nil, gateway.ErrNotConnected
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &order.Qty,
		Side:          alpaca.Side(order.Side),
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ID,
	}
	switch order.Type {
	case domain.OrderTypeLimit:
		req.Type = alpaca.Limit
		limit := order.LimitPrice
		req.LimitPrice = &limit
	default:
		req.Type = alpaca.Market
	}

	// Register the identity before the call so a trade update racing the
	// response still maps back to the session's ids.
	g.mu.Lock()
	g.placed[order.ID] = &placedOrder{owner: order.ClientID}
	g.mu.Unlock()

	placed, err := g.trading.PlaceOrder(req)
	if err != nil {
		g.mu.Lock()
		delete(g.placed, order.ID)
		g.mu.Unlock()
		return nil, fmt.Errorf("placing order for %s: %w", order.Symbol, err)
	}

	ch := make(chan observer.Item[domain.Trade], 16)
	g.mu.Lock()
	g.placed[order.ID].brokerID = placed.ID
	g.tradeSubs[order.ID] = ch
	g.mu.Unlock()

	ch <- observer.Item[domain.Trade]{Value: domain.Trade{Order: g.normalize(convertOrder(*placed))}}
	return ch, nil
}

// CancelOrder requests cancellation of one open order. Session order ids
// are translated to the broker's id; an id the gateway did not place is
// passed through as-is.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if !g.connected.Load() {
		return gateway.ErrNotConnected
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := g.trading.CancelOrder(g.brokerOrderID(orderID)); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// brokerOrderID resolves a session order id to the id Alpaca knows the
// order by.
func (g *Gateway) brokerOrderID(orderID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if meta, ok := g.placed[orderID]; ok && meta.brokerID != "" {
		return meta.brokerID
	}
	return orderID
}

// GlobalCancel cancels every open order on the account, regardless of the
// session that placed it.
func (g *Gateway) GlobalCancel(ctx context.Context) error {
	if !g.connected.Load() {
		return gateway.ErrNotConnected
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := g.trading.CancelAllOrders(); err != nil {
		return fmt.Errorf("cancelling all orders: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// normalize rewrites an order placed through this gateway back onto the
// session's ids: ID becomes the session's order id (the Alpaca client order
// id) and ClientID the owning session. Orders the gateway did not place
// keep the broker's ids, so the session's ownership guard rejects them.
func (g *Gateway) normalize(o domain.Order) domain.Order {
	// convertOrder leaves the raw client order id in ClientID.
	clientOrderID := o.ClientID

	g.mu.Lock()
	defer g.mu.Unlock()
	meta, ok := g.placed[clientOrderID]
	if !ok {
		return o
	}
	if meta.brokerID == "" {
		meta.brokerID = o.ID
	}
	o.ID = clientOrderID
	o.ClientID = meta.owner
	return o
}

// convertOrder maps SDK fields as-is: broker id in ID, raw client order id
// in ClientID. Callers pass the result through normalize.
func convertOrder(o alpaca.Order) domain.Order {
	out := domain.Order{
		ID:            o.ID,
		ClientID:      o.ClientOrderID,
		InstrumentKey: o.AssetID,
		Symbol:        o.Symbol,
		Side:          domain.Side(o.Side),
		Type:          convertOrderType(o.Type),
		Status:        convertStatus(string(o.Status)),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Qty != nil {
		out.Qty = *o.Qty
	}
	if o.LimitPrice != nil {
		out.LimitPrice = *o.LimitPrice
	} else {
		out.LimitPrice = decimal.Zero
	}
	return out
}

func convertOrderType(t alpaca.OrderType) domain.OrderType {
	if t == alpaca.Limit {
		return domain.OrderTypeLimit
	}
	return domain.OrderTypeMarket
}

// convertStatus maps Alpaca order statuses onto the session's lifecycle.
// Unmapped statuses come through empty; the order book logs and retains
// them via the raw status on the event.
func convertStatus(s string) domain.OrderStatus {
	switch s {
	case "new", "accepted", "pending_new", "partially_filled":
		return domain.OrderStatusOpen
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired", "done_for_day", "pending_cancel":
		return domain.OrderStatusCancelled
	case "rejected", "stopped", "suspended":
		return domain.OrderStatusRejected
	}
	return ""
}
