// Package domain defines the core types shared across the trading session:
// instruments, positions, portfolio items, orders, fills, bars, and quotes.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

// InstrumentType classifies a tradable contract.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "equity"
	InstrumentForex  InstrumentType = "forex"
	InstrumentFuture InstrumentType = "future"
	InstrumentCrypto InstrumentType = "crypto"
)

// Instrument is an immutable description of a tradable contract, produced by
// resolving a raw contract reference against the gateway's reference data.
//
// Key is the stable unique identifier assigned by the gateway. All membership
// and dedup checks use Key equality, never struct or pointer identity, so
// repeated gateway objects describing the same contract collapse to one
// instrument.
type Instrument struct {
	Key      string         `yaml:"key" json:"key"`
	Symbol   string         `yaml:"symbol" json:"symbol"`
	Exchange string         `yaml:"exchange" json:"exchange"`
	Type     InstrumentType `yaml:"type" json:"type"`
	Currency string         `yaml:"currency" json:"currency"`
	TimeZone string         `yaml:"time_zone" json:"time_zone"` // exchange-local IANA zone
}

// Location resolves the instrument's exchange time zone, falling back to UTC
// when the zone is unset or unknown.
func (i Instrument) Location() *time.Location {
	if i.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(i.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s/%s (%s)", i.Symbol, i.Exchange, i.Key)
}

// ---------------------------------------------------------------------------
// Positions and portfolio items
// ---------------------------------------------------------------------------

// Position is a point-in-time holding reported by the gateway's position
// stream: quantity and average cost for one (account, instrument) pair.
type Position struct {
	Account       string
	InstrumentKey string
	Symbol        string
	Qty           float64
	AvgCost       float64
}

// PortfolioItem extends a position with the gateway's current valuation.
// At most one active item exists per (account, instrument).
type PortfolioItem struct {
	Account       string
	Instrument    Instrument
	Qty           float64
	MarketPrice   float64
	MarketValue   float64
	AvgCost       float64
	UnrealizedPNL float64
	RealizedPNL   float64
}

// ---------------------------------------------------------------------------
// Orders and trades
// ---------------------------------------------------------------------------

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are expected for s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is a single order known to the session. ClientID identifies the
// session that placed it; only that session may cancel it.
type Order struct {
	ID            string
	ClientID      string
	InstrumentKey string
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           decimal.Decimal
	LimitPrice    decimal.Decimal
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Fill is one execution against an order.
type Fill struct {
	Time  time.Time
	Qty   decimal.Decimal
	Price decimal.Decimal
}

// Trade pairs an order with its executions so far.
type Trade struct {
	Order Order
	Fills []Fill
}

// FilledQty returns the total executed quantity across all fills.
func (t Trade) FilledQty() decimal.Decimal {
	total := decimal.Zero
	for _, f := range t.Fills {
		total = total.Add(f.Qty)
	}
	return total
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV bar for one instrument.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Quote is a point-in-time price snapshot for one instrument.
type Quote struct {
	Symbol  string
	Bid     float64
	Ask     float64
	BidSize int64
	AskSize int64
	Time    time.Time
}
