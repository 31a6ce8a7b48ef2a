package alpacagw

import (
	"context"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderd/internal/domain"
)

// newLinkedGateway returns a gateway that believes its link is up, without
// dialing anything.
func newLinkedGateway() *Gateway {
	g := New(Options{Account: "acct"})
	g.connected.Store(true)
	return g
}

func brokerOrder(id, clientOrderID, status string) alpaca.Order {
	qty := decimal.NewFromInt(2)
	limit := decimal.NewFromInt(100)
	return alpaca.Order{
		ID:            id,
		ClientOrderID: clientOrderID,
		Symbol:        "AAPL",
		Side:          alpaca.Buy,
		Type:          alpaca.Limit,
		Qty:           &qty,
		LimitPrice:    &limit,
		Status:        status,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func TestTradeUpdateCarriesSessionIDs(t *testing.T) {
	g := newLinkedGateway()
	g.mu.Lock()
	g.placed["01J5ZXAMPLE"] = &placedOrder{owner: "session-1"}
	g.mu.Unlock()

	events, err := g.SubscribeOrderEvents(context.Background())
	require.NoError(t, err)

	fillQty := decimal.NewFromInt(2)
	fillPrice := decimal.NewFromInt(100)
	g.dispatchTradeUpdate(alpaca.TradeUpdate{
		At:    time.Now(),
		Event: "fill",
		Qty:   &fillQty,
		Price: &fillPrice,
		Order: brokerOrder("7f38c5a1-broker", "01J5ZXAMPLE", "filled"),
	})

	ev := <-events
	assert.Equal(t, "01J5ZXAMPLE", ev.Order.ID,
		"events must carry the id the order was placed under, not the broker's")
	assert.Equal(t, "session-1", ev.Order.ClientID)
	assert.Equal(t, domain.OrderStatusFilled, ev.Order.Status)
	require.NotNil(t, ev.Fill)
	assert.True(t, ev.Fill.Qty.Equal(fillQty))
}

func TestNormalizeLearnsBrokerID(t *testing.T) {
	g := newLinkedGateway()
	g.mu.Lock()
	g.placed["01J5ZXAMPLE"] = &placedOrder{owner: "session-1"}
	g.mu.Unlock()

	// First sighting of the broker id comes from the event stream, before
	// any placement response recorded it.
	g.normalize(convertOrder(brokerOrder("7f38c5a1-broker", "01J5ZXAMPLE", "new")))

	assert.Equal(t, "7f38c5a1-broker", g.brokerOrderID("01J5ZXAMPLE"),
		"cancel must translate the session id to the broker's id")
}

func TestNormalizeLeavesForeignOrdersAlone(t *testing.T) {
	g := newLinkedGateway()

	o := g.normalize(convertOrder(brokerOrder("7f38c5a1-broker", "someone-elses", "new")))

	assert.Equal(t, "7f38c5a1-broker", o.ID)
	assert.Equal(t, "someone-elses", o.ClientID)
	assert.Equal(t, "unknown-id", g.brokerOrderID("unknown-id"),
		"ids the gateway did not place pass through untranslated")
}

func TestConvertStatusMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want domain.OrderStatus
	}{
		{"new", domain.OrderStatusOpen},
		{"partially_filled", domain.OrderStatusOpen},
		{"filled", domain.OrderStatusFilled},
		{"canceled", domain.OrderStatusCancelled},
		{"rejected", domain.OrderStatusRejected},
		{"calculated", domain.OrderStatus("")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertStatus(tt.raw), "%s", tt.raw)
	}
}
