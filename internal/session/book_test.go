package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderd/internal/domain"
	"traderd/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrder(id string, status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:     id,
		Symbol: "AAPL",
		Side:   domain.SideBuy,
		Type:   domain.OrderTypeLimit,
		Qty:    decimal.NewFromInt(10),
		Status: status,
	}
}

func TestBookSnapshotIdempotent(t *testing.T) {
	b := NewBook(testLogger())

	snapshot := []domain.Order{
		testOrder("o-1", domain.OrderStatusOpen),
		testOrder("o-2", domain.OrderStatusOpen),
	}
	b.ApplySnapshot(snapshot)
	b.ApplySnapshot(snapshot)

	assert.Equal(t, 2, b.Len())
	assert.Len(t, b.OpenOrders(), 2)
}

func TestBookApplyEventUpdatesStatus(t *testing.T) {
	b := NewBook(testLogger())
	b.Add(testOrder("o-1", domain.OrderStatusSubmitted))

	b.ApplyEvent(gateway.OrderEvent{
		Order:     testOrder("o-1", domain.OrderStatusFilled),
		RawStatus: "filled",
	})

	o, ok := b.Order("o-1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Empty(t, b.OpenOrders())
}

func TestBookUnknownStatusRetainsPrevious(t *testing.T) {
	b := NewBook(testLogger())
	b.Add(testOrder("o-1", domain.OrderStatusOpen))

	b.ApplyEvent(gateway.OrderEvent{
		Order:     testOrder("o-1", domain.OrderStatus("pending_review")),
		RawStatus: "pending_review",
	})

	o, ok := b.Order("o-1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusOpen, o.Status, "unknown transition must not lose the order's state")
}

func TestBookUnknownStatusNewOrderDefaultsSubmitted(t *testing.T) {
	b := NewBook(testLogger())

	b.ApplyEvent(gateway.OrderEvent{
		Order:     testOrder("o-9", domain.OrderStatus("calculating")),
		RawStatus: "calculating",
	})

	o, ok := b.Order("o-9")
	require.True(t, ok, "order must be retained even with an unknown status")
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)
}

func TestBookAccumulatesFills(t *testing.T) {
	b := NewBook(testLogger())
	b.Add(testOrder("o-1", domain.OrderStatusOpen))

	for i, qty := range []int64{4, 6} {
		b.ApplyEvent(gateway.OrderEvent{
			Order:     testOrder("o-1", domain.OrderStatusOpen),
			RawStatus: "partially_filled",
			Fill: &domain.Fill{
				Time:  time.Now(),
				Qty:   decimal.NewFromInt(qty),
				Price: decimal.NewFromInt(int64(100 + i)),
			},
		})
	}

	trade, ok := b.Trade("o-1")
	require.True(t, ok)
	require.Len(t, trade.Fills, 2)
	assert.True(t, trade.FilledQty().Equal(decimal.NewFromInt(10)))
}
