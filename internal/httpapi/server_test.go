package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderd/internal/barstore"
	"traderd/internal/catalog"
	"traderd/internal/domain"
	"traderd/internal/gateway/sim"
	"traderd/internal/session"
	"traderd/internal/util"
)

func newTestServer(t *testing.T) (*sim.Gateway, *session.Session, *httptest.Server) {
	t.Helper()
	gw := sim.New()
	require.NoError(t, gw.Connect(context.Background()))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.New(gw, catalog.NewMemoryAccessor(), barstore.NewParquetStore(t.TempDir()),
		session.Options{
			Account: "acct",
			Backoff: util.Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxElapsed: time.Second},
		}, log)

	srv := httptest.NewServer(NewServer(sess, log).Handler())
	t.Cleanup(srv.Close)
	return gw, sess, srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func postStatus(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	_, sess, srv := newTestServer(t)

	var got struct {
		SessionID        string `json:"session_id"`
		State            string `json:"connection_state"`
		GatewayConnected bool   `json:"gateway_connected"`
	}
	code := getJSON(t, srv.URL+"/api/status", &got)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, sess.ID(), got.SessionID)
	assert.Equal(t, "disconnected", got.State)
	assert.True(t, got.GatewayConnected)
}

func TestOrdersEndpoint(t *testing.T) {
	_, sess, srv := newTestServer(t)
	sess.Book().Add(domain.Order{
		ID:         "o-1",
		ClientID:   sess.ID(),
		Symbol:     "AAPL",
		Side:       domain.SideBuy,
		Type:       domain.OrderTypeLimit,
		Qty:        decimal.NewFromInt(2),
		LimitPrice: decimal.RequireFromString("101.50"),
		Status:     domain.OrderStatusOpen,
	})

	var got []struct {
		ID         string `json:"id"`
		Qty        string `json:"qty"`
		LimitPrice string `json:"limit_price"`
	}
	code := getJSON(t, srv.URL+"/api/orders", &got)

	assert.Equal(t, http.StatusOK, code)
	require.Len(t, got, 1)
	assert.Equal(t, "o-1", got[0].ID)
	assert.Equal(t, "2", got[0].Qty)
	assert.Equal(t, "101.5", got[0].LimitPrice)
}

func TestCancelEndpointStatusCodes(t *testing.T) {
	gw, sess, srv := newTestServer(t)

	foreign := domain.Order{ID: "o-foreign", ClientID: "other", Symbol: "AAPL", Status: domain.OrderStatusOpen}
	sess.Book().Add(foreign)
	mine := domain.Order{ID: "o-mine", ClientID: sess.ID(), Symbol: "AAPL", Status: domain.OrderStatusOpen}
	sess.Book().Add(mine)

	assert.Equal(t, http.StatusNotFound, postStatus(t, srv.URL+"/api/orders/nope/cancel"))
	assert.Equal(t, http.StatusForbidden, postStatus(t, srv.URL+"/api/orders/o-foreign/cancel"))
	assert.Equal(t, 0, gw.CancelCalls())

	assert.Equal(t, http.StatusOK, postStatus(t, srv.URL+"/api/orders/o-mine/cancel"))
	assert.Equal(t, 1, gw.CancelCalls())
}

func TestCancelAllEndpoint(t *testing.T) {
	gw, _, srv := newTestServer(t)
	assert.Equal(t, http.StatusOK, postStatus(t, srv.URL+"/api/cancel-all"))
	assert.Contains(t, gw.CallLog(), "global_cancel")
}

func TestUniversesEndpoint(t *testing.T) {
	_, _, srv := newTestServer(t)

	var got []struct {
		Name string `json:"name"`
	}
	code := getJSON(t, srv.URL+"/api/universes", &got)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, got)
}
