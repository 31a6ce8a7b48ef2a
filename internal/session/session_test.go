package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderd/internal/barstore"
	"traderd/internal/catalog"
	"traderd/internal/gateway/sim"
)

func TestSessionRunClearsStalePortfolioUniverse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := sim.New()
	universes := catalog.NewMemoryAccessor()
	require.NoError(t, universes.Update(ctx, catalog.NewUniverse(catalog.PortfolioUniverse, aapl, msft)))

	s := New(gw, universes, barstore.NewParquetStore(t.TempDir()),
		Options{Account: "acct", Backoff: testBackoff()}, testLogger())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)

	// Entries from the previous session are gone; nothing in the empty
	// portfolio put them back.
	u, err := universes.Get(ctx, catalog.PortfolioUniverse)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Len())

	cancel()
	<-done
}

func TestSessionReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := sim.New()
	s := newTestSession(t, gw)

	go s.Run(ctx)
	require.Eventually(t, s.IsConnected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Reconnect())

	require.Eventually(t, func() bool {
		if !s.IsConnected() {
			return false
		}
		var connects int
		for _, call := range gw.CallLog() {
			if call == "connect" {
				connects++
			}
		}
		return connects == 2
	}, 2*time.Second, 10*time.Millisecond, "a forced reconnect must drive a fresh connect")
}

func TestSessionGlobalCancel(t *testing.T) {
	ctx := context.Background()
	gw := sim.New()
	require.NoError(t, gw.Connect(ctx))
	s := newTestSession(t, gw)

	require.NoError(t, s.GlobalCancel(ctx))
	assert.Contains(t, gw.CallLog(), "global_cancel")
}

func TestSessionStatus(t *testing.T) {
	ctx := context.Background()
	gw := sim.New()
	s := newTestSession(t, gw)

	st := s.Status(ctx)
	assert.False(t, st.GatewayConnected)
	assert.True(t, st.StoreConnected)

	require.NoError(t, gw.Connect(ctx))
	assert.True(t, s.Status(ctx).GatewayConnected)
	assert.Equal(t, StateDisconnected, s.ConnectionState())
}

func TestSessionStatusReportsUnwritableStore(t *testing.T) {
	ctx := context.Background()
	gw := sim.New()

	// Root the store under a regular file so its data directory can never
	// be created.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	bars := barstore.NewParquetStore(filepath.Join(blocker, "data"))

	s := New(gw, catalog.NewMemoryAccessor(), bars,
		Options{Account: "acct", Backoff: testBackoff()}, testLogger())

	assert.False(t, s.Status(ctx).StoreConnected)
}
