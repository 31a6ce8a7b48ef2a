package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traderd/internal/gateway"
	"traderd/internal/gateway/sim"
	"traderd/internal/util"
)

func testBackoff() util.Backoff {
	return util.Backoff{
		MaxAttempts: 10,
		MaxElapsed:  5 * time.Second,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}
}

// startSupervisor runs the supervisor in the background and returns the
// error from Run once it exits.
func startSupervisor(ctx context.Context, sup *Supervisor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	return done
}

func TestSupervisorRetriesRefusedConnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := sim.New()
	gw.RefuseConnects(2)
	rec, _ := newTestReconciler(t, gw)
	sup := NewSupervisor(gw, rec, testBackoff(), testLogger())

	done := startSupervisor(ctx, sup)

	require.Eventually(t, func() bool {
		return sup.State() == StateConnected && sup.Reconciles() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupervisorExhaustsConnectBudget(t *testing.T) {
	gw := sim.New()
	gw.RefuseConnects(100)
	rec, _ := newTestReconciler(t, gw)

	backoff := testBackoff()
	backoff.MaxAttempts = 3
	sup := NewSupervisor(gw, rec, backoff, testLogger())

	err := sup.Run(context.Background())
	require.Error(t, err)

	var exhausted *util.ErrBudgetExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, gateway.ErrConnectionRefused)
	assert.Equal(t, StateDisconnected, sup.State())
}

func TestSupervisorReestablishesAfterDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := sim.New()
	gw.AddInstrument(aapl)
	gw.SetPortfolio(holding(aapl, 10))
	rec, universes := newTestReconciler(t, gw)
	sup := NewSupervisor(gw, rec, testBackoff(), testLogger())

	startSupervisor(ctx, sup)
	require.Eventually(t, func() bool { return sup.Reconciles() == 1 }, 2*time.Second, 10*time.Millisecond)

	gw.DropLink()

	// The link comes back and the full sequence runs again: same universe
	// membership, subscription reopened on the fresh connection.
	require.Eventually(t, func() bool {
		return sup.Reconciles() == 2 && sup.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	u, err := universes.Get(ctx, "portfolio")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Len())

	require.Eventually(t, func() bool {
		var barCalls int
		for _, call := range gw.CallLog() {
			if call == "subscribe_bars:AAPL" {
				barCalls++
			}
		}
		return barCalls == 2
	}, 2*time.Second, 10*time.Millisecond, "dropped market-data stream must be reopened after reconnect")
}

func TestSupervisorKeepsRunningAfterReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := sim.New()
	rec, _ := newTestReconciler(t, gw)
	sup := NewSupervisor(gw, rec, testBackoff(), testLogger())

	done := startSupervisor(ctx, sup)
	require.Eventually(t, func() bool { return sup.Reconciles() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// Becoming ready must not end supervision; only cancellation or budget
	// exhaustion does.
	select {
	case err := <-done:
		t.Fatalf("supervisor exited unexpectedly: %v", err)
	default:
	}

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}
