package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"traderd/internal/barstore"
	"traderd/internal/catalog"
	"traderd/internal/config"
	"traderd/internal/gateway/alpacagw"
	"traderd/internal/httpapi"
	"traderd/internal/session"
	"traderd/internal/util"
)

const paperTradingURL = "https://paper-api.alpaca.markets"

func main() {
	// Load config.
	cfgPath := "config/traderd.yaml"
	if p := os.Getenv("TRADERD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// Universe catalog and bar store.
	universes, err := catalog.NewSQLiteAccessor(cfg.Storage.CatalogPath)
	if err != nil {
		log.Fatalf("opening universe catalog: %v", err)
	}
	defer universes.Close()
	bars := barstore.NewParquetStore(cfg.Storage.DataDir)

	// Brokerage gateway.
	baseURL := cfg.Alpaca.BaseURL
	if baseURL == "" && cfg.Session.PaperMode {
		baseURL = paperTradingURL
	}
	gw := alpacagw.New(alpacagw.Options{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   baseURL,
		DataURL:   cfg.Alpaca.DataURL,
		Feed:      cfg.Alpaca.Feed,
		Account:   cfg.Session.Account,
		RateLimit: util.NewRateLimiter(cfg.Session.RateLimitPerMin),
	})

	sess := session.New(gw, universes, bars, session.Options{
		Account:     cfg.Session.Account,
		LiveData:    cfg.Session.LiveData,
		HistoryDays: cfg.Session.HistoryDays,
		BarSize:     cfg.Session.BarSize.Std(),
		Backoff: util.Backoff{
			MaxAttempts: cfg.Session.ConnectAttempts,
			MaxElapsed:  cfg.Session.ConnectBudget.Std(),
			BaseDelay:   cfg.Session.ConnectDelay.Std(),
			MaxDelay:    30 * time.Second,
		},
	}, logger)

	api := httpapi.NewServer(sess, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("traderd starting",
		"paper_mode", cfg.Session.PaperMode,
		"live_data", cfg.Session.LiveData,
		"addr", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return api.ListenAndServe(gctx, addr) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("traderd exited", "error", err)
		os.Exit(1)
	}
	logger.Info("traderd stopped")
}
