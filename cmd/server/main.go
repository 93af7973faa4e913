package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spinroom/roulette-engine/internal/api"
	"github.com/spinroom/roulette-engine/internal/config"
	"github.com/spinroom/roulette-engine/internal/engine"
	"github.com/spinroom/roulette-engine/internal/lib/logger/sl"
	"github.com/spinroom/roulette-engine/internal/market"
	"github.com/spinroom/roulette-engine/internal/metrics"
	"github.com/spinroom/roulette-engine/internal/notify"
	"github.com/spinroom/roulette-engine/internal/progression"
	"github.com/spinroom/roulette-engine/internal/retry"
	"github.com/spinroom/roulette-engine/internal/store"
	"github.com/spinroom/roulette-engine/internal/wheel"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", sl.Err(err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", sl.Err(err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			logger.Error("database connection failed", sl.Err(err))
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.Migrate(ctx, pool); err != nil {
			logger.Error("schema migration failed", sl.Err(err))
			os.Exit(1)
		}
		trManager, err := manager.New(trmpgx.NewDefaultFactory(pool))
		if err != nil {
			logger.Error("transaction manager init failed", sl.Err(err))
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool, trManager)
		logger.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
			logger.Info("Redis cache enabled")
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Round engine ---
	levels, err := progression.Load(cfg.LevelsFile)
	if err != nil {
		logger.Error("level table", sl.Err(err))
		os.Exit(1)
	}
	outcomes := wheel.NewGenerator(wheel.NewHTTPSource(cfg.Outcome.URL, cfg.Outcome.Timeout), logger)

	eng := engine.New(st, outcomes, levels, engine.Config{
		BettingWindow:   cfg.Round.BettingWindow,
		RevealDuration:  cfg.Round.RevealDuration,
		RevealFrameRate: cfg.Round.RevealFrameRate,
		Intermission:    cfg.Round.Intermission,
	}, logger)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", sl.Err(err))
		}
	}()

	// --- Marketplace ---
	var mkt *market.Service
	if cfg.MarketEnabled() {
		client := market.NewClient(cfg.Market.OracleURL, cfg.Market.FXURL, cfg.Market.Timeout)
		policy := retry.NewPolicy(retry.DefaultAttempts, cfg.Market.RetryUnit)
		mkt = market.NewService(st, client, policy, cfg.Market.QuoteTTL, logger)
		logger.Info("marketplace pricing enabled")
	} else {
		logger.Warn("ORACLE_URL or FX_URL not set, marketplace pricing disabled")
	}

	// --- Event consumers ---
	if rdb != nil {
		events, unsubscribe := eng.Subscribe("stream", 256)
		defer unsubscribe()
		go notify.NewStreamPublisher(rdb, cfg.EventStream, logger).Run(ctx, events)
		logger.Info("publishing round events", slog.String("stream", cfg.EventStream))
	}

	wsHub := api.NewWSHub(eng.Snapshot, logger)
	wsEvents, unsubscribeWS := eng.Subscribe("ws", 256)
	defer unsubscribeWS()
	go wsHub.Run(ctx, wsEvents)

	if cfg.Round.AutoStart {
		if err := eng.Start(); err != nil {
			logger.Error("engine start failed", sl.Err(err))
		}
	}

	// --- HTTP router ---
	apiSvc := api.NewService(eng, mkt, logger)
	if cfg.AdminSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin endpoints disabled")
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"roulette-engine","state":%q}`, eng.State())
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		apiSvc.Mount(r, wsHub, api.AdminAuth([]byte(cfg.AdminSecret)))
	})

	// --- Server ---
	// No WriteTimeout: it would cut long-lived WebSocket connections.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("roulette-engine listening", slog.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", sl.Err(err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down roulette-engine...")
	eng.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", sl.Err(err))
	}
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Warn("engine did not stop in time")
	}
	fmt.Println("roulette-engine stopped")
}
