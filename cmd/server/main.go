package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/agent"
	"github.com/lendloop/invest-engine/internal/exposure"
	"github.com/lendloop/invest-engine/internal/fallout"
	"github.com/lendloop/invest-engine/internal/funds"
	"github.com/lendloop/invest-engine/internal/holds"
	"github.com/lendloop/invest-engine/internal/invest"
	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/metrics"
	"github.com/lendloop/invest-engine/internal/risk"
	"github.com/lendloop/invest-engine/internal/scheduler"
	"github.com/lendloop/invest-engine/internal/shipping"
	"github.com/lendloop/invest-engine/internal/store"
	"github.com/lendloop/invest-engine/internal/warehouse"
)

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- External collaborators ---
	// The escrow ledger and shipping tracker live in other marketplace
	// services; until their transports land, in-memory implementations
	// carry the same contracts.
	fundsLedger := funds.NewMemoryLedger()
	tracker := shipping.NewMemoryTracker()

	source := marketdata.NewSimSource(0.03)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			source.Drift()
		}
	}()

	// --- Warehouse and adaptive scheduler ---
	wh := warehouse.New(st)
	sched := scheduler.New(source, wh, scheduler.Config{
		HighIntervalMinutes: envInt("HIGH_TIER_INTERVAL_MIN", scheduler.DefaultHighIntervalMinutes),
		APICallBudget:       envInt("API_CALL_BUDGET", 1000),
		Window:              time.Duration(envInt("BUDGET_WINDOW_MIN", 60)) * time.Minute,
		PollEvery:           time.Duration(envInt("SCHEDULER_POLL_SEC", 60)) * time.Second,
	})

	// --- Risk, fallout, agents ---
	holdLedger := holds.NewLedger(fundsLedger, tracker, st)
	locks := risk.NewItemLocks()
	limiter := exposure.NewLimiter(
		decimal.NewFromInt(int64(envInt("MAX_AT_RISK_PER_ITEM", 1000))),
		decimal.NewFromInt(int64(envInt("MAX_AT_RISK_PER_WALLET", 5000))),
	)
	auth := risk.NewAuthorizer(st, fundsLedger, holdLedger, source, locks, limiter)

	wsHub := invest.NewWSHub()
	go wsHub.Run()

	resolver := fallout.NewResolver(st, fundsLedger, holdLedger, auth, wsHub)
	withdrawWindow := time.Duration(envInt("WITHDRAW_WINDOW_SEC", 30)) * time.Second
	agents := agent.NewManager(sched, source, source, resolver, auth, withdrawWindow)
	auth.AttachSupervisor(agents)

	// --- Invest service ---
	svc := invest.NewService(st, holdLedger, auth, resolver, agents, sched, wh, source, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"invest-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Background control loop ---
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go func() {
		if err := sched.Run(runCtx); err != nil && err != context.Canceled {
			slog.Error("scheduler loop exited", "err", err)
		}
	}()

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("invest-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down invest-engine...")
	stopRun()
	agents.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("invest-engine stopped")
}
