package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/qornetwork/taskmarket/internal/chain"
	"github.com/qornetwork/taskmarket/internal/dao"
	"github.com/qornetwork/taskmarket/internal/ipfs"
	"github.com/qornetwork/taskmarket/internal/market"
	"github.com/qornetwork/taskmarket/internal/metrics"
	"github.com/qornetwork/taskmarket/internal/optimizer"
	"github.com/qornetwork/taskmarket/internal/oracle"
	"github.com/qornetwork/taskmarket/internal/registry"
	"github.com/qornetwork/taskmarket/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Redis (cache + chain event stream) ---
	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("connected to Redis")
	}

	// --- Store ---
	var st store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Chain mirror (best-effort, never blocks market operations) ---
	var mirror chain.Mirror = chain.LogMirror{}
	if rdb != nil {
		mirror = chain.NewStreamMirror(rdb, os.Getenv("CHAIN_STREAM"))
		slog.Info("chain event stream enabled")
	}

	// --- WebSocket hub ---
	wsHub := market.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	pinner := ipfs.NewMockPinner()
	robots := registry.NewRobots(st, pinner)
	marketSvc := market.NewService(st, robots, mirror, wsHub)
	tasks := registry.NewTasks(st, marketSvc)
	oracleSvc := oracle.NewService(st, marketSvc)
	optimizerSvc := optimizer.NewService(st, pinner, mirror)
	daoSvc := dao.NewService(st)
	ipfsHandler := ipfs.NewHandler(pinner)

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
		w.Write([]byte(`{"status":"ok","service":"task-market"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// WebSocket endpoint for real-time market events.
		r.Get("/ws", wsHub.HandleWS)

		// Robot registry.
		r.Post("/robots/register", robots.HandleRegister)
		r.Get("/robots", robots.HandleList)
		r.Get("/robots/{robotID}", robots.HandleGet)
		r.Put("/robots/{robotID}", robots.HandleUpdate)
		r.Delete("/robots/{robotID}", robots.HandleDelete)
		r.Post("/robots/{robotID}/deactivate", robots.HandleDeactivate)

		// Tasks and their markets.
		r.Post("/tasks/create", tasks.HandleCreate)
		r.Get("/tasks", tasks.HandleList)
		r.Get("/tasks/{taskID}", tasks.HandleGet)
		r.Get("/tasks/{taskID}/market", marketSvc.HandleGetMarket)
		r.Get("/tasks/{taskID}/positions", marketSvc.HandlePositions)
		r.Post("/tasks/{taskID}/trade", marketSvc.HandleTrade)
		r.Post("/tasks/{taskID}/redeem", marketSvc.HandleRedeem)
		r.Get("/markets", marketSvc.HandleListMarkets)

		// Optimizer and oracle.
		r.Post("/optimizer/optimize", optimizerSvc.HandleOptimize)
		r.Post("/oracle/verify", oracleSvc.HandleVerify)

		// Governance.
		r.Post("/dao/propose", daoSvc.HandlePropose)
		r.Get("/dao/proposals", daoSvc.HandleList)
		r.Post("/dao/vote", daoSvc.HandleVote)
		r.Post("/dao/execute/{proposalID}", daoSvc.HandleExecute)

		// Content addressing.
		r.Post("/ipfs/upload", ipfsHandler.Upload)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("task-market listening", "port", port)
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

	slog.Info("shutting down task-market...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("task-market stopped")
}
