package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/madslake/logtap/internal/app/migrate"
	"github.com/madslake/logtap/internal/config"
	httpx "github.com/madslake/logtap/internal/http"
	"github.com/madslake/logtap/internal/ingest"
	"github.com/madslake/logtap/internal/logger"
	"github.com/madslake/logtap/internal/service/logs"
	"github.com/madslake/logtap/internal/store"
	pgstore "github.com/madslake/logtap/internal/store/postgres"
	walstore "github.com/madslake/logtap/internal/store/wal"
	"github.com/madslake/logtap/internal/stream"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("logtap", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open log store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	hub := stream.NewHub(cfg.StreamBuffer)
	defer hub.Close()

	logSvc := logs.New(st, ingest.NewNormalizer(), hub, log)

	var limiter httpx.RateLimiter = httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, logSvc, limiter, st.Ping, httpx.Config{
		RateLimitIngest: cfg.RateLimitIngest,
		RateLimitQuery:  cfg.RateLimitQuery,
		RateLimitWindow: cfg.RateLimitWindow,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("logtap server starting", "addr", cfg.Addr, "backend", cfg.StoreBackend)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("logtap server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := runner.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pgstore.New(pool), nil
	default:
		return walstore.OpenStore(cfg.DataDir)
	}
}
