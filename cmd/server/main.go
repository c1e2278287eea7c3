// Command server runs the intake API: signed submission, decision polling,
// and health.
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

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/httpserver"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/ml"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/nonce/redisnonce"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/observability"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/app"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/config"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/pipeline"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.SetupLogger(cfg)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}

	if cfg.HMACSecret == "" {
		return errors.New("HMAC_SECRET must be set")
	}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("db pool: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer func() { _ = rdb.Close() }()
	nonces := redisnonce.New(rdb, cfg.NonceWindow())

	hash := func(kind, value string) string {
		return pipeline.HashIdentifier(cfg.DenyHashSalt, kind, value)
	}
	requests := postgres.NewRequestRepo(pool, hash)
	stages := postgres.NewStageRepo(pool)
	decisions := postgres.NewDecisionRepo(pool)
	queue := postgres.NewQueueRepo(pool, cfg.VisibilityTimeout)

	mlClient := ml.NewClient(cfg.MLServiceURL, cfg.MLTimeout, cfg.MLRetryMax)

	srv := &httpserver.Server{
		Cfg:    cfg,
		Auth:   httpserver.NewAuthenticator(cfg.HMACSecret, nonces, cfg.TimestampSkew),
		Submit: usecase.NewSubmitService(requests, nonces),
		Status: usecase.NewStatusService(requests, stages, decisions),
		DBCheck: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
		QueueCounts: func(ctx context.Context) (int, int, error) {
			return queue.Counts(ctx)
		},
		MLCheck: mlClient.Health,
	}

	handler := app.BuildRouter(cfg, srv)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shCtx); err != nil {
			logger.Error("tracing shutdown", "error", err)
		}
	}
	return nil
}
