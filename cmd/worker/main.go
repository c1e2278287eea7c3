// Command worker drains the durable queue: it reserves jobs, runs the
// decision pipeline, and finalizes or re-queues. It also hosts the periodic
// retention cleanup and stuck-job sweeper, and serves worker metrics.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/events/kafka"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/llm"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/ml"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/observability"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/config"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/dispatcher"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/domain"
	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
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

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("db pool: %w", err)
	}
	defer pool.Close()

	pack, err := pipeline.LoadRulePack(cfg.RulepackPath)
	if err != nil {
		return fmt.Errorf("rule pack: %w", err)
	}
	logger.Info("rule pack loaded", "version", pack.Version, "rules", len(pack.Rules))

	hash := func(kind, value string) string {
		return pipeline.HashIdentifier(cfg.DenyHashSalt, kind, value)
	}
	requests := postgres.NewRequestRepo(pool, hash)
	stages := postgres.NewStageRepo(pool)
	decisions := postgres.NewDecisionRepo(pool)
	queue := postgres.NewQueueRepo(pool, cfg.VisibilityTimeout)

	breakers := llm.NewBreakerManager(cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout)
	llmClient := llm.NewClient(
		cfg.LLMProvider, cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMModel,
		cfg.LLMMaxTokens, cfg.LLMTemperature, cfg.LLMTimeout,
		cfg.LLMRetryAttempts, time.Duration(cfg.LLMRetryDelayMS)*time.Millisecond,
		breakers.For(cfg.LLMProvider, cfg.LLMEndpoint),
	)
	policy := llm.Policy{
		MinConfidenceForAuto:  cfg.MinConfidenceForAuto,
		FraudDeclineThreshold: cfg.FraudDeclineThreshold,
		FraudReviewThreshold:  cfg.FraudReviewThreshold,
		PTICap:                cfg.PTICap,
		TDSCap:                cfg.TDSCap,
		LTVCap:                cfg.LTVCap,
	}
	adjudicator := llm.NewAdjudicator(llmClient, policy, cfg.LLMModel, cfg.LLMTriggerMin, cfg.LLMTriggerMax)

	canary := &llm.HealthChecker{Adj: adjudicator, Timeout: cfg.LLMHealthTimeout}
	go canary.RunPeriodic(ctx, cfg.LLMHealthInterval)

	runner := &pipeline.Runner{
		Requests:  requests,
		Stages:    stages,
		Rules:     pipeline.NewRuleEvaluator(pack, cfg.DenyHashSalt),
		Features:  pipeline.NewExtractor(requests, cfg.DenyHashSalt, time.Duration(cfg.ReuseWindowDays)*24*time.Hour),
		ML:        ml.NewClient(cfg.MLServiceURL, cfg.MLTimeout, cfg.MLRetryMax),
		Adj:       adjudicator,
		Assembler: pipeline.NewAssembler(cfg.PolicyVersion),
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.DecisionTopic)
	if err != nil {
		// Event publishing is best-effort; the worker still decides.
		logger.Warn("kafka producer unavailable, decision events disabled", "error", err)
		producer = nil
	} else {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = producer.Close(closeCtx)
		}()
	}

	cleanup := postgres.NewCleanupService(pool, cfg.DataRetentionDays, cfg.VisibilityTimeout+5*time.Minute)
	go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)

	// Metrics endpoint for the worker process.
	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "error", err)
		}
	}()

	var pub domain.DecisionPublisher
	if producer != nil {
		pub = producer
	}
	d := dispatcher.New(cfg, queue, decisions, runner, pub)
	logger.Info("worker pool starting", "workers", cfg.WorkerCount)
	d.Run(ctx)

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shCtx)
	if shutdownTracing != nil {
		_ = shutdownTracing(shCtx)
	}
	logger.Info("worker stopped")
	return nil
}
