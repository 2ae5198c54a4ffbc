// Harrier - Compliance risk rules and transaction monitoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/celext"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fieldpath"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/monitoring"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/store"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Metrics
	collector := metrics.NewCollector()

	// Field extractors: dot-path walking plus CEL-derived fields.
	fields := fieldpath.NewRegistry()
	celRegistry, err := celext.New()
	if err != nil {
		slog.Error("failed to initialize CEL environment", "error", err)
		os.Exit(1)
	}
	if err := registerDerivedFields(celRegistry, fields); err != nil {
		slog.Error("failed to register derived fields", "error", err)
		os.Exit(1)
	}

	// Rule engine and action executor
	executor := rules.NewExecutor(busImpl, nil, logger, collector)
	executor.RegisterFunc("block_transaction", blockTransaction(busImpl, logger))

	engine := rules.NewEngine(fields, executor, logger, collector)

	// Rule store
	ruleStore := store.New(engine, repo, logger, cfg.Engine.MaxConcurrency)
	if err := ruleStore.Load(ctx); err != nil {
		slog.Warn("continuing without persisted rules", "error", err)
	}
	if err := ruleStore.Bootstrap(ctx); err != nil {
		slog.Error("failed to bootstrap default rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule store initialized", "rules_count", ruleStore.RuleCount())

	// Monitoring engine
	monitor := monitoring.NewEngine(cfg.Monitoring, cacheImpl, logger, collector)
	for _, rule := range defaultMonitoringRules() {
		if err := monitor.AddRule(rule); err != nil {
			slog.Error("failed to install monitoring rule", "rule_id", rule.ID, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("monitoring engine initialized", "rules_count", len(monitor.ListRules()))

	// Async worker
	w := worker.NewWorker(busImpl, repo, cacheImpl, ruleStore, monitor, logger)
	if err := w.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}
	defer w.Stop()

	slog.Info("harrier ready")

	<-ctx.Done()
	slog.Info("shutting down")
}

// registerDerivedFields installs CEL-computed virtual fields used by
// the default rule set.
func registerDerivedFields(celRegistry *celext.Registry, fields *fieldpath.Registry) error {
	derived := map[string]string{
		"derived.is_high_value":   `double(data.amount) > 10000.0`,
		"derived.is_cross_border": `data.source_country != "" && data.destination_country != "" && data.source_country != data.destination_country`,
	}
	for path, expr := range derived {
		if err := celRegistry.Register(fields, path, expr); err != nil {
			return fmt.Errorf("derived field %s: %w", path, err)
		}
	}
	return nil
}

// blockTransaction is the custom function wired to the sanctions rule.
// It publishes a block decision for the transaction under evaluation.
func blockTransaction(b domain.EventBus, logger *slog.Logger) rules.CustomFunc {
	return func(ctx context.Context, data domain.Value, rule *domain.RiskRule, params map[string]any) (bool, error) {
		txID := fieldpath.Extract("id", data).Text()

		payload := []byte(fmt.Sprintf(`{"transactionId":%q,"action":%q,"ruleId":%q}`,
			txID, domain.ActionBlock, rule.ID))
		if err := b.Publish(ctx, domain.TopicDecision, payload); err != nil {
			return false, err
		}

		logger.Warn("transaction blocked",
			"transaction_id", txID,
			"rule_id", rule.ID,
		)
		return true, nil
	}
}

// defaultMonitoringRules is the starter monitoring configuration.
func defaultMonitoringRules() []*domain.MonitoringRule {
	return []*domain.MonitoringRule{
		{
			ID:       "mon-large-amount",
			Name:     "Large Amount",
			RuleType: domain.MonitorThreshold,
			Parameters: map[string]any{
				"amount_threshold": 10000.0,
			},
			Enabled:  true,
			Priority: 3,
		},
		{
			ID:       "mon-rapid-movement",
			Name:     "Rapid Movement",
			RuleType: domain.MonitorVelocity,
			Parameters: map[string]any{
				"transaction_count": 5,
				"time_window":       3600,
			},
			Enabled:  true,
			Priority: 4,
		},
		{
			ID:       "mon-high-risk-corridor",
			Name:     "High Risk Corridor",
			RuleType: domain.MonitorGeographic,
			Parameters: map[string]any{
				"high_risk_countries": []string{"AF", "MM", "LA", "KH"},
				"sanctions_countries": []string{"IR", "KP", "SY", "CU"},
			},
			Enabled:  true,
			Priority: 5,
		},
		{
			ID:       "mon-structuring-band",
			Name:     "Structuring Band",
			RuleType: domain.MonitorPattern,
			Parameters: map[string]any{
				"min_amount":      9000.0,
				"max_amount":      9999.99,
				"min_occurrences": 3,
				"frequency_days":  7,
			},
			Enabled:  true,
			Priority: 4,
		},
		{
			ID:       "mon-off-hours",
			Name:     "Off Hours Activity",
			RuleType: domain.MonitorTemporal,
			Parameters: map[string]any{
				"business_start_hour": 9,
				"business_end_hour":   17,
				"monitor_weekends":    true,
				"min_amount":          1000.0,
			},
			Enabled:  true,
			Priority: 2,
		},
	}
}
