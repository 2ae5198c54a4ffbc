// Package worker provides async transaction processing off the event
// bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/monitoring"
	"github.com/opensource-finance/harrier/internal/store"
)

var tracer = otel.Tracer("harrier-worker")

// alertCounterWindow is the rolling window for the per-customer alert
// counter kept in the cache.
const alertCounterWindow = 24 * time.Hour

// Worker consumes ingested transactions and runs them through the
// monitoring and rule pipelines.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	cache      domain.Cache
	store      *store.Store
	monitoring *monitoring.Engine
	logger     *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async worker. Repository and cache may be nil;
// alerts are then not persisted or counted.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, st *store.Store, mon *monitoring.Engine, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		cache:      cache,
		store:      st,
		monitoring: mon,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the transaction ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		w.logger.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	return w.processTransaction(ctx, &tx)
}

// decision is the payload published to the decision topic after a
// transaction has been through both pipelines.
type decision struct {
	TransactionID     string                         `json:"transactionId"`
	CustomerID        string                         `json:"customerId"`
	RiskScore         float64                        `json:"riskScore"`
	RecommendedAction string                         `json:"recommendedAction"`
	AlertCount        int                            `json:"alertCount"`
	RulesTriggered    int                            `json:"rulesTriggered"`
	Enhanced          *domain.EnhancedScore          `json:"enhanced,omitempty"`
	RuleResults       []*domain.RuleEvaluationResult `json:"ruleResults,omitempty"`
	ProcessMs         int64                          `json:"processMs"`
}

// processTransaction runs the monitoring engine and the generic rule
// set over one transaction, persists alerts, and publishes the outcome.
func (w *Worker) processTransaction(ctx context.Context, tx *domain.Transaction) error {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "process_transaction",
		trace.WithAttributes(
			attribute.String("transaction.id", tx.ID),
			attribute.String("customer.id", tx.CustomerID),
			attribute.Float64("transaction.amount", tx.Amount),
		),
	)
	defer span.End()

	// 1. Stateful monitoring
	result, err := w.monitoring.Monitor(ctx, tx)
	if err != nil {
		w.logger.Error("monitoring failed",
			"transaction_id", tx.ID,
			"error", err,
		)
		span.RecordError(err)
		return err
	}

	// 2. Generic risk rules over the transaction record
	ruleResults := w.store.EvaluateRules(ctx, tx.Record(), nil)
	triggered := 0
	for _, r := range ruleResults {
		if r.Triggered {
			triggered++
		}
	}

	// 3. Persist alerts
	if w.repo != nil {
		for _, alert := range result.Alerts {
			if err := w.repo.SaveAlert(ctx, alert); err != nil {
				w.logger.Error("failed to save alert",
					"alert_id", alert.ID,
					"transaction_id", tx.ID,
					"error", err,
				)
			}
		}
	}

	// 4. Track per-customer alert volume
	if w.cache != nil && len(result.Alerts) > 0 {
		for range result.Alerts {
			if _, err := w.cache.IncrementCounter(ctx, "alerts:"+tx.CustomerID, alertCounterWindow); err != nil {
				w.logger.Warn("alert counter not incremented",
					"customer_id", tx.CustomerID,
					"error", err,
				)
				break
			}
		}
	}

	// 5. Publish decision
	out := decision{
		TransactionID:     tx.ID,
		CustomerID:        tx.CustomerID,
		RiskScore:         result.RiskScore,
		RecommendedAction: result.RecommendedAction,
		AlertCount:        len(result.Alerts),
		RulesTriggered:    triggered,
		Enhanced:          result.Enhanced,
		RuleResults:       ruleResults,
		ProcessMs:         time.Since(start).Milliseconds(),
	}
	payload, _ := json.Marshal(out)

	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		w.logger.Error("failed to publish decision",
			"transaction_id", tx.ID,
			"error", err,
		)
	}

	// 6. Publish each alert for downstream case management
	for _, alert := range result.Alerts {
		alertPayload, _ := json.Marshal(alert)
		if err := w.bus.Publish(ctx, domain.TopicAlert, alertPayload); err != nil {
			w.logger.Error("failed to publish alert",
				"alert_id", alert.ID,
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	w.logger.Info("transaction processed",
		"transaction_id", tx.ID,
		"customer_id", tx.CustomerID,
		"risk_score", result.RiskScore,
		"recommended_action", result.RecommendedAction,
		"alerts", len(result.Alerts),
		"rules_triggered", triggered,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
