// Package metrics provides Prometheus collectors for the engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates engine and monitoring metrics.
// A nil *Collector is safe to call; all record methods become no-ops,
// so components can run without metrics wired.
type Collector struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	rulesTriggered     *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	alertsTotal        *prometheus.CounterVec
	riskScores         prometheus.Histogram
	actionFailures     *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		evaluationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_rule_evaluations_total",
			Help: "Total number of rule evaluations",
		}, []string{"rule_type"}),
		rulesTriggered: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_rules_triggered_total",
			Help: "Total number of triggered rule evaluations",
		}, []string{"rule_type"}),
		evaluationDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "harrier_rule_evaluation_duration_seconds",
			Help:    "Time taken to evaluate a rule",
			Buckets: prometheus.DefBuckets,
		}),
		alertsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_transaction_alerts_total",
			Help: "Total number of transaction alerts produced",
		}, []string{"alert_type"}),
		riskScores: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "harrier_transaction_risk_score_distribution",
			Help:    "Distribution of summed transaction risk scores",
			Buckets: []float64{0, 25, 50, 75, 100, 150, 200},
		}),
		actionFailures: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "harrier_action_failures_total",
			Help: "Total number of failed rule actions",
		}, []string{"action_type"}),
	}
}

// Registry exposes the underlying registry for embedding by the caller.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordEvaluation records one rule evaluation.
func (c *Collector) RecordEvaluation(ruleType string, duration time.Duration, triggered bool) {
	if c == nil {
		return
	}
	c.evaluationsTotal.WithLabelValues(ruleType).Inc()
	c.evaluationDuration.Observe(duration.Seconds())
	if triggered {
		c.rulesTriggered.WithLabelValues(ruleType).Inc()
	}
}

// RecordAlert records one produced transaction alert.
func (c *Collector) RecordAlert(alertType string) {
	if c == nil {
		return
	}
	c.alertsTotal.WithLabelValues(alertType).Inc()
}

// RecordRiskScore records a summed per-transaction risk score.
func (c *Collector) RecordRiskScore(score float64) {
	if c == nil {
		return
	}
	c.riskScores.Observe(score)
}

// RecordActionFailure records a failed rule action.
func (c *Collector) RecordActionFailure(actionType string) {
	if c == nil {
		return
	}
	c.actionFailures.WithLabelValues(actionType).Inc()
}
