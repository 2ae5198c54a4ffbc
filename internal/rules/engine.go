package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fieldpath"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Engine evaluates risk rules against dynamically-typed records.
type Engine struct {
	fields   *fieldpath.Registry
	executor *Executor
	logger   *slog.Logger
	metrics  *metrics.Collector

	// now is replaceable for deterministic tests.
	now func() time.Time

	mu    sync.Mutex
	stats Stats
}

// Stats holds running evaluation statistics. AvgLatency is maintained
// incrementally.
type Stats struct {
	Evaluations int64         `json:"evaluations"`
	Triggered   int64         `json:"triggered"`
	AvgLatency  time.Duration `json:"avgLatency"`
}

// NewEngine creates a rule evaluation engine.
func NewEngine(fields *fieldpath.Registry, executor *Executor, logger *slog.Logger, collector *metrics.Collector) *Engine {
	if fields == nil {
		fields = fieldpath.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		fields:   fields,
		executor: executor,
		logger:   logger,
		metrics:  collector,
		now:      time.Now,
	}
}

// Fields returns the extractor registry used for condition resolution.
func (e *Engine) Fields() *fieldpath.Registry { return e.fields }

// Executor returns the action executor.
func (e *Engine) Executor() *Executor { return e.executor }

// Stats returns a copy of the running statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Evaluate runs one rule against a record: activation check, condition
// evaluation, confidence and risk scoring, then action execution for
// triggered rules.
func (e *Engine) Evaluate(ctx context.Context, rule *domain.RiskRule, data domain.Value) *domain.RuleEvaluationResult {
	start := e.now()

	result := &domain.RuleEvaluationResult{
		RuleID:      rule.ID,
		RiskLevel:   domain.RiskMinimal,
		EvaluatedAt: start.UTC(),
	}

	if !rule.ActiveAt(start) {
		result.Metadata = map[string]string{"reason": domain.ReasonInactive}
		return result
	}
	if ctx.Err() != nil {
		result.Metadata = map[string]string{"reason": domain.ReasonTimedOut}
		return result
	}

	matched := 0
	for _, cond := range rule.Conditions {
		if ctx.Err() != nil {
			result.Metadata = map[string]string{"reason": domain.ReasonTimedOut}
			result.ProcessMs = time.Since(start).Milliseconds()
			return result
		}
		if e.evaluateCondition(rule, cond, data) {
			matched++
			result.MatchedConditions = append(result.MatchedConditions, cond.FieldPath)
		}
	}

	total := len(rule.Conditions)
	switch rule.LogicOperator {
	case domain.LogicOr:
		result.Triggered = matched > 0
	default:
		result.Triggered = total > 0 && matched == total
	}

	result.ConfidenceScore = confidence(rule, matched, total)
	result.DataSnapshot = snapshot(e.fields, rule, data)

	if result.Triggered {
		result.RiskLevel = riskLevel(rule, result.ConfidenceScore)
		result.ActionsExecuted = e.runActions(ctx, rule, data)
	}

	latency := time.Since(start)
	result.ProcessMs = latency.Milliseconds()
	e.recordStats(latency, result.Triggered)
	e.metrics.RecordEvaluation(string(rule.RuleType), latency, result.Triggered)

	return result
}

// evaluateCondition resolves and applies one condition. Malformed
// conditions never raise; they resolve to false and are logged.
func (e *Engine) evaluateCondition(rule *domain.RiskRule, cond domain.RuleCondition, data domain.Value) bool {
	if cond.FieldPath == "" {
		e.logger.Warn("condition has empty field path", "rule_id", rule.ID)
		return false
	}

	value := e.fields.Extract(cond.FieldPath, data)
	operand := domain.FromAny(cond.Value)

	ok, err := ApplyOperator(cond.Operator, value, operand)
	if err != nil {
		e.logger.Warn("condition evaluation failed",
			"rule_id", rule.ID,
			"field_path", cond.FieldPath,
			"operator", string(cond.Operator),
			"error", err,
		)
		return false
	}
	return ok
}

// runActions executes the rule's actions in ascending priority order.
// Each failure is isolated: the action is logged and omitted, and the
// remaining actions still run.
func (e *Engine) runActions(ctx context.Context, rule *domain.RiskRule, data domain.Value) []string {
	if e.executor == nil || len(rule.Actions) == 0 {
		return nil
	}

	actions := make([]domain.RuleAction, len(rule.Actions))
	copy(actions, rule.Actions)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})

	var executed []string
	for _, action := range actions {
		if err := e.executor.Execute(ctx, rule, data, action); err != nil {
			e.logger.Error("action execution failed",
				"rule_id", rule.ID,
				"action_type", string(action.Type),
				"error", err,
			)
			e.metrics.RecordActionFailure(string(action.Type))
			continue
		}
		executed = append(executed, string(action.Type))
	}
	return executed
}

func (e *Engine) recordStats(latency time.Duration, triggered bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Evaluations++
	if triggered {
		e.stats.Triggered++
	}
	// Incremental mean: avg += (x - avg) / n
	e.stats.AvgLatency += (latency - e.stats.AvgLatency) / time.Duration(e.stats.Evaluations)
}

// confidence is matched/total, boosted for sanctions/PEP screening
// (x1.2) and high-priority rules (x1.1, priority >= 3), clamped to 1.
func confidence(rule *domain.RiskRule, matched, total int) float64 {
	if total == 0 {
		return 0
	}
	score := float64(matched) / float64(total)

	if rule.RuleType == domain.RuleSanctionsScreening || rule.RuleType == domain.RulePEPScreening {
		score *= 1.2
	}
	if rule.Priority >= 3 {
		score *= 1.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// riskLevel maps a triggered rule to a severity grade.
// score = base(rule type) * confidence * (1 + priority*0.1).
func riskLevel(rule *domain.RiskRule, confidence float64) domain.RiskLevel {
	var base float64
	switch rule.RuleType {
	case domain.RuleSanctionsScreening, domain.RulePEPScreening:
		base = 0.7
	case domain.RuleAdverseMedia, domain.RuleTransactionMonitor:
		base = 0.5
	default:
		base = 0.3
	}

	score := base * confidence * (1 + float64(rule.Priority)*0.1)

	switch {
	case score >= 0.8:
		return domain.RiskCritical
	case score >= 0.6:
		return domain.RiskHigh
	case score >= 0.4:
		return domain.RiskMedium
	case score >= 0.2:
		return domain.RiskLow
	default:
		return domain.RiskMinimal
	}
}

// snapshot captures the input fields referenced by the rule's
// conditions.
func snapshot(fields *fieldpath.Registry, rule *domain.RiskRule, data domain.Value) map[string]any {
	if len(rule.Conditions) == 0 {
		return nil
	}
	snap := make(map[string]any, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		if cond.FieldPath == "" {
			continue
		}
		snap[cond.FieldPath] = fields.Extract(cond.FieldPath, data).ToAny()
	}
	return snap
}
