package rules

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fieldpath"
)

func testRecord() domain.Value {
	return domain.FromAny(map[string]any{
		"amount":              15000.0,
		"currency":            "USD",
		"destination_country": "IR",
		"screening": map[string]any{
			"sanctions_match":  true,
			"match_confidence": 0.95,
		},
	})
}

func newTestEngine() *Engine {
	executor := NewExecutor(nil, nil, nil, nil)
	return NewEngine(fieldpath.NewRegistry(), executor, nil, nil)
}

func TestEvaluateInactiveRule(t *testing.T) {
	engine := newTestEngine()

	rule := &domain.RiskRule{
		ID:      "rule-1",
		Name:    "Disabled",
		Enabled: false,
		Conditions: []domain.RuleCondition{
			{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 1.0},
		},
		Actions: []domain.RuleAction{{Type: domain.ActionLog}},
	}

	result := engine.Evaluate(context.Background(), rule, testRecord())

	if result.Triggered {
		t.Error("disabled rule should not trigger")
	}
	if result.Metadata["reason"] != domain.ReasonInactive {
		t.Errorf("expected inactive reason, got %v", result.Metadata)
	}
	if result.RiskLevel != domain.RiskMinimal {
		t.Errorf("expected minimal risk, got %s", result.RiskLevel)
	}
	if len(result.ActionsExecuted) != 0 {
		t.Errorf("no actions should run: %v", result.ActionsExecuted)
	}
}

func TestEvaluateExpiredRule(t *testing.T) {
	engine := newTestEngine()
	past := time.Now().Add(-time.Hour)

	rule := &domain.RiskRule{
		ID:         "rule-expired",
		Name:       "Expired",
		Enabled:    true,
		ExpiryDate: &past,
		Conditions: []domain.RuleCondition{
			{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 1.0},
		},
		Actions: []domain.RuleAction{{Type: domain.ActionLog}},
	}

	result := engine.Evaluate(context.Background(), rule, testRecord())
	if result.Triggered || result.Metadata["reason"] != domain.ReasonInactive {
		t.Errorf("expired rule should be inactive: %+v", result)
	}
}

func TestEvaluateLogic(t *testing.T) {
	engine := newTestEngine()

	matching := domain.RuleCondition{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 1000.0}
	failing := domain.RuleCondition{FieldPath: "currency", Operator: domain.OpEquals, Value: "EUR"}

	t.Run("AndAllMatch", func(t *testing.T) {
		rule := &domain.RiskRule{
			ID: "r", Name: "r", Enabled: true,
			LogicOperator: domain.LogicAnd,
			Conditions:    []domain.RuleCondition{matching, {FieldPath: "currency", Operator: domain.OpEquals, Value: "USD"}},
			Actions:       []domain.RuleAction{{Type: domain.ActionLog}},
		}
		result := engine.Evaluate(context.Background(), rule, testRecord())
		if !result.Triggered {
			t.Error("AND rule with all conditions matching should trigger")
		}
		if len(result.MatchedConditions) != 2 {
			t.Errorf("matched conditions = %v", result.MatchedConditions)
		}
	})

	t.Run("AndPartialMatch", func(t *testing.T) {
		rule := &domain.RiskRule{
			ID: "r", Name: "r", Enabled: true,
			LogicOperator: domain.LogicAnd,
			Conditions:    []domain.RuleCondition{matching, failing},
			Actions:       []domain.RuleAction{{Type: domain.ActionLog}},
		}
		result := engine.Evaluate(context.Background(), rule, testRecord())
		if result.Triggered {
			t.Error("AND rule with a failing condition should not trigger")
		}
	})

	t.Run("OrPartialMatch", func(t *testing.T) {
		rule := &domain.RiskRule{
			ID: "r", Name: "r", Enabled: true,
			LogicOperator: domain.LogicOr,
			Conditions:    []domain.RuleCondition{matching, failing},
			Actions:       []domain.RuleAction{{Type: domain.ActionLog}},
		}
		result := engine.Evaluate(context.Background(), rule, testRecord())
		if !result.Triggered {
			t.Error("OR rule with one matching condition should trigger")
		}
	})

	t.Run("NoConditions", func(t *testing.T) {
		rule := &domain.RiskRule{
			ID: "r", Name: "r", Enabled: true,
			LogicOperator: domain.LogicAnd,
			Actions:       []domain.RuleAction{{Type: domain.ActionLog}},
		}
		result := engine.Evaluate(context.Background(), rule, testRecord())
		if result.Triggered {
			t.Error("rule without conditions should not trigger under AND")
		}
	})
}

func TestEvaluateLogicRandomVectors(t *testing.T) {
	engine := newTestEngine()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(8)
		fields := make(map[string]any, n)
		conditions := make([]domain.RuleCondition, n)
		allTrue, anyTrue := true, false
		for j := 0; j < n; j++ {
			name := fmt.Sprintf("flag_%d", j)
			v := rng.Intn(2) == 1
			fields[name] = v
			conditions[j] = domain.RuleCondition{FieldPath: name, Operator: domain.OpEquals, Value: true}
			allTrue = allTrue && v
			anyTrue = anyTrue || v
		}
		record := domain.FromAny(fields)

		andRule := &domain.RiskRule{
			ID: "and", Name: "and", Enabled: true,
			LogicOperator: domain.LogicAnd,
			Conditions:    conditions,
		}
		orRule := &domain.RiskRule{
			ID: "or", Name: "or", Enabled: true,
			LogicOperator: domain.LogicOr,
			Conditions:    conditions,
		}

		if got := engine.Evaluate(context.Background(), andRule, record).Triggered; got != allTrue {
			t.Fatalf("vector %d %v: AND triggered = %v, want %v", i, fields, got, allTrue)
		}
		if got := engine.Evaluate(context.Background(), orRule, record).Triggered; got != anyTrue {
			t.Fatalf("vector %d %v: OR triggered = %v, want %v", i, fields, got, anyTrue)
		}
	}
}

func TestEvaluateNestedFieldPath(t *testing.T) {
	engine := newTestEngine()

	rule := &domain.RiskRule{
		ID: "r", Name: "r", Enabled: true,
		LogicOperator: domain.LogicAnd,
		Conditions: []domain.RuleCondition{
			{FieldPath: "screening.match_confidence", Operator: domain.OpGreaterThan, Value: 0.8},
		},
		Actions: []domain.RuleAction{{Type: domain.ActionLog}},
	}

	result := engine.Evaluate(context.Background(), rule, testRecord())
	if !result.Triggered {
		t.Error("nested field condition should match")
	}
	if result.DataSnapshot["screening.match_confidence"] != 0.95 {
		t.Errorf("snapshot = %v", result.DataSnapshot)
	}
}

func TestEvaluateMissingFieldResolvesFalse(t *testing.T) {
	engine := newTestEngine()

	rule := &domain.RiskRule{
		ID: "r", Name: "r", Enabled: true,
		LogicOperator: domain.LogicAnd,
		Conditions: []domain.RuleCondition{
			{FieldPath: "no.such.field", Operator: domain.OpGreaterThan, Value: 1.0},
		},
		Actions: []domain.RuleAction{{Type: domain.ActionLog}},
	}

	result := engine.Evaluate(context.Background(), rule, testRecord())
	if result.Triggered {
		t.Error("missing field should resolve the condition to false")
	}
}

func TestConfidenceScoring(t *testing.T) {
	t.Run("FullMatch", func(t *testing.T) {
		rule := &domain.RiskRule{RuleType: domain.RuleCustom, Priority: 0}
		if got := confidence(rule, 2, 2); got != 1.0 {
			t.Errorf("confidence = %v, want 1.0", got)
		}
	})

	t.Run("SanctionsAndPriorityBoost", func(t *testing.T) {
		rule := &domain.RiskRule{RuleType: domain.RuleSanctionsScreening, Priority: 3}
		got := confidence(rule, 1, 2)
		want := 0.5 * 1.2 * 1.1
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("confidence = %v, want %v", got, want)
		}
	})

	t.Run("ClampedAtOne", func(t *testing.T) {
		rule := &domain.RiskRule{RuleType: domain.RulePEPScreening, Priority: 5}
		if got := confidence(rule, 3, 3); got != 1.0 {
			t.Errorf("confidence = %v, want clamp to 1.0", got)
		}
	})

	t.Run("ZeroConditions", func(t *testing.T) {
		rule := &domain.RiskRule{RuleType: domain.RuleCustom}
		if got := confidence(rule, 0, 0); got != 0 {
			t.Errorf("confidence = %v, want 0", got)
		}
	})
}

func TestRiskLevelMapping(t *testing.T) {
	cases := []struct {
		name       string
		ruleType   domain.RuleType
		priority   int
		confidence float64
		want       domain.RiskLevel
	}{
		{"SanctionsHigh", domain.RuleSanctionsScreening, 3, 1.0, domain.RiskCritical},
		{"MonitorMedium", domain.RuleTransactionMonitor, 0, 1.0, domain.RiskMedium},
		{"CustomLow", domain.RuleCustom, 0, 1.0, domain.RiskLow},
		{"CustomMinimal", domain.RuleCustom, 0, 0.5, domain.RiskMinimal},
		{"AdverseMediaBoosted", domain.RuleAdverseMedia, 5, 1.0, domain.RiskHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := &domain.RiskRule{RuleType: tc.ruleType, Priority: tc.priority}
			if got := riskLevel(rule, tc.confidence); got != tc.want {
				t.Errorf("riskLevel = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestActionOrderAndFailureIsolation(t *testing.T) {
	executor := NewExecutor(nil, nil, nil, nil)

	var mu sync.Mutex
	var order []string
	executor.RegisterFunc("record", func(ctx context.Context, data domain.Value, rule *domain.RiskRule, params map[string]any) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, params["label"].(string))
		return true, nil
	})
	executor.RegisterFunc("fail", func(ctx context.Context, data domain.Value, rule *domain.RiskRule, params map[string]any) (bool, error) {
		return false, nil
	})

	engine := NewEngine(fieldpath.NewRegistry(), executor, nil, nil)

	rule := &domain.RiskRule{
		ID: "r", Name: "r", Enabled: true,
		LogicOperator: domain.LogicAnd,
		Conditions: []domain.RuleCondition{
			{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 1.0},
		},
		Actions: []domain.RuleAction{
			{Type: domain.ActionCustomFunction, Priority: 3, Parameters: map[string]any{"function": "record", "label": "third"}},
			{Type: domain.ActionCustomFunction, Priority: 2, Parameters: map[string]any{"function": "fail"}},
			{Type: domain.ActionCustomFunction, Priority: 1, Parameters: map[string]any{"function": "record", "label": "first"}},
		},
	}

	result := engine.Evaluate(context.Background(), rule, testRecord())

	if !result.Triggered {
		t.Fatal("rule should trigger")
	}
	// The failing action is omitted; the others still run in priority order.
	if len(result.ActionsExecuted) != 2 {
		t.Fatalf("executed = %v", result.ActionsExecuted)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Errorf("execution order = %v", order)
	}
}

func TestEvaluateTimedOut(t *testing.T) {
	engine := newTestEngine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rule := &domain.RiskRule{
		ID: "r", Name: "r", Enabled: true,
		LogicOperator: domain.LogicAnd,
		Conditions: []domain.RuleCondition{
			{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 1.0},
		},
		Actions: []domain.RuleAction{{Type: domain.ActionLog}},
	}

	result := engine.Evaluate(ctx, rule, testRecord())
	if result.Triggered {
		t.Error("cancelled evaluation should not trigger")
	}
	if result.Metadata["reason"] != domain.ReasonTimedOut {
		t.Errorf("expected timed_out reason, got %v", result.Metadata)
	}
}

func TestEngineStats(t *testing.T) {
	engine := newTestEngine()

	triggering := &domain.RiskRule{
		ID: "r1", Name: "r1", Enabled: true,
		LogicOperator: domain.LogicAnd,
		Conditions: []domain.RuleCondition{
			{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 1.0},
		},
		Actions: []domain.RuleAction{{Type: domain.ActionLog}},
	}
	nonTriggering := &domain.RiskRule{
		ID: "r2", Name: "r2", Enabled: true,
		LogicOperator: domain.LogicAnd,
		Conditions: []domain.RuleCondition{
			{FieldPath: "amount", Operator: domain.OpLessThan, Value: 1.0},
		},
		Actions: []domain.RuleAction{{Type: domain.ActionLog}},
	}

	engine.Evaluate(context.Background(), triggering, testRecord())
	engine.Evaluate(context.Background(), nonTriggering, testRecord())

	stats := engine.Stats()
	if stats.Evaluations != 2 {
		t.Errorf("evaluations = %d", stats.Evaluations)
	}
	if stats.Triggered != 1 {
		t.Errorf("triggered = %d", stats.Triggered)
	}
	if stats.AvgLatency < 0 {
		t.Errorf("avg latency = %v", stats.AvgLatency)
	}
}
