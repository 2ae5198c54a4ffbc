package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/fieldpath"
	"github.com/opensource-finance/harrier/internal/rules"
)

func newTestStore() *Store {
	executor := rules.NewExecutor(nil, nil, nil, nil)
	engine := rules.NewEngine(fieldpath.NewRegistry(), executor, nil, nil)
	return New(engine, nil, nil, 4)
}

func validRule(id string, priority int) *domain.RiskRule {
	return &domain.RiskRule{
		ID:       id,
		Name:     "Rule " + id,
		RuleType: domain.RuleTransactionMonitor,
		Conditions: []domain.RuleCondition{
			{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 1000.0},
		},
		Actions:       []domain.RuleAction{{Type: domain.ActionLog}},
		LogicOperator: domain.LogicAnd,
		Enabled:       true,
		Priority:      priority,
	}
}

func record(amount float64) domain.Value {
	return domain.FromAny(map[string]any{"amount": amount, "currency": "USD"})
}

func TestValidateRule(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.RiskRule)
	}{
		{"EmptyID", func(r *domain.RiskRule) { r.ID = "" }},
		{"EmptyName", func(r *domain.RiskRule) { r.Name = "" }},
		{"NoConditions", func(r *domain.RiskRule) { r.Conditions = nil }},
		{"NoActions", func(r *domain.RiskRule) { r.Actions = nil }},
		{"EmptyFieldPath", func(r *domain.RiskRule) { r.Conditions[0].FieldPath = "" }},
		{"EmptyActionType", func(r *domain.RiskRule) { r.Actions[0].Type = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := validRule("r1", 1)
			tc.mutate(rule)
			if err := ValidateRule(rule); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}

	if err := ValidateRule(validRule("r1", 1)); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}
}

func TestRuleCRUD(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	t.Run("Add", func(t *testing.T) {
		if err := s.AddRule(ctx, validRule("r1", 1)); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		got, err := s.GetRule("r1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps not set")
		}
	})

	t.Run("AddDuplicate", func(t *testing.T) {
		if err := s.AddRule(ctx, validRule("r1", 1)); err == nil {
			t.Error("duplicate add should fail")
		}
	})

	t.Run("Update", func(t *testing.T) {
		before, _ := s.GetRule("r1")

		updated := validRule("r1", 5)
		updated.Name = "Renamed"
		if err := s.UpdateRule(ctx, updated); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		after, _ := s.GetRule("r1")
		if after.Name != "Renamed" || after.Priority != 5 {
			t.Errorf("update not applied: %+v", after)
		}
		if !after.CreatedAt.Equal(before.CreatedAt) {
			t.Error("update must preserve CreatedAt")
		}
		if after.UpdatedAt.Before(before.UpdatedAt) {
			t.Error("update must refresh UpdatedAt")
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		if err := s.UpdateRule(ctx, validRule("ghost", 1)); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CopySemantics", func(t *testing.T) {
		got, _ := s.GetRule("r1")
		got.Name = "mutated"
		again, _ := s.GetRule("r1")
		if again.Name == "mutated" {
			t.Error("GetRule must return a copy")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.DeleteRule(ctx, "r1"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := s.GetRule("r1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.DeleteRule(ctx, "r1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("double delete should report ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteRuleStripsPolicies(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		if err := s.AddRule(ctx, validRule(id, 1)); err != nil {
			t.Fatalf("add %s failed: %v", id, err)
		}
	}
	policy := &domain.PolicySet{
		ID:      "p1",
		Name:    "Policy",
		Rules:   []string{"r1", "r2"},
		Enabled: true,
	}
	if err := s.AddPolicy(ctx, policy); err != nil {
		t.Fatalf("add policy failed: %v", err)
	}

	if err := s.DeleteRule(ctx, "r1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, err := s.GetPolicy("p1")
	if err != nil {
		t.Fatalf("get policy failed: %v", err)
	}
	if len(got.Rules) != 1 || got.Rules[0] != "r2" {
		t.Errorf("policy rules = %v, want [r2]", got.Rules)
	}
}

func TestBootstrap(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	count := s.RuleCount()
	if count == 0 {
		t.Fatal("bootstrap installed no rules")
	}

	// Defaults must pass their own validation.
	for _, rule := range s.ListRules() {
		if err := ValidateRule(rule); err != nil {
			t.Errorf("default rule %s invalid: %v", rule.ID, err)
		}
	}

	// A second bootstrap is a no-op.
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	if s.RuleCount() != count {
		t.Errorf("bootstrap not idempotent: %d != %d", s.RuleCount(), count)
	}

	// Bootstrap never overwrites existing rules.
	s2 := newTestStore()
	if err := s2.AddRule(ctx, validRule("custom", 1)); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := s2.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if s2.RuleCount() != 1 {
		t.Errorf("bootstrap should be skipped on a non-empty store, count = %d", s2.RuleCount())
	}
}

func TestEvaluateRulesFilterAndOrder(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	low := validRule("a-low", 1)
	high := validRule("b-high", 5)
	tied := validRule("a-tied", 5)
	disabled := validRule("c-disabled", 9)
	disabled.Enabled = false
	tagged := validRule("d-tagged", 3)
	tagged.Tags = []string{"aml"}
	screening := validRule("e-screening", 2)
	screening.RuleType = domain.RuleSanctionsScreening

	for _, r := range []*domain.RiskRule{low, high, tied, disabled, tagged, screening} {
		if err := s.AddRule(ctx, r); err != nil {
			t.Fatalf("add %s failed: %v", r.ID, err)
		}
	}

	t.Run("DefaultEnabledOnlyDescendingPriority", func(t *testing.T) {
		results := s.EvaluateRules(ctx, record(5000), nil)
		got := make([]string, len(results))
		for i, r := range results {
			got[i] = r.RuleID
		}
		want := []string{"a-tied", "b-high", "d-tagged", "e-screening", "a-low"}
		if len(got) != len(want) {
			t.Fatalf("results = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("results = %v, want %v", got, want)
			}
		}
	})

	t.Run("IncludeDisabled", func(t *testing.T) {
		results := s.EvaluateRules(ctx, record(5000), &Filter{IncludeDisabled: true})
		if len(results) != 6 {
			t.Errorf("got %d results, want 6", len(results))
		}
	})

	t.Run("MinPriority", func(t *testing.T) {
		results := s.EvaluateRules(ctx, record(5000), &Filter{MinPriority: 5})
		if len(results) != 2 {
			t.Errorf("got %d results, want 2", len(results))
		}
	})

	t.Run("ByType", func(t *testing.T) {
		results := s.EvaluateRules(ctx, record(5000), &Filter{RuleTypes: []domain.RuleType{domain.RuleSanctionsScreening}})
		if len(results) != 1 || results[0].RuleID != "e-screening" {
			t.Errorf("results = %v", results)
		}
	})

	t.Run("ByTag", func(t *testing.T) {
		results := s.EvaluateRules(ctx, record(5000), &Filter{Tags: []string{"aml"}})
		if len(results) != 1 || results[0].RuleID != "d-tagged" {
			t.Errorf("results = %v", results)
		}
	})
}

func TestEvaluatePolicy(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	triggering := validRule("t1", 1)
	triggering2 := validRule("t2", 1)
	nonTriggering := validRule("n1", 1)
	nonTriggering.Conditions = []domain.RuleCondition{
		{FieldPath: "amount", Operator: domain.OpLessThan, Value: 1.0},
	}
	unreferenced := validRule("u1", 9)

	for _, r := range []*domain.RiskRule{triggering, triggering2, nonTriggering, unreferenced} {
		if err := s.AddRule(ctx, r); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	policy := &domain.PolicySet{
		ID:      "p1",
		Name:    "Policy",
		Rules:   []string{"t1", "n1", "t2", "missing"},
		Enabled: true,
	}
	if err := s.AddPolicy(ctx, policy); err != nil {
		t.Fatalf("add policy failed: %v", err)
	}

	eval, err := s.EvaluatePolicy(ctx, "p1", record(5000))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	// Only referenced, existing rules are evaluated, in policy order.
	if len(eval.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(eval.Results))
	}
	if eval.Results[0].RuleID != "t1" || eval.Results[1].RuleID != "n1" || eval.Results[2].RuleID != "t2" {
		t.Errorf("result order wrong: %v", eval.Results)
	}
	if eval.RulesTriggered != 2 {
		t.Errorf("rules triggered = %d, want 2", eval.RulesTriggered)
	}

	// Overall risk score is the unnormalized sum of triggered confidences.
	want := eval.Results[0].ConfidenceScore + eval.Results[2].ConfidenceScore
	if math.Abs(eval.OverallRiskScore-want) > 1e-9 {
		t.Errorf("overall risk score = %v, want %v", eval.OverallRiskScore, want)
	}

	if _, err := s.EvaluatePolicy(ctx, "ghost", record(1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPolicyCRUD(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if err := s.AddPolicy(ctx, &domain.PolicySet{ID: "", Name: "x"}); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("empty ID should be invalid, got %v", err)
	}
	if err := s.AddPolicy(ctx, &domain.PolicySet{ID: "p1", Name: ""}); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("empty name should be invalid, got %v", err)
	}

	if err := s.AddPolicy(ctx, &domain.PolicySet{ID: "p1", Name: "Policy", Enabled: true}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := s.AddPolicy(ctx, &domain.PolicySet{ID: "p1", Name: "Policy"}); err == nil {
		t.Error("duplicate policy should fail")
	}

	if err := s.UpdatePolicy(ctx, &domain.PolicySet{ID: "p1", Name: "Updated"}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := s.GetPolicy("p1")
	if got.Name != "Updated" {
		t.Errorf("update not applied: %+v", got)
	}

	if err := s.DeletePolicy(ctx, "p1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetPolicy("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
