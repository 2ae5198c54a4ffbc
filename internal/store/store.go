// Package store provides validated CRUD over risk rules and policy
// sets, and orchestrates rule evaluation across the stored set.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
)

var (
	// ErrNotFound is returned when a rule or policy does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRule is returned when validation rejects a rule.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidPolicy is returned when validation rejects a policy.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrPersistence wraps repository write failures. The in-memory
	// state has already been updated; the engine keeps operating
	// memory-only.
	ErrPersistence = errors.New("persistence failure")
)

// Store holds risk rules and policy sets. Reads take a shared lock so
// concurrent evaluations are safe against each other; mutators take the
// writer lock.
type Store struct {
	mu       sync.RWMutex
	rules    map[string]*domain.RiskRule
	policies map[string]*domain.PolicySet

	engine *rules.Engine
	repo   domain.Repository
	logger *slog.Logger

	maxConcurrency int
	now            func() time.Time
}

// New creates a store. The repository may be nil for memory-only use.
func New(engine *rules.Engine, repo domain.Repository, logger *slog.Logger, maxConcurrency int) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 16
	}
	return &Store{
		rules:          make(map[string]*domain.RiskRule),
		policies:       make(map[string]*domain.PolicySet),
		engine:         engine,
		repo:           repo,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// ValidateRule rejects structurally invalid rules without mutating
// state.
func ValidateRule(rule *domain.RiskRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidRule)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidRule)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidRule)
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s has no conditions", ErrInvalidRule, rule.ID)
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("%w: rule %s has no actions", ErrInvalidRule, rule.ID)
	}
	for i, cond := range rule.Conditions {
		if cond.FieldPath == "" {
			return fmt.Errorf("%w: rule %s condition %d has an empty field path", ErrInvalidRule, rule.ID, i)
		}
	}
	for i, action := range rule.Actions {
		if action.Type == "" {
			return fmt.Errorf("%w: rule %s action %d has no type", ErrInvalidRule, rule.ID, i)
		}
	}
	return nil
}

func validatePolicy(policy *domain.PolicySet) error {
	if policy == nil {
		return fmt.Errorf("%w: policy is required", ErrInvalidPolicy)
	}
	if policy.ID == "" {
		return fmt.Errorf("%w: policy ID is required", ErrInvalidPolicy)
	}
	if policy.Name == "" {
		return fmt.Errorf("%w: policy name is required", ErrInvalidPolicy)
	}
	return nil
}

// AddRule validates and inserts a new rule.
func (s *Store) AddRule(ctx context.Context, rule *domain.RiskRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.rules[rule.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: rule %s already exists", ErrInvalidRule, rule.ID)
	}
	stored := cloneRule(rule)
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rules[stored.ID] = stored
	s.mu.Unlock()

	return s.persistRule(ctx, stored)
}

// UpdateRule validates and replaces an existing rule, refreshing its
// UpdatedAt timestamp.
func (s *Store) UpdateRule(ctx context.Context, rule *domain.RiskRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.rules[rule.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: rule %s", ErrNotFound, rule.ID)
	}
	stored := cloneRule(rule)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now().UTC()
	s.rules[stored.ID] = stored
	s.mu.Unlock()

	return s.persistRule(ctx, stored)
}

// DeleteRule removes a rule and strips its ID from every policy's rule
// list.
func (s *Store) DeleteRule(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	if _, ok := s.rules[ruleID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: rule %s", ErrNotFound, ruleID)
	}
	delete(s.rules, ruleID)

	var touched []*domain.PolicySet
	for _, policy := range s.policies {
		if policy.RemoveRule(ruleID) {
			policy.UpdatedAt = s.now().UTC()
			touched = append(touched, clonePolicy(policy))
		}
	}
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}

	var persistErr error
	if err := s.repo.DeleteRule(ctx, ruleID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		persistErr = err
	}
	for _, policy := range touched {
		if err := s.repo.SavePolicy(ctx, policy); err != nil {
			persistErr = err
		}
	}
	if persistErr != nil {
		s.logger.Warn("rule deletion not fully persisted, continuing in memory",
			"rule_id", ruleID, "error", persistErr)
		return fmt.Errorf("%w: %v", ErrPersistence, persistErr)
	}
	return nil
}

// GetRule returns a copy of a rule.
func (s *Store) GetRule(ruleID string) (*domain.RiskRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s", ErrNotFound, ruleID)
	}
	return cloneRule(rule), nil
}

// ListRules returns copies of all rules, ordered by ID.
func (s *Store) ListRules() []*domain.RiskRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.RiskRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, cloneRule(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RuleCount returns the number of stored rules.
func (s *Store) RuleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// AddPolicy validates and inserts a new policy set.
func (s *Store) AddPolicy(ctx context.Context, policy *domain.PolicySet) error {
	if err := validatePolicy(policy); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.policies[policy.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: policy %s already exists", ErrInvalidPolicy, policy.ID)
	}
	stored := clonePolicy(policy)
	now := s.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.policies[stored.ID] = stored
	s.mu.Unlock()

	return s.persistPolicy(ctx, stored)
}

// UpdatePolicy validates and replaces an existing policy set.
func (s *Store) UpdatePolicy(ctx context.Context, policy *domain.PolicySet) error {
	if err := validatePolicy(policy); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.policies[policy.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: policy %s", ErrNotFound, policy.ID)
	}
	stored := clonePolicy(policy)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now().UTC()
	s.policies[stored.ID] = stored
	s.mu.Unlock()

	return s.persistPolicy(ctx, stored)
}

// DeletePolicy removes a policy set.
func (s *Store) DeletePolicy(ctx context.Context, policyID string) error {
	s.mu.Lock()
	if _, ok := s.policies[policyID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: policy %s", ErrNotFound, policyID)
	}
	delete(s.policies, policyID)
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	if err := s.repo.DeletePolicy(ctx, policyID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("policy deletion not persisted, continuing in memory",
			"policy_id", policyID, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// GetPolicy returns a copy of a policy set.
func (s *Store) GetPolicy(policyID string) (*domain.PolicySet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("%w: policy %s", ErrNotFound, policyID)
	}
	return clonePolicy(policy), nil
}

// ListPolicies returns copies of all policy sets, ordered by ID.
func (s *Store) ListPolicies() []*domain.PolicySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PolicySet, 0, len(s.policies))
	for _, policy := range s.policies {
		out = append(out, clonePolicy(policy))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load replaces the in-memory state from the repository.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	storedRules, err := s.repo.ListRules(ctx)
	if err != nil {
		s.logger.Warn("failed to load rules, starting memory-only", "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	storedPolicies, err := s.repo.ListPolicies(ctx)
	if err != nil {
		s.logger.Warn("failed to load policies, starting memory-only", "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]*domain.RiskRule, len(storedRules))
	for _, rule := range storedRules {
		s.rules[rule.ID] = rule
	}
	s.policies = make(map[string]*domain.PolicySet, len(storedPolicies))
	for _, policy := range storedPolicies {
		s.policies[policy.ID] = policy
	}
	return nil
}

// Filter restricts which rules EvaluateRules selects.
type Filter struct {
	// IncludeDisabled selects disabled rules too. Default is
	// enabled-only.
	IncludeDisabled bool

	RuleTypes   []domain.RuleType
	Tags        []string
	MinPriority int
}

func (f *Filter) matches(rule *domain.RiskRule) bool {
	if f == nil {
		return rule.Enabled
	}
	if !f.IncludeDisabled && !rule.Enabled {
		return false
	}
	if rule.Priority < f.MinPriority {
		return false
	}
	if len(f.RuleTypes) > 0 {
		found := false
		for _, t := range f.RuleTypes {
			if rule.RuleType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !rule.HasTag(tag) {
			return false
		}
	}
	return true
}

// EvaluateRules evaluates the selected rules against a record. Rules
// are selected in descending priority order (rule ID breaks ties for
// determinism); independent rules evaluate concurrently but the result
// slice preserves selection order.
func (s *Store) EvaluateRules(ctx context.Context, data domain.Value, filter *Filter) []*domain.RuleEvaluationResult {
	s.mu.RLock()
	selected := make([]*domain.RiskRule, 0, len(s.rules))
	for _, rule := range s.rules {
		if filter.matches(rule) {
			selected = append(selected, rule)
		}
	}
	s.mu.RUnlock()

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Priority != selected[j].Priority {
			return selected[i].Priority > selected[j].Priority
		}
		return selected[i].ID < selected[j].ID
	})

	return s.evaluateOrdered(ctx, selected, data)
}

// EvaluatePolicy evaluates exactly the rules referenced by a policy, in
// the policy's order. The overall risk score is the unnormalized sum of
// triggered rules' confidence scores.
func (s *Store) EvaluatePolicy(ctx context.Context, policyID string, data domain.Value) (*domain.PolicyEvaluation, error) {
	s.mu.RLock()
	policy, ok := s.policies[policyID]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: policy %s", ErrNotFound, policyID)
	}
	selected := make([]*domain.RiskRule, 0, len(policy.Rules))
	for _, ruleID := range policy.Rules {
		if rule, ok := s.rules[ruleID]; ok {
			selected = append(selected, rule)
		}
	}
	s.mu.RUnlock()

	results := s.evaluateOrdered(ctx, selected, data)

	eval := &domain.PolicyEvaluation{
		PolicyID:    policyID,
		Results:     results,
		EvaluatedAt: s.now().UTC(),
	}
	for _, result := range results {
		if result.Triggered {
			eval.RulesTriggered++
			eval.OverallRiskScore += result.ConfidenceScore
		}
	}
	return eval, nil
}

// evaluateOrdered evaluates rules concurrently under a semaphore while
// keeping results aligned with the input order.
func (s *Store) evaluateOrdered(ctx context.Context, selected []*domain.RiskRule, data domain.Value) []*domain.RuleEvaluationResult {
	if len(selected) == 0 {
		return nil
	}

	results := make([]*domain.RuleEvaluationResult, len(selected))
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for i, rule := range selected {
		wg.Add(1)
		go func(idx int, r *domain.RiskRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = s.engine.Evaluate(ctx, r, data)
		}(i, rule)
	}

	wg.Wait()
	return results
}

func (s *Store) persistRule(ctx context.Context, rule *domain.RiskRule) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveRule(ctx, rule); err != nil {
		s.logger.Warn("rule not persisted, continuing in memory",
			"rule_id", rule.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) persistPolicy(ctx context.Context, policy *domain.PolicySet) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SavePolicy(ctx, policy); err != nil {
		s.logger.Warn("policy not persisted, continuing in memory",
			"policy_id", policy.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func cloneRule(rule *domain.RiskRule) *domain.RiskRule {
	out := *rule
	out.Conditions = append([]domain.RuleCondition(nil), rule.Conditions...)
	out.Actions = append([]domain.RuleAction(nil), rule.Actions...)
	out.Tags = append([]string(nil), rule.Tags...)
	out.ComplianceRefs = append([]string(nil), rule.ComplianceRefs...)
	return &out
}

func clonePolicy(policy *domain.PolicySet) *domain.PolicySet {
	out := *policy
	out.Rules = append([]string(nil), policy.Rules...)
	return &out
}
