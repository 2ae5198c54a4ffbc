// Package monitoring implements stateful transaction monitoring:
// per-customer rolling history, rule archetypes, and alerting.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

const profileCacheTTL = 24 * time.Hour

// Engine monitors transactions against configured rules, maintaining a
// rolling per-customer history and running profile aggregates.
type Engine struct {
	mu        sync.RWMutex
	rules     map[string]*domain.MonitoringRule
	customers map[string]*customerState
	pilot     map[string]bool

	cache   domain.Cache
	logger  *slog.Logger
	metrics *metrics.Collector

	// clock is replaceable for deterministic tests.
	clock func() time.Time

	historyWindow time.Duration

	// network resolves related counterparties for the enhanced path.
	network NetworkLookupFunc
}

// customerState serializes monitoring per customer. Independent
// customers are monitored concurrently.
type customerState struct {
	mu      sync.Mutex
	profile *domain.CustomerProfile
	history []*domain.Transaction
}

// NewEngine creates a monitoring engine. The cache may be nil; profile
// snapshots are then kept in memory only.
func NewEngine(cfg domain.MonitoringConfig, cache domain.Cache, logger *slog.Logger, collector *metrics.Collector) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	historyDays := cfg.HistoryDays
	if historyDays <= 0 {
		historyDays = 90
	}

	pilot := make(map[string]bool, len(cfg.PilotCustomers))
	for _, id := range cfg.PilotCustomers {
		pilot[id] = true
	}

	return &Engine{
		rules:         make(map[string]*domain.MonitoringRule),
		customers:     make(map[string]*customerState),
		pilot:         pilot,
		cache:         cache,
		logger:        logger,
		metrics:       collector,
		clock:         time.Now,
		historyWindow: time.Duration(historyDays) * 24 * time.Hour,
		network:       noNetworkLookup,
	}
}

// AddRule installs or replaces a monitoring rule.
func (e *Engine) AddRule(rule *domain.MonitoringRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("monitoring rule requires an ID")
	}
	switch rule.RuleType {
	case domain.MonitorThreshold, domain.MonitorVelocity, domain.MonitorGeographic,
		domain.MonitorPattern, domain.MonitorTemporal:
	default:
		return fmt.Errorf("unknown monitoring rule type %q", rule.RuleType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	return nil
}

// RemoveRule deletes a monitoring rule by ID.
func (e *Engine) RemoveRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, ruleID)
}

// ListRules returns the configured rules ordered by ID.
func (e *Engine) ListRules() []*domain.MonitoringRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.MonitoringRule, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetNetworkLookup replaces the counterparty network resolver used by
// the enhanced scoring path.
func (e *Engine) SetNetworkLookup(fn NetworkLookupFunc) {
	if fn == nil {
		fn = noNetworkLookup
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.network = fn
}

// Profile returns a copy of a customer's running profile, or nil when
// the customer has never been seen.
func (e *Engine) Profile(customerID string) *domain.CustomerProfile {
	e.mu.RLock()
	state, ok := e.customers[customerID]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	snapshot := *state.profile
	return &snapshot
}

// Monitor runs all enabled monitoring rules against a transaction. The
// transaction is folded into the customer's profile and history before
// evaluation, so it counts toward its own velocity and pattern windows.
// The result's risk score is the uncapped sum of triggered rules'
// contributions.
func (e *Engine) Monitor(ctx context.Context, tx *domain.Transaction) (*domain.MonitoringResult, error) {
	if tx == nil || tx.ID == "" || tx.CustomerID == "" {
		return nil, fmt.Errorf("transaction requires id and customer id")
	}
	start := e.clock()

	state := e.customerState(ctx, tx.CustomerID)

	state.mu.Lock()
	state.profile.Observe(tx)
	state.history = append(state.history, tx)
	e.pruneHistory(state, tx.Timestamp)

	profile := *state.profile
	history := make([]*domain.Transaction, len(state.history))
	copy(history, state.history)
	state.mu.Unlock()

	result := &domain.MonitoringResult{
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
	}

	for _, rule := range e.enabledRules() {
		alert := e.evaluateRule(rule, tx, &profile, history)
		if alert == nil {
			continue
		}
		result.Alerts = append(result.Alerts, alert)
		result.RiskScore += alert.RiskScore
		e.metrics.RecordAlert(alert.AlertType)
	}

	result.RecommendedAction = domain.RecommendActionForScore(result.RiskScore)

	if e.isPilot(tx.CustomerID) {
		result.Enhanced = e.enhancedScore(ctx, tx, &profile)
	}

	e.metrics.RecordRiskScore(result.RiskScore)
	e.snapshotProfile(ctx, &profile)

	result.ProcessMs = time.Since(start).Milliseconds()

	if len(result.Alerts) > 0 {
		e.logger.Info("transaction monitored",
			"transaction_id", tx.ID,
			"customer_id", tx.CustomerID,
			"alerts", len(result.Alerts),
			"risk_score", result.RiskScore,
			"recommended_action", result.RecommendedAction,
		)
	}
	return result, nil
}

// enabledRules returns enabled rules in descending priority order, rule
// ID breaking ties, so alert order is deterministic.
func (e *Engine) enabledRules() []*domain.MonitoringRule {
	e.mu.RLock()
	rules := make([]*domain.MonitoringRule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

func (e *Engine) evaluateRule(rule *domain.MonitoringRule, tx *domain.Transaction, profile *domain.CustomerProfile, history []*domain.Transaction) *domain.TransactionAlert {
	var (
		triggered   bool
		riskScore   float64
		description string
	)

	switch rule.RuleType {
	case domain.MonitorThreshold:
		triggered, riskScore, description = evalThreshold(rule.Parameters, tx)
	case domain.MonitorVelocity:
		triggered, riskScore, description = evalVelocity(rule.Parameters, tx, history)
	case domain.MonitorGeographic:
		triggered, riskScore, description = evalGeographic(rule.Parameters, tx)
	case domain.MonitorPattern:
		triggered, riskScore, description = evalPattern(rule.Parameters, tx, history)
	case domain.MonitorTemporal:
		triggered, riskScore, description = evalTemporal(rule.Parameters, tx)
	default:
		return nil
	}

	if !triggered {
		return nil
	}

	return &domain.TransactionAlert{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		RuleID:        rule.ID,
		AlertType:     string(rule.RuleType),
		RiskScore:     riskScore,
		Description:   description,
		Status:        domain.AlertOpen,
		CreatedAt:     e.clock().UTC(),
	}
}

// customerState returns the state for a customer, warm-starting the
// profile from a cached snapshot on first sight.
func (e *Engine) customerState(ctx context.Context, customerID string) *customerState {
	e.mu.RLock()
	state, ok := e.customers[customerID]
	e.mu.RUnlock()
	if ok {
		return state
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok = e.customers[customerID]; ok {
		return state
	}

	state = &customerState{profile: e.loadProfile(ctx, customerID)}
	e.customers[customerID] = state
	return state
}

func (e *Engine) loadProfile(ctx context.Context, customerID string) *domain.CustomerProfile {
	if e.cache == nil {
		return domain.NewCustomerProfile(customerID)
	}

	raw, err := e.cache.Get(ctx, profileCacheKey(customerID))
	if err != nil || raw == nil {
		return domain.NewCustomerProfile(customerID)
	}

	profile := domain.NewCustomerProfile(customerID)
	if err := json.Unmarshal(raw, profile); err != nil {
		e.logger.Warn("discarding corrupt profile snapshot",
			"customer_id", customerID, "error", err)
		return domain.NewCustomerProfile(customerID)
	}
	return profile
}

func (e *Engine) snapshotProfile(ctx context.Context, profile *domain.CustomerProfile) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, profileCacheKey(profile.CustomerID), raw, profileCacheTTL); err != nil {
		e.logger.Warn("profile snapshot not cached",
			"customer_id", profile.CustomerID, "error", err)
	}
}

// pruneHistory drops transactions older than the rolling window,
// anchored at the newest observed timestamp.
func (e *Engine) pruneHistory(state *customerState, latest time.Time) {
	cutoff := latest.Add(-e.historyWindow)
	kept := state.history[:0]
	for _, tx := range state.history {
		if !tx.Timestamp.Before(cutoff) {
			kept = append(kept, tx)
		}
	}
	for i := len(kept); i < len(state.history); i++ {
		state.history[i] = nil
	}
	state.history = kept
}

func (e *Engine) isPilot(customerID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pilot[customerID]
}

func profileCacheKey(customerID string) string {
	return "harrier:profile:" + customerID
}
