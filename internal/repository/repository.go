// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRule upserts a risk rule. Conditions, actions, tags, and
// compliance references are stored as JSON so enum values and operand
// types round-trip exactly.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.RiskRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	tags, _ := json.Marshal(rule.Tags)
	refs, _ := json.Marshal(rule.ComplianceRefs)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	query := `
		INSERT INTO risk_rules (
			id, name, description, rule_type, conditions, actions,
			logic_operator, enabled, priority, effective_date, expiry_date,
			tags, compliance_refs, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rule_type = excluded.rule_type,
			conditions = excluded.conditions,
			actions = excluded.actions,
			logic_operator = excluded.logic_operator,
			enabled = excluded.enabled,
			priority = excluded.priority,
			effective_date = excluded.effective_date,
			expiry_date = excluded.expiry_date,
			tags = excluded.tags,
			compliance_refs = excluded.compliance_refs,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(rule.RuleType),
		string(conditions), string(actions), string(rule.LogicOperator),
		enabled, rule.Priority,
		nullableTime(rule.EffectiveDate), nullableTime(rule.ExpiryDate),
		string(tags), string(refs),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a risk rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.RiskRule, error) {
	query := `
		SELECT id, name, description, rule_type, conditions, actions,
			   logic_operator, enabled, priority, effective_date, expiry_date,
			   tags, compliance_refs, created_at, updated_at
		FROM risk_rules
		WHERE id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all risk rules ordered by ID.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.RiskRule, error) {
	query := `
		SELECT id, name, description, rule_type, conditions, actions,
			   logic_operator, enabled, priority, effective_date, expiry_date,
			   tags, compliance_refs, created_at, updated_at
		FROM risk_rules
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RiskRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a risk rule by ID.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM risk_rules WHERE id = ?`), ruleID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePolicy upserts a policy set.
func (r *SQLRepository) SavePolicy(ctx context.Context, policy *domain.PolicySet) error {
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy ID is required", ErrInvalidInput)
	}

	rules, err := json.Marshal(policy.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode policy rules: %w", err)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	query := `
		INSERT INTO policy_sets (
			id, name, description, rules, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			rules = excluded.rules,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, policy.Name, policy.Description,
		string(rules), enabled, policy.CreatedAt, policy.UpdatedAt,
	)
	return err
}

// GetPolicy retrieves a policy set by ID.
func (r *SQLRepository) GetPolicy(ctx context.Context, policyID string) (*domain.PolicySet, error) {
	query := `
		SELECT id, name, description, rules, enabled, created_at, updated_at
		FROM policy_sets
		WHERE id = ?
	`

	policy, err := scanPolicy(r.db.QueryRowContext(ctx, r.rebind(query), policyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return policy, err
}

// ListPolicies retrieves all policy sets ordered by ID.
func (r *SQLRepository) ListPolicies(ctx context.Context) ([]*domain.PolicySet, error) {
	query := `
		SELECT id, name, description, rules, enabled, created_at, updated_at
		FROM policy_sets
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.PolicySet
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a policy set by ID.
func (r *SQLRepository) DeletePolicy(ctx context.Context, policyID string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM policy_sets WHERE id = ?`), policyID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAlert stores a transaction alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.TransactionAlert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transaction_alerts (
			id, transaction_id, customer_id, rule_id, alert_type,
			risk_score, description, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TransactionID, alert.CustomerID, alert.RuleID,
		alert.AlertType, alert.RiskScore, alert.Description,
		string(alert.Status), alert.CreatedAt,
	)
	return err
}

// GetAlert retrieves a transaction alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.TransactionAlert, error) {
	query := `
		SELECT id, transaction_id, customer_id, rule_id, alert_type,
			   risk_score, description, status, created_at
		FROM transaction_alerts
		WHERE id = ?
	`

	var alert domain.TransactionAlert
	var status string

	err := r.db.QueryRowContext(ctx, r.rebind(query), alertID).Scan(
		&alert.ID, &alert.TransactionID, &alert.CustomerID, &alert.RuleID,
		&alert.AlertType, &alert.RiskScore, &alert.Description,
		&status, &alert.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	alert.Status = domain.AlertStatus(status)
	return &alert, nil
}

// ListAlertsByCustomer retrieves a customer's alerts since a cutoff,
// newest first.
func (r *SQLRepository) ListAlertsByCustomer(ctx context.Context, customerID string, since time.Time) ([]*domain.TransactionAlert, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, transaction_id, customer_id, rule_id, alert_type,
			   risk_score, description, status, created_at
		FROM transaction_alerts
		WHERE customer_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.TransactionAlert
	for rows.Next() {
		var alert domain.TransactionAlert
		var status string

		if err := rows.Scan(
			&alert.ID, &alert.TransactionID, &alert.CustomerID, &alert.RuleID,
			&alert.AlertType, &alert.RiskScore, &alert.Description,
			&status, &alert.CreatedAt,
		); err != nil {
			return nil, err
		}

		alert.Status = domain.AlertStatus(status)
		alerts = append(alerts, &alert)
	}
	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RiskRule, error) {
	var rule domain.RiskRule
	var ruleType, logicOperator string
	var conditions, actions string
	var tags, refs sql.NullString
	var enabled int
	var effective, expiry sql.NullTime

	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &ruleType,
		&conditions, &actions, &logicOperator,
		&enabled, &rule.Priority, &effective, &expiry,
		&tags, &refs, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.RuleType = domain.RuleType(ruleType)
	rule.LogicOperator = domain.LogicOperator(logicOperator)
	rule.Enabled = enabled == 1

	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to parse conditions for %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to parse actions for %s: %w", rule.ID, err)
	}
	if tags.Valid && tags.String != "" {
		json.Unmarshal([]byte(tags.String), &rule.Tags)
	}
	if refs.Valid && refs.String != "" {
		json.Unmarshal([]byte(refs.String), &rule.ComplianceRefs)
	}
	if effective.Valid {
		t := effective.Time
		rule.EffectiveDate = &t
	}
	if expiry.Valid {
		t := expiry.Time
		rule.ExpiryDate = &t
	}

	return &rule, nil
}

func scanPolicy(row rowScanner) (*domain.PolicySet, error) {
	var policy domain.PolicySet
	var rules string
	var enabled int

	if err := row.Scan(
		&policy.ID, &policy.Name, &policy.Description,
		&rules, &enabled, &policy.CreatedAt, &policy.UpdatedAt,
	); err != nil {
		return nil, err
	}

	policy.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(rules), &policy.Rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules for policy %s: %w", policy.ID, err)
	}
	return &policy, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
