// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for rule, policy, and alert
// persistence. Implementations must preserve exact round-trip fidelity
// of enum values and numeric types, and saves must use atomic replace
// semantics.
type Repository interface {
	// Rule operations
	SaveRule(ctx context.Context, rule *RiskRule) error
	GetRule(ctx context.Context, ruleID string) (*RiskRule, error)
	ListRules(ctx context.Context) ([]*RiskRule, error)
	DeleteRule(ctx context.Context, ruleID string) error

	// Policy operations
	SavePolicy(ctx context.Context, policy *PolicySet) error
	GetPolicy(ctx context.Context, policyID string) (*PolicySet, error)
	ListPolicies(ctx context.Context) ([]*PolicySet, error)
	DeletePolicy(ctx context.Context, policyID string) error

	// Alert operations
	SaveAlert(ctx context.Context, alert *TransactionAlert) error
	GetAlert(ctx context.Context, alertID string) (*TransactionAlert, error)
	ListAlertsByCustomer(ctx context.Context, customerID string, since time.Time) ([]*TransactionAlert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
