package monitoring

import (
	"context"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NetworkLookupFunc resolves counterparty identifiers linked to a
// transaction for the enhanced scoring path. Implementations may call
// out to a graph service; the default resolver returns nothing.
type NetworkLookupFunc func(ctx context.Context, tx *domain.Transaction) []string

func noNetworkLookup(context.Context, *domain.Transaction) []string { return nil }

// enhancedScore computes the pilot-only enrichment. It augments the
// base alerts and never changes the recommended action.
func (e *Engine) enhancedScore(ctx context.Context, tx *domain.Transaction, profile *domain.CustomerProfile) *domain.EnhancedScore {
	return &domain.EnhancedScore{
		CompositeScore:      compositeScore(tx),
		BehavioralDeviation: behavioralDeviation(tx, profile),
		NetworkConnections:  e.network(ctx, tx),
	}
}

// compositeScore blends amount weight (0.3, scaled against 10k),
// cross-border exposure (0.2) and off-hours timing (0.1), capped at 1.
func compositeScore(tx *domain.Transaction) float64 {
	amountWeight := tx.Amount / 10000
	if amountWeight > 1 {
		amountWeight = 1
	}
	score := amountWeight * 0.3

	if tx.CrossBorder() {
		score += 0.2
	}

	hour := tx.Timestamp.UTC().Hour()
	if hour < 6 || hour >= 22 {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	return score
}

// behavioralDeviation grades the amount against the customer's running
// average: 5x or more is a strong deviation (0.7), 2x a moderate one
// (0.3), anything else baseline (0.1). New customers score baseline.
func behavioralDeviation(tx *domain.Transaction, profile *domain.CustomerProfile) float64 {
	if profile.TransactionCount < 2 || profile.AverageAmount <= 0 {
		return 0.1
	}

	ratio := tx.Amount / profile.AverageAmount
	switch {
	case ratio >= 5:
		return 0.7
	case ratio >= 2:
		return 0.3
	default:
		return 0.1
	}
}
