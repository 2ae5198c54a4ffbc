package store

import (
	"context"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Bootstrap seeds the default compliance rule set. It is a no-op when
// the store already holds any rules, so restarts never duplicate or
// overwrite operator-managed rules.
func (s *Store) Bootstrap(ctx context.Context) error {
	if s.RuleCount() > 0 {
		return nil
	}

	for _, rule := range defaultRules() {
		if err := s.AddRule(ctx, rule); err != nil {
			return err
		}
	}
	s.logger.Info("default rules bootstrapped", "count", len(defaultRules()))
	return nil
}

func defaultRules() []*domain.RiskRule {
	return []*domain.RiskRule{
		{
			ID:          "rule-high-value-transaction",
			Name:        "High Value Transaction",
			Description: "Flags transactions above the high-value reporting threshold",
			RuleType:    domain.RuleTransactionMonitor,
			Conditions: []domain.RuleCondition{
				{FieldPath: "amount", Operator: domain.OpGreaterThan, Value: 10000.0},
			},
			Actions: []domain.RuleAction{
				{Type: domain.ActionAlert, Parameters: map[string]any{
					"severity": "high",
					"message":  "Transaction exceeds high-value threshold",
				}},
			},
			LogicOperator:  domain.LogicAnd,
			Enabled:        true,
			Priority:       3,
			Tags:           []string{"aml", "transaction"},
			ComplianceRefs: []string{"BSA-CTR"},
		},
		{
			ID:          "rule-pep-match",
			Name:        "PEP Match",
			Description: "Raises when a counterparty matches the PEP list",
			RuleType:    domain.RulePEPScreening,
			Conditions: []domain.RuleCondition{
				{FieldPath: "screening.pep_match", Operator: domain.OpEquals, Value: true},
			},
			Actions: []domain.RuleAction{
				{Type: domain.ActionNotify, Priority: 1, Parameters: map[string]any{
					"message": "PEP match requires enhanced due diligence",
					"channel": "compliance",
				}},
				{Type: domain.ActionAlert, Priority: 2, Parameters: map[string]any{
					"severity": "high",
					"message":  "Politically exposed person matched",
				}},
			},
			LogicOperator:  domain.LogicAnd,
			Enabled:        true,
			Priority:       5,
			Tags:           []string{"pep", "screening"},
			ComplianceRefs: []string{"FATF-R12"},
		},
		{
			ID:          "rule-sanctions-hit",
			Name:        "Sanctions Hit",
			Description: "Blocks transactions with a confident sanctions list match",
			RuleType:    domain.RuleSanctionsScreening,
			Conditions: []domain.RuleCondition{
				{FieldPath: "screening.sanctions_match", Operator: domain.OpEquals, Value: true},
				{FieldPath: "screening.match_confidence", Operator: domain.OpGreaterThan, Value: 0.8},
			},
			Actions: []domain.RuleAction{
				{Type: domain.ActionCustomFunction, Priority: 1, Parameters: map[string]any{
					"function": "block_transaction",
				}},
				{Type: domain.ActionAlert, Priority: 2, Parameters: map[string]any{
					"severity": "critical",
					"message":  "Sanctions match above confidence threshold",
				}},
			},
			LogicOperator:  domain.LogicAnd,
			Enabled:        true,
			Priority:       5,
			Tags:           []string{"sanctions", "screening"},
			ComplianceRefs: []string{"OFAC-SDN"},
		},
		{
			ID:          "rule-high-risk-country",
			Name:        "High Risk Country",
			Description: "Flags transactions touching high-risk jurisdictions",
			RuleType:    domain.RuleGeographicRisk,
			Conditions: []domain.RuleCondition{
				{FieldPath: "destination_country", Operator: domain.OpInList,
					Value: []string{"IR", "KP", "SY", "CU", "MM"}},
			},
			Actions: []domain.RuleAction{
				{Type: domain.ActionAlert, Parameters: map[string]any{
					"severity": "high",
					"message":  "Destination is a high-risk jurisdiction",
				}},
			},
			LogicOperator:  domain.LogicAnd,
			Enabled:        true,
			Priority:       3,
			Tags:           []string{"geographic", "aml"},
			ComplianceRefs: []string{"FATF-HIGH-RISK"},
		},
		{
			ID:          "rule-adverse-media",
			Name:        "Adverse Media",
			Description: "Flags customers with strong adverse media signals",
			RuleType:    domain.RuleAdverseMedia,
			Conditions: []domain.RuleCondition{
				{FieldPath: "screening.adverse_media_score", Operator: domain.OpGreaterThan, Value: 0.7},
			},
			Actions: []domain.RuleAction{
				{Type: domain.ActionLog, Parameters: map[string]any{
					"message": "Adverse media score above review threshold",
				}},
			},
			LogicOperator:  domain.LogicAnd,
			Enabled:        true,
			Priority:       2,
			Tags:           []string{"screening", "media"},
		},
	}
}
