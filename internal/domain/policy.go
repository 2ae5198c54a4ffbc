package domain

import "time"

// PolicySet is a named, ordered grouping of rule identifiers evaluated
// together.
type PolicySet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Rules       []string  `json:"rules"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RemoveRule strips a rule ID from the policy's rule list.
// Returns true if the list changed.
func (p *PolicySet) RemoveRule(ruleID string) bool {
	kept := p.Rules[:0]
	removed := false
	for _, id := range p.Rules {
		if id == ruleID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	p.Rules = kept
	return removed
}

// PolicyEvaluation aggregates the results of evaluating one policy.
// OverallRiskScore is the unnormalized sum of triggered rules'
// confidence scores; downstream thresholds are calibrated against it,
// so it is not re-normalized even when it exceeds 1.0.
type PolicyEvaluation struct {
	PolicyID         string                  `json:"policyId"`
	Results          []*RuleEvaluationResult `json:"results"`
	RulesTriggered   int                     `json:"rulesTriggered"`
	OverallRiskScore float64                 `json:"overallRiskScore"`
	EvaluatedAt      time.Time               `json:"evaluatedAt"`
}
