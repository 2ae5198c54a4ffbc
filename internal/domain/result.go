package domain

import "time"

// Evaluation result metadata reasons.
const (
	ReasonInactive = "inactive"
	ReasonTimedOut = "timed_out"
)

// RuleEvaluationResult is the immutable outcome of evaluating one rule
// against one input record.
type RuleEvaluationResult struct {
	RuleID    string    `json:"ruleId"`
	Triggered bool      `json:"triggered"`
	RiskLevel RiskLevel `json:"riskLevel"`

	// ConfidenceScore is in [0, 1].
	ConfidenceScore float64 `json:"confidenceScore"`

	// MatchedConditions holds the field paths of conditions that held.
	MatchedConditions []string `json:"matchedConditions,omitempty"`

	// ActionsExecuted holds the action types that completed successfully,
	// in execution order. Failed actions are absent.
	ActionsExecuted []string `json:"actionsExecuted,omitempty"`

	// ProcessMs is the evaluation latency in milliseconds.
	ProcessMs int64 `json:"processMs"`

	// DataSnapshot captures the input fields referenced by the rule's
	// conditions at evaluation time.
	DataSnapshot map[string]any `json:"dataSnapshot,omitempty"`

	// Metadata carries processing flags such as "reason": "inactive".
	Metadata map[string]string `json:"metadata,omitempty"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}
