package domain

import "time"

// Operator is a condition comparison operator.
// Operators serialize to their canonical snake_case names.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpRegexMatch   Operator = "regex_match"
	OpInList       Operator = "in_list"
	OpNotInList    Operator = "not_in_list"
	OpIsEmpty      Operator = "is_empty"
	OpIsNotEmpty   Operator = "is_not_empty"
	OpBetween      Operator = "between"
)

// Operators lists every supported comparison operator.
func Operators() []Operator {
	return []Operator{
		OpEquals, OpNotEquals,
		OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual,
		OpContains, OpNotContains,
		OpStartsWith, OpEndsWith,
		OpRegexMatch,
		OpInList, OpNotInList,
		OpIsEmpty, OpIsNotEmpty,
		OpBetween,
	}
}

// ActionType identifies the side effect a triggered rule performs.
type ActionType string

const (
	ActionAlert          ActionType = "alert"
	ActionLog            ActionType = "log"
	ActionNotify         ActionType = "notify"
	ActionCustomFunction ActionType = "custom_function"
	ActionAPICall        ActionType = "api_call"
	ActionEmail          ActionType = "email"
)

// ActionTypes lists every supported action type.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionAlert, ActionLog, ActionNotify,
		ActionCustomFunction, ActionAPICall, ActionEmail,
	}
}

// RuleType categorizes a risk rule.
type RuleType string

const (
	RuleCustomerScreening    RuleType = "customer_screening"
	RuleTransactionMonitor   RuleType = "transaction_monitoring"
	RuleSanctionsScreening   RuleType = "sanctions_screening"
	RulePEPScreening         RuleType = "pep_screening"
	RuleAdverseMedia         RuleType = "adverse_media"
	RuleGeographicRisk       RuleType = "geographic_risk"
	RuleBehavioralAnalysis   RuleType = "behavioral_analysis"
	RuleComplianceValidation RuleType = "compliance_validation"
	RuleCustom               RuleType = "custom"
)

// LogicOperator combines a rule's condition results.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// RiskLevel grades the severity of a triggered rule.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskLevelRank = map[RiskLevel]int{
	RiskMinimal:  0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordinal position of the level, minimal first.
func (l RiskLevel) Rank() int { return riskLevelRank[l] }

// RuleCondition is a single field/operator/operand check.
type RuleCondition struct {
	FieldPath   string   `json:"fieldPath"`
	Operator    Operator `json:"operator"`
	Value       any      `json:"value,omitempty"`
	Description string   `json:"description,omitempty"`
}

// RuleAction describes a side effect to run when a rule triggers.
// Actions run in ascending priority order; DelayMs is waited before
// the action executes.
type RuleAction struct {
	Type       ActionType     `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority"`
	DelayMs    int64          `json:"delayMs,omitempty"`
}

// Delay returns the configured pre-execution delay.
func (a RuleAction) Delay() time.Duration {
	return time.Duration(a.DelayMs) * time.Millisecond
}

// RiskRule is a declarative compliance rule: conditions combined by a
// logic operator, plus the actions to execute on trigger.
type RiskRule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	RuleType    RuleType `json:"ruleType"`

	Conditions    []RuleCondition `json:"conditions"`
	Actions       []RuleAction    `json:"actions"`
	LogicOperator LogicOperator   `json:"logicOperator"`

	Enabled  bool `json:"enabled"`
	Priority int  `json:"priority"`

	EffectiveDate *time.Time `json:"effectiveDate,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`

	Tags           []string `json:"tags,omitempty"`
	ComplianceRefs []string `json:"complianceRefs,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ActiveAt reports whether the rule is enabled and inside its
// effective/expiry window at the given instant.
func (r *RiskRule) ActiveAt(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.EffectiveDate != nil && now.Before(*r.EffectiveDate) {
		return false
	}
	if r.ExpiryDate != nil && now.After(*r.ExpiryDate) {
		return false
	}
	return true
}

// HasTag reports whether the rule carries the given tag.
func (r *RiskRule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
