package domain

import "time"

// Transaction is an incoming transaction to be monitored.
type Transaction struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Type is the transaction type (e.g. "transfer", "wire", "deposit").
	Type string `json:"type"`

	Timestamp time.Time `json:"timestamp"`

	SourceAccount      string `json:"sourceAccount,omitempty"`
	DestinationAccount string `json:"destinationAccount,omitempty"`
	SourceCountry      string `json:"sourceCountry,omitempty"`
	DestinationCountry string `json:"destinationCountry,omitempty"`

	Purpose string `json:"purpose,omitempty"`
	Channel string `json:"channel,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// CrossBorder reports whether source and destination countries are set
// and differ.
func (t *Transaction) CrossBorder() bool {
	return t.SourceCountry != "" && t.DestinationCountry != "" &&
		t.SourceCountry != t.DestinationCountry
}

// Record converts the transaction into a dynamically-typed record so
// generic risk rules can address it via dot-path expressions.
func (t *Transaction) Record() Value {
	fields := map[string]Value{
		"id":                  String(t.ID),
		"customer_id":         String(t.CustomerID),
		"amount":              Number(t.Amount),
		"currency":            String(t.Currency),
		"transaction_type":    String(t.Type),
		"timestamp":           String(t.Timestamp.UTC().Format(time.RFC3339)),
		"source_account":      String(t.SourceAccount),
		"destination_account": String(t.DestinationAccount),
		"source_country":      String(t.SourceCountry),
		"destination_country": String(t.DestinationCountry),
		"purpose":             String(t.Purpose),
		"channel":             String(t.Channel),
	}
	if len(t.Metadata) > 0 {
		fields["metadata"] = FromAny(t.Metadata)
	}
	return Map(fields)
}

// MonitoringRuleType identifies a monitoring rule archetype.
type MonitoringRuleType string

const (
	MonitorThreshold  MonitoringRuleType = "threshold"
	MonitorVelocity   MonitoringRuleType = "velocity"
	MonitorGeographic MonitoringRuleType = "geographic"
	MonitorPattern    MonitoringRuleType = "pattern"
	MonitorTemporal   MonitoringRuleType = "temporal"
)

// MonitoringRule configures one stateful monitoring check.
type MonitoringRule struct {
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	RuleType   MonitoringRuleType `json:"ruleType"`
	Parameters map[string]any     `json:"parameters"`
	Enabled    bool               `json:"enabled"`
	Priority   int                `json:"priority"`
}

// CustomerProfile is the running aggregate kept per customer. It is
// updated before rule evaluation, so the current transaction counts
// toward its own velocity and pattern windows.
type CustomerProfile struct {
	CustomerID       string           `json:"customerId"`
	TransactionCount int64            `json:"transactionCount"`
	TotalAmount      float64          `json:"totalAmount"`
	AverageAmount    float64          `json:"averageAmount"`
	FirstSeen        time.Time        `json:"firstSeen"`
	LastSeen         time.Time        `json:"lastSeen"`
	CurrencyCounts   map[string]int64 `json:"currencyCounts"`
	TypeCounts       map[string]int64 `json:"typeCounts"`
	Countries        map[string]bool  `json:"countries"`
}

// NewCustomerProfile returns an empty profile for a customer.
func NewCustomerProfile(customerID string) *CustomerProfile {
	return &CustomerProfile{
		CustomerID:     customerID,
		CurrencyCounts: make(map[string]int64),
		TypeCounts:     make(map[string]int64),
		Countries:      make(map[string]bool),
	}
}

// Observe folds a transaction into the running aggregates.
func (p *CustomerProfile) Observe(tx *Transaction) {
	p.TransactionCount++
	p.TotalAmount += tx.Amount
	p.AverageAmount = p.TotalAmount / float64(p.TransactionCount)
	if p.FirstSeen.IsZero() || tx.Timestamp.Before(p.FirstSeen) {
		p.FirstSeen = tx.Timestamp
	}
	if tx.Timestamp.After(p.LastSeen) {
		p.LastSeen = tx.Timestamp
	}
	if tx.Currency != "" {
		p.CurrencyCounts[tx.Currency]++
	}
	if tx.Type != "" {
		p.TypeCounts[tx.Type]++
	}
	if tx.SourceCountry != "" {
		p.Countries[tx.SourceCountry] = true
	}
	if tx.DestinationCountry != "" {
		p.Countries[tx.DestinationCountry] = true
	}
}

// AlertStatus is the lifecycle state of a transaction alert.
// Transitions past "open" are owned by case management.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertInvestigating AlertStatus = "investigating"
	AlertClosed        AlertStatus = "closed"
	AlertFalsePositive AlertStatus = "false_positive"
)

// TransactionAlert is produced for each monitoring rule that triggers.
// RiskScore is the rule's risk contribution; the per-transaction total
// is the uncapped sum of contributions.
type TransactionAlert struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transactionId"`
	CustomerID    string      `json:"customerId"`
	RuleID        string      `json:"ruleId"`
	AlertType     string      `json:"alertType"`
	RiskScore     float64     `json:"riskScore"`
	Description   string      `json:"description"`
	Status        AlertStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Recommended actions derived from the summed risk score.
const (
	ActionApprove = "approve"
	ActionFlag    = "flag"
	ActionReview  = "review"
	ActionBlock   = "block"
)

// RecommendActionForScore maps a summed risk score to an action.
func RecommendActionForScore(score float64) string {
	switch {
	case score >= 100:
		return ActionBlock
	case score >= 50:
		return ActionReview
	case score >= 25:
		return ActionFlag
	default:
		return ActionApprove
	}
}

// EnhancedScore is the optional pilot-path scoring for allow-listed
// customers. It augments base alerts, never replaces them.
type EnhancedScore struct {
	CompositeScore      float64  `json:"compositeScore"`
	BehavioralDeviation float64  `json:"behavioralDeviation"`
	NetworkConnections  []string `json:"networkConnections,omitempty"`
}

// MonitoringResult is the outcome of monitoring one transaction.
type MonitoringResult struct {
	TransactionID     string              `json:"transactionId"`
	CustomerID        string              `json:"customerId"`
	Alerts            []*TransactionAlert `json:"alerts,omitempty"`
	RiskScore         float64             `json:"riskScore"`
	RecommendedAction string              `json:"recommendedAction"`
	Enhanced          *EnhancedScore      `json:"enhanced,omitempty"`
	ProcessMs         int64               `json:"processMs"`
}
