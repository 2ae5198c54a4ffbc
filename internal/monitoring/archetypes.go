package monitoring

import (
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// evalThreshold triggers when the amount meets amount_threshold, the
// currency passes the optional currencies filter, and the transaction
// type is not excluded. Risk scales with the overshoot, capped at 100.
func evalThreshold(params map[string]any, tx *domain.Transaction) (bool, float64, string) {
	threshold := floatParam(params, "amount_threshold", 0)
	if threshold <= 0 || tx.Amount < threshold {
		return false, 0, ""
	}
	if currencies := stringsParam(params, "currencies"); len(currencies) > 0 && !containsString(currencies, tx.Currency) {
		return false, 0, ""
	}
	if excluded := stringsParam(params, "exclude_types"); containsString(excluded, tx.Type) {
		return false, 0, ""
	}

	risk := tx.Amount / threshold * 50
	if risk > 100 {
		risk = 100
	}
	return true, risk, fmt.Sprintf("amount %.2f %s exceeds threshold %.2f", tx.Amount, tx.Currency, threshold)
}

// evalVelocity counts qualifying transactions (current one included)
// inside the trailing time_window seconds and triggers at
// transaction_count. Risk is 10 per transaction, capped at 100.
func evalVelocity(params map[string]any, tx *domain.Transaction, history []*domain.Transaction) (bool, float64, string) {
	required := intParam(params, "transaction_count", 0)
	windowSecs := intParam(params, "time_window", 0)
	if required <= 0 || windowSecs <= 0 {
		return false, 0, ""
	}
	minAmount := floatParam(params, "min_amount_per_transaction", 0)

	cutoff := tx.Timestamp.Add(-time.Duration(windowSecs) * time.Second)
	count := 0
	for _, past := range history {
		if past.Timestamp.Before(cutoff) || past.Timestamp.After(tx.Timestamp) {
			continue
		}
		if past.Amount < minAmount {
			continue
		}
		count++
	}
	if count < required {
		return false, 0, ""
	}

	risk := float64(count) * 10
	if risk > 100 {
		risk = 100
	}
	return true, risk, fmt.Sprintf("%d transactions within %ds window (limit %d)", count, windowSecs, required)
}

// evalGeographic triggers when either country is high-risk or
// sanctioned, the amount meets min_amount, and the type passes the
// optional filter. Sanctions take precedence: risk 100 versus 50.
func evalGeographic(params map[string]any, tx *domain.Transaction) (bool, float64, string) {
	highRisk := stringsParam(params, "high_risk_countries")
	sanctioned := stringsParam(params, "sanctions_countries")
	if len(highRisk) == 0 && len(sanctioned) == 0 {
		return false, 0, ""
	}
	if tx.Amount < floatParam(params, "min_amount", 0) {
		return false, 0, ""
	}
	if types := stringsParam(params, "transaction_types"); len(types) > 0 && !containsString(types, tx.Type) {
		return false, 0, ""
	}

	hitSanctions := containsString(sanctioned, tx.SourceCountry) || containsString(sanctioned, tx.DestinationCountry)
	hitHighRisk := containsString(highRisk, tx.SourceCountry) || containsString(highRisk, tx.DestinationCountry)

	switch {
	case hitSanctions:
		return true, 100, fmt.Sprintf("transaction touches sanctioned jurisdiction (%s -> %s)", tx.SourceCountry, tx.DestinationCountry)
	case hitHighRisk:
		return true, 50, fmt.Sprintf("transaction touches high-risk jurisdiction (%s -> %s)", tx.SourceCountry, tx.DestinationCountry)
	default:
		return false, 0, ""
	}
}

// evalPattern triggers when the transaction falls inside the
// [min_amount, max_amount] band and at least min_occurrences of the
// history (current one included) fall in the band within the trailing
// frequency_days. Fixed risk contribution of 75.
func evalPattern(params map[string]any, tx *domain.Transaction, history []*domain.Transaction) (bool, float64, string) {
	minAmount := floatParam(params, "min_amount", 0)
	maxAmount := floatParam(params, "max_amount", 0)
	required := intParam(params, "min_occurrences", 0)
	days := intParam(params, "frequency_days", 0)
	if maxAmount <= 0 || required <= 0 || days <= 0 {
		return false, 0, ""
	}
	if tx.Amount < minAmount || tx.Amount > maxAmount {
		return false, 0, ""
	}

	cutoff := tx.Timestamp.AddDate(0, 0, -days)
	count := 0
	for _, past := range history {
		if past.Timestamp.Before(cutoff) || past.Timestamp.After(tx.Timestamp) {
			continue
		}
		if past.Amount < minAmount || past.Amount > maxAmount {
			continue
		}
		count++
	}
	if count < required {
		return false, 0, ""
	}

	return true, 75, fmt.Sprintf("%d transactions in %.2f-%.2f band over %d days (limit %d)",
		count, minAmount, maxAmount, days, required)
}

// evalTemporal triggers on transactions outside business hours, or on
// monitored weekends, when the amount meets min_amount. Fixed risk
// contribution of 20.
func evalTemporal(params map[string]any, tx *domain.Transaction) (bool, float64, string) {
	if tx.Amount < floatParam(params, "min_amount", 0) {
		return false, 0, ""
	}

	startHour := intParam(params, "business_start_hour", 9)
	endHour := intParam(params, "business_end_hour", 17)

	ts := tx.Timestamp.UTC()
	hour := ts.Hour()
	weekday := ts.Weekday()

	offHours := hour < startHour || hour >= endHour
	weekend := boolParam(params, "monitor_weekends", false) &&
		(weekday == time.Saturday || weekday == time.Sunday)

	switch {
	case weekend:
		return true, 20, fmt.Sprintf("weekend transaction on %s", weekday)
	case offHours:
		return true, 20, fmt.Sprintf("transaction at %02d:00 outside business hours %02d:00-%02d:00", hour, startHour, endHour)
	default:
		return false, 0, ""
	}
}

// Parameter maps come from JSON, so numbers may arrive as float64,
// json.Number, or native ints.

func floatParam(params map[string]any, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return fallback
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return fallback
	}
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

func stringsParam(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
