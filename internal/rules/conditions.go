// Package rules provides the declarative condition/action rule engine.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ApplyOperator applies a comparison operator to an extracted field
// value and a condition operand. Malformed inputs (bad regex, wrong
// operand shape, unknown operator) return an error so the caller can
// log them; the condition then resolves to false.
func ApplyOperator(op domain.Operator, value, operand domain.Value) (bool, error) {
	switch op {
	case domain.OpEquals:
		return value.Equal(operand), nil

	case domain.OpNotEquals:
		return !value.Equal(operand), nil

	case domain.OpGreaterThan:
		return ordered(value, operand, func(c int) bool { return c > 0 }), nil

	case domain.OpLessThan:
		return ordered(value, operand, func(c int) bool { return c < 0 }), nil

	case domain.OpGreaterEqual:
		return ordered(value, operand, func(c int) bool { return c >= 0 }), nil

	case domain.OpLessEqual:
		return ordered(value, operand, func(c int) bool { return c <= 0 }), nil

	case domain.OpContains:
		if value.IsNull() {
			return false, nil
		}
		return strings.Contains(value.Text(), operand.Text()), nil

	case domain.OpNotContains:
		if value.IsNull() {
			return true, nil
		}
		return !strings.Contains(value.Text(), operand.Text()), nil

	case domain.OpStartsWith:
		if value.IsNull() {
			return false, nil
		}
		return strings.HasPrefix(value.Text(), operand.Text()), nil

	case domain.OpEndsWith:
		if value.IsNull() {
			return false, nil
		}
		return strings.HasSuffix(value.Text(), operand.Text()), nil

	case domain.OpRegexMatch:
		if value.IsNull() {
			return false, nil
		}
		re, err := regexp.Compile(operand.Text())
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", operand.Text(), err)
		}
		return re.MatchString(value.Text()), nil

	case domain.OpInList:
		items := operand.Items()
		if items == nil {
			return false, fmt.Errorf("in_list operand is not a list")
		}
		return member(value, items), nil

	case domain.OpNotInList:
		items := operand.Items()
		if items == nil {
			// A non-list operand cannot contain the value.
			return true, nil
		}
		return !member(value, items), nil

	case domain.OpIsEmpty:
		return value.IsEmpty(), nil

	case domain.OpIsNotEmpty:
		return !value.IsEmpty(), nil

	case domain.OpBetween:
		bounds := operand.Items()
		if len(bounds) != 2 {
			return false, fmt.Errorf("between operand must be a 2-element bound")
		}
		low, lowOK := value.Compare(bounds[0])
		high, highOK := value.Compare(bounds[1])
		if !lowOK || !highOK {
			return false, nil
		}
		return low >= 0 && high <= 0, nil

	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// ordered applies a comparison predicate; null or incomparable values
// yield false.
func ordered(value, operand domain.Value, pred func(int) bool) bool {
	if value.IsNull() {
		return false
	}
	c, ok := value.Compare(operand)
	if !ok {
		return false
	}
	return pred(c)
}

func member(value domain.Value, items []domain.Value) bool {
	for _, item := range items {
		if value.Equal(item) {
			return true
		}
	}
	return false
}
