package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const (
	numericDeviationTemplateConstant = "claimed %v, observed %v (deviation %.0f%%)"
	booleanMismatchTemplateConstant  = "claimed %t, observed %t"
	stringMismatchTemplateConstant   = "claimed %q, observed %q"
	listMissingTemplateConstant      = "%d of %d claimed entries not observed: %s"
	typeMismatchTemplateConstant     = "claimed %T value, observed %T value"
	listEntrySeparatorConstant       = ", "
	maximumListedEntriesConstant     = 10
)

// Comparison is the outcome of comparing one claimed value with evidence.
type Comparison struct {
	Mismatch    bool
	Severity    evidence.Severity
	Description string
}

// Compare grades the difference between claimed and observed values.
// Numbers are graded by relative deviation, booleans mismatch as Critical,
// strings as High, and lists by the fraction of claimed entries not observed.
func Compare(claimed any, observed any, thresholds config.DeviationThresholds) Comparison {
	claimedNumber, claimedIsNumber := NumericValue(claimed)
	observedNumber, observedIsNumber := NumericValue(observed)
	if claimedIsNumber && observedIsNumber {
		deviation := RelativeDeviation(claimedNumber, observedNumber)
		if deviation == 0 {
			return Comparison{}
		}
		return Comparison{
			Mismatch:    true,
			Severity:    thresholds.Grade(deviation),
			Description: fmt.Sprintf(numericDeviationTemplateConstant, formatNumber(claimedNumber), formatNumber(observedNumber), deviation*100),
		}
	}

	switch typedClaimed := claimed.(type) {
	case bool:
		typedObserved, observedIsBool := observed.(bool)
		if !observedIsBool {
			return typeMismatch(claimed, observed)
		}
		if typedClaimed == typedObserved {
			return Comparison{}
		}
		return Comparison{
			Mismatch:    true,
			Severity:    evidence.SeverityCritical,
			Description: fmt.Sprintf(booleanMismatchTemplateConstant, typedClaimed, typedObserved),
		}
	case string:
		typedObserved, observedIsString := observed.(string)
		if !observedIsString {
			return typeMismatch(claimed, observed)
		}
		if typedClaimed == typedObserved {
			return Comparison{}
		}
		return Comparison{
			Mismatch:    true,
			Severity:    evidence.SeverityHigh,
			Description: fmt.Sprintf(stringMismatchTemplateConstant, typedClaimed, typedObserved),
		}
	case []any:
		observedList, observedIsList := observed.([]any)
		if !observedIsList {
			return typeMismatch(claimed, observed)
		}
		missing := MissingEntries(typedClaimed, observedList)
		if len(missing) == 0 {
			return Comparison{}
		}
		fraction := float64(len(missing)) / float64(len(typedClaimed))
		return Comparison{
			Mismatch:    true,
			Severity:    thresholds.Grade(fraction),
			Description: fmt.Sprintf(listMissingTemplateConstant, len(missing), len(typedClaimed), summarizeEntries(missing)),
		}
	default:
		return typeMismatch(claimed, observed)
	}
}

// RelativeDeviation is |observed − claimed| / |claimed|. A zero claim
// deviates fully from any non-zero observation.
func RelativeDeviation(claimed float64, observed float64) float64 {
	difference := math.Abs(observed - claimed)
	if difference == 0 {
		return 0
	}
	if claimed == 0 {
		return 1
	}
	return difference / math.Abs(claimed)
}

// NumericValue normalizes the numeric representations produced by claim
// parsing, collectors, and JSON round trips through the payload store.
func NumericValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case json.Number:
		parsed, parseError := typed.Float64()
		return parsed, parseError == nil
	default:
		return 0, false
	}
}

// MissingEntries returns the claimed entries absent from observed.
func MissingEntries(claimed []any, observed []any) []string {
	present := make(map[string]struct{}, len(observed))
	for _, entry := range observed {
		present[entryKey(entry)] = struct{}{}
	}
	var missing []string
	for _, entry := range claimed {
		key := entryKey(entry)
		if _, found := present[key]; !found {
			missing = append(missing, key)
		}
	}
	return missing
}

// ValuesEqual reports whether two fact values are the same after numeric
// normalization.
func ValuesEqual(left any, right any) bool {
	leftNumber, leftIsNumber := NumericValue(left)
	rightNumber, rightIsNumber := NumericValue(right)
	if leftIsNumber || rightIsNumber {
		return leftIsNumber && rightIsNumber && leftNumber == rightNumber
	}
	leftList, leftIsList := left.([]any)
	rightList, rightIsList := right.([]any)
	if leftIsList || rightIsList {
		return leftIsList && rightIsList && len(leftList) == len(rightList) &&
			len(MissingEntries(leftList, rightList)) == 0 && len(MissingEntries(rightList, leftList)) == 0
	}
	return left == right
}

func entryKey(entry any) string {
	if number, isNumber := NumericValue(entry); isNumber {
		return formatNumber(number)
	}
	return fmt.Sprint(entry)
}

func formatNumber(number float64) string {
	if number == math.Trunc(number) && math.Abs(number) < 1e15 {
		return fmt.Sprintf("%d", int64(number))
	}
	return fmt.Sprintf("%g", number)
}

func summarizeEntries(entries []string) string {
	if len(entries) <= maximumListedEntriesConstant {
		return strings.Join(entries, listEntrySeparatorConstant)
	}
	return strings.Join(entries[:maximumListedEntriesConstant], listEntrySeparatorConstant) + listEntrySeparatorConstant + "..."
}

func typeMismatch(claimed any, observed any) Comparison {
	return Comparison{
		Mismatch:    true,
		Severity:    evidence.SeverityHigh,
		Description: fmt.Sprintf(typeMismatchTemplateConstant, claimed, observed),
	}
}
