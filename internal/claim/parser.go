package claim

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	emptyClaimReasonConstant                = "claim is empty"
	claimDocumentReasonTemplateConstant     = "claim is not a JSON or YAML mapping: %v"
	emptyFieldNameReasonConstant            = "claim field names must be non-empty"
	nestedValueReasonConstant               = "nested mappings are not supported; use scalars or lists of scalars"
	nullValueReasonConstant                 = "value must not be null"
	nonFiniteValueReasonConstant            = "numbers must be finite"
	unsupportedValueReasonTemplateConstant  = "unsupported value of type %T"
	integerOutOfRangeReasonTemplateConstant = "integer %d exceeds the supported range"
	claimReadErrorTemplateConstant          = "unable to read claim file %s: %w"
)

// Parse decodes a JSON or YAML claim document, normalizes numbers, and
// validates it. Whole numbers become int64 and other numbers float64.
func Parse(document []byte) (evidence.Claim, error) {
	if len(bytes.TrimSpace(document)) == 0 {
		return nil, &evidence.ClaimSchemaError{Reason: emptyClaimReasonConstant}
	}

	var decoded map[string]any
	if decodeError := yaml.Unmarshal(document, &decoded); decodeError != nil {
		return nil, &evidence.ClaimSchemaError{Reason: fmt.Sprintf(claimDocumentReasonTemplateConstant, decodeError)}
	}
	return FromMap(decoded)
}

// ParseFile reads and parses the claim stored at path.
func ParseFile(path string) (evidence.Claim, error) {
	document, readError := os.ReadFile(path)
	if readError != nil {
		return nil, fmt.Errorf(claimReadErrorTemplateConstant, path, readError)
	}
	return Parse(document)
}

// FromMap normalizes and validates an already decoded claim.
func FromMap(raw map[string]any) (evidence.Claim, error) {
	if len(raw) == 0 {
		return nil, &evidence.ClaimSchemaError{Reason: emptyClaimReasonConstant}
	}

	fieldNames := make([]string, 0, len(raw))
	for fieldName := range raw {
		fieldNames = append(fieldNames, fieldName)
	}
	sort.Strings(fieldNames)

	normalized := make(evidence.Claim, len(raw))
	for _, fieldName := range fieldNames {
		if len(strings.TrimSpace(fieldName)) == 0 {
			return nil, &evidence.ClaimSchemaError{Reason: emptyFieldNameReasonConstant}
		}
		value, normalizeError := normalizeValue(raw[fieldName], true)
		if normalizeError != nil {
			return nil, &evidence.ClaimSchemaError{Field: fieldName, Reason: normalizeError.Error()}
		}
		normalized[fieldName] = value
	}

	if validationError := sharedSchemaValidator.validate(normalized); validationError != nil {
		return nil, validationError
	}
	return normalized, nil
}

type normalizationError string

func (message normalizationError) Error() string {
	return string(message)
}

func normalizeValue(value any, allowList bool) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, normalizationError(nullValueReasonConstant)
	case bool, string:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case uint:
		return normalizeUnsigned(uint64(typed))
	case uint64:
		return normalizeUnsigned(typed)
	case float32:
		return normalizeFloat(float64(typed))
	case float64:
		return normalizeFloat(typed)
	case []any:
		if !allowList {
			return nil, normalizationError(nestedValueReasonConstant)
		}
		normalizedList := make([]any, 0, len(typed))
		for _, element := range typed {
			normalizedElement, elementError := normalizeValue(element, false)
			if elementError != nil {
				return nil, elementError
			}
			normalizedList = append(normalizedList, normalizedElement)
		}
		return normalizedList, nil
	case []string:
		normalizedList := make([]any, 0, len(typed))
		for _, element := range typed {
			normalizedList = append(normalizedList, element)
		}
		return normalizedList, nil
	case map[string]any:
		return nil, normalizationError(nestedValueReasonConstant)
	default:
		return nil, normalizationError(fmt.Sprintf(unsupportedValueReasonTemplateConstant, value))
	}
}

func normalizeUnsigned(value uint64) (any, error) {
	if value > math.MaxInt64 {
		return nil, normalizationError(fmt.Sprintf(integerOutOfRangeReasonTemplateConstant, value))
	}
	return int64(value), nil
}

func normalizeFloat(value float64) (any, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, normalizationError(nonFiniteValueReasonConstant)
	}
	if value == math.Trunc(value) && math.Abs(value) < math.MaxInt64 {
		return int64(value), nil
	}
	return value, nil
}
