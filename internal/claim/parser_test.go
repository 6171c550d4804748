package claim_test

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/claim"
	"github.com/temirov/auditgate/internal/evidence"
)

const claimSubtestNameTemplateConstant = "%d_%s"

func TestParseAcceptsJSONAndYAML(testInstance *testing.T) {
	testCases := []struct {
		name     string
		document string
		expected evidence.Claim
	}{
		{
			name:     "json_counts",
			document: `{"filesCreated": 89, "linesOfCode": 10750}`,
			expected: evidence.Claim{"filesCreated": int64(89), "linesOfCode": int64(10750)},
		},
		{
			name:     "yaml_mixed",
			document: "filesCreated: 1\ntestsPassing: true\nfiles:\n  - main.go\n  - README.md\n",
			expected: evidence.Claim{"filesCreated": int64(1), "testsPassing": true, "files": []any{"main.go", "README.md"}},
		},
		{
			name:     "whole_float_becomes_integer",
			document: `{"linesOfCode": 120.0, "coverage": 0.82}`,
			expected: evidence.Claim{"linesOfCode": int64(120), "coverage": 0.82},
		},
		{
			name:     "custom_field",
			document: `{"migrationName": "add_users"}`,
			expected: evidence.Claim{"migrationName": "add_users"},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(claimSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			parsed, parseError := claim.Parse([]byte(testCase.document))
			require.NoError(subTest, parseError)
			require.Equal(subTest, testCase.expected, parsed)
		})
	}
}

func TestParseRejectsMalformedClaims(testInstance *testing.T) {
	testCases := []struct {
		name          string
		document      string
		expectedField string
	}{
		{name: "empty_document", document: "   "},
		{name: "empty_mapping", document: "{}"},
		{name: "not_a_mapping", document: "[1, 2, 3]"},
		{name: "negative_count", document: `{"filesCreated": -1}`, expectedField: "filesCreated"},
		{name: "fractional_count", document: `{"linesOfCode": 10.5}`, expectedField: "linesOfCode"},
		{name: "string_count", document: `{"filesCreated": "ten"}`, expectedField: "filesCreated"},
		{name: "string_boolean", document: `{"compiles": "yes"}`, expectedField: "compiles"},
		{name: "nested_mapping", document: `{"tests": {"passed": 3}}`, expectedField: "tests"},
		{name: "null_value", document: `{"filesCreated": null}`, expectedField: "filesCreated"},
		{name: "numeric_file_list", document: `{"files": [1, 2]}`, expectedField: "files"},
		{name: "overflowing_count", document: "filesCreated: 18446744073709551615\n", expectedField: "filesCreated"},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(claimSubtestNameTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			parsed, parseError := claim.Parse([]byte(testCase.document))
			require.Nil(subTest, parsed)
			require.ErrorIs(subTest, parseError, evidence.ErrClaimSchema)
			require.Equal(subTest, evidence.ErrorKindClaimSchema, evidence.KindOf(parseError))

			var schemaError *evidence.ClaimSchemaError
			require.ErrorAs(subTest, parseError, &schemaError)
			if len(testCase.expectedField) > 0 {
				require.Contains(subTest, schemaError.Field, testCase.expectedField)
			}
		})
	}
}

func TestFromMapRejectsUnsignedOverflow(testInstance *testing.T) {
	accepted, acceptError := claim.FromMap(map[string]any{"filesCreated": uint64(7)})
	require.NoError(testInstance, acceptError)
	require.Equal(testInstance, evidence.Claim{"filesCreated": int64(7)}, accepted)

	rejected, rejectError := claim.FromMap(map[string]any{"filesCreated": uint64(math.MaxUint64)})
	require.Nil(testInstance, rejected)
	var schemaError *evidence.ClaimSchemaError
	require.ErrorAs(testInstance, rejectError, &schemaError)
	require.Equal(testInstance, "filesCreated", schemaError.Field)
}

func TestParseFileReadsClaim(testInstance *testing.T) {
	claimPath := filepath.Join(testInstance.TempDir(), "claim.yaml")
	require.NoError(testInstance, os.WriteFile(claimPath, []byte("filesCreated: 3\n"), 0o600))

	parsed, parseError := claim.ParseFile(claimPath)
	require.NoError(testInstance, parseError)
	require.Equal(testInstance, evidence.Claim{"filesCreated": int64(3)}, parsed)

	_, missingError := claim.ParseFile(filepath.Join(testInstance.TempDir(), "missing.yaml"))
	require.Error(testInstance, missingError)
	require.NotErrorIs(testInstance, missingError, evidence.ErrClaimSchema)
}
