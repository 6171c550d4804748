package pathutils_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pathutils "github.com/temirov/auditgate/internal/utils/path"
)

func TestHomeExpanderExpand(testInstance *testing.T) {
	homeDirectory := filepath.Join(string(filepath.Separator), "home", "auditor")
	expander := pathutils.NewHomeExpanderWithProvider(func() (string, error) { return homeDirectory, nil })

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "tilde_only", input: "~", expected: homeDirectory},
		{name: "tilde_prefix", input: "~/work/repo", expected: filepath.Join(homeDirectory, "work", "repo")},
		{name: "absolute", input: "/srv/repo", expected: "/srv/repo"},
		{name: "other_user", input: "~someone/repo", expected: "~someone/repo"},
		{name: "empty", input: "", expected: ""},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, expander.Expand(testCase.input))
		})
	}
}

func TestHomeExpanderResolve(testInstance *testing.T) {
	failing := pathutils.NewHomeExpanderWithProvider(func() (string, error) { return "", errors.New("no home") })
	require.Equal(testInstance, "~/repo", failing.Expand("~/repo"))

	resolved, resolveError := pathutils.NewHomeExpander().Resolve("relative/target")
	require.NoError(testInstance, resolveError)
	require.True(testInstance, filepath.IsAbs(resolved))

	empty, emptyError := pathutils.NewHomeExpander().Resolve("  ")
	require.NoError(testInstance, emptyError)
	require.Empty(testInstance, empty)
}
