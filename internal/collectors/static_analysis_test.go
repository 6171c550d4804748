package collectors_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/collectors"
	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const sampleModuleDefinitionConstant = "module example.com/sample\n\ngo 1.21\n"

func TestStaticAnalysisCollectorCountsDeclarations(testInstance *testing.T) {
	directory := writeTargetFiles(testInstance, map[string]string{
		"go.mod": sampleModuleDefinitionConstant,
		"calc/calc.go": `package calc

type Calculator struct{}

type Operation func(int, int) int

func Add(left int, right int) int { return left + right }

func (Calculator) Sub(left int, right int) int { return left - right }
`,
		"main.go": `package main

import "example.com/sample/calc"

func main() { _ = calc.Add(1, 2) }
`,
	})
	defaults := config.DefaultAuditConfig()
	collector := collectors.NewStaticAnalysisCollector(defaults.Collectors.StaticAnalysis, defaults.Collectors.FileSystem, zap.NewNop(), fixedClock)

	observations, collectError := collector.Collect(context.Background(), collectors.Target{Directory: directory}, collectors.CollectionContext{Pass: evidence.PassB})
	require.NoError(testInstance, collectError)
	require.Len(testInstance, observations, 1)

	facts := observations[0].Facts
	require.Equal(testInstance, int64(2), facts[collectors.FactPackageCount])
	require.Equal(testInstance, int64(2), facts[collectors.FactGoFileCount])
	require.Equal(testInstance, int64(3), facts[collectors.FactFunctionCount])
	require.Equal(testInstance, int64(2), facts[collectors.FactTypeCount])
	require.Equal(testInstance, int64(0), facts[collectors.FactTypeErrorCount])
	require.Equal(testInstance, true, facts[collectors.FactCompiles])
}

func TestStaticAnalysisCollectorReportsTypeErrors(testInstance *testing.T) {
	directory := writeTargetFiles(testInstance, map[string]string{
		"go.mod":  sampleModuleDefinitionConstant,
		"main.go": "package main\n\nfunc main() { var count int = \"text\"; _ = count }\n",
	})
	defaults := config.DefaultAuditConfig()
	collector := collectors.NewStaticAnalysisCollector(defaults.Collectors.StaticAnalysis, defaults.Collectors.FileSystem, zap.NewNop(), fixedClock)

	observations, collectError := collector.Collect(context.Background(), collectors.Target{Directory: directory}, collectors.CollectionContext{Pass: evidence.PassC})
	require.NoError(testInstance, collectError)
	require.Len(testInstance, observations, 1)
	require.Equal(testInstance, false, observations[0].Facts[collectors.FactCompiles])
	require.NotEmpty(testInstance, observations[0].Detail["packageErrors"])
}

func TestStaticAnalysisCollectorSkipsTargetsWithoutGo(testInstance *testing.T) {
	directory := writeTargetFiles(testInstance, map[string]string{"README.md": "# Notes\n"})
	defaults := config.DefaultAuditConfig()
	collector := collectors.NewStaticAnalysisCollector(defaults.Collectors.StaticAnalysis, defaults.Collectors.FileSystem, zap.NewNop(), fixedClock)

	observations, collectError := collector.Collect(context.Background(), collectors.Target{Directory: directory}, collectors.CollectionContext{Pass: evidence.PassB})
	require.NoError(testInstance, collectError)
	require.Empty(testInstance, observations)
}
