package collectors_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/collectors"
	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const collectorSubtestTemplateConstant = "%d_%s"

var fixedCollectionTime = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedCollectionTime
}

func writeTargetFiles(testInstance *testing.T, files map[string]string) string {
	testInstance.Helper()
	directory := testInstance.TempDir()
	for relativePath, content := range files {
		absolutePath := filepath.Join(directory, filepath.FromSlash(relativePath))
		require.NoError(testInstance, os.MkdirAll(filepath.Dir(absolutePath), 0o755))
		require.NoError(testInstance, os.WriteFile(absolutePath, []byte(content), 0o644))
	}
	return directory
}

func TestFileSystemCollectorInventoriesTarget(testInstance *testing.T) {
	directory := writeTargetFiles(testInstance, map[string]string{
		"main.go":          "package main\n\nfunc main() {}\n",
		"internal/util.go": "package internal\nvar x = 1",
		"README.md":        "# Title\n",
		".git/HEAD":        "ref: refs/heads/main\n",
		"vendor/dep/x.go":  "package dep\n",
	})
	defaults := config.DefaultAuditConfig()
	collector := collectors.NewFileSystemCollector(defaults.Collectors.FileSystem, zap.NewNop(), fixedClock)

	observations, collectError := collector.Collect(context.Background(), collectors.Target{Directory: directory}, collectors.CollectionContext{Pass: evidence.PassB})
	require.NoError(testInstance, collectError)
	require.Len(testInstance, observations, 1)

	observation := observations[0]
	require.Equal(testInstance, evidence.SourceFileSystem, observation.Source)
	require.Equal(testInstance, collectors.ObservationTypeFileInventory, observation.Type)
	require.Equal(testInstance, fixedCollectionTime, observation.CollectedAt)
	require.Equal(testInstance, int64(3), observation.Facts[collectors.FactFilesCreated])
	require.Equal(testInstance, int64(3), observation.Facts[collectors.FactFileCount])
	require.Equal(testInstance, int64(5), observation.Facts[collectors.FactLinesOfCode])
	require.Equal(testInstance, []any{"README.md", "internal/util.go", "main.go"}, observation.Facts[collectors.FactFiles])
	require.Nil(testInstance, observation.Detail)
}

func TestFileSystemCollectorReportsMissingClaimedPathsDuringSelfCheck(testInstance *testing.T) {
	directory := writeTargetFiles(testInstance, map[string]string{"main.go": "package main\n"})
	collector := collectors.NewFileSystemCollector(config.DefaultAuditConfig().Collectors.FileSystem, zap.NewNop(), fixedClock)

	observations, collectError := collector.Collect(context.Background(), collectors.Target{Directory: directory}, collectors.CollectionContext{
		Pass: evidence.PassA,
		SelfCheck: &collectors.SelfCheckInputs{
			Claim: evidence.Claim{collectors.FactFiles: []any{"main.go", "missing.go"}},
		},
	})
	require.NoError(testInstance, collectError)
	require.Len(testInstance, observations, 1)
	require.Equal(testInstance, []string{"missing.go"}, observations[0].Detail["claimedPathsMissing"])
}

func TestFileSystemCollectorFailsForMissingTarget(testInstance *testing.T) {
	collector := collectors.NewFileSystemCollector(config.DefaultAuditConfig().Collectors.FileSystem, zap.NewNop(), fixedClock)
	missingDirectory := filepath.Join(testInstance.TempDir(), "absent")

	observations, collectError := collector.Collect(context.Background(), collectors.Target{Directory: missingDirectory}, collectors.CollectionContext{Pass: evidence.PassB})
	require.Error(testInstance, collectError)
	require.Empty(testInstance, observations)
	require.True(testInstance, errors.Is(collectError, evidence.ErrCollection))

	var collectionError *evidence.CollectionError
	require.ErrorAs(testInstance, collectError, &collectionError)
	require.Equal(testInstance, evidence.SourceFileSystem, collectionError.Source)
}

func testCaseName(index int, name string) string {
	return fmt.Sprintf(collectorSubtestTemplateConstant, index, name)
}
