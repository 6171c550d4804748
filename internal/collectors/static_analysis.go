package collectors

import (
	"context"
	"fmt"
	"go/ast"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const (
	goSourceExtensionConstant            = ".go"
	syntaxFallbackKeyTemplateConstant    = "%s#%d"
	noGoSourcesLogMessageConstant        = "target has no Go sources; no static analysis evidence"
	staticAnalysisLogMessageConstant     = "static analysis collected"
	detailPackageErrorsConstant          = "packageErrors"
	logFieldPackageCountConstant         = "package_count"
	maximumReportedPackageErrorsConstant = 20
	staticAnalysisLoadModeConstant       = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedSyntax | packages.NeedTypes
)

// StaticAnalysisCollector loads Go packages and counts declarations and type errors.
type StaticAnalysisCollector struct {
	settings     config.StaticAnalysisCollectorConfig
	fileSettings config.FileSystemCollectorConfig
	logger       *zap.Logger
	clock        func() time.Time
}

// NewStaticAnalysisCollector constructs a static analysis collector.
func NewStaticAnalysisCollector(settings config.StaticAnalysisCollectorConfig, fileSettings config.FileSystemCollectorConfig, logger *zap.Logger, clock func() time.Time) *StaticAnalysisCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticAnalysisCollector{settings: settings, fileSettings: fileSettings, logger: logger, clock: clock}
}

// Source reports evidence.SourceStaticAnalysis.
func (collector *StaticAnalysisCollector) Source() evidence.Source {
	return evidence.SourceStaticAnalysis
}

// Collect type-checks the configured package patterns. Targets without Go
// sources yield no observations.
func (collector *StaticAnalysisCollector) Collect(executionContext context.Context, target Target, collectionContext CollectionContext) ([]evidence.Observation, error) {
	files, walkError := walkTarget(evidence.SourceStaticAnalysis, target.Directory, collector.fileSettings.ExcludedDirectories)
	if walkError != nil {
		return nil, walkError
	}
	if !containsGoSource(files) {
		collector.logger.Info(noGoSourcesLogMessageConstant, zap.String(logFieldDirectoryConstant, target.Directory))
		return nil, nil
	}

	loadedPackages, loadError := packages.Load(&packages.Config{
		Context: executionContext,
		Dir:     target.Directory,
		Mode:    staticAnalysisLoadModeConstant,
		Tests:   collector.settings.IncludeTests,
	}, collector.settings.Patterns...)
	if loadError != nil {
		return nil, evidence.NewCollectionError(evidence.SourceStaticAnalysis, loadError)
	}

	packageIDs := map[string]struct{}{}
	goFiles := map[string]struct{}{}
	seenSyntax := map[string]struct{}{}
	var functionCount, typeCount, typeErrorCount int64
	var packageErrors []string
	for _, loadedPackage := range loadedPackages {
		packageIDs[loadedPackage.PkgPath] = struct{}{}
		for _, goFile := range loadedPackage.GoFiles {
			goFiles[goFile] = struct{}{}
		}
		for _, packageError := range loadedPackage.Errors {
			typeErrorCount++
			if len(packageErrors) < maximumReportedPackageErrorsConstant {
				packageErrors = append(packageErrors, packageError.Error())
			}
		}
		for syntaxIndex, syntaxFile := range loadedPackage.Syntax {
			fileKey := fmt.Sprintf(syntaxFallbackKeyTemplateConstant, loadedPackage.ID, syntaxIndex)
			if syntaxIndex < len(loadedPackage.CompiledGoFiles) {
				fileKey = loadedPackage.CompiledGoFiles[syntaxIndex]
			}
			if _, counted := seenSyntax[fileKey]; counted {
				continue
			}
			seenSyntax[fileKey] = struct{}{}
			functions, types := countDeclarations(syntaxFile)
			functionCount += functions
			typeCount += types
		}
	}
	sort.Strings(packageErrors)

	collector.logger.Debug(staticAnalysisLogMessageConstant,
		zap.String(logFieldDirectoryConstant, target.Directory),
		zap.Int(logFieldPackageCountConstant, len(packageIDs)),
	)

	return []evidence.Observation{{
		Source: evidence.SourceStaticAnalysis,
		Type:   ObservationTypeStaticAnalysis,
		Facts: map[string]any{
			FactPackageCount:   int64(len(packageIDs)),
			FactGoFileCount:    int64(len(goFiles)),
			FactFunctionCount:  functionCount,
			FactTypeCount:      typeCount,
			FactTypeErrorCount: typeErrorCount,
			FactCompiles:       typeErrorCount == 0,
		},
		Detail: map[string]any{
			detailPackageErrorsConstant: nonNilStrings(packageErrors),
		},
		CollectedAt: observedAt(collector.clock),
	}}, nil
}

func containsGoSource(files []walkedFile) bool {
	for _, file := range files {
		if strings.HasSuffix(file.relativePath, goSourceExtensionConstant) {
			return true
		}
	}
	return false
}

func countDeclarations(file *ast.File) (int64, int64) {
	var functions, types int64
	for _, declaration := range file.Decls {
		switch typed := declaration.(type) {
		case *ast.FuncDecl:
			functions++
		case *ast.GenDecl:
			for _, spec := range typed.Specs {
				if _, isType := spec.(*ast.TypeSpec); isType {
					types++
				}
			}
		}
	}
	return functions, types
}
