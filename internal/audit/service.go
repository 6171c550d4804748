package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/collectors"
	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/execshell"
	"github.com/temirov/auditgate/internal/ledger"
	"github.com/temirov/auditgate/internal/orchestrator"
	pathutils "github.com/temirov/auditgate/internal/utils/path"
	"github.com/temirov/auditgate/internal/verdict"
)

const (
	configurationInvalidErrorTemplateConstant = "invalid audit configuration: %w"
	ledgerOpenErrorTemplateConstant           = "unable to open evidence ledger: %w"
	historyOpenErrorTemplateConstant          = "unable to open verdict history: %w"
	invalidTargetErrorTemplateConstant        = "%w: %w"
	targetResolveErrorTemplateConstant        = "unable to resolve target %q: %w"
	targetNotDirectoryErrorTemplateConstant   = "target %q is not a directory"
	persistVerdictErrorTemplateConstant       = "unable to persist verdict: %w"
	ledgerRangeErrorTemplateConstant          = "ledger range %d..%d is outside 0..%d"
	serviceOpenedLogMessageConstant           = "audit service opened"
	verdictPersistedLogMessageConstant        = "verdict persisted"
	logFieldStateDirectoryConstant            = "state_directory"
	logFieldHistoryBackendConstant            = "history_backend"
	logFieldTaskIDConstant                    = "task_id"
	logFieldStatusConstant                    = "status"
	logFieldSequenceConstant                  = "sequence"
	defaultLedgerHistoryLimitConstant         = 20
)

// ServiceOptions customizes OpenService. Zero values select production
// implementations.
type ServiceOptions struct {
	Logger           *zap.Logger
	CommandRunner    execshell.CommandRunner
	CommandObservers []execshell.CommandEventObserver
	HistoryStore     verdict.HistoryStore
	Factory          collectors.Factory
}

// RunRequest is one audit invocation as received from a caller surface.
type RunRequest struct {
	TaskID       string         `json:"taskId"`
	Target       string         `json:"target"`
	Claim        map[string]any `json:"claim"`
	WorkingState map[string]any `json:"workingState,omitempty"`
}

// LedgerReport summarizes a chain verification.
type LedgerReport struct {
	Items     int    `json:"items"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	Head      string `json:"head"`
	Valid     bool   `json:"valid"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Service wires the ledger, collectors, orchestrator and verdict reporter.
type Service struct {
	configuration config.AuditConfig
	ledger        *ledger.Ledger
	orchestrator  *orchestrator.Orchestrator
	reporter      *verdict.Reporter
	pathExpander  *pathutils.HomeExpander
	logger        *zap.Logger
	closers       []func()
}

// OpenService validates configuration and opens the file-backed ledger under
// the state directory together with the configured history backend.
func OpenService(executionContext context.Context, configuration config.AuditConfig, options ServiceOptions) (*Service, error) {
	sanitized := configuration.Sanitize()
	if validationError := sanitized.Validate(); validationError != nil {
		return nil, fmt.Errorf(configurationInvalidErrorTemplateConstant, validationError)
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pathExpander := pathutils.NewHomeExpander()
	stateDirectory, resolveError := pathExpander.Resolve(sanitized.Storage.StateDirectory)
	if resolveError != nil {
		return nil, fmt.Errorf(ledgerOpenErrorTemplateConstant, resolveError)
	}
	sanitized.Storage.StateDirectory = stateDirectory

	storage, storageError := ledger.NewFileStorage(sanitized.Storage.LedgerDirectory())
	if storageError != nil {
		return nil, fmt.Errorf(ledgerOpenErrorTemplateConstant, storageError)
	}
	payloads, payloadsError := ledger.NewFilePayloadStore(sanitized.Storage.LedgerDirectory())
	if payloadsError != nil {
		return nil, fmt.Errorf(ledgerOpenErrorTemplateConstant, payloadsError)
	}
	evidenceLedger, openError := ledger.Open(storage, payloads, logger)
	if openError != nil {
		return nil, fmt.Errorf(ledgerOpenErrorTemplateConstant, openError)
	}
	closers := []func(){func() { _ = evidenceLedger.Close() }}
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			closers[index]()
		}
	}

	historyStore := options.HistoryStore
	if historyStore == nil {
		openedStore, closer, historyError := openHistoryStore(executionContext, sanitized)
		if historyError != nil {
			closeAll()
			return nil, fmt.Errorf(historyOpenErrorTemplateConstant, historyError)
		}
		historyStore = openedStore
		if closer != nil {
			closers = append(closers, closer)
		}
	}

	factory := options.Factory
	if factory == nil {
		runner := options.CommandRunner
		if runner == nil {
			runner = execshell.NewOSCommandRunner()
		}
		executor, executorError := execshell.NewShellExecutor(logger, runner, options.CommandObservers...)
		if executorError != nil {
			closeAll()
			return nil, executorError
		}
		configuredFactory, factoryError := collectors.NewConfiguredFactory(sanitized, executor, logger)
		if factoryError != nil {
			closeAll()
			return nil, factoryError
		}
		factory = configuredFactory
	}

	auditOrchestrator, orchestratorError := orchestrator.New(sanitized, factory, evidenceLedger, logger)
	if orchestratorError != nil {
		closeAll()
		return nil, orchestratorError
	}
	reporter, reporterError := verdict.NewReporter(historyStore, logger)
	if reporterError != nil {
		closeAll()
		return nil, reporterError
	}

	logger.Debug(serviceOpenedLogMessageConstant,
		zap.String(logFieldStateDirectoryConstant, stateDirectory),
		zap.String(logFieldHistoryBackendConstant, string(sanitized.History.Backend)),
	)

	return &Service{
		configuration: sanitized,
		ledger:        evidenceLedger,
		orchestrator:  auditOrchestrator,
		reporter:      reporter,
		pathExpander:  pathExpander,
		logger:        logger,
		closers:       closers,
	}, nil
}

func openHistoryStore(executionContext context.Context, configuration config.AuditConfig) (verdict.HistoryStore, func(), error) {
	switch configuration.History.Backend {
	case config.HistoryBackendPostgres:
		store, openError := verdict.OpenPostgresHistoryStore(executionContext, configuration.History.PostgresDSN, configuration.History.Table)
		if openError != nil {
			return nil, nil, openError
		}
		return store, store.Close, nil
	default:
		store, openError := verdict.NewFileHistoryStore(configuration.Storage.HistoryFilePath())
		if openError != nil {
			return nil, nil, openError
		}
		return store, nil, nil
	}
}

// Configuration returns the sanitized configuration in effect.
func (service *Service) Configuration() config.AuditConfig {
	return service.configuration
}

// Close releases the ledger writer and any history connection pool.
func (service *Service) Close() {
	if service == nil {
		return
	}
	for index := len(service.closers) - 1; index >= 0; index-- {
		service.closers[index]()
	}
	service.closers = nil
}

// RunAudit executes one audit and persists its verdict. Aborted audits are
// persisted too, with status Error, and returned alongside the abort error.
// Requests rejected before an audit starts are not persisted.
func (service *Service) RunAudit(executionContext context.Context, request RunRequest) (evidence.AuditResult, error) {
	target, targetError := service.resolveTarget(request.Target)
	if targetError != nil {
		return evidence.AuditResult{}, fmt.Errorf(invalidTargetErrorTemplateConstant, orchestrator.ErrInvalidRequest, targetError)
	}

	result, runError := service.orchestrator.Run(executionContext, orchestrator.Request{
		TaskID:       request.TaskID,
		Target:       target,
		Claim:        request.Claim,
		WorkingState: request.WorkingState,
	})
	if runError != nil && errors.Is(runError, orchestrator.ErrInvalidRequest) {
		return result, runError
	}

	stored, persistError := service.reporter.Generate(context.WithoutCancel(executionContext), result)
	if persistError != nil {
		return result, errors.Join(runError, fmt.Errorf(persistVerdictErrorTemplateConstant, persistError))
	}
	service.logger.Debug(verdictPersistedLogMessageConstant,
		zap.String(logFieldTaskIDConstant, result.TaskID),
		zap.String(logFieldStatusConstant, string(result.Status)),
		zap.Int64(logFieldSequenceConstant, stored.Sequence),
	)
	return result, runError
}

func (service *Service) resolveTarget(candidate string) (string, error) {
	if len(candidate) == 0 {
		return "", nil
	}
	resolved, resolveError := service.pathExpander.Resolve(candidate)
	if resolveError != nil {
		return "", fmt.Errorf(targetResolveErrorTemplateConstant, candidate, resolveError)
	}
	information, statError := os.Stat(resolved)
	if statError != nil {
		return "", fmt.Errorf(targetResolveErrorTemplateConstant, candidate, statError)
	}
	if !information.IsDir() {
		return "", fmt.Errorf(targetNotDirectoryErrorTemplateConstant, candidate)
	}
	return resolved, nil
}

// Result returns the latest verdict for a task.
func (service *Service) Result(executionContext context.Context, taskID string) (verdict.StoredResult, error) {
	return service.reporter.Get(executionContext, taskID)
}

// History returns every verdict for a task, newest first.
func (service *Service) History(executionContext context.Context, taskID string) ([]verdict.StoredResult, error) {
	return service.reporter.History(executionContext, taskID)
}

// List pages through stored verdicts, newest first.
func (service *Service) List(executionContext context.Context, filter verdict.Filter, page verdict.Page) (verdict.Listing, error) {
	return service.reporter.List(executionContext, filter, page)
}

// VerifyLedger recomputes the chain over the inclusive range. Negative bounds
// select the whole chain. A broken chain is reported, not returned as error.
func (service *Service) VerifyLedger(fromIndex int, toIndex int) (LedgerReport, error) {
	itemCount := service.ledger.Len()
	report := LedgerReport{Items: itemCount, Head: service.ledger.Head(), From: fromIndex, To: toIndex}

	var verifyError error
	if fromIndex < 0 && toIndex < 0 {
		report.From, report.To = 0, itemCount-1
		verifyError = service.ledger.VerifyAll()
	} else {
		if fromIndex < 0 {
			report.From = 0
		}
		if toIndex < 0 {
			report.To = itemCount - 1
		}
		if report.From > report.To || report.To >= itemCount {
			return report, fmt.Errorf(ledgerRangeErrorTemplateConstant, report.From, report.To, itemCount-1)
		}
		verifyError = service.ledger.VerifyChain(report.From, report.To)
	}

	if verifyError == nil {
		report.Valid = true
		return report, nil
	}
	var chainError *evidence.ChainIntegrityError
	if !errors.As(verifyError, &chainError) {
		return report, verifyError
	}
	report.ErrorKind = string(chainError.Kind())
	report.Error = chainError.Error()
	return report, nil
}

// LedgerHistory returns up to limit ledger items, newest first. A
// non-positive limit selects the default.
func (service *Service) LedgerHistory(limit int) []evidence.Item {
	if limit <= 0 {
		limit = defaultLedgerHistoryLimitConstant
	}
	stored := service.ledger.Query(ledger.Filter{})
	sort.SliceStable(stored, func(left int, right int) bool {
		return stored[left].Index > stored[right].Index
	})
	if len(stored) > limit {
		stored = stored[:limit]
	}
	items := make([]evidence.Item, 0, len(stored))
	for _, storedItem := range stored {
		items = append(items, storedItem.Item)
	}
	return items
}
