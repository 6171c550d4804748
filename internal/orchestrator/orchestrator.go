package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/claim"
	"github.com/temirov/auditgate/internal/collectors"
	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/ledger"
	"github.com/temirov/auditgate/internal/reconcile"
)

const (
	missingDependencyMessageConstant = "orchestrator requires a collector factory and an evidence ledger"
	missingTaskIDMessageConstant     = "task id must not be empty"
	missingTargetMessageConstant     = "target must not be empty"
	invalidRequestMessageConstant    = "invalid audit request"
	invalidRequestTemplateConstant   = "%w: %s"
	deadlineExceededTemplateConstant = "%w: %w"
	auditCancelledTemplateConstant   = "audit cancelled: %w"
	auditStartedLogMessageConstant   = "audit started"
	auditFinishedLogMessageConstant  = "audit finished"
	auditAbortedLogMessageConstant   = "audit aborted"
	stateEnteredLogMessageConstant   = "audit state entered"
	logFieldAuditIDConstant          = "audit_id"
	logFieldTaskIDConstant           = "task_id"
	logFieldTargetConstant           = "target"
	logFieldPassConstant             = "pass"
	logFieldStateConstant            = "state"
	logFieldConfidenceConstant       = "confidence"
	logFieldErrorKindConstant        = "error_kind"
	logFieldDurationConstant         = "duration"
)

// ErrInvalidRequest reports an audit request missing its task id or target.
// It is classified with claim schema errors: nothing is collected.
var ErrInvalidRequest = fmt.Errorf("%s: %w", invalidRequestMessageConstant, evidence.ErrClaimSchema)

// EvidenceLedger is the ledger surface the orchestrator writes and reads.
type EvidenceLedger interface {
	Sealed() error
	Record(executionContext context.Context, auditID string, pass evidence.Pass, observation evidence.Observation) (ledger.StoredItem, error)
	Query(filter ledger.Filter) []ledger.StoredItem
	LoadPayload(item evidence.Item) (evidence.Payload, error)
	VerifyChain(fromIndex int, toIndex int) error
}

// Request asks for one audit of a claimed unit of work.
type Request struct {
	TaskID       string
	Target       string
	Claim        map[string]any
	WorkingState map[string]any
}

// Orchestrator runs audits. It is safe for concurrent use; each Run owns its
// own state machine.
type Orchestrator struct {
	configuration config.AuditConfig
	factory       collectors.Factory
	ledger        EvidenceLedger
	reconciler    *reconcile.Reconciler
	logger        *zap.Logger
	clock         func() time.Time
	newAuditID    func() string
}

// New constructs an Orchestrator.
func New(configuration config.AuditConfig, factory collectors.Factory, evidenceLedger EvidenceLedger, logger *zap.Logger) (*Orchestrator, error) {
	if factory == nil || evidenceLedger == nil {
		return nil, errors.New(missingDependencyMessageConstant)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		configuration: configuration,
		factory:       factory,
		ledger:        evidenceLedger,
		reconciler:    reconcile.NewReconciler(configuration.Scoring, logger),
		logger:        logger,
		clock:         time.Now,
		newAuditID:    uuid.NewString,
	}, nil
}

// Run audits request and always returns a populated AuditResult. When the
// audit aborts, the result carries status Error and the error kind, and the
// fatal cause is also returned. Evidence recorded before an abort stays in
// the ledger.
func (orchestrator *Orchestrator) Run(executionContext context.Context, request Request) (evidence.AuditResult, error) {
	startedAt := orchestrator.clock()
	auditID := orchestrator.newAuditID()
	machine := NewStateMachine()
	auditLogger := orchestrator.logger.With(
		zap.String(logFieldAuditIDConstant, auditID),
		zap.String(logFieldTaskIDConstant, request.TaskID),
		zap.String(logFieldTargetConstant, request.Target),
	)
	run := &auditRun{
		orchestrator: orchestrator,
		auditID:      auditID,
		request:      request,
		machine:      machine,
		logger:       auditLogger,
		startedAt:    startedAt,
	}

	if len(strings.TrimSpace(request.TaskID)) == 0 {
		return run.abort(fmt.Errorf(invalidRequestTemplateConstant, ErrInvalidRequest, missingTaskIDMessageConstant))
	}
	if len(strings.TrimSpace(request.Target)) == 0 {
		return run.abort(fmt.Errorf(invalidRequestTemplateConstant, ErrInvalidRequest, missingTargetMessageConstant))
	}
	validatedClaim, claimError := claim.FromMap(request.Claim)
	if claimError != nil {
		return run.abort(claimError)
	}
	run.claim = validatedClaim
	if sealedError := orchestrator.ledger.Sealed(); sealedError != nil {
		return run.abort(sealedError)
	}

	auditLogger.Info(auditStartedLogMessageConstant)
	auditContext, cancelAudit := orchestrator.withOptionalTimeout(executionContext, orchestrator.configuration.Timeouts.AuditDeadline)
	defer cancelAudit()
	return run.execute(auditContext)
}

// auditRun holds the state of a single Run call.
type auditRun struct {
	orchestrator *Orchestrator
	auditID      string
	request      Request
	claim        evidence.Claim
	machine      *StateMachine
	logger       *zap.Logger
	startedAt    time.Time
	passes       []evidence.VerificationPass
}

func (run *auditRun) execute(auditContext context.Context) (evidence.AuditResult, error) {
	target := collectors.Target{TaskID: run.request.TaskID, Directory: run.request.Target}

	if transitionError := run.enter(StateIdle, StatePassA); transitionError != nil {
		return run.abort(transitionError)
	}
	passAResult, passARecords, passAError := run.collectAndDerive(auditContext, evidence.PassA, target, &collectors.SelfCheckInputs{
		Claim:        run.claim.Clone(),
		WorkingState: run.request.WorkingState,
	})
	if passAError != nil {
		return run.abort(passAError)
	}
	run.passes = append(run.passes, passAResult)

	if transitionError := run.enter(StatePassA, StatePassB, passAResult); transitionError != nil {
		return run.abort(transitionError)
	}
	passBResult, passBRecords, passBError := run.collectAndDerive(auditContext, evidence.PassB, target, nil)
	if passBError != nil {
		return run.abort(passBError)
	}
	run.passes = append(run.passes, passBResult)

	if transitionError := run.enter(StatePassB, StatePassC, passAResult, passBResult); transitionError != nil {
		return run.abort(transitionError)
	}
	passCResult := run.challenge(passAResult, passARecords, passBResult, passBRecords)
	run.passes = append(run.passes, passCResult)
	if deadlineExceeded := auditContext.Err(); deadlineExceeded != nil {
		return run.abort(deadlineError(deadlineExceeded))
	}

	if transitionError := run.enter(StatePassC, StateReconciling, passCResult); transitionError != nil {
		return run.abort(transitionError)
	}
	storedItems := run.orchestrator.ledger.Query(ledger.Filter{AuditID: run.auditID})
	if len(storedItems) > 0 {
		if chainError := run.orchestrator.ledger.VerifyChain(storedItems[0].Index, storedItems[len(storedItems)-1].Index); chainError != nil {
			return run.abort(chainError)
		}
	}
	verdict := run.orchestrator.reconciler.Score(run.claim, run.passes)
	if deadlineExceeded := auditContext.Err(); deadlineExceeded != nil {
		return run.abort(deadlineError(deadlineExceeded))
	}
	if transitionError := run.enter(StateReconciling, StateComplete); transitionError != nil {
		return run.abort(transitionError)
	}

	result := run.baseResult(storedItems)
	result.Status = verdict.Status
	result.ConfidenceScore = verdict.ConfidenceScore
	result.Discrepancies = verdict.Discrepancies
	run.logger.Info(auditFinishedLogMessageConstant,
		zap.String(logFieldStateConstant, string(result.Status)),
		zap.Float64(logFieldConfidenceConstant, result.ConfidenceScore),
		zap.Int64(logFieldDurationConstant, result.DurationMs),
	)
	return result, nil
}

// collectAndDerive runs a collection pass and compares its own raw evidence
// with the claim.
func (run *auditRun) collectAndDerive(auditContext context.Context, pass evidence.Pass, target collectors.Target, selfCheck *collectors.SelfCheckInputs) (evidence.VerificationPass, []reconcile.Record, error) {
	collected, collectError := run.orchestrator.runCollectionPass(auditContext, run.auditID, pass, target, selfCheck)
	if collectError != nil {
		return evidence.VerificationPass{Label: pass, Status: evidence.PassStatusRunning}, nil, collectError
	}
	discrepancies := run.orchestrator.reconciler.Derive(pass, run.claim, collected.records)
	discrepancies = append(discrepancies, collected.failures...)
	return evidence.VerificationPass{
		Label:              pass,
		Status:             collected.status,
		DerivedEvidenceIDs: nonNilStrings(collected.itemIDs),
		Discrepancies:      nonNilDiscrepancies(discrepancies),
	}, collected.records, nil
}

// challenge runs pass C over the raw evidence and findings of passes A and B.
func (run *auditRun) challenge(passAResult evidence.VerificationPass, passARecords []reconcile.Record, passBResult evidence.VerificationPass, passBRecords []reconcile.Record) evidence.VerificationPass {
	discrepancies := run.orchestrator.reconciler.Challenge(reconcile.ChallengeInput{
		Claim:              run.claim,
		PassARecords:       passARecords,
		PassBRecords:       passBRecords,
		PassADiscrepancies: passAResult.Discrepancies,
		PassBDiscrepancies: passBResult.Discrepancies,
	})
	derived := append(append([]string{}, passAResult.DerivedEvidenceIDs...), passBResult.DerivedEvidenceIDs...)
	return evidence.VerificationPass{
		Label:              evidence.PassC,
		Status:             evidence.PassStatusComplete,
		DerivedEvidenceIDs: derived,
		Discrepancies:      nonNilDiscrepancies(discrepancies),
	}
}

func (run *auditRun) enter(from State, to State, prerequisites ...evidence.VerificationPass) error {
	if transitionError := run.machine.Transition(from, to, prerequisites...); transitionError != nil {
		return transitionError
	}
	run.logger.Debug(stateEnteredLogMessageConstant, zap.String(logFieldStateConstant, string(to)))
	return nil
}

// abort finishes the audit with status Error. Faults never report Passed.
func (run *auditRun) abort(cause error) (evidence.AuditResult, error) {
	run.machine.Abort()
	result := run.baseResult(run.orchestrator.ledger.Query(ledger.Filter{AuditID: run.auditID}))
	result.Status = evidence.AuditStatusError
	result.ErrorKind = evidence.KindOf(cause)
	result.ErrorMessage = cause.Error()
	result.Discrepancies = []evidence.Discrepancy{}
	run.logger.Warn(auditAbortedLogMessageConstant, zap.String(logFieldErrorKindConstant, string(result.ErrorKind)), zap.Error(cause))
	return result, cause
}

func (run *auditRun) baseResult(storedItems []ledger.StoredItem) evidence.AuditResult {
	finishedAt := run.orchestrator.clock()
	itemIDs := make([]string, 0, len(storedItems))
	summaries := make([]evidence.EvidenceSummary, 0, len(storedItems))
	for _, storedItem := range storedItems {
		itemIDs = append(itemIDs, storedItem.Item.ID)
		summaries = append(summaries, evidence.EvidenceSummary{
			ID:          storedItem.Item.ID,
			Source:      storedItem.Item.Source,
			Hash:        storedItem.Item.Hash,
			SizeOrCount: storedItem.Item.PayloadSize,
		})
	}
	passes := run.passes
	if passes == nil {
		passes = []evidence.VerificationPass{}
	}
	return evidence.AuditResult{
		AuditID:         run.auditID,
		TaskID:          run.request.TaskID,
		Target:          run.request.Target,
		EvidenceItemIDs: itemIDs,
		EvidenceSummary: summaries,
		Passes:          passes,
		DurationMs:      finishedAt.Sub(run.startedAt).Milliseconds(),
		Timestamp:       finishedAt.UTC(),
	}
}

// deadlineError classifies the audit context's error.
func deadlineError(contextError error) error {
	if errors.Is(contextError, context.DeadlineExceeded) {
		return fmt.Errorf(deadlineExceededTemplateConstant, evidence.ErrAuditDeadlineExceeded, contextError)
	}
	return fmt.Errorf(auditCancelledTemplateConstant, contextError)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilDiscrepancies(discrepancies []evidence.Discrepancy) []evidence.Discrepancy {
	if discrepancies == nil {
		return []evidence.Discrepancy{}
	}
	return discrepancies
}
