package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/auditgate/internal/collectors"
	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/ledger"
	"github.com/temirov/auditgate/internal/reconcile"
)

const (
	collectorFailedLogMessageConstant        = "collector failed; evidence unavailable"
	passTimedOutLogMessageConstant           = "verification pass timed out; abandoning unsettled collectors"
	passSettledLogMessageConstant            = "verification pass settled"
	payloadLoadErrorTemplateConstant         = "unable to load payload of evidence item %s: %w"
	unexpectedCollectorErrorTemplateConstant = "collector %s failed: %w"
	lateObservationTemplateConstant          = "collector %s settled after its pass closed: %w"
	logFieldSourceConstant                   = "source"
	logFieldStatusConstant                   = "status"
	logFieldItemCountConstant                = "item_count"
	logFieldDiscrepancyCountConstant         = "discrepancy_count"
)

// collectionPass is the settled outcome of running one pass's collectors.
type collectionPass struct {
	status   evidence.PassStatus
	records  []reconcile.Record
	itemIDs  []string
	failures []evidence.Discrepancy
}

type collectorSlot struct {
	source  evidence.Source
	settled bool
	failure error
}

// runCollectionPass dispatches freshly built collectors for pass through a
// bounded worker pool. The pass settles when every collector has settled or
// the pass timeout abandons the stragglers. Only chain integrity failures and
// the audit deadline are returned as errors; collector failures become
// evidence unavailable discrepancies.
//
// The runner receives the target and, for pass A only, the self-check inputs.
// It never sees another pass's findings.
func (orchestrator *Orchestrator) runCollectionPass(auditContext context.Context, auditID string, pass evidence.Pass, target collectors.Target, selfCheck *collectors.SelfCheckInputs) (collectionPass, error) {
	passCollectors, buildError := orchestrator.factory.Build(pass)
	if buildError != nil {
		return collectionPass{}, buildError
	}
	passLogger := orchestrator.logger.With(zap.String(logFieldAuditIDConstant, auditID), zap.String(logFieldPassConstant, string(pass)))

	passContext, cancelPass := orchestrator.withOptionalTimeout(auditContext, orchestrator.configuration.Timeouts.Pass)
	defer cancelPass()

	var slotsMutex sync.Mutex
	var chainError error
	slots := make([]collectorSlot, len(passCollectors))
	for collectorIndex, collector := range passCollectors {
		slots[collectorIndex].source = collector.Source()
	}

	gate := &recordingGate{}
	group := new(errgroup.Group)
	group.SetLimit(orchestrator.configuration.EffectiveConcurrency(len(passCollectors)))
	settled := make(chan struct{})
	go func() {
		defer close(settled)
		for collectorIndex, collector := range passCollectors {
			if passContext.Err() != nil {
				break
			}
			group.Go(func() error {
				collectionError := orchestrator.collect(passContext, gate, auditID, pass, target, selfCheck, collector)
				slotsMutex.Lock()
				defer slotsMutex.Unlock()
				slots[collectorIndex].settled = true
				slots[collectorIndex].failure = collectionError
				if chainError == nil && errors.Is(collectionError, evidence.ErrChainIntegrity) {
					chainError = collectionError
				}
				return nil
			})
		}
		_ = group.Wait()
	}()

	select {
	case <-settled:
	case <-passContext.Done():
	}
	gate.close()

	if auditError := auditContext.Err(); auditError != nil {
		return collectionPass{}, deadlineError(auditError)
	}
	passDeadlineReached := errors.Is(passContext.Err(), context.DeadlineExceeded)

	slotsMutex.Lock()
	fatalError := chainError
	outcome := collectionPass{status: evidence.PassStatusComplete}
	var unsettledSources []evidence.Source
	for _, slot := range slots {
		if passDeadlineReached && (!slot.settled || errors.Is(slot.failure, context.DeadlineExceeded)) {
			unsettledSources = append(unsettledSources, slot.source)
			continue
		}
		if !slot.settled || slot.failure == nil || errors.Is(slot.failure, evidence.ErrChainIntegrity) {
			continue
		}
		passLogger.Warn(collectorFailedLogMessageConstant, zap.String(logFieldSourceConstant, string(slot.source)), zap.Error(slot.failure))
		outcome.failures = append(outcome.failures, reconcile.EvidenceUnavailable(pass, slot.source, unwrapCollectionReason(slot.failure)))
	}
	slotsMutex.Unlock()
	if fatalError != nil {
		return collectionPass{}, fatalError
	}
	if len(unsettledSources) > 0 {
		timeoutError := &evidence.PassTimeoutError{Pass: pass, Unsettled: unsettledSources}
		passLogger.Warn(passTimedOutLogMessageConstant, zap.Error(timeoutError))
		outcome.status = evidence.PassStatusDegraded
		outcome.failures = append(outcome.failures, reconcile.PassTimeout(timeoutError))
	}

	records, recordsError := orchestrator.loadRecords(auditID, pass)
	if recordsError != nil {
		return collectionPass{}, recordsError
	}
	outcome.records = records
	for _, record := range records {
		outcome.itemIDs = append(outcome.itemIDs, record.Item.ID)
	}
	passLogger.Info(passSettledLogMessageConstant,
		zap.String(logFieldStatusConstant, string(outcome.status)),
		zap.Int(logFieldItemCountConstant, len(records)),
		zap.Int(logFieldDiscrepancyCountConstant, len(outcome.failures)),
	)
	return outcome, nil
}

// recordingGate closes a pass to further ledger appends once the pass has
// settled, so observations from abandoned collectors never reach the ledger.
type recordingGate struct {
	mutex  sync.Mutex
	closed bool
}

func (gate *recordingGate) admit(record func() error) (bool, error) {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()
	if gate.closed {
		return false, nil
	}
	return true, record()
}

func (gate *recordingGate) close() {
	gate.mutex.Lock()
	gate.closed = true
	gate.mutex.Unlock()
}

// collect runs one collector under the per-call timeout and appends its
// observations in the order it produced them.
func (orchestrator *Orchestrator) collect(passContext context.Context, gate *recordingGate, auditID string, pass evidence.Pass, target collectors.Target, selfCheck *collectors.SelfCheckInputs, collector collectors.Collector) error {
	callContext, cancelCall := orchestrator.withOptionalTimeout(passContext, orchestrator.configuration.Timeouts.Collector)
	defer cancelCall()

	observations, collectError := collector.Collect(callContext, target, collectors.CollectionContext{
		AuditID:   auditID,
		Pass:      pass,
		SelfCheck: selfCheck,
	})
	if collectError == nil && callContext.Err() != nil {
		collectError = callContext.Err()
	}
	if collectError != nil {
		if errors.Is(collectError, evidence.ErrCollection) {
			return collectError
		}
		return evidence.NewCollectionError(collector.Source(), fmt.Errorf(unexpectedCollectorErrorTemplateConstant, collector.Source(), collectError))
	}
	for _, observation := range observations {
		if observation.Source != collector.Source() {
			observation.Source = collector.Source()
		}
		admitted, recordError := gate.admit(func() error {
			_, ledgerError := orchestrator.ledger.Record(passContext, auditID, pass, observation)
			return ledgerError
		})
		if !admitted {
			return fmt.Errorf(lateObservationTemplateConstant, collector.Source(), passContext.Err())
		}
		if recordError != nil {
			if errors.Is(recordError, evidence.ErrChainIntegrity) {
				return recordError
			}
			return evidence.NewCollectionError(collector.Source(), recordError)
		}
	}
	return nil
}

// loadRecords reads a pass's items back from the ledger with their payloads.
func (orchestrator *Orchestrator) loadRecords(auditID string, pass evidence.Pass) ([]reconcile.Record, error) {
	storedItems := orchestrator.ledger.Query(ledger.Filter{AuditID: auditID, Pass: pass})
	records := make([]reconcile.Record, 0, len(storedItems))
	for _, storedItem := range storedItems {
		payload, loadError := orchestrator.ledger.LoadPayload(storedItem.Item)
		if loadError != nil {
			return nil, &evidence.ChainIntegrityError{Index: storedItem.Index, Reason: fmt.Errorf(payloadLoadErrorTemplateConstant, storedItem.Item.ID, loadError).Error()}
		}
		records = append(records, reconcile.Record{Index: storedItem.Index, Item: storedItem.Item, Facts: payload.Facts})
	}
	return records, nil
}

func (orchestrator *Orchestrator) withOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func unwrapCollectionReason(err error) error {
	var collectionError *evidence.CollectionError
	if errors.As(err, &collectionError) && collectionError.Cause != nil {
		return collectionError.Cause
	}
	return err
}
