package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	ledgerSealedLogMessageConstant             = "evidence ledger sealed"
	ledgerOpenedLogMessageConstant             = "evidence ledger opened"
	ledgerAppendLogMessageConstant             = "evidence appended"
	ledgerReloadLogMessageConstant             = "stored ledger head moved; reloading chain"
	logFieldIndexConstant                      = "index"
	logFieldItemsConstant                      = "items"
	logFieldHeadConstant                       = "head"
	logFieldSourceConstant                     = "source"
	logFieldPassConstant                       = "pass"
	logFieldAuditIDConstant                    = "audit_id"
	storageRequiredMessageConstant             = "ledger storage must be provided"
	ledgerClosedMessageConstant                = "evidence ledger is closed"
	invalidRangeTemplateConstant               = "invalid verification range [%d, %d] for ledger of %d items"
	previousHashMismatchTemplateConstant       = "previous hash %s does not match head %s"
	suppliedHashMismatchTemplateConstant       = "supplied hash %s does not match computed %s"
	linkMismatchTemplateConstant               = "previous hash %s does not link to %s"
	hashMismatchTemplateConstant               = "stored hash %s does not match computed %s"
	payloadUnavailableTemplateConstant         = "payload %s unavailable: %v"
	payloadDigestMismatchTemplateConstant      = "payload digest %s does not match reference %s"
	payloadSizeMismatchTemplateConstant        = "payload size %d does not match recorded %d"
	payloadEncodeErrorTemplateConstant         = "unable to encode payload for %s: %w"
	payloadDecodeErrorTemplateConstant         = "unable to decode payload %s: %w"
	payloadStoreRequiredMessageConstant        = "ledger payload store must be provided"
	persistFailureTemplateConstant             = "unable to persist evidence item: %w"
	unknownAppendRequestOutcomeMessageConstant = "append request abandoned"
	maximumRelinkAttemptsConstant              = 8
)

// ErrLedgerClosed is returned by Append after Close.
var ErrLedgerClosed = errors.New(ledgerClosedMessageConstant)

// StoredItem is an item together with its position in the chain.
type StoredItem struct {
	Index int
	Item  evidence.Item
}

// Filter selects items by equality on the non-empty fields.
type Filter struct {
	AuditID string
	Source  evidence.Source
	Pass    evidence.Pass
	Type    string
}

func (filter Filter) matches(item evidence.Item) bool {
	if len(filter.AuditID) > 0 && item.AuditID != filter.AuditID {
		return false
	}
	if len(filter.Source) > 0 && item.Source != filter.Source {
		return false
	}
	if len(filter.Pass) > 0 && item.Pass != filter.Pass {
		return false
	}
	if len(filter.Type) > 0 && item.Type != filter.Type {
		return false
	}
	return true
}

type appendOutcome struct {
	stored StoredItem
	err    error
}

type appendRequest struct {
	item     evidence.Item
	response chan appendOutcome
}

// Ledger is the append-only evidence chain.
type Ledger struct {
	logger    *zap.Logger
	storage   Storage
	payloads  PayloadStore
	clock     func() time.Time
	mutex     sync.RWMutex
	items     []evidence.Item
	sealed    *evidence.ChainIntegrityError
	requests  chan appendRequest
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open loads and verifies the persisted chain and starts the writer.
func Open(storage Storage, payloads PayloadStore, logger *zap.Logger) (*Ledger, error) {
	if storage == nil {
		return nil, errors.New(storageRequiredMessageConstant)
	}
	if payloads == nil {
		return nil, errors.New(payloadStoreRequiredMessageConstant)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ledger := &Ledger{
		logger:   logger,
		storage:  storage,
		payloads: payloads,
		clock:    time.Now,
		requests: make(chan appendRequest),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	items, loadError := storage.Load()
	ledger.items = items
	if loadError != nil {
		var chainError *evidence.ChainIntegrityError
		if !errors.As(loadError, &chainError) {
			return nil, loadError
		}
		ledger.sealed = chainError
	}
	if ledger.sealed == nil && len(items) > 0 {
		if verifyError := ledger.verifyItems(items, 0, len(items)-1); verifyError != nil {
			ledger.sealed = verifyError
		}
	}

	if ledger.sealed != nil {
		logger.Warn(ledgerSealedLogMessageConstant,
			zap.Int(logFieldIndexConstant, ledger.sealed.Index),
			zap.Error(ledger.sealed),
		)
	} else {
		logger.Debug(ledgerOpenedLogMessageConstant,
			zap.Int(logFieldItemsConstant, len(items)),
			zap.String(logFieldHeadConstant, ledger.headLocked()),
		)
	}

	go ledger.runWriter()
	return ledger, nil
}

// OpenMemory returns an empty ledger backed by in-memory storage.
func OpenMemory(logger *zap.Logger) *Ledger {
	ledger, _ := Open(NewMemoryStorage(), NewMemoryPayloadStore(), logger)
	return ledger
}

// Sealed reports the integrity failure that sealed the ledger, if any.
func (ledger *Ledger) Sealed() error {
	ledger.mutex.RLock()
	defer ledger.mutex.RUnlock()
	if ledger.sealed == nil {
		return nil
	}
	sealedCopy := *ledger.sealed
	return &sealedCopy
}

// Payloads exposes the payload store backing this ledger.
func (ledger *Ledger) Payloads() PayloadStore {
	return ledger.payloads
}

// Append links item to the current head and persists it. Caller-supplied
// PreviousHash or Hash values must agree with the chain.
func (ledger *Ledger) Append(executionContext context.Context, item evidence.Item) (StoredItem, error) {
	if sealedError := ledger.Sealed(); sealedError != nil {
		return StoredItem{}, sealedError
	}
	response := make(chan appendOutcome, 1)
	select {
	case ledger.requests <- appendRequest{item: item, response: response}:
	case <-ledger.stop:
		return StoredItem{}, ErrLedgerClosed
	case <-executionContext.Done():
		return StoredItem{}, executionContext.Err()
	}
	select {
	case outcome := <-response:
		return outcome.stored, outcome.err
	case <-ledger.done:
		select {
		case outcome := <-response:
			return outcome.stored, outcome.err
		default:
			return StoredItem{}, errors.New(unknownAppendRequestOutcomeMessageConstant)
		}
	}
}

// Record stores observation's payload and appends the resulting item.
func (ledger *Ledger) Record(executionContext context.Context, auditID string, pass evidence.Pass, observation evidence.Observation) (StoredItem, error) {
	encodedPayload, encodeError := json.Marshal(evidence.Payload{Facts: observation.Facts, Detail: observation.Detail})
	if encodeError != nil {
		return StoredItem{}, fmt.Errorf(payloadEncodeErrorTemplateConstant, observation.Source, encodeError)
	}
	reference, putError := ledger.payloads.Put(encodedPayload)
	if putError != nil {
		return StoredItem{}, putError
	}
	return ledger.Append(executionContext, evidence.Item{
		AuditID:     auditID,
		Source:      observation.Source,
		Type:        observation.Type,
		PayloadRef:  reference,
		PayloadSize: int64(len(encodedPayload)),
		CollectedAt: observation.CollectedAt,
		Pass:        pass,
	})
}

// LoadPayload reads and decodes the payload referenced by item.
func (ledger *Ledger) LoadPayload(item evidence.Item) (evidence.Payload, error) {
	data, getError := ledger.payloads.Get(item.PayloadRef)
	if getError != nil {
		return evidence.Payload{}, getError
	}
	var payload evidence.Payload
	if decodeError := json.Unmarshal(data, &payload); decodeError != nil {
		return evidence.Payload{}, fmt.Errorf(payloadDecodeErrorTemplateConstant, item.PayloadRef, decodeError)
	}
	return payload, nil
}

// VerifyChain recomputes hashes and payload digests over the inclusive range
// and returns the first broken index. Repeated calls return the same result.
func (ledger *Ledger) VerifyChain(fromIndex int, toIndex int) error {
	ledger.mutex.RLock()
	items := ledger.items
	sealed := ledger.sealed
	ledger.mutex.RUnlock()

	if fromIndex < 0 || fromIndex > toIndex || toIndex >= len(items) {
		if sealed != nil && sealed.Index >= fromIndex && sealed.Index <= toIndex {
			sealedCopy := *sealed
			return &sealedCopy
		}
		return fmt.Errorf(invalidRangeTemplateConstant, fromIndex, toIndex, len(items))
	}
	if verifyError := ledger.verifyItems(items, fromIndex, toIndex); verifyError != nil {
		return verifyError
	}
	if sealed != nil && sealed.Index >= fromIndex && sealed.Index <= toIndex {
		sealedCopy := *sealed
		return &sealedCopy
	}
	return nil
}

// VerifyAll verifies every stored item, including structural damage that
// prevented items from loading.
func (ledger *Ledger) VerifyAll() error {
	ledger.mutex.RLock()
	items := ledger.items
	sealed := ledger.sealed
	ledger.mutex.RUnlock()

	if len(items) > 0 {
		if verifyError := ledger.verifyItems(items, 0, len(items)-1); verifyError != nil {
			return verifyError
		}
	}
	if sealed != nil {
		sealedCopy := *sealed
		return &sealedCopy
	}
	return nil
}

// Len returns the number of stored items.
func (ledger *Ledger) Len() int {
	ledger.mutex.RLock()
	defer ledger.mutex.RUnlock()
	return len(ledger.items)
}

// Head returns the hash new items link to.
func (ledger *Ledger) Head() string {
	ledger.mutex.RLock()
	defer ledger.mutex.RUnlock()
	return ledger.headLocked()
}

// Query returns the items matching filter in append order.
func (ledger *Ledger) Query(filter Filter) []StoredItem {
	ledger.mutex.RLock()
	defer ledger.mutex.RUnlock()
	var matches []StoredItem
	for index, item := range ledger.items {
		if filter.matches(item) {
			matches = append(matches, StoredItem{Index: index, Item: item})
		}
	}
	return matches
}

// Get returns the item with the given identifier.
func (ledger *Ledger) Get(itemID string) (StoredItem, bool) {
	ledger.mutex.RLock()
	defer ledger.mutex.RUnlock()
	for index, item := range ledger.items {
		if item.ID == itemID {
			return StoredItem{Index: index, Item: item}, true
		}
	}
	return StoredItem{}, false
}

// Close stops the writer goroutine. Pending appends observe ErrLedgerClosed.
func (ledger *Ledger) Close() error {
	ledger.closeOnce.Do(func() {
		close(ledger.stop)
		<-ledger.done
	})
	return nil
}

func (ledger *Ledger) runWriter() {
	defer close(ledger.done)
	for {
		select {
		case request := <-ledger.requests:
			stored, appendError := ledger.appendItem(request.item)
			request.response <- appendOutcome{stored: stored, err: appendError}
		case <-ledger.stop:
			return
		}
	}
}

// appendItem links and persists item. When another process moved the stored
// head, the chain is reloaded and the item is linked to the new head.
func (ledger *Ledger) appendItem(item evidence.Item) (StoredItem, error) {
	stored, appendError := ledger.linkAndPersist(item)
	for attempt := 0; attempt < maximumRelinkAttemptsConstant && errors.Is(appendError, ErrStaleHead); attempt++ {
		ledger.logger.Info(ledgerReloadLogMessageConstant, zap.Error(appendError))
		if reloadError := ledger.reload(); reloadError != nil {
			return StoredItem{}, reloadError
		}
		stored, appendError = ledger.linkAndPersist(item)
	}
	return stored, appendError
}

// reload replaces the in-memory chain with the stored one and seals the
// ledger if the stored chain does not verify.
func (ledger *Ledger) reload() error {
	items, loadError := ledger.storage.Load()
	var sealed *evidence.ChainIntegrityError
	if loadError != nil && !errors.As(loadError, &sealed) {
		return loadError
	}
	if sealed == nil && len(items) > 0 {
		sealed = ledger.verifyItems(items, 0, len(items)-1)
	}

	ledger.mutex.Lock()
	ledger.items = items
	if sealed != nil {
		ledger.sealed = sealed
	}
	ledger.mutex.Unlock()

	if sealed != nil {
		ledger.logger.Warn(ledgerSealedLogMessageConstant, zap.Int(logFieldIndexConstant, sealed.Index), zap.Error(sealed))
		sealedCopy := *sealed
		return &sealedCopy
	}
	return nil
}

func (ledger *Ledger) linkAndPersist(item evidence.Item) (StoredItem, error) {
	ledger.mutex.RLock()
	head := ledger.headLocked()
	sealed := ledger.sealed
	ledger.mutex.RUnlock()

	if sealed != nil {
		sealedCopy := *sealed
		return StoredItem{}, &sealedCopy
	}
	if len(item.PreviousHash) > 0 && item.PreviousHash != head {
		return StoredItem{}, &evidence.ChainIntegrityError{Index: -1, Reason: fmt.Sprintf(previousHashMismatchTemplateConstant, item.PreviousHash, head)}
	}

	suppliedHash := item.Hash
	item.PreviousHash = head
	if len(item.ID) == 0 {
		item.ID = uuid.NewString()
	}
	if item.CollectedAt.IsZero() {
		item.CollectedAt = ledger.clock()
	}
	item.CollectedAt = item.CollectedAt.UTC()

	computedHash, hashError := ComputeItemHash(item)
	if hashError != nil {
		return StoredItem{}, hashError
	}
	if len(suppliedHash) > 0 && suppliedHash != computedHash {
		return StoredItem{}, &evidence.ChainIntegrityError{Index: -1, Reason: fmt.Sprintf(suppliedHashMismatchTemplateConstant, suppliedHash, computedHash)}
	}
	item.Hash = computedHash

	if persistError := ledger.storage.Persist(item); persistError != nil {
		return StoredItem{}, fmt.Errorf(persistFailureTemplateConstant, persistError)
	}

	ledger.mutex.Lock()
	ledger.items = append(ledger.items, item)
	index := len(ledger.items) - 1
	ledger.mutex.Unlock()

	ledger.logger.Debug(ledgerAppendLogMessageConstant,
		zap.Int(logFieldIndexConstant, index),
		zap.String(logFieldAuditIDConstant, item.AuditID),
		zap.String(logFieldSourceConstant, string(item.Source)),
		zap.String(logFieldPassConstant, string(item.Pass)),
	)
	return StoredItem{Index: index, Item: item}, nil
}

func (ledger *Ledger) headLocked() string {
	if len(ledger.items) == 0 {
		return GenesisHash
	}
	return ledger.items[len(ledger.items)-1].Hash
}

func (ledger *Ledger) verifyItems(items []evidence.Item, fromIndex int, toIndex int) *evidence.ChainIntegrityError {
	for index := fromIndex; index <= toIndex; index++ {
		item := items[index]
		expectedPrevious := GenesisHash
		if index > 0 {
			expectedPrevious = items[index-1].Hash
		}
		if item.PreviousHash != expectedPrevious {
			return &evidence.ChainIntegrityError{Index: index, Reason: fmt.Sprintf(linkMismatchTemplateConstant, item.PreviousHash, expectedPrevious)}
		}
		computedHash, hashError := ComputeItemHash(item)
		if hashError != nil {
			return &evidence.ChainIntegrityError{Index: index, Reason: hashError.Error()}
		}
		if computedHash != item.Hash {
			return &evidence.ChainIntegrityError{Index: index, Reason: fmt.Sprintf(hashMismatchTemplateConstant, item.Hash, computedHash)}
		}
		if len(item.PayloadRef) == 0 {
			continue
		}
		data, getError := ledger.payloads.Get(item.PayloadRef)
		if getError != nil {
			return &evidence.ChainIntegrityError{Index: index, Reason: fmt.Sprintf(payloadUnavailableTemplateConstant, item.PayloadRef, getError)}
		}
		if digest := PayloadDigest(data); digest != item.PayloadRef {
			return &evidence.ChainIntegrityError{Index: index, Reason: fmt.Sprintf(payloadDigestMismatchTemplateConstant, digest, item.PayloadRef)}
		}
		if int64(len(data)) != item.PayloadSize {
			return &evidence.ChainIntegrityError{Index: index, Reason: fmt.Sprintf(payloadSizeMismatchTemplateConstant, len(data), item.PayloadSize)}
		}
	}
	return nil
}
