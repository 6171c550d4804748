package verdict

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	defaultPageSizeConstant        = 20
	maximumPageSizeConstant        = 200
	missingStoreMessageConstant    = "verdict reporter requires a history store"
	missingTaskIDMessageConstant   = "audit result has no task id"
	resultNotFoundMessageConstant  = "no audit result recorded for task"
	resultStoredLogMessageConstant = "audit result stored"
	logFieldTaskIDConstant         = "task_id"
	logFieldAuditIDConstant        = "audit_id"
	logFieldStatusConstant         = "status"
	logFieldSequenceConstant       = "sequence"
)

// ErrResultNotFound is returned when a task has no stored result.
var ErrResultNotFound = errors.New(resultNotFoundMessageConstant)

// ErrMissingTaskID rejects results that cannot be keyed.
var ErrMissingTaskID = errors.New(missingTaskIDMessageConstant)

// StoredResult is an audit result as persisted in history.
type StoredResult struct {
	Sequence int64                `json:"sequence"`
	StoredAt time.Time            `json:"storedAt"`
	Result   evidence.AuditResult `json:"result"`
}

// Filter narrows listings. Empty fields match everything.
type Filter struct {
	Status evidence.AuditStatus
	TaskID string
}

// Matches reports whether stored satisfies the filter.
func (filter Filter) Matches(stored StoredResult) bool {
	if len(filter.Status) > 0 && stored.Result.Status != filter.Status {
		return false
	}
	if len(filter.TaskID) > 0 && stored.Result.TaskID != filter.TaskID {
		return false
	}
	return true
}

// Page selects a 1-based page of a listing.
type Page struct {
	Number int `json:"number"`
	Size   int `json:"size"`
}

// Normalize applies defaults and bounds.
func (page Page) Normalize() Page {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 {
		page.Size = defaultPageSizeConstant
	}
	if page.Size > maximumPageSizeConstant {
		page.Size = maximumPageSizeConstant
	}
	return page
}

// Offset is the number of results before the page.
func (page Page) Offset() int {
	return (page.Number - 1) * page.Size
}

// Listing is one page of results with the total match count.
type Listing struct {
	Results []StoredResult `json:"results"`
	Total   int            `json:"total"`
	Page    Page           `json:"page"`
}

// HistoryStore persists results append-only. Reads return newest first.
type HistoryStore interface {
	Append(executionContext context.Context, result evidence.AuditResult) (StoredResult, error)
	History(executionContext context.Context, taskID string) ([]StoredResult, error)
	List(executionContext context.Context, filter Filter, page Page) (Listing, error)
}

// Reporter records and exposes audit verdicts.
type Reporter struct {
	store  HistoryStore
	logger *zap.Logger
}

// NewReporter constructs a Reporter over store.
func NewReporter(store HistoryStore, logger *zap.Logger) (*Reporter, error) {
	if store == nil {
		return nil, errors.New(missingStoreMessageConstant)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{store: store, logger: logger}, nil
}

// Generate persists result under its task id.
func (reporter *Reporter) Generate(executionContext context.Context, result evidence.AuditResult) (StoredResult, error) {
	if len(strings.TrimSpace(result.TaskID)) == 0 {
		return StoredResult{}, ErrMissingTaskID
	}
	stored, appendError := reporter.store.Append(executionContext, result)
	if appendError != nil {
		return StoredResult{}, appendError
	}
	reporter.logger.Info(resultStoredLogMessageConstant,
		zap.String(logFieldTaskIDConstant, result.TaskID),
		zap.String(logFieldAuditIDConstant, result.AuditID),
		zap.String(logFieldStatusConstant, string(result.Status)),
		zap.Int64(logFieldSequenceConstant, stored.Sequence),
	)
	return stored, nil
}

// Get returns the most recent result for taskID.
func (reporter *Reporter) Get(executionContext context.Context, taskID string) (StoredResult, error) {
	history, historyError := reporter.store.History(executionContext, taskID)
	if historyError != nil {
		return StoredResult{}, historyError
	}
	if len(history) == 0 {
		return StoredResult{}, ErrResultNotFound
	}
	return history[0], nil
}

// History returns every result for taskID, newest first.
func (reporter *Reporter) History(executionContext context.Context, taskID string) ([]StoredResult, error) {
	return reporter.store.History(executionContext, taskID)
}

// List returns a page of results matching filter, newest first.
func (reporter *Reporter) List(executionContext context.Context, filter Filter, page Page) (Listing, error) {
	return reporter.store.List(executionContext, filter, page.Normalize())
}

// sortNewestFirst orders by result timestamp, then storage order.
func sortNewestFirst(results []StoredResult) {
	sort.SliceStable(results, func(left int, right int) bool {
		leftTime := results[left].Result.Timestamp
		rightTime := results[right].Result.Timestamp
		if !leftTime.Equal(rightTime) {
			return leftTime.After(rightTime)
		}
		return results[left].Sequence > results[right].Sequence
	})
}

func paginate(results []StoredResult, page Page) Listing {
	listing := Listing{Results: []StoredResult{}, Total: len(results), Page: page}
	start := page.Offset()
	if start >= len(results) {
		return listing
	}
	end := start + page.Size
	if end > len(results) {
		end = len(results)
	}
	listing.Results = append(listing.Results, results[start:end]...)
	return listing
}
