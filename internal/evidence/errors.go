package evidence

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the machine-readable classification of a fatal audit fault.
type ErrorKind string

// Fatal error kinds surfaced on AuditResult.ErrorKind.
const (
	ErrorKindChainIntegrity        ErrorKind = "ChainIntegrity"
	ErrorKindClaimSchema           ErrorKind = "ClaimSchema"
	ErrorKindAuditDeadlineExceeded ErrorKind = "AuditDeadlineExceeded"
	ErrorKindInternalFault         ErrorKind = "InternalFault"
)

const (
	collectionErrorTemplateConstant            = "evidence collection from %s failed: %s"
	chainIntegrityErrorTemplateConstant        = "evidence chain broken at index %d: %s"
	passTimeoutErrorTemplateConstant           = "verification pass %s exceeded its timeout"
	passTimeoutUnsettledTemplateConstant       = "%s; unsettled collectors: %s"
	sourceListSeparatorConstant                = ", "
	claimSchemaErrorTemplateConstant           = "claim rejected: %s"
	claimSchemaFieldErrorTemplateConstant      = "claim rejected: field %q: %s"
	auditDeadlineErrorMessageConstant          = "audit deadline exceeded"
	collectionFailureMessageConstant           = "evidence collection failed"
	chainIntegrityFailureMessageConstant       = "evidence chain integrity violated"
	passTimeoutFailureMessageConstant          = "verification pass timed out"
	claimSchemaFailureMessageConstant          = "claim schema violated"
	unknownCollectionReasonMessageConstant     = "unknown reason"
	unknownChainIntegrityReasonMessageConstant = "hash mismatch"
)

// Sentinel errors for errors.Is classification.
var (
	ErrCollection            = errors.New(collectionFailureMessageConstant)
	ErrChainIntegrity        = errors.New(chainIntegrityFailureMessageConstant)
	ErrPassTimeout           = errors.New(passTimeoutFailureMessageConstant)
	ErrClaimSchema           = errors.New(claimSchemaFailureMessageConstant)
	ErrAuditDeadlineExceeded = errors.New(auditDeadlineErrorMessageConstant)
)

// CollectionError reports that a single collector could not produce evidence.
type CollectionError struct {
	Source Source
	Reason string
	Cause  error
}

// NewCollectionError builds a CollectionError from an underlying cause.
func NewCollectionError(source Source, cause error) *CollectionError {
	reason := unknownCollectionReasonMessageConstant
	if cause != nil {
		reason = cause.Error()
	}
	return &CollectionError{Source: source, Reason: reason, Cause: cause}
}

// Error describes the collection failure.
func (collectionError *CollectionError) Error() string {
	return fmt.Sprintf(collectionErrorTemplateConstant, collectionError.Source, collectionError.Reason)
}

// Is matches ErrCollection.
func (collectionError *CollectionError) Is(target error) bool {
	return target == ErrCollection
}

// Unwrap exposes the underlying cause.
func (collectionError *CollectionError) Unwrap() error {
	return collectionError.Cause
}

// ChainIntegrityError reports the first ledger index whose hash does not verify.
// Index is -1 when the failure concerns an item that has not been stored yet.
type ChainIntegrityError struct {
	Index  int
	Reason string
}

// Error describes the broken link.
func (chainError *ChainIntegrityError) Error() string {
	reason := chainError.Reason
	if len(reason) == 0 {
		reason = unknownChainIntegrityReasonMessageConstant
	}
	return fmt.Sprintf(chainIntegrityErrorTemplateConstant, chainError.Index, reason)
}

// Is matches ErrChainIntegrity.
func (chainError *ChainIntegrityError) Is(target error) bool {
	return target == ErrChainIntegrity
}

// Kind returns the machine-readable error kind.
func (chainError *ChainIntegrityError) Kind() ErrorKind {
	return ErrorKindChainIntegrity
}

// PassTimeoutError reports that a pass exceeded its configured timeout.
// Unsettled lists the collectors that had not produced evidence when the
// pass deadline fired.
type PassTimeoutError struct {
	Pass      Pass
	Unsettled []Source
}

// Error describes the timeout.
func (timeoutError *PassTimeoutError) Error() string {
	message := fmt.Sprintf(passTimeoutErrorTemplateConstant, timeoutError.Pass)
	if len(timeoutError.Unsettled) == 0 {
		return message
	}
	sourceNames := make([]string, 0, len(timeoutError.Unsettled))
	for _, source := range timeoutError.Unsettled {
		sourceNames = append(sourceNames, string(source))
	}
	return fmt.Sprintf(passTimeoutUnsettledTemplateConstant, message, strings.Join(sourceNames, sourceListSeparatorConstant))
}

// Is matches ErrPassTimeout.
func (timeoutError *PassTimeoutError) Is(target error) bool {
	return target == ErrPassTimeout
}

// ClaimSchemaError reports a malformed claim or a missing required field.
type ClaimSchemaError struct {
	Field  string
	Reason string
}

// Error describes the schema violation.
func (schemaError *ClaimSchemaError) Error() string {
	if len(schemaError.Field) == 0 {
		return fmt.Sprintf(claimSchemaErrorTemplateConstant, schemaError.Reason)
	}
	return fmt.Sprintf(claimSchemaFieldErrorTemplateConstant, schemaError.Field, schemaError.Reason)
}

// Is matches ErrClaimSchema.
func (schemaError *ClaimSchemaError) Is(target error) bool {
	return target == ErrClaimSchema
}

// Kind returns the machine-readable error kind.
func (schemaError *ClaimSchemaError) Kind() ErrorKind {
	return ErrorKindClaimSchema
}

// KindOf classifies a fatal error; unknown errors are internal faults.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChainIntegrity):
		return ErrorKindChainIntegrity
	case errors.Is(err, ErrClaimSchema):
		return ErrorKindClaimSchema
	case errors.Is(err, ErrAuditDeadlineExceeded):
		return ErrorKindAuditDeadlineExceeded
	default:
		return ErrorKindInternalFault
	}
}
