package evidence

import (
	"sort"
	"strings"
	"time"
)

// Source identifies the independent probe that produced an evidence item.
type Source string

// Supported evidence sources, listed from highest to lowest trust.
const (
	SourceFileSystem     Source = "FileSystem"
	SourceVersionControl Source = "VersionControl"
	SourceTestResults    Source = "TestResults"
	SourceStaticAnalysis Source = "StaticAnalysis"
	SourceDocumentation  Source = "Documentation"
	SourceAgentReport    Source = "AgentReport"
)

// Pass labels one of the three verification rounds.
type Pass string

// Verification pass labels.
const (
	PassA Pass = "A"
	PassB Pass = "B"
	PassC Pass = "C"
)

// Passes returns the pass labels in protocol order.
func Passes() []Pass {
	return []Pass{PassA, PassB, PassC}
}

// Severity grades a discrepancy.
type Severity string

// Discrepancy severities.
const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Rank orders severities; unknown severities rank below Low.
func (severity Severity) Rank() int {
	return severityRanks[severity]
}

// PassStatus describes the lifecycle of a single verification pass.
type PassStatus string

// Pass statuses.
const (
	PassStatusPending  PassStatus = "Pending"
	PassStatusRunning  PassStatus = "Running"
	PassStatusComplete PassStatus = "Complete"
	PassStatusDegraded PassStatus = "Degraded"
)

// Terminal reports whether the pass has settled.
func (status PassStatus) Terminal() bool {
	return status == PassStatusComplete || status == PassStatusDegraded
}

// AuditStatus is the verdict of an audit run.
type AuditStatus string

// Audit verdicts.
const (
	AuditStatusPassed   AuditStatus = "Passed"
	AuditStatusFailed   AuditStatus = "Failed"
	AuditStatusCritical AuditStatus = "Critical"
	AuditStatusError    AuditStatus = "Error"
)

// ParseAuditStatus resolves a case-insensitive status name.
func ParseAuditStatus(value string) (AuditStatus, bool) {
	for _, candidate := range []AuditStatus{AuditStatusPassed, AuditStatusFailed, AuditStatusCritical, AuditStatusError} {
		if strings.EqualFold(string(candidate), strings.TrimSpace(value)) {
			return candidate, true
		}
	}
	return "", false
}

// BlocksDownstream reports whether callers must stop merges, deploys, and releases.
func (status AuditStatus) BlocksDownstream() bool {
	return status == AuditStatusCritical || status == AuditStatusError
}

// Claim maps claim field names to claimed values. Values are JSON-compatible:
// int64, float64, string, bool, or []any of those.
type Claim map[string]any

// Fields returns the claim field names in lexical order.
func (claim Claim) Fields() []string {
	fields := make([]string, 0, len(claim))
	for field := range claim {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Clone returns a shallow copy with copied list values.
func (claim Claim) Clone() Claim {
	cloned := make(Claim, len(claim))
	for field, value := range claim {
		if listValue, isList := value.([]any); isList {
			cloned[field] = append([]any{}, listValue...)
			continue
		}
		cloned[field] = value
	}
	return cloned
}

// Item is one hash-chained observation stored in the evidence ledger.
//
// Field order is part of the hash input; do not reorder.
type Item struct {
	ID           string    `json:"id"`
	AuditID      string    `json:"auditId"`
	Source       Source    `json:"source"`
	Type         string    `json:"type"`
	PayloadRef   string    `json:"payloadRef"`
	PayloadSize  int64     `json:"payloadSize"`
	CollectedAt  time.Time `json:"collectedAt"`
	Pass         Pass      `json:"pass"`
	Hash         string    `json:"hash"`
	PreviousHash string    `json:"previousHash"`
}

// Payload is the externally stored body referenced by Item.PayloadRef.
type Payload struct {
	Facts  map[string]any `json:"facts"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Observation is what a collector produces before the orchestrator stores its
// payload and appends the resulting item to the ledger.
type Observation struct {
	Source      Source
	Type        string
	Facts       map[string]any
	Detail      map[string]any
	CollectedAt time.Time
}

// Discrepancy records a mismatch between a claim and observed evidence.
type Discrepancy struct {
	ClaimField        string   `json:"claimField"`
	ClaimedValue      any      `json:"claimedValue"`
	ObservedValue     any      `json:"observedValue"`
	Severity          Severity `json:"severity"`
	SourceEvidenceIDs []string `json:"sourceEvidenceIds"`
	Description       string   `json:"description"`
	Pass              Pass     `json:"pass"`
}

// VerificationPass captures the outcome of one verification round.
type VerificationPass struct {
	Label              Pass          `json:"label"`
	Status             PassStatus    `json:"status"`
	DerivedEvidenceIDs []string      `json:"derivedEvidenceIds"`
	Discrepancies      []Discrepancy `json:"discrepancies"`
}

// EvidenceSummary is the compact evidence view included in audit output.
type EvidenceSummary struct {
	ID          string `json:"id"`
	Source      Source `json:"source"`
	Hash        string `json:"hash"`
	SizeOrCount int64  `json:"sizeOrCount"`
}

// AuditResult is the immutable verdict of one audit run.
type AuditResult struct {
	AuditID         string             `json:"auditId"`
	TaskID          string             `json:"taskId"`
	Target          string             `json:"target"`
	Status          AuditStatus        `json:"status"`
	ConfidenceScore float64            `json:"confidenceScore"`
	Discrepancies   []Discrepancy      `json:"discrepancies"`
	EvidenceItemIDs []string           `json:"evidenceItemIds"`
	EvidenceSummary []EvidenceSummary  `json:"evidenceSummary"`
	Passes          []VerificationPass `json:"passes"`
	ErrorKind       ErrorKind          `json:"errorKind,omitempty"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
	DurationMs      int64              `json:"durationMs"`
	Timestamp       time.Time          `json:"timestamp"`
}
