package reconcile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

const (
	claimMismatchTemplateConstant       = "%s disagrees with the claim: %s"
	evidenceUnavailableTemplateConstant = "evidence unavailable from %s: %v"
	passTimeoutTemplateConstant         = "pass timeout: %v"
	evidenceClaimFieldPrefixConstant    = "evidence:"
	passClaimFieldPrefixConstant        = "pass:"
	derivedLogMessageConstant           = "pass findings derived"
	logFieldPassConstant                = "pass"
	logFieldRecordCountConstant         = "record_count"
	logFieldDiscrepancyCountConstant    = "discrepancy_count"
)

// Reconciler compares evidence with a claim and scores verification passes.
type Reconciler struct {
	scoring config.ScoringConfig
	logger  *zap.Logger
}

// NewReconciler constructs a Reconciler for the scoring configuration.
func NewReconciler(scoring config.ScoringConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{scoring: scoring, logger: logger}
}

// Derive compares each claim field with the highest-trust fact observed in
// records. Records must belong to a single pass; fields without evidence are
// left to the challenge pass.
func (reconciler *Reconciler) Derive(pass evidence.Pass, claim evidence.Claim, records []Record) []evidence.Discrepancy {
	resolved := Resolve(records, reconciler.scoring.TieBreak)
	var discrepancies []evidence.Discrepancy
	for _, field := range claim.Fields() {
		fact, observed := resolved[field]
		if !observed {
			continue
		}
		comparison := Compare(claim[field], fact.Value, reconciler.scoring.DeviationThresholds)
		if !comparison.Mismatch {
			continue
		}
		discrepancies = append(discrepancies, evidence.Discrepancy{
			ClaimField:        field,
			ClaimedValue:      claim[field],
			ObservedValue:     fact.Value,
			Severity:          comparison.Severity,
			SourceEvidenceIDs: []string{fact.EvidenceID},
			Description:       fmt.Sprintf(claimMismatchTemplateConstant, fact.Source, comparison.Description),
			Pass:              pass,
		})
	}
	reconciler.logger.Debug(derivedLogMessageConstant,
		zap.String(logFieldPassConstant, string(pass)),
		zap.Int(logFieldRecordCountConstant, len(records)),
		zap.Int(logFieldDiscrepancyCountConstant, len(discrepancies)),
	)
	return discrepancies
}

// EvidenceUnavailable records a collector failure as a Medium discrepancy.
func EvidenceUnavailable(pass evidence.Pass, source evidence.Source, cause error) evidence.Discrepancy {
	return evidence.Discrepancy{
		ClaimField:        evidenceClaimFieldPrefixConstant + string(source),
		Severity:          evidence.SeverityMedium,
		SourceEvidenceIDs: []string{},
		Description:       fmt.Sprintf(evidenceUnavailableTemplateConstant, source, cause),
		Pass:              pass,
	}
}

// PassTimeout records a pass that was abandoned at its timeout.
func PassTimeout(timeoutError *evidence.PassTimeoutError) evidence.Discrepancy {
	return evidence.Discrepancy{
		ClaimField:        passClaimFieldPrefixConstant + string(timeoutError.Pass),
		Severity:          evidence.SeverityMedium,
		SourceEvidenceIDs: []string{},
		Description:       fmt.Sprintf(passTimeoutTemplateConstant, timeoutError),
		Pass:              timeoutError.Pass,
	}
}
