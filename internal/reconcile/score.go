package reconcile

import (
	"math"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

// Verdict is the scored outcome of the three verification passes.
type Verdict struct {
	Status          evidence.AuditStatus
	ConfidenceScore float64
	PassScores      map[evidence.Pass]float64
	Discrepancies   []evidence.Discrepancy
}

// PassScore is 1 − min(1, Σ weight / totalClaimFields), counting only the
// most severe discrepancy per claim field.
func PassScore(discrepancies []evidence.Discrepancy, totalClaimFields int, weights config.SeverityWeights) float64 {
	if totalClaimFields <= 0 {
		totalClaimFields = 1
	}
	var penalty float64
	for _, discrepancy := range HighestPerField(discrepancies) {
		penalty += weights.Weight(discrepancy.Severity)
	}
	return 1 - math.Min(1, penalty/float64(totalClaimFields))
}

// HighestPerField keeps the most severe discrepancy for each claim field,
// preserving first-seen field order.
func HighestPerField(discrepancies []evidence.Discrepancy) []evidence.Discrepancy {
	positions := map[string]int{}
	var highest []evidence.Discrepancy
	for _, discrepancy := range discrepancies {
		position, seen := positions[discrepancy.ClaimField]
		if !seen {
			positions[discrepancy.ClaimField] = len(highest)
			highest = append(highest, discrepancy)
			continue
		}
		if discrepancy.Severity.Rank() > highest[position].Severity.Rank() {
			highest[position] = discrepancy
		}
	}
	return highest
}

// Confidence averages the pass scores and adds the completion bonus when
// every pass is Complete. The result is capped at 1.
func Confidence(passes []evidence.VerificationPass, totalClaimFields int, scoring config.ScoringConfig) (float64, map[evidence.Pass]float64) {
	scores := make(map[evidence.Pass]float64, len(passes))
	if len(passes) == 0 {
		return 0, scores
	}
	allComplete := true
	var total float64
	for _, pass := range passes {
		score := PassScore(pass.Discrepancies, totalClaimFields, scoring.SeverityWeights)
		scores[pass.Label] = score
		total += score
		if pass.Status != evidence.PassStatusComplete {
			allComplete = false
		}
	}
	confidence := total / float64(len(passes))
	if allComplete {
		confidence += scoring.CompletionBonus
	}
	return math.Min(1, math.Max(0, confidence)), scores
}

// DetermineStatus applies the verdict rules in order: any Critical
// discrepancy, then the confidence threshold.
func DetermineStatus(discrepancies []evidence.Discrepancy, confidence float64, minConfidence float64) evidence.AuditStatus {
	for _, discrepancy := range discrepancies {
		if discrepancy.Severity == evidence.SeverityCritical {
			return evidence.AuditStatusCritical
		}
	}
	if confidence < minConfidence {
		return evidence.AuditStatusFailed
	}
	return evidence.AuditStatusPassed
}

// Deduplicate drops repeated findings across passes. Two discrepancies are
// the same finding when field, severity, and description match.
func Deduplicate(discrepancies []evidence.Discrepancy) []evidence.Discrepancy {
	type findingKey struct {
		claimField  string
		severity    evidence.Severity
		description string
	}
	seen := map[findingKey]struct{}{}
	unique := make([]evidence.Discrepancy, 0, len(discrepancies))
	for _, discrepancy := range discrepancies {
		key := findingKey{claimField: discrepancy.ClaimField, severity: discrepancy.Severity, description: discrepancy.Description}
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, discrepancy)
	}
	return unique
}

// Score turns the settled passes into a verdict for claim.
func (reconciler *Reconciler) Score(claim evidence.Claim, passes []evidence.VerificationPass) Verdict {
	confidence, passScores := Confidence(passes, len(claim), reconciler.scoring)
	var combined []evidence.Discrepancy
	for _, pass := range passes {
		combined = append(combined, pass.Discrepancies...)
	}
	discrepancies := Deduplicate(combined)
	return Verdict{
		Status:          DetermineStatus(discrepancies, confidence, reconciler.scoring.MinConfidence),
		ConfidenceScore: confidence,
		PassScores:      passScores,
		Discrepancies:   discrepancies,
	}
}
