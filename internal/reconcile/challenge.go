package reconcile

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	claimedFilesFieldConstant              = "files"
	unreferencedFilesTemplateConstant      = "claimed files referenced by no evidence item: %s"
	crossPassContradictionTemplateConstant = "passes A and B disagree: %s reported %v in pass A and %s reported %v in pass B"
	unsubstantiatedFieldTemplateConstant   = "no independent evidence substantiates claim field %q"
	selfReportContradictedTemplateConstant = "self-report states %v but %s observed %v"
	challengeLogMessageConstant            = "challenge findings derived"
)

// ChallengeInput is everything the adversarial pass may inspect. It holds the
// raw records and findings of passes A and B; it never changes them.
type ChallengeInput struct {
	Claim              evidence.Claim
	PassARecords       []Record
	PassBRecords       []Record
	PassADiscrepancies []evidence.Discrepancy
	PassBDiscrepancies []evidence.Discrepancy
}

// Challenge searches passes A and B for contradictions they did not explain
// and returns new pass C discrepancies only.
func (reconciler *Reconciler) Challenge(input ChallengeInput) []evidence.Discrepancy {
	var discrepancies []evidence.Discrepancy
	allRecords := append(append([]Record{}, input.PassARecords...), input.PassBRecords...)

	if unreferenced := reconciler.unreferencedClaimedFiles(input.Claim, allRecords); unreferenced != nil {
		discrepancies = append(discrepancies, *unreferenced)
	}
	discrepancies = append(discrepancies, reconciler.crossPassContradictions(input)...)
	discrepancies = append(discrepancies, reconciler.unsubstantiatedFields(input.Claim, allRecords)...)
	discrepancies = append(discrepancies, reconciler.contradictedSelfReports(input.PassBRecords)...)

	reconciler.logger.Debug(challengeLogMessageConstant,
		zap.Int(logFieldRecordCountConstant, len(allRecords)),
		zap.Int(logFieldDiscrepancyCountConstant, len(discrepancies)),
	)
	return discrepancies
}

// unreferencedClaimedFiles flags claimed paths that appear in no fact of any
// independent evidence item.
func (reconciler *Reconciler) unreferencedClaimedFiles(claim evidence.Claim, records []Record) *evidence.Discrepancy {
	claimedFiles, isList := claim[claimedFilesFieldConstant].([]any)
	if !isList || len(claimedFiles) == 0 {
		return nil
	}
	referenced := map[string]struct{}{}
	var referencingIDs []string
	for _, record := range withoutSource(records, evidence.SourceAgentReport) {
		referencesAny := false
		for _, value := range record.Facts {
			for _, entry := range factEntries(value) {
				referenced[entryKey(entry)] = struct{}{}
				referencesAny = true
			}
		}
		if referencesAny {
			referencingIDs = append(referencingIDs, record.Item.ID)
		}
	}

	var unreferenced []any
	var unreferencedNames []string
	for _, claimedFile := range claimedFiles {
		if _, found := referenced[entryKey(claimedFile)]; !found {
			unreferenced = append(unreferenced, claimedFile)
			unreferencedNames = append(unreferencedNames, entryKey(claimedFile))
		}
	}
	if len(unreferenced) == 0 {
		return nil
	}
	return &evidence.Discrepancy{
		ClaimField:        claimedFilesFieldConstant,
		ClaimedValue:      claimedFiles,
		ObservedValue:     unreferenced,
		Severity:          evidence.SeverityHigh,
		SourceEvidenceIDs: nonNilIDs(referencingIDs),
		Description:       fmt.Sprintf(unreferencedFilesTemplateConstant, summarizeEntries(unreferencedNames)),
		Pass:              evidence.PassC,
	}
}

// crossPassContradictions flags claim fields whose resolved facts differ
// between pass A and pass B. A difference is explained, and skipped, when the
// passes resolved from different sources because one of them lost a source.
func (reconciler *Reconciler) crossPassContradictions(input ChallengeInput) []evidence.Discrepancy {
	passAFacts := Resolve(input.PassARecords, reconciler.scoring.TieBreak)
	passBFacts := Resolve(input.PassBRecords, reconciler.scoring.TieBreak)
	var discrepancies []evidence.Discrepancy
	for _, field := range input.Claim.Fields() {
		passAFact, inPassA := passAFacts[field]
		passBFact, inPassB := passBFacts[field]
		if !inPassA || !inPassB || ValuesEqual(passAFact.Value, passBFact.Value) {
			continue
		}
		if passAFact.Source != passBFact.Source && (sourceLost(input.PassADiscrepancies, passBFact.Source) || sourceLost(input.PassBDiscrepancies, passAFact.Source)) {
			continue
		}
		discrepancies = append(discrepancies, evidence.Discrepancy{
			ClaimField:        field,
			ClaimedValue:      input.Claim[field],
			ObservedValue:     passBFact.Value,
			Severity:          evidence.SeverityHigh,
			SourceEvidenceIDs: []string{passAFact.EvidenceID, passBFact.EvidenceID},
			Description:       fmt.Sprintf(crossPassContradictionTemplateConstant, passAFact.Source, passAFact.Value, passBFact.Source, passBFact.Value),
			Pass:              evidence.PassC,
		})
	}
	return discrepancies
}

// unsubstantiatedFields flags claim fields only the executor itself reported.
func (reconciler *Reconciler) unsubstantiatedFields(claim evidence.Claim, records []Record) []evidence.Discrepancy {
	independentFacts := ResolveIndependent(records, reconciler.scoring.TieBreak)
	var discrepancies []evidence.Discrepancy
	for _, field := range claim.Fields() {
		if _, substantiated := independentFacts[field]; substantiated {
			continue
		}
		discrepancies = append(discrepancies, evidence.Discrepancy{
			ClaimField:        field,
			ClaimedValue:      claim[field],
			Severity:          evidence.SeverityMedium,
			SourceEvidenceIDs: []string{},
			Description:       fmt.Sprintf(unsubstantiatedFieldTemplateConstant, field),
			Pass:              evidence.PassC,
		})
	}
	return discrepancies
}

// contradictedSelfReports compares the executor's pass B self-report with
// the independent facts of the same pass.
func (reconciler *Reconciler) contradictedSelfReports(passBRecords []Record) []evidence.Discrepancy {
	selfReported := Resolve(recordsOfSource(passBRecords, evidence.SourceAgentReport), reconciler.scoring.TieBreak)
	independentFacts := ResolveIndependent(passBRecords, reconciler.scoring.TieBreak)
	var discrepancies []evidence.Discrepancy
	for _, key := range sortedKeys(selfReported) {
		reportedFact := selfReported[key]
		observedFact, observed := independentFacts[key]
		if !observed || ValuesEqual(reportedFact.Value, observedFact.Value) {
			continue
		}
		discrepancies = append(discrepancies, evidence.Discrepancy{
			ClaimField:        key,
			ClaimedValue:      reportedFact.Value,
			ObservedValue:     observedFact.Value,
			Severity:          evidence.SeverityLow,
			SourceEvidenceIDs: []string{reportedFact.EvidenceID, observedFact.EvidenceID},
			Description:       fmt.Sprintf(selfReportContradictedTemplateConstant, reportedFact.Value, observedFact.Source, observedFact.Value),
			Pass:              evidence.PassC,
		})
	}
	return discrepancies
}

func sourceLost(discrepancies []evidence.Discrepancy, source evidence.Source) bool {
	for _, discrepancy := range discrepancies {
		if discrepancy.ClaimField == evidenceClaimFieldPrefixConstant+string(source) {
			return true
		}
	}
	return false
}

func factEntries(value any) []any {
	switch typed := value.(type) {
	case []any:
		return typed
	case []string:
		entries := make([]any, 0, len(typed))
		for _, entry := range typed {
			entries = append(entries, entry)
		}
		return entries
	case string:
		return []any{typed}
	default:
		return nil
	}
}

func nonNilIDs(identifiers []string) []string {
	if identifiers == nil {
		return []string{}
	}
	sort.Strings(identifiers)
	return identifiers
}
