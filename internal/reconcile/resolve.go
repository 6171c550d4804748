package reconcile

import (
	"sort"
	"time"

	"github.com/temirov/auditgate/internal/config"
	"github.com/temirov/auditgate/internal/evidence"
)

// Record is a ledger item together with the facts of its stored payload.
type Record struct {
	Index int
	Item  evidence.Item
	Facts map[string]any
}

// ResolvedFact is the value chosen for one fact key and where it came from.
type ResolvedFact struct {
	Key         string
	Value       any
	Source      evidence.Source
	EvidenceID  string
	CollectedAt time.Time
	Index       int
}

// Resolve picks, for every fact key, the value reported by the
// highest-trust source. Ties between items of equal trust follow tieBreak.
func Resolve(records []Record, tieBreak config.TieBreak) map[string]ResolvedFact {
	resolved := map[string]ResolvedFact{}
	for _, record := range records {
		for key, value := range record.Facts {
			candidate := ResolvedFact{
				Key:         key,
				Value:       value,
				Source:      record.Item.Source,
				EvidenceID:  record.Item.ID,
				CollectedAt: record.Item.CollectedAt,
				Index:       record.Index,
			}
			current, exists := resolved[key]
			if !exists || prefers(candidate, current, tieBreak) {
				resolved[key] = candidate
			}
		}
	}
	return resolved
}

// ResolveIndependent resolves facts while ignoring the executor's own
// self-report.
func ResolveIndependent(records []Record, tieBreak config.TieBreak) map[string]ResolvedFact {
	return Resolve(withoutSource(records, evidence.SourceAgentReport), tieBreak)
}

func prefers(candidate ResolvedFact, current ResolvedFact, tieBreak config.TieBreak) bool {
	candidateRank := evidence.TrustRank(candidate.Source)
	currentRank := evidence.TrustRank(current.Source)
	if candidateRank != currentRank {
		return candidateRank > currentRank
	}
	if tieBreak == config.TieBreakFirstCollected {
		if !candidate.CollectedAt.Equal(current.CollectedAt) {
			return candidate.CollectedAt.Before(current.CollectedAt)
		}
		return candidate.Index < current.Index
	}
	if !candidate.CollectedAt.Equal(current.CollectedAt) {
		return candidate.CollectedAt.After(current.CollectedAt)
	}
	return candidate.Index > current.Index
}

func withoutSource(records []Record, excluded evidence.Source) []Record {
	filtered := make([]Record, 0, len(records))
	for _, record := range records {
		if record.Item.Source != excluded {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

func recordsOfSource(records []Record, source evidence.Source) []Record {
	var selected []Record
	for _, record := range records {
		if record.Item.Source == source {
			selected = append(selected, record)
		}
	}
	return selected
}

func evidenceIDs(records []Record) []string {
	identifiers := make([]string, 0, len(records))
	for _, record := range records {
		identifiers = append(identifiers, record.Item.ID)
	}
	return identifiers
}

func sortedKeys(facts map[string]ResolvedFact) []string {
	keys := make([]string, 0, len(facts))
	for key := range facts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
