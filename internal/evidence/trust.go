package evidence

var trustOrder = []Source{
	SourceFileSystem,
	SourceVersionControl,
	SourceTestResults,
	SourceStaticAnalysis,
	SourceDocumentation,
	SourceAgentReport,
}

// TrustRank returns the trust priority of the source; higher values win.
// Unknown sources rank zero.
func TrustRank(source Source) int {
	for index, candidate := range trustOrder {
		if candidate == source {
			return len(trustOrder) - index
		}
	}
	return 0
}

// SourcesByTrust lists every known source from highest to lowest trust.
func SourcesByTrust() []Source {
	return append([]Source{}, trustOrder...)
}

// KnownSource reports whether the source belongs to the closed source set.
func KnownSource(source Source) bool {
	return TrustRank(source) > 0
}
