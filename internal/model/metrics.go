package model

// Passing thresholds used by the near-pass rule. Strength is compared against
// the verifier's configured threshold instead of a constant.
const (
	MinEvidenceCoverage = 0.5
	MinProvenanceRate   = 0.8
)

// QualityMetrics is computed fresh from one attempt's artifacts and never
// carried across attempts.
type QualityMetrics struct {
	CitationCount        int     `json:"citation_count"`
	EvidenceCount        int     `json:"evidence_count"`
	EvidenceCoverage     float64 `json:"evidence_coverage"`
	MeanEvidenceStrength float64 `json:"mean_evidence_strength"`
	ProvenanceRate       float64 `json:"provenance_rate"`
	WarningCount         int     `json:"warning_count"`
	SourceCount          int     `json:"source_count"`
	FetchedSourceCount   int     `json:"fetched_source_count"`
	StrengthThreshold    float64 `json:"strength_threshold"`
}

// PassingMetrics returns how many individual metrics meet their threshold.
func (m QualityMetrics) PassingMetrics() int {
	n := 0
	if m.CitationCount >= 1 {
		n++
	}
	if m.EvidenceCoverage >= MinEvidenceCoverage {
		n++
	}
	if m.ProvenanceRate >= MinProvenanceRate {
		n++
	}
	if m.EvidenceCount > 0 && m.MeanEvidenceStrength >= m.StrengthThreshold {
		n++
	}
	return n
}

// AsMap flattens the metrics for ledger rows and telemetry attributes.
func (m QualityMetrics) AsMap() map[string]float64 {
	return map[string]float64{
		"citation_count":         float64(m.CitationCount),
		"evidence_count":         float64(m.EvidenceCount),
		"evidence_coverage":      m.EvidenceCoverage,
		"mean_evidence_strength": m.MeanEvidenceStrength,
		"provenance_rate":        m.ProvenanceRate,
		"warning_count":          float64(m.WarningCount),
		"source_count":           float64(m.SourceCount),
		"fetched_source_count":   float64(m.FetchedSourceCount),
	}
}
