package model

// Severity represents the severity of a support signal
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SignalType names what a support signal measures
type SignalType string

const (
	SignalCitationCoverage      SignalType = "citation_coverage"
	SignalAuthorityDistribution SignalType = "authority_distribution"
	SignalEvidenceBreadth       SignalType = "evidence_breadth"
	SignalUncitedSections       SignalType = "uncited_sections"
)

// Signal is one explainable component of the support index
type Signal struct {
	Type        SignalType     `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// Support summarizes how well the assembled campaign is backed by evidence.
// It is informational: provenance violations fail the run long before this.
type Support struct {
	Index      int      `json:"index"` // 0-100
	Confidence string   `json:"confidence"`
	Signals    []Signal `json:"signals"`
}

// EvidenceIssue is one finding of the evidence audit
type EvidenceIssue struct {
	ClaimID string `json:"claim_id"`
	Problem string `json:"problem"`
	Fatal   bool   `json:"fatal"`
}
