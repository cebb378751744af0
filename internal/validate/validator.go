package validate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/ppiankov/provenant/internal/model"
)

// Audit problems
const (
	ProblemEmptyID           = "empty_claim_id"
	ProblemDuplicateID       = "duplicate_claim_id"
	ProblemEmptyTitle        = "empty_title"
	ProblemInvalidURL        = "invalid_url"
	ProblemInvalidTier       = "invalid_tier"
	ProblemUnknownTierGroup  = "unknown_tier_group"
	ProblemAuthorityMismatch = "authority_mismatch"
)

// Validator audits an evidence snapshot before any stage consumes it.
// Identity problems are fatal; descriptive problems are reported as warnings.
type Validator struct {
	authority *AuthorityClassifier
	idCap     int
}

// NewValidator creates a validator. idCap bounds the ids reported in a
// failure; zero reports all of them.
func NewValidator(authority *AuthorityClassifier, idCap int) *Validator {
	if authority == nil {
		authority = NewAuthorityClassifier(nil)
	}
	return &Validator{authority: authority, idCap: idCap}
}

// Audit lists every issue found in the evidence set, in claim order
func (v *Validator) Audit(evidence model.EvidenceSet) []model.EvidenceIssue {
	var issues []model.EvidenceIssue
	seen := make(map[string]bool, len(evidence.Claims))

	for i, c := range evidence.Claims {
		id := strings.TrimSpace(c.ClaimID)
		if id == "" {
			issues = append(issues, model.EvidenceIssue{ClaimID: fmt.Sprintf("#%d", i), Problem: ProblemEmptyID, Fatal: true})
			continue
		}
		if seen[id] {
			issues = append(issues, model.EvidenceIssue{ClaimID: id, Problem: ProblemDuplicateID, Fatal: true})
			continue
		}
		seen[id] = true

		if strings.TrimSpace(c.Title) == "" {
			issues = append(issues, model.EvidenceIssue{ClaimID: id, Problem: ProblemEmptyTitle})
		}
		if c.Tier < 0 {
			issues = append(issues, model.EvidenceIssue{ClaimID: id, Problem: ProblemInvalidTier})
		}
		if c.TierGroup != "" && parseGroup(c.TierGroup) == GroupTertiary && !strings.EqualFold(c.TierGroup, GroupTertiary) {
			issues = append(issues, model.EvidenceIssue{ClaimID: id, Problem: ProblemUnknownTierGroup})
		}
		if c.URL == "" {
			continue
		}
		if !validURL(c.URL) {
			issues = append(issues, model.EvidenceIssue{ClaimID: id, Problem: ProblemInvalidURL})
			continue
		}
		// A declared primary claim whose source classifies as tertiary
		if c.TierGroup != "" && rank(parseGroup(c.TierGroup))+2 <= rank(v.authority.Classify(c.URL)) {
			issues = append(issues, model.EvidenceIssue{ClaimID: id, Problem: ProblemAuthorityMismatch})
		}
	}
	return issues
}

// Check audits evidence and fails with evidence_invalid on any fatal issue.
// Non-fatal issues are returned as warnings.
func (v *Validator) Check(evidence model.EvidenceSet) ([]model.EvidenceIssue, error) {
	issues := v.Audit(evidence)

	var fatal []string
	var warnings []model.EvidenceIssue
	for _, issue := range issues {
		if issue.Fatal {
			fatal = append(fatal, issue.ClaimID)
			continue
		}
		warnings = append(warnings, issue)
	}
	if len(fatal) == 0 {
		return warnings, nil
	}

	sort.Strings(fatal)
	fatal = dedupe(fatal)
	err := model.Failf(model.CodeEvidenceInvalid, "%d claim(s) with missing or duplicate ids", len(fatal))
	err.IDs = model.CapIDs(fatal, v.idCap)
	return warnings, err
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
