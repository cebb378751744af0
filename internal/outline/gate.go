package outline

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
)

// CheckSuperset fails when a required claim is absent from the current evidence
func CheckSuperset(required []string, index map[string]model.Claim, reportCap int) error {
	var missing []string
	for _, id := range required {
		if _, ok := index[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	se := model.Failf(model.CodeRequiredClaimsMissing,
		"%d of %d required claims are missing from evidence", len(missing), len(required))
	se.IDs = model.CapIDs(missing, reportCap)
	return se
}

// CheckFingerprints fails when a required claim's meaning changed since the
// pillars were synthesized
func CheckFingerprints(required []string, recorded map[string]string, index map[string]model.Claim, reportCap int) error {
	var (
		ids     []string
		details []string
	)
	for _, id := range required {
		c, ok := index[id]
		if !ok {
			continue
		}
		actual := hashing.SemanticClaimFingerprint(c)
		if expected := recorded[id]; expected != actual {
			ids = append(ids, id)
			details = append(details, fmt.Sprintf("%s: expected %s, actual %s", id, expected, actual))
		}
	}
	if len(ids) == 0 {
		return nil
	}
	se := model.Failf(model.CodeFingerprintMismatch, "%d required claims changed since pillar synthesis", len(ids))
	se.IDs = model.CapIDs(ids, reportCap)
	se.Details = model.CapIDs(details, reportCap)
	return se
}

// VisibleClaim is the trimmed view of a claim that the generator may see
type VisibleClaim struct {
	ClaimID    string   `json:"claim_id"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary,omitempty"`
	Quote      string   `json:"quote,omitempty"`
	URL        string   `json:"url,omitempty"`
	SourceType string   `json:"source_type,omitempty"`
	Tier       int      `json:"tier"`
	TierGroup  string   `json:"tier_group,omitempty"`
	Value      *float64 `json:"value,omitempty"`
	Units      string   `json:"units,omitempty"`
}

// BuildVisibleSlice returns the allowed claims, trimmed and capped, sorted
// by claim id. The result is re-checked against the allow-list.
func BuildVisibleSlice(allowed []string, evidence model.EvidenceSet, gate model.GateConfig) ([]VisibleClaim, error) {
	allow := toSet(allowed)

	var slice []VisibleClaim
	seen := make(map[string]bool)
	for _, c := range evidence.Claims {
		if !allow[c.ClaimID] || seen[c.ClaimID] {
			continue
		}
		seen[c.ClaimID] = true
		slice = append(slice, VisibleClaim{
			ClaimID:    c.ClaimID,
			Title:      truncate(c.Title, gate.VisibleTitleChars),
			Summary:    truncate(c.Summary, gate.VisibleSummaryChars),
			Quote:      truncate(c.Quote, gate.VisibleQuoteChars),
			URL:        c.URL,
			SourceType: c.SourceType,
			Tier:       c.Tier,
			TierGroup:  c.TierGroup,
			Value:      c.Value,
			Units:      c.Units,
		})
	}
	sort.Slice(slice, func(i, j int) bool { return slice[i].ClaimID < slice[j].ClaimID })
	if gate.VisibleClaimCap > 0 && len(slice) > gate.VisibleClaimCap {
		slice = slice[:gate.VisibleClaimCap]
	}

	if err := assertContained(slice, allow); err != nil {
		return nil, err
	}
	return slice, nil
}

// assertContained re-scans the slice for ids outside the allow-list
func assertContained(slice []VisibleClaim, allow map[string]bool) error {
	var leaked []string
	for _, c := range slice {
		if !allow[c.ClaimID] {
			leaked = append(leaked, c.ClaimID)
		}
	}
	if len(leaked) == 0 {
		return nil
	}
	se := model.Failf(model.CodeVisibleSliceLeak, "%d claims outside the allow-list in the visible slice", len(leaked))
	se.IDs = leaked
	return se
}

// BuildInventory lists every claim of the snapshot with minimal metadata
func BuildInventory(evidence model.EvidenceSet, allowed []string) *model.Inventory {
	allow := toSet(allowed)
	items := make([]model.InventoryItem, 0, len(evidence.Claims))
	for _, c := range evidence.Claims {
		items = append(items, model.InventoryItem{
			ClaimID:   c.ClaimID,
			Title:     c.Title,
			URL:       c.URL,
			Tier:      c.Tier,
			TierGroup: c.TierGroup,
			Allowed:   allow[c.ClaimID],
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ClaimID < items[j].ClaimID })
	return &model.Inventory{Schema: model.InventorySchema, Total: len(items), Claims: items}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
