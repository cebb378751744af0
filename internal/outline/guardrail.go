package outline

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/ppiankov/provenant/internal/model"
)

// idToken matches identifier-shaped runs inside free text
var idToken = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9_:.\-]*[A-Za-z0-9]|[A-Za-z0-9]`)

// Guardrail rejects generated output that references claims outside the allow-list
type Guardrail struct {
	allowed map[string]bool
	known   map[string]bool
	shapes  map[string]bool
}

// NewGuardrail builds a guardrail over the allow-list. Known ids are every
// claim of the evidence snapshot; a known id quoted in free text counts as a
// reference too, as is an unknown token shaped like the snapshot's ids
// ("c9" when ids look like "c1").
func NewGuardrail(allowed []string, evidence model.EvidenceSet) *Guardrail {
	known := make(map[string]bool, len(evidence.Claims))
	shapes := make(map[string]bool)
	for _, c := range evidence.Claims {
		if c.ClaimID != "" {
			known[c.ClaimID] = true
		}
	}
	for id := range known {
		if p, ok := idPrefix(id); ok {
			shapes[p] = true
		}
	}
	for _, id := range allowed {
		if p, ok := idPrefix(id); ok {
			shapes[p] = true
		}
	}
	return &Guardrail{allowed: toSet(allowed), known: known, shapes: shapes}
}

// idPrefix splits an id of the form <prefix><digits> and returns the prefix.
// The prefix must hold a letter so bare numbers never count.
func idPrefix(id string) (string, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) || i == 0 {
		return "", false
	}
	prefix := id[:i]
	if !strings.ContainsFunc(prefix, unicode.IsLetter) {
		return "", false
	}
	return prefix, true
}

// idShaped reports whether tok follows the numbering of known ids
func (g *Guardrail) idShaped(tok string) bool {
	p, ok := idPrefix(tok)
	return ok && g.shapes[p]
}

// Check returns a disallowed_claim_reference error when output references an
// id outside the allow-list
func (g *Guardrail) Check(output any, reportCap int) error {
	bad := g.Disallowed(output)
	if len(bad) == 0 {
		return nil
	}
	se := model.Failf(model.CodeDisallowedClaimReference, "generated output references %d claims outside the allow-list", len(bad))
	se.IDs = model.CapIDs(bad, reportCap)
	return se
}

// Disallowed returns the sorted, distinct ids referenced by output that are
// not allowed. Typed values are inspected in their JSON form.
func (g *Guardrail) Disallowed(output any) []string {
	output = generic(output)
	set := make(map[string]bool)
	for _, id := range CollectClaimRefs(output) {
		if !g.allowed[id] {
			set[id] = true
		}
	}
	g.scanText(output, set)

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// scanText looks for known or id-shaped claim ids mentioned in any string value
func (g *Guardrail) scanText(v any, set map[string]bool) {
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			g.scanText(child, set)
		}
	case []any:
		for _, child := range t {
			g.scanText(child, set)
		}
	case string:
		for _, tok := range idToken.FindAllString(t, -1) {
			if g.allowed[tok] {
				continue
			}
			if g.known[tok] || g.idShaped(tok) {
				set[tok] = true
			}
		}
	}
}

// generic converts a typed value to decoded JSON (maps, slices, strings)
func generic(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, nil:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// CollectClaimRefs walks v and returns every value held under a claim
// reference key, at any depth
func CollectClaimRefs(v any) []string {
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				if isClaimKey(k) {
					out = append(out, refValues(child)...)
				}
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(v)
	return out
}

func isClaimKey(k string) bool {
	k = strings.ToLower(strings.ReplaceAll(k, "_", ""))
	switch k {
	case "claimid", "claimids", "claimref", "claimrefs", "claims":
		return true
	}
	return false
}

// refValues extracts ids from a reference value: a string, a list of
// strings, or objects that carry their own claim_id
func refValues(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, it := range t {
			if s, ok := it.(string); ok {
				out = append(out, refValues(s)...)
			}
		}
		return out
	}
	return nil
}
