// Package outline produces the claim-gated campaign outline. Every check in
// this package fails closed: a violated contract stops the run and nothing
// is written for the stage.
package outline

import (
	"fmt"
	"unicode/utf8"

	"github.com/ppiankov/provenant/internal/model"
)

// Verdict is the result of a structural check
type Verdict struct {
	OK     bool
	Code   string
	Reason string
}

func accept() Verdict { return Verdict{OK: true} }

func reject(code, format string, args ...any) Verdict {
	return Verdict{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Err converts a rejected verdict into a permanent stage error
func (v Verdict) Err() error {
	if v.OK {
		return nil
	}
	return model.Failf(v.Code, "%s", v.Reason)
}

// ValidatePillars checks the raw content pillars document before it is trusted
func ValidatePillars(doc map[string]any) Verdict {
	schema, _ := doc["schema"].(string)
	switch schema {
	case model.ContentPillarsSchema:
	case "":
		return reject(model.CodeMissingField, "schema tag missing")
	case "content-pillars-v1":
		return reject(model.CodeLegacyPillarsArtifact, "%s artifacts carry no claim fingerprints; re-run pillar synthesis", schema)
	default:
		return reject(model.CodeSchemaMismatch, "pillars schema %q, want %q", schema, model.ContentPillarsSchema)
	}

	for _, field := range []string{"pillars", "proof_enrichment", "required_claim_ids"} {
		if _, ok := doc[field].([]any); !ok {
			return reject(model.CodeMissingField, "%s must be an array", field)
		}
	}
	fps, ok := doc["required_claim_fingerprints"].(map[string]any)
	if !ok {
		return reject(model.CodeLegacyPillarsArtifact, "required_claim_fingerprints missing; re-run pillar synthesis")
	}

	required := make(map[string]bool)
	for i, raw := range doc["required_claim_ids"].([]any) {
		id, ok := raw.(string)
		if !ok || id == "" {
			return reject(model.CodeMissingField, "required_claim_ids[%d] is not a claim id", i)
		}
		fp, ok := fps[id].(string)
		if !ok || fp == "" {
			return reject(model.CodeLegacyPillarsArtifact, "no fingerprint recorded for required claim %s", id)
		}
		required[id] = true
	}

	claimsByPillar := make(map[string]int)
	for i, raw := range doc["proof_enrichment"].([]any) {
		entry, ok := raw.(map[string]any)
		if !ok {
			return reject(model.CodeProofEntryInvalid, "proof_enrichment[%d] is not an object", i)
		}
		pid, _ := entry["pillar_id"].(string)
		if pid == "" {
			return reject(model.CodeProofEntryInvalid, "proof_enrichment[%d].pillar_id missing", i)
		}
		refs, ok := entry["claim_refs"].([]any)
		if !ok {
			return reject(model.CodeProofEntryInvalid, "proof_enrichment[%d].claim_refs must be an array", i)
		}
		for j, r := range refs {
			ref, ok := r.(map[string]any)
			if !ok {
				return reject(model.CodeProofEntryInvalid, "proof_enrichment[%d].claim_refs[%d] is not an object", i, j)
			}
			cid, _ := ref["claim_id"].(string)
			if cid == "" {
				return reject(model.CodeProofEntryInvalid, "proof_enrichment[%d].claim_refs[%d].claim_id missing", i, j)
			}
			if !required[cid] {
				return reject(model.CodeProofEntryInvalid, "claim %s is linked by pillar %s but not required", cid, pid)
			}
			claimsByPillar[pid]++
		}
	}

	seen := make(map[string]bool)
	for i, raw := range doc["pillars"].([]any) {
		p, ok := raw.(map[string]any)
		if !ok {
			return reject(model.CodePillarInvalid, "pillars[%d] is not an object", i)
		}
		if v := validatePillar(p, claimsByPillar); !v.OK {
			v.Reason = fmt.Sprintf("pillars[%d]: %s", i, v.Reason)
			return v
		}
		id := p["id"].(string)
		if seen[id] {
			return reject(model.CodePillarInvalid, "pillars[%d]: duplicate id %s", i, id)
		}
		seen[id] = true
	}
	return accept()
}

func validatePillar(p map[string]any, claimsByPillar map[string]int) Verdict {
	id, _ := p["id"].(string)
	if id == "" {
		return reject(model.CodePillarInvalid, "id missing")
	}
	if title, _ := p["title"].(string); title == "" {
		return reject(model.CodePillarInvalid, "title missing")
	}

	refs, ok := p["source_refs"].([]any)
	if !ok || len(refs) == 0 {
		return reject(model.CodePillarInvalid, "source_refs must be a non-empty array")
	}
	for j, r := range refs {
		ref, ok := r.(map[string]any)
		if !ok {
			return reject(model.CodePillarInvalid, "source_refs[%d] is not an object", j)
		}
		if s, _ := ref["pillar_id"].(string); s == "" {
			return reject(model.CodePillarInvalid, "source_refs[%d].pillar_id missing", j)
		}
		if s, _ := ref["type"].(string); s == "" {
			return reject(model.CodePillarInvalid, "source_refs[%d].type missing", j)
		}
	}

	claims, ok := p["claims"].(map[string]any)
	if !ok {
		return reject(model.CodePillarInvalid, "claims must be an object")
	}
	for _, field := range []string{"value_prop", "why_it_matters", "constraints"} {
		if _, ok := claims[field].(string); !ok {
			return reject(model.CodePillarInvalid, "claims.%s must be a string", field)
		}
	}

	switch mode, _ := p["mode"].(string); model.PillarMode(mode) {
	case model.ModeAssertable:
		if claimsByPillar[id] == 0 {
			return reject(model.CodeAssertableWithoutClaims, "assertable pillar %s has no linked claims", id)
		}
	case model.ModeFraming:
	default:
		return reject(model.CodePillarInvalid, "mode %q is neither assertable nor framing", mode)
	}
	return accept()
}

// ValidateOutline checks a generated outline object against the fixed
// outline shape: named sections holding short strings and id arrays only
func ValidateOutline(doc map[string]any, maxChars int) Verdict {
	sections, ok := doc["sections"].(map[string]any)
	if !ok {
		return reject(model.CodeGenerationMalformed, "sections must be an object")
	}
	for name := range sections {
		if !isSectionName(name) {
			return reject(model.CodeGenerationMalformed, "unknown section %q", name)
		}
	}
	for _, name := range model.OutlineSectionNames {
		raw, ok := sections[name]
		if !ok {
			return reject(model.CodeGenerationMalformed, "section %s missing", name)
		}
		sec, ok := raw.(map[string]any)
		if !ok {
			return reject(model.CodeGenerationMalformed, "section %s is not an object", name)
		}
		if v := validateSection(name, sec, maxChars); !v.OK {
			return v
		}
	}
	return accept()
}

func validateSection(name string, sec map[string]any, maxChars int) Verdict {
	for key := range sec {
		switch key {
		case "headline", "key_points", "pillar_ids", "claim_ids":
		default:
			return reject(model.CodeGenerationMalformed, "section %s: field %q is not permitted", name, key)
		}
	}

	headline, ok := sec["headline"].(string)
	if !ok || headline == "" {
		return reject(model.CodeGenerationMalformed, "section %s: headline missing", name)
	}
	if maxChars > 0 && utf8.RuneCountInString(headline) > maxChars {
		return reject(model.CodeGenerationMalformed, "section %s: headline longer than %d characters", name, maxChars)
	}

	for _, field := range []string{"key_points", "pillar_ids", "claim_ids"} {
		items, ok := sec[field].([]any)
		if !ok {
			return reject(model.CodeGenerationMalformed, "section %s: %s must be an array", name, field)
		}
		for i, it := range items {
			s, ok := it.(string)
			if !ok {
				return reject(model.CodeGenerationMalformed, "section %s: %s[%d] is not a string", name, field, i)
			}
			if maxChars > 0 && utf8.RuneCountInString(s) > maxChars {
				return reject(model.CodeGenerationMalformed, "section %s: %s[%d] longer than %d characters", name, field, i, maxChars)
			}
		}
	}
	return accept()
}

func isSectionName(name string) bool {
	for _, n := range model.OutlineSectionNames {
		if n == name {
			return true
		}
	}
	return false
}
