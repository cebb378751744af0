package model

import "sort"

// Claim is an atomic, identified evidentiary fact from the evidence store.
// Claims are only ever added to the store; an existing claim_id must keep its meaning.
type Claim struct {
	ClaimID    string   `json:"claim_id"`              // Stable identity
	Title      string   `json:"title"`                 // Short headline of the fact
	Summary    string   `json:"summary,omitempty"`     // One or two sentence restatement
	Quote      string   `json:"quote,omitempty"`       // Verbatim excerpt from the source
	URL        string   `json:"url,omitempty"`         // Where the fact was found
	SourceType string   `json:"source_type,omitempty"` // e.g. "regulator", "analyst", "press"
	Tier       int      `json:"tier"`                  // 1 is strongest; higher numbers are weaker
	TierGroup  string   `json:"tier_group,omitempty"`  // Coarse grouping ("primary", "secondary")
	Value      *float64 `json:"value,omitempty"`       // Optional numeric figure
	Units      string   `json:"units,omitempty"`       // Units of Value

	// Ingestion metadata. Never part of the semantic fingerprint.
	IngestedAt string `json:"ingested_at,omitempty"`
	Publisher  string `json:"publisher,omitempty"`
}

// EvidenceSchema is the schema tag of the evidence store document
const EvidenceSchema = "evidence-v1"

// EvidenceSet is the evidence store snapshot for a run
type EvidenceSet struct {
	Schema string  `json:"schema"`
	Claims []Claim `json:"claims"`
}

// Index returns the claims keyed by claim_id. Later duplicates win, so
// gating code rejects snapshots with DuplicateIDs before indexing.
func (e EvidenceSet) Index() map[string]Claim {
	idx := make(map[string]Claim, len(e.Claims))
	for _, c := range e.Claims {
		idx[c.ClaimID] = c
	}
	return idx
}

// DuplicateIDs returns every claim_id held by more than one claim, sorted
func (e EvidenceSet) DuplicateIDs() []string {
	counts := make(map[string]int, len(e.Claims))
	var dups []string
	for _, c := range e.Claims {
		counts[c.ClaimID]++
		if counts[c.ClaimID] == 2 {
			dups = append(dups, c.ClaimID)
		}
	}
	sort.Strings(dups)
	return dups
}

// ClaimRef links a pillar to a substantiating claim
type ClaimRef struct {
	ClaimID   string `json:"claim_id"`
	TierGroup string `json:"tier_group"`
}
