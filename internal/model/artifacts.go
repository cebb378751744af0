package model

import "time"

// Artifact schema tags
const (
	RegistrySchema       = "provenance-registry-v1"
	ContentPillarsSchema = "content-pillars-v2"
	OutlineSchema        = "campaign-outline-v1"
	InventorySchema      = "evidence-inventory-v1"
	SectionsSchema       = "campaign-sections-v1"
	CampaignSchema       = "campaign-v1"

	RegeneratedSectionSchema = "regenerated-section-v1"
)

// RegistryEntry is one ingested source bullet or heading
type RegistryEntry struct {
	PillarID    string     `json:"pillar_id"`
	Type        SourceKind `json:"type"`
	Category    string     `json:"category"`
	Path        string     `json:"path"`
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Mode        PillarMode `json:"mode,omitempty"`
	Declared    bool       `json:"declared,omitempty"`
	ContentHash string     `json:"content_hash"`
}

// DuplicateWarning records a repeated pillar_id found during ingestion
type DuplicateWarning struct {
	PillarID  string `json:"pillar_id"`
	Path      string `json:"path"`
	FirstPath string `json:"first_path"`
}

// Registry is the content-addressed provenance registry
type Registry struct {
	Schema   string                   `json:"schema"`
	Supplier string                   `json:"supplier,omitempty"`
	Industry string                   `json:"industry,omitempty"`
	Entries  map[string]RegistryEntry `json:"entries"`
	Hash     string                   `json:"hash"`
	Warnings []DuplicateWarning       `json:"warnings,omitempty"`
}

// PillarMode is either assertable (backed by claims) or framing (thematic only)
type PillarMode string

const (
	ModeAssertable PillarMode = "assertable"
	ModeFraming    PillarMode = "framing"
)

// SourceRef points from a pillar into the provenance registry
type SourceRef struct {
	Type     SourceKind `json:"type"`
	PillarID string     `json:"pillar_id"`
}

// PillarClaims is the messaging payload of a pillar
type PillarClaims struct {
	ValueProp    string `json:"value_prop"`
	WhyItMatters string `json:"why_it_matters"`
	Constraints  string `json:"constraints"`
}

// Pillar is a synthesized content theme
type Pillar struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Mode       PillarMode   `json:"mode"`
	SourceRefs []SourceRef  `json:"source_refs"`
	Claims     PillarClaims `json:"claims"`
}

// ProofEntry links a pillar to the claims that substantiate it
type ProofEntry struct {
	PillarID  string     `json:"pillar_id"`
	ClaimRefs []ClaimRef `json:"claim_refs"`
}

// SynthesisInputs identifies the snapshot a pillars artifact was derived from
type SynthesisInputs struct {
	EvidenceHash string `json:"evidence_hash"`
	SourceHash   string `json:"source_hash"`
}

// ContentPillars is the locked pillars artifact (content-pillars-v2)
type ContentPillars struct {
	Schema                    string            `json:"schema"`
	Supplier                  string            `json:"supplier,omitempty"`
	Industry                  string            `json:"industry,omitempty"`
	Pillars                   []Pillar          `json:"pillars"`
	ProofEnrichment           []ProofEntry      `json:"proof_enrichment"`
	RequiredClaimIDs          []string          `json:"required_claim_ids"`
	RequiredClaimFingerprints map[string]string `json:"required_claim_fingerprints"`
	Inputs                    SynthesisInputs   `json:"inputs"`
}

// OutlineSection is one named section of the outline. Only short strings and ids.
type OutlineSection struct {
	Headline  string   `json:"headline"`
	KeyPoints []string `json:"key_points"`
	PillarIDs []string `json:"pillar_ids"`
	ClaimIDs  []string `json:"claim_ids"`
}

// OutlineSectionNames are the fixed section names of the outline schema
var OutlineSectionNames = []string{"executive_summary", "landing_page", "emails", "sales_enablement"}

// Outline is the claim-gated outline artifact
type Outline struct {
	Schema        string                    `json:"schema"`
	PillarsHash   string                    `json:"pillars_hash"`
	Sections      map[string]OutlineSection `json:"sections"`
	AllowedClaims int                       `json:"allowed_claims"`
	VisibleClaims int                       `json:"visible_claims"`
	Model         string                    `json:"model,omitempty"`
}

// InventoryItem is the minimal metadata of a claim in the debug inventory
type InventoryItem struct {
	ClaimID   string `json:"claim_id"`
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	Tier      int    `json:"tier"`
	TierGroup string `json:"tier_group,omitempty"`
	Allowed   bool   `json:"allowed"`
}

// Inventory lists every claim in the evidence snapshot for human inspection
type Inventory struct {
	Schema string          `json:"schema"`
	Total  int             `json:"total"`
	Claims []InventoryItem `json:"claims"`
}

// Section is generated prose for one outline section
type Section struct {
	Name     string   `json:"name"`
	Headline string   `json:"headline"`
	Body     string   `json:"body"`
	ClaimIDs []string `json:"claim_ids"`
}

// Tones a regenerated section may be written in. ToneMatch keeps the voice
// of the original campaign.
const (
	ToneMatch        = "match"
	ToneProfessional = "professional"
	ToneWarm         = "warm"
)

// ValidTone reports whether tone is empty or one of the known tones
func ValidTone(tone string) bool {
	switch tone {
	case "", ToneMatch, ToneProfessional, ToneWarm:
		return true
	}
	return false
}

// RegeneratedSection is one section rewritten after the run completed.
// The assembled campaign is never modified; exports overlay these.
type RegeneratedSection struct {
	Schema      string    `json:"schema"`
	RunID       string    `json:"run_id"`
	Tone        string    `json:"tone,omitempty"`
	OutlineHash string    `json:"outline_hash"`
	Section     Section   `json:"section"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Sections is the SectionWrites artifact
type Sections struct {
	Schema      string    `json:"schema"`
	OutlineHash string    `json:"outline_hash"`
	Sections    []Section `json:"sections"`
}

// Campaign is the assembled final document
type Campaign struct {
	Schema       string          `json:"schema"`
	RunID        string          `json:"run_id"`
	Supplier     string          `json:"supplier,omitempty"`
	Industry     string          `json:"industry,omitempty"`
	Sections     []Section       `json:"sections"`
	EvidenceLog  []InventoryItem `json:"evidence_log"`
	Support      *Support        `json:"support,omitempty"`
	SectionsHash string          `json:"sections_hash"`
}
