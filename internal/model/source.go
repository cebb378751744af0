package model

import "strings"

// SourceBundleSchema is the schema tag of submitted source material
const SourceBundleSchema = "source-bundle-v1"

// SourceKind classifies a category of source material
type SourceKind string

const (
	SourceKindContentSeed SourceKind = "content_seed" // Pre-seeded themes, considered first
	SourceKindSupplier    SourceKind = "supplier"     // Supplier capabilities and strengths
	SourceKindIndustry    SourceKind = "industry"     // Industry risks, trends and pains
	SourceKindOther       SourceKind = "other"
)

// SourceBundle is the structured source material of a run
type SourceBundle struct {
	Schema     string           `json:"schema" yaml:"schema"`
	Supplier   string           `json:"supplier,omitempty" yaml:"supplier,omitempty"`
	Industry   string           `json:"industry,omitempty" yaml:"industry,omitempty"`
	Categories []SourceCategory `json:"categories" yaml:"categories"`
}

// SourceCategory groups bullets and headings, e.g. "supplier strengths"
type SourceCategory struct {
	Name  string       `json:"name" yaml:"name"`
	Kind  SourceKind   `json:"kind" yaml:"kind"`
	Items []SourceItem `json:"items" yaml:"items"`
}

// SourceItem is one bullet or heading. ID or Key, when declared, is used verbatim as the pillar_id.
type SourceItem struct {
	ID       string       `json:"id,omitempty" yaml:"id,omitempty"`
	Key      string       `json:"key,omitempty" yaml:"key,omitempty"`
	Title    string       `json:"title" yaml:"title"`
	Body     string       `json:"body,omitempty" yaml:"body,omitempty"`
	Tags     []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	Mode     PillarMode   `json:"mode,omitempty" yaml:"mode,omitempty"` // Declared mode for content seeds
	Children []SourceItem `json:"children,omitempty" yaml:"children,omitempty"`
}

// InferKind guesses the kind of a category from its name
func InferKind(name string) SourceKind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "seed"):
		return SourceKindContentSeed
	case strings.Contains(lower, "supplier"), strings.Contains(lower, "capabilit"), strings.Contains(lower, "strength"):
		return SourceKindSupplier
	case strings.Contains(lower, "industry"), strings.Contains(lower, "market"), strings.Contains(lower, "risk"):
		return SourceKindIndustry
	default:
		return SourceKindOther
	}
}

// Valid reports whether k is a known kind
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindContentSeed, SourceKindSupplier, SourceKindIndustry, SourceKindOther:
		return true
	}
	return false
}
