// Package pillars synthesizes the locked content pillars artifact.
//
// Synthesis is rule based: no generative model is involved, so identical
// registry and evidence snapshots always produce a byte-identical artifact.
// Every assertable pillar is linked to at least one claim, and the union of
// linked claims becomes the required claim allow-list every later stage
// must honour.
package pillars

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/provenance"
)

// Input is the snapshot a synthesis runs against
type Input struct {
	Registry *model.Registry
	Evidence model.EvidenceSet
	Supplier string
	Industry string
}

// Synthesizer builds content pillars from a registry and evidence
type Synthesizer struct {
	gate   model.GateConfig
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer with the given gating limits
func NewSynthesizer(gate model.GateConfig, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := model.DefaultGateConfig()
	if gate.MaxPillars <= 0 {
		gate.MaxPillars = defaults.MaxPillars
	}
	if gate.MaxClaimsPerPillar <= 0 {
		gate.MaxClaimsPerPillar = defaults.MaxClaimsPerPillar
	}
	if gate.MinTokenLength <= 0 {
		gate.MinTokenLength = defaults.MinTokenLength
	}
	return &Synthesizer{gate: gate, logger: logger}
}

// candidate is a pillar before mode decision and id assignment
type candidate struct {
	title        string
	primary      model.RegistryEntry
	paired       *model.RegistryEntry
	declaredMode model.PillarMode
	tokens       TokenSet
}

// indexedClaim is a claim with its precomputed tokens
type indexedClaim struct {
	claim  model.Claim
	tokens TokenSet
}

// match is a scored claim for one candidate
type match struct {
	claim   model.Claim
	overlap int
}

// Synthesize builds the artifact or returns a permanent *model.StageError.
// No partial artifact is ever returned.
func (s *Synthesizer) Synthesize(in Input) (*model.ContentPillars, error) {
	if in.Registry == nil {
		return nil, model.Failf(model.CodeRegistryMissing, "no provenance registry")
	}

	evidenceHash, err := hashing.EvidenceHash(in.Evidence.Claims)
	if err != nil {
		return nil, fmt.Errorf("hash evidence: %w", err)
	}

	claims := s.indexClaims(in.Evidence.Claims)
	candidates := s.candidates(in.Registry)

	var (
		pillars []model.Pillar
		proofs  []model.ProofEntry
		seen    = make(map[string]bool)
	)
	for _, c := range candidates {
		if len(pillars) >= s.gate.MaxPillars {
			break
		}
		if hashing.Normalize(c.title) == "" {
			continue
		}

		matches := s.topClaims(c.tokens, claims)
		mode := model.ModeFraming
		switch {
		case c.declaredMode == model.ModeFraming:
			matches = nil
		case len(matches) > 0:
			mode = model.ModeAssertable
		case c.declaredMode == model.ModeAssertable:
			se := model.Failf(model.CodeAssertableWithoutClaims,
				"content seed %q is declared assertable but no claim supports it", c.title)
			se.IDs = []string{c.primary.PillarID}
			return nil, se
		}

		// Titles are unique as emitted; framing titles lose their figures first
		shown := c.title
		if mode == model.ModeFraming {
			shown = StripFigures(shown)
		}
		key := hashing.Normalize(shown)
		if key == "" || seen[key] {
			s.logger.Debug("candidate skipped", zap.String("title", c.title), zap.String("mode", string(mode)))
			continue
		}
		seen[key] = true

		p, err := s.buildPillar(c, mode, matches)
		if err != nil {
			return nil, err
		}
		pillars = append(pillars, p)

		if mode == model.ModeAssertable {
			entry := model.ProofEntry{PillarID: p.ID}
			for _, m := range matches {
				entry.ClaimRefs = append(entry.ClaimRefs, model.ClaimRef{ClaimID: m.claim.ClaimID, TierGroup: m.claim.TierGroup})
			}
			proofs = append(proofs, entry)
		}
	}

	sort.Slice(pillars, func(i, j int) bool { return pillars[i].ID < pillars[j].ID })
	sort.Slice(proofs, func(i, j int) bool { return proofs[i].PillarID < proofs[j].PillarID })

	if err := CheckAssertable(pillars, proofs); err != nil {
		return nil, err
	}

	required := RequiredClaimIDs(proofs)
	if len(required) == 0 {
		return nil, model.Failf(model.CodeNoRequiredClaims,
			"no pillar is backed by evidence (%d pillars, %d claims)", len(pillars), len(in.Evidence.Claims))
	}

	index := in.Evidence.Index()
	fingerprints := make(map[string]string, len(required))
	var missing []string
	for _, id := range required {
		c, ok := index[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		fingerprints[id] = hashing.SemanticClaimFingerprint(c)
	}
	if len(missing) > 0 {
		se := model.Failf(model.CodeRequiredClaimNotFound, "%d required claims not found in evidence", len(missing))
		se.IDs = model.CapIDs(missing, s.gate.ReportedIDCap)
		return nil, se
	}

	supplier, industry := in.Supplier, in.Industry
	if supplier == "" {
		supplier = in.Registry.Supplier
	}
	if industry == "" {
		industry = in.Registry.Industry
	}

	out := &model.ContentPillars{
		Schema:                    model.ContentPillarsSchema,
		Supplier:                  supplier,
		Industry:                  industry,
		Pillars:                   pillars,
		ProofEnrichment:           proofs,
		RequiredClaimIDs:          required,
		RequiredClaimFingerprints: fingerprints,
		Inputs: model.SynthesisInputs{
			EvidenceHash: evidenceHash,
			SourceHash:   in.Registry.Hash,
		},
	}

	s.logger.Debug("pillars synthesized",
		zap.Int("candidates", len(candidates)),
		zap.Int("pillars", len(pillars)),
		zap.Int("required_claims", len(required)))
	return out, nil
}

// indexClaims tokenizes title, summary and quote of every claim
func (s *Synthesizer) indexClaims(claims []model.Claim) []indexedClaim {
	out := make([]indexedClaim, 0, len(claims))
	for _, c := range claims {
		if c.ClaimID == "" {
			continue
		}
		out = append(out, indexedClaim{
			claim:  c,
			tokens: Tokenize(c.Title+" "+c.Summary+" "+c.Quote, s.gate.MinTokenLength),
		})
	}
	return out
}

// candidates lists content seeds first, then supplier entries paired with
// their best-overlap industry entry
func (s *Synthesizer) candidates(reg *model.Registry) []candidate {
	var out []candidate

	for _, e := range provenance.EntriesByKind(reg, model.SourceKindContentSeed) {
		out = append(out, candidate{
			title:        e.Title,
			primary:      e,
			declaredMode: e.Mode,
			tokens:       s.entryTokens(e),
		})
	}

	industries := provenance.EntriesByKind(reg, model.SourceKindIndustry)
	industryTokens := make([]TokenSet, len(industries))
	for i, e := range industries {
		industryTokens[i] = s.entryTokens(e)
	}

	for _, e := range provenance.EntriesByKind(reg, model.SourceKindSupplier) {
		c := candidate{title: e.Title, primary: e, declaredMode: e.Mode, tokens: s.entryTokens(e)}

		best, bestOverlap := -1, 0
		for i := range industries {
			// Industries are in path order, so a strict comparison keeps the lowest path on ties.
			if n := c.tokens.Overlap(industryTokens[i]); n > bestOverlap {
				best, bestOverlap = i, n
			}
		}
		if best >= 0 {
			paired := industries[best]
			c.paired = &paired
			c.tokens = c.tokens.Union(industryTokens[best])
		}
		out = append(out, c)
	}
	return out
}

func (s *Synthesizer) entryTokens(e model.RegistryEntry) TokenSet {
	return Tokenize(e.Title+" "+e.Body+" "+strings.Join(e.Tags, " "), s.gate.MinTokenLength)
}

// tierRank orders tiers strongest first; a missing tier ranks last
func tierRank(tier int) int {
	if tier <= 0 {
		return math.MaxInt
	}
	return tier
}

// topClaims ranks claims by overlap, then stronger tier, then claim_id
func (s *Synthesizer) topClaims(tokens TokenSet, claims []indexedClaim) []match {
	var matches []match
	for _, c := range claims {
		if n := tokens.Overlap(c.tokens); n > 0 {
			matches = append(matches, match{claim: c.claim, overlap: n})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.overlap != b.overlap {
			return a.overlap > b.overlap
		}
		if ra, rb := tierRank(a.claim.Tier), tierRank(b.claim.Tier); ra != rb {
			return ra < rb
		}
		return a.claim.ClaimID < b.claim.ClaimID
	})
	if len(matches) > s.gate.MaxClaimsPerPillar {
		matches = matches[:s.gate.MaxClaimsPerPillar]
	}
	return matches
}

// pillarIdentity is the hashed basis of a pillar id
type pillarIdentity struct {
	SourceRefs []model.SourceRef `json:"source_refs"`
	Title      string            `json:"title"`
}

func (s *Synthesizer) buildPillar(c candidate, mode model.PillarMode, matches []match) (model.Pillar, error) {
	refs := []model.SourceRef{{Type: c.primary.Type, PillarID: c.primary.PillarID}}
	if c.paired != nil {
		refs = append(refs, model.SourceRef{Type: c.paired.Type, PillarID: c.paired.PillarID})
	}

	title := strings.TrimSpace(c.title)
	valueProp := title
	if c.primary.Body != "" {
		valueProp = title + ": " + c.primary.Body
	}
	why := "Relevant to the buyer's priorities."
	if c.paired != nil {
		why = c.paired.Title
		if c.paired.Body != "" {
			why += ": " + c.paired.Body
		}
	}

	var constraints string
	if mode == model.ModeAssertable {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.claim.ClaimID
		}
		constraints = "State facts only as supported by claims " + strings.Join(ids, ", ") + "."
	} else {
		title = StripFigures(title)
		valueProp = StripFigures(valueProp)
		why = StripFigures(why)
		constraints = "Framing only: no figures, percentages or outcome claims."
	}

	id, err := hashing.ShortID("pillar_", pillarIdentity{SourceRefs: refs, Title: hashing.Normalize(c.title)}, 12)
	if err != nil {
		return model.Pillar{}, fmt.Errorf("derive pillar id: %w", err)
	}

	return model.Pillar{
		ID:         id,
		Title:      title,
		Mode:       mode,
		SourceRefs: refs,
		Claims: model.PillarClaims{
			ValueProp:    valueProp,
			WhyItMatters: why,
			Constraints:  constraints,
		},
	}, nil
}

// CheckAssertable enforces that every assertable pillar has a proof entry
// with at least one claim reference
func CheckAssertable(pillars []model.Pillar, proofs []model.ProofEntry) error {
	linked := make(map[string]int, len(proofs))
	for _, p := range proofs {
		linked[p.PillarID] += len(p.ClaimRefs)
	}
	var bad []string
	for _, p := range pillars {
		if p.Mode == model.ModeAssertable && linked[p.ID] == 0 {
			bad = append(bad, p.ID)
		}
	}
	if len(bad) > 0 {
		se := model.Failf(model.CodeAssertableWithoutClaims, "%d assertable pillars have no linked claims", len(bad))
		se.IDs = bad
		return se
	}
	return nil
}

// RequiredClaimIDs is the sorted, de-duplicated union of all claim refs
func RequiredClaimIDs(proofs []model.ProofEntry) []string {
	set := make(map[string]bool)
	for _, p := range proofs {
		for _, r := range p.ClaimRefs {
			if r.ClaimID != "" {
				set[r.ClaimID] = true
			}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
