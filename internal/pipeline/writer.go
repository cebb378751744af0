package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/llm"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/outline"
)

// SectionSchemaName names the section response schema
const SectionSchemaName = "campaign_section"

// bodyChars caps the generated body of one section
const bodyChars = 2400

const sectionSystemPrompt = `You write one section of a B2B marketing campaign.
Expand the outline section you are given into a headline and a short body.
Rules:
- Every factual statement must be backed by a claim from the evidence list; cite it by claim_id in claim_ids.
- Use only the claim ids listed in the evidence. Never invent, guess or reuse other ids.
- Do not mention claim ids in the headline or body.
- Keep the body under 250 words.`

// SectionRequest is everything the writer may see for one section
type SectionRequest struct {
	RunID    string
	Name     string
	Supplier string
	Industry string
	Outline  model.OutlineSection
	Pillars  []model.Pillar
	Visible  []outline.VisibleClaim
	Allowed  []string
	Tone     string
}

// SectionWriter turns one outline section into prose
type SectionWriter struct {
	llm     llm.Generator
	gate    model.GateConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewSectionWriter creates a section writer
func NewSectionWriter(gen llm.Generator, gate model.GateConfig, timeout time.Duration, logger *zap.Logger) *SectionWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionWriter{llm: gen, gate: gate, timeout: timeout, logger: logger}
}

// Write returns the raw section object. Collaborator failures come back as
// permanent generation_* stage errors.
func (w *SectionWriter) Write(ctx context.Context, req SectionRequest) (map[string]any, error) {
	user, err := sectionPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("render section prompt: %w", err)
	}

	resp, err := w.llm.Generate(ctx, llm.GenerateRequest{
		SchemaName:   SectionSchemaName,
		Schema:       SectionSchema(req.Allowed, w.gate.OutlineStringChars),
		SystemPrompt: sectionSystemPrompt,
		UserPrompt:   user,
		Timeout:      w.timeout,
		Validate: func(obj map[string]any) error {
			_, err := decodeSection(req.Name, obj, w.gate.OutlineStringChars)
			return err
		},
	})
	if err != nil {
		return nil, outline.GenerationFailure("section "+req.Name, err)
	}

	w.logger.Debug("section generated",
		zap.String("run_id", req.RunID),
		zap.String("section", req.Name),
		zap.String("model", resp.Model),
		zap.Int("attempts", resp.Attempts))
	return resp.Object, nil
}

// Compose writes one section from its outline entry and checks the result
// against guard. The section may cite what its outline entry cites, within
// the pillars' allow-list.
func (w *SectionWriter) Compose(ctx context.Context, runID, name, tone string, sec model.OutlineSection, cp *model.ContentPillars, evidence model.EvidenceSet, guard *outline.Guardrail) (model.Section, error) {
	permitted := make(map[string]bool, len(cp.RequiredClaimIDs))
	for _, id := range cp.RequiredClaimIDs {
		permitted[id] = true
	}
	var cite []string
	for _, id := range sec.ClaimIDs {
		if permitted[id] {
			cite = append(cite, id)
		}
	}

	visible, err := outline.BuildVisibleSlice(cite, evidence, w.gate)
	if err != nil {
		return model.Section{}, err
	}

	obj, err := w.Write(ctx, SectionRequest{
		RunID:    runID,
		Name:     name,
		Supplier: cp.Supplier,
		Industry: cp.Industry,
		Outline:  sec,
		Pillars:  cp.Pillars,
		Visible:  visible,
		Allowed:  cite,
		Tone:     tone,
	})
	if err != nil {
		return model.Section{}, err
	}
	if err := guard.Check(obj, w.gate.ReportedIDCap); err != nil {
		return model.Section{}, err
	}
	return decodeSection(name, obj, w.gate.OutlineStringChars)
}

// SectionSchema is the response schema of one section
func SectionSchema(allowed []string, headlineChars int) map[string]any {
	headline := map[string]any{"type": "string"}
	if headlineChars > 0 {
		headline["maxLength"] = headlineChars
	}
	claimIDs := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	if len(allowed) > 0 {
		enum := make([]any, len(allowed))
		for i, id := range allowed {
			enum[i] = id
		}
		claimIDs["items"] = map[string]any{"type": "string", "enum": enum}
	} else {
		claimIDs["maxItems"] = 0
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"headline", "body", "claim_ids"},
		"properties": map[string]any{
			"headline":  headline,
			"body":      map[string]any{"type": "string", "maxLength": bodyChars},
			"claim_ids": claimIDs,
		},
	}
}

// decodeSection checks the shape of a generated section and converts it
func decodeSection(name string, obj map[string]any, headlineChars int) (model.Section, error) {
	sec := model.Section{Name: name, ClaimIDs: []string{}}

	headline, ok := obj["headline"].(string)
	if !ok || strings.TrimSpace(headline) == "" {
		return sec, model.Failf(model.CodeGenerationMalformed, "section %s: headline must be a non-empty string", name)
	}
	if headlineChars > 0 && utf8.RuneCountInString(headline) > headlineChars {
		return sec, model.Failf(model.CodeGenerationMalformed, "section %s: headline longer than %d characters", name, headlineChars)
	}
	body, ok := obj["body"].(string)
	if !ok || strings.TrimSpace(body) == "" {
		return sec, model.Failf(model.CodeGenerationMalformed, "section %s: body must be a non-empty string", name)
	}
	if utf8.RuneCountInString(body) > bodyChars {
		return sec, model.Failf(model.CodeGenerationMalformed, "section %s: body longer than %d characters", name, bodyChars)
	}
	ids, ok := obj["claim_ids"].([]any)
	if !ok {
		return sec, model.Failf(model.CodeGenerationMalformed, "section %s: claim_ids must be an array", name)
	}
	for _, v := range ids {
		id, ok := v.(string)
		if !ok {
			return sec, model.Failf(model.CodeGenerationMalformed, "section %s: claim_ids must hold strings", name)
		}
		sec.ClaimIDs = append(sec.ClaimIDs, id)
	}
	for key := range obj {
		switch key {
		case "headline", "body", "claim_ids":
		default:
			return sec, model.Failf(model.CodeGenerationMalformed, "section %s: unexpected field %q", name, key)
		}
	}

	sec.Headline = strings.TrimSpace(headline)
	sec.Body = strings.TrimSpace(body)
	return sec, nil
}

func sectionPrompt(req SectionRequest) (string, error) {
	oj, err := json.MarshalIndent(req.Outline, "", "  ")
	if err != nil {
		return "", err
	}
	ej, err := json.MarshalIndent(req.Visible, "", "  ")
	if err != nil {
		return "", err
	}

	var themes []string
	wanted := make(map[string]bool, len(req.Outline.PillarIDs))
	for _, id := range req.Outline.PillarIDs {
		wanted[id] = true
	}
	for _, p := range req.Pillars {
		if wanted[p.ID] {
			themes = append(themes, fmt.Sprintf("- %s (%s): %s", p.Title, p.Mode, p.Claims.ValueProp))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Supplier: %s\nIndustry: %s\n", orUnspecified(req.Supplier), orUnspecified(req.Industry))
	fmt.Fprintf(&b, "Section: %s\n", req.Name)
	switch req.Tone {
	case "":
	case model.ToneMatch:
		b.WriteString("Tone: match the voice of the outline\n")
	default:
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Outline:\n%s\n\n", oj)
	if len(themes) > 0 {
		fmt.Fprintf(&b, "Pillars:\n%s\n\n", strings.Join(themes, "\n"))
	}
	fmt.Fprintf(&b, "Evidence (the only claims you may cite):\n%s\n", ej)
	return b.String(), nil
}

func orUnspecified(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}
