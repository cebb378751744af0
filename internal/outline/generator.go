package outline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/llm"
	"github.com/ppiankov/provenant/internal/model"
)

// SchemaName names the outline response schema
const SchemaName = "campaign_outline"

const systemPrompt = `You plan B2B marketing campaigns.
Build a campaign outline from the content pillars and the evidence you are given.
Rules:
- Every factual statement must be backed by a claim from the evidence list; cite it by claim_id in the section's claim_ids.
- Use only the claim ids listed in the evidence. Never invent, guess or reuse other ids.
- Framing pillars are thematic: do not attach numbers or outcomes to them.
- Headlines and key points are short phrases, not paragraphs.`

// Request is everything the generator may see for one outline
type Request struct {
	RunID    string
	Supplier string
	Industry string
	Pillars  []model.Pillar
	Visible  []VisibleClaim
	Allowed  []string
}

// Generator asks the generation collaborator for an outline object
type Generator struct {
	llm     llm.Generator
	gate    model.GateConfig
	timeout time.Duration
	logger  *zap.Logger
}

// NewGenerator creates an outline generator
func NewGenerator(gen llm.Generator, gate model.GateConfig, timeout time.Duration, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: gen, gate: gate, timeout: timeout, logger: logger}
}

// Generate returns the raw outline object and the model that produced it.
// Collaborator failures come back as permanent generation_* stage errors.
func (g *Generator) Generate(ctx context.Context, req Request) (map[string]any, string, error) {
	user, err := userPrompt(req)
	if err != nil {
		return nil, "", fmt.Errorf("render outline prompt: %w", err)
	}

	resp, err := g.llm.Generate(ctx, llm.GenerateRequest{
		SchemaName:   SchemaName,
		Schema:       Schema(req.Allowed, g.gate.OutlineStringChars),
		SystemPrompt: systemPrompt,
		UserPrompt:   user,
		Timeout:      g.timeout,
		Validate: func(obj map[string]any) error {
			return ValidateOutline(obj, g.gate.OutlineStringChars).Err()
		},
	})
	if err != nil {
		return nil, "", GenerationFailure("outline", err)
	}

	g.logger.Debug("outline generated",
		zap.String("run_id", req.RunID),
		zap.String("model", resp.Model),
		zap.String("format", string(resp.Format)),
		zap.Int("attempts", resp.Attempts))
	return resp.Object, resp.Model, nil
}

// GenerationFailure maps a generation error for the named artifact to a
// fail-closed stage error
func GenerationFailure(what string, err error) error {
	// Shutdown is not a collaborator verdict; leave the message for redelivery.
	if errors.Is(err, context.Canceled) {
		return err
	}
	code := model.CodeGenerationUnavailable
	switch {
	case errors.Is(err, llm.ErrTimeout):
		code = model.CodeGenerationTimeout
	case errors.Is(err, llm.ErrMalformedResponse):
		code = model.CodeGenerationMalformed
	}
	return &model.StageError{Code: code, Message: what + " generation failed", Permanent: true, Err: err}
}

// Schema is the response schema of the outline. Sections carry short strings
// and id arrays only; claim ids are limited to the allow-list.
func Schema(allowed []string, maxChars int) map[string]any {
	str := map[string]any{"type": "string"}
	if maxChars > 0 {
		str["maxLength"] = maxChars
	}
	claimID := map[string]any{"type": "string"}
	if len(allowed) > 0 {
		enum := make([]any, len(allowed))
		for i, id := range allowed {
			enum[i] = id
		}
		claimID["enum"] = enum
	}

	section := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"headline", "key_points", "pillar_ids", "claim_ids"},
		"properties": map[string]any{
			"headline":   str,
			"key_points": map[string]any{"type": "array", "items": str},
			"pillar_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"claim_ids":  map[string]any{"type": "array", "items": claimID},
		},
	}

	props := make(map[string]any, len(model.OutlineSectionNames))
	names := make([]any, len(model.OutlineSectionNames))
	for i, name := range model.OutlineSectionNames {
		props[name] = section
		names[i] = name
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"sections"},
		"properties": map[string]any{
			"sections": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             names,
				"properties":           props,
			},
		},
	}
}

type pillarSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Mode       string `json:"mode"`
	ValueProp  string `json:"value_prop"`
	WhyMatters string `json:"why_it_matters"`
}

func userPrompt(req Request) (string, error) {
	pillars := make([]pillarSummary, 0, len(req.Pillars))
	for _, p := range req.Pillars {
		pillars = append(pillars, pillarSummary{
			ID:         p.ID,
			Title:      p.Title,
			Mode:       string(p.Mode),
			ValueProp:  p.Claims.ValueProp,
			WhyMatters: p.Claims.WhyItMatters,
		})
	}
	pj, err := json.MarshalIndent(pillars, "", "  ")
	if err != nil {
		return "", err
	}
	ej, err := json.MarshalIndent(req.Visible, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Supplier: %s\nIndustry: %s\n\n", orUnknown(req.Supplier), orUnknown(req.Industry))
	fmt.Fprintf(&b, "Content pillars:\n%s\n\n", pj)
	fmt.Fprintf(&b, "Evidence (the only claims you may cite):\n%s\n\n", ej)
	fmt.Fprintf(&b, "Write the sections %s.", strings.Join(model.OutlineSectionNames, ", "))
	return b.String(), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}
