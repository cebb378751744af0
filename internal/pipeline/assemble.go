package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/outline"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
	"github.com/ppiankov/provenant/internal/score"
)

// Final artifact paths relative to a run prefix
const (
	CampaignPath         = "final/campaign.json"
	CampaignMarkdownPath = "final/campaign.md"
)

// AssembleHandler runs the Assemble stage
type AssembleHandler struct {
	stageBase
	gate   model.GateConfig
	scorer *score.Scorer
}

// NewAssembleHandler creates the Assemble stage handler
func NewAssembleHandler(objects objstore.Store, status *runstate.Store, gate model.GateConfig, handoff queue.Handoff, logger *zap.Logger) *AssembleHandler {
	return &AssembleHandler{
		stageBase: newStageBase(model.StageAssemble, objects, status, handoff, logger),
		gate:      gate,
		scorer:    score.NewScorer(),
	}
}

// Handle writes the final campaign document
func (h *AssembleHandler) Handle(ctx context.Context, msg queue.Message) error {
	return h.run(ctx, msg, h.handle)
}

func (h *AssembleHandler) handle(ctx context.Context, msg queue.Message, log *zap.Logger) error {
	st, err := h.begin(ctx, msg, log)
	if st == nil {
		return err
	}
	if done, err := h.resume(ctx, st, msg, CampaignPath, model.CampaignSchema, log); done {
		return err
	}

	sections, err := objstore.Load[model.Sections](ctx, h.objects, objstore.Join(msg.Prefix, SectionsPath))
	switch {
	case objstore.IsNotFound(err):
		return model.Failf(model.CodeSectionsMissing, "no sections at %s", SectionsPath)
	case objstore.IsMalformed(err):
		return model.Failf(model.CodeSchemaMismatch, "sections unreadable: %v", err)
	case err != nil:
		return err
	}
	if sections.Schema != model.SectionsSchema {
		return model.Failf(model.CodeSchemaMismatch, "sections schema %q, want %q", sections.Schema, model.SectionsSchema)
	}

	cp, err := loadPillars(ctx, h.objects, msg.Prefix, pillars.ArtifactPath)
	if err != nil {
		return err
	}
	evidence, err := pillars.LoadEvidence(ctx, h.objects, msg.Prefix)
	if err != nil {
		return err
	}
	if err := pillars.CheckUniqueIDs(evidence, h.gate.ReportedIDCap); err != nil {
		return err
	}
	allowed := cp.RequiredClaimIDs
	if err := outline.NewGuardrail(allowed, evidence).Check(sections.Sections, h.gate.ReportedIDCap); err != nil {
		return err
	}

	sectionsHash, err := hashing.ContentHash(sections)
	if err != nil {
		return fmt.Errorf("hash sections: %w", err)
	}
	evidenceLog := EvidenceLog(sections.Sections, evidence, allowed)
	support := h.scorer.Calculate(sections.Sections, evidenceLog)
	campaign := &model.Campaign{
		Schema:       model.CampaignSchema,
		RunID:        msg.RunID,
		Supplier:     cp.Supplier,
		Industry:     cp.Industry,
		Sections:     sections.Sections,
		EvidenceLog:  evidenceLog,
		Support:      &support,
		SectionsHash: sectionsHash,
	}

	if err := objstore.PutJSON(ctx, h.objects, objstore.Join(msg.Prefix, CampaignPath), campaign); err != nil {
		return err
	}
	if err := objstore.PutText(ctx, h.objects, objstore.Join(msg.Prefix, CampaignMarkdownPath), RenderMarkdown(campaign)); err != nil {
		return err
	}
	campaignHash, err := hashing.ContentHash(campaign)
	if err != nil {
		return fmt.Errorf("hash campaign: %w", err)
	}

	if _, err := h.status.SetMarkers(ctx, msg.Prefix, map[string]any{
		model.MarkerAssembleDone: true,
		model.MarkerCampaignHash: campaignHash,
		model.MarkerSupportIndex: strconv.Itoa(support.Index),
	}, string(model.StageAssemble), fmt.Sprintf("campaign of %d sections citing %d claims", len(campaign.Sections), len(campaign.EvidenceLog))); err != nil {
		return err
	}

	log.Info("stage finished",
		zap.Int("sections", len(campaign.Sections)),
		zap.Int("evidence_log", len(campaign.EvidenceLog)),
		zap.Int("support_index", support.Index),
		zap.String("campaign_hash", campaignHash))
	return h.handoff.Finished(ctx, msg.RunID, msg.Prefix, model.StageAssemble)
}

// EvidenceLog lists the claims cited by sections, restricted to the
// allow-list and sorted by claim id
func EvidenceLog(sections []model.Section, evidence model.EvidenceSet, allowed []string) []model.InventoryItem {
	permitted := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		permitted[id] = true
	}
	cited := make(map[string]bool)
	for _, s := range sections {
		for _, id := range s.ClaimIDs {
			if permitted[id] {
				cited[id] = true
			}
		}
	}

	index := evidence.Index()
	items := make([]model.InventoryItem, 0, len(cited))
	for id := range cited {
		c, ok := index[id]
		if !ok {
			continue
		}
		items = append(items, model.InventoryItem{
			ClaimID:   c.ClaimID,
			Title:     c.Title,
			URL:       c.URL,
			Tier:      c.Tier,
			TierGroup: c.TierGroup,
			Allowed:   true,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ClaimID < items[j].ClaimID })
	return items
}

// RenderMarkdown renders the campaign as a markdown document with an
// evidence appendix
func RenderMarkdown(c *model.Campaign) string {
	var b strings.Builder

	title := "Campaign"
	if c.Supplier != "" {
		title = c.Supplier + " campaign"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if c.Industry != "" {
		fmt.Fprintf(&b, "**Industry:** %s\n\n", c.Industry)
	}
	fmt.Fprintf(&b, "Run `%s`\n\n", c.RunID)
	if c.Support != nil {
		fmt.Fprintf(&b, "**Support index:** %d/100 (%s confidence)\n\n", c.Support.Index, c.Support.Confidence)
	}

	refs := make(map[string]int, len(c.EvidenceLog))
	for i, item := range c.EvidenceLog {
		refs[item.ClaimID] = i + 1
	}

	for _, s := range c.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sectionTitle(s.Name))
		fmt.Fprintf(&b, "### %s\n\n", s.Headline)
		b.WriteString(s.Body)
		b.WriteString("\n")

		var marks []string
		for _, id := range s.ClaimIDs {
			if n, ok := refs[id]; ok {
				marks = append(marks, fmt.Sprintf("[%d]", n))
			}
		}
		if len(marks) > 0 {
			fmt.Fprintf(&b, "\nSources: %s\n", strings.Join(marks, " "))
		}
		b.WriteString("\n")
	}

	if len(c.EvidenceLog) > 0 {
		b.WriteString("---\n\n## Evidence\n\n")
		for i, item := range c.EvidenceLog {
			line := fmt.Sprintf("%d. %s (tier %d)", i+1, item.Title, item.Tier)
			if item.URL != "" {
				line += " " + item.URL
			}
			fmt.Fprintf(&b, "%s\n", line)
		}
	}

	return b.String()
}

func sectionTitle(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
