package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
)

// RegeneratedPath returns where the latest regeneration of section is stored,
// relative to a run prefix. Repeat regenerations overwrite it.
func RegeneratedPath(section string) string {
	return "regenerated/" + section + ".json"
}

// Regenerate rewrites one section of a completed run, optionally in another
// tone. It reads the run's outline, locked pillars and current evidence
// under the same claim gate as the SectionWrites stage. The assembled
// campaign is left untouched; the section is stored at RegeneratedPath and
// picked up by Export. Failures are returned, never recorded on the run.
func (p *Pipeline) Regenerate(ctx context.Context, runID, section, tone string) (*model.RegeneratedSection, error) {
	section = strings.ToLower(strings.TrimSpace(section))
	tone = strings.ToLower(strings.TrimSpace(tone))
	if !slices.Contains(model.OutlineSectionNames, section) {
		return nil, fmt.Errorf("unknown section %q (supported: %s)", section, strings.Join(model.OutlineSectionNames, ", "))
	}
	if !model.ValidTone(tone) {
		return nil, fmt.Errorf("unknown tone %q (supported: %s, %s, %s)", tone, model.ToneMatch, model.ToneProfessional, model.ToneWarm)
	}

	run, err := p.FindRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.State != model.StageCompleted {
		return nil, fmt.Errorf("run %s is %s; only completed runs can be regenerated", runID, run.Status.State)
	}

	in, err := loadSectionInputs(ctx, p.objects, run.Prefix, p.config.Gate)
	if err != nil {
		return nil, err
	}
	sec, err := p.writer.Compose(ctx, runID, section, tone, in.outline.Sections[section], in.pillars, in.evidence, in.guard)
	if err != nil {
		return nil, err
	}

	regen := &model.RegeneratedSection{
		Schema:      model.RegeneratedSectionSchema,
		RunID:       runID,
		Tone:        tone,
		OutlineHash: in.outlineHash,
		Section:     sec,
		GeneratedAt: p.now().UTC(),
	}
	if err := objstore.PutJSON(ctx, p.objects, objstore.Join(run.Prefix, RegeneratedPath(section)), regen); err != nil {
		return nil, err
	}
	hash, err := hashing.ContentHash(regen.Section)
	if err != nil {
		return nil, fmt.Errorf("hash section: %w", err)
	}
	note := "regenerated " + section
	if tone != "" {
		note += " in tone " + tone
	}
	if _, err := p.status.SetMarkers(ctx, run.Prefix, map[string]any{
		model.RegeneratedMarker(section): hash,
	}, "regenerate", note); err != nil {
		return nil, err
	}

	p.logger.Info("section regenerated",
		zap.String("run_id", runID),
		zap.String("section", section),
		zap.String("tone", tone),
		zap.Strings("claim_ids", sec.ClaimIDs))
	return regen, nil
}
