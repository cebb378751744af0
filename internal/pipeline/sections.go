package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/outline"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
	"github.com/ppiankov/provenant/internal/worker"
)

// SectionsPath is the SectionWrites artifact relative to a run prefix
const SectionsPath = "sections/sections.json"

// SectionsHandler runs the SectionWrites stage
type SectionsHandler struct {
	stageBase
	writer  *SectionWriter
	gate    model.GateConfig
	workers int
}

// NewSectionsHandler creates the SectionWrites stage handler. Sections are
// written concurrently on up to workers goroutines.
func NewSectionsHandler(objects objstore.Store, status *runstate.Store, writer *SectionWriter, gate model.GateConfig, workers int, handoff queue.Handoff, logger *zap.Logger) *SectionsHandler {
	return &SectionsHandler{
		stageBase: newStageBase(model.StageSectionWrites, objects, status, handoff, logger),
		writer:    writer,
		gate:      gate,
		workers:   workers,
	}
}

// Handle writes every outline section
func (h *SectionsHandler) Handle(ctx context.Context, msg queue.Message) error {
	return h.run(ctx, msg, h.handle)
}

func (h *SectionsHandler) handle(ctx context.Context, msg queue.Message, log *zap.Logger) error {
	st, err := h.begin(ctx, msg, log)
	if st == nil {
		return err
	}
	if done, err := h.resume(ctx, st, msg, SectionsPath, model.SectionsSchema, log); done {
		return err
	}

	in, err := loadSectionInputs(ctx, h.objects, msg.Prefix, h.gate)
	if err != nil {
		return err
	}

	names := model.OutlineSectionNames
	written := make([]model.Section, len(names))
	failures := make([]error, len(names))
	var mu sync.Mutex

	jobs := make([]worker.Job, 0, len(names))
	for i, name := range names {
		jobs = append(jobs, worker.JobFunc(func(ctx context.Context) error {
			sec, err := h.writer.Compose(ctx, msg.RunID, name, "", in.outline.Sections[name], in.pillars, in.evidence, in.guard)
			mu.Lock()
			defer mu.Unlock()
			written[i], failures[i] = sec, err
			return err
		}))
	}
	worker.RunAll(ctx, h.workers, jobs)
	if err := ctx.Err(); err != nil {
		return err
	}
	// Report the first failing section in outline order.
	for _, err := range failures {
		if err != nil {
			return err
		}
	}

	artifact := &model.Sections{Schema: model.SectionsSchema, OutlineHash: in.outlineHash, Sections: written}
	if err := objstore.PutJSON(ctx, h.objects, objstore.Join(msg.Prefix, SectionsPath), artifact); err != nil {
		return err
	}
	sectionsHash, err := hashing.ContentHash(artifact)
	if err != nil {
		return fmt.Errorf("hash sections: %w", err)
	}

	if _, err := h.status.SetMarkers(ctx, msg.Prefix, map[string]any{
		model.MarkerSectionsDone: true,
		model.MarkerSectionsHash: sectionsHash,
	}, string(model.StageSectionWrites), fmt.Sprintf("wrote %d sections", len(written))); err != nil {
		return err
	}

	log.Info("stage finished", zap.Int("sections", len(written)), zap.String("sections_hash", sectionsHash))
	return h.handoff.Finished(ctx, msg.RunID, msg.Prefix, model.StageSectionWrites)
}

// sectionInputs is what section writing reads, after the claim gate passed
type sectionInputs struct {
	outline     *model.Outline
	outlineHash string
	pillars     *model.ContentPillars
	evidence    model.EvidenceSet
	guard       *outline.Guardrail
}

// loadSectionInputs reads the outline, the locked pillars and the current
// evidence of a run. The outline must be built from the locked pillars and
// every allowed claim must still match its fingerprint.
func loadSectionInputs(ctx context.Context, objects objstore.Store, prefix string, gate model.GateConfig) (*sectionInputs, error) {
	out, err := loadOutline(ctx, objects, prefix)
	if err != nil {
		return nil, err
	}
	outlineHash, err := hashing.ContentHash(out)
	if err != nil {
		return nil, fmt.Errorf("hash outline: %w", err)
	}

	cp, err := loadPillars(ctx, objects, prefix, pillars.ArtifactPath)
	if err != nil {
		return nil, err
	}
	pillarsHash, err := hashing.ContentHash(cp)
	if err != nil {
		return nil, fmt.Errorf("hash pillars: %w", err)
	}
	if out.PillarsHash != pillarsHash {
		return nil, model.Failf(model.CodeSchemaMismatch, "outline was built from pillars %s, locked pillars are %s", out.PillarsHash, pillarsHash)
	}

	evidence, err := pillars.LoadEvidence(ctx, objects, prefix)
	if err != nil {
		return nil, err
	}
	if err := pillars.CheckUniqueIDs(evidence, gate.ReportedIDCap); err != nil {
		return nil, err
	}
	allowed := cp.RequiredClaimIDs
	if err := outline.CheckFingerprints(allowed, cp.RequiredClaimFingerprints, evidence.Index(), gate.ReportedIDCap); err != nil {
		return nil, err
	}

	return &sectionInputs{
		outline:     out,
		outlineHash: outlineHash,
		pillars:     cp,
		evidence:    evidence,
		guard:       outline.NewGuardrail(allowed, evidence),
	}, nil
}

// loadOutline reads the outline artifact for a downstream stage
func loadOutline(ctx context.Context, objects objstore.Store, prefix string) (*model.Outline, error) {
	out, err := objstore.Load[model.Outline](ctx, objects, objstore.Join(prefix, outline.ArtifactPath))
	switch {
	case objstore.IsNotFound(err):
		return nil, model.Failf(model.CodeOutlineMissing, "no outline at %s", outline.ArtifactPath)
	case objstore.IsMalformed(err):
		return nil, model.Failf(model.CodeSchemaMismatch, "outline unreadable: %v", err)
	case err != nil:
		return nil, err
	}
	if out.Schema != model.OutlineSchema {
		return nil, model.Failf(model.CodeSchemaMismatch, "outline schema %q, want %q", out.Schema, model.OutlineSchema)
	}
	return &out, nil
}
