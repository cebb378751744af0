package pillars

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
)

// Artifact paths relative to a run prefix
const (
	ArtifactPath = "pillars/content_pillars.json"
	RegistryPath = "provenance/registry.json"
	EvidencePath = "evidence/claims.json"
)

// Handler runs the PillarsSynth stage for one run
type Handler struct {
	objects objstore.Store
	status  *runstate.Store
	synth   *Synthesizer
	handoff queue.Handoff
	logger  *zap.Logger
}

// NewHandler creates the PillarsSynth stage handler
func NewHandler(objects objstore.Store, status *runstate.Store, synth *Synthesizer, handoff queue.Handoff, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{objects: objects, status: status, synth: synth, handoff: handoff, logger: logger}
}

// Stage returns the stage this handler runs
func (h *Handler) Stage() model.Stage { return model.StagePillarsSynth }

// Handle synthesizes and locks the pillars artifact. Re-entry after success
// only repeats the handoff.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	log := h.logger.With(
		zap.String("run_id", msg.RunID),
		zap.String("prefix", msg.Prefix),
		zap.String("stage", string(model.StagePillarsSynth)))
	log.Info("stage started", zap.Int("attempt", msg.Attempt))

	err := h.handle(ctx, msg, log)
	if err != nil {
		log.Error("stage failed", zap.Error(err))
		return h.status.FailClosed(ctx, msg.Prefix, model.StagePillarsSynth, err)
	}
	return nil
}

func (h *Handler) handle(ctx context.Context, msg queue.Message, log *zap.Logger) error {
	st, err := h.status.Get(ctx, msg.Prefix)
	if objstore.IsNotFound(err) {
		return model.Failf(model.CodeStatusMissing, "no status record at %s", msg.Prefix)
	}
	if err != nil {
		return err
	}
	if st.State == model.StageFailed {
		log.Info("run already failed, skipping")
		return nil
	}

	artifactPath := objstore.Join(msg.Prefix, ArtifactPath)
	if st.Flag(model.MarkerPillarsDone) {
		existing, err := objstore.Load[model.ContentPillars](ctx, h.objects, artifactPath)
		if err == nil && existing.Schema == model.ContentPillarsSchema {
			log.Info("stage already done, repeating handoff")
			return h.handoff.Finished(ctx, msg.RunID, msg.Prefix, model.StagePillarsSynth)
		}
		if err != nil && !objstore.IsNotFound(err) && !objstore.IsMalformed(err) {
			return err
		}
		log.Warn("done marker set but artifact missing or invalid, re-synthesizing")
	}

	reg, err := objstore.Load[model.Registry](ctx, h.objects, objstore.Join(msg.Prefix, RegistryPath))
	switch {
	case objstore.IsNotFound(err):
		return model.Failf(model.CodeRegistryMissing, "no provenance registry at %s", RegistryPath)
	case objstore.IsMalformed(err):
		return model.Failf(model.CodeRegistryMissing, "provenance registry unreadable: %v", err)
	case err != nil:
		return err
	}
	if reg.Schema != model.RegistrySchema {
		return model.Failf(model.CodeSchemaMismatch, "registry schema %q, want %q", reg.Schema, model.RegistrySchema)
	}

	evidence, err := LoadEvidence(ctx, h.objects, msg.Prefix)
	if err != nil {
		return err
	}
	if err := CheckUniqueIDs(evidence, h.synth.gate.ReportedIDCap); err != nil {
		return err
	}

	evidenceHash, err := hashing.EvidenceHash(evidence.Claims)
	if err != nil {
		return fmt.Errorf("hash evidence: %w", err)
	}

	artifact, reused, err := h.existingFor(ctx, artifactPath, evidenceHash, reg.Hash)
	if err != nil {
		return err
	}
	if reused {
		log.Info("identical inputs, keeping existing pillars artifact")
	} else {
		artifact, err = h.synth.Synthesize(Input{
			Registry: &reg,
			Evidence: evidence,
			Supplier: st.InputString("supplier"),
			Industry: st.InputString("industry"),
		})
		if err != nil {
			return err
		}
		if err := objstore.PutJSON(ctx, h.objects, artifactPath, artifact); err != nil {
			return err
		}
	}

	pillarsHash, err := hashing.ContentHash(artifact)
	if err != nil {
		return fmt.Errorf("hash pillars: %w", err)
	}

	if _, err := h.status.Patch(ctx, msg.Prefix, runstate.Patch{Markers: map[string]any{
		model.MarkerPillarsDone:   true,
		model.MarkerPillarsLocked: true,
		model.MarkerPillarsHash:   pillarsHash,
		model.MarkerEvidenceHash:  artifact.Inputs.EvidenceHash,
		model.MarkerSourceHash:    artifact.Inputs.SourceHash,
	}}, &model.HistoryEntry{
		Phase: string(model.StagePillarsSynth),
		Note:  fmt.Sprintf("locked %d pillars, %d required claims", len(artifact.Pillars), len(artifact.RequiredClaimIDs)),
	}); err != nil {
		return err
	}

	log.Info("stage finished",
		zap.Int("pillars", len(artifact.Pillars)),
		zap.Int("required_claims", len(artifact.RequiredClaimIDs)),
		zap.String("pillars_hash", pillarsHash))
	return h.handoff.Finished(ctx, msg.RunID, msg.Prefix, model.StagePillarsSynth)
}

// existingFor returns the stored artifact when it was synthesized from the same inputs
func (h *Handler) existingFor(ctx context.Context, path, evidenceHash, sourceHash string) (*model.ContentPillars, bool, error) {
	existing, err := objstore.Load[model.ContentPillars](ctx, h.objects, path)
	if objstore.IsNotFound(err) || objstore.IsMalformed(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if existing.Schema != model.ContentPillarsSchema || len(existing.RequiredClaimFingerprints) == 0 {
		return nil, false, nil
	}
	if existing.Inputs.EvidenceHash != evidenceHash || existing.Inputs.SourceHash != sourceHash {
		return nil, false, nil
	}
	return &existing, true, nil
}

// CheckUniqueIDs fails with evidence_invalid when two claims in the snapshot
// share an id. One copy could pass the fingerprint check while another is
// shown to the generator.
func CheckUniqueIDs(evidence model.EvidenceSet, reportCap int) error {
	dups := evidence.DuplicateIDs()
	if len(dups) == 0 {
		return nil
	}
	se := model.Failf(model.CodeEvidenceInvalid, "%d claim id(s) appear more than once in evidence", len(dups))
	se.IDs = model.CapIDs(dups, reportCap)
	return se
}

// LoadEvidence reads the evidence snapshot of a run
func LoadEvidence(ctx context.Context, objects objstore.Store, prefix string) (model.EvidenceSet, error) {
	ev, err := objstore.Load[model.EvidenceSet](ctx, objects, objstore.Join(prefix, EvidencePath))
	switch {
	case objstore.IsNotFound(err):
		return ev, model.Failf(model.CodeEvidenceMissing, "no evidence at %s", EvidencePath)
	case objstore.IsMalformed(err):
		return ev, model.Failf(model.CodeEvidenceInvalid, "evidence unreadable: %v", err)
	case err != nil:
		return ev, err
	}
	if ev.Schema != "" && ev.Schema != model.EvidenceSchema {
		return ev, model.Failf(model.CodeSchemaMismatch, "evidence schema %q, want %q", ev.Schema, model.EvidenceSchema)
	}
	return ev, nil
}
