package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/provenance"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
	"github.com/ppiankov/provenant/internal/validate"
)

// BundlePath is where submission stores the source bundle of a run
const BundlePath = "input/source_bundle.json"

// EvidenceHandler runs the Evidence stage: it audits the run's evidence
// snapshot and ingests the source bundle into the provenance registry
type EvidenceHandler struct {
	stageBase
	builder   *provenance.Builder
	validator *validate.Validator
}

// NewEvidenceHandler creates the Evidence stage handler
func NewEvidenceHandler(objects objstore.Store, status *runstate.Store, gate model.GateConfig, handoff queue.Handoff, logger *zap.Logger) *EvidenceHandler {
	base := newStageBase(model.StageEvidence, objects, status, handoff, logger)
	return &EvidenceHandler{
		stageBase: base,
		builder:   provenance.NewBuilder(base.logger),
		validator: validate.NewValidator(validate.NewAuthorityClassifier(nil), gate.ReportedIDCap),
	}
}

// Handle builds the registry for the run in msg
func (h *EvidenceHandler) Handle(ctx context.Context, msg queue.Message) error {
	return h.run(ctx, msg, h.handle)
}

func (h *EvidenceHandler) handle(ctx context.Context, msg queue.Message, log *zap.Logger) error {
	st, err := h.begin(ctx, msg, log)
	if st == nil {
		return err
	}
	if done, err := h.resume(ctx, st, msg, pillars.RegistryPath, model.RegistrySchema, log); done {
		return err
	}

	bundle, err := objstore.Load[model.SourceBundle](ctx, h.objects, objstore.Join(msg.Prefix, BundlePath))
	switch {
	case objstore.IsNotFound(err):
		return model.Failf(model.CodeSourceBundleMissing, "no source bundle at %s", BundlePath)
	case objstore.IsMalformed(err):
		return model.Failf(model.CodeSourceBundleInvalid, "source bundle unreadable: %v", err)
	case err != nil:
		return err
	}

	evidence, err := pillars.LoadEvidence(ctx, h.objects, msg.Prefix)
	if err != nil {
		return err
	}
	warnings, err := h.validator.Check(evidence)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Debug("evidence warning", zap.String("claim_id", w.ClaimID), zap.String("problem", w.Problem))
	}

	reg, err := h.builder.Build(&bundle)
	if err != nil {
		return err
	}
	if err := objstore.PutJSON(ctx, h.objects, objstore.Join(msg.Prefix, pillars.RegistryPath), reg); err != nil {
		return err
	}

	if _, err := h.status.SetMarkers(ctx, msg.Prefix, map[string]any{
		model.MarkerEvidenceDone:     true,
		model.MarkerRegistryHash:     reg.Hash,
		model.MarkerRegistryWarnings: strconv.Itoa(len(reg.Warnings)),
		model.MarkerEvidenceWarnings: strconv.Itoa(len(warnings)),
	}, string(model.StageEvidence), fmt.Sprintf("registry of %d entries, %d claims in evidence", len(reg.Entries), len(evidence.Claims))); err != nil {
		return err
	}

	log.Info("stage finished",
		zap.Int("entries", len(reg.Entries)),
		zap.Int("warnings", len(reg.Warnings)),
		zap.Int("claims", len(evidence.Claims)),
		zap.Int("evidence_warnings", len(warnings)),
		zap.String("registry_hash", reg.Hash))
	return h.handoff.Finished(ctx, msg.RunID, msg.Prefix, model.StageEvidence)
}
