package outline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
)

// Artifact paths relative to a run prefix
const (
	ArtifactPath  = "outline/outline.json"
	InventoryPath = "outline/evidence_inventory.json"
)

// Handler runs the Outline stage for one run
type Handler struct {
	objects objstore.Store
	status  *runstate.Store
	gen     *Generator
	gate    model.GateConfig
	handoff queue.Handoff
	logger  *zap.Logger
}

// NewHandler creates the Outline stage handler
func NewHandler(objects objstore.Store, status *runstate.Store, gen *Generator, gate model.GateConfig, handoff queue.Handoff, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{objects: objects, status: status, gen: gen, gate: gate, handoff: handoff, logger: logger}
}

// Stage returns the stage this handler runs
func (h *Handler) Stage() model.Stage { return model.StageOutline }

// Handle validates the locked pillars against current evidence and writes
// the claim-gated outline
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	log := h.logger.With(
		zap.String("run_id", msg.RunID),
		zap.String("prefix", msg.Prefix),
		zap.String("stage", string(model.StageOutline)))
	log.Info("stage started", zap.Int("attempt", msg.Attempt))

	err := h.handle(ctx, msg, log)
	if err != nil {
		log.Error("stage failed", zap.Error(err))
		return h.status.FailClosed(ctx, msg.Prefix, model.StageOutline, err)
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
	if st.Flag(model.MarkerOutlineDone) {
		existing, err := objstore.Load[model.Outline](ctx, h.objects, artifactPath)
		if err == nil && existing.Schema == model.OutlineSchema {
			log.Info("stage already done, repeating handoff")
			return h.handoff.Finished(ctx, msg.RunID, msg.Prefix, model.StageOutline)
		}
		if err != nil && !objstore.IsNotFound(err) && !objstore.IsMalformed(err) {
			return err
		}
		log.Warn("done marker set but artifact missing or invalid, regenerating")
	}

	cp, err := h.loadPillars(ctx, msg.Prefix)
	if err != nil {
		return err
	}
	pillarsHash, err := hashing.ContentHash(cp)
	if err != nil {
		return fmt.Errorf("hash pillars: %w", err)
	}

	evidence, err := pillars.LoadEvidence(ctx, h.objects, msg.Prefix)
	if err != nil {
		return err
	}
	if err := pillars.CheckUniqueIDs(evidence, h.gate.ReportedIDCap); err != nil {
		return err
	}
	index := evidence.Index()
	allowed := cp.RequiredClaimIDs

	if err := CheckSuperset(allowed, index, h.gate.ReportedIDCap); err != nil {
		return err
	}
	if err := CheckFingerprints(allowed, cp.RequiredClaimFingerprints, index, h.gate.ReportedIDCap); err != nil {
		return err
	}

	visible, err := BuildVisibleSlice(allowed, evidence, h.gate)
	if err != nil {
		return err
	}
	inventory := BuildInventory(evidence, allowed)
	if err := objstore.PutJSON(ctx, h.objects, objstore.Join(msg.Prefix, InventoryPath), inventory); err != nil {
		return err
	}

	obj, modelName, err := h.gen.Generate(ctx, Request{
		RunID:    msg.RunID,
		Supplier: cp.Supplier,
		Industry: cp.Industry,
		Pillars:  cp.Pillars,
		Visible:  visible,
		Allowed:  allowed,
	})
	if err != nil {
		return err
	}
	if err := NewGuardrail(allowed, evidence).Check(obj, h.gate.ReportedIDCap); err != nil {
		return err
	}
	if err := ValidateOutline(obj, h.gate.OutlineStringChars).Err(); err != nil {
		return err
	}

	out, err := decodeOutline(obj)
	if err != nil {
		return err
	}
	out.Schema = model.OutlineSchema
	out.PillarsHash = pillarsHash
	out.AllowedClaims = len(allowed)
	out.VisibleClaims = len(visible)
	out.Model = modelName

	if err := objstore.PutJSON(ctx, h.objects, artifactPath, out); err != nil {
		return err
	}
	outlineHash, err := hashing.ContentHash(out)
	if err != nil {
		return fmt.Errorf("hash outline: %w", err)
	}

	if _, err := h.status.Patch(ctx, msg.Prefix, runstate.Patch{Markers: map[string]any{
		model.MarkerOutlineDone:        true,
		model.MarkerOutlineHash:        outlineHash,
		model.MarkerOutlinePillarsHash: pillarsHash,
		model.MarkerAllowedClaims:      strconv.Itoa(len(allowed)),
		model.MarkerVisibleClaims:      strconv.Itoa(len(visible)),
	}}, &model.HistoryEntry{
		Phase: string(model.StageOutline),
		Note:  fmt.Sprintf("outline gated to %d claims (%d visible)", len(allowed), len(visible)),
	}); err != nil {
		return err
	}

	log.Info("stage finished",
		zap.Int("allowed_claims", len(allowed)),
		zap.Int("visible_claims", len(visible)),
		zap.String("outline_hash", outlineHash))
	return h.handoff.Finished(ctx, msg.RunID, msg.Prefix, model.StageOutline)
}

// loadPillars reads the locked pillars artifact, validating its raw shape
// before decoding it
func (h *Handler) loadPillars(ctx context.Context, prefix string) (*model.ContentPillars, error) {
	path := objstore.Join(prefix, pillars.ArtifactPath)
	raw, err := objstore.Load[map[string]any](ctx, h.objects, path)
	switch {
	case objstore.IsNotFound(err):
		return nil, model.Failf(model.CodePillarsMissing, "no content pillars at %s", pillars.ArtifactPath)
	case objstore.IsMalformed(err):
		return nil, model.Failf(model.CodeSchemaMismatch, "content pillars unreadable: %v", err)
	case err != nil:
		return nil, err
	}
	if err := ValidatePillars(raw).Err(); err != nil {
		return nil, err
	}

	cp, err := objstore.Load[model.ContentPillars](ctx, h.objects, path)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func decodeOutline(obj map[string]any) (*model.Outline, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode outline: %w", err)
	}
	var out model.Outline
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, model.Failf(model.CodeGenerationMalformed, "outline does not decode: %v", err)
	}
	return &out, nil
}
