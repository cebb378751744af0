package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
)

// Handler runs one stage, or routes signals, for a delivered message
type Handler interface {
	Handle(ctx context.Context, msg queue.Message) error
}

// stageBase holds what the Evidence, SectionWrites and Assemble handlers share
type stageBase struct {
	stage   model.Stage
	objects objstore.Store
	status  *runstate.Store
	handoff queue.Handoff
	logger  *zap.Logger
}

func newStageBase(stage model.Stage, objects objstore.Store, status *runstate.Store, handoff queue.Handoff, logger *zap.Logger) stageBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return stageBase{stage: stage, objects: objects, status: status, handoff: handoff, logger: logger}
}

// Stage returns the stage this handler runs
func (b stageBase) Stage() model.Stage { return b.stage }

// run logs around fn and records permanent failures on the run
func (b stageBase) run(ctx context.Context, msg queue.Message, fn func(context.Context, queue.Message, *zap.Logger) error) error {
	log := b.logger.With(
		zap.String("run_id", msg.RunID),
		zap.String("prefix", msg.Prefix),
		zap.String("stage", string(b.stage)))
	log.Info("stage started", zap.Int("attempt", msg.Attempt))

	if err := fn(ctx, msg, log); err != nil {
		log.Error("stage failed", zap.Error(err))
		return b.status.FailClosed(ctx, msg.Prefix, b.stage, err)
	}
	return nil
}

// begin loads the run status. A nil status means the run already failed and
// the message should be dropped.
func (b stageBase) begin(ctx context.Context, msg queue.Message, log *zap.Logger) (*model.Status, error) {
	st, err := b.status.Get(ctx, msg.Prefix)
	if objstore.IsNotFound(err) {
		return nil, model.Failf(model.CodeStatusMissing, "no status record at %s", msg.Prefix)
	}
	if err != nil {
		return nil, err
	}
	if st.State == model.StageFailed {
		log.Info("run already failed, skipping")
		return nil, nil
	}
	return st, nil
}

// resume repeats the handoff when the stage already finished and its
// artifact is intact. It reports whether the stage work can be skipped.
func (b stageBase) resume(ctx context.Context, st *model.Status, msg queue.Message, path, schema string, log *zap.Logger) (bool, error) {
	if !st.Flag(model.DoneMarker(b.stage)) {
		return false, nil
	}
	raw, err := objstore.Load[map[string]any](ctx, b.objects, objstore.Join(msg.Prefix, path))
	if err == nil && raw["schema"] == schema {
		log.Info("stage already done, repeating handoff")
		return true, b.handoff.Finished(ctx, msg.RunID, msg.Prefix, b.stage)
	}
	if err != nil && !objstore.IsNotFound(err) && !objstore.IsMalformed(err) {
		return true, err
	}
	log.Warn("done marker set but artifact missing or invalid, redoing stage")
	return false, nil
}

// loadPillars reads the locked pillars artifact for a downstream stage
func loadPillars(ctx context.Context, objects objstore.Store, prefix, path string) (*model.ContentPillars, error) {
	cp, err := objstore.Load[model.ContentPillars](ctx, objects, objstore.Join(prefix, path))
	switch {
	case objstore.IsNotFound(err):
		return nil, model.Failf(model.CodePillarsMissing, "no content pillars at %s", path)
	case objstore.IsMalformed(err):
		return nil, model.Failf(model.CodeSchemaMismatch, "content pillars unreadable: %v", err)
	case err != nil:
		return nil, err
	}
	if cp.Schema != model.ContentPillarsSchema {
		return nil, model.Failf(model.CodeSchemaMismatch, "content pillars schema %q, want %q", cp.Schema, model.ContentPillarsSchema)
	}
	return &cp, nil
}
