// Package router advances runs through the fixed stage sequence. It consumes
// stage-finished signals and sends exactly one message to the next stage
// queue per finished stage, even when a signal is delivered more than once.
package router

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
)

// Outcome describes what the router did with a signal
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeCompleted Outcome = "completed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
)

// Router is the stage state machine
type Router struct {
	status *runstate.Store
	sender queue.Sender
	queues model.QueueNames
	logger *zap.Logger

	runs sync.Map // prefix -> *sync.Mutex
}

// New creates a router that sends next-stage messages with sender
func New(status *runstate.Store, sender queue.Sender, queues model.QueueNames, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{status: status, sender: sender, queues: queues, logger: logger}
}

// Handle dispatches one router message
func (r *Router) Handle(ctx context.Context, msg queue.Message) error {
	var finished model.Stage
	switch msg.Kind {
	case queue.KindAfterEvidence:
		finished = model.StageEvidence
	case queue.KindAfterPillars:
		finished = model.StagePillarsSynth
	case queue.KindAfterOutline:
		finished = model.StageOutline
	case queue.KindAfterSections:
		finished = model.StageSectionWrites
	case queue.KindAfterAssemble:
		finished = model.StageAssemble
	case queue.KindRunStage:
		return fmt.Errorf("%w: run_stage message %s on the router queue", queue.ErrRejected, msg.ID)
	default:
		return fmt.Errorf("%w: %q", queue.ErrUnknownKind, msg.Kind)
	}

	outcome, err := r.Advance(ctx, msg.RunID, msg.Prefix, finished)
	if err != nil {
		if _, ok := model.AsStageError(err); ok {
			return r.status.FailClosed(ctx, msg.Prefix, finished, err)
		}
		return err
	}
	r.logger.Info("signal routed",
		zap.String("run_id", msg.RunID),
		zap.String("prefix", msg.Prefix),
		zap.String("finished", string(finished)),
		zap.String("outcome", string(outcome)))
	return nil
}

// Advance moves the run past finished. The next-stage message is sent at
// most once: the after*Sent marker is checked before sending and set after.
// Concurrent signals for one run are serialized within the process.
func (r *Router) Advance(ctx context.Context, runID, prefix string, finished model.Stage) (Outcome, error) {
	next, ok := finished.Next()
	if !ok {
		return "", fmt.Errorf("%w: stage %q has no successor", queue.ErrRejected, finished)
	}
	sentMarker := model.AfterSentMarker(finished)

	mu, _ := r.runs.LoadOrStore(prefix, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	st, err := r.status.Get(ctx, prefix)
	if objstore.IsNotFound(err) {
		return "", model.Failf(model.CodeStatusMissing, "no status record at %s", prefix)
	}
	if err != nil {
		return "", err
	}

	log := r.logger.With(zap.String("run_id", runID), zap.String("prefix", prefix), zap.String("finished", string(finished)))

	if st.Flag(sentMarker) {
		log.Info("handoff already sent, ignoring duplicate signal")
		return OutcomeDuplicate, nil
	}
	if st.State == model.StageFailed || st.State == model.StageCompleted {
		log.Warn("run is terminal, ignoring signal", zap.String("state", string(st.State)))
		return OutcomeSkipped, nil
	}
	if !st.Flag(model.DoneMarker(finished)) {
		return "", fmt.Errorf("%w: %s signalled finished without its %s marker", queue.ErrRejected, finished, model.DoneMarker(finished))
	}
	// The state is the finished stage, or already the next one when a
	// previous attempt moved it but did not get to send.
	if st.State != finished && st.State != next {
		return "", fmt.Errorf("%w: run is in %s, signal reports %s finished", queue.ErrRejected, st.State, finished)
	}

	if next == model.StageCompleted {
		if _, err := r.status.Patch(ctx, prefix, runstate.Patch{
			State:   model.StageCompleted,
			Markers: map[string]any{sentMarker: true},
		}, &model.HistoryEntry{Phase: string(model.StageCompleted), Note: "run completed"}); err != nil {
			return "", err
		}
		log.Info("run completed")
		return OutcomeCompleted, nil
	}

	queueName := r.queues.ForStage(next)
	if queueName == "" {
		return "", fmt.Errorf("no queue configured for stage %s", next)
	}

	if st.State != next {
		if _, err := r.status.Patch(ctx, prefix, runstate.Patch{State: next}, &model.HistoryEntry{
			Phase: string(next),
			Note:  fmt.Sprintf("%s finished", finished),
		}); err != nil {
			return "", err
		}
	}

	if err := r.sender.Send(ctx, queueName, queue.NewRunStage(runID, prefix, next)); err != nil {
		return "", fmt.Errorf("send %s message: %w", next, err)
	}

	if _, err := r.status.Patch(ctx, prefix, runstate.Patch{Markers: map[string]any{sentMarker: true}}, nil); err != nil {
		return "", err
	}
	log.Info("next stage enqueued", zap.String("next", string(next)), zap.String("queue", queueName))
	return OutcomeSent, nil
}
