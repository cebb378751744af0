package queue

import (
	"context"

	"github.com/ppiankov/provenant/internal/model"
)

// Handoff reports that a stage finished for a run
type Handoff interface {
	Finished(ctx context.Context, runID, prefix string, stage model.Stage) error
}

// Signaler sends stage-finished signals to the router queue
type Signaler struct {
	sender Sender
	queue  string
}

// NewSignaler creates a handoff that sends to routerQueue
func NewSignaler(sender Sender, routerQueue string) *Signaler {
	return &Signaler{sender: sender, queue: routerQueue}
}

// Finished sends the after_* signal for stage
func (s *Signaler) Finished(ctx context.Context, runID, prefix string, stage model.Stage) error {
	m, err := NewAfter(runID, prefix, stage)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, s.queue, m)
}
