package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
	"github.com/ppiankov/provenant/internal/worker"
)

type route struct {
	queue   string
	handler Handler
}

// Dispatcher binds queues to handlers. It leases messages, runs them on a
// worker pool and decides per message whether to acknowledge it, leave it
// for redelivery, or give up on the run.
type Dispatcher struct {
	queue   queue.Queue
	status  *runstate.Store
	config  model.QueueConfig
	workers int
	limiter *worker.Limiter
	notify  <-chan struct{}
	routes  []route
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher over q
func NewDispatcher(q queue.Queue, status *runstate.Store, config model.QueueConfig, workers int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.Lease <= 0 {
		config.Lease = time.Minute
	}
	d := &Dispatcher{
		queue:   q,
		status:  status,
		config:  config,
		workers: workers,
		limiter: worker.NewLimiter(config.RatePerQueue, config.BatchSize),
		logger:  logger,
	}
	if n, ok := q.(interface{ Notify() <-chan struct{} }); ok {
		d.notify = n.Notify()
	}
	return d
}

// Route consumes queueName with h
func (d *Dispatcher) Route(queueName string, h Handler) {
	d.routes = append(d.routes, route{queue: queueName, handler: h})
}

// Run consumes every routed queue until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range d.routes {
		g.Go(func() error {
			d.consume(gctx, r)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, r route) {
	log := d.logger.With(zap.String("queue", r.queue))
	log.Debug("consumer started")
	for ctx.Err() == nil {
		n, err := d.poll(ctx, r)
		if err != nil && ctx.Err() == nil {
			log.Warn("poll failed", zap.Error(err))
		}
		if n == 0 {
			d.idle(ctx)
		}
	}
	log.Debug("consumer stopped")
}

func (d *Dispatcher) idle(ctx context.Context) {
	t := time.NewTimer(d.config.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-d.notify:
	}
}

// Poll leases one batch from queueName and processes it. It returns the
// number of deliveries received.
func (d *Dispatcher) Poll(ctx context.Context, queueName string) (int, error) {
	for _, r := range d.routes {
		if r.queue == queueName {
			return d.poll(ctx, r)
		}
	}
	return 0, fmt.Errorf("no handler for queue %q", queueName)
}

// Drain polls every routed queue until a full pass receives nothing.
// Messages left leased after a failure are not waited for.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		total := 0
		for _, r := range d.routes {
			n, err := d.poll(ctx, r)
			if err != nil {
				return err
			}
			total += n
		}
		if total == 0 {
			return nil
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context, r route) (int, error) {
	if err := d.limiter.Wait(ctx, r.queue); err != nil {
		return 0, err
	}
	deliveries, err := d.queue.Receive(ctx, r.queue, d.config.BatchSize, d.config.Lease)
	if err != nil {
		return 0, fmt.Errorf("receive %s: %w", r.queue, err)
	}
	if len(deliveries) == 0 {
		return 0, nil
	}
	d.limiter.Charge(r.queue, len(deliveries)-1)

	jobs := make([]worker.Job, len(deliveries))
	for i, dl := range deliveries {
		jobs[i] = worker.JobFunc(func(ctx context.Context) error {
			return d.deliver(ctx, r, dl)
		})
	}
	if errs := worker.Errors(worker.RunAll(ctx, d.workers, jobs)); len(errs) > 0 {
		d.logger.Debug("deliveries left unsettled", zap.String("queue", r.queue), zap.Int("count", len(errs)))
	}
	return len(deliveries), nil
}

// deliver runs one message and settles it
func (d *Dispatcher) deliver(ctx context.Context, r route, dl queue.Delivery) error {
	log := d.logger.With(
		zap.String("queue", r.queue),
		zap.String("message_id", dl.Message.ID),
		zap.String("run_id", dl.Message.RunID),
		zap.String("kind", string(dl.Message.Kind)),
		zap.Int("attempt", dl.Attempt))

	if dl.Err != nil {
		log.Error("dropping undecodable message", zap.Error(dl.Err))
		return d.ack(ctx, r.queue, dl, log)
	}

	msg := dl.Message
	msg.Attempt = dl.Attempt
	err := r.handler.Handle(ctx, msg)

	switch {
	case err == nil:
		return d.ack(ctx, r.queue, dl, log)
	case errors.Is(err, queue.ErrRejected), errors.Is(err, queue.ErrUnknownKind):
		log.Warn("message rejected", zap.Error(err))
		return d.ack(ctx, r.queue, dl, log)
	case isPermanent(err):
		log.Info("run failed closed", zap.Error(err))
		return d.ack(ctx, r.queue, dl, log)
	case ctx.Err() != nil:
		return ctx.Err()
	case d.config.MaxAttempts > 0 && dl.Attempt >= d.config.MaxAttempts:
		return d.exhaust(ctx, r.queue, dl, err, log)
	default:
		log.Warn("handler failed, message will be redelivered", zap.Error(err))
		return err
	}
}

// exhaust fails the run once a message has used up its attempts
func (d *Dispatcher) exhaust(ctx context.Context, queueName string, dl queue.Delivery, cause error, log *zap.Logger) error {
	msg := dl.Message
	stage := msg.Stage
	if msg.Kind != queue.KindRunStage {
		stage, _ = msg.Kind.FinishedStage()
	}
	se := &model.StageError{
		Code:      model.CodeRetriesExhausted,
		Message:   fmt.Sprintf("%s message gave up after %d attempts", msg.Kind, dl.Attempt),
		Permanent: true,
		Err:       cause,
	}
	if _, err := d.status.Fail(ctx, msg.Prefix, stage, se); err != nil {
		return fmt.Errorf("record exhausted retries: %w", err)
	}
	log.Error("retries exhausted, run failed", zap.String("stage", string(stage)), zap.Error(cause))
	return d.ack(ctx, queueName, dl, log)
}

func (d *Dispatcher) ack(ctx context.Context, queueName string, dl queue.Delivery, log *zap.Logger) error {
	if err := d.queue.Ack(ctx, queueName, dl.Receipt); err != nil {
		log.Warn("ack failed", zap.Error(err))
		return err
	}
	return nil
}

func isPermanent(err error) bool {
	se, ok := model.AsStageError(err)
	return ok && se.Permanent
}
