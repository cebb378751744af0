// Package pipeline wires the stage handlers, the router and the message
// channel into a runnable campaign pipeline
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/provenant/internal/llm"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/outline"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/provenance"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/router"
	"github.com/ppiankov/provenant/internal/runstate"
)

// MaxListedRuns caps the runs listing
const MaxListedRuns = 50

// ErrRunNotFound is returned when no status record exists for a run id
var ErrRunNotFound = errors.New("run not found")

// Pipeline orchestrates runs over an object store and a message channel
type Pipeline struct {
	config     *model.Config
	objects    objstore.Store
	queue      queue.Queue
	status     *runstate.Store
	dispatcher *Dispatcher
	writer     *SectionWriter
	logger     *zap.Logger
	now        func() time.Time
}

// New builds the pipeline. gen is the generation collaborator used by the
// Outline and SectionWrites stages.
func New(cfg *model.Config, objects objstore.Store, q queue.Queue, gen llm.Generator, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	status := runstate.New(objects, logger, runstate.WithRetry(cfg.Store.RetryAttempts, cfg.Store.RetryBackoff))
	names := cfg.Queue.Names
	handoff := queue.NewSignaler(q, names.Router)
	timeout := time.Duration(cfg.LLM.Timeout) * time.Second
	writer := NewSectionWriter(gen, cfg.Gate, timeout, logger)

	d := NewDispatcher(q, status, cfg.Queue, cfg.Concurrency.Workers, logger)
	d.Route(names.Evidence, NewEvidenceHandler(objects, status, cfg.Gate, handoff, logger))
	d.Route(names.Pillars, pillars.NewHandler(objects, status, pillars.NewSynthesizer(cfg.Gate, logger), handoff, logger))
	d.Route(names.Outline, outline.NewHandler(objects, status, outline.NewGenerator(gen, cfg.Gate, timeout, logger), cfg.Gate, handoff, logger))
	d.Route(names.Sections, NewSectionsHandler(objects, status, writer, cfg.Gate, cfg.Concurrency.Workers, handoff, logger))
	d.Route(names.Assemble, NewAssembleHandler(objects, status, cfg.Gate, handoff, logger))
	d.Route(names.Router, router.New(status, q, names, logger))

	return &Pipeline{
		config:     cfg,
		objects:    objects,
		queue:      q,
		status:     status,
		dispatcher: d,
		writer:     writer,
		logger:     logger,
		now:        time.Now,
	}
}

// Dispatcher returns the queue consumer of the pipeline
func (p *Pipeline) Dispatcher() *Dispatcher { return p.dispatcher }

// Submission is a new run request
type Submission struct {
	RunID    string // Generated when empty
	Page     string
	Company  string
	Supplier string
	Industry string
	RowCount int
	Filters  map[string]any
	CSV      []byte // Hashed into csv_sha256 when present
	Bundle   *model.SourceBundle
	Evidence *model.EvidenceSet // Seeds evidence/claims.json when present
}

// Run is a run located in the store
type Run struct {
	RunID  string        `json:"runId"`
	Prefix string        `json:"prefix"`
	Status *model.Status `json:"status"`
}

// RunPrefix returns <root><page>/<yyyy>/<MM>/<dd>/<runId>/
func RunPrefix(root, page, runID string, at time.Time) string {
	at = at.UTC()
	return objstore.Join(root,
		page,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		fmt.Sprintf("%02d", at.Day()),
		runID) + "/"
}

// Submit stores the run inputs, creates its status record in the Evidence
// state and enqueues the first stage
func (p *Pipeline) Submit(ctx context.Context, s Submission) (*Run, error) {
	if s.Bundle == nil {
		return nil, fmt.Errorf("submission has no source bundle")
	}
	runID := strings.TrimSpace(s.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	if strings.ContainsAny(runID, "/\\") || strings.Contains(runID, "..") {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	page := "default"
	if strings.TrimSpace(s.Page) != "" {
		page = provenance.Slug(s.Page)
	}
	prefix := RunPrefix(p.config.ResultsRoot, page, runID, p.now())

	if existing, err := p.FindRun(ctx, runID); err == nil {
		return nil, fmt.Errorf("run %s already exists at %s", runID, existing.Prefix)
	} else if !errors.Is(err, ErrRunNotFound) {
		return nil, err
	}

	if err := objstore.PutJSON(ctx, p.objects, objstore.Join(prefix, BundlePath), s.Bundle); err != nil {
		return nil, fmt.Errorf("store source bundle: %w", err)
	}
	if s.Evidence != nil {
		if err := objstore.PutJSON(ctx, p.objects, objstore.Join(prefix, pillars.EvidencePath), s.Evidence); err != nil {
			return nil, fmt.Errorf("store evidence: %w", err)
		}
	}

	supplier := s.Supplier
	if supplier == "" {
		supplier = s.Bundle.Supplier
	}
	industry := s.Industry
	if industry == "" {
		industry = s.Bundle.Industry
	}
	input := map[string]any{
		"page":       page,
		"rowCount":   s.RowCount,
		"filters":    s.Filters,
		"csv_sha256": csvDigest(s.CSV),
		"company":    s.Company,
		"supplier":   supplier,
		"industry":   industry,
	}

	st, err := p.status.Patch(ctx, prefix, runstate.Patch{
		RunID: runID,
		State: model.StageEvidence,
		Input: input,
	}, &model.HistoryEntry{Phase: string(model.StageEvidence), Note: "submitted"})
	if err != nil {
		return nil, err
	}

	if err := p.queue.Send(ctx, p.config.Queue.Names.Evidence, queue.NewRunStage(runID, prefix, model.StageEvidence)); err != nil {
		return nil, fmt.Errorf("enqueue evidence stage: %w", err)
	}
	p.logger.Info("run submitted", zap.String("run_id", runID), zap.String("prefix", prefix))
	return &Run{RunID: runID, Prefix: prefix, Status: st}, nil
}

func csvDigest(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FindRun locates a run by id by scanning the results root for its status record
func (p *Pipeline) FindRun(ctx context.Context, runID string) (*Run, error) {
	paths, err := p.objects.List(ctx, p.config.ResultsRoot)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	suffix := "/" + runID + "/" + runstate.StatusFile
	for _, path := range paths {
		if !strings.HasSuffix(path, suffix) {
			continue
		}
		prefix := strings.TrimSuffix(path, runstate.StatusFile)
		st, err := p.status.Get(ctx, prefix)
		if err != nil {
			return nil, err
		}
		return &Run{RunID: runID, Prefix: prefix, Status: st}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// Runs lists runs newest first. limit is capped at MaxListedRuns.
func (p *Pipeline) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > MaxListedRuns {
		limit = MaxListedRuns
	}
	paths, err := p.objects.List(ctx, p.config.ResultsRoot)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var runs []Run
	for _, path := range paths {
		if !strings.HasSuffix(path, "/"+runstate.StatusFile) {
			continue
		}
		prefix := strings.TrimSuffix(path, runstate.StatusFile)
		st, err := p.status.Get(ctx, prefix)
		if err != nil {
			p.logger.Warn("skipping unreadable status", zap.String("prefix", prefix), zap.Error(err))
			continue
		}
		runs = append(runs, Run{RunID: st.RunID, Prefix: prefix, Status: st})
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return updatedAt(runs[i].Status).After(updatedAt(runs[j].Status))
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func updatedAt(st *model.Status) time.Time {
	if st == nil || st.Updated == nil {
		return time.Time{}
	}
	return *st.Updated
}

// Signal sends the finished signal of stage for a run, e.g. to replay a
// lost handoff
func (p *Pipeline) Signal(ctx context.Context, runID string, stage model.Stage) (*Run, error) {
	run, err := p.FindRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	msg, err := queue.NewAfter(runID, run.Prefix, stage)
	if err != nil {
		return nil, err
	}
	if err := p.queue.Send(ctx, p.config.Queue.Names.Router, msg); err != nil {
		return nil, fmt.Errorf("send signal: %w", err)
	}
	return run, nil
}

// Backlog reports messages waiting on each routed queue. It returns nil when
// the queue backend cannot count.
func (p *Pipeline) Backlog(ctx context.Context) (map[string]int, error) {
	counter, ok := p.queue.(interface {
		Depth(ctx context.Context, queue string) (int, error)
	})
	if !ok {
		return nil, nil
	}
	backlog := make(map[string]int, len(p.dispatcher.routes))
	for _, r := range p.dispatcher.routes {
		n, err := counter.Depth(ctx, r.queue)
		if err != nil {
			return nil, fmt.Errorf("queue depth %s: %w", r.queue, err)
		}
		backlog[r.queue] = n
	}
	return backlog, nil
}

// Serve consumes every queue until ctx is cancelled
func (p *Pipeline) Serve(ctx context.Context) error {
	p.logger.Info("serving", zap.Int("queues", len(p.dispatcher.routes)))
	return p.dispatcher.Run(ctx)
}

// RunToCompletion consumes queues until the run at prefix is Completed or
// Failed, and returns its final status
func (p *Pipeline) RunToCompletion(ctx context.Context, prefix string) (*model.Status, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.dispatcher.Run(gctx)
	})

	var final *model.Status
	g.Go(func() error {
		ticker := time.NewTicker(p.dispatcher.config.PollInterval)
		defer ticker.Stop()
		for {
			st, err := p.status.Get(gctx, prefix)
			if err == nil && st.State.IsTerminal() {
				final = st
				cancel()
				return nil
			}
			if err != nil && !objstore.IsNotFound(err) && gctx.Err() == nil {
				p.logger.Warn("status check failed", zap.String("prefix", prefix), zap.Error(err))
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	if final != nil {
		return final, nil
	}
	if err == nil {
		err = ctx.Err()
	}
	return nil, err
}

// cacheablePaths are the run artifacts that never change once written
var cacheablePaths = []string{
	BundlePath,
	pillars.RegistryPath,
	pillars.ArtifactPath,
	outline.ArtifactPath,
	outline.InventoryPath,
	SectionsPath,
	CampaignPath,
	CampaignMarkdownPath,
}

// Cacheable reports whether a store path may be served from a read cache.
// Status records and evidence are always read from the store.
func Cacheable(path string) bool {
	for _, p := range cacheablePaths {
		if strings.HasSuffix(path, "/"+p) {
			return true
		}
	}
	return false
}
