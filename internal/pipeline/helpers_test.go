package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/llm"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/outline"
	"github.com/ppiankov/provenant/internal/queue"
)

func testBundle() *model.SourceBundle {
	return &model.SourceBundle{
		Schema:   model.SourceBundleSchema,
		Supplier: "Acme Freight",
		Industry: "Cold chain",
		Categories: []model.SourceCategory{
			{Name: "Supplier strengths", Kind: model.SourceKindSupplier, Items: []model.SourceItem{
				{Title: "Real-time temperature telemetry", Body: "Sensors report cold chain temperature every minute"},
				{Title: "Automated compliance reporting", Body: "Audit-ready HACCP compliance reports"},
			}},
			{Name: "Industry risks", Kind: model.SourceKindIndustry, Items: []model.SourceItem{
				{Title: "Spoilage risk", Body: "Temperature excursions spoil cold chain shipments"},
			}},
		},
	}
}

func testEvidence() *model.EvidenceSet {
	return &model.EvidenceSet{Schema: model.EvidenceSchema, Claims: []model.Claim{
		{ClaimID: "c1", Title: "Telemetry cuts spoilage", Summary: "Continuous temperature telemetry reduced cold chain spoilage by 30%", URL: "https://example.com/a", SourceType: "analyst", Tier: 1, TierGroup: "primary"},
		{ClaimID: "c2", Title: "Compliance reporting saves audit time", Summary: "Automated HACCP compliance reports cut audit preparation", URL: "https://example.com/b", SourceType: "press", Tier: 2, TierGroup: "secondary"},
		{ClaimID: "ev-fleet-7", Title: "Fleet electrification survey", Summary: "Most carriers plan electric vans", Tier: 3},
	}}
}

func testConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Queue.RatePerQueue = 0
	cfg.Queue.PollInterval = 10 * time.Millisecond
	cfg.Queue.MaxAttempts = 3
	cfg.Store.RetryBackoff = time.Millisecond
	cfg.LLM.Timeout = 5
	return cfg
}

// scriptedLLM answers outline and section requests. Sections cite every id
// their schema allows, plus leak when set. headline overrides the section
// headline when set.
type scriptedLLM struct {
	mu         sync.Mutex
	leak       string
	headline   string
	err        error
	requests   map[string]int
	lastPrompt string
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	s.mu.Lock()
	if s.requests == nil {
		s.requests = make(map[string]int)
	}
	s.requests[req.SchemaName]++
	s.lastPrompt = req.UserPrompt
	err, leak, headline := s.err, s.leak, s.headline
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ids := enumIDs(req.Schema)
	var obj map[string]any
	switch req.SchemaName {
	case outline.SchemaName:
		sections := make(map[string]any)
		for _, name := range model.OutlineSectionNames {
			sections[name] = map[string]any{
				"headline":   "Keep cold chains cold",
				"key_points": []any{"Continuous telemetry", "Audit-ready reports"},
				"pillar_ids": []any{},
				"claim_ids":  ids,
			}
		}
		obj = map[string]any{"sections": sections}
	case SectionSchemaName:
		if leak != "" {
			ids = append(ids, leak)
		}
		if headline == "" {
			headline = "Spoilage you can see coming"
		}
		obj = map[string]any{
			"headline":  headline,
			"body":      "Telemetry flags temperature excursions before loads are lost.",
			"claim_ids": ids,
		}
	}

	if req.Validate != nil {
		if err := req.Validate(obj); err != nil {
			return nil, &llm.GenerationError{Kind: llm.ErrMalformedResponse, Provider: "scripted", Attempts: 1, Err: err}
		}
	}
	return &llm.GenerateResponse{Object: obj, Model: "scripted", Format: llm.FormatJSONSchema, Attempts: 1}, nil
}

func (s *scriptedLLM) set(fn func(s *scriptedLLM)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *scriptedLLM) prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

func (s *scriptedLLM) calls(schema string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[schema]
}

// enumIDs finds the claim id enum anywhere in a response schema
func enumIDs(schema map[string]any) []any {
	var found []any
	var walk func(v any)
	walk = func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		if enum, ok := m["enum"].([]any); ok && found == nil {
			found = append([]any(nil), enum...)
		}
		for _, child := range m {
			walk(child)
		}
	}
	walk(schema)
	if found == nil {
		return []any{}
	}
	return found
}

// recordingHandoff counts stage-finished signals
type recordingHandoff struct {
	mu    sync.Mutex
	calls []model.Stage
}

func (r *recordingHandoff) Finished(ctx context.Context, runID, prefix string, stage model.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, stage)
	return nil
}

func submit(t *testing.T, p *Pipeline, evidence *model.EvidenceSet) *Run {
	t.Helper()
	run, err := p.Submit(context.Background(), Submission{
		Page:     "Demo Page",
		Company:  "Acme",
		RowCount: 12,
		CSV:      []byte("a,b\n1,2\n"),
		Bundle:   testBundle(),
		Evidence: evidence,
	})
	require.NoError(t, err)
	return run
}

func newTestPipeline(gen llm.Generator) (*Pipeline, *objstore.MemoryStore, *queue.MemoryQueue) {
	objects := objstore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	return New(testConfig(), objects, q, gen, nil), objects, q
}
