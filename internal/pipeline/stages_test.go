package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
)

func stageRun(t *testing.T, state model.Stage) (*objstore.MemoryStore, *runstate.Store) {
	t.Helper()
	objects := objstore.NewMemoryStore()
	status := runstate.New(objects, nil)
	_, err := status.Patch(context.Background(), testPrefix, runstate.Patch{RunID: "run-1", State: state}, nil)
	require.NoError(t, err)
	return objects, status
}

func runStage(h Handler, stage model.Stage) error {
	return h.Handle(context.Background(), queue.NewRunStage("run-1", testPrefix, stage))
}

func failure(t *testing.T, status *runstate.Store) *model.RunError {
	t.Helper()
	st, err := status.Get(context.Background(), testPrefix)
	require.NoError(t, err)
	require.Equal(t, model.StageFailed, st.State)
	require.NotNil(t, st.Error)
	return st.Error
}

func TestEvidenceHandler_BuildsRegistry(t *testing.T) {
	ctx := context.Background()
	objects, status := stageRun(t, model.StageEvidence)
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, BundlePath), testBundle()))
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, pillars.EvidencePath), testEvidence()))
	handoff := &recordingHandoff{}
	h := NewEvidenceHandler(objects, status, model.DefaultGateConfig(), handoff, nil)

	require.NoError(t, runStage(h, model.StageEvidence))

	reg, err := objstore.Load[model.Registry](ctx, objects, objstore.Join(testPrefix, pillars.RegistryPath))
	require.NoError(t, err)
	assert.Equal(t, model.RegistrySchema, reg.Schema)
	assert.Len(t, reg.Entries, 3)

	st, err := status.Get(ctx, testPrefix)
	require.NoError(t, err)
	assert.True(t, st.Flag(model.MarkerEvidenceDone))
	assert.Equal(t, reg.Hash, st.Text(model.MarkerRegistryHash))
	assert.Equal(t, "0", st.Text(model.MarkerRegistryWarnings))
	assert.Equal(t, "1", st.Text(model.MarkerEvidenceWarnings), "c1 claims primary authority for example.com")
	assert.Equal(t, []model.Stage{model.StageEvidence}, handoff.calls)

	// Redelivery repeats the handoff without rebuilding.
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, BundlePath), map[string]any{"schema": "garbage"}))
	require.NoError(t, runStage(h, model.StageEvidence))
	assert.Len(t, handoff.calls, 2)
}

func TestEvidenceHandler_FailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		bundle any
		code   string
	}{
		{"missing bundle", nil, model.CodeSourceBundleMissing},
		{"malformed bundle", "not an object", model.CodeSourceBundleInvalid},
		{"no categories", &model.SourceBundle{Schema: model.SourceBundleSchema}, model.CodeSourceBundleInvalid},
		{"wrong schema", &model.SourceBundle{Schema: "source-bundle-v0"}, model.CodeSchemaMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			objects, status := stageRun(t, model.StageEvidence)
			if tt.bundle != nil {
				require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, BundlePath), tt.bundle))
			}
			require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, pillars.EvidencePath), testEvidence()))
			handoff := &recordingHandoff{}

			require.Error(t, runStage(NewEvidenceHandler(objects, status, model.DefaultGateConfig(), handoff, nil), model.StageEvidence))
			runErr := failure(t, status)
			assert.Equal(t, tt.code, runErr.Code)
			assert.Equal(t, model.StageEvidence, runErr.Stage)
			assert.Empty(t, handoff.calls)
		})
	}
}

func TestEvidenceHandler_DuplicateClaimIDs(t *testing.T) {
	ctx := context.Background()
	objects, status := stageRun(t, model.StageEvidence)
	evidence := testEvidence()
	evidence.Claims = append(evidence.Claims, evidence.Claims[1])
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, BundlePath), testBundle()))
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, pillars.EvidencePath), evidence))

	require.Error(t, runStage(NewEvidenceHandler(objects, status, model.DefaultGateConfig(), &recordingHandoff{}, nil), model.StageEvidence))
	runErr := failure(t, status)
	assert.Equal(t, model.CodeEvidenceInvalid, runErr.Code)
	assert.Equal(t, []string{"c2"}, runErr.IDs)

	exists, err := objstore.Exists(ctx, objects, objstore.Join(testPrefix, pillars.RegistryPath))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStageHandlers_MissingStatus(t *testing.T) {
	objects := objstore.NewMemoryStore()
	status := runstate.New(objects, nil)
	h := NewAssembleHandler(objects, status, model.DefaultGateConfig(), &recordingHandoff{}, nil)

	err := runStage(h, model.StageAssemble)
	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.CodeStatusMissing, se.Code)
}

func TestStageHandlers_SkipFailedRun(t *testing.T) {
	objects, status := stageRun(t, model.StageFailed)
	handoff := &recordingHandoff{}
	h := NewEvidenceHandler(objects, status, model.DefaultGateConfig(), handoff, nil)

	require.NoError(t, runStage(h, model.StageEvidence))
	assert.Empty(t, handoff.calls)
}

func TestSectionsHandler_OutlineMissing(t *testing.T) {
	objects, status := stageRun(t, model.StageSectionWrites)
	gate := model.DefaultGateConfig()
	writer := NewSectionWriter(&scriptedLLM{}, gate, time.Second, nil)
	h := NewSectionsHandler(objects, status, writer, gate, 2, &recordingHandoff{}, nil)

	require.Error(t, runStage(h, model.StageSectionWrites))
	assert.Equal(t, model.CodeOutlineMissing, failure(t, status).Code)
}

func TestAssembleHandler_SectionsMissing(t *testing.T) {
	objects, status := stageRun(t, model.StageAssemble)
	h := NewAssembleHandler(objects, status, model.DefaultGateConfig(), &recordingHandoff{}, nil)

	require.Error(t, runStage(h, model.StageAssemble))
	assert.Equal(t, model.CodeSectionsMissing, failure(t, status).Code)
}

func TestDecodeSection(t *testing.T) {
	tests := []struct {
		name string
		obj  map[string]any
		ok   bool
	}{
		{"valid", map[string]any{"headline": "H", "body": "B", "claim_ids": []any{"c1"}}, true},
		{"no citations", map[string]any{"headline": "H", "body": "B", "claim_ids": []any{}}, true},
		{"empty headline", map[string]any{"headline": " ", "body": "B", "claim_ids": []any{}}, false},
		{"long headline", map[string]any{"headline": strings.Repeat("h", 11), "body": "B", "claim_ids": []any{}}, false},
		{"missing body", map[string]any{"headline": "H", "claim_ids": []any{}}, false},
		{"claim ids not array", map[string]any{"headline": "H", "body": "B", "claim_ids": "c1"}, false},
		{"non-string id", map[string]any{"headline": "H", "body": "B", "claim_ids": []any{1.0}}, false},
		{"extra field", map[string]any{"headline": "H", "body": "B", "claim_ids": []any{}, "notes": "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sec, err := decodeSection("emails", tt.obj, 10)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "emails", sec.Name)
				return
			}
			se, ok := model.AsStageError(err)
			require.True(t, ok)
			assert.Equal(t, model.CodeGenerationMalformed, se.Code)
		})
	}
}

func TestSectionSchema(t *testing.T) {
	s := SectionSchema([]string{"c1"}, 50)
	props := s["properties"].(map[string]any)
	items := props["claim_ids"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, []any{"c1"}, items["enum"])
	assert.Equal(t, 50, props["headline"].(map[string]any)["maxLength"])

	none := SectionSchema(nil, 50)
	assert.Equal(t, 0, none["properties"].(map[string]any)["claim_ids"].(map[string]any)["maxItems"])
}

func TestEvidenceLog_OnlyAllowedCitedClaims(t *testing.T) {
	sections := []model.Section{
		{Name: "a", ClaimIDs: []string{"c2", "ev-fleet-7"}},
		{Name: "b", ClaimIDs: []string{"c2", "missing"}},
	}
	log := EvidenceLog(sections, *testEvidence(), []string{"c1", "c2", "missing"})

	want := []model.InventoryItem{
		{ClaimID: "c2", Title: "Compliance reporting saves audit time", URL: "https://example.com/b", Tier: 2, TierGroup: "secondary", Allowed: true},
	}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("evidence log mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderMarkdown(t *testing.T) {
	c := &model.Campaign{
		RunID:    "run-1",
		Supplier: "Acme Freight",
		Industry: "Cold chain",
		Sections: []model.Section{
			{Name: "landing_page", Headline: "See spoilage coming", Body: "Telemetry flags excursions.", ClaimIDs: []string{"c1"}},
		},
		EvidenceLog: []model.InventoryItem{{ClaimID: "c1", Title: "Telemetry cuts spoilage", URL: "https://example.com/a", Tier: 1}},
	}

	md := RenderMarkdown(c)
	assert.Contains(t, md, "# Acme Freight campaign")
	assert.Contains(t, md, "## Landing Page")
	assert.Contains(t, md, "### See spoilage coming")
	assert.Contains(t, md, "Sources: [1]")
	assert.Contains(t, md, "1. Telemetry cuts spoilage (tier 1) https://example.com/a")
}

func TestAssembleHandler_DuplicateClaimIDsFailClosed(t *testing.T) {
	ctx := context.Background()
	objects, status := stageRun(t, model.StageAssemble)
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, SectionsPath), model.Sections{Schema: model.SectionsSchema}))
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, pillars.ArtifactPath), model.ContentPillars{
		Schema:           model.ContentPillarsSchema,
		RequiredClaimIDs: []string{"c1"},
	}))
	evidence := testEvidence()
	edited := evidence.Claims[0]
	edited.Summary = "Telemetry eliminated spoilage entirely"
	evidence.Claims = append([]model.Claim{edited}, evidence.Claims...)
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(testPrefix, pillars.EvidencePath), evidence))
	handoff := &recordingHandoff{}

	require.Error(t, runStage(NewAssembleHandler(objects, status, model.DefaultGateConfig(), handoff, nil), model.StageAssemble))
	runErr := failure(t, status)
	assert.Equal(t, model.CodeEvidenceInvalid, runErr.Code)
	assert.Equal(t, []string{"c1"}, runErr.IDs)
	assert.Empty(t, handoff.calls)

	exists, err := objstore.Exists(ctx, objects, objstore.Join(testPrefix, CampaignPath))
	require.NoError(t, err)
	assert.False(t, exists)
}
