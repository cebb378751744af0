package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/llm"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/outline"
	"github.com/ppiankov/provenant/internal/pillars"
)

func TestRunPrefix(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "results/campaign/demo/2026/03/01/run-1/", RunPrefix("results/campaign/", "demo", "run-1", at))
	assert.Equal(t, "results/campaign/demo/2026/03/01/run-1/", RunPrefix("results/campaign", "demo", "run-1", at))
}

func TestPipeline_DrainCompletesRun(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedLLM{}
	p, objects, q := newTestPipeline(gen)

	run := submit(t, p, testEvidence())
	assert.True(t, strings.HasPrefix(run.Prefix, "results/campaign/demo_page/"))
	assert.True(t, strings.HasSuffix(run.Prefix, "/"+run.RunID+"/"))

	require.NoError(t, p.Dispatcher().Drain(ctx))

	st, err := p.status.Get(ctx, run.Prefix)
	require.NoError(t, err)
	require.Nil(t, st.Error)
	assert.Equal(t, model.StageCompleted, st.State)
	for _, stage := range []model.Stage{model.StageEvidence, model.StagePillarsSynth, model.StageOutline, model.StageSectionWrites, model.StageAssemble} {
		assert.True(t, st.Flag(model.DoneMarker(stage)), "done marker of %s", stage)
		assert.True(t, st.Flag(model.AfterSentMarker(stage)), "sent marker of %s", stage)
	}
	assert.NotEmpty(t, st.Text(model.MarkerRegistryHash))
	assert.NotEmpty(t, st.Text(model.MarkerSectionsHash))
	assert.NotEmpty(t, st.Text(model.MarkerCampaignHash))
	assert.NotEmpty(t, st.Text(model.MarkerSupportIndex))
	assert.Equal(t, "Acme Freight", st.InputString("supplier"))
	assert.Len(t, st.InputString("csv_sha256"), 64)

	campaign, err := objstore.Load[model.Campaign](ctx, objects, objstore.Join(run.Prefix, CampaignPath))
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSchema, campaign.Schema)
	assert.Len(t, campaign.Sections, len(model.OutlineSectionNames))
	ids := make([]string, 0, len(campaign.EvidenceLog))
	for _, item := range campaign.EvidenceLog {
		ids = append(ids, item.ClaimID)
	}
	assert.Equal(t, []string{"c1", "c2"}, ids)
	require.NotNil(t, campaign.Support)
	assert.Equal(t, st.Text(model.MarkerSupportIndex), strconv.Itoa(campaign.Support.Index))

	md, err := objstore.GetText(ctx, objects, objstore.Join(run.Prefix, CampaignMarkdownPath))
	require.NoError(t, err)
	assert.Contains(t, md, "## Executive Summary")
	assert.Contains(t, md, "## Evidence")
	assert.Contains(t, md, "**Support index:**")
	assert.NotContains(t, md, "Fleet electrification")

	assert.Equal(t, 1, gen.calls(outline.SchemaName))
	assert.Equal(t, len(model.OutlineSectionNames), gen.calls(SectionSchemaName))
	for _, name := range []string{"evidence", "pillars", "outline", "sections", "assemble", "router"} {
		assert.Zero(t, q.Pending(name), "queue %s", name)
	}
	assert.Len(t, q.Sent("outline"), 1)
}

func TestPipeline_Backlog(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(&scriptedLLM{})
	submit(t, p, testEvidence())

	backlog, err := p.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backlog["evidence"])
	assert.Equal(t, 0, backlog["router"])
	assert.Len(t, backlog, 6)
}

func TestPipeline_RunToCompletion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, _, _ := newTestPipeline(&scriptedLLM{})

	run := submit(t, p, testEvidence())
	st, err := p.RunToCompletion(ctx, run.Prefix)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, st.State)
}

func TestPipeline_EvidenceMissingFailsRun(t *testing.T) {
	ctx := context.Background()
	p, objects, _ := newTestPipeline(&scriptedLLM{})

	run := submit(t, p, nil)
	require.NoError(t, p.Dispatcher().Drain(ctx))

	st, err := p.status.Get(ctx, run.Prefix)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, model.CodeEvidenceMissing, st.Error.Code)
	assert.Equal(t, model.StageEvidence, st.Error.Stage)

	exists, err := objstore.Exists(ctx, objects, objstore.Join(run.Prefix, pillars.RegistryPath))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPipeline_SectionLeakFailsRun(t *testing.T) {
	ctx := context.Background()
	p, objects, _ := newTestPipeline(&scriptedLLM{leak: "ev-fleet-7"})

	run := submit(t, p, testEvidence())
	require.NoError(t, p.Dispatcher().Drain(ctx))

	st, err := p.status.Get(ctx, run.Prefix)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, st.State)
	require.NotNil(t, st.Error)
	assert.Equal(t, model.CodeDisallowedClaimReference, st.Error.Code)
	assert.Equal(t, model.StageSectionWrites, st.Error.Stage)
	assert.Equal(t, []string{"ev-fleet-7"}, st.Error.IDs)

	for _, path := range []string{SectionsPath, CampaignPath} {
		exists, err := objstore.Exists(ctx, objects, objstore.Join(run.Prefix, path))
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
}

func TestPipeline_GenerationUnavailableFailsRun(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedLLM{err: &llm.GenerationError{Kind: llm.ErrUnavailable, Provider: "scripted", Attempts: 3, Err: errors.New("down")}}
	p, _, _ := newTestPipeline(gen)

	run := submit(t, p, testEvidence())
	require.NoError(t, p.Dispatcher().Drain(ctx))

	st, err := p.status.Get(ctx, run.Prefix)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, st.State)
	assert.Equal(t, model.CodeGenerationUnavailable, st.Error.Code)
	assert.Equal(t, model.StageOutline, st.Error.Stage)
	assert.True(t, st.Flag(model.MarkerPillarsDone))
}

func TestPipeline_SignalReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, _, q := newTestPipeline(&scriptedLLM{})

	run := submit(t, p, testEvidence())
	require.NoError(t, p.Dispatcher().Drain(ctx))

	_, err := p.Signal(ctx, run.RunID, model.StagePillarsSynth)
	require.NoError(t, err)
	require.NoError(t, p.Dispatcher().Drain(ctx))

	assert.Len(t, q.Sent("outline"), 1)
	st, err := p.status.Get(ctx, run.Prefix)
	require.NoError(t, err)
	assert.Equal(t, model.StageCompleted, st.State)
}

func TestPipeline_FindRunAndRuns(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(&scriptedLLM{})

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, submit(t, p, testEvidence()).RunID)
	}

	run, err := p.FindRun(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, ids[1], run.RunID)
	assert.Equal(t, model.StageEvidence, run.Status.State)

	_, err = p.FindRun(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	runs, err := p.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[1], runs[1].RunID)
}

func TestPipeline_SubmitRejectsDuplicatesAndMissingBundle(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newTestPipeline(&scriptedLLM{})

	_, err := p.Submit(ctx, Submission{RunID: "run-1", Bundle: testBundle()})
	require.NoError(t, err)
	_, err = p.Submit(ctx, Submission{RunID: "run-1", Bundle: testBundle()})
	assert.Error(t, err)

	_, err = p.Submit(ctx, Submission{RunID: "run-2"})
	assert.Error(t, err)

	_, err = p.Submit(ctx, Submission{RunID: "../escape", Bundle: testBundle()})
	assert.Error(t, err)
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{testPrefix + "provenance/registry.json", true},
		{testPrefix + "outline/outline.json", true},
		{testPrefix + "final/campaign.md", true},
		{testPrefix + "status.json", false},
		{testPrefix + "evidence/claims.json", false},
		{"provenance/registry.json", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Cacheable(tt.path), tt.path)
	}
}
