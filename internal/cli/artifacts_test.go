package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/pipeline"
	"github.com/ppiankov/provenant/internal/queue"
	"github.com/ppiankov/provenant/internal/runstate"
)

// storedRun places a completed run's status and campaign in a fresh store
func storedRun(t *testing.T) (*pipeline.Pipeline, string) {
	t.Helper()
	ctx := context.Background()
	cfg := model.DefaultConfig()
	objects := objstore.NewMemoryStore()
	runID := "run-42"
	prefix := pipeline.RunPrefix(cfg.ResultsRoot, "demo", runID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(prefix, runstate.StatusFile), model.Status{RunID: runID, State: model.StageCompleted}))
	require.NoError(t, objstore.PutJSON(ctx, objects, objstore.Join(prefix, pipeline.CampaignPath), model.Campaign{
		Schema:   model.CampaignSchema,
		RunID:    runID,
		Supplier: "Acme Freight",
		Sections: []model.Section{{Name: "emails", Headline: "Keep loads cold", Body: "Telemetry catches excursions.", ClaimIDs: []string{"c1"}}},
		EvidenceLog: []model.InventoryItem{
			{ClaimID: "c1", Title: "Telemetry cuts spoilage", Tier: 1, Allowed: true},
		},
	}))
	return pipeline.New(cfg, objects, queue.NewMemoryQueue(), unavailableGenerator{}, nil), runID
}

func TestFetchRun(t *testing.T) {
	p, runID := storedRun(t)

	var out bytes.Buffer
	require.NoError(t, fetchRun(context.Background(), p, &out, runID, "status"))
	assert.Contains(t, out.String(), `"state": "Completed"`)
	assert.Equal(t, byte('\n'), out.Bytes()[out.Len()-1])

	out.Reset()
	require.NoError(t, fetchRun(context.Background(), p, &out, runID, "evidence"))
	assert.Contains(t, out.String(), `"claim_id": "c1"`)

	assert.Error(t, fetchRun(context.Background(), p, &out, runID, "markdown"), "markdown is written by Assemble only")
	assert.Error(t, fetchRun(context.Background(), p, &out, "missing", "campaign"))
}

func TestDownloadRun(t *testing.T) {
	p, runID := storedRun(t)
	path := filepath.Join(t.TempDir(), "export.md")

	got, err := downloadRun(context.Background(), p, runID, path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Acme Freight campaign")
	assert.Contains(t, string(data), "### Keep loads cold")
	assert.Contains(t, string(data), "Sources: [1]")
	assert.Contains(t, string(data), "1. Telemetry cuts spoilage (tier 1)")
}
