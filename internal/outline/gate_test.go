package outline

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
)

func TestCheckSuperset_CapsReportedIDs(t *testing.T) {
	var required []string
	for i := 0; i < 70; i++ {
		required = append(required, fmt.Sprintf("m%02d", i))
	}
	err := CheckSuperset(required, map[string]model.Claim{}, 50)

	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.CodeRequiredClaimsMissing, se.Code)
	assert.Len(t, se.IDs, 50)
	assert.Equal(t, required[:50], se.IDs)
}

func TestCheckSuperset_AllPresent(t *testing.T) {
	assert.NoError(t, CheckSuperset([]string{"c1", "c2"}, testEvidence().Index(), 50))
}

func TestCheckFingerprints(t *testing.T) {
	ev := testEvidence()
	recorded := map[string]string{}
	for _, c := range ev.Claims {
		recorded[c.ClaimID] = hashing.SemanticClaimFingerprint(c)
	}
	require.NoError(t, CheckFingerprints([]string{"c1", "c2"}, recorded, ev.Index(), 50))

	ev.Claims[1].TierGroup = "primary"
	err := CheckFingerprints([]string{"c1", "c2"}, recorded, ev.Index(), 50)
	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.CodeFingerprintMismatch, se.Code)
	assert.Equal(t, []string{"c2"}, se.IDs)
	assert.Contains(t, se.Details[0], recorded["c2"])
}

func TestBuildVisibleSlice(t *testing.T) {
	long := strings.Repeat("x", 500)
	ev := model.EvidenceSet{Claims: []model.Claim{
		{ClaimID: "c9", Title: "nine", Summary: long},
		{ClaimID: "c1", Title: "one"},
		{ClaimID: "secret", Title: "not allowed"},
		{ClaimID: "c5", Title: "five"},
	}}
	gate := model.DefaultGateConfig()

	slice, err := BuildVisibleSlice([]string{"c1", "c5", "c9"}, ev, gate)
	require.NoError(t, err)

	var ids []string
	for _, c := range slice {
		ids = append(ids, c.ClaimID)
	}
	if diff := cmp.Diff([]string{"c1", "c5", "c9"}, ids); diff != "" {
		t.Errorf("visible ids mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, gate.VisibleSummaryChars, utf8.RuneCountInString(slice[2].Summary))

	gate.VisibleClaimCap = 2
	capped, err := BuildVisibleSlice([]string{"c1", "c5", "c9"}, ev, gate)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestAssertContained(t *testing.T) {
	err := assertContained([]VisibleClaim{{ClaimID: "c1"}, {ClaimID: "x"}}, toSet([]string{"c1"}))
	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.CodeVisibleSliceLeak, se.Code)
	assert.Equal(t, []string{"x"}, se.IDs)
}

func TestBuildInventory(t *testing.T) {
	ev := testEvidence()
	ev.Claims = append(ev.Claims, unrelatedClaim())
	inv := BuildInventory(ev, []string{"c1"})

	assert.Equal(t, model.InventorySchema, inv.Schema)
	assert.Equal(t, 3, inv.Total)
	allowed := map[string]bool{}
	for _, it := range inv.Claims {
		allowed[it.ClaimID] = it.Allowed
	}
	assert.Equal(t, map[string]bool{"c1": true, "c2": false, "ev-fleet-7": false}, allowed)
}

func TestGuardrail(t *testing.T) {
	ev := testEvidence()
	ev.Claims = append(ev.Claims, unrelatedClaim())
	g := NewGuardrail([]string{"c1", "c2"}, ev)

	tests := []struct {
		name   string
		output any
		want   []string
	}{
		{"clean", outlineObject([]string{"c1", "c2"}), []string{}},
		{"claim_ids array", outlineObject([]string{"c1", "c9"}), []string{"c9"}},
		{"nested claim_id", map[string]any{"a": []any{map[string]any{"b": map[string]any{"claim_id": "zz"}}}}, []string{"zz"}},
		{"claimRefs objects", map[string]any{"claimRefs": []any{map[string]any{"claim_id": "c1"}, map[string]any{"claim_id": "q"}}}, []string{"q"}},
		{"known id in prose", map[string]any{"headline": "As ev-fleet-7 shows, vans go electric"}, []string{"ev-fleet-7"}},
		{"allowed id in prose", map[string]any{"headline": "See c1"}, []string{}},
		{"made-up id in key_points", map[string]any{"key_points": []any{"see claim c9"}}, []string{"c9"}},
		{"made-up id with known prefix", map[string]any{"body": "per ev-fleet-12."}, []string{"ev-fleet-12"}},
		{"figures and codes are not ids", map[string]any{"body": "CO2 down 30% since 2024, Q3 c3po"}, []string{}},
		{"typed sections", []model.Section{{Name: "emails", Headline: "Cold", Body: "Body", ClaimIDs: []string{"c1", "c7"}}}, []string{"c7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Disallowed(tt.output)
			assert.Equal(t, tt.want, got)
			if len(tt.want) == 0 {
				assert.NoError(t, g.Check(tt.output, 50))
			} else {
				se, ok := model.AsStageError(g.Check(tt.output, 50))
				require.True(t, ok)
				assert.Equal(t, model.CodeDisallowedClaimReference, se.Code)
			}
		})
	}
}

func TestSchema_PinsClaimIDs(t *testing.T) {
	s := Schema([]string{"c1", "c2"}, 100)
	sections := s["properties"].(map[string]any)["sections"].(map[string]any)
	assert.Len(t, sections["required"], len(model.OutlineSectionNames))

	sec := sections["properties"].(map[string]any)["emails"].(map[string]any)
	claimIDs := sec["properties"].(map[string]any)["claim_ids"].(map[string]any)
	items := claimIDs["items"].(map[string]any)
	assert.Equal(t, []any{"c1", "c2"}, items["enum"])
	assert.Equal(t, false, sec["additionalProperties"])
}
