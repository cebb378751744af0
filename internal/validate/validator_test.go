package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/model"
)

func claim(id, title, url string, tier int, group string) model.Claim {
	return model.Claim{ClaimID: id, Title: title, URL: url, Tier: tier, TierGroup: group}
}

func TestValidator_AuditCleanEvidence(t *testing.T) {
	v := NewValidator(nil, 0)
	ev := model.EvidenceSet{Schema: model.EvidenceSchema, Claims: []model.Claim{
		claim("c1", "Spoilage rates", "https://www.fda.gov/food", 1, "primary"),
		claim("c2", "Analyst view", "https://www.gartner.com/en", 2, "secondary"),
		claim("c3", "Internal survey", "", 3, ""),
	}}

	warnings, err := v.Check(ev)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidator_AuditWarnings(t *testing.T) {
	v := NewValidator(nil, 0)
	ev := model.EvidenceSet{Claims: []model.Claim{
		claim("c1", "", "https://example.com/a", 1, ""),
		claim("c2", "Bad link", "ftp://files.example.com/x", 1, ""),
		claim("c3", "Overstated", "https://blog.example.com/post", 1, "primary"),
		claim("c4", "Odd group", "", 2, "gold"),
		claim("c5", "Negative tier", "", -1, ""),
		claim("c6", "Secondary blog", "https://blog.example.com/post", 2, "secondary"),
	}}

	warnings, err := v.Check(ev)
	require.NoError(t, err)

	got := make(map[string]string, len(warnings))
	for _, w := range warnings {
		assert.False(t, w.Fatal)
		got[w.ClaimID] = w.Problem
	}
	assert.Equal(t, map[string]string{
		"c1": ProblemEmptyTitle,
		"c2": ProblemInvalidURL,
		"c3": ProblemAuthorityMismatch,
		"c4": ProblemUnknownTierGroup,
		"c5": ProblemInvalidTier,
	}, got)
}

func TestValidator_FatalIdentityProblems(t *testing.T) {
	v := NewValidator(nil, 2)
	ev := model.EvidenceSet{Claims: []model.Claim{
		claim("c2", "a", "", 1, ""),
		claim("c2", "b", "", 1, ""),
		claim("c2", "c", "", 1, ""),
		claim("", "d", "", 1, ""),
		claim("c1", "e", "", 1, ""),
		claim("c1", "f", "", 1, ""),
	}}

	_, err := v.Check(ev)
	se, ok := model.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, model.CodeEvidenceInvalid, se.Code)
	assert.True(t, se.Permanent)
	assert.Equal(t, []string{"#3", "c1"}, se.IDs)
	assert.Contains(t, se.Message, "3 claim(s)")
}
