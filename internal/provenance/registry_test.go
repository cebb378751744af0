package provenance

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/provenant/internal/model"
)

func sampleBundle() *model.SourceBundle {
	return &model.SourceBundle{
		Schema:   model.SourceBundleSchema,
		Supplier: "Acme Freight",
		Industry: "Cold chain",
		Categories: []model.SourceCategory{
			{
				Name: "Supplier strengths",
				Kind: model.SourceKindSupplier,
				Items: []model.SourceItem{
					{Title: "Real-time telemetry", Body: "Sensors report temperature every minute", Tags: []string{"IoT", "sensors"}},
					{Title: "Carbon reporting", Children: []model.SourceItem{{Title: "Scope 3 dashboards"}}},
				},
			},
			{
				Name:  "Industry risks",
				Kind:  model.SourceKindIndustry,
				Items: []model.SourceItem{{ID: "ind-spoilage", Title: "Spoilage", Body: "Temperature excursions spoil shipments"}},
			},
		},
	}
}

func TestBuild_Entries(t *testing.T) {
	reg, err := NewBuilder(nil).Build(sampleBundle())
	require.NoError(t, err)

	assert.Equal(t, model.RegistrySchema, reg.Schema)
	assert.Len(t, reg.Entries, 4)
	assert.Empty(t, reg.Warnings)
	assert.NotEmpty(t, reg.Hash)

	declared, ok := reg.Entries["ind-spoilage"]
	require.True(t, ok)
	assert.True(t, declared.Declared)
	assert.Equal(t, model.SourceKindIndustry, declared.Type)
	assert.Equal(t, "industry_risks/0", declared.Path)

	suppliers := EntriesByKind(reg, model.SourceKindSupplier)
	require.Len(t, suppliers, 3)
	assert.Equal(t, []string{"supplier_strengths/0", "supplier_strengths/1", "supplier_strengths/1/0"},
		[]string{suppliers[0].Path, suppliers[1].Path, suppliers[2].Path})
	for _, e := range suppliers {
		assert.True(t, strings.HasPrefix(e.PillarID, "src_"), e.PillarID)
		assert.Len(t, e.PillarID, len("src_")+16)
	}
	assert.Equal(t, []string{"iot", "sensors"}, suppliers[0].Tags)
}

func TestBuild_Deterministic(t *testing.T) {
	first, err := NewBuilder(nil).Build(sampleBundle())
	require.NoError(t, err)
	second, err := NewBuilder(nil).Build(sampleBundle())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("registry differs between identical ingestions (-first +second):\n%s", diff)
	}
}

func TestBuild_IDIgnoresWhitespaceAndCase(t *testing.T) {
	a := sampleBundle()
	b := sampleBundle()
	b.Categories[0].Items[0].Title = "  real-time   TELEMETRY "
	b.Categories[0].Items[0].Tags = []string{"sensors", "iot", "IOT"}

	ra, err := NewBuilder(nil).Build(a)
	require.NoError(t, err)
	rb, err := NewBuilder(nil).Build(b)
	require.NoError(t, err)

	ea := EntriesByKind(ra, model.SourceKindSupplier)[0]
	eb := EntriesByKind(rb, model.SourceKindSupplier)[0]
	assert.Equal(t, ea.PillarID, eb.PillarID)
	assert.Equal(t, ea.ContentHash, eb.ContentHash)
}

func TestBuild_IDDependsOnContent(t *testing.T) {
	a := sampleBundle()
	b := sampleBundle()
	b.Categories[0].Items[0].Body = "Sensors report temperature every second"

	ra, err := NewBuilder(nil).Build(a)
	require.NoError(t, err)
	rb, err := NewBuilder(nil).Build(b)
	require.NoError(t, err)

	assert.NotEqual(t,
		EntriesByKind(ra, model.SourceKindSupplier)[0].PillarID,
		EntriesByKind(rb, model.SourceKindSupplier)[0].PillarID)
	assert.NotEqual(t, ra.Hash, rb.Hash)
}

func TestBuild_DuplicatesAreWarnings(t *testing.T) {
	bundle := sampleBundle()
	bundle.Categories[1].Items = append(bundle.Categories[1].Items,
		model.SourceItem{Key: "ind-spoilage", Title: "Spoilage again"})

	reg, err := NewBuilder(nil).Build(bundle)
	require.NoError(t, err)

	require.Len(t, reg.Warnings, 1)
	assert.Equal(t, model.DuplicateWarning{PillarID: "ind-spoilage", Path: "industry_risks/1", FirstPath: "industry_risks/0"}, reg.Warnings[0])
	assert.Equal(t, "Spoilage", reg.Entries["ind-spoilage"].Title, "first occurrence wins")
}

func TestBuild_InvalidBundle(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.SourceBundle)
		code   string
	}{
		{"schema", func(b *model.SourceBundle) { b.Schema = "source-bundle-v0" }, model.CodeSchemaMismatch},
		{"no categories", func(b *model.SourceBundle) { b.Categories = nil }, model.CodeSourceBundleInvalid},
		{"empty title", func(b *model.SourceBundle) { b.Categories[0].Items[0].Title = " " }, model.CodeSourceBundleInvalid},
		{"bad kind", func(b *model.SourceBundle) { b.Categories[0].Kind = "vendor" }, model.CodeSourceBundleInvalid},
		{"bad mode", func(b *model.SourceBundle) { b.Categories[0].Items[1].Children[0].Mode = "maybe" }, model.CodeSourceBundleInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sampleBundle()
			tt.mutate(b)
			_, err := NewBuilder(nil).Build(b)
			se, ok := model.AsStageError(err)
			require.True(t, ok, "expected StageError, got %v", err)
			assert.Equal(t, tt.code, se.Code)
		})
	}
}

func TestParseBundle_Formats(t *testing.T) {
	jsonDoc := `{"schema":"source-bundle-v1","supplier":"Acme","categories":[{"name":"Supplier strengths","items":[{"title":"Telemetry"}]}]}`
	yamlDoc := `
supplier: Acme
categories:
  - name: Supplier strengths
    items:
      - title: Telemetry
`
	htmlDoc := `<meta name="supplier" content="Acme"><h2>Supplier strengths</h2><ul><li>Telemetry</li></ul>`

	for _, tc := range []struct {
		format Format
		doc    string
	}{{FormatJSON, jsonDoc}, {FormatYAML, yamlDoc}, {FormatHTML, htmlDoc}} {
		t.Run(string(tc.format), func(t *testing.T) {
			b, err := ParseBundle([]byte(tc.doc), tc.format)
			require.NoError(t, err)
			assert.Equal(t, model.SourceBundleSchema, b.Schema)
			assert.Equal(t, "Acme", b.Supplier)
			require.Len(t, b.Categories, 1)
			assert.Equal(t, model.SourceKindSupplier, b.Categories[0].Kind)
			require.NoError(t, ValidateBundle(b))
		})
	}

	_, err := ParseBundle([]byte("{"), FormatJSON)
	assert.Error(t, err)
	_, err = ParseBundle([]byte("x"), "toml")
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("bundle.YML"))
	assert.Equal(t, FormatHTML, FormatFromPath("/tmp/brief.html"))
	assert.Equal(t, FormatJSON, FormatFromPath("bundle.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("bundle"))
}

func TestComparePaths(t *testing.T) {
	assert.Negative(t, ComparePaths("a/2", "a/10"))
	assert.Positive(t, ComparePaths("b/0", "a/0"))
	assert.Negative(t, ComparePaths("a/1", "a/1/0"))
	assert.Zero(t, ComparePaths("a/1", "a/1"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "supplier_strengths", Slug("Supplier Strengths!"))
	assert.Equal(t, "category", Slug("***"))
}
