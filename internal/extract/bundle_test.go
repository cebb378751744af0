package extract

import (
	"strings"
	"testing"

	"github.com/ppiankov/provenant/internal/model"
)

func TestBundleExtractor_Categories(t *testing.T) {
	extractor := NewBundleExtractor()

	doc := `
	<html>
	<head>
		<meta name="supplier" content="Acme Freight">
		<meta name="industry" content="Cold chain logistics">
		<script>var ignored = "<li>nope</li>";</script>
	</head>
	<body>
		<h2>Supplier strengths</h2>
		<ul>
			<li data-id="sup-telemetry" data-tags="iot, sensors">Real-time telemetry: Temperature sensors report every minute.</li>
			<li>Carbon reporting
				<ul><li>Scope 3 dashboards</li></ul>
			</li>
		</ul>
		<h2 data-kind="industry">What keeps buyers up at night</h2>
		<ol><li>Spoilage: Temperature excursions spoil shipments.</li></ol>
	</body>
	</html>
	`

	bundle, err := extractor.Extract(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if bundle.Schema != model.SourceBundleSchema {
		t.Errorf("Expected schema %s, got %s", model.SourceBundleSchema, bundle.Schema)
	}
	if bundle.Supplier != "Acme Freight" || bundle.Industry != "Cold chain logistics" {
		t.Errorf("Unexpected supplier/industry: %q / %q", bundle.Supplier, bundle.Industry)
	}
	if len(bundle.Categories) != 2 {
		t.Fatalf("Expected 2 categories, got %d", len(bundle.Categories))
	}

	supplier := bundle.Categories[0]
	if supplier.Kind != model.SourceKindSupplier {
		t.Errorf("Expected inferred supplier kind, got %s", supplier.Kind)
	}
	if len(supplier.Items) != 2 {
		t.Fatalf("Expected 2 supplier items, got %d", len(supplier.Items))
	}

	first := supplier.Items[0]
	if first.ID != "sup-telemetry" {
		t.Errorf("Expected declared id, got %q", first.ID)
	}
	if first.Title != "Real-time telemetry" {
		t.Errorf("Expected title split at colon, got %q", first.Title)
	}
	if first.Body != "Temperature sensors report every minute." {
		t.Errorf("Unexpected body %q", first.Body)
	}
	if len(first.Tags) != 2 || first.Tags[0] != "iot" || first.Tags[1] != "sensors" {
		t.Errorf("Unexpected tags %v", first.Tags)
	}

	second := supplier.Items[1]
	if second.Title != "Carbon reporting" {
		t.Errorf("Nested list text leaked into parent title: %q", second.Title)
	}
	if len(second.Children) != 1 || second.Children[0].Title != "Scope 3 dashboards" {
		t.Errorf("Expected one child item, got %+v", second.Children)
	}

	industry := bundle.Categories[1]
	if industry.Kind != model.SourceKindIndustry {
		t.Errorf("Expected data-kind to override inference, got %s", industry.Kind)
	}
	if len(industry.Items) != 1 || industry.Items[0].Title != "Spoilage" {
		t.Errorf("Unexpected industry items %+v", industry.Items)
	}
}

func TestBundleExtractor_ItemsBeforeFirstHeadingIgnored(t *testing.T) {
	extractor := NewBundleExtractor()

	bundle, err := extractor.Extract(strings.NewReader(`<ul><li>orphan</li></ul><h2>Content seeds</h2><ul><li data-mode="framing">Peace of mind</li></ul>`))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(bundle.Categories) != 1 {
		t.Fatalf("Expected 1 category, got %d", len(bundle.Categories))
	}
	cat := bundle.Categories[0]
	if cat.Kind != model.SourceKindContentSeed {
		t.Errorf("Expected content seed kind, got %s", cat.Kind)
	}
	if len(cat.Items) != 1 || cat.Items[0].Mode != model.ModeFraming {
		t.Errorf("Expected framing seed, got %+v", cat.Items)
	}
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		in, title, body string
	}{
		{"Title: body", "Title", "body"},
		{"No colon here", "No colon here", ""},
		{": leading", ": leading", ""},
		{"trailing:", "trailing:", ""},
		{"a: b: c", "a", "b: c"},
	}

	for _, tt := range tests {
		title, body := splitTitle(tt.in)
		if title != tt.title || body != tt.body {
			t.Errorf("splitTitle(%q) = %q, %q; want %q, %q", tt.in, title, body, tt.title, tt.body)
		}
	}
}
