package provenance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/provenant/internal/extract"
	"github.com/ppiankov/provenant/internal/model"
)

// Format is an accepted source bundle encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHTML Format = "html"
)

// FormatFromPath picks a format from a file extension, defaulting to JSON
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".html", ".htm":
		return FormatHTML
	default:
		return FormatJSON
	}
}

// ParseBundle decodes a source bundle and fills in defaults: the schema tag
// and any category kind left empty.
func ParseBundle(data []byte, format Format) (*model.SourceBundle, error) {
	var bundle *model.SourceBundle
	switch format {
	case FormatJSON:
		bundle = &model.SourceBundle{}
		if err := json.Unmarshal(data, bundle); err != nil {
			return nil, fmt.Errorf("parse json bundle: %w", err)
		}
	case FormatYAML:
		bundle = &model.SourceBundle{}
		if err := yaml.Unmarshal(data, bundle); err != nil {
			return nil, fmt.Errorf("parse yaml bundle: %w", err)
		}
	case FormatHTML:
		var err error
		bundle, err = extract.NewBundleExtractor().Extract(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported bundle format %q", format)
	}

	if bundle.Schema == "" {
		bundle.Schema = model.SourceBundleSchema
	}
	for i := range bundle.Categories {
		if bundle.Categories[i].Kind == "" {
			bundle.Categories[i].Kind = model.InferKind(bundle.Categories[i].Name)
		}
	}
	return bundle, nil
}

// ValidateBundle checks the structural contract of a source bundle
func ValidateBundle(b *model.SourceBundle) error {
	if b == nil {
		return model.Failf(model.CodeSourceBundleMissing, "no source bundle")
	}
	if b.Schema != model.SourceBundleSchema {
		return model.Failf(model.CodeSchemaMismatch, "source bundle schema %q, want %q", b.Schema, model.SourceBundleSchema)
	}
	if len(b.Categories) == 0 {
		return model.Failf(model.CodeSourceBundleInvalid, "source bundle has no categories")
	}
	for i, c := range b.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return model.Failf(model.CodeSourceBundleInvalid, "category %d has no name", i)
		}
		if !c.Kind.Valid() {
			return model.Failf(model.CodeSourceBundleInvalid, "category %q has unknown kind %q", c.Name, c.Kind)
		}
		if err := validateItems(c.Name, c.Items); err != nil {
			return err
		}
	}
	return nil
}

func validateItems(where string, items []model.SourceItem) error {
	for i, it := range items {
		if strings.TrimSpace(it.Title) == "" {
			return model.Failf(model.CodeSourceBundleInvalid, "%s item %d has no title", where, i)
		}
		if it.Mode != "" && it.Mode != model.ModeAssertable && it.Mode != model.ModeFraming {
			return model.Failf(model.CodeSourceBundleInvalid, "%s item %d has unknown mode %q", where, i, it.Mode)
		}
		if err := validateItems(fmt.Sprintf("%s item %d", where, i), it.Children); err != nil {
			return err
		}
	}
	return nil
}
