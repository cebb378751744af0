// Package provenance builds the content-addressed registry of source pillar
// candidates that synthesized pillars point back into.
package provenance

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/hashing"
	"github.com/ppiankov/provenant/internal/model"
)

// Builder derives registries from source bundles
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a registry builder
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger}
}

// identity is the hashed basis of an undeclared pillar_id
type identity struct {
	Type     model.SourceKind `json:"type"`
	Category string           `json:"category"`
	Path     string           `json:"path"`
	Title    string           `json:"title"`
	Body     string           `json:"body"`
	Tags     []string         `json:"tags"`
}

// content is the hashed basis of an entry's content_hash
type content struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// Build ingests every item of the bundle, depth first in document order.
// Repeated pillar_ids are recorded as warnings; the first entry wins.
func (b *Builder) Build(bundle *model.SourceBundle) (*model.Registry, error) {
	if err := ValidateBundle(bundle); err != nil {
		return nil, err
	}

	reg := &model.Registry{
		Schema:   model.RegistrySchema,
		Supplier: bundle.Supplier,
		Industry: bundle.Industry,
		Entries:  make(map[string]model.RegistryEntry),
	}

	var ingest func(cat model.SourceCategory, path string, it model.SourceItem) error
	ingest = func(cat model.SourceCategory, path string, it model.SourceItem) error {
		entry, err := newEntry(cat, path, it)
		if err != nil {
			return err
		}
		if first, dup := reg.Entries[entry.PillarID]; dup {
			reg.Warnings = append(reg.Warnings, model.DuplicateWarning{
				PillarID:  entry.PillarID,
				Path:      entry.Path,
				FirstPath: first.Path,
			})
			b.logger.Warn("duplicate pillar id",
				zap.String("pillar_id", entry.PillarID),
				zap.String("path", entry.Path),
				zap.String("first_path", first.Path))
		} else {
			reg.Entries[entry.PillarID] = entry
		}
		for i, child := range it.Children {
			if err := ingest(cat, path+"/"+strconv.Itoa(i), child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, cat := range bundle.Categories {
		slug := Slug(cat.Name)
		for i, it := range cat.Items {
			if err := ingest(cat, slug+"/"+strconv.Itoa(i), it); err != nil {
				return nil, err
			}
		}
	}

	hash, err := hashing.ContentHash(reg.Entries)
	if err != nil {
		return nil, fmt.Errorf("hash registry: %w", err)
	}
	reg.Hash = hash
	return reg, nil
}

func newEntry(cat model.SourceCategory, path string, it model.SourceItem) (model.RegistryEntry, error) {
	title := strings.TrimSpace(it.Title)
	body := strings.TrimSpace(it.Body)
	tags := normalizeTags(it.Tags)

	entry := model.RegistryEntry{
		Type:     cat.Kind,
		Category: cat.Name,
		Path:     path,
		Title:    title,
		Body:     body,
		Tags:     tags,
		Mode:     it.Mode,
	}

	var err error
	entry.ContentHash, err = hashing.ContentHash(content{
		Title: hashing.Normalize(title),
		Body:  hashing.Normalize(body),
		Tags:  tags,
	})
	if err != nil {
		return entry, fmt.Errorf("hash %s: %w", path, err)
	}

	switch {
	case strings.TrimSpace(it.ID) != "":
		entry.PillarID = strings.TrimSpace(it.ID)
		entry.Declared = true
	case strings.TrimSpace(it.Key) != "":
		entry.PillarID = strings.TrimSpace(it.Key)
		entry.Declared = true
	default:
		entry.PillarID, err = hashing.ShortID("src_", identity{
			Type:     cat.Kind,
			Category: hashing.Normalize(cat.Name),
			Path:     path,
			Title:    hashing.Normalize(title),
			Body:     hashing.Normalize(body),
			Tags:     tags,
		}, 16)
		if err != nil {
			return entry, fmt.Errorf("derive id for %s: %w", path, err)
		}
	}
	return entry, nil
}

// normalizeTags lowercases, de-duplicates and sorts tags
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		n := hashing.Normalize(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a category name into a path segment
func Slug(name string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if s == "" {
		return "category"
	}
	return s
}

// EntriesByKind returns the entries of kind ordered by path
func EntriesByKind(reg *model.Registry, kind model.SourceKind) []model.RegistryEntry {
	var out []model.RegistryEntry
	for _, e := range reg.Entries {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return ComparePaths(out[i].Path, out[j].Path) < 0 })
	return out
}

// ComparePaths orders positional paths segment by segment, numerically where
// both segments are numbers
func ComparePaths(a, b string) int {
	as, bs := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aErr := strconv.Atoi(as[i])
		bi, bErr := strconv.Atoi(bs[i])
		if aErr == nil && bErr == nil {
			if ai < bi {
				return -1
			}
			return 1
		}
		return strings.Compare(as[i], bs[i])
	}
	return len(as) - len(bs)
}
