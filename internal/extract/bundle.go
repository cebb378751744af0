// Package extract turns HTML source documents into structured source bundles.
package extract

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/provenant/internal/model"
)

// BundleExtractor reads a source bundle from an HTML document.
//
// Each h2 starts a category (data-kind overrides the kind inferred from the
// heading text). Each li under it is an item; nested lists become children.
// An item reading "Title: body" is split at the first colon. data-id,
// data-mode and data-tags attributes on li are honoured. Supplier and
// industry come from <meta name="supplier"> and <meta name="industry">.
type BundleExtractor struct{}

// NewBundleExtractor creates a new bundle extractor
func NewBundleExtractor() *BundleExtractor {
	return &BundleExtractor{}
}

// Extract parses r into a source bundle
func (e *BundleExtractor) Extract(r io.Reader) (*model.SourceBundle, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	bundle := &model.SourceBundle{Schema: model.SourceBundleSchema}
	var current *model.SourceCategory

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			case "meta":
				switch attr(n, "name") {
				case "supplier":
					bundle.Supplier = strings.TrimSpace(attr(n, "content"))
				case "industry":
					bundle.Industry = strings.TrimSpace(attr(n, "content"))
				}
			case "h2":
				name := strings.TrimSpace(visibleText(n))
				kind := model.SourceKind(attr(n, "data-kind"))
				if !kind.Valid() {
					kind = model.InferKind(name)
				}
				bundle.Categories = append(bundle.Categories, model.SourceCategory{Name: name, Kind: kind})
				current = &bundle.Categories[len(bundle.Categories)-1]
				return
			case "li":
				if current != nil {
					if item, ok := parseItem(n); ok {
						current.Items = append(current.Items, item)
					}
				}
				// Nested items are handled by parseItem.
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)
	return bundle, nil
}

// parseItem converts an li element and its nested lists into an item
func parseItem(n *html.Node) (model.SourceItem, bool) {
	var own strings.Builder
	var children []model.SourceItem

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "ul" || c.Data == "ol") {
			for li := c.FirstChild; li != nil; li = li.NextSibling {
				if li.Type == html.ElementNode && li.Data == "li" {
					if child, ok := parseItem(li); ok {
						children = append(children, child)
					}
				}
			}
			continue
		}
		own.WriteString(visibleText(c))
		own.WriteString(" ")
	}

	text := strings.Join(strings.Fields(own.String()), " ")
	if text == "" && len(children) == 0 {
		return model.SourceItem{}, false
	}

	item := model.SourceItem{
		ID:       attr(n, "data-id"),
		Mode:     model.PillarMode(attr(n, "data-mode")),
		Children: children,
	}
	item.Title, item.Body = splitTitle(text)
	if tags := attr(n, "data-tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				item.Tags = append(item.Tags, t)
			}
		}
	}
	return item, true
}

// splitTitle splits "Title: body" at the first colon
func splitTitle(text string) (string, string) {
	idx := strings.Index(text, ":")
	if idx <= 0 || idx == len(text)-1 {
		return text, ""
	}
	return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+1:])
}

// visibleText extracts text nodes, skipping scripts and styles
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
