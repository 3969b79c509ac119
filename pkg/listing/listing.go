// Package listing reduces a fetched HTML document to the repeating content
// blocks ("listings") a model should see.
package listing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Separator joins the text segments of one listing.
const Separator = " | "

// FallbackSelector is used when no configured selector matches.
const FallbackSelector = "div"

// DefaultSelectors covers common listing card markup.
var DefaultSelectors = []string{
	"div.listing",
	"div.card",
	"div.property-card",
	"li.result",
	"article",
	"[data-testid*='listing']",
}

// ErrExtractionEmpty means no candidate listing was found even after the fallback.
var ErrExtractionEmpty = errors.New("no listings extracted")

// skipTags never yield a listing on their own.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
	"i":        true,
	"img":      true,
	"picture":  true,
}

// Result holds the extracted listings in document order.
type Result struct {
	Items    []string
	Matched  int     // nodes matched before skipping and deduplication
	FellBack bool    // the fallback selector was used
	Warnings []error // invalid selectors, ErrExtractionEmpty
}

// Extract applies selectors (OR-combined) to html and returns the flattened,
// deduplicated text of every matched node. It only fails when html cannot be read;
// an empty document is an empty Result.
func Extract(doc string, selectors []string) (Result, error) {
	var result Result

	root, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return result, fmt.Errorf("failed to parse html: %w", err)
	}

	valid := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			result.Warnings = append(result.Warnings, fmt.Errorf("invalid selector %q: %w", sel, err))
			continue
		}
		valid = append(valid, sel)
	}

	var matched *goquery.Selection
	if len(valid) > 0 {
		// A selector group returns nodes in document order, not selector order.
		matched = root.Find(strings.Join(valid, ", "))
	}
	if matched == nil || matched.Length() == 0 {
		matched = root.Find(FallbackSelector)
		result.FellBack = true
	}
	result.Matched = matched.Length()

	seen := make(map[string]bool)
	matched.Each(func(_ int, s *goquery.Selection) {
		if skipTags[goquery.NodeName(s)] {
			return
		}
		text := Flatten(s)
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		result.Items = append(result.Items, text)
	})

	if len(result.Items) == 0 {
		result.Warnings = append(result.Warnings, ErrExtractionEmpty)
	}
	return result, nil
}

// Flatten joins the whitespace-normalized text segments under s with Separator.
// Text inside script and style elements is ignored.
func Flatten(s *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				parts = append(parts, text)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "noscript" || n.Data == "template" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, Separator)
}
