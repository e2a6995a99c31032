// Package enrich fetches source text for a passage that has no tree yet:
// primary-language text, translations, and suggested keywords.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Enricher fetches content for a raw citation. Any returned error is a hard
// failure; a Content with missing fields is a partial result.
type Enricher interface {
	FetchPassageContent(ctx context.Context, citation string) (*Content, error)
}

// Content is what the enrichment service knows about a passage.
type Content struct {
	PrimaryText          string   `json:"primary_text"`
	SecondaryTranslation string   `json:"secondary_translation,omitempty"`
	EnglishTranslation   string   `json:"english_translation"`
	Keywords             []string `json:"keywords,omitempty"`
}

// Missing lists the required fields that came back empty.
func (c *Content) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.PrimaryText) == "" {
		missing = append(missing, "primary_text")
	}
	if strings.TrimSpace(c.EnglishTranslation) == "" {
		missing = append(missing, "english_translation")
	}
	return missing
}

// Usable reports whether there is anything worth putting on a root.
func (c *Content) Usable() bool {
	return c != nil && (strings.TrimSpace(c.PrimaryText) != "" ||
		strings.TrimSpace(c.EnglishTranslation) != "" ||
		strings.TrimSpace(c.SecondaryTranslation) != "")
}

// Func adapts a plain function to Enricher.
type Func func(ctx context.Context, citation string) (*Content, error)

// FetchPassageContent calls f.
func (f Func) FetchPassageContent(ctx context.Context, citation string) (*Content, error) {
	return f(ctx, citation)
}

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("content enrichment is not configured (set ANTHROPIC_API_KEY)")

// Unavailable is the Enricher used when no API key is configured. Adding to an
// existing tree still works; creating a new one fails cleanly.
var Unavailable Enricher = Func(func(context.Context, string) (*Content, error) {
	return nil, ErrUnavailable
})

var (
	fenceRegex  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	objectRegex = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParseContent decodes a model reply into Content. It accepts bare JSON, JSON
// inside a code fence, or a JSON object surrounded by prose.
func ParseContent(text string) (*Content, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty enrichment response")
	}

	candidates := []string{text}
	if m := fenceRegex.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if m := objectRegex.FindString(text); m != "" {
		candidates = append(candidates, m)
	}

	var lastErr error
	for _, candidate := range candidates {
		var c Content
		if err := json.Unmarshal([]byte(candidate), &c); err != nil {
			lastErr = err
			continue
		}
		c.Keywords = cleanKeywords(c.Keywords)
		return &c, nil
	}
	return nil, errors.New("enrichment response is not valid JSON: " + lastErr.Error())
}

func cleanKeywords(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
