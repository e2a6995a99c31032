package ops

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/sugya/internal/citation"
	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
)

// Search limits
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	MaxQueryLength     = 200
	MaxSnippetChars    = 300
	snippetContext     = 80
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query  string // required
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// SearchResultItem is one matching tree.
type SearchResultItem struct {
	TreeSummary

	// Field names where the first hit was found, e.g. "root.translation" or
	// "branch.reference_text".
	Field string `json:"field"`

	// MatchingBranches counts branches with at least one hit.
	MatchingBranches int `json:"matching_branches"`

	// Snippet is HTML-safe: user content is escaped; only <b>...</b>
	// highlight tags are present.
	Snippet string `json:"snippet"`
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Items      []SearchResultItem `json:"items"`
	Pagination Pagination         `json:"pagination"`
	Sort       string             `json:"sort"` // "relevance"
}

type searchHit struct {
	item  SearchResultItem
	score int
}

// Search finds trees whose root or branches mention the query, case
// insensitively. A tree whose citation has the query's canonical key ranks
// first, then root text hits, then branch-only hits.
func (s *Service) Search(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds maximum length of %d characters", MaxQueryLength))
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	offset := max(input.Offset, 0)

	trees, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	queryKey := citation.Key(query)

	var hits []searchHit
	for _, t := range trees {
		if h, ok := matchTree(t, needle, queryKey); ok {
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].item.UpdatedAt > hits[j].item.UpdatedAt
	})

	total := len(hits)
	items := []SearchResultItem{}
	for i := offset; i < total && len(items) < limit; i++ {
		items = append(items, hits[i].item)
	}

	return &SearchOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "relevance",
	}, nil
}

func matchTree(t *forest.Tree, needle, queryKey string) (searchHit, bool) {
	h := searchHit{item: SearchResultItem{TreeSummary: Summarize(t)}}

	if queryKey != "" && t.Key() == queryKey {
		h.score += 100
		h.item.Field = "root.source_text"
		h.item.Snippet = highlight(t.Root.SourceText, needle)
	}

	root := []struct{ name, text string }{
		{"root.title", t.Root.Title},
		{"root.source_text", t.Root.SourceText},
		{"root.translation", t.Root.Translation},
		{"root.hebrew_text", t.Root.HebrewText},
		{"root.user_notes_keywords", t.Root.UserNotesKeywords},
	}
	for _, f := range root {
		if strings.Contains(strings.ToLower(f.text), needle) {
			h.score += 10
			if h.item.Field == "" {
				h.item.Field = f.name
				h.item.Snippet = highlight(f.text, needle)
			}
		}
	}

	for i := range t.Branches {
		b := &t.Branches[i]
		fields := []struct{ name, text string }{
			{"branch.author", b.Author},
			{"branch.work_title", b.WorkTitle},
			{"branch.reference_text", b.ReferenceText},
			{"branch.user_notes", b.UserNotes},
			{"branch.keywords", strings.Join(b.Keywords, ", ")},
		}
		matched := false
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f.text), needle) {
				matched = true
				if h.item.Field == "" {
					h.item.Field = f.name
					h.item.Snippet = highlight(f.text, needle)
				}
			}
		}
		if matched {
			h.score++
			h.item.MatchingBranches++
		}
	}

	return h, h.score > 0
}

// highlight returns an escaped window of text around the first occurrence of
// needle, with the occurrence wrapped in <b>. Matching is on the lowercased
// text; the window is cut from the original.
func highlight(text, needle string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, needle)
	// Lowercasing can change byte lengths; fall back to the plain prefix.
	if idx < 0 || len(lower) != len(text) {
		return truncateSnippet(html.EscapeString(text), MaxSnippetChars)
	}
	end := idx + len(needle)

	start := max(idx-snippetContext, 0)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	stop := min(end+snippetContext, len(text))
	for stop < len(text) && !utf8.RuneStart(text[stop]) {
		stop++
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(html.EscapeString(text[start:idx]))
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(text[idx:end]))
	b.WriteString("</b>")
	b.WriteString(html.EscapeString(text[end:stop]))
	out := truncateSnippet(b.String(), MaxSnippetChars)
	if stop < len(text) && !strings.HasSuffix(out, "...") {
		out += "..."
	}
	return out
}

// truncateSnippet truncates a snippet to about maxChars bytes without
// splitting a rune, a tag or an entity, and closes any open <b>.
func truncateSnippet(s string, maxChars int) string {
	if maxChars <= 0 {
		return "..."
	}
	if len(s) <= maxChars {
		return s
	}

	truncateAt := maxChars
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	if truncateAt == 0 {
		return "..."
	}
	truncated := s[:truncateAt]

	if lastLT := strings.LastIndex(truncated, "<"); lastLT != -1 && !strings.Contains(truncated[lastLT:], ">") {
		truncated = truncated[:lastLT]
	}
	if lastAmp := strings.LastIndex(truncated, "&"); lastAmp != -1 && !strings.Contains(truncated[lastAmp:], ";") {
		truncated = truncated[:lastAmp]
	}

	// Prefer a word boundary if it doesn't cost too much
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > truncateAt/2 {
		truncated = truncated[:lastSpace]
	}

	for range strings.Count(truncated, "<b>") - strings.Count(truncated, "</b>") {
		truncated += "</b>"
	}
	return truncated + "..."
}
