// Package forest holds the reception-tree model and the read-only queries
// that run over a whole forest: point lookup by citation and duplicate grouping.
package forest

import (
	"strings"

	"github.com/hpungsan/sugya/internal/citation"
	"github.com/hpungsan/sugya/internal/errors"
)

// Category classifies a branch. The fixed values cover most receptions;
// any other non-empty string is accepted as a free-text override.
type Category string

const (
	CategoryAcademic      Category = "Academic"
	CategoryPhilosophical Category = "Philosophical"
	CategoryLiterary      Category = "Literary"
	CategoryHistorical    Category = "Historical"
	CategoryCritique      Category = "Critique"
)

// Categories lists the built-in categories in display order.
var Categories = []Category{
	CategoryAcademic,
	CategoryPhilosophical,
	CategoryLiterary,
	CategoryHistorical,
	CategoryCritique,
}

// Known reports whether c is one of the built-in categories.
func (c Category) Known() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Root is the canonical source passage of a tree. It is addressed by its
// tree's id.
type Root struct {
	// Title is the display name, usually the citation itself
	Title string `json:"title"`

	// SourceText is the citation as entered, e.g. "Bavli Ketubot 111a".
	// It is the raw input of the comparison key and is never empty.
	SourceText string `json:"source_text"`

	// HebrewText is the primary-language source text
	HebrewText string `json:"hebrew_text,omitempty"`

	// HebrewTranslation is an optional secondary commentary translation
	HebrewTranslation *string `json:"hebrew_translation,omitempty"`

	// Translation is the English rendering
	Translation string `json:"translation,omitempty"`

	// UserNotesKeywords is a free-form annotation and keyword blob (markdown)
	UserNotesKeywords string `json:"user_notes_keywords,omitempty"`
}

// Provenance records where a branch came from when it was produced by a merge.
type Provenance struct {
	TreeID     string `json:"tree_id"`
	SourceText string `json:"source_text"`
	MergedAt   int64  `json:"merged_at"`
}

// Branch is one later interpretation of a root passage.
type Branch struct {
	ID                 string      `json:"id"`
	TreeID             string      `json:"tree_id"`
	Author             string      `json:"author"`
	WorkTitle          string      `json:"work_title"`
	PublicationDetails string      `json:"publication_details,omitempty"`
	Year               *int        `json:"year,omitempty"`
	ReferenceText      string      `json:"reference_text"`
	UserNotes          string      `json:"user_notes,omitempty"`
	Category           *Category   `json:"category,omitempty"`
	Keywords           []string    `json:"keywords,omitempty"`
	HarvestedAt        *int64      `json:"harvested_at,omitempty"`
	MergedFrom         *Provenance `json:"merged_from,omitempty"`
	CreatedAt          int64       `json:"created_at"`
}

// Harvested reports whether the branch was promoted to ground truth.
func (b *Branch) Harvested() bool {
	return b.HarvestedAt != nil
}

// Tree is one root plus its branches.
type Tree struct {
	ID        string   `json:"id"`
	Root      Root     `json:"root"`
	Branches  []Branch `json:"branches"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Key returns the canonical comparison key of the tree's root citation.
func (t *Tree) Key() string {
	return citation.Key(t.Root.SourceText)
}

// Validate checks the tree-level invariants that storage relies on.
func (t *Tree) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.NewInvalidRequest("tree id is required")
	}
	if strings.TrimSpace(t.Root.SourceText) == "" {
		return errors.NewInvalidRequest("root source_text must not be empty")
	}
	seen := make(map[string]bool, len(t.Branches))
	for _, b := range t.Branches {
		if b.ID == "" {
			return errors.NewInvalidRequest("branch id is required")
		}
		if seen[b.ID] {
			return errors.NewInvalidRequest("duplicate branch id: " + b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// RootUpdate carries optional replacements for root fields.
// Nil fields are left unchanged.
type RootUpdate struct {
	Title             *string `json:"title,omitempty"`
	SourceText        *string `json:"source_text,omitempty"`
	HebrewText        *string `json:"hebrew_text,omitempty"`
	HebrewTranslation *string `json:"hebrew_translation,omitempty"`
	Translation       *string `json:"translation,omitempty"`
	UserNotesKeywords *string `json:"user_notes_keywords,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u RootUpdate) Empty() bool {
	return u.Title == nil && u.SourceText == nil && u.HebrewText == nil &&
		u.HebrewTranslation == nil && u.Translation == nil && u.UserNotesKeywords == nil
}

// Apply writes the non-nil fields of u into r.
func (u RootUpdate) Apply(r *Root) {
	if u.Title != nil {
		r.Title = *u.Title
	}
	if u.SourceText != nil {
		r.SourceText = *u.SourceText
	}
	if u.HebrewText != nil {
		r.HebrewText = *u.HebrewText
	}
	if u.HebrewTranslation != nil {
		v := *u.HebrewTranslation
		if v == "" {
			r.HebrewTranslation = nil
		} else {
			r.HebrewTranslation = &v
		}
	}
	if u.Translation != nil {
		r.Translation = *u.Translation
	}
	if u.UserNotesKeywords != nil {
		r.UserNotesKeywords = *u.UserNotesKeywords
	}
}
