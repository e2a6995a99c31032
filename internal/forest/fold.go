package forest

import (
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/sugya/internal/citation"
)

// NewBranchID returns a branch id in treeID's namespace. The ULID suffix keeps
// ids unique across the whole forest, including branches created in the same
// millisecond.
func NewBranchID(treeID string) string {
	return treeID + "-" + ulid.Make().String()
}

// TreeIDFor derives the preferred tree id for a citation.
func TreeIDFor(raw string) string {
	return citation.Slug(raw)
}

// FallbackTreeID is used when the preferred id is already taken.
func FallbackTreeID(raw string) string {
	slug := citation.Slug(raw)
	if slug == "" {
		return strings.ToLower(ulid.Make().String())
	}
	return slug + "-" + strings.ToLower(ulid.Make().String())
}

// RootAsBranch converts a source tree's root into a branch on targetID so
// the root's content survives the source tree's deletion.
func RootAsBranch(src *Tree, targetID string, now int64) Branch {
	root := src.Root

	workTitle := root.Title
	if strings.TrimSpace(workTitle) == "" {
		workTitle = root.SourceText
	}

	reference := joinNonEmpty(root.HebrewText, root.Translation)
	if reference == "" {
		reference = root.SourceText
	}

	var secondary string
	if root.HebrewTranslation != nil {
		secondary = *root.HebrewTranslation
	}

	return Branch{
		ID:                 NewBranchID(targetID),
		TreeID:             targetID,
		WorkTitle:          workTitle,
		PublicationDetails: root.SourceText,
		ReferenceText:      reference,
		UserNotes:          joinNonEmpty(secondary, root.UserNotesKeywords),
		MergedFrom: &Provenance{
			TreeID:     src.ID,
			SourceText: root.SourceText,
			MergedAt:   now,
		},
		CreatedAt: now,
	}
}

// Rehome re-ids branches under targetID. Every other field keeps its value,
// copied so the result shares no memory with branches.
func Rehome(branches []Branch, targetID string) []Branch {
	out := make([]Branch, 0, len(branches))
	for _, b := range branches {
		moved := b
		moved.ID = NewBranchID(targetID)
		moved.TreeID = targetID
		if b.Keywords != nil {
			moved.Keywords = append([]string(nil), b.Keywords...)
		}
		moved.Year = clone(b.Year)
		moved.Category = clone(b.Category)
		moved.HarvestedAt = clone(b.HarvestedAt)
		moved.MergedFrom = clone(b.MergedFrom)
		out = append(out, moved)
	}
	return out
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Fold returns the branches a merge appends to targetID for src: the
// root-as-branch first, then src's own branches re-homed.
func Fold(src *Tree, targetID string, now int64) []Branch {
	out := make([]Branch, 0, len(src.Branches)+1)
	out = append(out, RootAsBranch(src, targetID, now))
	return append(out, Rehome(src.Branches, targetID)...)
}

func joinNonEmpty(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
