package forest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func sourceTree() *Tree {
	year := 1982
	cat := CategoryLiterary
	return &Tree{
		ID: "s1",
		Root: Root{
			Title:             "Ketubot 111a (oaths)",
			SourceText:        "Ketubot 111a",
			HebrewText:        "שלש שבועות",
			HebrewTranslation: strPtr("three oaths"),
			Translation:       "Three oaths did the Holy One impose",
			UserNotesKeywords: "#exile",
		},
		Branches: []Branch{
			{
				ID:            "s1-b1",
				TreeID:        "s1",
				Author:        "Scholem",
				WorkTitle:     "Sabbatai Sevi",
				Year:          &year,
				ReferenceText: "quoted at length",
				Category:      &cat,
				Keywords:      []string{"messianism"},
				CreatedAt:     10,
			},
			{ID: "s1-b2", TreeID: "s1", Author: "Ravitzky", WorkTitle: "Messianism, Zionism", CreatedAt: 11},
		},
	}
}

func TestRootAsBranch(t *testing.T) {
	src := sourceTree()
	b := RootAsBranch(src, "target", 500)

	assert.True(t, strings.HasPrefix(b.ID, "target-"))
	assert.Equal(t, "target", b.TreeID)
	assert.Equal(t, "Ketubot 111a (oaths)", b.WorkTitle)
	assert.Equal(t, "Ketubot 111a", b.PublicationDetails)
	assert.Contains(t, b.ReferenceText, "שלש שבועות")
	assert.Contains(t, b.ReferenceText, "Three oaths")
	assert.Contains(t, b.UserNotes, "three oaths")
	assert.Contains(t, b.UserNotes, "#exile")
	require.NotNil(t, b.MergedFrom)
	assert.Equal(t, "s1", b.MergedFrom.TreeID)
	assert.Equal(t, "Ketubot 111a", b.MergedFrom.SourceText)
	assert.Equal(t, int64(500), b.MergedFrom.MergedAt)
	assert.Equal(t, int64(500), b.CreatedAt)
}

func TestRootAsBranch_SparseRoot(t *testing.T) {
	src := &Tree{ID: "s2", Root: Root{SourceText: "Yoma 85b"}}
	b := RootAsBranch(src, "target", 1)

	assert.Equal(t, "Yoma 85b", b.WorkTitle)
	assert.Equal(t, "Yoma 85b", b.ReferenceText)
	assert.Empty(t, b.UserNotes)
}

func TestRehome(t *testing.T) {
	src := sourceTree()
	moved := Rehome(src.Branches, "target")
	require.Len(t, moved, 2)

	for i, b := range moved {
		orig := src.Branches[i]
		assert.NotEqual(t, orig.ID, b.ID)
		assert.True(t, strings.HasPrefix(b.ID, "target-"))
		assert.Equal(t, "target", b.TreeID)
		assert.Equal(t, orig.Author, b.Author)
		assert.Equal(t, orig.WorkTitle, b.WorkTitle)
		assert.Equal(t, orig.CreatedAt, b.CreatedAt)
	}
	assert.Equal(t, 1982, *moved[0].Year)
	assert.Equal(t, CategoryLiterary, *moved[0].Category)

	// Keywords are copied, not shared
	moved[0].Keywords[0] = "changed"
	assert.Equal(t, "messianism", src.Branches[0].Keywords[0])
}

func TestRehome_CopiesPointerFields(t *testing.T) {
	src := sourceTree()
	harvested := int64(500)
	src.Branches[0].HarvestedAt = &harvested
	src.Branches[0].MergedFrom = &Provenance{TreeID: "s0", SourceText: "Ketubot 111a", MergedAt: 400}

	moved := Rehome(src.Branches, "target")
	b := moved[0]
	require.NotNil(t, b.Year)
	require.NotNil(t, b.Category)
	require.NotNil(t, b.HarvestedAt)
	require.NotNil(t, b.MergedFrom)
	assert.Equal(t, int64(500), *b.HarvestedAt)
	assert.Equal(t, "s0", b.MergedFrom.TreeID)

	*b.Year = 2000
	*b.Category = CategoryCritique
	*b.HarvestedAt = 1
	b.MergedFrom.TreeID = "changed"

	orig := src.Branches[0]
	assert.Equal(t, 1982, *orig.Year)
	assert.Equal(t, CategoryLiterary, *orig.Category)
	assert.Equal(t, int64(500), *orig.HarvestedAt)
	assert.Equal(t, "s0", orig.MergedFrom.TreeID)

	assert.Nil(t, moved[1].Year)
	assert.Nil(t, moved[1].HarvestedAt)
}

func TestFold(t *testing.T) {
	src := sourceTree()
	out := Fold(src, "target", 7)

	require.Len(t, out, len(src.Branches)+1)
	require.NotNil(t, out[0].MergedFrom, "root-as-branch comes first")
	assert.Equal(t, "Scholem", out[1].Author)
	assert.Equal(t, "Ravitzky", out[2].Author)

	seen := make(map[string]bool)
	for _, b := range out {
		assert.False(t, seen[b.ID], "duplicate id %s", b.ID)
		seen[b.ID] = true
	}
}

func TestNewBranchID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewBranchID("t")
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestTreeIDs(t *testing.T) {
	assert.Equal(t, "ketubot-111a", TreeIDFor("Bavli Ketubot 111a"))

	fb := FallbackTreeID("Bavli Ketubot 111a")
	assert.True(t, strings.HasPrefix(fb, "ketubot-111a-"))
	assert.NotEqual(t, fb, FallbackTreeID("Bavli Ketubot 111a"))

	assert.NotEmpty(t, FallbackTreeID("Bavli"))
}
