package forest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(id, source string) *Tree {
	return &Tree{ID: id, Root: Root{Title: source, SourceText: source}}
}

func TestFindMatch(t *testing.T) {
	forest := []*Tree{
		tree("t1", "Bavli Ketubot 111a"),
		tree("t2", "Berakhot 2a"),
		tree("t3", "Brachot 2a"),
	}

	tests := []struct {
		name      string
		candidate string
		wantID    string
	}{
		{"marker dropped", "Ketubot 111a", "t1"},
		{"first in iteration order wins", "Berakhot 2a", "t2"},
		{"alias resolves", "berachot 2a", "t2"},
		{"punctuation ignored", "Ketubot, 111a.", "t1"},
		{"different folio", "Ketubot 111b", ""},
		{"spacing is significant", "Ketubot 111 a", ""},
		{"marker only", "Bavli", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindMatch(forest, tt.candidate)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestFindMatch_EmptyForest(t *testing.T) {
	assert.Nil(t, FindMatch(nil, "Berakhot 2a"))
	assert.Nil(t, FindMatch([]*Tree{}, "Berakhot 2a"))
}

func TestFindDuplicateGroups(t *testing.T) {
	forest := []*Tree{
		tree("a", "Bavli Ketubot 111a"),
		tree("b", "Shabbat 31a"),
		tree("c", "Ketubot 111a"),
		tree("d", "Shabbos 31a"),
		tree("e", "Yoma 85b"),
		tree("f", "ketubot 111a"),
	}

	groups := FindDuplicateGroups(forest)
	require.Len(t, groups, 2)

	assert.Equal(t, "ketubot 111a", groups[0].CanonicalKey)
	assert.Equal(t, []string{"a", "c", "f"}, ids(groups[0].Trees))

	assert.Equal(t, "shabbos 31a", groups[1].CanonicalKey)
	assert.Equal(t, []string{"b", "d"}, ids(groups[1].Trees))
}

func TestFindDuplicateGroups_NoDuplicates(t *testing.T) {
	groups := FindDuplicateGroups([]*Tree{tree("a", "Berakhot 2a"), tree("b", "Berakhot 2b")})
	require.NotNil(t, groups)
	assert.Empty(t, groups)

	assert.NotNil(t, FindDuplicateGroups(nil))
}

func TestFindDuplicateGroups_EveryGroupHasSharedKey(t *testing.T) {
	forest := []*Tree{
		tree("a", "y. Berakhot 2:3"),
		tree("b", "Yerushalmi Berakhot 23"),
		tree("c", "Berakhot 2:3"),
		tree("d", "Chagigah 14b"),
		tree("e", "Ḥagigah 14b"),
	}

	seen := make(map[string]bool)
	for _, g := range FindDuplicateGroups(forest) {
		assert.Greater(t, len(g.Trees), 1)
		for _, tr := range g.Trees {
			assert.Equal(t, g.CanonicalKey, tr.Key())
			assert.False(t, seen[tr.ID], "tree %s in more than one group", tr.ID)
			seen[tr.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func ids(trees []*Tree) []string {
	out := make([]string, 0, len(trees))
	for _, t := range trees {
		out = append(out, t.ID)
	}
	return out
}
