package db

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	database, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewStore(database, SQLite)
}

// newPostgresStore runs against SUGYA_TEST_POSTGRES_URL, skipping when unset.
func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SUGYA_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("SUGYA_TEST_POSTGRES_URL not set")
	}
	database, err := OpenPostgres(context.Background(), t.TempDir(), url)
	require.NoError(t, err)
	for _, stmt := range []string{"DELETE FROM branches", "DELETE FROM trees"} {
		_, err := database.Exec(stmt)
		require.NoError(t, err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database, Postgres)
}

func strPtr(s string) *string { return &s }

func sampleTree(id, source string, branches ...string) *forest.Tree {
	t := &forest.Tree{
		ID:        id,
		Root:      forest.Root{Title: source, SourceText: source, HebrewText: "טקסט", Translation: "text"},
		CreatedAt: 100,
		UpdatedAt: 100,
	}
	for _, author := range branches {
		t.Branches = append(t.Branches, forest.Branch{
			ID:            forest.NewBranchID(id),
			TreeID:        id,
			Author:        author,
			WorkTitle:     author + " work",
			ReferenceText: "ref",
			CreatedAt:     100,
		})
	}
	return t
}

func TestStore_SQLite(t *testing.T) {
	runStoreContract(t, newSQLiteStore)
}

func TestStore_Postgres(t *testing.T) {
	runStoreContract(t, newPostgresStore)
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) *Store) {
	ctx := context.Background()

	t.Run("create and get round trip", func(t *testing.T) {
		s := newStore(t)
		year := 1923
		cat := forest.CategoryPhilosophical
		harvested := int64(42)
		tree := sampleTree("berakhot-2a", "Berakhot 2a")
		tree.Root.HebrewTranslation = strPtr("מתי קורין")
		tree.Branches = []forest.Branch{{
			ID:            "berakhot-2a-b1",
			TreeID:        "berakhot-2a",
			Author:        "Buber",
			WorkTitle:     "I and Thou",
			Year:          &year,
			ReferenceText: "quoted",
			Category:      &cat,
			Keywords:      []string{"dialogue", "prayer"},
			HarvestedAt:   &harvested,
			MergedFrom:    &forest.Provenance{TreeID: "old", SourceText: "Brachot 2a", MergedAt: 7},
			CreatedAt:     100,
		}}

		require.NoError(t, s.CreateTree(ctx, tree))

		got, err := s.GetTree(ctx, "berakhot-2a")
		require.NoError(t, err)
		assert.Equal(t, tree.Root, got.Root)
		require.Len(t, got.Branches, 1)
		assert.Equal(t, tree.Branches[0], got.Branches[0])
	})

	t.Run("create existing id is TREE_EXISTS and leaves original intact", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTree(ctx, sampleTree("t", "Yoma 85b", "a")))

		err := s.CreateTree(ctx, sampleTree("t", "Yoma 85b", "b", "c"))
		assert.True(t, errors.Is(err, errors.ErrTreeExists), "got %v", err)

		got, err := s.GetTree(ctx, "t")
		require.NoError(t, err)
		assert.Len(t, got.Branches, 1)
	})

	t.Run("create is atomic", func(t *testing.T) {
		s := newStore(t)
		tree := sampleTree("t", "Yoma 85b", "a")
		require.NoError(t, s.CreateTree(ctx, sampleTree("other", "Sukkah 2a", "x")))
		// Reuse another tree's branch id so the branch insert fails
		other, err := s.GetTree(ctx, "other")
		require.NoError(t, err)
		tree.Branches[0].ID = other.Branches[0].ID

		err = s.CreateTree(ctx, tree)
		require.Error(t, err)

		_, err = s.GetTree(ctx, "t")
		assert.True(t, errors.Is(err, errors.ErrNotFound), "root must not exist without its branch")
	})

	t.Run("create validates", func(t *testing.T) {
		s := newStore(t)
		err := s.CreateTree(ctx, &forest.Tree{ID: "x"})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	})

	t.Run("get missing is NOT_FOUND", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetTree(ctx, "nope")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("all trees in creation order with branches in position order", func(t *testing.T) {
		s := newStore(t)
		first := sampleTree("b-tree", "Shabbat 31a", "hillel", "shammai")
		second := sampleTree("a-tree", "Ketubot 111a", "scholem")
		second.CreatedAt = 200
		require.NoError(t, s.CreateTree(ctx, first))
		require.NoError(t, s.CreateTree(ctx, second))

		all, err := s.AllTrees(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "b-tree", all[0].ID)
		assert.Equal(t, []string{"hillel", "shammai"}, authors(all[0]))
		assert.Equal(t, []string{"scholem"}, authors(all[1]))

		n, err := s.CountTrees(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("all trees on empty forest", func(t *testing.T) {
		s := newStore(t)
		all, err := s.AllTrees(ctx)
		require.NoError(t, err)
		assert.NotNil(t, all)
		assert.Empty(t, all)
	})

	t.Run("append continues positions", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTree(ctx, sampleTree("t", "Sukkah 2a", "a", "b")))

		extra := sampleTree("t", "Sukkah 2a", "c", "d").Branches
		require.NoError(t, s.AppendBranches(ctx, "t", extra))

		got, err := s.GetTree(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, authors(got))
		assert.Greater(t, got.UpdatedAt, got.CreatedAt)
	})

	t.Run("append to missing tree is NOT_FOUND", func(t *testing.T) {
		s := newStore(t)
		err := s.AppendBranches(ctx, "nope", sampleTree("nope", "x", "a").Branches)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("update fields", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTree(ctx, sampleTree("t", "Sukkah 2a", "a")))

		require.NoError(t, s.UpdateTreeFields(ctx, "t", forest.RootUpdate{
			Translation:       strPtr("new translation"),
			HebrewTranslation: strPtr("עברית"),
		}))

		got, err := s.GetTree(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, "new translation", got.Root.Translation)
		assert.Equal(t, "עברית", *got.Root.HebrewTranslation)
		assert.Equal(t, "Sukkah 2a", got.Root.SourceText)
		assert.Len(t, got.Branches, 1)

		err = s.UpdateTreeFields(ctx, "t", forest.RootUpdate{SourceText: strPtr(" ")})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

		err = s.UpdateTreeFields(ctx, "nope", forest.RootUpdate{Title: strPtr("x")})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("delete removes tree and branches", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTree(ctx, sampleTree("t", "Sukkah 2a", "a", "b")))

		require.NoError(t, s.DeleteTree(ctx, "t"))
		_, err := s.GetTree(ctx, "t")
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		var n int
		require.NoError(t, s.DB().QueryRow(s.rebind("SELECT COUNT(*) FROM branches WHERE tree_id = ?"), "t").Scan(&n))
		assert.Zero(t, n)

		err = s.DeleteTree(ctx, "t")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("replace tree", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTree(ctx, sampleTree("t", "Yoma 85b", "a", "b")))
		other := sampleTree("o", "Sukkah 2a", "x")
		require.NoError(t, s.CreateTree(ctx, other))

		repl := sampleTree("t", "Yuma 85b", "c")
		require.NoError(t, s.ReplaceTree(ctx, repl))
		got, err := s.GetTree(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, "Yuma 85b", got.Root.SourceText)
		assert.Equal(t, []string{"c"}, authors(got))

		// A branch id owned by another tree fails the swap and keeps the old tree
		clash := sampleTree("t", "Yoma 86a", "d")
		clash.Branches[0].ID = other.Branches[0].ID
		err = s.ReplaceTree(ctx, clash)
		assert.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)
		got, err = s.GetTree(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, "Yuma 85b", got.Root.SourceText)
		assert.Equal(t, []string{"c"}, authors(got))

		err = s.ReplaceTree(ctx, sampleTree("missing", "Sukkah 3a"))
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("remove branches is all or nothing", func(t *testing.T) {
		s := newStore(t)
		tree := sampleTree("t", "Sukkah 2a", "a", "b", "c")
		require.NoError(t, s.CreateTree(ctx, tree))

		err := s.RemoveBranches(ctx, "t", []string{tree.Branches[0].ID, "missing"})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		got, _ := s.GetTree(ctx, "t")
		assert.Len(t, got.Branches, 3)

		require.NoError(t, s.RemoveBranches(ctx, "t", []string{tree.Branches[0].ID, tree.Branches[2].ID}))
		got, _ = s.GetTree(ctx, "t")
		assert.Equal(t, []string{"b"}, authors(got))
	})

	t.Run("harvest flag", func(t *testing.T) {
		s := newStore(t)
		tree := sampleTree("t", "Sukkah 2a", "a")
		require.NoError(t, s.CreateTree(ctx, tree))
		bid := tree.Branches[0].ID

		at := int64(555)
		require.NoError(t, s.SetBranchHarvested(ctx, "t", bid, &at))
		got, _ := s.GetTree(ctx, "t")
		require.NotNil(t, got.Branches[0].HarvestedAt)
		assert.Equal(t, at, *got.Branches[0].HarvestedAt)

		require.NoError(t, s.SetBranchHarvested(ctx, "t", bid, nil))
		got, _ = s.GetTree(ctx, "t")
		assert.Nil(t, got.Branches[0].HarvestedAt)

		err := s.SetBranchHarvested(ctx, "t", "missing", &at)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func authors(t *forest.Tree) []string {
	out := make([]string, 0, len(t.Branches))
	for _, b := range t.Branches {
		out = append(out, b.Author)
	}
	return out
}
