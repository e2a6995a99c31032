package ops

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/sugya/internal/db"
	"github.com/hpungsan/sugya/internal/enrich"
	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/metrics"
)

type testEnv struct {
	svc     *Service
	store   *db.Store
	metrics *metrics.Collector
	exports string
}

func newTestEnv(t *testing.T, e enrich.Enricher) *testEnv {
	t.Helper()
	base := t.TempDir()
	database, err := db.Init(base)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := db.NewStore(database, db.SQLite)
	m := metrics.NewCollector()
	env := &testEnv{store: store, metrics: m, exports: t.TempDir()}
	env.svc = New(Deps{Repo: store, Enricher: e, Metrics: m, ExportsDir: env.exports})
	return env
}

// withRepo swaps the repository, keeping every other collaborator.
func (e *testEnv) withRepo(r Repository) *Service {
	s := *e.svc
	s.repo = r
	return &s
}

func (e *testEnv) mustCreate(t *testing.T, id, source string, authors ...string) *forest.Tree {
	t.Helper()
	tree := &forest.Tree{
		ID:        id,
		Root:      forest.Root{Title: source, SourceText: source, HebrewText: "טקסט " + id, Translation: "text of " + id},
		Branches:  []forest.Branch{},
		CreatedAt: 100,
		UpdatedAt: 100,
	}
	for _, a := range authors {
		tree.Branches = append(tree.Branches, forest.Branch{
			ID:            forest.NewBranchID(id),
			TreeID:        id,
			Author:        a,
			WorkTitle:     a + " work",
			ReferenceText: "cites " + id,
			CreatedAt:     100,
		})
	}
	require.NoError(t, e.store.CreateTree(context.Background(), tree))
	return tree
}

func (e *testEnv) count(t *testing.T) int {
	t.Helper()
	n, err := e.store.CountTrees(context.Background())
	require.NoError(t, err)
	return n
}

func (e *testEnv) get(t *testing.T, id string) *forest.Tree {
	t.Helper()
	tree, err := e.store.GetTree(context.Background(), id)
	require.NoError(t, err)
	return tree
}

func fullContent() *enrich.Content {
	return &enrich.Content{
		PrimaryText:          "מאימתי קורין את שמע בערבין",
		SecondaryTranslation: "from when do we recite",
		EnglishTranslation:   "From when may one recite Shema in the evening?",
		Keywords:             []string{"shema", "time"},
	}
}

// countingEnricher returns content and counts calls.
type countingEnricher struct {
	mu      sync.Mutex
	calls   int
	content *enrich.Content
	err     error
}

func (c *countingEnricher) FetchPassageContent(_ context.Context, _ string) (*enrich.Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	cp := *c.content
	return &cp, nil
}

func (c *countingEnricher) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// faultRepo wraps a Repository and fails chosen calls.
type faultRepo struct {
	Repository

	mu       sync.Mutex
	getCalls map[string]int

	// failGet fails the nth (1-based) GetTree of an id
	failGet map[string]int

	failDelete map[string]error
	failAppend error
	failRemove error
}

func newFaultRepo(r Repository) *faultRepo {
	return &faultRepo{
		Repository: r,
		getCalls:   map[string]int{},
		failGet:    map[string]int{},
		failDelete: map[string]error{},
	}
}

func (f *faultRepo) GetTree(ctx context.Context, id string) (*forest.Tree, error) {
	f.mu.Lock()
	f.getCalls[id]++
	n := f.getCalls[id]
	f.mu.Unlock()
	if f.failGet[id] == n {
		return nil, errors.NewInternal(stdError("storage unavailable reading " + id))
	}
	return f.Repository.GetTree(ctx, id)
}

func (f *faultRepo) AppendBranches(ctx context.Context, treeID string, branches []forest.Branch) error {
	if f.failAppend != nil {
		return f.failAppend
	}
	return f.Repository.AppendBranches(ctx, treeID, branches)
}

func (f *faultRepo) DeleteTree(ctx context.Context, id string) error {
	if err := f.failDelete[id]; err != nil {
		return err
	}
	return f.Repository.DeleteTree(ctx, id)
}

func (f *faultRepo) RemoveBranches(ctx context.Context, treeID string, ids []string) error {
	if f.failRemove != nil {
		return f.failRemove
	}
	return f.Repository.RemoveBranches(ctx, treeID, ids)
}

type stdError string

func (e stdError) Error() string { return string(e) }

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }
