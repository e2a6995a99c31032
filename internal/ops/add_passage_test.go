package ops

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/sugya/internal/enrich"
	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/metrics"
)

func topic(author string) TopicMetadata {
	return TopicMetadata{
		Author:        author,
		WorkTitle:     author + " on prayer",
		Year:          intPtr(1950),
		ReferenceText: "The evening Shema opens the tractate.",
		Category:      "Philosophical",
		Keywords:      []string{" shema ", ""},
	}
}

func TestAddPassage_EmptyForestCreatesTree(t *testing.T) {
	enr := &countingEnricher{content: fullContent()}
	env := newTestEnv(t, enr)
	ctx := context.Background()

	out, err := env.svc.AddPassage(ctx, AddPassageInput{Citation: "Bavli Berakhot 2a", Topic: topic("Heschel")})
	require.NoError(t, err)

	assert.True(t, out.CreatedTree)
	assert.Equal(t, "berakhot-2a", out.TreeID)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, 1, enr.Calls())
	assert.Equal(t, 1, env.count(t))

	tree := env.get(t, out.TreeID)
	assert.Equal(t, "Bavli Berakhot 2a", tree.Root.Title)
	assert.Equal(t, "Bavli Berakhot 2a", tree.Root.SourceText)
	assert.Equal(t, fullContent().PrimaryText, tree.Root.HebrewText)
	assert.Equal(t, fullContent().EnglishTranslation, tree.Root.Translation)
	require.NotNil(t, tree.Root.HebrewTranslation)
	assert.Equal(t, "Keywords: shema, time", tree.Root.UserNotesKeywords)

	require.Len(t, tree.Branches, 1)
	b := tree.Branches[0]
	assert.Equal(t, out.BranchID, b.ID)
	assert.True(t, strings.HasPrefix(b.ID, "berakhot-2a-"))
	assert.Equal(t, "Heschel", b.Author)
	assert.Equal(t, []string{"shema"}, b.Keywords)
	assert.Equal(t, 1950, *b.Year)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PassagesAdded.WithLabelValues(metrics.PathCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EnrichmentRequests.WithLabelValues(metrics.ResultOK)))
}

func TestAddPassage_ExistingRootGetsOneBranch(t *testing.T) {
	enr := &countingEnricher{content: fullContent()}
	env := newTestEnv(t, enr)
	ctx := context.Background()
	env.mustCreate(t, "berakhot-2a", "Berakhot 2a", "first")

	out, err := env.svc.AddPassage(ctx, AddPassageInput{Citation: "b. Brachot 2a", Topic: topic("Soloveitchik")})
	require.NoError(t, err)

	assert.False(t, out.CreatedTree)
	assert.Equal(t, "berakhot-2a", out.TreeID)
	assert.Zero(t, enr.Calls(), "attaching must not call enrichment")
	assert.Equal(t, 1, env.count(t))

	tree := env.get(t, "berakhot-2a")
	require.Len(t, tree.Branches, 2)
	assert.Equal(t, "Soloveitchik", tree.Branches[1].Author)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PassagesAdded.WithLabelValues(metrics.PathAttached)))
}

func TestAddPassage_HardEnrichmentFailureCreatesNothing(t *testing.T) {
	tests := []struct {
		name string
		enr  enrich.Enricher
	}{
		{"error", &countingEnricher{err: stderrors.New("connection reset")}},
		{"unavailable", enrich.Unavailable},
		{"empty content", &countingEnricher{content: &enrich.Content{Keywords: []string{"x"}}}},
		{"nil content", enrich.Func(func(context.Context, string) (*enrich.Content, error) { return nil, nil })},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.enr)
			_, err := env.svc.AddPassage(context.Background(), AddPassageInput{Citation: "Yoma 85b", Topic: topic("x")})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrEnrichmentFailed), "got %v", err)
			assert.Zero(t, env.count(t))
			assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EnrichmentRequests.WithLabelValues(metrics.ResultFailed)))
		})
	}
}

func TestAddPassage_PartialEnrichmentWarns(t *testing.T) {
	enr := &countingEnricher{content: &enrich.Content{PrimaryText: "אף על פי"}}
	env := newTestEnv(t, enr)

	out, err := env.svc.AddPassage(context.Background(), AddPassageInput{Citation: "Sanhedrin 37a", Topic: topic("Levinas")})
	require.NoError(t, err)

	assert.True(t, out.CreatedTree)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "english_translation")
	assert.NotContains(t, out.Warnings[0], "primary_text")

	tree := env.get(t, out.TreeID)
	assert.Equal(t, "אף על פי", tree.Root.HebrewText)
	assert.Empty(t, tree.Root.Translation)
	assert.Nil(t, tree.Root.HebrewTranslation)
	assert.Len(t, tree.Branches, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.EnrichmentRequests.WithLabelValues(metrics.ResultPartial)))
}

func TestAddPassage_Validation(t *testing.T) {
	env := newTestEnv(t, &countingEnricher{content: fullContent()})
	ctx := context.Background()

	tests := []struct {
		name  string
		input AddPassageInput
		want  string
	}{
		{"empty citation", AddPassageInput{Citation: "  ", Topic: topic("a")}, "citation is required"},
		{"markers only", AddPassageInput{Citation: "Bavli Talmud", Topic: topic("a")}, "no identifying content"},
		{"no reference text", AddPassageInput{Citation: "Yoma 85b", Topic: TopicMetadata{Author: "a", ReferenceText: "   "}}, "reference_text is required"},
		{"year out of range", AddPassageInput{Citation: "Yoma 85b", Topic: TopicMetadata{ReferenceText: "r", Year: intPtr(20000)}}, "year must be <= 9999"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.AddPassage(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	assert.Zero(t, env.count(t))
}

func TestAddPassage_TakenSlugFallsBack(t *testing.T) {
	env := newTestEnv(t, &countingEnricher{content: fullContent()})
	// Same id, different passage: the slug is taken but nothing matches.
	env.mustCreate(t, "sukkah-2a", "Manually renamed root")

	out, err := env.svc.AddPassage(context.Background(), AddPassageInput{Citation: "Sukkah 2a", Topic: topic("a")})
	require.NoError(t, err)

	assert.True(t, out.CreatedTree)
	assert.NotEqual(t, "sukkah-2a", out.TreeID)
	assert.True(t, strings.HasPrefix(out.TreeID, "sukkah-2a-"), out.TreeID)
	tree := env.get(t, out.TreeID)
	assert.True(t, strings.HasPrefix(tree.Branches[0].ID, out.TreeID+"-"))
	assert.Equal(t, 2, env.count(t))
}

func TestAddPassage_ConcurrentAddsShareOneTree(t *testing.T) {
	enr := &countingEnricher{content: fullContent()}
	env := newTestEnv(t, enr)
	ctx := context.Background()

	citations := []string{"Shabbat 31a", "Shabbos 31a", "Bavli Shabbat 31a", "shabbath 31a"}
	var wg sync.WaitGroup
	errs := make([]error, len(citations))
	for i, c := range citations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.svc.AddPassage(ctx, AddPassageInput{Citation: c, Topic: topic("hillel")})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, env.count(t))
	assert.Equal(t, 1, enr.Calls())
	tree := env.get(t, "shabbos-31a")
	assert.Len(t, tree.Branches, len(citations))
}
