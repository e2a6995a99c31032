package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/sugya/internal/config"
	"github.com/hpungsan/sugya/internal/db"
	"github.com/hpungsan/sugya/internal/enrich"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/metrics"
	"github.com/hpungsan/sugya/internal/ops"
)

type testApp struct {
	svc     *ops.Service
	store   *db.Store
	handler http.Handler
}

func setupTest(t *testing.T) *testApp {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	m := metrics.NewCollector()
	store := db.NewStore(database, db.SQLite)
	svc := ops.New(ops.Deps{
		Repo: store,
		Enricher: enrich.Func(func(_ context.Context, citation string) (*enrich.Content, error) {
			return &enrich.Content{PrimaryText: "טקסט", EnglishTranslation: "*Translation* of " + citation}, nil
		}),
		Metrics: m,
	})

	srv, err := NewServer(svc, config.DefaultConfig(), Options{Version: "test", Metrics: m})
	require.NoError(t, err)
	return &testApp{svc: svc, store: store, handler: srv.Handler}
}

func (a *testApp) seed(t *testing.T, citation, author, reference string) *ops.AddPassageOutput {
	t.Helper()
	out, err := a.svc.AddPassage(context.Background(), ops.AddPassageInput{
		Citation: citation,
		Topic:    ops.TopicMetadata{Author: author, WorkTitle: author + " work", ReferenceText: reference},
	})
	require.NoError(t, err)
	return out
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// --- list and search ---

func TestHandleList(t *testing.T) {
	app := setupTest(t)
	app.seed(t, "Yoma 85b", "Leibowitz", "saving life")

	rec := app.do(httptest.NewRequest(http.MethodGet, "/trees", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<!DOCTYPE html>")
	assert.Contains(t, body, "Yoma 85b")
	assert.Contains(t, body, "yuma 85b")
}

func TestHandleList_Empty(t *testing.T) {
	app := setupTest(t)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/trees?limit=bad&offset=bad", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "The forest is empty")
}

func TestHandleList_HtmxReturnsContentOnly(t *testing.T) {
	app := setupTest(t)
	app.seed(t, "Sukkah 2a", "Katz", "r")

	req := httptest.NewRequest(http.MethodGet, "/trees", nil)
	req.Header.Set("HX-Request", "true")
	rec := app.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<!DOCTYPE html>")
	assert.Contains(t, rec.Body.String(), "Sukkah 2a")
}

func TestHandleList_JSON(t *testing.T) {
	app := setupTest(t)
	app.seed(t, "Sukkah 2a", "Katz", "r")

	req := httptest.NewRequest(http.MethodGet, "/trees", nil)
	req.Header.Set("Accept", "application/json")
	rec := app.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out ops.ListOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, 1, out.Items[0].BranchCount)
}

func TestHandleList_Search(t *testing.T) {
	app := setupTest(t)
	app.seed(t, "Yoma 85b", "Leibowitz", "pikuach nefesh")
	app.seed(t, "Sukkah 2a", "Katz", "booths")

	rec := app.do(httptest.NewRequest(http.MethodGet, "/trees?q=nefesh", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<b>nefesh</b>")
	assert.Contains(t, body, "Yoma 85b")
	assert.NotContains(t, body, "Sukkah 2a")

	rec = app.do(httptest.NewRequest(http.MethodGet, "/trees?q="+strings.Repeat("x", ops.MaxQueryLength+1), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleList_LinksResolveForCitationsWithSlash(t *testing.T) {
	app := setupTest(t)
	added := app.seed(t, "Shabbat 21b/22a", "Katz", "lights")
	assert.Equal(t, "shabbos-21b-22a", added.TreeID)

	// Imported trees keep whatever id they were exported with
	require.NoError(t, app.store.CreateTree(context.Background(), &forest.Tree{
		ID:   "odd/id?x",
		Root: forest.Root{Title: "Sukkah 2a", SourceText: "Sukkah 2a"},
	}))

	rec := app.do(httptest.NewRequest(http.MethodGet, "/trees", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/trees/shabbos-21b-22a"`)
	assert.Contains(t, body, `href="/trees/odd%2Fid%3Fx"`)

	for _, link := range []string{"/trees/shabbos-21b-22a", "/trees/odd%2Fid%3Fx"} {
		rec := app.do(httptest.NewRequest(http.MethodGet, link, nil))
		assert.Equal(t, http.StatusOK, rec.Code, link)
	}
}

// --- detail ---

func TestHandleDetail(t *testing.T) {
	app := setupTest(t)
	added := app.seed(t, "Ketubot 111a", "Scholem", "**messianism** <script>alert(1)</script>")

	rec := app.do(httptest.NewRequest(http.MethodGet, "/trees/"+added.TreeID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<strong>messianism</strong>")
	assert.Contains(t, body, "<em>Translation</em>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "Scholem")
	assert.Contains(t, body, `id="`+added.BranchID+`"`)
}

func TestHandleDetail_NotFound(t *testing.T) {
	app := setupTest(t)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/trees/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error 404")

	req := httptest.NewRequest(http.MethodGet, "/trees/missing", nil)
	req.Header.Set("Accept", "application/json")
	rec = app.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var payload map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "NOT_FOUND", payload["error"]["code"])
}

// --- delete, harvest, remove ---

func TestHandleDelete(t *testing.T) {
	app := setupTest(t)
	added := app.seed(t, "Yoma 85b", "Leibowitz", "r")

	rec := app.do(httptest.NewRequest(http.MethodDelete, "/trees/"+added.TreeID, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/trees/"+added.TreeID+"?confirm=true", nil)
	req.Header.Set("HX-Request", "true")
	rec = app.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/trees?deleted="+added.TreeID, rec.Header().Get("HX-Redirect"))

	_, err := app.svc.Fetch(context.Background(), ops.FetchInput{ID: added.TreeID})
	assert.Error(t, err)
}

func TestHandleDelete_FormFallback(t *testing.T) {
	app := setupTest(t)
	added := app.seed(t, "Yoma 85b", "Leibowitz", "r")

	rec := app.do(postForm("/trees/"+added.TreeID+"/delete", url.Values{"confirm": {"true"}}))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/trees?deleted="+added.TreeID, rec.Header().Get("Location"))
}

func TestHandleHarvestAndRemove(t *testing.T) {
	app := setupTest(t)
	added := app.seed(t, "Yoma 85b", "Leibowitz", "r")
	base := "/trees/" + added.TreeID + "/branches/" + added.BranchID

	rec := app.do(postForm(base+"/harvest", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	tree, err := app.svc.Fetch(context.Background(), ops.FetchInput{ID: added.TreeID})
	require.NoError(t, err)
	assert.NotNil(t, tree.Branches[0].HarvestedAt)

	rec = app.do(httptest.NewRequest(http.MethodGet, "/trees/"+added.TreeID, nil))
	assert.Contains(t, rec.Body.String(), "Unharvest")

	rec = app.do(postForm(base+"/harvest", url.Values{"harvested": {"false"}}))
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	rec = app.do(postForm(base+"/remove", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	tree, err = app.svc.Fetch(context.Background(), ops.FetchInput{ID: added.TreeID})
	require.NoError(t, err)
	assert.Empty(t, tree.Branches)

	rec = app.do(postForm(base+"/remove", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- duplicates and merge ---

// seedDuplicates creates two trees under different keys, then edits the
// second root so both share a key.
func seedDuplicates(t *testing.T, app *testApp) (string, string) {
	t.Helper()
	target := app.seed(t, "Ketubot 111a", "Scholem", "r").TreeID
	other := app.seed(t, "Sukkah 2a", "Katz", "r").TreeID
	src := "Bavli Ketubos 111a"
	_, err := app.svc.UpdateRoot(context.Background(), ops.UpdateRootInput{ID: other, Fields: forest.RootUpdate{SourceText: &src}})
	require.NoError(t, err)
	return target, other
}

func TestHandleDuplicates(t *testing.T) {
	app := setupTest(t)
	target, other := seedDuplicates(t, app)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/duplicates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ketubot 111a")
	assert.Contains(t, body, target)
	assert.Contains(t, body, other)
}

func TestHandleMerge(t *testing.T) {
	app := setupTest(t)
	target, other := seedDuplicates(t, app)

	form := url.Values{"target_id": {target}, "source_ids": {target, other}}
	rec := app.do(postForm("/duplicates/merge", form))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "merge without confirm")

	form.Set("confirm", "true")
	rec = app.do(postForm("/duplicates/merge", form))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Merged 1 tree(s)")
	assert.Contains(t, body, "No duplicates found")

	tree, err := app.svc.Fetch(context.Background(), ops.FetchInput{ID: target})
	require.NoError(t, err)
	assert.Len(t, tree.Branches, 3)
}

// --- add passage ---

func TestHandleAddPassage(t *testing.T) {
	app := setupTest(t)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/passages/new?citation=Yoma+85b", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="Yoma 85b"`)

	form := url.Values{
		"citation":       {"Yoma 85b"},
		"author":         {"Leibowitz"},
		"reference_text": {"saving life"},
		"year":           {"1975"},
		"keywords":       {"life, shabbat ,"},
	}
	rec = app.do(postForm("/passages", form))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/trees/"))

	req := postForm("/passages", form)
	req.Header.Set("Accept", "application/json")
	rec = app.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var out ops.AddPassageOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.CreatedTree)

	tree, err := app.svc.Fetch(context.Background(), ops.FetchInput{ID: out.TreeID})
	require.NoError(t, err)
	require.Len(t, tree.Branches, 2)
	assert.Equal(t, []string{"life", "shabbat"}, tree.Branches[0].Keywords)
	require.NotNil(t, tree.Branches[0].Year)
	assert.Equal(t, 1975, *tree.Branches[0].Year)
}

func TestHandleAddPassage_ValidationKeepsInput(t *testing.T) {
	app := setupTest(t)

	rec := app.do(postForm("/passages", url.Values{"citation": {"Yoma 85b"}, "author": {"Leibowitz"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "reference_text")
	assert.Contains(t, body, `value="Leibowitz"`)

	rec = app.do(postForm("/passages", url.Values{"citation": {"Yoma 85b"}, "reference_text": {"r"}, "year": {"soon"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- server ---

func TestServerRoutes(t *testing.T) {
	app := setupTest(t)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/trees", rec.Header().Get("Location"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))

	rec = app.do(httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	app.seed(t, "Yoma 85b", "Leibowitz", "r")
	rec = app.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sugya_passages_added_total")
}
