package web

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hpungsan/sugya/internal/config"
	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/ops"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	svc      *ops.Service
	cfg      *config.Config
	renderer *Renderer
}

// HandleList handles GET /trees. With ?q= it searches instead of listing.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := parseIntParam(r, "limit", ops.DefaultListLimit)
	offset := parseIntParam(r, "offset", 0)

	data := ListPageData{
		PageData: h.renderer.page("Trees", "trees"),
		Query:    query,
		Deleted:  r.URL.Query().Get("deleted"),
	}

	if query != "" {
		result, err := h.svc.Search(r.Context(), ops.SearchInput{Query: query, Limit: limit, Offset: offset})
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		if wantsJSON(r) {
			renderJSON(w, http.StatusOK, result)
			return
		}
		data.Title = "Search: " + query
		data.Results = result.Items
		data.Pagination = result.Pagination
		h.renderer.renderPage(w, r, "list", data)
		return
	}

	result, err := h.svc.List(r.Context(), ops.ListInput{Limit: limit, Offset: offset})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	data.Items = result.Items
	data.Pagination = result.Pagination
	h.renderer.renderPage(w, r, "list", data)
}

// HandleDetail handles GET /trees/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("tree ID is required"))
		return
	}

	tree, err := h.svc.Fetch(r.Context(), ops.FetchInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, tree)
		return
	}

	branches := make([]BranchView, len(tree.Branches))
	for i, b := range tree.Branches {
		branches[i] = BranchView{Branch: b, Reference: renderMarkdown(b.ReferenceText)}
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData:    h.renderer.page(tree.Root.Title, "trees"),
		Tree:        tree,
		Translation: renderMarkdown(tree.Root.Translation),
		Notes:       renderMarkdown(tree.Root.UserNotesKeywords),
		Branches:    branches,
	})
}

// HandleDelete handles DELETE /trees/{id} and the form fallback
// POST /trees/{id}/delete. Both require confirm=true.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("tree ID is required"))
		return
	}
	if !confirmed(r) {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	result, err := h.svc.DeleteTree(r.Context(), ops.DeleteInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	target := "/trees?deleted=" + url.QueryEscape(result.ID)

	// HTMX request: redirect via HX-Redirect header
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleHarvest handles POST /trees/{id}/branches/{branch}/harvest.
// The form field harvested=false clears the mark; anything else sets it.
func (h *Handlers) HandleHarvest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	input := ops.HarvestInput{
		TreeID:    r.PathValue("id"),
		BranchID:  r.PathValue("branch"),
		Harvested: r.FormValue("harvested") != "false",
	}

	result, err := h.svc.Harvest(r.Context(), input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	http.Redirect(w, r, "/trees/"+url.PathEscape(input.TreeID), http.StatusSeeOther)
}

// HandleRemoveBranch handles POST /trees/{id}/branches/{branch}/remove.
func (h *Handlers) HandleRemoveBranch(w http.ResponseWriter, r *http.Request) {
	input := ops.RemoveBranchInput{TreeID: r.PathValue("id"), BranchID: r.PathValue("branch")}
	result, err := h.svc.RemoveBranch(r.Context(), input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	http.Redirect(w, r, "/trees/"+url.PathEscape(input.TreeID), http.StatusSeeOther)
}

// HandleDuplicates handles GET /duplicates.
func (h *Handlers) HandleDuplicates(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Duplicates(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	h.renderer.renderPage(w, r, "duplicates", DuplicatesPageData{
		PageData:     h.renderer.page("Duplicates", "duplicates"),
		Groups:       result.Groups,
		TreesScanned: result.TreesScanned,
	})
}

// HandleMerge handles POST /duplicates/merge. Form fields: target_id,
// source_ids (repeated) and confirm=true.
func (h *Handlers) HandleMerge(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	if !confirmed(r) {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("merge deletes the source trees; check confirm to proceed"))
		return
	}

	// The target is also offered as a checkbox in the group; drop it.
	target := strings.TrimSpace(r.FormValue("target_id"))
	var sources []string
	for _, id := range r.Form["source_ids"] {
		if id = strings.TrimSpace(id); id != "" && id != target {
			sources = append(sources, id)
		}
	}

	result, err := h.svc.Merge(r.Context(), ops.MergeInput{TargetID: target, SourceIDs: sources})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	dups, err := h.svc.Duplicates(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, r, "duplicates", DuplicatesPageData{
		PageData:     h.renderer.page("Duplicates", "duplicates"),
		Groups:       dups.Groups,
		TreesScanned: dups.TreesScanned,
		Merged:       result,
	})
}

// HandleAddForm handles GET /passages/new.
func (h *Handlers) HandleAddForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, r, "add", AddPageData{
		PageData: h.renderer.page("Add passage", "add"),
		Citation: r.URL.Query().Get("citation"),
	})
}

// HandleAddPassage handles POST /passages.
func (h *Handlers) HandleAddPassage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	input := ops.AddPassageInput{
		Citation: r.FormValue("citation"),
		Topic: ops.TopicMetadata{
			Author:             r.FormValue("author"),
			WorkTitle:          r.FormValue("work_title"),
			PublicationDetails: r.FormValue("publication_details"),
			ReferenceText:      r.FormValue("reference_text"),
			UserNotes:          r.FormValue("user_notes"),
			Category:           r.FormValue("category"),
			Keywords:           splitKeywords(r.FormValue("keywords")),
		},
	}
	if y := strings.TrimSpace(r.FormValue("year")); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("year must be an integer"))
			return
		}
		input.Topic.Year = &year
	}

	result, err := h.svc.AddPassage(r.Context(), input)
	if err != nil {
		if wantsJSON(r) || !errors.Is(err, errors.ErrInvalidRequest) {
			h.renderer.renderError(w, r, err)
			return
		}
		// Validation errors go back to the form with the input kept
		h.renderer.renderPageStatus(w, r, http.StatusBadRequest, "add", AddPageData{
			PageData: h.renderer.page("Add passage", "add"),
			Citation: input.Citation,
			Topic:    input.Topic,
			Keywords: r.FormValue("keywords"),
			Error:    errors.As(err).Message,
		})
		return
	}

	if wantsJSON(r) {
		status := http.StatusOK
		if result.CreatedTree {
			status = http.StatusCreated
		}
		renderJSON(w, status, result)
		return
	}
	http.Redirect(w, r, "/trees/"+url.PathEscape(result.TreeID)+"#"+url.QueryEscape(result.BranchID), http.StatusSeeOther)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// confirmed reports whether the request carries confirm=true in the query or form.
func confirmed(r *http.Request) bool {
	v := r.FormValue("confirm")
	return v == "true" || v == "on" || v == "1"
}

// splitKeywords splits a comma-separated form field.
func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
