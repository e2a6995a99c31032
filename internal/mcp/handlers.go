package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// FetchRequest represents the arguments for fetch.
type FetchRequest struct {
	ID       string `json:"id,omitempty"`
	Citation string `json:"citation,omitempty"`
}

// ListRequest represents the arguments for list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// SearchRequest represents the arguments for search.
type SearchRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// MergeRequest represents the arguments for merge.
type MergeRequest struct {
	TargetID  string   `json:"target_id"`
	SourceIDs []string `json:"source_ids"`
	Confirm   bool     `json:"confirm"`
}

// UpdateRootRequest represents the arguments for update_root.
type UpdateRootRequest struct {
	ID string `json:"id"`
	forest.RootUpdate
}

// IDRequest represents tools addressed by tree id alone.
type IDRequest struct {
	ID      string `json:"id"`
	Confirm bool   `json:"confirm,omitempty"`
}

// BranchRequest represents the arguments for remove_branch and harvest.
type BranchRequest struct {
	TreeID    string `json:"tree_id"`
	BranchID  string `json:"branch_id"`
	Harvested *bool  `json:"harvested,omitempty"`
}

// ExportRequest represents the arguments for export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
}

// ImportRequest represents the arguments for import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// Handler implementations

// HandleAddPassage handles the add_passage tool call.
func (h *Handlers) HandleAddPassage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.AddPassageInput](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.AddPassage(ctx, input))
}

// HandleFetch handles the fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.Fetch(ctx, ops.FetchInput{ID: input.ID, Citation: input.Citation}))
}

// HandleList handles the list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.List(ctx, ops.ListInput{Limit: input.Limit, Offset: input.Offset}))
}

// HandleSearch handles the search tool call.
func (h *Handlers) HandleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.Search(ctx, ops.SearchInput{Query: input.Query, Limit: input.Limit, Offset: input.Offset}))
}

// HandleDuplicates handles the duplicates tool call.
func (h *Handlers) HandleDuplicates(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(h.svc.Duplicates(ctx))
}

// HandleMerge handles the merge tool call. The caller must pass confirm=true.
func (h *Handlers) HandleMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MergeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if !input.Confirm {
		return errorResult(errors.NewInvalidRequest("merge deletes the source trees; pass confirm=true to proceed")), nil
	}
	return respond(h.svc.Merge(ctx, ops.MergeInput{TargetID: input.TargetID, SourceIDs: input.SourceIDs}))
}

// HandleUpdateRoot handles the update_root tool call.
func (h *Handlers) HandleUpdateRoot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UpdateRootRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.UpdateRoot(ctx, ops.UpdateRootInput{ID: input.ID, Fields: input.RootUpdate}))
}

// HandleRegenerate handles the regenerate tool call.
func (h *Handlers) HandleRegenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.Regenerate(ctx, ops.RegenerateInput{ID: input.ID}))
}

// HandleDelete handles the delete tool call. The caller must pass confirm=true.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if !input.Confirm {
		return errorResult(errors.NewInvalidRequest("delete is permanent; pass confirm=true to proceed")), nil
	}
	return respond(h.svc.DeleteTree(ctx, ops.DeleteInput{ID: input.ID}))
}

// HandleRemoveBranch handles the remove_branch tool call.
func (h *Handlers) HandleRemoveBranch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BranchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.RemoveBranch(ctx, ops.RemoveBranchInput{TreeID: input.TreeID, BranchID: input.BranchID}))
}

// HandleHarvest handles the harvest tool call. harvested defaults to true.
func (h *Handlers) HandleHarvest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BranchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	harvested := input.Harvested == nil || *input.Harvested
	return respond(h.svc.Harvest(ctx, ops.HarvestInput{
		TreeID:    input.TreeID,
		BranchID:  input.BranchID,
		Harvested: harvested,
	}))
}

// HandleExport handles the export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.Export(ctx, ops.ExportInput{Path: input.Path}))
}

// HandleImport handles the import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return respond(h.svc.Import(ctx, ops.ImportInput{Path: input.Path, Mode: ops.ImportMode(input.Mode)}))
}

// Result helpers

// respond turns an operation's (result, error) pair into a tool result.
func respond[T any](result T, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed; they can hold file paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.SugyaError
	if stderrors.As(err, &sErr) && sErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": sErr.Message,
			"status":  sErr.Status,
		}
		if sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
