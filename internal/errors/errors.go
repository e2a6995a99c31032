package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Sugya error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrFileNotFound     ErrorCode = "FILE_NOT_FOUND"    // 404
	ErrTreeExists       ErrorCode = "TREE_EXISTS"       // 409
	ErrConflict         ErrorCode = "CONFLICT"          // 409
	ErrCancelled        ErrorCode = "CANCELLED"         // 499
	ErrPartialMerge     ErrorCode = "PARTIAL_MERGE"     // 500
	ErrInternal         ErrorCode = "INTERNAL"          // 500
	ErrEnrichmentFailed ErrorCode = "ENRICHMENT_FAILED" // 502
)

// SugyaError represents a structured error with code, status, and details.
type SugyaError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *SugyaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *SugyaError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid input. It is the
// validation error of the merge and add-passage workflows.
func NewInvalidRequest(msg string) *SugyaError {
	return &SugyaError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing tree.
func NewNotFound(id string) *SugyaError {
	return &SugyaError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("tree not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewBranchNotFound creates a 404 error for a branch missing from a tree.
func NewBranchNotFound(treeID, branchID string) *SugyaError {
	return &SugyaError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("branch %s not found in tree %s", branchID, treeID),
		Details: map[string]any{"tree_id": treeID, "branch_id": branchID},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *SugyaError {
	return &SugyaError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewTreeExists creates a 409 error when a tree id is already taken.
func NewTreeExists(id string) *SugyaError {
	return &SugyaError{
		Code:    ErrTreeExists,
		Status:  409,
		Message: fmt.Sprintf("tree already exists: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *SugyaError {
	return &SugyaError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewCancelled creates a 499 error when the caller went away mid-operation.
func NewCancelled(op string) *SugyaError {
	return &SugyaError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewEnrichmentFailed creates a 502 error when the content-enrichment service
// failed or returned nothing usable. Nothing is created when this is returned.
func NewEnrichmentFailed(citation string, err error) *SugyaError {
	msg := fmt.Sprintf("content enrichment failed for %q", citation)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &SugyaError{
		Code:    ErrEnrichmentFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"citation": citation},
		cause:   err,
	}
}

// NewPartialMerge creates an error for a merge that folded some sources into
// the target before failing. merged sources are gone from the forest; failed
// sources are untouched and can be retried.
func NewPartialMerge(targetID string, merged, failed []string, failedID, step string, cause error) *SugyaError {
	causeMsg := ""
	if cause != nil {
		causeMsg = cause.Error()
	}
	msg := fmt.Sprintf("merge into %s stopped at %s of %s: %d merged, %d unresolved %v",
		targetID, step, failedID, len(merged), len(failed), failed)
	return &SugyaError{
		Code:    ErrPartialMerge,
		Status:  500,
		Message: msg,
		Details: map[string]any{
			"target_id":   targetID,
			"merged":      merged,
			"failed":      failed,
			"failed_id":   failedID,
			"failed_step": step,
			"cause":       causeMsg,
		},
		cause: cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *SugyaError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &SugyaError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err, or any error it wraps, is a SugyaError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SugyaError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As extracts the SugyaError from err, wrapping anything else as INTERNAL.
func As(err error) *SugyaError {
	var sErr *SugyaError
	if stderrors.As(err, &sErr) {
		return sErr
	}
	return NewInternal(err)
}
