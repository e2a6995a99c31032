package ops

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/errors"
)

// DeleteInput contains parameters for the DeleteTree operation.
type DeleteInput struct {
	ID string
}

// DeleteOutput contains the result of the DeleteTree operation.
type DeleteOutput struct {
	Deleted         bool   `json:"deleted"`
	ID              string `json:"id"`
	BranchesRemoved int    `json:"branches_removed"`
}

// DeleteTree permanently removes a tree and all of its branches.
func (s *Service) DeleteTree(ctx context.Context, input DeleteInput) (*DeleteOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	// Verify it exists (GetTree returns NOT_FOUND if not)
	t, err := s.repo.GetTree(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteTree(ctx, id); err != nil {
		return nil, err
	}

	s.logger.Info("tree deleted", zap.String("tree_id", id), zap.Int("branches", len(t.Branches)))
	return &DeleteOutput{
		Deleted:         true,
		ID:              id,
		BranchesRemoved: len(t.Branches),
	}, nil
}

// RemoveBranchInput contains parameters for the RemoveBranch operation.
type RemoveBranchInput struct {
	TreeID   string
	BranchID string
}

// RemoveBranchOutput contains the result of the RemoveBranch operation.
type RemoveBranchOutput struct {
	Removed  bool   `json:"removed"`
	TreeID   string `json:"tree_id"`
	BranchID string `json:"branch_id"`
}

// RemoveBranch deletes one branch from a tree. The root is never removed this
// way; a tree with no branches is still a valid tree.
func (s *Service) RemoveBranch(ctx context.Context, input RemoveBranchInput) (*RemoveBranchOutput, error) {
	treeID := strings.TrimSpace(input.TreeID)
	branchID := strings.TrimSpace(input.BranchID)
	if treeID == "" || branchID == "" {
		return nil, errors.NewInvalidRequest("tree_id and branch_id are required")
	}

	if err := s.repo.RemoveBranches(ctx, treeID, []string{branchID}); err != nil {
		return nil, err
	}

	return &RemoveBranchOutput{Removed: true, TreeID: treeID, BranchID: branchID}, nil
}
