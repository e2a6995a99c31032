package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/sugya/internal/errors"
)

// HarvestInput contains parameters for the Harvest operation.
type HarvestInput struct {
	TreeID    string
	BranchID  string
	Harvested bool // false clears the flag
}

// HarvestOutput contains the result of the Harvest operation.
type HarvestOutput struct {
	TreeID      string `json:"tree_id"`
	BranchID    string `json:"branch_id"`
	HarvestedAt *int64 `json:"harvested_at"`
}

// Harvest marks a branch as ground truth, or clears the mark.
func (s *Service) Harvest(ctx context.Context, input HarvestInput) (*HarvestOutput, error) {
	treeID := strings.TrimSpace(input.TreeID)
	branchID := strings.TrimSpace(input.BranchID)
	if treeID == "" || branchID == "" {
		return nil, errors.NewInvalidRequest("tree_id and branch_id are required")
	}

	var at *int64
	if input.Harvested {
		now := s.now()
		at = &now
	}
	if err := s.repo.SetBranchHarvested(ctx, treeID, branchID, at); err != nil {
		return nil, err
	}

	return &HarvestOutput{TreeID: treeID, BranchID: branchID, HarvestedAt: at}, nil
}
