package ops

import (
	"context"
	"sort"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []TreeSummary `json:"items"`
	Pagination Pagination    `json:"pagination"`
	Sort       string        `json:"sort"`
}

// List returns tree summaries, most recently updated first.
func (s *Service) List(ctx context.Context, input ListInput) (*ListOutput, error) {
	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	// Ensure offset is non-negative
	offset := max(input.Offset, 0)

	trees, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}

	// Stable keeps creation order among trees updated in the same second.
	sort.SliceStable(trees, func(i, j int) bool {
		return trees[i].UpdatedAt > trees[j].UpdatedAt
	})

	total := len(trees)
	items := []TreeSummary{}
	for i := offset; i < total && len(items) < limit; i++ {
		items = append(items, Summarize(trees[i]))
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "updated_at_desc",
	}, nil
}
