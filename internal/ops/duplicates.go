package ops

import (
	"context"

	"github.com/hpungsan/sugya/internal/forest"
)

// DuplicateGroupView is one set of trees that cite the same passage.
type DuplicateGroupView struct {
	CanonicalKey string        `json:"canonical_key"`
	Trees        []TreeSummary `json:"trees"`
}

// DuplicatesOutput contains the result of the Duplicates operation.
type DuplicatesOutput struct {
	Groups       []DuplicateGroupView `json:"groups"`
	TreesScanned int                  `json:"trees_scanned"`
}

// Duplicates scans the whole forest and reports every citation key held by
// more than one tree. It never mutates anything.
func (s *Service) Duplicates(ctx context.Context) (*DuplicatesOutput, error) {
	trees, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}

	groups := forest.FindDuplicateGroups(trees)
	out := &DuplicatesOutput{
		Groups:       make([]DuplicateGroupView, 0, len(groups)),
		TreesScanned: len(trees),
	}
	for _, g := range groups {
		view := DuplicateGroupView{
			CanonicalKey: g.CanonicalKey,
			Trees:        make([]TreeSummary, 0, len(g.Trees)),
		}
		for _, t := range g.Trees {
			view.Trees = append(view.Trees, Summarize(t))
		}
		out.Groups = append(out.Groups, view)
	}
	return out, nil
}
