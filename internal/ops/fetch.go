package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/sugya/internal/citation"
	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
)

// FetchInput addresses a tree by id or by citation. Exactly one must be set.
type FetchInput struct {
	ID       string
	Citation string
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	forest.Tree        // embedded (copy, not pointer)
	Key         string `json:"key"`
}

// Fetch retrieves one tree with all its branches. A citation lookup finds the
// first tree whose root has the same canonical key.
func (s *Service) Fetch(ctx context.Context, input FetchInput) (*FetchOutput, error) {
	id := strings.TrimSpace(input.ID)
	raw := strings.TrimSpace(input.Citation)

	var t *forest.Tree
	switch {
	case id != "" && raw != "":
		return nil, errors.NewInvalidRequest("provide either id or citation, not both")
	case id != "":
		var err error
		t, err = s.repo.GetTree(ctx, id)
		if err != nil {
			return nil, err
		}
	case raw != "":
		if citation.Key(raw) == "" {
			return nil, errors.NewInvalidRequest("citation has no identifying content")
		}
		trees, err := s.repo.AllTrees(ctx)
		if err != nil {
			return nil, err
		}
		if t = forest.FindMatch(trees, raw); t == nil {
			return nil, errors.NewNotFound(raw)
		}
	default:
		return nil, errors.NewInvalidRequest("id or citation is required")
	}

	return &FetchOutput{Tree: *t, Key: t.Key()}, nil
}
