package ops

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
)

// UpdateRootInput contains parameters for the UpdateRoot operation.
type UpdateRootInput struct {
	ID     string
	Fields forest.RootUpdate // nil fields = don't change
}

// UpdateRootOutput contains the result of the UpdateRoot operation.
type UpdateRootOutput struct {
	ID  string `json:"id"`
	Key string `json:"key"`

	// SharesKeyWith lists other trees whose root now has the same key, i.e.
	// duplicates the edit created or left in place.
	SharesKeyWith []string `json:"shares_key_with,omitempty"`
}

// UpdateRoot edits root fields of a tree. Branches are untouched. The root's
// source_text may change but not become empty.
func (s *Service) UpdateRoot(ctx context.Context, input UpdateRootInput) (*UpdateRootOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if input.Fields.Empty() {
		return nil, errors.NewInvalidRequest("at least one root field must be provided")
	}
	if src := input.Fields.SourceText; src != nil && strings.TrimSpace(*src) == "" {
		return nil, errors.NewInvalidRequest("source_text must not be empty")
	}

	if err := s.repo.UpdateTreeFields(ctx, id, input.Fields); err != nil {
		return nil, err
	}

	trees, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}
	out := &UpdateRootOutput{ID: id}
	for _, t := range trees {
		if t.ID == id {
			out.Key = t.Key()
			break
		}
	}
	for _, t := range trees {
		if t.ID != id && out.Key != "" && t.Key() == out.Key {
			out.SharesKeyWith = append(out.SharesKeyWith, t.ID)
		}
	}
	if len(out.SharesKeyWith) > 0 {
		s.logger.Info("root edit left duplicate citations",
			zap.String("tree_id", id), zap.String("key", out.Key), zap.Strings("others", out.SharesKeyWith))
	}
	return out, nil
}
