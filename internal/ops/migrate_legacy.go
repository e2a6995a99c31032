package ops

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/legacy"
)

// MigrateLegacyInput contains parameters for the MigrateLegacy operation.
type MigrateLegacyInput struct {
	Path   string // legacy {nodes, edges} JSON document
	DryRun bool
}

// MigrateLegacyOutput contains the result of the MigrateLegacy operation.
type MigrateLegacyOutput struct {
	Created  []string         `json:"created"`
	Skipped  []string         `json:"skipped"`
	Problems []legacy.Problem `json:"problems"`
	DryRun   bool             `json:"dry_run,omitempty"`
}

// MigrateLegacy converts a legacy graph export into trees. Tree ids are
// derived from the document, so running it again skips everything it created
// the first time, including trees that were since merged into another tree.
// A tree removed with DeleteTree leaves no trace and is created again.
func (s *Service) MigrateLegacy(ctx context.Context, input MigrateLegacyInput) (*MigrateLegacyOutput, error) {
	if err := s.pathRules(ExtLegacy).Validate(input.Path, PathCheckRead); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path, 0, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	g, err := legacy.Parse(file)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	trees, problems := legacy.Transform(g, s.now())
	out := &MigrateLegacyOutput{
		Created:  []string{},
		Skipped:  []string{},
		Problems: problems,
		DryRun:   input.DryRun,
	}
	if out.Problems == nil {
		out.Problems = []legacy.Problem{}
	}

	known, err := s.knownTreeIDs(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range trees {
		if known[t.ID] {
			out.Skipped = append(out.Skipped, t.ID)
			continue
		}

		if input.DryRun {
			out.Created = append(out.Created, t.ID)
			continue
		}
		if err := s.repo.CreateTree(ctx, t); err != nil {
			se := errors.As(err)
			if se.Code == errors.ErrInternal {
				return nil, err
			}
			out.Problems = append(out.Problems, legacy.Problem{NodeID: t.ID, Message: se.Message})
			continue
		}
		out.Created = append(out.Created, t.ID)
	}

	s.logger.Info("legacy graph migrated",
		zap.String("path", input.Path), zap.Int("created", len(out.Created)),
		zap.Int("skipped", len(out.Skipped)), zap.Int("problems", len(out.Problems)), zap.Bool("dry_run", input.DryRun))
	return out, nil
}

// knownTreeIDs returns the ids of every stored tree plus every tree that was
// folded into one by a merge.
func (s *Service) knownTreeIDs(ctx context.Context) (map[string]bool, error) {
	trees, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(trees))
	for _, t := range trees {
		known[t.ID] = true
		for _, b := range t.Branches {
			if b.MergedFrom != nil && b.MergedFrom.TreeID != "" {
				known[b.MergedFrom.TreeID] = true
			}
		}
	}
	return known, nil
}
