package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/metrics"
)

// Merge steps, reported on PARTIAL_MERGE.
const (
	MergeStepFetch  = "fetch"
	MergeStepAppend = "append"
	MergeStepDelete = "delete"
)

// MergeInput contains parameters for the Merge operation. Merging deletes the
// source trees; callers are expected to have confirmed with the user.
type MergeInput struct {
	TargetID  string   `json:"target_id"`
	SourceIDs []string `json:"source_ids"`
}

// MergeOutput contains the result of the Merge operation.
type MergeOutput struct {
	TargetID      string   `json:"target_id"`
	Merged        []string `json:"merged"`
	BranchesAdded int      `json:"branches_added"`
	BranchCount   int      `json:"branch_count"`
}

// Merge folds each source tree into the target and deletes it. For every
// source, its root becomes a new branch on the target and its branches are
// re-homed under the target's id. Sources are processed one at a time, and a
// source is deleted only after its branches are on the target.
//
// A missing tree is detected before anything is written. If a later step
// fails on the first source, the target is left as it was and the step's
// error is returned. If it fails after at least one source was folded, the
// error is PARTIAL_MERGE listing which sources are gone and which remain.
func (s *Service) Merge(ctx context.Context, input MergeInput) (*MergeOutput, error) {
	targetID, sourceIDs, err := validateMerge(input)
	if err != nil {
		return nil, err
	}

	target, err := s.repo.GetTree(ctx, targetID)
	if err != nil {
		return nil, err
	}
	keys := map[string]bool{target.Key(): true}
	for _, id := range sourceIDs {
		src, err := s.repo.GetTree(ctx, id)
		if err != nil {
			return nil, err
		}
		keys[src.Key()] = true
	}

	release, err := s.lockKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	out := &MergeOutput{TargetID: targetID, Merged: []string{}}
	for i, id := range sourceIDs {
		added, step, err := s.mergeOne(ctx, target, id)
		if err != nil {
			s.logger.Error("merge step failed",
				zap.String("target_id", targetID), zap.String("source_id", id),
				zap.String("step", step), zap.Error(err))
			if i == 0 {
				s.metrics.MergeFinished(metrics.ResultFailed, 0)
				return nil, err
			}
			s.metrics.MergeFinished(metrics.ResultPartial, len(out.Merged))
			return nil, errors.NewPartialMerge(targetID, out.Merged, sourceIDs[i:], id, step, err)
		}
		out.Merged = append(out.Merged, id)
		out.BranchesAdded += added
	}

	final, err := s.repo.GetTree(ctx, targetID)
	if err != nil {
		return nil, err
	}
	out.BranchCount = len(final.Branches)

	s.metrics.MergeFinished(metrics.ResultOK, len(out.Merged))
	s.logger.Info("merge finished",
		zap.String("target_id", targetID), zap.Strings("merged", out.Merged),
		zap.Int("branches_added", out.BranchesAdded))
	return out, nil
}

// mergeOne folds a single source into target. It returns how many branches
// were appended and, on failure, which step failed.
func (s *Service) mergeOne(ctx context.Context, target *forest.Tree, sourceID string) (int, string, error) {
	src, err := s.repo.GetTree(ctx, sourceID)
	if err != nil {
		return 0, MergeStepFetch, err
	}
	if src.Key() != target.Key() {
		s.logger.Warn("merging trees with different citation keys",
			zap.String("target_id", target.ID), zap.String("target_key", target.Key()),
			zap.String("source_id", src.ID), zap.String("source_key", src.Key()))
	}

	branches := forest.Fold(src, target.ID, s.now())
	if err := s.repo.AppendBranches(ctx, target.ID, branches); err != nil {
		return 0, MergeStepAppend, err
	}

	if err := s.repo.DeleteTree(ctx, src.ID); err != nil {
		ids := make([]string, len(branches))
		for i := range branches {
			ids[i] = branches[i].ID
		}
		// The source still exists, so its copies must come off the target.
		if rbErr := s.repo.RemoveBranches(ctx, target.ID, ids); rbErr != nil {
			s.logger.Error("could not remove branches after failed delete",
				zap.String("target_id", target.ID), zap.String("source_id", src.ID), zap.Error(rbErr))
			return 0, MergeStepDelete, fmt.Errorf("%w (cleanup also failed: %v)", err, rbErr)
		}
		return 0, MergeStepDelete, err
	}

	return len(branches), "", nil
}

// lockKeys takes the per-citation locks for every key in the merge, in sorted
// order so two merges over the same keys cannot deadlock.
func (s *Service) lockKeys(ctx context.Context, keys map[string]bool) (func(), error) {
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		if k != "" {
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range sorted {
		release, err := s.locker.Acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

func validateMerge(input MergeInput) (string, []string, error) {
	targetID := strings.TrimSpace(input.TargetID)
	if targetID == "" {
		return "", nil, errors.NewInvalidRequest("target_id is required")
	}
	if len(input.SourceIDs) == 0 {
		return "", nil, errors.NewInvalidRequest("at least one source id is required")
	}

	seen := make(map[string]bool, len(input.SourceIDs))
	sourceIDs := make([]string, 0, len(input.SourceIDs))
	for _, raw := range input.SourceIDs {
		id := strings.TrimSpace(raw)
		switch {
		case id == "":
			return "", nil, errors.NewInvalidRequest("source ids must not be empty")
		case id == targetID:
			return "", nil, errors.NewInvalidRequest(fmt.Sprintf("target %s cannot also be a source", id))
		case seen[id]:
			return "", nil, errors.NewInvalidRequest(fmt.Sprintf("duplicate source id: %s", id))
		}
		seen[id] = true
		sourceIDs = append(sourceIDs, id)
	}
	return targetID, sourceIDs, nil
}
