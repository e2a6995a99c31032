package ops

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/metrics"
)

// RegenerateInput contains parameters for the Regenerate operation.
type RegenerateInput struct {
	ID string
}

// RegenerateOutput contains the result of the Regenerate operation.
type RegenerateOutput struct {
	ID       string   `json:"id"`
	Updated  []string `json:"updated"`
	Warnings []string `json:"warnings,omitempty"`
}

// Regenerate re-runs enrichment for a tree's root citation and overwrites the
// text fields the service returned. Fields that come back empty keep their
// current value, so a partial reply never erases content.
func (s *Service) Regenerate(ctx context.Context, input RegenerateInput) (*RegenerateOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	t, err := s.repo.GetTree(ctx, id)
	if err != nil {
		return nil, err
	}

	content, err := s.fetchContent(ctx, t.Root.SourceText)
	if err != nil {
		return nil, err
	}

	out := &RegenerateOutput{ID: id, Updated: []string{}}
	var u forest.RootUpdate
	if v := strings.TrimSpace(content.PrimaryText); v != "" {
		u.HebrewText = &v
		out.Updated = append(out.Updated, "hebrew_text")
	}
	if v := strings.TrimSpace(content.SecondaryTranslation); v != "" {
		u.HebrewTranslation = &v
		out.Updated = append(out.Updated, "hebrew_translation")
	}
	if v := strings.TrimSpace(content.EnglishTranslation); v != "" {
		u.Translation = &v
		out.Updated = append(out.Updated, "translation")
	}
	// Keywords only fill an empty notes field; the notes are the user's.
	if strings.TrimSpace(t.Root.UserNotesKeywords) == "" && len(content.Keywords) > 0 {
		v := keywordsLine(content.Keywords)
		u.UserNotesKeywords = &v
		out.Updated = append(out.Updated, "user_notes_keywords")
	}

	if missing := content.Missing(); len(missing) > 0 {
		s.metrics.Enrichment(metrics.ResultPartial)
		out.Warnings = append(out.Warnings, fmt.Sprintf("enrichment returned no %s", strings.Join(missing, ", ")))
	} else {
		s.metrics.Enrichment(metrics.ResultOK)
	}

	if !u.Empty() {
		if err := s.repo.UpdateTreeFields(ctx, id, u); err != nil {
			return nil, err
		}
	}

	s.logger.Info("root regenerated", zap.String("tree_id", id), zap.Strings("updated", out.Updated))
	return out, nil
}
