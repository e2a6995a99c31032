package ops

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/citation"
	"github.com/hpungsan/sugya/internal/enrich"
	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/metrics"
)

// TopicMetadata describes the later work that cites a passage. It becomes a
// branch.
type TopicMetadata struct {
	Author             string   `json:"author" validate:"max=500"`
	WorkTitle          string   `json:"work_title" validate:"max=1000"`
	PublicationDetails string   `json:"publication_details,omitempty" validate:"max=2000"`
	Year               *int     `json:"year,omitempty" validate:"omitempty,gte=0,lte=9999"`
	ReferenceText      string   `json:"reference_text" validate:"required"`
	UserNotes          string   `json:"user_notes,omitempty"`
	Category           string   `json:"category,omitempty" validate:"max=100"`
	Keywords           []string `json:"keywords,omitempty" validate:"max=50,dive,max=100"`
}

func (t TopicMetadata) trimmed() TopicMetadata {
	t.Author = strings.TrimSpace(t.Author)
	t.WorkTitle = strings.TrimSpace(t.WorkTitle)
	t.PublicationDetails = strings.TrimSpace(t.PublicationDetails)
	t.ReferenceText = strings.TrimSpace(t.ReferenceText)
	t.Category = strings.TrimSpace(t.Category)
	kw := make([]string, 0, len(t.Keywords))
	for _, k := range t.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, k)
		}
	}
	t.Keywords = kw
	return t
}

func (t TopicMetadata) branch(treeID string, now int64) forest.Branch {
	b := forest.Branch{
		ID:                 forest.NewBranchID(treeID),
		TreeID:             treeID,
		Author:             t.Author,
		WorkTitle:          t.WorkTitle,
		PublicationDetails: t.PublicationDetails,
		Year:               t.Year,
		ReferenceText:      t.ReferenceText,
		UserNotes:          t.UserNotes,
		CreatedAt:          now,
	}
	if t.Category != "" {
		c := forest.Category(t.Category)
		b.Category = &c
	}
	if len(t.Keywords) > 0 {
		b.Keywords = t.Keywords
	}
	return b
}

// AddPassageInput contains parameters for the AddPassage operation.
type AddPassageInput struct {
	Citation string        `json:"citation"`
	Topic    TopicMetadata `json:"topic"`
}

// AddPassageOutput contains the result of the AddPassage operation.
type AddPassageOutput struct {
	TreeID      string   `json:"tree_id"`
	BranchID    string   `json:"branch_id"`
	CreatedTree bool     `json:"created_tree"`
	Warnings    []string `json:"warnings,omitempty"`
}

// AddPassage files a topic under the passage it cites. If a tree for the
// citation already exists the topic becomes one more branch on it. Otherwise
// the passage is enriched and a new tree is created with the topic as its
// first branch.
func (s *Service) AddPassage(ctx context.Context, input AddPassageInput) (*AddPassageOutput, error) {
	raw := strings.TrimSpace(input.Citation)
	if raw == "" {
		return nil, errors.NewInvalidRequest("citation is required")
	}
	key := citation.Key(raw)
	if key == "" {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("citation %q has no identifying content", raw))
	}
	topic := input.Topic.trimmed()
	if err := validateStruct(topic); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock so a tree created by a concurrent add is seen.
	trees, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}

	if match := forest.FindMatch(trees, raw); match != nil {
		b := topic.branch(match.ID, s.now())
		if err := s.repo.AppendBranches(ctx, match.ID, []forest.Branch{b}); err != nil {
			return nil, err
		}
		s.metrics.PassageAdded(metrics.PathAttached)
		s.logger.Info("passage attached",
			zap.String("citation", raw), zap.String("tree_id", match.ID), zap.String("branch_id", b.ID))
		return &AddPassageOutput{TreeID: match.ID, BranchID: b.ID}, nil
	}

	content, err := s.fetchContent(ctx, raw)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if missing := content.Missing(); len(missing) > 0 {
		s.metrics.Enrichment(metrics.ResultPartial)
		warnings = append(warnings, fmt.Sprintf(
			"enrichment returned no %s; run regenerate on the tree to fill them in",
			strings.Join(missing, ", ")))
	} else {
		s.metrics.Enrichment(metrics.ResultOK)
	}

	tree, err := s.createTree(ctx, raw, content, topic)
	if err != nil {
		return nil, err
	}

	s.metrics.PassageAdded(metrics.PathCreated)
	s.logger.Info("tree created",
		zap.String("citation", raw), zap.String("tree_id", tree.ID), zap.Strings("warnings", warnings))
	return &AddPassageOutput{
		TreeID:      tree.ID,
		BranchID:    tree.Branches[0].ID,
		CreatedTree: true,
		Warnings:    warnings,
	}, nil
}

// fetchContent calls the enricher and turns an error or an empty reply into
// ENRICHMENT_FAILED.
func (s *Service) fetchContent(ctx context.Context, raw string) (*enrich.Content, error) {
	content, err := s.enricher.FetchPassageContent(ctx, raw)
	if err == nil && !content.Usable() {
		err = stderrors.New("no usable content returned")
	}
	if err != nil {
		s.metrics.Enrichment(metrics.ResultFailed)
		s.logger.Warn("enrichment failed", zap.String("citation", raw), zap.Error(err))
		return nil, errors.NewEnrichmentFailed(raw, err)
	}
	return content, nil
}

// createTree stores root and first branch together. The slug id is preferred;
// if another tree already holds it, a suffixed id is used instead.
func (s *Service) createTree(ctx context.Context, raw string, content *enrich.Content, topic TopicMetadata) (*forest.Tree, error) {
	now := s.now()
	build := func(id string) *forest.Tree {
		return &forest.Tree{
			ID:        id,
			Root:      rootFromContent(raw, content),
			Branches:  []forest.Branch{topic.branch(id, now)},
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	tree := build(forest.TreeIDFor(raw))
	err := s.repo.CreateTree(ctx, tree)
	if errors.Is(err, errors.ErrTreeExists) {
		tree = build(forest.FallbackTreeID(raw))
		err = s.repo.CreateTree(ctx, tree)
	}
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func rootFromContent(raw string, c *enrich.Content) forest.Root {
	r := forest.Root{
		Title:             raw,
		SourceText:        raw,
		HebrewText:        strings.TrimSpace(c.PrimaryText),
		Translation:       strings.TrimSpace(c.EnglishTranslation),
		UserNotesKeywords: keywordsLine(c.Keywords),
	}
	if v := strings.TrimSpace(c.SecondaryTranslation); v != "" {
		r.HebrewTranslation = &v
	}
	return r
}

func keywordsLine(kw []string) string {
	if len(kw) == 0 {
		return ""
	}
	return "Keywords: " + strings.Join(kw, ", ")
}
