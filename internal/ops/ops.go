// Package ops implements the user-facing operations on the forest. Every
// surface (CLI, MCP, web) goes through a Service.
package ops

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/config"
	"github.com/hpungsan/sugya/internal/enrich"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/lock"
	"github.com/hpungsan/sugya/internal/metrics"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Repository is the storage contract the operations run against. GetTree and
// the mutators return NOT_FOUND for unknown ids. CreateTree, ReplaceTree,
// AppendBranches, DeleteTree and RemoveBranches are each atomic.
type Repository interface {
	AllTrees(ctx context.Context) ([]*forest.Tree, error)
	GetTree(ctx context.Context, id string) (*forest.Tree, error)
	CreateTree(ctx context.Context, t *forest.Tree) error
	ReplaceTree(ctx context.Context, t *forest.Tree) error
	AppendBranches(ctx context.Context, treeID string, branches []forest.Branch) error
	UpdateTreeFields(ctx context.Context, id string, u forest.RootUpdate) error
	DeleteTree(ctx context.Context, id string) error
	RemoveBranches(ctx context.Context, treeID string, branchIDs []string) error
	SetBranchHarvested(ctx context.Context, treeID, branchID string, at *int64) error
}

// Deps are the collaborators of a Service. Only Repo is required.
type Deps struct {
	Repo     Repository
	Enricher enrich.Enricher
	Locker   lock.Locker
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Collector

	// ExportsDir is the default import/export directory (~/.sugya/exports).
	ExportsDir string
}

// Service runs operations against one repository.
type Service struct {
	repo       Repository
	enricher   enrich.Enricher
	locker     lock.Locker
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Collector
	exportsDir string
	now        func() int64
}

// New builds a Service, filling in defaults for optional collaborators.
func New(d Deps) *Service {
	s := &Service{
		repo:       d.Repo,
		enricher:   d.Enricher,
		locker:     d.Locker,
		cfg:        d.Config,
		logger:     d.Logger,
		metrics:    d.Metrics,
		exportsDir: d.ExportsDir,
		now:        func() int64 { return time.Now().Unix() },
	}
	if s.enricher == nil {
		s.enricher = enrich.Unavailable
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.cfg == nil {
		s.cfg = config.DefaultConfig()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// TreeSummary is the list/duplicates view of a tree.
type TreeSummary struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	SourceText     string `json:"source_text"`
	Key            string `json:"key"`
	BranchCount    int    `json:"branch_count"`
	HarvestedCount int    `json:"harvested_count"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Summarize builds the summary view of t.
func Summarize(t *forest.Tree) TreeSummary {
	harvested := 0
	for i := range t.Branches {
		if t.Branches[i].Harvested() {
			harvested++
		}
	}
	return TreeSummary{
		ID:             t.ID,
		Title:          t.Root.Title,
		SourceText:     t.Root.SourceText,
		Key:            t.Key(),
		BranchCount:    len(t.Branches),
		HarvestedCount: harvested,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}
