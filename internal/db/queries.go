package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
)

// Store persists trees and their branches. Every multi-row write runs in one
// transaction, so a tree is never observed with half its branches.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() int64
}

// NewStore wraps an open database.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

const treeColumns = `id, title, source_text, hebrew_text, hebrew_translation,
	translation, user_notes_keywords, created_at, updated_at`

const branchColumns = `id, tree_id, author, work_title, publication_details, year,
	reference_text, user_notes, category, keywords_json, harvested_at,
	merged_from_json, created_at`

// AllTrees returns every tree with its branches, oldest first.
func (s *Store) AllTrees(ctx context.Context) ([]*forest.Tree, error) {
	trees, err := s.listTrees(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*forest.Tree, len(trees))
	for _, t := range trees {
		byID[t.ID] = t
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+branchColumns+` FROM branches ORDER BY tree_id, position`))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if t, ok := byID[b.TreeID]; ok {
			t.Branches = append(t.Branches, *b)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return trees, nil
}

func (s *Store) listTrees(ctx context.Context) ([]*forest.Tree, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+treeColumns+` FROM trees ORDER BY created_at, id`))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	trees := make([]*forest.Tree, 0)
	for rows.Next() {
		t, err := scanTree(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		trees = append(trees, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return trees, nil
}

// GetTree returns one tree, or NOT_FOUND.
func (s *Store) GetTree(ctx context.Context, id string) (*forest.Tree, error) {
	return s.getTree(ctx, s.db, id)
}

func (s *Store) getTree(ctx context.Context, q querier, id string) (*forest.Tree, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+treeColumns+` FROM trees WHERE id = ?`), id)
	t, err := scanTree(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rows, err := q.QueryContext(ctx, s.rebind(
		`SELECT `+branchColumns+` FROM branches WHERE tree_id = ? ORDER BY position`), id)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		t.Branches = append(t.Branches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return t, nil
}

// CreateTree inserts the root and its initial branches as one unit.
// A taken id is TREE_EXISTS.
func (s *Store) CreateTree(ctx context.Context, t *forest.Tree) error {
	if err := t.Validate(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insertTree(ctx, tx, t)
	})
}

// ReplaceTree swaps the tree stored under t.ID for t in one transaction. If
// the new tree cannot be written the old one is left as it was.
func (s *Store) ReplaceTree(ctx context.Context, t *forest.Tree) error {
	if err := t.Validate(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.deleteTree(ctx, tx, t.ID); err != nil {
			return err
		}
		return s.insertTree(ctx, tx, t)
	})
}

func (s *Store) insertTree(ctx context.Context, tx *sql.Tx, t *forest.Tree) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO trees (`+treeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Root.Title, t.Root.SourceText, t.Root.HebrewText,
		toNullString(t.Root.HebrewTranslation), t.Root.Translation,
		t.Root.UserNotesKeywords, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewTreeExists(t.ID)
		}
		return errors.NewInternal(err)
	}
	return s.insertBranches(ctx, tx, t.ID, 0, t.Branches)
}

// AppendBranches adds branches after the tree's existing ones and bumps the
// tree's updated_at.
func (s *Store) AppendBranches(ctx context.Context, treeID string, branches []forest.Branch) error {
	if len(branches) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE trees SET updated_at = ? WHERE id = ?`), s.now(), treeID)
		if err != nil {
			return errors.NewInternal(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFound(treeID)
		}

		var next int
		err = tx.QueryRowContext(ctx, s.rebind(
			`SELECT COALESCE(MAX(position) + 1, 0) FROM branches WHERE tree_id = ?`), treeID).Scan(&next)
		if err != nil {
			return errors.NewInternal(err)
		}
		return s.insertBranches(ctx, tx, treeID, next, branches)
	})
}

func (s *Store) insertBranches(ctx context.Context, tx *sql.Tx, treeID string, start int, branches []forest.Branch) error {
	query := s.rebind(`
		INSERT INTO branches (id, tree_id, position, author, work_title, publication_details,
			year, reference_text, user_notes, category, keywords_json, harvested_at,
			merged_from_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	for i, b := range branches {
		keywords, err := marshalNullable(b.Keywords, len(b.Keywords) > 0)
		if err != nil {
			return errors.NewInternal(err)
		}
		mergedFrom, err := marshalNullable(b.MergedFrom, b.MergedFrom != nil)
		if err != nil {
			return errors.NewInternal(err)
		}
		var category sql.NullString
		if b.Category != nil && *b.Category != "" {
			category = sql.NullString{String: string(*b.Category), Valid: true}
		}

		_, err = tx.ExecContext(ctx, query,
			b.ID, treeID, start+i, b.Author, b.WorkTitle, b.PublicationDetails,
			toNullInt64(b.Year), b.ReferenceText, b.UserNotes, category, keywords,
			toNullInt64Ptr(b.HarvestedAt), mergedFrom, b.CreatedAt,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return errors.NewConflict("branch id already exists: " + b.ID)
			}
			return errors.NewInternal(err)
		}
	}
	return nil
}

// UpdateTreeFields applies a partial root update. The root citation may be
// changed but never emptied.
func (s *Store) UpdateTreeFields(ctx context.Context, id string, u forest.RootUpdate) error {
	if u.SourceText != nil && strings.TrimSpace(*u.SourceText) == "" {
		return errors.NewInvalidRequest("source_text must not be empty")
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := s.getTree(ctx, tx, id)
		if err != nil {
			return err
		}
		u.Apply(&t.Root)

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE trees SET title = ?, source_text = ?, hebrew_text = ?, hebrew_translation = ?,
				translation = ?, user_notes_keywords = ?, updated_at = ?
			WHERE id = ?`),
			t.Root.Title, t.Root.SourceText, t.Root.HebrewText,
			toNullString(t.Root.HebrewTranslation), t.Root.Translation,
			t.Root.UserNotesKeywords, s.now(), id,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
		return nil
	})
}

// DeleteTree removes a tree and all of its branches.
func (s *Store) DeleteTree(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.deleteTree(ctx, tx, id)
	})
}

func (s *Store) deleteTree(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM branches WHERE tree_id = ?`), id); err != nil {
		return errors.NewInternal(err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM trees WHERE id = ?`), id)
	if err != nil {
		return errors.NewInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// RemoveBranches deletes the given branches from a tree. Every id must exist
// or nothing is removed.
func (s *Store) RemoveBranches(ctx context.Context, treeID string, branchIDs []string) error {
	if len(branchIDs) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind(`DELETE FROM branches WHERE tree_id = ? AND id = ?`)
		for _, bid := range branchIDs {
			res, err := tx.ExecContext(ctx, query, treeID, bid)
			if err != nil {
				return errors.NewInternal(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errors.NewBranchNotFound(treeID, bid)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE trees SET updated_at = ? WHERE id = ?`), s.now(), treeID); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	})
}

// SetBranchHarvested sets or clears (at == nil) a branch's ground-truth mark.
func (s *Store) SetBranchHarvested(ctx context.Context, treeID, branchID string, at *int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE branches SET harvested_at = ? WHERE tree_id = ? AND id = ?`),
		toNullInt64Ptr(at), treeID, branchID)
	if err != nil {
		return errors.NewInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewBranchNotFound(treeID, branchID)
	}
	return nil
}

// CountTrees returns the number of trees.
func (s *Store) CountTrees(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trees`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func scanTree(row scanner) (*forest.Tree, error) {
	var (
		t          forest.Tree
		hebrewTrns sql.NullString
	)
	err := row.Scan(&t.ID, &t.Root.Title, &t.Root.SourceText, &t.Root.HebrewText, &hebrewTrns,
		&t.Root.Translation, &t.Root.UserNotesKeywords, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Root.HebrewTranslation = fromNullString(hebrewTrns)
	t.Branches = []forest.Branch{}
	return &t, nil
}

func scanBranch(row scanner) (*forest.Branch, error) {
	var (
		b           forest.Branch
		year        sql.NullInt64
		category    sql.NullString
		keywords    sql.NullString
		harvestedAt sql.NullInt64
		mergedFrom  sql.NullString
	)
	err := row.Scan(&b.ID, &b.TreeID, &b.Author, &b.WorkTitle, &b.PublicationDetails, &year,
		&b.ReferenceText, &b.UserNotes, &category, &keywords, &harvestedAt, &mergedFrom, &b.CreatedAt)
	if err != nil {
		return nil, err
	}

	if year.Valid {
		y := int(year.Int64)
		b.Year = &y
	}
	if category.Valid {
		c := forest.Category(category.String)
		b.Category = &c
	}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &b.Keywords); err != nil {
			return nil, err
		}
	}
	if harvestedAt.Valid {
		at := harvestedAt.Int64
		b.HarvestedAt = &at
	}
	if mergedFrom.Valid && mergedFrom.String != "" {
		var p forest.Provenance
		if err := json.Unmarshal([]byte(mergedFrom.String), &p); err != nil {
			return nil, err
		}
		b.MergedFrom = &p
	}
	return &b, nil
}

// isUniqueConstraintError reports a UNIQUE/PRIMARY KEY violation on either backend.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalNullable(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullInt64(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func toNullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
