package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
)

// ImportMode controls what happens when an imported tree id already exists.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // refuse the whole file on any collision
	ImportModeReplace ImportMode = "replace" // swap out the existing tree atomically
	ImportModeSkip    ImportMode = "skip"    // keep the existing tree
)

// maxImportLine bounds one JSONL record; a tree with many long branches can
// exceed bufio's 64KB default.
const maxImportLine = 16 << 20

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Replaced int           `json:"replaced"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes one line that could not be imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type importRecord struct {
	line int
	tree *forest.Tree
}

// exportLine decodes either the header or a tree.
type exportLine struct {
	SugyaExport bool `json:"_sugya_export"`
	forest.Tree
}

// Import reads trees from a JSONL export file. In error mode nothing is
// written unless every line parses and no tree id is taken.
func (s *Service) Import(ctx context.Context, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeReplace && input.Mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, skip")
	}
	if err := s.pathRules(ExtExport).Validate(input.Path, PathCheckRead); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path, 0, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, parseErrors := parseExportFile(file)

	existing, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		taken[t.ID] = true
	}

	out := &ImportOutput{Errors: []ImportError{}}

	if input.Mode == ImportModeError {
		out.Errors = append(out.Errors, parseErrors...)
		for _, r := range records {
			if taken[r.tree.ID] {
				out.Errors = append(out.Errors, ImportError{
					Line:    r.line,
					ID:      r.tree.ID,
					Code:    string(errors.ErrTreeExists),
					Message: fmt.Sprintf("tree %q already exists", r.tree.ID),
				})
			}
		}
		if len(out.Errors) > 0 {
			return out, nil
		}
	} else {
		out.Errors = append(out.Errors, parseErrors...)
		out.Skipped += len(parseErrors)
	}

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("import")
		}

		replaced := false
		write := s.repo.CreateTree
		if taken[r.tree.ID] {
			switch input.Mode {
			case ImportModeSkip:
				out.Skipped++
				continue
			case ImportModeReplace:
				write = s.repo.ReplaceTree
				replaced = true
			}
		}

		if err := write(ctx, r.tree); err != nil {
			se := errors.As(err)
			if se.Code == errors.ErrInternal {
				return nil, err
			}
			out.Errors = append(out.Errors, ImportError{
				Line:    r.line,
				ID:      r.tree.ID,
				Code:    string(se.Code),
				Message: se.Message,
			})
			out.Skipped++
			continue
		}
		taken[r.tree.ID] = true
		if replaced {
			out.Replaced++
		} else {
			out.Imported++
		}
	}

	s.logger.Info("forest imported",
		zap.String("path", input.Path), zap.String("mode", string(input.Mode)),
		zap.Int("imported", out.Imported), zap.Int("replaced", out.Replaced), zap.Int("skipped", out.Skipped))
	return out, nil
}

// parseExportFile decodes every tree line. The header line is skipped, and a
// repeated id within the file is reported rather than imported twice.
func parseExportFile(r io.Reader) ([]importRecord, []ImportError) {
	var records []importRecord
	var parseErrors []ImportError
	seen := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var rec exportLine
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if rec.SugyaExport {
			continue
		}

		t := rec.Tree
		for i := range t.Branches {
			t.Branches[i].TreeID = t.ID
		}
		if t.Branches == nil {
			t.Branches = []forest.Branch{}
		}
		if err := t.Validate(); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				ID:      t.ID,
				Code:    "INVALID_RECORD",
				Message: errors.As(err).Message,
			})
			continue
		}
		if first, dup := seen[t.ID]; dup {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				ID:      t.ID,
				Code:    "DUPLICATE_RECORD",
				Message: fmt.Sprintf("tree %q already appears on line %d", t.ID, first),
			})
			continue
		}
		seen[t.ID] = lineNum

		records = append(records, importRecord{line: lineNum, tree: &t})
	}

	if err := scanner.Err(); err != nil {
		parseErrors = append(parseErrors, ImportError{
			Line:    lineNum,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}

	return records, parseErrors
}
