package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
)

// ExportSchemaVersion is written to every export header.
const ExportSchemaVersion = "1.0"

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path string // optional, default: ~/.sugya/exports/forest-<timestamp>.jsonl
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader is the first line of an export file. Every following line is
// one tree with its branches.
type ExportHeader struct {
	SugyaExport   bool   `json:"_sugya_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	TreeCount     int    `json:"tree_count"`
}

// Export writes the whole forest to a JSONL file. The file is written to a
// temp name and renamed into place, so an existing export survives a failure.
func (s *Service) Export(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		dir := s.exportsDir
		if dir == "" {
			var err error
			if dir, err = DefaultExportsDir(); err != nil {
				return nil, err
			}
		}
		exportPath = filepath.Join(dir, fmt.Sprintf("forest-%s%s", now.Format("2006-01-02T150405"), ExtExport))
	}

	if err := s.pathRules(ExtExport).Validate(exportPath, PathCheckWrite); err != nil {
		return nil, err
	}

	trees, err := s.repo.AllTrees(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	header := ExportHeader{
		SugyaExport:   true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
		TreeCount:     len(trees),
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	for _, t := range trees {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("export")
		}
		if t.Branches == nil {
			t.Branches = []forest.Branch{}
		}
		if err := enc.Encode(t); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}

	// On Windows os.Rename fails if the destination exists; keep the old file
	// rather than risk a non-atomic delete+rename.
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	s.logger.Info("forest exported", zap.String("path", exportPath), zap.Int("trees", len(trees)))
	return &ExportOutput{
		Path:       exportPath,
		Count:      len(trees),
		ExportedAt: exportedAt,
	}, nil
}
