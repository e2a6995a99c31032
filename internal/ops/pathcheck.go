package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/sugya/internal/config"
	"github.com/hpungsan/sugya/internal/errors"
)

// PathCheckMode indicates whether the path check is for reading or writing.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // import, legacy migration
	PathCheckWrite                      // export
)

// Extensions accepted by the file operations.
const (
	ExtExport = ".jsonl"
	ExtLegacy = ".json"
)

// PathRules decide which files the import/export operations may touch.
type PathRules struct {
	// Ext is the required extension
	Ext string

	// ExportsDir is always allowed; empty means ~/.sugya/exports
	ExportsDir string

	Config *config.Config
}

// Validate checks path against the rules:
//  1. no ".." components
//  2. the required extension
//  3. the file sits directly in the exports dir or an allowed_paths entry
//     (no subdirectories)
//  4. neither the file nor its parent is a symlink
//
// Requiring the file to sit directly in an allowed directory leaves no
// intermediate directory to swap for a symlink between check and open; the
// final component is covered by O_NOFOLLOW at open time.
func (r PathRules) Validate(path string, mode PathCheckMode) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != r.Ext {
		return errors.NewInvalidRequest(fmt.Sprintf("path must have %s extension", r.Ext))
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	// Unsafe mode skips the directory rule only; symlinks are still refused.
	if r.Config == nil || !r.Config.AllowUnsafePaths {
		allowedDirs, err := r.allowedDirs()
		if err != nil {
			return err
		}

		parentDir := filepath.Dir(absPath)
		if !isDirectlyInAllowedDir(parentDir, allowedDirs) {
			return errors.NewInvalidRequest(
				fmt.Sprintf("file must be directly in an allowed directory (no subdirectories); allowed: %v",
					allowedDirs))
		}
		if info, err := os.Lstat(parentDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.NewInvalidRequest("parent directory must not be a symlink")
		}
	}

	if mode == PathCheckRead {
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return errors.NewFileNotFound(path)
		}
	}

	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}

	return nil
}

// allowedDirs returns the exports dir plus absolute allowed_paths, with
// symlinked entries resolved to their targets.
func (r PathRules) allowedDirs() ([]string, error) {
	exportsDir := r.ExportsDir
	if exportsDir == "" {
		var err error
		if exportsDir, err = DefaultExportsDir(); err != nil {
			return nil, err
		}
	}
	dirs := []string{exportsDir}

	if r.Config != nil {
		for _, p := range r.Config.AllowedPaths {
			if filepath.IsAbs(p) {
				dirs = append(dirs, filepath.Clean(p))
			}
		}
	}

	result := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(filepath.Clean(d))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid allowed path: %v", err))
		}
		if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			abs = resolved
		}
		result = append(result, abs)
	}
	return result, nil
}

func isDirectlyInAllowedDir(parentDir string, allowedDirs []string) bool {
	parentDir = filepath.Clean(parentDir)
	for _, dir := range allowedDirs {
		if parentDir == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// DefaultExportsDir returns ~/.sugya/exports.
func DefaultExportsDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(homeDir, config.DirName, "exports"), nil
}

// containsTraversal checks if path contains a ".." component, with either
// separator.
func containsTraversal(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	}) {
		if part == ".." {
			return true
		}
	}
	return false
}

// SanitizeForFilename makes s safe to embed in a file name.
func SanitizeForFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < 32 || r == 127:
		case r == '/' || r == '\\':
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	s = strings.ReplaceAll(b.String(), "..", "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if s == "" {
		s = "unnamed"
	}
	return s
}

func (s *Service) pathRules(ext string) PathRules {
	return PathRules{Ext: ext, ExportsDir: s.exportsDir, Config: s.cfg}
}
