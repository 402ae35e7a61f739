// Package security validates the paths the readout tools write to.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir,
// following symlinks on the longest existing prefix of filePath so a link
// cannot be used to escape.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// resolveExisting resolves symlinks in the deepest existing ancestor of
// path and re-appends the rest.
func resolveExisting(path string) string {
	for check := path; ; {
		if resolved, err := filepath.EvalSymlinks(check); err == nil {
			rest, _ := filepath.Rel(check, path)
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(check)
		if parent == check {
			return path
		}
		check = parent
	}
}

// ValidateOutputPath checks that filePath lies within one of allowedDirs.
// With no allowedDirs the working directory and the temp directory are
// allowed.
func ValidateOutputPath(filePath string, allowedDirs ...string) error {
	if len(allowedDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		allowedDirs = []string{cwd, os.TempDir()}
	}
	for _, dir := range allowedDirs {
		if err := ValidatePathWithinDirectory(filePath, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("path must be within one of the allowed directories: %v", allowedDirs)
}

// SanitizeFilename makes a safe filename from an arbitrary string such as a
// batch id or channel name. Runs of characters other than ASCII letters,
// digits, dot, underscore and dash become one underscore, the result is
// capped at 128 bytes and leading or trailing dots and underscores are
// trimmed.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	if out := strings.Trim(b.String(), "._"); out != "" {
		return out
	}
	return "unknown"
}
