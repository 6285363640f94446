package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dan9191/devsecops-api/internal/common"
)

// CanonicalBase returns the absolute, cleaned form of dir with any symlinks in
// dir itself resolved. Call it once at startup and reuse the result.
func CanonicalBase(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return filepath.Clean(abs), nil
		}
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	return resolved, nil
}

// Within reports whether target is base or lies beneath it. Both paths must be
// clean and absolute.
func Within(base, target string) bool {
	if target == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(target, prefix)
}

// ResolveWithin resolves name against the canonical base and rejects any
// result outside it. Absolute names replace base entirely before the check,
// so "/etc/passwd" is denied rather than silently re-rooted.
func ResolveWithin(base, name string) (string, error) {
	if name == "" {
		return "", common.BadRequest("Filename is required")
	}

	var target string
	if filepath.IsAbs(name) {
		target = filepath.Clean(name)
	} else {
		target = filepath.Join(base, name)
	}
	if !Within(base, target) {
		return "", common.ErrAccessDenied
	}

	// A link inside base may point anywhere; the resolved path must also stay inside.
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		// Missing files are reported by the reader as not found.
		return target, nil
	}
	if !Within(base, resolved) {
		return "", common.ErrAccessDenied
	}
	return resolved, nil
}
