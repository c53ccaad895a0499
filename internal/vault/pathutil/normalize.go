// Package pathutil normalizes and validates note paths entering the
// transaction engine. Every path the core touches must pass through
// Normalize before it is trusted.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrTraversal is returned when a path contains a parent-directory
// traversal segment after cleaning.
var ErrTraversal = fmt.Errorf("path contains traversal segment")

// Normalize resolves path to a clean, absolute, forward-slash-free-of-
// traversal form. It unifies Windows and POSIX separators and rejects
// any ".." segment surviving filepath.Clean, so callers never hand a
// path-traversal payload to the File I/O layer.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("normalize: empty path")
	}

	// Unify separators before Clean so mixed "\" / "/" inputs collapse
	// the same way on every host OS.
	unified := strings.ReplaceAll(path, "\\", "/")

	abs, err := filepath.Abs(filepath.FromSlash(unified))
	if err != nil {
		return "", fmt.Errorf("normalize %q: %w", path, err)
	}
	clean := filepath.Clean(abs)

	if containsTraversal(clean) {
		return "", fmt.Errorf("normalize %q: %w", path, ErrTraversal)
	}

	return clean, nil
}

// containsTraversal reports whether any path element is "..". Abs and
// Clean already resolve every ".." in an absolute path (a leading ".."
// at the root resolves to the root itself), so for paths produced by
// Normalize this is a defensive check that does not fire.
func containsTraversal(clean string) bool {
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// Stem returns the filename stem (base name without the .md extension),
// NFKC-normalized so visually identical wikilink targets compare equal
// regardless of the Unicode decomposition a given editor or OS produced.
func Stem(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return norm.NFKC.String(base)
}

// IsMarkdown reports whether path has a ".md" extension (case-sensitive,
// matching the vault's convention).
func IsMarkdown(path string) bool {
	return filepath.Ext(path) == ".md"
}

// SameStem reports whether two wikilink target strings refer to the same
// note stem once NFKC-normalized. Used by the Link Scanner and Link
// Updater so a target written with a different Unicode normalization
// form than the filename still matches.
func SameStem(a, b string) bool {
	return norm.NFKC.String(a) == norm.NFKC.String(b)
}
