package vfs

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathTraversal is the sentinel error for every path-safety
// rejection. Use errors.Is(err, ErrPathTraversal) to detect it.
var ErrPathTraversal = fmt.Errorf("path_traversal")

const maxPathLength = 1024

var encodedTraversalPattern = regexp.MustCompile(`(?i)%2e|%2f|%5c`)

// pathTraversalError wraps ErrPathTraversal with a specific reason,
// while still satisfying errors.Is(err, ErrPathTraversal).
type pathTraversalError struct {
	reason string
	path   string
}

func (e *pathTraversalError) Error() string {
	return fmt.Sprintf("path_traversal: %s: %q", e.reason, e.path)
}

func (e *pathTraversalError) Unwrap() error { return ErrPathTraversal }

func reject(reason, path string) error {
	return &pathTraversalError{reason: reason, path: path}
}

// ResolvePath validates and resolves a user-supplied relative path U
// against base directory B, per the path-safety invariant: U must
// decode to a path that stays contained within B. It returns the
// resolved absolute path on success.
//
// Every VFS and tool-engine code path that accepts a caller-supplied
// path MUST go through ResolvePath; there is no other sanctioned way
// to turn a user path into a filesystem path.
func ResolvePath(base, userPath string) (string, error) {
	if userPath == "" {
		return "", reject("empty path", userPath)
	}
	if len(userPath) > maxPathLength {
		return "", reject("path too long", userPath)
	}
	if strings.ContainsRune(userPath, 0) {
		return "", reject("NUL byte in path", userPath)
	}

	decoded, err := url.PathUnescape(userPath)
	if err != nil {
		return "", reject("invalid percent-encoding", userPath)
	}
	// A second decode would be a genuine double-decode attack, but the
	// spec calls for decoding once and then rejecting leftover encoded
	// traversal markers outright rather than looping the decode.
	if encodedTraversalPattern.MatchString(userPath) || encodedTraversalPattern.MatchString(decoded) {
		return "", reject("encoded traversal sequence", userPath)
	}
	if strings.Contains(decoded, "..") {
		return "", reject("contains ..", userPath)
	}
	if strings.HasPrefix(decoded, "/") || hasDriveLetterPrefix(decoded) {
		return "", reject("absolute path", userPath)
	}

	// Defense in depth: strip any leading separators the checks above
	// didn't already reject on (e.g. a lone leading backslash on a
	// non-Windows host), then re-verify the result isn't absolute.
	stripped := strings.TrimLeft(decoded, "/\\")
	if strings.HasPrefix(stripped, "/") || hasDriveLetterPrefix(stripped) {
		return "", reject("absolute path after stripping separators", userPath)
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base: %w", err)
	}
	resolved := filepath.Join(absBase, stripped)

	rel, err := filepath.Rel(absBase, resolved)
	if err != nil {
		return "", reject("cannot compute relative path", userPath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", reject("escapes base directory", userPath)
	}

	return resolved, nil
}

func hasDriveLetterPrefix(p string) bool {
	if len(p) < 2 {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') && p[1] == ':'
}
