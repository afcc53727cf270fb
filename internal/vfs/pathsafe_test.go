package vfs

import (
	"errors"
	"strings"
	"testing"
)

func TestResolvePathRejectsTraversal(t *testing.T) {
	cases := []string{
		"../etc/passwd",
		"%2e%2e%2fetc",
		"/etc/passwd",
		"C:\\Windows\\system32",
		strings.Repeat("a", maxPathLength+1),
		"foo\x00bar",
		"",
		"%2e%2e%5cwindows",
		"a/../../b",
		"//foo.txt",
	}
	for _, c := range cases {
		if _, err := ResolvePath("/base", c); err == nil {
			t.Errorf("expected path_traversal for %q, got nil error", c)
		} else if !errors.Is(err, ErrPathTraversal) {
			t.Errorf("expected ErrPathTraversal for %q, got %v", c, err)
		}
	}
}

func TestResolvePathAcceptsSafePaths(t *testing.T) {
	cases := []string{
		"src/main.ts",
		"foo.txt",
		"a/b/c.go",
		"file with spaces.md",
	}
	for _, c := range cases {
		resolved, err := ResolvePath("/base", c)
		if err != nil {
			t.Errorf("expected %q to resolve, got error: %v", c, err)
			continue
		}
		if !strings.HasPrefix(resolved, "/base") {
			t.Errorf("resolved path %q escaped base", resolved)
		}
	}
}

func TestResolvePathNormalizesLeadingBackslash(t *testing.T) {
	// A lone leading backslash isn't a path separator on this platform,
	// but the resolver strips it defensively per the path-safety
	// invariant's step 3; the remainder must still land inside base.
	resolved, err := ResolvePath("/base", `\foo.txt`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != "/base/foo.txt" {
		t.Fatalf("expected /base/foo.txt, got %s", resolved)
	}
}
