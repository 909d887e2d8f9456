package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// compiledPattern holds both the pattern string and compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// PathFilter decides whether a changed path is admitted into the pipeline.
// Admission is a pure function of the path: no state, no side effects.
type PathFilter struct {
	root           string
	ignorePatterns []compiledPattern
}

// NewPathFilter creates a filter scoped to root. Paths outside root and paths
// matching any ignore pattern (matched against the slash-normalized relative
// path) are rejected.
func NewPathFilter(root string, ignorePatterns []string) (*PathFilter, error) {
	pf := &PathFilter{
		root: filepath.Clean(root),
	}

	for _, pattern := range ignorePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		pf.ignorePatterns = append(pf.ignorePatterns, compiledPattern{pattern: pattern, glob: g})
	}

	return pf, nil
}

// Admit reports whether path should enter the pipeline.
// An unmatchable path simply yields false; there are no error conditions.
func (pf *PathFilter) Admit(path string) bool {
	relPath, ok := pf.relative(path)
	if !ok {
		return false
	}
	return !pf.shouldIgnore(relPath)
}

// AdmitDir reports whether a directory should be watched. Same ignore rules
// as Admit; used by watch adapters when new directories appear.
func (pf *PathFilter) AdmitDir(path string) bool {
	relPath, ok := pf.relative(path)
	if !ok {
		return false
	}
	if relPath == "." {
		return true
	}
	return !pf.shouldIgnore(relPath)
}

// relative converts path to a slash-normalized path relative to the root.
// Returns false when path lies outside the monitored root.
func (pf *PathFilter) relative(path string) (string, bool) {
	rel, err := filepath.Rel(pf.root, filepath.Clean(path))
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// shouldIgnore checks if a relative path matches any ignore pattern.
func (pf *PathFilter) shouldIgnore(relPath string) bool {
	// Always ignore the pipeline's own state directory.
	if strings.HasPrefix(relPath, ".metawatch/") || relPath == ".metawatch" {
		return true
	}

	if pf.matchesAnyPattern(relPath) {
		return true
	}

	// A directory path should also match patterns written with a /** suffix,
	// e.g. "node_modules" matches "node_modules/**".
	return pf.matchesAnyPattern(relPath + "/**")
}

// matchesAnyPattern checks if a path matches any ignore pattern.
func (pf *PathFilter) matchesAnyPattern(path string) bool {
	for _, cp := range pf.ignorePatterns {
		if cp.glob.Match(path) {
			return true
		}
	}

	// Root-level paths (no slash) should also match "**/"-prefixed patterns
	// with the prefix removed, so "**/*.tmp" matches "scratch.tmp".
	if !strings.Contains(path, "/") {
		for _, cp := range pf.ignorePatterns {
			if strings.HasPrefix(cp.pattern, "**/") {
				simplified := strings.TrimPrefix(cp.pattern, "**/")
				if g, err := glob.Compile(simplified, '/'); err == nil && g.Match(path) {
					return true
				}
			}
		}
	}

	return false
}
