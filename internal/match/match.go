// Package match provides the file predicates that decide which files of a
// build tree get tidied.
package match

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExtension is the markup extension matched when no pattern is configured.
const DefaultExtension = ".html"

// regexpPrefix marks a pattern as a regular expression instead of a glob.
const regexpPrefix = "re:"

// Predicate selects files by their path.
type Predicate interface {
	Match(path string) bool
}

// Func adapts a plain function to a Predicate.
type Func func(path string) bool

// Match calls f(path).
func (f Func) Match(path string) bool {
	return f(path)
}

// Default returns the predicate used when no pattern is configured.
func Default() Predicate {
	return Suffix(DefaultExtension)
}

// Suffix matches paths ending in suffix.
func Suffix(suffix string) Predicate {
	return Func(func(p string) bool {
		return strings.HasSuffix(p, suffix)
	})
}

// Regexp matches paths against a regular expression.
func Regexp(expr string) (Predicate, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", expr, err)
	}
	return Func(re.MatchString), nil
}

// Glob matches paths against a doublestar pattern. Patterns without a
// separator are matched against the base name only, the way ignore files do.
func Glob(pattern string) (Predicate, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	baseOnly := !strings.Contains(pattern, "/")
	return Func(func(p string) bool {
		candidate := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if baseOnly {
			candidate = path.Base(candidate)
		}
		ok, err := doublestar.Match(pattern, candidate)
		return err == nil && ok
	}), nil
}

// Parse builds a predicate from its configured form: empty selects the
// default, a "re:" prefix selects a regular expression, anything else is a glob.
func Parse(pattern string) (Predicate, error) {
	switch {
	case pattern == "":
		return Default(), nil
	case strings.HasPrefix(pattern, regexpPrefix):
		return Regexp(strings.TrimPrefix(pattern, regexpPrefix))
	default:
		return Glob(pattern)
	}
}
