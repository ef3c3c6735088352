package assets

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Match reports whether the slash-separated relative name matches pattern.
// Patterns use doublestar syntax: "**" spans directories, braces expand.
func Match(pattern, name string) bool {
	ok, err := doublestar.Match(clean(pattern), clean(name))
	return err == nil && ok
}

// Base returns the directory a watcher must observe to see every file the
// pattern can match. A literal file pattern is observed through its parent.
func Base(pattern string) string {
	base, _ := doublestar.SplitPattern(clean(pattern))
	if base == "" {
		return "."
	}
	return base
}

// ValidPattern reports whether pattern is well formed.
func ValidPattern(pattern string) bool {
	return doublestar.ValidatePattern(clean(pattern))
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
