// Package watch provides glob matching and push-based subscriber sets.
package watch

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
)

var (
	watchLogger = logging.GetLogger().WithPrefix("watch")
)

// Glob is a validated pattern. "*" matches within one path segment, "**"
// across segments and "?" one character.
type Glob struct {
	pattern string
}

var (
	globsMu sync.Mutex
	globs   = make(map[string]*Glob)
)

// Compile validates pattern once and returns the shared Glob for it.
func Compile(pattern string) (*Glob, error) {
	p := pathutil.Normalize(pattern)
	globsMu.Lock()
	defer globsMu.Unlock()
	if g, ok := globs[p]; ok {
		return g, nil
	}
	if !doublestar.ValidatePattern(p) {
		return nil, fmt.Errorf("invalid glob %q", pattern)
	}
	g := &Glob{pattern: p}
	globs[p] = g
	watchLogger.Trace("Compiled glob %q", p)
	return g, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(pattern string) *Glob {
	g, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

// String returns the normalized pattern.
func (g *Glob) String() string {
	return g.pattern
}

// Match reports whether the whole path matches the pattern.
func (g *Glob) Match(path string) bool {
	ok, err := doublestar.Match(g.pattern, pathutil.Normalize(path))
	return err == nil && ok
}

// Filter returns the paths that match, in their original order.
func (g *Glob) Filter(paths []string) []string {
	var out []string
	for _, p := range paths {
		if g.Match(p) {
			out = append(out, p)
		}
	}
	return out
}
