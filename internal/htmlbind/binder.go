// Package htmlbind rewrites the module scripts, script sources and
// stylesheet links of an HTML document so that they point at executable
// URLs.
//
// Two strategies share the same semantics: the tree binder parses the whole
// document into a DOM and renders it back, the streaming binder walks the
// token stream and copies everything it does not touch byte for byte.
package htmlbind

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"playfs/internal/extension"
	"playfs/internal/logging"
	"playfs/internal/pathutil"
)

var (
	bindLogger = logging.GetLogger().WithPrefix("htmlbind")
)

// Strategy selects a binder implementation.
type Strategy int

const (
	// Auto picks Tree for complete documents and Stream for fragments.
	Auto Strategy = iota
	Tree
	Stream
)

func (s Strategy) String() string {
	switch s {
	case Auto:
		return "auto"
	case Tree:
		return "tree"
	case Stream:
		return "stream"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy converts a configuration value into a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return Auto, nil
	case "tree", "dom":
		return Tree, nil
	case "stream", "tokenizer":
		return Stream, nil
	default:
		return Auto, fmt.Errorf("unknown html binder %q", name)
	}
}

// Binder rewrites one HTML document. Every operation is idempotent and
// returns the binder so calls can be chained.
type Binder interface {
	// ModuleScripts rewrites the module specifiers inside inline
	// <script type="module"> bodies.
	ModuleScripts() Binder
	// ScriptSources rewrites relative <script src> attributes.
	ScriptSources() Binder
	// LinkHrefs rewrites relative <link href> attributes.
	LinkHrefs() Binder
	// Inject appends scripts and stylesheets to the document head.
	Inject(inj Injection) Binder
	// String serializes the document.
	String() string
	// Err returns the first error met by any operation.
	Err() error
}

// Injection lists URLs to append to a document.
type Injection struct {
	Scripts []string
	Styles  []string
}

var documentPattern = regexp.MustCompile(`(?i)<!doctype|<html[\s>]`)

// Detect returns the strategy suited to source.
func Detect(source string) Strategy {
	if documentPattern.MatchString(source) {
		return Tree
	}
	return Stream
}

// New creates a binder over the document in tc. Bare module specifiers in
// inline scripts are prefixed with cdn when it is not empty.
func New(strategy Strategy, tc *extension.Context, cdn string) Binder {
	if strategy == Auto {
		strategy = Detect(tc.Source)
	}
	r := &refs{tc: tc, cdn: cdn}
	bindLogger.Trace("Binding %s with the %s binder", tc.Path, strategy)
	if strategy == Tree {
		return newTreeBinder(tc.Source, r)
	}
	return newStreamBinder(tc.Source, r)
}

// refs resolves the references of one document.
type refs struct {
	tc  *extension.Context
	cdn string
	err error
}

func (r *refs) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// module rewrites an inline module body.
func (r *refs) module(body string) string {
	out, err := extension.RewriteModule(r.tc, body, r.cdn)
	if err != nil {
		r.fail(err)
		return body
	}
	return out
}

// attr returns the replacement of a src or href value, or v itself when it
// must stay as written.
func (r *refs) attr(v string) string {
	ref := strings.TrimSpace(v)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "//") || pathutil.IsURL(ref) {
		return v
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	target := r.tc.Deps.ResolvePath(r.tc.Path, ref)
	url, err := r.tc.Deps.ExecutableURL(target)
	switch {
	case err == nil:
		return url
	case errors.Is(err, extension.ErrMissing):
		bindLogger.Debug("%s references missing file %s", r.tc.Path, target)
		return v
	default:
		r.fail(err)
		return v
	}
}

func isModuleType(t string) bool {
	return strings.EqualFold(strings.TrimSpace(t), "module")
}
