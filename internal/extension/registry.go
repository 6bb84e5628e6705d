// Package extension maps file extensions to the output type and transform
// that turn a stored source into executable content.
package extension

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
)

var (
	registryLogger = logging.GetLogger().WithPrefix("extension")
)

// Output types. Several extensions may share one.
const (
	TypePlain      = "plain"
	TypeDir        = "dir"
	TypeJavaScript = "javascript"
	TypeCSS        = "css"
	TypeHTML       = "html"
	TypeJSON       = "json"
	TypeSVG        = "svg"
	TypeWasm       = "wasm"
)

var mimeTypes = map[string]string{
	TypePlain:      "text/plain; charset=utf-8",
	TypeJavaScript: "text/javascript; charset=utf-8",
	TypeCSS:        "text/css; charset=utf-8",
	TypeHTML:       "text/html; charset=utf-8",
	TypeJSON:       "application/json",
	TypeSVG:        "image/svg+xml",
	TypeWasm:       "application/wasm",
}

// MIMEType returns the content type used when publishing output of the
// given type. Unknown types are served as plain text.
func MIMEType(typ string) string {
	if m, ok := mimeTypes[typ]; ok {
		return m
	}
	return mimeTypes[TypePlain]
}

// Dependencies gives a transform access to the other files of the store.
type Dependencies interface {
	// ResolvePath resolves rel against the file from.
	ResolvePath(from, rel string) string
	// ExecutableURL returns the published URL of path. It fails with
	// ErrMissing when no such file exists or the import closes a cycle, and
	// with ErrUnavailable when the file exists but has no URL yet.
	ExecutableURL(path string) (string, error)
}

// Context is the input of a transform.
type Context struct {
	Path   string
	Source string
	Deps   Dependencies
}

// TransformFunc derives executable content from a source file.
type TransformFunc func(ctx context.Context, tc *Context) (string, error)

// Descriptor is the immutable configuration of one extension.
type Descriptor struct {
	Type      string
	Transform TransformFunc
}

// Apply runs the transform, or returns the source unchanged when the
// descriptor has none.
func (d Descriptor) Apply(ctx context.Context, tc *Context) (string, error) {
	if d.Transform == nil {
		return tc.Source, nil
	}
	return d.Transform(ctx, tc)
}

// Plain is the descriptor used for unknown extensions.
var Plain = Descriptor{Type: TypePlain}

// Registry maps extensions (without the leading dot) to descriptors.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

func cleanExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Register sets the descriptor of ext. Compound extensions such as
// "module.css" are allowed and take precedence over their suffix.
func (r *Registry) Register(ext string, d Descriptor) {
	if d.Type == "" {
		d.Type = TypePlain
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	registryLogger.Debug("Registering extension %q as %s", ext, d.Type)
	r.descriptors[cleanExt(ext)] = d
}

// Alias makes ext behave exactly like an already registered extension.
func (r *Registry) Alias(ext, existing string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[cleanExt(existing)]
	if !ok {
		return fmt.Errorf("cannot alias %q: extension %q is not registered", ext, existing)
	}
	registryLogger.Debug("Aliasing extension %q to %q", ext, existing)
	r.descriptors[cleanExt(ext)] = d
	return nil
}

// Lookup returns the descriptor for path, trying the longest compound
// extension first. Unknown extensions yield Plain.
func (r *Registry) Lookup(path string) Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ext := range pathutil.Exts(path) {
		if d, ok := r.descriptors[strings.ToLower(ext)]; ok {
			return d
		}
	}
	return Plain
}

// TypeOf returns the output type declared for path's extension.
func (r *Registry) TypeOf(path string) string {
	return r.Lookup(path).Type
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.descriptors))
	for ext := range r.descriptors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
