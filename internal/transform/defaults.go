// Package transform holds the built-in extension transforms.
package transform

import (
	"playfs/internal/extension"
	"playfs/internal/htmlbind"
	"playfs/internal/logging"
)

var (
	transformLogger = logging.GetLogger().WithPrefix("transform")
)

// TypePrefetcher receives the bare module specifiers of TypeScript sources
// so that their declarations can be fetched in the background.
type TypePrefetcher interface {
	Prefetch(specifier string)
}

// Options configures the built-in transforms.
type Options struct {
	// CDN prefixes bare module specifiers, e.g. "https://esm.sh". Empty
	// leaves them untouched.
	CDN string
	// HTML selects the HTML binder strategy.
	HTML htmlbind.Strategy
	// Types is notified of bare specifiers found in TypeScript sources.
	Types TypePrefetcher
}

// Default returns a registry with every built-in extension.
func Default(opts Options) *extension.Registry {
	r := extension.NewRegistry()
	Install(r, opts)
	return r
}

// Install registers the built-in extensions on r.
func Install(r *extension.Registry, opts Options) {
	script := extension.Descriptor{Type: extension.TypeJavaScript, Transform: JavaScript(opts.CDN)}
	r.Register("js", script)
	r.Register("mjs", script)

	ts := extension.Descriptor{Type: extension.TypeJavaScript, Transform: TypeScript(opts)}
	for ext := range loaders {
		r.Register(ext, ts)
	}

	r.Register("css", extension.Descriptor{Type: extension.TypeCSS})
	r.Register("module.css", extension.Descriptor{Type: extension.TypeJavaScript, Transform: CSSModule()})

	page := extension.Descriptor{Type: extension.TypeHTML, Transform: HTML(opts.HTML, opts.CDN)}
	r.Register("html", page)
	r.Register("htm", page)

	r.Register("json", extension.Descriptor{Type: extension.TypeJSON})
	r.Register("svg", extension.Descriptor{Type: extension.TypeSVG})
	r.Register("wat", extension.Descriptor{Type: extension.TypeWasm, Transform: WAT()})

	transformLogger.Debug("Installed %d built-in extensions", len(r.Extensions()))
}
