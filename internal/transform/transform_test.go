package transform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playfs/internal/extension"
	"playfs/internal/htmlbind"
	"playfs/internal/pathutil"
)

type fakeDeps map[string]string

func (d fakeDeps) ResolvePath(from, rel string) string {
	return pathutil.Resolve(from, rel)
}

func (d fakeDeps) ExecutableURL(path string) (string, error) {
	if url, ok := d[path]; ok {
		return url, nil
	}
	return "", fmt.Errorf("%w: %s", extension.ErrMissing, path)
}

type prefetcher struct {
	mu    sync.Mutex
	specs []string
}

func (p *prefetcher) Prefetch(spec string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs = append(p.specs, spec)
}

func run(t *testing.T, fn extension.TransformFunc, path, src string, deps fakeDeps) (string, error) {
	t.Helper()
	return fn(context.Background(), &extension.Context{Path: path, Source: src, Deps: deps})
}

func TestDefaultTypes(t *testing.T) {
	r := Default(Options{})
	tests := []struct {
		path string
		want string
	}{
		{"a.js", extension.TypeJavaScript},
		{"a.mjs", extension.TypeJavaScript},
		{"src/a.ts", extension.TypeJavaScript},
		{"a.tsx", extension.TypeJavaScript},
		{"a.jsx", extension.TypeJavaScript},
		{"a.css", extension.TypeCSS},
		{"a.module.css", extension.TypeJavaScript},
		{"index.html", extension.TypeHTML},
		{"data.json", extension.TypeJSON},
		{"logo.svg", extension.TypeSVG},
		{"add.wat", extension.TypeWasm},
		{"README", extension.TypePlain},
		{"notes.md", extension.TypePlain},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, r.TypeOf(tt.path))
		})
	}
}

func TestAlias(t *testing.T) {
	r := Default(Options{})
	require.NoError(t, r.Alias("cjs", "js"))
	assert.Equal(t, extension.TypeJavaScript, r.TypeOf("x.cjs"))
	assert.Error(t, r.Alias("foo", "nope"))
}

func TestJavaScript(t *testing.T) {
	deps := fakeDeps{"lib/a.js": "blob:t/a"}
	out, err := run(t, JavaScript("https://esm.sh"), "lib/main.js",
		"import a from './a.js'\nimport b from 'lodash'\nimport c from '../missing.js'\n", deps)
	require.NoError(t, err)
	assert.Equal(t, "import a from 'blob:t/a'\nimport b from 'https://esm.sh/lodash'\nimport c from '../missing.js'\n", out)
}

func TestTypeScript(t *testing.T) {
	types := &prefetcher{}
	fn := TypeScript(Options{CDN: "https://esm.sh", Types: types})

	t.Run("strips types and rewrites", func(t *testing.T) {
		src := "import { a } from './a.ts'\nimport type { T } from 'types-only'\nconst x: number = a\nexport default x\n"
		out, err := run(t, fn, "main.ts", src, fakeDeps{"a.ts": "blob:t/a"})
		require.NoError(t, err)
		assert.Contains(t, out, `from "blob:t/a"`)
		assert.NotContains(t, out, ": number")
		assert.NotContains(t, out, "types-only")
	})

	t.Run("jsx runtime from cdn", func(t *testing.T) {
		src := "import React from 'react'\nexport const App = () => <div>hi</div>\n"
		out, err := run(t, fn, "App.tsx", src, fakeDeps{})
		require.NoError(t, err)
		assert.Contains(t, out, "https://esm.sh/react/jsx-runtime")
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := run(t, fn, "bad.ts", "const = ;", fakeDeps{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.ts")
	})

	types.mu.Lock()
	defer types.mu.Unlock()
	assert.Contains(t, types.specs, "types-only")
	assert.Contains(t, types.specs, "react")
}

func TestCSSModule(t *testing.T) {
	src := ".title { color: red }\n.body { margin: 0 }\n"
	out, err := run(t, CSSModule(), "styles/card.module.css", src, fakeDeps{})
	require.NoError(t, err)
	assert.Contains(t, out, `document.createElement("style")`)
	assert.Contains(t, out, "color: red")
	assert.Contains(t, out, "title")
	assert.Contains(t, out, "export")
	assert.Contains(t, out, `"styles/card.module.css"`)
}

func TestWAT(t *testing.T) {
	src := `(module
  (func (export "add") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    i32.add))`
	out, err := run(t, WAT(), "add.wat", src, fakeDeps{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "\x00asm"))

	_, err = run(t, WAT(), "bad.wat", "(module (func (export \"x\") (result i32)))", fakeDeps{})
	assert.Error(t, err)

	_, err = run(t, WAT(), "bad.wat", "(modul", fakeDeps{})
	assert.Error(t, err)
}

func TestHTML(t *testing.T) {
	src := `<script type="module" src="./main.js"></script><link rel="stylesheet" href="app.css">`
	out, err := run(t, HTML(htmlbind.Auto, ""), "index.html", src, fakeDeps{"main.js": "blob:t/main", "app.css": "blob:t/css"})
	require.NoError(t, err)
	assert.Equal(t, `<script type="module" src="blob:t/main"></script><link rel="stylesheet" href="blob:t/css">`, out)
}
