package pathutil

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple path",
			input:    "test.js",
			expected: "test.js",
		},
		{
			name:     "nested path",
			input:    "dir/test.js",
			expected: "dir/test.js",
		},
		{
			name:     "leading slashes are stripped",
			input:    "///dir/test.js",
			expected: "dir/test.js",
		},
		{
			name:     "dot path gets cleaned",
			input:    "./test.js",
			expected: "test.js",
		},
		{
			name:     "double dot path gets cleaned",
			input:    "dir/../test.js",
			expected: "test.js",
		},
		{
			name:     "climbing above root stays at root",
			input:    "../../x",
			expected: "x",
		},
		{
			name:     "root",
			input:    "/",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Expected path %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestNameParentExt(t *testing.T) {
	tests := []struct {
		input  string
		name   string
		parent string
		ext    string
	}{
		{"index.html", "index.html", "", "html"},
		{"src/main.ts", "main.ts", "src", "ts"},
		{"/a/b/c.module.css", "c.module.css", "a/b", "css"},
		{"a/.env", ".env", "a", ""},
		{"Makefile", "Makefile", "", ""},
		{"", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Name(tt.input); got != tt.name {
				t.Errorf("Name(%q) = %q, want %q", tt.input, got, tt.name)
			}
			if got := Parent(tt.input); got != tt.parent {
				t.Errorf("Parent(%q) = %q, want %q", tt.input, got, tt.parent)
			}
			if got := Ext(tt.input); got != tt.ext {
				t.Errorf("Ext(%q) = %q, want %q", tt.input, got, tt.ext)
			}
		})
	}
}

func TestExts(t *testing.T) {
	got := Exts("styles/app.module.css")
	want := []string{"module.css", "css"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Exts = %v, want %v", got, want)
	}
	if got := Exts("README"); got != nil {
		t.Errorf("Exts without extension = %v, want nil", got)
	}
}

func TestHasPrefixRespectsSegments(t *testing.T) {
	tests := []struct {
		path, dir string
		expected  bool
	}{
		{"foo", "foo", true},
		{"foo/x.js", "foo", true},
		{"foo2", "foo", false},
		{"foo2/x.js", "foo", false},
		{"foo.js", "foo", false},
		{"anything", "", true},
		{"/foo/x", "foo/", true},
	}

	for _, tt := range tests {
		if got := HasPrefix(tt.path, tt.dir); got != tt.expected {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.expected)
		}
	}

	if IsDescendant("foo", "foo") {
		t.Error("A path should not be its own descendant")
	}
}

func TestRebase(t *testing.T) {
	got, ok := Rebase("a/x/y.js", "a", "z")
	if !ok || got != "z/x/y.js" {
		t.Errorf("Rebase = %q, %v", got, ok)
	}
	got, ok = Rebase("ab.js", "a", "z")
	if ok || got != "ab.js" {
		t.Errorf("Rebase outside prefix = %q, %v", got, ok)
	}
}

func TestSpecifierKinds(t *testing.T) {
	tests := []struct {
		input    string
		url      bool
		relative bool
		bare     bool
	}{
		{"https://esm.sh/react", true, false, false},
		{"blob:playfs/123", true, false, false},
		{"data:text/javascript,1", true, false, false},
		{"./util.js", false, true, false},
		{"../util.js", false, true, false},
		{"/abs.js", false, true, false},
		{"react", false, false, true},
		{"@scope/pkg/sub", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := IsURL(tt.input); got != tt.url {
				t.Errorf("IsURL = %v, want %v", got, tt.url)
			}
			if got := IsRelative(tt.input); got != tt.relative {
				t.Errorf("IsRelative = %v, want %v", got, tt.relative)
			}
			if got := IsBare(tt.input); got != tt.bare {
				t.Errorf("IsBare = %v, want %v", got, tt.bare)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		ref      string
		expected string
	}{
		{"sibling", "main.js", "./util.js", "util.js"},
		{"nested sibling", "src/main.js", "./util.js", "src/util.js"},
		{"parent", "src/lib/a.js", "../b.js", "src/b.js"},
		{"root relative", "src/a.js", "/b.js", "b.js"},
		{"url passthrough", "src/a.js", "https://x.dev/a.js", "https://x.dev/a.js"},
		{"url base", "https://cdn.dev/pkg/index.d.ts", "./types/a.d.ts", "https://cdn.dev/pkg/types/a.d.ts"},
		{"url base parent", "https://cdn.dev/pkg/lib/index.d.ts", "../b.d.ts", "https://cdn.dev/pkg/b.d.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.base, tt.ref); got != tt.expected {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.expected)
			}
		})
	}
}

func TestPath(t *testing.T) {
	p := NewPath("/src/app/main.ts")
	if p.String() != "src/app/main.ts" {
		t.Errorf("Expected normalized path, got %q", p.String())
	}
	if p.Parent().String() != "src/app" {
		t.Errorf("Expected parent src/app, got %q", p.Parent().String())
	}
	if p.Base() != "main.ts" {
		t.Errorf("Expected base main.ts, got %q", p.Base())
	}
	if !NewPath("/").IsRoot() {
		t.Error("Expected / to be the root")
	}
	if got := NewPath("").Child("a.js").String(); got != "a.js" {
		t.Errorf("Expected child a.js, got %q", got)
	}
}
