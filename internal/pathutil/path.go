// Package pathutil holds the path helpers shared by the store, the
// transform pipeline and the type downloader.
//
// Store paths never start with a slash and use "/" as separator. The empty
// string is the store root.
package pathutil

import (
	"net/url"
	"path"
	"strings"

	"playfs/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// Normalize strips every leading slash and cleans the path. "." and ".."
// that climb above the root collapse onto the root.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean("/" + p)
	cleaned = strings.TrimLeft(cleaned, "/")
	pathLogger.Trace("Normalized path: %q -> %q", p, cleaned)
	return cleaned
}

// Join joins elements and normalizes the result.
func Join(elem ...string) string {
	return Normalize(path.Join(elem...))
}

// Name returns the last segment of p.
func Name(p string) string {
	p = Normalize(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Parent returns the directory containing p. Top-level entries and the root
// itself have the root "" as parent.
func Parent(p string) string {
	p = Normalize(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return ""
}

// Ext returns the text after the last dot of the last segment, without the
// dot. Dotfiles such as ".env" have no extension.
func Ext(p string) string {
	name := Name(p)
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return ""
	}
	return name[i+1:]
}

// Exts returns the extension candidates of p, longest first:
// "a.module.css" yields ["module.css", "css"].
func Exts(p string) []string {
	name := Name(p)
	if strings.HasPrefix(name, ".") {
		name = name[1:]
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil
	}
	exts := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		exts = append(exts, strings.Join(parts[i:], "."))
	}
	return exts
}

// HasPrefix reports whether p equals dir or lies inside it. The comparison
// works on whole segments, so "foo2" is not inside "foo". Every path is
// inside the root "".
func HasPrefix(p, dir string) bool {
	p, dir = Normalize(p), Normalize(dir)
	if dir == "" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// IsDescendant reports whether p lies strictly inside dir.
func IsDescendant(p, dir string) bool {
	return HasPrefix(p, dir) && Normalize(p) != Normalize(dir)
}

// Rebase moves p from under the from prefix to under the to prefix. The
// second result is false when p is not inside from.
func Rebase(p, from, to string) (string, bool) {
	p, from, to = Normalize(p), Normalize(from), Normalize(to)
	if !HasPrefix(p, from) {
		return p, false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(p, from), "/")
	return Join(to, rest), true
}

// Depth returns the number of segments in p. The root has depth 0.
func Depth(p string) int {
	p = Normalize(p)
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// IsURL reports whether s is an absolute URL with a scheme, such as
// "https://esm.sh/react", "blob:playfs/..." or "data:text/plain,x".
func IsURL(s string) bool {
	i := strings.Index(s, ":")
	if i <= 0 {
		return false
	}
	for j, c := range s[:i] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// IsRelative reports whether s is a relative or root-relative reference:
// "./x", "../x", "/x", "." or "..".
func IsRelative(s string) bool {
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "/")
}

// IsBare reports whether s is a bare module specifier such as "react" or
// "@scope/pkg/sub".
func IsBare(s string) bool {
	return s != "" && !IsURL(s) && !IsRelative(s)
}

// Resolve resolves the reference ref against the file base. When base is an
// absolute URL the result is a URL, otherwise it is a normalized store path.
// Absolute URL references are returned unchanged.
func Resolve(base, ref string) string {
	if IsURL(ref) {
		return ref
	}
	if IsURL(base) {
		u, err := url.Parse(base)
		if err != nil {
			pathLogger.Debug("Cannot parse base URL %q: %v", base, err)
			return ref
		}
		r, err := url.Parse(ref)
		if err != nil {
			pathLogger.Debug("Cannot parse reference %q: %v", ref, err)
			return ref
		}
		return u.ResolveReference(r).String()
	}
	if strings.HasPrefix(ref, "/") {
		return Normalize(ref)
	}
	return Join(Parent(base), ref)
}

// Path is a normalized store path.
type Path struct {
	path string
}

// NewPath creates a normalized Path.
func NewPath(p string) Path {
	return Path{path: Normalize(p)}
}

// String returns the normalized path.
func (p Path) String() string {
	return p.path
}

// Parent returns the parent directory.
func (p Path) Parent() Path {
	return Path{path: Parent(p.path)}
}

// Base returns the last element of the path
func (p Path) Base() string {
	return Name(p.path)
}

// Child returns the path of the named child entry.
func (p Path) Child(name string) Path {
	return NewPath(p.path + "/" + name)
}

// IsRoot reports whether p is the store root.
func (p Path) IsRoot() bool {
	return p.path == ""
}
