package extension

import (
	"errors"
	"fmt"
	"strings"

	"playfs/internal/pathutil"
	"playfs/internal/rewrite"
)

// ModuleResolver returns the resolver used by the JavaScript-like
// transforms for the file described by tc:
//
//   - URLs are kept.
//   - Relative specifiers become the dependency's executable URL. A
//     reference to a file that does not exist is kept as written; a file
//     without a URL yet makes the specifier unresolved.
//   - Bare specifiers are prefixed with cdn, or kept when cdn is empty.
func ModuleResolver(tc *Context, cdn string) rewrite.Resolver {
	cdn = strings.TrimSuffix(cdn, "/")
	return func(spec rewrite.Specifier) (string, bool) {
		v := spec.Value
		switch {
		case pathutil.IsURL(v):
			return v, true
		case pathutil.IsRelative(v):
			url, err := tc.Deps.ExecutableURL(tc.Deps.ResolvePath(tc.Path, v))
			switch {
			case err == nil:
				return url, true
			case errors.Is(err, ErrMissing):
				return v, true
			default:
				return "", false
			}
		default:
			if cdn == "" {
				return v, true
			}
			return cdn + "/" + v, true
		}
	}
}

// RewriteModule rewrites the specifiers of src for the file described by
// tc. An unresolved specifier is reported as ErrUnavailable.
func RewriteModule(tc *Context, src, cdn string) (string, error) {
	out, err := rewrite.Rewrite(src, ModuleResolver(tc, cdn))
	if errors.Is(err, rewrite.ErrUnresolved) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, err
}
