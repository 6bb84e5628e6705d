package transform

import (
	"context"

	"playfs/internal/extension"
	"playfs/internal/htmlbind"
)

// HTML binds the module scripts, script sources and stylesheet links of a
// page to their executable URLs.
func HTML(strategy htmlbind.Strategy, cdn string) extension.TransformFunc {
	return func(ctx context.Context, tc *extension.Context) (string, error) {
		b := htmlbind.New(strategy, tc, cdn).
			ModuleScripts().
			ScriptSources().
			LinkHrefs()
		if err := b.Err(); err != nil {
			return "", err
		}
		return b.String(), nil
	}
}
