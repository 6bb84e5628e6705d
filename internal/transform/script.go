package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"playfs/internal/extension"
	"playfs/internal/pathutil"
	"playfs/internal/rewrite"
)

// loaders maps the extensions compiled by esbuild to their loader.
var loaders = map[string]api.Loader{
	"ts":  api.LoaderTS,
	"mts": api.LoaderTS,
	"tsx": api.LoaderTSX,
	"jsx": api.LoaderJSX,
}

func loaderFor(path string) api.Loader {
	if loader, ok := loaders[strings.ToLower(pathutil.Ext(path))]; ok {
		return loader
	}
	return api.LoaderJS
}

// JavaScript rewrites the module specifiers of a JavaScript module.
func JavaScript(cdn string) extension.TransformFunc {
	return func(ctx context.Context, tc *extension.Context) (string, error) {
		return extension.RewriteModule(tc, tc.Source, cdn)
	}
}

// TypeScript compiles TypeScript and JSX with esbuild, then rewrites the
// module specifiers of the result.
func TypeScript(opts Options) extension.TransformFunc {
	return func(ctx context.Context, tc *extension.Context) (string, error) {
		if opts.Types != nil {
			for _, spec := range rewrite.Specifiers(tc.Source) {
				if pathutil.IsBare(spec.Value) {
					opts.Types.Prefetch(spec.Value)
				}
			}
		}

		result := api.Transform(tc.Source, api.TransformOptions{
			Loader:     loaderFor(tc.Path),
			Format:     api.FormatESModule,
			Target:     api.ES2022,
			Sourcefile: tc.Path,
			JSX:        api.JSXAutomatic,
		})
		if len(result.Errors) > 0 {
			return "", messageError(result.Errors)
		}
		for _, w := range result.Warnings {
			transformLogger.Debug("%s: %s", tc.Path, formatMessage(w))
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return extension.RewriteModule(tc, string(result.Code), opts.CDN)
	}
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}

// messageError joins esbuild error messages into one error.
func messageError(msgs []api.Message) error {
	errs := make([]error, 0, len(msgs))
	for _, m := range msgs {
		errs = append(errs, errors.New(formatMessage(m)))
	}
	return errors.Join(errs...)
}
