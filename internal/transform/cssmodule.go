package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"playfs/internal/extension"
)

const cssNamespace = "playfs-css"

// CSSModule compiles a CSS module with esbuild's local-css loader. The
// result is a JavaScript module that adds the scoped stylesheet to the
// document and default-exports the class name map.
func CSSModule() extension.TransformFunc {
	return func(ctx context.Context, tc *extension.Context) (string, error) {
		entry := "/" + tc.Path
		source := tc.Source
		result := api.Build(api.BuildOptions{
			Stdin: &api.StdinOptions{
				Contents:   fmt.Sprintf("import styles from %q;\nexport default styles;\n", entry),
				Loader:     api.LoaderJS,
				Sourcefile: "playfs-css-entry.js",
			},
			Bundle:   true,
			Write:    false,
			Format:   api.FormatESModule,
			Target:   api.ES2022,
			Outdir:   "/out",
			Platform: api.PlatformBrowser,
			Plugins: []api.Plugin{{
				Name: "playfs-css-module",
				Setup: func(build api.PluginBuild) {
					build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
						if args.Path == entry {
							return api.OnResolveResult{Path: entry, Namespace: cssNamespace}, nil
						}
						return api.OnResolveResult{Path: args.Path, External: true}, nil
					})
					build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: cssNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
						return api.OnLoadResult{
							Contents: &source,
							Loader:   api.LoaderLocalCSS,
						}, nil
					})
				},
			}},
		})
		if len(result.Errors) > 0 {
			return "", messageError(result.Errors)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		var js, css string
		for _, f := range result.OutputFiles {
			switch {
			case strings.HasSuffix(f.Path, ".js"):
				js = string(f.Contents)
			case strings.HasSuffix(f.Path, ".css"):
				css = string(f.Contents)
			}
		}
		if js == "" {
			return "", fmt.Errorf("esbuild produced no module for %s", tc.Path)
		}
		return styleModule(tc.Path, css, js)
	}
}

// styleModule prefixes js with code that installs css in a <style> element.
func styleModule(path, css, js string) (string, error) {
	cssLit, err := json.Marshal(css)
	if err != nil {
		return "", err
	}
	pathLit, err := json.Marshal(path)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "const css = %s;\n", cssLit)
	fmt.Fprintf(&sb, "const id = %s;\n", pathLit)
	sb.WriteString("if (typeof document !== \"undefined\") {\n")
	sb.WriteString("  let el = document.querySelector(`style[data-playfs=\"${id}\"]`);\n")
	sb.WriteString("  if (!el) {\n")
	sb.WriteString("    el = document.createElement(\"style\");\n")
	sb.WriteString("    el.setAttribute(\"data-playfs\", id);\n")
	sb.WriteString("    document.head.appendChild(el);\n")
	sb.WriteString("  }\n")
	sb.WriteString("  el.textContent = css;\n")
	sb.WriteString("}\n")
	sb.WriteString(js)
	return sb.String(), nil
}
