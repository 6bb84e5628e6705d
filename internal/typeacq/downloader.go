// Package typeacq downloads TypeScript declaration files for bare module
// specifiers from an ESM CDN.
package typeacq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
	"playfs/internal/rewrite"
)

var (
	typesLogger = logging.GetLogger().WithPrefix("types")
)

const (
	// TypesHeader names the declaration file of a CDN module.
	TypesHeader = "X-TypeScript-Types"

	DefaultCDN            = "https://esm.sh"
	DefaultMaxConcurrency = 8
	prefetchTimeout       = time.Minute
	maxDeclarationSize    = 8 << 20
)

// ErrNoTypes is returned when the CDN announces no declarations for a
// package.
var ErrNoTypes = errors.New("no type declarations")

var referenceRE = regexp.MustCompile(`(?m)^\s*///\s*<reference\s+(path|types)\s*=\s*["']([^"']+)["']`)

// Downloader fetches declaration files. The zero value is usable.
type Downloader struct {
	Client         *http.Client
	CDN            string
	Cache          Cache
	MaxConcurrency int
	// Sink receives the files found by Prefetch.
	Sink func(files map[string]string)

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Downloader) cdn() string {
	if d.CDN != "" {
		return strings.TrimSuffix(d.CDN, "/")
	}
	return DefaultCDN
}

func (d *Downloader) cache() Cache {
	if d.Cache != nil {
		return d.Cache
	}
	return SharedCache()
}

func (d *Downloader) concurrency() int {
	if d.MaxConcurrency > 0 {
		return d.MaxConcurrency
	}
	return DefaultMaxConcurrency
}

// PackageName returns the package part of a bare specifier:
// "@scope/pkg/sub" is "@scope/pkg" and "pkg/sub" is "pkg".
func PackageName(spec string) string {
	parts := strings.SplitN(spec, "/", 3)
	if strings.HasPrefix(spec, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// Download fetches the declarations of specifier and of every package they
// import. Keys are store paths under node_modules/<pkg>/. Failures of
// transitively imported packages are logged and skipped; the error covers
// specifier itself.
func (d *Downloader) Download(ctx context.Context, specifier string) (map[string]string, error) {
	if !pathutil.IsBare(specifier) {
		return nil, fmt.Errorf("not a bare specifier: %q", specifier)
	}
	out := make(map[string]string)
	seen := map[string]bool{PackageName(specifier): true}
	queue := []string{specifier}
	var rootErr error

	for len(queue) > 0 {
		spec := queue[0]
		queue = queue[1:]
		files, imports, err := d.pkg(ctx, spec)
		if err != nil {
			if spec == specifier {
				rootErr = err
				if ctx.Err() != nil {
					break
				}
			} else {
				typesLogger.Debug("Skipping types of %s: %v", spec, err)
			}
		}
		for k, v := range files {
			out[k] = v
		}
		for _, imp := range imports {
			if name := PackageName(imp); !seen[name] {
				seen[name] = true
				queue = append(queue, imp)
			}
		}
	}
	typesLogger.Debug("Downloaded %d declaration files for %s", len(out), specifier)
	return out, rootErr
}

// pkg returns the declarations of one package and the bare specifiers
// they import.
func (d *Downloader) pkg(ctx context.Context, spec string) (map[string]string, []string, error) {
	name := PackageName(spec)
	if pkg, ok := d.cache().Get(spec); ok {
		typesLogger.Trace("Types of %s served from cache", spec)
		return pkg.Files, pkg.Imports, nil
	}

	entry, err := d.entry(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	files, imports, err := d.crawl(ctx, name, entry)
	if err != nil {
		return files, imports, err
	}

	base := entry[:strings.LastIndex(entry, "/")+1]
	manifest, _ := json.Marshal(map[string]string{"name": name, "types": strings.TrimPrefix(entry, base)})
	files[pathutil.Join("node_modules", name, "package.json")] = string(manifest)

	d.cache().Put(spec, Package{Files: files, Imports: imports})
	return files, imports, nil
}

// entry asks the CDN for the declaration URL of spec.
func (d *Downloader) entry(ctx context.Context, spec string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cdn()+"/"+spec, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", spec, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDeclarationSize))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %s", spec, resp.Status)
	}
	types := resp.Header.Get(TypesHeader)
	if types == "" {
		return "", fmt.Errorf("%s: %w", spec, ErrNoTypes)
	}
	ref, err := url.Parse(types)
	if err != nil {
		return "", fmt.Errorf("%s: bad %s header: %w", spec, TypesHeader, err)
	}
	return resp.Request.URL.ResolveReference(ref).String(), nil
}

type declaration struct {
	url  string
	body string
}

// crawl fetches entry and every declaration it reaches through relative
// references, one wave of URLs at a time.
func (d *Downloader) crawl(ctx context.Context, name, entry string) (map[string]string, []string, error) {
	base := entry[:strings.LastIndex(entry, "/")+1]
	files := make(map[string]string)
	seen := map[string]bool{entry: true}
	bare := make(map[string]bool)
	var imports []string
	var errs []error

	wave := []string{entry}
	for len(wave) > 0 {
		p := pool.NewWithResults[declaration]().
			WithContext(ctx).
			WithMaxGoroutines(d.concurrency())
		for _, u := range wave {
			u := u
			p.Go(func(ctx context.Context) (declaration, error) {
				body, err := d.fetch(ctx, u)
				return declaration{url: u, body: body}, err
			})
		}
		results, err := p.Wait()
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}

		wave = nil
		for _, decl := range results {
			if decl.url == "" {
				continue
			}
			files[keyFor(name, base, decl.url)] = decl.body
			for _, ref := range references(decl.body) {
				if pathutil.IsBare(ref) {
					if !bare[ref] {
						bare[ref] = true
						imports = append(imports, ref)
					}
					continue
				}
				next := declarationURL(pathutil.Resolve(decl.url, ref))
				if !seen[next] {
					seen[next] = true
					wave = append(wave, next)
				}
			}
		}
	}
	if _, ok := files[keyFor(name, base, entry)]; !ok {
		return nil, nil, errors.Join(errs...)
	}
	return files, imports, errors.Join(errs...)
}

func (d *Downloader) fetch(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: %s", u, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDeclarationSize))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", u, err)
	}
	typesLogger.Trace("Fetched %s (%d bytes)", u, len(body))
	return string(body), nil
}

// references lists the module specifiers and triple-slash references of a
// declaration file. Type-only packages like "node" are returned bare.
func references(src string) []string {
	var out []string
	for _, s := range rewrite.Specifiers(src) {
		out = append(out, s.Value)
	}
	for _, m := range referenceRE.FindAllStringSubmatch(src, -1) {
		ref := m[2]
		if m[1] == "path" && !pathutil.IsRelative(ref) && !pathutil.IsURL(ref) {
			ref = "./" + ref
		}
		out = append(out, ref)
	}
	return out
}

// declarationURL maps an extensionless reference onto its .d.ts file.
func declarationURL(u string) string {
	switch {
	case strings.HasSuffix(u, ".d.ts"), strings.HasSuffix(u, ".d.mts"), strings.HasSuffix(u, ".d.cts"):
		return u
	case strings.HasSuffix(u, ".js"):
		return strings.TrimSuffix(u, ".js") + ".d.ts"
	case strings.HasSuffix(u, ".mjs"):
		return strings.TrimSuffix(u, ".mjs") + ".d.mts"
	}
	return u + ".d.ts"
}

func keyFor(name, base, u string) string {
	rel := strings.TrimPrefix(u, base)
	if rel == u {
		if parsed, err := url.Parse(u); err == nil {
			rel = parsed.Path
		}
	}
	return pathutil.Join("node_modules", name, pathutil.Normalize(rel))
}

// Prefetch downloads the declarations of specifier in the background and
// hands them to Sink. Each package is fetched at most once at a time.
func (d *Downloader) Prefetch(specifier string) {
	if !pathutil.IsBare(specifier) {
		return
	}
	name := PackageName(specifier)
	d.mu.Lock()
	if d.inflight == nil {
		d.inflight = make(map[string]bool)
	}
	if d.inflight[name] {
		d.mu.Unlock()
		return
	}
	d.inflight[name] = true
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, name)
			d.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()

		files, err := d.Download(ctx, specifier)
		if err != nil {
			typesLogger.Warn("Type acquisition for %s failed: %v", specifier, err)
		}
		if len(files) > 0 && d.Sink != nil {
			d.Sink(files)
		}
	}()
}

// Wait blocks until every Prefetch has finished.
func (d *Downloader) Wait() {
	d.wg.Wait()
}
