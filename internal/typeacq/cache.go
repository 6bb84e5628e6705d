package typeacq

import "sync"

// Package is the downloaded declarations of one specifier.
type Package struct {
	Files map[string]string
	// Imports lists the bare specifiers the declarations import.
	Imports []string
}

func (p Package) clone() Package {
	return Package{Files: copyFiles(p.Files), Imports: append([]string(nil), p.Imports...)}
}

// Cache stores downloaded packages keyed by specifier. Entries are never
// evicted.
type Cache interface {
	Get(spec string) (Package, bool)
	Put(spec string, pkg Package)
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	pkgs map[string]Package
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{pkgs: make(map[string]Package)}
}

func (c *MemoryCache) Get(spec string) (Package, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pkg, ok := c.pkgs[spec]
	if !ok {
		return Package{}, false
	}
	return pkg.clone(), true
}

func (c *MemoryCache) Put(spec string, pkg Package) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pkgs[spec] = pkg.clone()
}

// Len returns the number of cached packages.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pkgs)
}

// Declarations holds the files handed to a Downloader's Sink, keyed by
// node_modules path. It lives beside a playground, never inside its store.
type Declarations struct {
	mu    sync.RWMutex
	files map[string]string
}

func NewDeclarations() *Declarations {
	return &Declarations{files: make(map[string]string)}
}

// Add records files, replacing earlier versions. It fits Downloader.Sink.
func (d *Declarations) Add(files map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range files {
		d.files[k] = v
	}
	typesLogger.Debug("Holding %d declaration files", len(d.files))
}

// Get returns the declaration file at path.
func (d *Declarations) Get(path string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	src, ok := d.files[path]
	return src, ok
}

// Files returns a copy of every held file.
func (d *Declarations) Files() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyFiles(d.files)
}

var (
	sharedOnce  sync.Once
	sharedCache *MemoryCache
)

// SharedCache returns the process-wide cache used when a Downloader has
// none of its own.
func SharedCache() *MemoryCache {
	sharedOnce.Do(func() {
		sharedCache = NewMemoryCache()
	})
	return sharedCache
}

func copyFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for k, v := range files {
		out[k] = v
	}
	return out
}
