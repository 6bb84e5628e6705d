// Package playground wires the file store, the transform registry, the blob
// URL registry and the executable cache into one FileSystem.
package playground

import (
	"context"
	"time"

	"playfs/internal/blob"
	"playfs/internal/exec"
	"playfs/internal/extension"
	"playfs/internal/logging"
	"playfs/internal/transform"
	"playfs/internal/vfs"
	"playfs/internal/watch"
)

const structureKey = "structure"

type settings struct {
	registry     *extension.Registry
	transforms   transform.Options
	blobs        *blob.Registry
	releaseDelay time.Duration
	logger       *logging.Logger
}

// Option configures a FileSystem.
type Option func(*settings)

// WithRegistry replaces the default transform registry.
func WithRegistry(r *extension.Registry) Option {
	return func(s *settings) { s.registry = r }
}

// WithTransforms sets the options the default registry is built with.
// Ignored when WithRegistry is also given.
func WithTransforms(opts transform.Options) Option {
	return func(s *settings) { s.transforms = opts }
}

// WithBlobs shares an existing blob registry, for example one already
// mounted on an HTTP server.
func WithBlobs(b *blob.Registry) Option {
	return func(s *settings) { s.blobs = b }
}

// WithReleaseDelay sets how long an unobserved executable stays published.
func WithReleaseDelay(d time.Duration) Option {
	return func(s *settings) { s.releaseDelay = d }
}

// WithLogger sets the logger used by the facade.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// FileSystem is a reactive in-memory project: writing a source file
// republishes its executable URL and the URL of everything importing it.
type FileSystem struct {
	store  *vfs.Store
	exts   *extension.Registry
	blobs  *blob.Registry
	cache  *exec.Cache
	logger *logging.Logger

	files     *watch.Registry[string, FileUpdate]
	structure *watch.Registry[string, []vfs.Event]

	unsubscribe func()
	ownsBlobs   bool
}

// FileUpdate is delivered to file watchers. Exists is false once the file
// is gone.
type FileUpdate struct {
	Path   string
	Source string
	Exists bool
}

// New creates an empty FileSystem.
func New(opts ...Option) *FileSystem {
	s := settings{releaseDelay: exec.DefaultReleaseDelay}
	for _, opt := range opts {
		opt(&s)
	}
	if s.registry == nil {
		s.registry = transform.Default(s.transforms)
	}
	if s.logger == nil {
		s.logger = logging.GetLogger().WithPrefix("playground")
	}
	fs := &FileSystem{
		exts:      s.registry,
		blobs:     s.blobs,
		logger:    s.logger,
		files:     watch.NewRegistry[string, FileUpdate](),
		structure: watch.NewRegistry[string, []vfs.Event](),
	}
	if fs.blobs == nil {
		fs.blobs = blob.NewRegistry(blob.DefaultPrefix)
		fs.ownsBlobs = true
	}
	fs.store = vfs.New(fs.exts)
	// The cache subscribes first so executables are dropped before watchers
	// re-evaluate membership.
	fs.cache = exec.New(fs.store, fs.exts, fs.blobs, exec.Options{ReleaseDelay: s.releaseDelay})
	fs.unsubscribe = fs.store.Subscribe(fs.onEvents)
	return fs
}

func (fs *FileSystem) onEvents(events []vfs.Event) {
	structural := false
	for _, ev := range events {
		if ev.Structural() {
			structural = true
		}
		if ev.Dir {
			continue
		}
		switch ev.Op {
		case vfs.EventCreate, vfs.EventWrite:
			fs.files.Notify(ev.Path, fs.update(ev.Path))
		case vfs.EventRemove:
			fs.files.Notify(ev.Path, FileUpdate{Path: ev.Path})
		case vfs.EventRename:
			fs.files.Notify(ev.OldPath, FileUpdate{Path: ev.OldPath})
			fs.files.Notify(ev.Path, fs.update(ev.Path))
		}
	}
	if structural {
		fs.logger.Trace("Structural change: %d events", len(events))
		fs.structure.Notify(structureKey, events)
	}
}

func (fs *FileSystem) update(path string) FileUpdate {
	src, err := fs.store.Read(path)
	if err != nil {
		return FileUpdate{Path: path}
	}
	return FileUpdate{Path: path, Source: src, Exists: true}
}

// Store returns the underlying file store.
func (fs *FileSystem) Store() *vfs.Store { return fs.store }

// Extensions returns the transform registry.
func (fs *FileSystem) Extensions() *extension.Registry { return fs.exts }

// Blobs returns the blob URL registry executables are published to.
func (fs *FileSystem) Blobs() *blob.Registry { return fs.blobs }

// Cache returns the executable cache.
func (fs *FileSystem) Cache() *exec.Cache { return fs.cache }

func (fs *FileSystem) Write(path, source string) error {
	return fs.store.Write(path, source)
}

func (fs *FileSystem) Read(path string) (string, error) {
	return fs.store.Read(path)
}

func (fs *FileSystem) Mkdir(path string, opts vfs.MkdirOptions) error {
	return fs.store.Mkdir(path, opts)
}

func (fs *FileSystem) Rename(from, to string) error {
	return fs.store.Rename(from, to)
}

func (fs *FileSystem) Remove(path string, opts vfs.RemoveOptions) error {
	return fs.store.Remove(path, opts)
}

func (fs *FileSystem) List(path string) ([]string, error) {
	return fs.store.List(path)
}

func (fs *FileSystem) ListTypes(path string) ([]vfs.DirEntry, error) {
	return fs.store.ListTypes(path)
}

func (fs *FileSystem) TypeOf(path string) (string, error) {
	return fs.store.TypeOf(path)
}

func (fs *FileSystem) Exists(path string) bool {
	return fs.store.Exists(path)
}

func (fs *FileSystem) IsDir(path string) bool {
	return fs.store.IsDir(path)
}

// URL returns the executable URL of path, starting its transform if this is
// the first request for it.
func (fs *FileSystem) URL(path string) (string, bool) {
	return fs.cache.Get(path)
}

// CreateURL mints a fresh URL for the current executable of path. The
// caller owns it and must revoke it with RevokeURL.
func (fs *FileSystem) CreateURL(path string) (string, error) {
	return fs.cache.Create(path)
}

func (fs *FileSystem) RevokeURL(url string) {
	fs.blobs.RevokeObjectURL(url)
}

// Transformed returns the transformed output of path, if published.
func (fs *FileSystem) Transformed(path string) (string, bool) {
	return fs.cache.Transformed(path)
}

func (fs *FileSystem) Invalidate(path string) {
	fs.cache.Invalidate(path)
}

// Settle waits until no transform is in flight.
func (fs *FileSystem) Settle(ctx context.Context) error {
	return fs.cache.Settle(ctx)
}

func (fs *FileSystem) Snapshot() map[string]string {
	return fs.store.Snapshot()
}

func (fs *FileSystem) Load(files map[string]string) error {
	return fs.store.Load(files)
}

// Close revokes every executable URL and detaches the cache from the store.
// A blob registry passed with WithBlobs is left open.
func (fs *FileSystem) Close() {
	fs.unsubscribe()
	fs.cache.Close()
	if fs.ownsBlobs {
		fs.blobs.Close()
	}
	fs.logger.Debug("Closed")
}
