// Package hostsync mirrors a directory of the host filesystem into a
// playground store. Changes on disk are picked up with fsnotify and applied
// to the store after a short debounce.
package hostsync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
	"playfs/internal/vfs"
	"playfs/internal/watch"
)

var (
	mirrorLogger = logging.GetLogger().WithPrefix("mirror")
)

// DefaultDebounce is how long the mirror waits for a burst of host events
// to end before applying it.
const DefaultDebounce = 300 * time.Millisecond

// DefaultIgnore lists the host paths never copied into the store.
var DefaultIgnore = []string{".git/**", "node_modules/**", "**/.DS_Store"}

// Store is the destination of a mirror. Both *vfs.Store and
// *playground.FileSystem satisfy it.
type Store interface {
	Write(path, source string) error
	Mkdir(path string, opts vfs.MkdirOptions) error
	Remove(path string, opts vfs.RemoveOptions) error
	Exists(path string) bool
	IsDir(path string) bool
}

// Options configures a Mirror.
type Options struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// Ignore holds glob patterns relative to the root. Nil means
	// DefaultIgnore.
	Ignore []string
}

// Mirror keeps a store in step with a host directory. Only host changes
// are propagated; store edits are never written back.
type Mirror struct {
	root     string
	store    Store
	debounce time.Duration
	ignore   []*watch.Glob

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool
}

// New creates a mirror of root into store. Nothing is copied until Seed or
// Start is called.
func New(root string, store Store, opts Options) (*Mirror, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mirror root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat mirror root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mirror root %s is not a directory", abs)
	}

	patterns := opts.Ignore
	if patterns == nil {
		patterns = DefaultIgnore
	}
	ignore := make([]*watch.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := watch.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern: %w", err)
		}
		ignore = append(ignore, g)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Mirror{
		root:     abs,
		store:    store,
		debounce: debounce,
		ignore:   ignore,
		pending:  make(map[string]struct{}),
	}, nil
}

// Root returns the absolute host directory being mirrored.
func (m *Mirror) Root() string {
	return m.root
}

// rel converts a host path to a store path. ok is false for paths outside
// the root.
func (m *Mirror) rel(host string) (string, bool) {
	r, err := filepath.Rel(m.root, host)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	if r == "." {
		return "", true
	}
	return pathutil.Normalize(filepath.ToSlash(r)), true
}

// ignored reports whether p matches an ignore pattern. "dir/**" also
// matches dir itself, so a whole subtree is skipped.
func (m *Mirror) ignored(p string) bool {
	for _, g := range m.ignore {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// Seed copies every file under the root into the store.
func (m *Mirror) Seed() error {
	mirrorLogger.Info("Seeding store from %s", m.root)
	n, err := m.copyTree(m.root)
	if err != nil {
		return err
	}
	mirrorLogger.Debug("Seeded %d files", n)
	return nil
}

// copyTree copies the host tree at dir into the store and returns the
// number of files written.
func (m *Mirror) copyTree(dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(host string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		p, ok := m.rel(host)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if p == "" {
				return nil
			}
			if m.ignored(p) {
				return filepath.SkipDir
			}
			if m.watcher != nil {
				m.watch(host)
			}
			return m.store.Mkdir(p, vfs.MkdirOptions{Recursive: true})
		}
		if !d.Type().IsRegular() || m.ignored(p) {
			return nil
		}
		if err := m.copyFile(host, p); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to copy %s: %w", dir, err)
	}
	return count, nil
}

func (m *Mirror) copyFile(host, p string) error {
	data, err := os.ReadFile(host)
	if err != nil {
		return err
	}
	if parent := pathutil.Parent(p); parent != "" && !m.store.IsDir(parent) {
		if err := m.store.Mkdir(parent, vfs.MkdirOptions{Recursive: true}); err != nil {
			return err
		}
	}
	mirrorLogger.Trace("Copying %q (%d bytes)", p, len(data))
	return m.store.Write(p, string(data))
}

func (m *Mirror) watch(dir string) {
	if err := m.watcher.Add(dir); err != nil {
		mirrorLogger.Warn("Failed to watch %s: %v", dir, err)
		return
	}
	mirrorLogger.Trace("Watching directory: %s", dir)
}

// Start seeds the store and begins following host changes until Close.
func (m *Mirror) Start() error {
	watcher, err := fsnotify.NewBufferedWatcher(100)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	m.watcher = watcher
	m.done = make(chan struct{})
	m.watch(m.root)

	if err := m.Seed(); err != nil {
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go m.loop()
	mirrorLogger.Info("Watching %s for changes", m.root)
	return nil
}

func (m *Mirror) loop() {
	defer m.wg.Done()
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			// Permission changes do not alter content
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			p, ok := m.rel(event.Name)
			if !ok || p == "" {
				continue
			}
			mirrorLogger.Debug("Detected change: %s (%s)", p, event.Op.String())
			m.schedule(p)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			mirrorLogger.Warn("Watcher error: %v", err)

		case <-m.done:
			return
		}
	}
}

// schedule queues p and restarts the debounce timer.
func (m *Mirror) schedule(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending[p] = struct{}{}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, m.flush)
}

// flush reconciles every queued path with the host.
func (m *Mirror) flush() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(m.pending))
	for p := range m.pending {
		paths = append(paths, p)
	}
	m.pending = make(map[string]struct{})
	m.mu.Unlock()

	// Parents before children
	sort.Strings(paths)
	for _, p := range paths {
		if err := m.sync(p); err != nil {
			mirrorLogger.Warn("Failed to sync %q: %v", p, err)
		}
	}
}

// sync makes the store entry at p match the host.
func (m *Mirror) sync(p string) error {
	host := filepath.Join(m.root, filepath.FromSlash(p))
	info, err := os.Stat(host)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !m.store.Exists(p) {
			return nil
		}
		mirrorLogger.Debug("Removing %q", p)
		return m.store.Remove(p, vfs.RemoveOptions{Recursive: true, Force: true})
	case err != nil:
		return err
	case info.IsDir():
		if m.ignored(p) {
			return nil
		}
		_, err := m.copyTree(host)
		return err
	case !info.Mode().IsRegular() || m.ignored(p):
		return nil
	}
	if m.store.IsDir(p) {
		if err := m.store.Remove(p, vfs.RemoveOptions{Recursive: true, Force: true}); err != nil {
			return err
		}
	}
	return m.copyFile(host, p)
}

// Close stops following host changes. Queued changes are dropped.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	if m.watcher == nil {
		return nil
	}
	close(m.done)
	err := m.watcher.Close()
	m.wg.Wait()
	mirrorLogger.Debug("Stopped watching %s", m.root)
	return err
}
