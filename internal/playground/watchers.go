package playground

import (
	"sync"

	"playfs/internal/pathutil"
	"playfs/internal/vfs"
	"playfs/internal/watch"
)

// fanOut keeps one nested subscription per stored file matching a glob and
// re-evaluates the matching set after every structural change.
type fanOut struct {
	glob *watch.Glob
	open func(path string) (cancel func())

	// syncMu serializes membership passes; mu guards subs.
	syncMu sync.Mutex
	mu     sync.Mutex
	subs   map[string]func()
	closed bool
}

func (f *fanOut) sync(files []string) {
	f.syncMu.Lock()
	defer f.syncMu.Unlock()

	want := make(map[string]bool)
	for _, p := range f.glob.Filter(files) {
		want[p] = true
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	var stale []func()
	for p, cancel := range f.subs {
		if !want[p] {
			stale = append(stale, cancel)
			delete(f.subs, p)
		}
	}
	var added []string
	for _, p := range files {
		if want[p] {
			if _, ok := f.subs[p]; !ok {
				added = append(added, p)
			}
		}
	}
	f.mu.Unlock()

	for _, cancel := range stale {
		cancel()
	}
	for _, p := range added {
		cancel := f.open(p)
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			cancel()
			continue
		}
		f.subs[p] = cancel
		f.mu.Unlock()
	}
}

func (f *fanOut) close() {
	f.mu.Lock()
	f.closed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

func (fs *FileSystem) watchGlob(glob string, open func(path string) func()) (func(), error) {
	g, err := watch.Compile(glob)
	if err != nil {
		return nil, err
	}
	f := &fanOut{glob: g, open: open, subs: make(map[string]func())}
	stop := fs.structure.Subscribe(structureKey, func([]vfs.Event) {
		f.sync(fs.store.Files())
	})
	f.sync(fs.store.Files())

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			f.close()
		})
	}, nil
}

// WatchFile calls fn with the source of every file matching glob, then
// again whenever one of them is written, created or removed.
func (fs *FileSystem) WatchFile(glob string, fn func(FileUpdate)) (cancel func(), err error) {
	return fs.watchGlob(glob, func(p string) func() {
		cancel := fs.files.Subscribe(p, fn)
		fn(fs.update(p))
		return cancel
	})
}

// WatchExecutable calls fn with the executable URL of every file matching
// glob, then again whenever one of them changes. An empty URL means the
// file has nothing published.
func (fs *FileSystem) WatchExecutable(glob string, fn func(path, url string)) (cancel func(), err error) {
	return fs.watchGlob(glob, func(p string) func() {
		return fs.cache.Subscribe(p, func(url string) { fn(p, url) })
	})
}

// WatchDir calls fn with the entries of dir, then again whenever an entry
// is added, removed or renamed. A missing dir lists as nil.
func (fs *FileSystem) WatchDir(dir string, fn func([]vfs.DirEntry)) (cancel func()) {
	dir = pathutil.Normalize(dir)
	list := func() {
		entries, err := fs.store.ListTypes(dir)
		if err != nil {
			entries = nil
		}
		fn(entries)
	}
	cancel = fs.structure.Subscribe(structureKey, func(events []vfs.Event) {
		for _, ev := range events {
			if touches(dir, ev) {
				list()
				return
			}
		}
	})
	list()
	return cancel
}

// WatchPaths calls fn with every stored path, then once per structural
// change.
func (fs *FileSystem) WatchPaths(fn func([]string)) (cancel func()) {
	cancel = fs.structure.Subscribe(structureKey, func([]vfs.Event) {
		fn(fs.store.Paths())
	})
	fn(fs.store.Paths())
	return cancel
}

func touches(dir string, ev vfs.Event) bool {
	if ev.Path == dir || pathutil.Parent(ev.Path) == dir {
		return true
	}
	return ev.OldPath != "" && (ev.OldPath == dir || pathutil.Parent(ev.OldPath) == dir)
}
