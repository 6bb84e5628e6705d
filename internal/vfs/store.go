package vfs

import (
	"sort"
	"sync"

	"playfs/internal/logging"
	"playfs/internal/pathutil"
)

var (
	storeLogger = logging.GetLogger().WithPrefix("vfs")
)

// TypeDir is the type reported for directories.
const TypeDir = "dir"

// TypeResolver reports the output type declared for a file path.
type TypeResolver interface {
	TypeOf(path string) string
}

// EventOp identifies the kind of change an Event reports.
type EventOp int

const (
	EventCreate EventOp = iota // a new file or directory appeared
	EventWrite                 // the content of an existing file changed
	EventRemove                // the entry is gone
	EventRename                // the entry moved from OldPath to Path
)

func (op EventOp) String() string {
	switch op {
	case EventCreate:
		return "create"
	case EventWrite:
		return "write"
	case EventRemove:
		return "remove"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event describes one change to one path.
type Event struct {
	Op      EventOp
	Path    string
	OldPath string
	Dir     bool
}

// Structural reports whether the event changes the set of stored paths.
func (e Event) Structural() bool {
	return e.Op != EventWrite
}

// MkdirOptions configures Mkdir.
type MkdirOptions struct {
	Recursive bool
}

// RemoveOptions configures Remove.
type RemoveOptions struct {
	Force     bool
	Recursive bool
}

// DirEntry is one child returned by ListTypes.
type DirEntry struct {
	Name string
	Path string
	Type string
}

// Store maps normalized paths to file contents. A nil content marks a
// directory. Every ancestor of a stored path is itself a stored directory.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*string
	types   TypeResolver

	lmu       sync.Mutex
	listeners map[int]func([]Event)
	nextID    int
}

// New creates an empty store holding only the root directory. types may be
// nil, in which case every file has the "plain" type.
func New(types TypeResolver) *Store {
	storeLogger.Debug("Creating new store")
	return &Store{
		entries:   map[string]*string{"": nil},
		types:     types,
		listeners: make(map[int]func([]Event)),
	}
}

// Subscribe registers fn to receive every batch of events. Batches are
// delivered after the store lock has been released, one per mutation.
func (s *Store) Subscribe(fn func([]Event)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Store) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.Unlock()

	storeLogger.Trace("Dispatching %d events to %d listeners", len(events), len(fns))
	for _, fn := range fns {
		fn(events)
	}
}

// checkParents verifies that every ancestor of p exists as a directory.
// Caller must hold the lock.
func (s *Store) checkParents(op, p string) error {
	for dir := pathutil.Parent(p); ; dir = pathutil.Parent(dir) {
		content, ok := s.entries[dir]
		if !ok {
			return NewError(op, p, ErrInvalidPath)
		}
		if content != nil {
			return NewError(op, p, ErrNotADirectory)
		}
		if dir == "" {
			return nil
		}
	}
}

// Write stores source at path, creating or overwriting the file.
func (s *Store) Write(path, source string) error {
	p := pathutil.Normalize(path)
	storeLogger.Trace("Write %q (%d bytes)", p, len(source))

	s.mu.Lock()
	if p == "" {
		s.mu.Unlock()
		return NewError(OpWrite, p, ErrNotAFile)
	}
	if err := s.checkParents(OpWrite, p); err != nil {
		s.mu.Unlock()
		return err
	}
	existing, ok := s.entries[p]
	if ok && existing == nil {
		s.mu.Unlock()
		return NewError(OpWrite, p, ErrNotAFile)
	}
	if ok && *existing == source {
		s.mu.Unlock()
		return nil
	}
	content := source
	s.entries[p] = &content
	op := EventWrite
	if !ok {
		op = EventCreate
	}
	s.mu.Unlock()

	s.dispatch([]Event{{Op: op, Path: p}})
	return nil
}

// Mkdir creates the directory path. With Recursive, missing ancestors are
// created and existing directories are accepted.
func (s *Store) Mkdir(path string, opts MkdirOptions) error {
	p := pathutil.Normalize(path)
	storeLogger.Trace("Mkdir %q (recursive=%v)", p, opts.Recursive)

	s.mu.Lock()
	var events []Event
	if opts.Recursive {
		var missing []string
		for dir := p; dir != ""; dir = pathutil.Parent(dir) {
			content, ok := s.entries[dir]
			if ok && content != nil {
				s.mu.Unlock()
				return NewError(OpMkdir, dir, ErrNotADirectory)
			}
			if !ok {
				missing = append(missing, dir)
			}
		}
		for i := len(missing) - 1; i >= 0; i-- {
			s.entries[missing[i]] = nil
			events = append(events, Event{Op: EventCreate, Path: missing[i], Dir: true})
		}
	} else {
		if _, ok := s.entries[p]; ok {
			s.mu.Unlock()
			return NewError(OpMkdir, p, ErrAlreadyExists)
		}
		if err := s.checkParents(OpMkdir, p); err != nil {
			s.mu.Unlock()
			return err
		}
		s.entries[p] = nil
		events = append(events, Event{Op: EventCreate, Path: p, Dir: true})
	}
	s.mu.Unlock()

	s.dispatch(events)
	return nil
}

// Read returns the content of the file at path.
func (s *Store) Read(path string) (string, error) {
	p := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.entries[p]
	if !ok {
		return "", NewError(OpRead, p, ErrNotFound)
	}
	if content == nil {
		return "", NewError(OpRead, p, ErrNotAFile)
	}
	return *content, nil
}

// descendants returns every stored path strictly inside p, sorted.
// Caller must hold the lock.
func (s *Store) descendants(p string) []string {
	var out []string
	for k := range s.entries {
		if pathutil.IsDescendant(k, p) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Rename moves from and its whole subtree to to. Either every path moves or
// none does.
func (s *Store) Rename(from, to string) error {
	src, dst := pathutil.Normalize(from), pathutil.Normalize(to)
	storeLogger.Debug("Rename %q -> %q", src, dst)

	s.mu.Lock()
	if src == "" || dst == "" {
		s.mu.Unlock()
		return NewError(OpRename, src, ErrInvalidPath)
	}
	if _, ok := s.entries[src]; !ok {
		s.mu.Unlock()
		return NewError(OpRename, src, ErrNotFound)
	}
	if src == dst {
		s.mu.Unlock()
		return nil
	}
	if pathutil.HasPrefix(dst, src) {
		s.mu.Unlock()
		return NewError(OpRename, dst, ErrInvalidPath)
	}
	if _, exists := s.entries[dst]; exists {
		s.mu.Unlock()
		return NewError(OpRename, dst, ErrAlreadyExists)
	}
	if err := s.checkParents(OpRename, dst); err != nil {
		s.mu.Unlock()
		return err
	}

	moved := append([]string{src}, s.descendants(src)...)
	events := make([]Event, 0, len(moved))
	next := make(map[string]*string, len(moved))
	for _, old := range moved {
		target, _ := pathutil.Rebase(old, src, dst)
		next[target] = s.entries[old]
		events = append(events, Event{Op: EventRename, Path: target, OldPath: old, Dir: s.entries[old] == nil})
	}
	for _, old := range moved {
		delete(s.entries, old)
	}
	for k, v := range next {
		s.entries[k] = v
	}
	s.mu.Unlock()

	s.dispatch(events)
	return nil
}

// Remove deletes path. Without Force a missing path is an error; without
// Recursive a directory with descendants is refused.
func (s *Store) Remove(path string, opts RemoveOptions) error {
	p := pathutil.Normalize(path)
	storeLogger.Debug("Remove %q (force=%v, recursive=%v)", p, opts.Force, opts.Recursive)

	s.mu.Lock()
	if p == "" {
		s.mu.Unlock()
		return NewError(OpRemove, p, ErrInvalidPath)
	}
	content, ok := s.entries[p]
	if !ok {
		s.mu.Unlock()
		if opts.Force {
			return nil
		}
		return NewError(OpRemove, p, ErrNotFound)
	}
	children := s.descendants(p)
	if len(children) > 0 && !opts.Recursive {
		s.mu.Unlock()
		return NewError(OpRemove, p, ErrDirectoryNotEmpty)
	}

	events := make([]Event, 0, len(children)+1)
	for i := len(children) - 1; i >= 0; i-- {
		events = append(events, Event{Op: EventRemove, Path: children[i], Dir: s.entries[children[i]] == nil})
		delete(s.entries, children[i])
	}
	events = append(events, Event{Op: EventRemove, Path: p, Dir: content == nil})
	delete(s.entries, p)
	s.mu.Unlock()

	s.dispatch(events)
	return nil
}

// children returns the immediate children of the directory p, sorted.
// Caller must hold the lock.
func (s *Store) children(op, p string) ([]string, error) {
	content, ok := s.entries[p]
	if !ok {
		return nil, NewError(op, p, ErrNotFound)
	}
	if content != nil {
		return nil, NewError(op, p, ErrNotADirectory)
	}
	var out []string
	for k := range s.entries {
		if k != "" && k != p && pathutil.Parent(k) == p {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// List returns the names of the immediate children of the directory path.
func (s *Store) List(path string) ([]string, error) {
	p := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths, err := s.children(OpList, p)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(paths))
	for i, c := range paths {
		names[i] = pathutil.Name(c)
	}
	return names, nil
}

// ListTypes returns the immediate children of path with their types.
func (s *Store) ListTypes(path string) ([]DirEntry, error) {
	p := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths, err := s.children(OpList, p)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, len(paths))
	for i, c := range paths {
		entries[i] = DirEntry{Name: pathutil.Name(c), Path: c, Type: s.typeOf(c)}
	}
	return entries, nil
}

// typeOf assumes p exists. Caller must hold the lock.
func (s *Store) typeOf(p string) string {
	if s.entries[p] == nil {
		return TypeDir
	}
	if s.types == nil {
		return "plain"
	}
	return s.types.TypeOf(p)
}

// Exists reports whether path is stored.
func (s *Store) Exists(path string) bool {
	p := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[p]
	return ok
}

// IsDir reports whether path is a stored directory.
func (s *Store) IsDir(path string) bool {
	p := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.entries[p]
	return ok && content == nil
}

// TypeOf returns "dir" for directories and the declared type for files.
func (s *Store) TypeOf(path string) (string, error) {
	p := pathutil.Normalize(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entries[p]; !ok {
		return "", NewError(OpStat, p, ErrNotFound)
	}
	return s.typeOf(p), nil
}

// Paths returns every stored path except the root, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Files returns the path of every stored file, sorted.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k, v := range s.entries {
		if v != nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot copies every file into a path to source map.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make(map[string]string)
	for k, v := range s.entries {
		if v != nil {
			files[k] = *v
		}
	}
	return files
}

// Load writes every file of files, creating missing ancestor directories.
// Observers receive a single batch once all files are stored.
func (s *Store) Load(files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	storeLogger.Debug("Loading %d files", len(paths))

	s.mu.Lock()
	// Validate first so a conflicting entry leaves the store untouched.
	planned := make(map[string]bool)
	for _, raw := range paths {
		p := pathutil.Normalize(raw)
		if p == "" {
			s.mu.Unlock()
			return NewError(OpWrite, p, ErrNotAFile)
		}
		if content, ok := s.entries[p]; (ok && content == nil) || planned[p] {
			s.mu.Unlock()
			return NewError(OpWrite, p, ErrNotAFile)
		}
		for dir := pathutil.Parent(p); dir != ""; dir = pathutil.Parent(dir) {
			if content, ok := s.entries[dir]; ok && content != nil {
				s.mu.Unlock()
				return NewError(OpWrite, dir, ErrNotADirectory)
			}
			if _, isFile := files[dir]; isFile {
				s.mu.Unlock()
				return NewError(OpWrite, dir, ErrNotADirectory)
			}
			planned[dir] = true
		}
	}

	var events []Event
	for _, raw := range paths {
		p := pathutil.Normalize(raw)
		var missing []string
		for dir := pathutil.Parent(p); dir != ""; dir = pathutil.Parent(dir) {
			if _, ok := s.entries[dir]; !ok {
				missing = append(missing, dir)
			}
		}
		for i := len(missing) - 1; i >= 0; i-- {
			s.entries[missing[i]] = nil
			events = append(events, Event{Op: EventCreate, Path: missing[i], Dir: true})
		}
		content := files[raw]
		existing, ok := s.entries[p]
		switch {
		case !ok:
			events = append(events, Event{Op: EventCreate, Path: p})
		case *existing != content:
			events = append(events, Event{Op: EventWrite, Path: p})
		default:
			continue
		}
		s.entries[p] = &content
	}
	s.mu.Unlock()

	s.dispatch(events)
	return nil
}
