// Package exec derives executable content from stored files and publishes
// it under revocable object URLs.
//
// Every path has at most one live URL. A transform runs on its own
// goroutine whenever the file or one of the dependencies it read changes;
// only the newest run for a path may publish. While a run is in flight the
// previously published URL stays visible.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"playfs/internal/extension"
	"playfs/internal/logging"
	"playfs/internal/pathutil"
	"playfs/internal/vfs"
)

var (
	execLogger = logging.GetLogger().WithPrefix("exec")
)

// DefaultReleaseDelay is how long an unobserved entry survives before its
// URL is revoked.
const DefaultReleaseDelay = 2 * time.Second

// State is the lifecycle state of one path's executable.
type State int

const (
	Unpublished State = iota
	Transforming
	Published
	Revoked
)

func (s State) String() string {
	switch s {
	case Unpublished:
		return "unpublished"
	case Transforming:
		return "transforming"
	case Published:
		return "published"
	case Revoked:
		return "revoked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Store is the file source the cache observes.
type Store interface {
	Read(path string) (string, error)
	Subscribe(fn func([]vfs.Event)) (cancel func())
}

// URLRegistry mints and revokes object URLs.
type URLRegistry interface {
	CreateObjectURL(data []byte, mime string) string
	RevokeObjectURL(url string)
}

// Extensions selects the descriptor of a path.
type Extensions interface {
	Lookup(path string) extension.Descriptor
}

// Options configures a Cache.
type Options struct {
	// ReleaseDelay debounces the release of entries nobody observes.
	// Zero selects DefaultReleaseDelay.
	ReleaseDelay time.Duration
}

type subscriber struct {
	fn     func(url string)
	active atomic.Bool
}

type notification struct {
	sub *subscriber
	url string
}

type entry struct {
	path  string
	gen   uint64
	state State
	url   string

	output string
	mime   string
	err    error

	// deps were read by the last committed run, reading by the run in
	// flight.
	deps    map[string]struct{}
	reading map[string]struct{}

	subs    map[int]*subscriber
	release *time.Timer
	cancel  context.CancelFunc
}

// Cache owns every executable URL of a store.
type Cache struct {
	store        Store
	exts         Extensions
	urls         URLRegistry
	releaseDelay time.Duration

	ctx         context.Context
	stop        context.CancelFunc
	unsubscribe func()

	mu         sync.Mutex
	entries    map[string]*entry
	dependents map[string]map[string]struct{}
	pending    int
	idle       chan struct{}
	closed     bool
	nextSub    int
	queue      []notification

	deliver sync.Mutex
}

// New creates a cache publishing the files of store.
func New(store Store, exts Extensions, urls URLRegistry, opts Options) *Cache {
	if opts.ReleaseDelay == 0 {
		opts.ReleaseDelay = DefaultReleaseDelay
	}
	ctx, stop := context.WithCancel(context.Background())
	c := &Cache{
		store:        store,
		exts:         exts,
		urls:         urls,
		releaseDelay: opts.ReleaseDelay,
		ctx:          ctx,
		stop:         stop,
		entries:      make(map[string]*entry),
		dependents:   make(map[string]map[string]struct{}),
	}
	c.unsubscribe = store.Subscribe(c.onStoreEvents)
	execLogger.Debug("Executable cache created (release delay %v)", opts.ReleaseDelay)
	return c
}

func (c *Cache) onStoreEvents(events []vfs.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for _, ev := range events {
		if ev.Dir {
			continue
		}
		switch ev.Op {
		case vfs.EventCreate, vfs.EventWrite:
			c.touch(ev.Path)
		case vfs.EventRemove:
			c.drop(ev.Path)
		case vfs.EventRename:
			c.drop(ev.OldPath)
			c.touch(ev.Path)
		}
	}
	c.mu.Unlock()
	c.drain()
}

// touch reacts to new content at p. Caller must hold the lock.
func (c *Cache) touch(p string) {
	if e, ok := c.entries[p]; ok {
		c.schedule(e)
		return
	}
	if len(c.dependents[p]) > 0 {
		c.ensure(p)
	}
}

// drop revokes the URL of a removed path and reruns its dependents.
// Caller must hold the lock.
func (c *Cache) drop(p string) {
	if e, ok := c.entries[p]; ok {
		execLogger.Debug("Dropping executable of removed path %s", p)
		c.supersede(e)
		c.setDeps(e, nil)
		if e.url != "" {
			c.urls.RevokeObjectURL(e.url)
			e.url = ""
			c.notify(e)
		}
		e.output, e.mime, e.err = "", "", nil
		e.state = Revoked
		if len(e.subs) == 0 {
			c.forget(e)
		}
	}
	c.scheduleDependents(p)
}

// supersede invalidates the run in flight for e, if any. Caller must hold
// the lock.
func (c *Cache) supersede(e *entry) {
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	reading := e.reading
	e.reading = nil
	for p := range reading {
		c.releaseIfIdle(p)
	}
}

// ensure returns the entry of p, creating and scheduling it when needed.
// Caller must hold the lock.
func (c *Cache) ensure(p string) *entry {
	if e, ok := c.entries[p]; ok {
		return e
	}
	e := &entry{path: p, subs: make(map[int]*subscriber)}
	c.entries[p] = e
	c.schedule(e)
	c.armRelease(e)
	return e
}

// schedule starts a new generation for e. Caller must hold the lock.
func (c *Cache) schedule(e *entry) {
	c.supersede(e)
	e.state = Transforming
	e.reading = make(map[string]struct{})
	if c.pending == 0 {
		c.idle = make(chan struct{})
	}
	c.pending++

	ctx, cancel := context.WithCancel(c.ctx)
	e.cancel = cancel
	gen := e.gen
	execLogger.Trace("Scheduling %s (generation %d)", e.path, gen)
	go c.run(ctx, e, gen)
}

// scheduleDependents reruns every entry that read p, including runs still
// in flight that may have seen the old URL. Caller must hold the lock.
func (c *Cache) scheduleDependents(p string) {
	rerun := make(map[*entry]struct{})
	for d := range c.dependents[p] {
		if de, ok := c.entries[d]; ok {
			rerun[de] = struct{}{}
		}
	}
	for _, e := range c.entries {
		if _, ok := e.reading[p]; ok {
			rerun[e] = struct{}{}
		}
	}
	for e := range rerun {
		c.schedule(e)
	}
}

func (c *Cache) run(ctx context.Context, e *entry, gen uint64) {
	out, mime, err := c.transform(ctx, e, gen)
	c.finish(e, gen, out, mime, err)
}

func (c *Cache) transform(ctx context.Context, e *entry, gen uint64) (out, mime string, err error) {
	src, err := c.store.Read(e.path)
	if err != nil {
		return "", "", err
	}
	desc := c.exts.Lookup(e.path)
	defer func() {
		if r := recover(); r != nil {
			err = extension.NewTransformError(e.path, fmt.Errorf("panic: %v", r))
		}
	}()
	tc := &extension.Context{
		Path:   e.path,
		Source: src,
		Deps:   &depReader{c: c, e: e, gen: gen},
	}
	out, err = desc.Apply(ctx, tc)
	return out, extension.MIMEType(desc.Type), extension.NewTransformError(e.path, err)
}

func (c *Cache) finish(e *entry, gen uint64, out, mime string, err error) {
	c.commit(e, gen, out, mime, err)
	c.drain()

	c.mu.Lock()
	c.done()
	c.mu.Unlock()
}

func (c *Cache) commit(e *entry, gen uint64, out, mime string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != e.gen || c.closed || c.entries[e.path] != e {
		execLogger.Trace("Discarding stale result for %s (generation %d)", e.path, gen)
		return
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	reads := e.reading
	e.reading = nil
	c.setDeps(e, reads)
	e.err = err

	prev := e.url
	if err == nil && out != "" {
		if out != e.output || mime != e.mime || prev == "" {
			e.url = c.urls.CreateObjectURL([]byte(out), mime)
			if prev != "" {
				c.urls.RevokeObjectURL(prev)
			}
			execLogger.Debug("Published %s as %s", e.path, e.url)
		}
		e.output, e.mime = out, mime
		e.state = Published
	} else {
		switch {
		case err == nil:
			execLogger.Debug("Transform of %s produced no output", e.path)
		case errors.Is(err, extension.ErrUnavailable):
			execLogger.Debug("Executable of %s waits for a dependency: %v", e.path, err)
		case errors.Is(err, vfs.ErrNotFound), errors.Is(err, vfs.ErrNotAFile):
			execLogger.Debug("No source for %s: %v", e.path, err)
		default:
			execLogger.Warn("%v", err)
		}
		if prev != "" {
			c.urls.RevokeObjectURL(prev)
		}
		e.url, e.output, e.mime = "", "", ""
		e.state = Unpublished
	}

	if e.url != prev {
		c.notify(e)
		c.scheduleDependents(e.path)
	}
}

// done marks one run as finished. Caller must hold the lock.
func (c *Cache) done() {
	c.pending--
	if c.pending == 0 {
		close(c.idle)
	}
}

// setDeps replaces the dependency edges of e. Caller must hold the lock.
func (c *Cache) setDeps(e *entry, deps map[string]struct{}) {
	for old := range e.deps {
		if _, keep := deps[old]; keep {
			continue
		}
		if set := c.dependents[old]; set != nil {
			delete(set, e.path)
			if len(set) == 0 {
				delete(c.dependents, old)
			}
		}
		c.releaseIfIdle(old)
	}
	for dep := range deps {
		set := c.dependents[dep]
		if set == nil {
			set = make(map[string]struct{})
			c.dependents[dep] = set
		}
		set[e.path] = struct{}{}
	}
	e.deps = deps
}

// reaches reports whether to is reachable from from over dependency edges,
// including the reads of runs still in flight. Caller must hold the lock.
func (c *Cache) reaches(from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		e, ok := c.entries[n]
		if !ok {
			continue
		}
		for d := range e.deps {
			stack = append(stack, d)
		}
		for d := range e.reading {
			stack = append(stack, d)
		}
	}
	return false
}

// retained reports whether anything still needs e. Caller must hold the
// lock.
func (c *Cache) retained(e *entry) bool {
	if len(e.subs) > 0 || len(c.dependents[e.path]) > 0 {
		return true
	}
	for _, other := range c.entries {
		if _, ok := other.reading[e.path]; ok {
			return true
		}
	}
	return false
}

func (c *Cache) releaseIfIdle(p string) {
	if e, ok := c.entries[p]; ok && !c.retained(e) {
		c.armRelease(e)
	}
}

// armRelease (re)starts the release timer of e. Caller must hold the lock.
func (c *Cache) armRelease(e *entry) {
	if e.release != nil {
		e.release.Stop()
	}
	e.release = time.AfterFunc(c.releaseDelay, func() { c.releaseEntry(e) })
}

func (c *Cache) releaseEntry(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.entries[e.path] != e || c.retained(e) {
		return
	}
	execLogger.Debug("Releasing unobserved executable %s", e.path)
	c.supersede(e)
	if e.url != "" {
		c.urls.RevokeObjectURL(e.url)
		e.url = ""
	}
	e.state = Revoked
	c.forget(e)
	c.setDeps(e, nil)
}

// forget removes e from the cache. Caller must hold the lock.
func (c *Cache) forget(e *entry) {
	if e.release != nil {
		e.release.Stop()
		e.release = nil
	}
	if c.entries[e.path] == e {
		delete(c.entries, e.path)
	}
}

// notify queues the current URL of e for every subscriber. Caller must
// hold the lock.
func (c *Cache) notify(e *entry) {
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		c.queue = append(c.queue, notification{sub: e.subs[id], url: e.url})
	}
}

// drain delivers queued notifications in order, outside the cache lock.
// Only one goroutine delivers at a time; callbacks may call back into the
// cache.
func (c *Cache) drain() {
	for {
		if !c.deliver.TryLock() {
			return
		}
		for {
			c.mu.Lock()
			q := c.queue
			c.queue = nil
			c.mu.Unlock()
			if len(q) == 0 {
				break
			}
			for _, n := range q {
				if n.sub.active.Load() {
					n.sub.fn(n.url)
				}
			}
		}
		c.deliver.Unlock()

		c.mu.Lock()
		more := len(c.queue) > 0
		c.mu.Unlock()
		if !more {
			return
		}
	}
}

// Get returns the published URL of path.
func (c *Cache) Get(path string) (string, bool) {
	p := pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", false
	}
	e := c.ensure(p)
	return e.url, e.url != ""
}

// Subscribe calls fn with the current URL of path, then again every time
// it changes. An empty URL means nothing is published. The entry is kept
// alive until the returned cancel func is called.
func (c *Cache) Subscribe(path string, fn func(url string)) (cancel func()) {
	p := pathutil.Normalize(path)
	s := &subscriber{fn: fn}
	s.active.Store(true)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn("")
		return func() {}
	}
	e := c.ensure(p)
	if e.release != nil {
		e.release.Stop()
		e.release = nil
	}
	id := c.nextSub
	c.nextSub++
	e.subs[id] = s
	c.queue = append(c.queue, notification{sub: s, url: e.url})
	c.mu.Unlock()
	c.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			s.active.Store(false)
			delete(e.subs, id)
			if c.entries[p] == e && !c.retained(e) {
				c.armRelease(e)
			}
		})
	}
}

// Invalidate reruns the transform of path even if its inputs did not
// change. The URL only changes if the output does.
func (c *Cache) Invalidate(path string) {
	p := pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if e, ok := c.entries[p]; ok {
		c.schedule(e)
		return
	}
	c.ensure(p)
}

// Create mints a new URL for the current output of path. The URL is not
// tracked by the cache; the caller must revoke it.
func (c *Cache) Create(path string) (string, error) {
	p := pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[p]
	if !ok || e.output == "" {
		return "", fmt.Errorf("%w: %s", extension.ErrUnavailable, p)
	}
	return c.urls.CreateObjectURL([]byte(e.output), e.mime), nil
}

// Transformed returns the last published output of path.
func (c *Cache) Transformed(path string) (string, bool) {
	p := pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[p]; ok && e.output != "" {
		return e.output, true
	}
	return "", false
}

// State returns the lifecycle state of path.
func (c *Cache) State(path string) State {
	p := pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[p]; ok {
		return e.state
	}
	return Unpublished
}

// Err returns the error of the last completed transform of path.
func (c *Cache) Err(path string) error {
	p := pathutil.Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[p]; ok {
		return e.err
	}
	return nil
}

// Published returns every path with a live URL.
func (c *Cache) Published() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string)
	for p, e := range c.entries {
		if e.url != "" {
			out[p] = e.url
		}
	}
	return out
}

// Settle waits until no transform is in flight.
func (c *Cache) Settle(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.pending == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close revokes every URL and stops observing the store.
func (c *Cache) Close() {
	c.unsubscribe()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		c.supersede(e)
		if e.release != nil {
			e.release.Stop()
		}
		if e.url != "" {
			c.urls.RevokeObjectURL(e.url)
			e.url = ""
		}
		e.state = Revoked
		for _, s := range e.subs {
			s.active.Store(false)
		}
	}
	c.entries = make(map[string]*entry)
	c.dependents = make(map[string]map[string]struct{})
	c.mu.Unlock()
	c.stop()
	execLogger.Debug("Executable cache closed")
}

type depReader struct {
	c   *Cache
	e   *entry
	gen uint64
}

func (d *depReader) ResolvePath(from, rel string) string {
	return pathutil.Resolve(from, rel)
}

// ExecutableURL returns the URL of a dependency and records the edge. A
// read that would close a cycle records nothing and fails with
// ErrMissing, which leaves the specifier as written.
func (d *depReader) ExecutableURL(path string) (string, error) {
	p := pathutil.Normalize(path)
	_, readErr := d.c.store.Read(p)

	c := d.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", extension.ErrUnavailable
	}
	if readErr != nil {
		d.record(p)
		return "", fmt.Errorf("%w: %s", extension.ErrMissing, p)
	}
	if p == d.e.path {
		execLogger.Warn("%s imports itself, leaving the specifier as written", p)
		return "", fmt.Errorf("%w: %s imports itself", extension.ErrMissing, p)
	}

	target := c.ensure(p)
	if c.reaches(p, d.e.path) {
		execLogger.Warn("Import cycle between %s and %s, leaving the specifier as written", d.e.path, p)
		return "", fmt.Errorf("%w: import cycle through %s", extension.ErrMissing, p)
	}
	d.record(p)
	if target.url == "" {
		return "", fmt.Errorf("%w: %s", extension.ErrUnavailable, p)
	}
	return target.url, nil
}

// record adds a dependency edge for the run this reader belongs to.
// Caller must hold the lock.
func (d *depReader) record(p string) {
	if d.gen == d.e.gen && d.e.reading != nil {
		d.e.reading[p] = struct{}{}
	}
}
