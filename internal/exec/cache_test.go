package exec

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playfs/internal/blob"
	"playfs/internal/extension"
	"playfs/internal/vfs"
)

type harness struct {
	store *vfs.Store
	blobs *blob.Registry
	exts  *extension.Registry
	cache *Cache
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	exts := extension.NewRegistry()
	exts.Register("js", extension.Descriptor{
		Type: extension.TypeJavaScript,
		Transform: func(ctx context.Context, tc *extension.Context) (string, error) {
			return extension.RewriteModule(tc, tc.Source, "")
		},
	})
	h := &harness{
		store: vfs.New(exts),
		blobs: blob.NewRegistry(""),
		exts:  exts,
	}
	h.cache = New(h.store, exts, h.blobs, Options{ReleaseDelay: delay})
	t.Cleanup(h.cache.Close)
	return h
}

func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.cache.Settle(ctx))
}

func (h *harness) body(t *testing.T, url string) string {
	t.Helper()
	data, _, ok := h.blobs.Lookup(url)
	require.True(t, ok, "url %s is not live", url)
	return string(data)
}

// urls collects the values delivered to a subscriber.
type urls struct {
	mu   sync.Mutex
	seen []string
}

func (u *urls) add(url string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.seen = append(u.seen, url)
}

func (u *urls) last() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.seen) == 0 {
		return ""
	}
	return u.seen[len(u.seen)-1]
}

func TestPublishesOneLiveURLPerPath(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("note.txt", "v0"))

	got := &urls{}
	cancel := h.cache.Subscribe("note.txt", got.add)
	defer cancel()
	h.settle(t)

	first := got.last()
	require.NotEmpty(t, first)
	assert.Equal(t, "v0", h.body(t, first))

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.store.Write("note.txt", fmt.Sprintf("v%d", i)))
		h.settle(t)
		stats := h.blobs.Stats()
		assert.Equal(t, stats.Revoked+1, stats.Created, "after edit %d", i)
		assert.Equal(t, 1, stats.Live)
	}

	url, ok := h.cache.Get("note.txt")
	require.True(t, ok)
	assert.Equal(t, url, got.last())
	assert.Equal(t, "v5", h.body(t, url))
	assert.False(t, h.blobs.IsLive(first))
	assert.Equal(t, Published, h.cache.State("note.txt"))

	mime := func() string { _, m, _ := h.blobs.Lookup(url); return m }()
	assert.Equal(t, extension.MIMEType(extension.TypePlain), mime)
}

func TestStaleTransformIsDiscarded(t *testing.T) {
	h := newHarness(t, time.Minute)
	started := make(chan string, 4)
	gate := make(chan struct{})
	h.exts.Register("slow", extension.Descriptor{
		Type: extension.TypePlain,
		Transform: func(ctx context.Context, tc *extension.Context) (string, error) {
			started <- tc.Source
			if tc.Source == "A" {
				<-gate
			}
			return "out:" + tc.Source, nil
		},
	})

	require.NoError(t, h.store.Write("foo.slow", "A"))
	got := &urls{}
	defer h.cache.Subscribe("foo.slow", got.add)()
	require.Equal(t, "A", <-started)

	require.NoError(t, h.store.Write("foo.slow", "B"))
	require.Equal(t, "B", <-started)
	require.Eventually(t, func() bool { return got.last() != "" }, 5*time.Second, time.Millisecond)

	close(gate)
	h.settle(t)

	url, ok := h.cache.Get("foo.slow")
	require.True(t, ok)
	assert.Equal(t, "out:B", h.body(t, url))
	out, _ := h.cache.Transformed("foo.slow")
	assert.Equal(t, "out:B", out)
	assert.Equal(t, 1, h.blobs.Live())
	for _, u := range got.seen {
		if u != "" && h.blobs.IsLive(u) {
			assert.Equal(t, url, u)
		}
	}
}

func TestPendingKeepsPreviousURL(t *testing.T) {
	h := newHarness(t, time.Minute)
	gate := make(chan struct{})
	h.exts.Register("gated", extension.Descriptor{
		Transform: func(ctx context.Context, tc *extension.Context) (string, error) {
			if tc.Source == "wait" {
				<-gate
			}
			return tc.Source, nil
		},
	})
	require.NoError(t, h.store.Write("a.gated", "ready"))
	defer h.cache.Subscribe("a.gated", func(string) {})()
	h.settle(t)
	before, ok := h.cache.Get("a.gated")
	require.True(t, ok)

	require.NoError(t, h.store.Write("a.gated", "wait"))
	assert.Equal(t, Transforming, h.cache.State("a.gated"))
	during, ok := h.cache.Get("a.gated")
	assert.True(t, ok)
	assert.Equal(t, before, during)

	close(gate)
	h.settle(t)
	after, _ := h.cache.Get("a.gated")
	assert.NotEqual(t, before, after)
	assert.Equal(t, "wait", h.body(t, after))
}

func TestDependentRepublishesWhenDependencyChanges(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Mkdir("lib", vfs.MkdirOptions{}))
	require.NoError(t, h.store.Write("lib/util.js", "export const x = 1"))
	require.NoError(t, h.store.Write("main.js", "import { x } from './lib/util.js'\nconsole.log(x)"))

	main := &urls{}
	defer h.cache.Subscribe("main.js", main.add)()
	h.settle(t)

	utilURL, ok := h.cache.Get("lib/util.js")
	require.True(t, ok)
	firstMain := main.last()
	require.NotEmpty(t, firstMain)
	assert.Equal(t, "import { x } from '"+utilURL+"'\nconsole.log(x)", h.body(t, firstMain))

	require.NoError(t, h.store.Write("lib/util.js", "export const x = 2"))
	h.settle(t)

	newUtil, ok := h.cache.Get("lib/util.js")
	require.True(t, ok)
	assert.NotEqual(t, utilURL, newUtil)
	assert.False(t, h.blobs.IsLive(utilURL))

	secondMain := main.last()
	assert.NotEqual(t, firstMain, secondMain)
	assert.Contains(t, h.body(t, secondMain), newUtil)
	assert.Equal(t, 2, h.blobs.Live())
}

func TestMissingDependencyIsLeftUntouchedUntilCreated(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("main.js", "import './later.js'"))
	main := &urls{}
	defer h.cache.Subscribe("main.js", main.add)()
	h.settle(t)

	require.NotEmpty(t, main.last())
	assert.Equal(t, "import './later.js'", h.body(t, main.last()))

	require.NoError(t, h.store.Write("later.js", "export {}"))
	h.settle(t)

	later, ok := h.cache.Get("later.js")
	require.True(t, ok)
	assert.Equal(t, "import '"+later+"'", h.body(t, main.last()))

	require.NoError(t, h.store.Remove("later.js", vfs.RemoveOptions{}))
	assert.False(t, h.blobs.IsLive(later))
	h.settle(t)
	assert.Equal(t, "import './later.js'", h.body(t, main.last()))
}

func TestFailedTransformPublishesNothing(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.exts.Register("fail", extension.Descriptor{
		Transform: func(ctx context.Context, tc *extension.Context) (string, error) {
			switch tc.Source {
			case "bad":
				return "", errors.New("syntax error")
			case "panic":
				panic("boom")
			}
			return tc.Source, nil
		},
	})
	require.NoError(t, h.store.Write("x.fail", "good"))
	got := &urls{}
	defer h.cache.Subscribe("x.fail", got.add)()
	h.settle(t)
	good := got.last()
	require.NotEmpty(t, good)

	for _, src := range []string{"bad", "panic"} {
		t.Run(src, func(t *testing.T) {
			require.NoError(t, h.store.Write("x.fail", src))
			h.settle(t)
			_, ok := h.cache.Get("x.fail")
			assert.False(t, ok)
			assert.Equal(t, Unpublished, h.cache.State("x.fail"))
			var te *extension.TransformError
			require.True(t, errors.As(h.cache.Err("x.fail"), &te))
			assert.Equal(t, "x.fail", te.Path)
			assert.Equal(t, "", got.last())
			assert.False(t, h.blobs.IsLive(good))
		})
	}

	require.NoError(t, h.store.Write("x.fail", "fixed"))
	h.settle(t)
	url, ok := h.cache.Get("x.fail")
	require.True(t, ok)
	assert.Equal(t, "fixed", h.body(t, url))
	assert.NoError(t, h.cache.Err("x.fail"))
}

func TestEmptyOutputPublishesNothing(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("empty.txt", ""))
	defer h.cache.Subscribe("empty.txt", func(string) {})()
	h.settle(t)
	_, ok := h.cache.Get("empty.txt")
	assert.False(t, ok)
	assert.Equal(t, 0, h.blobs.Live())
}

func TestRemoveRevokesSynchronously(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("gone.js", "export {}"))
	got := &urls{}
	defer h.cache.Subscribe("gone.js", got.add)()
	h.settle(t)
	url := got.last()
	require.NotEmpty(t, url)

	require.NoError(t, h.store.Remove("gone.js", vfs.RemoveOptions{}))
	assert.False(t, h.blobs.IsLive(url))
	assert.Equal(t, "", got.last())
	assert.Equal(t, Revoked, h.cache.State("gone.js"))

	require.NoError(t, h.store.Write("gone.js", "export const back = true"))
	h.settle(t)
	assert.NotEmpty(t, got.last())
}

func TestRenameMovesExecutable(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("old.js", "export {}"))
	old := &urls{}
	defer h.cache.Subscribe("old.js", old.add)()
	renamed := &urls{}
	defer h.cache.Subscribe("new.js", renamed.add)()
	h.settle(t)
	require.NotEmpty(t, old.last())
	require.Empty(t, renamed.last())

	first := old.last()
	require.NoError(t, h.store.Rename("old.js", "new.js"))
	assert.False(t, h.blobs.IsLive(first))
	h.settle(t)
	assert.Empty(t, old.last())
	assert.NotEmpty(t, renamed.last())
}

func TestReleaseIsDebounced(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	require.NoError(t, h.store.Write("page.js", "export {}"))

	cancel := h.cache.Subscribe("page.js", func(string) {})
	h.settle(t)
	url, ok := h.cache.Get("page.js")
	require.True(t, ok)

	cancel()
	again := h.cache.Subscribe("page.js", func(string) {})
	time.Sleep(120 * time.Millisecond)
	assert.True(t, h.blobs.IsLive(url), "re-subscribing within the delay keeps the URL")

	again()
	require.Eventually(t, func() bool { return h.blobs.Live() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, Unpublished, h.cache.State("page.js"))
}

func TestDependencyIsRetainedByDependent(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	require.NoError(t, h.store.Write("dep.js", "export {}"))
	require.NoError(t, h.store.Write("app.js", "import './dep.js'"))
	defer h.cache.Subscribe("app.js", func(string) {})()
	h.settle(t)

	dep, ok := h.cache.Get("dep.js")
	require.True(t, ok)
	time.Sleep(100 * time.Millisecond)
	assert.True(t, h.blobs.IsLive(dep))
}

var blobRef = regexp.MustCompile(`blob:playfs/[0-9a-f-]+`)

// assertLinksLive fails when a published body references a revoked URL.
func (h *harness) assertLinksLive(t *testing.T) {
	t.Helper()
	for p, url := range h.cache.Published() {
		for _, ref := range blobRef.FindAllString(h.body(t, url), -1) {
			assert.True(t, h.blobs.IsLive(ref), "%s links revoked %s", p, ref)
		}
	}
}

func TestImportCycleSettles(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("a.js", "import './b.js'\nexport const a = 1"))
	require.NoError(t, h.store.Write("b.js", "import './a.js'\nexport const b = 1"))

	defer h.cache.Subscribe("a.js", func(string) {})()
	defer h.cache.Subscribe("b.js", func(string) {})()
	h.settle(t)

	a, okA := h.cache.Get("a.js")
	b, okB := h.cache.Get("b.js")
	require.True(t, okA)
	require.True(t, okB)
	assert.Equal(t, 2, h.blobs.Live())

	// One side links the other, the closing import is left as written.
	bodyA, bodyB := h.body(t, a), h.body(t, b)
	linked := strings.Contains(bodyA, b) && strings.Contains(bodyB, "'./a.js'") ||
		strings.Contains(bodyB, a) && strings.Contains(bodyA, "'./b.js'")
	assert.True(t, linked, "a=%q b=%q", bodyA, bodyB)
	h.assertLinksLive(t)

	require.NoError(t, h.store.Write("a.js", "import './b.js'\nexport const a = 2"))
	h.settle(t)
	h.assertLinksLive(t)

	require.NoError(t, h.store.Write("b.js", "import './a.js'\nexport const b = 2"))
	h.settle(t)
	h.assertLinksLive(t)
	assert.Equal(t, 2, h.blobs.Live())
}

func TestSelfImportSettles(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("self.js", "import './self.js'"))
	defer h.cache.Subscribe("self.js", func(string) {})()
	h.settle(t)
	url, ok := h.cache.Get("self.js")
	require.True(t, ok)
	assert.Equal(t, "import './self.js'", h.body(t, url))

	require.NoError(t, h.store.Write("self.js", "import './self.js'\nexport {}"))
	h.settle(t)
	url, ok = h.cache.Get("self.js")
	require.True(t, ok)
	assert.Equal(t, "import './self.js'\nexport {}", h.body(t, url))
}

func TestInvalidateKeepsURLForSameOutput(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("same.js", "export {}"))
	defer h.cache.Subscribe("same.js", func(string) {})()
	h.settle(t)
	before, _ := h.cache.Get("same.js")

	h.cache.Invalidate("same.js")
	h.settle(t)
	after, _ := h.cache.Get("same.js")
	assert.Equal(t, before, after)
	assert.Equal(t, 1, h.blobs.Stats().Created)
}

func TestCreateMintsUnmanagedURL(t *testing.T) {
	h := newHarness(t, time.Minute)
	_, err := h.cache.Create("nothing.js")
	require.ErrorIs(t, err, extension.ErrUnavailable)

	require.NoError(t, h.store.Write("frame.js", "export {}"))
	defer h.cache.Subscribe("frame.js", func(string) {})()
	h.settle(t)
	cached, _ := h.cache.Get("frame.js")

	fresh, err := h.cache.Create("frame.js")
	require.NoError(t, err)
	assert.NotEqual(t, cached, fresh)
	assert.Equal(t, h.body(t, cached), h.body(t, fresh))

	h.blobs.RevokeObjectURL(fresh)
	assert.True(t, h.blobs.IsLive(cached))
}

func TestCloseRevokesEverything(t *testing.T) {
	h := newHarness(t, time.Minute)
	require.NoError(t, h.store.Write("a.js", "export {}"))
	require.NoError(t, h.store.Write("b.js", "export {}"))
	h.cache.Subscribe("a.js", func(string) {})
	h.cache.Subscribe("b.js", func(string) {})
	h.settle(t)
	require.Equal(t, 2, h.blobs.Live())

	h.cache.Close()
	assert.Equal(t, 0, h.blobs.Live())
	assert.Empty(t, h.cache.Published())
}
