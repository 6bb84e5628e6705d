package hostsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playfs/internal/extension"
	"playfs/internal/vfs"
)

func writeHost(t *testing.T, root, rel, content string) {
	t.Helper()
	host := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(host), 0o755))
	require.NoError(t, os.WriteFile(host, []byte(content), 0o644))
}

func read(s *vfs.Store, p string) string {
	src, err := s.Read(p)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return src
}

func TestSeed(t *testing.T) {
	root := t.TempDir()
	writeHost(t, root, "index.html", "<script src=./src/main.js></script>")
	writeHost(t, root, "src/main.js", "console.log(1)")
	writeHost(t, root, ".git/HEAD", "ref: refs/heads/main")
	writeHost(t, root, "node_modules/lib/index.js", "export {}")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets", "empty"), 0o755))

	store := vfs.New(extension.NewRegistry())
	m, err := New(root, store, Options{})
	require.NoError(t, err)
	require.NoError(t, m.Seed())

	assert.Equal(t, []string{"index.html", "src/main.js"}, store.Files())
	assert.True(t, store.IsDir("assets/empty"))
	assert.False(t, store.Exists(".git"))
	assert.False(t, store.Exists("node_modules"))
	assert.Equal(t, "console.log(1)", read(store, "src/main.js"))
}

func TestNewErrors(t *testing.T) {
	root := t.TempDir()
	store := vfs.New(extension.NewRegistry())

	_, err := New(filepath.Join(root, "missing"), store, Options{})
	assert.Error(t, err)

	writeHost(t, root, "file.txt", "")
	_, err = New(filepath.Join(root, "file.txt"), store, Options{})
	assert.Error(t, err)

	_, err = New(root, store, Options{Ignore: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestFollowsHostChanges(t *testing.T) {
	root := t.TempDir()
	writeHost(t, root, "src/main.js", "v1")
	writeHost(t, root, "src/old.js", "old")

	store := vfs.New(extension.NewRegistry())
	m, err := New(root, store, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { assert.NoError(t, m.Close()) })

	require.Equal(t, "v1", read(store, "src/main.js"))

	writeHost(t, root, "src/main.js", "v2")
	require.Eventually(t, func() bool {
		return read(store, "src/main.js") == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(root, "src", "old.js")))
	require.Eventually(t, func() bool {
		return !store.Exists("src/old.js")
	}, 2*time.Second, 10*time.Millisecond)

	// A new directory is copied and watched
	writeHost(t, root, "lib/util.js", "export const x = 1")
	require.Eventually(t, func() bool {
		return read(store, "lib/util.js") == "export const x = 1"
	}, 2*time.Second, 10*time.Millisecond)

	writeHost(t, root, "lib/util.js", "export const x = 2")
	require.Eventually(t, func() bool {
		return read(store, "lib/util.js") == "export const x = 2"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Rename(filepath.Join(root, "lib"), filepath.Join(root, "pkg")))
	require.Eventually(t, func() bool {
		return !store.Exists("lib") && read(store, "pkg/util.js") == "export const x = 2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsSync(t *testing.T) {
	root := t.TempDir()
	writeHost(t, root, "a.js", "1")

	store := vfs.New(extension.NewRegistry())
	m, err := New(root, store, Options{Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	writeHost(t, root, "a.js", "2")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "1", read(store, "a.js"))
}
