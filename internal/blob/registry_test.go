package blob

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRevoke(t *testing.T) {
	r := NewRegistry("")
	url := r.CreateObjectURL([]byte("export const x = 1"), "text/javascript")
	require.True(t, strings.HasPrefix(url, DefaultPrefix))

	data, mime, ok := r.Lookup(url)
	require.True(t, ok)
	assert.Equal(t, "export const x = 1", string(data))
	assert.Equal(t, "text/javascript", mime)
	assert.Equal(t, 1, r.Live())

	r.RevokeObjectURL(url)
	r.RevokeObjectURL(url)
	assert.False(t, r.IsLive(url))
	assert.Equal(t, Stats{Created: 1, Revoked: 1, Live: 0}, r.Stats())
}

func TestURLsAreUnique(t *testing.T) {
	r := NewRegistry("blob:test/")
	a := r.CreateObjectURL([]byte("same"), "text/plain")
	b := r.CreateObjectURL([]byte("same"), "text/plain")
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Live())
}

func TestPayloadIsCopied(t *testing.T) {
	r := NewRegistry("")
	buf := []byte("abc")
	url := r.CreateObjectURL(buf, "text/plain")
	buf[0] = 'x'
	data, _, _ := r.Lookup(url)
	assert.Equal(t, "abc", string(data))
}

func TestForeignURLIgnored(t *testing.T) {
	r := NewRegistry("")
	url := r.CreateObjectURL([]byte("a"), "text/plain")
	r.RevokeObjectURL("https://example.com/" + strings.TrimPrefix(url, DefaultPrefix))
	assert.True(t, r.IsLive(url))
}

func TestClose(t *testing.T) {
	r := NewRegistry("")
	r.CreateObjectURL([]byte("a"), "text/plain")
	r.CreateObjectURL([]byte("b"), "text/plain")
	r.Close()
	assert.Equal(t, Stats{Created: 2, Revoked: 2, Live: 0}, r.Stats())
}

func TestServeHTTP(t *testing.T) {
	r := NewRegistry("")
	url := r.CreateObjectURL([]byte("body{}"), "text/css; charset=utf-8")
	id := strings.TrimPrefix(url, DefaultPrefix)

	srv := httptest.NewServer(http.StripPrefix("/_blob", r))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/_blob/" + id)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/css; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "body{}", string(body))

	r.RevokeObjectURL(url)
	resp, err = http.Get(srv.URL + "/_blob/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
