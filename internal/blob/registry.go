// Package blob keeps immutable payloads addressable by revocable URLs.
package blob

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"playfs/internal/logging"
)

var (
	blobLogger = logging.GetLogger().WithPrefix("blob")
)

// DefaultPrefix is prepended to the id of every minted URL.
const DefaultPrefix = "blob:playfs/"

type object struct {
	data    []byte
	mime    string
	created time.Time
}

// Stats counts URLs minted and revoked over the registry's lifetime.
type Stats struct {
	Created int
	Revoked int
	Live    int
}

// Registry mints and revokes object URLs.
type Registry struct {
	prefix string

	mu      sync.RWMutex
	objects map[string]*object
	created int
	revoked int
}

// NewRegistry creates a registry whose URLs start with prefix. An empty
// prefix selects DefaultPrefix.
func NewRegistry(prefix string) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Registry{
		prefix:  prefix,
		objects: make(map[string]*object),
	}
}

// Prefix returns the URL prefix of the registry.
func (r *Registry) Prefix() string {
	return r.prefix
}

// CreateObjectURL stores a copy of data and returns a new URL for it.
func (r *Registry) CreateObjectURL(data []byte, mime string) string {
	id := uuid.NewString()
	obj := &object{
		data:    append([]byte(nil), data...),
		mime:    mime,
		created: time.Now(),
	}

	r.mu.Lock()
	r.objects[id] = obj
	r.created++
	r.mu.Unlock()

	url := r.prefix + id
	blobLogger.Trace("Created %s (%s, %d bytes)", url, mime, len(data))
	return url
}

// RevokeObjectURL releases the object behind url. Unknown or already
// revoked URLs are ignored.
func (r *Registry) RevokeObjectURL(url string) {
	id, ok := r.id(url)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[id]; !ok {
		return
	}
	delete(r.objects, id)
	r.revoked++
	blobLogger.Trace("Revoked %s", url)
}

func (r *Registry) id(url string) (string, bool) {
	if !strings.HasPrefix(url, r.prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, r.prefix), true
}

// Lookup returns the payload and MIME type of a live URL.
func (r *Registry) Lookup(url string) ([]byte, string, bool) {
	id, ok := r.id(url)
	if !ok {
		return nil, "", false
	}
	obj, ok := r.object(id)
	if !ok {
		return nil, "", false
	}
	return obj.data, obj.mime, true
}

func (r *Registry) object(id string) (*object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[id]
	return obj, ok
}

// IsLive reports whether url has been created and not revoked.
func (r *Registry) IsLive(url string) bool {
	_, _, ok := r.Lookup(url)
	return ok
}

// Live returns the number of unrevoked URLs.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Stats returns the lifetime counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Created: r.created, Revoked: r.revoked, Live: len(r.objects)}
}

// Close revokes every live URL.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked += len(r.objects)
	r.objects = make(map[string]*object)
}

// ServeHTTP serves live objects. The last path segment of the request is
// the object id, so the handler can be mounted under any route.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Path
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	obj, ok := r.object(id)
	if !ok {
		blobLogger.Debug("Request for unknown or revoked object %q", id)
		http.NotFound(w, req)
		return
	}

	w.Header().Set("Content-Type", obj.mime)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, req, "", obj.created, bytes.NewReader(obj.data))
}
