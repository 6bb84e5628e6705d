// Package server exposes a playground over HTTP: raw sources, published
// executables and a websocket feed of executable URL changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"playfs/internal/blob"
	"playfs/internal/extension"
	"playfs/internal/logging"
	"playfs/internal/pathutil"
	"playfs/internal/playground"
	"playfs/internal/vfs"
)

var (
	serverLogger = logging.GetLogger().WithPrefix("server")
)

const (
	// BlobRoute is where live blob objects are served.
	BlobRoute = "/_blob/"

	defaultExecWait = 2 * time.Second
	maxSourceSize   = 32 << 20
)

// Server routes HTTP requests onto a playground FileSystem.
type Server struct {
	fs       *playground.FileSystem
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	execWait time.Duration
	types    Declarations
}

// Declarations looks up downloaded type declarations by node_modules path.
type Declarations interface {
	Get(path string) (string, bool)
}

// Option configures a Server.
type Option func(*Server)

// WithExecWait bounds how long /exec and /preview wait for a pending
// transform before answering 503.
func WithExecWait(d time.Duration) Option {
	return func(s *Server) { s.execWait = d }
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// NewBlobRegistry returns a blob registry whose URLs are root-relative paths
// under BlobRoute. Executables published through it import each other by
// URLs a browser can fetch back from the Server.
func NewBlobRegistry() *blob.Registry {
	return blob.NewRegistry(BlobRoute)
}

// WithDeclarations serves d under /types/.
func WithDeclarations(d Declarations) Option {
	return func(s *Server) { s.types = d }
}

// New creates a Server for fs.
func New(fs *playground.FileSystem, opts ...Option) *Server {
	s := &Server{
		fs:  fs,
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		execWait: defaultExecWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	if prefix := fs.Blobs().Prefix(); prefix != BlobRoute && !isHTTP(prefix) {
		serverLogger.Warn("Blob prefix %q is not served; embedded executable URLs will not load in a browser", prefix)
	}

	s.mux.Handle("GET "+BlobRoute, http.StripPrefix(strings.TrimSuffix(BlobRoute, "/"), fs.Blobs()))
	s.mux.HandleFunc("GET /files/{path...}", s.getFile)
	s.mux.HandleFunc("PUT /files/{path...}", s.putFile)
	s.mux.HandleFunc("DELETE /files/{path...}", s.deleteFile)
	s.mux.HandleFunc("GET /exec/{path...}", s.exec)
	s.mux.HandleFunc("GET /preview/{path...}", s.preview)
	s.mux.HandleFunc("GET /snapshot", s.getSnapshot)
	s.mux.HandleFunc("POST /snapshot", s.postSnapshot)
	s.mux.HandleFunc("GET /ws", s.ws)
	if s.types != nil {
		s.mux.HandleFunc("GET /types/{path...}", s.getTypes)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serverLogger.Trace("%s %s", r.Method, r.URL.Path)
	s.mux.ServeHTTP(w, r)
}

// httpStatus maps store errors onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vfs.ErrAlreadyExists), errors.Is(err, vfs.ErrDirectoryNotEmpty):
		return http.StatusConflict
	case errors.Is(err, vfs.ErrInvalidPath), errors.Is(err, vfs.ErrNotAFile), errors.Is(err, vfs.ErrNotADirectory):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), httpStatus(err))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		serverLogger.Debug("Failed to encode response: %v", err)
	}
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	p := pathutil.Normalize(r.PathValue("path"))
	if s.fs.IsDir(p) {
		entries, err := s.fs.ListTypes(p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, entries)
		return
	}
	src, err := s.fs.Read(p)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, src)
}

// putFile writes the request body to the path, creating missing parent
// directories.
func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	p := pathutil.Normalize(r.PathValue("path"))
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSourceSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if parent := pathutil.Parent(p); parent != "" {
		if err := s.fs.Mkdir(parent, vfs.MkdirOptions{Recursive: true}); err != nil {
			writeError(w, err)
			return
		}
	}
	existed := s.fs.Exists(p)
	if err := s.fs.Write(p, string(body)); err != nil {
		writeError(w, err)
		return
	}
	if existed {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	p := pathutil.Normalize(r.PathValue("path"))
	q := r.URL.Query()
	opts := vfs.RemoveOptions{
		Recursive: q.Has("recursive"),
		Force:     q.Has("force"),
	}
	if err := s.fs.Remove(p, opts); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// published waits up to execWait for the executable of p.
func (s *Server) published(ctx context.Context, p string) (string, bool) {
	if url, ok := s.fs.URL(p); ok {
		return url, true
	}
	ctx, cancel := context.WithTimeout(ctx, s.execWait)
	defer cancel()
	if err := s.fs.Settle(ctx); err != nil {
		return "", false
	}
	return s.fs.URL(p)
}

func (s *Server) unavailable(w http.ResponseWriter, r *http.Request, p string) {
	if !s.fs.Exists(p) {
		http.NotFound(w, r)
		return
	}
	msg := "executable not available"
	if err := s.fs.Cache().Err(p); err != nil {
		msg = err.Error()
	}
	w.Header().Set("Retry-After", "1")
	http.Error(w, msg, http.StatusServiceUnavailable)
}

// location maps an object URL onto the route it is served from.
func (s *Server) location(url string) string {
	if isHTTP(url) {
		return url
	}
	return BlobRoute + strings.TrimPrefix(url, s.fs.Blobs().Prefix())
}

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func (s *Server) exec(w http.ResponseWriter, r *http.Request) {
	p := pathutil.Normalize(r.PathValue("path"))
	url, ok := s.published(r.Context(), p)
	if !ok {
		s.unavailable(w, r, p)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, s.location(url), http.StatusTemporaryRedirect)
}

// preview serves the transformed output of a path in place.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	p := pathutil.Normalize(r.PathValue("path"))
	if p == "" || s.fs.IsDir(p) {
		p = pathutil.Join(p, "index.html")
	}
	if _, ok := s.published(r.Context(), p); !ok {
		s.unavailable(w, r, p)
		return
	}
	out, ok := s.fs.Transformed(p)
	if !ok {
		s.unavailable(w, r, p)
		return
	}
	w.Header().Set("Content-Type", extension.MIMEType(s.fs.Extensions().TypeOf(p)))
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, out)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.fs.Snapshot())
}

// postSnapshot loads a {path: source} object into the store.
func (s *Server) postSnapshot(w http.ResponseWriter, r *http.Request) {
	var files map[string]string
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSourceSize))
	if err := dec.Decode(&files); err != nil {
		http.Error(w, "invalid snapshot: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.fs.Load(files); err != nil {
		writeError(w, err)
		return
	}
	serverLogger.Info("Loaded snapshot with %d files", len(files))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTypes(w http.ResponseWriter, r *http.Request) {
	p := pathutil.Normalize(r.PathValue("path"))
	src, ok := s.types.Get(p)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(p, ".json") {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	io.WriteString(w, src)
}
