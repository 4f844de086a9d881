// Package fileserver serves byte ranges of sensor files to workers over HTTP
// and fetches them on the worker side.
package fileserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHandleCache is the number of open files kept by a Server.
const DefaultHandleCache = 64

// Server answers GET /files/{name} with the bytes of root/name, honouring
// Range requests.
type Server struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	handles *lru.Cache[string, *handle]

	mu   sync.Mutex
	root string
}

func New(root string, handleCache int, logger *slog.Logger) (*Server, error) {
	if handleCache <= 0 {
		handleCache = DefaultHandleCache
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.NewWithEvict(handleCache, func(_ string, h *handle) { h.evict() })
	if err != nil {
		return nil, err
	}
	s := &Server{
		logger:  logger.With("component", "fileserver"),
		handles: cache,
		root:    root,
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /files/{name}", s.serveFile)
	return s, nil
}

func (s *Server) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// SetRoot changes the served folder. Cached handles of the old folder are
// released as they age out.
func (s *Server) SetRoot(root string) {
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Close releases every cached file.
func (s *Server) Close() { s.handles.Purge() }

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	h, err := s.acquire(filepath.Join(s.Root(), name))
	if errors.Is(err, os.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("open file", "file", name, "err", err)
		http.Error(w, "cannot open file", http.StatusInternalServerError)
		return
	}
	defer h.release()

	s.logger.Debug("serving file", "file", name, "range", r.Header.Get("Range"), "remote", r.RemoteAddr)
	http.ServeContent(w, r, name, h.info.ModTime(), io.NewSectionReader(h.f, 0, h.info.Size()))
}

// acquire returns a referenced handle for path, opening it on a cache miss.
// A handle whose file changed size on disk is reopened.
func (s *Server) acquire(path string) (*handle, error) {
	if h, ok := s.handles.Get(path); ok {
		if fi, err := os.Stat(path); err == nil && fi.Size() == h.info.Size() && fi.ModTime().Equal(h.info.ModTime()) {
			if h.retain() {
				return h, nil
			}
		}
		s.handles.Remove(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	// one reference for the caller, one for the cache
	h := &handle{f: f, info: info, refs: 2}
	if _, raced, _ := s.handles.PeekOrAdd(path, h); raced {
		// another request cached the file first; serve this one uncached
		h.refs--
	}
	return h, nil
}

// handle is an open file shared by concurrent requests. The file is closed
// once it has been evicted and the last request released it.
type handle struct {
	f    *os.File
	info os.FileInfo

	mu      sync.Mutex
	refs    int
	evicted bool
}

func (h *handle) retain() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.evicted {
		return false
	}
	h.refs++
	return true
}

func (h *handle) release() {
	h.mu.Lock()
	h.refs--
	closeNow := h.refs == 0
	h.mu.Unlock()
	if closeNow {
		h.f.Close()
	}
}

func (h *handle) evict() {
	h.mu.Lock()
	if h.evicted {
		h.mu.Unlock()
		return
	}
	h.evicted = true
	h.mu.Unlock()
	h.release()
}
