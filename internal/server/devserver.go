// Package server serves the destination directory to browsers during
// development: static files, a single-page-app fallback for navigational
// routes, live-reload snippet injection and permissive CORS.
package server

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"

	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/types"
	"github.com/conneroisu/devloop/internal/workspace"
)

// RootDocument is served for unmatched navigational routes.
const RootDocument = "index.html"

// StatusPath serves the group status page.
const StatusPath = "/_devloop/status"

// DevServer serves a workspace over HTTP.
type DevServer struct {
	ws     *workspace.Workspace
	status types.StatusReporter
	logger logging.Logger

	mu      sync.RWMutex
	snippet string

	*Listener
}

// Options configures a DevServer.
type Options struct {
	Addr    string
	Snippet string
	Status  types.StatusReporter
	Logger  logging.Logger
}

// NewDevServer creates a dev server for ws.
func NewDevServer(ws *workspace.Workspace, opts Options) *DevServer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &DevServer{
		ws:      ws,
		snippet: opts.Snippet,
		status:  opts.Status,
		logger:  logger.WithComponent("server"),
	}
	s.Listener = NewListener("server", opts.Addr, s.Routes(), logger)
	return s
}

// SetSnippet replaces the tag injected into HTML documents, for callers that
// learn the reload address only after binding it.
func (s *DevServer) SetSnippet(snippet string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snippet = snippet
}

// Snippet returns the injected tag.
func (s *DevServer) Snippet() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snippet
}

// Routes returns the HTTP handler.
func (s *DevServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(CORS)

	r.Get(StatusPath, s.handleStatus)
	r.Get("/*", s.handleStatic)
	r.Head("/*", s.handleStatic)

	return r
}

// CORS allows every origin and answers preflight requests.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *DevServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String())
	})
}

func (s *DevServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)

	target, info, ok := s.lookup(name)
	if !ok {
		if !isNavigational(name) {
			http.NotFound(w, r)
			return
		}
		target, info, ok = s.lookup("/" + RootDocument)
		if !ok {
			http.NotFound(w, r)
			return
		}
	}

	if isHTML(target) {
		s.serveHTML(w, r, target, info)
		return
	}

	f, err := s.ws.Fs().Open(target)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// lookup resolves a URL path to a regular file under the workspace,
// following directory index documents.
func (s *DevServer) lookup(name string) (string, os.FileInfo, bool) {
	target := filepath.Join(s.ws.Root(), filepath.FromSlash(name))

	info, err := s.ws.Fs().Stat(target)
	if err != nil {
		return "", nil, false
	}
	if info.IsDir() {
		target = filepath.Join(target, RootDocument)
		if info, err = s.ws.Fs().Stat(target); err != nil || info.IsDir() {
			return "", nil, false
		}
	}
	return target, info, true
}

func (s *DevServer) serveHTML(w http.ResponseWriter, r *http.Request, target string, info os.FileInfo) {
	doc, err := afero.ReadFile(s.ws.Fs(), target)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	body := InjectSnippet(doc, s.Snippet())

	// The ETag covers the injected document; the file's mtime does not
	// change when the snippet does.
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", fmt.Sprintf(`"%016x"`, xxhash.Sum64(body)))
	http.ServeContent(w, r, info.Name(), time.Time{}, bytes.NewReader(body))
}

// isNavigational reports whether a missing path should fall back to the root
// document. Paths with a non-document extension are asset requests.
func isNavigational(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == "" || ext == ".html" || ext == ".htm"
}

func isHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}
