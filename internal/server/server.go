// Package server serves the output of the latest build: the rendered page
// and the PDF document of a locale, and the static assets they reference.
// It only reads the output directories and never triggers a build.
package server

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/conneroisu/trafficlight/internal/config"
	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
	"github.com/conneroisu/trafficlight/internal/logging"
	"github.com/conneroisu/trafficlight/internal/metrics"
)

// Content types of served documents.
const (
	ContentTypeHTML = "text/html; charset=utf-8"
	ContentTypePDF  = "application/pdf"
)

// Server is the read-only file server.
type Server struct {
	cfg       config.ServerConfig
	htmlRoot  string
	pdfRoot   string
	assetsDir string

	lookups  *lookupCache
	recorder metrics.Recorder
	logger   logging.Logger
	router   *chi.Mux
	now      func() time.Time

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	addr         string
	shutdownOnce sync.Once
}

// New creates a server for the outputs named by cfg. The recorder and
// logger may be nil.
func New(cfg *config.Config, recorder metrics.Recorder, logger logging.Logger) *Server {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Server{
		cfg:       cfg.Server,
		htmlRoot:  cfg.Outputs.HTML,
		pdfRoot:   cfg.Outputs.PDF,
		assetsDir: filepath.Join(cfg.Outputs.HTML, cfg.Outputs.Assets),
		lookups:   newLookupCache(cfg.Server.CacheMaxAge),
		recorder:  recorder,
		logger:    logger.WithComponent("server"),
		router:    chi.NewRouter(),
		now:       time.Now,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.observe)
	s.router.Use(middleware.Recoverer)
	if s.cfg.RateLimit > 0 {
		s.router.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}
	s.router.Use(middleware.GetHead)
	s.router.Use(SecurityMiddleware(DefaultSecurityConfig()))

	s.router.Get("/", s.handleDefault)
	s.router.Get("/pdf/{locale}", s.handleDocument)
	s.router.Get("/assets/*", s.handleAsset)
	s.router.Get("/{locale}", s.handlePage)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	return s.addr
}

// Start listens on the configured address and serves until ctx is cancelled
// or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.addr = ln.Addr().String()
	server := s.httpServer
	s.serverMutex.Unlock()

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info(ctx, "Serving", "addr", s.addr, "html", s.htmlRoot, "pdf", s.pdfRoot)

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops the server. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		s.lookups.flush()
		if server != nil {
			err = server.Shutdown(ctx)
		}
	})
	return err
}

func (s *Server) handleDefault(w http.ResponseWriter, r *http.Request) {
	s.serveLookup(w, r, s.htmlRoot, s.cfg.DefaultLocale, ".html", ContentTypeHTML)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.serveLookup(w, r, s.htmlRoot, chi.URLParam(r, "locale"), ".html", ContentTypeHTML)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	s.serveLookup(w, r, s.pdfRoot, chi.URLParam(r, "locale"), ".pdf", ContentTypePDF)
}

// handleAsset serves regular files below the assets directory. Directories
// are not listed.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	rel := path.Clean("/" + chi.URLParam(r, "*"))
	if rel == "/" {
		http.NotFound(w, r)
		return
	}

	file := filepath.Join(s.assetsDir, filepath.FromSlash(rel))
	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	s.serveFile(w, r, file, "")
}

func (s *Server) serveLookup(w http.ResponseWriter, r *http.Request, dir, locale, ext, contentType string) {
	file, err := s.lookups.find(dir, locale, ext)
	if err != nil {
		if !buildErrors.IsNotFound(err) {
			s.logger.Warn(r.Context(), err, "Lookup failed", "dir", dir, "locale", locale)
		}
		http.NotFound(w, r)
		return
	}

	s.serveFile(w, r, file, contentType)
}

// serveFile writes file with caching headers. Conditional requests are
// answered by http.ServeContent.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, file, contentType string) {
	f, err := os.Open(file)
	if err != nil {
		// removed by a build since the lookup
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	maxAge := int(s.cfg.CacheMaxAge / time.Second)

	h := w.Header()
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("ETag", ETag(info))
	h.Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	h.Set("Expires", s.now().Add(s.cfg.CacheMaxAge).UTC().Format(http.TimeFormat))

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// ETag derives an entity tag from the modification time, size and name of
// a file.
func ETag(info os.FileInfo) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(info.Name()))

	return fmt.Sprintf(`"%x-%x-%08x"`, info.ModTime().UnixNano(), info.Size(), h.Sum32())
}

// observe logs every request and counts it by route pattern and status.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.recorder.IncFileRequest(route, status)

		s.logger.Info(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
