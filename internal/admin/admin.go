// Package admin serves the operator HTTP surface: health, Prometheus
// metrics, a JSON view of the camlink server and a WebSocket preview feed.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/avaropoint/camlink/internal/hostinfo"
	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/metrics"
	"github.com/avaropoint/camlink/internal/security"
	"github.com/avaropoint/camlink/internal/server"
	"github.com/avaropoint/camlink/internal/store"
	"github.com/avaropoint/camlink/internal/util"
	"github.com/avaropoint/camlink/internal/version"
)

const defaultListLimit = 100

// Source is the camlink server as seen by the admin API.
type Source interface {
	Snapshot() server.Snapshot
	RearmCamera() bool
}

// Options configures the admin listener.
type Options struct {
	Addr          string
	RequireAPIKey bool
	TLS           security.TLSOptions
	// ACMEAddr serves HTTP-01 challenges in acme mode.
	ACMEAddr string
	// Volumes are the media directories reported by /api/host.
	Volumes []string
}

// Deps are the collaborators behind the routes. Store and Metrics may be
// nil; the routes that need them then answer 503 or are not mounted.
type Deps struct {
	Source  Source
	Store   store.Store
	Metrics *metrics.Collector
	Hub     *Hub
}

// Server is the admin HTTP server.
type Server struct {
	opts   Options
	deps   Deps
	router chi.Router
}

func New(opts Options, deps Deps) *Server {
	if opts.ACMEAddr == "" {
		opts.ACMEAddr = ":80"
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	s := &Server{opts: opts, deps: deps}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the preview hub, which the camlink server publishes into.
func (s *Server) Hub() *Hub { return s.deps.Hub }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	var keys security.KeyVerifier
	if s.deps.Store != nil {
		keys = s.deps.Store
	}
	auth := security.NewAuthMiddleware(keys, s.opts.RequireAPIKey && keys != nil)
	r.Group(func(r chi.Router) {
		r.Use(auth.Handler)
		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/host", s.handleHost)
			r.Get("/sessions", s.handleSessions)
			r.Get("/media", s.handleListMedia)
			r.Get("/media/{id}", s.handleGetMedia)
			r.Post("/camera/reconnect", s.handleCameraReconnect)
		})
		r.Handle("/ws/preview", s.deps.Hub)
	})
	return r
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.DebugContext(r.Context(), "http request",
			logging.Component("admin"),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "camlink server not running")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		server.Snapshot
		Viewers int `json:"preview_viewers"`
	}{s.deps.Source.Snapshot(), s.deps.Hub.Viewers()})
}

func (s *Server) handleHost(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, hostinfo.Collect(s.opts.Volumes...))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database")
		return
	}
	list, err := s.deps.Store.ListSessions(r.Context(), listLimit(r))
	if err != nil {
		logging.ErrorContext(r.Context(), "list sessions", logging.Component("admin"), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if list == nil {
		list = []*store.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database")
		return
	}
	list, err := s.deps.Store.ListMedia(r.Context(), listLimit(r))
	if err != nil {
		logging.ErrorContext(r.Context(), "list media", logging.Component("admin"), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list media")
		return
	}
	if list == nil {
		list = []*store.MediaRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no database")
		return
	}
	m, err := s.deps.Store.GetMedia(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load media")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCameraReconnect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "camlink server not running")
		return
	}
	rearmed := s.deps.Source.RearmCamera()
	logging.InfoContext(r.Context(), "camera reconnect requested", logging.Component("admin"), "rearmed", rearmed)
	writeJSON(w, http.StatusAccepted, map[string]bool{"rearmed": rearmed})
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	setup, err := security.LoadTLS(s.opts.TLS)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, setup)
}

// Serve runs on ln. A nil setup or one without a config serves plain HTTP.
func (s *Server) Serve(ctx context.Context, ln net.Listener, setup *security.TLSSetup) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	scheme := "http"
	if setup != nil && setup.Config != nil {
		srv.TLSConfig = setup.Config
		scheme = "https"
	}

	var challenge *http.Server
	if setup != nil && setup.Manager != nil {
		challenge = &http.Server{
			Addr:              s.opts.ACMEAddr,
			Handler:           setup.Manager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		util.SafeGoWithName("acme-challenge", func() {
			if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("acme challenge listener failed", logging.Component("admin"), logging.Err(err))
			}
		})
	}

	errc := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			errc <- srv.ServeTLS(ln, "", "")
		} else {
			errc <- srv.Serve(ln)
		}
	}()
	logging.Info("admin listening", logging.Component("admin"), "addr", ln.Addr().String(), "scheme", scheme)

	select {
	case err := <-errc:
		s.deps.Hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.deps.Hub.Close()
	if challenge != nil {
		challenge.Shutdown(shutdownCtx) //nolint:errcheck
	}
	err := srv.Shutdown(shutdownCtx)
	<-errc
	return err
}
