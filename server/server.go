// Package server exposes the citation and download-link HTTP API.
//
// Information Hiding:
// - Route layout and middleware chain hidden behind Router()
// - Authentication extraction (header-based identity) encapsulated
// - Error-to-status mapping for access failures hidden in handlers
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/selasie/charon/access"
	"github.com/selasie/charon/citation"
	"github.com/selasie/charon/link"
	"github.com/selasie/charon/prefetch"
	"github.com/selasie/charon/storage"
)

// userHeader carries the authenticated user identity. Upstream auth
// (gateway or session layer) is expected to have verified it.
const userHeader = "X-User-ID"

type contextKey string

const userIDKey contextKey = "userID"

// Server wires the HTTP API over the domain services.
type Server struct {
	citations    *citation.Service
	validator    *access.Validator
	issuer       *link.Issuer
	orchestrator *prefetch.Orchestrator
	messages     storage.MessageStore
	files        storage.FileMetadataStore
	batchLimit   int
	logger       *slog.Logger

	httpServer *http.Server
}

// New creates a server. batchLimit caps how many files one batch link
// request may name.
func New(citations *citation.Service, validator *access.Validator, issuer *link.Issuer, orchestrator *prefetch.Orchestrator, messages storage.MessageStore, files storage.FileMetadataStore, batchLimit int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		citations:    citations,
		validator:    validator,
		issuer:       issuer,
		orchestrator: orchestrator,
		messages:     messages,
		files:        files,
		batchLimit:   batchLimit,
		logger:       logger,
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/agent-response", s.handleAgentResponse)
		r.Post("/agent-source-url", s.handleSourceURL)
		r.Post("/agent-source-urls/batch", s.handleSourceURLBatch)
		r.Get("/files/{userID}/{fileID}", s.handleStreamFile)
		r.Get("/files/{userID}/{fileID}/preview", s.handlePreviewFile)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// ListenAndServe starts the HTTP server on addr and blocks until it
// stops.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requireUser rejects requests without an authenticated identity and
// stashes the user id in the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
