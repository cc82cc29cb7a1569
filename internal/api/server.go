package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/recall/internal/processor"
	"github.com/MikeSquared-Agency/recall/internal/reconstruct"
	"github.com/MikeSquared-Agency/recall/internal/search"
)

// maxCaptureBytes bounds one capture request (request and response bodies).
const maxCaptureBytes = 32 << 20

// Capturer stores one intercepted flow.
type Capturer interface {
	Capture(ctx context.Context, f reconstruct.Flow) (*processor.Captured, error)
}

// Searcher answers search queries. It is nil when no vector store is configured.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]search.Hit, error)
}

// Bus reports the state of the event bus connection.
type Bus interface {
	Connected() bool
}

type Server struct {
	router   *chi.Mux
	port     int
	capturer Capturer
	searcher Searcher
	bus      Bus
	logger   *slog.Logger
	http     *http.Server
}

func NewServer(port int, apiToken string, capturer Capturer, searcher Searcher, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		capturer: capturer,
		searcher: searcher,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/recall/status", s.status)
		r.Get("/search", s.search)
		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/captures", s.capture)
		})
	})

	return s
}

// SetBus attaches the event bus whose state the status endpoint reports.
func (s *Server) SetBus(b Bus) {
	s.bus = b
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware rejects requests without the given bearer token. An
// empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	nats := "disabled"
	if s.bus != nil {
		nats = "disconnected"
		if s.bus.Connected() {
			nats = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":  "recall",
		"status": "capturing",
		"search": s.searcher != nil,
		"nats":   nats,
	})
}

// capture handles POST /api/v1/captures
func (s *Server) capture(w http.ResponseWriter, r *http.Request) {
	var req reconstruct.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCaptureBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Host == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "host and path are required")
		return
	}

	captured, err := s.capturer.Capture(r.Context(), req.Flow())
	switch {
	case errors.Is(err, reconstruct.ErrUnsupportedFlow):
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unsupported flow: %s%s", req.Host, req.Path))
		return
	case err != nil:
		s.logger.Error("capture failed", "host", req.Host, "path", req.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "capture failed")
		return
	}

	writeJSON(w, http.StatusCreated, captured)
}

// search handles GET /api/v1/search?q=&k=
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	query := r.URL.Query().Get("q")
	k := search.DefaultK
	if ks := r.URL.Query().Get("k"); ks != "" {
		n, err := strconv.Atoi(ks)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = n
	}

	hits, err := s.searcher.Search(r.Context(), query, k)
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "q is required")
		return
	case err != nil:
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(hits),
		"results": hits,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
