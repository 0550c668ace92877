// Package server exposes leak history and detector counters over HTTP.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/report"
	"github.com/go-drift/leakcheck/pkg/report/store"
)

// History is the read side of the report store.
type History interface {
	List(ctx context.Context, f store.Filter) ([]report.Record, error)
	Get(ctx context.Context, id string) (report.Record, error)
	CountByType(ctx context.Context) ([]store.TypeCount, error)
}

// StatsSource reports detector counters. *leakcheck.Detector implements it.
type StatsSource interface {
	Stats() leakcheck.Stats
}

// Handler serves the debug API.
type Handler struct {
	history History
	stats   StatsSource
	logger  *slog.Logger
}

// NewHandler creates a handler. Either source may be nil; the matching
// routes then answer 404.
func NewHandler(history History, stats StatsSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{history: history, stats: stats, logger: logger}
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Route("/leaks", func(r chi.Router) {
		r.Get("/", h.ListLeaks)
		r.Get("/types", h.LeakTypes)
		r.Get("/{id}", h.GetLeak)
	})
}

// Router returns a chi router with the API and standard middleware.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	h.RegisterRoutes(r)
	return r
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ListResponse struct {
	Reports []report.Record `json:"reports"`
	Count   int             `json:"count"`
}

type StatsResponse struct {
	Detector *leakcheck.Stats   `json:"detector,omitempty"`
	Types    []store.TypeCount `json:"types,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if h.stats != nil {
		s := h.stats.Stats()
		resp.Detector = &s
	}
	if h.history != nil {
		types, err := h.history.CountByType(r.Context())
		if err != nil {
			h.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		resp.Types = types
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListLeaks(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no report store configured"})
		return
	}
	f, err := parseFilter(r, time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	recs, err := h.history.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []report.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Reports: recs, Count: len(recs)})
}

func (h *Handler) LeakTypes(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no report store configured"})
		return
	}
	types, err := h.history.CountByType(r.Context())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if types == nil {
		types = []store.TypeCount{}
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) GetLeak(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no report store configured"})
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.history.Get(r.Context(), id)
	if stderrors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("report %s not found", id)})
		return
	}
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// parseFilter reads app, type, limit and since. since is either an RFC 3339
// time or a duration counted back from now.
func parseFilter(r *http.Request, now time.Time) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{App: q.Get("app"), Type: q.Get("type")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", s)
		}
		f.Limit = n
	}
	if s := q.Get("since"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			f.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = t
		} else {
			return f, fmt.Errorf("invalid since %q: want a duration or RFC 3339 time", s)
		}
	}
	return f, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.logger.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Any("error", err),
	)
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Server runs the handler until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New creates a server listening on addr.
func New(addr string, h *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("debug server listening", slog.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("debug server stopped")
	return nil
}

// ListenAndRun listens on the configured address and calls Run.
func (s *Server) ListenAndRun(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	return s.Run(ctx, ln)
}
