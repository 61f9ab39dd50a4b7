package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/engine"
	"github.com/fentz26/fetchpool/internal/metrics"
	"github.com/fentz26/fetchpool/internal/models"
	"github.com/fentz26/fetchpool/internal/store"
)

// Version is reported by the health endpoint.
var Version = "dev"

// requestTimeout bounds how long a handler waits for the engine loop.
const requestTimeout = 5 * time.Second

// Server provides the HTTP API for fetchpool.
type Server struct {
	service *Service
	store   *store.Store
	metrics *metrics.Metrics
	addr    string
	server  *http.Server
	logger  *slog.Logger
}

// NewServer creates a new HTTP server. m may be nil, in which case
// /metrics answers 404.
func NewServer(service *Service, st *store.Store, m *metrics.Metrics, addr string) *Server {
	return &Server{
		service: service,
		store:   st,
		metrics: m,
		addr:    addr,
		logger:  service.logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Download endpoints
	r.HandleFunc("/downloads", s.listDownloads).Methods(http.MethodGet)
	r.HandleFunc("/downloads", s.addDownload).Methods(http.MethodPost)
	r.HandleFunc("/downloads", s.removeDownloads).Methods(http.MethodDelete)
	r.HandleFunc("/downloads/{id:[0-9]+}", s.getDownload).Methods(http.MethodGet)
	r.HandleFunc("/downloads/{id:[0-9]+}", s.removeDownload).Methods(http.MethodDelete)

	// Pool endpoints
	r.HandleFunc("/pause", s.handlePause(true)).Methods(http.MethodPost)
	r.HandleFunc("/resume", s.handlePause(false)).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	r.HandleFunc("/history", s.listHistory).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	}
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("starting fetchpool daemon", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Engine  string `json:"engine"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Engine:  "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.store.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
	}
	if err := s.service.loop.Do(ctx, func() {}); err != nil {
		resp.OK = false
		resp.Engine = err.Error()
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// --- Download Handlers ---

func (s *Server) addDownload(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	info, err := s.service.AddDownload(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) listDownloads(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	infos, err := s.service.ListDownloads(ctx, r.URL.Query().Get("tag"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if infos == nil {
		infos = []download.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) getDownload(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	info, err := s.service.GetDownload(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) removeDownload(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.service.RemoveDownload(ctx, id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": 1})
}

func (s *Server) removeDownloads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all, _ := strconv.ParseBool(q.Get("all"))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	n, err := s.service.RemoveDownloads(ctx, q.Get("tag"), all)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// --- Pool Handlers ---

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := s.service.SetPaused(ctx, paused); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
	}
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	st, err := s.service.Stats(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.service.History(models.Outcome(q.Get("outcome")), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(w)
}

// --- Helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
