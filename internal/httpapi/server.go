// Package httpapi implements the HTTP/SSE surface (spec.md §6.1,
// §6.2): health/stats/ask/ask-stream/rebuild_db, bound to loopback,
// grounded on fbrzx-airplane-chat's chi router construction and
// writeJSON/writeError handler idiom. That teacher package has no SSE
// surface at all, so /ask/stream's event framing is new, built in the
// same handler style rather than adapted from an existing file.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/obsidianrag/obsidianrag/internal/errcat"
	"github.com/obsidianrag/obsidianrag/internal/index"
	"github.com/obsidianrag/obsidianrag/internal/qa"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

const (
	healthTimeout = 2 * time.Second
	statsTimeout  = 10 * time.Second
)

// Config wires a Server to the components it fronts.
type Config struct {
	Orchestrator *qa.Orchestrator
	Indexer      *index.Indexer
	VectorStore  store.VectorStore
	Manifest     *store.Manifest
	VaultPath    string
	Model        string
	Version      string
}

// Server is the HTTP/SSE surface. It satisfies http.Handler.
type Server struct {
	cfg    Config
	router http.Handler
	logger *slog.Logger
}

// New builds a Server with its full middleware and route table.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s := &Server{cfg: cfg, router: mux, logger: logger}

	mux.Method(http.MethodGet, "/health", http.TimeoutHandler(http.HandlerFunc(s.handleHealth), healthTimeout, `{"message":"health check timed out","category":"timeout"}`))
	mux.Method(http.MethodGet, "/stats", http.TimeoutHandler(http.HandlerFunc(s.handleStats), statsTimeout, `{"message":"stats timed out","category":"timeout"}`))
	mux.Post("/ask", s.handleAsk)
	mux.Post("/ask/stream", s.handleAskStream)
	mux.Post("/rebuild_db", s.handleRebuild)

	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Model   string `json:"model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.cfg.Version, Model: s.cfg.Model})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := computeStats(s.cfg.VaultPath, s.cfg.Manifest, s.cfg.VectorStore)
	writeJSON(w, http.StatusOK, stats)
}

type askRequest struct {
	Text string `json:"text"`
}

type askResponse struct {
	Question    string      `json:"question"`
	Result      string      `json:"result"`
	Sources     []qa.Source `json:"sources"`
	ProcessTime float64     `json:"process_time"`
	SessionID   string      `json:"session_id"`
}

func decodeAskRequest(r *http.Request) (string, error) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", fmt.Errorf("decode request body: %w", err)
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return "", errors.New("text must not be empty")
	}
	return req.Text, nil
}

// handleAsk drains one orchestrator session fully before responding,
// the synchronous counterpart to handleAskStream (spec.md §6.1).
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	question, err := decodeAskRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errcat.MalformedRequest, err)
		return
	}

	sessionID := uuid.NewString()
	start := time.Now()

	var result strings.Builder
	var sources []qa.Source
	var failure *qa.ErrorPayload

	for event := range s.cfg.Orchestrator.Ask(r.Context(), sessionID, question) {
		switch e := event.Payload.(type) {
		case qa.TokenPayload:
			result.WriteString(e.Content)
		case qa.SourcesPayload:
			sources = e.Sources
		case qa.ErrorPayload:
			failure = &e
		}
	}

	if failure != nil {
		category := errcat.Category(failure.Category)
		writeError(w, category.HTTPStatus(), category, errors.New(failure.Message))
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Question:    question,
		Result:      result.String(),
		Sources:     sources,
		ProcessTime: time.Since(start).Seconds(),
		SessionID:   sessionID,
	})
}

// handleAskStream forwards every orchestrator event as an SSE frame
// as soon as it is produced (spec.md §6.2); no event is buffered
// beyond the single value in flight.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	question, err := decodeAskRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errcat.MalformedRequest, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errcat.Category("streaming_unsupported"), err)
		return
	}

	sessionID := uuid.NewString()
	for event := range s.cfg.Orchestrator.Ask(r.Context(), sessionID, question) {
		if err := sse.write(string(event.Kind), event.Payload); err != nil {
			s.logger.Warn("ask/stream: client write failed, aborting session", "session_id", sessionID, "error", err)
			return
		}
	}
}

type rebuildResponse struct {
	Status      string `json:"status"`
	TotalChunks int    `json:"total_chunks"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Indexer.Index(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, errcat.IndexingFileFailed, err)
		return
	}

	s.logger.Info("rebuild_db completed",
		"files_walked", stats.FilesWalked,
		"files_reprocessed", stats.FilesReprocessed,
		"files_deleted", stats.FilesDeleted,
		"duration", stats.Duration)

	writeJSON(w, http.StatusOK, rebuildResponse{
		Status:      "ok",
		TotalChunks: s.cfg.VectorStore.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Message  string `json:"message"`
	Category string `json:"category"`
}

func writeError(w http.ResponseWriter, status int, category errcat.Category, err error) {
	writeJSON(w, status, errorBody{Message: err.Error(), Category: string(category)})
}
