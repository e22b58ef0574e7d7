// Package server exposes the chat pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/engine/chat"
	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/utils/logging"
)

// ChatService is what the handlers need from chat.Service.
type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
	Ingest(ctx context.Context, filename string, data []byte) ([]string, error)
}

// MemoryReader serves the inspection endpoints.
type MemoryReader interface {
	Recent(ctx context.Context, limit int) ([]model.Turn, error)
	Recall(ctx context.Context, query string, k int) ([]model.MemoryHit, error)
}

type Config struct {
	Chat           ChatService
	Memory         MemoryReader
	Logger         *slog.Logger
	MaxUploadBytes int64
}

const (
	defaultHistoryLimit   = 5
	defaultRecallK        = 3
	defaultMaxUploadBytes = 32 << 20
)

type Server struct {
	chat      ChatService
	memory    MemoryReader
	logger    *slog.Logger
	maxUpload int64
}

// New returns the router.
func New(cfg Config) http.Handler {
	s := &Server{
		chat:      cfg.Chat,
		memory:    cfg.Memory,
		logger:    cfg.Logger,
		maxUpload: cfg.MaxUploadBytes,
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Get("/health", s.health)
	r.Post("/chat", s.postChat)
	r.Post("/content", s.postContent)
	r.Get("/history", s.getHistory)
	r.Get("/recall", s.getRecall)
	return r
}

// requestLogger attaches a request-scoped logger to the context and logs
// each completed request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.With(r.Context(), s.logger)
		ctx = logging.WithAttrs(ctx, slog.String("request_id", middleware.GetReqID(ctx)))
		logger := logging.From(ctx)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, goerr.Wrap(err, "invalid request body", goerr.T(model.TagValidation)))
		return
	}

	resp, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postContent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, goerr.Wrap(err, "multipart field \"file\" is required", goerr.T(model.TagValidation)))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, goerr.Wrap(err, "failed to read upload", goerr.T(model.TagValidation)))
		return
	}

	if _, err := s.chat.Ingest(r.Context(), header.Filename, data); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "PDF content processed and stored successfully"})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	turns, err := s.memory.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) getRecall(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, r, goerr.New("query parameter q is required", goerr.T(model.TagValidation)))
		return
	}
	k, err := intParam(r, "k", defaultRecallK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	hits, err := s.memory.Recall(r.Context(), query, k)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if hits == nil {
		hits = []model.MemoryHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": hits})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, goerr.New("invalid integer parameter", goerr.V(name, raw), goerr.T(model.TagValidation))
	}
	return v, nil
}

// writeError maps validation errors to 400 and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if model.IsValidation(err) {
		status = http.StatusBadRequest
	}

	logger := logging.From(r.Context())
	if status >= 500 {
		logger.Error("request failed", slog.Any("error", err))
	} else {
		logger.Warn("bad request", slog.Any("error", err))
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Default().Error("failed to encode response", slog.Any("error", err))
	}
}
