package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/Lllllllleong/documentcapture/internal/observability/metrics"
	"github.com/Lllllllleong/documentcapture/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options configures the HTTP surface.
type Options struct {
	MaxUploadBytes int64
	Metrics        *metrics.CaptureMetrics
}

// Server is the HTTP view over the upload registry.
type Server struct {
	registry     *services.Registry
	conversation *services.Conversation
	exporter     *services.Exporter
	opts         Options
	now          func() time.Time
}

func NewServer(registry *services.Registry, conversation *services.Conversation, exporter *services.Exporter, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	return &Server{
		registry:     registry,
		conversation: conversation,
		exporter:     exporter,
		opts:         opts,
		now:          time.Now,
	}
}

// Router returns the handler serving every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/uploads", s.handleList)
		r.Post("/uploads", s.handleIntake)
		r.Delete("/uploads", s.handleClearAll)
		r.Post("/uploads/capture", s.handleCapture)

		r.Route("/uploads/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleClear)
			r.Get("/text", s.handleText)
			r.Get("/document", s.handleDocument)
			r.Get("/tables", s.handleTables)
			r.Get("/chat", s.handleTranscript)
			r.Post("/chat", s.handleChat)
		})

		r.Post("/process", s.handleProcess)
		r.Post("/chat/document", s.handleChatDocument)
		r.Get("/export", s.handleExport)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrAlreadyProcessing):
		status = http.StatusConflict
	case errors.Is(err, services.ErrNothingPending), errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrEmptyExport):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrRecordNotFound), errors.Is(err, services.ErrNoTables):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrNotExtracted):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed.", "error", err)
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: message})
}

func writeDownload(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write download.", "filename", filename, "error", err)
	}
}
