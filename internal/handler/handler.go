package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/snapclass/snapclass/internal/grading"
	"github.com/snapclass/snapclass/internal/i18n"
	"github.com/snapclass/snapclass/internal/ingest"
	"github.com/snapclass/snapclass/internal/lifecycle"
	"github.com/snapclass/snapclass/internal/llm"
	"github.com/snapclass/snapclass/internal/submission"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	ingest    *ingest.Coordinator
	lifecycle *lifecycle.Manager
	subs      *submission.Service
	grader    *grading.Orchestrator
	uploadDir string
	validate  *validator.Validate
}

// New creates a new Handler. Uploaded lecture files are stored in uploadDir.
func New(c *ingest.Coordinator, m *lifecycle.Manager, s *submission.Service, g *grading.Orchestrator, uploadDir string) *Handler {
	return &Handler{
		ingest:    c,
		lifecycle: m,
		subs:      s,
		grader:    g,
		uploadDir: uploadDir,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/test", h.handleTest)
	r.Post("/api/submit", h.handleSubmit)

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/ingest", h.handleIngest)
		r.Post("/generate", h.handleGenerate)
		r.Post("/publish", h.handlePublish)
		r.Get("/status", h.handleStatus)
		r.Get("/analysis", h.handleAnalysis)
		r.Get("/questions", h.handleListQuestions)
		r.Post("/questions", h.handleAddQuestion)
		r.Get("/scores", h.handleScores)
		r.Post("/clear", h.handleClear)
	})
}

func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.lifecycle.ActiveTest(r.Context())
	if errors.Is(err, lifecycle.ErrNotPublished) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"test_available": false,
			"questions":      []string{},
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"test_available": true,
		"set_id":         test.SetID,
		"questions":      test.Questions,
		"published_date": test.PublishedDate,
	})
}

type submitRequest struct {
	Name    string   `json:"name" validate:"max=200"`
	Answers []string `json:"answers" validate:"required"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.subs.Submit(r.Context(), req.Name, req.Answers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": i18n.Td(r.Context(), "SubmissionScored", map[string]any{"Score": res.Score, "Total": res.Total}),
		"score":   res.Score,
		"total":   res.Total,
	})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(r, v); err != nil {
		writeMessage(w, http.StatusBadRequest, i18n.T(r.Context(), "InvalidRequest"))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeMessage(w, http.StatusBadRequest, i18n.T(r.Context(), "InvalidRequest"))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}

// writeError maps core errors to a status and a localized message. Details
// go to the log, never to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, lifecycle.ErrNotGenerated):
		writeMessage(w, http.StatusConflict, i18n.T(ctx, "NoGeneratedQuestions"))
	case errors.Is(err, lifecycle.ErrNotPublished):
		writeMessage(w, http.StatusConflict, i18n.T(ctx, "NoPublishedTest"))
	case errors.Is(err, grading.ErrNoSubmissions):
		writeMessage(w, http.StatusConflict, i18n.T(ctx, "NoSubmissions"))
	case errors.Is(err, ingest.ErrNoReferences):
		writeMessage(w, http.StatusConflict, i18n.T(ctx, "NoReferences"))
	case errors.Is(err, llm.ErrInferenceUnavailable):
		slog.Error("inference unavailable", "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusServiceUnavailable, i18n.T(ctx, "InferenceUnavailable"))
	case errors.As(err, &verrs):
		writeMessage(w, http.StatusBadRequest, i18n.T(ctx, "InvalidQuestion"))
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, i18n.T(ctx, "InternalError"))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": status < 400, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
