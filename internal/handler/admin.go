package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapclass/snapclass/internal/i18n"
	"github.com/snapclass/snapclass/internal/ingest"
	"github.com/snapclass/snapclass/internal/model"
)

var errMissingUpload = errors.New("missing upload")

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeMessage(w, http.StatusBadRequest, i18n.T(r.Context(), "MissingUploads"))
		return
	}
	audioPath, err := h.saveUpload(r, "audio")
	if err == nil {
		var pdfPath string
		pdfPath, err = h.saveUpload(r, "pdf")
		if err == nil {
			h.runIngest(w, r, audioPath, pdfPath)
			return
		}
	}
	if errors.Is(err, errMissingUpload) {
		writeMessage(w, http.StatusBadRequest, i18n.T(r.Context(), "MissingUploads"))
		return
	}
	h.writeError(w, r, err)
}

// branchStatus is the per-branch outcome reported to clients. Error details
// stay in the server log.
type branchStatus struct {
	Kind   model.SourceKind `json:"kind"`
	Status model.JobStatus  `json:"status"`
}

func (h *Handler) runIngest(w http.ResponseWriter, r *http.Request, audioPath, pdfPath string) {
	rec := &ingest.Recorder{}
	res := h.ingest.Process(r.Context(), audioPath, pdfPath, rec)
	audioOut, pdfOut := res.Outputs()

	jobs := []model.ExtractionJob{res.Audio, res.Document}
	statuses := make([]branchStatus, 0, len(jobs))
	var failed []string
	for _, j := range jobs {
		statuses = append(statuses, branchStatus{Kind: j.Kind, Status: j.Status})
		if j.Status == model.JobFailed {
			failed = append(failed, string(j.Kind))
		}
	}

	success := true
	msg := i18n.T(r.Context(), "FilesProcessed")
	if err := res.Err(); err != nil {
		slog.Error("ingestion incomplete", "error", err)
		success = false
		msg = i18n.Td(r.Context(), "FilesPartiallyProcessed", map[string]any{"Sources": strings.Join(failed, ", ")})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      success,
		"message":      msg,
		"updates":      rec.Events(),
		"jobs":         statuses,
		"audio_output": audioOut,
		"pdf_output":   pdfOut,
		"audio_text":   readOr(audioOut, "Could not read audio transcription output."),
		"pdf_text":     readOr(pdfOut, "Could not read PDF extraction output."),
	})
}

// saveUpload stores a multipart file under its base name in the upload dir.
func (h *Handler) saveUpload(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, errMissingUpload)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%s: %w", field, errMissingUpload)
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(h.uploadDir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", field, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		return "", fmt.Errorf("save %s: %w", field, err)
	}
	return path, nil
}

func readOr(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return string(data)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	set, err := h.lifecycle.Generate(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   i18n.Tp(r.Context(), "QuestionsGenerated", len(set.Questions)),
		"set_id":    set.ID,
		"questions": set.Questions,
	})
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	pt, err := h.lifecycle.Publish(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        i18n.T(r.Context(), "TestPublished"),
		"set_id":         pt.SetID,
		"questions":      pt.Questions,
		"published_date": pt.PublishedDate,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.lifecycle.Status(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	report, err := h.grader.Grade(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"ai_analysis":       report.Analysis,
		"total_submissions": report.TotalSubmissions,
		"submissions":       report.Submissions,
		"graded_at":         report.GradedAt,
	})
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.subs.Questions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if qs == nil {
		qs = []model.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "questions": qs})
}

func (h *Handler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var q model.Question
	if err := decodeJSON(r, &q); err != nil {
		writeMessage(w, http.StatusBadRequest, i18n.T(r.Context(), "InvalidRequest"))
		return
	}
	if err := h.subs.AddQuestion(r.Context(), q); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": i18n.T(r.Context(), "QuestionSaved")})
}

func (h *Handler) handleScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.subs.Scores(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if scores == nil {
		scores = []model.ScoreRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "scores": scores})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := h.subs.Reset(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       i18n.Tp(r.Context(), "DataCleared", n),
		"deleted_count": n,
	})
}
