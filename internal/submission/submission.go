// Package submission records student answers, keeps the admin-authored
// answer key and derives the score ledger.
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/snapclass/snapclass/internal/metrics"
	"github.com/snapclass/snapclass/internal/model"
	"github.com/snapclass/snapclass/internal/store"
)

// TestSource yields the snapshot students answer.
type TestSource interface {
	ActiveTest(ctx context.Context) (model.PublishedTest, error)
}

// Service handles submissions and the admin question store.
type Service struct {
	store    *store.Store
	tests    TestSource
	validate *validator.Validate
	now      func() time.Time

	// Directories emptied by Reset.
	OutputDir string
	UploadDir string
}

// New creates a service.
func New(st *store.Store, tests TestSource) *Service {
	return &Service{
		store:    st,
		tests:    tests,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Submit records answers to the active test, evaluates them and, when name
// is set, appends the score to the ledger. Questions and answers are paired
// by position; extra entries on either side are dropped.
func (s *Service) Submit(ctx context.Context, name string, answers []string) (model.Result, error) {
	test, err := s.tests.ActiveTest(ctx)
	if err != nil {
		return model.Result{}, err
	}

	n := min(len(test.Questions), len(answers))
	sub := model.Submission{
		StudentName: name,
		Timestamp:   s.now(),
		QA:          make([]model.QA, n),
	}
	for i := range n {
		sub.QA[i] = model.QA{Question: test.Questions[i], Answer: answers[i]}
	}
	if err := s.store.AppendSubmission(ctx, sub); err != nil {
		return model.Result{}, fmt.Errorf("save submission: %w", err)
	}
	metrics.Submissions.Inc()

	res, err := s.Evaluate(ctx, answers)
	if err != nil {
		return model.Result{}, err
	}
	if name != "" {
		if err := s.store.AppendScore(ctx, model.ScoreRecord{Name: name, Score: res.Score, Total: res.Total}); err != nil {
			return res, fmt.Errorf("save score: %w", err)
		}
	}
	slog.Info("submission received", "student", name, "score", res.Score, "total", res.Total)
	return res, nil
}

// Evaluate compares answers index by index with the admin answer key. The
// total is the number of answers given, not the size of the key.
func (s *Service) Evaluate(ctx context.Context, answers []string) (model.Result, error) {
	key, err := s.store.Questions(ctx)
	if err != nil {
		return model.Result{}, fmt.Errorf("load answer key: %w", err)
	}
	res := model.Result{Total: len(answers)}
	for i, a := range answers {
		if i < len(key) && key[i].Answer == a {
			res.Score++
		}
	}
	return res, nil
}

// AddQuestion validates and stores an admin-authored question.
func (s *Service) AddQuestion(ctx context.Context, q model.Question) error {
	if err := s.validate.Struct(q); err != nil {
		return fmt.Errorf("invalid question: %w", err)
	}
	return s.store.AppendQuestion(ctx, q)
}

func (s *Service) Questions(ctx context.Context) ([]model.Question, error) {
	return s.store.Questions(ctx)
}

func (s *Service) Scores(ctx context.Context) ([]model.ScoreRecord, error) {
	return s.store.Scores(ctx)
}

func (s *Service) Submissions(ctx context.Context) ([]model.Submission, error) {
	return s.store.Submissions(ctx)
}

// Reset clears generated questions, the published test, submissions, scores
// and ingestion state plus every file in the output and upload directories.
// The admin question store is kept. It returns the number of items removed.
func (s *Service) Reset(ctx context.Context) (int, error) {
	deleted, err := s.store.Reset(ctx, store.SessionKeys...)
	if err != nil {
		return deleted, err
	}
	for _, dir := range []string{s.OutputDir, s.UploadDir} {
		deleted += clearDir(dir)
	}
	slog.Info("previous records cleared", "deleted", deleted)
	return deleted, nil
}

func clearDir(dir string) int {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to list directory", "dir", dir, "error", err)
		}
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Error("failed to delete file", "path", path, "error", err)
			continue
		}
		n++
	}
	return n
}
