package store

import (
	"context"
	"fmt"
	"time"

	"github.com/snapclass/snapclass/internal/model"
)

// Export gathers every record into one export-ready document. Status is left
// for the caller, which owns the lifecycle rules.
func (s *Store) Export(ctx context.Context) (model.ClassExport, error) {
	out := model.ClassExport{ExportedAt: time.Now()}

	pt, found, err := s.PublishedTest(ctx)
	if err != nil {
		return out, fmt.Errorf("read published test: %w", err)
	}
	if found {
		out.Published = &pt
	}

	if out.Questions, err = s.Questions(ctx); err != nil {
		return out, fmt.Errorf("read questions: %w", err)
	}
	if out.Submissions, err = s.Submissions(ctx); err != nil {
		return out, fmt.Errorf("read submissions: %w", err)
	}
	if out.Scores, err = s.Scores(ctx); err != nil {
		return out, fmt.Errorf("read scores: %w", err)
	}

	ing, found, err := s.Ingestion(ctx)
	if err != nil {
		return out, err
	}
	if found {
		out.Ingestion = &ing
	}
	return out, nil
}
