package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/snapclass/snapclass/internal/model"
)

// Record keys. With the file backend each key maps to <key>.json in the data dir.
const (
	KeyQuestionSet   = "generated_questions"
	KeyPublishedTest = "published_test"
	KeyPublished     = "published"
	KeySubmissions   = "test_submissions"
	KeyScores        = "student_analysis"
	KeyQuestions     = "questions"
	KeyIngestion     = "ingestion"
	KeyImports       = "imports"
)

// SessionKeys are the records produced by a teaching session. Clearing data
// removes exactly these; the admin answer key and import hashes stay.
var SessionKeys = []string{
	KeyQuestionSet,
	KeyPublishedTest,
	KeyPublished,
	KeySubmissions,
	KeyScores,
	KeyIngestion,
}

// QuestionSet returns the current generated set and its revision. found is
// false when nothing has been generated (or the record is unreadable).
func (s *Store) QuestionSet(ctx context.Context) (set model.QuestionSet, rev string, found bool, err error) {
	rev, found, err = s.getOrDefault(ctx, KeyQuestionSet, &set)
	return set, rev, found, err
}

// PublishedTest returns the published snapshot. The full record under
// KeyPublished is authoritative; a bare question array without it is read as
// a snapshot with no metadata.
func (s *Store) PublishedTest(ctx context.Context) (model.PublishedTest, bool, error) {
	unlock := s.lock(KeyPublished)
	defer unlock()

	var pt model.PublishedTest
	_, found, err := s.getOrDefault(ctx, KeyPublished, &pt)
	if err != nil || found {
		return pt, found, err
	}
	var questions []string
	_, found, err = s.getOrDefault(ctx, KeyPublishedTest, &questions)
	if err != nil || !found {
		return model.PublishedTest{}, false, err
	}
	return model.PublishedTest{Questions: questions}, true, nil
}

// SavePublishedTest overwrites the snapshot. The full record is written
// first, then the bare question array that mirrors it.
func (s *Store) SavePublishedTest(ctx context.Context, pt model.PublishedTest) error {
	unlock := s.lock(KeyPublished)
	defer unlock()

	pt.Questions = append([]string{}, pt.Questions...)
	var cur model.PublishedTest
	rev, _, err := s.getOrDefault(ctx, KeyPublished, &cur)
	if err != nil {
		return fmt.Errorf("read %s: %w", KeyPublished, err)
	}
	if _, err := s.put(ctx, KeyPublished, rev, pt); err != nil {
		return fmt.Errorf("write %s: %w", KeyPublished, err)
	}

	var questions []string
	return s.Update(ctx, KeyPublishedTest, &questions, func(bool) error {
		questions = pt.Questions
		return nil
	})
}

// WithdrawPublishedTest marks the snapshot as no longer offered to students.
// The snapshot content is left untouched.
func (s *Store) WithdrawPublishedTest(ctx context.Context) error {
	var pt model.PublishedTest
	err := s.Update(ctx, KeyPublished, &pt, func(found bool) error {
		if !found {
			return ErrNotFound
		}
		pt.Withdrawn = true
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// AppendSubmission adds a submission to the log.
func (s *Store) AppendSubmission(ctx context.Context, sub model.Submission) error {
	return s.Append(ctx, KeySubmissions, sub)
}

// Submissions returns the whole submissions log in append order.
func (s *Store) Submissions(ctx context.Context) ([]model.Submission, error) {
	var subs []model.Submission
	if _, _, err := s.getOrDefault(ctx, KeySubmissions, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// AppendScore adds a record to the score ledger.
func (s *Store) AppendScore(ctx context.Context, rec model.ScoreRecord) error {
	return s.Append(ctx, KeyScores, rec)
}

// Scores returns the score ledger.
func (s *Store) Scores(ctx context.Context) ([]model.ScoreRecord, error) {
	var recs []model.ScoreRecord
	if _, _, err := s.getOrDefault(ctx, KeyScores, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// AppendQuestion stores an admin-authored question.
func (s *Store) AppendQuestion(ctx context.Context, q model.Question) error {
	return s.Append(ctx, KeyQuestions, q)
}

// Questions returns all admin-authored questions in insertion order.
func (s *Store) Questions(ctx context.Context) ([]model.Question, error) {
	var qs []model.Question
	if _, _, err := s.getOrDefault(ctx, KeyQuestions, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// QuestionCount returns the number of admin-authored questions.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	qs, err := s.Questions(ctx)
	return len(qs), err
}

// SaveIngestion records the artifacts of the last ingestion run.
func (s *Store) SaveIngestion(ctx context.Context, ing model.Ingestion) error {
	var cur model.Ingestion
	return s.Update(ctx, KeyIngestion, &cur, func(bool) error {
		cur = ing
		return nil
	})
}

// Ingestion returns the last ingestion record.
func (s *Store) Ingestion(ctx context.Context) (model.Ingestion, bool, error) {
	var ing model.Ingestion
	_, found, err := s.getOrDefault(ctx, KeyIngestion, &ing)
	if err != nil {
		return ing, false, fmt.Errorf("read ingestion: %w", err)
	}
	return ing, found, nil
}

// SaveQuestionSet overwrites the current generated set.
func (s *Store) SaveQuestionSet(ctx context.Context, set model.QuestionSet) error {
	var cur model.QuestionSet
	return s.Update(ctx, KeyQuestionSet, &cur, func(bool) error {
		cur = set
		return nil
	})
}
