// Package grading asks the model to grade every submission against the
// reference texts in a single pass.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/snapclass/snapclass/internal/ingest"
	"github.com/snapclass/snapclass/internal/llm"
	"github.com/snapclass/snapclass/internal/llm/prompts"
	"github.com/snapclass/snapclass/internal/model"
	"github.com/snapclass/snapclass/internal/tracing"
)

// ErrNoSubmissions is returned when there is nothing to grade.
var ErrNoSubmissions = errors.New("no submissions found")

// SubmissionSource yields the submissions log.
type SubmissionSource interface {
	Submissions(ctx context.Context) ([]model.Submission, error)
}

// Orchestrator builds the grading prompt and forwards the model's verdict.
type Orchestrator struct {
	subs SubmissionSource
	refs ingest.ReferenceLoader
	llm  llm.Inferencer
	now  func() time.Time
}

// New creates an orchestrator.
func New(subs SubmissionSource, refs ingest.ReferenceLoader, inf llm.Inferencer) *Orchestrator {
	return &Orchestrator{subs: subs, refs: refs, llm: inf, now: time.Now}
}

// Grade makes exactly one inference call covering every student. The
// returned analysis is the model's text as is.
func (o *Orchestrator) Grade(ctx context.Context) (model.Report, error) {
	ctx, span := tracing.Tracer().Start(ctx, "grading.grade")
	defer span.End()

	subs, err := o.subs.Submissions(ctx)
	if err != nil {
		return model.Report{}, fmt.Errorf("read submissions: %w", err)
	}
	questions, students := Transcript(subs)
	if len(questions) == 0 || len(students) == 0 {
		return model.Report{}, ErrNoSubmissions
	}
	span.SetAttributes(attribute.Int("submissions", len(subs)), attribute.Int("students", len(students)))

	refs, err := o.refs.References(ctx)
	if err != nil {
		return model.Report{}, err
	}
	prompt, err := prompts.BuildGradePrompt(prompts.GradeData{
		Transcript: refs.Transcript,
		Document:   refs.Document,
		Questions:  questions,
		Students:   students,
	})
	if err != nil {
		return model.Report{}, fmt.Errorf("build grading prompt: %w", err)
	}

	analysis, err := o.llm.Respond(ctx, prompt)
	if err != nil {
		return model.Report{}, fmt.Errorf("grade submissions: %w", err)
	}
	slog.Info("graded submissions", "submissions", len(subs), "students", len(students))
	return model.Report{
		Analysis:         analysis,
		TotalSubmissions: len(subs),
		Submissions:      subs,
		GradedAt:         o.now(),
	}, nil
}

// Transcript flattens the log for grading. Questions come from the first
// submission. Each student appears once, in order of first appearance, with
// the answers of their latest submission.
func Transcript(subs []model.Submission) ([]string, []prompts.StudentAnswers) {
	if len(subs) == 0 {
		return nil, nil
	}
	questions := make([]string, len(subs[0].QA))
	for i, qa := range subs[0].QA {
		questions[i] = qa.Question
	}

	index := make(map[string]int)
	var students []prompts.StudentAnswers
	for _, s := range subs {
		answers := make([]string, len(s.QA))
		for i, qa := range s.QA {
			answers[i] = qa.Answer
		}
		if i, ok := index[s.StudentName]; ok {
			students[i].Answers = answers
			continue
		}
		index[s.StudentName] = len(students)
		students = append(students, prompts.StudentAnswers{Name: s.StudentName, Answers: answers})
	}
	return questions, students
}
