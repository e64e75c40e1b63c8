// Package lifecycle owns the generated → published state machine of the
// AI-generated question set and the frozen snapshot students see.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapclass/snapclass/internal/ingest"
	"github.com/snapclass/snapclass/internal/llm"
	"github.com/snapclass/snapclass/internal/llm/prompts"
	"github.com/snapclass/snapclass/internal/model"
	"github.com/snapclass/snapclass/internal/store"
	"github.com/snapclass/snapclass/internal/tracing"
)

var (
	// ErrNotGenerated is returned by Publish when there is no draft to freeze.
	ErrNotGenerated = errors.New("no generated questions found")
	// ErrNotPublished is returned when students ask for a test that is not offered.
	ErrNotPublished = errors.New("no published test")
)

// DefaultNumQuestions is how many questions a generation asks for.
const DefaultNumQuestions = 5

// Options tune the manager.
type Options struct {
	NumQuestions int
	// InvalidateOnRegenerate withdraws the live snapshot when a new draft is
	// generated. When false the old snapshot stays offered until the next Publish.
	InvalidateOnRegenerate bool
}

// Manager runs lifecycle transitions one at a time.
type Manager struct {
	store *store.Store
	refs  ingest.ReferenceLoader
	llm   llm.Inferencer
	opts  Options
	now   func() time.Time

	mu sync.Mutex
}

// New creates a manager.
func New(st *store.Store, refs ingest.ReferenceLoader, inf llm.Inferencer, opts Options) *Manager {
	if opts.NumQuestions <= 0 {
		opts.NumQuestions = DefaultNumQuestions
	}
	return &Manager{store: st, refs: refs, llm: inf, opts: opts, now: time.Now}
}

// Generate asks the model for a fresh question set built from both reference
// texts and stores it as the current draft, replacing any previous one.
func (m *Manager) Generate(ctx context.Context) (model.QuestionSet, error) {
	ctx, span := tracing.Tracer().Start(ctx, "lifecycle.generate")
	defer span.End()

	refs, err := m.refs.References(ctx)
	if err != nil {
		return model.QuestionSet{}, err
	}
	prompt, err := prompts.BuildQuestionPrompt(m.opts.NumQuestions, refs.Transcript, refs.Document)
	if err != nil {
		return model.QuestionSet{}, fmt.Errorf("build question prompt: %w", err)
	}
	text, err := m.llm.Respond(ctx, prompt)
	if err != nil {
		return model.QuestionSet{}, fmt.Errorf("generate questions: %w", err)
	}

	set := model.QuestionSet{
		ID:            uuid.NewString(),
		Questions:     prompts.SplitQuestions(text),
		GeneratedDate: m.now(),
		Status:        model.StatusGenerated,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveQuestionSet(ctx, set); err != nil {
		return model.QuestionSet{}, fmt.Errorf("save questions: %w", err)
	}
	if m.opts.InvalidateOnRegenerate {
		if err := m.store.WithdrawPublishedTest(ctx); err != nil {
			return set, fmt.Errorf("withdraw published test: %w", err)
		}
	}
	slog.Info("generated questions", "set_id", set.ID, "count", len(set.Questions))
	return set, nil
}

// Publish freezes the current draft into the student-visible snapshot.
func (m *Manager) Publish(ctx context.Context) (model.PublishedTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, _, found, err := m.store.QuestionSet(ctx)
	if err != nil {
		return model.PublishedTest{}, err
	}
	if !found {
		return model.PublishedTest{}, ErrNotGenerated
	}

	now := m.now()
	pt := model.PublishedTest{
		SetID:         set.ID,
		Questions:     append([]string(nil), set.Questions...),
		PublishedDate: now,
	}
	// Snapshot first: a published set must always have a matching snapshot.
	if err := m.store.SavePublishedTest(ctx, pt); err != nil {
		return model.PublishedTest{}, fmt.Errorf("save published test: %w", err)
	}
	set.Status = model.StatusPublished
	set.PublishedDate = &now
	if err := m.store.SaveQuestionSet(ctx, set); err != nil {
		return model.PublishedTest{}, fmt.Errorf("save questions: %w", err)
	}
	slog.Info("published test", "set_id", pt.SetID, "count", len(pt.Questions))
	return pt, nil
}

// Status reports the draft state and how it relates to the live snapshot.
func (m *Manager) Status(ctx context.Context) (model.TestStatus, error) {
	set, _, found, err := m.store.QuestionSet(ctx)
	if err != nil {
		return model.TestStatus{}, err
	}
	st := model.TestStatus{Status: model.StatusNotGenerated}
	if found {
		generated := set.GeneratedDate
		st.Exists = true
		st.Status = set.Status
		st.SetID = set.ID
		st.GeneratedDate = &generated
		st.PublishedDate = set.PublishedDate
	}

	pt, ok, err := m.store.PublishedTest(ctx)
	if err != nil {
		return model.TestStatus{}, err
	}
	if ok {
		st.PublishedSetID = pt.SetID
		st.Withdrawn = pt.Withdrawn
		st.PublishedStale = found && pt.SetID != set.ID
	}
	return st, nil
}

// ActiveTest returns the snapshot students should answer.
func (m *Manager) ActiveTest(ctx context.Context) (model.PublishedTest, error) {
	pt, found, err := m.store.PublishedTest(ctx)
	if err != nil {
		return model.PublishedTest{}, err
	}
	if !found || pt.Withdrawn {
		return model.PublishedTest{}, ErrNotPublished
	}
	return pt, nil
}
