package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/snapclass/snapclass/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s := New(b)
	t.Cleanup(func() { s.Close() })
	return s
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	b, err := NewSQLiteBackend(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	s := New(b)
	t.Cleanup(func() { s.Close() })
	return s
}

func eachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Helper()
	t.Run("file", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func TestCompareAndSwap(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		var got map[string]int
		if _, err := s.Get(ctx, "counter", &got); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		rev, err := s.CompareAndSwap(ctx, "counter", "", map[string]int{"n": 1})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		// Creating again must conflict.
		if _, err := s.CompareAndSwap(ctx, "counter", "", map[string]int{"n": 9}); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict on second create, got %v", err)
		}

		rev2, err := s.CompareAndSwap(ctx, "counter", rev, map[string]int{"n": 2})
		if err != nil {
			t.Fatalf("swap: %v", err)
		}
		if rev2 == rev {
			t.Errorf("revision should change after a write")
		}

		// Stale revision must conflict.
		if _, err := s.CompareAndSwap(ctx, "counter", rev, map[string]int{"n": 3}); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict on stale revision, got %v", err)
		}

		if _, err := s.Get(ctx, "counter", &got); err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got["n"] != 2 {
			t.Errorf("expected n=2, got %d", got["n"])
		}
	})
}

func TestAppendIsAppendOnly(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		for i := 0; i < 2; i++ {
			err := s.AppendSubmission(ctx, model.Submission{
				StudentName: "alice",
				Timestamp:   time.Now(),
				QA:          []model.QA{{Question: "Q1", Answer: fmt.Sprintf("A%d", i)}},
			})
			if err != nil {
				t.Fatalf("AppendSubmission: %v", err)
			}
		}

		subs, err := s.Submissions(ctx)
		if err != nil {
			t.Fatalf("Submissions: %v", err)
		}
		if len(subs) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(subs))
		}
		if subs[0].QA[0].Answer != "A0" || subs[1].QA[0].Answer != "A1" {
			t.Errorf("entries out of order or overwritten: %+v", subs)
		}
	})
}

func TestConcurrentAppends(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.AppendScore(ctx, model.ScoreRecord{Name: fmt.Sprintf("s%d", i), Score: i, Total: n}); err != nil {
					t.Errorf("AppendScore: %v", err)
				}
			}(i)
		}
		wg.Wait()

		recs, err := s.Scores(ctx)
		if err != nil {
			t.Fatalf("Scores: %v", err)
		}
		if len(recs) != n {
			t.Errorf("expected %d records, got %d", n, len(recs))
		}
	})
}

func TestMalformedRecordFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s := New(b)
	ctx := context.Background()

	if err := os.WriteFile(b.Path(KeySubmissions), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var raw []model.Submission
	if _, err := s.Get(ctx, KeySubmissions, &raw); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed from Get, got %v", err)
	}

	subs, err := s.Submissions(ctx)
	if err != nil {
		t.Fatalf("Submissions: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected empty default, got %d", len(subs))
	}

	// The next append replaces the unreadable file.
	if err := s.AppendSubmission(ctx, model.Submission{StudentName: "bob"}); err != nil {
		t.Fatalf("AppendSubmission: %v", err)
	}
	subs, err = s.Submissions(ctx)
	if err != nil {
		t.Fatalf("Submissions: %v", err)
	}
	if len(subs) != 1 || subs[0].StudentName != "bob" {
		t.Errorf("unexpected submissions after recovery: %+v", subs)
	}
}

func TestPublishedTestRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		if _, found, err := s.PublishedTest(ctx); err != nil || found {
			t.Fatalf("expected no published test, found=%v err=%v", found, err)
		}

		now := time.Now().UTC().Truncate(time.Second)
		pt := model.PublishedTest{SetID: "set-1", Questions: []string{"Q1", "Q2"}, PublishedDate: now}
		if err := s.SavePublishedTest(ctx, pt); err != nil {
			t.Fatalf("SavePublishedTest: %v", err)
		}

		// The snapshot itself is a bare array of strings.
		var bare []string
		if _, err := s.Get(ctx, KeyPublishedTest, &bare); err != nil {
			t.Fatalf("Get bare snapshot: %v", err)
		}
		if len(bare) != 2 || bare[0] != "Q1" {
			t.Errorf("unexpected bare snapshot %v", bare)
		}

		if err := s.WithdrawPublishedTest(ctx); err != nil {
			t.Fatalf("WithdrawPublishedTest: %v", err)
		}
		got, found, err := s.PublishedTest(ctx)
		if err != nil || !found {
			t.Fatalf("PublishedTest: found=%v err=%v", found, err)
		}
		if !got.Withdrawn {
			t.Errorf("expected withdrawn snapshot")
		}
		if got.SetID != "set-1" || len(got.Questions) != 2 {
			t.Errorf("withdraw must not alter the snapshot: %+v", got)
		}
	})
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.GetImportedFileHash(ctx, "q.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if h != "" {
		t.Errorf("expected empty hash, got %q", h)
	}
	if err := s.SetImportedFileHash(ctx, "q.json", "abc"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	h, err = s.GetImportedFileHash(ctx, "q.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if h != "abc" {
		t.Errorf("expected abc, got %q", h)
	}
}

func TestReset(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		if err := s.AppendScore(ctx, model.ScoreRecord{Name: "a", Score: 1, Total: 1}); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendQuestion(ctx, model.Question{Text: "Q", Options: []string{"a", "b", "c", "d"}, Answer: "a"}); err != nil {
			t.Fatal(err)
		}

		n, err := s.Reset(ctx, SessionKeys...)
		if err != nil {
			t.Fatalf("Reset: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 deleted record, got %d", n)
		}
		if scores, _ := s.Scores(ctx); len(scores) != 0 {
			t.Errorf("scores survived reset: %v", scores)
		}
		count, err := s.QuestionCount(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("answer key was deleted, count = %d", count)
		}
	})
}

func TestResetLeavesForeignFiles(t *testing.T) {
	dir := t.TempDir()
	foreign := []string{"snapclass.json", "package.json", "answers.json"}
	for _, name := range foreign {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(`{"keep":true}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s := New(b)
	ctx := context.Background()
	if err := s.AppendSubmission(ctx, model.Submission{StudentName: "a"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Reset(ctx, SessionKeys...)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	for _, name := range foreign {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s was removed: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, KeySubmissions+".json")); !os.IsNotExist(err) {
		t.Errorf("submissions file still present: %v", err)
	}
}

func TestPublishedTestIsOneRecord(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		first := model.PublishedTest{SetID: "set-1", Questions: []string{"old"}, PublishedDate: time.Now().UTC()}
		if err := s.SavePublishedTest(ctx, first); err != nil {
			t.Fatal(err)
		}
		if err := s.WithdrawPublishedTest(ctx); err != nil {
			t.Fatal(err)
		}
		second := model.PublishedTest{SetID: "set-2", Questions: []string{"new 1", "new 2"}, PublishedDate: time.Now().UTC()}
		if err := s.SavePublishedTest(ctx, second); err != nil {
			t.Fatal(err)
		}

		var rec model.PublishedTest
		if _, err := s.Get(ctx, KeyPublished, &rec); err != nil {
			t.Fatalf("Get record: %v", err)
		}
		if rec.SetID != "set-2" || rec.Withdrawn || len(rec.Questions) != 2 {
			t.Errorf("record mixes snapshots: %+v", rec)
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				pt := first
				if i%2 == 1 {
					pt = second
				}
				if err := s.SavePublishedTest(ctx, pt); err != nil {
					t.Errorf("SavePublishedTest: %v", err)
				}
				got, _, err := s.PublishedTest(ctx)
				if err != nil {
					t.Errorf("PublishedTest: %v", err)
					return
				}
				want := map[string]int{"set-1": 1, "set-2": 2}[got.SetID]
				if len(got.Questions) != want {
					t.Errorf("set %s paired with %d questions", got.SetID, len(got.Questions))
				}
			}(i)
		}
		wg.Wait()
	})
}

func TestPublishedTestBareArray(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CompareAndSwap(ctx, KeyPublishedTest, "", []string{"Q1", "Q2"}); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.PublishedTest(ctx)
	if err != nil || !found {
		t.Fatalf("PublishedTest: found=%v err=%v", found, err)
	}
	if len(got.Questions) != 2 || got.SetID != "" || got.Withdrawn {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

func TestExport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.AppendSubmission(ctx, model.Submission{StudentName: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendScore(ctx, model.ScoreRecord{Name: "a", Score: 1, Total: 2}); err != nil {
		t.Fatal(err)
	}

	exp, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(exp.Submissions) != 1 || len(exp.Scores) != 1 {
		t.Errorf("unexpected export counts: %d submissions, %d scores", len(exp.Submissions), len(exp.Scores))
	}
	if exp.Published != nil {
		t.Errorf("expected no published test in export")
	}
}

func TestOpenUnknownKind(t *testing.T) {
	if _, err := Open("redis", t.TempDir(), ""); err == nil {
		t.Error("expected error for unknown store kind")
	}
}
