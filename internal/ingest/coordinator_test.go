package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapclass/snapclass/internal/extract"
	"github.com/snapclass/snapclass/internal/model"
	"github.com/snapclass/snapclass/internal/store"
)

type fakeAdapter struct {
	kind  model.SourceKind
	dir   string
	text  string
	err   error
	panic bool
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeAdapter) Kind() model.SourceKind { return f.kind }

func (f *fakeAdapter) OutputPath(src string) string {
	return extract.OutputPath(f.dir, src, f.kind)
}

func (f *fakeAdapter) Extract(ctx context.Context, src string, emit extract.Emit) (extract.Output, error) {
	f.calls.Add(1)
	emit(model.StatusEvent("starting " + string(f.kind)))
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return extract.Output{}, ctx.Err()
		}
	}
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		emit(model.StatusEvent("Error: " + f.err.Error()))
		return extract.Output{}, f.err
	}
	path := f.OutputPath(src)
	if err := os.WriteFile(path, []byte(f.text), 0o644); err != nil {
		return extract.Output{}, err
	}
	emit(model.ContentEvent(f.text))
	return extract.Output{Text: f.text, Path: path}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	b, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	st := store.New(b)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestProcessBothSucceed(t *testing.T) {
	dir := t.TempDir()
	audio := &fakeAdapter{kind: model.SourceAudio, dir: dir, text: "spoken words", delay: 20 * time.Millisecond}
	doc := &fakeAdapter{kind: model.SourceDocument, dir: dir, text: "# page"}
	st := newTestStore(t)

	rec := &Recorder{}
	res := New(audio, doc, st).Process(context.Background(), "lecture.wav", "notes.pdf", rec)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, d := res.Outputs()
	if a != filepath.Join(dir, "lecture_transcription.md") {
		t.Errorf("audio output = %q", a)
	}
	if d != filepath.Join(dir, "notes_content.md") {
		t.Errorf("document output = %q", d)
	}
	if res.Audio.Status != model.JobDone || res.Document.Status != model.JobDone {
		t.Errorf("statuses = %s, %s", res.Audio.Status, res.Document.Status)
	}

	var audioEvents, docEvents int
	for _, e := range rec.Events() {
		switch e.Source {
		case model.SourceAudio:
			audioEvents++
		case model.SourceDocument:
			docEvents++
		default:
			t.Errorf("event without source: %+v", e)
		}
	}
	if audioEvents != 2 || docEvents != 2 {
		t.Errorf("events audio=%d document=%d, want 2 each", audioEvents, docEvents)
	}

	refs, err := StoreReferences{Store: st}.References(context.Background())
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if refs.Transcript != "spoken words" || refs.Document != "# page" {
		t.Errorf("references = %+v", refs)
	}
}

func TestProcessFailureDoesNotCancelSibling(t *testing.T) {
	dir := t.TempDir()
	audioErr := errors.New("decoder exploded")
	audio := &fakeAdapter{kind: model.SourceAudio, dir: dir, err: audioErr}
	doc := &fakeAdapter{kind: model.SourceDocument, dir: dir, text: "doc text", delay: 30 * time.Millisecond}

	res := New(audio, doc, nil).Process(context.Background(), "a.mp3", "b.pdf", nil)

	if res.Audio.Status != model.JobFailed {
		t.Errorf("audio status = %s, want failed", res.Audio.Status)
	}
	if res.Document.Status != model.JobDone {
		t.Errorf("document status = %s, want done", res.Document.Status)
	}
	err := res.Err()
	if !errors.Is(err, ErrAdapterFailure) {
		t.Fatalf("Err() = %v, want ErrAdapterFailure", err)
	}
	if !strings.Contains(err.Error(), "decoder exploded") {
		t.Errorf("error %q does not mention cause", err)
	}
	if _, statErr := os.Stat(res.Audio.OutputPath); !os.IsNotExist(statErr) {
		t.Errorf("failed branch left an artifact at %s", res.Audio.OutputPath)
	}
	if _, statErr := os.Stat(res.Document.OutputPath); statErr != nil {
		t.Errorf("document artifact missing: %v", statErr)
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	dir := t.TempDir()
	audio := &fakeAdapter{kind: model.SourceAudio, dir: dir, text: "ok"}
	doc := &fakeAdapter{kind: model.SourceDocument, dir: dir, panic: true}

	res := New(audio, doc, nil).Process(context.Background(), "a.wav", "b.pdf", SinkFunc(func(model.ProgressEvent) {}))

	if res.Document.Status != model.JobFailed {
		t.Errorf("document status = %s, want failed", res.Document.Status)
	}
	if !strings.Contains(res.Document.Error, "boom") {
		t.Errorf("document error = %q", res.Document.Error)
	}
	if res.Audio.Status != model.JobDone {
		t.Errorf("audio status = %s, want done", res.Audio.Status)
	}
}

func TestProcessRemovesStaleArtifacts(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "a_transcription.md")
	if err := os.WriteFile(stale, []byte("old run"), 0o644); err != nil {
		t.Fatal(err)
	}
	audio := &fakeAdapter{kind: model.SourceAudio, dir: dir, err: errors.New("fail")}
	doc := &fakeAdapter{kind: model.SourceDocument, dir: dir, text: "x"}

	New(audio, doc, nil).Process(context.Background(), "a.wav", "b.pdf", nil)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale artifact survived a failed run")
	}
}

func TestStoreReferencesWithoutIngestion(t *testing.T) {
	st := newTestStore(t)
	_, err := StoreReferences{Store: st}.References(context.Background())
	if !errors.Is(err, ErrNoReferences) {
		t.Errorf("err = %v, want ErrNoReferences", err)
	}
}

func TestStoreReferencesMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	st := newTestStore(t)
	audio := &fakeAdapter{kind: model.SourceAudio, dir: dir, err: errors.New("fail")}
	doc := &fakeAdapter{kind: model.SourceDocument, dir: dir, text: "x"}
	New(audio, doc, st).Process(context.Background(), "a.wav", "b.pdf", nil)

	_, err := StoreReferences{Store: st}.References(context.Background())
	if !errors.Is(err, ErrNoReferences) {
		t.Errorf("err = %v, want ErrNoReferences", err)
	}
}
