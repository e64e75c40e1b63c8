package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapclass/snapclass/internal/model"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind model.SourceKind
		want string
	}{
		{"audio wav", "/up/class_audio.wav", model.SourceAudio, filepath.Join("out", "class_audio_transcription.md")},
		{"audio mp3", "lecture.mp3", model.SourceAudio, filepath.Join("out", "lecture_transcription.md")},
		{"document", "/up/sample.pdf", model.SourceDocument, filepath.Join("out", "sample_content.md")},
		{"dotted name", "week.1.notes.pdf", model.SourceDocument, filepath.Join("out", "week.1.notes_content.md")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputPath("out", tt.src, tt.kind); got != tt.want {
				t.Errorf("OutputPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeTranscriber struct {
	texts map[string]string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wav string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.texts[filepath.Base(wav)], nil
}

func newTestAudioAdapter(t *testing.T, chunks int, tr Transcriber) *AudioAdapter {
	t.Helper()
	a := NewAudioAdapter(t.TempDir(), tr)
	a.probe = func(string) (float64, error) { return float64(chunks * 30), nil }
	a.split = func(_, pattern string, _ int) error {
		for i := 0; i < chunks; i++ {
			if err := os.WriteFile(fmt.Sprintf(pattern, i), []byte("RIFF"), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
	return a
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAudioAdapterExtract(t *testing.T) {
	tr := &fakeTranscriber{texts: map[string]string{
		"chunk_000.wav": "photosynthesis converts light",
		"chunk_001.wav": " into chemical energy ",
	}}
	a := newTestAudioAdapter(t, 2, tr)
	src := writeSource(t, "class_audio.wav")

	var events []model.ProgressEvent
	out, err := a.Extract(context.Background(), src, func(e model.ProgressEvent) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := "photosynthesis converts light into chemical energy"
	if out.Text != want {
		t.Errorf("text = %q, want %q", out.Text, want)
	}
	if out.Path != a.OutputPath(src) {
		t.Errorf("path = %q, want %q", out.Path, a.OutputPath(src))
	}
	data, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != want {
		t.Errorf("artifact = %q, want %q", data, want)
	}

	if len(events) == 0 || events[0].Message != "Starting audio transcription..." {
		t.Errorf("first event should announce the start, got %+v", events)
	}
	var sawChunk bool
	for _, e := range events {
		if e.Message == "Transcribing chunk 2/2..." {
			sawChunk = true
		}
	}
	if !sawChunk {
		t.Error("expected per-chunk progress events")
	}
}

func TestAudioAdapterTranscriberFailure(t *testing.T) {
	a := newTestAudioAdapter(t, 1, &fakeTranscriber{err: errors.New("model missing")})
	src := writeSource(t, "talk.wav")

	var last model.ProgressEvent
	_, err := a.Extract(context.Background(), src, func(e model.ProgressEvent) { last = e })
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(last.Message, "Error in audio processing:") {
		t.Errorf("last event should report the error, got %q", last.Message)
	}
	if _, err := os.Stat(a.OutputPath(src)); !os.IsNotExist(err) {
		t.Errorf("no artifact should be written on failure")
	}
}

func TestAudioAdapterSilentAudio(t *testing.T) {
	a := newTestAudioAdapter(t, 2, &fakeTranscriber{texts: map[string]string{"chunk_001.wav": "  "}})
	src := writeSource(t, "silence.wav")

	_, err := a.Extract(context.Background(), src, nil)
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	if _, err := os.Stat(a.OutputPath(src)); !os.IsNotExist(err) {
		t.Errorf("empty transcript must not be written")
	}
}

func TestAudioAdapterMissingSource(t *testing.T) {
	a := newTestAudioAdapter(t, 1, &fakeTranscriber{})
	if _, err := a.Extract(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), nil); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCommandTranscriber(t *testing.T) {
	var gotName string
	var gotArgs []string
	tr := &CommandTranscriber{
		Exe:   "/opt/whisper/whisper-cli",
		Model: "ggml-small.bin",
		Run: func(_ context.Context, _, name string, args ...string) ([]byte, []byte, error) {
			gotName, gotArgs = name, args
			return []byte("  hello class \n"), nil, nil
		},
	}
	text, err := tr.Transcribe(context.Background(), "c.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello class" {
		t.Errorf("text = %q", text)
	}
	if gotName != "/opt/whisper/whisper-cli" {
		t.Errorf("name = %q", gotName)
	}
	if strings.Join(gotArgs, " ") != "-m ggml-small.bin -f c.wav -nt -np" {
		t.Errorf("args = %v", gotArgs)
	}

	if _, err := (&CommandTranscriber{}).Transcribe(context.Background(), "c.wav"); err == nil {
		t.Error("expected error when no executable is configured")
	}
}

type fakeDoc struct {
	pages []string
	errOn int
}

func (d *fakeDoc) NumPage() int { return len(d.pages) }
func (d *fakeDoc) PageText(i int) (string, error) {
	if i == d.errOn {
		return "", errors.New("bad font")
	}
	return d.pages[i-1], nil
}
func (d *fakeDoc) Close() error { return nil }

func TestDocumentAdapterExtract(t *testing.T) {
	a := NewDocumentAdapter(t.TempDir())
	a.open = func(string) (Document, error) {
		return &fakeDoc{pages: []string{"Cells are units of life.", "ignored", "Mitochondria."}, errOn: 2}, nil
	}

	var events []model.ProgressEvent
	out, err := a.Extract(context.Background(), "/up/sample.pdf", func(e model.ProgressEvent) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	for _, want := range []string{
		"# Complete Extraction from: sample.pdf",
		"**Total Pages:** 3",
		"## Page 1\n\nCells are units of life.",
		"## Page 3\n\nMitochondria.",
	} {
		if !strings.Contains(out.Text, want) {
			t.Errorf("markdown missing %q:\n%s", want, out.Text)
		}
	}
	if strings.Contains(out.Text, "ignored") {
		t.Error("an unreadable page should produce empty text")
	}

	var contents int
	for _, e := range events {
		if e.Type == model.EventContent {
			contents++
		}
	}
	if contents != 3 {
		t.Errorf("expected one content event per page, got %d", contents)
	}
	if filepath.Base(out.Path) != "sample_content.md" {
		t.Errorf("unexpected output path %q", out.Path)
	}
}

func TestDocumentAdapterOpenFailure(t *testing.T) {
	a := NewDocumentAdapter(t.TempDir())
	a.open = func(string) (Document, error) { return nil, errors.New("not a pdf") }

	if _, err := a.Extract(context.Background(), "x.pdf", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestDefaultCommandRunnerReturnsAfterTimeout(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, _, err := DefaultCommandRunner(ctx, "", sh, "-c", "sleep 60 & sleep 60"); err == nil {
		t.Fatal("expected an error from the killed command")
	}
	if elapsed := time.Since(start); elapsed > waitDelay+10*time.Second {
		t.Errorf("runner blocked for %v after the deadline", elapsed)
	}
}
