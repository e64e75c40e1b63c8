// Package extract converts raw lecture media into plain-text markdown
// artifacts. Each adapter writes its result to a path derived only from the
// input file's base name, so reprocessing the same input overwrites the same
// artifact.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapclass/snapclass/internal/model"
)

// ErrNoText is returned when a source yields no text at all.
var ErrNoText = errors.New("extraction produced no text")

// Emit receives progress events from an adapter.
type Emit func(model.ProgressEvent)

// Output is what a successful extraction produced.
type Output struct {
	Text string
	Path string
}

// Adapter converts one kind of source file into text.
type Adapter interface {
	Kind() model.SourceKind
	// OutputPath returns where Extract writes the artifact for src.
	OutputPath(src string) string
	Extract(ctx context.Context, src string, emit Emit) (Output, error)
}

// OutputPath derives the artifact path for src:
// <dir>/<base>_transcription.md for audio, <dir>/<base>_content.md for documents.
func OutputPath(dir, src string, kind model.SourceKind) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	suffix := "_content.md"
	if kind == model.SourceAudio {
		suffix = "_transcription.md"
	}
	return filepath.Join(dir, base+suffix)
}

// writeArtifact overwrites path with text as UTF-8.
func writeArtifact(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func noopEmit(model.ProgressEvent) {}
