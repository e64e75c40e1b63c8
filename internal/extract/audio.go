package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/snapclass/snapclass/internal/model"
)

const (
	sampleRate          = 16000
	defaultChunkSeconds = 30

	// waitDelay bounds how long a cancelled command may keep its output pipes open.
	waitDelay = 5 * time.Second
)

// Transcriber turns one 16 kHz mono WAV file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// CommandRunner runs an external program and returns its stdout and stderr.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

// DefaultCommandRunner runs the program with os/exec.
func DefaultCommandRunner(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	// A grandchild holding stdout open must not outlive the context.
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CommandTranscriber shells out to a whisper.cpp style binary:
// <exe> -m <model> -f <wav> -nt -np, reading the transcript from stdout.
type CommandTranscriber struct {
	Exe   string
	Model string
	Run   CommandRunner
}

func (t *CommandTranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	if t.Exe == "" {
		return "", errors.New("transcriber executable not configured")
	}
	run := t.Run
	if run == nil {
		run = DefaultCommandRunner
	}
	args := []string{"-f", wavPath, "-nt", "-np"}
	if t.Model != "" {
		args = append([]string{"-m", t.Model}, args...)
	}
	stdout, stderr, err := run(ctx, "", t.Exe, args...)
	if err != nil {
		return "", fmt.Errorf("run %s: %w (stderr: %s)", filepath.Base(t.Exe), err, strings.TrimSpace(string(stderr)))
	}
	return strings.TrimSpace(string(stdout)), nil
}

// AudioAdapter transcribes lecture recordings. Audio is resampled to 16 kHz
// mono and split into fixed-length chunks, each transcribed in order.
type AudioAdapter struct {
	OutputDir    string
	Transcriber  Transcriber
	ChunkSeconds int

	// probe and split default to ffmpeg; tests replace them.
	probe func(src string) (float64, error)
	split func(src, pattern string, chunkSeconds int) error
}

// NewAudioAdapter builds an adapter that writes into outputDir.
func NewAudioAdapter(outputDir string, tr Transcriber) *AudioAdapter {
	return &AudioAdapter{
		OutputDir:    outputDir,
		Transcriber:  tr,
		ChunkSeconds: defaultChunkSeconds,
		probe:        probeDuration,
		split:        splitWAV,
	}
}

func (a *AudioAdapter) Kind() model.SourceKind { return model.SourceAudio }

func (a *AudioAdapter) OutputPath(src string) string {
	return OutputPath(a.OutputDir, src, model.SourceAudio)
}

func (a *AudioAdapter) Extract(ctx context.Context, src string, emit Emit) (out Output, err error) {
	if emit == nil {
		emit = noopEmit
	}
	defer func() {
		if err != nil {
			emit(model.StatusEvent("Error in audio processing: " + err.Error()))
		}
	}()

	emit(model.StatusEvent("Starting audio transcription..."))
	if _, err := os.Stat(src); err != nil {
		return Output{}, fmt.Errorf("open audio: %w", err)
	}

	if dur, err := a.probe(src); err != nil {
		slog.Warn("audio probe failed", "path", src, "error", err)
	} else {
		emit(model.StatusEvent(fmt.Sprintf("Audio loaded successfully. Duration: %.1fs", dur)))
	}

	tmp, err := os.MkdirTemp("", "snapclass-audio-*")
	if err != nil {
		return Output{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	chunk := a.ChunkSeconds
	if chunk <= 0 {
		chunk = defaultChunkSeconds
	}
	if err := a.split(src, filepath.Join(tmp, "chunk_%03d.wav"), chunk); err != nil {
		return Output{}, fmt.Errorf("convert audio: %w", err)
	}
	chunks, err := filepath.Glob(filepath.Join(tmp, "chunk_*.wav"))
	if err != nil {
		return Output{}, err
	}
	if len(chunks) == 0 {
		return Output{}, errors.New("convert audio: no audio chunks produced")
	}
	sort.Strings(chunks)

	var sb strings.Builder
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		emit(model.StatusEvent(fmt.Sprintf("Transcribing chunk %d/%d...", i+1, len(chunks))))
		text, err := a.Transcriber.Transcribe(ctx, c)
		if err != nil {
			return Output{}, fmt.Errorf("transcribe chunk %d: %w", i+1, err)
		}
		sb.WriteString(text + " ")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Output{}, ErrNoText
	}
	path := a.OutputPath(src)
	if err := writeArtifact(path, text); err != nil {
		return Output{}, err
	}
	emit(model.StatusEvent("Audio transcription completed and saved to: " + path))
	return Output{Text: text, Path: path}, nil
}

func probeDuration(src string) (float64, error) {
	raw, err := ffmpeg.Probe(src)
	if err != nil {
		return 0, err
	}
	var info struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return 0, fmt.Errorf("parse probe output: %w", err)
	}
	return strconv.ParseFloat(info.Format.Duration, 64)
}

func splitWAV(src, pattern string, chunkSeconds int) error {
	return ffmpeg.Input(src).
		Output(pattern, ffmpeg.KwArgs{
			"ar":           strconv.Itoa(sampleRate),
			"ac":           "1",
			"f":            "segment",
			"segment_time": strconv.Itoa(chunkSeconds),
		}).
		OverWriteOutput().
		Run()
}
