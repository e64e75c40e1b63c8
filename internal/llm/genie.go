package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// waitDelay bounds how long a cancelled command may keep its output pipes open.
const waitDelay = 5 * time.Second

// Runner runs an external program in dir and returns its stdout and stderr.
type Runner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
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

// WrapChat embeds prompt in the single-turn chat template the local model
// was tuned on.
func WrapChat(prompt string) string {
	return "<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\n" +
		prompt +
		" <|eot_id|><|start_header_id|>assistant<|end_header_id|>"
}

// Genie runs a local genie-t2t-run style executable:
// <exe> -c <config> -p <prompt>, with the executable's directory as cwd.
type Genie struct {
	Exe    string
	Config string
	Run    Runner
}

// NewGenie resolves the executable and config inside dir.
func NewGenie(dir, exe, config string) *Genie {
	if !filepath.IsAbs(exe) {
		exe = filepath.Join(dir, exe)
	}
	if !filepath.IsAbs(config) {
		config = filepath.Join(dir, config)
	}
	return &Genie{Exe: exe, Config: config}
}

func (g *Genie) Name() string { return "genie" }

func (g *Genie) Complete(ctx context.Context, prompt string) (Response, error) {
	if !isFile(g.Exe) {
		return Response{}, fmt.Errorf("%w: genie executable not found at %s", ErrInferenceUnavailable, g.Exe)
	}
	if !isFile(g.Config) {
		return Response{}, fmt.Errorf("%w: genie config not found at %s", ErrInferenceUnavailable, g.Config)
	}
	run := g.Run
	if run == nil {
		run = execRunner
	}

	stdout, stderr, err := run(ctx, filepath.Dir(g.Exe), g.Exe, "-c", g.Config, "-p", WrapChat(prompt))
	if err != nil {
		status := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		}
		return Response{Raw: string(stdout), ExitStatus: status},
			fmt.Errorf("run genie (exit %d): %w (stderr: %s)", status, err, strings.TrimSpace(string(stderr)))
	}
	return Response{Raw: string(stdout)}, nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
