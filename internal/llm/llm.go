// Package llm is the inference gateway: it hands a prompt to a text
// generation backend and pulls the answer out of the raw output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/snapclass/snapclass/internal/metrics"
	"github.com/snapclass/snapclass/internal/tracing"
)

// ErrInferenceUnavailable covers every way a backend can fail to answer:
// missing executable or config, non-zero exit, API errors, timeouts and
// empty output.
var ErrInferenceUnavailable = errors.New("inference unavailable")

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 10 * time.Minute

// Inferencer answers a prompt with text.
type Inferencer interface {
	Respond(ctx context.Context, prompt string) (string, error)
}

// Response is the raw result of one backend call.
type Response struct {
	Raw        string
	ExitStatus int
}

// Backend performs a single inference attempt.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string) (Response, error)
}

var answerRegex = regexp.MustCompile(`\[BEGIN\s*\]:([\s\S]*?)\[END\]`)

// ExtractAnswer returns the trimmed text between the first [BEGIN]: and the
// following [END]. Without markers it returns the trimmed input unchanged.
func ExtractAnswer(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := answerRegex.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// Client bounds each backend attempt with a timeout and retries once when,
// and only when, the attempt itself timed out.
type Client struct {
	backend Backend
	timeout time.Duration
}

// New creates a client. A zero timeout means DefaultTimeout.
func New(backend Backend, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{backend: backend, timeout: timeout}
}

// Respond sends prompt to the backend and returns the extracted answer.
func (c *Client) Respond(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "llm.respond")
	span.SetAttributes(attribute.String("backend", c.backend.Name()), attribute.Int("prompt_len", len(prompt)))
	defer span.End()

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var text string
		var timedOut bool
		text, timedOut, err = c.attempt(ctx, prompt)
		if err == nil {
			metrics.InferenceRequests.WithLabelValues(c.backend.Name(), "ok").Inc()
			return text, nil
		}
		if !timedOut {
			break
		}
		metrics.InferenceRequests.WithLabelValues(c.backend.Name(), "timeout").Inc()
		slog.Warn("inference attempt timed out", "backend", c.backend.Name(), "attempt", attempt, "timeout", c.timeout)
	}

	metrics.InferenceRequests.WithLabelValues(c.backend.Name(), "error").Inc()
	span.SetStatus(codes.Error, err.Error())
	slog.Error("inference failed", "backend", c.backend.Name(), "error", err)
	if !errors.Is(err, ErrInferenceUnavailable) {
		err = fmt.Errorf("%w: %w", ErrInferenceUnavailable, err)
	}
	return "", err
}

func (c *Client) attempt(ctx context.Context, prompt string) (text string, timedOut bool, err error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.backend.Complete(actx, prompt)
	metrics.InferenceDuration.WithLabelValues(c.backend.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		// Only our own deadline counts as a timeout; a cancelled caller is final.
		timedOut = errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		if timedOut {
			err = fmt.Errorf("attempt exceeded %s: %w", c.timeout, err)
		}
		return "", timedOut, err
	}

	raw := strings.TrimSpace(resp.Raw)
	if raw == "" {
		return "", false, fmt.Errorf("%w: empty output", ErrInferenceUnavailable)
	}
	if !answerRegex.MatchString(raw) {
		slog.Warn("inference output has no [BEGIN]/[END] markers, returning full output", "backend", c.backend.Name())
	}
	slog.Debug("inference response", "backend", c.backend.Name(), "raw", raw)
	return ExtractAnswer(raw), false, nil
}
