package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/snapclass/snapclass/internal/extract"
	"github.com/snapclass/snapclass/internal/metrics"
	"github.com/snapclass/snapclass/internal/model"
	"github.com/snapclass/snapclass/internal/store"
	"github.com/snapclass/snapclass/internal/tracing"
)

// ErrAdapterFailure marks a failed extraction branch. It never affects the
// sibling branch.
var ErrAdapterFailure = errors.New("extraction adapter failed")

// Coordinator runs the audio and document adapters side by side.
type Coordinator struct {
	audio    extract.Adapter
	document extract.Adapter
	store    *store.Store
}

// New creates a coordinator. st may be nil, in which case results are not recorded.
func New(audio, document extract.Adapter, st *store.Store) *Coordinator {
	return &Coordinator{audio: audio, document: document, store: st}
}

// Result holds both finished jobs. Output paths are set even for failed jobs;
// a missing file is the failure signal for callers that only look at paths.
type Result struct {
	Audio    model.ExtractionJob
	Document model.ExtractionJob
}

// Outputs returns the audio and document artifact paths.
func (r Result) Outputs() (audio, document string) {
	return r.Audio.OutputPath, r.Document.OutputPath
}

// Err joins the errors of failed branches, or returns nil if both succeeded.
func (r Result) Err() error {
	var errs []error
	for _, j := range []model.ExtractionJob{r.Audio, r.Document} {
		if j.Status == model.JobFailed {
			errs = append(errs, fmt.Errorf("%s: %w: %s", j.Kind, ErrAdapterFailure, j.Error))
		}
	}
	return errors.Join(errs...)
}

// Process extracts both sources concurrently and waits for both branches to
// finish. A failure in one branch does not cancel the other. It never returns
// an error directly; inspect Result.Err.
func (c *Coordinator) Process(ctx context.Context, audioPath, pdfPath string, sink Sink) Result {
	ctx, span := tracing.Tracer().Start(ctx, "ingest.process")
	defer span.End()

	jobs := []*model.ExtractionJob{
		{SourcePath: audioPath, Kind: model.SourceAudio, OutputPath: c.audio.OutputPath(audioPath), Status: model.JobPending},
		{SourcePath: pdfPath, Kind: model.SourceDocument, OutputPath: c.document.OutputPath(pdfPath), Status: model.JobPending},
	}
	adapters := []extract.Adapter{c.audio, c.document}

	// Stale artifacts would otherwise pass for fresh output of a failed branch.
	for _, j := range jobs {
		if err := os.Remove(j.OutputPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove stale artifact", "path", j.OutputPath, "error", err)
		}
	}

	ls := &lockedSink{next: sink}
	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(job *model.ExtractionJob, adapter extract.Adapter) {
			defer wg.Done()
			c.run(ctx, job, adapter, ls.emitter(job.Kind))
		}(jobs[i], adapters[i])
	}
	wg.Wait()

	res := Result{Audio: *jobs[0], Document: *jobs[1]}
	if err := res.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	if c.store != nil {
		audioOut, docOut := res.Outputs()
		err := c.store.SaveIngestion(ctx, model.Ingestion{
			AudioOutput:    audioOut,
			DocumentOutput: docOut,
			Jobs:           []model.ExtractionJob{res.Audio, res.Document},
			CompletedAt:    time.Now(),
		})
		if err != nil {
			slog.Error("failed to record ingestion", "error", err)
		}
	}
	return res
}

func (c *Coordinator) run(ctx context.Context, job *model.ExtractionJob, adapter extract.Adapter, emit extract.Emit) {
	ctx, span := tracing.Tracer().Start(ctx, "ingest."+string(job.Kind))
	span.SetAttributes(attribute.String("source", job.SourcePath))
	defer span.End()

	start := time.Now()
	job.Status = model.JobRunning

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				emit(model.StatusEvent(fmt.Sprintf("Error in %s processing: %v", job.Kind, r)))
			}
		}()
		_, err = adapter.Extract(ctx, job.SourcePath, emit)
		return err
	}()

	if err != nil {
		job.Status = model.JobFailed
		job.Error = err.Error()
		span.SetStatus(codes.Error, err.Error())
		slog.Error("extraction failed", "kind", job.Kind, "source", job.SourcePath, "error", err)
	} else {
		job.Status = model.JobDone
		slog.Info("extraction finished", "kind", job.Kind, "output", job.OutputPath, "duration", time.Since(start))
	}
	metrics.ExtractionJobs.WithLabelValues(string(job.Kind), string(job.Status)).Inc()
}
