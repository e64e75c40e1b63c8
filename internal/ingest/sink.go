package ingest

import (
	"sync"

	"github.com/snapclass/snapclass/internal/model"
)

// Sink receives progress events. Implementations passed to Process need not
// be safe for concurrent use; the coordinator serializes calls.
type Sink interface {
	Emit(model.ProgressEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.ProgressEvent)

func (f SinkFunc) Emit(e model.ProgressEvent) { f(e) }

// Recorder is a mutex-guarded event list.
type Recorder struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (r *Recorder) Emit(e model.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []model.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ProgressEvent(nil), r.events...)
}

// lockedSink serializes both branches onto a single downstream sink and tags
// each event with the branch that emitted it.
type lockedSink struct {
	mu   sync.Mutex
	next Sink
}

func (s *lockedSink) emitter(kind model.SourceKind) func(model.ProgressEvent) {
	return func(e model.ProgressEvent) {
		e.Source = kind
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.next != nil {
			s.next.Emit(e)
		}
	}
}
