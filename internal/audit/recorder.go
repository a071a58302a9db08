package audit

import (
	"context"
	"sync/atomic"
	"time"
)

// queueSize bounds pending writes. Entries beyond it are dropped so a slow
// disk never holds up a surface.
const queueSize = 256

// writeTimeout bounds each database write.
const writeTimeout = 5 * time.Second

// Logger defines the logging interface for the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder queues entries and writes them serially, which suits SQLite's
// single-writer model. Record is safe for concurrent use and never blocks.
type Recorder struct {
	repo    Repository
	queue   chan *Entry
	logger  Logger
	dropped atomic.Int64
}

// NewRecorder creates a recorder. Nothing is written until Run is called.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Call before Run.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record enqueues an entry. A nil recorder ignores it.
func (r *Recorder) Record(e Entry) {
	if r == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case r.queue <- &e:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping entry", "action", e.Action, "source", e.Source)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// List reads back recorded entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

// Run writes queued entries until ctx is cancelled, then writes whatever
// is still queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit write failed", "action", e.Action, "source", e.Source, "error", err)
	}
}
