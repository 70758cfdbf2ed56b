package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/telemetry"
)

type archiveJob struct {
	ctx    context.Context
	op     string
	logger *slog.Logger
	fn     func(context.Context) error
}

// archiveWriter applies archive writes one at a time in submission order,
// so a consultation row is always written before its turns and closure.
type archiveWriter struct {
	jobs chan archiveJob
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newArchiveWriter(queue int) *archiveWriter {
	w := &archiveWriter{
		jobs: make(chan archiveJob, queue),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *archiveWriter) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(job.ctx, config.ArchiveWriteTimeout)
		err := job.fn(ctx)
		cancel()
		if err != nil {
			job.logger.Warn("archive write failed", "op", job.op, "error", err)
		}
	}
}

// submit queues fn without blocking. Writes are dropped when the queue is full.
func (w *archiveWriter) submit(ctx context.Context, op string, fn func(context.Context) error) {
	logger := telemetry.Logger(ctx)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		logger.Warn("archive closed, write dropped", "op", op)
		return
	}

	select {
	case w.jobs <- archiveJob{ctx: context.WithoutCancel(ctx), op: op, logger: logger, fn: fn}:
	default:
		logger.Warn("archive queue full, write dropped", "op", op)
	}
}

// Close stops accepting writes and waits for queued ones until ctx is done.
func (w *archiveWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
