package jobs

import (
	"context"
	"log"
	"time"
)

// JobProcessor is one batch of recurring background work. The embedding
// backfill is the only processor wired in production; the loop stays generic
// so tests can drive it directly.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives a JobProcessor on a fixed interval until stopped or the
// context ends. A failed batch is logged and the next tick retries.
type Worker struct {
	processor JobProcessor
	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
}

func NewWorker(processor JobProcessor, interval time.Duration) *Worker {
	return &Worker{
		processor: processor,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the polling loop. It blocks until Stop is called or the context
// is cancelled, so callers run it in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer close(w.done)

	log.Printf("jobs: worker polling every %v", w.interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("jobs: worker stopping, context cancelled")
			return
		case <-w.stop:
			log.Println("jobs: worker stopping")
			return
		case <-ticker.C:
			if err := w.processor.ProcessJobs(ctx); err != nil {
				log.Printf("jobs: batch failed: %v", err)
			}
		}
	}
}

// Stop signals the loop and waits for any in-flight batch to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}
