// Package worker implements a bounded worker pool for foreground upload transfers.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtiwari1/stylesync/internal/upload"
)

// Job is one upload to transfer.
// Ctx carries cancellation for the transfer only; the pool has its own.
type Job struct {
	Ctx    context.Context
	Upload upload.PendingUpload
}

// Result holds the outcome of a single transfer.
type Result struct {
	Upload  upload.PendingUpload
	URL     string
	Latency time.Duration
	Err     error
}

// Pool runs a fixed set of goroutines that take Jobs from a channel, hand them
// to a Transfer and emit Results on another channel.
type Pool struct {
	workers  int
	transfer upload.Transfer
	jobs     chan Job
	results  chan Result
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewPool creates a pool with the given number of workers.
// Call Start() to launch the goroutines.
func NewPool(workers int, t upload.Transfer, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:  workers,
		transfer: t,
		jobs:     make(chan Job, workers*2), // small buffer for backpressure
		results:  make(chan Result, workers*2),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a job, blocking while the buffer is full.
// Returns false if the pool has been cancelled.
func (p *Pool) Submit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Results returns the read-only results channel for the consumer.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Shutdown closes the jobs channel, waits for the workers to finish what is
// buffered, then closes the results channel. Call once.
func (p *Pool) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
	close(p.results)
}

// Abort cancels in-flight transfers. Jobs still buffered are not transferred
// but each still yields a Result carrying the cancellation error, so every
// submitted job is reported exactly once. Shutdown must still be called to
// release the results channel.
func (p *Pool) Abort() {
	p.cancel()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.process(id, job)
	}
	p.logger.Debug("worker exiting", slog.Int("worker_id", id))
}

// process runs one transfer under the job's context merged with the pool's.
func (p *Pool) process(workerID int, job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := mergeCancel(ctx, p.ctx)
	defer stop()

	if err := ctx.Err(); err != nil {
		p.results <- Result{Upload: job.Upload, Err: fmt.Errorf("worker: cancelled before transfer: %w", err)}
		return
	}

	logger := p.logger.With(
		slog.Int("worker_id", workerID),
		slog.String("upload_id", job.Upload.ID),
		slog.String("message_id", job.Upload.MessageID),
	)

	start := time.Now()
	logger.Info("transfer started")

	url, err := p.transfer.Upload(ctx, job.Upload)
	latency := time.Since(start)

	if err != nil {
		logger.Error("transfer failed",
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		p.results <- Result{Upload: job.Upload, Latency: latency, Err: err}
		return
	}

	logger.Info("transfer completed",
		slog.Duration("latency", latency),
		slog.String("url", url),
	)
	p.results <- Result{Upload: job.Upload, URL: url, Latency: latency}
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if other.Err() != nil {
		cancel()
		return ctx, cancel
	}
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
