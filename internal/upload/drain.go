package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mtiwari1/stylesync/internal/registry"
	"github.com/mtiwari1/stylesync/internal/wake"
)

// Transfer performs the network upload of one resource and returns the URL
// the remote store assigned to it.
type Transfer interface {
	Upload(ctx context.Context, u PendingUpload) (string, error)
}

// Notifier receives upload outcomes keyed by message id.
type Notifier interface {
	Notify(ctx context.Context, id registry.CorrelationID, result any) int
}

// Drainer empties the durable upload queue. It is the task the host wakes
// opportunistically; a failed entry stays queued and the next wake is its
// retry. At most one pass runs at a time.
type Drainer struct {
	queue    *Queue
	transfer Transfer
	notifier Notifier
	logger   *slog.Logger

	running sync.Mutex
}

// NewDrainer wires a drainer.
func NewDrainer(q *Queue, t Transfer, n Notifier, logger *slog.Logger) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{queue: q, transfer: t, notifier: n, logger: logger}
}

type delivery struct {
	upload PendingUpload
	url    string
}

// Run implements wake.Task. A call made while another pass is in progress
// returns NoData without touching the queue.
func (d *Drainer) Run(ctx context.Context) wake.Result {
	if !d.running.TryLock() {
		d.logger.Info("drain already running")
		return wake.NoData
	}
	defer d.running.Unlock()

	pending := d.queue.List(ctx)
	if len(pending) == 0 {
		return wake.NoData
	}

	d.logger.Info("draining upload queue", slog.Int("pending", len(pending)))

	var done []delivery
	failed := 0
	for _, u := range pending {
		if ctx.Err() != nil {
			d.logger.Warn("drain cancelled", slog.String("error", ctx.Err().Error()))
			failed = len(pending) - len(done)
			break
		}

		start := time.Now()
		url, err := d.transfer.Upload(ctx, u)
		if err != nil {
			failed++
			d.logger.Error("queued upload failed",
				slog.String("upload_id", u.ID),
				slog.String("source_uri", u.SourceURI),
				slog.Duration("latency", time.Since(start)),
				slog.String("error", err.Error()),
			)
			continue
		}

		done = append(done, delivery{upload: u, url: url})
		d.logger.Info("queued upload completed",
			slog.String("upload_id", u.ID),
			slog.String("message_id", u.MessageID),
			slog.Duration("latency", time.Since(start)),
		)
	}

	if len(done) == 0 {
		return wake.Failed
	}

	// One write for the whole pass, before any listener runs; entries
	// enqueued meanwhile are kept.
	ids := make([]string, 0, len(done))
	for _, dl := range done {
		ids = append(ids, dl.upload.ID)
	}
	notifyCtx := context.WithoutCancel(ctx)
	removeErr := d.queue.Remove(notifyCtx, ids...)
	if removeErr != nil {
		d.logger.Error("rewrite upload queue", slog.String("error", removeErr.Error()))
	}

	for _, dl := range done {
		d.notifier.Notify(notifyCtx, registry.CorrelationID(dl.upload.MessageID), dl.url)
	}

	if removeErr != nil || failed > 0 {
		return wake.Failed
	}
	return wake.NewData
}
