// Package app is the composition root: it builds every background component
// once per process and wires them to each other.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mtiwari1/stylesync/internal/clock"
	"github.com/mtiwari1/stylesync/internal/config"
	"github.com/mtiwari1/stylesync/internal/coordinator"
	"github.com/mtiwari1/stylesync/internal/lifecycle"
	"github.com/mtiwari1/stylesync/internal/poller"
	"github.com/mtiwari1/stylesync/internal/registry"
	"github.com/mtiwari1/stylesync/internal/remote"
	"github.com/mtiwari1/stylesync/internal/store"
	"github.com/mtiwari1/stylesync/internal/upload"
	"github.com/mtiwari1/stylesync/internal/wake"
	"github.com/mtiwari1/stylesync/internal/worker"
)

// Remote is the styling backend as seen by the poller and the coordinator.
type Remote interface {
	remote.TaskService
	remote.Invoker
}

// Deps are the collaborators that differ between production and tests.
type Deps struct {
	Backend  store.Backend
	Remote   Remote
	Transfer upload.Transfer
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Disposition says how BeginUpload accepted an upload.
type Disposition string

const (
	// Started: the transfer was handed to the worker pool.
	Started Disposition = "started"
	// Attached: the same resource is already in flight; the caller is
	// notified when that transfer finishes.
	Attached Disposition = "attached"
	// Queued: another upload holds the global lock; the drain task will
	// transfer this one.
	Queued Disposition = "queued"
)

// Ticket describes an accepted upload. Results are delivered through the
// registry under MessageID.
type Ticket struct {
	ID          string      `json:"id,omitempty"`
	MessageID   string      `json:"messageId"`
	Disposition Disposition `json:"disposition"`
}

// TaskOutcome is what long-task listeners receive.
type TaskOutcome struct {
	TaskID string
	Result json.RawMessage
	Err    error
}

// transfer tracks the in-flight foreground upload of one resource so that
// attached callers can be given its URL.
type transfer struct {
	upload upload.PendingUpload
	url    string
}

// App holds the process-wide services.
type App struct {
	Store       *store.Store
	Registry    *registry.Registry
	Guard       *upload.Guard
	Queue       *upload.Queue
	Profile     *upload.ProfileSlot
	Drainer     *upload.Drainer
	Poller      *poller.Poller
	Coordinator *coordinator.Coordinator
	Pool        *worker.Pool
	Lifecycle   *lifecycle.Monitor

	backend     store.Backend
	clock       clock.Clock
	cfg         *config.Config
	logger      *slog.Logger
	detach      []func()
	resultsDone chan struct{}
	closeOnce   sync.Once

	mu        sync.Mutex
	transfers map[string]*transfer // by source uri
}

// New builds the services. Call Start before submitting uploads.
func New(cfg *config.Config, deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	a := &App{
		cfg:         cfg,
		backend:     deps.Backend,
		clock:       clk,
		logger:      logger,
		resultsDone: make(chan struct{}),
		transfers:   make(map[string]*transfer),
	}

	a.Store = store.New(deps.Backend, logger.With(slog.String("component", "store")))
	a.Profile = upload.NewProfileSlot(a.Store)
	a.Registry = registry.New(
		registry.WithLogger(logger.With(slog.String("component", "registry"))),
		registry.WithStateHook(a.settleProfile),
	)
	a.Guard = upload.NewGuard()
	a.Queue = upload.NewQueue(a.Store, clk)
	a.Drainer = upload.NewDrainer(a.Queue, deps.Transfer, a.Registry, logger.With(slog.String("component", "drain")))
	a.Pool = worker.NewPool(cfg.Uploads.Workers, deps.Transfer, logger.With(slog.String("component", "worker")))
	a.Lifecycle = lifecycle.NewMonitor(lifecycle.Active)

	a.Poller = poller.New(deps.Remote, a.Store, a.Lifecycle, clk, poller.Config{
		Interval:   cfg.Poller.Interval,
		TaskMaxAge: cfg.Poller.TaskMaxAge,
	}, logger.With(slog.String("component", "poller")))
	for _, typ := range []remote.RequestType{remote.TypeRecommendation, remote.TypeLookbook, remote.TypeChat, remote.TypeAnalyze} {
		a.Poller.RegisterResumer(typ, a.resumeTask)
	}

	a.Coordinator = coordinator.New(deps.Remote, a.Store, clk, coordinator.Config{
		MaxRetries:  cfg.Requests.MaxRetries,
		MaxAge:      cfg.Requests.MaxAge,
		AutoRestore: cfg.Requests.AutoRestore,
	}, logger.With(slog.String("component", "coordinator")))

	a.detach = append(a.detach, a.Poller.Attach(a.Lifecycle), a.Coordinator.Attach(a.Lifecycle))
	return a
}

// Start launches the worker pool and its results consumer.
func (a *App) Start() {
	a.Pool.Start()
	go func() {
		defer close(a.resultsDone)
		a.HandleResults(a.Pool.Results())
	}()
}

// RegisterWake registers the drain task with the host scheduler.
func (a *App) RegisterWake(s wake.Scheduler) error {
	return s.Register(a.cfg.Uploads.DrainInterval, a.Drainer)
}

// Transition forwards a host lifecycle event.
func (a *App) Transition(s lifecycle.State) bool {
	return a.Lifecycle.Set(s)
}

// Ping checks the durable backend when it supports it.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close is Shutdown without a deadline.
func (a *App) Close() error {
	return a.Shutdown(context.Background())
}

// Shutdown stops listening to lifecycle events, lets the worker pool finish
// its transfers and closes the store. When ctx ends first the remaining
// transfers are aborted; they fail and move to the durable queue. Call Start
// first.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		for _, d := range a.detach {
			d()
		}

		drained := make(chan struct{})
		go func() {
			a.Pool.Shutdown()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			a.logger.Warn("aborting foreground transfers", slog.String("reason", ctx.Err().Error()))
			a.Pool.Abort()
			<-drained
		}

		<-a.resultsDone
		err = a.Store.Close()
	})
	return err
}

// BeginUpload starts a foreground upload of sourceURI. The outcome is
// delivered to registry listeners on messageID: the URL string on success.
// A transfer that cannot start now, or fails, is left in the durable queue
// for the drain task.
func (a *App) BeginUpload(ctx context.Context, sourceURI, messageID string) (Ticket, error) {
	if sourceURI == "" || messageID == "" {
		return Ticket{}, upload.ErrInvalidUpload
	}

	a.mu.Lock()
	if a.Guard.TryStart(sourceURI) {
		u, err := a.newUpload(sourceURI, messageID)
		if err != nil {
			a.mu.Unlock()
			a.Guard.Finish(sourceURI, false)
			return Ticket{}, err
		}
		a.transfers[sourceURI] = &transfer{upload: u}
		a.mu.Unlock()
		return a.submit(ctx, u)
	}

	if t, ok := a.transfers[sourceURI]; ok && a.Guard.IsQueued(sourceURI) {
		a.Guard.OnFinish(sourceURI, func(success bool) {
			a.onAttachedFinish(t, sourceURI, messageID, success)
		})
		a.mu.Unlock()
		a.logger.Info("upload attached to transfer in flight",
			slog.String("source_uri", sourceURI),
			slog.String("message_id", messageID),
			slog.String("upload_id", t.upload.ID),
		)
		return Ticket{ID: t.upload.ID, MessageID: messageID, Disposition: Attached}, nil
	}
	a.mu.Unlock()

	u, err := a.Queue.Enqueue(ctx, sourceURI, messageID)
	if err != nil {
		return Ticket{}, fmt.Errorf("app: enqueue upload: %w", err)
	}
	a.logger.Info("upload queued behind transfer in flight",
		slog.String("upload_id", u.ID),
		slog.String("message_id", messageID),
		slog.String("current", a.Guard.State().Current),
	)
	return Ticket{ID: u.ID, MessageID: messageID, Disposition: Queued}, nil
}

// ResumeProfileUpload restarts an upload that was in flight when the
// process died. It reports false when there was nothing to resume.
func (a *App) ResumeProfileUpload(ctx context.Context) (Ticket, bool, error) {
	u, ok := a.Profile.Get(ctx)
	if !ok {
		return Ticket{}, false, nil
	}

	a.mu.Lock()
	if a.Guard.TryStart(u.SourceURI) {
		a.transfers[u.SourceURI] = &transfer{upload: u}
		a.mu.Unlock()
		a.logger.Info("resuming interrupted upload", slog.String("upload_id", u.ID))
		t, err := a.submit(ctx, u)
		return t, true, err
	}
	a.mu.Unlock()

	if err := a.requeue(ctx, u); err != nil {
		return Ticket{}, true, err
	}
	return Ticket{ID: u.ID, MessageID: u.MessageID, Disposition: Queued}, true, nil
}

func (a *App) submit(ctx context.Context, u upload.PendingUpload) (Ticket, error) {
	if err := a.Profile.Set(ctx, u); err != nil {
		a.release(u.SourceURI)
		a.Guard.Finish(u.SourceURI, false)
		return Ticket{}, fmt.Errorf("app: persist upload: %w", err)
	}
	// The transfer outlives the caller's request.
	if !a.Pool.Submit(worker.Job{Ctx: context.WithoutCancel(ctx), Upload: u}) {
		a.release(u.SourceURI)
		a.Guard.Finish(u.SourceURI, false)
		return Ticket{}, errors.New("app: worker pool stopped")
	}
	return Ticket{ID: u.ID, MessageID: u.MessageID, Disposition: Started}, nil
}

// HandleResults consumes pool results until the channel is closed.
func (a *App) HandleResults(results <-chan worker.Result) {
	for res := range results {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.handleResult(ctx, res)
		cancel()
	}
}

func (a *App) handleResult(ctx context.Context, res worker.Result) {
	u := res.Upload
	t := a.release(u.SourceURI)
	if t != nil {
		t.url = res.URL
	}

	if res.Err != nil {
		a.logger.Error("foreground upload failed, moved to queue",
			slog.String("upload_id", u.ID),
			slog.String("message_id", u.MessageID),
			slog.String("error", res.Err.Error()),
		)
		if err := a.requeue(ctx, u); err != nil {
			a.logger.Error("requeue failed upload", slog.String("upload_id", u.ID), slog.String("error", err.Error()))
		}
		a.Guard.Finish(u.SourceURI, false)
		return
	}

	n := a.Registry.Notify(ctx, registry.CorrelationID(u.MessageID), res.URL)
	a.logger.Info("foreground upload completed",
		slog.String("upload_id", u.ID),
		slog.String("message_id", u.MessageID),
		slog.Int("listeners", n),
	)
	a.Guard.Finish(u.SourceURI, true)
}

func (a *App) onAttachedFinish(t *transfer, sourceURI, messageID string, success bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if success {
		a.Registry.Notify(ctx, registry.CorrelationID(messageID), t.url)
		return
	}
	if _, err := a.Queue.Enqueue(ctx, sourceURI, messageID); err != nil {
		a.logger.Error("queue attached upload", slog.String("message_id", messageID), slog.String("error", err.Error()))
	}
}

// requeue hands u to the drain task and clears the profile slot.
func (a *App) requeue(ctx context.Context, u upload.PendingUpload) error {
	if _, err := a.Queue.Enqueue(ctx, u.SourceURI, u.MessageID); err != nil {
		return fmt.Errorf("app: requeue upload: %w", err)
	}
	return a.Profile.Clear(ctx, u.ID)
}

func (a *App) release(sourceURI string) *transfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.transfers[sourceURI]
	delete(a.transfers, sourceURI)
	return t
}

func (a *App) newUpload(sourceURI, messageID string) (upload.PendingUpload, error) {
	return upload.NewPendingUpload(sourceURI, messageID, a.clock.Now())
}

// settleProfile runs before registry callbacks: a delivered upload result
// means the persisted in-progress upload is done.
func (a *App) settleProfile(ctx context.Context, id registry.CorrelationID, _ any) error {
	u, ok := a.Profile.Get(ctx)
	if !ok || u.MessageID != string(id) {
		return nil
	}
	return a.Profile.Clear(ctx, u.ID)
}

// SubmitLongTask submits a remote job and polls it while in the foreground.
// The outcome is delivered to registry listeners on the task id as a
// TaskOutcome.
func (a *App) SubmitLongTask(ctx context.Context, typ remote.RequestType, params json.RawMessage, submitEndpoint, statusEndpoint string) (string, error) {
	id, err := a.Poller.SubmitTask(ctx, typ, params, submitEndpoint, statusEndpoint)
	if err != nil {
		return "", err
	}
	a.Poller.PollTaskStatus(id, statusEndpoint, a.taskHandlers(id))
	return id, nil
}

func (a *App) resumeTask(_ context.Context, t poller.Task) {
	a.Poller.PollTaskStatus(t.ID, t.StatusEndpoint, a.taskHandlers(t.ID))
}

func (a *App) taskHandlers(taskID string) poller.Handlers {
	logger := a.logger.With(slog.String("task_id", taskID))
	notify := func(o TaskOutcome) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Registry.Notify(ctx, registry.CorrelationID(taskID), o)
	}
	return poller.Handlers{
		OnProgress: func(p int) {
			logger.Debug("task progress", slog.Int("progress", p))
		},
		OnComplete: func(result json.RawMessage) {
			notify(TaskOutcome{TaskID: taskID, Result: result})
		},
		OnError: func(err error) {
			notify(TaskOutcome{TaskID: taskID, Err: err})
		},
	}
}
