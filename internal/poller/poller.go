// Package poller submits long-running remote jobs, persists them, and polls
// their status only while the host application is in the foreground.
//
// Backgrounding cancels every armed timer; no network call is made until the
// next foreground transition re-evaluates all persisted tasks.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mtiwari1/stylesync/internal/clock"
	"github.com/mtiwari1/stylesync/internal/lifecycle"
	"github.com/mtiwari1/stylesync/internal/remote"
	"github.com/mtiwari1/stylesync/internal/store"
)

const (
	DefaultInterval       = 3 * time.Second
	DefaultTaskMaxAge     = time.Hour
	DefaultRequestTimeout = 10 * time.Second
)

// ErrExpired is delivered to OnError when a task outlives the maximum age.
var ErrExpired = errors.New("poller: task expired")

// Task is the persisted record of a submitted remote job.
type Task struct {
	ID             string             `json:"id"`
	Type           remote.RequestType `json:"type"`
	Timestamp      int64              `json:"timestamp"`
	Params         json.RawMessage    `json:"params,omitempty"`
	Progress       int                `json:"progress"`
	StatusEndpoint string             `json:"status_endpoint,omitempty"`
}

// RecordID implements store.Record.
func (t Task) RecordID() string { return t.ID }

// TaskError is a permanent failure reported by the status endpoint.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("poller: task %s failed: %s", e.TaskID, e.Message)
}

// Handlers receive the outcome of a polled task. Nil handlers are skipped.
type Handlers struct {
	OnProgress func(progress int)
	OnComplete func(result json.RawMessage)
	OnError    func(err error)
}

// Resumer re-attaches interest in a persisted task of one type after a
// foreground transition, typically by calling PollTaskStatus with fresh
// handlers.
type Resumer func(ctx context.Context, t Task)

// Config holds the poll cadence and expiry.
type Config struct {
	Interval       time.Duration
	TaskMaxAge     time.Duration
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TaskMaxAge <= 0 {
		c.TaskMaxAge = DefaultTaskMaxAge
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

type watch struct {
	taskID   string
	endpoint string
	h        Handlers
}

// Poller tracks one poll loop per task.
type Poller struct {
	svc       remote.TaskService
	tasks     *store.Collection[Task]
	lifecycle lifecycle.Source
	clock     clock.Clock
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	timers   map[string]clock.Timer
	active   map[string]*watch // live poll loops
	watches  map[string]*watch // handlers known to this process
	resumers map[remote.RequestType]Resumer
}

// New constructs a Poller storing tasks under store.KindLongTasks.
func New(svc remote.TaskService, s *store.Store, src lifecycle.Source, clk clock.Clock, cfg Config, logger *slog.Logger) *Poller {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		svc:       svc,
		tasks:     store.NewCollection[Task](s, store.KindLongTasks),
		lifecycle: src,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
		timers:    make(map[string]clock.Timer),
		active:    make(map[string]*watch),
		watches:   make(map[string]*watch),
		resumers:  make(map[remote.RequestType]Resumer),
	}
}

// Attach subscribes the poller to lifecycle transitions.
func (p *Poller) Attach(m *lifecycle.Monitor) (detach func()) {
	return m.Subscribe(func(s lifecycle.State) {
		p.HandleTransition(context.Background(), s)
	})
}

// RegisterResumer installs the resume hook for tasks of typ.
func (p *Poller) RegisterResumer(typ remote.RequestType, r Resumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumers[typ] = r
}

// SubmitTask creates the remote job, persists it and returns its task id
// without waiting for the job.
func (p *Poller) SubmitTask(ctx context.Context, typ remote.RequestType, params json.RawMessage, submitEndpoint, statusEndpoint string) (string, error) {
	taskID, err := p.svc.Submit(ctx, submitEndpoint, params)
	if err != nil {
		return "", fmt.Errorf("poller: submit %s: %w", typ, err)
	}

	t := Task{
		ID:             taskID,
		Type:           typ,
		Timestamp:      clock.EpochMillis(p.clock.Now()),
		Params:         params,
		StatusEndpoint: statusEndpoint,
	}
	if err := p.tasks.Upsert(ctx, t); err != nil {
		// The remote job exists; polling still works for this process.
		p.logger.Error("persist submitted task", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}

	p.logger.Info("task submitted", slog.String("task_id", taskID), slog.String("type", string(typ)))
	return taskID, nil
}

// PollTaskStatus starts the poll loop for taskID. It reports false, doing
// nothing, when a loop for taskID is already running.
func (p *Poller) PollTaskStatus(taskID, statusEndpoint string, h Handlers) bool {
	p.mu.Lock()
	if _, running := p.active[taskID]; running {
		p.mu.Unlock()
		return false
	}
	w := &watch{taskID: taskID, endpoint: statusEndpoint, h: h}
	p.active[taskID] = w
	p.watches[taskID] = w
	p.mu.Unlock()

	p.schedule(w, 0)
	return true
}

// IsPolling reports whether a poll loop for taskID is running.
func (p *Poller) IsPolling(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[taskID]
	return ok
}

// Pending returns every persisted task.
func (p *Poller) Pending(ctx context.Context) []Task {
	return p.tasks.GetAll(ctx)
}

// HandleTransition reacts to a lifecycle change: backgrounding cancels every
// timer, foregrounding re-checks all persisted tasks.
func (p *Poller) HandleTransition(ctx context.Context, s lifecycle.State) {
	switch s {
	case lifecycle.Background:
		p.cancelAll()
	case lifecycle.Active:
		p.CheckAllPendingTasks(ctx)
	}
}

// CheckAllPendingTasks drops tasks older than the maximum age and resumes
// the rest. It returns the tasks that were resumed.
func (p *Poller) CheckAllPendingTasks(ctx context.Context) []Task {
	now := p.clock.Now()
	var live []Task
	var expired []Task
	for _, t := range p.tasks.GetAll(ctx) {
		if now.Sub(time.UnixMilli(t.Timestamp)) > p.cfg.TaskMaxAge {
			expired = append(expired, t)
			continue
		}
		live = append(live, t)
	}

	if len(expired) > 0 {
		ids := make([]string, 0, len(expired))
		for _, t := range expired {
			ids = append(ids, t.ID)
		}
		if err := p.tasks.Remove(ctx, ids...); err != nil {
			p.logger.Error("remove expired tasks", slog.String("error", err.Error()))
		}
		for _, t := range expired {
			p.logger.Info("task expired", slog.String("task_id", t.ID), slog.String("type", string(t.Type)))
			if w := p.forget(t.ID); w != nil && w.h.OnError != nil {
				w.h.OnError(ErrExpired)
			}
		}
	}

	for _, t := range live {
		p.resume(ctx, t)
	}
	return live
}

func (p *Poller) resume(ctx context.Context, t Task) {
	p.mu.Lock()
	w, known := p.watches[t.ID]
	r := p.resumers[t.Type]
	p.mu.Unlock()

	switch {
	case known:
		p.PollTaskStatus(t.ID, w.endpoint, w.h)
	case r != nil:
		r(ctx, t)
	default:
		p.logger.Debug("no resumer for task", slog.String("task_id", t.ID), slog.String("type", string(t.Type)))
	}
}

func (p *Poller) cancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
	n := len(p.active)
	p.active = make(map[string]*watch)
	p.logger.Info("polling paused for background", slog.Int("loops", n))
}

// schedule arms the next tick for w unless its loop has been cancelled.
func (p *Poller) schedule(w *watch, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[w.taskID] != w {
		return
	}
	p.timers[w.taskID] = p.clock.AfterFunc(d, func() { p.tick(w) })
}

func (p *Poller) tick(w *watch) {
	p.mu.Lock()
	if p.active[w.taskID] != w {
		p.mu.Unlock()
		return
	}
	delete(p.timers, w.taskID)
	p.mu.Unlock()

	if p.lifecycle.State() != lifecycle.Active {
		p.stop(w)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	st, err := p.svc.Status(ctx, w.endpoint, w.taskID)
	cancel()

	if err != nil {
		p.logger.Warn("status poll failed",
			slog.String("task_id", w.taskID),
			slog.String("error", err.Error()),
		)
		p.schedule(w, 2*p.cfg.Interval)
		return
	}

	switch st.Status {
	case remote.StatusCompleted:
		p.finish(w)
		if w.h.OnComplete != nil {
			w.h.OnComplete(st.Result)
		}
	case remote.StatusFailed:
		p.finish(w)
		if w.h.OnError != nil {
			w.h.OnError(&TaskError{TaskID: w.taskID, Message: st.Error})
		}
	default:
		p.recordProgress(w.taskID, st.Progress)
		if w.h.OnProgress != nil {
			w.h.OnProgress(st.Progress)
		}
		p.schedule(w, p.cfg.Interval)
	}
}

func (p *Poller) recordProgress(taskID string, progress int) {
	ctx := context.Background()
	err := p.tasks.Update(ctx, func(ts []Task) []Task {
		for i := range ts {
			if ts[i].ID == taskID {
				ts[i].Progress = progress
			}
		}
		return ts
	})
	if err != nil {
		p.logger.Error("persist progress", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}

// stop ends w's loop but keeps its handlers for a later resume.
func (p *Poller) stop(w *watch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[w.taskID] == w {
		delete(p.active, w.taskID)
	}
}

// finish ends w's loop and deletes the persisted task.
func (p *Poller) finish(w *watch) {
	p.forget(w.taskID)
	if err := p.tasks.Remove(context.Background(), w.taskID); err != nil {
		p.logger.Error("remove finished task", slog.String("task_id", w.taskID), slog.String("error", err.Error()))
	}
}

func (p *Poller) forget(taskID string) *watch {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.watches[taskID]
	delete(p.watches, taskID)
	delete(p.active, taskID)
	if t, ok := p.timers[taskID]; ok {
		t.Stop()
		delete(p.timers, taskID)
	}
	return w
}
