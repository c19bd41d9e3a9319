// Package coordinator makes one-shot remote requests replayable: a request is
// persisted before it is sent and removed once the call succeeds, so an
// interrupted or failed call can be restored later, manually or on the next
// foreground transition.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mtiwari1/stylesync/internal/clock"
	"github.com/mtiwari1/stylesync/internal/lifecycle"
	"github.com/mtiwari1/stylesync/internal/remote"
	"github.com/mtiwari1/stylesync/internal/store"
)

const (
	DefaultMaxRetries    = 3
	DefaultRequestMaxAge = 24 * time.Hour
)

var (
	// ErrNotFound is returned when no persisted request has the given id.
	ErrNotFound = errors.New("coordinator: request not found")

	// ErrRetryLimit is returned when a request has used all its replays.
	ErrRetryLimit = errors.New("coordinator: retry limit reached")
)

// PersistedRequest is a remote call that has not been confirmed successful.
type PersistedRequest struct {
	ID         string             `json:"id"`
	Type       remote.RequestType `json:"type"`
	Timestamp  int64              `json:"timestamp"`
	Params     json.RawMessage    `json:"params,omitempty"`
	Progress   int                `json:"progress"`
	RetryCount int                `json:"retryCount"`
	MaxRetries int                `json:"maxRetries"`
}

// RecordID implements store.Record.
func (r PersistedRequest) RecordID() string { return r.ID }

// Exhausted reports whether no replays remain.
func (r PersistedRequest) Exhausted() bool { return r.RetryCount >= r.MaxRetries }

// Config holds retry and expiry policy.
type Config struct {
	MaxRetries  int
	MaxAge      time.Duration
	AutoRestore bool
}

// RestoreOutcome is the result of replaying one request.
type RestoreOutcome struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    error           `json:"-"`
}

// RestoreReport summarizes a RestoreAll pass.
type RestoreReport struct {
	Restored []RestoreOutcome
	Failed   []RestoreOutcome
	Skipped  []string // ids at the retry ceiling
}

// Coordinator wraps remote calls with durability.
type Coordinator struct {
	invoker  remote.Invoker
	requests *store.Collection[PersistedRequest]
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger

	autoRestore atomic.Bool
	newID       func() string
}

// New constructs a Coordinator storing requests under store.KindPersistedRequests.
func New(inv remote.Invoker, s *store.Store, clk clock.Clock, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultRequestMaxAge
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		invoker:  inv,
		requests: store.NewCollection[PersistedRequest](s, store.KindPersistedRequests),
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		newID:    func() string { return uuid.New().String() },
	}
	c.autoRestore.Store(cfg.AutoRestore)
	return c
}

// Attach subscribes the coordinator to lifecycle transitions.
func (c *Coordinator) Attach(m *lifecycle.Monitor) (detach func()) {
	return m.Subscribe(func(s lifecycle.State) {
		c.HandleTransition(context.Background(), s)
	})
}

// Request performs the call for typ. The request is persisted first and
// removed on success or on a permanent rejection; on any other failure it
// stays persisted with a zero retry count. Errors are always returned.
func (c *Coordinator) Request(ctx context.Context, typ remote.RequestType, params any) (json.RawMessage, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	rec := PersistedRequest{
		ID:         c.newID(),
		Type:       typ,
		Timestamp:  clock.EpochMillis(c.clock.Now()),
		Params:     raw,
		MaxRetries: c.cfg.MaxRetries,
	}
	if err := c.requests.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("coordinator: persist request: %w", err)
	}

	logger := c.logger.With(slog.String("request_id", rec.ID), slog.String("type", string(typ)))

	result, err := c.invoker.Invoke(ctx, typ, raw)
	if err != nil {
		if permanent(err) {
			c.drop(ctx, logger, rec.ID, err)
		} else {
			logger.Warn("request failed, kept for restore", slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("coordinator: %s: %w", typ, err)
	}

	if err := c.requests.Remove(context.WithoutCancel(ctx), rec.ID); err != nil {
		logger.Error("remove completed request", slog.String("error", err.Error()))
	}
	return result, nil
}

// ManuallyRestoreRequest replays the persisted request id. It refuses without
// side effects once the retry ceiling is reached; otherwise the retry count is
// incremented and persisted before the call. A permanent rejection removes the
// request.
func (c *Coordinator) ManuallyRestoreRequest(ctx context.Context, id string) (json.RawMessage, error) {
	rec, ok := c.requests.Find(ctx, id)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Exhausted() {
		return nil, fmt.Errorf("%w: %s (%d/%d)", ErrRetryLimit, id, rec.RetryCount, rec.MaxRetries)
	}

	rec.RetryCount++
	if err := c.requests.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("coordinator: persist retry count: %w", err)
	}

	logger := c.logger.With(
		slog.String("request_id", id),
		slog.String("type", string(rec.Type)),
		slog.Int("retry", rec.RetryCount),
	)

	result, err := c.invoker.Invoke(ctx, rec.Type, rec.Params)
	if err != nil {
		if permanent(err) {
			c.drop(ctx, logger, id, err)
		} else {
			logger.Warn("restore failed", slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("coordinator: restore %s: %w", id, err)
	}

	if err := c.requests.Remove(context.WithoutCancel(ctx), id); err != nil {
		logger.Error("remove restored request", slog.String("error", err.Error()))
	}
	logger.Info("request restored")
	return result, nil
}

// ManuallyRestoreAllRequests replays every persisted request one after the
// other. Requests at the retry ceiling are skipped.
func (c *Coordinator) ManuallyRestoreAllRequests(ctx context.Context) RestoreReport {
	var rep RestoreReport
	for _, rec := range c.GetAllPersistedRequests(ctx) {
		if ctx.Err() != nil {
			break
		}
		if rec.Exhausted() {
			rep.Skipped = append(rep.Skipped, rec.ID)
			continue
		}
		res, err := c.ManuallyRestoreRequest(ctx, rec.ID)
		if err != nil {
			rep.Failed = append(rep.Failed, RestoreOutcome{ID: rec.ID, Err: err})
			continue
		}
		rep.Restored = append(rep.Restored, RestoreOutcome{ID: rec.ID, Result: res})
	}
	return rep
}

// GetAllPersistedRequests lists outstanding requests, dropping any older than
// the maximum age.
func (c *Coordinator) GetAllPersistedRequests(ctx context.Context) []PersistedRequest {
	cutoff := clock.EpochMillis(c.clock.Now().Add(-c.cfg.MaxAge))

	all := c.requests.GetAll(ctx)
	live := make([]PersistedRequest, 0, len(all))
	var expired []string
	for _, r := range all {
		if r.Timestamp < cutoff {
			expired = append(expired, r.ID)
			continue
		}
		live = append(live, r)
	}

	if len(expired) > 0 {
		if err := c.requests.Remove(ctx, expired...); err != nil {
			c.logger.Error("expiry sweep", slog.String("error", err.Error()))
		} else {
			c.logger.Info("expired requests dropped", slog.Int("count", len(expired)))
		}
	}
	return live
}

// Discard removes a persisted request without replaying it.
func (c *Coordinator) Discard(ctx context.Context, id string) error {
	if _, ok := c.requests.Find(ctx, id); !ok {
		return ErrNotFound
	}
	if err := c.requests.Remove(ctx, id); err != nil {
		return fmt.Errorf("coordinator: discard %s: %w", id, err)
	}
	return nil
}

// SetAutoRestore selects automatic restoration on foreground transitions
// instead of waiting for the user.
func (c *Coordinator) SetAutoRestore(enabled bool) {
	c.autoRestore.Store(enabled)
}

// AutoRestore reports the current restore mode.
func (c *Coordinator) AutoRestore() bool {
	return c.autoRestore.Load()
}

// HandleTransition restores everything on a foreground transition when
// auto-restore is on.
func (c *Coordinator) HandleTransition(ctx context.Context, s lifecycle.State) {
	if s != lifecycle.Active || !c.AutoRestore() {
		return
	}
	rep := c.ManuallyRestoreAllRequests(ctx)
	c.logger.Info("auto-restore finished",
		slog.Int("restored", len(rep.Restored)),
		slog.Int("failed", len(rep.Failed)),
		slog.Int("skipped", len(rep.Skipped)),
	)
}

// permanent reports whether the remote rejected the call in a way a replay
// cannot fix.
func permanent(err error) bool {
	var se *remote.StatusError
	return errors.As(err, &se) && se.Permanent()
}

// drop removes a request the remote refused for good.
func (c *Coordinator) drop(ctx context.Context, logger *slog.Logger, id string, cause error) {
	if err := c.requests.Remove(context.WithoutCancel(ctx), id); err != nil {
		logger.Error("remove rejected request", slog.String("error", err.Error()))
		return
	}
	logger.Warn("request rejected permanently, dropped", slog.String("error", cause.Error()))
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("coordinator: encode params: %w", err)
	}
	return raw, nil
}
