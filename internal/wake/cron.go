package wake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CronScheduler runs registered tasks on robfig/cron "@every" schedules. It
// stands in for the OS background-fetch service when running as a daemon.
type CronScheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries []cron.EntryID
}

// NewCronScheduler creates a stopped scheduler. Each invocation is bounded by
// timeout.
func NewCronScheduler(timeout time.Duration, logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		// SkipIfStillRunning keeps a slow drain from overlapping the next one.
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: timeout,
		logger:  logger,
	}
}

// Register schedules task every interval.
func (s *CronScheduler) Register(interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("wake: interval must be positive, got %s", interval)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		res := task.Run(ctx)
		s.logger.Info("wake task finished",
			slog.String("result", string(res)),
			slog.Duration("latency", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("wake: register: %w", err)
	}

	s.mu.Lock()
	s.entries = append(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Entries returns the number of registered tasks.
func (s *CronScheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start begins running schedules in the background.
func (s *CronScheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running tasks to finish or ctx to end.
func (s *CronScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
