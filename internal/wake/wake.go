// Package wake registers work with the host's opportunistic background
// scheduler. The host decides when (and whether) a registered task runs;
// callers must treat every invocation as best effort.
package wake

import (
	"context"
	"time"
)

// Result tells the host what a wake invocation accomplished so it can tune
// its own scheduling.
type Result string

const (
	NoData  Result = "no_data"
	NewData Result = "new_data"
	Failed  Result = "failed"
)

// Task is a unit of work run on a host wake.
type Task interface {
	Run(ctx context.Context) Result
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) Result

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) Result { return f(ctx) }

// Scheduler registers a task with a requested minimum interval. The interval
// is a hint: the host may run the task less often or never.
type Scheduler interface {
	Register(interval time.Duration, task Task) error
}
