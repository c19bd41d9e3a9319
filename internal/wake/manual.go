package wake

import (
	"context"
	"sync"
	"time"
)

// Manual records registrations and runs them only when Fire is called. The
// one-shot drain command uses it when the host launches the process for a
// background wake.
type Manual struct {
	mu    sync.Mutex
	tasks []Task
}

// Register records task; interval is ignored.
func (m *Manual) Register(_ time.Duration, task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}

// Fire runs every registered task once, in registration order, and returns
// their results.
func (m *Manual) Fire(ctx context.Context) []Result {
	m.mu.Lock()
	tasks := append([]Task(nil), m.tasks...)
	m.mu.Unlock()

	out := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Run(ctx))
	}
	return out
}
