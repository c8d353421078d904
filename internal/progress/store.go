package progress

import (
	"context"
	"fmt"
	"time"
)

// ErrTaskNotFound is returned for unknown or expired task ids. Expiry is a
// normal terminal-lookup outcome, not a system error.
var ErrTaskNotFound = fmt.Errorf("task not found")

// TTL is how long a task entry survives after its last write. Every write
// refreshes it, so a terminal task expires a fixed duration after
// completion.
const TTL = 10 * time.Minute

// Store is the external, shared task progress store. Entries are
// partitioned by task id; each task has a single writing goroutine, so
// last-write-wins needs no extra locking at this layer.
type Store interface {
	// Create registers a new task record.
	Create(ctx context.Context, task *Task) error

	// Get returns the current task state, or ErrTaskNotFound when the id is
	// unknown or the entry has expired.
	Get(ctx context.Context, taskID string) (*Task, error)

	// Update pushes a progress/message update. Progress is clamped so it
	// never decreases while the task is non-terminal; updates against a
	// terminal task are ignored.
	Update(ctx context.Context, taskID string, progress int, message string) error

	// SetTerminal writes the task's terminal state exactly once. A second
	// terminal write for the same task is a no-op.
	SetTerminal(ctx context.Context, taskID string, status TaskStatus, resultRef, errMsg string) error

	// Delete removes a task record.
	Delete(ctx context.Context, taskID string) error
}

func taskKey(taskID string) string {
	return "task_progress:" + taskID
}
