package progress

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus task status
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether a status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one tracked unit of asynchronous processing work. Only the
// background goroutine owning the task id mutates it; the store is the
// shared source of truth across worker processes.
type Task struct {
	ID          string     `json:"id"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	ResultRef   string     `json:"result_ref,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a pending task with a fresh opaque id
func NewTask() *Task {
	return &Task{
		ID:        uuid.New().String(),
		Status:    TaskStatusPending,
		Progress:  0,
		Message:   "created",
		CreatedAt: time.Now(),
	}
}

// MarkRunning marks the task as picked up by its background executor
func (t *Task) MarkRunning() {
	t.Status = TaskStatusRunning
}

// MarkCompleted records the terminal success state with the artifact ref
func (t *Task) MarkCompleted(resultRef string) {
	t.Status = TaskStatusCompleted
	t.Progress = 100
	t.Message = "completed"
	t.ResultRef = resultRef
	now := time.Now()
	t.CompletedAt = &now
}

// MarkFailed records the terminal failure state
func (t *Task) MarkFailed(errMsg string) {
	t.Status = TaskStatusFailed
	t.Message = "failed"
	t.Error = errMsg
	now := time.Now()
	t.CompletedAt = &now
}
