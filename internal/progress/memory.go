package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store satisfying the same contract as the
// redis implementation. It exists for tests and single-process runs; the
// injectable clock lets expiry be exercised without waiting.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	task      Task
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory task progress store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) live(taskID string) (*memoryEntry, bool) {
	entry, ok := s.entries[taskID]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, taskID)
		return nil, false
	}
	return entry, true
}

// Create registers a new task record
func (s *MemoryStore) Create(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[task.ID] = &memoryEntry{
		task:      *task,
		expiresAt: s.now().Add(TTL),
	}
	return nil
}

// Get returns the current task state
func (s *MemoryStore) Get(ctx context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(taskID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task := entry.task
	return &task, nil
}

// Update pushes a progress/message update
func (s *MemoryStore) Update(ctx context.Context, taskID string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if entry.task.Status.Terminal() {
		return nil
	}
	if entry.task.Status == TaskStatusPending {
		entry.task.MarkRunning()
	}
	if progress > entry.task.Progress {
		entry.task.Progress = progress
	}
	entry.task.Message = message
	entry.expiresAt = s.now().Add(TTL)
	return nil
}

// SetTerminal writes the task's terminal state exactly once
func (s *MemoryStore) SetTerminal(ctx context.Context, taskID string, status TaskStatus, resultRef, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if entry.task.Status.Terminal() {
		return nil
	}

	switch status {
	case TaskStatusCompleted:
		entry.task.MarkCompleted(resultRef)
	case TaskStatusFailed:
		entry.task.MarkFailed(errMsg)
	default:
		return fmt.Errorf("status %s is not terminal", status)
	}
	entry.expiresAt = s.now().Add(TTL)
	return nil
}

// Delete removes a task record
func (s *MemoryStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, taskID)
	return nil
}
