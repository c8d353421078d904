package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"imageforge/internal/config"
)

// RedisStore keeps task state as JSON blobs under task_progress:{id} with a
// TTL refreshed on every write. Redis is shared across worker processes, so
// any process can serve progress reads.
type RedisStore struct {
	redis  *redis.Client
	logger *logrus.Logger
}

// NewRedisStore creates a redis-backed task progress store
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		redis:  rdb,
		logger: config.NewLogger(),
	}
}

// Ping verifies the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisStore) write(ctx context.Context, task *Task) error {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := s.redis.Set(ctx, taskKey(task.ID), taskJSON, TTL).Err(); err != nil {
		return fmt.Errorf("failed to write task to redis: %w", err)
	}
	return nil
}

// Create registers a new task record
func (s *RedisStore) Create(ctx context.Context, task *Task) error {
	if err := s.write(ctx, task); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"status":  task.Status,
	}).Info("Task created")
	return nil
}

// Get returns the current task state
func (s *RedisStore) Get(ctx context.Context, taskID string) (*Task, error) {
	taskJSON, err := s.redis.Get(ctx, taskKey(taskID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to read task from redis: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Update pushes a progress/message update
func (s *RedisStore) Update(ctx context.Context, taskID string, progress int, message string) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}
	if task.Status == TaskStatusPending {
		task.MarkRunning()
	}
	if progress > task.Progress {
		task.Progress = progress
	}
	task.Message = message
	return s.write(ctx, task)
}

// SetTerminal writes the task's terminal state exactly once
func (s *RedisStore) SetTerminal(ctx context.Context, taskID string, status TaskStatus, resultRef, errMsg string) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		s.logger.WithField("task_id", taskID).Warn("Ignoring duplicate terminal write")
		return nil
	}

	switch status {
	case TaskStatusCompleted:
		task.MarkCompleted(resultRef)
	case TaskStatusFailed:
		task.MarkFailed(errMsg)
	default:
		return fmt.Errorf("status %s is not terminal", status)
	}

	if err := s.write(ctx, task); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"task_id": taskID,
		"status":  status,
	}).Info("Task reached terminal state")
	return nil
}

// Delete removes a task record
func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.redis.Del(ctx, taskKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete task from redis: %w", err)
	}
	return nil
}
