package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"imageforge/internal/config"
	"imageforge/internal/credits"
	"imageforge/internal/metrics"
	"imageforge/internal/processor"
	"imageforge/internal/progress"
)

// synchronous submission errors; everything after submission is reported
// through the task's terminal state instead
var (
	ErrInsufficientCredits = fmt.Errorf("insufficient credits")
	ErrDebitFailed         = fmt.Errorf("credits debit failed")
)

// SubmitRequest is one processing request.
type SubmitRequest struct {
	ProcessingType string
	Parameters     processor.Params
	Image          []byte // nil for strategies without image input
	UserID         int64
}

// ArtifactStore persists result images and returns the caller-visible ref.
type ArtifactStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// Orchestrator accepts processing requests, reserves credits, and runs each
// task on a bounded background worker pool decoupled from the caller.
type Orchestrator struct {
	registry  *processor.Registry
	store     progress.Store
	ledger    credits.Ledger
	artifacts ArtifactStore
	logger    *logrus.Logger

	cost            int
	refundOnFailure bool

	// slots bounds concurrent background executions so a stuck remote job
	// consumes a pool slot, not the ability to accept submissions
	slots chan struct{}
	wg    sync.WaitGroup
}

// Options carries the credit policy and pool sizing.
type Options struct {
	CostPerOperation int
	RefundOnFailure  bool
	WorkerPoolSize   int
}

// NewOrchestrator creates the async job orchestrator
func NewOrchestrator(registry *processor.Registry, store progress.Store, ledger credits.Ledger, artifacts ArtifactStore, opts Options) *Orchestrator {
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = 8
	}
	return &Orchestrator{
		registry:        registry,
		store:           store,
		ledger:          ledger,
		artifacts:       artifacts,
		logger:          config.NewLogger(),
		cost:            opts.CostPerOperation,
		refundOnFailure: opts.RefundOnFailure,
		slots:           make(chan struct{}, opts.WorkerPoolSize),
	}
}

// Submit validates the request, debits credits, creates the task record and
// schedules background execution. It returns the task id immediately; the
// caller observes completion by polling the progress store.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	strategy, err := o.registry.Get(req.ProcessingType)
	if err != nil {
		return "", err
	}
	// admission checks run before the debit: a rejected request must never
	// cost credits or leave a task record behind
	if strategy.RequiresImage() && len(req.Image) == 0 {
		return "", fmt.Errorf("%w: %s requires an input image", processor.ErrInvalidParameters, req.ProcessingType)
	}
	if !strategy.Validate(req.Parameters) {
		return "", fmt.Errorf("%w for %s", processor.ErrInvalidParameters, req.ProcessingType)
	}

	ok, err := o.ledger.Check(ctx, req.UserID, o.cost)
	if err != nil {
		return "", fmt.Errorf("credits check: %w", err)
	}
	if !ok {
		return "", ErrInsufficientCredits
	}

	// charge-on-submit: the debit happens before any background work, and a
	// failed job keeps the charge unless refund-on-failure is enabled
	debited, err := o.ledger.Debit(ctx, req.UserID, o.cost)
	if err != nil {
		return "", fmt.Errorf("credits debit: %w", err)
	}
	if !debited {
		// lost the race between check and debit
		return "", ErrDebitFailed
	}
	metrics.CreditsDebited.Add(float64(o.cost))

	task := progress.NewTask()
	if err := o.store.Create(ctx, task); err != nil {
		// the task record is the caller's only window into the job; refund
		// and reject rather than running an unobservable task
		o.refund(req.UserID)
		return "", fmt.Errorf("create task record: %w", err)
	}

	metrics.TasksSubmitted.WithLabelValues(req.ProcessingType).Inc()
	o.logger.WithFields(logrus.Fields{
		"task_id":         task.ID,
		"processing_type": req.ProcessingType,
		"user_id":         req.UserID,
	}).Info("Task submitted")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.slots <- struct{}{}
		defer func() { <-o.slots }()
		o.execute(task.ID, req)
	}()

	return task.ID, nil
}

// execute is the background path. It owns all mutations for its task id and
// funnels every outcome through a single terminal write.
func (o *Orchestrator) execute(taskID string, req SubmitRequest) {
	// background execution outlives the HTTP request that created it
	ctx := context.Background()

	var resultRef string
	var runErr error

	// the single exit path: exactly one terminal write per task no matter
	// which step failed
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic during task execution: %v", r)
		}
		o.finish(ctx, taskID, req, resultRef, runErr)
	}()

	if err := o.store.Update(ctx, taskID, 0, "starting"); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to mark task running")
	}

	report := func(p int, message string) {
		if err := o.store.Update(ctx, taskID, p, message); err != nil {
			o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to push progress update")
		}
	}

	data, elapsed, err := o.registry.Dispatch(ctx, req.ProcessingType, req.Image, req.Parameters, report)
	if err != nil {
		runErr = err
		return
	}

	report(90, "saving result")
	ref, err := o.artifacts.Save(ctx, req.ProcessingType+".png", data)
	if err != nil {
		runErr = fmt.Errorf("save artifact: %w", err)
		return
	}

	resultRef = ref
	metrics.TaskDuration.WithLabelValues(req.ProcessingType).Observe(elapsed)
}

// finish writes the terminal state and applies the refund policy.
func (o *Orchestrator) finish(ctx context.Context, taskID string, req SubmitRequest, resultRef string, runErr error) {
	if runErr == nil {
		if err := o.store.SetTerminal(ctx, taskID, progress.TaskStatusCompleted, resultRef, ""); err != nil {
			o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to write completed state")
		}
		metrics.TasksCompleted.WithLabelValues(req.ProcessingType).Inc()
		o.logger.WithFields(logrus.Fields{
			"task_id":    taskID,
			"result_ref": resultRef,
		}).Info("Task completed")
		return
	}

	if err := o.store.SetTerminal(ctx, taskID, progress.TaskStatusFailed, "", runErr.Error()); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to write failed state")
	}
	metrics.TasksFailed.WithLabelValues(req.ProcessingType).Inc()
	o.logger.WithError(runErr).WithField("task_id", taskID).Warn("Task failed")

	if o.refundOnFailure {
		o.refund(req.UserID)
	}
}

func (o *Orchestrator) refund(userID int64) {
	if err := o.ledger.Refund(context.Background(), userID, o.cost); err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Error("Failed to refund credits")
		return
	}
	metrics.CreditsRefunded.Add(float64(o.cost))
}

// Wait blocks until all in-flight background tasks finish. Used by graceful
// shutdown and tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
