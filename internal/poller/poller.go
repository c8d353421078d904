package poller

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"imageforge/internal/comfyui"
	"imageforge/internal/config"
	"imageforge/internal/workflow"
)

// ErrJobTimedOut is returned when a remote job exceeds the wall-clock
// budget. The remote side may still finish later; its late result must not
// be mistaken for this task's, so there is no fallback on timeout.
var ErrJobTimedOut = fmt.Errorf("remote job timed out")

// ErrNoOutput is returned when a finished job produced no image output.
var ErrNoOutput = fmt.Errorf("remote job produced no image output")

// progress checkpoints. The running ramp is capped at 70 because the final
// stretch represents local download/save time, not remote wait time.
const (
	progressQueued     = 25
	progressRampBase   = 30
	progressRampPerSec = 2
	progressRampCap    = 70
)

// ReportFunc receives every progress update as it happens. Implementations
// forward to the task progress store so observers see intermediate states.
type ReportFunc func(progress int, message string)

// ProcessorClient is the slice of the remote client the poller needs.
type ProcessorClient interface {
	QueryQueue(ctx context.Context) (*comfyui.QueueState, error)
	QueryHistory(ctx context.Context, jobID string) (map[string]comfyui.NodeOutput, bool, error)
}

// Poller drives the wait-for-completion loop for one submitted remote job.
type Poller struct {
	client   ProcessorClient
	interval time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewPoller creates a poller with the standard 1-second poll interval
func NewPoller(client ProcessorClient, timeout time.Duration) *Poller {
	return &Poller{
		client:   client,
		interval: time.Second,
		timeout:  timeout,
		logger:   config.NewLogger(),
	}
}

// NewPollerWithInterval creates a poller with an explicit interval, used by
// tests to run the loop against a simulated clock.
func NewPollerWithInterval(client ProcessorClient, timeout, interval time.Duration) *Poller {
	p := NewPoller(client, timeout)
	p.interval = interval
	return p
}

// Wait polls until the job appears in history, the wall-clock budget is
// exceeded, or the context is cancelled. Every iteration pushes a progress
// update through report; progress never regresses.
func (p *Poller) Wait(ctx context.Context, jobID string, report ReportFunc) (map[string]comfyui.NodeOutput, error) {
	start := time.Now()
	runningSince := time.Time{}
	lastProgress := 0

	push := func(progress int, message string) {
		if progress < lastProgress {
			progress = lastProgress
		}
		lastProgress = progress
		if report != nil {
			report(progress, message)
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		outputs, done, err := p.client.QueryHistory(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if done {
			push(progressRampCap, "processing complete")
			return outputs, nil
		}

		state, err := p.client.QueryQueue(ctx)
		if err != nil {
			return nil, err
		}

		switch {
		case contains(state.Running, jobID):
			if runningSince.IsZero() {
				runningSince = time.Now()
			}
			seconds := int(time.Since(runningSince).Seconds())
			progress := progressRampBase + progressRampPerSec*seconds
			if progress > progressRampCap {
				progress = progressRampCap
			}
			push(progress, fmt.Sprintf("processing... (%ds)", seconds))

		case contains(state.Pending, jobID):
			position := indexOf(state.Pending, jobID) + 1
			push(progressQueued, fmt.Sprintf("queued (%d/%d)", position, len(state.Pending)))

		default:
			// the processor may not report the job yet; keep the previous
			// progress rather than guessing
			push(lastProgress, "waiting for remote queue")
		}

		if time.Since(start) > p.timeout {
			p.logger.WithFields(logrus.Fields{
				"job_id":  jobID,
				"elapsed": time.Since(start),
			}).Warn("Abandoning remote job after timeout; no remote cancellation issued")
			return nil, fmt.Errorf("%w after %d seconds", ErrJobTimedOut, int(p.timeout.Seconds()))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func contains(ids []string, id string) bool {
	return indexOf(ids, id) >= 0
}

func indexOf(ids []string, id string) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

// SelectOutput picks the result image from a finished job's outputs. Remote
// responses do not label "the" result, so selection must be deterministic:
// a declared final-output node wins; otherwise the highest-numbered
// non-input node with images; otherwise the first image-bearing node in
// sorted-key order. The graph supplies node class types so passthrough
// load nodes can be excluded.
func SelectOutput(outputs map[string]comfyui.NodeOutput, graph workflow.Graph, finalNodeID string) (comfyui.ImageRef, error) {
	if finalNodeID != "" {
		if out, ok := outputs[finalNodeID]; ok && len(out.Images) > 0 {
			return out.Images[0], nil
		}
	}

	ids := make([]string, 0, len(outputs))
	for id, out := range outputs {
		if len(out.Images) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return comfyui.ImageRef{}, ErrNoOutput
	}
	sort.Strings(ids)

	best := ""
	bestNum := -1
	for _, id := range ids {
		if node, ok := graph[id]; ok && workflow.IsInputClass(node.ClassType) {
			continue
		}
		if num, err := strconv.Atoi(id); err == nil && num > bestNum {
			bestNum = num
			best = id
		}
	}
	if best != "" {
		return outputs[best].Images[0], nil
	}

	// every image-bearing node is an input passthrough or non-numeric;
	// fall back to the first in sorted order
	return outputs[ids[0]].Images[0], nil
}
