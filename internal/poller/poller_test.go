package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageforge/internal/comfyui"
	"imageforge/internal/workflow"
)

// fakeClient scripts the remote queue/history responses per poll iteration.
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	queue   func(call int) *comfyui.QueueState
	history func(call int) (map[string]comfyui.NodeOutput, bool)
}

func (f *fakeClient) QueryQueue(ctx context.Context) (*comfyui.QueueState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue(f.calls), nil
}

func (f *fakeClient) QueryHistory(ctx context.Context, jobID string) (map[string]comfyui.NodeOutput, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	outputs, done := f.history(f.calls)
	return outputs, done, nil
}

type update struct {
	progress int
	message  string
}

func collectReports(updates *[]update, mu *sync.Mutex) ReportFunc {
	return func(progress int, message string) {
		mu.Lock()
		defer mu.Unlock()
		*updates = append(*updates, update{progress, message})
	}
}

func TestWaitQueuedThenRunningThenDone(t *testing.T) {
	outputs := map[string]comfyui.NodeOutput{
		"7": {Images: []comfyui.ImageRef{{Filename: "result.png"}}},
	}

	client := &fakeClient{
		queue: func(call int) *comfyui.QueueState {
			switch {
			case call <= 2:
				return &comfyui.QueueState{Pending: []string{"other", "job-1"}}
			default:
				return &comfyui.QueueState{Running: []string{"job-1"}}
			}
		},
		history: func(call int) (map[string]comfyui.NodeOutput, bool) {
			if call >= 6 {
				return outputs, true
			}
			return nil, false
		},
	}

	var mu sync.Mutex
	var updates []update
	p := NewPollerWithInterval(client, time.Minute, time.Millisecond)

	got, err := p.Wait(context.Background(), "job-1", collectReports(&updates, &mu))
	require.NoError(t, err)
	assert.Equal(t, outputs, got)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)

	// queued at position 2 of 2 reports the flat queued progress
	assert.Equal(t, 25, updates[0].progress)
	assert.Equal(t, "queued (2/2)", updates[0].message)

	// progress never decreases
	last := 0
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.progress, last)
		last = u.progress
	}

	// the final report lands on the ramp cap
	assert.Equal(t, 70, updates[len(updates)-1].progress)
}

func TestWaitRunningRampStartsAtBase(t *testing.T) {
	client := &fakeClient{
		queue: func(call int) *comfyui.QueueState {
			return &comfyui.QueueState{Running: []string{"job-1"}}
		},
		history: func(call int) (map[string]comfyui.NodeOutput, bool) {
			if call >= 3 {
				return map[string]comfyui.NodeOutput{"9": {Images: []comfyui.ImageRef{{Filename: "x.png"}}}}, true
			}
			return nil, false
		},
	}

	var mu sync.Mutex
	var updates []update
	p := NewPollerWithInterval(client, time.Minute, time.Millisecond)

	_, err := p.Wait(context.Background(), "job-1", collectReports(&updates, &mu))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 30, updates[0].progress)
	assert.Contains(t, updates[0].message, "processing...")
}

func TestWaitUnknownJobKeepsPreviousProgress(t *testing.T) {
	client := &fakeClient{
		queue: func(call int) *comfyui.QueueState {
			if call == 1 {
				return &comfyui.QueueState{Pending: []string{"job-1"}}
			}
			// the processor stops reporting the job before history has it
			return &comfyui.QueueState{}
		},
		history: func(call int) (map[string]comfyui.NodeOutput, bool) {
			if call >= 4 {
				return map[string]comfyui.NodeOutput{"9": {Images: []comfyui.ImageRef{{Filename: "x.png"}}}}, true
			}
			return nil, false
		},
	}

	var mu sync.Mutex
	var updates []update
	p := NewPollerWithInterval(client, time.Minute, time.Millisecond)

	_, err := p.Wait(context.Background(), "job-1", collectReports(&updates, &mu))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(updates), 3)
	assert.Equal(t, 25, updates[0].progress)
	// unreported iterations retain the queued progress instead of resetting
	assert.Equal(t, 25, updates[1].progress)
}

func TestWaitTimesOut(t *testing.T) {
	client := &fakeClient{
		queue: func(call int) *comfyui.QueueState {
			return &comfyui.QueueState{Pending: []string{"job-1"}}
		},
		history: func(call int) (map[string]comfyui.NodeOutput, bool) {
			return nil, false
		},
	}

	p := NewPollerWithInterval(client, 30*time.Millisecond, time.Millisecond)

	_, err := p.Wait(context.Background(), "job-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobTimedOut)
	assert.Contains(t, err.Error(), "timed out")
}

func TestWaitContextCancelled(t *testing.T) {
	client := &fakeClient{
		queue: func(call int) *comfyui.QueueState {
			return &comfyui.QueueState{}
		},
		history: func(call int) (map[string]comfyui.NodeOutput, bool) {
			return nil, false
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPollerWithInterval(client, time.Minute, time.Millisecond)
	_, err := p.Wait(ctx, "job-1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectOutputPrefersDeclaredFinalNode(t *testing.T) {
	outputs := map[string]comfyui.NodeOutput{
		"5":  {Images: []comfyui.ImageRef{{Filename: "passthrough.png"}}},
		"12": {Images: []comfyui.ImageRef{{Filename: "result.png"}}},
	}

	ref, err := SelectOutput(outputs, workflow.Graph{}, "5")
	require.NoError(t, err)
	assert.Equal(t, "passthrough.png", ref.Filename)
}

func TestSelectOutputSkipsLoadNodes(t *testing.T) {
	graph := workflow.Graph{
		"5":  {ClassType: "LoadImage", Inputs: map[string]interface{}{}},
		"12": {ClassType: "SaveImage", Inputs: map[string]interface{}{}},
	}
	outputs := map[string]comfyui.NodeOutput{
		"5":  {Images: []comfyui.ImageRef{{Filename: "passthrough.png"}}},
		"12": {Images: []comfyui.ImageRef{{Filename: "result.png"}}},
	}

	// repeated runs must agree: map iteration order must not leak through
	for i := 0; i < 50; i++ {
		ref, err := SelectOutput(outputs, graph, "")
		require.NoError(t, err)
		assert.Equal(t, "result.png", ref.Filename)
	}
}

func TestSelectOutputHighestNumberedWins(t *testing.T) {
	outputs := map[string]comfyui.NodeOutput{
		"3":  {Images: []comfyui.ImageRef{{Filename: "early.png"}}},
		"20": {Images: []comfyui.ImageRef{{Filename: "late.png"}}},
		"9":  {Images: []comfyui.ImageRef{{Filename: "mid.png"}}},
	}

	ref, err := SelectOutput(outputs, workflow.Graph{}, "")
	require.NoError(t, err)
	assert.Equal(t, "late.png", ref.Filename)
}

func TestSelectOutputNoImages(t *testing.T) {
	outputs := map[string]comfyui.NodeOutput{
		"4": {},
	}
	_, err := SelectOutput(outputs, workflow.Graph{}, "")
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestSelectOutputAllInputsFallsBackToFirstSorted(t *testing.T) {
	graph := workflow.Graph{
		"2": {ClassType: "LoadImage", Inputs: map[string]interface{}{}},
		"8": {ClassType: "LoadImage", Inputs: map[string]interface{}{}},
	}
	outputs := map[string]comfyui.NodeOutput{
		"8": {Images: []comfyui.ImageRef{{Filename: "b.png"}}},
		"2": {Images: []comfyui.ImageRef{{Filename: "a.png"}}},
	}

	ref, err := SelectOutput(outputs, graph, "")
	require.NoError(t, err)
	assert.Equal(t, "a.png", ref.Filename)
}
