package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"imageforge/internal/comfyui"
	"imageforge/internal/config"
	"imageforge/internal/metrics"
	"imageforge/internal/poller"
	"imageforge/internal/workflow"
)

// RemoteClient is the slice of the remote processor client the strategies
// need.
type RemoteClient interface {
	UploadImage(ctx context.Context, data []byte, filename string) (string, error)
	SubmitWorkflow(ctx context.Context, graph workflow.Graph, clientID string) (string, error)
	FetchArtifact(ctx context.Context, ref comfyui.ImageRef) ([]byte, error)
	poller.ProcessorClient
}

// remoteRunner owns the upload → patch → submit → wait → fetch pipeline
// shared by every remote-backed strategy.
type remoteRunner struct {
	client RemoteClient
	tmpl   *workflow.Template
	poll   *poller.Poller
	logger *logrus.Logger
	name   string
}

func newRemoteRunner(name string, client RemoteClient, tmpl *workflow.Template, poll *poller.Poller) *remoteRunner {
	return &remoteRunner{
		client: client,
		tmpl:   tmpl,
		poll:   poll,
		logger: config.NewLogger(),
		name:   name,
	}
}

// execute runs one remote job to completion and returns the result image.
// Remote failures come back unwrapped so the calling strategy can decide
// between fallback and propagation.
func (r *remoteRunner) execute(ctx context.Context, image []byte, spec workflow.PatchSpec, report poller.ReportFunc) ([]byte, error) {
	if image != nil {
		report(10, "uploading input image")
		remoteName, err := r.client.UploadImage(ctx, image, "input.png")
		if err != nil {
			return nil, err
		}
		spec.InputImage = &remoteName
	}

	roles := r.tmpl.Roles()
	graph := workflow.Patch(r.tmpl.Instantiate(), roles, spec)

	jobID, err := r.client.SubmitWorkflow(ctx, graph, uuid.New().String())
	if err != nil {
		return nil, err
	}
	report(15, "submitted to processor")

	r.logger.WithFields(logrus.Fields{
		"processing_type": r.name,
		"job_id":          jobID,
	}).Info("Remote job submitted")

	outputs, err := r.poll.Wait(ctx, jobID, report)
	if err != nil {
		return nil, err
	}

	report(80, "processing complete, downloading...")

	ref, err := poller.SelectOutput(outputs, graph, roles["final_output"])
	if err != nil {
		return nil, err
	}

	return r.client.FetchArtifact(ctx, ref)
}

// isRemoteFailure reports whether an error is a network/protocol failure
// against the remote processor — the class that triggers a strategy's local
// fallback. A timed-out job is deliberately excluded: the remote side may
// still produce a result later and it must not be mistaken for this task's.
func isRemoteFailure(err error) bool {
	return errors.Is(err, comfyui.ErrUnavailable) ||
		errors.Is(err, comfyui.ErrUpload) ||
		errors.Is(err, comfyui.ErrSubmit) ||
		errors.Is(err, comfyui.ErrFetch)
}

// runWithFallback executes the remote pipeline and degrades to fallback on
// any remote failure, preserving "always returns something" at the cost of
// quality. Timeouts propagate.
func (r *remoteRunner) runWithFallback(ctx context.Context, image []byte, spec workflow.PatchSpec, report poller.ReportFunc, fallback func() ([]byte, error)) ([]byte, error) {
	result, err := r.execute(ctx, image, spec, report)
	if err == nil {
		return result, nil
	}
	if !isRemoteFailure(err) {
		return nil, err
	}

	metrics.FallbacksUsed.WithLabelValues(r.name).Inc()
	r.logger.WithError(err).WithField("processing_type", r.name).Warn("Remote processor unavailable, using local fallback")
	report(80, "remote unavailable, using local fallback")

	data, ferr := fallback()
	if ferr != nil {
		return nil, fmt.Errorf("fallback failed after remote error %v: %w", err, ferr)
	}
	return data, nil
}
