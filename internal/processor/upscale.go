package processor

import (
	"context"

	"github.com/disintegration/imaging"

	"imageforge/internal/poller"
	"imageforge/internal/workflow"
)

// UpscaleStrategy runs a creative upscale through the remote workflow with
// fixed internal sampler parameters. Falls back to a plain Lanczos resize
// when the remote side is unreachable.
type UpscaleStrategy struct {
	runner *remoteRunner
}

// NewUpscaleStrategy creates the upscale strategy
func NewUpscaleStrategy(client RemoteClient, tmpl *workflow.Template, poll *poller.Poller) *UpscaleStrategy {
	return &UpscaleStrategy{
		runner: newRemoteRunner("upscale", client, tmpl, poll),
	}
}

func (s *UpscaleStrategy) Name() string { return "upscale" }

func (s *UpscaleStrategy) Description() string {
	return "Upscale an image with AI super-resolution"
}

func (s *UpscaleStrategy) RequiresImage() bool { return true }

func (s *UpscaleStrategy) Validate(params Params) bool {
	if paramPresent(params, "scale_factor") {
		factor, ok := paramInt(params, "scale_factor")
		if !ok || (factor != 2 && factor != 4 && factor != 8) {
			return false
		}
	}
	return true
}

func (s *UpscaleStrategy) Run(ctx context.Context, image []byte, params Params, report poller.ReportFunc) ([]byte, error) {
	if image == nil {
		return nil, ErrInvalidParameters
	}

	factor := 2
	if v, ok := paramInt(params, "scale_factor"); ok {
		factor = v
	}

	// the upscale workflow carries its own sampler settings; only the
	// input image is patched in
	spec := workflow.PatchSpec{}

	report(5, "preparing workflow")
	return s.runner.runWithFallback(ctx, image, spec, report, func() ([]byte, error) {
		return localResize(image, factor)
	})
}

// localResize is the degraded substitute: plain interpolation instead of
// generative upscaling.
func localResize(data []byte, factor int) ([]byte, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	resized := imaging.Resize(img, bounds.Dx()*factor, bounds.Dy()*factor, imaging.Lanczos)
	return encodePNG(resized)
}
