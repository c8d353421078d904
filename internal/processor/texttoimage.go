package processor

import (
	"context"

	"imageforge/internal/poller"
	"imageforge/internal/workflow"
)

// parameter bounds for text_to_image
const (
	maxPromptLength = 2000
	minDimension    = 64
	maxDimension    = 2048
	minSteps        = 1
	maxSteps        = 150
	minCFG          = 1
	maxCFG          = 30
)

// TextToImageStrategy synthesizes an image from a prompt via the remote
// workflow processor. No input image. Falls back to a placeholder image
// carrying the prompt text when the remote side is unreachable.
type TextToImageStrategy struct {
	runner *remoteRunner
}

// NewTextToImageStrategy creates the text_to_image strategy
func NewTextToImageStrategy(client RemoteClient, tmpl *workflow.Template, poll *poller.Poller) *TextToImageStrategy {
	return &TextToImageStrategy{
		runner: newRemoteRunner("text_to_image", client, tmpl, poll),
	}
}

func (s *TextToImageStrategy) Name() string { return "text_to_image" }

func (s *TextToImageStrategy) Description() string {
	return "Generate an image from a text prompt"
}

func (s *TextToImageStrategy) RequiresImage() bool { return false }

func (s *TextToImageStrategy) Validate(params Params) bool {
	prompt, ok := paramString(params, "prompt")
	if !ok || prompt == "" || len(prompt) > maxPromptLength {
		return false
	}
	// optional numeric parameters may be absent, but when supplied they must
	// be integral and in range
	for _, key := range []string{"width", "height"} {
		if paramPresent(params, key) {
			v, ok := paramInt(params, key)
			if !ok || v < minDimension || v > maxDimension {
				return false
			}
		}
	}
	if paramPresent(params, "steps") {
		v, ok := paramInt(params, "steps")
		if !ok || v < minSteps || v > maxSteps {
			return false
		}
	}
	if paramPresent(params, "cfg") {
		v, ok := paramFloat(params, "cfg")
		if !ok || v < minCFG || v > maxCFG {
			return false
		}
	}
	return true
}

func (s *TextToImageStrategy) Run(ctx context.Context, image []byte, params Params, report poller.ReportFunc) ([]byte, error) {
	prompt, _ := paramString(params, "prompt")

	spec := workflow.PatchSpec{PositivePrompt: &prompt}
	if negative, ok := paramString(params, "negative_prompt"); ok {
		spec.NegativePrompt = &negative
	}
	if model, ok := paramString(params, "model"); ok {
		spec.ModelName = &model
	}
	width, height := 512, 512
	if v, ok := paramInt(params, "width"); ok {
		width = v
	}
	if v, ok := paramInt(params, "height"); ok {
		height = v
	}
	spec.Width = &width
	spec.Height = &height
	if v, ok := paramInt(params, "steps"); ok {
		spec.Steps = &v
	}
	if v, ok := paramFloat(params, "cfg"); ok {
		spec.CFG = &v
	}

	report(5, "preparing workflow")
	return s.runner.runWithFallback(ctx, nil, spec, report, func() ([]byte, error) {
		return placeholderImage(prompt, width, height)
	})
}
