package processor

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageforge/internal/comfyui"
	"imageforge/internal/poller"
	"imageforge/internal/workflow"
)

// fakeRemote lets each test script the remote pipeline's failure point.
type fakeRemote struct {
	uploadErr error
	submitErr error
	outputs   map[string]comfyui.NodeOutput
	artifact  []byte
	submitted workflow.Graph
	neverDone bool
}

func (f *fakeRemote) UploadImage(ctx context.Context, data []byte, filename string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "uploaded.png", nil
}

func (f *fakeRemote) SubmitWorkflow(ctx context.Context, graph workflow.Graph, clientID string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = graph
	return "job-1", nil
}

func (f *fakeRemote) FetchArtifact(ctx context.Context, ref comfyui.ImageRef) ([]byte, error) {
	return f.artifact, nil
}

func (f *fakeRemote) QueryQueue(ctx context.Context) (*comfyui.QueueState, error) {
	return &comfyui.QueueState{}, nil
}

func (f *fakeRemote) QueryHistory(ctx context.Context, jobID string) (map[string]comfyui.NodeOutput, bool, error) {
	if f.neverDone {
		return nil, false, nil
	}
	return f.outputs, true, nil
}

func testPoller(client poller.ProcessorClient, timeout time.Duration) *poller.Poller {
	return poller.NewPollerWithInterval(client, timeout, time.Millisecond)
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 180, G: 90, B: 40, A: 255})
	data, err := encodePNG(img)
	require.NoError(t, err)
	return data
}

func discard(progress int, message string) {}

func TestRegistryDispatchUnknownType(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Dispatch(context.Background(), "sepia", nil, nil, discard)
	assert.ErrorIs(t, err, ErrUnknownProcessingType)
}

func TestRegistryDispatchInvalidParameters(t *testing.T) {
	remote := &fakeRemote{}
	r := NewRegistry()
	r.Register(NewTextToImageStrategy(remote, workflow.DefaultTemplate(), testPoller(remote, time.Second)))

	_, _, err := r.Dispatch(context.Background(), "text_to_image", nil, Params{}, discard)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestRegistryNamesSorted(t *testing.T) {
	remote := &fakeRemote{}
	tmpl := workflow.DefaultTemplate()
	p := testPoller(remote, time.Second)

	r := NewRegistry()
	r.Register(NewUpscaleStrategy(remote, tmpl, p))
	r.Register(NewGrayscaleStrategy())
	r.Register(NewStyleTransferStrategy(remote, tmpl, p))
	r.Register(NewTextToImageStrategy(remote, tmpl, p))

	assert.Equal(t, []string{"ghibli_style", "grayscale", "text_to_image", "upscale"}, r.Names())
	assert.Len(t, r.Available(), 4)
}

func TestGrayscaleRun(t *testing.T) {
	s := NewGrayscaleStrategy()
	out, err := s.Run(context.Background(), testPNG(t, 8, 8), nil, discard)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	r, g, b, _ := img.At(2, 2).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestGrayscaleRejectsMissingImage(t *testing.T) {
	s := NewGrayscaleStrategy()
	_, err := s.Run(context.Background(), nil, nil, discard)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestGrayscaleRejectsGarbageBytes(t *testing.T) {
	s := NewGrayscaleStrategy()
	_, err := s.Run(context.Background(), []byte("not an image"), nil, discard)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestTextToImageValidate(t *testing.T) {
	s := &TextToImageStrategy{}

	long := make([]byte, maxPromptLength+1)
	for i := range long {
		long[i] = 'a'
	}

	cases := []struct {
		name   string
		params Params
		want   bool
	}{
		{"valid minimal", Params{"prompt": "a cat"}, true},
		{"missing prompt", Params{}, false},
		{"empty prompt", Params{"prompt": ""}, false},
		{"prompt too long", Params{"prompt": string(long)}, false},
		{"valid dimensions", Params{"prompt": "x", "width": float64(1024), "height": float64(768)}, true},
		{"width too small", Params{"prompt": "x", "width": float64(32)}, false},
		{"height too large", Params{"prompt": "x", "height": float64(4096)}, false},
		{"steps out of range", Params{"prompt": "x", "steps": float64(200)}, false},
		{"cfg out of range", Params{"prompt": "x", "cfg": float64(50)}, false},
		{"cfg in range", Params{"prompt": "x", "cfg": float64(7.5)}, true},
		{"fractional width", Params{"prompt": "x", "width": 512.9}, false},
		{"fractional steps", Params{"prompt": "x", "steps": 20.5}, false},
		{"non-numeric width", Params{"prompt": "x", "width": "512"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Validate(tc.params))
		})
	}
}

func TestUpscaleValidate(t *testing.T) {
	s := &UpscaleStrategy{}

	assert.True(t, s.Validate(nil))
	assert.True(t, s.Validate(Params{"scale_factor": float64(2)}))
	assert.True(t, s.Validate(Params{"scale_factor": float64(8)}))
	assert.False(t, s.Validate(Params{"scale_factor": float64(3)}))
	assert.False(t, s.Validate(Params{"scale_factor": float64(16)}))
	assert.False(t, s.Validate(Params{"scale_factor": 2.5}))
	assert.False(t, s.Validate(Params{"scale_factor": "4"}))
}

func TestImageRequirementDeclarations(t *testing.T) {
	remote := &fakeRemote{}
	tmpl := workflow.DefaultTemplate()
	p := testPoller(remote, time.Second)

	assert.True(t, NewGrayscaleStrategy().RequiresImage())
	assert.True(t, NewStyleTransferStrategy(remote, tmpl, p).RequiresImage())
	assert.True(t, NewUpscaleStrategy(remote, tmpl, p).RequiresImage())
	assert.False(t, NewTextToImageStrategy(remote, tmpl, p).RequiresImage())
}

func TestDispatchRejectsMissingImage(t *testing.T) {
	r := NewRegistry()
	r.Register(NewGrayscaleStrategy())

	_, _, err := r.Dispatch(context.Background(), "grayscale", nil, nil, discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	assert.Contains(t, err.Error(), "requires an input image")
}

func TestTextToImageRemoteSuccess(t *testing.T) {
	result := testPNG(t, 16, 16)
	remote := &fakeRemote{
		outputs: map[string]comfyui.NodeOutput{
			"7": {Images: []comfyui.ImageRef{{Filename: "out.png"}}},
		},
		artifact: result,
	}

	s := NewTextToImageStrategy(remote, workflow.DefaultTemplate(), testPoller(remote, time.Second))
	out, err := s.Run(context.Background(), nil, Params{"prompt": "a lighthouse at dusk"}, discard)
	require.NoError(t, err)
	assert.Equal(t, result, out)
	require.NotNil(t, remote.submitted)
}

func TestTextToImageFallbackOnSubmitFailure(t *testing.T) {
	remote := &fakeRemote{submitErr: fmt.Errorf("%w: connection refused", comfyui.ErrSubmit)}

	s := NewTextToImageStrategy(remote, workflow.DefaultTemplate(), testPoller(remote, time.Second))
	out, err := s.Run(context.Background(), nil, Params{
		"prompt": "a lighthouse at dusk",
		"width":  float64(128),
		"height": float64(96),
	}, discard)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 96, img.Bounds().Dy())
}

func TestUpscaleFallbackResizesLocally(t *testing.T) {
	remote := &fakeRemote{uploadErr: fmt.Errorf("%w: connection refused", comfyui.ErrUpload)}

	s := NewUpscaleStrategy(remote, workflow.DefaultTemplate(), testPoller(remote, time.Second))
	out, err := s.Run(context.Background(), testPNG(t, 10, 6), Params{"scale_factor": float64(2)}, discard)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 12, img.Bounds().Dy())
}

func TestStyleFallbackPreservesDimensions(t *testing.T) {
	remote := &fakeRemote{uploadErr: fmt.Errorf("%w: connection refused", comfyui.ErrUpload)}

	s := NewStyleTransferStrategy(remote, workflow.DefaultTemplate(), testPoller(remote, time.Second))
	out, err := s.Run(context.Background(), testPNG(t, 24, 24), nil, discard)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 24, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())
}

func TestStyleRejectsMissingImage(t *testing.T) {
	remote := &fakeRemote{}
	s := NewStyleTransferStrategy(remote, workflow.DefaultTemplate(), testPoller(remote, time.Second))
	_, err := s.Run(context.Background(), nil, nil, discard)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestTimeoutDoesNotTriggerFallback(t *testing.T) {
	remote := &fakeRemote{neverDone: true}

	s := NewTextToImageStrategy(remote, workflow.DefaultTemplate(), testPoller(remote, 20*time.Millisecond))
	_, err := s.Run(context.Background(), nil, Params{"prompt": "x"}, discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, poller.ErrJobTimedOut)
}

func TestPlaceholderImageDecodable(t *testing.T) {
	out, err := placeholderImage("a very long prompt that should wrap across several lines of the placeholder", 256, 256)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}
