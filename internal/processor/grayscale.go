package processor

import (
	"context"

	"github.com/disintegration/imaging"

	"imageforge/internal/poller"
)

// GrayscaleStrategy is the one fully local strategy: a synchronous pure
// pixel transform with no remote dependency.
type GrayscaleStrategy struct{}

// NewGrayscaleStrategy creates the grayscale strategy
func NewGrayscaleStrategy() *GrayscaleStrategy {
	return &GrayscaleStrategy{}
}

func (s *GrayscaleStrategy) Name() string { return "grayscale" }

func (s *GrayscaleStrategy) Description() string {
	return "Convert a color image to grayscale"
}

func (s *GrayscaleStrategy) RequiresImage() bool { return true }

func (s *GrayscaleStrategy) Validate(params Params) bool {
	return true
}

func (s *GrayscaleStrategy) Run(ctx context.Context, image []byte, params Params, report poller.ReportFunc) ([]byte, error) {
	if image == nil {
		return nil, ErrInvalidParameters
	}
	report(20, "decoding image")

	img, err := decodeImage(image)
	if err != nil {
		return nil, err
	}

	report(60, "converting to grayscale")
	gray := imaging.Grayscale(img)

	return encodePNG(gray)
}
