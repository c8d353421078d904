package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"imageforge/internal/config"
	"imageforge/internal/poller"
)

// dispatch errors, surfaced synchronously before any task is created
var (
	ErrUnknownProcessingType = fmt.Errorf("unknown processing type")
	ErrInvalidParameters     = fmt.Errorf("invalid processing parameters")
)

// Params are the caller-supplied processing parameters, decoded from JSON
// (numbers arrive as float64).
type Params map[string]interface{}

// Strategy is one processing capability. Remote-backed strategies degrade
// to a local substitute when the remote processor is unreachable, so Run
// returns an error only for failures with no defined fallback.
// RequiresImage and Validate together form the synchronous admission check:
// both are evaluated before any task exists or credits are debited.
type Strategy interface {
	Name() string
	Description() string
	RequiresImage() bool
	Validate(params Params) bool
	Run(ctx context.Context, image []byte, params Params, report poller.ReportFunc) ([]byte, error)
}

// Registry maps processing-type names to strategies and dispatches requests.
type Registry struct {
	strategies map[string]Strategy
	logger     *logrus.Logger
}

// NewRegistry creates an empty strategy registry
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		logger:     config.NewLogger(),
	}
}

// Register adds a strategy under its name
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
	r.logger.WithField("processing_type", s.Name()).Debug("Strategy registered")
}

// Get returns the strategy for a processing type
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessingType, name)
	}
	return s, nil
}

// Available lists registered processing types and their descriptions
func (r *Registry) Available() map[string]string {
	out := make(map[string]string, len(r.strategies))
	for name, s := range r.strategies {
		out[name] = s.Description()
	}
	return out
}

// Names returns the registered processing types in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch validates parameters and runs the named strategy, returning the
// processed image bytes and the elapsed processing time in seconds.
func (r *Registry) Dispatch(ctx context.Context, name string, image []byte, params Params, report poller.ReportFunc) ([]byte, float64, error) {
	strategy, err := r.Get(name)
	if err != nil {
		return nil, 0, err
	}
	if strategy.RequiresImage() && len(image) == 0 {
		return nil, 0, fmt.Errorf("%w: %s requires an input image", ErrInvalidParameters, name)
	}
	if !strategy.Validate(params) {
		return nil, 0, fmt.Errorf("%w for %s", ErrInvalidParameters, name)
	}

	start := time.Now()
	result, err := strategy.Run(ctx, image, params, report)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return nil, elapsed, err
	}
	return result, elapsed, nil
}

// parameter decoding helpers; JSON numbers arrive as float64

func paramString(params Params, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	v, ok := params[key].(string)
	return v, ok
}

// paramInt rejects fractional values rather than truncating them, so a
// request carrying width 512.9 fails validation instead of silently
// becoming 512.
func paramInt(params Params, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// paramPresent reports whether the key was supplied at all, letting
// validators distinguish an absent optional parameter from a malformed one.
func paramPresent(params Params, key string) bool {
	_, ok := params[key]
	return ok
}

func paramFloat(params Params, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
