package flim

import (
	"errors"
	"fmt"

	"github.com/gogpu/flim/pixel"
)

var (
	// ErrShutdown is returned by fit calls on an engine that is shutting
	// down or shut down, and by a batch interrupted by Shutdown.
	ErrShutdown = errors.New("flim: engine shut down")

	// ErrNilFitter is returned by SetCurveFitter(nil).
	ErrNilFitter = errors.New("flim: nil curve fitter")
)

// PixelError reports a failure confined to one pixel.
type PixelError struct {
	Pixel pixel.Location
	Err   error
}

func (e *PixelError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("flim: pixel %v: %v", e.Pixel, e.Err)
}

func (e *PixelError) Unwrap() error { return e.Err }
