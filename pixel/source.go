// Package pixel provides the chain of decay-curve providers that decides
// which pixels of an image are eligible for fitting.
//
// A chain starts at a raw source (usually a Cube) and is extended by stages
// that delegate upstream and then transform or veto the result:
//
//	src := pixel.Chain(cube,
//	    pixel.Binning(1),
//	    pixel.Threshold(40, 210, 100),
//	)
//	if curve, ok := src.Pixel(pixel.Loc(12, 7)); ok {
//	    // fit curve
//	}
//
// Every stage returns a freshly allocated curve and never mutates the
// Location it was given.
package pixel

import "errors"

// ErrShape is returned when cube dimensions or curve lengths are inconsistent.
var ErrShape = errors.New("pixel: shape mismatch")

// Source provides per-pixel decay curves.
// The boolean result is false when the pixel does not exist or a stage
// vetoed it.
type Source interface {
	Pixel(loc Location) ([]float64, bool)
}

// Bounded is a Source with known spatial extents.
type Bounded interface {
	Source

	// Shape returns the extent of every spatial dimension.
	Shape() []int

	// Bins returns the number of time bins per curve.
	Bins() int
}

// Stage wraps an upstream source.
type Stage func(upstream Bounded) Bounded

// Chain composes stages on top of root, leaf first.
func Chain(root Bounded, stages ...Stage) Bounded {
	src := root
	for _, st := range stages {
		if st == nil {
			continue
		}
		src = st(src)
	}
	return src
}

// Binning returns a stage that sums each pixel's square neighbourhood.
// A radius of 0 leaves the chain unchanged.
func Binning(radius int) Stage {
	return func(up Bounded) Bounded {
		if radius <= 0 {
			return up
		}
		return &Binner{Upstream: up, Radius: radius}
	}
}

// Threshold returns a stage that vetoes pixels whose summed counts over
// bins [start, stop] fall below threshold.
func Threshold(start, stop int, threshold float64) Stage {
	return func(up Bounded) Bounded {
		return &Thresholder{Upstream: up, Start: start, Stop: stop, Threshold: threshold}
	}
}

// Locations returns every spatial location of src in row-major order
// (X varies fastest).
func Locations(src Bounded) []Location {
	shape := src.Shape()
	if len(shape) == 0 {
		return nil
	}
	total := 1
	for _, n := range shape {
		if n <= 0 {
			return nil
		}
		total *= n
	}
	out := make([]Location, 0, total)
	idx := make([]int, len(shape))
	for range total {
		out = append(out, Loc(idx...))
		for d := range idx {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}
