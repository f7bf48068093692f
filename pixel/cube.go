package pixel

import "fmt"

// Cube is an in-memory decay cube: one curve of Bins() samples for every
// spatial location. It is the usual root of a chain.
//
// Thread safety: concurrent Pixel calls are safe once the cube is filled.
type Cube struct {
	shape []int
	bins  int
	data  []float64
}

// NewCube allocates a zeroed cube with the given bin count and spatial shape.
func NewCube(bins int, shape ...int) (*Cube, error) {
	if bins <= 0 || len(shape) == 0 || len(shape) > MaxDims {
		return nil, fmt.Errorf("%w: bins=%d shape=%v", ErrShape, bins, shape)
	}
	total := bins
	for _, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("%w: shape=%v", ErrShape, shape)
		}
		total *= n
	}
	return &Cube{
		shape: append([]int(nil), shape...),
		bins:  bins,
		data:  make([]float64, total),
	}, nil
}

// Shape returns a copy of the spatial extents.
func (c *Cube) Shape() []int { return append([]int(nil), c.shape...) }

// Bins returns the number of time bins per curve.
func (c *Cube) Bins() int { return c.bins }

// offset returns the flat index of the first bin at loc.
func (c *Cube) offset(loc Location) (int, bool) {
	if loc.Rank() != len(c.shape) {
		return 0, false
	}
	off := 0
	stride := 1
	for d, n := range c.shape {
		v := loc.At(d)
		if v < 0 || v >= n {
			return 0, false
		}
		off += v * stride
		stride *= n
	}
	return off * c.bins, true
}

// Pixel returns a copy of the curve at loc.
func (c *Cube) Pixel(loc Location) ([]float64, bool) {
	off, ok := c.offset(loc)
	if !ok {
		return nil, false
	}
	out := make([]float64, c.bins)
	copy(out, c.data[off:off+c.bins])
	return out, true
}

// SetCurve stores curve at loc.
func (c *Cube) SetCurve(loc Location, curve []float64) error {
	if len(curve) != c.bins {
		return fmt.Errorf("%w: curve has %d bins, cube has %d", ErrShape, len(curve), c.bins)
	}
	off, ok := c.offset(loc)
	if !ok {
		return fmt.Errorf("%w: location %v outside %v", ErrShape, loc, c.shape)
	}
	copy(c.data[off:off+c.bins], curve)
	return nil
}

// Set stores a single bin value.
func (c *Cube) Set(loc Location, bin int, v float64) {
	off, ok := c.offset(loc)
	if !ok || bin < 0 || bin >= c.bins {
		return
	}
	c.data[off+bin] = v
}

// Fill sets every curve to curve.
func (c *Cube) Fill(curve []float64) error {
	if len(curve) != c.bins {
		return fmt.Errorf("%w: curve has %d bins, cube has %d", ErrShape, len(curve), c.bins)
	}
	for off := 0; off < len(c.data); off += c.bins {
		copy(c.data[off:off+c.bins], curve)
	}
	return nil
}

// Sum returns the summed curve of every pixel in the cube.
// It is the usual input for estimating a global cursor.
func (c *Cube) Sum() []float64 {
	out := make([]float64, c.bins)
	for off := 0; off < len(c.data); off += c.bins {
		for b := 0; b < c.bins; b++ {
			out[b] += c.data[off+b]
		}
	}
	return out
}
