package pixel

import "github.com/gogpu/flim/mask"

// Binner sums the upstream curves over a square neighbourhood of Radius in
// dimensions 0 and 1. Neighbours outside the image are skipped, so edge and
// corner pixels sum fewer curves; nothing wraps and nothing is zero-padded.
type Binner struct {
	Upstream Bounded
	Radius   int
}

// Shape returns the upstream shape.
func (b *Binner) Shape() []int { return b.Upstream.Shape() }

// Bins returns the upstream bin count.
func (b *Binner) Bins() int { return b.Upstream.Bins() }

// Pixel returns the binned curve at loc. The centre pixel must exist.
func (b *Binner) Pixel(loc Location) ([]float64, bool) {
	sum, ok := b.Upstream.Pixel(loc)
	if !ok {
		return nil, false
	}
	if b.Radius <= 0 || loc.Rank() < 2 {
		return sum, true
	}

	shape := b.Upstream.Shape()
	x0, y0 := loc.X(), loc.Y()
	xMin, xMax := max(x0-b.Radius, 0), min(x0+b.Radius, shape[0]-1)
	yMin, yMax := max(y0-b.Radius, 0), min(y0+b.Radius, shape[1]-1)

	for y := yMin; y <= yMax; y++ {
		for x := xMin; x <= xMax; x++ {
			if x == x0 && y == y0 {
				continue
			}
			// loc is a value; the neighbour is a separate copy.
			curve, ok := b.Upstream.Pixel(loc.With(0, x).With(1, y))
			if !ok {
				continue
			}
			for i := range min(len(sum), len(curve)) {
				sum[i] += curve[i]
			}
		}
	}
	return sum, true
}

// Thresholder vetoes pixels with too few photons.
// The sum over bins [Start, Stop] (clamped to the curve) is compared with
// Threshold: below is vetoed, equal or above is accepted.
type Thresholder struct {
	Upstream  Bounded
	Start     int
	Stop      int
	Threshold float64
}

// Shape returns the upstream shape.
func (t *Thresholder) Shape() []int { return t.Upstream.Shape() }

// Bins returns the upstream bin count.
func (t *Thresholder) Bins() int { return t.Upstream.Bins() }

// Pixel returns the upstream curve or vetoes it.
func (t *Thresholder) Pixel(loc Location) ([]float64, bool) {
	curve, ok := t.Upstream.Pixel(loc)
	if !ok {
		return nil, false
	}
	if PhotonCount(curve, t.Start, t.Stop) < t.Threshold {
		return nil, false
	}
	return curve, true
}

// PhotonCount sums curve over [start, stop], clamped to the curve bounds.
func PhotonCount(curve []float64, start, stop int) float64 {
	start = max(start, 0)
	stop = min(stop, len(curve)-1)
	var sum float64
	for i := start; i <= stop; i++ {
		sum += curve[i]
	}
	return sum
}

// Masked vetoes pixels excluded by a mask snapshot.
// Snapshot is called once per Pixel so a stage can follow a mask.Bus.
type Masked struct {
	Upstream Bounded
	Snapshot func() *mask.Mask
}

// Shape returns the upstream shape.
func (m *Masked) Shape() []int { return m.Upstream.Shape() }

// Bins returns the upstream bin count.
func (m *Masked) Bins() int { return m.Upstream.Bins() }

// Pixel returns the upstream curve unless the mask excludes loc.
func (m *Masked) Pixel(loc Location) ([]float64, bool) {
	if m.Snapshot != nil {
		if mk := m.Snapshot(); mk != nil && mk.Excluded(loc.X(), loc.Y()) {
			return nil, false
		}
	}
	return m.Upstream.Pixel(loc)
}

// Masking returns a stage that vetoes pixels excluded by snapshot().
func Masking(snapshot func() *mask.Mask) Stage {
	return func(up Bounded) Bounded {
		return &Masked{Upstream: up, Snapshot: snapshot}
	}
}
