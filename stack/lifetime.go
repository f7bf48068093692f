package stack

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/gogpu/flim"
)

// LifetimeMap holds a lifetime and an intensity per pixel of a 2-D image.
// Pixels without a fit have lifetime NaN and are drawn black.
type LifetimeMap struct {
	width     int
	height    int
	lifetime  []float64
	intensity []float64
}

// NewLifetimeMap creates an empty map.
func NewLifetimeMap(width, height int) *LifetimeMap {
	m := &LifetimeMap{
		width:     width,
		height:    height,
		lifetime:  make([]float64, width*height),
		intensity: make([]float64, width*height),
	}
	for i := range m.lifetime {
		m.lifetime[i] = math.NaN()
	}
	return m
}

// MapResults builds a map from batch results. Nil results, results with an
// error and pixels outside the map are skipped. Intensity is the fitted
// photon count.
func MapResults(width, height int, results []*flim.Result) *LifetimeMap {
	m := NewLifetimeMap(width, height)
	for _, r := range results {
		if r == nil || r.Err != nil {
			continue
		}
		var photons float64
		for _, v := range r.Fitted {
			photons += v
		}
		m.Set(r.Pixel.X(), r.Pixel.Y(), r.Lifetime(), photons)
	}
	return m
}

// Width returns the width of the map.
func (m *LifetimeMap) Width() int { return m.width }

// Height returns the height of the map.
func (m *LifetimeMap) Height() int { return m.height }

// Set stores a pixel. Out-of-range coordinates are ignored.
func (m *LifetimeMap) Set(x, y int, lifetime, intensity float64) {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return
	}
	i := y*m.width + x
	m.lifetime[i] = lifetime
	m.intensity[i] = intensity
}

// Lifetime returns the lifetime at (x, y), NaN when unset.
func (m *LifetimeMap) Lifetime(x, y int) float64 {
	if x < 0 || x >= m.width || y < 0 || y >= m.height {
		return math.NaN()
	}
	return m.lifetime[y*m.width+x]
}

// Mean returns the mean of the set lifetimes and how many there are.
func (m *LifetimeMap) Mean() (float64, int) {
	var sum float64
	var n int
	for _, v := range m.lifetime {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// ToImage renders the map: hue runs from blue at lifetime 0 to red at
// maxLifetime, brightness follows intensity relative to the brightest
// pixel. A non-positive maxLifetime uses the largest lifetime in the map.
func (m *LifetimeMap) ToImage(maxLifetime float64) *image.RGBA {
	var maxI, maxT float64
	for i, v := range m.lifetime {
		if math.IsNaN(v) {
			continue
		}
		maxI = max(maxI, m.intensity[i])
		maxT = max(maxT, v)
	}
	if maxLifetime <= 0 {
		maxLifetime = maxT
	}

	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			i := y*m.width + x
			tau := m.lifetime[i]
			if math.IsNaN(tau) || maxLifetime <= 0 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
				continue
			}
			v := 1.0
			if maxI > 0 {
				v = m.intensity[i] / maxI
			}
			img.SetRGBA(x, y, ramp(tau/maxLifetime, v))
		}
	}
	return img
}

// SavePNG renders the map and writes it to path, enlarged scale times with
// nearest-neighbour sampling.
func (m *LifetimeMap) SavePNG(path string, maxLifetime float64, scale int) error {
	var img image.Image = m.ToImage(maxLifetime)
	if scale > 1 {
		dst := image.NewRGBA(image.Rect(0, 0, m.width*scale, m.height*scale))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return fmt.Errorf("stack: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("stack: encode %s: %w", path, err)
	}
	return f.Close()
}

// ramp maps t in [0, 1] to a hue from blue (240°) to red (0°) at value v.
func ramp(t, v float64) color.RGBA {
	t = math.Min(math.Max(t, 0), 1)
	v = math.Min(math.Max(v, 0), 1)
	h := (1 - t) * 4 // sextant of the hue circle, 0 (red) to 4 (blue)
	f := h - math.Floor(h)

	var r, g, b float64
	switch int(h) {
	case 0:
		r, g, b = 1, f, 0
	case 1:
		r, g, b = 1-f, 1, 0
	case 2:
		r, g, b = 0, 1, f
	case 3:
		r, g, b = 0, 1-f, 1
	default:
		r, g, b = 0, 0, 1
	}
	return color.RGBA{
		R: uint8(math.Round(r * v * 255)),
		G: uint8(math.Round(g * v * 255)),
		B: uint8(math.Round(b * v * 255)),
		A: 255,
	}
}
