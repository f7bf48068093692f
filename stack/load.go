// Package stack moves decay data between image files and pixel cubes.
//
// A stack is a sequence of grayscale frames, one per time bin, all of the
// same size. Frames are read with the standard image decoders plus
// golang.org/x/image/tiff, which covers the 16-bit TIFF most TCSPC
// acquisition software writes.
package stack

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png" // register PNG frames
	"io"
	"os"
	"path/filepath"
	"slices"

	_ "golang.org/x/image/tiff" // register TIFF frames

	"github.com/gogpu/flim/pixel"
)

var (
	// ErrNoFrames is returned when a stack has no frames.
	ErrNoFrames = errors.New("stack: no frames")

	// ErrFrameSize is returned when frames differ in size.
	ErrFrameSize = errors.New("stack: frame size mismatch")
)

// Glob returns the frame files matching pattern in lexical order, which is
// taken as bin order.
func Glob(pattern string) ([]string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("stack: bad pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: nothing matches %q", ErrNoFrames, pattern)
	}
	slices.Sort(paths)
	return paths, nil
}

// LoadFiles reads one frame per path into a cube of shape (width, height).
func LoadFiles(paths []string) (*pixel.Cube, error) {
	frames := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		img, err := decodeFile(p)
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return FromFrames(frames)
}

// Decode reads one frame per reader into a cube.
func Decode(readers ...io.Reader) (*pixel.Cube, error) {
	frames := make([]image.Image, 0, len(readers))
	for i, r := range readers {
		img, _, err := image.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("stack: frame %d: %w", i, err)
		}
		frames = append(frames, img)
	}
	return FromFrames(frames)
}

// FromFrames builds a cube from decoded frames. Pixel values are the
// 16-bit gray level of each frame.
func FromFrames(frames []image.Image) (*pixel.Cube, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	bounds := frames[0].Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	cube, err := pixel.NewCube(len(frames), w, h)
	if err != nil {
		return nil, err
	}

	for bin, img := range frames {
		b := img.Bounds()
		if b.Dx() != w || b.Dy() != h {
			return nil, fmt.Errorf("%w: frame %d is %dx%d, frame 0 is %dx%d",
				ErrFrameSize, bin, b.Dx(), b.Dy(), w, h)
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				cube.Set(pixel.Loc(x, y), bin, float64(g.Y))
			}
		}
	}
	return cube, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("stack: decode %s: %w", path, err)
	}
	return img, nil
}
