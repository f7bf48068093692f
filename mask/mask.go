// Package mask provides immutable pixel-exclusion bitmaps and a bus that
// distributes mask snapshots to every member of a mask group.
//
// Peers never share a mutable map: a peer that changes its mask publishes a
// new Mask value, and every subscriber receives that snapshot over its own
// channel.
package mask

import "errors"

var (
	// ErrBusClosed is returned when subscribing to a closed bus.
	ErrBusClosed = errors.New("mask: bus closed")

	// ErrSubscriberExists is returned when an ID is already subscribed.
	ErrSubscriberExists = errors.New("mask: subscriber already exists")

	// ErrSubscriberNotFound is returned for unknown subscriber IDs.
	ErrSubscriberNotFound = errors.New("mask: subscriber not found")

	// ErrSize is returned when combining masks of different sizes.
	ErrSize = errors.New("mask: size mismatch")
)

// Mask is an immutable width×height exclusion bitmap.
// A nil *Mask excludes nothing.
type Mask struct {
	width, height int
	bits          []bool
}

// New creates a mask from an exclusion function.
func New(width, height int, excluded func(x, y int) bool) *Mask {
	m := &Mask{width: width, height: height, bits: make([]bool, width*height)}
	if excluded == nil {
		return m
	}
	for y := range height {
		for x := range width {
			m.bits[y*width+x] = excluded(x, y)
		}
	}
	return m
}

// Width returns the mask width.
func (m *Mask) Width() int { return m.width }

// Height returns the mask height.
func (m *Mask) Height() int { return m.height }

// Excluded reports whether (x, y) is excluded.
// Points outside the mask are not excluded.
func (m *Mask) Excluded(x, y int) bool {
	if m == nil || x < 0 || y < 0 || x >= m.width || y >= m.height {
		return false
	}
	return m.bits[y*m.width+x]
}

// Count returns the number of excluded pixels.
func (m *Mask) Count() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Union returns a new mask excluding every pixel excluded by m or other.
// A nil operand contributes nothing.
func (m *Mask) Union(other *Mask) (*Mask, error) {
	switch {
	case m == nil && other == nil:
		return nil, nil
	case m == nil:
		return other, nil
	case other == nil:
		return m, nil
	}
	if m.width != other.width || m.height != other.height {
		return nil, ErrSize
	}
	out := &Mask{width: m.width, height: m.height, bits: make([]bool, len(m.bits))}
	for i := range out.bits {
		out.bits[i] = m.bits[i] || other.bits[i]
	}
	return out, nil
}
