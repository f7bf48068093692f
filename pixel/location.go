package pixel

import (
	"strconv"
	"strings"
)

// MaxDims is the largest number of dimensions a Location can address.
const MaxDims = 8

// Location is an immutable N-dimensional pixel coordinate.
//
// Location is a value type: it is comparable, can be used as a map key,
// and every modifying method returns a new Location. Dimension 0 is X and
// dimension 1 is Y; further dimensions (channel, plane) are caller-defined.
type Location struct {
	coords [MaxDims]int
	rank   uint8
}

// Loc creates a Location from its coordinates.
// Coordinates beyond MaxDims are ignored.
func Loc(coords ...int) Location {
	var l Location
	n := min(len(coords), MaxDims)
	copy(l.coords[:], coords[:n])
	l.rank = uint8(n)
	return l
}

// Rank returns the number of dimensions.
func (l Location) Rank() int { return int(l.rank) }

// At returns the coordinate in dimension d, or 0 if d is out of range.
func (l Location) At(d int) int {
	if d < 0 || d >= int(l.rank) {
		return 0
	}
	return l.coords[d]
}

// X returns dimension 0.
func (l Location) X() int { return l.At(0) }

// Y returns dimension 1.
func (l Location) Y() int { return l.At(1) }

// With returns a copy of l with dimension d set to v.
// The rank grows when d is past the current rank.
func (l Location) With(d, v int) Location {
	if d < 0 || d >= MaxDims {
		return l
	}
	l.coords[d] = v
	if d >= int(l.rank) {
		l.rank = uint8(d + 1)
	}
	return l
}

// Coords returns a fresh slice of the coordinates.
func (l Location) Coords() []int {
	out := make([]int, l.rank)
	copy(out, l.coords[:l.rank])
	return out
}

// String formats the location as "(x, y, ...)".
func (l Location) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < int(l.rank); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(l.coords[i]))
	}
	b.WriteByte(')')
	return b.String()
}
