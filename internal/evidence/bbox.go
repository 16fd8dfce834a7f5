package evidence

import (
	"fmt"
	"strconv"
	"strings"
)

// BBox is [left, top, right, bottom] with a bottom-left origin, so a valid
// box has left <= right and bottom <= top.
type BBox [4]float64

// NewBBox builds a box from its edges.
func NewBBox(left, top, right, bottom float64) BBox {
	return BBox{left, top, right, bottom}
}

func (b BBox) Left() float64   { return b[0] }
func (b BBox) Top() float64    { return b[1] }
func (b BBox) Right() float64  { return b[2] }
func (b BBox) Bottom() float64 { return b[3] }

// Valid reports whether the edges are ordered.
func (b BBox) Valid() bool {
	return b.Left() <= b.Right() && b.Bottom() <= b.Top()
}

// IsZero reports whether b is the [0,0,0,0] placeholder.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Contains reports whether o lies inside b, edges included.
func (b BBox) Contains(o BBox) bool {
	return b.Left() <= o.Left() && b.Top() >= o.Top() &&
		b.Right() >= o.Right() && b.Bottom() <= o.Bottom()
}

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		min(b.Left(), o.Left()),
		max(b.Top(), o.Top()),
		max(b.Right(), o.Right()),
		min(b.Bottom(), o.Bottom()),
	}
}

// MergeBoxes reduces boxes to [min left, max top, max right, min bottom].
// ok is false when boxes is empty.
func MergeBoxes(boxes []BBox) (merged BBox, ok bool) {
	if len(boxes) == 0 {
		return BBox{}, false
	}
	merged = boxes[0]
	for _, b := range boxes[1:] {
		merged = merged.Union(b)
	}
	return merged, true
}

// FlipTopLeft converts a box measured from the top of the page into the
// bottom-left origin used everywhere else.
func FlipTopLeft(b BBox, pageHeight float64) BBox {
	return BBox{b.Left(), pageHeight - b.Top(), b.Right(), pageHeight - b.Bottom()}
}

// String renders the box as "l,t,r,b", the form used in viewer links.
func (b BBox) String() string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ParseBBox is the inverse of String.
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, fmt.Errorf("bbox %q: want 4 comma-separated values, got %d", s, len(parts))
	}
	var b BBox
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		b[i] = v
	}
	return b, nil
}

// Float64s returns the edges as a slice, the shape stores persist.
func (b BBox) Float64s() []float64 {
	return []float64{b[0], b[1], b[2], b[3]}
}

// BBoxFromSlice is the inverse of Float64s. Short input yields a zero box.
func BBoxFromSlice(v []float64) BBox {
	var b BBox
	if len(v) < 4 {
		return b
	}
	copy(b[:], v[:4])
	return b
}
