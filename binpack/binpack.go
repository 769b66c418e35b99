/*
Package binpack places rectangles onto fixed size pages with a guillotine
best area fit heuristic. The result only depends on the input order.
*/
package binpack

import (
	"errors"
	"fmt"
	"image"
)

// Align is the granularity rectangles are placed at, the block size of the
// texture codecs.
const Align = 4

// ErrTooLarge is returned for a rectangle that can't fit on an empty page.
var ErrTooLarge = errors.New("binpack: rectangle larger than page")

func align(v int) int {
	return (v + Align - 1) &^ (Align - 1)
}

// Bin is one page being filled.
type Bin struct {
	width, height int
	free          []image.Rectangle
	used          image.Rectangle
}

// NewBin returns an empty w×h bin.
func NewBin(w, h int) *Bin {
	return &Bin{
		width:  w,
		height: h,
		free:   []image.Rectangle{image.Rect(0, 0, w, h)},
	}
}

// Used returns the bounding box of everything placed so far.
func (b *Bin) Used() image.Rectangle {
	return b.used
}

// Insert places a w×h rectangle and returns where it went.
func (b *Bin) Insert(w, h int) (image.Rectangle, bool) {
	aw, ah := align(w), align(h)

	best := -1
	bestArea, bestShort := 0, 0
	for i, r := range b.free {
		fw, fh := r.Dx(), r.Dy()
		if aw > fw || ah > fh {
			continue
		}
		area := fw*fh - aw*ah
		short := min(fw-aw, fh-ah)
		if best < 0 || area < bestArea || (area == bestArea && short < bestShort) {
			best, bestArea, bestShort = i, area, short
		}
	}
	if best < 0 {
		return image.Rectangle{}, false
	}

	r := b.free[best]
	b.free = append(b.free[:best], b.free[best+1:]...)

	// Split along the shorter leftover axis
	restW, restH := r.Dx()-aw, r.Dy()-ah
	var right, bottom image.Rectangle
	if restW < restH {
		right = image.Rect(r.Min.X+aw, r.Min.Y, r.Max.X, r.Min.Y+ah)
		bottom = image.Rect(r.Min.X, r.Min.Y+ah, r.Max.X, r.Max.Y)
	} else {
		right = image.Rect(r.Min.X+aw, r.Min.Y, r.Max.X, r.Max.Y)
		bottom = image.Rect(r.Min.X, r.Min.Y+ah, r.Min.X+aw, r.Max.Y)
	}
	for _, f := range []image.Rectangle{right, bottom} {
		if !f.Empty() {
			b.free = append(b.free, f)
		}
	}

	placed := image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Min.Y+h)
	b.used = b.used.Union(image.Rect(r.Min.X, r.Min.Y, r.Min.X+aw, r.Min.Y+ah))
	return placed, true
}

// Placement is where one input rectangle ended up.
type Placement struct {
	Page int
	Rect image.Rectangle
}

// Pack places every size onto as many pages of pageSize×pageSize as needed.
// Earlier pages are always tried first. The returned bins are in page order.
func Pack(sizes []image.Point, pageSize int) ([]Placement, []*Bin, error) {
	placements := make([]Placement, len(sizes))
	var bins []*Bin
	for i, s := range sizes {
		if s.X <= 0 || s.Y <= 0 {
			return nil, nil, fmt.Errorf("binpack: invalid size %v", s)
		}
		if align(s.X) > pageSize || align(s.Y) > pageSize {
			return nil, nil, fmt.Errorf("%w: %dx%d on %d", ErrTooLarge, s.X, s.Y, pageSize)
		}
		placed := false
		for page, b := range bins {
			if r, ok := b.Insert(s.X, s.Y); ok {
				placements[i] = Placement{page, r}
				placed = true
				break
			}
		}
		if !placed {
			b := NewBin(pageSize, pageSize)
			r, _ := b.Insert(s.X, s.Y)
			placements[i] = Placement{len(bins), r}
			bins = append(bins, b)
		}
	}
	return placements, bins, nil
}

// PageSize returns the smallest power of two, at least Align, that covers
// the used part of b on both axes.
func (b *Bin) PageSize() image.Point {
	return image.Point{pow2(b.used.Max.X), pow2(b.used.Max.Y)}
}

func pow2(v int) int {
	n := Align
	for n < v {
		n <<= 1
	}
	return n
}
