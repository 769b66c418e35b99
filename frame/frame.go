/*
Package frame implements the frame and cycle model of an animation.

A Store owns an ordered list of frames and an ordered list of cycles where
each cycle is an ordered list of frame indices. Indices into the frame list
are the only stable reference to a frame, so every edit of the frame list
re-indexes all cycles:

	insert k frames at p    every cycle entry >= p is shifted by +k
	remove frame i          entries equal to i are deleted, entries > i are shifted by -1
	move frame i by delta   entries equal to i become i+delta, the frames passed over
	                        shift by one in the opposite direction
*/
package frame

import (
	"image"
	"image/color"
	"image/draw"
)

// Option names understood by the encoders.
const (
	// OptionCompressed marks a frame for RLE encoding, "1" or "0".
	OptionCompressed = "compressed"
	// OptionRLEIndex overrides the palette index used as RLE sentinel.
	OptionRLEIndex = "rle-index"
	// OptionSourcePath records where the frame was loaded from.
	OptionSourcePath = "source-path"
	// OptionSourceIndex is the index of the frame within a BAM source file.
	OptionSourceIndex = "source-index"
)

// Frame is a single still image plus its anchor point. Image is either an
// *image.Paletted or a truecolor image, usually *image.NRGBA.
type Frame struct {
	Image   image.Image
	Center  image.Point
	Options map[string]string
}

// New returns a frame for img with the given center.
func New(img image.Image, cx, cy int) Frame {
	return Frame{
		Image:   img,
		Center:  image.Pt(cx, cy),
		Options: make(map[string]string),
	}
}

// Width returns the frame width in pixels.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Paletted reports whether the frame buffer is palette indexed.
func (f Frame) Paletted() bool {
	_, ok := f.Image.(*image.Paletted)
	return ok
}

// Option returns the named option or def if it isn't set.
func (f Frame) Option(name, def string) string {
	if v, ok := f.Options[name]; ok {
		return v
	}
	return def
}

// Clone returns a deep copy of f, including the pixel buffer.
func (f Frame) Clone() Frame {
	c := Frame{
		Image:   CloneImage(f.Image),
		Center:  f.Center,
		Options: make(map[string]string, len(f.Options)),
	}
	for k, v := range f.Options {
		c.Options[k] = v
	}
	return c
}

// WithImage returns a copy of f sharing the options but with a new buffer.
func (f Frame) WithImage(img image.Image) Frame {
	c := f
	c.Image = img
	c.Options = make(map[string]string, len(f.Options))
	for k, v := range f.Options {
		c.Options[k] = v
	}
	return c
}

// CloneImage copies m into a new buffer whose top-left corner is at (0, 0).
// Paletted images stay paletted, everything else becomes *image.NRGBA.
func CloneImage(m image.Image) image.Image {
	if m == nil {
		return nil
	}
	b := m.Bounds()
	if pm, ok := m.(*image.Paletted); ok {
		dup := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), append(color.Palette(nil), pm.Palette...))
		for y := 0; y < b.Dy(); y++ {
			copy(dup.Pix[y*dup.Stride:y*dup.Stride+b.Dx()], pm.Pix[pm.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return dup
	}
	return ToNRGBA(m)
}

// ToNRGBA returns a truecolor copy of m whose top-left corner is at (0, 0).
func ToNRGBA(m image.Image) *image.NRGBA {
	b := m.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), m, b.Min, draw.Src)
	return dst
}

// AsNRGBA returns m itself when it already is a zero based *image.NRGBA,
// otherwise a converted copy.
func AsNRGBA(m image.Image) *image.NRGBA {
	if n, ok := m.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return ToNRGBA(m)
}

// Empty returns a 1x1 fully transparent truecolor image.
func Empty() *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, 1, 1))
}

// Cycle is an ordered sequence of frame indices.
type Cycle []int

// Clone returns a copy of c.
func (c Cycle) Clone() Cycle {
	return append(Cycle(nil), c...)
}

// Set is a complete frame and cycle set, as handed to output filters and
// encoders.
type Set struct {
	Frames []Frame
	Cycles []Cycle
}

// Clone returns a deep copy of s.
func (s *Set) Clone() *Set {
	c := &Set{
		Frames: make([]Frame, len(s.Frames)),
		Cycles: make([]Cycle, len(s.Cycles)),
	}
	for i, f := range s.Frames {
		c.Frames[i] = f.Clone()
	}
	for i, cy := range s.Cycles {
		c.Cycles[i] = cy.Clone()
	}
	return c
}

// Validate checks that every cycle entry references an existing frame.
func (s *Set) Validate() error {
	return validateCycles(s.Cycles, len(s.Frames))
}
