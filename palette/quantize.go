package palette

import (
	"fmt"
	"image"
	"image/color"

	"github.com/bodgit/bamconv/frame"
	"github.com/ericpauley/go-quantize/quantize"
)

// Quantizer selects how a single image gets a palette of its own.
type Quantizer int

const (
	// QuantizerMedianCut uses Generate.
	QuantizerMedianCut Quantizer = iota
	// QuantizerFast uses go-quantize, which is quicker on large images.
	QuantizerFast
)

func (q Quantizer) String() string {
	switch q {
	case QuantizerMedianCut:
		return "mediancut"
	case QuantizerFast:
		return "fast"
	}
	return "unknown"
}

// ParseQuantizer is the inverse of Quantizer.String.
func ParseQuantizer(s string) (Quantizer, error) {
	for _, q := range []Quantizer{QuantizerMedianCut, QuantizerFast} {
		if q.String() == s {
			return q, nil
		}
	}
	return QuantizerMedianCut, fmt.Errorf("palette: unknown quantizer %q", s)
}

func opaque(m image.Image, x, y int) uint32 {
	if _, _, _, a := m.At(x, y).RGBA(); a == 0 {
		return 0
	}
	return 1
}

// Quantize returns a palette of at most n colors for the visible pixels of
// img using go-quantize.
func Quantize(img image.Image, n int) color.Palette {
	if n <= 0 || n > Size {
		n = Size
	}
	q := quantize.MedianCutQuantizer{Weighting: opaque}
	p := q.Quantize(make(color.Palette, 0, n), img)
	for i, c := range p {
		p[i] = color.NRGBAModel.Convert(c)
	}
	return p
}

// Paletted returns img converted to a palette generated just for it. When
// img has fully transparent pixels, index 0 is MagicGreen and holds them.
func Paletted(img image.Image, q Quantizer, metric Metric) *image.Paletted {
	n := frame.AsNRGBA(img)

	transparent, visible := false, false
	for y := 0; y < n.Rect.Dy(); y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < n.Rect.Dx(); x++ {
			if row[x*4+3] == 0 {
				transparent = true
			} else {
				visible = true
			}
		}
	}

	var p color.Palette
	switch {
	case q == QuantizerFast && visible:
		colors := Size
		if transparent {
			colors--
		}
		p = Quantize(n, colors)
		if transparent {
			p = append(color.Palette{MagicGreen}, p...)
		}
	default:
		reg := NewRegistry()
		reg.RegisterImage(n)
		p = Generate(reg, Options{Transparent: transparent})
	}

	t := -1
	if transparent {
		t = 0
	}
	return NewMatcher(p, t, metric).Convert(n)
}
