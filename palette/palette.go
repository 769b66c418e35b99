/*
Package palette builds and applies the 256 color palettes used by the
paletted containers.

Colors are handled as packed ARGB values (0xAARRGGBB, non-premultiplied).
A Registry counts how often each color occurs across all frames so a palette
can be regenerated without rescanning every pixel. Generate copies the
registered colors directly when they fit, otherwise it runs a frequency
weighted median cut. Pure green (#00FF00) is the conventional transparent
color of the paletted formats and always ends up at index 0 when present.
*/
package palette

import (
	"image"
	"image/color"
	"sort"
)

// Size is the number of entries in a full palette.
const Size = 256

// MagicGreen is the color treated as transparent by the paletted formats.
var MagicGreen = color.NRGBA{0, 255, 0, 255}

// ARGB packs c into a non-premultiplied 0xAARRGGBB value.
func ARGB(c color.Color) uint32 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return uint32(n.A)<<24 | uint32(n.R)<<16 | uint32(n.G)<<8 | uint32(n.B)
}

// NRGBA unpacks an 0xAARRGGBB value.
func NRGBA(argb uint32) color.NRGBA {
	return color.NRGBA{
		R: uint8(argb >> 16),
		G: uint8(argb >> 8),
		B: uint8(argb),
		A: uint8(argb >> 24),
	}
}

func alpha(argb uint32) uint8 {
	return uint8(argb >> 24)
}

// Options controls Generate.
type Options struct {
	// MaxColors is the palette size, Size when zero.
	MaxColors int
	// Transparent reserves index 0 for MagicGreen.
	Transparent bool
	// Reserved colors are moved to the lowest free indices in order.
	Reserved []color.Color
}

func (o Options) maxColors() int {
	if o.MaxColors <= 0 || o.MaxColors > Size {
		return Size
	}
	return o.MaxColors
}

// Generate returns a palette for the colors in reg. Fully transparent colors
// are ignored; they are represented by the transparent entry. With no colors
// at all the result is an all black palette of MaxColors entries.
func Generate(reg *Registry, opts Options) color.Palette {
	max := opts.maxColors()

	entries := reg.entries()
	green := ARGB(MagicGreen)
	hasGreen := false
	colors := entries[:0]
	for _, e := range entries {
		if alpha(e.argb) == 0 {
			continue
		}
		if e.argb == green {
			hasGreen = true
		}
		colors = append(colors, e)
	}

	if len(colors) == 0 {
		p := make(color.Palette, max)
		for i := range p {
			p[i] = color.NRGBA{0, 0, 0, 255}
		}
		if opts.Transparent {
			p[0] = MagicGreen
		}
		return p
	}

	budget := max
	if opts.Transparent && !hasGreen {
		budget--
	}

	var p color.Palette
	if len(colors) <= budget {
		sort.Slice(colors, func(i, j int) bool {
			if colors[i].count != colors[j].count {
				return colors[i].count > colors[j].count
			}
			return colors[i].argb < colors[j].argb
		})
		p = make(color.Palette, 0, max)
		for _, e := range colors {
			p = append(p, NRGBA(e.argb))
		}
	} else {
		p = medianCut(colors, budget)
	}

	if opts.Transparent && !hasGreen {
		p = append(color.Palette{MagicGreen}, p...)
	}
	p = pinGreen(p)
	return Reserve(p, opts.Reserved, opts.Transparent)
}

// pinGreen moves MagicGreen to index 0 if it occurs anywhere else.
func pinGreen(p color.Palette) color.Palette {
	green := ARGB(MagicGreen)
	for i, c := range p {
		if ARGB(c) == green {
			p[0], p[i] = p[i], p[0]
			break
		}
	}
	return p
}

// Reserve moves the reserved colors to the low indices of p in the given
// order, starting at 1 when skipZero is set. A reserved color missing from p
// overwrites the entry at its target index. The magic green check isn't
// repeated.
func Reserve(p color.Palette, reserved []color.Color, skipZero bool) color.Palette {
	next := 0
	if skipZero {
		next = 1
	}
	for _, r := range reserved {
		if next >= len(p) {
			p = append(p, r)
			next++
			continue
		}
		want := ARGB(r)
		found := -1
		for i := next; i < len(p); i++ {
			if ARGB(p[i]) == want {
				found = i
				break
			}
		}
		if found >= 0 {
			p[next], p[found] = p[found], p[next]
		} else {
			p[next] = NRGBA(want)
		}
		next++
	}
	return p
}

// Pad extends p with opaque black to Size entries.
func Pad(p color.Palette) color.Palette {
	for len(p) < Size {
		p = append(p, color.NRGBA{0, 0, 0, 255})
	}
	return p
}

// Shared returns the palette used by every image when all of them are
// paletted with identical palettes of at most Size colors.
func Shared(images []image.Image) (color.Palette, bool) {
	var shared color.Palette
	for i, m := range images {
		pm, ok := m.(*image.Paletted)
		if !ok || len(pm.Palette) > Size {
			return nil, false
		}
		if i == 0 {
			shared = pm.Palette
			continue
		}
		if !equal(shared, pm.Palette) {
			return nil, false
		}
	}
	if shared == nil {
		return nil, false
	}
	return append(color.Palette(nil), shared...), true
}

func equal(a, b color.Palette) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if ARGB(a[i]) != ARGB(b[i]) {
			return false
		}
	}
	return true
}
