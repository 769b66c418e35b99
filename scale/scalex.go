package scale

import (
	"image"
	"image/color"

	"github.com/bodgit/bamconv/frame"
)

// grid holds either palette indices or packed RGBA values.
type grid struct {
	w, h   int
	pix    []uint32
	border uint32
	repeat bool
}

func (g *grid) at(x, y int) uint32 {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		if !g.repeat {
			return g.border
		}
		x = min(max(x, 0), g.w-1)
		y = min(max(y, 0), g.h-1)
	}
	return g.pix[y*g.w+x]
}

func (g *grid) scaled(n int) *grid {
	return &grid{
		w:      g.w * n,
		h:      g.h * n,
		pix:    make([]uint32, g.w*n*g.h*n),
		border: g.border,
		repeat: g.repeat,
	}
}

func (g *grid) set(x, y int, v uint32) {
	g.pix[y*g.w+x] = v
}

func scale2x(g *grid) *grid {
	out := g.scaled(2)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			p := g.at(x, y)
			a := g.at(x, y-1) // up
			b := g.at(x+1, y) // right
			c := g.at(x-1, y) // left
			d := g.at(x, y+1) // down

			e0, e1, e2, e3 := p, p, p, p
			if c == a && c != d && a != b {
				e0 = a
			}
			if a == b && a != c && b != d {
				e1 = b
			}
			if d == c && d != b && c != a {
				e2 = c
			}
			if b == d && b != a && d != c {
				e3 = d
			}
			out.set(2*x, 2*y, e0)
			out.set(2*x+1, 2*y, e1)
			out.set(2*x, 2*y+1, e2)
			out.set(2*x+1, 2*y+1, e3)
		}
	}
	return out
}

func scale3x(g *grid) *grid {
	out := g.scaled(3)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			// A B C
			// D E F
			// G H I
			a, b, c := g.at(x-1, y-1), g.at(x, y-1), g.at(x+1, y-1)
			d, e, f := g.at(x-1, y), g.at(x, y), g.at(x+1, y)
			gg, h, i := g.at(x-1, y+1), g.at(x, y+1), g.at(x+1, y+1)

			var o [9]uint32
			for k := range o {
				o[k] = e
			}
			if d == b && b != f && d != h {
				o[0] = d
			}
			if (d == b && b != f && d != h && e != c) || (b == f && b != d && f != h && e != a) {
				o[1] = b
			}
			if b == f && b != d && f != h {
				o[2] = f
			}
			if (d == b && b != f && d != h && e != gg) || (d == h && d != b && h != f && e != a) {
				o[3] = d
			}
			if (b == f && b != d && f != h && e != i) || (h == f && d != h && b != f && e != c) {
				o[5] = f
			}
			if d == h && d != b && h != f {
				o[6] = d
			}
			if (d == h && d != b && h != f && e != i) || (h == f && d != h && b != f && e != gg) {
				o[7] = h
			}
			if h == f && d != h && b != f {
				o[8] = f
			}
			for k, v := range o {
				out.set(3*x+k%3, 3*y+k/3, v)
			}
		}
	}
	return out
}

func pack(c color.NRGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

func scaleX(img image.Image, n int, border color.Color) image.Image {
	b := img.Bounds()
	g := &grid{w: b.Dx(), h: b.Dy(), pix: make([]uint32, b.Dx()*b.Dy()), repeat: border == nil}

	pm, paletted := img.(*image.Paletted)
	if paletted {
		for y := 0; y < g.h; y++ {
			row := pm.Pix[pm.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < g.w; x++ {
				g.pix[y*g.w+x] = uint32(row[x])
			}
		}
		if border != nil && len(pm.Palette) > 0 {
			g.border = uint32(pm.Palette.Index(border))
		}
	} else {
		m := frame.AsNRGBA(img)
		for y := 0; y < g.h; y++ {
			row := m.Pix[y*m.Stride:]
			for x := 0; x < g.w; x++ {
				o := x * 4
				g.pix[y*g.w+x] = uint32(row[o])<<24 | uint32(row[o+1])<<16 | uint32(row[o+2])<<8 | uint32(row[o+3])
			}
		}
		if border != nil {
			g.border = pack(color.NRGBAModel.Convert(border).(color.NRGBA))
		}
	}

	switch n {
	case 2:
		g = scale2x(g)
	case 3:
		g = scale3x(g)
	case 4:
		g = scale2x(scale2x(g))
	}

	r := image.Rect(0, 0, g.w, g.h)
	if paletted {
		out := image.NewPaletted(r, pm.Palette)
		for i, v := range g.pix {
			out.Pix[i] = uint8(v)
		}
		return out
	}
	out := image.NewNRGBA(r)
	for i, v := range g.pix {
		out.Pix[i*4] = uint8(v >> 24)
		out.Pix[i*4+1] = uint8(v >> 16)
		out.Pix[i*4+2] = uint8(v >> 8)
		out.Pix[i*4+3] = uint8(v)
	}
	return out
}
