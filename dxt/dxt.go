/*
Package dxt encodes and decodes DXT1 and DXT5 (BC1 and BC3) block compressed
texture data.

Images are split into 4x4 blocks in row-major order; partial blocks at the
right and bottom edges repeat the last column or row. DXT1 stores binary
alpha, DXT5 adds an interpolated 8-bit alpha channel.
*/
package dxt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/bodgit/bamconv/frame"
)

// Format identifies a block codec.
type Format int

const (
	DXT1 Format = iota
	DXT5
)

func (f Format) String() string {
	switch f {
	case DXT1:
		return "DXT1"
	case DXT5:
		return "DXT5"
	}
	return "unknown"
}

// BlockSize returns the number of bytes used for one 4x4 block.
func (f Format) BlockSize() int {
	if f == DXT5 {
		return 16
	}
	return 8
}

// Size returns the number of bytes needed for a w×h image.
func (f Format) Size(w, h int) int {
	return ((w + 3) / 4) * ((h + 3) / 4) * f.BlockSize()
}

var errShortData = errors.New("dxt: not enough data")

// Choose returns DXT5 if any pixel alpha lies strictly between lo and hi,
// DXT1 otherwise.
func Choose(img image.Image, lo, hi uint8) Format {
	m := frame.AsNRGBA(img)
	for y := 0; y < m.Rect.Dy(); y++ {
		row := m.Pix[y*m.Stride:]
		for x := 0; x < m.Rect.Dx(); x++ {
			if a := row[x*4+3]; a > lo && a < hi {
				return DXT5
			}
		}
	}
	return DXT1
}

// Encode compresses img with format f.
func Encode(img image.Image, f Format) []byte {
	m := frame.AsNRGBA(img)
	w, h := m.Rect.Dx(), m.Rect.Dy()
	out := make([]byte, 0, f.Size(w, h))

	var block [16]color.NRGBA
	for by := 0; by < h; by += 4 {
		for bx := 0; bx < w; bx += 4 {
			for i := range block {
				x := min(bx+i%4, w-1)
				y := min(by+i/4, h-1)
				o := y*m.Stride + x*4
				block[i] = color.NRGBA{m.Pix[o], m.Pix[o+1], m.Pix[o+2], m.Pix[o+3]}
			}
			if f == DXT5 {
				out = appendAlpha(out, &block)
				out = appendColor(out, &block, false)
			} else {
				out = appendColor(out, &block, true)
			}
		}
	}
	return out
}

// Decode expands w×h pixels of format f from data.
func Decode(data []byte, w, h int, f Format) (*image.NRGBA, error) {
	if len(data) < f.Size(w, h) {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", errShortData, len(data), f.Size(w, h))
	}
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	bs := f.BlockSize()

	var block [16]color.NRGBA
	for by := 0; by < h; by += 4 {
		for bx := 0; bx < w; bx += 4 {
			b := data[:bs]
			data = data[bs:]
			if f == DXT5 {
				decodeColor(b[8:], &block, false)
				decodeAlpha(b, &block)
			} else {
				decodeColor(b, &block, true)
			}
			for i, c := range block {
				x, y := bx+i%4, by+i/4
				if x < w && y < h {
					m.SetNRGBA(x, y, c)
				}
			}
		}
	}
	return m, nil
}

func to565(c color.NRGBA) uint16 {
	r := (uint16(c.R)*31 + 127) / 255
	g := (uint16(c.G)*63 + 127) / 255
	b := (uint16(c.B)*31 + 127) / 255
	return r<<11 | g<<5 | b
}

func from565(v uint16) color.NRGBA {
	r := uint8(v>>11) & 0x1f
	g := uint8(v>>5) & 0x3f
	b := uint8(v) & 0x1f
	return color.NRGBA{r<<3 | r>>2, g<<2 | g>>4, b<<3 | b>>2, 255}
}

func lerp(a, b color.NRGBA, wa, wb, d int) color.NRGBA {
	f := func(x, y uint8) uint8 {
		return uint8((int(x)*wa + int(y)*wb) / d)
	}
	return color.NRGBA{f(a.R, b.R), f(a.G, b.G), f(a.B, b.B), 255}
}

// colors returns the block palette for the two endpoints.
func colors(c0, c1 uint16, binaryAlpha bool) [4]color.NRGBA {
	a, b := from565(c0), from565(c1)
	if c0 > c1 || !binaryAlpha {
		return [4]color.NRGBA{a, b, lerp(a, b, 2, 1, 3), lerp(a, b, 1, 2, 3)}
	}
	return [4]color.NRGBA{a, b, lerp(a, b, 1, 1, 2), {}}
}

func dist(a, b color.NRGBA) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}

// appendColor encodes the color part of a block. With binaryAlpha set
// pixels with alpha below 128 use the transparent entry of the three color
// mode.
func appendColor(out []byte, block *[16]color.NRGBA, binaryAlpha bool) []byte {
	transparent := false
	var opaque []color.NRGBA
	for _, c := range block {
		if binaryAlpha && c.A < 128 {
			transparent = true
			continue
		}
		if !binaryAlpha && c.A == 0 {
			continue
		}
		opaque = append(opaque, c)
	}
	if len(opaque) == 0 {
		if binaryAlpha {
			return binary.LittleEndian.AppendUint64(out, 0xffffffff<<32)
		}
		opaque = block[:]
	}

	// The two most distant colors become the endpoints
	e0, e1 := opaque[0], opaque[0]
	best := -1
	for i := range opaque {
		for j := i; j < len(opaque); j++ {
			if d := dist(opaque[i], opaque[j]); d > best {
				best, e0, e1 = d, opaque[i], opaque[j]
			}
		}
	}
	c0, c1 := to565(e0), to565(e1)
	if transparent {
		if c0 > c1 {
			c0, c1 = c1, c0
		}
	} else if c0 < c1 {
		c0, c1 = c1, c0
	}

	pal := colors(c0, c1, binaryAlpha)
	n := 4
	if binaryAlpha && c0 <= c1 {
		n = 3
	}
	var indices uint32
	for i, c := range block {
		var idx uint32
		if binaryAlpha && c.A < 128 {
			idx = 3
		} else if c0 != c1 {
			bestD := -1
			for k := 0; k < n; k++ {
				if d := dist(c, pal[k]); bestD < 0 || d < bestD {
					bestD, idx = d, uint32(k)
				}
			}
		}
		indices |= idx << (2 * i)
	}

	out = binary.LittleEndian.AppendUint16(out, c0)
	out = binary.LittleEndian.AppendUint16(out, c1)
	return binary.LittleEndian.AppendUint32(out, indices)
}

func decodeColor(b []byte, block *[16]color.NRGBA, binaryAlpha bool) {
	c0 := binary.LittleEndian.Uint16(b)
	c1 := binary.LittleEndian.Uint16(b[2:])
	indices := binary.LittleEndian.Uint32(b[4:])
	pal := colors(c0, c1, binaryAlpha)
	for i := range block {
		block[i] = pal[(indices>>(2*i))&3]
	}
}

func alphas(a0, a1 uint8) [8]uint8 {
	var v [8]uint8
	v[0], v[1] = a0, a1
	if a0 > a1 {
		for i := 1; i < 7; i++ {
			v[i+1] = uint8((int(a0)*(7-i) + int(a1)*i) / 7)
		}
		return v
	}
	for i := 1; i < 5; i++ {
		v[i+1] = uint8((int(a0)*(5-i) + int(a1)*i) / 5)
	}
	v[6], v[7] = 0, 255
	return v
}

func appendAlpha(out []byte, block *[16]color.NRGBA) []byte {
	a0, a1 := uint8(0), uint8(255)
	for _, c := range block {
		a0 = max(a0, c.A)
		a1 = min(a1, c.A)
	}

	var bits uint64
	if a0 != a1 {
		v := alphas(a0, a1)
		for i, c := range block {
			idx, bestD := 0, 256
			for k, a := range v {
				d := int(c.A) - int(a)
				if d < 0 {
					d = -d
				}
				if d < bestD {
					idx, bestD = k, d
				}
			}
			bits |= uint64(idx) << (3 * i)
		}
	}

	out = append(out, a0, a1)
	for i := 0; i < 6; i++ {
		out = append(out, uint8(bits>>(8*i)))
	}
	return out
}

func decodeAlpha(b []byte, block *[16]color.NRGBA) {
	v := alphas(b[0], b[1])
	var bits uint64
	for i := 0; i < 6; i++ {
		bits |= uint64(b[2+i]) << (8 * i)
	}
	for i := range block {
		block[i].A = v[(bits>>(3*i))&7]
	}
}
