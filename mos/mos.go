/*
Package mos implements the MOS large image formats.

A MOS V1 is a grid of 64 by 64 pixel tiles, the last column and row being
narrower where the image size isn't a multiple of 64. Each tile carries its
own 256 color palette followed by 8-bit pixel indices; the palette entry that
is pure green marks transparent pixels. The whole file may be wrapped in a
zlib stream (MOSC).

A MOS V2 stores the image on DXT compressed PVRZ pages and only lists the
rectangles copied from the pages, in the same 28 byte block layout the BAM
V2 format uses.
*/
package mos

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/bodgit/bamconv/palette"
	"github.com/bodgit/bamconv/pvrz"
	"github.com/klauspost/compress/zlib"
)

const (
	signature    = "MOS "
	signatureC   = "MOSC"
	versionV1    = "V1  "
	versionV2    = "V2  "
	headerSizeV1 = 0x18
	headerSizeV2 = 0x18
	blockSize    = 0x1c
	paletteSize  = 256 * 4
	maxSizeV1    = math.MaxUint16

	// TileSize is the edge of a V1 tile.
	TileSize = 64
)

var (
	// ErrFormat is returned when decoding something that isn't a MOS.
	ErrFormat = errors.New("mos: invalid format")
	// ErrEmpty is returned when encoding an image without pixels.
	ErrEmpty = errors.New("mos: empty image")

	errTooLarge  = errors.New("mos: image too large")
	errTruncated = errors.New("mos: truncated data")
	errNoPages   = errors.New("mos: no page writer")
)

type headerV1 struct {
	Signature     [4]byte
	Version       [4]byte
	Width         uint16
	Height        uint16
	Columns       uint16
	Rows          uint16
	TileSize      uint32
	PaletteOffset uint32
}

type headerV2 struct {
	Signature    [4]byte
	Version      [4]byte
	Width        uint32
	Height       uint32
	Blocks       uint32
	BlocksOffset uint32
}

type headerC struct {
	Signature [4]byte
	Version   [4]byte
	Size      uint32
}

type blockV2 struct {
	Page   uint32
	SrcX   uint32
	SrcY   uint32
	Width  uint32
	Height uint32
	DstX   uint32
	DstY   uint32
}

// File is a decoded MOS.
type File struct {
	Version int
	// Compressed is set for a MOSC file.
	Compressed bool
	Image      *image.NRGBA
}

func grid(w, h int) (int, int) {
	return (w + TileSize - 1) / TileSize, (h + TileSize - 1) / TileSize
}

// Decode reads a MOS V1, MOSC or MOS V2. Pages are only needed for V2.
func Decode(r io.Reader, pages pvrz.PageLoader) (*File, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(b) < 8 {
		return nil, ErrFormat
	}

	switch string(b[:8]) {
	case signatureC + versionV1:
		raw, err := decompress(b)
		if err != nil {
			return nil, err
		}
		f, err := decodeV1(raw)
		if err != nil {
			return nil, err
		}
		f.Compressed = true
		return f, nil
	case signature + versionV1:
		return decodeV1(b)
	case signature + versionV2:
		if pages == nil {
			return nil, fmt.Errorf("%w: V2 needs its pages", ErrFormat)
		}
		return decodeV2(b, pages)
	}

	return nil, fmt.Errorf("%w: signature %q", ErrFormat, b[:8])
}

func compress(w io.Writer, b []byte) error {
	h := headerC{Size: uint32(len(b))}
	copy(h.Signature[:], signatureC)
	copy(h.Version[:], versionV1)
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	zw := zlib.NewWriter(w)
	if _, err := zw.Write(b); err != nil {
		return err
	}
	return zw.Close()
}

func decompress(b []byte) ([]byte, error) {
	var h headerC
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(b[binary.Size(h):]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if uint32(len(raw)) != h.Size {
		return nil, fmt.Errorf("%w: %d bytes, header says %d", ErrFormat, len(raw), h.Size)
	}
	return raw, nil
}

func section(b []byte, offset uint32, n int) ([]byte, error) {
	if int64(offset)+int64(n) > int64(len(b)) {
		return nil, fmt.Errorf("%w at 0x%x", errTruncated, offset)
	}
	return b[offset : int(offset)+n], nil
}

func encodePalette(p color.Palette) []byte {
	out := make([]byte, 0, paletteSize)
	for i := 0; i < palette.Size; i++ {
		c := color.NRGBA{0, 0, 0, 255}
		if i < len(p) {
			c = palette.NRGBA(palette.ARGB(p[i]))
		}
		out = append(out, c.B, c.G, c.R, 0)
	}
	return out
}

// decodePalette returns the tile palette, with green turned transparent.
func decodePalette(b []byte) color.Palette {
	green := palette.ARGB(palette.MagicGreen)
	p := make(color.Palette, palette.Size)
	for i := range p {
		c := color.NRGBA{b[i*4+2], b[i*4+1], b[i*4], 255}
		if palette.ARGB(c) == green {
			c = color.NRGBA{}
		}
		p[i] = c
	}
	return p
}

func decodeV1(b []byte) (*File, error) {
	var h headerV1
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if h.TileSize != TileSize {
		return nil, fmt.Errorf("%w: tile size %d", ErrFormat, h.TileSize)
	}

	w, ht := int(h.Width), int(h.Height)
	cols, rows := int(h.Columns), int(h.Rows)
	if c, r := grid(w, ht); c != cols || r != rows {
		return nil, fmt.Errorf("%w: %dx%d tiles for %dx%d", ErrFormat, cols, rows, w, ht)
	}
	tiles := cols * rows

	pals, err := section(b, h.PaletteOffset, tiles*paletteSize)
	if err != nil {
		return nil, err
	}
	offsetTable := h.PaletteOffset + uint32(tiles*paletteSize)
	p, err := section(b, offsetTable, tiles*4)
	if err != nil {
		return nil, err
	}
	offsets := make([]uint32, tiles)
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, offsets); err != nil {
		return nil, err
	}
	data := offsetTable + uint32(tiles*4)

	img := image.NewNRGBA(image.Rect(0, 0, w, ht))
	for i := 0; i < tiles; i++ {
		x, y := (i%cols)*TileSize, (i/cols)*TileSize
		tw, th := min(TileSize, w-x), min(TileSize, ht-y)

		pal := decodePalette(pals[i*paletteSize:])
		pix, err := section(b, data+offsets[i], tw*th)
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		for j, idx := range pix {
			img.Set(x+j%tw, y+j/tw, pal[idx])
		}
	}

	return &File{Version: 1, Image: img}, nil
}

func decodeV2(b []byte, pages pvrz.PageLoader) (*File, error) {
	var h headerV2
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if int64(h.Width) > math.MaxInt32 || int64(h.Height) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %dx%d", errTooLarge, h.Width, h.Height)
	}

	p, err := section(b, h.BlocksOffset, int(h.Blocks)*blockSize)
	if err != nil {
		return nil, err
	}
	blocks := make([]blockV2, h.Blocks)
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, blocks); err != nil {
		return nil, err
	}

	bs := make([]pvrz.Block, len(blocks))
	for i, d := range blocks {
		bs[i] = pvrz.Block{
			Page: int(d.Page),
			Src:  image.Rect(int(d.SrcX), int(d.SrcY), int(d.SrcX+d.Width), int(d.SrcY+d.Height)),
			Dst:  image.Pt(int(d.DstX), int(d.DstY)),
		}
	}

	img, err := pvrz.Assemble(int(h.Width), int(h.Height), bs, pages, nil)
	if err != nil {
		return nil, err
	}
	return &File{Version: 2, Image: img}, nil
}
