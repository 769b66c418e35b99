/*
Package tis implements the TIS tile set formats.

A tile set is a list of 64 by 64 pixel tiles in row major order; the number
of columns is kept elsewhere. An image that isn't a multiple of 64 in either
direction is padded with transparent pixels.

A TIS V1 tile is a 256 color BGRA palette followed by 4096 8-bit pixel
indices, the palette entry that is pure green marks transparent pixels. A TIS
V2 tile is a PVRZ page number and the position of the tile on that page, a
page of -1 marking a tile that is entirely transparent.
*/
package tis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/bodgit/bamconv/palette"
	"github.com/bodgit/bamconv/pvrz"
)

const (
	signature   = "TIS "
	versionV1   = "V1  "
	versionV2   = "V2  "
	headerSize  = 0x18
	paletteSize = 256 * 4
	tilePixels  = TileSize * TileSize
	tileSizeV1  = paletteSize + tilePixels
	tileSizeV2  = 0x0c
	noPage      = 0xffffffff

	// TileSize is the edge of a tile.
	TileSize = 64
)

var (
	// ErrFormat is returned when decoding something that isn't a TIS.
	ErrFormat = errors.New("tis: invalid format")
	// ErrEmpty is returned when encoding an image without pixels.
	ErrEmpty = errors.New("tis: empty image")

	errNoPages = errors.New("tis: no page writer")
)

type header struct {
	Signature  [4]byte
	Version    [4]byte
	Tiles      uint32
	TileLength uint32
	DataOffset uint32
	TileSize   uint32
}

type tileV2 struct {
	Page uint32
	X    uint32
	Y    uint32
}

// File is a decoded tile set.
type File struct {
	Version int
	Tiles   []*image.NRGBA
}

// Columns returns the number of tile columns needed for an image of width w.
func Columns(w int) int {
	return (w + TileSize - 1) / TileSize
}

// Split cuts img into TileSize tiles, padding the last column and row with
// transparent pixels.
func Split(img image.Image) []*image.NRGBA {
	b := img.Bounds()
	var tiles []*image.NRGBA
	for y := b.Min.Y; y < b.Max.Y; y += TileSize {
		for x := b.Min.X; x < b.Max.X; x += TileSize {
			t := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
			r := image.Rect(x, y, x+TileSize, y+TileSize).Intersect(b)
			draw.Draw(t, r.Sub(image.Pt(x, y)), img, r.Min, draw.Src)
			tiles = append(tiles, t)
		}
	}
	return tiles
}

// Join puts tiles back together, cols tiles per row.
func Join(tiles []*image.NRGBA, cols int) *image.NRGBA {
	if cols <= 0 || len(tiles) == 0 {
		return image.NewNRGBA(image.Rectangle{})
	}
	rows := (len(tiles) + cols - 1) / cols
	m := image.NewNRGBA(image.Rect(0, 0, cols*TileSize, rows*TileSize))
	for i, t := range tiles {
		x, y := (i%cols)*TileSize, (i/cols)*TileSize
		for ty := 0; ty < TileSize; ty++ {
			copy(m.Pix[m.PixOffset(x, y+ty):], t.Pix[t.PixOffset(0, ty):t.PixOffset(TileSize, ty)])
		}
	}
	return m
}

func readFull(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// Decode reads a TIS V1 or V2. Pages are only needed for V2.
func Decode(r io.Reader, pages pvrz.PageLoader) (*File, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if string(h.Signature[:]) != signature || h.TileSize != TileSize {
		return nil, ErrFormat
	}
	if h.DataOffset < headerSize {
		return nil, fmt.Errorf("%w: data offset 0x%x", ErrFormat, h.DataOffset)
	}
	if _, err := io.CopyN(io.Discard, r, int64(h.DataOffset-headerSize)); err != nil {
		return nil, err
	}

	switch string(h.Version[:]) {
	case versionV1:
		if h.TileLength != tileSizeV1 {
			return nil, fmt.Errorf("%w: tile length %d", ErrFormat, h.TileLength)
		}
		return decodeV1(r, int(h.Tiles))
	case versionV2:
		if h.TileLength != tileSizeV2 {
			return nil, fmt.Errorf("%w: tile length %d", ErrFormat, h.TileLength)
		}
		if pages == nil {
			return nil, fmt.Errorf("%w: V2 needs its pages", ErrFormat)
		}
		return decodeV2(r, int(h.Tiles), pages)
	}

	return nil, fmt.Errorf("%w: version %q", ErrFormat, h.Version[:])
}

func decodeV1(r io.Reader, n int) (*File, error) {
	green := palette.ARGB(palette.MagicGreen)
	f := &File{Version: 1}
	var tmp [tileSizeV1]byte
	for i := 0; i < n; i++ {
		if err := readFull(r, tmp[:]); err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		pal := make(color.Palette, palette.Size)
		for j := range pal {
			c := color.NRGBA{tmp[j*4+2], tmp[j*4+1], tmp[j*4], 255}
			if palette.ARGB(c) == green {
				c = color.NRGBA{}
			}
			pal[j] = c
		}
		t := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
		for j, idx := range tmp[paletteSize:] {
			t.Set(j%TileSize, j/TileSize, pal[idx])
		}
		f.Tiles = append(f.Tiles, t)
	}
	return f, nil
}

func decodeV2(r io.Reader, n int, pages pvrz.PageLoader) (*File, error) {
	entries := make([]tileV2, n)
	if err := binary.Read(r, binary.LittleEndian, entries); err != nil {
		return nil, err
	}

	f := &File{Version: 2}
	cache := make(map[int]*image.NRGBA)
	for i, e := range entries {
		if e.Page == noPage {
			f.Tiles = append(f.Tiles, image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize)))
			continue
		}
		src := image.Rect(int(e.X), int(e.Y), int(e.X)+TileSize, int(e.Y)+TileSize)
		t, err := pvrz.Assemble(TileSize, TileSize, []pvrz.Block{{Page: int(e.Page), Src: src}}, pages, cache)
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		f.Tiles = append(f.Tiles, t)
	}
	return f, nil
}

func writeHeader(w io.Writer, version string, tiles, length int) error {
	h := header{
		Tiles:      uint32(tiles),
		TileLength: uint32(length),
		DataOffset: headerSize,
		TileSize:   TileSize,
	}
	copy(h.Signature[:], signature)
	copy(h.Version[:], version)
	return binary.Write(w, binary.LittleEndian, &h)
}

func transparent(t *image.NRGBA) bool {
	for i := 3; i < len(t.Pix); i += 4 {
		if t.Pix[i] != 0 {
			return false
		}
	}
	return true
}
