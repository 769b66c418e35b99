package mos

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"log"
	"math"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
	"github.com/bodgit/bamconv/pvrz"
)

// V1Options controls EncodeV1.
type V1Options struct {
	// Compress wraps the result as MOSC.
	Compress  bool
	Quantizer palette.Quantizer
	Metric    palette.Metric
	Logger    *log.Logger
}

func tileRect(b image.Rectangle, i, cols int) image.Rectangle {
	x := b.Min.X + (i%cols)*TileSize
	y := b.Min.Y + (i/cols)*TileSize
	return image.Rect(x, y, min(x+TileSize, b.Max.X), min(y+TileSize, b.Max.Y))
}

// EncodeV1 writes img as a MOS V1, or MOSC when opts.Compress is set. Every
// tile is given its own palette.
func EncodeV1(ctx context.Context, w io.Writer, img image.Image, opts V1Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	b := img.Bounds()
	if b.Empty() {
		return ErrEmpty
	}
	if b.Dx() > maxSizeV1 || b.Dy() > maxSizeV1 {
		return fmt.Errorf("%w: %dx%d", errTooLarge, b.Dx(), b.Dy())
	}

	cols, rows := grid(b.Dx(), b.Dy())
	tiles := cols * rows

	src := frame.AsNRGBA(img)
	sb := src.Bounds()

	pals := make([]byte, 0, tiles*paletteSize)
	offsets := make([]uint32, tiles)
	var data []byte
	for i := 0; i < tiles; i++ {
		if err := frame.Cancelled(ctx); err != nil {
			return err
		}
		tile := palette.Paletted(src.SubImage(tileRect(sb, i, cols)), opts.Quantizer, opts.Metric)
		pals = append(pals, encodePalette(tile.Palette)...)
		offsets[i] = uint32(len(data))
		data = append(data, tile.Pix...)
	}

	h := headerV1{
		Width:         uint16(b.Dx()),
		Height:        uint16(b.Dy()),
		Columns:       uint16(cols),
		Rows:          uint16(rows),
		TileSize:      TileSize,
		PaletteOffset: headerSizeV1,
	}
	copy(h.Signature[:], signature)
	copy(h.Version[:], versionV1)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &h); err != nil {
		return err
	}
	buf.Write(pals)
	if err := binary.Write(buf, binary.LittleEndian, offsets); err != nil {
		return err
	}
	buf.Write(data)

	logger.Printf("Encoded %dx%d as %d tiles\n", b.Dx(), b.Dy(), tiles)

	if !opts.Compress {
		_, err := w.Write(buf.Bytes())
		return err
	}

	return compress(w, buf.Bytes())
}

// V2Options controls EncodeV2.
type V2Options struct {
	// Pages receives the texture pages. Required.
	Pages pvrz.PageWriter
	pvrz.AtlasOptions
	// Workers is the number of pages compressed at once, one per CPU when
	// zero.
	Workers int
	Logger  *log.Logger
}

// EncodeV2 writes the pages of img to opts.Pages and then the MOS V2 itself
// to w.
func EncodeV2(ctx context.Context, w io.Writer, img image.Image, opts V2Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if opts.Pages == nil {
		return errNoPages
	}
	b := img.Bounds()
	if b.Empty() {
		return ErrEmpty
	}
	if int64(b.Dx()) > math.MaxUint32 || int64(b.Dy()) > math.MaxUint32 {
		return fmt.Errorf("%w: %dx%d", errTooLarge, b.Dx(), b.Dy())
	}

	atlas, err := pvrz.Pack(ctx, []image.Image{img}, opts.AtlasOptions)
	if err != nil {
		return err
	}

	logger.Printf("Writing %d pages from %d\n", len(atlas.Pages), opts.FirstPage)

	if err := pvrz.WriteAll(ctx, atlas.Pages, opts.FirstPage, opts.Pages, opts.Workers); err != nil {
		return err
	}

	blocks := make([]blockV2, 0, len(atlas.Blocks[0]))
	for _, bl := range atlas.Blocks[0] {
		blocks = append(blocks, blockV2{
			Page:   uint32(bl.Page),
			SrcX:   uint32(bl.Src.Min.X),
			SrcY:   uint32(bl.Src.Min.Y),
			Width:  uint32(bl.Src.Dx()),
			Height: uint32(bl.Src.Dy()),
			DstX:   uint32(bl.Dst.X),
			DstY:   uint32(bl.Dst.Y),
		})
	}

	h := headerV2{
		Width:        uint32(b.Dx()),
		Height:       uint32(b.Dy()),
		Blocks:       uint32(len(blocks)),
		BlocksOffset: headerSizeV2,
	}
	copy(h.Signature[:], signature)
	copy(h.Version[:], versionV2)

	buf := new(bytes.Buffer)
	for _, v := range []interface{}{&h, blocks} {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	logger.Printf("Encoded %dx%d as %d blocks\n", b.Dx(), b.Dy(), len(blocks))

	_, err = w.Write(buf.Bytes())
	return err
}
