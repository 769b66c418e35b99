package tis

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"io"
	"log"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
	"github.com/bodgit/bamconv/pvrz"
)

// V1Options controls EncodeV1.
type V1Options struct {
	Quantizer palette.Quantizer
	Metric    palette.Metric
	Logger    *log.Logger
}

type encoder struct {
	w    io.Writer
	opts V1Options
}

func (e *encoder) encode(t *image.NRGBA) error {
	pm := palette.Paletted(t, e.opts.Quantizer, e.opts.Metric)

	var tmp [paletteSize]byte
	for i, c := range pm.Palette {
		n := palette.NRGBA(palette.ARGB(c))
		tmp[i*4], tmp[i*4+1], tmp[i*4+2] = n.B, n.G, n.R
	}
	if _, err := e.w.Write(tmp[:]); err != nil {
		return err
	}

	_, err := e.w.Write(pm.Pix)
	return err
}

// EncodeV1 writes img as a TIS V1, every tile with its own palette.
func EncodeV1(ctx context.Context, w io.Writer, img image.Image, opts V1Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if img.Bounds().Empty() {
		return ErrEmpty
	}

	tiles := Split(img)

	b := new(bytes.Buffer)
	if err := writeHeader(b, versionV1, len(tiles), tileSizeV1); err != nil {
		return err
	}

	e := encoder{w: b, opts: opts}
	for _, t := range tiles {
		if err := frame.Cancelled(ctx); err != nil {
			return err
		}
		if err := e.encode(t); err != nil {
			return err
		}
	}

	logger.Printf("Encoded %d tiles, %d columns\n", len(tiles), Columns(img.Bounds().Dx()))

	_, err := w.Write(b.Bytes())
	return err
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

// EncodeV2 writes the pages of img to opts.Pages and then the TIS V2 to w.
// Entirely transparent tiles don't take up page space.
func EncodeV2(ctx context.Context, w io.Writer, img image.Image, opts V2Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if opts.Pages == nil {
		return errNoPages
	}
	if img.Bounds().Empty() {
		return ErrEmpty
	}

	tiles := Split(img)

	var visible []image.Image
	var index []int
	for i, t := range tiles {
		if !transparent(t) {
			visible = append(visible, t)
			index = append(index, i)
		}
	}

	entries := make([]tileV2, len(tiles))
	for i := range entries {
		entries[i].Page = noPage
	}

	if len(visible) > 0 {
		ao := opts.AtlasOptions
		if ao.PageSize > 0 && ao.PageSize < TileSize {
			ao.PageSize = TileSize
		}
		atlas, err := pvrz.Pack(ctx, visible, ao)
		if err != nil {
			return err
		}

		logger.Printf("Writing %d pages from %d\n", len(atlas.Pages), opts.FirstPage)

		if err := pvrz.WriteAll(ctx, atlas.Pages, opts.FirstPage, opts.Pages, opts.Workers); err != nil {
			return err
		}
		for i, bs := range atlas.Blocks {
			entries[index[i]] = tileV2{
				Page: uint32(bs[0].Page),
				X:    uint32(bs[0].Src.Min.X),
				Y:    uint32(bs[0].Src.Min.Y),
			}
		}
	}

	b := new(bytes.Buffer)
	if err := writeHeader(b, versionV2, len(tiles), tileSizeV2); err != nil {
		return err
	}
	if err := binary.Write(b, binary.LittleEndian, entries); err != nil {
		return err
	}

	logger.Printf("Encoded %d tiles, %d transparent\n", len(tiles), len(tiles)-len(visible))

	_, err := w.Write(b.Bytes())
	return err
}
