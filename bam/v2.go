package bam

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"math"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/pvrz"
)

type headerV2 struct {
	Signature    [4]byte
	Version      [4]byte
	Frames       uint32
	Cycles       uint32
	Blocks       uint32
	FramesOffset uint32
	CyclesOffset uint32
	BlocksOffset uint32
}

type frameV2 struct {
	Width      uint16
	Height     uint16
	CenterX    int16
	CenterY    int16
	StartBlock uint16
	BlockCount uint16
}

type cycleV2 struct {
	Count uint16
	Start uint16
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

var errNoPages = errors.New("bam: no page writer")

// EncodeV2 writes the pages of s to opts.Pages and then s itself as a BAM
// V2 to w. Nothing is written to w if writing the pages fails.
func EncodeV2(ctx context.Context, w io.Writer, s *frame.Set, opts V2Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if opts.Pages == nil {
		return errNoPages
	}
	if err := validate(s); err != nil {
		return err
	}

	images := make([]image.Image, len(s.Frames))
	for i, f := range s.Frames {
		images[i] = f.Image
	}

	atlas, err := pvrz.Pack(ctx, images, opts.AtlasOptions)
	if err != nil {
		return err
	}
	if n := opts.FirstPage + len(atlas.Pages); int64(n) > math.MaxUint32 || opts.FirstPage < 0 {
		return fmt.Errorf("%w: page %d", errTooLarge, n)
	}

	logger.Printf("Writing %d pages from %d\n", len(atlas.Pages), opts.FirstPage)

	if err := pvrz.WriteAll(ctx, atlas.Pages, opts.FirstPage, opts.Pages, opts.Workers); err != nil {
		return err
	}

	var blocks []blockV2
	starts := make([]int, len(s.Frames))
	for i, bs := range atlas.Blocks {
		starts[i] = len(blocks)
		for _, b := range bs {
			blocks = append(blocks, blockV2{
				Page:   uint32(b.Page),
				SrcX:   uint32(b.Src.Min.X),
				SrcY:   uint32(b.Src.Min.Y),
				Width:  uint32(b.Src.Dx()),
				Height: uint32(b.Src.Dy()),
				DstX:   uint32(b.Dst.X),
				DstY:   uint32(b.Dst.Y),
			})
		}
		if len(blocks) > math.MaxUint16 {
			return fmt.Errorf("%w: %d blocks", errTooMany, len(blocks))
		}
	}

	// Frame entries are laid out per cycle, so a frame used twice is
	// listed twice
	var frames []frameV2
	cycles := make([]cycleV2, len(s.Cycles))
	for i, c := range s.Cycles {
		if len(frames)+len(c) > math.MaxUint16 {
			return fmt.Errorf("%w: frame entries", errTooMany)
		}
		cycles[i] = cycleV2{uint16(len(c)), uint16(len(frames))}
		for _, idx := range c {
			f := s.Frames[idx]
			frames = append(frames, frameV2{
				Width:      uint16(f.Width()),
				Height:     uint16(f.Height()),
				CenterX:    int16(f.Center.X),
				CenterY:    int16(f.Center.Y),
				StartBlock: uint16(starts[idx]),
				BlockCount: uint16(len(atlas.Blocks[idx])),
			})
		}
	}

	h := headerV2{
		Frames:       uint32(len(frames)),
		Cycles:       uint32(len(cycles)),
		Blocks:       uint32(len(blocks)),
		FramesOffset: headerSizeV2,
	}
	h.CyclesOffset = h.FramesOffset + h.Frames*frameSize
	h.BlocksOffset = h.CyclesOffset + h.Cycles*cycleSize
	copy(h.Signature[:], signature)
	copy(h.Version[:], versionV2)

	b := new(bytes.Buffer)
	for _, v := range []interface{}{&h, frames, cycles, blocks} {
		if err := binary.Write(b, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	logger.Printf("Encoded %d frame entries, %d cycles, %d blocks\n", len(frames), len(cycles), len(blocks))

	_, err = w.Write(b.Bytes())
	return err
}
