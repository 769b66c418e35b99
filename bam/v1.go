package bam

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"strconv"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
	"github.com/klauspost/compress/zlib"
)

type headerV1 struct {
	Signature     [4]byte
	Version       [4]byte
	Frames        uint16
	Cycles        uint8
	RLEIndex      uint8
	FramesOffset  uint32
	PaletteOffset uint32
	LookupOffset  uint32
}

type frameV1 struct {
	Width   uint16
	Height  uint16
	CenterX int16
	CenterY int16
	Offset  uint32
}

type cycleV1 struct {
	Count uint16
	Start uint16
}

type headerC struct {
	Signature [4]byte
	Version   [4]byte
	Size      uint32
}

// V1Options controls EncodeV1.
type V1Options struct {
	RLE RLE
	// RLEIndex is the palette index runs are made of.
	RLEIndex uint8
	// Compress wraps the result as BAMC.
	Compress bool
	// Palette, when set, is used instead of a generated one. Index 0 is
	// always treated as transparent.
	Palette     color.Palette
	Metric      palette.Metric
	AlphaWeight float64
	Logger      *log.Logger
}

// Palette returns the palette EncodeV1 would use for s and the palette
// frames are matched against, which is shorter when the frames already
// share a palette.
func Palette(s *frame.Set, opts V1Options) (color.Palette, color.Palette) {
	if opts.Palette != nil {
		p := palette.Pad(append(color.Palette(nil), opts.Palette...))
		return p, p
	}

	images := make([]image.Image, len(s.Frames))
	for i, f := range s.Frames {
		images[i] = f.Image
	}
	if shared, ok := palette.Shared(images); ok {
		if transparentFirst(shared) {
			return palette.Pad(append(color.Palette(nil), shared...)), shared
		}
		// Index 0 is written as green so every color moves up one
		if len(shared) < palette.Size {
			p := palette.Pad(append(color.Palette{palette.MagicGreen}, shared...))
			return p, p
		}
	}

	reg := palette.NewRegistry()
	for _, img := range images {
		reg.RegisterImage(img)
	}
	p := palette.Pad(palette.Generate(reg, palette.Options{Transparent: true}))
	return p, p
}

func transparentFirst(p color.Palette) bool {
	if len(p) == 0 {
		return true
	}
	argb := palette.ARGB(p[0])
	return argb == palette.ARGB(palette.MagicGreen) || argb>>24 == 0
}

func compressFrame(mode RLE, f frame.Frame, raw, rle []byte) bool {
	switch mode {
	case RLEOff:
		return false
	case RLEOn:
		return true
	case RLEAuto:
		return len(rle) < len(raw)
	}
	v, _ := strconv.ParseBool(f.Option(frame.OptionCompressed, "0"))
	return v
}

// EncodeV1 writes s as a BAM V1, or BAMC when opts.Compress is set.
func EncodeV1(ctx context.Context, w io.Writer, s *frame.Set, opts V1Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if err := validate(s); err != nil {
		return err
	}
	if len(s.Frames) > maxFramesV1 {
		return fmt.Errorf("%w: %d frames", errTooMany, len(s.Frames))
	}
	if len(s.Cycles) > maxCyclesV1 {
		return fmt.Errorf("%w: %d cycles", errTooMany, len(s.Cycles))
	}

	pal, match := Palette(s, opts)
	if opts.RLEIndex != TransparentIndex && palette.ARGB(pal[opts.RLEIndex]) == palette.ARGB(pal[TransparentIndex]) {
		return fmt.Errorf("%w: index %d", ErrRLECollision, opts.RLEIndex)
	}

	m := palette.NewMatcher(match, TransparentIndex, opts.Metric)
	if opts.AlphaWeight > 0 {
		m.AlphaWeight = opts.AlphaWeight
	}

	offsetFrames := uint32(headerSizeV1)
	offsetCycles := offsetFrames + uint32(len(s.Frames)*frameSize)
	offsetPalette := offsetCycles + uint32(len(s.Cycles)*cycleSize)
	offsetLookup := offsetPalette + paletteSize

	var lookup []uint16
	cycles := make([]cycleV1, len(s.Cycles))
	for i, c := range s.Cycles {
		if len(lookup)+len(c) > maxCycleCount {
			return fmt.Errorf("%w: lookup table", errTooMany)
		}
		cycles[i] = cycleV1{uint16(len(c)), uint16(len(lookup))}
		for _, idx := range c {
			lookup = append(lookup, uint16(idx))
		}
	}

	offsetData := offsetLookup + uint32(len(lookup)*2)

	var data []byte
	seen := make(map[string]uint32)
	frames := make([]frameV1, len(s.Frames))
	for i, f := range s.Frames {
		if err := frame.Cancelled(ctx); err != nil {
			return err
		}

		raw := m.Convert(f.Image).Pix
		rle := encodeRLE(raw, opts.RLEIndex)

		block, flag := raw, uint32(uncompressed)
		if compressFrame(opts.RLE, f, raw, rle) {
			block, flag = rle, 0
		}

		key := string(block) + strconv.FormatBool(flag == 0)
		offset, ok := seen[key]
		if !ok {
			offset = offsetData + uint32(len(data))
			seen[key] = offset
			data = append(data, block...)
		} else {
			logger.Printf("Frame %d shares data with an earlier frame\n", i)
		}

		frames[i] = frameV1{
			Width:   uint16(f.Width()),
			Height:  uint16(f.Height()),
			CenterX: int16(f.Center.X),
			CenterY: int16(f.Center.Y),
			Offset:  offset | flag,
		}
	}

	h := headerV1{
		Frames:        uint16(len(s.Frames)),
		Cycles:        uint8(len(s.Cycles)),
		RLEIndex:      opts.RLEIndex,
		FramesOffset:  offsetFrames,
		PaletteOffset: offsetPalette,
		LookupOffset:  offsetLookup,
	}
	copy(h.Signature[:], signature)
	copy(h.Version[:], versionV1)

	b := new(bytes.Buffer)
	for _, v := range []interface{}{&h, frames, cycles} {
		if err := binary.Write(b, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	b.Write(encodePalette(pal))
	if err := binary.Write(b, binary.LittleEndian, lookup); err != nil {
		return err
	}
	b.Write(data)

	logger.Printf("Encoded %d frames, %d cycles, %d bytes of frame data\n", len(s.Frames), len(s.Cycles), len(data))

	if !opts.Compress {
		_, err := w.Write(b.Bytes())
		return err
	}

	return compress(w, b.Bytes())
}

// encodePalette writes BGRA entries. The engine reads an alpha of zero as
// opaque, so opaque colors are stored with alpha 0 and index 0 is always
// the transparent green.
func encodePalette(p color.Palette) []byte {
	out := make([]byte, 0, paletteSize)
	for i := 0; i < palette.Size; i++ {
		if i == TransparentIndex {
			out = append(out, 0, 255, 0, 0)
			continue
		}
		c := palette.NRGBA(palette.ARGB(p[i]))
		if c.A == 255 {
			c.A = 0
		}
		out = append(out, c.B, c.G, c.R, c.A)
	}
	return out
}

func decodePalette(b []byte) color.Palette {
	p := make(color.Palette, palette.Size)
	for i := range p {
		c := color.NRGBA{b[i*4+2], b[i*4+1], b[i*4], b[i*4+3]}
		if c.A == 0 {
			c.A = 255
		}
		p[i] = c
	}
	return p
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
