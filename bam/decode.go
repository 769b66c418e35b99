package bam

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"strconv"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/pvrz"
	"github.com/klauspost/compress/zlib"
)

// Decode reads a BAM V1, BAMC or BAM V2. Pages are only needed for V2.
// V1 frames are returned as *image.Paletted, V2 frames as *image.NRGBA.
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

// section returns n bytes at offset, failing if they aren't there.
func section(b []byte, offset uint32, n int) ([]byte, error) {
	if int64(offset)+int64(n) > int64(len(b)) {
		return nil, fmt.Errorf("%w at 0x%x", errTruncated, offset)
	}
	return b[offset : int(offset)+n], nil
}

func decodeV1(b []byte) (*File, error) {
	var h headerV1
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	frames := make([]frameV1, h.Frames)
	p, err := section(b, h.FramesOffset, len(frames)*frameSize)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, frames); err != nil {
		return nil, err
	}

	cycles := make([]cycleV1, h.Cycles)
	p, err = section(b, h.FramesOffset+uint32(len(frames)*frameSize), len(cycles)*cycleSize)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, cycles); err != nil {
		return nil, err
	}

	p, err = section(b, h.PaletteOffset, paletteSize)
	if err != nil {
		return nil, err
	}
	pal := decodePalette(p)

	entries := 0
	for _, c := range cycles {
		entries = max(entries, int(c.Start)+int(c.Count))
	}
	lookup := make([]uint16, entries)
	p, err = section(b, h.LookupOffset, entries*2)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, lookup); err != nil {
		return nil, err
	}

	f := &File{
		Version:  1,
		Palette:  pal,
		RLEIndex: h.RLEIndex,
		Set:      new(frame.Set),
	}

	for i, e := range frames {
		img := image.NewPaletted(image.Rect(0, 0, int(e.Width), int(e.Height)), pal)
		n := len(img.Pix)
		offset := e.Offset &^ uncompressed
		compressed := e.Offset&uncompressed == 0

		if compressed {
			if int(offset) > len(b) {
				return nil, fmt.Errorf("frame %d: %w", i, errTruncated)
			}
			pix, _, err := decodeRLE(b[offset:], n, h.RLEIndex)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
			copy(img.Pix, pix)
		} else {
			pix, err := section(b, offset, n)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
			copy(img.Pix, pix)
		}

		fr := frame.New(img, int(e.CenterX), int(e.CenterY))
		fr.Options[frame.OptionCompressed] = "0"
		if compressed {
			fr.Options[frame.OptionCompressed] = "1"
		}
		fr.Options[frame.OptionRLEIndex] = strconv.Itoa(int(h.RLEIndex))
		f.Set.Frames = append(f.Set.Frames, fr)
	}

	for i, c := range cycles {
		cy := make(frame.Cycle, c.Count)
		for j := range cy {
			cy[j] = int(lookup[int(c.Start)+j])
		}
		f.Set.Cycles = append(f.Set.Cycles, cy)
		if err := validateCycle(cy, len(frames)); err != nil {
			return nil, fmt.Errorf("cycle %d: %w", i, err)
		}
	}

	return f, nil
}

func validateCycle(c frame.Cycle, frames int) error {
	for _, idx := range c {
		if idx >= frames {
			return fmt.Errorf("%w: frame %d", frame.ErrIndexOutOfRange, idx)
		}
	}
	return nil
}

// decodeV2 turns every frame entry back into a frame, so a frame listed in
// several cycles comes back as several identical frames.
func decodeV2(b []byte, pages pvrz.PageLoader) (*File, error) {
	var h headerV2
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	frames := make([]frameV2, h.Frames)
	p, err := section(b, h.FramesOffset, int(h.Frames)*frameSize)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, frames); err != nil {
		return nil, err
	}

	cycles := make([]cycleV2, h.Cycles)
	p, err = section(b, h.CyclesOffset, int(h.Cycles)*cycleSize)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, cycles); err != nil {
		return nil, err
	}

	blocks := make([]blockV2, h.Blocks)
	p, err = section(b, h.BlocksOffset, int(h.Blocks)*blockSize)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, blocks); err != nil {
		return nil, err
	}

	f := &File{Version: 2, Set: new(frame.Set)}
	cache := make(map[int]*image.NRGBA)

	for i, e := range frames {
		end := int(e.StartBlock) + int(e.BlockCount)
		if end > len(blocks) {
			return nil, fmt.Errorf("frame %d: %w", i, errTruncated)
		}
		var bs []pvrz.Block
		for _, d := range blocks[e.StartBlock:end] {
			bs = append(bs, pvrz.Block{
				Page: int(d.Page),
				Src:  image.Rect(int(d.SrcX), int(d.SrcY), int(d.SrcX+d.Width), int(d.SrcY+d.Height)),
				Dst:  image.Pt(int(d.DstX), int(d.DstY)),
			})
		}
		img, err := pvrz.Assemble(int(e.Width), int(e.Height), bs, pages, cache)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		f.Set.Frames = append(f.Set.Frames, frame.New(img, int(e.CenterX), int(e.CenterY)))
	}

	for i, c := range cycles {
		cy := make(frame.Cycle, c.Count)
		for j := range cy {
			cy[j] = int(c.Start) + j
		}
		if err := validateCycle(cy, len(frames)); err != nil {
			return nil, fmt.Errorf("cycle %d: %w", i, err)
		}
		f.Set.Cycles = append(f.Set.Cycles, cy)
	}

	return f, nil
}
