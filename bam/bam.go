/*
Package bam implements the BAM sprite animation formats.

BAM V1 stores 8-bit paletted frames against one shared 256 color palette,
optionally run-length encoded per frame, and optionally wrapped as a whole in
a zlib stream (BAMC). BAM V2 keeps frames truecolor on separate DXT
compressed PVRZ texture pages and only stores where each frame lives.

Both versions describe an animation as a list of frames plus a list of
cycles, each cycle being a sequence of frame indices.
*/
package bam

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/bodgit/bamconv/frame"
)

const (
	signature     = "BAM "
	signatureC    = "BAMC"
	versionV1     = "V1  "
	versionV2     = "V2  "
	headerSizeV1  = 0x18
	headerSizeV2  = 0x20
	frameSize     = 0x0c
	cycleSize     = 0x04
	blockSize     = 0x1c
	paletteSize   = 256 * 4
	uncompressed  = 1 << 31
	maxFramesV1   = math.MaxUint16
	maxCyclesV1   = math.MaxUint8
	maxDimension  = math.MaxUint16
	maxCycleCount = math.MaxUint16
)

var (
	// ErrNoFrames is returned when encoding an animation without frames.
	ErrNoFrames = errors.New("bam: no frames")
	// ErrNoCycles is returned when encoding an animation without cycles.
	ErrNoCycles = errors.New("bam: no cycles")
	// ErrRLECollision is returned when the RLE index isn't the transparent
	// index but holds the transparent color, making runs ambiguous.
	ErrRLECollision = errors.New("bam: RLE index collides with transparent index")
	// ErrFormat is returned when decoding something that isn't a BAM.
	ErrFormat = errors.New("bam: invalid format")
)

var (
	errTooMany   = errors.New("bam: too many entries")
	errTooLarge  = errors.New("bam: value out of range")
	errTruncated = errors.New("bam: truncated data")
)

// RLE selects how frames are run-length encoded.
type RLE int

const (
	// RLEFrame compresses frames whose "compressed" option is set.
	RLEFrame RLE = iota
	// RLEOff never compresses.
	RLEOff
	// RLEOn always compresses.
	RLEOn
	// RLEAuto compresses a frame when that makes it smaller.
	RLEAuto
)

var rleNames = [...]string{"frame", "off", "on", "auto"}

func (r RLE) String() string {
	if r >= 0 && int(r) < len(rleNames) {
		return rleNames[r]
	}
	return "unknown"
}

// ParseRLE is the inverse of RLE.String.
func ParseRLE(s string) (RLE, error) {
	for i, n := range rleNames {
		if n == s {
			return RLE(i), nil
		}
	}
	return RLEFrame, fmt.Errorf("bam: unknown RLE mode %q", s)
}

// TransparentIndex is the palette index of transparent pixels.
const TransparentIndex = 0

// File is a decoded BAM.
type File struct {
	Version int
	// Compressed is set for a BAMC file.
	Compressed bool
	Set        *frame.Set
	// Palette and RLEIndex are only used by V1.
	Palette  color.Palette
	RLEIndex uint8
}

// validate checks the limits shared by both versions.
func validate(s *frame.Set) error {
	if s == nil || len(s.Frames) == 0 {
		return ErrNoFrames
	}
	if len(s.Cycles) == 0 {
		return ErrNoCycles
	}
	if err := s.Validate(); err != nil {
		return err
	}
	for i, c := range s.Cycles {
		if len(c) > maxCycleCount {
			return fmt.Errorf("%w: cycle %d has %d frames", errTooMany, i, len(c))
		}
	}
	for i, f := range s.Frames {
		if f.Image == nil {
			return fmt.Errorf("%w: frame %d", frame.ErrNilImage, i)
		}
		if f.Width() > maxDimension || f.Height() > maxDimension {
			return fmt.Errorf("%w: frame %d is %dx%d", errTooLarge, i, f.Width(), f.Height())
		}
		if f.Center.X < math.MinInt16 || f.Center.X > math.MaxInt16 || f.Center.Y < math.MinInt16 || f.Center.Y > math.MaxInt16 {
			return fmt.Errorf("%w: frame %d center %v", errTooLarge, i, f.Center)
		}
	}
	return nil
}

func encodeRLE(pix []byte, index byte) []byte {
	out := make([]byte, 0, len(pix))
	count := 0
	for _, b := range pix {
		if b == index && count < 256 {
			count++
			continue
		}
		if count > 0 {
			out = append(out, index, byte(count-1))
			count = 0
		}
		if b == index {
			count++
		} else {
			out = append(out, b)
		}
	}
	if count > 0 {
		out = append(out, index, byte(count-1))
	}
	return out
}

// decodeRLE expands n pixels and returns them with the number of bytes
// consumed.
func decodeRLE(data []byte, n int, index byte) ([]byte, int, error) {
	out := make([]byte, 0, n)
	i := 0
	for len(out) < n {
		if i >= len(data) {
			return nil, 0, errTruncated
		}
		b := data[i]
		i++
		if b != index {
			out = append(out, b)
			continue
		}
		if i >= len(data) {
			return nil, 0, errTruncated
		}
		run := int(data[i]) + 1
		i++
		if len(out)+run > n {
			return nil, 0, fmt.Errorf("%w: run overflows frame", ErrFormat)
		}
		for ; run > 0; run-- {
			out = append(out, index)
		}
	}
	return out, i, nil
}
