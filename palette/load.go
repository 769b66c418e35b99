package palette

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF
	_ "image/png" // register PNG
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/bmp"
)

var (
	// ErrUnknownFormat means the palette source wasn't recognised.
	ErrUnknownFormat = errors.New("palette: unknown format")
	// ErrNoPalette means the source was recognised but carries no palette.
	ErrNoPalette = errors.New("palette: source has no palette")
	errTruncated = errors.New("palette: truncated data")
)

// Load reads a palette from r. BMP, PNG and GIF images must be paletted;
// BAM files contribute their palette block; Microsoft RIFF, JASC and Adobe
// ACT palette files are read as is.
func Load(r io.Reader) (color.Palette, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(b, []byte("BM")):
		img, err := bmp.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("palette: %w", err)
		}
		return fromImage(img)
	case bytes.HasPrefix(b, []byte("\x89PNG")), bytes.HasPrefix(b, []byte("GIF8")):
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("palette: %w", err)
		}
		return fromImage(img)
	case bytes.HasPrefix(b, []byte("BAMCV1  ")):
		return loadBAMC(b)
	case bytes.HasPrefix(b, []byte("BAM V1  ")):
		return loadBAM(b)
	case len(b) >= 12 && bytes.HasPrefix(b, []byte("RIFF")) && string(b[8:12]) == "PAL ":
		return loadRIFF(b)
	case bytes.HasPrefix(b, []byte("JASC-PAL")):
		return loadJASC(b)
	case len(b) == 768 || len(b) == 772:
		return loadACT(b)
	}
	return nil, ErrUnknownFormat
}

func fromImage(img image.Image) (color.Palette, error) {
	p, ok := img.ColorModel().(color.Palette)
	if !ok || len(p) == 0 {
		return nil, ErrNoPalette
	}
	return Pad(append(color.Palette(nil), p...)), nil
}

func loadBAMC(b []byte) (color.Palette, error) {
	if len(b) < 12 {
		return nil, errTruncated
	}
	zr, err := zlib.NewReader(bytes.NewReader(b[12:]))
	if err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}
	defer zr.Close()

	size := binary.LittleEndian.Uint32(b[8:])
	raw := make([]byte, size)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}
	return loadBAM(raw)
}

func loadBAM(b []byte) (color.Palette, error) {
	if len(b) < 0x18 {
		return nil, errTruncated
	}
	ofs := int(binary.LittleEndian.Uint32(b[0x10:]))
	if ofs < 0 || ofs+Size*4 > len(b) {
		return nil, errTruncated
	}
	p := make(color.Palette, Size)
	for i := range p {
		e := b[ofs+i*4:]
		// Stored as BGRA, alpha 0 means opaque
		a := e[3]
		if a == 0 {
			a = 255
		}
		p[i] = color.NRGBA{e[2], e[1], e[0], a}
	}
	return p, nil
}

func loadRIFF(b []byte) (color.Palette, error) {
	for ofs := 12; ofs+8 <= len(b); {
		id := string(b[ofs : ofs+4])
		size := int(binary.LittleEndian.Uint32(b[ofs+4:]))
		body := ofs + 8
		if body+size > len(b) {
			return nil, errTruncated
		}
		if id == "data" {
			if size < 4 {
				return nil, errTruncated
			}
			count := int(binary.LittleEndian.Uint16(b[body+2:]))
			if body+4+count*4 > len(b) {
				return nil, errTruncated
			}
			p := make(color.Palette, 0, count)
			for i := 0; i < count && i < Size; i++ {
				e := b[body+4+i*4:]
				p = append(p, color.NRGBA{e[0], e[1], e[2], 255})
			}
			return Pad(p), nil
		}
		ofs = body + size + size&1
	}
	return nil, ErrNoPalette
}

func loadJASC(b []byte) (color.Palette, error) {
	s := bufio.NewScanner(bytes.NewReader(b))
	var lines []string
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 3 {
		return nil, errTruncated
	}
	count, err := strconv.Atoi(lines[2])
	if err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}
	if len(lines) < 3+count {
		return nil, errTruncated
	}
	p := make(color.Palette, 0, count)
	for _, line := range lines[3 : 3+count] {
		f := strings.Fields(line)
		if len(f) < 3 {
			return nil, errTruncated
		}
		var rgb [3]uint8
		for i := range rgb {
			v, err := strconv.ParseUint(f[i], 10, 8)
			if err != nil {
				return nil, fmt.Errorf("palette: %w", err)
			}
			rgb[i] = uint8(v)
		}
		if len(p) < Size {
			p = append(p, color.NRGBA{rgb[0], rgb[1], rgb[2], 255})
		}
	}
	return Pad(p), nil
}

func loadACT(b []byte) (color.Palette, error) {
	count := Size
	if len(b) == 772 {
		// Trailing color count and transparent index
		if n := int(binary.BigEndian.Uint16(b[768:])); n > 0 && n <= Size {
			count = n
		}
	}
	p := make(color.Palette, 0, Size)
	for i := 0; i < count; i++ {
		p = append(p, color.NRGBA{b[i*3], b[i*3+1], b[i*3+2], 255})
	}
	return Pad(p), nil
}
