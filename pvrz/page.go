/*
Package pvrz implements the compressed texture pages referenced by the page
based BAM and MOS formats.

A page file is a little-endian uint32 holding the size of the uncompressed
data followed by a zlib stream of a PVR v3 texture: a 52 byte header and a
single surface of DXT1 or DXT5 blocks.
*/
package pvrz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/bodgit/bamconv/dxt"
	"github.com/klauspost/compress/zlib"
)

const (
	// MaxSize is the largest page edge.
	MaxSize = 1024

	pvrVersion = 0x03525650
	headerSize = 52

	formatDXT1 = 7
	formatDXT5 = 11
)

var (
	errBadVersion = errors.New("pvrz: not a PVR3 texture")
	errBadFormat  = errors.New("pvrz: unsupported pixel format")
	errBadSize    = errors.New("pvrz: size mismatch")
)

type header struct {
	Version      uint32
	Flags        uint32
	PixelFormat  uint64
	ColorSpace   uint32
	ChannelType  uint32
	Height       uint32
	Width        uint32
	Depth        uint32
	Surfaces     uint32
	Faces        uint32
	MipMaps      uint32
	MetaDataSize uint32
}

// Page is one texture page. It implements the encoding.BinaryMarshaler and
// encoding.BinaryUnmarshaler interfaces.
type Page struct {
	Format        dxt.Format
	Width, Height int
	// Data holds the compressed blocks. When nil, Source is compressed
	// on demand by MarshalBinary.
	Data   []byte
	Source image.Image
}

// NewPage compresses img with format f.
func NewPage(img image.Image, f dxt.Format) *Page {
	b := img.Bounds()
	return &Page{
		Format: f,
		Width:  b.Dx(),
		Height: b.Dy(),
		Data:   dxt.Encode(img, f),
	}
}

// Image decodes the page back to pixels.
func (p *Page) Image() (*image.NRGBA, error) {
	return dxt.Decode(p.data(), p.Width, p.Height, p.Format)
}

func (p *Page) data() []byte {
	if p.Data == nil && p.Source != nil {
		return dxt.Encode(p.Source, p.Format)
	}
	return p.Data
}

// Filename returns the name of page n for a resource prefix, for example
// "MOS0001.PVRZ".
func Filename(prefix string, n int) string {
	return fmt.Sprintf("%s%04d.PVRZ", prefix, n)
}

// MarshalBinary encodes the page into its compressed on-disk form.
func (p *Page) MarshalBinary() ([]byte, error) {
	if p.Width <= 0 || p.Height <= 0 || p.Width > MaxSize || p.Height > MaxSize {
		return nil, fmt.Errorf("%w: %dx%d", errBadSize, p.Width, p.Height)
	}
	data := p.data()
	if len(data) != p.Format.Size(p.Width, p.Height) {
		return nil, fmt.Errorf("%w: %d bytes of data for %dx%d", errBadSize, len(data), p.Width, p.Height)
	}

	h := header{
		Version:     pvrVersion,
		PixelFormat: formatDXT1,
		Height:      uint32(p.Height),
		Width:       uint32(p.Width),
		Depth:       1,
		Surfaces:    1,
		Faces:       1,
		MipMaps:     1,
	}
	if p.Format == dxt.DXT5 {
		h.PixelFormat = formatDXT5
	}

	b := new(bytes.Buffer)

	// Uncompressed size
	if err := binary.Write(b, binary.LittleEndian, uint32(headerSize+len(data))); err != nil {
		return nil, err
	}

	zw := zlib.NewWriter(b)
	if err := binary.Write(zw, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// UnmarshalBinary decodes a page from its compressed on-disk form.
func (p *Page) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return errBadSize
	}
	size := binary.LittleEndian.Uint32(b)

	zr, err := zlib.NewReader(bytes.NewReader(b[4:]))
	if err != nil {
		return err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return err
	}
	if uint32(len(raw)) != size || len(raw) < headerSize {
		return fmt.Errorf("%w: %d bytes, header says %d", errBadSize, len(raw), size)
	}

	var h header
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &h); err != nil {
		return err
	}
	if h.Version != pvrVersion {
		return errBadVersion
	}

	switch h.PixelFormat {
	case formatDXT1:
		p.Format = dxt.DXT1
	case formatDXT5:
		p.Format = dxt.DXT5
	default:
		return fmt.Errorf("%w: %d", errBadFormat, h.PixelFormat)
	}
	p.Width, p.Height = int(h.Width), int(h.Height)

	if int64(h.MetaDataSize) > int64(len(raw)-headerSize) {
		return fmt.Errorf("%w: metadata of %d bytes", errBadSize, h.MetaDataSize)
	}
	data := raw[headerSize+int(h.MetaDataSize):]
	if len(data) < p.Format.Size(p.Width, p.Height) {
		return fmt.Errorf("%w: %d bytes of data for %dx%d", errBadSize, len(data), p.Width, p.Height)
	}
	p.Data = data[:p.Format.Size(p.Width, p.Height)]

	return nil
}
