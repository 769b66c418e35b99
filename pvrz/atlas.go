package pvrz

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/bodgit/bamconv/binpack"
	"github.com/bodgit/bamconv/dxt"
	"github.com/bodgit/bamconv/frame"
)

// Codec selects the block compression of a page.
type Codec int

const (
	// Auto picks DXT5 for pages with partial alpha and DXT1 otherwise.
	Auto Codec = iota
	// DXT1 forces DXT1 on every page.
	DXT1
	// DXT5 forces DXT5 on every page.
	DXT5
)

var codecNames = [...]string{"auto", "dxt1", "dxt5"}

func (c Codec) String() string {
	if c >= 0 && int(c) < len(codecNames) {
		return codecNames[c]
	}
	return "unknown"
}

// ParseCodec is the inverse of Codec.String.
func ParseCodec(s string) (Codec, error) {
	for i, n := range codecNames {
		if n == s {
			return Codec(i), nil
		}
	}
	return Auto, fmt.Errorf("pvrz: unknown codec %q", s)
}

// Block is a rectangle of a page copied to a position in an image.
type Block struct {
	Page int
	Src  image.Rectangle
	Dst  image.Point
}

// Atlas is a set of images laid out on pages.
type Atlas struct {
	Pages []*Page
	// Blocks holds the blocks of each input image, in input order.
	Blocks [][]Block
}

// AtlasOptions controls Pack.
type AtlasOptions struct {
	// PageSize is the page edge, MaxSize when zero.
	PageSize int
	// FirstPage is the number of the first page, added to every block.
	FirstPage int
	Codec     Codec
	// AlphaLow and AlphaHigh bound the alpha values that count as binary
	// for Auto. Both zero means 0 and 255.
	AlphaLow, AlphaHigh uint8
}

func (o AtlasOptions) pageSize() int {
	if o.PageSize <= 0 || o.PageSize > MaxSize {
		return MaxSize
	}
	return o.PageSize
}

func (o AtlasOptions) thresholds() (uint8, uint8) {
	if o.AlphaLow == 0 && o.AlphaHigh == 0 {
		return 0, 255
	}
	return o.AlphaLow, o.AlphaHigh
}

// Format returns the codec for a page image.
func (o AtlasOptions) Format(img image.Image) dxt.Format {
	switch o.Codec {
	case DXT1:
		return dxt.DXT1
	case DXT5:
		return dxt.DXT5
	}
	lo, hi := o.thresholds()
	return dxt.Choose(img, lo, hi)
}

type piece struct {
	image int
	src   image.Rectangle
}

// Pack lays images out on pages. Images larger than a page are cut into
// page sized pieces first. The pages are compressed lazily, when written.
func Pack(ctx context.Context, images []image.Image, opts AtlasOptions) (*Atlas, error) {
	size := opts.pageSize()

	var pieces []piece
	var sizes []image.Point
	for i, img := range images {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y += size {
			for x := b.Min.X; x < b.Max.X; x += size {
				r := image.Rect(x, y, min(x+size, b.Max.X), min(y+size, b.Max.Y))
				pieces = append(pieces, piece{i, r})
				sizes = append(sizes, r.Size())
			}
		}
	}

	placements, bins, err := binpack.Pack(sizes, size)
	if err != nil {
		return nil, err
	}

	canvases := make([]*image.NRGBA, len(bins))
	for i, b := range bins {
		s := b.PageSize()
		canvases[i] = image.NewNRGBA(image.Rect(0, 0, s.X, s.Y))
	}

	a := &Atlas{Blocks: make([][]Block, len(images))}
	for i, p := range pieces {
		if err := frame.Cancelled(ctx); err != nil {
			return nil, err
		}
		pl := placements[i]
		img := images[p.image]
		draw.Draw(canvases[pl.Page], pl.Rect, img, p.src.Min, draw.Src)
		a.Blocks[p.image] = append(a.Blocks[p.image], Block{
			Page: opts.FirstPage + pl.Page,
			Src:  pl.Rect,
			Dst:  p.src.Min.Sub(img.Bounds().Min),
		})
	}

	for _, c := range canvases {
		b := c.Bounds()
		a.Pages = append(a.Pages, &Page{
			Format: opts.Format(c),
			Width:  b.Dx(),
			Height: b.Dy(),
			Source: c,
		})
	}

	return a, nil
}

// Assemble rebuilds a w×h image from blocks, loading pages through l.
// Loaded pages are cached in pages, which may be nil.
func Assemble(w, h int, blocks []Block, l PageLoader, pages map[int]*image.NRGBA) (*image.NRGBA, error) {
	if pages == nil {
		pages = make(map[int]*image.NRGBA)
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for _, b := range blocks {
		src, ok := pages[b.Page]
		if !ok {
			p, err := l.LoadPage(b.Page)
			if err != nil {
				return nil, err
			}
			if src, err = p.Image(); err != nil {
				return nil, fmt.Errorf("page %d: %w", b.Page, err)
			}
			pages[b.Page] = src
		}
		if !b.Src.In(src.Bounds()) {
			return nil, fmt.Errorf("pvrz: block %v outside page %d", b.Src, b.Page)
		}
		draw.Draw(out, image.Rectangle{b.Dst, b.Dst.Add(b.Src.Size())}, src, b.Src.Min, draw.Src)
	}
	return out, nil
}
