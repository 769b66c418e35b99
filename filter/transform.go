package filter

import (
	"fmt"
	"image"
	"strconv"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/scale"
	"github.com/disintegration/gift"
)

type transformKind struct{}

func (transformKind) Kind() Kind { return KindTransform }

func giftFrame(f frame.Frame, filters ...gift.Filter) frame.Frame {
	g := gift.New(filters...)
	src := f.Image
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return f.WithImage(dst)
}

// Mirror flips frames, moving the center with them.
type Mirror struct {
	transformKind
	Horizontal, Vertical bool
}

// Name implements Filter.
func (Mirror) Name() string { return "Mirror" }

// Config implements Filter.
func (f *Mirror) Config() string {
	return Format(f.Name(), strconv.FormatBool(f.Horizontal), strconv.FormatBool(f.Vertical))
}

// ApplyTransform implements TransformFilter.
func (f *Mirror) ApplyTransform(fr frame.Frame) (frame.Frame, error) {
	var filters []gift.Filter
	c := fr.Center
	if f.Horizontal {
		filters = append(filters, gift.FlipHorizontal())
		c.X = fr.Width() - c.X
	}
	if f.Vertical {
		filters = append(filters, gift.FlipVertical())
		c.Y = fr.Height() - c.Y
	}
	if len(filters) == 0 {
		return fr.Clone(), nil
	}
	out := giftFrame(fr, filters...)
	out.Center = c
	return out, nil
}

// Rotate turns frames counter-clockwise by a multiple of 90 degrees.
type Rotate struct {
	transformKind
	Angle int
}

// Name implements Filter.
func (Rotate) Name() string { return "Rotate" }

// Config implements Filter.
func (f *Rotate) Config() string { return Format(f.Name(), strconv.Itoa(f.Angle)) }

// Validate checks the angle.
func (f *Rotate) Validate() error {
	switch f.Angle {
	case 0, 90, 180, 270:
		return nil
	}
	return fmt.Errorf("%w: angle %d isn't 0, 90, 180 or 270", ErrConfig, f.Angle)
}

// ApplyTransform implements TransformFilter.
func (f *Rotate) ApplyTransform(fr frame.Frame) (frame.Frame, error) {
	if err := f.Validate(); err != nil {
		return fr, err
	}
	w, h := fr.Width(), fr.Height()
	c := fr.Center
	var out frame.Frame
	switch f.Angle {
	case 0:
		return fr.Clone(), nil
	case 90:
		out = giftFrame(fr, gift.Rotate90())
		out.Center = image.Pt(c.Y, w-c.X)
	case 180:
		out = giftFrame(fr, gift.Rotate180())
		out.Center = image.Pt(w-c.X, h-c.Y)
	case 270:
		out = giftFrame(fr, gift.Rotate270())
		out.Center = image.Pt(h-c.Y, c.X)
	}
	return out, nil
}

// Blur applies a gaussian blur. The frame size doesn't change so edges
// fade out.
type Blur struct {
	transformKind
	Sigma float64
}

// Name implements Filter.
func (Blur) Name() string { return "Blur" }

// Config implements Filter.
func (f *Blur) Config() string { return Format(f.Name(), ftoa(f.Sigma)) }

// Validate checks sigma.
func (f *Blur) Validate() error {
	return inRange("sigma", f.Sigma, 0, 64)
}

// ApplyTransform implements TransformFilter.
func (f *Blur) ApplyTransform(fr frame.Frame) (frame.Frame, error) {
	if err := f.Validate(); err != nil {
		return fr, err
	}
	if f.Sigma == 0 {
		return fr.Clone(), nil
	}
	return giftFrame(fr, gift.GaussianBlur(float32(f.Sigma))), nil
}

// Trim removes fully transparent rows and columns around a frame, keeping
// Margin of them on each side. The center follows the image.
type Trim struct {
	transformKind
	Margin int
}

// Name implements Filter.
func (Trim) Name() string { return "Trim" }

// Config implements Filter.
func (f *Trim) Config() string { return Format(f.Name(), strconv.Itoa(f.Margin)) }

// Validate checks the margin.
func (f *Trim) Validate() error {
	if f.Margin < 0 {
		return fmt.Errorf("%w: margin %d", ErrConfig, f.Margin)
	}
	return nil
}

// visible returns the bounding box of the pixels of m that are neither
// transparent nor transparent green.
func visible(m image.Image) image.Rectangle {
	b := m.Bounds()
	r := image.Rectangle{}
	n := frame.AsNRGBA(m)
	for y := 0; y < b.Dy(); y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4 : x*4+4]
			if p[3] != 0 && (p[0] != 0 || p[1] != 255 || p[2] != 0) {
				r = r.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	return r
}

// ApplyTransform implements TransformFilter.
func (f *Trim) ApplyTransform(fr frame.Frame) (frame.Frame, error) {
	if err := f.Validate(); err != nil {
		return fr, err
	}
	r := visible(fr.Image)
	if r.Empty() {
		out := fr.WithImage(frame.Empty())
		out.Center = image.Point{}
		return out, nil
	}
	r = r.Inset(-f.Margin).Intersect(image.Rect(0, 0, fr.Width(), fr.Height()))

	b := fr.Image.Bounds()
	src := r.Add(b.Min)
	var img image.Image
	switch m := fr.Image.(type) {
	case *image.Paletted:
		img = frame.CloneImage(m.SubImage(src))
	default:
		img = frame.CloneImage(frame.AsNRGBA(m).SubImage(r))
	}
	out := fr.WithImage(img)
	out.Center = fr.Center.Sub(r.Min)
	return out, nil
}

// Center sets the center of every frame, or moves it when Relative is set.
type Center struct {
	transformKind
	X, Y     int
	Relative bool
}

// Name implements Filter.
func (Center) Name() string { return "Center" }

// Config implements Filter.
func (f *Center) Config() string {
	return Format(f.Name(), strconv.Itoa(f.X), strconv.Itoa(f.Y), strconv.FormatBool(f.Relative))
}

// ApplyTransform implements TransformFilter.
func (f *Center) ApplyTransform(fr frame.Frame) (frame.Frame, error) {
	out := fr.Clone()
	if f.Relative {
		out.Center = out.Center.Add(image.Pt(f.X, f.Y))
	} else {
		out.Center = image.Pt(f.X, f.Y)
	}
	return out, nil
}

// Resize scales frames.
type Resize struct {
	transformKind
	scale.Params
	// ScaleCenter moves the center by the same ratio as the image.
	ScaleCenter bool
}

// Name implements Filter.
func (Resize) Name() string { return "Resize" }

// Config implements Filter.
func (f *Resize) Config() string {
	return Format(f.Name(), f.Algorithm.String(), ftoa(f.X), ftoa(f.Y), strconv.Itoa(f.Lanczos), strconv.FormatBool(f.ScaleCenter))
}

// ApplyTransform implements TransformFilter.
func (f *Resize) ApplyTransform(fr frame.Frame) (frame.Frame, error) {
	return scale.Frame(fr, f.Params, f.ScaleCenter)
}

func init() {
	register("Mirror", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Mirror{Horizontal: fs.flag(true), Vertical: fs.flag(false)}
		return validated(f, fs.err)
	})
	register("Rotate", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Rotate{Angle: fs.integer(90)}
		return validated(f, fs.err)
	})
	register("Blur", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Blur{Sigma: fs.number(1)}
		return validated(f, fs.err)
	})
	register("Trim", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Trim{Margin: fs.integer(0)}
		return validated(f, fs.err)
	})
	register("Center", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Center{X: fs.integer(0), Y: fs.integer(0), Relative: fs.flag(false)}
		return validated(f, fs.err)
	})
	register("Resize", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		a, err := scale.ParseAlgorithm(fs.text(scale.Nearest.String()))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		f := &Resize{
			Params: scale.Params{
				Algorithm: a,
				X:         fs.number(1),
				Y:         fs.number(1),
				Lanczos:   fs.integer(0),
			},
			ScaleCenter: fs.flag(true),
		}
		return validated(f, fs.err)
	})
}
