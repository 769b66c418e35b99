package filter

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
	"github.com/disintegration/gift"
)

type colorKind struct{}

func (colorKind) Kind() Kind { return KindColor }

// applyColors runs fn over the pixels of img. For a paletted image only the
// palette is changed so the indices survive; unless all is set the
// transparent green entry is left alone.
func applyColors(img image.Image, all bool, fn func(*image.NRGBA) *image.NRGBA) image.Image {
	pm, ok := img.(*image.Paletted)
	if !ok {
		return fn(frame.ToNRGBA(img))
	}

	out := frame.CloneImage(pm).(*image.Paletted)
	if len(pm.Palette) == 0 {
		return out
	}

	strip := image.NewNRGBA(image.Rect(0, 0, len(pm.Palette), 1))
	for i, c := range pm.Palette {
		strip.Set(i, 0, c)
	}
	strip = fn(strip)

	green := palette.ARGB(palette.MagicGreen)
	out.Palette = make(color.Palette, len(pm.Palette))
	for i, c := range pm.Palette {
		if !all && palette.ARGB(c) == green {
			out.Palette[i] = c
			continue
		}
		out.Palette[i] = strip.NRGBAAt(i, 0)
	}
	return out
}

func withGift(filters ...gift.Filter) func(*image.NRGBA) *image.NRGBA {
	g := gift.New(filters...)
	return func(src *image.NRGBA) *image.NRGBA {
		if len(g.Filters) == 0 {
			return src
		}
		dst := image.NewNRGBA(g.Bounds(src.Bounds()))
		g.Draw(dst, src)
		return dst
	}
}

func inRange(name string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%w: %s %g outside %g..%g", ErrConfig, name, v, lo, hi)
	}
	return nil
}

// BrightnessContrastGamma adjusts brightness and contrast, both -100 to
// 100, and gamma, above 0 with 1 leaving the image alone.
type BrightnessContrastGamma struct {
	colorKind
	Brightness, Contrast, Gamma float64
}

// Name implements Filter.
func (BrightnessContrastGamma) Name() string { return "BrightnessContrastGamma" }

// Config implements Filter.
func (f *BrightnessContrastGamma) Config() string {
	return Format(f.Name(), ftoa(f.Brightness), ftoa(f.Contrast), ftoa(f.Gamma))
}

// Validate checks the ranges.
func (f *BrightnessContrastGamma) Validate() error {
	if err := inRange("brightness", f.Brightness, -100, 100); err != nil {
		return err
	}
	if err := inRange("contrast", f.Contrast, -100, 100); err != nil {
		return err
	}
	if f.Gamma <= 0 || f.Gamma > 5 {
		return fmt.Errorf("%w: gamma %g outside 0..5", ErrConfig, f.Gamma)
	}
	return nil
}

// ApplyColor implements ColorFilter.
func (f *BrightnessContrastGamma) ApplyColor(img image.Image) (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var filters []gift.Filter
	if f.Brightness != 0 {
		filters = append(filters, gift.Brightness(float32(f.Brightness)))
	}
	if f.Contrast != 0 {
		filters = append(filters, gift.Contrast(float32(f.Contrast)))
	}
	if f.Gamma != 1 {
		filters = append(filters, gift.Gamma(float32(f.Gamma)))
	}
	return applyColors(img, false, withGift(filters...)), nil
}

// ColorBalance changes each channel by a percentage, -100 to 500.
type ColorBalance struct {
	colorKind
	Red, Green, Blue float64
}

// Name implements Filter.
func (ColorBalance) Name() string { return "ColorBalance" }

// Config implements Filter.
func (f *ColorBalance) Config() string {
	return Format(f.Name(), ftoa(f.Red), ftoa(f.Green), ftoa(f.Blue))
}

// Validate checks the ranges.
func (f *ColorBalance) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{{"red", f.Red}, {"green", f.Green}, {"blue", f.Blue}} {
		if err := inRange(c.name, c.v, -100, 500); err != nil {
			return err
		}
	}
	return nil
}

// ApplyColor implements ColorFilter.
func (f *ColorBalance) ApplyColor(img image.Image) (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return applyColors(img, false, withGift(gift.ColorBalance(float32(f.Red), float32(f.Green), float32(f.Blue)))), nil
}

// HueSaturationLightness shifts the hue by -180 to 180 degrees and changes
// saturation, -100 to 500, and lightness, -100 to 100, by a percentage.
type HueSaturationLightness struct {
	colorKind
	Hue, Saturation, Lightness float64
}

// Name implements Filter.
func (HueSaturationLightness) Name() string { return "HueSaturationLightness" }

// Config implements Filter.
func (f *HueSaturationLightness) Config() string {
	return Format(f.Name(), ftoa(f.Hue), ftoa(f.Saturation), ftoa(f.Lightness))
}

// Validate checks the ranges.
func (f *HueSaturationLightness) Validate() error {
	if err := inRange("hue", f.Hue, -180, 180); err != nil {
		return err
	}
	if err := inRange("saturation", f.Saturation, -100, 500); err != nil {
		return err
	}
	return inRange("lightness", f.Lightness, -100, 100)
}

// ApplyColor implements ColorFilter.
func (f *HueSaturationLightness) ApplyColor(img image.Image) (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var filters []gift.Filter
	if f.Hue != 0 {
		filters = append(filters, gift.Hue(float32(f.Hue)))
	}
	if f.Saturation != 0 {
		filters = append(filters, gift.Saturation(float32(f.Saturation)))
	}
	if f.Lightness != 0 {
		filters = append(filters, gift.Brightness(float32(f.Lightness)))
	}
	return applyColors(img, false, withGift(filters...)), nil
}

// Invert inverts every color.
type Invert struct {
	colorKind
}

// Name implements Filter.
func (Invert) Name() string { return "Invert" }

// Config implements Filter.
func (f *Invert) Config() string { return Format(f.Name()) }

// ApplyColor implements ColorFilter.
func (f *Invert) ApplyColor(img image.Image) (image.Image, error) {
	return applyColors(img, false, withGift(gift.Invert())), nil
}

// Grayscale removes all color.
type Grayscale struct {
	colorKind
}

// Name implements Filter.
func (Grayscale) Name() string { return "Grayscale" }

// Config implements Filter.
func (f *Grayscale) Config() string { return Format(f.Name()) }

// ApplyColor implements ColorFilter.
func (f *Grayscale) ApplyColor(img image.Image) (image.Image, error) {
	return applyColors(img, false, withGift(gift.Grayscale())), nil
}

// ReplaceColor replaces every color within Tolerance of From on each
// channel, alpha included, with To.
type ReplaceColor struct {
	colorKind
	From, To  color.NRGBA
	Tolerance int
}

// Name implements Filter.
func (ReplaceColor) Name() string { return "ReplaceColor" }

// Config implements Filter.
func (f *ReplaceColor) Config() string {
	return Format(f.Name(), formatColor(f.From), formatColor(f.To), strconv.Itoa(f.Tolerance))
}

// Validate checks the tolerance.
func (f *ReplaceColor) Validate() error {
	if f.Tolerance < 0 || f.Tolerance > 255 {
		return fmt.Errorf("%w: tolerance %d outside 0..255", ErrConfig, f.Tolerance)
	}
	return nil
}

func near(a, b uint8, tolerance int) bool {
	d := int(a) - int(b)
	return d <= tolerance && -d <= tolerance
}

// ApplyColor implements ColorFilter.
func (f *ReplaceColor) ApplyColor(img image.Image) (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return applyColors(img, true, func(m *image.NRGBA) *image.NRGBA {
		for i := 0; i < len(m.Pix); i += 4 {
			p := m.Pix[i : i+4 : i+4]
			if near(p[0], f.From.R, f.Tolerance) && near(p[1], f.From.G, f.Tolerance) &&
				near(p[2], f.From.B, f.Tolerance) && near(p[3], f.From.A, f.Tolerance) {
				p[0], p[1], p[2], p[3] = f.To.R, f.To.G, f.To.B, f.To.A
			}
		}
		return m
	}), nil
}

// SwapChannels reorders the color channels. Order is a permutation of
// "RGB" naming the source of the red, green and blue output channels.
type SwapChannels struct {
	colorKind
	Order string
}

// Name implements Filter.
func (SwapChannels) Name() string { return "SwapChannels" }

// Config implements Filter.
func (f *SwapChannels) Config() string { return Format(f.Name(), f.Order) }

func (f *SwapChannels) indices() ([3]int, error) {
	var idx [3]int
	order := strings.ToUpper(f.Order)
	if len(order) != 3 {
		return idx, fmt.Errorf("%w: channel order %q", ErrConfig, f.Order)
	}
	seen := 0
	for i, c := range order {
		j := strings.IndexRune("RGB", c)
		if j < 0 || seen&(1<<j) != 0 {
			return idx, fmt.Errorf("%w: channel order %q", ErrConfig, f.Order)
		}
		seen |= 1 << j
		idx[i] = j
	}
	return idx, nil
}

// Validate checks the channel order.
func (f *SwapChannels) Validate() error {
	_, err := f.indices()
	return err
}

// ApplyColor implements ColorFilter.
func (f *SwapChannels) ApplyColor(img image.Image) (image.Image, error) {
	idx, err := f.indices()
	if err != nil {
		return nil, err
	}
	return applyColors(img, false, func(m *image.NRGBA) *image.NRGBA {
		for i := 0; i < len(m.Pix); i += 4 {
			r, g, b := m.Pix[i+idx[0]], m.Pix[i+idx[1]], m.Pix[i+idx[2]]
			m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
		}
		return m
	}), nil
}

// formatColor writes c as AARRGGBB hex.
func formatColor(c color.NRGBA) string {
	return fmt.Sprintf("%08x", palette.ARGB(c))
}

func parseColor(s string) (color.NRGBA, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrConfig, s)
	}
	if len(strings.TrimPrefix(s, "#")) <= 6 {
		v |= 0xff000000
	}
	return palette.NRGBA(uint32(v)), nil
}

func (f *fields) rgba(def color.NRGBA) color.NRGBA {
	s, ok := f.next()
	if !ok || s == "" {
		return def
	}
	c, err := parseColor(s)
	if err != nil {
		f.fail(err)
	}
	return c
}

func init() {
	register("BrightnessContrastGamma", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &BrightnessContrastGamma{Brightness: fs.number(0), Contrast: fs.number(0), Gamma: fs.number(1)}
		return validated(f, fs.err)
	})
	register("ColorBalance", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &ColorBalance{Red: fs.number(0), Green: fs.number(0), Blue: fs.number(0)}
		return validated(f, fs.err)
	})
	register("HueSaturationLightness", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &HueSaturationLightness{Hue: fs.number(0), Saturation: fs.number(0), Lightness: fs.number(0)}
		return validated(f, fs.err)
	})
	register("Invert", func([]string, Resolver) (Filter, error) {
		return &Invert{}, nil
	})
	register("Grayscale", func([]string, Resolver) (Filter, error) {
		return &Grayscale{}, nil
	})
	register("ReplaceColor", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &ReplaceColor{From: fs.rgba(palette.MagicGreen), To: fs.rgba(color.NRGBA{}), Tolerance: fs.integer(0)}
		return validated(f, fs.err)
	})
	register("SwapChannels", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &SwapChannels{Order: fs.text("RGB")}
		return validated(f, fs.err)
	})
}

type validator interface {
	Validate() error
}

// validated returns f unless err is set or f fails validation.
func validated(f Filter, err error) (Filter, error) {
	if err != nil {
		return nil, err
	}
	if v, ok := f.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return f, nil
}
