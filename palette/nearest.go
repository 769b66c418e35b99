package palette

import (
	"image"
	"image/color"
	"math"

	"github.com/bodgit/bamconv/frame"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// Metric selects the color distance used by Nearest.
type Metric int

const (
	// MetricEuclid is the squared distance in RGB plus weighted alpha.
	MetricEuclid Metric = iota
	// MetricCIE94 is the CIE94 perceptual distance plus weighted alpha.
	MetricCIE94
)

func (m Metric) String() string {
	switch m {
	case MetricEuclid:
		return "euclid"
	case MetricCIE94:
		return "cie94"
	}
	return "unknown"
}

// ParseMetric is the inverse of Metric.String.
func ParseMetric(s string) (Metric, bool) {
	switch s {
	case "euclid", "":
		return MetricEuclid, true
	case "cie94":
		return MetricCIE94, true
	}
	return MetricEuclid, false
}

func toColorful(c color.NRGBA) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

func distance(a, b color.NRGBA, alphaWeight float64, metric Metric) float64 {
	da := (float64(a.A) - float64(b.A)) * alphaWeight
	if metric == MetricCIE94 {
		// CIE94 is roughly in the range 0..1, scale alpha to match
		return toColorful(a).DistanceCIE94(toColorful(b)) + math.Abs(da)/255
	}
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return dr*dr + dg*dg + db*db + da*da
}

// Nearest returns the index of the palette entry closest to c. Ties resolve
// to the lowest index. An empty palette returns -1.
func Nearest(c color.Color, p color.Palette, alphaWeight float64, metric Metric) int {
	return nearest(color.NRGBAModel.Convert(c).(color.NRGBA), toNRGBA(p), -1, alphaWeight, metric)
}

func toNRGBA(p color.Palette) []color.NRGBA {
	out := make([]color.NRGBA, len(p))
	for i, c := range p {
		out[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
	}
	return out
}

func nearest(c color.NRGBA, p []color.NRGBA, skip int, alphaWeight float64, metric Metric) int {
	best, bestDist := -1, math.MaxFloat64
	for i, e := range p {
		if i == skip {
			continue
		}
		if d := distance(c, e, alphaWeight, metric); d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	return best
}

// Matcher maps colors to palette indices, remembering every answer. It is
// not safe for concurrent use.
type Matcher struct {
	palette []color.NRGBA
	src     color.Palette

	// Transparent is the index used for fully transparent pixels and never
	// chosen for anything else, -1 for none.
	Transparent int
	// AlphaThreshold is the alpha at or below which a pixel is transparent.
	AlphaThreshold uint8
	// AlphaWeight scales the alpha term of the distance.
	AlphaWeight float64
	Metric      Metric

	cache map[uint32]uint8
}

// NewMatcher returns a Matcher for p.
func NewMatcher(p color.Palette, transparent int, metric Metric) *Matcher {
	return &Matcher{
		palette:     toNRGBA(p),
		src:         p,
		Transparent: transparent,
		AlphaWeight: 1,
		Metric:      metric,
		cache:       make(map[uint32]uint8),
	}
}

// Palette returns the palette being matched against.
func (m *Matcher) Palette() color.Palette {
	return m.src
}

// Index returns the palette index for argb.
func (m *Matcher) Index(argb uint32) uint8 {
	if i, ok := m.cache[argb]; ok {
		return i
	}
	var idx int
	if m.Transparent >= 0 && alpha(argb) <= m.AlphaThreshold {
		idx = m.Transparent
	} else {
		idx = nearest(NRGBA(argb), m.palette, m.Transparent, m.AlphaWeight, m.Metric)
		if idx < 0 {
			idx = 0
		}
	}
	m.cache[argb] = uint8(idx)
	return uint8(idx)
}

// Convert returns img as a paletted image using the matcher palette. An
// image that is already paletted with an identical palette is copied as is.
func (m *Matcher) Convert(img image.Image) *image.Paletted {
	b := img.Bounds()
	out := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), m.src)

	if pm, ok := img.(*image.Paletted); ok && equal(pm.Palette, m.src) {
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], pm.Pix[pm.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return out
	}

	n := frame.AsNRGBA(img)
	for y := 0; y < b.Dy(); y++ {
		row := n.Pix[y*n.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			o := x * 4
			dst[x] = m.Index(uint32(row[o+3])<<24 | uint32(row[o])<<16 | uint32(row[o+1])<<8 | uint32(row[o+2]))
		}
	}
	return out
}
