package palette

import (
	"image/color"
	"sort"
)

// SortKey selects the property Sort orders by.
type SortKey int

const (
	SortLightness SortKey = iota
	SortSaturation
	SortHue
	SortRed
	SortGreen
	SortBlue
	SortAlpha
)

var sortKeyNames = map[SortKey]string{
	SortLightness:  "lightness",
	SortSaturation: "saturation",
	SortHue:        "hue",
	SortRed:        "red",
	SortGreen:      "green",
	SortBlue:       "blue",
	SortAlpha:      "alpha",
}

func (k SortKey) String() string {
	if s, ok := sortKeyNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseSortKey is the inverse of SortKey.String.
func ParseSortKey(s string) (SortKey, bool) {
	for k, v := range sortKeyNames {
		if v == s {
			return k, true
		}
	}
	return SortLightness, false
}

func sortValue(c color.NRGBA, key SortKey) float64 {
	switch key {
	case SortRed:
		return float64(c.R)
	case SortGreen:
		return float64(c.G)
	case SortBlue:
		return float64(c.B)
	case SortAlpha:
		return float64(c.A)
	}
	h, s, l := toColorful(c).Hsl()
	switch key {
	case SortHue:
		return h
	case SortSaturation:
		return s
	}
	return l
}

// Sort orders p in place by key, leaving the first fixed entries alone. The
// sort is stable so equal colors keep their order.
func Sort(p color.Palette, key SortKey, descending bool, fixed int) {
	if fixed < 0 {
		fixed = 0
	}
	if fixed >= len(p) {
		return
	}
	tail := p[fixed:]
	values := make(map[uint32]float64, len(tail))
	for _, c := range tail {
		n := color.NRGBAModel.Convert(c).(color.NRGBA)
		values[ARGB(n)] = sortValue(n, key)
	}
	sort.SliceStable(tail, func(i, j int) bool {
		vi, vj := values[ARGB(tail[i])], values[ARGB(tail[j])]
		if descending {
			return vi > vj
		}
		return vi < vj
	})
}
