package overlay

import (
	"fmt"
	"image/color"
	"strings"
)

// Mode selects how a layer is blended onto the pixels below it.
type Mode int

const (
	// Normal draws the layer over the base, blending partial alpha.
	Normal Mode = iota
	// Forced replaces the base pixel unconditionally.
	Forced
	// Inclusive draws only where the base pixel isn't fully transparent.
	Inclusive
	// Exclusive draws only where the base pixel is fully transparent.
	Exclusive
)

var modeNames = [...]string{"normal", "forced", "inclusive", "exclusive"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode is the inverse of Mode.String and is case insensitive.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(n, s) {
			return Mode(i), nil
		}
	}
	return Normal, fmt.Errorf("overlay: unknown mode %q", s)
}

// BlendFunc combines an overlay pixel with the pixel under it.
type BlendFunc func(under, over color.NRGBA) color.NRGBA

var blenders = map[Mode]BlendFunc{
	Normal:    blendNormal,
	Forced:    blendForced,
	Inclusive: blendInclusive,
	Exclusive: blendExclusive,
}

// Blender returns the blend function for m.
func Blender(m Mode) (BlendFunc, bool) {
	fn, ok := blenders[m]
	return fn, ok
}

func mix(under, over color.NRGBA) color.NRGBA {
	ao, au := uint32(over.A), uint32(under.A)
	ch := func(o, u uint8) uint8 {
		v := uint32(o)*ao/256 + uint32(u)*au*(256-ao)/65536
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}
	a := ao + au*(256-ao)/256
	if a > 255 {
		a = 255
	}
	return color.NRGBA{ch(over.R, under.R), ch(over.G, under.G), ch(over.B, under.B), uint8(a)}
}

func blendNormal(under, over color.NRGBA) color.NRGBA {
	switch over.A {
	case 0:
		return under
	case 255:
		return over
	}
	return mix(under, over)
}

func blendForced(_, over color.NRGBA) color.NRGBA {
	return over
}

func blendInclusive(under, over color.NRGBA) color.NRGBA {
	if under.A == 0 {
		return under
	}
	if under.A == 255 {
		return blendNormal(under, over)
	}
	if over.A == 0 {
		return under
	}
	return mix(under, over)
}

func blendExclusive(under, over color.NRGBA) color.NRGBA {
	if under.A == 0 {
		return over
	}
	return under
}
