package palette

import (
	"image/color"
	"sort"
)

type box struct {
	colors []entry
	total  int
}

func newBox(colors []entry) box {
	b := box{colors: colors}
	for _, c := range colors {
		b.total += c.count
	}
	return b
}

func channel(argb uint32, ch int) int {
	// 0: red, 1: green, 2: blue, 3: alpha
	switch ch {
	case 0:
		return int(argb>>16) & 0xff
	case 1:
		return int(argb>>8) & 0xff
	case 2:
		return int(argb) & 0xff
	}
	return int(argb>>24) & 0xff
}

// widest returns the channel with the largest value range and that range.
func (b box) widest() (int, int) {
	best, bestRange := 0, -1
	for ch := 0; ch < 4; ch++ {
		lo, hi := 255, 0
		for _, c := range b.colors {
			v := channel(c.argb, ch)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo > bestRange {
			best, bestRange = ch, hi-lo
		}
	}
	return best, bestRange
}

// split cuts b at the frequency weighted median of its widest channel.
func (b box) split() (box, box) {
	ch, _ := b.widest()
	sort.SliceStable(b.colors, func(i, j int) bool {
		vi, vj := channel(b.colors[i].argb, ch), channel(b.colors[j].argb, ch)
		if vi != vj {
			return vi < vj
		}
		return b.colors[i].argb < b.colors[j].argb
	})

	half := b.total / 2
	acc, cut := 0, 1
	for i, c := range b.colors {
		acc += c.count
		if acc >= half {
			cut = i + 1
			break
		}
	}
	if cut >= len(b.colors) {
		cut = len(b.colors) - 1
	}
	if cut < 1 {
		cut = 1
	}
	return newBox(b.colors[:cut]), newBox(b.colors[cut:])
}

// average collapses b to its frequency weighted mean color.
func (b box) average() color.NRGBA {
	var r, g, bl, a, n int
	for _, c := range b.colors {
		r += channel(c.argb, 0) * c.count
		g += channel(c.argb, 1) * c.count
		bl += channel(c.argb, 2) * c.count
		a += channel(c.argb, 3) * c.count
		n += c.count
	}
	if n == 0 {
		return color.NRGBA{0, 0, 0, 255}
	}
	return color.NRGBA{
		R: uint8((r + n/2) / n),
		G: uint8((g + n/2) / n),
		B: uint8((bl + n/2) / n),
		A: uint8((a + n/2) / n),
	}
}

// medianCut reduces colors to at most n weighted average colors. colors must
// be sorted by ARGB so the result is deterministic.
func medianCut(colors []entry, n int) color.Palette {
	work := make([]entry, len(colors))
	copy(work, colors)

	boxes := []box{newBox(work)}
	for len(boxes) < n {
		pick, pickRange := -1, 0
		for i, b := range boxes {
			if len(b.colors) < 2 {
				continue
			}
			if _, rng := b.widest(); rng > pickRange || (rng == pickRange && pick >= 0 && b.total > boxes[pick].total) {
				pick, pickRange = i, rng
			}
		}
		if pick < 0 {
			break
		}
		left, right := boxes[pick].split()
		boxes[pick] = left
		boxes = append(boxes, right)
	}

	// Most frequent colors first
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].total > boxes[j].total })

	p := make(color.Palette, 0, n)
	for _, b := range boxes {
		p = append(p, b.average())
	}
	return p
}
