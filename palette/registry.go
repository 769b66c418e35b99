package palette

import (
	"image"
	"sort"

	"github.com/bodgit/bamconv/frame"
)

type entry struct {
	argb  uint32
	count int
}

// Registry is a frequency map of ARGB colors.
type Registry struct {
	counts map[uint32]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{counts: make(map[uint32]int)}
}

// Register counts one more occurrence of argb.
func (r *Registry) Register(argb uint32) {
	r.counts[argb]++
}

// Unregister removes one occurrence of argb.
func (r *Registry) Unregister(argb uint32) {
	if n, ok := r.counts[argb]; ok {
		if n <= 1 {
			delete(r.counts, argb)
		} else {
			r.counts[argb] = n - 1
		}
	}
}

// RegisterImage registers every pixel of m.
func (r *Registry) RegisterImage(m image.Image) {
	r.walk(m, r.Register)
}

// UnregisterImage reverses RegisterImage.
func (r *Registry) UnregisterImage(m image.Image) {
	r.walk(m, r.Unregister)
}

func (r *Registry) walk(m image.Image, fn func(uint32)) {
	if m == nil {
		return
	}
	if pm, ok := m.(*image.Paletted); ok {
		lut := make([]uint32, len(pm.Palette))
		for i, c := range pm.Palette {
			lut[i] = ARGB(c)
		}
		b := pm.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := pm.Pix[pm.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				if int(row[x]) < len(lut) {
					fn(lut[row[x]])
				}
			}
		}
		return
	}
	n := frame.AsNRGBA(m)
	for y := 0; y < n.Rect.Dy(); y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < n.Rect.Dx()*4; x += 4 {
			fn(uint32(row[x+3])<<24 | uint32(row[x])<<16 | uint32(row[x+1])<<8 | uint32(row[x+2]))
		}
	}
}

// Len returns the number of distinct colors.
func (r *Registry) Len() int {
	return len(r.counts)
}

// Count returns how often argb was registered.
func (r *Registry) Count(argb uint32) int {
	return r.counts[argb]
}

// Colors returns the distinct colors in ascending ARGB order.
func (r *Registry) Colors() []uint32 {
	out := make([]uint32, 0, len(r.counts))
	for c := range r.counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear forgets every color.
func (r *Registry) Clear() {
	r.counts = make(map[uint32]int)
}

func (r *Registry) entries() []entry {
	out := make([]entry, 0, len(r.counts))
	for c, n := range r.counts {
		out = append(out, entry{c, n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].argb < out[j].argb })
	return out
}

// Observe keeps r in sync with the frames of s. The returned function stops
// observing.
func (r *Registry) Observe(s *frame.Store) func() {
	for _, f := range s.Frames() {
		r.RegisterImage(f.Image)
	}
	return s.Subscribe(func(e frame.Event) {
		switch e.Type {
		case frame.FramesInserted:
			for _, f := range e.Frames {
				r.RegisterImage(f.Image)
			}
		case frame.FramesRemoved, frame.Reset:
			for _, f := range e.Frames {
				r.UnregisterImage(f.Image)
			}
		case frame.FrameChanged:
			if len(e.Frames) == 2 && e.Frames[0].Image != e.Frames[1].Image {
				r.UnregisterImage(e.Frames[0].Image)
				r.RegisterImage(e.Frames[1].Image)
			}
		}
	})
}
