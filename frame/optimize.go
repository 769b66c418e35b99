package frame

import (
	"encoding/binary"
	"hash/fnv"
	"image"
)

// Optimization levels, cumulative.
const (
	OptimizeNone       = 0 // keep frames as they are
	OptimizeUnused     = 1 // drop frames no cycle references
	OptimizeDuplicates = 2 // merge identical frames
	OptimizeSimilar    = 3 // merge frames whose MSE is below SimilarityThreshold
)

// SimilarityThreshold is the mean squared error below which two frames with
// the same center are considered equal by OptimizeSimilar.
const SimilarityThreshold = 5.0

// Optimize returns a copy of s reduced according to level. Cycles are
// rewritten to the surviving frame indices.
func Optimize(s *Set, level int) *Set {
	out := s.Clone()
	if level <= OptimizeNone {
		return out
	}

	used := make(map[int]bool)
	for _, c := range out.Cycles {
		for _, v := range c {
			used[v] = true
		}
	}
	for i := len(out.Frames) - 1; i >= 0; i-- {
		if !used[i] {
			out.removeFrame(i, -1)
		}
	}
	if level == OptimizeUnused {
		return out
	}

	hashes := make([]uint64, len(out.Frames))
	for i, f := range out.Frames {
		hashes[i] = Hash(f)
	}
	for i := 0; i < len(out.Frames); i++ {
		for j := len(out.Frames) - 1; j > i; j-- {
			a, b := out.Frames[i], out.Frames[j]
			if hashes[i] == hashes[j] && a.Center == b.Center && a.Image.Bounds().Size() == b.Image.Bounds().Size() {
				out.removeFrame(j, i)
				hashes = append(hashes[:j], hashes[j+1:]...)
			}
		}
	}
	if level == OptimizeDuplicates {
		return out
	}

	for i := 0; i < len(out.Frames); i++ {
		for j := len(out.Frames) - 1; j > i; j-- {
			a, b := out.Frames[i], out.Frames[j]
			if a.Center == b.Center && MSE(a.Image, b.Image) < SimilarityThreshold {
				out.removeFrame(j, i)
			}
		}
	}
	return out
}

// removeFrame drops frame j and points its cycle entries at replacement, or
// deletes them when replacement is negative.
func (s *Set) removeFrame(j, replacement int) {
	s.Frames = append(s.Frames[:j], s.Frames[j+1:]...)
	for ci, c := range s.Cycles {
		if replacement < 0 {
			s.Cycles[ci] = removeFromCycle(c, j)
			continue
		}
		for k, v := range c {
			switch {
			case v == j:
				c[k] = replacement
			case v > j:
				c[k] = v - 1
			}
		}
	}
}

// Hash returns an FNV-1a hash over the center and the pixel colors of f.
func Hash(f Frame) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(f.Center.X)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(int32(f.Center.Y)))
	h.Write(buf[:])

	m := AsNRGBA(f.Image)
	w := m.Rect.Dx() * 4
	for y := 0; y < m.Rect.Dy(); y++ {
		h.Write(m.Pix[y*m.Stride : y*m.Stride+w])
	}
	return h.Sum64()
}

// MSE returns the weighted mean squared error of color and alpha between two
// images of the same size. Differently sized images return a very large
// value.
func MSE(a, b image.Image) float64 {
	if a == nil || b == nil {
		return 0
	}
	if a.Bounds().Size() != b.Bounds().Size() {
		return 16777216.0
	}
	m1, m2 := AsNRGBA(a), AsNRGBA(b)
	w, h := m1.Rect.Dx(), m1.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var cmse, amse float64
	for y := 0; y < h; y++ {
		p1 := m1.Pix[y*m1.Stride:]
		p2 := m2.Pix[y*m2.Stride:]
		for x := 0; x < w*4; x += 4 {
			for c := 0; c < 3; c++ {
				d := float64(p1[x+c]) - float64(p2[x+c])
				cmse += d * d
			}
			d := float64(p1[x+3]) - float64(p2[x+3])
			amse += d * d
		}
	}
	cmse /= float64(w * h * 3)
	amse /= float64(w * h)
	return (3.0*cmse + amse) / 4.0
}
