/*
Package overlay composites several animations into one.

Every (cycle, position) of the primary animation is mapped to the frame each
secondary animation shows at the same place. Identical combinations of frame
indices share a single output frame.
*/
package overlay

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"strconv"
	"strings"

	"github.com/bodgit/bamconv/frame"
)

// ErrIncompatible is returned when a layer has fewer cycles, or fewer frames
// in a cycle, than the primary animation.
var ErrIncompatible = errors.New("overlay: incompatible animation")

// Layer is a secondary animation and the mode used to draw it.
type Layer struct {
	*frame.Set
	Mode Mode
}

// Options controls Compose.
type Options struct {
	// Force composes incompatible layers; positions a layer lacks are
	// left empty.
	Force  bool
	Logger *log.Logger
}

func validate(layers []Layer) error {
	for li, l := range layers {
		if l.Set == nil {
			return fmt.Errorf("overlay: layer %d has no animation", li)
		}
		if _, ok := blenders[l.Mode]; !ok {
			return fmt.Errorf("overlay: layer %d has unknown mode %d", li, l.Mode)
		}
	}
	return nil
}

// Check verifies the layers can be mapped onto the topology of primary.
func Check(primary *frame.Set, layers []Layer) error {
	if err := validate(layers); err != nil {
		return err
	}
	for li, l := range layers {
		if len(l.Cycles) < len(primary.Cycles) {
			return fmt.Errorf("%w: layer %d has %d cycles, need %d", ErrIncompatible, li, len(l.Cycles), len(primary.Cycles))
		}
		for ci, c := range primary.Cycles {
			if len(l.Cycles[ci]) < len(c) {
				return fmt.Errorf("%w: layer %d cycle %d has %d frames, need %d", ErrIncompatible, li, ci, len(l.Cycles[ci]), len(c))
			}
		}
	}
	return nil
}

type tuple []int

func (t tuple) key() string {
	var sb strings.Builder
	for i, v := range t {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(v))
	}
	return sb.String()
}

// Compose returns a new set with every layer drawn over primary. Neither
// primary nor the layers are modified.
func Compose(primary *frame.Set, layers []Layer, opts Options) (*frame.Set, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := Check(primary, layers); err != nil {
		if !opts.Force || !errors.Is(err, ErrIncompatible) {
			return nil, err
		}
		logger.Printf("Ignoring: %v\n", err)
	}

	seen := make(map[string]int)
	var tuples []tuple
	out := &frame.Set{Cycles: make([]frame.Cycle, len(primary.Cycles))}

	for ci, c := range primary.Cycles {
		nc := make(frame.Cycle, len(c))
		for pos, idx := range c {
			t := tuple{idx}
			for _, l := range layers {
				v := -1
				if ci < len(l.Cycles) && pos < len(l.Cycles[ci]) {
					v = l.Cycles[ci][pos]
				}
				t = append(t, v)
			}
			k := t.key()
			n, ok := seen[k]
			if !ok {
				n = len(tuples)
				seen[k] = n
				tuples = append(tuples, t)
			}
			nc[pos] = n
		}
		out.Cycles[ci] = nc
	}

	out.Frames = make([]frame.Frame, len(tuples))
	for i, t := range tuples {
		f, ok := compose(primary, layers, t)
		if !ok {
			logger.Printf("Frame %d has no source, using a placeholder\n", i)
			f = frame.New(frame.Empty(), 0, 0)
		}
		out.Frames[i] = f
	}
	return out, nil
}

type placed struct {
	img  *image.NRGBA
	rect image.Rectangle
	mode Mode
}

func place(s *frame.Set, idx int, mode Mode) (placed, bool) {
	if idx < 0 || idx >= len(s.Frames) || s.Frames[idx].Image == nil {
		return placed{}, false
	}
	f := s.Frames[idx]
	img := frame.AsNRGBA(f.Image)
	origin := image.Point{-f.Center.X, -f.Center.Y}
	return placed{img, image.Rectangle{Min: origin, Max: origin.Add(img.Rect.Size())}, mode}, true
}

// compose renders one tuple. It fails when the primary frame is missing.
func compose(primary *frame.Set, layers []Layer, t tuple) (frame.Frame, bool) {
	base, ok := place(primary, t[0], Forced)
	if !ok {
		return frame.Frame{}, false
	}
	parts := []placed{base}
	union := base.rect
	for i, l := range layers {
		p, ok := place(l.Set, t[i+1], l.Mode)
		if !ok {
			continue
		}
		parts = append(parts, p)
		union = union.Union(p.rect)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, union.Dx(), union.Dy()))
	for i, p := range parts {
		blend := blenders[p.mode]
		off := p.rect.Min.Sub(union.Min)
		for y := 0; y < p.img.Rect.Dy(); y++ {
			for x := 0; x < p.img.Rect.Dx(); x++ {
				over := p.img.NRGBAAt(x, y)
				if i == 0 {
					dst.SetNRGBA(off.X+x, off.Y+y, over)
					continue
				}
				under := dst.NRGBAAt(off.X+x, off.Y+y)
				dst.SetNRGBA(off.X+x, off.Y+y, blend(under, over))
			}
		}
	}

	f := primary.Frames[t[0]].WithImage(dst)
	f.Center = image.Point{-union.Min.X, -union.Min.Y}
	return f, true
}
