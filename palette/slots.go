package palette

import (
	"image"
	"image/color"
)

// Slots holds a generated and an external palette. Once locked the
// generated palette is no longer replaced and the external one, if any, is
// active.
type Slots struct {
	generated color.Palette
	external  color.Palette
	locked    bool
}

// Generated returns the generated palette.
func (s *Slots) Generated() color.Palette {
	return s.generated
}

// External returns the external palette.
func (s *Slots) External() color.Palette {
	return s.external
}

// SetExternal installs an external palette, nil removes it.
func (s *Slots) SetExternal(p color.Palette) {
	s.external = p
}

// Lock pins the current palettes.
func (s *Slots) Lock() {
	s.locked = true
}

// Unlock allows the generated palette to be recomputed again.
func (s *Slots) Unlock() {
	s.locked = false
}

// Locked reports whether the slots are locked.
func (s *Slots) Locked() bool {
	return s.locked
}

// Update recomputes the generated palette from reg unless locked. When every
// image shares one paletted palette that palette is kept verbatim.
func (s *Slots) Update(reg *Registry, images []image.Image, opts Options) color.Palette {
	if s.locked && s.generated != nil {
		return s.Active()
	}
	if shared, ok := Shared(images); ok {
		s.generated = Pad(shared)
	} else {
		s.generated = Pad(Generate(reg, opts))
	}
	return s.Active()
}

// Active returns the palette consumers should use.
func (s *Slots) Active() color.Palette {
	if s.locked && s.external != nil {
		return s.external
	}
	if s.external != nil && s.generated == nil {
		return s.external
	}
	return s.generated
}
