package frame

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrIndexOutOfRange is returned when a frame, cycle or cycle entry
	// index doesn't exist.
	ErrIndexOutOfRange = errors.New("frame: index out of range")
	// ErrNilImage is returned when a frame without a pixel buffer is added.
	ErrNilImage = errors.New("frame: frame has no image")
)

// EventType identifies what changed in a Store.
type EventType int

// Store events.
const (
	FramesInserted EventType = iota
	FramesRemoved
	FrameMoved
	FrameChanged
	CyclesChanged
	Reset
)

func (t EventType) String() string {
	switch t {
	case FramesInserted:
		return "frames inserted"
	case FramesRemoved:
		return "frames removed"
	case FrameMoved:
		return "frame moved"
	case FrameChanged:
		return "frame changed"
	case CyclesChanged:
		return "cycles changed"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Event describes a single change. Frames holds the inserted frames for
// FramesInserted, the removed frames for FramesRemoved and Reset, and the
// old and new frame for FrameChanged.
type Event struct {
	Type   EventType
	Index  int
	Count  int
	Delta  int
	Frames []Frame
}

// Store owns the frames and cycles of an animation. It isn't safe for
// concurrent use; callers serialize edits and conversions.
type Store struct {
	frames []Frame
	cycles []Cycle

	listeners map[int]func(Event)
	nextID    int

	batch    int
	pending  []Event
	modified bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		listeners: make(map[int]func(Event)),
	}
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		delete(s.listeners, id)
	}
}

func (s *Store) publish(e Event) {
	s.modified = true
	if s.batch > 0 {
		s.pending = append(s.pending, e)
		return
	}
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		s.listeners[id](e)
	}
}

// Modified reports whether the store changed since the last ClearModified.
func (s *Store) Modified() bool {
	return s.modified
}

// ClearModified resets the modified flag.
func (s *Store) ClearModified() {
	s.modified = false
}

// Batch runs fn with cycle validation and event delivery suspended. Cycle
// entries may be temporarily invalid inside fn; they are validated once fn
// returns. Queued events are delivered in order afterwards. Nothing is rolled
// back if fn or the validation fails.
func (s *Store) Batch(fn func() error) error {
	s.batch++
	err := fn()
	s.batch--
	if s.batch > 0 {
		return err
	}
	pending := s.pending
	s.pending = nil
	for _, e := range pending {
		s.publish(e)
	}
	if err != nil {
		return err
	}
	return validateCycles(s.cycles, len(s.frames))
}

// FrameCount returns the number of frames.
func (s *Store) FrameCount() int {
	return len(s.frames)
}

// Frame returns the frame at index i.
func (s *Store) Frame(i int) (Frame, error) {
	if i < 0 || i >= len(s.frames) {
		return Frame{}, fmt.Errorf("%w: frame %d", ErrIndexOutOfRange, i)
	}
	return s.frames[i], nil
}

// Frames returns a shallow copy of the frame list.
func (s *Store) Frames() []Frame {
	return append([]Frame(nil), s.frames...)
}

// CycleCount returns the number of cycles.
func (s *Store) CycleCount() int {
	return len(s.cycles)
}

// Cycle returns a copy of the cycle at index i.
func (s *Store) Cycle(i int) (Cycle, error) {
	if i < 0 || i >= len(s.cycles) {
		return nil, fmt.Errorf("%w: cycle %d", ErrIndexOutOfRange, i)
	}
	return s.cycles[i].Clone(), nil
}

// Cycles returns a copy of all cycles.
func (s *Store) Cycles() []Cycle {
	c := make([]Cycle, len(s.cycles))
	for i, cy := range s.cycles {
		c[i] = cy.Clone()
	}
	return c
}

// Snapshot returns a deep copy of the frames and cycles.
func (s *Store) Snapshot() *Set {
	set := &Set{Frames: s.frames, Cycles: s.cycles}
	return set.Clone()
}

// Clear removes all frames and cycles.
func (s *Store) Clear() {
	removed := s.frames
	s.frames = nil
	s.cycles = nil
	s.publish(Event{Type: Reset, Count: len(removed), Frames: removed})
}

// InsertFrames inserts frames at pos. pos is clamped to [0, FrameCount()].
// Every cycle entry >= pos is shifted by len(frames).
func (s *Store) InsertFrames(pos int, frames ...Frame) error {
	if len(frames) == 0 {
		return nil
	}
	for _, f := range frames {
		if f.Image == nil {
			return ErrNilImage
		}
	}
	pos = clamp(pos, 0, len(s.frames))

	added := make([]Frame, len(frames))
	for i, f := range frames {
		if f.Options == nil {
			f.Options = make(map[string]string)
		}
		added[i] = f
	}

	s.frames = append(s.frames[:pos], append(added, s.frames[pos:]...)...)

	k := len(frames)
	for _, c := range s.cycles {
		for j := range c {
			if c[j] >= pos {
				c[j] += k
			}
		}
	}

	s.publish(Event{Type: FramesInserted, Index: pos, Count: k, Frames: added})
	return nil
}

// AddFrames appends frames and returns the index of the first one.
func (s *Store) AddFrames(frames ...Frame) (int, error) {
	pos := len(s.frames)
	return pos, s.InsertFrames(pos, frames...)
}

// RemoveFrames removes the frames at the given indices. All indices are
// checked before anything is removed. Cycle entries referencing a removed
// frame are deleted and higher entries are shifted down.
func (s *Store) RemoveFrames(indices ...int) error {
	if len(indices) == 0 {
		return nil
	}
	unique := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(s.frames) {
			return fmt.Errorf("%w: frame %d", ErrIndexOutOfRange, i)
		}
		unique[i] = struct{}{}
	}
	sorted := make([]int, 0, len(unique))
	for i := range unique {
		sorted = append(sorted, i)
	}
	// Highest first so lower indices stay valid
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	for _, i := range sorted {
		removed := s.frames[i]
		s.frames = append(s.frames[:i], s.frames[i+1:]...)
		for ci, c := range s.cycles {
			s.cycles[ci] = removeFromCycle(c, i)
		}
		s.publish(Event{Type: FramesRemoved, Index: i, Count: 1, Frames: []Frame{removed}})
	}
	return nil
}

func removeFromCycle(c Cycle, index int) Cycle {
	out := c[:0]
	for _, v := range c {
		switch {
		case v == index:
			continue
		case v > index:
			out = append(out, v-1)
		default:
			out = append(out, v)
		}
	}
	return out
}

// MoveFrame moves the frame at index by delta positions. The frames passed
// over shift by one in the opposite direction and cycles follow.
func (s *Store) MoveFrame(index, delta int) error {
	if index < 0 || index >= len(s.frames) {
		return fmt.Errorf("%w: frame %d", ErrIndexOutOfRange, index)
	}
	target := index + delta
	if target < 0 || target >= len(s.frames) {
		return fmt.Errorf("%w: frame %d moved by %d", ErrIndexOutOfRange, index, delta)
	}
	if delta == 0 {
		return nil
	}

	moveElement(s.frames, index, target)
	for _, c := range s.cycles {
		for j, v := range c {
			c[j] = movedIndex(v, index, target)
		}
	}

	s.publish(Event{Type: FrameMoved, Index: index, Delta: delta})
	return nil
}

// movedIndex returns where v ends up when the element at from moves to to.
func movedIndex(v, from, to int) int {
	switch {
	case v == from:
		return to
	case from < to && v > from && v <= to:
		return v - 1
	case to < from && v >= to && v < from:
		return v + 1
	}
	return v
}

func moveElement[T any](s []T, from, to int) {
	v := s[from]
	if from < to {
		copy(s[from:to], s[from+1:to+1])
	} else {
		copy(s[to+1:from+1], s[to:from])
	}
	s[to] = v
}

// SetFrame replaces the frame at index i. Cycles are unaffected.
func (s *Store) SetFrame(i int, f Frame) error {
	if i < 0 || i >= len(s.frames) {
		return fmt.Errorf("%w: frame %d", ErrIndexOutOfRange, i)
	}
	if f.Image == nil {
		return ErrNilImage
	}
	if f.Options == nil {
		f.Options = make(map[string]string)
	}
	old := s.frames[i]
	s.frames[i] = f
	s.publish(Event{Type: FrameChanged, Index: i, Count: 1, Frames: []Frame{old, f}})
	return nil
}

// SetCenter changes the center of the frame at index i.
func (s *Store) SetCenter(i, cx, cy int) error {
	f, err := s.Frame(i)
	if err != nil {
		return err
	}
	f.Center.X, f.Center.Y = cx, cy
	return s.SetFrame(i, f)
}

// SetOption sets a named option on the frame at index i.
func (s *Store) SetOption(i int, name, value string) error {
	f, err := s.Frame(i)
	if err != nil {
		return err
	}
	f = f.WithImage(f.Image)
	f.Options[name] = value
	return s.SetFrame(i, f)
}

func (s *Store) checkEntries(entries []int) error {
	if s.batch > 0 {
		return nil
	}
	for _, v := range entries {
		if v < 0 || v >= len(s.frames) {
			return fmt.Errorf("%w: cycle entry %d", ErrIndexOutOfRange, v)
		}
	}
	return nil
}

// InsertCycle inserts a copy of c at pos, clamped to [0, CycleCount()].
func (s *Store) InsertCycle(pos int, c Cycle) error {
	if err := s.checkEntries(c); err != nil {
		return err
	}
	pos = clamp(pos, 0, len(s.cycles))
	s.cycles = append(s.cycles[:pos], append([]Cycle{c.Clone()}, s.cycles[pos:]...)...)
	s.publish(Event{Type: CyclesChanged, Index: pos, Count: 1})
	return nil
}

// AddCycle appends a copy of c and returns its index.
func (s *Store) AddCycle(c Cycle) (int, error) {
	pos := len(s.cycles)
	return pos, s.InsertCycle(pos, c)
}

// RemoveCycle removes the cycle at index i.
func (s *Store) RemoveCycle(i int) error {
	if i < 0 || i >= len(s.cycles) {
		return fmt.Errorf("%w: cycle %d", ErrIndexOutOfRange, i)
	}
	s.cycles = append(s.cycles[:i], s.cycles[i+1:]...)
	s.publish(Event{Type: CyclesChanged, Index: i, Count: 1})
	return nil
}

// MoveCycle moves the cycle at index i by delta positions.
func (s *Store) MoveCycle(i, delta int) error {
	if i < 0 || i >= len(s.cycles) {
		return fmt.Errorf("%w: cycle %d", ErrIndexOutOfRange, i)
	}
	target := i + delta
	if target < 0 || target >= len(s.cycles) {
		return fmt.Errorf("%w: cycle %d moved by %d", ErrIndexOutOfRange, i, delta)
	}
	if delta == 0 {
		return nil
	}
	moveElement(s.cycles, i, target)
	s.publish(Event{Type: CyclesChanged, Index: i, Delta: delta})
	return nil
}

// SetCycle replaces the cycle at index i with a copy of c.
func (s *Store) SetCycle(i int, c Cycle) error {
	if i < 0 || i >= len(s.cycles) {
		return fmt.Errorf("%w: cycle %d", ErrIndexOutOfRange, i)
	}
	if err := s.checkEntries(c); err != nil {
		return err
	}
	s.cycles[i] = c.Clone()
	s.publish(Event{Type: CyclesChanged, Index: i, Count: 1})
	return nil
}

// InsertCycleFrames inserts frame indices into cycle at position pos, which
// is clamped to the cycle length.
func (s *Store) InsertCycleFrames(cycle, pos int, indices ...int) error {
	if cycle < 0 || cycle >= len(s.cycles) {
		return fmt.Errorf("%w: cycle %d", ErrIndexOutOfRange, cycle)
	}
	if err := s.checkEntries(indices); err != nil {
		return err
	}
	c := s.cycles[cycle]
	pos = clamp(pos, 0, len(c))
	c = append(c[:pos], append(Cycle(indices).Clone(), c[pos:]...)...)
	s.cycles[cycle] = c
	s.publish(Event{Type: CyclesChanged, Index: cycle, Count: 1})
	return nil
}

// RemoveCycleFrames removes the entries at the given positions of a cycle.
func (s *Store) RemoveCycleFrames(cycle int, positions ...int) error {
	if cycle < 0 || cycle >= len(s.cycles) {
		return fmt.Errorf("%w: cycle %d", ErrIndexOutOfRange, cycle)
	}
	c := s.cycles[cycle]
	drop := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(c) {
			return fmt.Errorf("%w: cycle %d entry %d", ErrIndexOutOfRange, cycle, p)
		}
		drop[p] = struct{}{}
	}
	out := make(Cycle, 0, len(c)-len(drop))
	for i, v := range c {
		if _, ok := drop[i]; !ok {
			out = append(out, v)
		}
	}
	s.cycles[cycle] = out
	s.publish(Event{Type: CyclesChanged, Index: cycle, Count: 1})
	return nil
}

// MoveCycleFrame moves the entry at position pos of a cycle by delta.
func (s *Store) MoveCycleFrame(cycle, pos, delta int) error {
	if cycle < 0 || cycle >= len(s.cycles) {
		return fmt.Errorf("%w: cycle %d", ErrIndexOutOfRange, cycle)
	}
	c := s.cycles[cycle]
	if pos < 0 || pos >= len(c) || pos+delta < 0 || pos+delta >= len(c) {
		return fmt.Errorf("%w: cycle %d entry %d moved by %d", ErrIndexOutOfRange, cycle, pos, delta)
	}
	if delta == 0 {
		return nil
	}
	moveElement(c, pos, pos+delta)
	s.publish(Event{Type: CyclesChanged, Index: cycle, Count: 1})
	return nil
}

func validateCycles(cycles []Cycle, frames int) error {
	for i, c := range cycles {
		for j, v := range c {
			if v < 0 || v >= frames {
				return fmt.Errorf("%w: cycle %d entry %d references frame %d", ErrIndexOutOfRange, i, j, v)
			}
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
