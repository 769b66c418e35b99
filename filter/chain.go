package filter

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/bodgit/bamconv/frame"
)

// State is what a Chain is currently doing.
type State int

// Chain states.
const (
	StateIdle State = iota
	StateColor
	StateTransform
	StateOutput
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateColor:
		return "color"
	case StateTransform:
		return "transform"
	case StateOutput:
		return "output"
	}
	return "unknown"
}

type readier interface {
	Ready(cycles []frame.Cycle) error
}

// Chain is an ordered list of filters applied to the frames of a store.
// Output filters always follow the other filters and only one of them, the
// active one, is run. With no output filter a Default one is used.
//
// The store is never changed by the chain. The frames produced by the last
// run are cached until either the store or the chain changes.
type Chain struct {
	store       *frame.Store
	unsubscribe func()
	logger      *log.Logger

	filters []Filter
	active  int

	state    State
	modified bool
	cached   *frame.Set
}

// NewChain returns an empty chain for store.
func NewChain(store *frame.Store, logger *log.Logger) *Chain {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Chain{
		store:    store,
		logger:   logger,
		active:   -1,
		modified: true,
	}
	c.unsubscribe = store.Subscribe(func(frame.Event) {
		c.modified = true
	})
	return c
}

// Close detaches the chain from its store.
func (c *Chain) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// State returns the current state.
func (c *Chain) State() State {
	return c.state
}

// Modified reports whether the next run has to recompute the frames.
func (c *Chain) Modified() bool {
	return c.modified || c.cached == nil
}

// Touch marks the chain as modified, for example after the fields of one of
// its filters were changed in place.
func (c *Chain) Touch() {
	c.modified = true
}

// Len returns the number of filters.
func (c *Chain) Len() int {
	return len(c.filters)
}

// Filter returns filter i.
func (c *Chain) Filter(i int) (Filter, error) {
	if i < 0 || i >= len(c.filters) {
		return nil, fmt.Errorf("%w: filter %d", frame.ErrIndexOutOfRange, i)
	}
	return c.filters[i], nil
}

// Filters returns all filters in order.
func (c *Chain) Filters() []Filter {
	return append([]Filter(nil), c.filters...)
}

// outputs returns the index of the first output filter.
func (c *Chain) outputs() int {
	for i, f := range c.filters {
		if f.Kind() == KindOutput {
			return i
		}
	}
	return len(c.filters)
}

// bounds returns the range of positions a filter of kind k may occupy.
func (c *Chain) bounds(k Kind) (int, int) {
	first := c.outputs()
	if k == KindOutput {
		return first, len(c.filters)
	}
	return 0, first
}

// Add appends f after the filters of its group and returns its index.
func (c *Chain) Add(f Filter) int {
	_, hi := c.bounds(f.Kind())
	c.insert(hi, f)
	return hi
}

// Insert adds f at pos, clamped into the range its kind may occupy, and
// returns the index used.
func (c *Chain) Insert(pos int, f Filter) int {
	lo, hi := c.bounds(f.Kind())
	pos = max(lo, min(pos, hi))
	c.insert(pos, f)
	return pos
}

func (c *Chain) insert(pos int, f Filter) {
	c.filters = append(c.filters, nil)
	copy(c.filters[pos+1:], c.filters[pos:])
	c.filters[pos] = f

	if f.Kind() == KindOutput && c.active < 0 {
		c.active = pos
	} else if c.active >= pos {
		c.active++
	}
	c.modified = true
}

// Remove deletes filter i. When the active output is removed the first
// remaining output becomes active.
func (c *Chain) Remove(i int) error {
	if i < 0 || i >= len(c.filters) {
		return fmt.Errorf("%w: filter %d", frame.ErrIndexOutOfRange, i)
	}
	c.filters = append(c.filters[:i], c.filters[i+1:]...)

	switch {
	case c.active == i:
		c.active = -1
		if first := c.outputs(); first < len(c.filters) {
			c.active = first
		}
	case c.active > i:
		c.active--
	}
	c.modified = true
	return nil
}

// Move moves filter i by delta positions, within the filters of its group.
func (c *Chain) Move(i, delta int) error {
	if i < 0 || i >= len(c.filters) {
		return fmt.Errorf("%w: filter %d", frame.ErrIndexOutOfRange, i)
	}
	lo, hi := c.bounds(c.filters[i].Kind())
	to := i + delta
	if to < lo || to >= hi {
		return fmt.Errorf("%w: move %d by %d", frame.ErrIndexOutOfRange, i, delta)
	}
	if to == i {
		return nil
	}

	f := c.filters[i]
	if to > i {
		copy(c.filters[i:to], c.filters[i+1:to+1])
	} else {
		copy(c.filters[to+1:i+1], c.filters[to:i])
	}
	c.filters[to] = f

	switch {
	case c.active == i:
		c.active = to
	case i < c.active && c.active <= to:
		c.active--
	case to <= c.active && c.active < i:
		c.active++
	}
	c.modified = true
	return nil
}

// SetActive makes output filter i the one that is run.
func (c *Chain) SetActive(i int) error {
	f, err := c.Filter(i)
	if err != nil {
		return err
	}
	if f.Kind() != KindOutput {
		return fmt.Errorf("%w: %s isn't an output filter", ErrConfig, f.Name())
	}
	c.active = i
	return nil
}

// ActiveIndex returns the index of the active output, or -1 when the
// default output is used.
func (c *Chain) ActiveIndex() int {
	return c.active
}

// Active returns the output filter that is run.
func (c *Chain) Active() OutputFilter {
	if c.active >= 0 {
		if of, ok := c.filters[c.active].(OutputFilter); ok {
			return of
		}
	}
	return &Default{}
}

// Configs returns the config line of every filter in order.
func (c *Chain) Configs() []string {
	lines := make([]string, len(c.filters))
	for i, f := range c.filters {
		lines[i] = f.Config()
	}
	return lines
}

// Load replaces all filters with the ones described by lines. Nothing is
// changed if any line fails to parse.
func (c *Chain) Load(lines []string, r Resolver) error {
	filters := make([]Filter, 0, len(lines))
	for i, l := range lines {
		f, err := Parse(l, r)
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		filters = append(filters, f)
	}
	c.filters = nil
	c.active = -1
	for _, f := range filters {
		c.Add(f)
	}
	c.modified = true
	return nil
}

func (c *Chain) validate() error {
	for _, f := range c.filters {
		if v, ok := f.(validator); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("%s: %w", f.Name(), err)
			}
		}
	}
	if r, ok := c.Active().(readier); ok {
		if err := r.Ready(c.store.Cycles()); err != nil {
			return fmt.Errorf("%s: %w", c.Active().Name(), err)
		}
	}
	return nil
}

// Final returns the frames and cycles of the store with all color and
// transform filters applied. Color filters run before transform filters,
// each group in chain order. The result is shared with later calls and
// must not be changed.
func (c *Chain) Final(ctx context.Context) (*frame.Set, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if !c.Modified() {
		return c.cached, nil
	}

	defer func() {
		c.state = StateIdle
	}()

	var colors []ColorFilter
	var transforms []TransformFilter
	for _, f := range c.filters {
		switch f.Kind() {
		case KindColor:
			colors = append(colors, f.(ColorFilter))
		case KindTransform:
			transforms = append(transforms, f.(TransformFilter))
		}
	}

	s := c.store.Snapshot()

	c.state = StateColor
	for i, fr := range s.Frames {
		if err := frame.Cancelled(ctx); err != nil {
			return nil, err
		}
		img := fr.Image
		for _, cf := range colors {
			var err error
			if img, err = cf.ApplyColor(img); err != nil {
				return nil, fmt.Errorf("%s: frame %d: %w", cf.Name(), i, err)
			}
		}
		s.Frames[i].Image = img
	}

	c.state = StateTransform
	for i, fr := range s.Frames {
		if err := frame.Cancelled(ctx); err != nil {
			return nil, err
		}
		for _, tf := range transforms {
			var err error
			if fr, err = tf.ApplyTransform(fr); err != nil {
				return nil, fmt.Errorf("%s: frame %d: %w", tf.Name(), i, err)
			}
		}
		s.Frames[i] = fr
	}

	c.logger.Printf("Applied %d color and %d transform filters to %d frames\n", len(colors), len(transforms), len(s.Frames))

	c.cached = s
	c.modified = false

	return s, nil
}

// Run applies the chain and hands the result to the active output filter.
func (c *Chain) Run(ctx context.Context, t *Target) error {
	s, err := c.Final(ctx)
	if err != nil {
		return err
	}

	c.state = StateOutput
	defer func() {
		c.state = StateIdle
	}()

	out := c.Active()
	if err := out.Output(ctx, s, t); err != nil {
		return fmt.Errorf("%s: %w", out.Name(), err)
	}
	return nil
}
