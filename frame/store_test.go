package frame

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) Frame {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, c)
		}
	}
	return New(m, 0, 0)
}

func newStore(t *testing.T, frames int, cycles ...Cycle) *Store {
	s := NewStore()
	for i := 0; i < frames; i++ {
		_, err := s.AddFrames(solid(2, 2, color.NRGBA{uint8(i), 0, 0, 255}))
		require.Nil(t, err)
	}
	for _, c := range cycles {
		_, err := s.AddCycle(c)
		require.Nil(t, err)
	}
	return s
}

func TestRemoveFirstFrame(t *testing.T) {
	t.Parallel()
	s := newStore(t, 3, Cycle{0, 1, 2, 1})

	require.Nil(t, s.RemoveFrames(0))

	assert.Equal(t, 2, s.FrameCount())
	c, err := s.Cycle(0)
	require.Nil(t, err)
	assert.Equal(t, Cycle{0, 1, 0}, c)
}

func TestInsertFramesShiftsCycles(t *testing.T) {
	t.Parallel()
	s := newStore(t, 3, Cycle{0, 1, 2}, Cycle{2, 2})

	require.Nil(t, s.InsertFrames(1, solid(1, 1, color.White), solid(1, 1, color.Black)))

	assert.Equal(t, 5, s.FrameCount())
	assert.Equal(t, []Cycle{{0, 3, 4}, {4, 4}}, s.Cycles())
}

func TestInsertFramesClampsPosition(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2, Cycle{0, 1})

	require.Nil(t, s.InsertFrames(99, solid(1, 1, color.White)))
	require.Nil(t, s.InsertFrames(-5, solid(1, 1, color.Black)))

	assert.Equal(t, 4, s.FrameCount())
	assert.Equal(t, []Cycle{{1, 2}}, s.Cycles())
}

func TestMoveFrame(t *testing.T) {
	t.Parallel()

	type tc struct {
		index, delta int
		want         Cycle
	}
	testCases := []tc{
		{0, 2, Cycle{2, 0, 1, 3}},
		{3, -2, Cycle{0, 2, 3, 1}},
		{1, 1, Cycle{0, 2, 1, 3}},
	}
	for _, c := range testCases {
		s := newStore(t, 4, Cycle{0, 1, 2, 3})
		f0, _ := s.Frame(c.index)

		require.Nil(t, s.MoveFrame(c.index, c.delta))

		got, _ := s.Cycle(0)
		assert.Equal(t, c.want, got)
		moved, _ := s.Frame(c.index + c.delta)
		assert.Equal(t, f0.Image, moved.Image)

		// Playback must show the same images as before the move
		for pos, idx := range got {
			f, _ := s.Frame(idx)
			orig, _ := newStore(t, 4).Frame(pos)
			assert.Equal(t, orig.Image, f.Image)
		}
	}
}

func TestMoveFrameOutOfRange(t *testing.T) {
	t.Parallel()
	s := newStore(t, 2, Cycle{0, 1})

	assert.ErrorIs(t, s.MoveFrame(0, 2), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.MoveFrame(5, -1), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.RemoveFrames(2), ErrIndexOutOfRange)
	assert.Equal(t, 2, s.FrameCount())
}

func TestCycleOperations(t *testing.T) {
	t.Parallel()
	s := newStore(t, 3, Cycle{0}, Cycle{1}, Cycle{2})

	require.Nil(t, s.MoveCycle(0, 2))
	assert.Equal(t, []Cycle{{1}, {2}, {0}}, s.Cycles())

	require.Nil(t, s.RemoveCycle(1))
	assert.Equal(t, []Cycle{{1}, {0}}, s.Cycles())

	require.Nil(t, s.InsertCycleFrames(0, 1, 2, 2))
	assert.Equal(t, Cycle{1, 2, 2}, s.Cycles()[0])

	require.Nil(t, s.MoveCycleFrame(0, 0, 2))
	assert.Equal(t, Cycle{2, 2, 1}, s.Cycles()[0])

	require.Nil(t, s.RemoveCycleFrames(0, 0, 2))
	assert.Equal(t, Cycle{2}, s.Cycles()[0])

	assert.ErrorIs(t, s.InsertCycleFrames(0, 0, 7), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.InsertCycle(0, Cycle{3}), ErrIndexOutOfRange)
}

func TestBatchAllowsTemporarilyInvalidCycles(t *testing.T) {
	t.Parallel()
	s := NewStore()
	var events []EventType
	s.Subscribe(func(e Event) { events = append(events, e.Type) })

	err := s.Batch(func() error {
		if _, err := s.AddCycle(Cycle{0, 1}); err != nil {
			return err
		}
		assert.Empty(t, events)
		if _, err := s.AddFrames(solid(1, 1, color.White), solid(1, 1, color.Black)); err != nil {
			return err
		}
		// Frames inserted at 0 shifted the pending entries to {2, 3}
		return s.SetCycle(0, Cycle{1, 0})
	})
	require.Nil(t, err)
	assert.Equal(t, []EventType{CyclesChanged, FramesInserted, CyclesChanged}, events)
	assert.Equal(t, []Cycle{{1, 0}}, s.Cycles())

	err = s.Batch(func() error {
		_, err := s.AddCycle(Cycle{9})
		return err
	})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSubscribeAndModified(t *testing.T) {
	t.Parallel()
	s := NewStore()
	var got []Event
	unsubscribe := s.Subscribe(func(e Event) { got = append(got, e) })

	assert.False(t, s.Modified())
	_, err := s.AddFrames(solid(1, 1, color.White))
	require.Nil(t, err)
	assert.True(t, s.Modified())
	require.Len(t, got, 1)
	assert.Equal(t, FramesInserted, got[0].Type)
	assert.Len(t, got[0].Frames, 1)

	s.ClearModified()
	unsubscribe()
	s.Clear()
	assert.True(t, s.Modified())
	assert.Len(t, got, 1)
	assert.Equal(t, 0, s.FrameCount())
}

// Random edit sequences must keep every cycle entry in range and keep the
// relative order of the untouched entries.
func TestIndexConsistency(t *testing.T) {
	t.Parallel()
	rnd := rand.New(rand.NewSource(1))

	for round := 0; round < 50; round++ {
		s := NewStore()
		// Give every frame an identity through its red channel
		var ids []int
		next := 0
		add := func(pos int) {
			require.Nil(t, s.InsertFrames(pos, solid(1, 1, color.NRGBA{uint8(next), 0, 0, 255})))
			pos = clamp(pos, 0, len(ids))
			ids = append(ids[:pos], append([]int{next}, ids[pos:]...)...)
			next++
		}
		for i := 0; i < 6; i++ {
			add(len(ids))
		}
		require.Nil(t, s.InsertCycle(0, Cycle{0, 1, 2, 3, 4, 5, 3, 1}))

		identity := func() []int {
			c, _ := s.Cycle(0)
			out := make([]int, len(c))
			for i, v := range c {
				f, err := s.Frame(v)
				require.Nil(t, err)
				out[i] = int(f.Image.(*image.NRGBA).Pix[0])
			}
			return out
		}

		for step := 0; step < 30 && next < 250; step++ {
			before := identity()
			switch rnd.Intn(3) {
			case 0:
				add(rnd.Intn(len(ids) + 1))
				assert.Equal(t, before, identity())
			case 1:
				if len(ids) < 2 {
					continue
				}
				i := rnd.Intn(len(ids))
				gone := ids[i]
				require.Nil(t, s.RemoveFrames(i))
				ids = append(ids[:i], ids[i+1:]...)
				want := []int{}
				for _, v := range before {
					if v != gone {
						want = append(want, v)
					}
				}
				assert.Equal(t, want, append([]int{}, identity()...))
			case 2:
				i := rnd.Intn(len(ids))
				delta := rnd.Intn(len(ids)) - i
				require.Nil(t, s.MoveFrame(i, delta))
				moveElement(ids, i, i+delta)
				assert.Equal(t, before, identity())
			}
			c, _ := s.Cycle(0)
			for _, v := range c {
				assert.True(t, v >= 0 && v < s.FrameCount())
			}
		}
	}
}

func TestOptimize(t *testing.T) {
	t.Parallel()
	red := solid(2, 2, color.NRGBA{255, 0, 0, 255})
	blue := solid(2, 2, color.NRGBA{0, 0, 255, 255})
	almostRed := solid(2, 2, color.NRGBA{254, 1, 0, 255})
	unused := solid(3, 3, color.White)

	s := &Set{
		Frames: []Frame{red, unused, blue, red.Clone(), almostRed},
		Cycles: []Cycle{{0, 2, 3, 4}},
	}

	o := Optimize(s, OptimizeUnused)
	assert.Len(t, o.Frames, 4)
	assert.Equal(t, []Cycle{{0, 1, 2, 3}}, o.Cycles)

	o = Optimize(s, OptimizeDuplicates)
	assert.Len(t, o.Frames, 3)
	assert.Equal(t, []Cycle{{0, 1, 0, 2}}, o.Cycles)

	o = Optimize(s, OptimizeSimilar)
	assert.Len(t, o.Frames, 2)
	assert.Equal(t, []Cycle{{0, 1, 0, 0}}, o.Cycles)

	// The input is left alone
	assert.Len(t, s.Frames, 5)
}
