package filter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/bodgit/bamconv/bam"
	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/overlay"
	"github.com/bodgit/bamconv/palette"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = color.NRGBA{255, 0, 0, 255}
	blue = color.NRGBA{0, 0, 255, 255}
	cyan = color.NRGBA{0, 255, 255, 255}
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, c)
		}
	}
	return m
}

func newStore(t *testing.T, frames ...frame.Frame) *frame.Store {
	t.Helper()

	s := frame.NewStore()
	_, err := s.AddFrames(frames...)
	require.Nil(t, err)
	c := make(frame.Cycle, len(frames))
	for i := range c {
		c[i] = i
	}
	_, err = s.AddCycle(c)
	require.Nil(t, err)
	return s
}

type resolver map[string]*frame.Set

func (r resolver) Resolve(uri string) (*frame.Set, error) {
	s, ok := r[uri]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	tables := []string{
		"BrightnessContrastGamma;10;-5;1.5",
		"ColorBalance;0;50;-20",
		"HueSaturationLightness;30;-10;5",
		"Invert",
		"Grayscale",
		"ReplaceColor;ff00ff00;00000000;4",
		"SwapChannels;BGR",
		"Mirror;true;false",
		"Rotate;270",
		"Blur;2.5",
		"Trim;1",
		"Center;5;-3;true",
		"Resize;lanczos;2;0.5;3;true",
		"Default",
		"Split;2;3",
		"Images;bmp",
		"Overlay;true;file:a%3Bb.bam;exclusive;res:/X%25.BAM;normal",
	}

	for _, table := range tables {
		f, err := Parse(table, nil)
		require.Nil(t, err, table)
		assert.Equal(t, table, f.Config())
	}
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	f, err := Parse("Rotate", nil)
	require.Nil(t, err)
	assert.Equal(t, 90, f.(*Rotate).Angle)

	f, err = Parse("Overlay;false;file:a%3Bb.bam;exclusive", nil)
	require.Nil(t, err)
	o := f.(*Overlay)
	require.Len(t, o.Sources, 1)
	assert.Equal(t, "file:a;b.bam", o.Sources[0].URI)
	assert.Nil(t, o.Sources[0].Set)
	assert.ErrorIs(t, o.Ready(nil), ErrConfig)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tables := []struct {
		line string
		err  error
	}{
		{"Nonsense;1", ErrUnknown},
		{"Rotate;45", ErrConfig},
		{"Blur;abc", ErrConfig},
		{"ReplaceColor;zz", ErrConfig},
		{"SwapChannels;RRB", ErrConfig},
		{"Split;0;1", ErrConfig},
		{"Images;gif", ErrConfig},
		{"Overlay;false", ErrConfig},
		{"BrightnessContrastGamma;200", ErrConfig},
	}

	for _, table := range tables {
		_, err := Parse(table.line, nil)
		assert.ErrorIs(t, err, table.err, table.line)
	}
}

func TestFormatFields(t *testing.T) {
	t.Parallel()

	line := Format("Name", "a;b", "50%", "")
	assert.Equal(t, "Name;a%3Bb;50%25;", line)

	name, fields := Fields(line)
	assert.Equal(t, "Name", name)
	assert.Equal(t, []string{"a;b", "50%", ""}, fields)
}

func TestColorFilters(t *testing.T) {
	t.Parallel()

	tables := []struct {
		filter ColorFilter
		in     color.NRGBA
		out    color.NRGBA
	}{
		{&Invert{}, red, cyan},
		{&SwapChannels{Order: "BGR"}, red, blue},
		{&ReplaceColor{From: color.NRGBA{250, 5, 0, 255}, To: blue, Tolerance: 5}, red, blue},
		{&ReplaceColor{From: blue, To: cyan}, red, red},
	}

	for _, table := range tables {
		src := solid(2, 2, table.in)
		img, err := table.filter.ApplyColor(src)
		require.Nil(t, err)
		assert.Equal(t, table.out, frame.AsNRGBA(img).NRGBAAt(1, 1), table.filter.Config())
		assert.Equal(t, table.in, src.NRGBAAt(1, 1))
	}

	img, err := (&Grayscale{}).ApplyColor(solid(1, 1, red))
	require.Nil(t, err)
	c := frame.AsNRGBA(img).NRGBAAt(0, 0)
	assert.Equal(t, c.R, c.G)
	assert.Equal(t, c.G, c.B)
}

func TestColorFilterPaletted(t *testing.T) {
	t.Parallel()

	pm := image.NewPaletted(image.Rect(0, 0, 2, 1), color.Palette{palette.MagicGreen, red})
	pm.SetColorIndex(1, 0, 1)

	img, err := (&Invert{}).ApplyColor(pm)
	require.Nil(t, err)
	out, ok := img.(*image.Paletted)
	require.True(t, ok)
	assert.Equal(t, pm.Pix, out.Pix)
	assert.Equal(t, color.Color(palette.MagicGreen), out.Palette[0])
	assert.Equal(t, color.Color(cyan), out.Palette[1])

	img, err = (&ReplaceColor{From: palette.MagicGreen, To: color.NRGBA{}}).ApplyColor(pm)
	require.Nil(t, err)
	assert.Equal(t, color.Color(color.NRGBA{}), img.(*image.Paletted).Palette[0])
}

func TestMirror(t *testing.T) {
	t.Parallel()

	m := solid(4, 2, blue)
	m.SetNRGBA(0, 0, red)

	f, err := (&Mirror{Horizontal: true}).ApplyTransform(frame.New(m, 1, 0))
	require.Nil(t, err)
	assert.Equal(t, image.Pt(3, 0), f.Center)
	assert.Equal(t, red, frame.AsNRGBA(f.Image).NRGBAAt(3, 0))

	f, err = (&Mirror{Vertical: true}).ApplyTransform(frame.New(m, 1, 0))
	require.Nil(t, err)
	assert.Equal(t, image.Pt(1, 2), f.Center)
	assert.Equal(t, red, frame.AsNRGBA(f.Image).NRGBAAt(0, 1))
}

func TestRotate(t *testing.T) {
	t.Parallel()

	m := solid(4, 2, blue)
	m.SetNRGBA(0, 0, red)

	tables := []struct {
		angle  int
		size   image.Point
		center image.Point
		red    image.Point
	}{
		{0, image.Pt(4, 2), image.Pt(1, 0), image.Pt(0, 0)},
		{90, image.Pt(2, 4), image.Pt(0, 3), image.Pt(0, 3)},
		{180, image.Pt(4, 2), image.Pt(3, 2), image.Pt(3, 1)},
		{270, image.Pt(2, 4), image.Pt(2, 1), image.Pt(1, 0)},
	}

	for _, table := range tables {
		f, err := (&Rotate{Angle: table.angle}).ApplyTransform(frame.New(m, 1, 0))
		require.Nil(t, err)
		assert.Equal(t, table.size, f.Image.Bounds().Size(), "%d", table.angle)
		assert.Equal(t, table.center, f.Center, "%d", table.angle)
		assert.Equal(t, red, frame.AsNRGBA(f.Image).NRGBAAt(table.red.X, table.red.Y), "%d", table.angle)
	}
}

func TestTrim(t *testing.T) {
	t.Parallel()

	m := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	m.SetNRGBA(4, 5, red)

	f, err := (&Trim{Margin: 1}).ApplyTransform(frame.New(m, 5, 5))
	require.Nil(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 3), f.Image.Bounds())
	assert.Equal(t, image.Pt(2, 1), f.Center)
	assert.Equal(t, red, frame.AsNRGBA(f.Image).NRGBAAt(1, 1))

	f, err = (&Trim{}).ApplyTransform(frame.New(image.NewNRGBA(image.Rect(0, 0, 4, 4)), 2, 2))
	require.Nil(t, err)
	assert.Equal(t, image.Rect(0, 0, 1, 1), f.Image.Bounds())
	assert.Equal(t, image.Point{}, f.Center)

	pm := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{palette.MagicGreen, red})
	pm.SetColorIndex(2, 1, 1)
	f, err = (&Trim{}).ApplyTransform(frame.New(pm, 0, 0))
	require.Nil(t, err)
	assert.True(t, f.Paletted())
	assert.Equal(t, image.Rect(0, 0, 1, 1), f.Image.Bounds())
	assert.Equal(t, image.Pt(-2, -1), f.Center)
}

func TestCenterResize(t *testing.T) {
	t.Parallel()

	fr := frame.New(solid(4, 4, red), 2, 2)

	f, err := (&Center{X: 1, Y: -1, Relative: true}).ApplyTransform(fr)
	require.Nil(t, err)
	assert.Equal(t, image.Pt(3, 1), f.Center)

	f, err = (&Center{X: 7, Y: 8}).ApplyTransform(fr)
	require.Nil(t, err)
	assert.Equal(t, image.Pt(7, 8), f.Center)

	r, err := Parse("Resize;nearest;2;2", nil)
	require.Nil(t, err)
	f, err = r.(TransformFilter).ApplyTransform(fr)
	require.Nil(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), f.Image.Bounds())
	assert.Equal(t, image.Pt(4, 4), f.Center)
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	c := NewChain(frame.NewStore(), nil)
	defer c.Close()

	assert.IsType(t, &Default{}, c.Active())
	assert.Equal(t, -1, c.ActiveIndex())

	assert.Equal(t, 0, c.Add(&Split{Columns: 2, Rows: 1}))
	assert.Equal(t, 0, c.Add(&Invert{}))
	assert.Equal(t, 1, c.Insert(10, &Mirror{Horizontal: true}))
	assert.Equal(t, 3, c.Add(&Images{Type: "png"}))
	assert.Equal(t, 2, c.Insert(0, &Default{}))

	names := func() string {
		var v []string
		for _, f := range c.Filters() {
			v = append(v, f.Name())
		}
		return strings.Join(v, ",")
	}
	assert.Equal(t, "Invert,Mirror,Default,Split,Images", names())
	assert.Equal(t, 3, c.ActiveIndex())
	assert.Equal(t, "Split", c.Active().Name())

	// Outputs can't move in front of other filters and vice versa
	assert.ErrorIs(t, c.Move(2, -1), frame.ErrIndexOutOfRange)
	assert.ErrorIs(t, c.Move(1, 1), frame.ErrIndexOutOfRange)

	require.Nil(t, c.Move(4, -2))
	assert.Equal(t, "Invert,Mirror,Images,Default,Split", names())
	assert.Equal(t, 4, c.ActiveIndex())

	assert.ErrorIs(t, c.SetActive(0), ErrConfig)
	require.Nil(t, c.SetActive(2))
	assert.Equal(t, "Images", c.Active().Name())

	require.Nil(t, c.Remove(2))
	assert.Equal(t, "Default", c.Active().Name())
	require.Nil(t, c.Remove(0))
	assert.Equal(t, 1, c.ActiveIndex())
	assert.ErrorIs(t, c.Remove(5), frame.ErrIndexOutOfRange)
}

func TestChainLoad(t *testing.T) {
	t.Parallel()

	c := NewChain(frame.NewStore(), nil)
	defer c.Close()

	lines := []string{"Invert", "Split;2;2", "Trim;0"}
	require.Nil(t, c.Load(lines, nil))
	assert.Equal(t, []string{"Invert", "Trim;0", "Split;2;2"}, c.Configs())

	assert.NotNil(t, c.Load([]string{"Invert", "Nonsense"}, nil))
	assert.Equal(t, 3, c.Len())
}

func TestChainFinal(t *testing.T) {
	t.Parallel()

	store := newStore(t, frame.New(solid(4, 4, red), 1, 1))
	c := NewChain(store, nil)
	defer c.Close()

	// Transform filters run after color filters regardless of order
	c.Add(&Trim{})
	c.Add(&ReplaceColor{From: red, To: color.NRGBA{}})
	c.Add(&Center{X: 9, Y: 9})

	s, err := c.Final(context.Background())
	require.Nil(t, err)
	require.Len(t, s.Frames, 1)
	assert.Equal(t, image.Rect(0, 0, 1, 1), s.Frames[0].Image.Bounds())
	assert.Equal(t, image.Pt(9, 9), s.Frames[0].Center)
	assert.Equal(t, []frame.Cycle{{0}}, s.Cycles)
	assert.Equal(t, StateIdle, c.State())

	// The store is left alone
	f, err := store.Frame(0)
	require.Nil(t, err)
	assert.Equal(t, red, frame.AsNRGBA(f.Image).NRGBAAt(0, 0))
	assert.Equal(t, image.Pt(1, 1), f.Center)

	assert.False(t, c.Modified())
	cached, err := c.Final(context.Background())
	require.Nil(t, err)
	assert.Same(t, s, cached)

	require.Nil(t, store.SetCenter(0, 2, 2))
	assert.True(t, c.Modified())
	s2, err := c.Final(context.Background())
	require.Nil(t, err)
	assert.NotSame(t, s, s2)

	require.Nil(t, c.Remove(1))
	s3, err := c.Final(context.Background())
	require.Nil(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), s3.Frames[0].Image.Bounds())
}

func TestChainErrors(t *testing.T) {
	t.Parallel()

	store := newStore(t, frame.New(solid(2, 2, red), 0, 0))
	c := NewChain(store, nil)
	defer c.Close()

	c.Add(&Rotate{Angle: 45})
	_, err := c.Final(context.Background())
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "Rotate")
	require.Nil(t, c.Remove(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Final(ctx)
	assert.ErrorIs(t, err, frame.ErrCancelled)

	// An overlay that was never resolved fails before any pixel work
	require.Nil(t, c.Load([]string{"Invert", "Overlay;false;file:x.bam;normal"}, nil))
	sink := NewMemorySink()
	err = c.Run(context.Background(), &Target{Name: "X", Sink: sink})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Empty(t, sink.Files)
	assert.True(t, c.Modified())
}

func redBlue(t *testing.T) *frame.Store {
	t.Helper()
	return newStore(t, frame.New(solid(4, 2, red), 2, 1), frame.New(solid(4, 2, blue), 2, 1))
}

func TestChainRun(t *testing.T) {
	t.Parallel()

	c := NewChain(redBlue(t), nil)
	defer c.Close()

	sink := NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "TEST", Sink: sink}))
	require.Contains(t, sink.Files, "TEST.BAM")
	assert.Equal(t, "BAM V1  ", string(sink.Files["TEST.BAM"][:8]))
	assert.Equal(t, StateIdle, c.State())

	sink = NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "TEST", Sink: sink, Encoding: Encoding{Format: FormatBAMC}}))
	assert.Equal(t, "BAMCV1  ", string(sink.Files["TEST.BAM"][:8]))

	sink = NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "AREA", Sink: sink, Encoding: Encoding{Format: FormatMOS}}))
	assert.Equal(t, "MOS V1  ", string(sink.Files["AREA.MOS"][:8]))

	sink = NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "AREA", Sink: sink, Encoding: Encoding{Format: FormatTISV2}}))
	assert.Equal(t, "TIS V2  ", string(sink.Files["AREA.TIS"][:8]))
	assert.Len(t, sink.PageFiles, 1)
}

func TestChainRunOptimize(t *testing.T) {
	t.Parallel()

	store := newStore(t, frame.New(solid(4, 2, red), 2, 1), frame.New(solid(4, 2, red), 2, 1), frame.New(solid(4, 2, blue), 2, 1))
	c := NewChain(store, nil)
	defer c.Close()

	sink := NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "TEST", Sink: sink, Encoding: Encoding{Optimize: frame.OptimizeDuplicates}}))

	f, err := bam.Decode(bytes.NewReader(sink.Files["TEST.BAM"]), nil)
	require.Nil(t, err)
	assert.Len(t, f.Set.Frames, 2)
	assert.Equal(t, []frame.Cycle{{0, 0, 1}}, f.Set.Cycles)
	assert.Equal(t, 3, store.FrameCount())
}

func TestSplitOutput(t *testing.T) {
	t.Parallel()

	c := NewChain(redBlue(t), nil)
	defer c.Close()
	c.Add(&Split{Columns: 2, Rows: 1})

	sink := NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "TEST", Sink: sink}))
	assert.Len(t, sink.Files, 2)
	assert.Contains(t, sink.Files, "TEST_00.BAM")
	assert.Contains(t, sink.Files, "TEST_01.BAM")

	s := &Split{Columns: 2, Rows: 1}
	f := s.piece(frame.New(solid(4, 2, red), 2, 1), 1, 0)
	assert.Equal(t, image.Rect(0, 0, 2, 2), f.Image.Bounds())
	assert.Equal(t, image.Pt(0, 1), f.Center)

	f = (&Split{Columns: 4, Rows: 1}).piece(frame.New(solid(2, 1, red), 0, 0), 0, 0)
	assert.Equal(t, image.Rect(0, 0, 1, 1), f.Image.Bounds())
	assert.Equal(t, uint8(0), frame.AsNRGBA(f.Image).NRGBAAt(0, 0).A)
}

func TestImagesOutput(t *testing.T) {
	t.Parallel()

	c := NewChain(redBlue(t), nil)
	defer c.Close()
	c.Add(&Images{Type: "png"})

	sink := NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "TEST", Sink: sink}))
	assert.Len(t, sink.Files, 2)
	assert.True(t, strings.HasPrefix(string(sink.Files["TEST_00001.png"]), "\x89PNG"))
}

func TestOverlayOutput(t *testing.T) {
	t.Parallel()

	layer := &frame.Set{
		Frames: []frame.Frame{frame.New(solid(2, 2, cyan), 1, 1)},
		Cycles: []frame.Cycle{{0, 0}},
	}
	r := resolver{"file:layer.bam": layer}

	c := NewChain(redBlue(t), nil)
	defer c.Close()
	require.Nil(t, c.Load([]string{"Overlay;false;file:layer.bam;forced"}, r))

	sink := NewMemorySink()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "TEST", Sink: sink}))
	assert.Contains(t, sink.Files, "TEST.BAM")

	_, err := Parse("Overlay;false;file:missing.bam;forced", r)
	assert.NotNil(t, err)
}

type countColor struct {
	colorKind
	calls int
}

func (*countColor) Name() string { return "Count" }

func (*countColor) Config() string { return "Count" }

func (f *countColor) ApplyColor(img image.Image) (image.Image, error) {
	f.calls++
	return img, nil
}

func TestOverlayIncompatible(t *testing.T) {
	t.Parallel()

	layer := &frame.Set{
		Frames: []frame.Frame{frame.New(solid(2, 2, cyan), 1, 1)},
		Cycles: []frame.Cycle{{0}},
	}
	r := resolver{"file:layer.bam": layer}

	c := NewChain(redBlue(t), nil)
	defer c.Close()
	count := &countColor{}
	c.Add(count)
	o, err := Parse("Overlay;false;file:layer.bam;normal", r)
	require.Nil(t, err)
	c.Add(o)

	sink := NewMemorySink()
	err = c.Run(context.Background(), &Target{Name: "TEST", Sink: sink})
	assert.ErrorIs(t, err, overlay.ErrIncompatible)
	assert.Zero(t, count.calls)
	assert.Empty(t, sink.Files)

	// Forced layers skip the check
	o.(*Overlay).Force = true
	c.Touch()
	require.Nil(t, c.Run(context.Background(), &Target{Name: "TEST", Sink: sink}))
	assert.Equal(t, 2, count.calls)
	assert.Contains(t, sink.Files, "TEST.BAM")
}

func TestParseFileFormat(t *testing.T) {
	t.Parallel()

	for i := FormatBAM; i <= FormatTISV2; i++ {
		f, err := ParseFileFormat(i.String())
		require.Nil(t, err)
		assert.Equal(t, i, f)
	}
	_, err := ParseFileFormat("gif")
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, ".MOS", FormatMOSV2.Extension())
}
