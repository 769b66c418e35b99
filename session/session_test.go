package session

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "session.db"))
	require.Nil(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func sample() *Session {
	rgba := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	rgba.SetNRGBA(1, 1, color.NRGBA{255, 0, 0, 128})

	pm := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{palette.MagicGreen, color.NRGBA{0, 0, 255, 255}})
	pm.SetColorIndex(1, 0, 1)

	f := frame.New(pm, -4, 7)
	f.Options[frame.OptionCompressed] = "1"

	return &Session{
		Set: &frame.Set{
			Frames: []frame.Frame{frame.New(rgba, 1, 2), f, frame.New(rgba, 0, 0)},
			Cycles: []frame.Cycle{{0, 1, 1}, {}, {2}},
		},
		Filters: []string{"Invert", "Split;2;1"},
		Active:  1,
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	db := open(t)
	src := sample()
	require.Nil(t, db.Save("test", src))

	s, err := db.Load("test")
	require.Nil(t, err)

	assert.Equal(t, src.Filters, s.Filters)
	assert.Equal(t, 1, s.Active)
	require.Len(t, s.Set.Cycles, 3)
	assert.Equal(t, frame.Cycle{0, 1, 1}, s.Set.Cycles[0])
	assert.Empty(t, s.Set.Cycles[1])
	assert.Equal(t, frame.Cycle{2}, s.Set.Cycles[2])

	require.Len(t, s.Set.Frames, 3)
	assert.Equal(t, image.Pt(1, 2), s.Set.Frames[0].Center)
	assert.Equal(t, src.Set.Frames[0].Image, s.Set.Frames[0].Image)

	f := s.Set.Frames[1]
	assert.True(t, f.Paletted())
	assert.Equal(t, image.Pt(-4, 7), f.Center)
	assert.Equal(t, "1", f.Option(frame.OptionCompressed, "0"))
	assert.Equal(t, src.Set.Frames[1].Image.(*image.Paletted).Pix, f.Image.(*image.Paletted).Pix)
	assert.Equal(t, palette.ARGB(palette.MagicGreen), palette.ARGB(f.Image.(*image.Paletted).Palette[0]))
}

func TestImageDedupe(t *testing.T) {
	t.Parallel()

	db := open(t)
	require.Nil(t, db.Save("a", sample()))
	require.Nil(t, db.Save("b", sample()))

	var n int
	require.Nil(t, db.db.QueryRow("SELECT COUNT(*) FROM image").Scan(&n))
	assert.Equal(t, 2, n)

	names, err := db.Names()
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.Nil(t, db.Delete("a"))
	require.Nil(t, db.db.QueryRow("SELECT COUNT(*) FROM image").Scan(&n))
	assert.Equal(t, 2, n)

	require.Nil(t, db.Delete("b"))
	require.Nil(t, db.db.QueryRow("SELECT COUNT(*) FROM image").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestReplace(t *testing.T) {
	t.Parallel()

	db := open(t)
	require.Nil(t, db.Save("x", sample()))

	s := sample()
	s.Filters = nil
	s.Set.Cycles = s.Set.Cycles[:1]
	require.Nil(t, db.Save("x", s))

	loaded, err := db.Load("x")
	require.Nil(t, err)
	assert.Empty(t, loaded.Filters)
	assert.Len(t, loaded.Set.Cycles, 1)
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	db := open(t)
	_, err := db.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.Delete("missing"), ErrNotFound)
}
