/*
Package bamconv converts sequences of images into Infinity Engine animation,
mosaic and tile set files.

A Converter owns the frames and cycles being edited, the filter chain run
over them and the palette slots used by the paletted formats. Callers edit
the store and chain between conversions; a conversion never changes either.
*/
package bamconv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log"
	"os"

	"github.com/bodgit/bamconv/filter"
	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
)

// ErrNoFrames is returned when converting without any frames.
var ErrNoFrames = errors.New("bamconv: no frames")

// Result is the outcome of a conversion. Exactly one of Message and Err is
// set.
type Result struct {
	Message string
	Err     error
}

// Success reports whether the conversion succeeded.
func (r Result) Success() bool {
	return r.Err == nil
}

func (r Result) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Message
}

func failure(err error) Result {
	return Result{Err: err}
}

func success(format string, a ...interface{}) Result {
	return Result{Message: fmt.Sprintf(format, a...)}
}

// Converter ties a frame store to its filter chain and palette.
type Converter struct {
	Store    *frame.Store
	Chain    *filter.Chain
	Palette  *palette.Slots
	Registry *palette.Registry

	unobserve func()
	logger    *log.Logger
}

// New returns an empty Converter.
func New(logger *log.Logger) *Converter {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	store := frame.NewStore()
	reg := palette.NewRegistry()

	return &Converter{
		Store:     store,
		Chain:     filter.NewChain(store, logger),
		Palette:   new(palette.Slots),
		Registry:  reg,
		unobserve: reg.Observe(store),
		logger:    logger,
	}
}

// Close detaches the chain and registry from the store.
func (c *Converter) Close() {
	c.Chain.Close()
	c.unobserve()
}

func (c *Converter) images() []image.Image {
	frames := c.Store.Frames()
	images := make([]image.Image, len(frames))
	for i, f := range frames {
		images[i] = f.Image
	}
	return images
}

// GeneratePalette recomputes the generated palette from the colors of all
// frames, unless the palette slots are locked, and returns the active
// palette.
func (c *Converter) GeneratePalette(opts palette.Options) color.Palette {
	p := c.Palette.Update(c.Registry, c.images(), opts)
	c.logger.Printf("Palette from %d colors\n", c.Registry.Len())
	return p
}

func readPalette(file string) (color.Palette, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := palette.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return p, nil
}

// LoadPalette installs the palette in file as the external palette and
// locks it in.
func (c *Converter) LoadPalette(file string) error {
	p, err := readPalette(file)
	if err != nil {
		return err
	}
	c.Palette.SetExternal(p)
	c.Palette.Lock()

	return nil
}

// Convert runs the filter chain and writes the result to t. A locked palette
// replaces the one the BAM encoder would generate.
func (c *Converter) Convert(ctx context.Context, t *filter.Target) Result {
	if c.Store.FrameCount() == 0 {
		return failure(ErrNoFrames)
	}

	target := *t
	if target.Logger == nil {
		target.Logger = c.logger
	}
	if target.Encoding.Palette == nil && c.Palette.Locked() {
		target.Encoding.Palette = c.Palette.Active()
	}

	if err := c.Chain.Run(ctx, &target); err != nil {
		return failure(err)
	}

	s, err := c.Chain.Final(ctx)
	if err != nil {
		return failure(err)
	}

	return success("Converted %d frames in %d cycles to %s%s", len(s.Frames), len(s.Cycles), target.Name, target.Encoding.Format.Extension())
}
