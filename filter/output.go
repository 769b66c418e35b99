package filter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bodgit/bamconv/bam"
	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/mos"
	"github.com/bodgit/bamconv/overlay"
	"github.com/bodgit/bamconv/palette"
	"github.com/bodgit/bamconv/pvrz"
	"github.com/bodgit/bamconv/tis"
	"golang.org/x/image/bmp"
)

// FileFormat is an output file format.
type FileFormat int

// Output formats.
const (
	FormatBAM FileFormat = iota
	FormatBAMC
	FormatBAMV2
	FormatMOS
	FormatMOSC
	FormatMOSV2
	FormatTIS
	FormatTISV2
)

var formatNames = []string{"bam", "bamc", "bam-v2", "mos", "mosc", "mos-v2", "tis", "tis-v2"}

func (f FileFormat) String() string {
	if f >= 0 && int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// ParseFileFormat is the inverse of FileFormat.String.
func ParseFileFormat(s string) (FileFormat, error) {
	for i, n := range formatNames {
		if strings.EqualFold(n, s) {
			return FileFormat(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown format %q", ErrConfig, s)
}

// Extension returns the file extension used for the format.
func (f FileFormat) Extension() string {
	switch f {
	case FormatMOS, FormatMOSC, FormatMOSV2:
		return ".MOS"
	case FormatTIS, FormatTISV2:
		return ".TIS"
	}
	return ".BAM"
}

// Encoding holds the encoder settings shared by all output filters.
type Encoding struct {
	Format   FileFormat
	RLE      bam.RLE
	RLEIndex uint8
	// Palette replaces the generated BAM palette when set.
	Palette     color.Palette
	Metric      palette.Metric
	AlphaWeight float64
	Quantizer   palette.Quantizer
	Atlas       pvrz.AtlasOptions
	// PagePrefix names texture pages, "MOS" when empty.
	PagePrefix string
	Workers    int
	// Optimize drops and merges frames before encoding, see frame.Optimize.
	Optimize int
}

func (e Encoding) pagePrefix() string {
	if e.PagePrefix == "" {
		return "MOS"
	}
	return e.PagePrefix
}

// still returns the image a single image format stores: the first frame of
// the first cycle, or the first frame when there are no cycles.
func still(s *frame.Set) (image.Image, error) {
	if len(s.Frames) == 0 {
		return nil, bam.ErrNoFrames
	}
	i := 0
	if len(s.Cycles) > 0 && len(s.Cycles[0]) > 0 {
		i = s.Cycles[0][0]
	}
	if i < 0 || i >= len(s.Frames) {
		return nil, fmt.Errorf("%w: %d", frame.ErrIndexOutOfRange, i)
	}
	return s.Frames[i].Image, nil
}

func (e Encoding) encode(ctx context.Context, w io.Writer, s *frame.Set, pages pvrz.PageWriter, logger *log.Logger) error {
	switch e.Format {
	case FormatBAM, FormatBAMC:
		return bam.EncodeV1(ctx, w, s, bam.V1Options{
			RLE:         e.RLE,
			RLEIndex:    e.RLEIndex,
			Compress:    e.Format == FormatBAMC,
			Palette:     e.Palette,
			Metric:      e.Metric,
			AlphaWeight: e.AlphaWeight,
			Logger:      logger,
		})
	case FormatBAMV2:
		return bam.EncodeV2(ctx, w, s, bam.V2Options{
			Pages:        pages,
			AtlasOptions: e.Atlas,
			Workers:      e.Workers,
			Logger:       logger,
		})
	}

	img, err := still(s)
	if err != nil {
		return err
	}

	switch e.Format {
	case FormatMOS, FormatMOSC:
		return mos.EncodeV1(ctx, w, img, mos.V1Options{
			Compress:  e.Format == FormatMOSC,
			Quantizer: e.Quantizer,
			Metric:    e.Metric,
			Logger:    logger,
		})
	case FormatMOSV2:
		return mos.EncodeV2(ctx, w, img, mos.V2Options{
			Pages:        pages,
			AtlasOptions: e.Atlas,
			Workers:      e.Workers,
			Logger:       logger,
		})
	case FormatTIS:
		return tis.EncodeV1(ctx, w, img, tis.V1Options{
			Quantizer: e.Quantizer,
			Metric:    e.Metric,
			Logger:    logger,
		})
	case FormatTISV2:
		return tis.EncodeV2(ctx, w, img, tis.V2Options{
			Pages:        pages,
			AtlasOptions: e.Atlas,
			Workers:      e.Workers,
			Logger:       logger,
		})
	}
	return fmt.Errorf("%w: format %d", ErrConfig, e.Format)
}

// Sink creates output files.
type Sink interface {
	Create(name string) (io.WriteCloser, error)
	Pages(prefix string) pvrz.PageWriter
}

// DirSink writes files into a directory.
type DirSink struct {
	Path string
}

// Create implements Sink.
func (d DirSink) Create(name string) (io.WriteCloser, error) {
	return os.Create(filepath.Join(d.Path, name))
}

// Pages implements Sink.
func (d DirSink) Pages(prefix string) pvrz.PageWriter {
	return pvrz.Dir{Path: d.Path, Prefix: prefix}
}

// MemorySink keeps files in memory. Texture pages of every prefix share one
// page map.
type MemorySink struct {
	Files     map[string][]byte
	PageFiles pvrz.Memory
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		Files:     make(map[string][]byte),
		PageFiles: make(pvrz.Memory),
	}
}

type memoryFile struct {
	bytes.Buffer
	name string
	sink *MemorySink
}

func (f *memoryFile) Close() error {
	f.sink.Files[f.name] = f.Bytes()
	return nil
}

// Create implements Sink.
func (m *MemorySink) Create(name string) (io.WriteCloser, error) {
	return &memoryFile{name: name, sink: m}, nil
}

// Pages implements Sink.
func (m *MemorySink) Pages(string) pvrz.PageWriter {
	return m.PageFiles
}

// Target is where an output filter writes to.
type Target struct {
	// Name is the base file name, without extension.
	Name     string
	Sink     Sink
	Encoding Encoding
	Logger   *log.Logger
}

func (t *Target) logger() *log.Logger {
	if t.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return t.Logger
}

func writeFile(sink Sink, name string, b []byte) (err error) {
	w, err := sink.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = w.Write(b)
	return err
}

// write encodes s and stores it as name plus the format extension. Nothing
// is created if encoding fails.
func (t *Target) write(ctx context.Context, name string, s *frame.Set) error {
	if t.Sink == nil {
		return fmt.Errorf("%w: no output sink", ErrConfig)
	}

	if t.Encoding.Optimize > frame.OptimizeNone {
		n := len(s.Frames)
		s = frame.Optimize(s, t.Encoding.Optimize)
		t.logger().Printf("Optimized %s from %d to %d frames\n", name, n, len(s.Frames))
	}

	b := new(bytes.Buffer)
	if err := t.Encoding.encode(ctx, b, s, t.Sink.Pages(t.Encoding.pagePrefix()), t.logger()); err != nil {
		return err
	}

	file := name + t.Encoding.Format.Extension()
	if err := writeFile(t.Sink, file, b.Bytes()); err != nil {
		return err
	}

	t.logger().Printf("Wrote %s, %d bytes\n", file, b.Len())

	return nil
}

type outputKind struct{}

func (outputKind) Kind() Kind { return KindOutput }

// Default writes the frames with the target encoding.
type Default struct {
	outputKind
}

// Name implements Filter.
func (Default) Name() string { return "Default" }

// Config implements Filter.
func (f *Default) Config() string { return Format(f.Name()) }

// Output implements OutputFilter.
func (f *Default) Output(ctx context.Context, s *frame.Set, t *Target) error {
	return t.write(ctx, t.Name, s)
}

// Source is an animation drawn over the frames by Overlay.
type Source struct {
	URI  string
	Mode overlay.Mode
	Set  *frame.Set
}

// Overlay composites further animations over the frames before writing
// them.
type Overlay struct {
	outputKind
	Sources []Source
	Force   bool
}

// Name implements Filter.
func (Overlay) Name() string { return "Overlay" }

// Config implements Filter.
func (f *Overlay) Config() string {
	v := []string{strconv.FormatBool(f.Force)}
	for _, src := range f.Sources {
		v = append(v, src.URI, src.Mode.String())
	}
	return Format(f.Name(), v...)
}

// Validate checks there is something to draw.
func (f *Overlay) Validate() error {
	if len(f.Sources) == 0 {
		return fmt.Errorf("%w: no overlay sources", ErrConfig)
	}
	return nil
}

// Ready checks every source was loaded and, unless Force is set, fits the
// cycles it will be drawn over.
func (f *Overlay) Ready(cycles []frame.Cycle) error {
	if err := f.Validate(); err != nil {
		return err
	}
	for _, src := range f.Sources {
		if src.Set == nil {
			return fmt.Errorf("%w: overlay source %q isn't loaded", ErrConfig, src.URI)
		}
	}
	err := overlay.Check(&frame.Set{Cycles: cycles}, f.layers())
	if err != nil && (!f.Force || !errors.Is(err, overlay.ErrIncompatible)) {
		return err
	}
	return nil
}

func (f *Overlay) layers() []overlay.Layer {
	layers := make([]overlay.Layer, len(f.Sources))
	for i, src := range f.Sources {
		layers[i] = overlay.Layer{Set: src.Set, Mode: src.Mode}
	}
	return layers
}

// Output implements OutputFilter.
func (f *Overlay) Output(ctx context.Context, s *frame.Set, t *Target) error {
	if err := f.Ready(s.Cycles); err != nil {
		return err
	}
	out, err := overlay.Compose(s, f.layers(), overlay.Options{Force: f.Force, Logger: t.logger()})
	if err != nil {
		return err
	}
	if err := frame.Cancelled(ctx); err != nil {
		return err
	}
	return t.write(ctx, t.Name, out)
}

// Split cuts every frame into a grid and writes one animation per grid
// cell, named after the target with a _NN suffix in row-major order.
type Split struct {
	outputKind
	Columns, Rows int
}

// Name implements Filter.
func (Split) Name() string { return "Split" }

// Config implements Filter.
func (f *Split) Config() string {
	return Format(f.Name(), strconv.Itoa(f.Columns), strconv.Itoa(f.Rows))
}

// Validate checks the grid size.
func (f *Split) Validate() error {
	if f.Columns < 1 || f.Rows < 1 || f.Columns*f.Rows > 100 {
		return fmt.Errorf("%w: split %dx%d", ErrConfig, f.Columns, f.Rows)
	}
	return nil
}

// crop copies r, relative to the top-left corner of m.
func crop(m image.Image, r image.Rectangle) image.Image {
	if pm, ok := m.(*image.Paletted); ok {
		return frame.CloneImage(pm.SubImage(r.Add(pm.Rect.Min)))
	}
	return frame.CloneImage(frame.AsNRGBA(m).SubImage(r))
}

// piece returns cell (col, row) of f, the center moving with the cell.
func (f *Split) piece(fr frame.Frame, col, row int) frame.Frame {
	w, h := fr.Width(), fr.Height()
	r := image.Rect(col*w/f.Columns, row*h/f.Rows, (col+1)*w/f.Columns, (row+1)*h/f.Rows)
	out := fr.WithImage(frame.Empty())
	if !r.Empty() {
		out.Image = crop(fr.Image, r)
	}
	out.Center = fr.Center.Sub(r.Min)
	return out
}

// Output implements OutputFilter.
func (f *Split) Output(ctx context.Context, s *frame.Set, t *Target) error {
	if err := f.Validate(); err != nil {
		return err
	}
	n := 0
	for row := 0; row < f.Rows; row++ {
		for col := 0; col < f.Columns; col++ {
			if err := frame.Cancelled(ctx); err != nil {
				return err
			}
			part := &frame.Set{
				Frames: make([]frame.Frame, len(s.Frames)),
				Cycles: make([]frame.Cycle, len(s.Cycles)),
			}
			for i, fr := range s.Frames {
				part.Frames[i] = f.piece(fr, col, row)
			}
			for i, c := range s.Cycles {
				part.Cycles[i] = c.Clone()
			}
			if err := t.write(ctx, fmt.Sprintf("%s_%02d", t.Name, n), part); err != nil {
				return err
			}
			n++
		}
	}
	return nil
}

// Images writes every frame as a separate image file.
type Images struct {
	outputKind
	// Type is "png" or "bmp".
	Type string
}

// Name implements Filter.
func (Images) Name() string { return "Images" }

// Config implements Filter.
func (f *Images) Config() string { return Format(f.Name(), f.Type) }

// Validate checks the image type.
func (f *Images) Validate() error {
	switch f.Type {
	case "png", "bmp":
		return nil
	}
	return fmt.Errorf("%w: image type %q", ErrConfig, f.Type)
}

// Output implements OutputFilter.
func (f *Images) Output(ctx context.Context, s *frame.Set, t *Target) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if t.Sink == nil {
		return fmt.Errorf("%w: no output sink", ErrConfig)
	}
	for i, fr := range s.Frames {
		if err := frame.Cancelled(ctx); err != nil {
			return err
		}
		b := new(bytes.Buffer)
		var err error
		switch f.Type {
		case "bmp":
			err = bmp.Encode(b, fr.Image)
		default:
			err = png.Encode(b, fr.Image)
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := writeFile(t.Sink, fmt.Sprintf("%s_%05d.%s", t.Name, i, f.Type), b.Bytes()); err != nil {
			return err
		}
	}
	t.logger().Printf("Wrote %d %s images\n", len(s.Frames), f.Type)
	return nil
}

// FileResolver loads overlay sources from BAM files. "res:/NAME.BAM" is
// looked up in Override and "file:path" relative to Base.
type FileResolver struct {
	Base     string
	Override string
}

func (r FileResolver) path(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "res:/"):
		return filepath.Join(r.Override, filepath.Base(strings.TrimPrefix(uri, "res:/"))), nil
	case strings.HasPrefix(uri, "file:"):
		p := filepath.FromSlash(strings.TrimPrefix(uri, "file:"))
		if filepath.IsAbs(p) {
			return p, nil
		}
		return filepath.Join(r.Base, p), nil
	}
	return "", fmt.Errorf("%w: unsupported uri %q", ErrConfig, uri)
}

// Resolve implements Resolver.
func (r FileResolver) Resolve(uri string) (*frame.Set, error) {
	p, err := r.path(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := bam.Decode(f, pvrz.Dir{Path: filepath.Dir(p), Prefix: "MOS"})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	return b.Set, nil
}

func init() {
	register("Default", func([]string, Resolver) (Filter, error) {
		return &Default{}, nil
	})
	register("Overlay", func(v []string, r Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Overlay{Force: fs.flag(false)}
		for {
			uri, ok := fs.next()
			if !ok {
				break
			}
			mode, err := overlay.ParseMode(fs.text(overlay.Normal.String()))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConfig, err)
			}
			src := Source{URI: uri, Mode: mode}
			if r != nil {
				if src.Set, err = r.Resolve(uri); err != nil {
					return nil, err
				}
			}
			f.Sources = append(f.Sources, src)
		}
		return validated(f, fs.err)
	})
	register("Split", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Split{Columns: fs.integer(2), Rows: fs.integer(1)}
		return validated(f, fs.err)
	})
	register("Images", func(v []string, _ Resolver) (Filter, error) {
		fs := fields{v: v}
		f := &Images{Type: fs.text("png")}
		return validated(f, fs.err)
	})
}
