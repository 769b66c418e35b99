package bamconv

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strconv"

	"github.com/bodgit/bamconv/bam"
	"github.com/bodgit/bamconv/filter"
	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/palette"
	"github.com/bodgit/bamconv/pvrz"
	"gopkg.in/yaml.v3"
)

var errNoSource = errors.New("bamconv: frame wasn't loaded from a file")

// Output is the YAML form of filter.Encoding.
type Output struct {
	Format    string `yaml:"format"`
	RLE       string `yaml:"rle,omitempty"`
	RLEIndex  int    `yaml:"rle-index,omitempty"`
	Metric    string `yaml:"metric,omitempty"`
	Quantizer string `yaml:"quantizer,omitempty"`
	Codec     string `yaml:"codec,omitempty"`
	PageSize  int    `yaml:"page-size,omitempty"`
	FirstPage int    `yaml:"first-page,omitempty"`
	Workers   int    `yaml:"workers,omitempty"`
	Optimize  int    `yaml:"optimize,omitempty"`
}

// Encoding converts o, empty fields taking their defaults.
func (o Output) Encoding() (filter.Encoding, error) {
	var e filter.Encoding
	var err error

	if o.Format != "" {
		if e.Format, err = filter.ParseFileFormat(o.Format); err != nil {
			return e, err
		}
	}
	if o.RLE != "" {
		if e.RLE, err = bam.ParseRLE(o.RLE); err != nil {
			return e, err
		}
	}
	if o.RLEIndex < 0 || o.RLEIndex > 255 {
		return e, fmt.Errorf("%w: rle index %d", filter.ErrConfig, o.RLEIndex)
	}
	e.RLEIndex = uint8(o.RLEIndex)
	if o.Metric != "" {
		m, ok := palette.ParseMetric(o.Metric)
		if !ok {
			return e, fmt.Errorf("%w: unknown metric %q", filter.ErrConfig, o.Metric)
		}
		e.Metric = m
	}
	if o.Quantizer != "" {
		if e.Quantizer, err = palette.ParseQuantizer(o.Quantizer); err != nil {
			return e, err
		}
	}
	if o.Codec != "" {
		if e.Atlas.Codec, err = pvrz.ParseCodec(o.Codec); err != nil {
			return e, err
		}
	}
	if o.PageSize < 0 || o.PageSize > pvrz.MaxSize {
		return e, fmt.Errorf("%w: page size %d", filter.ErrConfig, o.PageSize)
	}
	e.Atlas.PageSize = o.PageSize
	e.Atlas.FirstPage = o.FirstPage
	e.Workers = o.Workers
	if o.Optimize < frame.OptimizeNone || o.Optimize > frame.OptimizeSimilar {
		return e, fmt.Errorf("%w: optimize level %d", filter.ErrConfig, o.Optimize)
	}
	e.Optimize = o.Optimize

	return e, nil
}

// ProjectFrame is a frame of a Project.
type ProjectFrame struct {
	File string `yaml:"file"`
	// Index selects a frame of a BAM file.
	Index   int               `yaml:"index,omitempty"`
	X       int               `yaml:"x"`
	Y       int               `yaml:"y"`
	Options map[string]string `yaml:"options,omitempty"`
}

// Project is everything needed to repeat a conversion. Relative file
// names are relative to the directory of the project file.
type Project struct {
	Name    string         `yaml:"name"`
	Frames  []ProjectFrame `yaml:"frames"`
	Cycles  [][]int        `yaml:"cycles"`
	Filters []string       `yaml:"filters,omitempty"`
	// Active is the index of the active output filter.
	Active  *int   `yaml:"active,omitempty"`
	Palette string `yaml:"palette,omitempty"`
	Output  Output `yaml:"output"`
}

// ReadProject decodes a YAML project.
func ReadProject(r io.Reader) (*Project, error) {
	p := new(Project)
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Write encodes p as YAML.
func (p *Project) Write(w io.Writer) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(p); err != nil {
		return err
	}
	return e.Close()
}

func resolve(base, file string) string {
	if filepath.IsAbs(file) || base == "" {
		return file
	}
	return filepath.Join(base, file)
}

// Open replaces the frames, cycles, filters and palette of c with the
// ones described by p. Nothing is changed unless every file loads and
// every filter parses.
func (c *Converter) Open(ctx context.Context, p *Project, base string, r filter.Resolver) error {
	var files []string
	index := make(map[string]int)
	for _, pf := range p.Frames {
		f := resolve(base, pf.File)
		if _, ok := index[f]; !ok {
			index[f] = len(files)
			files = append(files, f)
		}
	}

	sets, err := decodeAll(ctx, files)
	if err != nil {
		return err
	}

	s := &frame.Set{}
	for i, pf := range p.Frames {
		src := sets[index[resolve(base, pf.File)]]
		if pf.Index < 0 || pf.Index >= len(src.Frames) {
			return fmt.Errorf("frame %d: %w: %s has %d frames", i, frame.ErrIndexOutOfRange, pf.File, len(src.Frames))
		}
		f := src.Frames[pf.Index].Clone()
		f.Center.X, f.Center.Y = pf.X, pf.Y
		for k, v := range pf.Options {
			f.Options[k] = v
		}
		s.Frames = append(s.Frames, f)
	}
	for _, cy := range p.Cycles {
		s.Cycles = append(s.Cycles, append(frame.Cycle(nil), cy...))
	}
	if err := s.Validate(); err != nil {
		return err
	}

	var pal color.Palette
	if p.Palette != "" {
		if pal, err = readPalette(resolve(base, p.Palette)); err != nil {
			return err
		}
	}

	active := -1
	if p.Active != nil {
		active = *p.Active
	}

	return c.replace(s, p.Filters, active, pal, r)
}

func relative(base, file string) string {
	if base == "" {
		return filepath.ToSlash(file)
	}
	if rel, err := filepath.Rel(base, file); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(file)
}

// Project describes the current state of c. Every frame must have been
// loaded from a file.
func (c *Converter) Project(name, base string, out Output) (*Project, error) {
	p := &Project{
		Name:    name,
		Cycles:  [][]int{},
		Filters: c.Chain.Configs(),
		Output:  out,
	}
	if a := c.Chain.ActiveIndex(); a >= 0 {
		p.Active = &a
	}

	for i, f := range c.Store.Frames() {
		src, ok := f.Options[frame.OptionSourcePath]
		if !ok {
			return nil, fmt.Errorf("frame %d: %w", i, errNoSource)
		}
		pf := ProjectFrame{
			File: relative(base, src),
			X:    f.Center.X,
			Y:    f.Center.Y,
		}
		if v, ok := f.Options[frame.OptionSourceIndex]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
			pf.Index = n
		}
		for k, v := range f.Options {
			if k == frame.OptionSourcePath || k == frame.OptionSourceIndex {
				continue
			}
			if pf.Options == nil {
				pf.Options = make(map[string]string)
			}
			pf.Options[k] = v
		}
		p.Frames = append(p.Frames, pf)
	}

	for _, cy := range c.Store.Cycles() {
		p.Cycles = append(p.Cycles, []int(cy))
	}

	return p, nil
}
