/*
Package filter implements the conversion filter chain.

Every filter is one of three kinds. A color filter maps the pixels of a frame
to new pixels of the same size, a transform filter maps a whole frame and may
change its size and center, and an output filter consumes the final set of
frames and cycles and writes files. A chain runs all color filters, then all
transform filters, then the single active output filter.

Each filter has a one line text form used by project files:

	Name;field;field;...

A ';' or '%' inside a field is written as %3B or %25.
*/
package filter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"

	"github.com/bodgit/bamconv/frame"
)

// Kind identifies what a filter operates on.
type Kind int

const (
	// KindColor filters map pixels to pixels.
	KindColor Kind = iota
	// KindTransform filters map frames to frames.
	KindTransform
	// KindOutput filters consume the final frames.
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindColor:
		return "color"
	case KindTransform:
		return "transform"
	case KindOutput:
		return "output"
	}
	return "unknown"
}

// Filter is implemented by every filter. Depending on Kind it also
// implements ColorFilter, TransformFilter or OutputFilter.
type Filter interface {
	Name() string
	Kind() Kind
	// Config returns the filter as a single text line.
	Config() string
}

// ColorFilter changes pixels without changing the size of an image.
type ColorFilter interface {
	Filter
	ApplyColor(img image.Image) (image.Image, error)
}

// TransformFilter changes a whole frame.
type TransformFilter interface {
	Filter
	ApplyTransform(f frame.Frame) (frame.Frame, error)
}

// OutputFilter writes the final frames somewhere.
type OutputFilter interface {
	Filter
	Output(ctx context.Context, s *frame.Set, t *Target) error
}

var (
	// ErrUnknown is returned when parsing a filter that doesn't exist.
	ErrUnknown = errors.New("filter: unknown filter")
	// ErrConfig is returned for invalid filter fields.
	ErrConfig = errors.New("filter: invalid configuration")
)

// Resolver loads the animations referenced by a filter.
type Resolver interface {
	Resolve(uri string) (*frame.Set, error)
}

type parseFunc func(fields []string, r Resolver) (Filter, error)

var parsers = map[string]parseFunc{}

func register(name string, fn parseFunc) {
	parsers[name] = fn
}

// Names returns the names of all known filters.
func Names() []string {
	names := make([]string, 0, len(parsers))
	for n := range parsers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	escaper   = strings.NewReplacer("%", "%25", ";", "%3B")
	unescaper = strings.NewReplacer("%3B", ";", "%3b", ";", "%25", "%")
)

// Format joins a filter name and its fields into a config line.
func Format(name string, fields ...string) string {
	var sb strings.Builder
	sb.WriteString(escaper.Replace(name))
	for _, f := range fields {
		sb.WriteByte(';')
		sb.WriteString(escaper.Replace(f))
	}
	return sb.String()
}

// Fields is the inverse of Format.
func Fields(line string) (string, []string) {
	parts := strings.Split(line, ";")
	for i, p := range parts {
		parts[i] = unescaper.Replace(p)
	}
	return parts[0], parts[1:]
}

// Parse returns the filter described by a config line. The resolver is only
// needed by filters that reference other animations and may be nil
// otherwise.
func Parse(line string, r Resolver) (Filter, error) {
	name, fields := Fields(strings.TrimSpace(line))
	fn, ok := parsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	f, err := fn(fields, r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// fields reads config fields, remembering the first error.
type fields struct {
	v   []string
	i   int
	err error
}

func (f *fields) next() (string, bool) {
	if f.i >= len(f.v) {
		return "", false
	}
	f.i++
	return f.v[f.i-1], true
}

func (f *fields) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *fields) number(def float64) float64 {
	s, ok := f.next()
	if !ok || s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.fail(fmt.Errorf("%w: field %d: %w", ErrConfig, f.i, err))
	}
	return v
}

func (f *fields) integer(def int) int {
	s, ok := f.next()
	if !ok || s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f.fail(fmt.Errorf("%w: field %d: %w", ErrConfig, f.i, err))
	}
	return v
}

func (f *fields) flag(def bool) bool {
	s, ok := f.next()
	if !ok || s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		f.fail(fmt.Errorf("%w: field %d: %w", ErrConfig, f.i, err))
	}
	return v
}

func (f *fields) text(def string) string {
	s, ok := f.next()
	if !ok || s == "" {
		return def
	}
	return s
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
