package bamconv

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bodgit/bamconv/bam"
	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/pvrz"
	"github.com/maruel/natural"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var extensions = map[string]bool{
	".bam":  true,
	".bmp":  true,
	".gif":  true,
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".webp": true,
}

// Files returns the image and BAM files below dir in natural order, so
// "frame2.png" sorts before "frame10.png".
func Files(dir string) ([]string, error) {
	var files []string
	if err := filepath.Walk(dir, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Ignore any hidden files or directories
		if file != dir && info.Name()[0] == '.' {
			if info.Mode().IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode().IsRegular() && extensions[strings.ToLower(filepath.Ext(file))] {
			files = append(files, file)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return natural.Less(files[i], files[j]) })

	return files, nil
}

// LoadFile decodes file. A BAM file yields all of its frames and cycles,
// any other image a single frame centered at the origin and no cycles.
func LoadFile(file string) (*frame.Set, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s *frame.Set
	isBAM := strings.EqualFold(filepath.Ext(file), ".bam")
	if isBAM {
		b, err := bam.Decode(f, pvrz.Dir{Path: filepath.Dir(file), Prefix: "MOS"})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		s = b.Set
	} else {
		m, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		if _, ok := m.(*image.Paletted); !ok {
			m = frame.ToNRGBA(m)
		}
		s = &frame.Set{Frames: []frame.Frame{frame.New(m, 0, 0)}}
	}

	for i := range s.Frames {
		if s.Frames[i].Options == nil {
			s.Frames[i].Options = make(map[string]string)
		}
		s.Frames[i].Options[frame.OptionSourcePath] = file
		if isBAM {
			s.Frames[i].Options[frame.OptionSourceIndex] = strconv.Itoa(i)
		}
	}

	return s, nil
}

type job struct {
	index int
	file  string
}

type loaded struct {
	index int
	set   *frame.Set
}

func findFiles(ctx context.Context, files []string) (<-chan job, <-chan error) {
	out := make(chan job)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for i, f := range files {
			select {
			case out <- job{i, f}:
			case <-ctx.Done():
				errc <- frame.Cancelled(ctx)
				return
			}
		}
	}()
	return out, errc
}

func decodeWorker(ctx context.Context, in <-chan job, out chan<- loaded, wg *sync.WaitGroup) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer wg.Done()
		defer close(errc)
		for j := range in {
			s, err := LoadFile(j.file)
			if err != nil {
				errc <- err
				return
			}
			select {
			case out <- loaded{j.index, s}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return errc
}

func waitForPipeline(cancel context.CancelFunc, errs ...<-chan error) error {
	errc := mergeErrors(errs...)
	for err := range errc {
		if err != nil {
			cancel()
			for range errc {
			}
			return err
		}
	}
	return nil
}

func mergeErrors(cs ...<-chan error) <-chan error {
	var wg sync.WaitGroup
	out := make(chan error, len(cs))
	wg.Add(len(cs))
	for _, c := range cs {
		go func(c <-chan error) {
			for n := range c {
				out <- n
			}
			wg.Done()
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// decodeAll decodes files using one worker per CPU and returns the sets in
// file order.
func decodeAll(ctx context.Context, files []string) ([]*frame.Set, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs, errc := findFiles(ctx, files)
	errcList := []<-chan error{errc}

	results := make(chan loaded)
	var wg sync.WaitGroup
	workers := min(runtime.NumCPU(), max(len(files), 1))
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		errcList = append(errcList, decodeWorker(ctx, jobs, results, &wg))
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	sets := make([]*frame.Set, len(files))
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for r := range results {
			sets[r.index] = r.set
		}
	}()

	err := waitForPipeline(cancel, errcList...)
	<-collected
	if err != nil {
		return nil, err
	}
	if err := frame.Cancelled(ctx); err != nil {
		return nil, err
	}
	return sets, nil
}

// AddFiles decodes files and appends their frames to the store in file
// order. Cycles of BAM files are appended too, pointing at the new frames.
// The store is left alone if any file fails to decode.
func (c *Converter) AddFiles(ctx context.Context, files []string) error {
	sets, err := decodeAll(ctx, files)
	if err != nil {
		return err
	}

	frames, cycles := 0, 0
	err = c.Store.Batch(func() error {
		for _, s := range sets {
			pos, err := c.Store.AddFrames(s.Frames...)
			if err != nil {
				return err
			}
			for _, cy := range s.Cycles {
				shifted := make(frame.Cycle, len(cy))
				for i, v := range cy {
					shifted[i] = v + pos
				}
				if _, err := c.Store.AddCycle(shifted); err != nil {
					return err
				}
			}
			frames += len(s.Frames)
			cycles += len(s.Cycles)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Printf("Added %d frames and %d cycles from %d files\n", frames, cycles, len(files))

	return nil
}
