package pvrz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/bodgit/bamconv/frame"
)

// PageWriter stores compressed page n.
type PageWriter interface {
	WritePage(n int, b []byte) error
}

// PageLoader returns page n.
type PageLoader interface {
	LoadPage(n int) (*Page, error)
}

// Dir stores page n as the file Filename(Prefix, n) in Path.
type Dir struct {
	Path   string
	Prefix string
}

// WritePage implements PageWriter.
func (d Dir) WritePage(n int, b []byte) error {
	return os.WriteFile(filepath.Join(d.Path, Filename(d.Prefix, n)), b, 0o644)
}

// LoadPage implements PageLoader.
func (d Dir) LoadPage(n int) (*Page, error) {
	b, err := os.ReadFile(filepath.Join(d.Path, Filename(d.Prefix, n)))
	if err != nil {
		return nil, err
	}
	p := new(Page)
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("page %d: %w", n, err)
	}
	return p, nil
}

// Memory keeps compressed pages in memory, keyed by page number.
type Memory map[int][]byte

// WritePage implements PageWriter.
func (m Memory) WritePage(n int, b []byte) error {
	m[n] = append([]byte(nil), b...)
	return nil
}

// LoadPage implements PageLoader.
func (m Memory) LoadPage(n int) (*Page, error) {
	b, ok := m[n]
	if !ok {
		return nil, fmt.Errorf("pvrz: page %d: %w", n, os.ErrNotExist)
	}
	p := new(Page)
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("page %d: %w", n, err)
	}
	return p, nil
}

type job struct {
	n    int
	page *Page
}

type result struct {
	n int
	b []byte
}

func findPages(ctx context.Context, pages []*Page) (<-chan job, <-chan error) {
	out := make(chan job)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for n, p := range pages {
			select {
			case out <- job{n, p}:
			case <-ctx.Done():
				errc <- frame.Cancelled(ctx)
				return
			}
		}
	}()
	return out, errc
}

func pageWorker(ctx context.Context, in <-chan job, out chan<- result, wg *sync.WaitGroup) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer wg.Done()
		defer close(errc)
		for j := range in {
			if err := frame.Cancelled(ctx); err != nil {
				errc <- err
				return
			}
			b, err := j.page.MarshalBinary()
			if err != nil {
				errc <- fmt.Errorf("page %d: %w", j.n, err)
				return
			}
			select {
			case out <- result{j.n, b}:
			case <-ctx.Done():
				errc <- frame.Cancelled(ctx)
				return
			}
		}
	}()
	return errc
}

// orderedWriter hands results to w in page order, holding back pages that
// finish early.
func orderedWriter(ctx context.Context, in <-chan result, first int, w PageWriter) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		pending := make(map[int][]byte)
		next := 0
		for r := range in {
			pending[r.n] = r.b
			for {
				b, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := frame.Cancelled(ctx); err != nil {
					errc <- err
					return
				}
				if err := w.WritePage(first+next, b); err != nil {
					errc <- fmt.Errorf("page %d: %w", first+next, err)
					return
				}
				next++
			}
		}
	}()
	return errc
}

// WriteAll compresses pages on up to workers goroutines and writes them to
// w in order, numbered from first. Zero workers means one per CPU. On the
// first error or cancellation everything stops; pages already written stay
// written.
func WriteAll(ctx context.Context, pages []*Page, first int, w PageWriter, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	var errcList []<-chan error

	jobs, errc := findPages(ctx, pages)
	errcList = append(errcList, errc)

	results := make(chan result)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		errcList = append(errcList, pageWorker(ctx, jobs, results, &wg))
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	errcList = append(errcList, orderedWriter(ctx, results, first, w))

	return waitForPipeline(cancelFunc, errcList...)
}

// waitForPipeline returns the first error from any stage. The remaining
// stages are cancelled and drained before it returns.
func waitForPipeline(cancel context.CancelFunc, errs ...<-chan error) error {
	var first error
	for err := range mergeErrors(errs...) {
		if err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
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
