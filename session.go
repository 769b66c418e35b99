package bamconv

import (
	"image/color"

	"github.com/bodgit/bamconv/filter"
	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/session"
)

// Session returns a copy of the frames, cycles and filters of c.
func (c *Converter) Session() *session.Session {
	return &session.Session{
		Set:     c.Store.Snapshot(),
		Filters: c.Chain.Configs(),
		Active:  c.Chain.ActiveIndex(),
	}
}

// Restore replaces the frames, cycles and filters of c with the ones in s.
func (c *Converter) Restore(s *session.Session, r filter.Resolver) error {
	if err := s.Set.Validate(); err != nil {
		return err
	}
	return c.replace(s.Set.Clone(), s.Filters, s.Active, nil, r)
}

// replace swaps in s and the chain described by filters. Nothing changes
// unless every filter parses and active is an output filter or -1.
func (c *Converter) replace(s *frame.Set, filters []string, active int, pal color.Palette, r filter.Resolver) error {
	chain := filter.NewChain(frame.NewStore(), nil)
	defer chain.Close()
	if err := chain.Load(filters, nil); err != nil {
		return err
	}
	if active >= 0 {
		if err := chain.SetActive(active); err != nil {
			return err
		}
	}

	if err := c.Chain.Load(filters, r); err != nil {
		return err
	}
	if active >= 0 {
		if err := c.Chain.SetActive(active); err != nil {
			return err
		}
	}

	if pal != nil {
		c.Palette.SetExternal(pal)
		c.Palette.Lock()
	}

	err := c.Store.Batch(func() error {
		c.Store.Clear()
		if _, err := c.Store.AddFrames(s.Frames...); err != nil {
			return err
		}
		for _, cy := range s.Cycles {
			if _, err := c.Store.AddCycle(cy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Printf("Loaded %d frames, %d cycles and %d filters\n", len(s.Frames), len(s.Cycles), len(filters))

	return nil
}
