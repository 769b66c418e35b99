package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bodgit/bamconv"
	"github.com/bodgit/bamconv/filter"
	"github.com/bodgit/bamconv/frame"
	"github.com/bodgit/bamconv/session"
	clog "github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

const defaultDB = "bamconv.db"

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newLogger(c *cli.Context) *log.Logger {
	if !c.Bool("verbose") {
		return log.New(io.Discard, "", 0)
	}
	l := clog.NewWithOptions(os.Stderr, clog.Options{
		ReportTimestamp: true,
		Prefix:          "bamconv",
	})
	return l.StandardLog()
}

func report(r bamconv.Result) error {
	if !r.Success() {
		return cli.Exit(color.RedString("error: %s", r), 1)
	}
	fmt.Println(color.GreenString("%s", r))
	return nil
}

func parseCycle(s string) (frame.Cycle, error) {
	cy := frame.Cycle{}
	if s == "" {
		return cy, nil
	}
	for _, v := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("cycle %q: %w", s, err)
		}
		cy = append(cy, n)
	}
	return cy, nil
}

func output(c *cli.Context) bamconv.Output {
	return bamconv.Output{
		Format:    c.String("format"),
		RLE:       c.String("rle"),
		RLEIndex:  c.Int("rle-index"),
		Metric:    c.String("metric"),
		Quantizer: c.String("quantizer"),
		Codec:     c.String("codec"),
		PageSize:  c.Int("page-size"),
		FirstPage: c.Int("first-page"),
		Workers:   c.Int("workers"),
		Optimize:  c.Int("optimize"),
	}
}

// inputs expands any directories in args and makes every file absolute.
func inputs(args []string) ([]string, error) {
	var files []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if a, err = filepath.Abs(a); err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, a)
			continue
		}
		found, err := bamconv.Files(a)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func defaultName(args []string) string {
	name := filepath.Base(strings.TrimRight(args[0], string(filepath.Separator)))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return strings.ToUpper(name)
}

func convertFlags(cwd string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			EnvVars: []string{"BAMCONV_OUTPUT"},
			Value:   cwd,
			Usage:   "output directory",
		},
		&cli.StringFlag{
			Name:  "format",
			Value: "bam",
			Usage: "output format: bam, bamc, bam-v2, mos, mosc, mos-v2, tis or tis-v2",
		},
		&cli.StringFlag{
			Name:  "rle",
			Value: "auto",
			Usage: "BAM V1 run length encoding: off, on or auto",
		},
		&cli.IntFlag{
			Name:  "rle-index",
			Usage: "palette index compressed by run length encoding",
		},
		&cli.StringFlag{
			Name:    "metric",
			EnvVars: []string{"BAMCONV_METRIC"},
			Value:   "euclid",
			Usage:   "color distance: euclid or cie94",
		},
		&cli.StringFlag{
			Name:  "quantizer",
			Value: "mediancut",
			Usage: "tile palette quantizer: mediancut or fast",
		},
		&cli.StringFlag{
			Name:  "codec",
			Value: "auto",
			Usage: "texture page codec: dxt1, dxt5 or auto",
		},
		&cli.IntFlag{
			Name:  "page-size",
			Usage: "texture page size",
		},
		&cli.IntFlag{
			Name:  "first-page",
			Usage: "number of the first texture page",
		},
		&cli.IntFlag{
			Name:    "workers",
			EnvVars: []string{"BAMCONV_WORKERS"},
			Usage:   "encoder workers, one per CPU when zero",
		},
		&cli.IntFlag{
			Name:  "optimize",
			Usage: "0 keeps every frame, 1 drops unused, 2 merges duplicates, 3 merges similar frames",
		},
	}
}

func main() {
	app := cli.NewApp()

	app.Name = "bamconv"
	app.Usage = "Infinity Engine BAM, MOS and TIS converter"
	app.Version = "1.0.0"

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			EnvVars: []string{"BAMCONV_DB"},
			Value:   filepath.Join(cwd, defaultDB),
			Usage:   "path to session database",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app.Commands = []*cli.Command{
		{
			Name:        "convert",
			Usage:       "Convert images and BAM files",
			Description: "Directories are searched for images, which are added in natural order.",
			ArgsUsage:   "FILE|DIRECTORY...",
			Flags: append(convertFlags(cwd),
				&cli.StringFlag{
					Name:    "name",
					Aliases: []string{"n"},
					Usage:   "output file name without extension",
				},
				&cli.StringSliceFlag{
					Name:    "filter",
					Aliases: []string{"f"},
					Usage:   "filter config line, repeat for each filter",
				},
				&cli.StringSliceFlag{
					Name:  "cycle",
					Usage: "comma separated frame indices, repeat for each cycle",
				},
				&cli.StringFlag{
					Name:    "palette",
					Aliases: []string{"p"},
					Usage:   "external palette file",
				},
				&cli.StringFlag{
					Name:  "save-project",
					Usage: "also write a project file",
				},
				&cli.StringFlag{
					Name:  "save-session",
					Usage: "also save the session under this name",
				},
			),
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				logger := newLogger(c)

				files, err := inputs(c.Args().Slice())
				if err != nil {
					return cli.Exit(err, 1)
				}

				enc, err := output(c).Encoding()
				if err != nil {
					return cli.Exit(err, 1)
				}

				m := bamconv.New(logger)
				defer m.Close()

				if err := m.AddFiles(ctx, files); err != nil {
					return cli.Exit(err, 1)
				}

				cycles := c.StringSlice("cycle")
				if len(cycles) == 0 && len(m.Store.Cycles()) == 0 {
					all := make([]string, m.Store.FrameCount())
					for i := range all {
						all[i] = strconv.Itoa(i)
					}
					cycles = []string{strings.Join(all, ",")}
				}
				for _, s := range cycles {
					cy, err := parseCycle(s)
					if err != nil {
						return cli.Exit(err, 1)
					}
					if _, err := m.Store.AddCycle(cy); err != nil {
						return cli.Exit(err, 1)
					}
				}

				r := filter.FileResolver{Base: cwd, Override: c.String("output")}
				if err := m.Chain.Load(c.StringSlice("filter"), r); err != nil {
					return cli.Exit(err, 1)
				}

				if p := c.String("palette"); p != "" {
					if err := m.LoadPalette(p); err != nil {
						return cli.Exit(err, 1)
					}
				}

				name := c.String("name")
				if name == "" {
					name = defaultName(c.Args().Slice())
				}

				if file := c.String("save-project"); file != "" {
					if err := saveProject(m, name, file, c.String("palette"), output(c)); err != nil {
						return cli.Exit(err, 1)
					}
				}

				if s := c.String("save-session"); s != "" {
					db, err := session.Open(c.String("db"))
					if err != nil {
						return cli.Exit(err, 1)
					}
					defer db.Close()

					if err := db.Save(s, m.Session()); err != nil {
						return cli.Exit(err, 1)
					}
				}

				return report(m.Convert(ctx, &filter.Target{
					Name:     name,
					Sink:     filter.DirSink{Path: c.String("output")},
					Encoding: enc,
					Logger:   logger,
				}))
			},
		},
		{
			Name:        "project",
			Usage:       "Convert using a project file",
			Description: "File names in the project are relative to the project file.",
			ArgsUsage:   "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					EnvVars: []string{"BAMCONV_OUTPUT"},
					Usage:   "output directory, the project directory when empty",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}

				logger := newLogger(c)

				file := c.Args().First()
				f, err := os.Open(file)
				if err != nil {
					return cli.Exit(err, 1)
				}
				p, err := bamconv.ReadProject(f)
				f.Close()
				if err != nil {
					return cli.Exit(fmt.Errorf("%s: %w", file, err), 1)
				}

				base := filepath.Dir(file)
				out := c.String("output")
				if out == "" {
					out = base
				}

				enc, err := p.Output.Encoding()
				if err != nil {
					return cli.Exit(err, 1)
				}

				m := bamconv.New(logger)
				defer m.Close()

				if err := m.Open(ctx, p, base, filter.FileResolver{Base: base, Override: out}); err != nil {
					return cli.Exit(err, 1)
				}

				return report(m.Convert(ctx, &filter.Target{
					Name:     p.Name,
					Sink:     filter.DirSink{Path: out},
					Encoding: enc,
					Logger:   logger,
				}))
			},
		},
		{
			Name:  "session",
			Usage: "Manage saved sessions",
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "List saved sessions",
					Action: func(c *cli.Context) error {
						db, err := session.Open(c.String("db"))
						if err != nil {
							return cli.Exit(err, 1)
						}
						defer db.Close()

						names, err := db.Names()
						if err != nil {
							return cli.Exit(err, 1)
						}
						for _, n := range names {
							fmt.Println(n)
						}
						return nil
					},
				},
				{
					Name:      "delete",
					Usage:     "Delete a saved session",
					ArgsUsage: "NAME",
					Action: func(c *cli.Context) error {
						if c.NArg() < 1 {
							cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
						}

						db, err := session.Open(c.String("db"))
						if err != nil {
							return cli.Exit(err, 1)
						}
						defer db.Close()

						if err := db.Delete(c.Args().First()); err != nil {
							return cli.Exit(err, 1)
						}
						return nil
					},
				},
				{
					Name:      "convert",
					Usage:     "Convert a saved session",
					ArgsUsage: "NAME",
					Flags:     convertFlags(cwd),
					Action: func(c *cli.Context) error {
						if c.NArg() < 1 {
							cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
						}

						logger := newLogger(c)
						name := c.Args().First()

						enc, err := output(c).Encoding()
						if err != nil {
							return cli.Exit(err, 1)
						}

						db, err := session.Open(c.String("db"))
						if err != nil {
							return cli.Exit(err, 1)
						}
						defer db.Close()

						s, err := db.Load(name)
						if err != nil {
							if errors.Is(err, session.ErrNotFound) {
								return cli.Exit(color.YellowString("no session called %q", name), 1)
							}
							return cli.Exit(err, 1)
						}

						m := bamconv.New(logger)
						defer m.Close()

						if err := m.Restore(s, filter.FileResolver{Base: cwd, Override: c.String("output")}); err != nil {
							return cli.Exit(err, 1)
						}

						return report(m.Convert(ctx, &filter.Target{
							Name:     strings.ToUpper(name),
							Sink:     filter.DirSink{Path: c.String("output")},
							Encoding: enc,
							Logger:   logger,
						}))
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func saveProject(m *bamconv.Converter, name, file, pal string, out bamconv.Output) error {
	base, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return err
	}

	p, err := m.Project(name, base, out)
	if err != nil {
		return err
	}
	if pal != "" {
		if pal, err = filepath.Abs(pal); err != nil {
			return err
		}
		if rel, err := filepath.Rel(base, pal); err == nil {
			pal = filepath.ToSlash(rel)
		}
		p.Palette = pal
	}

	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := p.Write(f); err != nil {
		return err
	}
	return f.Close()
}
