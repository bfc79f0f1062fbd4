package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/session"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/engine"
)

func rootArg(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("usage: codesearch %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return c.Args().First(), nil
}

func searchOptions(c *cli.Context) engine.Options {
	return engine.Options{
		CaseSensitive:   c.Bool("case-sensitive"),
		ExtensionFilter: c.StringSlice("ext"),
		FolderFilter:    c.String("folder"),
		PathFilter:      c.String("path"),
	}
}

func indexCommand(c *cli.Context) error {
	root, err := rootArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	var opts []engine.Option
	if !c.Bool("quiet") {
		last := time.Time{}
		opts = append(opts, engine.WithProgress(func(done, total int) {
			if done == total || time.Since(last) > 200*time.Millisecond {
				last = time.Now()
				fmt.Fprintf(os.Stderr, "\rindexing %d/%d", done, total)
			}
		}))
	}
	h, err := engine.OpenRoot(c.Context, root, cfg, opts...)
	if !c.Bool("quiet") {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}
	defer h.Close()

	report := h.LastBuild()
	fmt.Fprintf(c.App.Writer, "%s: %s\n", h.Root(), report)
	for _, failure := range report.Failed {
		fmt.Fprintf(c.App.ErrWriter, "  %v\n", failure)
	}
	if h.Recovered() {
		fmt.Fprintln(c.App.ErrWriter, "the previous index was corrupt and has been rebuilt")
	}
	return nil
}

// openForSearch opens the persisted index, building it only if it is empty
// or a refresh was requested.
func openForSearch(c *cli.Context, root string) (*engine.IndexHandle, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	h, err := engine.OpenRoot(c.Context, root, cfg, engine.WithoutBuild())
	if err != nil {
		return nil, err
	}
	if c.Bool("refresh") || len(h.Documents()) == 0 {
		if _, err := h.Refresh(c.Context); err != nil {
			h.Close()
			return nil, err
		}
	}
	return h, nil
}

func runSearch(c *cli.Context) (*engine.IndexHandle, *session.Session, error) {
	if c.NArg() < 2 {
		return nil, nil, fmt.Errorf("usage: codesearch %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	h, err := openForSearch(c, c.Args().Get(0))
	if err != nil {
		return nil, nil, err
	}
	s, err := h.Search(c.Context, c.Args().Get(1), searchOptions(c))
	if err != nil {
		h.Close()
		return nil, nil, err
	}
	return h, s, nil
}

func searchCommand(c *cli.Context) error {
	h, s, err := runSearch(c)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := s.Export(c.App.Writer, session.FormatText); err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "%d matches in %d documents (%s)\n",
		s.MatchCount(), len(s.Matches()), s.Elapsed().Round(time.Microsecond))
	if c.Bool("report") {
		fmt.Fprintf(c.App.ErrWriter, "\n%s\n", s.Report())
	}
	return nil
}

func filesCommand(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: codesearch %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	h, err := openForSearch(c, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer h.Close()

	res, err := h.SearchFiles(c.Context, c.Args().Get(1), searchOptions(c))
	if err != nil {
		return err
	}
	for _, doc := range res.Documents {
		fmt.Fprintln(c.App.Writer, doc.Path)
	}
	fmt.Fprintf(c.App.ErrWriter, "%d files (%s)\n", len(res.Documents), res.Elapsed.Round(time.Microsecond))
	return nil
}

func exportCommand(c *cli.Context) error {
	format, err := session.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	h, s, err := runSearch(c)
	if err != nil {
		return err
	}
	defer h.Close()

	f, err := os.Create(c.String("output"))
	if err != nil {
		return fmt.Errorf("creating %s: %w", c.String("output"), err)
	}
	bw := bufio.NewWriter(f)
	err = s.Export(bw, format)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "%d matches written to %s\n", s.MatchCount(), c.String("output"))
	return nil
}

func watchCommand(c *cli.Context) error {
	root, err := rootArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, err := engine.OpenRoot(c.Context, root, cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Fprintf(c.App.ErrWriter, "%s: %s\nwatching for changes, press Ctrl+C to stop\n", h.Root(), h.LastBuild())
	if err := h.Watch(c.Context); err != nil && c.Context.Err() == nil {
		return err
	}
	return nil
}

func statsCommand(c *cli.Context) error {
	root, err := rootArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, err := engine.OpenRoot(c.Context, root, cfg, engine.WithoutBuild())
	if err != nil {
		return err
	}
	defer h.Close()

	st := h.Stats()
	fmt.Fprintf(c.App.Writer, "root:      %s\n", h.Root())
	fmt.Fprintf(c.App.Writer, "documents: %d\n", st.Documents)
	fmt.Fprintf(c.App.Writer, "terms:     %d\n", st.Terms)
	fmt.Fprintf(c.App.Writer, "postings:  %d\n", st.Postings)
	fmt.Fprintf(c.App.Writer, "bytes:     %d\n", st.Bytes)
	if h.Recovered() {
		fmt.Fprintln(c.App.Writer, "recovered: the previous index was corrupt and has been rebuilt")
	}
	return nil
}
