package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/codesearch/pkg/logger"
)

var logCloser io.Closer

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.Index.DataDir = dir
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if exts := c.StringSlice("index-ext"); len(exts) > 0 {
		cfg.Index.Extensions = config.NormalizeExtensions(exts)
	}
	return cfg, nil
}

func searchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "case-sensitive",
			Aliases: []string{"s"},
			Usage:   "Match letter case exactly",
		},
		&cli.StringSliceFlag{
			Name:    "ext",
			Aliases: []string{"e"},
			Usage:   "Only search these extensions; prefix with '-' to exclude (e.g., --ext cpp --ext -h)",
		},
		&cli.StringFlag{
			Name:  "folder",
			Usage: "Comma separated folder filters; globs allowed, '-' excludes",
		},
		&cli.StringFlag{
			Name:  "path",
			Usage: "Comma separated file name filters; globs allowed, '-' excludes",
		},
	}
}

func main() {
	app := &cli.App{
		Name:  "codesearch",
		Usage: "Index a source tree and search it with wildcard queries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding the persisted indexes (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringSliceFlag{
				Name:  "index-ext",
				Usage: "Only index files with these extensions (overrides config)",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
			}
			if cfg.Logging.File != "" {
				logCloser = logger.Setup(cfg.Logging)
				return nil
			}
			// Stdout carries results; logs go to stderr, quiet unless asked.
			level := cfg.Logging.Level
			if !c.IsSet("log-level") {
				level = "warn"
			}
			slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, level, cfg.Logging.Format)))
			return nil
		},
		After: func(c *cli.Context) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "index",
				Aliases:   []string{"i"},
				Usage:     "Build or refresh the index of a root",
				ArgsUsage: "<root>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Do not print progress",
					},
				},
				Action: indexCommand,
			},
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Search an indexed root and print every match",
				ArgsUsage: "<root> <query>",
				Flags: append(searchFlags(),
					&cli.BoolFlag{
						Name:  "report",
						Usage: "Print the performance report to stderr",
					},
					&cli.BoolFlag{
						Name:  "refresh",
						Usage: "Refresh the index before searching",
					},
				),
				Action: searchCommand,
			},
			{
				Name:      "files",
				Aliases:   []string{"f"},
				Usage:     "Find indexed files by name ('*' and '?' allowed, name.ext filters the extension)",
				ArgsUsage: "<root> <name>",
				Flags: append(searchFlags(),
					&cli.BoolFlag{
						Name:  "refresh",
						Usage: "Refresh the index before searching",
					},
				),
				Action: filesCommand,
			},
			{
				Name:      "export",
				Usage:     "Search and write the matches to a file",
				ArgsUsage: "<root> <query>",
				Flags: append(searchFlags(),
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "text or json",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Output file",
						Required: true,
					},
				),
				Action: exportCommand,
			},
			{
				Name:      "watch",
				Usage:     "Keep the index of a root current until interrupted",
				ArgsUsage: "<root>",
				Action:    watchCommand,
			},
			{
				Name:      "stats",
				Usage:     "Show statistics of a persisted index",
				ArgsUsage: "<root>",
				Action:    statsCommand,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		stop()
		os.Exit(1)
	}
}
