package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tillskottskollen/extractor/internal/extract"
	"github.com/tillskottskollen/extractor/pkg/pagecache"
	"github.com/tillskottskollen/extractor/pkg/runstore"
)

func main() {
	app := &cli.App{
		Name:  "supplement-extractor",
		Usage: "extract structured supplement product data from shop pages",
		Commands: []*cli.Command{
			{
				Name:   "extract",
				Usage:  "fetch product URLs and extract supplement records",
				Action: extract.ExtractAction,
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:  "urls",
						Usage: "comma-separated product page URLs",
					},
					&cli.IntFlag{
						Name:  "workers",
						Value: 4,
						Usage: "concurrent extraction workers",
					},
					&cli.StringFlag{
						Name:  "mode",
						Value: "sequential",
						Usage: "site-adapter strategy: sequential or parallel",
					},
					&cli.StringFlag{
						Name:  "max-age",
						Value: "24h",
						Usage: "page cache freshness window",
					},
					&cli.BoolFlag{
						Name:  "force-fetch",
						Usage: "bypass the page cache",
					},
				),
			},
			{
				Name:   "complete",
				Usage:  "merge user-provided field values into a partial extraction",
				Action: extract.CompleteAction,
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:  "url",
						Usage: "URL of a previously extracted page",
					},
					&cli.StringSliceFlag{
						Name:  "set",
						Usage: `field value to merge, e.g. --set "ingredients=Koffein: 200 mg, Taurin: 1 g"`,
					},
				),
			},
			{
				Name:   "history",
				Usage:  "list persisted extraction runs",
				Action: extract.HistoryAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "db",
						Value: runstore.DefaultDBName,
						Usage: "run database path",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "number of runs to list",
					},
					&cli.Int64Flag{
						Name:  "run",
						Usage: "show the ingredient rows of one run",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "tables",
			Usage: "path to extraction tables YAML (embedded default when empty)",
		},
		&cli.StringFlag{
			Name:  "cache-dir",
			Value: pagecache.DefaultBaseDir,
			Usage: "page and result cache directory",
		},
		&cli.StringFlag{
			Name:  "db",
			Value: runstore.DefaultDBName,
			Usage: "run database path",
		},
		&cli.StringFlag{
			Name:    "api-key",
			EnvVars: []string{"OPENAI_API_KEY"},
			Usage:   "API key for the completion backend",
		},
		&cli.StringFlag{
			Name:    "base-url",
			EnvVars: []string{"OPENAI_BASE_URL"},
			Usage:   "OpenAI-compatible endpoint, default endpoint when empty",
		},
		&cli.StringFlag{
			Name:  "model",
			Value: "gpt-4o-mini",
			Usage: "text completion model for normalization",
		},
		&cli.StringFlag{
			Name:  "vision-model",
			Value: "gpt-4o",
			Usage: "vision model for the image fallback, empty disables it",
		},
		&cli.StringFlag{
			Name:  "format",
			Value: "json",
			Usage: "output format: json or yaml",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "only log errors",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "debug logging",
		},
	}
}
