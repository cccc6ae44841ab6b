// Package cli provides the depbox command-line interface: it wires the
// catalog resolver, endpoint selection, artifact dispatch and nightly
// cache together from the YAML configuration.
package cli

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Output formats of the --output flag.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// NewApp creates and configures the main CLI application.
func NewApp() *cli.App {
	outputFlag := &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Value:   OutputText,
		Usage:   "output format (text, json)",
	}
	productFlag := &cli.StringFlag{
		Name:     "product",
		Aliases:  []string{"p"},
		Usage:    "product key in the catalog",
		Required: true,
	}
	clientIPFlag := &cli.StringFlag{
		Name:  "client-ip",
		Usage: "client address used to pick the closest endpoint",
	}

	return &cli.App{
		Name:     "depbox",
		Usage:    "Resolve release downloads and mirror nightly builds",
		Version:  "1.0.0",
		Compiled: time.Now(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the depbox configuration file (environment only when empty)",
				EnvVars: []string{"DEPBOX_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"DEPBOX_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "json",
				Usage:   "log format (json, text)",
				EnvVars: []string{"DEPBOX_LOG_FORMAT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "catalog",
				Usage:  "List the products and releases of the catalog",
				Flags:  []cli.Flag{outputFlag},
				Action: catalogCommand,
			},
			{
				Name:  "resolve",
				Usage: "Resolve the downloads of a release",
				Flags: []cli.Flag{
					productFlag,
					&cli.StringFlag{
						Name:    "version",
						Aliases: []string{"v"},
						Usage:   "release name (latest release when empty)",
					},
					clientIPFlag,
					outputFlag,
				},
				Action: resolveCommand,
			},
			{
				Name:   "endpoints",
				Usage:  "Show the endpoints and the one closest to a client",
				Flags:  []cli.Flag{clientIPFlag, outputFlag},
				Action: endpointsCommand,
			},
			{
				Name:  "nightly",
				Usage: "Inspect and mirror nightly builds",
				Subcommands: []*cli.Command{
					{
						Name:   "info",
						Usage:  "Show the latest successful run and the nightly downloads of a product",
						Flags:  []cli.Flag{productFlag, outputFlag},
						Action: nightlyInfoCommand,
					},
					{
						Name:  "fetch",
						Usage: "Refresh the local mirror of a nightly download",
						Flags: []cli.Flag{
							productFlag,
							&cli.StringFlag{
								Name:     "key",
								Aliases:  []string{"k"},
								Usage:    "artifact key of the nightly download",
								Required: true,
							},
							outputFlag,
						},
						Action: nightlyFetchCommand,
					},
					{
						Name:  "history",
						Usage: "Show recorded nightly refreshes",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "product",
								Aliases: []string{"p"},
								Usage:   "only show this product",
							},
							&cli.IntFlag{
								Name:  "limit",
								Value: 20,
								Usage: "maximum number of records",
							},
							outputFlag,
						},
						Action: nightlyHistoryCommand,
					},
					{
						Name:   "prune",
						Usage:  "Remove every mirrored nightly archive of a product",
						Flags:  []cli.Flag{productFlag, outputFlag},
						Action: nightlyPruneCommand,
					},
				},
			},
			{
				Name:  "flatpakref",
				Usage: "Print the .flatpakref document of a product",
				Flags: []cli.Flag{
					productFlag,
					&cli.StringFlag{
						Name:    "key",
						Aliases: []string{"k"},
						Value:   "flathub",
						Usage:   "flatpak artifact key (flathub, flathub_beta, flatpak_custom)",
					},
				},
				Action: flatpakrefCommand,
			},
		},
	}
}
