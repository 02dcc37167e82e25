package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"f"},
		Usage:   "Configuration file (required)",
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "WKMailMove"
	app.Usage = "Move every message of an IMAP folder to another server and empty the source trash"
	app.HideVersion = true

	app.Flags = []cli.Flag{
		configFlag(),
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Value:   "INFO",
			Usage:   "Logging level (DEBUG, INFO, WARNING, ERROR, CRITICAL)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log at debug level",
		},
	}
	app.Action = runMove

	app.Commands = []*cli.Command{
		{
			Name:  "history",
			Usage: "Show recent runs recorded in the journal",
			Flags: []cli.Flag{
				configFlag(),
				&cli.IntFlag{
					Name:    "limit",
					Aliases: []string{"n"},
					Value:   10,
					Usage:   "Number of runs to show",
				},
				&cli.StringFlag{
					Name:  "run",
					Usage: "Show the messages of one run",
				},
			},
			Action: runHistory,
		},
	}
	return app
}
