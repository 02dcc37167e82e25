package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Warky-Devs/WkMailMove/internal/journal"
)

const timeLayout = "2006-01-02 15:04:05"

func runHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if cfg.Journal.Path == "" {
		return cli.Exit("no journal configured (journal.path)", 1)
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer j.Close()

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if id := c.String("run"); id != "" {
		transfers, err := j.Transfers(c.Context, id)
		if err != nil {
			return errors.Wrap(err, "reading journal")
		}
		fmt.Fprintln(w, "SEQ\tOUTCOME\tMESSAGE-ID\tSUBJECT\tDETAIL")
		for _, t := range transfers {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.Seq, t.Outcome, t.MessageID, t.Subject, t.Detail)
		}
		return nil
	}

	runs, err := j.Runs(c.Context, c.Int("limit"))
	if err != nil {
		return errors.Wrap(err, "reading journal")
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATE\tFOUND\tMOVED\tFAILED\tPURGED")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(timeLayout), duration, r.State,
			r.Found, r.Moved, r.Failed, r.Purged)
	}
	return nil
}
