// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/procsim/services/procsim/client"
	"github.com/AleutianAI/procsim/services/procsim/facade"
	"github.com/AleutianAI/procsim/services/procsim/history"
)

// clearScreen moves the cursor home and clears the terminal.
const clearScreen = "\033[H\033[2J"

type watchOptions struct {
	interval time.Duration
	pid      int
	count    int
	capacity int
}

func newWatchCmd(a *app) *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the server and chart recent history as sparklines",
		Long: `watch polls GET /processes on an interval and keeps a local history of
the system totals (and optionally one pid). Totals are computed from each
polled list, matching GET /stats for the same population. Press Ctrl-C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			if opts.capacity <= 0 {
				return fmt.Errorf("--capacity must be positive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.watch(ctx, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.interval, "interval", history.DefaultPollInterval, "poll interval")
	cmd.Flags().IntVar(&opts.pid, "pid", 0, "also chart this pid")
	cmd.Flags().IntVar(&opts.count, "count", 0, "stop after this many polls (0 runs until interrupted)")
	cmd.Flags().IntVar(&opts.capacity, "capacity", history.DefaultCapacity, "points kept per series")
	return cmd
}

// watch folds each poll into a local aggregator and redraws. On a terminal
// the screen is cleared between frames; otherwise frames are appended.
//
// Totals come from facade.Aggregate over the polled list rather than a
// second GET /stats, so each sample's totals describe exactly the records
// folded with them. Both use the same aggregation.
func (a *app) watch(ctx context.Context, out io.Writer, opts watchOptions) error {
	agg := history.NewAggregator(opts.capacity)
	tty := isTerminal(out)

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		records, err := a.client.ListProcesses(ctx, client.ListOptions{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		agg.Fold(history.Sample{Processes: records, Stats: facade.Aggregate(records)})

		if a.jsonOutput() {
			if err := writeJSON(out, agg.SystemHistory()); err != nil {
				return err
			}
		} else {
			if tty {
				fmt.Fprint(out, clearScreen)
			} else if polls > 1 {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, renderWatchFrame(a.client.BaseURL(), agg, opts))
		}

		if opts.count > 0 && polls >= opts.count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func renderWatchFrame(server string, agg *history.Aggregator, opts watchOptions) string {
	system := agg.System()
	counts := make([]float64, len(system))
	cpu := make([]float64, len(system))
	mem := make([]float64, len(system))
	for i, p := range system {
		counts[i] = float64(p.ProcessCount)
		cpu[i] = p.TotalCPU
		mem[i] = p.TotalMem
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styles.Title.Render("procsim watch"),
		styles.Muted.Render(fmt.Sprintf("%s every %s, %d/%d samples", server, opts.interval, len(system), agg.Capacity())))
	fmt.Fprintln(&b, sparkRow("processes", counts, ""))
	fmt.Fprintln(&b, sparkRow("total cpu", cpu, "%"))
	fmt.Fprint(&b, sparkRow("total mem", mem, "%"))

	if opts.pid > 0 {
		points, ok := agg.Process(opts.pid)
		fmt.Fprintln(&b)
		if !ok {
			fmt.Fprint(&b, styles.Warning.Render(fmt.Sprintf("pid %d not seen", opts.pid)))
		} else {
			pcpu := make([]float64, len(points))
			pmem := make([]float64, len(points))
			for i, p := range points {
				pcpu[i] = p.CPUPercent
				pmem[i] = p.MemPercent
			}
			fmt.Fprintln(&b, sparkRow(fmt.Sprintf("%d cpu", opts.pid), pcpu, "%"))
			fmt.Fprint(&b, sparkRow(fmt.Sprintf("%d mem", opts.pid), pmem, "%"))
		}
	}
	return b.String()
}
