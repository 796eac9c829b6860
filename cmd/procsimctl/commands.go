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
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/procsim/services/procsim/client"
)

// EnvServer overrides the default --server value.
const EnvServer = "PROCSIM_SERVER"

const defaultServer = "http://localhost:5000"

const (
	outputTable = "table"
	outputJSON  = "json"
)

// app holds the state shared by every command.
type app struct {
	server  string
	output  string
	timeout time.Duration
	client  *client.Client
}

func (a *app) jsonOutput() bool {
	return a.output == outputJSON
}

// print writes v as JSON or the rendered text depending on --output.
func (a *app) print(cmd *cobra.Command, v any, rendered func() string) error {
	if a.jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), rendered())
	return err
}

func newRootCmd() *cobra.Command {
	a := &app{}

	server := os.Getenv(EnvServer)
	if server == "" {
		server = defaultServer
	}

	rootCmd := &cobra.Command{
		Use:           "procsimctl",
		Short:         "Inspect and drive a procsim server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.output != outputTable && a.output != outputJSON {
				return fmt.Errorf("invalid --output %q: want table or json", a.output)
			}
			a.client = client.New(a.server, client.WithTimeout(a.timeout))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.server, "server", server, "procsim base URL (env "+EnvServer+")")
	rootCmd.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "output format: table or json")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", client.DefaultTimeout, "per-request timeout")

	rootCmd.AddCommand(
		newHealthCmd(a),
		newPsCmd(a),
		newGetCmd(a),
		newKillCmd(a),
		newStatsCmd(a),
		newSimCmd(a),
		newSnapshotCmd(a),
		newWatchCmd(a),
		newTopCmd(a),
	)
	return rootCmd
}

func parsePID(arg string) (int, error) {
	pid, err := strconv.Atoi(arg)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", arg)
	}
	return pid, nil
}

// =============================================================================
// Process Commands
// =============================================================================

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := a.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, health, func() string {
				return styles.Success.Render(fmt.Sprintf("%s %s at %s", health.Service, health.Status, a.client.BaseURL()))
			})
		},
	}
}

func newPsCmd(a *app) *cobra.Command {
	var (
		opts  client.ListOptions
		limit int
	)
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.client.ListProcesses(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			return a.print(cmd, records, func() string { return renderProcesses(records) })
		},
	}
	cmd.Flags().StringVarP(&opts.User, "user", "u", "", "only processes owned by user")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "substring of command, user or pid")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "pid, cpu, mem, user or command")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "reverse the sort order")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many rows")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <pid>",
		Short: "Show one process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			rec, err := a.client.GetProcess(cmd.Context(), pid)
			if err != nil {
				return err
			}
			return a.print(cmd, rec, func() string { return renderProcess(rec) })
		},
	}
}

func newKillCmd(a *app) *cobra.Command {
	var requester string
	cmd := &cobra.Command{
		Use:   "kill <pid>",
		Short: "Terminate a simulated process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			msg, err := a.client.KillProcess(cmd.Context(), pid, requester)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]string{"message": msg}, func() string {
				return styles.Success.Render(msg)
			})
		},
	}
	cmd.Flags().StringVar(&requester, "as", "", "simulated user issuing the kill (empty is unrestricted)")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate cpu and memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, stats, func() string { return renderStats(stats) })
		},
	}
}

// =============================================================================
// Simulation Commands
// =============================================================================

func newSimCmd(a *app) *cobra.Command {
	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "Control the simulation scheduler",
	}

	var interval time.Duration
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start stepping the simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.client.StartSimulation(cmd.Context(), interval)
			if err != nil {
				return err
			}
			return a.print(cmd, status, func() string { return renderStatus(status) })
		},
	}
	startCmd.Flags().DurationVar(&interval, "interval", 0, "step interval, e.g. 500ms (default: server setting)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop stepping the simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.client.StopSimulation(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, status, func() string { return renderStatus(status) })
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the simulation is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.client.SimulationStatus(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, status, func() string { return renderStatus(status) })
		},
	}

	var count int
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace the population with a freshly generated one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("count") {
				count = -1
			}
			reset, err := a.client.ResetPopulation(cmd.Context(), count)
			if err != nil {
				return err
			}
			return a.print(cmd, reset, func() string {
				return styles.Success.Render(fmt.Sprintf("%s: %d processes", reset.Message, reset.Count))
			})
		},
	}
	resetCmd.Flags().IntVar(&count, "count", 0, "population size (default: server setting)")

	simCmd.AddCommand(startCmd, stopCmd, statusCmd, resetCmd)
	return simCmd
}

// =============================================================================
// Snapshot Commands
// =============================================================================

func newSnapshotCmd(a *app) *cobra.Command {
	snapCmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snap"},
		Short:   "Save and inspect population snapshots",
	}

	var description string
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Save the current population",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.client.CreateSnapshot(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			return a.print(cmd, snap, func() string {
				return styles.Success.Render(fmt.Sprintf("snapshot %d %q saved", snap.ID, snap.Name))
			})
		},
	}
	createCmd.Flags().StringVarP(&description, "description", "d", "", "free-form description")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := a.client.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, summaries, func() string { return renderSnapshots(summaries) })
		},
	}

	var withProcesses bool
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid snapshot id %q", args[0])
			}
			snap, err := a.client.GetSnapshot(cmd.Context(), id)
			if err != nil {
				return err
			}
			records, err := snap.Processes()
			if err != nil {
				return fmt.Errorf("decode snapshot %d: %w", id, err)
			}
			return a.print(cmd, snap, func() string { return renderSnapshot(snap, records, withProcesses) })
		},
	}
	getCmd.Flags().BoolVar(&withProcesses, "processes", false, "also print the saved process table")

	snapCmd.AddCommand(createCmd, listCmd, getCmd)
	return snapCmd
}
