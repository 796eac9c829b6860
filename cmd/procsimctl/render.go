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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
)

// =============================================================================
// Styles
// =============================================================================

var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorBright  = lipgloss.Color("#2CD7C7")
	colorBorder  = lipgloss.Color("#16858E")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

var styles = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorBright),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Success: lipgloss.NewStyle().Foreground(colorBright),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1),
}

// highCPU marks rows worth a second look in ps output.
const highCPU = 50.0

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Tables
// =============================================================================

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return styles.Cell
		})
}

func renderProcesses(records []datatypes.ProcessRecord) string {
	if len(records) == 0 {
		return styles.Muted.Render("no processes")
	}
	t := newTable("PID", "USER", "%CPU", "%MEM", "VSZ", "RSS", "TTY", "STAT", "START", "TIME", "COMMAND")
	for _, p := range records {
		cpu := fmt.Sprintf("%.1f", p.CPUPercent)
		if p.CPUPercent >= highCPU {
			cpu = styles.Warning.Render(cpu)
		}
		t.Row(
			strconv.Itoa(p.PID),
			p.Owner,
			cpu,
			fmt.Sprintf("%.1f", p.MemPercent),
			strconv.FormatInt(p.VirtualSizeKB, 10),
			strconv.FormatInt(p.ResidentSizeKB, 10),
			p.Terminal,
			p.State,
			p.StartedAt,
			p.CPUTime,
			p.Command,
		)
	}
	return t.String()
}

func renderProcess(p datatypes.ProcessRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", styles.Title.Render(fmt.Sprintf("PID %d", p.PID)))
	rows := [][2]string{
		{"user", p.Owner},
		{"cpu", fmt.Sprintf("%.1f%%", p.CPUPercent)},
		{"mem", fmt.Sprintf("%.1f%%", p.MemPercent)},
		{"vsz", strconv.FormatInt(p.VirtualSizeKB, 10)},
		{"rss", strconv.FormatInt(p.ResidentSizeKB, 10)},
		{"tty", p.Terminal},
		{"stat", p.State},
		{"start", p.StartedAt},
		{"time", p.CPUTime},
		{"command", p.Command},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", styles.Muted.Render(fmt.Sprintf("%-8s", r[0])), r[1])
	}
	return styles.Box.Render(strings.TrimRight(b.String(), "\n"))
}

func renderStats(s datatypes.AggregateStats) string {
	return styles.Box.Render(fmt.Sprintf("%s\nprocesses  %d\ntotal cpu  %.1f%%\ntotal mem  %.1f%%",
		styles.Title.Render("System"), s.ProcessCount, s.TotalCPU, s.TotalMem))
}

func renderStatus(s datatypes.SimulationStatus) string {
	state := styles.Muted.Render("stopped")
	if s.Running {
		state = styles.Success.Render(fmt.Sprintf("running every %s", time.Duration(s.IntervalMs)*time.Millisecond))
	}
	if s.Message != "" {
		return fmt.Sprintf("%s (%s)", s.Message, state)
	}
	return state
}

func renderSnapshots(summaries []datatypes.SnapshotSummary) string {
	if len(summaries) == 0 {
		return styles.Muted.Render("no snapshots")
	}
	t := newTable("ID", "NAME", "DESCRIPTION", "CREATED")
	for _, s := range summaries {
		t.Row(strconv.FormatInt(s.ID, 10), s.Name, s.Description, s.CreatedAt.Local().Format(time.DateTime))
	}
	return t.String()
}

func renderSnapshot(s datatypes.Snapshot, records []datatypes.ProcessRecord, withProcesses bool) string {
	header := styles.Box.Render(fmt.Sprintf("%s\nname         %s\ndescription  %s\ncreated      %s\nprocesses    %d",
		styles.Title.Render(fmt.Sprintf("Snapshot %d", s.ID)),
		s.Name, s.Description, s.CreatedAt.Local().Format(time.DateTime), len(records)))
	if !withProcesses {
		return header
	}
	return header + "\n" + renderProcesses(records)
}

// =============================================================================
// Sparklines
// =============================================================================

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline scales values between their own min and max. A flat series sits
// on the middle rune.
func sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	out := make([]rune, len(values))
	for i, v := range values {
		if hi == lo {
			out[i] = sparkRunes[len(sparkRunes)/2]
			continue
		}
		idx := int((v - lo) * float64(len(sparkRunes)-1) / (hi - lo))
		out[i] = sparkRunes[idx]
	}
	return string(out)
}

func sparkRow(label string, values []float64, unit string) string {
	last := 0.0
	if len(values) > 0 {
		last = values[len(values)-1]
	}
	return fmt.Sprintf("%s %s %s",
		styles.Muted.Render(fmt.Sprintf("%-10s", label)),
		styles.Success.Render(sparkline(values)),
		fmt.Sprintf("%.1f%s", last, unit))
}
