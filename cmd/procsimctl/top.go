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
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/procsim/services/procsim/client"
	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/facade"
)

// =============================================================================
// Command
// =============================================================================

func newTopCmd(a *app) *cobra.Command {
	var (
		interval  time.Duration
		requester string
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Interactive process table with sorting, filtering and kill",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			if a.jsonOutput() {
				return fmt.Errorf("top does not support --output json; use watch")
			}
			if !isTerminal(cmd.OutOrStdout()) {
				return fmt.Errorf("top needs a terminal; use ps or watch instead")
			}

			m := newTopModel(cmd.Context(), a.client, interval, requester)
			p := tea.NewProgram(m,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval")
	cmd.Flags().StringVar(&requester, "as", "", "simulated user issuing kills (empty is unrestricted)")
	return cmd
}

// =============================================================================
// Model
// =============================================================================

type topMode int

const (
	topNormal topMode = iota
	topFilter
	topConfirmKill
	topHelp
)

type (
	topTickMsg time.Time

	topDataMsg struct {
		records []datatypes.ProcessRecord
		err     error
	}

	topKillMsg struct {
		pid     int
		message string
		err     error
	}
)

// topModel is the bubbletea model behind procsimctl top. Sorting and
// filtering are done by the server through the list query parameters.
type topModel struct {
	ctx       context.Context
	client    *client.Client
	interval  time.Duration
	requester string

	table  table.Model
	filter textinput.Model
	opts   client.ListOptions

	records []datatypes.ProcessRecord
	stats   datatypes.AggregateStats

	mode        topMode
	selectedPID int
	statusText  string
	statusError bool
	width       int
}

func newTopModel(ctx context.Context, c *client.Client, interval time.Duration, requester string) topModel {
	columns := []table.Column{
		{Title: "PID", Width: 7},
		{Title: "USER", Width: 10},
		{Title: "%CPU", Width: 6},
		{Title: "%MEM", Width: 6},
		{Title: "RSS", Width: 9},
		{Title: "STAT", Width: 5},
		{Title: "TIME", Width: 8},
		{Title: "COMMAND", Width: 40},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorAccent)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(colorBorder).
		Bold(false)
	t.SetStyles(s)

	fi := textinput.New()
	fi.Placeholder = "command, user or pid..."
	fi.CharLimit = 64

	return topModel{
		ctx:       ctx,
		client:    c,
		interval:  interval,
		requester: requester,
		table:     t,
		filter:    fi,
		opts:      client.ListOptions{Sort: "cpu", Desc: true},
		mode:      topNormal,
	}
}

// Init implements tea.Model.
func (m topModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m topModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return topTickMsg(t)
	})
}

func (m topModel) fetch() tea.Cmd {
	ctx, c, opts := m.ctx, m.client, m.opts
	return func() tea.Msg {
		records, err := c.ListProcesses(ctx, opts)
		return topDataMsg{records: records, err: err}
	}
}

func (m topModel) kill(pid int) tea.Cmd {
	ctx, c, requester := m.ctx, m.client, m.requester
	return func() tea.Msg {
		msg, err := c.KillProcess(ctx, pid, requester)
		return topKillMsg{pid: pid, message: msg, err: err}
	}
}

// Update implements tea.Model.
func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetHeight(max(msg.Height-6, 3))
		return m, nil

	case topTickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case topDataMsg:
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
			return m, nil
		}
		m.setRecords(msg.records)
		return m, nil

	case topKillMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("kill %d: %v", msg.pid, msg.err), true)
			return m, nil
		}
		m.setStatus(msg.message, false)
		return m, m.fetch()

	case tea.KeyMsg:
		switch m.mode {
		case topFilter:
			return m.updateFilter(msg)
		case topConfirmKill:
			return m.updateConfirmKill(msg)
		case topHelp:
			switch msg.String() {
			case "esc", "q", "?":
				m.mode = topNormal
			}
			return m, nil
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

func (m topModel) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "?":
		m.mode = topHelp
		return m, nil

	case "c":
		return m.sortBy("cpu", true)
	case "m":
		return m.sortBy("mem", true)
	case "p":
		return m.sortBy("pid", false)
	case "u":
		return m.sortBy("user", false)
	case "r":
		m.opts.Desc = !m.opts.Desc
		return m, m.fetch()

	case "/":
		m.mode = topFilter
		m.filter.SetValue(m.opts.Query)
		cmd := m.filter.Focus()
		return m, cmd

	case "k":
		pid, ok := m.selected()
		if !ok {
			m.setStatus("no process selected", true)
			return m, nil
		}
		m.selectedPID = pid
		m.mode = topConfirmKill
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m topModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.opts.Query = strings.TrimSpace(m.filter.Value())
		m.filter.Blur()
		m.mode = topNormal
		return m, m.fetch()
	case "esc", "ctrl+c":
		m.filter.Blur()
		m.mode = topNormal
		return m, nil
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	return m, cmd
}

func (m topModel) updateConfirmKill(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = topNormal
		return m, m.kill(m.selectedPID)
	case "n", "N", "esc", "q":
		m.mode = topNormal
		m.setStatus("kill cancelled", false)
	}
	return m, nil
}

func (m topModel) sortBy(field string, desc bool) (tea.Model, tea.Cmd) {
	m.opts.Sort = field
	m.opts.Desc = desc
	return m, m.fetch()
}

func (m *topModel) setStatus(text string, isErr bool) {
	m.statusText = text
	m.statusError = isErr
}

func (m *topModel) setRecords(records []datatypes.ProcessRecord) {
	m.records = records
	m.stats = facade.Aggregate(records)

	rows := make([]table.Row, len(records))
	for i, p := range records {
		rows[i] = table.Row{
			strconv.Itoa(p.PID),
			p.Owner,
			fmt.Sprintf("%.1f", p.CPUPercent),
			fmt.Sprintf("%.1f", p.MemPercent),
			strconv.FormatInt(p.ResidentSizeKB, 10),
			p.State,
			p.CPUTime,
			p.Command,
		}
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(max(len(rows)-1, 0))
	}
}

// selected returns the pid under the cursor.
func (m topModel) selected() (int, bool) {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(row[0])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// View implements tea.Model.
func (m topModel) View() string {
	var b strings.Builder

	order := "asc"
	if m.opts.Desc {
		order = "desc"
	}
	header := fmt.Sprintf("%d processes, cpu %.1f%%, mem %.1f%%, sort %s %s",
		m.stats.ProcessCount, m.stats.TotalCPU, m.stats.TotalMem, m.opts.Sort, order)
	if m.opts.Query != "" {
		header += fmt.Sprintf(", filter %q", m.opts.Query)
	}
	fmt.Fprintf(&b, "%s %s\n", styles.Title.Render("procsim top"), styles.Muted.Render(header))

	if m.mode == topHelp {
		b.WriteString(renderTopHelp())
		return b.String()
	}

	b.WriteString(m.table.View())
	b.WriteString("\n")

	switch m.mode {
	case topFilter:
		b.WriteString("/" + m.filter.View())
	case topConfirmKill:
		b.WriteString(styles.Warning.Render(fmt.Sprintf("kill %d? (y/n)", m.selectedPID)))
	default:
		switch {
		case m.statusError:
			b.WriteString(styles.Error.Render(m.statusText))
		case m.statusText != "":
			b.WriteString(styles.Success.Render(m.statusText))
		default:
			b.WriteString(styles.Muted.Render("? help  q quit"))
		}
	}
	return b.String()
}

func renderTopHelp() string {
	keys := [][2]string{
		{"up/down", "move selection"},
		{"c m p u", "sort by cpu, mem, pid or user"},
		{"r", "reverse sort order"},
		{"/", "filter (enter applies, esc cancels)"},
		{"k", "kill selected process"},
		{"q", "quit"},
	}
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %s\n", styles.Header.Render(fmt.Sprintf("%-8s", k[0])), k[1])
	}
	return styles.Box.Render(strings.TrimRight(b.String(), "\n"))
}
