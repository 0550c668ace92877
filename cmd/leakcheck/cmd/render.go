package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/report"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(14)
	leakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// renderStats draws the detector counters in a bordered panel.
func renderStats(w io.Writer, title string, s leakcheck.Stats) {
	leaked := okStyle.Render("0")
	if s.Leaked > 0 {
		leaked = leakStyle.Render(fmt.Sprint(s.Leaked))
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		row("tracked", s.Tracked),
		row("deallocated", s.Deallocated),
		row("exempt", s.Exempt),
		row("leaked", leaked),
		row("reports", s.Reports),
		row("pending", s.Pending),
	)
	fmt.Fprintln(w, panelStyle.Render(body))
}

// renderRecords lists reports newest first, one line per leak.
func renderRecords(w io.Writer, recs []report.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no leak reports"))
		return
	}
	for _, rec := range recs {
		header := fmt.Sprintf("%s  %s  %s",
			titleStyle.Render(rec.At.Local().Format(time.DateTime)),
			rec.App,
			dimStyle.Render(rec.ID),
		)
		fmt.Fprintln(w, header)
		for _, l := range rec.Leaks {
			line := "  " + leakStyle.Render(l.Type)
			if l.Description != "" && l.Description != l.Type {
				line += " " + l.Description
			}
			line += dimStyle.Render(fmt.Sprintf("  alive %s after disappearing", l.Age.Round(time.Millisecond)))
			fmt.Fprintln(w, line)
			if l.Stack != "" {
				fmt.Fprintln(w, dimStyle.Render(indent(l.Stack, "    ")))
			}
		}
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
