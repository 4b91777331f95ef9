// Package chartview renders aggregator output for a terminal.
package chartview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"example.com/agentwatch/internal/aggregator"
)

var levels = []rune("▁▂▃▄▅▆▇█")

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	axisStyle  = lipgloss.NewStyle().Faint(true)
	statStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

type Stats struct {
	Range     aggregator.TimeRange
	Agent     string
	Agents    int
	ToolCalls int
	Total     int
}

// Sparkline draws one rune per point, scaled to the largest count. Empty
// buckets are blank.
func Sparkline(points []aggregator.ChartPoint) string {
	peak := 0
	for _, p := range points {
		peak = max(peak, p.Count)
	}
	var b strings.Builder
	for _, p := range points {
		if p.Count == 0 || peak == 0 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(levels[p.Count*(len(levels)-1)/peak])
	}
	return b.String()
}

// Render returns the full frame: title, chart with its peak, and totals.
func Render(points []aggregator.ChartPoint, st Stats) string {
	peak := 0
	for _, p := range points {
		peak = max(peak, p.Count)
	}
	title := fmt.Sprintf("agent activity, last %s", st.Range)
	if st.Agent != "" {
		title += " (" + st.Agent + ")"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteByte('\n')
	b.WriteString(axisStyle.Render("│"))
	b.WriteString(barStyle.Render(Sparkline(points)))
	b.WriteString(axisStyle.Render(fmt.Sprintf("│ peak %d", peak)))
	b.WriteByte('\n')
	b.WriteString(statStyle.Render(fmt.Sprintf("agents %d  tool calls %d  events %d", st.Agents, st.ToolCalls, st.Total)))
	b.WriteByte('\n')
	return b.String()
}
