package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/djh00t/steve/internal/plan"
)

// PlanPaneModel shows the schedule of the oldest open planning session as
// a Gantt-style bar chart with the critical path highlighted.
type PlanPaneModel struct {
	export   *plan.PlanExport
	sessions int
	width    int
	height   int
	focused  bool
}

// NewPlanPaneModel creates an empty plan pane.
func NewPlanPaneModel() PlanPaneModel {
	return PlanPaneModel{}
}

// SetPlanner refreshes the pane from the planner's open sessions. The
// first session id in sorted order keeps the display stable across
// refreshes.
func (m *PlanPaneModel) SetPlanner(p *plan.Planner) {
	if p == nil {
		m.export = nil
		m.sessions = 0
		return
	}
	ids := p.Sessions()
	m.sessions = len(ids)
	if len(ids) == 0 {
		m.export = nil
		return
	}
	export, err := p.ExportPlan(ids[0])
	if err != nil {
		// Keep the previous snapshot rather than flicker to empty.
		return
	}
	m.export = export
}

// Update handles key input. The plan pane has no interactive state yet.
func (m PlanPaneModel) Update(msg tea.Msg) (PlanPaneModel, tea.Cmd) {
	return m, nil
}

// View renders the plan pane.
func (m PlanPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Plan")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(m.width-2, lipgloss.Width(title))))
	b.WriteString("\n")

	if m.export == nil || m.export.Session == nil || m.export.Session.Plan == nil {
		b.WriteString(StyleStatusPending.Render("No planning sessions"))
	} else {
		b.WriteString(m.renderExport())
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m PlanPaneModel) renderExport() string {
	pl := m.export.Session.Plan
	an := m.export.Analysis

	var b strings.Builder
	header := fmt.Sprintf("%s  %d tasks  makespan %s", pl.Title, len(pl.Tasks), an.Makespan.Round(time.Minute))
	if m.sessions > 1 {
		header += fmt.Sprintf("  (+%d more sessions)", m.sessions-1)
	}
	b.WriteString(header)
	b.WriteString("\n")

	if len(an.CriticalPath) > 0 {
		names := make([]string, 0, len(an.CriticalPath))
		for _, id := range an.CriticalPath {
			names = append(names, taskTitle(pl, id))
		}
		b.WriteString("critical: ")
		b.WriteString(StyleStatusFailed.Render(strings.Join(names, " > ")))
		b.WriteString("\n")
	}
	if len(an.Conflicts) > 0 {
		b.WriteString(StyleStatusAssigned.Render(fmt.Sprintf("%d resource conflicts", len(an.Conflicts))))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	m.renderBars(&b, pl, an)
	return strings.TrimRight(b.String(), "\n")
}

// renderBars draws one proportional bar per task across the plan window.
func (m PlanPaneModel) renderBars(b *strings.Builder, pl *plan.Plan, an *plan.Analysis) {
	span := pl.End.Sub(pl.Start)
	if span <= 0 {
		return
	}

	tasks := append([]*plan.PlannedTask(nil), pl.Tasks...)
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].Start.Equal(tasks[j].Start) {
			return tasks[i].Start.Before(tasks[j].Start)
		}
		return tasks[i].Title < tasks[j].Title
	})

	labelWidth := 14
	barWidth := m.width - labelWidth - 8
	if barWidth < 10 {
		return
	}

	for _, t := range tasks {
		offset := int(int64(barWidth) * int64(t.Start.Sub(pl.Start)) / int64(span))
		if offset > barWidth-1 {
			offset = barWidth - 1
		}
		length := int(int64(barWidth) * int64(t.Finish.Sub(t.Start)) / int64(span))
		if length < 1 {
			length = 1
		}
		if offset+length > barWidth {
			length = barWidth - offset
		}

		label := t.Title
		if len(label) > labelWidth {
			label = label[:labelWidth-3] + "..."
		}

		bar := strings.Repeat("=", length)
		if sched, ok := an.Tasks[t.ID]; ok && sched.Critical {
			bar = StyleStatusFailed.Render(bar)
		} else {
			bar = StyleStatusComplete.Render(bar)
		}
		fmt.Fprintf(b, "%-*s %s%s\n", labelWidth, label, strings.Repeat(" ", offset), bar)
	}
}

// taskTitle resolves a planned task id to its title for display.
func taskTitle(pl *plan.Plan, id string) string {
	for _, t := range pl.Tasks {
		if t.ID == id {
			return t.Title
		}
	}
	return shortID(id)
}

// SetSize updates the pane dimensions.
func (m *PlanPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *PlanPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
