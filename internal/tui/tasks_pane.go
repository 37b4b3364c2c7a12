package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/djh00t/steve/internal/registry"
)

// statusOrder fixes the section order of the tasks pane: live work first.
var statusOrder = []registry.Status{
	registry.StatusAssigned,
	registry.StatusPending,
	registry.StatusCompleted,
	registry.StatusFailed,
	registry.StatusCancelled,
}

// TasksPaneModel shows every task grouped by status in a scrollable
// viewport.
type TasksPaneModel struct {
	tasks    []*registry.Task
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewTasksPaneModel creates an empty tasks pane.
func NewTasksPaneModel() TasksPaneModel {
	return TasksPaneModel{viewport: viewport.New(0, 0)}
}

// SetTasks replaces the displayed snapshot.
func (m *TasksPaneModel) SetTasks(tasks []*registry.Task) {
	m.tasks = tasks
	m.viewport.SetContent(m.renderTasks())
}

// Update delegates scrolling keys to the viewport.
func (m TasksPaneModel) Update(msg tea.Msg) (TasksPaneModel, tea.Cmd) {
	var cmd tea.Cmd
	if key, ok := msg.(tea.KeyMsg); ok {
		if !m.focused {
			return m, nil
		}
		m.viewport, cmd = m.viewport.Update(key)
	}
	return m, cmd
}

// View renders the tasks pane.
func (m TasksPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(m.width-2, lipgloss.Width(title))))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// renderTasks renders the status-grouped task sections.
func (m TasksPaneModel) renderTasks() string {
	if len(m.tasks) == 0 {
		return StyleStatusPending.Render("No tasks yet")
	}

	byStatus := make(map[registry.Status][]*registry.Task)
	for _, t := range m.tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}

	var b strings.Builder
	for _, status := range statusOrder {
		group := byStatus[status]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if group[i].Priority.Level != group[j].Priority.Level {
				return group[i].Priority.Level > group[j].Priority.Level
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})

		b.WriteString(statusStyle(status).Render(strings.ToUpper(status.String())))
		b.WriteString(fmt.Sprintf(" (%d)\n", len(group)))
		for _, t := range group {
			b.WriteString(renderTask(t))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderTask renders one task line: priority, type, id, owner, error.
func renderTask(t *registry.Task) string {
	line := fmt.Sprintf("  p%d %-14s %s", t.Priority.Level, t.Type, shortID(t.ID))
	if t.AgentID != "" {
		line += " -> " + shortID(t.AgentID)
	}
	if t.Status == registry.StatusFailed && t.Result != nil && t.Result.Err != "" {
		reason := t.Result.Err
		if len(reason) > 30 {
			reason = reason[:27] + "..."
		}
		line += "  " + StyleStatusFailed.Render(reason)
	}
	return line
}

// SetSize updates the pane dimensions and the viewport inside them.
func (m *TasksPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(10, w-4)
	m.viewport.Height = max(3, h-4)
}

// SetFocused updates the focus state.
func (m *TasksPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
