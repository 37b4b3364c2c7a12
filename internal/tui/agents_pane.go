package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/djh00t/steve/internal/registry"
)

// AgentsPaneModel lists the registered agents with load and liveness.
type AgentsPaneModel struct {
	agents      []*registry.Agent
	selectedIdx int
	width       int
	height      int
	focused     bool
}

// NewAgentsPaneModel creates an empty agents pane.
func NewAgentsPaneModel() AgentsPaneModel {
	return AgentsPaneModel{}
}

// SetAgents replaces the displayed snapshot, keeping the selection in
// range.
func (m *AgentsPaneModel) SetAgents(agents []*registry.Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	m.agents = agents
	if m.selectedIdx >= len(agents) {
		m.selectedIdx = len(agents) - 1
	}
	if m.selectedIdx < 0 {
		m.selectedIdx = 0
	}
}

// Update handles key messages for the agents pane.
func (m AgentsPaneModel) Update(msg tea.Msg) (AgentsPaneModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && m.focused {
		switch key.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.agents)-1 {
				m.selectedIdx++
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		}
	}
	return m, nil
}

// View renders the agents pane.
func (m AgentsPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Agents")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(m.width-2, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.agents) == 0 {
		b.WriteString(StyleStatusPending.Render("No agents registered"))
	} else {
		for i, agent := range m.agents {
			b.WriteString(m.renderAgent(agent, i == m.selectedIdx))
			b.WriteString("\n")
		}
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

// renderAgent renders one agent as two lines: identity, then load and
// liveness.
func (m AgentsPaneModel) renderAgent(agent *registry.Agent, selected bool) string {
	icon := StyleStatusComplete.Render("●")
	if agent.FreeSlots() == 0 {
		icon = StyleStatusAssigned.Render("●")
	}

	name := agent.Name
	maxName := m.width - 16
	if maxName > 3 && len(name) > maxName {
		name = name[:maxName-3] + "..."
	}
	head := fmt.Sprintf("%s %s (%s)", icon, name, shortID(agent.ID))
	if selected {
		head = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0")).
			Render(head)
	}

	caps := strings.Join(agent.Capabilities.List(), ",")
	if caps == "" {
		caps = "-"
	}
	detail := fmt.Sprintf("  %d/%d busy  [%s]  seen %s ago",
		len(agent.Current), agent.MaxConcurrent, caps, heartbeatAge(agent.LastHeartbeat))
	return head + "\n" + StyleHelp.Render(detail)
}

// heartbeatAge formats the time since the last heartbeat, coarsely.
func heartbeatAge(last time.Time) string {
	age := time.Since(last)
	if age < time.Second {
		return "<1s"
	}
	return age.Round(time.Second).String()
}

// SetSize updates the pane dimensions.
func (m *AgentsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *AgentsPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
