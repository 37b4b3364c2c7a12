// Package tui is the terminal dashboard: live agents, tasks and plan
// panes over the domain event bus, with a modal settings form.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/djh00t/steve/internal/config"
	"github.com/djh00t/steve/internal/events"
	"github.com/djh00t/steve/internal/plan"
	"github.com/djh00t/steve/internal/registry"
)

// Source supplies the dashboard's snapshots. The orchestrator service
// satisfies it.
type Source interface {
	Agents() []*registry.Agent
	Tasks() []*registry.Task
	QueueDepth() int
	Planner() *plan.Planner
}

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PaneTasks
	PanePlan
)

// refreshMsg asks the panes to pull a fresh snapshot.
type refreshMsg struct{}

// refreshInterval paces snapshot refreshes between domain events.
const refreshInterval = time.Second

// Model is the root Bubble Tea model for the dashboard.
type Model struct {
	agentsPane   AgentsPaneModel
	tasksPane    TasksPaneModel
	planPane     PlanPaneModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	source       Source
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates the dashboard model, subscribed to all domain events.
func New(source Source, eventBus *events.Bus, cfg *config.Config, globalPath, projectPath string) Model {
	return Model{
		agentsPane:   NewAgentsPaneModel(),
		tasksPane:    NewTasksPaneModel(),
		planPane:     NewPlanPaneModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneAgents,
		source:       source,
		eventSub:     eventBus.SubscribeAll(256),
	}
}

// Init starts the event pump and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), refreshAfter(refreshInterval))
}

// waitForEvent returns a command that waits for the next domain event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// refreshAfter schedules the next snapshot refresh.
func refreshAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return refreshMsg{} })
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The settings overlay is modal; it sees every key while open.
		// Only esc closes it here, since "s" is a character the duration
		// inputs need.
		if m.showSettings {
			switch msg.String() {
			case "esc":
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			default:
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)

				// The pane hides itself after a save.
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3 // +2 is equivalent to -1 mod 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PanePlan
			m.updateFocusStates()

		default:
			// Delegate to the focused pane
			switch m.focusedPane {
			case PaneAgents:
				var cmd tea.Cmd
				m.agentsPane, cmd = m.agentsPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneTasks:
				var cmd tea.Cmd
				m.tasksPane, cmd = m.tasksPane.Update(msg)
				cmds = append(cmds, cmd)
			case PanePlan:
				var cmd tea.Cmd
				m.planPane, cmd = m.planPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)
		m.refresh()

	case refreshMsg:
		m.refresh()
		cmds = append(cmds, refreshAfter(refreshInterval))

	case events.Event:
		// Any domain activity refreshes the snapshot immediately.
		m.refresh()
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	leftPane := m.agentsPane.View()
	rightPane := lipgloss.JoinVertical(lipgloss.Left, m.tasksPane.View(), m.planPane.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// refresh pulls a fresh snapshot into every pane.
func (m *Model) refresh() {
	if m.source == nil {
		return
	}
	m.agentsPane.SetAgents(m.source.Agents())
	m.tasksPane.SetTasks(m.source.Tasks())
	m.planPane.SetPlanner(m.source.Planner())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 35) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for the help bar
	rightTopHeight := (availableHeight * 60) / 100
	rightBottomHeight := availableHeight - rightTopHeight

	m.agentsPane.SetSize(leftWidth, availableHeight)
	m.tasksPane.SetSize(rightWidth, rightTopHeight)
	m.planPane.SetSize(rightWidth, rightBottomHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.agentsPane.SetFocused(m.focusedPane == PaneAgents)
	m.tasksPane.SetFocused(m.focusedPane == PaneTasks)
	m.planPane.SetFocused(m.focusedPane == PanePlan)
}

// shortID abbreviates a uuid for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
