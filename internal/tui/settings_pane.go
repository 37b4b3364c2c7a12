package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/djh00t/steve/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget        string
	strategy          string
	matchInterval     string
	heartbeatInterval string
	reclaimOrphans    bool
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		visible:     false,
		saved:       false,

		// Initialize form field values from config
		saveTarget:        "global",
		strategy:          cfg.Scheduler.Strategy,
		matchInterval:     time.Duration(cfg.Scheduler.MatchInterval).String(),
		heartbeatInterval: time.Duration(cfg.Scheduler.HeartbeatInterval).String(),
		reclaimOrphans:    cfg.Scheduler.ReclaimOrphans,
	}

	m.buildForm()
	return m
}

// validDuration rejects form input that time.ParseDuration cannot read.
func validDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a duration (try 500ms, 30s, 2m)")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.steve/config.json)", "global"),
					huh.NewOption("Project (.steve/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("strategy").
				Title("Matching Strategy").
				Options(
					huh.NewOption("Least loaded agent", "least_loaded"),
					huh.NewOption("First fit", "first_fit"),
				).
				Value(&m.strategy),

			huh.NewInput().
				Key("matchInterval").
				Title("Match Interval").
				Value(&m.matchInterval).
				Validate(validDuration).
				Placeholder("1s"),

			huh.NewInput().
				Key("heartbeatInterval").
				Title("Heartbeat Interval").
				Value(&m.heartbeatInterval).
				Validate(validDuration).
				Placeholder("30s"),

			huh.NewConfirm().
				Key("reclaimOrphans").
				Title("Reclaim Orphaned Tasks").
				Value(&m.reclaimOrphans),
		).Title("Scheduler"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			// Cancel without saving
			m.visible = false
			m.saved = false
			return m, nil
		}
	}

	// Delegate to form
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	// Check if form is completed
	if m.form.State == huh.StateCompleted {
		// Copy form values back to config
		m.applyFormToConfig()

		// Determine save path
		targetPath := m.globalPath
		if m.saveTarget == "project" {
			targetPath = m.projectPath
		}

		// Save config
		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
		}

		// Hide form after successful save
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
// The form already validated the durations, so a parse error here keeps
// the old value.
func (m *SettingsPaneModel) applyFormToConfig() {
	m.config.Scheduler.Strategy = m.strategy
	if d, err := time.ParseDuration(m.matchInterval); err == nil {
		m.config.Scheduler.MatchInterval = config.Duration(d)
	}
	if d, err := time.ParseDuration(m.heartbeatInterval); err == nil {
		m.config.Scheduler.HeartbeatInterval = config.Duration(d)
	}
	m.config.Scheduler.ReclaimOrphans = m.reclaimOrphans
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string

	// Show saved message if just saved
	if m.saved && m.form.State == huh.StateCompleted {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved (takes effect on restart)")
	} else if m.err != nil {
		// Show error if save failed
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		// Render form
		content = m.form.View()
	}

	// Wrap in styled border
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	body := style.Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Reset form state when showing
	if v && m.form != nil {
		// Rebuild form to reset state
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
