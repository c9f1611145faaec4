// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for comfyx.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen
//
// All intents go through the session controller; long-running operations are
// observed by polling their handle on a tick.

package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/comfyx/internal/buildconfig"
	"github.com/kingrea/comfyx/internal/logbook"
	"github.com/kingrea/comfyx/internal/process"
	"github.com/kingrea/comfyx/internal/session"
	"github.com/kingrea/comfyx/internal/watch"
)

// appState represents which "screen" we're on
type appState int

const (
	stateMainMenu  appState = iota // Build / package / configure / clean menu
	stateOperation                 // Watching a running operation
	stateConfig                    // Field editor
)

const (
	defaultPollInterval = 200 * time.Millisecond
	logPanelLines       = 8
)

// pollMsg asks the app to poll the in-flight operation.
type pollMsg struct{}

// configChangedMsg reports that the build configuration changed on disk.
type configChangedMsg struct{}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithWatcher reloads the configuration whenever w reports a change.
func WithWatcher(w *watch.Watcher) AppOption {
	return func(a *App) {
		a.watcher = w
	}
}

// WithPollInterval overrides how often a running operation is polled.
func WithPollInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state   appState
	ctrl    *session.Controller
	logbook *logbook.Logbook
	watcher *watch.Watcher

	// UI components
	mainMenu  list.Model
	editor    *session.Editor
	input     textinput.Model
	statusMsg string

	pollInterval time.Duration
	polling      bool

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// menuItem implements list.Item interface for our menu items
type menuItem struct {
	action session.Action
	desc   string
}

func (i menuItem) Title() string       { return i.action.String() }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.action.String() }

var menuDescriptions = map[session.Action]string{
	session.ActionBuild:        "Archive the project and export the app",
	session.ActionPackage:      "Package the exported app into a disk image",
	session.ActionConfigure:    "Edit the build configuration",
	session.ActionCleanArchive: "Delete ComfyXData/Archive and ComfyXData/Export",
	session.ActionCleanPackage: "Delete ComfyXData/Updates",
	session.ActionExit:         "Quit comfyx",
}

// NewApp creates a new App instance
func NewApp(ctrl *session.Controller, book *logbook.Logbook, opts ...AppOption) *App {
	items := make([]list.Item, 0, len(session.Actions))
	for _, action := range session.Actions {
		items = append(items, menuItem{action: action, desc: menuDescriptions[action]})
	}
	mainMenu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "⬡ COMFYX"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)

	input := textinput.New()
	input.Prompt = "› "
	input.CharLimit = 512

	app := &App{
		state:        stateMainMenu,
		ctrl:         ctrl,
		logbook:      book,
		mainMenu:     mainMenu,
		input:        input,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.waitForConfigChange()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-logPanelLines-10))
		a.input.Width = max(10, msg.Width-30)
		return a, nil

	case pollMsg:
		return a, a.handlePoll()

	case configChangedMsg:
		if err := a.ctrl.Reload(); err == nil {
			a.logbook.Log("Configuration changed on disk, reloaded")
			if a.state == stateConfig && a.editor != nil && a.editor.State() == session.Browsing {
				a.statusMsg = "Configuration changed on disk; reopen the editor to see it"
			}
		}
		return a, a.waitForConfigChange()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		switch a.state {
		case stateMainMenu:
			return a.updateMainMenu(msg)
		case stateOperation:
			return a.updateOperation(msg)
		case stateConfig:
			return a.updateConfig(msg)
		}
	}

	if a.state == stateConfig && a.editor != nil && a.editor.State() == session.EditingField {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	if a.state == stateMainMenu {
		var cmd tea.Cmd
		a.mainMenu, cmd = a.mainMenu.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updateMainMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "enter":
		return a.handleMainMenuSelection()
	}
	var cmd tea.Cmd
	a.mainMenu, cmd = a.mainMenu.Update(msg)
	if item, ok := a.mainMenu.SelectedItem().(menuItem); ok {
		a.ctrl.Select(item.action)
	}
	return a, cmd
}

// handleMainMenuSelection processes the main menu selection
func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}
	a.ctrl.Select(item.action)

	switch item.action {
	case session.ActionBuild:
		return a.launch(a.ctrl.RunBuildAndExport)
	case session.ActionPackage:
		return a.launch(a.ctrl.RunCreatePackage)
	case session.ActionConfigure:
		a.editor = a.ctrl.EditConfiguration()
		a.state = stateConfig
		a.statusMsg = "↑/↓ select · enter edit · s save · esc back"
		return a, nil
	case session.ActionCleanArchive:
		return a.clean(a.ctrl.CleanArchiveArtifacts)
	case session.ActionCleanPackage:
		return a.clean(a.ctrl.CleanPackageArtifacts)
	case session.ActionExit:
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) launch(run func() (*process.Handle, error)) (tea.Model, tea.Cmd) {
	if _, err := run(); err != nil {
		if errors.Is(err, session.ErrBusy) {
			a.statusMsg = "An operation is already running"
		} else {
			a.statusMsg = fmt.Sprintf("Error: %v", err)
		}
		return a, nil
	}
	a.state = stateOperation
	a.statusMsg = a.ctrl.Status()
	return a, a.startPolling()
}

func (a *App) clean(run func() (session.CleanReport, error)) (tea.Model, tea.Cmd) {
	report, err := run()
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			a.statusMsg = "Cannot clean while an operation is running"
		} else {
			a.statusMsg = fmt.Sprintf("Error: %v", err)
		}
		return a, nil
	}
	a.statusMsg = report.String()
	return a, nil
}

func (a *App) updateOperation(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "enter":
		a.state = stateMainMenu
	}
	return a, nil
}

func (a *App) updateConfig(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.editor == nil {
		a.state = stateMainMenu
		return a, nil
	}
	if a.editor.State() == session.EditingField {
		switch msg.String() {
		case "enter":
			a.editor.Input(a.input.Value())
			a.editor.Commit()
			a.input.Blur()
			return a, nil
		case "esc":
			a.editor.Discard()
			a.input.Blur()
			return a, nil
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "esc", "q":
		a.editor = nil
		a.state = stateMainMenu
		a.statusMsg = ""
	case "up", "k":
		a.editor.Prev()
	case "down", "j":
		a.editor.Next()
	case "enter":
		a.editor.Enter()
		a.input.SetValue(a.editor.Buffer())
		a.input.CursorEnd()
		return a, a.input.Focus()
	case "s":
		if err := a.editor.Save(); err != nil {
			a.statusMsg = a.ctrl.Status()
			if a.statusMsg == "" {
				a.statusMsg = err.Error()
			}
			return a, nil
		}
		a.statusMsg = a.ctrl.Status()
	}
	return a, nil
}

func (a *App) startPolling() tea.Cmd {
	if a.polling {
		return nil
	}
	a.polling = true
	return a.tick()
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (a *App) handlePoll() tea.Cmd {
	status, ok := a.ctrl.Poll()
	if !ok || status.Completed() {
		a.polling = false
		if ok {
			a.statusMsg = a.ctrl.Status()
		}
		return nil
	}
	return a.tick()
}

func (a *App) waitForConfigChange() tea.Cmd {
	if a.watcher == nil {
		return nil
	}
	changes := a.watcher.Changes()
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return configChangedMsg{}
	}
}

// View renders the current state to a string.
func (a *App) View() string {
	var content string
	switch a.state {
	case stateOperation:
		content = a.renderOperation()
	case stateConfig:
		content = a.renderConfig()
	default:
		content = a.mainMenu.View()
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ COMFYX")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(40, a.width-4)).
		Render(content)

	sections := []string{header, box}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderOperation() string {
	h := a.ctrl.Handle()
	if h == nil {
		return "No operation has been started."
	}
	title := lipgloss.NewStyle().Bold(true).Render(string(h.Kind))
	status := h.Poll()
	var line string
	if status.Completed() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD068"))
		if !status.Succeeded() {
			style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
		}
		line = style.Render(fmt.Sprintf("Completed with exit code %d", status.ExitCode))
	} else {
		elapsed := time.Since(h.StartedAt).Truncate(time.Second)
		line = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F2C94C")).
			Render(fmt.Sprintf("Running… %s", elapsed))
	}
	hint := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("esc to return to the menu")
	return strings.Join([]string{title, line, "", hint}, "\n")
}

func (a *App) renderConfig() string {
	if a.editor == nil {
		return ""
	}
	label := lipgloss.NewStyle().Width(24)
	active := lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	lines := []string{lipgloss.NewStyle().Bold(true).Render("Configuration"), ""}
	for i, f := range a.editor.Fields() {
		marker := "  "
		name := label.Render(f.Label())
		value := a.editor.Value(i)
		if value == "" {
			value = muted.Render("(unset)")
		}
		if i == a.editor.Cursor() {
			marker = active.Render("› ")
			name = active.Inherit(label).Render(f.Label())
			if a.editor.State() == session.EditingField {
				value = a.input.View()
			}
		}
		if f.Kind() == buildconfig.KindBool && a.editor.State() == session.Browsing && a.editor.Value(i) != "" {
			value = fmt.Sprintf("%s %s", value, muted.Render("(true/false)"))
		}
		lines = append(lines, marker+name+value)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
