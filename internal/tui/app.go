// Package tui provides the interactive terminal view of a download pool.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)
)

const refreshInterval = 500 * time.Millisecond

// Options tune the view.
type Options struct {
	// Title is shown in the header.
	Title string
	// ExitWhenIdle quits once every download seen so far has finished.
	ExitWhenIdle bool
}

// App is the main TUI application model.
type App struct {
	source  Source
	opts    Options
	list    list.Model
	spinner spinner.Model

	snap    Snapshot
	seen    bool
	loaded  bool
	message string
	width   int
	height  int
}

// New creates a new TUI application reading from src.
func New(src Source, opts Options) *App {
	if opts.Title == "" {
		opts.Title = "fetchpool"
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &App{
		source:  src,
		opts:    opts,
		list:    newDownloadList(),
		spinner: sp,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.refresh(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.list.SetSize(msg.Width, max(msg.Height-4, 5))
		return a, nil

	case tea.KeyMsg:
		if a.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			return a, a.refresh()
		case "p":
			return a, a.setPaused(!a.snap.Paused)
		case "x", "delete":
			if item, ok := a.list.SelectedItem().(DownloadItem); ok {
				return a, a.remove(item.SerialID)
			}
			return a, nil
		}

	case snapshotMsg:
		a.loaded = true
		a.snap = msg.snap
		a.list.SetItems(listItems(msg.snap.Downloads))
		if len(msg.snap.Downloads) > 0 {
			a.seen = true
		} else if a.seen && a.opts.ExitWhenIdle && msg.snap.Waiting == 0 {
			return a, tea.Quit
		}
		return a, nil

	case tickMsg:
		return a, tea.Batch(a.refresh(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.list, cmd = a.list.Update(msg)
	return a, cmd
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	state := lipgloss.NewStyle().Foreground(successColor).Render(a.spinner.View() + " running")
	if a.snap.Paused {
		state = lipgloss.NewStyle().Foreground(warningColor).Render("◌ paused")
	}
	header := titleStyle.Render(a.opts.Title) + "  " + state
	header += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render(
		fmt.Sprintf("[%d working, %d free, %d waiting]  %s/s",
			a.snap.Working, a.snap.Free, a.snap.Waiting, humanize.IBytes(uint64(a.snap.Speed))))
	b.WriteString(header + "\n")

	if !a.loaded {
		b.WriteString("\n  Loading downloads...\n")
	} else {
		b.WriteString(a.list.View() + "\n")
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	status := fmt.Sprintf(" Downloads: %d | ↑↓:nav | /:filter | p:pause | x:remove | r:refresh | q:quit", len(a.snap.Downloads))
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}

func (a *App) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultClientTimeout)
		defer cancel()
		snap, err := a.source.Snapshot(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{snap}
	}
}

func (a *App) setPaused(paused bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultClientTimeout)
		defer cancel()
		if err := a.source.SetPaused(ctx, paused); err != nil {
			return errMsg{err}
		}
		if paused {
			return commandResultMsg{"Paused"}
		}
		return commandResultMsg{"Resumed"}
	}
}

func (a *App) remove(serialID int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultClientTimeout)
		defer cancel()
		if err := a.source.Remove(ctx, serialID); err != nil {
			return errMsg{err}
		}
		return commandResultMsg{fmt.Sprintf("Removed #%d", serialID)}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type snapshotMsg struct {
	snap Snapshot
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type tickMsg time.Time
