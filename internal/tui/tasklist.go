package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/fentz26/fetchpool/internal/download"
	"github.com/fentz26/fetchpool/internal/taskpool"
)

var (
	statusTodo  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusDoing = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusDone  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
)

// DownloadItem implements list.Item for the download list
type DownloadItem struct {
	download.Info
}

func (i DownloadItem) FilterValue() string { return i.URI + " " + i.Tag }
func (i DownloadItem) Title() string       { return fmt.Sprintf("#%d %s", i.SerialID, i.URI) }
func (i DownloadItem) Description() string {
	desc := fmt.Sprintf("%s • %s • %s", formatStatus(i.Status), humanize.IBytes(uint64(i.CurrentLength)), i.Path)
	if i.Tag != "" {
		desc += " • " + i.Tag
	}
	return desc
}

func formatStatus(status taskpool.Status) string {
	switch status {
	case taskpool.StatusTodo:
		return statusTodo.Render("● waiting")
	case taskpool.StatusDoing:
		return statusDoing.Render("● downloading")
	case taskpool.StatusDone:
		return statusDone.Render("● done")
	case taskpool.StatusError:
		return statusError.Render("● failed")
	default:
		return status.String()
	}
}

func listItems(infos []download.Info) []list.Item {
	items := make([]list.Item, len(infos))
	for i, info := range infos {
		items[i] = DownloadItem{Info: info}
	}
	return items
}

func newDownloadList() list.Model {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Downloads"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	return l
}
