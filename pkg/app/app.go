package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kerbaras/novels/pkg/app/components"
	"github.com/kerbaras/novels/pkg/app/styles"
	"github.com/kerbaras/novels/pkg/services"
)

type tickMsg time.Time

type doneMsg struct {
	summary *services.Summary
	err     error
}

// Model is the terminal view of one download run. It only reads ledger
// snapshots; the engine does its work on its own goroutines.
type Model struct {
	title   string
	spinner spinner.Model
	panel   *components.ProgressPanel
	ledger  *services.Ledger
	cancel  context.CancelFunc

	done    bool
	summary *services.Summary
	err     error
}

func NewModel(title string, ledger *services.Ledger, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.StatusActive
	return Model{
		title:   title,
		spinner: s,
		panel:   components.NewProgressPanel(60),
		ledger:  ledger,
		cancel:  cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
	case tickMsg:
		m.panel.Update(m.ledger.Snapshot())
		if m.done {
			return m, tea.Quit
		}
		return m, tick()
	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		m.panel.Update(m.ledger.Snapshot())
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var header string
	switch {
	case m.err != nil:
		header = styles.StatusError.Render("✗ " + m.title)
	case m.done:
		header = styles.StatusDone.Render("✓ " + m.title)
	default:
		header = m.spinner.View() + styles.TitleStyle.Render(m.title)
	}

	out := header + "\n\n" + m.panel.View()
	if m.done {
		if m.err != nil {
			out += styles.StatusError.Render(fmt.Sprintf("failed: %v", m.err)) + "\n"
		} else if m.summary != nil && m.summary.Path != "" {
			out += styles.TextStyle.Render("saved to "+m.summary.Path) + "\n"
		}
	} else {
		out += styles.HelpStyle.Render("q to stop")
	}
	return out
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunDownload drives one download behind a live progress display. Pressing
// q cancels the run; the emitted prefix stays on disk.
func RunDownload(ctx context.Context, d *services.Downloader, bookID, title string) (*services.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title, d.Ledger(), cancel))

	go func() {
		summary, err := d.DownloadBook(ctx, bookID)
		p.Send(doneMsg{summary: summary, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(Model)
	return m.summary, m.err
}
