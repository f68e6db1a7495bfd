package viz

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ProgressFunc samples orchestration progress: LORs completed and enqueued.
type ProgressFunc func() (done, total int64)

// DoneMsg signals that the projection finished (or failed).
type DoneMsg struct {
	Err error
}

type tickMsg time.Time

// Live is a bubbletea model showing projection progress while the
// orchestrator runs in the background.
type Live struct {
	progress ProgressFunc
	start    time.Time
	done     int64
	total    int64
	finished bool
	Err      error
}

func NewLive(p ProgressFunc) Live {
	return Live{progress: p, start: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Live) Init() tea.Cmd {
	return tick()
}

func (m Live) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.done, m.total = m.progress()
		return m, tick()
	case DoneMsg:
		m.finished = true
		m.Err = msg.Err
		m.done, m.total = m.progress()
		return m, tea.Quit
	case tea.KeyMsg:
		// The kernel has no abort path; keys only detach the view.
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Live) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("projecting") + "\n")

	frac := 0.0
	if m.total > 0 {
		frac = float64(m.done) / float64(m.total)
	}
	b.WriteString(progressBar(frac, 40) + "\n")
	b.WriteString(fmt.Sprintf("%d / %d LORs", m.done, m.total) + "\n")
	b.WriteString(subtleStyle.Render(time.Since(m.start).Round(time.Millisecond).String()) + "\n")
	if !m.finished {
		b.WriteString(subtleStyle.Render("q to detach") + "\n")
	}
	return b.String()
}

func progressBar(frac float64, width int) string {
	filled := int(frac * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return valueStyle.Render(strings.Repeat("█", filled) + strings.Repeat("░", width-filled))
}
