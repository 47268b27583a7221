// Package monitor is the optional terminal display for a running relay.
//
// It follows the bubbletea Model/Update/View loop: relay events arrive as
// messages from a channel sink, and a ticker refreshes the status snapshot.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/quorumline/internal/events"
	"github.com/danmuck/quorumline/internal/producer"
	"github.com/danmuck/quorumline/internal/relay"
	"github.com/rs/zerolog"
)

const (
	refreshInterval = time.Second
	defaultMaxLines = 500
	headerHeight    = 5
	footerHeight    = 1
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// StatusFunc returns the current relay snapshot.
type StatusFunc func() relay.Status

type eventMsg events.Event

type feedClosedMsg struct{}

type tickMsg time.Time

// Model is the monitor state.
type Model struct {
	status StatusFunc
	feed   <-chan events.Event

	snapshot relay.Status
	lines    []string
	maxLines int
	minLevel zerolog.Level

	viewport viewport.Model
	width    int
	ready    bool
	closed   bool
}

func New(status StatusFunc, feed <-chan events.Event) Model {
	m := Model{
		status:   status,
		feed:     feed,
		maxLines: defaultMaxLines,
		minLevel: zerolog.InfoLevel,
	}
	if status != nil {
		m.snapshot = status()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.feed), tick())
}

func waitForEvent(feed <-chan events.Event) tea.Cmd {
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "d":
			if m.minLevel == zerolog.DebugLevel {
				m.minLevel = zerolog.InfoLevel
			} else {
				m.minLevel = zerolog.DebugLevel
			}
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := max(1, msg.Height-headerHeight-footerHeight)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.syncViewport()
		return m, nil
	case eventMsg:
		m.appendEvent(events.Event(msg))
		return m, waitForEvent(m.feed)
	case feedClosedMsg:
		m.closed = true
		return m, nil
	case tickMsg:
		if m.status != nil {
			m.snapshot = m.status()
		}
		return m, tick()
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) appendEvent(e events.Event) {
	if e.Level < m.minLevel {
		return
	}
	m.lines = append(m.lines, formatEvent(e))
	if over := len(m.lines) - m.maxLines; over > 0 {
		m.lines = append(m.lines[:0:0], m.lines[over:]...)
	}
	m.syncViewport()
}

func (m *Model) syncViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func formatEvent(e events.Event) string {
	level := fmt.Sprintf("%-5s", strings.ToUpper(e.Level.String()))
	switch {
	case e.Level >= zerolog.ErrorLevel:
		level = badStyle.Render(level)
	case e.Level == zerolog.WarnLevel:
		level = warnStyle.Render(level)
	default:
		level = mutedStyle.Render(level)
	}
	scope := e.Component
	if e.Producer != "" {
		scope += " " + e.Producer
	}
	return fmt.Sprintf("%s %s %s %s", e.At.Format("15:04:05"), level, labelStyle.Render(scope), e.Message)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(strings.Join(m.lines, "\n"))
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	st := m.snapshot
	lines := []string{
		titleStyle.Render("quorumd") + " " + mutedStyle.Render(st.ListenAddr),
		fmt.Sprintf("%s %d   %s %d/%d",
			labelStyle.Render("subscribers"), len(st.Subscribers),
			labelStyle.Render("round"), len(st.Round.Reported), len(st.Round.Expected)),
		fmt.Sprintf("%s %d   %s %s   %s %s",
			labelStyle.Render("released"), st.Rounds.Released,
			labelStyle.Render("agreed"), okStyle.Render(fmt.Sprint(st.Rounds.Agreed)),
			labelStyle.Render("disagreed"), badStyle.Render(fmt.Sprint(st.Rounds.Disagreed))),
	}

	producers := make([]string, 0, len(st.Producers))
	for _, p := range st.Producers {
		style := warnStyle
		if p.State == producer.StateConnected {
			style = okStyle
		}
		producers = append(producers, p.Key+" "+style.Render(string(p.State)))
	}
	lines = append(lines, labelStyle.Render("producers")+" "+strings.Join(producers, "  "))

	last := mutedStyle.Render("none")
	if st.LastResult != nil {
		last = fmt.Sprintf("#%d %s", st.LastResult.Round, st.LastResult.Line)
	}
	lines = append(lines, labelStyle.Render("last")+" "+last)

	width := max(20, m.width)
	return lipgloss.NewStyle().Width(width).Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter() string {
	level := "info"
	if m.minLevel == zerolog.DebugLevel {
		level = "debug"
	}
	hint := fmt.Sprintf("q quit  d toggle debug (%s)  arrows scroll", level)
	if m.closed {
		hint += "  feed closed"
	}
	return footerStyle.Render(hint)
}

// Run drives the monitor on the terminal until the user quits or ctx ends.
func Run(ctx context.Context, status StatusFunc, feed <-chan events.Event) error {
	p := tea.NewProgram(New(status, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
