package progress

import (
	"fmt"
	"sort"
	"strings"
	"time"

	pbar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lea-sql/lea/internal/model"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// Terminal is a live-updating Sink built on bubbletea/bubbles/lipgloss:
// one line per node plus an overall completion bar.
type Terminal struct {
	events  chan Event
	done    chan struct{}
	program *tea.Program
}

// NewTerminal starts the bubbletea program in the background and
// returns a Sink that feeds it events. total is the active-set size,
// used for the overall completion bar.
func NewTerminal(total int) *Terminal {
	t := &Terminal{
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	m := runModel{
		nodes: map[string]*nodeState{},
		bar:   pbar.New(pbar.WithDefaultGradient()),
		total: total,
	}
	t.program = tea.NewProgram(m)

	go func() {
		defer close(t.done)
		if _, err := t.program.Run(); err != nil {
			fmt.Println(errStyle.Render(fmt.Sprintf("progress UI error: %v", err)))
		}
	}()
	go func() {
		for e := range t.events {
			t.program.Send(e)
		}
		// Only after every queued event has been forwarded; a doneMsg
		// sent from Close directly could overtake them.
		t.program.Send(doneMsg{})
	}()
	return t
}

func (t *Terminal) Emit(e Event) {
	t.events <- e
}

func (t *Terminal) Close() error {
	close(t.events)
	<-t.done
	return nil
}

type doneMsg struct{}

type nodeState struct {
	id       model.TableID
	status   Status
	duration time.Duration
	rows     int64
	err      string
	terminal bool
}

type runModel struct {
	nodes    map[string]*nodeState
	order    []string
	bar      pbar.Model
	total    int
	finished int
	quit     bool
}

func (m runModel) Init() tea.Cmd { return nil }

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case Event:
		key := msg.Node.Key()
		ns, ok := m.nodes[key]
		if !ok {
			ns = &nodeState{id: msg.Node}
			m.nodes[key] = ns
			m.order = append(m.order, key)
		}
		wasTerminal := ns.terminal
		ns.status = msg.Status
		ns.duration = msg.Duration
		ns.rows = msg.Rows
		ns.err = msg.Err
		ns.terminal = msg.Status != StatusStart
		if ns.terminal && !wasTerminal {
			m.finished++
		}
		return m, nil
	case doneMsg:
		m.quit = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m runModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("lea run"))
	b.WriteString("\n\n")

	order := append([]string{}, m.order...)
	sort.Strings(order)
	for _, key := range order {
		ns := m.nodes[key]
		b.WriteString(renderNodeLine(ns))
		b.WriteString("\n")
	}
	if m.total > 0 {
		b.WriteString("\n")
		b.WriteString(m.bar.ViewAs(float64(m.finished) / float64(m.total)))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %d/%d", m.finished, m.total)))
		b.WriteString("\n")
	}
	if m.quit {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("run complete"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderNodeLine(ns *nodeState) string {
	icon := "  "
	style := dimStyle
	switch ns.status {
	case StatusStart:
		icon, style = ">>", highlightStyle
	case StatusDone:
		icon, style = "OK", successStyle
	case StatusErrored:
		icon, style = "XX", errStyle
	case StatusSkipped:
		icon, style = "--", dimStyle
	case StatusSkippedDueToError:
		icon, style = "~~", errStyle
	}
	line := fmt.Sprintf("  %s %-40s", style.Render(icon), ns.id.String())
	if ns.duration > 0 {
		line += fmt.Sprintf(" %6s", ns.duration.Round(time.Millisecond))
	}
	if ns.rows > 0 {
		line += fmt.Sprintf("  %d rows", ns.rows)
	}
	if ns.err != "" {
		line += "  " + errStyle.Render(ns.err)
	}
	return line
}

var _ Sink = (*Terminal)(nil)
