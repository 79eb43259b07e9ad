// Package ui binds the controller to a bubbletea program.
//
// Every tick message runs exactly one Session.Step followed by a render, so
// input handling, the state update and drawing never overlap.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/arrowblock/controller"
	"github.com/brensch/arrowblock/game"
	"github.com/brensch/arrowblock/render"
)

const maxInputLen = 32

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

type TickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

type Model struct {
	sess     *controller.Session
	queue    *controller.Queue // nil during replay playback
	board    *render.Board
	interval time.Duration
	logger   *slog.Logger

	input   string
	message string
	isError bool
	cols    int

	err         error
	interrupted bool
}

// New builds a model. Pass the live Queue the session polls, or nil for replay playback.
func New(sess *controller.Session, queue *controller.Queue, interval time.Duration, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	board := render.NewBoard(sess.State().Grid)
	board.Render(nil, sess.State())
	m := Model{
		sess:     sess,
		queue:    queue,
		board:    board,
		interval: interval,
		logger:   logger,
	}
	if queue == nil {
		m.message = "replay playback - q to stop"
	} else {
		m.message = "up/down/left/right start quit"
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tickCmd(m.interval)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if err := render.CheckSize(msg.Width, msg.Height, m.sess.State().Grid); err != nil {
			m.err = err
			m.logger.Error("terminal resized below minimum", "cols", msg.Width, "rows", msg.Height)
			return m, tea.Quit
		}
		m.cols = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		res := m.sess.Step()
		m.board.Render(&res.Prev, res.State)
		switch {
		case res.Err != nil:
			m.message, m.isError = res.Err.Error(), true
		case res.RecordErr != nil:
			m.message, m.isError = "replay log: "+res.RecordErr.Error(), true
		case res.Command != nil:
			m.message, m.isError = "> "+res.Command.String(), false
		}
		if m.sess.Finished() {
			return m, tea.Quit
		}
		return m, tickCmd(m.interval)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.interrupted = true
		return m, tea.Quit
	}

	if m.queue == nil {
		if msg.String() == "q" || msg.Type == tea.KeyEsc {
			m.interrupted = true
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		if tok := strings.TrimSpace(m.input); tok != "" {
			m.queue.Push(tok)
		}
		m.input = ""
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeyEsc:
		m.input = ""
	case tea.KeySpace:
		m.appendInput(" ")
	case tea.KeyRunes:
		m.appendInput(string(msg.Runes))
	}
	return m, nil
}

func (m *Model) appendInput(s string) {
	if len([]rune(m.input))+len([]rune(s)) > maxInputLen {
		return
	}
	m.input += s
}

// View draws the title and message on one line, then the board, status and
// input lines: grid height plus render.ChromeRows lines in all.
func (m Model) View() string {
	var sb strings.Builder
	mode := "live"
	if m.queue == nil {
		mode = "replay"
	}
	title := fmt.Sprintf("arrowblock (%s)", mode)
	sb.WriteString(titleStyle.Render(title))
	if m.message != "" {
		sb.WriteString("  ")
		msg := clip(m.message, max(m.cols, render.MinCols)-len(title)-2)
		if m.isError {
			sb.WriteString(errorStyle.Render(msg))
		} else {
			sb.WriteString(infoStyle.Render(msg))
		}
	}
	sb.WriteByte('\n')
	sb.WriteString(m.board.String())
	sb.WriteString(statusStyle.Render(render.StatusLine(m.sess.State())))
	sb.WriteByte('\n')
	if m.queue != nil {
		sb.WriteString("> " + m.input + "_")
		if n := m.queue.Len(); n > 0 {
			sb.WriteString(infoStyle.Render(fmt.Sprintf("  (%d queued)", n)))
		}
	}
	return sb.String()
}

// clip keeps s within n runes so the title line never wraps.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

// Err is the fatal UI error that ended the program, if any.
func (m Model) Err() error { return m.err }

// Interrupted reports that the user stopped the program with ctrl+c (or q during replay).
func (m Model) Interrupted() bool { return m.interrupted }

func (m Model) State() game.BlockState { return m.sess.State() }

// Run starts the program on the alternate screen and blocks until it exits.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(m, opts...)
	final, err := p.Run()
	fm, ok := final.(Model)
	if !ok {
		fm = m
	}
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			fm.interrupted = true
			return fm, nil
		}
		return fm, fmt.Errorf("tui: %w", err)
	}
	return fm, fm.err
}
