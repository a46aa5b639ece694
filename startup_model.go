package main

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/olivier-w/spectro/internal/audio"
	"github.com/olivier-w/spectro/internal/ui"
)

type startupPhase uint8

const (
	phaseInitiating startupPhase = iota
	phaseFailed
)

// openFunc acquires the audio input. It may block for the device open
// timeout.
type openFunc func(ctx context.Context) (ui.Source, error)

// buildFunc turns an opened input into the spectrogram model.
type buildFunc func(src ui.Source) ui.Model

type startupResolvedMsg struct {
	source ui.Source
	err    error
}

// startupModel shows the "not initiated" screen until the audio input is
// available, then hands over to the spectrogram model.
type startupModel struct {
	ctx     context.Context
	open    openFunc
	build   buildFunc
	label   string
	phase   startupPhase
	errMsg  string
	hint    string
	width   int
	height  int
	spinner spinner.Model
}

func newStartupModel(ctx context.Context, label string, open openFunc, build buildFunc) startupModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	return startupModel{
		ctx:     ctx,
		open:    open,
		build:   build,
		label:   label,
		phase:   phaseInitiating,
		spinner: s,
	}
}

func (m startupModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.openCmd(), tea.SetWindowTitle("spectro"))
}

func (m startupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.phase == phaseInitiating {
			return m, cmd
		}
		return m, nil

	case startupResolvedMsg:
		if msg.err != nil {
			m.phase = phaseFailed
			m.errMsg = msg.err.Error()
			m.hint = failureHint(msg.err)
			return m, nil
		}

		model := m.build(msg.source)
		cmds := []tea.Cmd{model.Init()}
		if m.width > 0 || m.height > 0 {
			w, h := m.width, m.height
			cmds = append(cmds, func() tea.Msg {
				return tea.WindowSizeMsg{Width: w, Height: h}
			})
		}
		return model, tea.Batch(cmds...)

	case tea.KeyMsg:
		if startupIsQuit(msg) {
			return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
		}
		if m.phase == phaseFailed && (msg.String() == "r" || msg.String() == "enter") {
			m.phase = phaseInitiating
			m.errMsg = ""
			m.hint = ""
			return m, tea.Batch(m.spinner.Tick, m.openCmd())
		}
	}
	return m, nil
}

func (m startupModel) openCmd() tea.Cmd {
	ctx, open := m.ctx, m.open
	return func() tea.Msg {
		src, err := open(ctx)
		return startupResolvedMsg{source: src, err: err}
	}
}

func (m startupModel) View() string {
	var b strings.Builder
	b.WriteString("\n  ")
	b.WriteString(startupHeaderStyle.Render("spectro"))
	b.WriteString("\n\n  ")

	if m.phase == phaseInitiating {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(startupStatusStyle.Render(m.label))
		b.WriteString("\n\n  ")
		b.WriteString(startupHelpStyle.Render("q quit"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(startupStatusStyle.Render("Not initiated"))
	b.WriteString("\n\n  ")
	b.WriteString(startupErrorStyle.Render(m.errMsg))
	b.WriteString("\n")
	if m.hint != "" {
		b.WriteString("  ")
		b.WriteString(startupHelpStyle.Render(m.hint))
		b.WriteString("\n")
	}
	b.WriteString("\n  ")
	b.WriteString(startupHelpStyle.Render("r retry · q quit"))
	b.WriteString("\n")
	return b.String()
}

func failureHint(err error) string {
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		return "Check that the input device exists and that access is allowed."
	}
	return ""
}

func startupIsQuit(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return true
	}
	return false
}

var (
	startupHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"})
	startupStatusStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BBBBBB"})
	startupHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})
	startupErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#A00000", Dark: "#FF8080"})
)
