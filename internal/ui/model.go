package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/olivier-w/spectro/internal/analyzer"
	"github.com/olivier-w/spectro/internal/capture"
	"github.com/olivier-w/spectro/internal/display"
	"github.com/olivier-w/spectro/internal/export"
	"github.com/olivier-w/spectro/internal/params"
	"github.com/olivier-w/spectro/internal/raster"
	"github.com/olivier-w/spectro/internal/settings"
	"github.com/olivier-w/spectro/internal/util"
)

const (
	galleryLimit = 20
	levelWidth   = 10
)

// Source is the audio input driving the analyzer.
type Source interface {
	Run(ctx context.Context, w io.Writer) error
	Title() string
	Close() error
}

// progressSource is implemented by file playback.
type progressSource interface {
	Position() time.Duration
	Duration() time.Duration
}

// ExportOptions controls where captures are written.
type ExportOptions struct {
	Dir    string
	Prefix string
	Format export.Format
}

// Options wires the model to the pipeline. Settings, Source and Analyzer may
// be nil.
type Options struct {
	Context  context.Context
	Params   *params.Store
	Engine   *raster.Engine
	Recorder *capture.Recorder
	Stream   *capture.StreamController
	Analyzer *analyzer.Analyzer
	Renderer *display.Renderer
	Settings *settings.Store
	Source   Source
	// Tap receives the source PCM. It defaults to the analyzer.
	Tap    io.Writer
	Export ExportOptions
	// FrameRate is the stream capture frame rate.
	FrameRate int
	Logger    *slog.Logger
}

// Model is the Bubbletea model for the spectrogram view.
type Model struct {
	opts  Options
	names []params.Name

	selected int
	width    int
	height   int
	rows     int // terminal rows given to the raster

	level    levelMeter
	slider   progress.Model
	help     help.Model
	showHelp bool

	status    string
	statusErr bool
	statusAt  time.Time

	saving         bool
	streamStopping bool
	gallery        []settings.Entry

	sourceDone bool
	quitting   bool
	finishing  bool

	now func() time.Time
}

// New creates the model. The engine should already be attached to the
// recorder and stream controller.
func New(opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Export.Format == "" {
		opts.Export.Format = export.PNG
	}
	if opts.Export.Dir == "" {
		opts.Export.Dir = "."
	}
	if opts.Tap == nil && opts.Analyzer != nil {
		opts.Tap = opts.Analyzer
	}
	if opts.Renderer == nil {
		opts.Renderer = display.NewRenderer(display.DetectMode())
	}

	fps := opts.FrameRate
	if opts.Analyzer != nil {
		fps = opts.Analyzer.Config().FrameRate
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = max(fps, 30)
	}

	slider := progress.New(
		progress.WithScaledGradient("#FF8C00", "#FF5F1F"),
		progress.WithoutPercentage(),
	)
	slider.Width = 24

	return Model{
		opts:   opts,
		names:  opts.Params.Names(),
		level:  newLevelMeter(fps),
		slider: slider,
		help:   help.New(),
		now:    time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(), loadGallery(m.opts.Settings)}
	title := "spectro"
	if m.opts.Analyzer != nil {
		cmds = append(cmds, waitFrame(m.opts.Analyzer.Frames()))
	}
	if m.opts.Source != nil {
		title = m.opts.Source.Title() + " · spectro"
		if m.opts.Tap != nil {
			cmds = append(cmds, runSource(m.opts.Context, m.opts.Source, m.opts.Tap))
		}
	}
	cmds = append(cmds, tea.SetWindowTitle(title))
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := m.handleMsg(msg)
	return next, cmd
}

func (m Model) handleMsg(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.finishing {
			return m, nil
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case frameMsg:
		if m.quitting {
			return m, nil
		}
		m.opts.Engine.Draw(msg.Bars)
		m.level.step(msg.Level)
		if m.opts.Analyzer == nil {
			return m, nil
		}
		return m, waitFrame(m.opts.Analyzer.Frames())

	case framesClosedMsg:
		return m, nil

	case sourceEndedMsg:
		m.sourceDone = true
		if msg.err != nil {
			m.opts.Logger.Error("audio input stopped", "error", msg.err)
			m.setStatus(fmt.Sprintf("Input stopped: %v", msg.err), true)
		} else if !m.quitting {
			m.setStatus("Input ended", false)
		}
		return m, nil

	case tickMsg:
		if m.status != "" && m.now().Sub(m.statusAt) > statusTTL {
			m.status = ""
			m.statusErr = false
		}
		return m, tickCmd()

	case stillSavedMsg:
		m.saving = false
		if msg.err != nil {
			m.opts.Logger.Error("still capture export failed", "error", msg.err)
			m.setStatus(fmt.Sprintf("Capture failed: %v", msg.err), true)
			return m, nil
		}
		m.opts.Logger.Info("still capture saved", "path", msg.path, "width", msg.entry.Width, "height", msg.entry.Height)
		m.setStatus("Saved "+msg.path, false)
		return m, recordCapture(m.opts.Settings, msg.entry)

	case streamDoneMsg:
		m.streamStopping = false
		if msg.result.Err != nil {
			m.setStatus(fmt.Sprintf("Video failed: %v", msg.result.Err), true)
			return m, nil
		}
		m.setStatus("Saved "+msg.result.Path, false)
		return m, recordCapture(m.opts.Settings, streamEntry(msg.result, m.now()))

	case galleryMsg:
		if msg.err != nil {
			m.opts.Logger.Warn("capture gallery unavailable", "error", msg.err)
			return m, nil
		}
		m.gallery = msg.entries
		return m, nil

	case paramSavedMsg:
		if msg.err != nil {
			m.opts.Logger.Warn("saving parameter failed", "error", msg.err)
		}
		return m, nil

	case quitReadyMsg:
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	p := m.opts.Params
	switch {
	case isQuit(msg):
		return m.quit()

	case key.Matches(msg, keys.Pause):
		m.opts.Engine.TogglePause()

	case key.Matches(msg, keys.Orientation):
		o := p.ToggleOrientation()
		v := 0.0
		if o == params.Vertical {
			v = 1
		}
		return m, saveParam(m.opts.Settings, params.Change{Name: params.OrientationKey, Value: v})

	case key.Matches(msg, keys.Clear):
		m.opts.Engine.Clear()

	case key.Matches(msg, keys.Still):
		return m.toggleStill()

	case key.Matches(msg, keys.Stream):
		return m.toggleStream()

	case key.Matches(msg, keys.Next):
		m.selected = (m.selected + 1) % len(m.names)

	case key.Matches(msg, keys.Prev):
		m.selected = (m.selected + len(m.names) - 1) % len(m.names)

	case key.Matches(msg, keys.Inc), key.Matches(msg, keys.Dec):
		steps := 1
		if key.Matches(msg, keys.Dec) {
			steps = -1
		}
		name := m.names[m.selected]
		v := p.Nudge(name, steps)
		return m, saveParam(m.opts.Settings, params.Change{Name: name, Value: v})

	case key.Matches(msg, keys.Reset):
		name := m.names[m.selected]
		v := p.Reset(name)
		return m, saveParam(m.opts.Settings, params.Change{Name: name, Value: v})

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		m.layout()
	}
	return m, nil
}

func (m Model) toggleStill() (Model, tea.Cmd) {
	rec := m.opts.Recorder
	if rec.Recording() {
		c, ok := rec.Stop()
		if !ok {
			return m, nil
		}
		m.saving = true
		m.setStatus("Saving capture...", false)
		return m, saveStillCmd(m.opts.Export, c)
	}

	height := columnHeight(m.opts.Engine.Image(), m.opts.Params.Orientation())
	if !rec.Start(m.opts.Params.Int(params.Speed), height) {
		m.setStatus("Capture unavailable: empty viewport", true)
		return m, nil
	}
	m.opts.Logger.Info("still capture started", "height", height)
	m.setStatus("Capturing history", false)
	return m, nil
}

func (m Model) toggleStream() (Model, tea.Cmd) {
	sc := m.opts.Stream
	if sc == nil || m.streamStopping {
		return m, nil
	}
	if sc.Recording() {
		ch := sc.Stop()
		if ch == nil {
			return m, nil
		}
		m.streamStopping = true
		m.setStatus("Finishing video...", false)
		return m, waitStream(ch, false)
	}

	w, h := m.opts.Engine.Size()
	path, err := export.Path(m.opts.Export.Dir, m.opts.Export.Prefix, "mp4", m.now())
	if err == nil {
		err = sc.Start(capture.StreamOptions{
			Width:      w,
			Height:     h,
			FrameRate:  m.opts.FrameRate,
			SampleRate: 48000,
			Channels:   2,
			Path:       path,
		})
	}
	if err != nil {
		m.opts.Logger.Error("stream capture rejected", "error", err)
		if errors.Is(err, capture.ErrEncoderUnavailable) {
			m.setStatus("Video capture unavailable (ffmpeg not found)", true)
		} else {
			m.setStatus(fmt.Sprintf("Video capture failed: %v", err), true)
		}
		return m, nil
	}
	m.setStatus("Recording video to "+path, false)
	return m, nil
}

func (m Model) quit() (Model, tea.Cmd) {
	m.quitting = true
	if m.opts.Source != nil {
		m.opts.Source.Close()
	}

	var still *capture.Capture
	if c, ok := m.opts.Recorder.Stop(); ok {
		still = &c
	}
	var stream <-chan capture.StreamResult
	if m.opts.Stream != nil {
		stream = m.opts.Stream.Stop()
	}
	if still == nil && stream == nil {
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
	}
	m.finishing = true
	return m, finalizeCmd(m.opts.Export, m.opts.Settings, still, stream)
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
	m.statusAt = m.now()
}

func (m Model) chromeLines() int {
	helpLines := 1
	if m.showHelp {
		for _, col := range keys.FullHelp() {
			helpLines = max(helpLines, len(col))
		}
	}
	// header, legend, slider, summary, status
	return 5 + helpLines
}

// layout sizes the raster to the space left by the chrome.
func (m *Model) layout() {
	m.rows = max(m.height-m.chromeLines(), 0)
	w, h := m.opts.Renderer.RasterSize(m.width, m.rows)
	if m.opts.Engine.Resize(w, h) {
		m.opts.Logger.Debug("raster resized", "width", w, "height", h)
	}
	m.help.Width = m.width
	m.slider.Width = min(max(m.width/3, 10), 40)
}

func (m Model) View() string {
	if m.quitting {
		if m.finishing {
			return "\n  " + statusStyle.Render("Finishing captures...") + "\n"
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if r := m.opts.Renderer.Render(m.opts.Engine.Image(), m.width, m.rows); r != "" {
		b.WriteString(r)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(renderLegend(m.opts.Engine.Reference(), m.opts.Params.Orientation(), m.width)))
	b.WriteString("\n")

	name := m.names[m.selected]
	b.WriteString(renderParam(name, m.opts.Params.Param(name), m.slider, true))
	b.WriteString("  ")
	b.WriteString(timeStyle.Render("lvl " + renderLevel(m.level.value(), levelWidth)))
	b.WriteString("\n")
	b.WriteString(renderParamSummary(m.opts.Params, name))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help.FullHelpView(keys.FullHelp()))
	} else {
		b.WriteString(m.help.ShortHelpView(keys.ShortHelp()))
	}
	return b.String()
}

func (m Model) renderHeader() string {
	left := headerStyle.Render("spectro")
	if m.opts.Source != nil {
		left += "  " + titleStyle.Render(m.opts.Source.Title())
	}
	if ps, ok := m.opts.Source.(progressSource); ok && ps.Duration() > 0 {
		left += "  " + timeStyle.Render(util.FormatDuration(ps.Position())+" / "+util.FormatDuration(ps.Duration()))
	}

	var right []string
	if m.opts.Engine.Paused() {
		right = append(right, statusStyle.Render("❚❚ paused"))
	}
	if sess, ok := m.opts.Recorder.Session(); ok {
		right = append(right, recStyle.Render(fmt.Sprintf("● REC %s · %d px",
			util.FormatDuration(m.now().Sub(sess.StartedAt)), sess.AccumulatedWidth)))
	}
	if m.opts.Stream != nil {
		if sess, ok := m.opts.Stream.Session(); ok {
			right = append(right, recStyle.Render("● VIDEO "+util.FormatDuration(m.now().Sub(sess.StartedAt))))
		}
	}
	if len(right) == 0 {
		return left
	}
	r := strings.Join(right, "  ")
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(r), 2)
	return left + strings.Repeat(" ", gap) + r
}

func (m Model) renderStatus() string {
	if m.status != "" {
		if m.statusErr {
			return errorStyle.Render(m.status)
		}
		return statusStyle.Render(m.status)
	}
	if len(m.gallery) > 0 {
		return helpStyle.Render(fmt.Sprintf("last capture: %s (%d recent)", m.gallery[0].Path, len(m.gallery)))
	}
	return ""
}
