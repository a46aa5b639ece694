package ui

import (
	"errors"
	"image"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/olivier-w/spectro/internal/analyzer"
	"github.com/olivier-w/spectro/internal/capture"
	"github.com/olivier-w/spectro/internal/display"
	"github.com/olivier-w/spectro/internal/params"
	"github.com/olivier-w/spectro/internal/raster"
)

type nopEncoder struct {
	mu     sync.Mutex
	frames int
}

func (e *nopEncoder) WriteFrame(*image.RGBA) error {
	e.mu.Lock()
	e.frames++
	e.mu.Unlock()
	return nil
}
func (e *nopEncoder) WriteAudio([]byte) error { return nil }
func (e *nopEncoder) Close() error            { return nil }

func newTestModel(t *testing.T, factory capture.EncoderFactory) Model {
	t.Helper()
	p := params.New()
	e := raster.New(p, 0, 0)
	rec := capture.NewRecorder()
	sc := capture.NewStreamController(factory, nil)
	e.Attach(rec)
	e.Attach(sc)
	m := New(Options{
		Params:   p,
		Engine:   e,
		Recorder: rec,
		Stream:   sc,
		Renderer: display.NewRenderer(display.ModeASCII),
		Export:   ExportOptions{Dir: t.TempDir(), Prefix: "test"},
	})
	next, _ := m.handleMsg(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testFrame(n int) frameMsg {
	bars := make([]analyzer.Bar, n)
	for i := range bars {
		bars[i] = analyzer.Bar{Frequency: 110 * float64(i+1), Magnitude: 0.9}
	}
	return frameMsg{Bars: bars, Level: 0.5}
}

func TestWindowSizeResizesRaster(t *testing.T) {
	m := newTestModel(t, nil)
	w, h := m.opts.Engine.Size()
	if w != 80 || h != 30-m.chromeLines() {
		t.Fatalf("raster = %dx%d, want 80x%d", w, h, 30-m.chromeLines())
	}

	m, _ = m.handleMsg(runes("?"))
	if _, h2 := m.opts.Engine.Size(); h2 >= h {
		t.Fatalf("expanded help should shrink the raster, got %d rows", h2)
	}
}

func TestFrameDrawsStrip(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = m.handleMsg(testFrame(4))
	img := m.opts.Engine.Image()
	if img.RGBAAt(79, img.Rect.Dy()-1) == raster.Background {
		t.Fatal("expected the leading strip to be painted")
	}
	if m.level.value() <= 0 {
		t.Fatal("expected level meter to move toward the frame level")
	}
}

func TestSpaceTogglesPause(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = m.handleMsg(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	if !m.opts.Engine.Paused() {
		t.Fatal("expected paused engine")
	}
	if !strings.Contains(m.View(), "paused") {
		t.Fatal("expected paused indicator in view")
	}
	m, _ = m.handleMsg(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	if m.opts.Engine.Paused() {
		t.Fatal("expected resumed engine")
	}
}

func TestParameterSelectionAndNudge(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = m.handleMsg(tea.KeyMsg{Type: tea.KeyTab})
	if m.names[m.selected] != params.Steepness {
		t.Fatalf("selected %s, want steepness", m.names[m.selected])
	}
	m, _ = m.handleMsg(tea.KeyMsg{Type: tea.KeyRight})
	if got := m.opts.Params.Get(params.Steepness); got != 10.5 {
		t.Fatalf("steepness = %v, want 10.5", got)
	}
	m, _ = m.handleMsg(tea.KeyMsg{Type: tea.KeyShiftTab})
	m, _ = m.handleMsg(tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.names[m.selected] != params.Speed {
		t.Fatalf("selected %s, want speed (wrap around)", m.names[m.selected])
	}
	for range 10 {
		m, _ = m.handleMsg(tea.KeyMsg{Type: tea.KeyRight})
	}
	if got := m.opts.Params.Int(params.Speed); got != 4 {
		t.Fatalf("speed = %d, want clamped 4", got)
	}
	m, _ = m.handleMsg(runes("r"))
	if got := m.opts.Params.Int(params.Speed); got != 1 {
		t.Fatalf("speed after reset = %d, want 1", got)
	}
}

func TestOrientationToggle(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = m.handleMsg(runes("o"))
	if m.opts.Params.Orientation() != params.Vertical {
		t.Fatal("expected vertical orientation")
	}
}

func TestStillCaptureRoundTrip(t *testing.T) {
	m := newTestModel(t, nil)
	m.opts.Params.Set(params.Speed, 2)
	m, _ = m.handleMsg(runes("c"))
	if !m.opts.Recorder.Recording() {
		t.Fatal("expected still capture to start")
	}
	m, _ = m.handleMsg(testFrame(4))
	m, _ = m.handleMsg(testFrame(4))
	if !strings.Contains(m.View(), "REC") {
		t.Fatal("expected recording timer in header")
	}

	m, cmd := m.handleMsg(runes("c"))
	if m.opts.Recorder.Recording() || !m.saving || cmd == nil {
		t.Fatal("expected capture to stop and save")
	}
	msg, ok := cmd().(stillSavedMsg)
	if !ok {
		t.Fatalf("expected stillSavedMsg")
	}
	if msg.err != nil {
		t.Fatalf("save failed: %v", msg.err)
	}
	if _, err := os.Stat(msg.path); err != nil {
		t.Fatalf("capture file missing: %v", err)
	}
	if msg.entry.Width != 6 || msg.entry.Height != 30-m.chromeLines() {
		t.Fatalf("entry = %+v", msg.entry)
	}

	m, _ = m.handleMsg(msg)
	if m.saving || !strings.Contains(m.status, msg.path) {
		t.Fatalf("status = %q", m.status)
	}
}

func TestStreamCaptureStartStop(t *testing.T) {
	enc := &nopEncoder{}
	m := newTestModel(t, func(capture.StreamOptions) (capture.Encoder, error) { return enc, nil })

	m, _ = m.handleMsg(runes("v"))
	if !m.opts.Stream.Recording() {
		t.Fatalf("expected stream capture, status %q", m.status)
	}
	m, _ = m.handleMsg(testFrame(3))

	m, cmd := m.handleMsg(runes("v"))
	if !m.streamStopping || cmd == nil {
		t.Fatal("expected stop to wait for the encoder")
	}
	done, ok := cmd().(streamDoneMsg)
	if !ok || done.result.Err != nil {
		t.Fatalf("unexpected stream result %+v", done)
	}
	if !strings.HasSuffix(done.result.Path, ".mp4") {
		t.Fatalf("path = %q", done.result.Path)
	}
	m, _ = m.handleMsg(done)
	if m.streamStopping {
		t.Fatal("expected stopping flag cleared")
	}
}

func TestStreamUnavailableLeavesStateUntouched(t *testing.T) {
	m := newTestModel(t, func(capture.StreamOptions) (capture.Encoder, error) {
		return nil, capture.ErrEncoderUnavailable
	})
	m.opts.Engine.Pause()
	m, _ = m.handleMsg(runes("v"))
	if m.opts.Stream.Recording() {
		t.Fatal("expected no stream capture")
	}
	if !m.statusErr || !strings.Contains(m.status, "unavailable") {
		t.Fatalf("status = %q", m.status)
	}
	if !m.opts.Engine.Paused() || m.opts.Params.Orientation() != params.Horizontal {
		t.Fatal("pipeline state changed by a rejected capture")
	}
}

func TestStatusExpires(t *testing.T) {
	m := newTestModel(t, nil)
	now := time.Unix(100, 0)
	m.now = func() time.Time { return now }
	m.setStatus("hello", false)

	m, _ = m.handleMsg(tickMsg(now.Add(time.Second)))
	if m.status == "" {
		t.Fatal("status expired too early")
	}
	now = now.Add(statusTTL + time.Second)
	m, _ = m.handleMsg(tickMsg(now))
	if m.status != "" {
		t.Fatal("expected status to expire")
	}
}

func TestSourceErrorShown(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = m.handleMsg(sourceEndedMsg{err: errors.New("device unplugged")})
	if !m.sourceDone || !strings.Contains(m.status, "device unplugged") {
		t.Fatalf("status = %q", m.status)
	}
}

func TestQuitFinalizesRunningCaptures(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = m.handleMsg(runes("c"))
	m, _ = m.handleMsg(testFrame(2))

	m, cmd := m.handleMsg(runes("q"))
	if !m.quitting || !m.finishing || cmd == nil {
		t.Fatal("expected quit to finalize the capture first")
	}
	if _, ok := cmd().(quitReadyMsg); !ok {
		t.Fatal("expected quitReadyMsg")
	}
	entries, _ := os.ReadDir(m.opts.Export.Dir)
	if len(entries) != 1 {
		t.Fatalf("expected the running capture to be saved, found %d files", len(entries))
	}
}

func TestQuitWhenIdle(t *testing.T) {
	m := newTestModel(t, nil)
	m, cmd := m.handleMsg(runes("q"))
	if !m.quitting || m.finishing || cmd == nil {
		t.Fatal("expected immediate quit")
	}
	if m.View() != "" {
		t.Fatal("expected empty view after quit")
	}
}

func TestViewFitsWindow(t *testing.T) {
	m := newTestModel(t, nil)
	m, _ = m.handleMsg(testFrame(8))
	view := m.View()
	if got := lipgloss.Height(view); got > 30 {
		t.Fatalf("view height %d exceeds window", got)
	}
	if !strings.Contains(view, "spectro") || !strings.Contains(view, "midpoint") {
		t.Fatalf("view missing header or slider:\n%s", view)
	}
}

func TestLegend(t *testing.T) {
	ref := []analyzer.Bar{{Frequency: 220}, {Frequency: 311}, {Frequency: 440}, {Frequency: 622}, {Frequency: 880}}
	if got := renderLegend(ref, params.Horizontal, 40); got != "220 Hz ↑ 880 Hz · 5 bands" {
		t.Fatalf("horizontal legend = %q", got)
	}
	got := renderLegend(ref, params.Vertical, 40)
	if len([]rune(got)) != 40 {
		t.Fatalf("vertical legend width = %d", len([]rune(got)))
	}
	for _, label := range []string{"┴220", "┴440", "┴880"} {
		if !strings.Contains(got, label) {
			t.Fatalf("vertical legend %q missing %q", got, label)
		}
	}
	if strings.Contains(got, "311") {
		t.Fatalf("vertical legend %q should only mark octaves of A", got)
	}
	if renderLegend(nil, params.Vertical, 40) != "" {
		t.Fatal("expected empty legend without a reference")
	}
}
