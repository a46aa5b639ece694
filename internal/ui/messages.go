package ui

import (
	"context"
	"errors"
	"image"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/olivier-w/spectro/internal/analyzer"
	"github.com/olivier-w/spectro/internal/capture"
	"github.com/olivier-w/spectro/internal/export"
	"github.com/olivier-w/spectro/internal/params"
	"github.com/olivier-w/spectro/internal/settings"
)

type tickMsg time.Time

type frameMsg analyzer.Frame

// framesClosedMsg means the analyzer will deliver no more frames.
type framesClosedMsg struct{}

type sourceEndedMsg struct{ err error }

type stillSavedMsg struct {
	path  string
	entry settings.Entry
	err   error
}

type streamDoneMsg struct {
	result capture.StreamResult
	quit   bool
}

type galleryMsg struct {
	entries []settings.Entry
	err     error
}

type paramSavedMsg struct{ err error }

type quitReadyMsg struct{}

const statusTTL = 5 * time.Second

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitFrame(frames <-chan analyzer.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			return framesClosedMsg{}
		}
		return frameMsg(f)
	}
}

// runSource pumps the audio source into w until it ends or is closed.
func runSource(ctx context.Context, src Source, w io.Writer) tea.Cmd {
	return func() tea.Msg {
		err := src.Run(ctx, w)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return sourceEndedMsg{err: err}
	}
}

func saveStillCmd(opts ExportOptions, c capture.Capture) tea.Cmd {
	return func() tea.Msg {
		path, err := export.SaveImage(opts.Dir, opts.Prefix, opts.Format, c.Image, c.StoppedAt)
		b := c.Image.Bounds()
		return stillSavedMsg{
			path: path,
			err:  err,
			entry: settings.Entry{
				Kind:      settings.KindStill,
				Path:      path,
				Width:     b.Dx(),
				Height:    b.Dy(),
				Duration:  c.StoppedAt.Sub(c.Session.StartedAt),
				CreatedAt: c.StoppedAt,
			},
		}
	}
}

func waitStream(ch <-chan capture.StreamResult, quit bool) tea.Cmd {
	return func() tea.Msg {
		return streamDoneMsg{result: <-ch, quit: quit}
	}
}

func loadGallery(s *settings.Store) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		entries, err := s.Captures(context.Background(), galleryLimit)
		return galleryMsg{entries: entries, err: err}
	}
}

func recordCapture(s *settings.Store, e settings.Entry) tea.Cmd {
	if s == nil || e.Path == "" {
		return nil
	}
	return func() tea.Msg {
		if _, err := s.AddCapture(context.Background(), e); err != nil {
			return galleryMsg{err: err}
		}
		entries, err := s.Captures(context.Background(), galleryLimit)
		return galleryMsg{entries: entries, err: err}
	}
}

func saveParam(s *settings.Store, c params.Change) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		return paramSavedMsg{err: s.Save(context.Background(), c)}
	}
}

// finalizeCmd saves a running still capture and waits for the stream
// encoder before quitting.
func finalizeCmd(opts ExportOptions, gallery *settings.Store, still *capture.Capture, stream <-chan capture.StreamResult) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if still != nil {
			if msg := saveStillCmd(opts, *still)().(stillSavedMsg); msg.err == nil && gallery != nil {
				gallery.AddCapture(ctx, msg.entry)
			}
		}
		if stream != nil {
			select {
			case res := <-stream:
				if res.Err == nil && gallery != nil {
					gallery.AddCapture(ctx, streamEntry(res, time.Now()))
				}
			case <-time.After(10 * time.Second):
			}
		}
		return quitReadyMsg{}
	}
}

func streamEntry(res capture.StreamResult, stoppedAt time.Time) settings.Entry {
	return settings.Entry{
		Kind:      settings.KindStream,
		Path:      res.Path,
		Width:     res.Session.Width,
		Height:    res.Session.Height,
		Duration:  stoppedAt.Sub(res.Session.StartedAt),
		CreatedAt: stoppedAt,
	}
}

// columnHeight is the capture height for the current orientation: history
// columns are transposed rows in vertical mode.
func columnHeight(img *image.RGBA, o params.Orientation) int {
	if img == nil {
		return 0
	}
	if o == params.Vertical {
		return img.Rect.Dx()
	}
	return img.Rect.Dy()
}
