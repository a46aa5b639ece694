package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/olivier-w/spectro/internal/analyzer"
	"github.com/olivier-w/spectro/internal/audio"
	"github.com/olivier-w/spectro/internal/capture"
	"github.com/olivier-w/spectro/internal/config"
	"github.com/olivier-w/spectro/internal/display"
	"github.com/olivier-w/spectro/internal/export"
	"github.com/olivier-w/spectro/internal/media"
	"github.com/olivier-w/spectro/internal/params"
	"github.com/olivier-w/spectro/internal/preview"
	"github.com/olivier-w/spectro/internal/raster"
	"github.com/olivier-w/spectro/internal/settings"
	"github.com/olivier-w/spectro/internal/ui"
)

const version = "0.1.0"

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML config file")
		device       = flag.String("device", "", "Capture device name (ffmpeg input)")
		format       = flag.String("format", "", "Capture input format (pulse, alsa, avfoundation, dshow)")
		color        = flag.String("color", "", "Colour mode: auto, truecolor, 256, 16, ascii")
		outDir       = flag.String("out", "", "Directory for captures")
		prefix       = flag.String("prefix", "", "File name prefix for captures")
		previewAddr  = flag.String("preview", "", "Serve a browser preview on this address")
		settingsPath = flag.String("settings", "", "Settings database path")
		logLevel     = flag.String("log-level", "", "Log level (error, warn, info, debug)")
		logFile      = flag.String("log-file", "", "Log file path")
		speed        = flag.Int("speed", 0, "Scroll speed in pixels per frame (1-4)")
		resolution   = flag.Int("resolution", 0, "FFT size exponent, 1-4 maps to 4096-32768")
		vertical     = flag.Bool("vertical", false, "Scroll vertically")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("spectro %s\n", version)
		return
	}

	var overrides config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			overrides.Device = device
		case "format":
			overrides.Format = format
		case "color":
			overrides.Color = color
		case "out":
			overrides.ExportDir = outDir
		case "prefix":
			overrides.Prefix = prefix
		case "preview":
			overrides.PreviewAddr = previewAddr
		case "settings":
			overrides.SettingsPath = settingsPath
		case "log-level":
			overrides.LogLevel = logLevel
		case "log-file":
			overrides.LogFile = logFile
		case "speed":
			overrides.Speed = speed
		case "resolution":
			overrides.Resolution = resolution
		case "vertical":
			overrides.Vertical = vertical
		}
	})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	var input string
	if flag.NArg() > 1 {
		printUsage()
		os.Exit(2)
	}
	if flag.NArg() == 1 {
		input = flag.Arg(0)
		if err := checkInput(input); err != nil {
			fatal(err)
		}
	}

	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fatal(err)
	}
	logger, logCloser, err := setupLogger(level, config.ExpandPath(cfg.Logging.File))
	if err != nil {
		fatal(err)
	}
	defer logCloser.Close()

	// No capture backend means there is nothing to draw.
	if input == "" && !audio.FFmpegAvailable() {
		fatal(fmt.Errorf("live input needs ffmpeg: %w", audio.ErrFFmpegNotFound))
	}
	if input != "" {
		if err := audio.InitOutput(); err != nil {
			fatal(fmt.Errorf("audio output: %w", err))
		}
	}

	if err := run(cfg, input, logger); err != nil {
		logger.Error("exiting", "error", err)
		fatal(err)
	}
}

func run(cfg config.Config, input string, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newParams(cfg.Params)

	var store *settings.Store
	if cfg.Settings.Path != "" {
		s, err := settings.Open(config.ExpandPath(cfg.Settings.Path))
		if err != nil {
			logger.Warn("settings unavailable, tunables will not persist", "error", err)
		} else {
			store = s
			defer store.Close()
			if err := store.Restore(ctx, p); err != nil {
				logger.Warn("restoring settings failed", "error", err)
			}
		}
	}

	acfg := analyzer.DefaultConfig()
	acfg.FrameRate = cfg.Analyzer.FrameRate
	acfg.BandsPerOctave = cfg.Analyzer.BandsPerOctave
	acfg.MinFreq = cfg.Analyzer.MinFreq
	acfg.MaxFreq = cfg.Analyzer.MaxFreq
	acfg.MinDB = cfg.Analyzer.MinDB
	acfg.MaxDB = cfg.Analyzer.MaxDB
	acfg.FFTSize = p.FFTSize()
	acfg.Smoothing = p.Get(params.Smoothing)
	an, err := analyzer.New(acfg)
	if err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}
	bindAnalyzer(p, an, logger)

	mode, err := display.ParseMode(cfg.Display.Color)
	if err != nil {
		return err
	}
	exportFormat, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}

	engine := raster.New(p, 0, 0)
	recorder := capture.NewRecorder()
	stream := capture.NewStreamController(capture.NewFFmpegEncoder, logger)
	engine.Attach(recorder)
	engine.Attach(stream)

	if cfg.Preview.Addr != "" {
		var gallery preview.Gallery
		if store != nil {
			gallery = store
		}
		srv := preview.New(p, gallery, cfg.Preview.FPS, logger)
		engine.Attach(srv)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Preview.Addr); err != nil {
				logger.Error("preview server stopped", "addr", cfg.Preview.Addr, "error", err)
			}
		}()
	}

	logger.Info("starting",
		"input", inputLabel(input),
		"color", mode.String(),
		"fft_size", acfg.FFTSize,
		"frame_rate", acfg.FrameRate,
		"export_dir", cfg.Export.Dir,
	)

	var opened ui.Source
	open := func(ctx context.Context) (ui.Source, error) {
		src, err := openInput(ctx, cfg, input)
		if err != nil {
			logger.Warn("audio input not initiated", "input", inputLabel(input), "error", err)
			return nil, err
		}
		return src, nil
	}
	build := func(src ui.Source) ui.Model {
		opened = src
		logger.Info("audio input initiated", "title", src.Title())
		return ui.New(ui.Options{
			Context:  ctx,
			Params:   p,
			Engine:   engine,
			Recorder: recorder,
			Stream:   stream,
			Analyzer: an,
			Renderer: display.NewRenderer(mode),
			Settings: store,
			Source:   src,
			Tap:      io.MultiWriter(an, stream),
			Export: ui.ExportOptions{
				Dir:    config.ExpandPath(cfg.Export.Dir),
				Prefix: cfg.Export.Prefix,
				Format: exportFormat,
			},
			FrameRate: acfg.FrameRate,
			Logger:    logger,
		})
	}

	label := "Waiting for audio device..."
	if input != "" {
		label = "Opening " + filepath.Base(input) + "..."
	}
	program := tea.NewProgram(newStartupModel(ctx, label, open, build), tea.WithAltScreen())
	_, err = program.Run()

	cancel()
	if opened != nil {
		opened.Close()
	}
	return err
}

// bindAnalyzer applies resolution and smoothing changes to the analyzer as
// soon as Set returns, so the next frame uses them.
func bindAnalyzer(p *params.Store, an *analyzer.Analyzer, logger *slog.Logger) {
	p.Observe(func(c params.Change) {
		switch c.Name {
		case params.Resolution:
			if err := an.SetFFTSize(params.FFTSizeFor(int(c.Value))); err != nil {
				logger.Warn("fft resize failed", "error", err)
			}
		case params.Smoothing:
			an.SetSmoothing(c.Value)
		}
	})
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newParams(pc config.ParamsConfig) *params.Store {
	p := params.New()
	p.Set(params.Midpoint, pc.Midpoint)
	p.Set(params.Steepness, pc.Steepness)
	p.Set(params.Smoothing, pc.Smoothing)
	p.Set(params.Resolution, float64(pc.Resolution))
	p.Set(params.Speed, float64(pc.Speed))
	if pc.Vertical {
		p.SetOrientation(params.Vertical)
	}
	return p
}

func openInput(ctx context.Context, cfg config.Config, input string) (ui.Source, error) {
	switch {
	case input == "":
		return audio.OpenDevice(ctx, audio.DeviceConfig{
			Format:      cfg.Input.Format,
			Name:        cfg.Input.Device,
			OpenTimeout: cfg.Input.OpenTimeout(),
		})
	case isURL(input):
		pb, err := audio.OpenURL(input)
		if err != nil {
			return nil, err
		}
		pb.SetVolume(cfg.Input.Volume)
		return pb, nil
	default:
		pb, err := audio.OpenFile(input)
		if err != nil {
			return nil, err
		}
		pb.SetVolume(cfg.Input.Volume)
		return pb, nil
	}
}

// checkInput validates a file argument before the TUI starts.
func checkInput(input string) error {
	if isURL(input) {
		if !audio.FFmpegAvailable() {
			return fmt.Errorf("streams need ffmpeg: %w", audio.ErrFFmpegNotFound)
		}
		return nil
	}
	info, err := os.Stat(input)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", input)
	}
	ext := strings.ToLower(filepath.Ext(input))
	if !media.IsSupportedExt(ext) {
		return fmt.Errorf("unsupported format %s (supported: %s)", ext, media.SupportedExtsList())
	}
	if media.NeedsFFmpeg(ext) && !audio.FFmpegAvailable() {
		return fmt.Errorf("%s files need ffmpeg: %w", ext, audio.ErrFFmpegNotFound)
	}
	return nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func inputLabel(input string) string {
	if input == "" {
		return "capture device"
	}
	return input
}

func fatal(err error) {
	if errors.Is(err, audio.ErrFFmpegNotFound) {
		fmt.Fprintf(os.Stderr, "Error: %v\nInstall ffmpeg and make sure it is on PATH.\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func printUsage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "spectro %s - scrolling spectrogram for the terminal\n\n", version)
	fmt.Fprintf(out, "Usage:\n  spectro [flags] [file or URL]\n\n")
	fmt.Fprintf(out, "With no argument the default capture device is analysed.\n\n")
	fmt.Fprintf(out, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(out, "\nControls:\n")
	fmt.Fprintf(out, "  space pause · o orientation · enter clear · c still capture · v video capture\n")
	fmt.Fprintf(out, "  tab/shift+tab select parameter · ←/→ adjust · r reset · ? help · q quit\n")
}
