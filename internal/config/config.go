// Package config loads the YAML configuration and applies command-line
// overrides on top of it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration. Defaults live in Default so the rest
// of the program can assume a complete, validated value.
type Config struct {
	Input    InputConfig    `yaml:"input"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Display  DisplayConfig  `yaml:"display"`
	Export   ExportConfig   `yaml:"export"`
	Preview  PreviewConfig  `yaml:"preview"`
	Settings SettingsConfig `yaml:"settings"`
	Logging  LoggingConfig  `yaml:"logging"`
	Params   ParamsConfig   `yaml:"params"`
}

type InputConfig struct {
	// Format and Device select the ffmpeg capture input. Empty means the
	// platform default (pulse, avfoundation or dshow).
	Format        string  `yaml:"format,omitempty"`
	Device        string  `yaml:"device,omitempty"`
	OpenTimeoutMS int     `yaml:"open_timeout_ms"`
	Volume        float64 `yaml:"volume"` // file playback only
}

type AnalyzerConfig struct {
	FrameRate      int     `yaml:"frame_rate"`
	BandsPerOctave int     `yaml:"bands_per_octave"`
	MinFreq        float64 `yaml:"min_freq"`
	MaxFreq        float64 `yaml:"max_freq"`
	MinDB          float64 `yaml:"min_db"`
	MaxDB          float64 `yaml:"max_db"`
}

type DisplayConfig struct {
	// Color is auto, truecolor, 256, 16 or ascii.
	Color string `yaml:"color"`
}

type ExportConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	// Format of still captures: png or tiff.
	Format string `yaml:"format"`
}

type PreviewConfig struct {
	// Addr enables the browser preview when non-empty, e.g. "127.0.0.1:8088".
	Addr string `yaml:"addr,omitempty"`
	FPS  int    `yaml:"fps"`
}

type SettingsConfig struct {
	// Path of the sqlite database. Empty disables persistence.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ParamsConfig holds initial values for the tunables. Values saved in the
// settings database take precedence.
type ParamsConfig struct {
	Midpoint   float64 `yaml:"midpoint"`
	Steepness  float64 `yaml:"steepness"`
	Smoothing  float64 `yaml:"smoothing"`
	Resolution int     `yaml:"resolution"`
	Speed      int     `yaml:"speed"`
	Vertical   bool    `yaml:"vertical"`
}

// Default returns a fully populated Config.
func Default() Config {
	cache := userDir(os.UserCacheDir)
	conf := userDir(os.UserConfigDir)
	return Config{
		Input: InputConfig{
			OpenTimeoutMS: 3000,
			Volume:        1,
		},
		Analyzer: AnalyzerConfig{
			FrameRate:      60,
			BandsPerOctave: 12,
			MinFreq:        30,
			MaxFreq:        16000,
			MinDB:          -85,
			MaxDB:          -25,
		},
		Display: DisplayConfig{Color: "auto"},
		Export: ExportConfig{
			Dir:    ".",
			Prefix: "spectrogram",
			Format: "png",
		},
		Preview: PreviewConfig{FPS: 10},
		Settings: SettingsConfig{
			Path: filepath.Join(conf, "spectro", "settings.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(cache, "spectro", "spectro.log"),
		},
		Params: ParamsConfig{
			Midpoint:   0.5,
			Steepness:  10,
			Smoothing:  0.5,
			Resolution: 2,
			Speed:      1,
		},
	}
}

func userDir(fn func() (string, error)) string {
	dir, err := fn()
	if err != nil {
		return os.TempDir()
	}
	return dir
}

// OpenTimeout is the device open timeout as a duration.
func (c InputConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutMS) * time.Millisecond
}

// Load reads and parses a YAML file on top of the defaults. Unknown fields
// and trailing documents are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of the defaults.
func Parse(b []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides holds values set on the command line. A nil pointer means
// the flag was not given.
type FlagOverrides struct {
	Device       *string
	Format       *string
	Color        *string
	ExportDir    *string
	Prefix       *string
	PreviewAddr  *string
	SettingsPath *string
	LogLevel     *string
	LogFile      *string
	Speed        *int
	Resolution   *int
	Vertical     *bool
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Device != nil {
		cfg.Input.Device = *o.Device
	}
	if o.Format != nil {
		cfg.Input.Format = *o.Format
	}
	if o.Color != nil {
		cfg.Display.Color = *o.Color
	}
	if o.ExportDir != nil {
		cfg.Export.Dir = *o.ExportDir
	}
	if o.Prefix != nil {
		cfg.Export.Prefix = *o.Prefix
	}
	if o.PreviewAddr != nil {
		cfg.Preview.Addr = *o.PreviewAddr
	}
	if o.SettingsPath != nil {
		cfg.Settings.Path = *o.SettingsPath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
	if o.Speed != nil {
		cfg.Params.Speed = *o.Speed
	}
	if o.Resolution != nil {
		cfg.Params.Resolution = *o.Resolution
	}
	if o.Vertical != nil {
		cfg.Params.Vertical = *o.Vertical
	}
}

// Validate checks invariants after defaults, file and overrides are applied.
// Tunables are not checked here; the parameter store clamps them.
func (c *Config) Validate() error {
	if c.Input.OpenTimeoutMS <= 0 {
		return errors.New("input.open_timeout_ms must be > 0")
	}
	if c.Input.Volume < 0 || c.Input.Volume > 1 {
		return errors.New("input.volume must be between 0 and 1")
	}

	a := c.Analyzer
	if a.FrameRate <= 0 || a.FrameRate > 240 {
		return errors.New("analyzer.frame_rate must be between 1 and 240")
	}
	if a.BandsPerOctave <= 0 || a.BandsPerOctave > 48 {
		return errors.New("analyzer.bands_per_octave must be between 1 and 48")
	}
	if a.MinFreq <= 0 || a.MinFreq >= a.MaxFreq {
		return errors.New("analyzer.min_freq must be > 0 and < analyzer.max_freq")
	}
	if a.MinDB >= a.MaxDB {
		return errors.New("analyzer.min_db must be < analyzer.max_db")
	}

	switch strings.ToLower(c.Display.Color) {
	case "auto", "truecolor", "24bit", "256", "16", "ascii":
	default:
		return fmt.Errorf("display.color %q must be auto, truecolor, 256, 16 or ascii", c.Display.Color)
	}

	if c.Export.Dir == "" {
		return errors.New("export.dir must not be empty")
	}
	switch strings.ToLower(c.Export.Format) {
	case "png", "tiff", "tif":
	default:
		return fmt.Errorf("export.format %q must be png or tiff", c.Export.Format)
	}

	if c.Preview.Addr != "" && (c.Preview.FPS <= 0 || c.Preview.FPS > 60) {
		return errors.New("preview.fps must be between 1 and 60")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
