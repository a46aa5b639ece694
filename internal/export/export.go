// Package export names and writes capture files.
package export

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/image/tiff"
)

// DefaultPrefix names captures when no prefix is configured.
const DefaultPrefix = "spectrogram"

// timeLayout is the ISO 8601 basic format, which needs no filename escaping.
const timeLayout = "20060102T150405"

// maxSuffix bounds the search for a free name in one second.
const maxSuffix = 1000

var invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// SanitizePrefix strips characters invalid in filenames and trims whitespace.
// Falls back to DefaultPrefix if the result is empty.
func SanitizePrefix(prefix string) string {
	prefix = invalidFilenameChars.ReplaceAllString(prefix, "")
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

// Filename returns "<prefix>_<YYYYMMDDTHHMMSS>.<ext>" in local time.
func Filename(prefix, ext string, t time.Time) string {
	return fmt.Sprintf("%s_%s.%s", SanitizePrefix(prefix), t.Local().Format(timeLayout), strings.TrimPrefix(ext, "."))
}

func candidate(dir, prefix, ext string, t time.Time, n int) string {
	name := Filename(prefix, ext, t)
	if n > 1 {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		name = fmt.Sprintf("%s_%d%s", base, n, filepath.Ext(name))
	}
	return filepath.Join(dir, name)
}

// Path returns a path in dir for a capture taken at t that does not exist
// yet, adding _2, _3 and so on when needed. dir is created if missing.
func Path(dir, prefix, ext string, t time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	for n := 1; n <= maxSuffix; n++ {
		p := candidate(dir, prefix, ext, t, n)
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s", Filename(prefix, ext, t))
}

// create opens a new file exclusively so concurrent saves never share a name.
func create(dir, prefix, ext string, t time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	for n := 1; n <= maxSuffix; n++ {
		f, err := os.OpenFile(candidate(dir, prefix, ext, t, n), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no free file name for %s", Filename(prefix, ext, t))
}

// Format selects the still image encoding.
type Format string

const (
	PNG  Format = "png"
	TIFF Format = "tiff"
)

// ParseFormat accepts "png", "tiff" or "tif" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return PNG, nil
	case "tiff", "tif":
		return TIFF, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

func (f Format) encode(w io.Writer, img image.Image) error {
	if f == TIFF {
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, img)
}

// SavePNG writes img as a PNG capture in dir and returns its path.
func SavePNG(dir, prefix string, img image.Image, t time.Time) (string, error) {
	return SaveImage(dir, prefix, PNG, img, t)
}

// SaveImage writes img in format f and returns the path. A partially written
// file is removed on failure.
func SaveImage(dir, prefix string, f Format, img image.Image, t time.Time) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", errors.New("empty capture")
	}
	out, err := create(dir, prefix, string(f), t)
	if err != nil {
		return "", fmt.Errorf("creating capture file: %w", err)
	}
	path := out.Name()

	if err := f.encode(out, img); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("encoding %s: %w", f, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
