// Package media classifies input files by extension.
package media

import (
	"sort"
	"strings"
)

// native formats have pure Go decoders; the rest are decoded by ffmpeg.
var audioExts = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
	".aac":  false,
	".m4a":  false,
	".m4b":  false,
	".opus": false,
	".webm": false,
	".mka":  false,
}

// IsSupportedExt returns true if the extension is a playable audio format.
func IsSupportedExt(ext string) bool {
	_, ok := audioExts[strings.ToLower(ext)]
	return ok
}

// NeedsFFmpeg reports whether files with ext can only be decoded by ffmpeg.
func NeedsFFmpeg(ext string) bool {
	native, ok := audioExts[strings.ToLower(ext)]
	return ok && !native
}

// SupportedExtsList returns a human-readable list of supported formats.
func SupportedExtsList() string {
	exts := make([]string, 0, len(audioExts))
	for ext := range audioExts {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
