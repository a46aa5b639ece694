package media

import (
	"strings"
	"testing"
)

func TestIsSupportedExt(t *testing.T) {
	for _, ext := range []string{".mp3", ".WAV", ".flac", ".ogg", ".aac", ".m4a", ".opus"} {
		if !IsSupportedExt(ext) {
			t.Fatalf("expected %s to be supported", ext)
		}
	}
	for _, ext := range []string{".m3u", ".txt", ""} {
		if IsSupportedExt(ext) {
			t.Fatalf("expected %q to be unsupported", ext)
		}
	}
}

func TestNeedsFFmpeg(t *testing.T) {
	if NeedsFFmpeg(".flac") || NeedsFFmpeg(".mp3") {
		t.Fatal("native formats should not need ffmpeg")
	}
	if !NeedsFFmpeg(".M4A") {
		t.Fatal("expected .m4a to need ffmpeg")
	}
	if NeedsFFmpeg(".txt") {
		t.Fatal("unsupported formats should not report ffmpeg")
	}
}

func TestSupportedExtsListIsSorted(t *testing.T) {
	list := SupportedExtsList()
	if !strings.HasPrefix(list, ".aac, ") || !strings.Contains(list, ".wav") {
		t.Fatalf("unexpected list %q", list)
	}
}
