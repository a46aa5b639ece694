package display

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Mode selects how pixel colours reach the terminal.
type Mode uint8

const (
	ModeASCII Mode = iota // NO_COLOR or dumb terminal: brightness ramp
	Mode16                // basic ANSI colours
	Mode256               // xterm 256-colour cube
	ModeTrue              // 24-bit colour
)

func (m Mode) String() string {
	switch m {
	case Mode16:
		return "16"
	case Mode256:
		return "256"
	case ModeTrue:
		return "truecolor"
	}
	return "ascii"
}

// ParseMode maps a configuration value to a Mode. "auto" and "" detect the
// terminal.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DetectMode(), nil
	case "truecolor", "24bit":
		return ModeTrue, nil
	case "256":
		return Mode256, nil
	case "16":
		return Mode16, nil
	case "ascii", "none":
		return ModeASCII, nil
	}
	return ModeASCII, fmt.Errorf("unknown colour mode %q", s)
}

// DetectMode inspects NO_COLOR, COLORTERM and TERM.
func DetectMode() Mode {
	return detect(os.LookupEnv, runtime.GOOS)
}

func detect(lookup func(string) (string, bool), goos string) Mode {
	if _, ok := lookup("NO_COLOR"); ok {
		return ModeASCII
	}
	term, _ := lookup("TERM")
	ct, _ := lookup("COLORTERM")
	term, ct = strings.ToLower(term), strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "truecolor"), strings.Contains(ct, "24bit"):
		return ModeTrue
	case strings.Contains(term, "256color"):
		return Mode256
	case term == "dumb":
		return ModeASCII
	case term == "" && goos == "windows":
		return Mode16
	case term == "":
		return ModeASCII
	}
	return Mode16
}

const (
	asciiRamp = " .:-=+*#%@"
	ansiReset = "\x1b[0m"
)

// appendColor appends the escape selecting r,g,b as foreground (bg=false) or
// background.
func appendColor(dst []byte, m Mode, bg bool, r, g, b uint8) []byte {
	switch m {
	case ModeTrue:
		if bg {
			dst = append(dst, "\x1b[48;2;"...)
		} else {
			dst = append(dst, "\x1b[38;2;"...)
		}
		dst = strconv.AppendUint(dst, uint64(r), 10)
		dst = append(dst, ';')
		dst = strconv.AppendUint(dst, uint64(g), 10)
		dst = append(dst, ';')
		dst = strconv.AppendUint(dst, uint64(b), 10)
		return append(dst, 'm')
	case Mode256:
		if bg {
			dst = append(dst, "\x1b[48;5;"...)
		} else {
			dst = append(dst, "\x1b[38;5;"...)
		}
		dst = strconv.AppendInt(dst, int64(cube256(r, g, b)), 10)
		return append(dst, 'm')
	case Mode16:
		base := 30
		if bg {
			base = 40
		}
		idx := nearest16(r, g, b)
		if idx >= 8 {
			base += 60
			idx -= 8
		}
		dst = append(dst, "\x1b["...)
		dst = strconv.AppendInt(dst, int64(base+idx), 10)
		return append(dst, 'm')
	}
	return dst
}

func cube256(r, g, b uint8) int {
	return 16 + 36*(int(r)*5/255) + 6*(int(g)*5/255) + int(b)*5/255
}

func nearest16(r, g, b uint8) int {
	best, bestDist := 0, 1<<31-1
	for i, c := range ansi16Palette {
		dr := int(r) - int(c[0])
		dg := int(g) - int(c[1])
		db := int(b) - int(c[2])
		if d := dr*dr + dg*dg + db*db; d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// luminance is ITU-R BT.601 in integer math.
func luminance(r, g, b uint8) uint8 {
	return uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
}

func brightnessChar(lum uint8) byte {
	return asciiRamp[int(lum)*(len(asciiRamp)-1)/255]
}

var ansi16Palette = [16][3]uint8{
	{0, 0, 0},
	{205, 49, 49},
	{13, 188, 121},
	{229, 229, 16},
	{36, 114, 200},
	{188, 63, 188},
	{17, 168, 205},
	{229, 229, 229},
	{102, 102, 102},
	{241, 76, 76},
	{35, 209, 139},
	{245, 245, 67},
	{59, 142, 234},
	{214, 112, 214},
	{41, 184, 219},
	{255, 255, 255},
}
