package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/olivier-w/spectro/internal/analyzer"
	"github.com/olivier-w/spectro/internal/params"
	"github.com/olivier-w/spectro/internal/raster"
)

func formatParamValue(name params.Name, p params.Param) string {
	switch name {
	case params.Resolution:
		return fmt.Sprintf("%d (fft %d)", int(p.Value), params.FFTSizeFor(int(p.Value)))
	case params.Speed:
		return fmt.Sprintf("%d px", int(p.Value))
	case params.Steepness:
		return fmt.Sprintf("%.1f", p.Value)
	}
	return fmt.Sprintf("%.2f", p.Value)
}

// renderParam draws one tunable as a labelled slider.
func renderParam(name params.Name, p params.Param, bar progress.Model, selected bool) string {
	label := string(name)
	if selected {
		label = selectedStyle.Render("‹ " + label + " ›")
	} else {
		label = statusStyle.Render(label)
	}
	return label + " " + bar.ViewAs(p.Fraction()) + " " + timeStyle.Render(formatParamValue(name, p))
}

// renderParamSummary lists the unselected tunables compactly.
func renderParamSummary(s *params.Store, selected params.Name) string {
	var parts []string
	for _, name := range s.Names() {
		if name == selected {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", name, formatParamValue(name, s.Param(name))))
	}
	parts = append(parts, s.Orientation().String())
	return helpStyle.Render(strings.Join(parts, " · "))
}

func formatFreq(f float64) string {
	if f >= 1000 {
		k := f / 1000
		if k >= 10 {
			return fmt.Sprintf("%.0fk", k)
		}
		return fmt.Sprintf("%.1fk", k)
	}
	return fmt.Sprintf("%.0f", f)
}

// renderLegend describes the reference bar layout. In vertical mode bars run
// along the x axis, so octave marks are placed under their columns.
func renderLegend(ref []analyzer.Bar, o params.Orientation, width int) string {
	n := len(ref)
	if n == 0 || width <= 0 {
		return ""
	}
	if o == params.Horizontal {
		return fmt.Sprintf("%s Hz ↑ %s Hz · %d bands",
			formatFreq(ref[0].Frequency), formatFreq(ref[n-1].Frequency), n)
	}

	line := []rune(strings.Repeat(" ", width))
	next := 0
	for i, bar := range ref {
		if !nearestToOctaveA(ref, i) {
			continue
		}
		lo, hi := raster.SegmentBounds(i, n, width)
		label := []rune("┴" + formatFreq(bar.Frequency))
		col := (lo + hi) / 2
		if col < next || col+len(label) > width {
			continue
		}
		copy(line[col:], label)
		next = col + len(label) + 1
	}
	return string(line)
}

// nearestToOctaveA reports whether bar i is the closest bar to some A
// (440·2^k Hz).
func nearestToOctaveA(ref []analyzer.Bar, i int) bool {
	f := ref[i].Frequency
	if f <= 0 {
		return false
	}
	target := 440 * math.Pow(2, math.Round(math.Log2(f/440)))
	d := math.Abs(math.Log2(f / target))
	for _, j := range []int{i - 1, i + 1} {
		if j < 0 || j >= len(ref) || ref[j].Frequency <= 0 {
			continue
		}
		if math.Abs(math.Log2(ref[j].Frequency/target)) < d {
			return false
		}
	}
	return d <= 1.0/12
}

func renderLevel(v float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(math.Max(0, math.Min(1, v)) * float64(width)))
	return strings.Repeat("▮", filled) + strings.Repeat("▯", width-filled)
}
