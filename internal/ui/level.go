package ui

import "github.com/charmbracelet/harmonica"

// levelMeter eases the input level toward each new reading.
type levelMeter struct {
	spring harmonica.Spring
	pos    float64
	vel    float64
}

func newLevelMeter(fps int) levelMeter {
	if fps <= 0 {
		fps = 60
	}
	return levelMeter{spring: harmonica.NewSpring(harmonica.FPS(fps), 8.0, 0.9)}
}

func (l *levelMeter) step(target float64) float64 {
	l.pos, l.vel = l.spring.Update(l.pos, l.vel, target)
	switch {
	case l.pos < 0:
		l.pos = 0
	case l.pos > 1:
		l.pos = 1
	}
	return l.pos
}

func (l levelMeter) value() float64 { return l.pos }
