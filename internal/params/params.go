package params

import (
	"math"
	"sync"
)

// Name identifies a tunable parameter.
type Name string

const (
	Midpoint   Name = "midpoint"
	Steepness  Name = "steepness"
	Smoothing  Name = "smoothing"
	Resolution Name = "resolution"
	Speed      Name = "speed"

	// OrientationKey is the change name reported when the orientation flips.
	OrientationKey Name = "vertical"
)

// Orientation selects the scroll axis of the raster.
type Orientation uint8

const (
	Horizontal Orientation = iota // strips at the right edge, content scrolls left
	Vertical                      // strips at the top edge, content scrolls down
)

func (o Orientation) String() string {
	if o == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// Param is a bounded value. Value always lies within [Min, Max].
type Param struct {
	Value   float64
	Min     float64
	Max     float64
	Step    float64
	Default float64
}

// Integer reports whether the parameter only takes whole steps.
func (p Param) Integer() bool { return p.Step >= 1 }

// Fraction returns the position of Value inside [Min, Max] as 0.0–1.0.
func (p Param) Fraction() float64 {
	if p.Max <= p.Min {
		return 0
	}
	return (p.Value - p.Min) / (p.Max - p.Min)
}

func (p Param) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return p.Value
	}
	if v < p.Min {
		v = p.Min
	}
	if v > p.Max {
		v = p.Max
	}
	if p.Integer() {
		v = math.Round(v/p.Step) * p.Step
		if v > p.Max {
			v = p.Max
		}
	}
	return v
}

// Change is delivered to observers after every Set.
type Change struct {
	Name  Name
	Value float64
}

var order = []Name{Midpoint, Steepness, Smoothing, Resolution, Speed}

func defaults() map[Name]Param {
	return map[Name]Param{
		Midpoint:   {Value: 0.5, Min: 0, Max: 1, Step: 0.01, Default: 0.5},
		Steepness:  {Value: 10, Min: 3, Max: 30, Step: 0.5, Default: 10},
		Smoothing:  {Value: 0.5, Min: 0, Max: 0.9, Step: 0.05, Default: 0.5},
		Resolution: {Value: 2, Min: 1, Max: 4, Step: 1, Default: 2},
		Speed:      {Value: 1, Min: 1, Max: 4, Step: 1, Default: 1},
	}
}

// Store holds the tunables. Assignments are clamped, never rejected.
type Store struct {
	mu          sync.RWMutex
	params      map[Name]Param
	orientation Orientation
	observers   []func(Change)
}

// New returns a store populated with defaults.
func New() *Store {
	return &Store{params: defaults()}
}

// Names returns the numeric parameter names in display order.
func (s *Store) Names() []Name {
	out := make([]Name, len(order))
	copy(out, order)
	return out
}

// Observe registers fn to be called synchronously after each Set.
func (s *Store) Observe(fn func(Change)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Set clamps v into the parameter's range, stores it and notifies observers.
// It returns the stored value. Unknown names are ignored.
func (s *Store) Set(name Name, v float64) float64 {
	if name == OrientationKey {
		o := Horizontal
		if v >= 0.5 {
			o = Vertical
		}
		s.SetOrientation(o)
		return float64(o)
	}

	s.mu.Lock()
	p, ok := s.params[name]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	p.Value = p.clamp(v)
	s.params[name] = p
	observers := s.observers
	s.mu.Unlock()

	notify(observers, Change{Name: name, Value: p.Value})
	return p.Value
}

// Reset restores a parameter to its default.
func (s *Store) Reset(name Name) float64 {
	return s.Set(name, s.Param(name).Default)
}

// Nudge moves a parameter by steps*Step.
func (s *Store) Nudge(name Name, steps int) float64 {
	p := s.Param(name)
	return s.Set(name, p.Value+float64(steps)*p.Step)
}

// Get returns the current value of name, or 0 if unknown.
func (s *Store) Get(name Name) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params[name].Value
}

// Int returns the current value rounded to the nearest integer.
func (s *Store) Int(name Name) int {
	return int(math.Round(s.Get(name)))
}

// Param returns a copy of the full parameter record.
func (s *Store) Param(name Name) Param {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params[name]
}

// Snapshot returns every numeric value keyed by name.
func (s *Store) Snapshot() map[Name]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Name]float64, len(s.params))
	for name, p := range s.params {
		out[name] = p.Value
	}
	return out
}

// FFTSize is the analysis window length selected by the resolution parameter.
func (s *Store) FFTSize() int {
	return FFTSizeFor(s.Int(Resolution))
}

// FFTSizeFor maps a resolution exponent to 2^(11+exp).
func FFTSizeFor(exp int) int {
	return 1 << (11 + exp)
}

// Orientation returns the current scroll orientation.
func (s *Store) Orientation() Orientation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orientation
}

// SetOrientation stores o and notifies observers under OrientationKey.
func (s *Store) SetOrientation(o Orientation) {
	if o != Vertical {
		o = Horizontal
	}
	s.mu.Lock()
	s.orientation = o
	observers := s.observers
	s.mu.Unlock()

	v := 0.0
	if o == Vertical {
		v = 1
	}
	notify(observers, Change{Name: OrientationKey, Value: v})
}

// ToggleOrientation flips between horizontal and vertical and returns the result.
func (s *Store) ToggleOrientation() Orientation {
	next := Vertical
	if s.Orientation() == Vertical {
		next = Horizontal
	}
	s.SetOrientation(next)
	return next
}

func notify(observers []func(Change), c Change) {
	for _, fn := range observers {
		fn(c)
	}
}
