package ui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type keyMap struct {
	Pause       key.Binding
	Orientation key.Binding
	Clear       key.Binding
	Still       key.Binding
	Stream      key.Binding
	Next        key.Binding
	Prev        key.Binding
	Inc         key.Binding
	Dec         key.Binding
	Reset       key.Binding
	Help        key.Binding
	Quit        key.Binding
}

var keys = keyMap{
	Pause:       key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "pause")),
	Orientation: key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "orientation")),
	Clear:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "clear")),
	Still:       key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "capture")),
	Stream:      key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "record video")),
	Next:        key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next param")),
	Prev:        key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev param")),
	Inc:         key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "increase")),
	Dec:         key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "decrease")),
	Reset:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset param")),
	Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	Quit:        key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Orientation, k.Still, k.Stream, k.Dec, k.Inc, k.Next, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Pause, k.Orientation, k.Clear},
		{k.Still, k.Stream},
		{k.Next, k.Prev, k.Inc, k.Dec, k.Reset},
		{k.Help, k.Quit},
	}
}

func isQuit(msg tea.KeyMsg) bool {
	return key.Matches(msg, keys.Quit)
}
