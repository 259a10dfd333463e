package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Start  key.Binding
	Pause  key.Binding
	Lap    key.Binding
	Stop   key.Binding
	Abort  key.Binding
	Scroll key.Binding
	Quit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		Pause:  key.NewBinding(key.WithKeys("p", " "), key.WithHelp("p", "pause/resume")),
		Lap:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "lap")),
		Stop:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		Abort:  key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "abort")),
		Scroll: key.NewBinding(key.WithKeys("up", "down", "pgup", "pgdown"), key.WithHelp("↑/↓", "scroll")),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Pause, k.Lap, k.Stop, k.Abort, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Start, k.Pause, k.Lap, k.Stop},
		{k.Abort, k.Scroll, k.Quit},
	}
}
