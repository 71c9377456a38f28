package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Sharer  key.Binding
	Watcher key.Binding
	Confirm key.Binding
	VoteA   key.Binding
	VoteB   key.Binding
	Leave   key.Binding
	Quit    key.Binding

	step []key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Sharer:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "be a sharer")),
		Watcher: key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "be a watcher")),
		Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
		VoteA:   key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "vote A")),
		VoteB:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "vote B")),
		Leave:   key.NewBinding(key.WithKeys("q", "esc"), key.WithHelp("q", "leave room")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return append(k.step, k.Quit)
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
