package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	ToggleVoice key.Binding
	ToggleChat  key.Binding
	Record      key.Binding
	Listen      key.Binding
	Abort       key.Binding
	Clear       key.Binding
	Export      key.Binding
	Send        key.Binding
	Quit        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		ToggleVoice: key.NewBinding(key.WithKeys("ctrl+v"), key.WithHelp("ctrl+v", "voz")),
		ToggleChat:  key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "chat")),
		Record:      key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "grabar")),
		Listen:      key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "escuchar")),
		Abort:       key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "cancelar")),
		Clear:       key.NewBinding(key.WithKeys("ctrl+k"), key.WithHelp("ctrl+k", "limpiar")),
		Export:      key.NewBinding(key.WithKeys("ctrl+e"), key.WithHelp("ctrl+e", "exportar")),
		Send:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "enviar")),
		Quit:        key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("esc", "salir")),
	}
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.ToggleChat, k.ToggleVoice, k.Send, k.Record, k.Listen, k.Abort, k.Clear, k.Export, k.Quit}
}
