package connection

import "github.com/rickgao/livesession/internal/wire"

// StartEditing announces that the participant began editing field.
func (m *Manager) StartEditing(field string) error {
	return m.Send(wire.NewStartEditing(field))
}

// StopEditing announces that the participant stopped editing.
func (m *Manager) StopEditing() error {
	return m.Send(wire.NewStopEditing())
}

// SendTyping streams the current content of field.
func (m *Manager) SendTyping(field, content string) error {
	return m.Send(wire.NewTyping(field, content))
}

// SendCursorPosition reports the caret position within field.
func (m *Manager) SendCursorPosition(field string, position int) error {
	return m.Send(wire.NewCursorPosition(field, position))
}

// RequestPresence asks the server for the current participant list.
func (m *Manager) RequestPresence() error {
	return m.Send(wire.NewRequestPresence())
}
