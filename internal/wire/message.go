// Package wire defines the JSON messages exchanged between agents and the
// room relay.
package wire

import (
	"encoding/json"
	"fmt"

	"collabtext/internal/change"
)

// Action names the kind of a Message.
type Action string

const (
	ActionChangeFile     Action = "changeFile"
	ActionDeleteFile     Action = "deleteFile"
	ActionRequestProject Action = "requestProject"
	ActionProvideFile    Action = "provideFile"
	ActionGotPeer        Action = "gotPeer"
	ActionLostPeer       Action = "lostPeer"
	// ActionWelcome tells a newly connected agent its own peer identity.
	ActionWelcome Action = "welcome"
)

// Peer identifies a room participant.
type Peer struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// Message is the single envelope for every action. Only the fields relevant
// to Action are set.
type Message struct {
	Action    Action             `json:"action"`
	FilePath  string             `json:"filePath,omitempty"`
	Change    *change.Descriptor `json:"change,omitempty"`
	Content   string             `json:"content,omitempty"`
	Requester string             `json:"requester,omitempty"`
	Peer      *Peer              `json:"peer,omitempty"`
	From      string             `json:"from,omitempty"` // set by the relay, prevents echo
}

// Validate checks that the fields required by Action are present.
func (m *Message) Validate() error {
	switch m.Action {
	case ActionChangeFile:
		if m.FilePath == "" || m.Change == nil {
			return fmt.Errorf("%s: missing file path or change", m.Action)
		}
		if m.Change.Kind == change.KindText {
			return m.Change.Validate()
		}
	case ActionDeleteFile:
		if m.FilePath == "" {
			return fmt.Errorf("%s: missing file path", m.Action)
		}
	case ActionProvideFile:
		if m.FilePath == "" {
			return fmt.Errorf("%s: missing file path", m.Action)
		}
	case ActionRequestProject:
	case ActionGotPeer, ActionLostPeer, ActionWelcome:
		if m.Peer == nil {
			return fmt.Errorf("%s: missing peer", m.Action)
		}
	default:
		return fmt.Errorf("unknown action %q", m.Action)
	}
	return nil
}

// Encode marshals m.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals and validates a message.
func Decode(buf []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
