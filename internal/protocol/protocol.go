// Package protocol defines the messages exchanged between peers and the relay
// over a room websocket.
//
// A connection starts with both sides sending SyncStep1 with their state vector.
// Each side answers the other's SyncStep1 with SyncStep2 holding the writes the
// other may be missing. Afterwards local transactions travel as Update messages
// and the relay reports room presence with Awareness.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/guhur/plus-proche/internal/doc"
)

type Type string

const (
	TypeSyncStep1 Type = "sync_step1"
	TypeSyncStep2 Type = "sync_step2"
	TypeUpdate    Type = "update"
	TypeAwareness Type = "awareness"
)

type Message struct {
	Type        Type            `json:"type"`
	StateVector doc.StateVector `json:"sv,omitempty"`
	Update      *doc.Update     `json:"update,omitempty"`
	Peers       int             `json:"peers,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
}

func SyncStep1(sv doc.StateVector) Message {
	return Message{Type: TypeSyncStep1, StateVector: sv}
}

func SyncStep2(u doc.Update) Message {
	return Message{Type: TypeSyncStep2, Update: &u}
}

func UpdateMessage(u doc.Update) Message {
	return Message{Type: TypeUpdate, Update: &u}
}

func Awareness(clientID string, peers int) Message {
	return Message{Type: TypeAwareness, ClientID: clientID, Peers: peers}
}

func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses and validates a message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: decode: %w", err)
	}

	switch m.Type {
	case TypeSyncStep1, TypeAwareness:
	case TypeSyncStep2, TypeUpdate:
		if m.Update == nil {
			return Message{}, fmt.Errorf("protocol: decode %s: missing update", m.Type)
		}
		if err := m.Update.Validate(); err != nil {
			return Message{}, fmt.Errorf("protocol: decode %s: %w", m.Type, err)
		}
	default:
		return Message{}, fmt.Errorf("protocol: decode: unknown type %q", m.Type)
	}

	return m, nil
}
