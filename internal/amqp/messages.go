package amqp

import (
	"encoding/json"
	"fmt"

	"vpnshare/internal/core"
)

// SchemaVersion is bumped when EventMessage changes incompatibly.
const SchemaVersion = 1

// EventMessage carries one ledger event. The event fields are inlined at the
// top level of the JSON body.
type EventMessage struct {
	core.Event
	SchemaVersion int `json:"schema_version"`
}

func NewEventMessage(e core.Event) *EventMessage {
	return &EventMessage{Event: e, SchemaVersion: SchemaVersion}
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes and validates a message body.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *EventMessage) validate() error {
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", m.SchemaVersion)
	}
	if m.ID == "" {
		return fmt.Errorf("event id is missing")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("event %s: %w", m.ID, core.ErrInvalidUserID)
	}
	switch m.Type {
	case core.EventUserJoined, core.EventUserRemoved:
	case core.EventPaymentMarked:
		if _, err := core.ParseMonth(string(m.Month)); err != nil {
			return fmt.Errorf("event %s: %w", m.ID, err)
		}
	default:
		return fmt.Errorf("event %s: unknown type %q", m.ID, m.Type)
	}
	return nil
}
