package models

import (
	"encoding/json"
	"fmt"
)

// MessageType is the "type" discriminator of every wire message.
type MessageType string

const (
	TypeRegister     MessageType = "register"
	TypeRegistered   MessageType = "registered"
	TypeNotification MessageType = "notification"
	TypeDismiss      MessageType = "dismiss_notification"
)

// Outbound is a message the relay writes to the remote endpoint.
type Outbound interface {
	MessageType() MessageType
	outbound()
}

// Inbound is a message the relay reads from the remote endpoint.
type Inbound interface {
	MessageType() MessageType
	inbound()
}

// RegisterMessage identifies the client on every fresh connection.
type RegisterMessage struct {
	ClientType string `json:"client_type"`
	Version    string `json:"version"`
}

// RegisteredMessage acknowledges a registration.
type RegisteredMessage struct {
	ClientID string `json:"clientId"`
}

// NotificationMessage carries a notification in either direction.
// Duration (milliseconds) only appears on inbound messages.
type NotificationMessage struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
	Source    string `json:"source,omitempty"`
	App       string `json:"app,omitempty"`
	IsSlack   bool   `json:"is_slack"`
	Timestamp string `json:"timestamp,omitempty"`
	Duration  int    `json:"duration,omitempty"`
}

// DismissMessage clears the current alert. Outbound it names the client
// type; inbound it names who dismissed it.
type DismissMessage struct {
	ClientType  string `json:"client_type,omitempty"`
	DismissedBy string `json:"dismissed_by,omitempty"`
}

func (RegisterMessage) MessageType() MessageType     { return TypeRegister }
func (RegisteredMessage) MessageType() MessageType   { return TypeRegistered }
func (NotificationMessage) MessageType() MessageType { return TypeNotification }
func (DismissMessage) MessageType() MessageType      { return TypeDismiss }

func (RegisterMessage) outbound()     {}
func (NotificationMessage) outbound() {}
func (DismissMessage) outbound()      {}

func (RegisteredMessage) inbound()   {}
func (NotificationMessage) inbound() {}
func (DismissMessage) inbound()      {}

func (m RegisterMessage) MarshalJSON() ([]byte, error) {
	type Alias RegisterMessage
	return json.Marshal(&struct {
		Type MessageType `json:"type"`
		*Alias
	}{TypeRegister, (*Alias)(&m)})
}

func (m RegisteredMessage) MarshalJSON() ([]byte, error) {
	type Alias RegisteredMessage
	return json.Marshal(&struct {
		Type MessageType `json:"type"`
		*Alias
	}{TypeRegistered, (*Alias)(&m)})
}

func (m NotificationMessage) MarshalJSON() ([]byte, error) {
	type Alias NotificationMessage
	return json.Marshal(&struct {
		Type MessageType `json:"type"`
		*Alias
	}{TypeNotification, (*Alias)(&m)})
}

func (m DismissMessage) MarshalJSON() ([]byte, error) {
	type Alias DismissMessage
	return json.Marshal(&struct {
		Type MessageType `json:"type"`
		*Alias
	}{TypeDismiss, (*Alias)(&m)})
}

// EncodeOutbound serializes an outbound message with its type tag.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil outbound message")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return data, nil
}

// DecodeInbound parses one inbound frame. Unknown or missing types are errors.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	switch head.Type {
	case TypeRegistered:
		var m RegisteredMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return m, nil
	case TypeNotification:
		var m NotificationMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return m, nil
	case TypeDismiss:
		var m DismissMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return m, nil
	case "":
		return nil, fmt.Errorf("message has no type")
	default:
		return nil, fmt.Errorf("unsupported message type %q", head.Type)
	}
}
